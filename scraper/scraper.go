// Package scraper turns a retailer configuration into store records.
//
// A Kind implements one discovery strategy (sitemap, paginated sitemap,
// HTML crawl, locator API); the Harvester owns the outer loop around
// it: resume from checkpoint, the extraction worker pool, periodic
// checkpointing, validation, and run-limit handling. Per-retailer
// extraction logic lives in a Parser looked up from the registry, with
// a schema.org JSON-LD fallback for retailers without a bespoke one.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pithecene-io/prospect/cache"
	"github.com/pithecene-io/prospect/checkpoint"
	"github.com/pithecene-io/prospect/log"
	"github.com/pithecene-io/prospect/metrics"
	"github.com/pithecene-io/prospect/pipeline"
	"github.com/pithecene-io/prospect/types"
)

// ErrSkip tells the harvester a fetched page is not a store (removed
// location, region landing page). The item is marked completed and the
// run continues.
var ErrSkip = errors.New("not a store page")

// testModeLimit caps extraction when --test is set without an explicit
// --limit.
const testModeLimit = 10

// Kind is one discovery strategy.
type Kind interface {
	// Name is the discovery_method value this kind serves.
	Name() string
	// Discover produces the work items for extraction: page URLs for
	// page-oriented kinds, query payloads for locator_api.
	Discover(ctx context.Context, s *Session) ([]string, error)
	// Extract turns one work item into zero or more stores. ErrSkip
	// marks the item complete without output.
	Extract(ctx context.Context, s *Session, item string) ([]types.Store, error)
}

// ForMethod returns the kind implementing the given discovery method.
func ForMethod(m types.DiscoveryMethod) (Kind, error) {
	switch m {
	case types.DiscoverySitemap:
		return &sitemapKind{}, nil
	case types.DiscoverySitemapGzip:
		return &sitemapGzipKind{}, nil
	case types.DiscoverySitemapPaginated:
		return &sitemapPaginatedKind{}, nil
	case types.DiscoveryHTMLCrawl:
		return &htmlCrawlKind{}, nil
	case types.DiscoveryLocatorAPI:
		return &locatorAPIKind{}, nil
	}
	return nil, fmt.Errorf("no scraper kind for discovery method %q", m)
}

// Tracker receives progress as a run advances. The run tracker
// implements it; tests use lightweight fakes.
type Tracker interface {
	UpdateStats(stats types.RunStats)
	AdvancePhase(name string, p types.PhaseProgress)
	LogError(message, url string)
}

// noopTracker keeps the hot path free of nil checks.
type noopTracker struct{}

func (noopTracker) UpdateStats(types.RunStats)               {}
func (noopTracker) AdvancePhase(string, types.PhaseProgress) {}
func (noopTracker) LogError(string, string)                  {}

// Session bundles everything a kind needs for one run.
type Session struct {
	Config   *types.RetailerConfig
	Pipeline *pipeline.Pipeline
	Cache    *cache.Cache
	// Responses caches fetched page bodies so a re-run within the TTL
	// parses from disk instead of refetching. Nil disables it.
	Responses *cache.Cache
	Logger    *log.Logger
	Collector *metrics.Collector
	Parser    Parser
	Tracker   Tracker

	// Checkpoint is the resume state loaded at run start, nil on a
	// fresh run. Kinds read discovery progress from it.
	Checkpoint *checkpoint.Checkpoint

	// saveDiscovery persists discovery progress mid-phase; set by the
	// harvester, called by kinds after each expensive step.
	saveDiscovery func()

	mu           sync.Mutex
	crawlState   map[string][]string
	sitemapIndex int
}

// SetCrawlState records a named URL list for checkpointing.
func (s *Session) SetCrawlState(phase string, urls []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.crawlState == nil {
		s.crawlState = map[string][]string{}
	}
	s.crawlState[phase] = urls
}

// CrawlState returns the previously recorded URL list for a phase,
// preferring in-session state over the loaded checkpoint.
func (s *Session) CrawlState(phase string) []string {
	s.mu.Lock()
	if urls, ok := s.crawlState[phase]; ok {
		s.mu.Unlock()
		return urls
	}
	s.mu.Unlock()
	if s.Checkpoint != nil {
		return s.Checkpoint.CrawlState[phase]
	}
	return nil
}

// SetSitemapIndex records the next unprocessed child sitemap.
func (s *Session) SetSitemapIndex(i int) {
	s.mu.Lock()
	s.sitemapIndex = i
	s.mu.Unlock()
}

// SitemapIndex returns the resume point for paginated sitemaps.
func (s *Session) SitemapIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sitemapIndex > 0 {
		return s.sitemapIndex
	}
	if s.Checkpoint != nil {
		return s.Checkpoint.SitemapIndex
	}
	return 0
}

// checkpointDiscovery is called by kinds after each discovery step that
// is worth not repeating after a crash.
func (s *Session) checkpointDiscovery() {
	if s.saveDiscovery != nil {
		s.saveDiscovery()
	}
}

// Result is the outcome of one harvest run.
type Result struct {
	Stores []types.Store
	// URLsDiscovered is the discovery count before limits were applied.
	URLsDiscovered int
}

// Harvester runs the discover/extract loop for one retailer.
type Harvester struct {
	session     *Session
	checkpoints *checkpoint.Store
	started     time.Time
	now         func() time.Time
}

// New creates a harvester. The checkpoint store may not be nil; the
// tracker may be (progress is then discarded).
func New(session *Session, checkpoints *checkpoint.Store) *Harvester {
	if session.Tracker == nil {
		session.Tracker = noopTracker{}
	}
	if session.Parser == nil {
		session.Parser = defaultParser(session.Config)
	}
	return &Harvester{session: session, checkpoints: checkpoints, now: time.Now}
}

// harvestState is the mutable extraction progress shared by workers.
type harvestState struct {
	mu        sync.Mutex
	completed []string
	stores    []types.Store
	seenIDs   map[string]struct{}
	errors    int
	sinceSave int
}

// Run executes a full harvest: discovery, extraction through the worker
// pool, checkpointing every CheckpointInterval stores, and checkpoint
// cleanup on success. On cancellation the current checkpoint is saved
// and ctx.Err() is returned.
func (h *Harvester) Run(ctx context.Context, opts types.RunOptions) (*Result, error) {
	s := h.session
	cfg := s.Config
	h.started = h.now()

	kind, err := ForMethod(cfg.DiscoveryMethod)
	if err != nil {
		return nil, err
	}

	state := &harvestState{seenIDs: map[string]struct{}{}}
	if opts.Resume {
		cp, err := h.checkpoints.Load()
		if err != nil {
			return nil, fmt.Errorf("resume: %w", err)
		}
		if cp != nil {
			s.Checkpoint = cp
			state.completed = cp.Completed
			state.stores = cp.Stores
			for i := range cp.Stores {
				state.seenIDs[cp.Stores[i].StoreID] = struct{}{}
			}
			s.Logger.Info("resuming from checkpoint", map[string]any{
				"completed": len(cp.Completed),
				"stores":    len(cp.Stores),
			})
		}
	}
	s.saveDiscovery = func() { _ = h.saveCheckpoint(state) }

	s.Tracker.AdvancePhase("discovery", types.PhaseProgress{Status: "running"})
	items, err := h.discover(ctx, kind)
	if err != nil {
		s.Tracker.AdvancePhase("discovery", types.PhaseProgress{Status: "failed"})
		return nil, fmt.Errorf("discovery: %w", err)
	}
	discovered := len(items)
	s.Collector.AddURLsDiscovered(discovered)
	s.Tracker.AdvancePhase("discovery", types.PhaseProgress{
		Total: discovered, Completed: discovered, Status: "complete",
	})
	s.Logger.Info("discovery complete", map[string]any{"items": discovered})

	items = h.applyLimits(items, opts, state)

	if err := h.extract(ctx, kind, items, state); err != nil {
		// Preserve progress for --resume before surfacing the error.
		if saveErr := h.saveCheckpoint(state); saveErr != nil {
			s.Logger.Error("checkpoint save on abort failed", map[string]any{"error": saveErr.Error()})
		}
		return nil, err
	}

	h.reportStats(state, h.started)
	if err := h.checkpoints.Delete(); err != nil {
		s.Logger.Warn("checkpoint cleanup failed", map[string]any{"error": err.Error()})
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	return &Result{Stores: state.stores, URLsDiscovered: discovered}, nil
}

// discover runs the kind's discovery, consulting the URL-set cache for
// page-oriented kinds. locator_api queries are cheap to rebuild and are
// never cached.
func (h *Harvester) discover(ctx context.Context, kind Kind) ([]string, error) {
	s := h.session
	cacheable := s.Config.DiscoveryMethod != types.DiscoveryLocatorAPI

	key := cache.Key("discovery:" + s.Config.Name + ":" + string(s.Config.DiscoveryMethod))
	if cacheable && s.Cache != nil && s.Checkpoint == nil {
		if urls, ok := s.Cache.GetURLs(key); ok {
			s.Collector.IncCacheHit()
			s.Logger.Info("using cached url set", map[string]any{"urls": len(urls)})
			return urls, nil
		}
	}

	items, err := kind.Discover(ctx, s)
	if err != nil {
		return nil, err
	}
	if cacheable && s.Cache != nil {
		if err := s.Cache.PutURLs(key, items); err != nil {
			s.Logger.Warn("url set cache write failed", map[string]any{"error": err.Error()})
		}
	}
	return items, nil
}

// applyLimits drops already-completed items and trims to the effective
// run limit. Test mode implies a small limit when none was given.
func (h *Harvester) applyLimits(items []string, opts types.RunOptions, state *harvestState) []string {
	completedSet := make(map[string]struct{}, len(state.completed))
	for _, id := range state.completed {
		completedSet[id] = struct{}{}
	}

	pending := items[:0:0]
	for _, item := range items {
		if _, done := completedSet[item]; !done {
			pending = append(pending, item)
		}
	}

	limit := opts.Limit
	if opts.Test && limit == 0 {
		limit = testModeLimit
	}
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending
}

// extract runs the worker pool over pending items.
func (h *Harvester) extract(ctx context.Context, kind Kind, items []string, state *harvestState) error {
	s := h.session
	s.Tracker.AdvancePhase("extraction", types.PhaseProgress{Total: len(items), Status: "running"})

	work := make(chan string)
	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	workers := s.Config.ParallelWorkers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range work {
				if err := h.extractOne(ctx, kind, item, state); err != nil {
					select {
					case errCh <- err:
					default:
					}
					return
				}
			}
		}()
	}

feed:
	for _, item := range items {
		select {
		case <-ctx.Done():
			break feed
		case err := <-errCh:
			close(work)
			wg.Wait()
			s.Tracker.AdvancePhase("extraction", types.PhaseProgress{Total: len(items), Status: "failed"})
			return err
		case work <- item:
		}
	}
	close(work)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		s.Tracker.AdvancePhase("extraction", types.PhaseProgress{Total: len(items), Status: "canceled"})
		return err
	}
	select {
	case err := <-errCh:
		s.Tracker.AdvancePhase("extraction", types.PhaseProgress{Total: len(items), Status: "failed"})
		return err
	default:
	}

	state.mu.Lock()
	completed := len(state.completed)
	state.mu.Unlock()
	s.Tracker.AdvancePhase("extraction", types.PhaseProgress{
		Total: len(items), Completed: completed, Status: "complete",
	})
	return nil
}

// extractOne processes a single work item. Per-item fetch and parse
// failures are recorded and skipped; only cancellation and exhausted
// fetches that the config treats as fatal stop the run.
func (h *Harvester) extractOne(ctx context.Context, kind Kind, item string, state *harvestState) error {
	s := h.session

	stores, err := kind.Extract(ctx, s, item)
	switch {
	case err == nil:
	case errors.Is(err, ErrSkip):
		s.Collector.IncStoreDropped()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		s.Collector.IncParseError()
		s.Tracker.LogError(err.Error(), item)
		s.Logger.Warn("extraction failed", map[string]any{"item": item, "error": err.Error()})
		state.mu.Lock()
		state.errors++
		state.mu.Unlock()
		stores = nil
	}

	now := h.now().UTC()
	var valid []types.Store
	for i := range stores {
		st := stores[i]
		if st.ScrapedAt.IsZero() {
			st.ScrapedAt = now
		}
		if err := st.Validate(); err != nil {
			s.Collector.IncValidationError()
			s.Collector.IncStoreDropped()
			s.Tracker.LogError("validation: "+err.Error(), item)
			s.Logger.Warn("store dropped by validation", map[string]any{
				"item":  item,
				"error": err.Error(),
			})
			continue
		}
		st.Sanitize()
		valid = append(valid, st)
	}

	state.mu.Lock()
	for i := range valid {
		// locator_api queries overlap; a store id is collected once.
		if _, seen := state.seenIDs[valid[i].StoreID]; seen {
			continue
		}
		state.seenIDs[valid[i].StoreID] = struct{}{}
		state.stores = append(state.stores, valid[i])
		s.Collector.IncStoreScraped()
	}
	state.completed = append(state.completed, item)
	state.sinceSave++
	shouldSave := state.sinceSave >= s.Config.CheckpointInterval
	if shouldSave {
		state.sinceSave = 0
	}
	state.mu.Unlock()

	if shouldSave {
		if err := h.saveCheckpoint(state); err != nil {
			s.Logger.Error("checkpoint save failed", map[string]any{"error": err.Error()})
		}
		h.reportStats(state, h.started)
	}
	return nil
}

// saveCheckpoint snapshots state under the lock and writes atomically.
func (h *Harvester) saveCheckpoint(state *harvestState) error {
	s := h.session

	state.mu.Lock()
	cp := &checkpoint.Checkpoint{
		Completed: append([]string(nil), state.completed...),
		Stores:    append([]types.Store(nil), state.stores...),
	}
	state.mu.Unlock()

	s.mu.Lock()
	if len(s.crawlState) > 0 {
		cp.CrawlState = make(map[string][]string, len(s.crawlState))
		for k, v := range s.crawlState {
			cp.CrawlState[k] = v
		}
	}
	cp.SitemapIndex = s.sitemapIndex
	s.mu.Unlock()

	return h.checkpoints.Save(cp)
}

func (h *Harvester) reportStats(state *harvestState, started time.Time) {
	snap := h.session.Collector.Snapshot()
	state.mu.Lock()
	errs := state.errors
	scraped := len(state.stores)
	state.mu.Unlock()
	h.session.Tracker.UpdateStats(types.RunStats{
		StoresScraped:   scraped,
		RequestsMade:    int(snap.RequestsMade),
		Errors:          errs,
		DurationSeconds: h.now().Sub(started).Seconds(),
	})
}
