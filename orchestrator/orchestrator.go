// Package orchestrator runs complete harvests: it assembles the
// per-retailer stack (transport, pacer, pipeline, harvester, tracker),
// runs change detection and export after extraction, and fans multiple
// retailers out across a bounded worker pool.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/pithecene-io/prospect/adapter"
	adapterredis "github.com/pithecene-io/prospect/adapter/redis"
	"github.com/pithecene-io/prospect/adapter/webhook"
	"github.com/pithecene-io/prospect/cache"
	"github.com/pithecene-io/prospect/checkpoint"
	"github.com/pithecene-io/prospect/cli/config"
	"github.com/pithecene-io/prospect/diff"
	"github.com/pithecene-io/prospect/export"
	"github.com/pithecene-io/prospect/log"
	"github.com/pithecene-io/prospect/metrics"
	"github.com/pithecene-io/prospect/pacer"
	"github.com/pithecene-io/prospect/pipeline"
	"github.com/pithecene-io/prospect/runtrack"
	"github.com/pithecene-io/prospect/scraper"
	"github.com/pithecene-io/prospect/transport"
	"github.com/pithecene-io/prospect/types"
	"github.com/pithecene-io/prospect/upload"
)

// CLICredentials are the credential overrides passed on the command
// line, taking priority over config and environment.
type CLICredentials struct {
	Username string
	Password string
}

// Orchestrator executes harvests against one loaded configuration.
type Orchestrator struct {
	cfg      *config.Config
	logLevel zapcore.Level
	// processSink mirrors every run's log into the rotating process
	// log; nil means per-run files only.
	processSink zapcore.WriteSyncer
	creds       CLICredentials

	uploader *upload.Uploader
	notifier adapter.Adapter

	now func() time.Time
}

// Option tunes orchestrator construction.
type Option func(*Orchestrator)

// WithCLICredentials installs command-line credential overrides.
func WithCLICredentials(c CLICredentials) Option {
	return func(o *Orchestrator) { o.creds = c }
}

// WithUploader installs an export mirror.
func WithUploader(u *upload.Uploader) Option {
	return func(o *Orchestrator) { o.uploader = u }
}

// WithNotifier installs a run-completed adapter.
func WithNotifier(a adapter.Adapter) Option {
	return func(o *Orchestrator) { o.notifier = a }
}

// New creates an orchestrator for a validated config.
func New(cfg *config.Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:         cfg,
		logLevel:    log.ParseLevel(cfg.LogLevel),
		processSink: log.Setup(filepath.Join(cfg.LogDir, "scraper.log")),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// NewNotifier builds the adapter named by the config, or nil when
// notifications are disabled.
func NewNotifier(cfg *config.Config) (adapter.Adapter, error) {
	retries := adapterredis.DefaultRetries
	if cfg.Adapter.Retries != nil {
		retries = *cfg.Adapter.Retries
	}
	switch cfg.Adapter.Type {
	case "":
		return nil, nil
	case "redis":
		return adapterredis.New(adapterredis.Config{
			URL:     cfg.Adapter.URL,
			Channel: cfg.Adapter.Channel,
			Timeout: cfg.Adapter.Timeout.Duration,
			Retries: retries,
		})
	case "webhook":
		return webhook.New(webhook.Config{
			URL:     cfg.Adapter.URL,
			Headers: cfg.Adapter.Headers,
			Timeout: cfg.Adapter.Timeout.Duration,
			Retries: retries,
		})
	}
	return nil, fmt.Errorf("unknown adapter type %q", cfg.Adapter.Type)
}

// RetailerResult is the outcome of one retailer's harvest.
type RetailerResult struct {
	Retailer    string
	RunID       string
	Stats       types.RunStats
	Report      *types.ChangeReport
	ExportPaths []string
	Err         error
}

// Summary aggregates a multi-retailer run.
type Summary struct {
	Results   []RetailerResult
	Succeeded int
	Failed    int
}

// AllSucceeded reports whether every retailer completed. The CLI exit
// code follows this.
func (s *Summary) AllSucceeded() bool { return s.Failed == 0 }

// RunMany harvests the selected retailers with bounded concurrency.
// One retailer failing never stops the others; the summary carries
// per-retailer outcomes.
func (o *Orchestrator) RunMany(ctx context.Context, retailers []string, opts types.RunOptions) *Summary {
	sem := make(chan struct{}, o.cfg.Concurrency)
	results := make([]RetailerResult, len(retailers))
	var wg sync.WaitGroup

	for i, retailer := range retailers {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			results[i] = RetailerResult{Retailer: retailer, Err: ctx.Err()}
			continue
		}
		wg.Add(1)
		go func(i int, retailer string) {
			defer wg.Done()
			defer func() { <-sem }()
			runID := types.NewRunID(retailer, o.now())
			results[i] = o.RunRetailer(ctx, retailer, runID, opts)
		}(i, retailer)
	}
	wg.Wait()

	summary := &Summary{Results: results}
	for i := range results {
		if results[i].Err != nil {
			summary.Failed++
		} else {
			summary.Succeeded++
		}
	}
	return summary
}

// RunFunc adapts the orchestrator to the run manager's entry signature.
func (o *Orchestrator) RunFunc() func(ctx context.Context, retailer, runID string, opts types.RunOptions) error {
	return func(ctx context.Context, retailer, runID string, opts types.RunOptions) error {
		return o.RunRetailer(ctx, retailer, runID, opts).Err
	}
}

// RunRetailer executes one retailer's full harvest: scrape, change
// detection, export, optional mirror and notification, tracker
// transitions. Satisfies runmgr.RunFunc through a thin closure.
func (o *Orchestrator) RunRetailer(ctx context.Context, retailer, runID string, opts types.RunOptions) RetailerResult {
	result := RetailerResult{Retailer: retailer, RunID: runID}

	rc, ok := o.cfg.Retailer(retailer)
	if !ok {
		result.Err = fmt.Errorf("unknown retailer %q", retailer)
		return result
	}
	effective := effectiveConfig(rc, opts)

	retailerDir := filepath.Join(o.cfg.DataDir, retailer)
	logger, closeLog, err := o.runLogger(retailerDir, retailer, runID)
	if err != nil {
		result.Err = err
		return result
	}
	defer closeLog()

	tracker, err := runtrack.New(retailerDir, filepath.Join(o.cfg.DataDir, ".runs", "ledger.jsonl"), types.RunRecord{
		RunID:    runID,
		Retailer: retailer,
		Config:   opts,
		PID:      os.Getpid(),
	})
	if err != nil {
		result.Err = fmt.Errorf("start run tracking: %w", err)
		return result
	}

	logger.Info("run starting", map[string]any{
		"discovery": string(effective.DiscoveryMethod),
		"proxy":     string(effective.ProxyMode),
		"resume":    opts.Resume,
	})

	stores, collector, err := o.harvest(ctx, effective, retailerDir, runID, opts, logger, tracker)
	snap := collector.Snapshot()
	stats := types.RunStats{
		StoresScraped: len(stores),
		RequestsMade:  int(snap.RequestsMade),
		Errors:        int(snap.ParseErrors + snap.ValidationErrors),
	}
	result.Stats = stats
	if err != nil {
		if ctx.Err() != nil {
			_ = tracker.Cancel(stats)
			logger.Info("run canceled", nil)
		} else {
			_ = tracker.Fail(stats, err.Error())
			logger.Error("run failed", map[string]any{"error": err.Error()})
		}
		o.notify(tracker, nil)
		result.Err = err
		return result
	}

	report, paths, err := o.publish(ctx, retailer, retailerDir, stores, opts.Incremental, logger)
	result.Report = report
	result.ExportPaths = paths
	result.Stats = stats
	if err != nil {
		_ = tracker.Fail(stats, err.Error())
		o.notify(tracker, report)
		result.Err = err
		return result
	}

	if err := tracker.Complete(stats); err != nil {
		logger.Warn("terminal transition failed", map[string]any{"error": err.Error()})
	}
	o.notify(tracker, report)

	fields := map[string]any{"stores": len(stores)}
	if report != nil {
		fields["new"] = len(report.New)
		fields["closed"] = len(report.Closed)
		fields["modified"] = len(report.Modified)
	}
	logger.Info("run complete", fields)
	return result
}

// validateLimit caps the harvest behind `run --validate`.
const validateLimit = 3

// ValidationOutcome is the result of one retailer's validation harvest.
type ValidationOutcome struct {
	Retailer string `json:"retailer"`
	Passed   bool   `json:"passed"`
	Stores   int    `json:"stores"`
	Dropped  int    `json:"dropped"`
	Error    string `json:"error,omitempty"`
}

// ValidateRetailer proves a retailer configuration end to end with a
// capped harvest against a throwaway directory. It passes only when the
// harvest yields at least one store and no record is dropped for
// missing required fields. Nothing under the data dir is touched.
func (o *Orchestrator) ValidateRetailer(ctx context.Context, retailer string) ValidationOutcome {
	out := ValidationOutcome{Retailer: retailer}

	rc, ok := o.cfg.Retailer(retailer)
	if !ok {
		out.Error = fmt.Sprintf("unknown retailer %q", retailer)
		return out
	}

	tmp, err := os.MkdirTemp("", "prospect-validate-*")
	if err != nil {
		out.Error = err.Error()
		return out
	}
	defer os.RemoveAll(tmp)

	opts := types.RunOptions{Limit: validateLimit}
	runID := types.NewRunID(retailer, o.now())
	logger := log.NewLogger(retailer, runID, o.logLevel)

	stores, collector, err := o.harvest(ctx, effectiveConfig(rc, opts), tmp, runID, opts, logger, nil)
	snap := collector.Snapshot()
	out.Stores = len(stores)
	out.Dropped = int(snap.ValidationErrors)
	switch {
	case err != nil:
		out.Error = err.Error()
	case out.Stores == 0:
		out.Error = "no stores extracted"
	case out.Dropped > 0:
		out.Error = fmt.Sprintf("%d stores failed required-field validation", out.Dropped)
	default:
		out.Passed = true
	}
	return out
}

// harvest assembles the per-retailer stack and runs extraction.
func (o *Orchestrator) harvest(
	ctx context.Context,
	rc *types.RetailerConfig,
	retailerDir, runID string,
	opts types.RunOptions,
	logger *log.Logger,
	tracker scraper.Tracker,
) ([]types.Store, *metrics.Collector, error) {
	collector := metrics.NewCollector(rc.Name, runID)

	tr, err := o.buildTransport(rc)
	if err != nil {
		return nil, collector, err
	}

	pc := pacer.New(rc.Pacing, rc.ProxyMode)
	pl := pipeline.New(tr, pc, pipeline.Config{
		MaxRetries: rc.MaxRetries,
		RetryDelay: time.Duration(rc.RetryDelay * float64(time.Second)),
	}, logger, collector)

	cacheDir := filepath.Join(retailerDir, "cache")
	session := &scraper.Session{
		Config:    rc,
		Pipeline:  pl,
		Cache:     cache.New(cacheDir, cache.DefaultURLSetTTL),
		Responses: cache.New(cacheDir, cache.DefaultResponseTTL),
		Logger:    logger,
		Collector: collector,
		Tracker:   tracker,
	}
	harvester := scraper.New(session, checkpoint.NewStore(retailerDir))

	if opts.Incremental {
		if err := o.applyIncremental(rc, retailerDir, session); err != nil {
			logger.Warn("incremental filter unavailable", map[string]any{"error": err.Error()})
		}
	}

	res, err := harvester.Run(ctx, opts)
	if err != nil {
		return nil, collector, err
	}
	return res.Stores, collector, nil
}

// publish runs change detection, export rotation, the optional S3
// mirror, and the history file.
func (o *Orchestrator) publish(ctx context.Context, retailer, retailerDir string, stores []types.Store, incremental bool, logger *log.Logger) (*types.ChangeReport, []string, error) {
	exporter := export.New(retailerDir)

	previous, err := exporter.LoadLatest()
	if err != nil {
		logger.Warn("previous snapshot unreadable, treating all stores as new", map[string]any{
			"error": err.Error(),
		})
	}
	if incremental {
		// An incremental run only fetched stores missing from the last
		// snapshot; the exported snapshot stays complete.
		stores = mergeSnapshots(previous, stores)
	}
	report := diff.New().Diff(previous, stores)

	paths, err := exporter.Write(stores, o.cfg.ExportFormats)
	if err != nil {
		return report, nil, fmt.Errorf("export: %w", err)
	}
	if _, err := export.WriteChanges(retailerDir, report, o.now()); err != nil {
		return report, paths, fmt.Errorf("write change history: %w", err)
	}

	if o.uploader != nil {
		if err := o.uploader.Mirror(ctx, retailer, paths); err != nil {
			// Mirror failures are already logged; the run still counts.
			logger.Warn("mirror incomplete", map[string]any{"error": err.Error()})
		}
	}
	return report, paths, nil
}

// notify publishes the run-completed event when an adapter is wired.
func (o *Orchestrator) notify(tracker *runtrack.Tracker, report *types.ChangeReport) {
	if o.notifier == nil {
		return
	}
	rec := tracker.Record()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := o.notifier.Publish(ctx, adapter.NewEvent(&rec, report)); err != nil {
		// Notification is best-effort; the run result stands.
		_ = err
	}
}

// mergeSnapshots overlays newly scraped stores onto the previous
// snapshot, replacing by store id and appending unknowns.
func mergeSnapshots(previous, fresh []types.Store) []types.Store {
	byID := make(map[string]int, len(previous))
	out := append([]types.Store(nil), previous...)
	for i := range out {
		byID[out[i].StoreID] = i
	}
	for i := range fresh {
		if j, ok := byID[fresh[i].StoreID]; ok {
			out[j] = fresh[i]
			continue
		}
		byID[fresh[i].StoreID] = len(out)
		out = append(out, fresh[i])
	}
	return out
}

// buildTransport maps retailer config plus resolved credentials onto a
// transport.
func (o *Orchestrator) buildTransport(rc *types.RetailerConfig) (*transport.Transport, error) {
	globalUser, globalPass := o.cfg.Credentials.Username, o.cfg.Credentials.Password
	if rc.ProxyMode == types.ProxyScraperAPI {
		globalUser, globalPass = o.cfg.Credentials.APIUsername, o.cfg.Credentials.APIPassword
	}
	creds := transport.ResolveCredentials(o.creds.Username, o.creds.Password, "", "", globalUser, globalPass)

	country := rc.ProxyCountry
	if country == "" {
		country = creds.Country
	}

	return transport.New(transport.Config{
		Mode:        rc.ProxyMode,
		Timeout:     time.Duration(rc.RequestTimeout * float64(time.Second)),
		ProxyHost:   o.cfg.Credentials.ProxyHost,
		Username:    creds.Username,
		Password:    creds.Password,
		Country:     country,
		APIEndpoint: o.cfg.Credentials.APIEndpoint,
		RenderJS:    rc.RenderJS || creds.RenderJS,
	})
}

// applyIncremental registers a parser wrapper that drops stores already
// present in the previous snapshot, keyed per the retailer config.
func (o *Orchestrator) applyIncremental(rc *types.RetailerConfig, retailerDir string, session *scraper.Session) error {
	previous, err := export.New(retailerDir).LoadLatest()
	if err != nil {
		return err
	}
	if previous == nil {
		return fmt.Errorf("no previous snapshot")
	}

	known := make(map[string]struct{}, len(previous))
	for i := range previous {
		switch rc.IncrementalKey {
		case types.IncrementalByStoreID:
			known[previous[i].StoreID] = struct{}{}
		default:
			known[previous[i].URL] = struct{}{}
		}
	}

	inner := session.Parser
	if inner == nil {
		inner = scraper.JSONLDParser{}
	}
	session.Parser = scraper.ParserFunc(func(url string, body []byte) ([]types.Store, error) {
		stores, err := inner.Parse(url, body)
		if err != nil {
			return nil, err
		}
		var fresh []types.Store
		for i := range stores {
			key := stores[i].URL
			if rc.IncrementalKey == types.IncrementalByStoreID {
				key = stores[i].StoreID
			}
			if _, seen := known[key]; !seen {
				fresh = append(fresh, stores[i])
			}
		}
		return fresh, nil
	})
	return nil
}

// runLogger opens the per-run log file and tees it into the process
// log.
func (o *Orchestrator) runLogger(retailerDir, retailer, runID string) (*log.Logger, func(), error) {
	logDir := filepath.Join(retailerDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(filepath.Join(logDir, runID+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open run log: %w", err)
	}

	logger := log.NewLoggerWithWriter(retailer, runID, o.logLevel, f)
	if o.processSink != nil {
		logger = logger.Tee(o.processSink, o.logLevel)
	}
	return logger, func() {
		_ = logger.Sync()
		_ = f.Close()
	}, nil
}

// effectiveConfig overlays run options onto the retailer config
// without mutating the shared block.
func effectiveConfig(rc *types.RetailerConfig, opts types.RunOptions) *types.RetailerConfig {
	out := *rc
	if opts.ProxyMode != "" {
		out.ProxyMode = opts.ProxyMode
	}
	if opts.RenderJS {
		out.RenderJS = true
	}
	if opts.ProxyCountry != "" {
		out.ProxyCountry = opts.ProxyCountry
	}
	return &out
}
