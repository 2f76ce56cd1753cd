// Package metrics provides per-run harvest counters.
//
// The Collector accumulates counters during a single retailer run. It
// is a leaf package with no internal dependencies; the run tracker
// absorbs a Snapshot into the persisted run stats at checkpoint and
// terminal transitions.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of the harvest counters.
// Safe to read concurrently after creation.
type Snapshot struct {
	// Requests
	RequestsMade  int64
	Retries       int64
	RateLimitHits int64
	Blocked       int64

	// Extraction
	StoresScraped    int64
	StoresDropped    int64
	ParseErrors      int64
	ValidationErrors int64

	// Discovery
	URLsDiscovered int64
	CacheHits      int64

	// Dimensions (informational, set at construction)
	Retailer string
	RunID    string
}

// Collector accumulates counters during a single retailer run.
// Thread-safe; all increment methods are nil-receiver safe so callers
// never need to guard against an absent collector.
type Collector struct {
	mu sync.Mutex

	requestsMade  int64
	retries       int64
	rateLimitHits int64
	blocked       int64

	storesScraped    int64
	storesDropped    int64
	parseErrors      int64
	validationErrors int64

	urlsDiscovered int64
	cacheHits      int64

	retailer string
	runID    string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(retailer, runID string) *Collector {
	return &Collector{retailer: retailer, runID: runID}
}

func (c *Collector) inc(field *int64) {
	c.mu.Lock()
	*field++
	c.mu.Unlock()
}

// IncRequest records one outbound request.
func (c *Collector) IncRequest() {
	if c == nil {
		return
	}
	c.inc(&c.requestsMade)
}

// IncRetry records one retried request.
func (c *Collector) IncRetry() {
	if c == nil {
		return
	}
	c.inc(&c.retries)
}

// IncRateLimitHit records one 429 response.
func (c *Collector) IncRateLimitHit() {
	if c == nil {
		return
	}
	c.inc(&c.rateLimitHits)
}

// IncBlocked records one 403 response.
func (c *Collector) IncBlocked() {
	if c == nil {
		return
	}
	c.inc(&c.blocked)
}

// IncStoreScraped records one validated store.
func (c *Collector) IncStoreScraped() {
	if c == nil {
		return
	}
	c.inc(&c.storesScraped)
}

// IncStoreDropped records one store dropped by validation.
func (c *Collector) IncStoreDropped() {
	if c == nil {
		return
	}
	c.inc(&c.storesDropped)
}

// IncParseError records one extraction parse failure.
func (c *Collector) IncParseError() {
	if c == nil {
		return
	}
	c.inc(&c.parseErrors)
}

// IncValidationError records one schema validation failure.
func (c *Collector) IncValidationError() {
	if c == nil {
		return
	}
	c.inc(&c.validationErrors)
}

// AddURLsDiscovered records n discovered URLs.
func (c *Collector) AddURLsDiscovered(n int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.urlsDiscovered += int64(n)
	c.mu.Unlock()
}

// IncCacheHit records one URL-set or response-cache hit.
func (c *Collector) IncCacheHit() {
	if c == nil {
		return
	}
	c.inc(&c.cacheHits)
}

// Snapshot returns an immutable point-in-time view of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		RequestsMade:     c.requestsMade,
		Retries:          c.retries,
		RateLimitHits:    c.rateLimitHits,
		Blocked:          c.blocked,
		StoresScraped:    c.storesScraped,
		StoresDropped:    c.storesDropped,
		ParseErrors:      c.parseErrors,
		ValidationErrors: c.validationErrors,
		URLsDiscovered:   c.urlsDiscovered,
		CacheHits:        c.cacheHits,
		Retailer:         c.retailer,
		RunID:            c.runID,
	}
}
