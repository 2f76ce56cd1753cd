package types

import "fmt"

// DiscoveryMethod is the strategy used to discover store URLs.
type DiscoveryMethod string

const (
	DiscoverySitemap          DiscoveryMethod = "sitemap"
	DiscoverySitemapGzip      DiscoveryMethod = "sitemap_gzip"
	DiscoverySitemapPaginated DiscoveryMethod = "sitemap_paginated"
	DiscoveryHTMLCrawl        DiscoveryMethod = "html_crawl"
	DiscoveryLocatorAPI       DiscoveryMethod = "locator_api"
)

// Valid reports whether the discovery method is one of the supported kinds.
func (m DiscoveryMethod) Valid() bool {
	switch m {
	case DiscoverySitemap, DiscoverySitemapGzip, DiscoverySitemapPaginated,
		DiscoveryHTMLCrawl, DiscoveryLocatorAPI:
		return true
	}
	return false
}

// ProxyMode selects how outbound requests leave the host.
type ProxyMode string

const (
	// ProxyDirect performs ordinary HTTPS requests.
	ProxyDirect ProxyMode = "direct"
	// ProxyResidential routes through a rotating-IP residential proxy
	// endpoint with Basic auth in the proxy URL.
	ProxyResidential ProxyMode = "residential"
	// ProxyScraperAPI POSTs to a managed scraping endpoint that fetches
	// the target on our behalf (and can render JavaScript).
	ProxyScraperAPI ProxyMode = "web_scraper_api"
)

// Valid reports whether the proxy mode is supported.
func (m ProxyMode) Valid() bool {
	switch m {
	case ProxyDirect, ProxyResidential, ProxyScraperAPI:
		return true
	}
	return false
}

// DelayProfile is one min/max uniform delay band.
type DelayProfile struct {
	MinDelay float64 `yaml:"min_delay" json:"min_delay"`
	MaxDelay float64 `yaml:"max_delay" json:"max_delay"`
}

// PacingConfig governs inter-request timing for one retailer.
type PacingConfig struct {
	// MinDelay/MaxDelay are the flat delay band in seconds, used when no
	// per-mode profile is configured.
	MinDelay float64 `yaml:"min_delay" json:"min_delay"`
	MaxDelay float64 `yaml:"max_delay" json:"max_delay"`
	// Direct and Proxied are optional dual profiles auto-selected from
	// the transport mode.
	Direct  *DelayProfile `yaml:"direct,omitempty" json:"direct,omitempty"`
	Proxied *DelayProfile `yaml:"proxied,omitempty" json:"proxied,omitempty"`
	// Pause50Requests triggers a long pause every N requests.
	Pause50Requests int     `yaml:"pause_50_requests" json:"pause_50_requests"`
	Pause50Min      float64 `yaml:"pause_50_min" json:"pause_50_min"`
	Pause50Max      float64 `yaml:"pause_50_max" json:"pause_50_max"`
	// Pause200Requests is the second, longer pause tier.
	Pause200Requests int     `yaml:"pause_200_requests" json:"pause_200_requests"`
	Pause200Min      float64 `yaml:"pause_200_min" json:"pause_200_min"`
	Pause200Max      float64 `yaml:"pause_200_max" json:"pause_200_max"`
	// RateLimitBaseWait is the base in seconds for exponential backoff
	// on HTTP 429/403.
	RateLimitBaseWait float64 `yaml:"rate_limit_base_wait" json:"rate_limit_base_wait"`
}

// IncrementalKey selects how --incremental decides a store is already known.
type IncrementalKey string

const (
	IncrementalByURL     IncrementalKey = "url"
	IncrementalByStoreID IncrementalKey = "store_id"
)

// RetailerConfig is the per-retailer configuration block.
type RetailerConfig struct {
	// Name is the retailer key, also used in paths under data/.
	Name    string `yaml:"name" json:"name"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
	// Group is an optional selection group (e.g. "carriers").
	Group   string `yaml:"group,omitempty" json:"group,omitempty"`
	BaseURL string `yaml:"base_url" json:"base_url"`
	// DiscoveryMethod picks the scraper kind.
	DiscoveryMethod DiscoveryMethod `yaml:"discovery_method" json:"discovery_method"`
	// SitemapURL is the sitemap (or sitemap index) entry point for the
	// sitemap kinds.
	SitemapURL string `yaml:"sitemap_url,omitempty" json:"sitemap_url,omitempty"`
	// URLPattern is the regex a <loc> must match to count as a store page.
	URLPattern string `yaml:"url_pattern,omitempty" json:"url_pattern,omitempty"`
	// CrawlSeedURL is the first-phase listing page for html_crawl.
	CrawlSeedURL string `yaml:"crawl_seed_url,omitempty" json:"crawl_seed_url,omitempty"`
	// CrawlLinkPattern matches intermediate listing links worth following
	// during html_crawl (state and city index pages). Links matching
	// URLPattern are collected as store pages instead.
	CrawlLinkPattern string `yaml:"crawl_link_pattern,omitempty" json:"crawl_link_pattern,omitempty"`
	// CrawlDepth bounds how many link levels html_crawl follows from the
	// seed (state -> city -> store is depth 3).
	CrawlDepth int `yaml:"crawl_depth,omitempty" json:"crawl_depth,omitempty"`
	// LocatorEndpoint is the JSON endpoint for locator_api.
	LocatorEndpoint string `yaml:"locator_endpoint,omitempty" json:"locator_endpoint,omitempty"`
	// LocatorQueries are the POST payloads for locator_api, one request
	// each. Empty means a default coarse geographic grid.
	LocatorQueries []string `yaml:"locator_queries,omitempty" json:"locator_queries,omitempty"`

	ProxyMode ProxyMode `yaml:"proxy_mode" json:"proxy_mode"`
	// RenderJS is only valid when ProxyMode is web_scraper_api.
	RenderJS     bool   `yaml:"render_js" json:"render_js"`
	ProxyCountry string `yaml:"proxy_country,omitempty" json:"proxy_country,omitempty"`

	Pacing PacingConfig `yaml:"pacing" json:"pacing"`

	// ParallelWorkers bounds the extraction worker pool (1-4; use 1 for
	// crawl-delay-constrained sites).
	ParallelWorkers int `yaml:"parallel_workers" json:"parallel_workers"`
	// CheckpointInterval is the number of extracted stores between
	// checkpoint writes.
	CheckpointInterval int `yaml:"checkpoint_interval" json:"checkpoint_interval"`
	// MaxRetries bounds pipeline retry attempts.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
	// RetryDelay is the base retry sleep in seconds for 5xx/transport errors.
	RetryDelay float64 `yaml:"retry_delay" json:"retry_delay"`
	// RequestTimeout is the per-request timeout in seconds.
	RequestTimeout float64 `yaml:"request_timeout" json:"request_timeout"`
	// IncrementalKey selects URL-set vs store-id diffing for --incremental.
	IncrementalKey IncrementalKey `yaml:"incremental_key,omitempty" json:"incremental_key,omitempty"`
}

// ApplyDefaults fills zero values with the documented defaults.
func (r *RetailerConfig) ApplyDefaults() {
	if r.ParallelWorkers == 0 {
		r.ParallelWorkers = 2
	}
	if r.CheckpointInterval == 0 {
		r.CheckpointInterval = 25
	}
	if r.MaxRetries == 0 {
		r.MaxRetries = 3
	}
	if r.RetryDelay == 0 {
		r.RetryDelay = 5
	}
	if r.RequestTimeout == 0 {
		r.RequestTimeout = 30
	}
	if r.ProxyMode == "" {
		r.ProxyMode = ProxyDirect
	}
	if r.IncrementalKey == "" {
		r.IncrementalKey = IncrementalByURL
	}
	if r.Pacing.RateLimitBaseWait == 0 {
		r.Pacing.RateLimitBaseWait = 30
	}
	if r.CrawlDepth == 0 {
		r.CrawlDepth = 3
	}
}

// Validate enforces the fail-fast config rules. Invalid configuration
// is rejected at load time; no partial config is ever applied.
func (r *RetailerConfig) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("name is required")
	}
	if r.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if !r.DiscoveryMethod.Valid() {
		return fmt.Errorf("invalid discovery_method %q", r.DiscoveryMethod)
	}
	if !r.ProxyMode.Valid() {
		return fmt.Errorf("invalid proxy_mode %q", r.ProxyMode)
	}
	if r.RenderJS && r.ProxyMode != ProxyScraperAPI {
		return fmt.Errorf("render_js requires proxy_mode web_scraper_api, got %q", r.ProxyMode)
	}
	if r.ParallelWorkers < 1 || r.ParallelWorkers > 8 {
		return fmt.Errorf("parallel_workers %d out of range [1, 8]", r.ParallelWorkers)
	}
	if r.CheckpointInterval < 1 {
		return fmt.Errorf("checkpoint_interval must be > 0, got %d", r.CheckpointInterval)
	}
	if r.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be > 0, got %d", r.MaxRetries)
	}
	if r.Pacing.MinDelay < 0 || r.Pacing.MaxDelay < r.Pacing.MinDelay {
		return fmt.Errorf("invalid delay band [%v, %v]", r.Pacing.MinDelay, r.Pacing.MaxDelay)
	}
	switch r.DiscoveryMethod {
	case DiscoverySitemap, DiscoverySitemapGzip, DiscoverySitemapPaginated:
		if r.SitemapURL == "" {
			return fmt.Errorf("sitemap_url is required for %s discovery", r.DiscoveryMethod)
		}
	case DiscoveryHTMLCrawl:
		if r.CrawlSeedURL == "" {
			return fmt.Errorf("crawl_seed_url is required for html_crawl discovery")
		}
		if r.CrawlDepth < 1 || r.CrawlDepth > 5 {
			return fmt.Errorf("crawl_depth %d out of range [1, 5]", r.CrawlDepth)
		}
	case DiscoveryLocatorAPI:
		if r.LocatorEndpoint == "" {
			return fmt.Errorf("locator_endpoint is required for locator_api discovery")
		}
	}
	switch r.IncrementalKey {
	case IncrementalByURL, IncrementalByStoreID, "":
	default:
		return fmt.Errorf("invalid incremental_key %q", r.IncrementalKey)
	}
	return nil
}
