// Package transport performs single HTTP requests and returns a
// unified response regardless of the outbound mode (direct, residential
// proxy, managed scraping API). It owns credentials and per-mode
// configuration; pacing and retries live in the pipeline.
package transport

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pithecene-io/prospect/types"
)

// maxBodySize caps a fetched body at 50 MB. Sitemap indexes for large
// chains run a few MB; anything bigger is a misconfigured target.
const maxBodySize = 50 << 20

// Response is the unified result of one request in any mode.
type Response struct {
	// StatusCode is the upstream HTTP status. For web_scraper_api it is
	// the status of the target fetch, unwrapped from the envelope.
	StatusCode int
	// Content is the raw body bytes.
	Content []byte
	// Headers are the upstream response headers.
	Headers http.Header
	// FinalURL is the URL after redirects.
	FinalURL string
}

// Text returns the body decoded as a string.
func (r *Response) Text() string { return string(r.Content) }

// Config holds per-mode transport configuration for one retailer.
type Config struct {
	// Mode selects direct, residential, or web_scraper_api.
	Mode types.ProxyMode
	// Timeout is the per-request timeout.
	Timeout time.Duration

	// ProxyHost is the residential proxy endpoint (host:port).
	ProxyHost string
	// Username/Password authenticate against the proxy or managed API.
	Username string
	Password string
	// Country is the two-letter exit-country code for residential and
	// managed-API modes.
	Country string
	// StickySession pins residential requests to one exit IP. Empty
	// means rotate per request.
	StickySession string

	// APIEndpoint is the managed scraping API URL for web_scraper_api.
	APIEndpoint string
	// RenderJS asks the managed API to render JavaScript. Only valid
	// when Mode is web_scraper_api; rejected at load time otherwise.
	RenderJS bool
}

// Validate enforces mode invariants before any request is made.
func (c *Config) Validate() error {
	if !c.Mode.Valid() {
		return fmt.Errorf("invalid transport mode %q", c.Mode)
	}
	if c.RenderJS && c.Mode != types.ProxyScraperAPI {
		return fmt.Errorf("render_js is only valid with mode %q, got %q", types.ProxyScraperAPI, c.Mode)
	}
	if c.Mode == types.ProxyResidential {
		if c.ProxyHost == "" {
			return fmt.Errorf("residential mode requires a proxy host")
		}
		if c.Username == "" || c.Password == "" {
			return fmt.Errorf("residential mode requires proxy credentials")
		}
	}
	if c.Mode == types.ProxyScraperAPI {
		if c.APIEndpoint == "" {
			return fmt.Errorf("web_scraper_api mode requires an API endpoint")
		}
		if c.Username == "" || c.Password == "" {
			return fmt.Errorf("web_scraper_api mode requires API credentials")
		}
	}
	if c.Country != "" && len(c.Country) != 2 {
		return fmt.Errorf("proxy country %q must be a two-letter code", c.Country)
	}
	return nil
}

// Transport executes requests in the configured mode.
type Transport struct {
	config Config
	client *http.Client
}

// New builds a Transport, validating the configuration first.
func New(cfg Config) (*Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	t := &Transport{config: cfg}

	switch cfg.Mode {
	case types.ProxyResidential:
		proxyURL, err := t.residentialProxyURL()
		if err != nil {
			return nil, err
		}
		t.client = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyURL(proxyURL),
				MaxIdleConnsPerHost: 4,
			},
		}
	default:
		t.client = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
			},
		}
	}

	return t, nil
}

// Mode returns the configured transport mode.
func (t *Transport) Mode() types.ProxyMode { return t.config.Mode }

// Get fetches url with the given request headers.
func (t *Transport) Get(ctx context.Context, target string, headers map[string]string) (*Response, error) {
	if t.config.Mode == types.ProxyScraperAPI {
		return t.scraperAPIFetch(ctx, target, http.MethodGet, headers, nil)
	}
	return t.directFetch(ctx, target, headers)
}

// Post sends a POST with the given body. Used by the locator_api
// scraper kind for geographic queries.
func (t *Transport) Post(ctx context.Context, target string, headers map[string]string, body []byte) (*Response, error) {
	if t.config.Mode == types.ProxyScraperAPI {
		return t.scraperAPIFetch(ctx, target, http.MethodPost, headers, body)
	}
	return t.rawRequest(ctx, http.MethodPost, target, headers, body)
}

// directFetch performs an ordinary GET, direct or through the
// residential proxy (the proxy is wired into the http.Client).
func (t *Transport) directFetch(ctx context.Context, target string, headers map[string]string) (*Response, error) {
	return t.rawRequest(ctx, http.MethodGet, target, headers, nil)
}

func (t *Transport) rawRequest(ctx context.Context, method, target string, headers map[string]string, body []byte) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", Redact(target), err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, Redact(target), err)
	}
	defer func() { _ = resp.Body.Close() }()

	// We set Accept-Encoding ourselves, which disables the client's
	// transparent decompression, so undo content-encoding gzip here.
	var bodyReader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gunzip body of %s: %w", Redact(target), err)
		}
		defer func() { _ = gz.Close() }()
		bodyReader = gz
	}

	content, err := io.ReadAll(io.LimitReader(bodyReader, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read body of %s: %w", Redact(target), err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Content:    content,
		Headers:    resp.Header,
		FinalURL:   resp.Request.URL.String(),
	}, nil
}

// residentialProxyURL builds the proxy URL with the username encoding
// the exit country and sticky session, in the provider convention
// customer-USER[-cc-XX][-sessid-ID].
func (t *Transport) residentialProxyURL() (*url.URL, error) {
	user := "customer-" + t.config.Username
	if t.config.Country != "" {
		user += "-cc-" + t.config.Country
	}
	if t.config.StickySession != "" {
		user += "-sessid-" + t.config.StickySession
	}
	raw := fmt.Sprintf("http://%s:%s@%s", url.QueryEscape(user), url.QueryEscape(t.config.Password), t.config.ProxyHost)
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy endpoint: %w", err)
	}
	return u, nil
}
