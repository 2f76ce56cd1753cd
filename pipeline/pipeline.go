package pipeline

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/pithecene-io/prospect/log"
	"github.com/pithecene-io/prospect/metrics"
	"github.com/pithecene-io/prospect/pacer"
	"github.com/pithecene-io/prospect/transport"
)

// userAgents is the rotating desktop-browser pool. Rotation is
// round-robin per pipeline so consecutive requests vary.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:133.0) Gecko/20100101 Firefox/133.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.1 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
}

// Config tunes retry behavior for one retailer's pipeline.
type Config struct {
	// MaxRetries bounds attempts per URL.
	MaxRetries int
	// RetryDelay is the base sleep for 5xx and transport errors; it
	// doubles per attempt.
	RetryDelay time.Duration
}

// Pipeline is Transport + Pacer + retry composed into a single get().
// One pipeline serves one retailer run; the request counter lives in
// the pacer it owns.
type Pipeline struct {
	transport *transport.Transport
	pacer     *pacer.Pacer
	config    Config
	logger    *log.Logger
	collector *metrics.Collector

	uaIndex atomic.Uint64

	// sleep is injectable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New composes a pipeline from its parts.
func New(tr *transport.Transport, pc *pacer.Pacer, cfg Config, logger *log.Logger, collector *metrics.Collector) *Pipeline {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	return &Pipeline{
		transport: tr,
		pacer:     pc,
		config:    cfg,
		logger:    logger,
		collector: collector,
		sleep:     sleepCtx,
	}
}

// Pacer exposes the pipeline's pacer for request-count reporting.
func (p *Pipeline) Pacer() *pacer.Pacer { return p.pacer }

// headers builds the rotated browser header set for one request.
func (p *Pipeline) headers() map[string]string {
	idx := p.uaIndex.Add(1)
	return map[string]string{
		"User-Agent":      userAgents[idx%uint64(len(userAgents))],
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.9",
		"Accept-Encoding": "gzip, deflate, br",
	}
}

// Get fetches url through the full pipeline: pacing, header rotation,
// transport, and the retry decision table. A 404 is returned to the
// caller without retrying; the caller decides what a missing page means.
func (p *Pipeline) Get(ctx context.Context, url string) (*transport.Response, error) {
	return p.do(ctx, url, nil)
}

// Post sends a POST body through the same pipeline. Used by the
// locator_api kind.
func (p *Pipeline) Post(ctx context.Context, url string, body []byte) (*transport.Response, error) {
	return p.do(ctx, url, body)
}

func (p *Pipeline) do(ctx context.Context, url string, body []byte) (*transport.Response, error) {
	var lastStatus int
	var lastErr error

	for attempt := 0; attempt < p.config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := p.pacer.BeforeRequest(ctx); err != nil {
			return nil, err
		}
		p.collector.IncRequest()
		if attempt > 0 {
			p.collector.IncRetry()
		}

		var resp *transport.Response
		var err error
		if body != nil {
			resp, err = p.transport.Post(ctx, url, p.headers(), body)
		} else {
			resp, err = p.transport.Get(ctx, url, p.headers())
		}

		if err != nil {
			lastErr = err
			lastStatus = 0
			p.logger.Warn("request failed", map[string]any{
				"url":     transport.Redact(url),
				"attempt": attempt + 1,
				"error":   transport.Redact(err.Error()),
			})
			if err := p.sleep(ctx, p.retryDelay(attempt)); err != nil {
				return nil, err
			}
			continue
		}

		lastStatus = resp.StatusCode

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return resp, nil

		case resp.StatusCode == http.StatusNotFound:
			// Caller decides; for extraction this means "store removed".
			return resp, nil

		case resp.StatusCode == http.StatusTooManyRequests:
			p.collector.IncRateLimitHit()
			wait := p.pacer.Backoff(attempt)
			p.logger.Warn("rate limited, backing off", map[string]any{
				"url":     transport.Redact(url),
				"wait":    wait.String(),
				"attempt": attempt + 1,
			})
			if err := p.sleep(ctx, wait); err != nil {
				return nil, err
			}

		case resp.StatusCode == http.StatusForbidden:
			p.collector.IncBlocked()
			wait := p.pacer.Backoff(attempt)
			// The URL goes in the warning so the failure reason is
			// surfaced, not just a bare status.
			p.logger.Warn("blocked (403), backing off", map[string]any{
				"url":     transport.Redact(url),
				"wait":    wait.String(),
				"attempt": attempt + 1,
			})
			if err := p.sleep(ctx, wait); err != nil {
				return nil, err
			}

		case resp.StatusCode >= 500:
			p.logger.Warn("server error, retrying", map[string]any{
				"url":     transport.Redact(url),
				"status":  resp.StatusCode,
				"attempt": attempt + 1,
			})
			if err := p.sleep(ctx, p.retryDelay(attempt)); err != nil {
				return nil, err
			}

		default:
			// Unexpected 3xx/4xx: return as-is, caller inspects status.
			return resp, nil
		}
	}

	fetchErr := &FetchError{
		URL:         url,
		FinalStatus: lastStatus,
		Attempts:    p.config.MaxRetries,
		Kind:        classifyStatus(lastStatus),
		Err:         lastErr,
	}
	p.logger.Error(fetchErr.Error(), map[string]any{
		"url":         transport.Redact(url),
		"last_status": lastStatus,
	})
	return nil, fetchErr
}

// retryDelay doubles the base delay per attempt for 5xx and transport
// failures.
func (p *Pipeline) retryDelay(attempt int) time.Duration {
	return p.config.RetryDelay * time.Duration(1<<uint(attempt))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
