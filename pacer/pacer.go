// Package pacer governs inter-request timing for one retailer: uniform
// pre-request delays, periodic long pauses keyed on request count, and
// exponential backoff for rate-limit responses.
package pacer

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/pithecene-io/prospect/types"
)

// maxSingleWait caps any single backoff sleep. A 403 storm must never
// park a worker for five minutes.
const maxSingleWait = 300 * time.Second

// Pacer holds the per-retailer request counter and the pacing profile.
// It is carried in the retailer's pipeline, never package-scoped.
type Pacer struct {
	config types.PacingConfig
	mode   types.ProxyMode

	mu      sync.Mutex
	counter int

	// sleep is injectable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a pacer for the given pacing profile and transport mode.
// The mode selects between the direct and proxied delay bands when a
// dual profile is configured.
func New(cfg types.PacingConfig, mode types.ProxyMode) *Pacer {
	return &Pacer{
		config: cfg,
		mode:   mode,
		sleep:  sleepCtx,
	}
}

// delayBand resolves the effective min/max delay for the transport mode.
func (p *Pacer) delayBand() (min, max float64) {
	profile := p.config.Direct
	if p.mode != types.ProxyDirect {
		profile = p.config.Proxied
	}
	if profile != nil {
		return profile.MinDelay, profile.MaxDelay
	}
	return p.config.MinDelay, p.config.MaxDelay
}

// BeforeRequest samples the pre-request delay and, when the request
// counter crosses a pause threshold, sleeps the long pause. All sleeps
// are cancellation-aware.
func (p *Pacer) BeforeRequest(ctx context.Context) error {
	p.mu.Lock()
	p.counter++
	count := p.counter
	p.mu.Unlock()

	if d := p.pauseFor(count); d > 0 {
		if err := p.sleep(ctx, d); err != nil {
			return err
		}
	}

	min, max := p.delayBand()
	if d := uniform(min, max); d > 0 {
		return p.sleep(ctx, d)
	}
	return nil
}

// pauseFor returns the long-pause duration when count lands on a pause
// threshold, longest tier first.
func (p *Pacer) pauseFor(count int) time.Duration {
	if n := p.config.Pause200Requests; n > 0 && count%n == 0 {
		return uniform(p.config.Pause200Min, p.config.Pause200Max)
	}
	if n := p.config.Pause50Requests; n > 0 && count%n == 0 {
		return uniform(p.config.Pause50Min, p.config.Pause50Max)
	}
	return 0
}

// Backoff computes the rate-limit backoff for a 429 or 403 response at
// the given zero-based attempt: 2^attempt * rate_limit_base_wait,
// capped so no single wait reaches five minutes.
func (p *Pacer) Backoff(attempt int) time.Duration {
	base := p.config.RateLimitBaseWait
	if base <= 0 {
		base = 30
	}
	d := time.Duration(float64(uint64(1)<<uint(attempt)) * base * float64(time.Second))
	if d <= 0 || d >= maxSingleWait {
		return maxSingleWait - time.Second
	}
	return d
}

// RequestCount returns the number of requests seen so far.
func (p *Pacer) RequestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counter
}

// uniform samples a duration uniformly from [min, max] seconds.
func uniform(min, max float64) time.Duration {
	if max <= 0 || max < min {
		return 0
	}
	if max == min {
		return time.Duration(min * float64(time.Second))
	}
	s := min + rand.Float64()*(max-min)
	return time.Duration(s * float64(time.Second))
}

// sleepCtx sleeps for d or until ctx is canceled.
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
