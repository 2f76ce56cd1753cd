package pipeline

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/pithecene-io/prospect/log"
	"github.com/pithecene-io/prospect/metrics"
	"github.com/pithecene-io/prospect/pacer"
	"github.com/pithecene-io/prospect/transport"
	"github.com/pithecene-io/prospect/types"
)

// newTestPipeline wires a pipeline against a test server with sleeps
// recorded instead of performed.
func newTestPipeline(t *testing.T, maxRetries int, slept *[]time.Duration) (*Pipeline, *bytes.Buffer) {
	t.Helper()
	tr, err := transport.New(transport.Config{Mode: types.ProxyDirect, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("transport.New: %v", err)
	}

	var buf bytes.Buffer
	logger := log.NewLoggerWithWriter("test", "", zapcore.DebugLevel, &buf)

	pc := pacer.New(types.PacingConfig{RateLimitBaseWait: 30}, types.ProxyDirect)
	p := New(tr, pc, Config{MaxRetries: maxRetries, RetryDelay: time.Second}, logger, metrics.NewCollector("test", "run"))
	p.sleep = func(_ context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}
	return p, &buf
}

func TestGet_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Error("request missing rotated User-Agent")
		}
		if r.Header.Get("Accept-Language") == "" {
			t.Error("request missing Accept-Language")
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	var slept []time.Duration
	p, _ := newTestPipeline(t, 3, &slept)

	resp, err := p.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestGet_404ReturnsImmediately(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	var slept []time.Duration
	p, _ := newTestPipeline(t, 3, &slept)

	resp, err := p.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("404 should not be an error: %v", err)
	}
	if resp.StatusCode != 404 {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	if hits != 1 {
		t.Errorf("404 retried: %d hits", hits)
	}
}

// Scenario: transport returns 403 for every request with max_retries=3
// and rate_limit_base_wait=30. The pipeline sleeps approximately 30,
// 60, 120 seconds, logs the URL each time, and returns a typed error.
func Test403_ExponentialBackoffAndExhaustion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	var slept []time.Duration
	p, buf := newTestPipeline(t, 3, &slept)

	_, err := p.Get(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected error after 403 exhaustion")
	}

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected *FetchError, got %T", err)
	}
	if fetchErr.FinalStatus != 403 || fetchErr.Attempts != 3 {
		t.Errorf("FetchError = %+v", fetchErr)
	}
	if !errors.Is(err, ErrBlocked) {
		t.Error("403 exhaustion should classify as ErrBlocked")
	}

	want := []time.Duration{30 * time.Second, 60 * time.Second, 120 * time.Second}
	if len(slept) != len(want) {
		t.Fatalf("slept %v, want 3 backoffs", slept)
	}
	var total time.Duration
	for i, d := range slept {
		if d != want[i] {
			t.Errorf("backoff[%d] = %v, want %v", i, d, want[i])
		}
		if d >= 300*time.Second {
			t.Errorf("single wait %v must stay below 300s", d)
		}
		total += d
	}
	if total >= 300*time.Second {
		t.Errorf("total sleep %v must stay below 300s for base=30, retries=3", total)
	}

	out := buf.String()
	if !strings.Contains(out, srv.URL) {
		t.Error("warnings should include the failing URL")
	}
	if !strings.Contains(out, "after 3 attempts (last status: 403)") {
		t.Errorf("exhaustion log missing, got: %s", out)
	}
}

func Test429_UsesPacerBackoff(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		if hits < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	var slept []time.Duration
	p, _ := newTestPipeline(t, 3, &slept)

	resp, err := p.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if resp.Text() != "recovered" {
		t.Errorf("body = %q", resp.Text())
	}
	if len(slept) != 2 || slept[0] != 30*time.Second || slept[1] != 60*time.Second {
		t.Errorf("429 backoffs = %v, want [30s 60s]", slept)
	}
}

func Test5xx_RetriesWithMultiplier(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		if hits < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("up again"))
	}))
	defer srv.Close()

	var slept []time.Duration
	p, _ := newTestPipeline(t, 3, &slept)

	resp, err := p.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("status = %d", resp.StatusCode)
	}
	// retry_delay=1s with exponential multiplier: 1s then 2s.
	if len(slept) != 2 || slept[0] != time.Second || slept[1] != 2*time.Second {
		t.Errorf("5xx retry delays = %v", slept)
	}
}

func TestTransportError_Retried(t *testing.T) {
	var slept []time.Duration
	p, _ := newTestPipeline(t, 2, &slept)

	// Connection refused: no listener on this port.
	_, err := p.Get(context.Background(), "http://127.0.0.1:1/unreachable")
	if err == nil {
		t.Fatal("expected error for unreachable host")
	}
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected *FetchError, got %T", err)
	}
	if fetchErr.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", fetchErr.Attempts)
	}
	if !errors.Is(err, ErrNetwork) {
		t.Error("transport failure should classify as ErrNetwork")
	}
}

func TestUserAgentRotation(t *testing.T) {
	seen := map[string]bool{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen[r.Header.Get("User-Agent")] = true
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	var slept []time.Duration
	p, _ := newTestPipeline(t, 3, &slept)

	for range len(userAgents) {
		if _, err := p.Get(context.Background(), srv.URL); err != nil {
			t.Fatalf("Get: %v", err)
		}
	}
	if len(seen) < 4 {
		t.Errorf("expected at least 4 distinct user agents across requests, saw %d", len(seen))
	}
}

func TestGet_CanceledContext(t *testing.T) {
	var slept []time.Duration
	p, _ := newTestPipeline(t, 3, &slept)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Get(ctx, "http://example.com"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
