package webhook

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/pithecene-io/prospect/adapter"
	"github.com/pithecene-io/prospect/types"
)

func testEvent() *adapter.RunCompletedEvent {
	return &adapter.RunCompletedEvent{
		EventID:   "4a1c2f6e-0000-4000-8000-000000000002",
		EventType: "run_completed",
		Retailer:  "acme",
		RunID:     "acme_20260825_120000_ab12",
		Status:    types.StatusComplete,
	}
}

func TestPublish_PostsJSON(t *testing.T) {
	var got adapter.RunCompletedEvent
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	a, err := New(Config{URL: srv.URL, Headers: map[string]string{"X-Token": "abc"}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = a.Close() }()

	if err := a.Publish(t.Context(), testEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if contentType != "application/json" {
		t.Errorf("content-type = %q", contentType)
	}
	if got.Retailer != "acme" || got.EventType != "run_completed" {
		t.Errorf("received = %+v", got)
	}
}

func TestPublish_Retries5xx(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
	}))
	defer srv.Close()

	a, err := New(Config{URL: srv.URL, Retries: 3})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = a.Close() }()

	if err := a.Publish(t.Context(), testEvent()); err != nil {
		t.Fatalf("publish should recover on third attempt: %v", err)
	}
	if hits.Load() != 3 {
		t.Errorf("hits = %d, want 3", hits.Load())
	}
}

func TestPublish_4xxNotRetried(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	a, err := New(Config{URL: srv.URL, Retries: 3})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = a.Close() }()

	if err := a.Publish(t.Context(), testEvent()); err == nil {
		t.Error("4xx should fail")
	}
	if hits.Load() != 1 {
		t.Errorf("4xx retried: %d hits", hits.Load())
	}
}

func TestNew_RequiresURL(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("empty URL should be rejected")
	}

	a, err := New(Config{URL: "http://x"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if a.config.Timeout != DefaultTimeout {
		t.Errorf("timeout = %v, want default", a.config.Timeout)
	}
}
