package types

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// RunStatus is the lifecycle status of a harvest run.
type RunStatus string

const (
	StatusRunning  RunStatus = "running"
	StatusComplete RunStatus = "complete"
	StatusFailed   RunStatus = "failed"
	StatusCanceled RunStatus = "canceled"
)

// Terminal reports whether the status is a terminal transition.
func (s RunStatus) Terminal() bool {
	return s == StatusComplete || s == StatusFailed || s == StatusCanceled
}

// RunOptions are the effective options a run was launched with.
type RunOptions struct {
	Resume       bool      `json:"resume"`
	Incremental  bool      `json:"incremental"`
	Limit        int       `json:"limit"`
	Test         bool      `json:"test"`
	ProxyMode    ProxyMode `json:"proxy_mode"`
	RenderJS     bool      `json:"render_js"`
	ProxyCountry string    `json:"proxy_country,omitempty"`
}

// Validate rejects option combinations that must fail before any work
// starts. Mirrors the CLI validator so the HTTP start endpoint enforces
// the same rules.
func (o *RunOptions) Validate() error {
	if o.RenderJS && o.ProxyMode != ProxyScraperAPI {
		return fmt.Errorf("render_js requires proxy_mode web_scraper_api")
	}
	if o.ProxyMode != "" && !o.ProxyMode.Valid() {
		return fmt.Errorf("invalid proxy_mode %q", o.ProxyMode)
	}
	if o.Limit < 0 {
		return fmt.Errorf("limit must be >= 0, got %d", o.Limit)
	}
	return nil
}

// RunStats are the progress counters updated as a run advances.
type RunStats struct {
	StoresScraped   int     `json:"stores_scraped"`
	RequestsMade    int     `json:"requests_made"`
	Errors          int     `json:"errors"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// PhaseProgress tracks one discovery phase for multi-phase kinds.
type PhaseProgress struct {
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
	Status    string `json:"status"`
}

// RunError is one bounded-list error entry in the run metadata.
type RunError struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	URL       string    `json:"url,omitempty"`
}

// RunRecord is the per-run metadata file written under
// data/{retailer}/runs/{run_id}.json. Only the owning run writes it.
type RunRecord struct {
	RunID       string                   `json:"run_id"`
	Retailer    string                   `json:"retailer"`
	Status      RunStatus                `json:"status"`
	StartedAt   time.Time                `json:"started_at"`
	CompletedAt *time.Time               `json:"completed_at,omitempty"`
	Config      RunOptions               `json:"config"`
	Stats       RunStats                 `json:"stats"`
	Phases      map[string]PhaseProgress `json:"phases,omitempty"`
	Errors      []RunError               `json:"errors,omitempty"`
	// PID is the OS process id when the run was spawned as a subprocess.
	PID int `json:"pid,omitempty"`
}

// LedgerEntry is one line of the append-only run ledger
// (data/.runs/ledger.jsonl), written per terminal transition.
type LedgerEntry struct {
	Retailer        string     `json:"retailer"`
	RunID           string     `json:"run_id"`
	Status          RunStatus  `json:"status"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds float64    `json:"duration_seconds"`
	StoresFound     int        `json:"stores_found"`
	RequestsMade    int        `json:"requests_made"`
	ErrorCount      int        `json:"error_count"`
}

// NewRunID allocates a run id of the form
// {retailer}_{yyyymmdd_HHMMSS}_{rand4}. The timestamp component keeps
// ids monotonic per retailer at second granularity; the random suffix
// disambiguates restarts within the same second.
func NewRunID(retailer string, now time.Time) string {
	var b [2]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("%s_%s_%s", retailer, now.UTC().Format("20060102_150405"), hex.EncodeToString(b[:]))
}
