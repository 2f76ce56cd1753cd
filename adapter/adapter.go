// Package adapter defines the notification boundary for finished runs.
//
// Adapters publish run-completed events to downstream systems (a
// dashboard, an alerting pipeline). The orchestrator owns adapter
// lifecycle; configuration decides which one is active.
package adapter

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/prospect/types"
)

// RunCompletedEvent is the payload published when a harvest run
// reaches a terminal status.
type RunCompletedEvent struct {
	EventID         string          `json:"event_id"`
	EventType       string          `json:"event_type"` // always "run_completed"
	Retailer        string          `json:"retailer"`
	RunID           string          `json:"run_id"`
	Status          types.RunStatus `json:"status"`
	StoresFound     int             `json:"stores_found"`
	NewStores       int             `json:"new_stores"`
	ClosedStores    int             `json:"closed_stores"`
	ModifiedStores  int             `json:"modified_stores"`
	RequestsMade    int             `json:"requests_made"`
	ErrorCount      int             `json:"error_count"`
	DurationSeconds float64         `json:"duration_seconds"`
	Timestamp       string          `json:"timestamp"` // RFC 3339
}

// NewEvent assembles a run-completed event from the run record and the
// change report (nil when change detection did not run).
func NewEvent(rec *types.RunRecord, report *types.ChangeReport) *RunCompletedEvent {
	ev := &RunCompletedEvent{
		EventID:         uuid.NewString(),
		EventType:       "run_completed",
		Retailer:        rec.Retailer,
		RunID:           rec.RunID,
		Status:          rec.Status,
		StoresFound:     rec.Stats.StoresScraped,
		RequestsMade:    rec.Stats.RequestsMade,
		ErrorCount:      rec.Stats.Errors,
		DurationSeconds: rec.Stats.DurationSeconds,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
	}
	if report != nil {
		ev.NewStores = len(report.New)
		ev.ClosedStores = len(report.Closed)
		ev.ModifiedStores = len(report.Modified)
	}
	return ev
}

// Adapter publishes run-completed events to one downstream system.
type Adapter interface {
	// Publish sends one event. Must respect context cancellation.
	Publish(ctx context.Context, event *RunCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}
