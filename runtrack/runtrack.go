// Package runtrack persists per-run metadata and the append-only run
// ledger. Exactly one Tracker owns a run's metadata file; concurrent
// runs of different retailers never share a file, so no cross-process
// locking is needed.
package runtrack

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pithecene-io/prospect/iox"
	"github.com/pithecene-io/prospect/types"
)

// maxErrors bounds the error list in the metadata file. Beyond the
// bound only the counter advances; the log file has the full detail.
const maxErrors = 50

// Tracker owns one run's metadata file under
// data/{retailer}/runs/{run_id}.json.
type Tracker struct {
	mu     sync.Mutex
	path   string
	ledger string
	record types.RunRecord
	// errorsTotal counts every reported error, including those beyond
	// the bounded list.
	errorsTotal int
	now         func() time.Time
}

// New starts tracking a run: the metadata file is created immediately
// with status running so the run manager and control API can see it.
func New(retailerDir, ledgerPath string, record types.RunRecord) (*Tracker, error) {
	if record.Status == "" {
		record.Status = types.StatusRunning
	}
	if record.StartedAt.IsZero() {
		record.StartedAt = time.Now().UTC()
	}
	t := &Tracker{
		path:   filepath.Join(retailerDir, "runs", record.RunID+".json"),
		ledger: ledgerPath,
		record: record,
		now:    time.Now,
	}
	if err := t.write(); err != nil {
		return nil, err
	}
	return t, nil
}

// write persists the record atomically. Callers hold t.mu.
func (t *Tracker) write() error {
	data, err := json.MarshalIndent(&t.record, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run record: %w", err)
	}
	return iox.WriteFileAtomic(t.path, data, 0o644)
}

// Record returns a copy of the current run record.
func (t *Tracker) Record() types.RunRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.record
	rec.Errors = append([]types.RunError(nil), t.record.Errors...)
	return rec
}

// UpdateStats replaces the progress counters and persists.
func (t *Tracker) UpdateStats(stats types.RunStats) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.record.Status.Terminal() {
		return
	}
	stats.Errors = t.errorsTotal
	t.record.Stats = stats
	_ = t.write()
}

// AdvancePhase updates one phase's progress and persists.
func (t *Tracker) AdvancePhase(name string, p types.PhaseProgress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.record.Status.Terminal() {
		return
	}
	if t.record.Phases == nil {
		t.record.Phases = map[string]types.PhaseProgress{}
	}
	t.record.Phases[name] = p
	_ = t.write()
}

// LogError appends to the bounded error list and persists.
func (t *Tracker) LogError(message, url string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.record.Status.Terminal() {
		return
	}
	t.errorsTotal++
	t.record.Stats.Errors = t.errorsTotal
	if len(t.record.Errors) < maxErrors {
		t.record.Errors = append(t.record.Errors, types.RunError{
			Timestamp: t.now().UTC(),
			Message:   message,
			URL:       url,
		})
	}
	_ = t.write()
}

// Complete marks the run complete and appends the ledger entry.
func (t *Tracker) Complete(stats types.RunStats) error {
	return t.finish(types.StatusComplete, stats)
}

// Fail marks the run failed with a final error message.
func (t *Tracker) Fail(stats types.RunStats, message string) error {
	t.mu.Lock()
	if !t.record.Status.Terminal() && len(t.record.Errors) < maxErrors {
		t.record.Errors = append(t.record.Errors, types.RunError{
			Timestamp: t.now().UTC(),
			Message:   message,
		})
	}
	t.mu.Unlock()
	return t.finish(types.StatusFailed, stats)
}

// Cancel marks the run canceled.
func (t *Tracker) Cancel(stats types.RunStats) error {
	return t.finish(types.StatusCanceled, stats)
}

// finish performs the terminal transition exactly once: the record is
// stamped, written, and a ledger line appended. Later transitions are
// ignored so a cancel racing a natural completion cannot double-write.
func (t *Tracker) finish(status types.RunStatus, stats types.RunStats) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.record.Status.Terminal() {
		return nil
	}

	completed := t.now().UTC()
	stats.Errors = t.errorsTotal
	stats.DurationSeconds = completed.Sub(t.record.StartedAt).Seconds()
	t.record.Status = status
	t.record.CompletedAt = &completed
	t.record.Stats = stats

	if err := t.write(); err != nil {
		return err
	}

	entry := types.LedgerEntry{
		Retailer:        t.record.Retailer,
		RunID:           t.record.RunID,
		Status:          status,
		StartedAt:       t.record.StartedAt,
		CompletedAt:     &completed,
		DurationSeconds: stats.DurationSeconds,
		StoresFound:     stats.StoresScraped,
		RequestsMade:    stats.RequestsMade,
		ErrorCount:      t.errorsTotal,
	}
	line, err := json.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("encode ledger entry: %w", err)
	}
	if err := iox.AppendLine(t.ledger, line); err != nil {
		return fmt.Errorf("append ledger: %w", err)
	}
	return nil
}

// LoadRecord reads one run's metadata file.
func LoadRecord(retailerDir, runID string) (*types.RunRecord, error) {
	data, err := os.ReadFile(filepath.Join(retailerDir, "runs", runID+".json"))
	if err != nil {
		return nil, err
	}
	var rec types.RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("corrupt run record %s: %w", runID, err)
	}
	return &rec, nil
}

// ListRuns reads every run record for a retailer, newest first.
// Unreadable records are skipped; a status listing should not fail
// because one historical file is corrupt.
func ListRuns(retailerDir string) ([]types.RunRecord, error) {
	entries, err := os.ReadDir(filepath.Join(retailerDir, "runs"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var runs []types.RunRecord
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		rec, err := LoadRecord(retailerDir, strings.TrimSuffix(de.Name(), ".json"))
		if err != nil {
			continue
		}
		runs = append(runs, *rec)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs, nil
}

// ReadLedger parses the run ledger, tolerating a truncated final line
// from a crash mid-append.
func ReadLedger(path string) ([]types.LedgerEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var entries []types.LedgerEntry
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var e types.LedgerEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			// Partial tail line; everything before it is intact.
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}
