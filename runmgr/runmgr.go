// Package runmgr supervises harvest runs: one live run per retailer,
// cooperative stop with a force deadline, and recovery of stale
// metadata left behind by killed processes.
package runmgr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pithecene-io/prospect/log"
	"github.com/pithecene-io/prospect/types"
)

var (
	// ErrAlreadyRunning rejects a start while a live run exists for the
	// retailer.
	ErrAlreadyRunning = errors.New("a run is already active for this retailer")
	// ErrNotRunning rejects stop/restart when no live run exists.
	ErrNotRunning = errors.New("no active run for this retailer")
)

// RunFunc executes one retailer harvest to completion. The manager
// cancels ctx to request a cooperative stop.
type RunFunc func(ctx context.Context, retailer string, runID string, opts types.RunOptions) error

// ActiveStatus is one live run as seen by Status().
type ActiveStatus struct {
	Retailer  string           `json:"retailer"`
	RunID     string           `json:"run_id"`
	StartedAt time.Time        `json:"started_at"`
	Options   types.RunOptions `json:"options"`
}

type activeRun struct {
	runID     string
	opts      types.RunOptions
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}
	err       error
}

func (a *activeRun) exited() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

// Manager tracks live runs in a registry guarded by a single mutex.
// Methods suffixed Locked require the caller to hold mu.
type Manager struct {
	mu     sync.Mutex
	active map[string]*activeRun

	run    RunFunc
	logger *log.Logger
	now    func() time.Time
}

// New creates a manager dispatching runs through run.
func New(run RunFunc, logger *log.Logger) *Manager {
	return &Manager{
		active: map[string]*activeRun{},
		run:    run,
		logger: logger,
		now:    time.Now,
	}
}

// Start launches a run for the retailer. A live run is a conflict; a
// registry entry whose task already exited is stale and is replaced, so
// a crashed run never wedges its retailer.
func (m *Manager) Start(retailer string, opts types.RunOptions) (string, error) {
	if err := opts.Validate(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing := m.active[retailer]; existing != nil {
		if !existing.exited() {
			return "", fmt.Errorf("%w (run %s)", ErrAlreadyRunning, existing.runID)
		}
		m.reapLocked(retailer, existing)
	}

	runID := types.NewRunID(retailer, m.now())
	ctx, cancel := context.WithCancel(context.Background())
	ar := &activeRun{
		runID:     runID,
		opts:      opts,
		startedAt: m.now().UTC(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	m.active[retailer] = ar

	go m.supervise(ctx, retailer, ar)
	return runID, nil
}

// supervise runs the task and records its outcome.
func (m *Manager) supervise(ctx context.Context, retailer string, ar *activeRun) {
	err := m.run(ctx, retailer, ar.runID, ar.opts)
	ar.err = err
	close(ar.done)

	if err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Error("run failed", map[string]any{
			"retailer": retailer,
			"run_id":   ar.runID,
			"error":    err.Error(),
		})
		return
	}
	m.logger.Info("run finished", map[string]any{
		"retailer": retailer,
		"run_id":   ar.runID,
	})
}

// reapLocked drops an exited entry from the registry.
func (m *Manager) reapLocked(retailer string, ar *activeRun) {
	if m.active[retailer] == ar {
		delete(m.active, retailer)
	}
}

// Stop requests a cooperative stop and waits up to timeout for the run
// to exit. A run that ignores cancellation past the deadline is
// abandoned in the registry as exited-pending and reported as an error.
func (m *Manager) Stop(retailer string, timeout time.Duration) error {
	m.mu.Lock()
	ar := m.active[retailer]
	m.mu.Unlock()

	if ar == nil || ar.exited() {
		return ErrNotRunning
	}

	ar.cancel()
	select {
	case <-ar.done:
	case <-time.After(timeout):
		return fmt.Errorf("run %s did not stop within %s", ar.runID, timeout)
	}

	m.mu.Lock()
	m.reapLocked(retailer, ar)
	m.mu.Unlock()
	return nil
}

// Restart stops the live run and starts a new one with resume enabled
// so the checkpoint written during the stop is picked up. A non-empty
// proxy overrides the transport mode of the new run.
func (m *Manager) Restart(retailer string, timeout time.Duration, proxy types.ProxyMode) (string, error) {
	err := m.Stop(retailer, timeout)
	if err != nil && !errors.Is(err, ErrNotRunning) {
		return "", err
	}

	m.mu.Lock()
	var opts types.RunOptions
	if ar := m.active[retailer]; ar != nil {
		opts = ar.opts
		m.reapLocked(retailer, ar)
	}
	m.mu.Unlock()

	opts.Resume = true
	if proxy != "" {
		opts.ProxyMode = proxy
	}
	return m.Start(retailer, opts)
}

// Status lists live runs.
func (m *Manager) Status() []ActiveStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []ActiveStatus
	for retailer, ar := range m.active {
		if ar.exited() {
			continue
		}
		out = append(out, ActiveStatus{
			Retailer:  retailer,
			RunID:     ar.runID,
			StartedAt: ar.startedAt,
			Options:   ar.opts,
		})
	}
	return out
}

// Running reports whether the retailer has a live run.
func (m *Manager) Running(retailer string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ar := m.active[retailer]
	return ar != nil && !ar.exited()
}

// CleanupExited sweeps exited entries out of the registry and returns
// how many were removed.
func (m *Manager) CleanupExited() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for retailer, ar := range m.active {
		if ar.exited() {
			delete(m.active, retailer)
			removed++
		}
	}
	return removed
}

// StopAll cancels every live run and waits up to timeout for each.
// Used on daemon shutdown.
func (m *Manager) StopAll(timeout time.Duration) {
	m.mu.Lock()
	retailers := make([]string, 0, len(m.active))
	for retailer := range m.active {
		retailers = append(retailers, retailer)
	}
	m.mu.Unlock()

	for _, retailer := range retailers {
		if err := m.Stop(retailer, timeout); err != nil && !errors.Is(err, ErrNotRunning) {
			m.logger.Warn("shutdown stop failed", map[string]any{
				"retailer": retailer,
				"error":    err.Error(),
			})
		}
	}
}
