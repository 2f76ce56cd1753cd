package runmgr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pithecene-io/prospect/iox"
	"github.com/pithecene-io/prospect/log"
	"github.com/pithecene-io/prospect/types"
)

// Alive probes a PID with signal 0. EPERM means the process exists but
// belongs to another user, which still counts as alive.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}

// Spawner runs harvests as child processes of the serve daemon, which
// isolates a crashing retailer run from the daemon itself. Its Run
// method satisfies RunFunc.
type Spawner struct {
	// Binary is the prospect executable, usually os.Executable().
	Binary string
	// ConfigPath is forwarded as --config.
	ConfigPath string
	// StopGrace is how long a canceled child gets between SIGTERM and
	// SIGKILL.
	StopGrace time.Duration
}

// Run spawns `prospect run` for one retailer and waits for it.
// Cancellation sends SIGTERM so the child saves its checkpoint; the
// grace deadline falls back to SIGKILL.
func (s *Spawner) Run(ctx context.Context, retailer, runID string, opts types.RunOptions) error {
	args := []string{"run", "--retailer", retailer, "--run-id", runID}
	if s.ConfigPath != "" {
		args = append(args, "--config", s.ConfigPath)
	}
	if opts.Resume {
		args = append(args, "--resume")
	}
	if opts.Incremental {
		args = append(args, "--incremental")
	}
	if opts.Test {
		args = append(args, "--test")
	}
	if opts.Limit > 0 {
		args = append(args, "--limit", strconv.Itoa(opts.Limit))
	}
	if opts.ProxyMode != "" {
		args = append(args, "--proxy", string(opts.ProxyMode))
	}
	if opts.RenderJS {
		args = append(args, "--render-js")
	}
	if opts.ProxyCountry != "" {
		args = append(args, "--proxy-country", opts.ProxyCountry)
	}

	grace := s.StopGrace
	if grace <= 0 {
		grace = 30 * time.Second
	}

	cmd := exec.CommandContext(ctx, s.Binary, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = grace

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("run subprocess for %s: %w", retailer, err)
	}
	return nil
}

// RecoverStale scans every retailer's run records for status=running
// entries whose owning process is gone and marks them failed. Called
// once at daemon startup, before any run starts, so a previous crash
// never blocks new runs or lies in status output.
func RecoverStale(dataDir string, logger *log.Logger) (int, error) {
	retailers, err := os.ReadDir(dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	recovered := 0
	for _, rd := range retailers {
		if !rd.IsDir() || strings.HasPrefix(rd.Name(), ".") {
			continue
		}
		runsDir := filepath.Join(dataDir, rd.Name(), "runs")
		records, err := os.ReadDir(runsDir)
		if err != nil {
			continue
		}
		for _, de := range records {
			if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
				continue
			}
			path := filepath.Join(runsDir, de.Name())
			if markStaleFailed(path) {
				logger.Warn("recovered stale run record", map[string]any{
					"retailer": rd.Name(),
					"record":   de.Name(),
				})
				recovered++
			}
		}
	}
	return recovered, nil
}

// markStaleFailed rewrites one record as failed when it claims to be
// running but its process is dead. Returns whether a rewrite happened.
func markStaleFailed(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var rec types.RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return false
	}
	if rec.Status != types.StatusRunning {
		return false
	}
	if rec.PID > 0 && Alive(rec.PID) {
		return false
	}

	now := time.Now().UTC()
	rec.Status = types.StatusFailed
	rec.CompletedAt = &now
	rec.Errors = append(rec.Errors, types.RunError{
		Timestamp: now,
		Message:   "process exited without a terminal transition",
	})

	out, err := json.MarshalIndent(&rec, "", "  ")
	if err != nil {
		return false
	}
	return iox.WriteFileAtomic(path, out, 0o644) == nil
}
