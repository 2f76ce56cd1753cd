// Package checkpoint persists per-retailer resume state. Writes go
// through a temp-file + rename so a crash mid-write never leaves a
// partial JSON at the target path: load either returns the previous
// valid contents or reports no checkpoint.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pithecene-io/prospect/iox"
	"github.com/pithecene-io/prospect/types"
)

// Checkpoint is the resume state for one retailer run.
type Checkpoint struct {
	// Completed is the set of finished identifiers (URL or store_id).
	Completed []string `json:"completed"`
	// Stores are the partially collected records.
	Stores []types.Store `json:"stores"`
	// CrawlState carries html_crawl's per-phase URL lists so each phase
	// is independently resumable.
	CrawlState map[string][]string `json:"crawl_state,omitempty"`
	// SitemapIndex is the next child index for paginated sitemaps.
	SitemapIndex int `json:"sitemap_index,omitempty"`
	// LastUpdated is the write timestamp.
	LastUpdated time.Time `json:"last_updated"`
}

// CompletedSet returns the completed identifiers as a set.
func (c *Checkpoint) CompletedSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.Completed))
	for _, id := range c.Completed {
		set[id] = struct{}{}
	}
	return set
}

// Store reads and writes one retailer's checkpoint file.
type Store struct {
	path string
}

// NewStore creates a checkpoint store for the given retailer data dir.
// The file lives at {dir}/checkpoints/progress.json.
func NewStore(retailerDir string) *Store {
	return &Store{path: filepath.Join(retailerDir, "checkpoints", "progress.json")}
}

// Save writes the checkpoint atomically, stamping LastUpdated.
func (s *Store) Save(cp *Checkpoint) error {
	cp.LastUpdated = time.Now().UTC()
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	return iox.WriteFileAtomic(s.path, data, 0o644)
}

// Load reads the checkpoint. Returns (nil, nil) when no checkpoint
// exists; a corrupt file is an error so the caller can decide whether
// to start fresh.
func (s *Store) Load() (*Checkpoint, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("corrupt checkpoint at %s: %w", s.path, err)
	}
	return &cp, nil
}

// Delete removes the checkpoint file. Called only when a run completes
// successfully. Missing files are not an error.
func (s *Store) Delete() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Exists reports whether a checkpoint file is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}
