package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pithecene-io/prospect/types"
)

func TestSaveLoad_RoundTrip(t *testing.T) {
	s := NewStore(t.TempDir())

	cp := &Checkpoint{
		Completed: []string{"https://example.com/stores/1", "https://example.com/stores/2"},
		Stores: []types.Store{{
			StoreID:       "1",
			Name:          "Store One",
			StreetAddress: "1 Main St",
			City:          "Austin",
			State:         "TX",
			ScrapedAt:     time.Now().UTC(),
		}},
		SitemapIndex: 3,
	}
	if err := s.Save(cp); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil {
		t.Fatal("expected checkpoint, got nil")
	}
	if len(got.Completed) != 2 || len(got.Stores) != 1 || got.SitemapIndex != 3 {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.LastUpdated.IsZero() {
		t.Error("LastUpdated not stamped")
	}
}

func TestLoad_NoCheckpoint(t *testing.T) {
	s := NewStore(t.TempDir())
	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != nil {
		t.Error("expected nil checkpoint when none exists")
	}
}

func TestLoad_CorruptFileIsError(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	path := filepath.Join(dir, "checkpoints", "progress.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	// Simulates a partial write that bypassed the atomic path.
	if err := os.WriteFile(path, []byte(`{"completed": ["a",`), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Load(); err == nil {
		t.Error("corrupt checkpoint should surface an error")
	}
}

func TestSave_ReplacesAtomically(t *testing.T) {
	s := NewStore(t.TempDir())

	if err := s.Save(&Checkpoint{Completed: []string{"a"}}); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if err := s.Save(&Checkpoint{Completed: []string{"a", "b"}}); err != nil {
		t.Fatalf("second save: %v", err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Completed) != 2 {
		t.Errorf("expected replaced checkpoint, got %v", got.Completed)
	}
}

func TestDelete(t *testing.T) {
	s := NewStore(t.TempDir())
	_ = s.Save(&Checkpoint{})

	if !s.Exists() {
		t.Fatal("checkpoint should exist after save")
	}
	if err := s.Delete(); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if s.Exists() {
		t.Error("checkpoint should be gone after delete")
	}
	// Second delete is not an error.
	if err := s.Delete(); err != nil {
		t.Errorf("idempotent delete failed: %v", err)
	}
}

func TestCompletedSet(t *testing.T) {
	cp := &Checkpoint{Completed: []string{"a", "b", "a"}}
	set := cp.CompletedSet()
	if len(set) != 2 {
		t.Errorf("set size = %d, want 2", len(set))
	}
	if _, ok := set["b"]; !ok {
		t.Error("set missing member")
	}
}
