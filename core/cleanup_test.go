package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestSweepRemovesOnlyStaleDirs(t *testing.T) {
	root := t.TempDir()

	stale := filepath.Join(root, "job-stale")
	fresh := filepath.Join(root, "job-fresh")
	for _, dir := range []string{stale, fresh} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "chunk_000.mp3"), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatal(err)
	}

	cm := NewCleanupManager(root, time.Hour, time.Minute, zerolog.Nop())
	cm.Sweep()

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale job dir should have been removed")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Errorf("fresh job dir should survive the sweep: %v", err)
	}
}

func TestSweepToleratesMissingRoot(t *testing.T) {
	cm := NewCleanupManager(filepath.Join(t.TempDir(), "missing"), time.Hour, time.Minute, zerolog.Nop())
	cm.Sweep()
}

func TestCloseIsIdempotent(t *testing.T) {
	cm := NewCleanupManager(t.TempDir(), time.Hour, time.Minute, zerolog.Nop())
	cm.Start()
	cm.Close()
	cm.Close()
}
