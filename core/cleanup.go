package core

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// CleanupManager removes abandoned job directories. Jobs normally delete
// their own workdir on completion; the sweeper catches the ones that died
// mid-flight or lost their client.
type CleanupManager struct {
	root     string
	maxAge   time.Duration
	interval time.Duration
	log      zerolog.Logger

	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

func NewCleanupManager(root string, maxAge, interval time.Duration, log zerolog.Logger) *CleanupManager {
	return &CleanupManager{
		root:     root,
		maxAge:   maxAge,
		interval: interval,
		log:      log.With().Str("component", "cleanup").Logger(),
		done:     make(chan struct{}),
	}
}

// Start launches the periodic sweep. Safe to call once.
func (cm *CleanupManager) Start() {
	cm.ticker = time.NewTicker(cm.interval)
	go func() {
		for {
			select {
			case <-cm.ticker.C:
				cm.Sweep()
			case <-cm.done:
				return
			}
		}
	}()
}

// Sweep removes job directories whose last modification is older than maxAge.
func (cm *CleanupManager) Sweep() {
	entries, err := os.ReadDir(cm.root)
	if err != nil {
		if !os.IsNotExist(err) {
			cm.log.Warn().Err(err).Str("dir", cm.root).Msg("sweep: cannot read jobs dir")
		}
		return
	}

	cutoff := time.Now().Add(-cm.maxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		dir := filepath.Join(cm.root, entry.Name())
		if err := os.RemoveAll(dir); err != nil && !os.IsNotExist(err) {
			cm.log.Warn().Err(err).Str("dir", dir).Msg("sweep: remove failed")
			continue
		}
		removed++
	}
	if removed > 0 {
		cm.log.Info().Int("removed", removed).Msg("swept stale job dirs")
	}
}

// Close stops the sweeper. Safe to call multiple times.
func (cm *CleanupManager) Close() {
	cm.once.Do(func() {
		if cm.ticker != nil {
			cm.ticker.Stop()
		}
		close(cm.done)
	})
}
