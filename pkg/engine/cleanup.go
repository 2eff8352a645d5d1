package engine

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// CleanupManager tracks temporary files and directories created mid-step so
// an interrupted or aborted run can remove them. Steps register paths before
// creating them and forget them once the work completed; the scheduler
// sweeps whatever is left when a run is cancelled or aborted.
type CleanupManager struct {
	mu    sync.Mutex
	items []cleanupItem
}

type cleanupItem struct {
	path string
	desc string
}

// NewCleanupManager creates an empty manager.
func NewCleanupManager() *CleanupManager {
	return &CleanupManager{}
}

// Register records a path to remove if the run is interrupted.
func (c *CleanupManager) Register(path, desc string) {
	if path == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, cleanupItem{path: path, desc: desc})
}

// Forget drops a previously registered path, typically after the step that
// created it finished successfully.
func (c *CleanupManager) Forget(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.items[:0]
	for _, it := range c.items {
		if it.path != path {
			kept = append(kept, it)
		}
	}
	c.items = kept
}

// Pending returns the number of registered paths.
func (c *CleanupManager) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Sweep removes every registered path and clears the list. Failures are
// logged and do not stop the sweep.
func (c *CleanupManager) Sweep(log zerolog.Logger) {
	c.mu.Lock()
	items := c.items
	c.items = nil
	c.mu.Unlock()

	for _, it := range items {
		if _, err := os.Stat(it.path); os.IsNotExist(err) {
			continue
		}
		if err := os.RemoveAll(it.path); err != nil {
			log.Warn().Str("path", it.path).Str("desc", it.desc).Err(err).
				Msg("could not remove temporary path")
			continue
		}
		log.Info().Str("path", it.path).Str("desc", it.desc).
			Msg("removed temporary path")
	}
}
