package importer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchConfig configures the importer's watch mode.
type WatchConfig struct {
	// DebounceInterval is how long the corpus must be quiet before an
	// incremental import run is triggered. Batches rapid editor saves
	// together.
	DebounceInterval time.Duration

	// PollInterval is how often the pending-change state is checked.
	PollInterval time.Duration
}

// DefaultWatchConfig returns sensible defaults.
func DefaultWatchConfig() WatchConfig {
	return WatchConfig{
		DebounceInterval: 500 * time.Millisecond,
		PollInterval:     200 * time.Millisecond,
	}
}

// Watch runs incremental import passes whenever the corpus tree changes.
//
// The whole corpus directory tree is watched; any create/write/remove/
// rename event marks the corpus dirty, and after DebounceInterval of quiet
// an incremental Run is performed. Newly created directories are added to
// the watch set.
//
// Blocks until ctx is cancelled. Import failures inside the loop are
// logged, not fatal.
func (imp *Importer) Watch(ctx context.Context, config WatchConfig) error {
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultWatchConfig().DebounceInterval
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultWatchConfig().PollInterval
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := addTree(watcher, imp.corpusDir); err != nil {
		return fmt.Errorf("failed to watch corpus: %w", err)
	}

	imp.logger.Printf("Watching %s for changes", imp.corpusDir)

	var (
		mu      sync.Mutex
		dirtyAt time.Time
	)

	markDirty := func() {
		mu.Lock()
		dirtyAt = time.Now()
		mu.Unlock()
	}

	ticker := time.NewTicker(config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			imp.logger.Println("Watch stopped")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			// New directories need watching too (new translations/books).
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := addTree(watcher, event.Name); err != nil {
						imp.logger.Printf("Failed to watch new directory %s: %v", event.Name, err)
					}
				}
			}

			imp.logger.Printf("File event: %s %s", event.Op, event.Name)
			markDirty()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			imp.logger.Printf("Watcher error: %v", err)

		case <-ticker.C:
			mu.Lock()
			pending := !dirtyAt.IsZero() && time.Since(dirtyAt) >= config.DebounceInterval
			if pending {
				dirtyAt = time.Time{}
			}
			mu.Unlock()

			if pending {
				if _, err := imp.Run(ctx, false); err != nil {
					imp.logger.Printf("Watch import failed: %v", err)
				}
			}
		}
	}
}

// addTree adds a directory and all its subdirectories to the watcher.
func addTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return watcher.Add(path)
	})
}
