package permission

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// StoreWatcher reloads the permission store when its file is modified
// externally, so edits made by a UI or another process take effect
// without a restart. Events are debounced because editors and atomic
// renames produce bursts.
type StoreWatcher struct {
	store    *Store
	watcher  *fsnotify.Watcher
	debounce time.Duration
	timer    *time.Timer
	timerMu  sync.Mutex
	done     chan struct{}
	stopOnce sync.Once
}

// NewStoreWatcher creates a watcher for the store's directory
func NewStoreWatcher(store *Store, debounce time.Duration) (*StoreWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	if debounce == 0 {
		debounce = 100 * time.Millisecond
	}

	return &StoreWatcher{
		store:    store,
		watcher:  watcher,
		debounce: debounce,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. The store's parent directory is watched, not
// the file itself, because atomic saves replace the inode.
func (w *StoreWatcher) Start() error {
	dir := filepath.Dir(w.store.Path())
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	go w.loop()

	log.Debug().Str("dir", dir).Msg("Permission store watcher started")
	return nil
}

// Stop halts the watcher
func (w *StoreWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
}

func (w *StoreWatcher) loop() {
	target := filepath.Clean(w.store.Path())

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Permission store watcher error")
		}
	}
}

// scheduleReload debounces bursts of file events into one reload
func (w *StoreWatcher) scheduleReload() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}

	w.timer = time.AfterFunc(w.debounce, func() {
		if err := w.store.Reload(); err != nil {
			log.Warn().Err(err).Msg("Failed to reload permission state")
			return
		}
		log.Info().Str("path", w.store.Path()).Msg("Permission state reloaded")
	})
}
