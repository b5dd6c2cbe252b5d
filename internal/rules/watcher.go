package rules

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// defaultDebounce coalesces the burst of events editors emit on save.
const defaultDebounce = 250 * time.Millisecond

// Watcher reloads a rules file into an Adapter whenever it changes.
type Watcher struct {
	log      zerolog.Logger
	adapter  *Adapter
	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	doneCh   chan struct{}
	path     string
	debounce time.Duration
	mu       sync.Mutex
	running  bool
	reloads  int
	failures int
}

// NewWatcher creates a watcher for path. The parent directory is watched
// so atomic replace-on-save is seen.
func NewWatcher(path string, adapter *Adapter, log zerolog.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve rules path: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{
		log:      log.With().Str("component", "rules-watcher").Logger(),
		adapter:  adapter,
		watcher:  fw,
		path:     abs,
		debounce: defaultDebounce,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start runs the watch loop until ctx is cancelled or Stop is called.
// This should be called in a goroutine.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		w.watcher.Close()
		close(w.doneCh)
	}()

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("rules watcher shutting down due to context cancellation")
			return
		case <-w.stopCh:
			w.log.Info().Msg("rules watcher stopping")
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("file watcher error")
		case <-fire:
			fire = nil
			w.Reload()
		}
	}
}

// Stop stops the watch loop and waits for it to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		w.watcher.Close()
		return
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
}

// Reload reads the file and applies it. A file whose version is already
// current is ignored.
func (w *Watcher) Reload() bool {
	rs, err := LoadFile(w.path)
	if err != nil {
		w.countFailure()
		w.log.Warn().Err(err).Str("path", w.path).Msg("failed to load rules file")
		return false
	}
	if rs.Version == w.adapter.Current().Version {
		return false
	}
	if !w.adapter.UpdateRules(rs) {
		w.countFailure()
		return false
	}

	w.mu.Lock()
	w.reloads++
	w.mu.Unlock()
	w.log.Info().Str("path", w.path).Str("version", rs.Version).Msg("reloaded rules file")
	return true
}

func (w *Watcher) countFailure() {
	w.mu.Lock()
	w.failures++
	w.mu.Unlock()
}

// WatcherStats reports the watcher's activity.
type WatcherStats struct {
	Path     string `json:"path"`
	Running  bool   `json:"running"`
	Reloads  int    `json:"reloads"`
	Failures int    `json:"failures"`
}

// Stats returns current watcher statistics.
func (w *Watcher) Stats() WatcherStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WatcherStats{Path: w.path, Running: w.running, Reloads: w.reloads, Failures: w.failures}
}
