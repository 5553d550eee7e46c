package heartbeat

import (
	"context"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/parishlabs/parish/internal/town"
)

const (
	watchDebounce       = 200 * time.Millisecond
	defaultPollInterval = 10 * time.Second
)

// Watcher invokes a callback whenever any heartbeat file is written.
// It prefers fsnotify on the heartbeats directory and falls back to
// polling when inotify is unavailable (network filesystems, fd limits).
type Watcher struct {
	dir          string
	onChange     func(session string)
	logger       *log.Logger
	pollInterval time.Duration

	mu            sync.Mutex
	debounceTimer map[string]*time.Timer
	watcher       *fsnotify.Watcher
	useFsnotify   bool
	stopCh        chan struct{}
	doneCh        chan struct{}
}

// WatcherOption configures the watcher.
type WatcherOption func(*Watcher)

// WithPollInterval sets the fallback poll interval (default 10s).
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.pollInterval = d }
}

// NewWatcher creates a watcher over <root>/heartbeats. onChange receives the
// session name whose heartbeat changed; in poll mode it receives "" once per
// interval and the caller rescans.
func NewWatcher(root string, onChange func(session string), logger *log.Logger, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		dir:           town.HeartbeatsDir(root),
		onChange:      onChange,
		logger:        logger,
		pollInterval:  defaultPollInterval,
		debounceTimer: make(map[string]*time.Timer),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Start runs the watcher until ctx is cancelled or Stop is called.
// If fsnotify fails to initialize, falls back to poll-only mode.
func (w *Watcher) Start(ctx context.Context) {
	defer close(w.doneCh)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Printf("heartbeat watcher: fsnotify init failed (%v), using poll-only", err)
	} else {
		w.watcher = watcher
		w.useFsnotify = true
		if err := watcher.Add(w.dir); err != nil {
			w.logger.Printf("heartbeat watcher: watch %s failed (%v), using poll-only", w.dir, err)
			_ = watcher.Close()
			w.watcher = nil
			w.useFsnotify = false
		}
	}

	if w.useFsnotify {
		defer w.watcher.Close()
		go w.watchLoop(ctx)
	}

	w.pollLoop(ctx)
}

// Stop signals the watcher to stop and waits for Start to return.
func (w *Watcher) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

func (w *Watcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Ext(event.Name) != ".json" {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			name := filepath.Base(event.Name)
			session := name[:len(name)-len(".json")]
			w.triggerDebounced(session)
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// triggerDebounced collapses the temp-write-then-rename burst each atomic
// heartbeat update produces into one callback per session.
func (w *Watcher) triggerDebounced(session string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.debounceTimer[session]; ok {
		t.Stop()
	}
	w.debounceTimer[session] = time.AfterFunc(watchDebounce, func() {
		w.onChange(session)
	})
}

func (w *Watcher) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if !w.useFsnotify {
				w.onChange("")
			}
		}
	}
}
