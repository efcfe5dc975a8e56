package control

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Signal file names recognized under <repo>/.hive/signals/.
const (
	SignalPause  = "pause"
	SignalResume = "resume"
	SignalStop   = "stop"
)

const pollFallbackInterval = 2 * time.Second

// HiveDir returns the control directory for a repo.
func HiveDir(repoPath string) string {
	return filepath.Join(repoPath, ".hive")
}

// SignalWatcher turns files dropped into .hive/signals/ into callbacks
// on the running daemon, so an operator can pause or stop a session
// without the HTTP API. fsnotify delivers signals immediately; a slow
// poll covers filesystems that miss events.
type SignalWatcher struct {
	signalsDir string

	onPause  func()
	onResume func()
	onStop   func()

	mu     sync.Mutex
	paused bool
}

// SignalOption configures a SignalWatcher.
type SignalOption func(*SignalWatcher)

// OnPause sets the callback for a pause signal.
func OnPause(fn func()) SignalOption {
	return func(w *SignalWatcher) { w.onPause = fn }
}

// OnResume sets the callback for a resume signal.
func OnResume(fn func()) SignalOption {
	return func(w *SignalWatcher) { w.onResume = fn }
}

// OnStop sets the callback for a stop signal.
func OnStop(fn func()) SignalOption {
	return func(w *SignalWatcher) { w.onStop = fn }
}

// NewSignalWatcher creates the signals directory and a watcher over it.
func NewSignalWatcher(repoPath string, opts ...SignalOption) (*SignalWatcher, error) {
	signalsDir := filepath.Join(HiveDir(repoPath), "signals")
	if err := os.MkdirAll(signalsDir, 0755); err != nil {
		return nil, err
	}
	w := &SignalWatcher{signalsDir: signalsDir}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// SignalsDir returns the watched directory.
func (w *SignalWatcher) SignalsDir() string {
	return w.signalsDir
}

// Run watches the signals directory until the context is cancelled.
// When fsnotify cannot watch the directory the poll alone carries the
// signals.
func (w *SignalWatcher) Run(ctx context.Context) error {
	var events chan fsnotify.Event
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if err := watcher.Add(w.signalsDir); err == nil {
			events = make(chan fsnotify.Event)
			go func() {
				defer close(events)
				for {
					select {
					case ev, ok := <-watcher.Events:
						if !ok {
							return
						}
						select {
						case events <- ev:
						case <-ctx.Done():
							return
						}
					case <-watcher.Errors:
					case <-ctx.Done():
						return
					}
				}
			}()
		}
		defer watcher.Close()
	}

	// Catch signals dropped before the watcher started.
	w.sweep()

	poll := time.NewTicker(pollFallbackInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-events:
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.apply(filepath.Base(ev.Name))
			}
		case <-poll.C:
			w.sweep()
		}
	}
}

// sweep checks for signal files the watcher may have missed.
func (w *SignalWatcher) sweep() {
	for _, name := range []string{SignalStop, SignalResume, SignalPause} {
		if _, err := os.Stat(filepath.Join(w.signalsDir, name)); err == nil {
			w.apply(name)
		}
	}
}

// apply fires the callback for one signal and consumes the file.
// Pause and resume are idempotent; repeated files are ignored.
func (w *SignalWatcher) apply(name string) {
	w.mu.Lock()
	var fire func()
	switch name {
	case SignalPause:
		if !w.paused {
			w.paused = true
			fire = w.onPause
		}
	case SignalResume:
		if w.paused {
			w.paused = false
			fire = w.onResume
		}
	case SignalStop:
		fire = w.onStop
	default:
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	os.Remove(filepath.Join(w.signalsDir, name))
	if fire != nil {
		fire()
	}
}

// Paused reports whether the last applied signal left the session
// paused.
func (w *SignalWatcher) Paused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.paused
}

// Send drops a signal file for a running daemon to pick up.
func Send(repoPath, name string) error {
	signalsDir := filepath.Join(HiveDir(repoPath), "signals")
	if err := os.MkdirAll(signalsDir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(signalsDir, name), []byte(time.Now().Format(time.RFC3339)), 0644)
}

// ClearSignals removes any pending signal files.
func ClearSignals(repoPath string) {
	signalsDir := filepath.Join(HiveDir(repoPath), "signals")
	for _, name := range []string{SignalPause, SignalResume, SignalStop} {
		os.Remove(filepath.Join(signalsDir, name))
	}
}
