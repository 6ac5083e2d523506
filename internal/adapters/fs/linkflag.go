package fs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/tagcam/internal/ports"
)

// StaticLink is a LinkStatus that never changes.
type StaticLink bool

// Up reports the fixed link state.
func (s StaticLink) Up() bool { return bool(s) }

// LinkFlag implements ports.LinkStatus from a flag file maintained by the
// network manager (for example a dispatcher hook writing "up" or "down").
// A missing file, or one containing "down", "0" or "false", means the
// link is down; any other content means up.
type LinkFlag struct {
	path   string
	logger ports.Logger
	up     atomic.Bool

	mu        sync.Mutex
	listeners []func(up bool)
}

// NewLinkFlag creates a link flag reading path. The current state is read
// immediately.
func NewLinkFlag(path string, logger ports.Logger) *LinkFlag {
	l := &LinkFlag{path: path, logger: logger}
	l.up.Store(readFlag(path))
	return l
}

// Up reports the last observed link state.
func (l *LinkFlag) Up() bool { return l.up.Load() }

// OnChange registers fn to be called after each state change.
func (l *LinkFlag) OnChange(fn func(up bool)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// SetLogger replaces the logger used for state changes.
func (l *LinkFlag) SetLogger(logger ports.Logger) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger = logger
}

// Path returns the flag file location.
func (l *LinkFlag) Path() string { return l.path }

// Refresh re-reads the flag file and notifies listeners on change.
func (l *LinkFlag) Refresh() {
	up := readFlag(l.path)
	if l.up.Swap(up) == up {
		return
	}

	l.mu.Lock()
	logger := l.logger
	listeners := append([]func(bool){}, l.listeners...)
	l.mu.Unlock()

	logger.Info("link state changed", ports.Bool("up", up), ports.String("flag", l.path))
	for _, fn := range listeners {
		fn(up)
	}
}

// Run watches the flag file's directory until ctx is canceled.
func (l *LinkFlag) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := watcher.Add(dir); err != nil {
		return err
	}
	// The file may have changed before the watch was in place.
	l.Refresh()

	name := filepath.Base(l.path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			l.Refresh()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.mu.Lock()
			logger := l.logger
			l.mu.Unlock()
			logger.Warn("link flag watcher error", ports.Err(err))
		}
	}
}

func readFlag(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(string(data))) {
	case "down", "0", "false":
		return false
	default:
		return true
	}
}
