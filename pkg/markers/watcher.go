package markers

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"geofollow/pkg/model"
)

// Watcher polls a marker file and reloads it when it changes.
type Watcher struct {
	path     string
	interval time.Duration
	load     func(string) ([]model.Marker, error)

	mu       sync.Mutex
	lastMod  time.Time
	lastSize int64
}

// NewWatcher creates a watcher for path. The current file state is not
// recorded, so the first check after creation reports a change.
func NewWatcher(path string, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Watcher{
		path:     path,
		interval: interval,
		load:     Load,
	}
}

// Path returns the watched file.
func (w *Watcher) Path() string {
	return w.path
}

// CheckNew reports whether the file's modification time or size changed since
// the last successful check. A missing file is not a change.
func (w *Watcher) CheckNew() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	info, err := os.Stat(w.path)
	if err != nil {
		return false
	}
	if info.ModTime().Equal(w.lastMod) && info.Size() == w.lastSize {
		return false
	}
	w.lastMod = info.ModTime()
	w.lastSize = info.Size()
	return true
}

// Run polls until ctx is done. onChange receives every successfully loaded
// version of the file; load errors are logged and the previous version stays.
func (w *Watcher) Run(ctx context.Context, onChange func([]model.Marker)) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.poll(onChange)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(onChange)
		}
	}
}

func (w *Watcher) poll(onChange func([]model.Marker)) {
	if !w.CheckNew() {
		return
	}
	ms, err := w.load(w.path)
	if err != nil {
		slog.Warn("Watcher: Failed to reload markers", "path", w.path, "error", err)
		return
	}
	slog.Info("Watcher: Marker file changed", "path", w.path, "count", len(ms))
	onChange(ms)
}
