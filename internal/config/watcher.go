package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ReloadFunc receives a validated replacement config and its difference from
// the previous one.
type ReloadFunc func(d ConfigDiff, cfg *Config)

// Watcher polls a config file and reloads it when its content changes. An
// invalid revision is logged and skipped; the last valid config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onReload ReloadFunc

	mu      sync.Mutex
	current *Config
	modTime time.Time
	sum     [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path once and returns a watcher for it. Polling starts
// with [Watcher.Run].
func NewWatcher(path string, onReload ReloadFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: 5 * time.Second, onReload: onReload}
	for _, o := range opts {
		o(w)
	}
	cfg, sum, mod, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current, w.sum, w.modTime = cfg, sum, mod
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls until ctx is done and returns ctx.Err().
func (w *Watcher) Run(ctx context.Context) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			w.Check()
		}
	}
}

// Check reloads the file if its modification time and content changed since
// the last successful load. It reports whether a new config was applied.
func (w *Watcher) Check() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config: stat watched file", "path", w.path, "err", err)
		return false
	}
	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.modTime)
	w.mu.Unlock()
	if unchanged {
		return false
	}

	cfg, sum, mod, err := w.read()
	if err != nil {
		slog.Warn("config: reload rejected; keeping previous config", "path", w.path, "err", err)
		return false
	}

	w.mu.Lock()
	if sum == w.sum {
		// Touched, same bytes.
		w.modTime = mod
		w.mu.Unlock()
		return false
	}
	prev := w.current
	w.current, w.sum, w.modTime = cfg, sum, mod
	w.mu.Unlock()

	d := Diff(prev, cfg)
	slog.Info("config: reloaded", "path", w.path, "log_level_changed", d.LogLevelChanged, "restart_required", d.RestartRequired)
	if w.onReload != nil {
		w.onReload(d, cfg)
	}
	return true
}

func (w *Watcher) read() (*Config, [sha256.Size]byte, time.Time, error) {
	var zero [sha256.Size]byte
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	return cfg, sha256.Sum256(data), info.ModTime(), nil
}
