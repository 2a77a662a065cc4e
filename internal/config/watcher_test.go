package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/veritas/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
source:
  video_dir: /tmp/frames
providers:
  detector:
    name: mock
  fusion:
    name: rule-based
  report:
    name: json-file
    options:
      dir: /tmp/reports
`

const watcherUpdatedYAML = `
server:
  log_level: debug
source:
  video_dir: /tmp/frames
providers:
  detector:
    name: mock
  fusion:
    name: rule-based
  report:
    name: json-file
    options:
      dir: /tmp/reports
fusion:
  interval: 2s
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

// rewrite replaces the file content and bumps its mtime so the change is
// visible regardless of filesystem timestamp granularity.
func rewrite(t *testing.T, path, content string, bump time.Duration) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
	touch(t, path, bump)
}

func touch(t *testing.T, path string, bump time.Duration) {
	t.Helper()
	at := time.Now().Add(bump)
	if err := os.Chtimes(path, at, at); err != nil {
		t.Fatalf("touch %q: %v", path, err)
	}
}

type reload struct {
	diff config.ConfigDiff
	cfg  *config.Config
}

func newWatcher(t *testing.T, content string, opts ...config.WatcherOption) (string, *config.Watcher, *[]reload) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "veritas.yaml")
	rewrite(t, path, content, 0)
	var got []reload
	w, err := config.NewWatcher(path, func(d config.ConfigDiff, cfg *config.Config) {
		got = append(got, reload{d, cfg})
	}, opts...)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	return path, w, &got
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	_, w, got := newWatcher(t, watcherValidYAML)

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
	if w.Check() || len(*got) != 0 {
		t.Error("unchanged file must not reload")
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher("/nonexistent/path.yaml", nil); err == nil {
		t.Fatal("expected error for non-existent file, got nil")
	}
}

func TestWatcher_Check(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		apply      func(t *testing.T, path string)
		wantReload bool
		wantLevel  config.LogLevel
	}{
		{
			name:       "content change",
			apply:      func(t *testing.T, p string) { rewrite(t, p, watcherUpdatedYAML, 2*time.Second) },
			wantReload: true,
			wantLevel:  config.LogDebug,
		},
		{
			name:      "invalid revision keeps previous",
			apply:     func(t *testing.T, p string) { rewrite(t, p, watcherInvalidYAML, 2*time.Second) },
			wantLevel: config.LogInfo,
		},
		{
			name:      "touch without content change",
			apply:     func(t *testing.T, p string) { touch(t, p, 2*time.Second) },
			wantLevel: config.LogInfo,
		},
		{
			name: "deleted file",
			apply: func(t *testing.T, p string) {
				if err := os.Remove(p); err != nil {
					t.Fatal(err)
				}
			},
			wantLevel: config.LogInfo,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path, w, got := newWatcher(t, watcherValidYAML)
			tt.apply(t, path)

			if reloaded := w.Check(); reloaded != tt.wantReload {
				t.Errorf("Check() = %v, want %v", reloaded, tt.wantReload)
			}
			if n := len(*got); (n == 1) != tt.wantReload {
				t.Errorf("callback calls = %d", n)
			}
			if lvl := w.Current().Server.LogLevel; lvl != tt.wantLevel {
				t.Errorf("Current() log_level = %q, want %q", lvl, tt.wantLevel)
			}
		})
	}
}

func TestWatcher_ReloadCarriesDiff(t *testing.T) {
	t.Parallel()
	path, w, got := newWatcher(t, watcherValidYAML)
	rewrite(t, path, watcherUpdatedYAML, 2*time.Second)
	if !w.Check() {
		t.Fatal("expected reload")
	}

	r := (*got)[0]
	if !r.diff.LogLevelChanged || r.diff.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %+v", r.diff)
	}
	if len(r.diff.RestartRequired) != 1 || r.diff.RestartRequired[0] != "fusion" {
		t.Errorf("RestartRequired = %v, want [fusion]", r.diff.RestartRequired)
	}
	if r.cfg.Fusion.Interval != 2*time.Second || r.cfg != w.Current() {
		t.Error("callback config does not match Current()")
	}
}

func TestWatcher_Run(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "veritas.yaml")
	rewrite(t, path, watcherValidYAML, 0)

	reloaded := make(chan config.ConfigDiff, 1)
	w, err := config.NewWatcher(path, func(d config.ConfigDiff, _ *config.Config) {
		select {
		case reloaded <- d:
		default:
		}
	}, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	rewrite(t, path, watcherUpdatedYAML, 2*time.Second)
	select {
	case d := <-reloaded:
		if !d.LogLevelChanged {
			t.Errorf("diff = %+v", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reload was not observed")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
