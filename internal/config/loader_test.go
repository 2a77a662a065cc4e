package config_test

import (
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/veritas/internal/config"
)

const minimalYAML = `
source:
  video_dir: /data/frames
providers:
  fusion:
    name: rule-based
`

func TestValidate_Invalid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		yaml    string
		wantSub []string
	}{
		{
			name:    "log level",
			yaml:    minimalYAML + "server:\n  log_level: verbose\n",
			wantSub: []string{"server.log_level"},
		},
		{
			name:    "log format",
			yaml:    minimalYAML + "server:\n  log_format: xml\n",
			wantSub: []string{"server.log_format"},
		},
		{
			name:    "tls half configured",
			yaml:    minimalYAML + "server:\n  tls:\n    cert_file: a.pem\n",
			wantSub: []string{"server.tls"},
		},
		{
			name:    "missing fusion provider",
			yaml:    "source:\n  video_dir: /data/frames\n",
			wantSub: []string{"providers.fusion.name"},
		},
		{
			name:    "empty source",
			yaml:    "providers:\n  fusion:\n    name: rule-based\n",
			wantSub: []string{"video_dir, audio_path"},
		},
		{
			name:    "unknown source kind",
			yaml:    "source:\n  kind: camera\n  video_dir: /d\nproviders:\n  fusion:\n    name: rule-based\n",
			wantSub: []string{"source.kind"},
		},
		{
			name:    "audio without ingest url",
			yaml:    "source:\n  audio_path: a.wav\nproviders:\n  fusion:\n    name: rule-based\n",
			wantSub: []string{"ingest.url"},
		},
		{
			name:    "silence threshold",
			yaml:    minimalYAML + "ingest:\n  silence_threshold: 1.5\n",
			wantSub: []string{"ingest.silence_threshold"},
		},
		{
			name:    "negative counts",
			yaml:    minimalYAML + "ingest:\n  max_attempts: -1\nfusion:\n  timeline_capacity: -4\n",
			wantSub: []string{"ingest.max_attempts", "fusion.timeline_capacity"},
		},
		{
			name:    "top k",
			yaml:    minimalYAML + "perception:\n  top_k: 7\n",
			wantSub: []string{"perception.top_k"},
		},
		{
			name:    "tick above interval",
			yaml:    minimalYAML + "perception:\n  tick: 500ms\n",
			wantSub: []string{"perception.tick"},
		},
		{
			name:    "epsilon",
			yaml:    minimalYAML + "fusion:\n  epsilon: 2\n",
			wantSub: []string{"fusion.epsilon"},
		},
		{
			name:    "chart too small",
			yaml:    minimalYAML + "export:\n  chart_width: 10\n",
			wantSub: []string{"export chart"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			for _, sub := range tt.wantSub {
				if !strings.Contains(err.Error(), sub) {
					t.Errorf("error should mention %q, got: %v", sub, err)
				}
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
perception:
  top_k: 9
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	for _, sub := range []string{"log_level", "providers.fusion.name", "perception.top_k", "source"} {
		if !strings.Contains(err.Error(), sub) {
			t.Errorf("error should mention %q, got: %v", sub, err)
		}
	}
}

func TestValidate_MinimalIsValid(t *testing.T) {
	t.Parallel()
	if _, err := config.LoadFromReader(strings.NewReader(minimalYAML)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	for kind, name := range map[string]string{
		"detector": "faceapi-http",
		"fusion":   "rule-based",
		"report":   "json-file",
	} {
		if !slices.Contains(config.ValidProviderNames[kind], name) {
			t.Errorf("ValidProviderNames[%q] should contain %q", kind, name)
		}
	}
}
