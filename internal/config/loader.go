package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"detector": {"faceapi-http", "mock"},
	"fusion":   {"http", "rule-based"},
	"report":   {"http", "json-file"},
}

// Load reads the YAML configuration file at path and returns a validated [Config]
// with defaults applied. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: tint, text, json", cfg.Server.LogFormat))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Source
	if cfg.Source.Kind != "" && !cfg.Source.Kind.IsValid() {
		errs = append(errs, fmt.Errorf("source.kind %q is invalid; valid values: file", cfg.Source.Kind))
	}
	if cfg.Source.Kind == SourceFile && cfg.Source.VideoDir == "" && cfg.Source.AudioPath == "" {
		errs = append(errs, errors.New("source: file source needs video_dir, audio_path or both"))
	}
	if cfg.Source.FPS < 0 {
		errs = append(errs, fmt.Errorf("source.fps %.2f must not be negative", cfg.Source.FPS))
	}

	// Providers
	validateProviderName("detector", cfg.Providers.Detector.Name)
	validateProviderName("fusion", cfg.Providers.Fusion.Name)
	validateProviderName("fusion", cfg.Providers.FusionFallback.Name)
	validateProviderName("report", cfg.Providers.Report.Name)
	if cfg.Providers.Fusion.Name == "" {
		errs = append(errs, errors.New("providers.fusion.name is required"))
	}
	if cfg.Providers.Detector.Name == "" && cfg.Source.VideoDir != "" {
		slog.Warn("providers.detector is not configured; the face modality will stay absent")
	}
	if cfg.Providers.Report.Name == "" {
		slog.Warn("providers.report is not configured; session export is disabled")
	}
	if fb := cfg.Providers.FusionFallback.Name; fb != "" && fb == cfg.Providers.Fusion.Name &&
		cfg.Providers.FusionFallback.BaseURL == cfg.Providers.Fusion.BaseURL {
		slog.Warn("providers.fusion_fallback duplicates providers.fusion", "name", fb)
	}

	// Ingest
	if cfg.Ingest.URL == "" && cfg.Source.AudioPath != "" {
		errs = append(errs, errors.New("ingest.url is required when source.audio_path is set"))
	}
	if cfg.Ingest.SilenceThreshold < 0 || cfg.Ingest.SilenceThreshold >= 1 {
		errs = append(errs, fmt.Errorf("ingest.silence_threshold %g is out of range [0, 1)", cfg.Ingest.SilenceThreshold))
	}
	errs = appendPositive(errs, "ingest.max_attempts", cfg.Ingest.MaxAttempts)
	errs = appendPositive(errs, "ingest.sample_rate", cfg.Ingest.SampleRate)
	errs = appendPositive(errs, "ingest.recent_transcripts", cfg.Ingest.RecentTranscripts)
	errs = appendPositive(errs, "ingest.transcript_history", cfg.Ingest.TranscriptHistory)
	errs = appendPositive(errs, "ingest.voice_window", cfg.Ingest.VoiceWindow)

	// Perception
	if cfg.Perception.TopK < 0 || cfg.Perception.TopK > 6 {
		errs = append(errs, fmt.Errorf("perception.top_k %d is out of range [0, 6]", cfg.Perception.TopK))
	}
	errs = appendPositive(errs, "perception.window", cfg.Perception.Window)
	errs = appendPositive(errs, "perception.miss_threshold", cfg.Perception.MissThreshold)
	if cfg.Perception.Tick > cfg.Perception.Interval {
		errs = append(errs, fmt.Errorf("perception.tick %s must not exceed perception.interval %s", cfg.Perception.Tick, cfg.Perception.Interval))
	}

	// Fusion
	if cfg.Fusion.Epsilon < 0 || cfg.Fusion.Epsilon >= 1 {
		errs = append(errs, fmt.Errorf("fusion.epsilon %g is out of range [0, 1)", cfg.Fusion.Epsilon))
	}
	errs = appendPositive(errs, "fusion.timeline_capacity", cfg.Fusion.TimelineCapacity)
	errs = appendPositive(errs, "fusion.breaker.max_failures", cfg.Fusion.Breaker.MaxFailures)

	// Export
	errs = appendPositive(errs, "export.top_moments", cfg.Export.TopMoments)
	errs = appendPositive(errs, "export.snapshot_width", cfg.Export.SnapshotWidth)
	if cfg.Export.ChartWidth < 40 || cfg.Export.ChartHeight < 60 {
		errs = append(errs, fmt.Errorf("export chart %dx%d is too small; minimum 40x60", cfg.Export.ChartWidth, cfg.Export.ChartHeight))
	}

	return errors.Join(errs...)
}

func appendPositive(errs []error, field string, v int) []error {
	if v <= 0 {
		return append(errs, fmt.Errorf("%s must be positive, got %d", field, v))
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
