// Package config provides the configuration schema, loader, and provider registry
// for the Veritas pipeline.
package config

import "time"

// LogLevel controls log verbosity for the Veritas server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the process log handler.
type LogFormat string

const (
	// LogFormatTint is a colourised console handler.
	LogFormatTint LogFormat = "tint"
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	switch f {
	case LogFormatTint, LogFormatText, LogFormatJSON:
		return true
	}
	return false
}

// SourceKind selects the capture source implementation.
type SourceKind string

const (
	// SourceFile plays a directory of frames and a WAV file.
	SourceFile SourceKind = "file"
)

// IsValid reports whether k is a recognised source kind.
func (k SourceKind) IsValid() bool { return k == SourceFile }

// Config is the root configuration structure for Veritas.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Session    SessionConfig    `yaml:"session"`
	Source     SourceConfig     `yaml:"source"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Perception PerceptionConfig `yaml:"perception"`
	Fusion     FusionConfig     `yaml:"fusion"`
	Export     ExportConfig     `yaml:"export"`
}

// ServerConfig holds network and logging settings for the control server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFormat selects the log handler. Default: tint.
	LogFormat LogFormat `yaml:"log_format"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// SessionConfig holds per-session identity settings.
type SessionConfig struct {
	// IDPrefix prefixes generated session ids. Default: "session".
	IDPrefix string `yaml:"id_prefix"`
}

// SourceConfig selects and configures the capture source.
type SourceConfig struct {
	Kind SourceKind `yaml:"kind"`

	// VideoDir is a directory of PNG or JPEG frames in lexical order.
	VideoDir string `yaml:"video_dir"`

	// FPS is the frame rate of VideoDir. Default: 25.
	FPS float64 `yaml:"fps"`

	// AudioPath is a 16-bit PCM WAV file. Optional.
	AudioPath string `yaml:"audio_path"`

	// Loop restarts playback at the end of the media.
	Loop bool `yaml:"loop"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each field selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	Detector ProviderEntry `yaml:"detector"`
	Fusion   ProviderEntry `yaml:"fusion"`

	// FusionFallback is tried when Fusion fails or its breaker is open.
	// Optional.
	FusionFallback ProviderEntry `yaml:"fusion_fallback"`

	Report ProviderEntry `yaml:"report"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "faceapi-http").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL is the provider endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// OptionString returns Options[key] when it is a string.
func (e ProviderEntry) OptionString(key string) (string, bool) {
	s, ok := e.Options[key].(string)
	return s, ok
}

// IngestConfig configures the streaming ingest client.
type IngestConfig struct {
	// URL is the websocket endpoint of the streaming classifier.
	URL string `yaml:"url"`

	// APIKey is sent as a bearer token on the upgrade request. Optional.
	APIKey string `yaml:"api_key"`

	BaseDelay        time.Duration `yaml:"base_delay"`
	MaxAttempts      int           `yaml:"max_attempts"`
	SilenceThreshold float32       `yaml:"silence_threshold"`

	// SampleRate is the PCM rate the audio source is converted to.
	SampleRate int `yaml:"sample_rate"`

	RecentTranscripts int           `yaml:"recent_transcripts"`
	TranscriptHistory int           `yaml:"transcript_history"`
	FlushInterval     time.Duration `yaml:"flush_interval"`
	VoiceWindow       int           `yaml:"voice_window"`
	VoiceTimeout      time.Duration `yaml:"voice_timeout"`
}

// PerceptionConfig configures the face perception loop.
type PerceptionConfig struct {
	Interval      time.Duration `yaml:"interval"`
	Tick          time.Duration `yaml:"tick"`
	Margin        int           `yaml:"margin"`
	Window        int           `yaml:"window"`
	TopK          int           `yaml:"top_k"`
	Debounce      time.Duration `yaml:"debounce"`
	MissThreshold int           `yaml:"miss_threshold"`
	SlowThreshold time.Duration `yaml:"slow_threshold"`
	SlowSkip      int           `yaml:"slow_skip"`
}

// FusionConfig configures the fusion aggregator.
type FusionConfig struct {
	Interval         time.Duration `yaml:"interval"`
	Epsilon          float64       `yaml:"epsilon"`
	TimelineCapacity int           `yaml:"timeline_capacity"`
	Breaker          BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures the circuit breaker in front of each fusion backend.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// ExportConfig configures the session exporter.
type ExportConfig struct {
	TopMoments       int           `yaml:"top_moments"`
	DedupeWindow     time.Duration `yaml:"dedupe_window"`
	SeekTimeout      time.Duration `yaml:"seek_timeout"`
	SnapshotWidth    int           `yaml:"snapshot_width"`
	ChartWidth       int           `yaml:"chart_width"`
	ChartHeight      int           `yaml:"chart_height"`
	DisableSnapshots bool          `yaml:"disable_snapshots"`
}

// ApplyDefaults fills every unset field with its default value.
func (c *Config) ApplyDefaults() {
	setDefault(&c.Server.ListenAddr, ":8080")
	setDefault(&c.Server.LogLevel, LogInfo)
	setDefault(&c.Server.LogFormat, LogFormatTint)
	setDefault(&c.Session.IDPrefix, "session")
	setDefault(&c.Source.Kind, SourceFile)
	setDefault(&c.Source.FPS, 25)

	in := &c.Ingest
	setDefault(&in.BaseDelay, 3*time.Second)
	setDefault(&in.MaxAttempts, 5)
	setDefault(&in.SilenceThreshold, 0.001)
	setDefault(&in.SampleRate, 16000)
	setDefault(&in.RecentTranscripts, 3)
	setDefault(&in.TranscriptHistory, 50)
	setDefault(&in.FlushInterval, 250*time.Millisecond)
	setDefault(&in.VoiceWindow, 3)
	setDefault(&in.VoiceTimeout, 1500*time.Millisecond)

	p := &c.Perception
	setDefault(&p.Interval, 300*time.Millisecond)
	setDefault(&p.Tick, 20*time.Millisecond)
	setDefault(&p.Margin, 20)
	setDefault(&p.Window, 5)
	setDefault(&p.Debounce, 50*time.Millisecond)
	setDefault(&p.MissThreshold, 3)
	setDefault(&p.SlowThreshold, 200*time.Millisecond)
	setDefault(&p.SlowSkip, 5)

	f := &c.Fusion
	setDefault(&f.Interval, time.Second)
	setDefault(&f.Epsilon, 0.001)
	setDefault(&f.TimelineCapacity, 60)
	setDefault(&f.Breaker.MaxFailures, 5)
	setDefault(&f.Breaker.ResetTimeout, 10*time.Second)

	e := &c.Export
	setDefault(&e.TopMoments, 5)
	setDefault(&e.DedupeWindow, 3*time.Second)
	setDefault(&e.SeekTimeout, 800*time.Millisecond)
	setDefault(&e.SnapshotWidth, 320)
	setDefault(&e.ChartWidth, 800)
	setDefault(&e.ChartHeight, 160)
}

func setDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}
