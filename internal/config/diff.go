package config

import "fmt"

// ConfigDiff describes what changed between two configs.
// Only the log level can be applied to a running process; every other section
// is read once when the session starts.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired lists the top-level sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !sameTLS(old.Server.TLS, new.Server.TLS) ||
		old.Server.ListenAddr != new.Server.ListenAddr ||
		old.Server.LogFormat != new.Server.LogFormat {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Session != new.Session {
		d.RestartRequired = append(d.RestartRequired, "session")
	}
	if old.Source != new.Source {
		d.RestartRequired = append(d.RestartRequired, "source")
	}
	if !sameProviders(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Ingest != new.Ingest {
		d.RestartRequired = append(d.RestartRequired, "ingest")
	}
	if old.Perception != new.Perception {
		d.RestartRequired = append(d.RestartRequired, "perception")
	}
	if old.Fusion != new.Fusion {
		d.RestartRequired = append(d.RestartRequired, "fusion")
	}
	if old.Export != new.Export {
		d.RestartRequired = append(d.RestartRequired, "export")
	}
	return d
}

func sameTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameProviders(a, b ProvidersConfig) bool {
	return sameEntry(a.Detector, b.Detector) &&
		sameEntry(a.Fusion, b.Fusion) &&
		sameEntry(a.FusionFallback, b.FusionFallback) &&
		sameEntry(a.Report, b.Report)
}

// sameEntry compares the scalar fields of two entries. Options maps are
// compared by their key set and formatted values.
func sameEntry(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, v := range a.Options {
		w, ok := b.Options[k]
		if !ok || fmt.Sprint(v) != fmt.Sprint(w) {
			return false
		}
	}
	return true
}
