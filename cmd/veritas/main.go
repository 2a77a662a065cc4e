// Command veritas runs a live multimodal interview session: it streams
// microphone audio to the speech analysis service, samples the camera for
// facial expressions, fuses the modalities into a truthfulness score and
// serves the session status and report export over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/MrWong99/veritas/internal/app"
	"github.com/MrWong99/veritas/internal/config"
	"github.com/MrWong99/veritas/internal/health"
	"github.com/MrWong99/veritas/internal/observe"
	"github.com/MrWong99/veritas/internal/resilience"
	"github.com/MrWong99/veritas/pkg/media/file"
	"github.com/MrWong99/veritas/pkg/provider/detector"
	"github.com/MrWong99/veritas/pkg/provider/detector/faceapi"
	detectormock "github.com/MrWong99/veritas/pkg/provider/detector/mock"
	"github.com/MrWong99/veritas/pkg/provider/fusion"
	"github.com/MrWong99/veritas/pkg/provider/fusion/httpfusion"
	"github.com/MrWong99/veritas/pkg/provider/fusion/rulebased"
	"github.com/MrWong99/veritas/pkg/provider/report"
	"github.com/MrWong99/veritas/pkg/provider/report/httpreport"
	"github.com/MrWong99/veritas/pkg/provider/report/jsonfile"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "veritas: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "veritas: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(os.Stderr, cfg.Server.LogFormat, level))

	slog.Info("veritas starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.Init(context.Background(), observe.ProviderConfig{ServiceName: "veritas", Global: true})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := tel.Metrics

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Capture sources ───────────────────────────────────────────────────────
	sources, err := buildSources(cfg)
	if err != nil {
		slog.Error("failed to open capture sources", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Config hot reload ─────────────────────────────────────────────────────
	// Only the log level is applied live; everything else is read once.
	watcher, err := config.NewWatcher(*configPath, func(d config.ConfigDiff, _ *config.Config) {
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if len(d.RestartRequired) > 0 {
			slog.Warn("config changed; restart to apply", "sections", d.RestartRequired)
		}
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		go func() { _ = watcher.Run(ctx) }()
	}

	printStartupSummary(cfg)

	application, err := app.New(cfg, providers, sources, app.WithMetrics(metrics))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	var checkers []health.Checker
	if c := application.Ingest(); c != nil {
		checkers = append(checkers, health.Ingest(c))
	}
	if sources.Video != nil {
		checkers = append(checkers, health.Source(sources.Video))
	}
	checkers = append(checkers, health.Fusion(application.BreakerStates))
	health.New(checkers...).Register(mux)
	application.Register(mux)
	mux.Handle("GET /metrics", tel.Handler)

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "err", err)
			stop()
		}
	}()

	slog.Info("server ready; press Ctrl+C to shut down")

	exitCode := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		exitCode = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping session")

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http server shutdown error", "err", err)
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return exitCode
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Detector ──────────────────────────────────────────────────────────────

	reg.RegisterDetector("faceapi-http", func(entry config.ProviderEntry) (detector.Detector, error) {
		var opts []faceapi.Option
		if entry.APIKey != "" {
			opts = append(opts, faceapi.WithAPIKey(entry.APIKey))
		}
		if entry.Model != "" {
			opts = append(opts, faceapi.WithModel(entry.Model))
		}
		return faceapi.New(entry.BaseURL, opts...)
	})

	// mock returns a fixed neutral face; handy for demos without a model server.
	reg.RegisterDetector("mock", func(config.ProviderEntry) (detector.Detector, error) {
		return &detectormock.Detector{DetectResult: &detector.Detection{
			Expressions: map[string]float64{detector.ExprNeutral: 1},
		}}, nil
	})

	// ── Fusion ────────────────────────────────────────────────────────────────

	reg.RegisterFusion("http", func(entry config.ProviderEntry) (fusion.Scorer, error) {
		var opts []httpfusion.Option
		if entry.APIKey != "" {
			opts = append(opts, httpfusion.WithAPIKey(entry.APIKey))
		}
		if path, ok := entry.OptionString("path"); ok {
			opts = append(opts, httpfusion.WithPath(path))
		}
		return httpfusion.New(entry.BaseURL, opts...)
	})

	reg.RegisterFusion("rule-based", func(config.ProviderEntry) (fusion.Scorer, error) {
		return rulebased.New(), nil
	})

	// ── Report ────────────────────────────────────────────────────────────────

	reg.RegisterReport("http", func(entry config.ProviderEntry) (report.Renderer, error) {
		var opts []httpreport.Option
		if entry.APIKey != "" {
			opts = append(opts, httpreport.WithAPIKey(entry.APIKey))
		}
		if path, ok := entry.OptionString("path"); ok {
			opts = append(opts, httpreport.WithPath(path))
		}
		return httpreport.New(entry.BaseURL, opts...)
	})

	reg.RegisterReport("json-file", func(entry config.ProviderEntry) (report.Renderer, error) {
		dir, _ := entry.OptionString("dir")
		if dir == "" {
			dir = "."
		}
		return jsonfile.New(dir)
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates all providers named in cfg using the registry.
// The fusion scorer is wrapped in a breaker-guarded fallback group so a flaky
// remote service degrades to the configured fallback backend.
func buildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (app.Providers, error) {
	var ps app.Providers

	if name := cfg.Providers.Detector.Name; name != "" {
		d, err := reg.CreateDetector(cfg.Providers.Detector)
		if err != nil {
			return ps, fmt.Errorf("create detector provider %q: %w", name, err)
		}
		ps.Detector = d
		slog.Info("provider created", "kind", "detector", "name", name)
	}

	primary, err := reg.CreateFusion(cfg.Providers.Fusion)
	if err != nil {
		return ps, fmt.Errorf("create fusion provider %q: %w", cfg.Providers.Fusion.Name, err)
	}
	slog.Info("provider created", "kind", "fusion", "name", cfg.Providers.Fusion.Name)

	group := resilience.NewFusionFallback(primary, cfg.Providers.Fusion.Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cfg.Fusion.Breaker.MaxFailures,
			ResetTimeout: cfg.Fusion.Breaker.ResetTimeout,
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("fusion breaker changed state", "backend", name, "from", from, "to", to)
				metrics.RecordBreaker(context.Background(), name, to.String())
			},
		},
	})
	if name := cfg.Providers.FusionFallback.Name; name != "" {
		fb, err := reg.CreateFusion(cfg.Providers.FusionFallback)
		if err != nil {
			return ps, fmt.Errorf("create fusion fallback %q: %w", name, err)
		}
		group.AddFallback(name, fb)
		slog.Info("provider created", "kind", "fusion_fallback", "name", name)
	}
	ps.Scorer = group

	if name := cfg.Providers.Report.Name; name != "" {
		r, err := reg.CreateReport(cfg.Providers.Report)
		if err != nil {
			return ps, fmt.Errorf("create report provider %q: %w", name, err)
		}
		ps.Renderer = r
		slog.Info("provider created", "kind", "report", "name", name)
	}

	return ps, nil
}

// buildSources opens the configured capture sources.
func buildSources(cfg *config.Config) (app.Sources, error) {
	var s app.Sources
	src := cfg.Source
	if src.VideoDir != "" {
		v, err := file.NewVideoSource(src.VideoDir, src.FPS, file.WithLoop(src.Loop))
		if err != nil {
			return s, fmt.Errorf("video source: %w", err)
		}
		s.Video = v
	}
	if src.AudioPath != "" {
		s.Audio = file.NewAudioSource(src.AudioPath, cfg.Ingest.SampleRate, file.WithAudioLoop(src.Loop))
	}
	return s, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Veritas · startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Detector", cfg.Providers.Detector.Name)
	printRow("Fusion", cfg.Providers.Fusion.Name)
	printRow("Fallback", cfg.Providers.FusionFallback.Name)
	printRow("Report", cfg.Providers.Report.Name)
	printRow("Video", cfg.Source.VideoDir)
	printRow("Audio", cfg.Source.AudioPath)
	printRow("Ingest", cfg.Ingest.URL)
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(kind, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger(w io.Writer, format config.LogFormat, level slog.Leveler) *slog.Logger {
	switch format {
	case config.LogFormatJSON:
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	case config.LogFormatText:
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	default:
		return slog.New(tint.NewHandler(w, &tint.Options{Level: level, TimeFormat: time.Kitchen}))
	}
}
