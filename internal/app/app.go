// Package app wires all Veritas subsystems into a running session.
//
// The App struct owns the full lifecycle: New builds every component from the
// config and the injected providers, Run drives the pipeline until the context
// ends, and Shutdown tears everything down in order.
//
// Data flows one way:
//
//	audio source -> ingest client --events--> vector mapper -> aggregator -> timeline
//	video source -> perception loop --------> vector mapper -> aggregator
//
// The exporter reads the aggregator, the transcript history and the video
// source on demand through [App.Export].
//
// For testing, inject test doubles via [Providers], [Sources] and functional
// options such as [WithDialer].
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/veritas/internal/config"
	"github.com/MrWong99/veritas/internal/export"
	"github.com/MrWong99/veritas/internal/fusion"
	"github.com/MrWong99/veritas/internal/ingest"
	"github.com/MrWong99/veritas/internal/observe"
	"github.com/MrWong99/veritas/internal/perception"
	"github.com/MrWong99/veritas/internal/vector"
	"github.com/MrWong99/veritas/pkg/media"
	"github.com/MrWong99/veritas/pkg/provider/detector"
	fusionapi "github.com/MrWong99/veritas/pkg/provider/fusion"
	"github.com/MrWong99/veritas/pkg/provider/report"
	"github.com/MrWong99/veritas/pkg/types"
)

var (
	// ErrExportDisabled is returned by [App.Export] when no report renderer
	// is configured.
	ErrExportDisabled = errors.New("app: export disabled")

	// ErrIngestDisabled is returned by [App.Reconnect] when no streaming
	// service is configured.
	ErrIngestDisabled = errors.New("app: ingest disabled")

	// ErrDevice wraps a terminal capture-device failure returned by [App.Run].
	// The wrapped error satisfies [media.IsTerminal].
	ErrDevice = errors.New("app: capture device failed")
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	Detector detector.Detector
	Scorer   fusionapi.Scorer
	Renderer report.Renderer
}

// Sources holds the capture sources of the session. Either may be nil.
type Sources struct {
	Video media.VideoSource
	Audio media.AudioSource
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithDialer replaces the websocket dialer of the ingest client.
func WithDialer(d ingest.Dialer) Option {
	return func(a *App) { a.dialer = d }
}

// WithMetrics records every component's metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithExportOptions passes extra options to the session exporter.
func WithExportOptions(opts ...export.Option) Option {
	return func(a *App) { a.exportOpts = append(a.exportOpts, opts...) }
}

// App owns all subsystem lifetimes and orchestrates the Veritas pipeline.
type App struct {
	cfg        *config.Config
	providers  Providers
	sources    Sources
	dialer     ingest.Dialer
	metrics    *observe.Metrics
	exportOpts []export.Option

	// Subsystems, initialised in New and torn down in Shutdown. client and
	// loop are nil when their inputs are not configured.
	client     *ingest.Client
	loop       *perception.Loop
	aggregator *fusion.Aggregator
	exporter   *export.Exporter

	mu               sync.Mutex
	cancel           context.CancelFunc
	stopPerception   context.CancelFunc
	perceptionDone   chan struct{}
	runDone          chan struct{}
	running, stopped bool

	stopOnce sync.Once
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). A scorer is
// required; every other provider and source is optional.
func New(cfg *config.Config, providers Providers, sources Sources, opts ...Option) (*App, error) {
	if providers.Scorer == nil {
		return nil, errors.New("app: a fusion scorer is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		sources:   sources,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	a.aggregator = fusion.New(providers.Scorer, fusion.Config{
		Interval:         cfg.Fusion.Interval,
		Epsilon:          cfg.Fusion.Epsilon,
		TimelineCapacity: cfg.Fusion.TimelineCapacity,
	}, fusion.WithMetrics(a.metrics), fusion.WithObserver(logReport))

	if cfg.Ingest.URL != "" {
		a.client = a.newIngestClient()
	}

	if sources.Video != nil && providers.Detector != nil {
		a.loop = perception.New(sources.Video, providers.Detector, perception.Config{
			Interval:      cfg.Perception.Interval,
			Tick:          cfg.Perception.Tick,
			Margin:        cfg.Perception.Margin,
			Window:        cfg.Perception.Window,
			TopK:          cfg.Perception.TopK,
			Debounce:      cfg.Perception.Debounce,
			MissThreshold: cfg.Perception.MissThreshold,
			SlowThreshold: cfg.Perception.SlowThreshold,
			SlowSkip:      cfg.Perception.SlowSkip,
		}, perception.WithMetrics(a.metrics), perception.WithObserver(a.onFace))
	} else if sources.Video != nil {
		slog.Warn("app: video source without detector; face modality disabled")
	}

	if providers.Renderer != nil {
		var transcripts export.TranscriptSource
		if a.client != nil {
			transcripts = a.client
		}
		opts := []export.Option{export.WithMetrics(a.metrics)}
		if sources.Video != nil {
			opts = append(opts, export.WithVideo(sources.Video))
		}
		a.exporter = export.New(a.aggregator.Timeline(), transcripts, a.aggregator, providers.Renderer, export.Config{
			SessionPrefix:    cfg.Session.IDPrefix,
			TopMoments:       cfg.Export.TopMoments,
			DedupeWindow:     cfg.Export.DedupeWindow,
			SeekTimeout:      cfg.Export.SeekTimeout,
			SnapshotWidth:    cfg.Export.SnapshotWidth,
			ChartWidth:       cfg.Export.ChartWidth,
			ChartHeight:      cfg.Export.ChartHeight,
			DisableSnapshots: cfg.Export.DisableSnapshots,
		}, append(opts, a.exportOpts...)...)
	}

	slog.Info("app: session wired",
		"ingest", a.client != nil,
		"perception", a.loop != nil,
		"export", a.exporter != nil,
	)
	return a, nil
}

func (a *App) newIngestClient() *ingest.Client {
	dialer := a.dialer
	if dialer == nil {
		var header http.Header
		if key := a.cfg.Ingest.APIKey; key != "" {
			header = http.Header{"Authorization": {"Bearer " + key}}
		}
		dialer = ingest.WebSocketDialer{Header: header}
	}
	return ingest.New(a.cfg.Ingest.URL, ingest.Config{
		BaseDelay:         a.cfg.Ingest.BaseDelay,
		MaxAttempts:       a.cfg.Ingest.MaxAttempts,
		SilenceThreshold:  a.cfg.Ingest.SilenceThreshold,
		RecentTranscripts: a.cfg.Ingest.RecentTranscripts,
		TranscriptHistory: a.cfg.Ingest.TranscriptHistory,
		FlushInterval:     a.cfg.Ingest.FlushInterval,
		VoiceWindow:       a.cfg.Ingest.VoiceWindow,
		VoiceTimeout:      a.cfg.Ingest.VoiceTimeout,
	}, ingest.WithDialer(dialer), ingest.WithMetrics(a.metrics))
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts every pipeline activity and blocks until ctx is cancelled,
// [App.Shutdown] is called or a capture device fails terminally. A device
// failure is returned wrapped in [ErrDevice]; a normal stop returns nil.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.running || a.stopped {
		a.mu.Unlock()
		return errors.New("app: Run called twice or after Shutdown")
	}
	a.running = true
	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	perceptionCtx, stopPerception := context.WithCancel(gctx)
	a.cancel = cancel
	a.stopPerception = stopPerception
	a.runDone = make(chan struct{})
	a.perceptionDone = make(chan struct{})
	a.mu.Unlock()
	defer close(a.runDone)
	defer cancel()
	defer stopPerception()

	g.Go(func() error { return ignoreCanceled(a.aggregator.Run(gctx)) })

	if a.client != nil {
		g.Go(func() error { return ignoreCanceled(a.client.Run(gctx)) })
		g.Go(func() error {
			a.route(gctx, a.client.Events())
			return nil
		})
		if a.sources.Audio != nil {
			g.Go(func() error { return a.pumpAudio(gctx) })
		}
	}

	if a.loop != nil {
		g.Go(func() error {
			defer close(a.perceptionDone)
			return ignoreCanceled(a.loop.Run(perceptionCtx))
		})
	} else {
		close(a.perceptionDone)
	}

	slog.Info("app: running")
	err := g.Wait()
	if err != nil {
		slog.Error("app: pipeline stopped", "err", err)
	}
	return err
}

// pumpAudio forwards capture chunks to the ingest client.
func (a *App) pumpAudio(ctx context.Context) error {
	chunks, err := a.sources.Audio.Open(ctx)
	if err != nil {
		if media.IsTerminal(err) {
			a.client.Fail(err)
			return fmt.Errorf("%w: %w", ErrDevice, err)
		}
		slog.Warn("app: open audio source; voice and text modalities disabled", "err", err)
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case chunk, ok := <-chunks:
			if !ok {
				slog.Info("app: audio source ended")
				return nil
			}
			if err := a.client.Send(ctx, chunk); err != nil && !errors.Is(err, ingest.ErrClosed) {
				slog.Debug("app: send audio", "err", err)
			}
		}
	}
}

// route maps ingest events to modality vectors until the event stream closes
// or ctx is done.
func (a *App) route(ctx context.Context, events <-chan ingest.Event) {
	for {
		var ev ingest.Event
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			ev = e
		}
		switch ev := ev.(type) {
		case ingest.TranscriptAccepted:
			a.aggregator.Update(types.ModalityText, vector.Text(&ev.Segment))
		case ingest.VoiceUpdated:
			// The client's window is authoritative; the event may be stale.
			var v types.ModalityVector
			if avg := a.client.VoiceAverage(); avg != nil {
				v = vector.Voice(avg)
			}
			a.aggregator.Update(types.ModalityVoice, v)
		case ingest.StateChanged:
			attrs := []any{"from", ev.From, "to", ev.To}
			if ev.Err != nil {
				attrs = append(attrs, "err", ev.Err)
			}
			slog.Info("app: ingest state changed", attrs...)
		case ingest.HistoryFlushed:
			slog.Debug("app: transcript history flushed", "units", len(ev.Batch))
		case ingest.CaptionUpdated:
			// Captions are read through Status.
		}
	}
}

// onFace receives the debounced face distribution from the perception loop.
func (a *App) onFace(scores []types.EmotionScore) {
	var v types.ModalityVector
	if scores != nil {
		v = vector.Face(perception.AsMap(scores))
	}
	a.aggregator.Update(types.ModalityFace, v)
}

func logReport(r *types.FusionReport) {
	if r == nil {
		slog.Debug("app: fusion score cleared")
		return
	}
	slog.Debug("app: fusion score",
		"truth", r.TruthScore,
		"label", r.Label,
		"primary", r.Primary,
	)
}

// ignoreCanceled maps the errors of an orderly stop to nil.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, fusion.ErrClosed) || errors.Is(err, ingest.ErrClosed) {
		return nil
	}
	return err
}

// ─── Export ──────────────────────────────────────────────────────────────────

// Export builds the session report and renders it. It is the only way to
// trigger an export.
func (a *App) Export(ctx context.Context) (*report.Artifact, error) {
	if a.exporter == nil {
		return nil, ErrExportDisabled
	}
	return a.exporter.Export(ctx)
}

// Reconnect re-initiates the streaming link after the automatic reconnect
// attempts are exhausted. It is a no-op while a connection is open or being
// attempted, and after a terminal device failure.
func (a *App) Reconnect() error {
	if a.client == nil {
		return ErrIngestDisabled
	}
	a.client.Connect()
	return nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down the pipeline in order: the perception loop stops first,
// then pending fusion and reconnect timers are cancelled and the streaming
// link is closed, then the capture sources are released. It respects the
// context deadline: if ctx expires while waiting for a step, the remaining
// steps still run but the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("app: shutting down")
		a.mu.Lock()
		a.stopped = true
		stopPerception, perceptionDone := a.stopPerception, a.perceptionDone
		cancel, runDone := a.cancel, a.runDone
		a.mu.Unlock()

		if stopPerception != nil {
			stopPerception()
			if err := wait(ctx, perceptionDone); err != nil {
				slog.Warn("app: perception loop did not stop in time")
				shutdownErr = err
			}
		}

		if err := a.aggregator.Close(); err != nil {
			slog.Warn("app: close aggregator", "err", err)
		}
		if a.client != nil {
			if err := a.client.Close(); err != nil {
				slog.Warn("app: close ingest client", "err", err)
			}
		}
		if a.sources.Audio != nil {
			if err := a.sources.Audio.Close(); err != nil {
				slog.Warn("app: close audio source", "err", err)
			}
		}
		if c, ok := a.sources.Video.(io.Closer); ok {
			if err := c.Close(); err != nil {
				slog.Warn("app: close video source", "err", err)
			}
		}

		if cancel != nil {
			cancel()
			if err := wait(ctx, runDone); err != nil && shutdownErr == nil {
				shutdownErr = err
			}
		}
		slog.Info("app: shutdown complete")
	})
	return shutdownErr
}

func wait(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
