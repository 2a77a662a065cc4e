// Package export builds the session report from the live pipeline state and
// hands it to a report renderer.
//
// Building a report never mutates the pipeline. The only side effect is the
// per-moment snapshot: a seekable source is moved to the moment's offset,
// captured and moved back to where it was.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/veritas/internal/observe"
	"github.com/MrWong99/veritas/internal/timeline"
	"github.com/MrWong99/veritas/pkg/media"
	"github.com/MrWong99/veritas/pkg/provider/report"
	"github.com/MrWong99/veritas/pkg/types"
)

// TranscriptSource provides the transcript history.
type TranscriptSource interface {
	History() []types.TranscriptSegment
}

// ScoreSource provides the live fusion result.
type ScoreSource interface {
	Report() *types.FusionReport
}

// Config holds the exporter tunables.
type Config struct {
	// SessionPrefix prefixes generated session ids. Default: "session".
	SessionPrefix string

	// TopMoments caps the number of highlights. Default: 5.
	TopMoments int

	// DedupeWindow is the minimum spacing between highlights. Default: 3s.
	DedupeWindow time.Duration

	// SeekTimeout bounds the wait for one seek. Default: 800ms.
	SeekTimeout time.Duration

	// SnapshotWidth is the width of moment snapshots. Default: 320.
	SnapshotWidth int

	// ChartWidth and ChartHeight size the timeline chart. Default: 800x160.
	ChartWidth, ChartHeight int

	// DisableSnapshots skips per-moment snapshots.
	DisableSnapshots bool
}

func (c *Config) applyDefaults() {
	if c.SessionPrefix == "" {
		c.SessionPrefix = "session"
	}
	if c.TopMoments <= 0 {
		c.TopMoments = 5
	}
	if c.DedupeWindow <= 0 {
		c.DedupeWindow = 3 * time.Second
	}
	if c.SeekTimeout <= 0 {
		c.SeekTimeout = 800 * time.Millisecond
	}
	if c.SnapshotWidth <= 0 {
		c.SnapshotWidth = 320
	}
	if c.ChartWidth <= 0 {
		c.ChartWidth = 800
	}
	if c.ChartHeight <= 0 {
		c.ChartHeight = 160
	}
}

// snapshotFallbackHeight is used when the source reports no height.
const snapshotFallbackHeight = 180

// Option is a functional option for [New].
type Option func(*Exporter)

// WithMetrics records export metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Exporter) { e.metrics = m }
}

// WithClock replaces [time.Now] for report timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Exporter) { e.now = now }
}

// WithIDGenerator replaces the random session id suffix.
func WithIDGenerator(fn func() string) Option {
	return func(e *Exporter) { e.newID = fn }
}

// WithVideo sets the capture source used for thumbnails and snapshots.
func WithVideo(v media.VideoSource) Option {
	return func(e *Exporter) { e.video = v }
}

// Exporter builds session reports.
type Exporter struct {
	timeline    timeline.Reader
	transcripts TranscriptSource
	scores      ScoreSource
	renderer    report.Renderer
	video       media.VideoSource
	cfg         Config
	metrics     *observe.Metrics
	now         func() time.Time
	newID       func() string
}

// New returns an Exporter reading the given pipeline state.
func New(tl timeline.Reader, transcripts TranscriptSource, scores ScoreSource, renderer report.Renderer, cfg Config, opts ...Option) *Exporter {
	cfg.applyDefaults()
	e := &Exporter{
		timeline:    tl,
		transcripts: transcripts,
		scores:      scores,
		renderer:    renderer,
		cfg:         cfg,
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	return e
}

// Build assembles the report payload. Image failures degrade to nil fields.
// It returns an error only when ctx ends.
func (e *Exporter) Build(ctx context.Context) (types.Report, error) {
	points := e.timeline.Points()
	var history []types.TranscriptSegment
	if e.transcripts != nil {
		history = e.transcripts.History()
	}

	var live *float64
	if e.scores != nil {
		if r := e.scores.Report(); r != nil {
			v := r.TruthScore
			live = &v
		}
	}

	rep := types.Report{
		SessionID:             e.cfg.SessionPrefix + "-" + e.newID(),
		Timestamp:             e.now().UTC(),
		FusionScore:           Average(points, live),
		Timeline:              points,
		Transcript:            history,
		TranscriptCapitalized: capitalized(history),
		TopMoments:            TopMoments(points, history, e.cfg.TopMoments, e.cfg.DedupeWindow),
	}
	if rep.Timeline == nil {
		rep.Timeline = []types.TimelinePoint{}
	}
	if rep.Transcript == nil {
		rep.Transcript = []types.TranscriptSegment{}
		rep.TranscriptCapitalized = []types.TranscriptSegment{}
	}
	if rep.TopMoments == nil {
		rep.TopMoments = []types.TopMoment{}
	}

	rep.Thumbnail = e.capture(ctx, 0)
	if chart, err := DataURL(Chart(points, e.cfg.ChartWidth, e.cfg.ChartHeight)); err != nil {
		slog.Warn("export: render chart", "err", err)
	} else {
		rep.TimelineChart = &chart
	}

	if !e.cfg.DisableSnapshots && len(points) > 0 {
		first := points[0].At
		for i := range rep.TopMoments {
			if err := ctx.Err(); err != nil {
				return types.Report{}, fmt.Errorf("export: build: %w", err)
			}
			at := time.UnixMilli(rep.TopMoments[i].TimeMS)
			rep.TopMoments[i].Snapshot = e.snapshotAt(ctx, at, first)
		}
	}
	if err := ctx.Err(); err != nil {
		return types.Report{}, fmt.Errorf("export: build: %w", err)
	}
	return rep, nil
}

// Export builds the report and renders it.
func (e *Exporter) Export(ctx context.Context) (*report.Artifact, error) {
	ctx, span := observe.StartSpan(ctx, "export.session")
	start := time.Now()

	art, err := e.export(ctx)
	e.metrics.ExportDuration.Record(ctx, time.Since(start).Seconds())
	observe.EndSpan(span, err)
	return art, err
}

func (e *Exporter) export(ctx context.Context) (*report.Artifact, error) {
	rep, err := e.Build(ctx)
	if err != nil {
		return nil, err
	}
	art, err := e.renderer.Render(ctx, rep)
	if err != nil {
		return nil, fmt.Errorf("export: render %s: %w", rep.SessionID, err)
	}
	observe.Logger(ctx).Info("export: session exported",
		"session_id", rep.SessionID,
		"points", len(rep.Timeline),
		"moments", len(rep.TopMoments),
		"bytes", len(art.Data),
	)
	return art, nil
}

// capture grabs the current frame as a PNG data URL. width 0 keeps the native
// size.
func (e *Exporter) capture(ctx context.Context, width int) *string {
	if e.video == nil || !e.video.Ready() {
		return nil
	}
	if w, h := e.video.Dimensions(); w <= 0 || h <= 0 {
		return nil
	}
	frame, err := e.video.Frame(ctx)
	if err != nil {
		if !errors.Is(err, media.ErrNoFrame) {
			slog.Warn("export: capture frame", "err", err)
		}
		return nil
	}
	if width > 0 {
		frame = Scale(frame, width, snapshotFallbackHeight)
	}
	url, err := DataURL(frame)
	if err != nil {
		slog.Warn("export: encode frame", "err", err)
		return nil
	}
	return &url
}

// snapshotAt captures the frame at moment. A seekable source with a known
// duration is moved to the moment's offset from first and restored afterwards;
// a slow seek falls back to whatever frame is showing when SeekTimeout ends.
func (e *Exporter) snapshotAt(ctx context.Context, moment, first time.Time) *string {
	seeker, ok := e.video.(media.Seeker)
	if !ok {
		return e.capture(ctx, e.cfg.SnapshotWidth)
	}
	offset := moment.Sub(first)
	dur := seeker.Duration()
	if offset < 0 || dur <= 0 || offset > dur {
		return e.capture(ctx, e.cfg.SnapshotWidth)
	}

	original := seeker.Position()
	e.seek(ctx, seeker, offset)
	url := e.capture(ctx, e.cfg.SnapshotWidth)
	e.seek(context.WithoutCancel(ctx), seeker, original)
	return url
}

func (e *Exporter) seek(ctx context.Context, s media.Seeker, to time.Duration) {
	sctx, cancel := context.WithTimeout(ctx, e.cfg.SeekTimeout)
	defer cancel()
	if err := s.Seek(sctx, to); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			slog.Debug("export: seek timed out", "offset", to)
			return
		}
		slog.Warn("export: seek", "offset", to, "err", err)
	}
}
