// Package perception implements the face perception loop.
//
// The loop polls a [media.VideoSource] on a short tick but only runs a cycle
// once the configured interval has passed since the previous one. A cycle
// grabs the current frame, calls the external [detector.Detector] once and
// waits for it; cycles never overlap. Hits update the overlay canvas and the
// smoothing window, whose mean is emitted through a short debounce. Misses
// only reset the output after several consecutive cycles. A slow detector
// call makes the loop skip a few cycles.
package perception

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/veritas/internal/observe"
	"github.com/MrWong99/veritas/pkg/media"
	"github.com/MrWong99/veritas/pkg/provider/detector"
	"github.com/MrWong99/veritas/pkg/types"
)

// Config holds the loop tunables.
type Config struct {
	// Interval is the minimum spacing between two cycles. Default: 300ms.
	Interval time.Duration

	// Tick is how often the throttle is checked. Default: 20ms.
	Tick time.Duration

	// Margin pads the face box on the overlay, in pixels. Default: 20.
	// A negative value disables the padding.
	Margin int

	// Window is the smoothing window size. Default: 5.
	Window int

	// TopK keeps only the K highest categories. Zero keeps all six.
	TopK int

	// Debounce coalesces emissions. Default: 50ms.
	Debounce time.Duration

	// MissThreshold is the number of consecutive misses that resets the
	// output. Default: 3.
	MissThreshold int

	// SlowThreshold is the detector latency above which cycles are skipped.
	// Default: 200ms.
	SlowThreshold time.Duration

	// SlowSkip is the number of cycles skipped after a slow call. Default: 5.
	SlowSkip int

	// DetectTimeout bounds one detector call. Default: 5s.
	DetectTimeout time.Duration

	// StatsEvery logs performance statistics every N detector calls.
	// Default: 50.
	StatsEvery int
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 300 * time.Millisecond
	}
	if c.Tick <= 0 {
		c.Tick = 20 * time.Millisecond
	}
	if c.Margin < 0 {
		c.Margin = 0
	} else if c.Margin == 0 {
		c.Margin = 20
	}
	if c.Window <= 0 {
		c.Window = 5
	}
	if c.TopK < 0 {
		c.TopK = 0
	}
	if c.Debounce <= 0 {
		c.Debounce = 50 * time.Millisecond
	}
	if c.MissThreshold <= 0 {
		c.MissThreshold = 3
	}
	if c.SlowThreshold <= 0 {
		c.SlowThreshold = 200 * time.Millisecond
	}
	if c.SlowSkip <= 0 {
		c.SlowSkip = 5
	}
	if c.DetectTimeout <= 0 {
		c.DetectTimeout = 5 * time.Second
	}
	if c.StatsEvery <= 0 {
		c.StatsEvery = 50
	}
}

type timer interface{ Stop() bool }

// Option is a functional option for [New].
type Option func(*Loop)

// WithMetrics records perception metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(l *Loop) { l.metrics = m }
}

// WithObserver registers fn to receive every debounced emission. A nil slice
// means the output was reset. fn must not block.
func WithObserver(fn func([]types.EmotionScore)) Option {
	return func(l *Loop) { l.observer = fn }
}

// WithClock replaces [time.Now] for throttling and latency measurement.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) { l.now = now }
}

// WithAfterFunc replaces [time.AfterFunc] for the emission debounce.
func WithAfterFunc(f func(d time.Duration, fn func()) interface{ Stop() bool }) Option {
	return func(l *Loop) {
		l.after = func(d time.Duration, fn func()) timer { return f(d, fn) }
	}
}

// Loop is the perception loop. Run must be called at most once.
type Loop struct {
	src      media.VideoSource
	det      detector.Detector
	cfg      Config
	metrics  *observe.Metrics
	observer func([]types.EmotionScore)
	now      func() time.Time
	after    func(time.Duration, func()) timer

	// Owned by the Run goroutine.
	lastRun time.Time
	misses  int
	skip    int
	window  window

	mu       sync.Mutex
	canvas   *Canvas
	stats    statsRecorder
	current  []types.EmotionScore
	pending  []types.EmotionScore
	debounce timer
	stopped  bool
}

// New returns a loop polling src and calling det.
func New(src media.VideoSource, det detector.Detector, cfg Config, opts ...Option) *Loop {
	cfg.applyDefaults()
	l := &Loop{
		src:    src,
		det:    det,
		cfg:    cfg,
		now:    time.Now,
		after:  func(d time.Duration, f func()) timer { return time.AfterFunc(d, f) },
		window: window{size: cfg.Window},
	}
	for _, o := range opts {
		o(l)
	}
	if l.metrics == nil {
		l.metrics = observe.DefaultMetrics()
	}
	return l
}

// Run drives the loop until ctx is done. Pending emissions are cancelled on
// return and late results are discarded.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.Tick)
	defer ticker.Stop()
	defer l.stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

// tick runs a cycle if the interval has passed since the last one.
func (l *Loop) tick(ctx context.Context) {
	now := l.now()
	if !l.lastRun.IsZero() && now.Sub(l.lastRun) < l.cfg.Interval {
		return
	}
	l.lastRun = now
	l.cycle(ctx)
}

func (l *Loop) cycle(ctx context.Context) {
	if l.skip > 0 {
		l.skip--
		l.metrics.RecordCycle(ctx, observe.CycleSkip)
		return
	}
	if !l.src.Ready() || l.src.Paused() || l.src.Ended() {
		return
	}
	w, h := l.src.Dimensions()
	if w <= 0 || h <= 0 {
		return
	}

	frame, err := l.src.Frame(ctx)
	if err != nil {
		if !errors.Is(err, media.ErrNoFrame) && ctx.Err() == nil {
			slog.Warn("perception: read frame", "err", err)
			l.metrics.RecordCycle(ctx, observe.CycleError)
		}
		return
	}

	dctx, cancel := context.WithTimeout(ctx, l.cfg.DetectTimeout)
	start := l.now()
	det, err := l.det.Detect(dctx, frame)
	latency := l.now().Sub(start)
	cancel()
	if ctx.Err() != nil {
		// Torn down while the detector was running.
		return
	}
	l.metrics.DetectorDuration.Record(ctx, latency.Seconds())

	if latency > l.cfg.SlowThreshold {
		l.skip = l.cfg.SlowSkip
		slog.Debug("perception: slow detector, skipping cycles", "latency", latency, "skip", l.skip)
	} else {
		l.skip = 0
	}
	l.recordStats(latency, err == nil && det != nil)

	switch {
	case err != nil:
		slog.Warn("perception: detect failed", "err", err)
		l.metrics.RecordCycle(ctx, observe.CycleError)
		l.miss()
	case det == nil:
		l.metrics.RecordCycle(ctx, observe.CycleMiss)
		l.miss()
	default:
		l.metrics.RecordCycle(ctx, observe.CycleHit)
		l.hit(det, w, h)
	}
}

func (l *Loop) hit(det *detector.Detection, w, h int) {
	l.misses = 0

	l.mu.Lock()
	if l.canvas == nil {
		l.canvas = NewCanvas(w, h, l.cfg.Margin)
	} else if cw, ch := l.canvas.Size(); cw != w || ch != h {
		l.canvas = NewCanvas(w, h, l.cfg.Margin)
	}
	canvas := l.canvas
	l.mu.Unlock()
	canvas.Redraw(det.Box)

	l.window.push(Group(det.Expressions))
	l.schedule(l.window.mean(l.cfg.TopK))
}

// miss counts a cycle without a face. Reaching the threshold clears the
// overlay and resets the output once.
func (l *Loop) miss() {
	l.misses++
	if l.misses != l.cfg.MissThreshold {
		return
	}
	l.window.reset()

	l.mu.Lock()
	if l.canvas != nil {
		l.canvas.Clear()
	}
	if l.debounce != nil {
		l.debounce.Stop()
		l.debounce = nil
	}
	l.pending = nil
	changed := l.current != nil
	l.current = nil
	l.mu.Unlock()

	if changed && l.observer != nil {
		l.observer(nil)
	}
}

// schedule stores scores as the pending emission. At most one emission per
// debounce window reaches the observer.
func (l *Loop) schedule(scores []types.EmotionScore) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.pending = scores
	if l.debounce == nil {
		l.debounce = l.after(l.cfg.Debounce, l.flush)
	}
}

func (l *Loop) flush() {
	l.mu.Lock()
	if l.stopped || l.debounce == nil {
		l.mu.Unlock()
		return
	}
	l.debounce = nil
	scores := l.pending
	l.pending = nil
	l.current = scores
	l.mu.Unlock()

	if l.observer != nil {
		l.observer(scores)
	}
}

func (l *Loop) stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopped = true
	if l.debounce != nil {
		l.debounce.Stop()
		l.debounce = nil
	}
}

func (l *Loop) recordStats(latency time.Duration, detected bool) {
	l.mu.Lock()
	l.stats.record(latency, detected)
	s := l.stats.snapshot()
	l.mu.Unlock()

	if s.Frames%l.cfg.StatsEvery == 0 {
		slog.Info("perception: stats",
			"frames", s.Frames,
			"avg", s.AvgLatency,
			"min", s.MinLatency,
			"max", s.MaxLatency,
			"detection_rate", s.DetectionRate,
		)
	}
}

// Emotions returns the last emitted distribution, or nil.
func (l *Loop) Emotions() []types.EmotionScore {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == nil {
		return nil
	}
	return append([]types.EmotionScore(nil), l.current...)
}

// Stats returns the detector performance statistics.
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats.snapshot()
}

// Overlay returns a copy of the overlay image, or nil before the first hit.
func (l *Loop) Overlay() *image.RGBA {
	l.mu.Lock()
	c := l.canvas
	l.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Snapshot()
}
