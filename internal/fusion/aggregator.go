// Package fusion combines per-modality vectors into a live deception score.
//
// The [Aggregator] rate-limits calls to an external [fusionapi.Scorer]: at most
// one call per interval, with a single trailing call for changes that arrive
// inside the interval. Identical payloads inside an interval are suppressed,
// at most one call is in flight, and a newer input supersedes an older queued
// one. Every accepted result appends its truth score to the session timeline.
package fusion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/veritas/internal/observe"
	"github.com/MrWong99/veritas/internal/timeline"
	fusionapi "github.com/MrWong99/veritas/pkg/provider/fusion"
	"github.com/MrWong99/veritas/pkg/types"
)

// ErrClosed is returned by [Aggregator.Run] when the aggregator was closed
// before Run was called.
var ErrClosed = errors.New("fusion: aggregator closed")

// Config holds the aggregator tunables.
type Config struct {
	// Interval is the minimum spacing between outbound calls. Default: 1s.
	Interval time.Duration

	// Epsilon is the weight a modality must exceed to count as contributing.
	// Default: 0.001.
	Epsilon float64

	// TimelineCapacity bounds the trend buffer. Default: 60.
	TimelineCapacity int

	// CallTimeout bounds a single scorer call. Default: 5s.
	CallTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.Epsilon <= 0 {
		c.Epsilon = 0.001
	}
	if c.TimelineCapacity <= 0 {
		c.TimelineCapacity = timeline.DefaultCapacity
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 5 * time.Second
	}
}

// Option is a functional option for [New].
type Option func(*Aggregator)

// WithMetrics records fusion metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// WithObserver registers fn to be called after every report change. A nil
// report means the score was cleared. fn runs on the aggregator's goroutines
// and must not block.
func WithObserver(fn func(*types.FusionReport)) Option {
	return func(a *Aggregator) { a.observer = fn }
}

// job is one outbound call.
type job struct {
	req     fusionapi.Request
	payload []byte
	gen     uint64
}

// Aggregator owns the live fusion result and the timeline buffer.
// It is safe for concurrent use.
type Aggregator struct {
	scorer   fusionapi.Scorer
	cfg      Config
	timeline *timeline.Buffer
	metrics  *observe.Metrics
	observer func(*types.FusionReport)

	mu          sync.Mutex
	vectors     map[types.Modality]types.ModalityVector
	lastCall    time.Time
	lastPayload []byte
	pending     *time.Timer
	queued      *job
	gen         uint64
	report      *types.FusionReport
	closed      bool

	wake chan struct{}
	done chan struct{}
}

// New returns an Aggregator calling scorer. Call [Aggregator.Run] to start the
// call worker.
func New(scorer fusionapi.Scorer, cfg Config, opts ...Option) *Aggregator {
	cfg.applyDefaults()
	a := &Aggregator{
		scorer:   scorer,
		cfg:      cfg,
		timeline: timeline.New(cfg.TimelineCapacity),
		vectors:  make(map[types.Modality]types.ModalityVector, len(types.Modalities)),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	return a
}

// Timeline returns the read-only view of the trend buffer.
func (a *Aggregator) Timeline() timeline.Reader { return a.timeline }

// Report returns a copy of the latest accepted result, or nil when there is no
// score.
func (a *Aggregator) Report() *types.FusionReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return cloneReport(a.report)
}

// Vectors returns a copy of the current modality vectors. Absent modalities
// are omitted.
func (a *Aggregator) Vectors() map[types.Modality]types.ModalityVector {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[types.Modality]types.ModalityVector, len(a.vectors))
	for m, v := range a.vectors {
		out[m] = slices.Clone(v)
	}
	return out
}

// Update sets the vector of one modality. A nil or invalid vector marks the
// modality absent. Unchanged input is ignored.
func (a *Aggregator) Update(m types.Modality, v types.ModalityVector) {
	if !v.Valid() {
		v = nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || slices.Equal(a.vectors[m], v) {
		return
	}
	if v == nil {
		delete(a.vectors, m)
	} else {
		a.vectors[m] = slices.Clone(v)
	}
	a.dispatchLocked()
}

// dispatchLocked applies the rate-limit rule to the current vectors.
func (a *Aggregator) dispatchLocked() {
	req := a.requestLocked()
	if len(req) == 0 {
		a.stopPendingLocked()
		a.clearLocked()
		return
	}
	payload, err := json.Marshal(req)
	if err != nil {
		slog.Error("fusion: marshal request", "err", err)
		return
	}

	now := time.Now()
	elapsed := now.Sub(a.lastCall)
	if a.lastCall.IsZero() || elapsed >= a.cfg.Interval {
		a.stopPendingLocked()
		a.enqueueLocked(req, payload, now)
		return
	}
	if bytes.Equal(payload, a.lastPayload) {
		// The last call already carried this state.
		a.stopPendingLocked()
		a.metrics.RecordFusion(context.Background(), observe.FusionSuppressed)
		return
	}
	a.stopPendingLocked()
	a.pending = time.AfterFunc(a.cfg.Interval-elapsed, a.fireDeferred)
}

// fireDeferred is the trailing call scheduled by dispatchLocked.
func (a *Aggregator) fireDeferred() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending = nil
	if a.closed {
		return
	}
	req := a.requestLocked()
	if len(req) == 0 {
		a.clearLocked()
		return
	}
	payload, err := json.Marshal(req)
	if err != nil {
		slog.Error("fusion: marshal request", "err", err)
		return
	}
	if bytes.Equal(payload, a.lastPayload) {
		a.metrics.RecordFusion(context.Background(), observe.FusionSuppressed)
		return
	}
	a.enqueueLocked(req, payload, time.Now())
}

// enqueueLocked hands a call to the worker, replacing any queued call that
// has not started yet.
func (a *Aggregator) enqueueLocked(req fusionapi.Request, payload []byte, now time.Time) {
	a.lastCall = now
	a.lastPayload = payload
	a.queued = &job{req: req, payload: payload, gen: a.gen}
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

func (a *Aggregator) stopPendingLocked() {
	if a.pending != nil {
		a.pending.Stop()
		a.pending = nil
	}
}

// clearLocked drops the live result and invalidates in-flight calls.
func (a *Aggregator) clearLocked() {
	a.gen++
	a.queued = nil
	a.lastPayload = nil
	if a.report == nil {
		return
	}
	a.report = nil
	a.notify(nil)
}

func (a *Aggregator) requestLocked() fusionapi.Request {
	req := make(fusionapi.Request, len(a.vectors))
	for m, v := range a.vectors {
		if v.Valid() {
			req[m] = slices.Clone(v)
		}
	}
	return req
}

// Run processes queued calls until ctx is done or Close is called. At most one
// call is in flight at any time.
func (a *Aggregator) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	a.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.done:
			return nil
		case <-a.wake:
		}

		a.mu.Lock()
		j := a.queued
		a.queued = nil
		a.mu.Unlock()
		if j != nil {
			a.call(ctx, j)
		}
	}
}

func (a *Aggregator) call(ctx context.Context, j *job) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
	defer cancel()
	ctx, span := observe.StartSpan(ctx, "fusion.score")

	start := time.Now()
	res, err := a.scorer.Score(ctx, j.req)
	a.metrics.FusionDuration.Record(ctx, time.Since(start).Seconds())
	observe.EndSpan(span, err)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || j.gen != a.gen {
		// Cleared or closed while the call was in flight.
		return
	}

	if err != nil {
		status := observe.FusionError
		if errors.Is(err, fusionapi.ErrNoScore) {
			status = observe.FusionNoScore
		} else {
			observe.Logger(ctx).Warn("fusion: score failed", "err", err)
		}
		a.metrics.RecordFusion(ctx, status)
		if a.report != nil {
			a.report = nil
			a.notify(nil)
		}
		return
	}
	a.metrics.RecordFusion(ctx, observe.FusionOK)

	now := time.Now()
	contrib, primary := contributing(a.vectors, res.Contributions, a.cfg.Epsilon)
	a.report = &types.FusionReport{
		DeceptionScore: res.DeceptionScore,
		TruthScore:     res.TruthScore(),
		Label:          Label(res.DeceptionScore),
		Contributions:  res.Contributions,
		Contributing:   contrib,
		Primary:        primary,
		At:             now,
	}
	a.timeline.Append(now, a.report.TruthScore)
	a.notify(cloneReport(a.report))
}

func (a *Aggregator) notify(r *types.FusionReport) {
	if a.observer != nil {
		a.observer(r)
	}
}

// Close cancels any deferred call, discards queued work and makes results of
// in-flight calls no-ops. It is safe to call multiple times.
func (a *Aggregator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.stopPendingLocked()
	a.queued = nil
	a.gen++
	close(a.done)
	return nil
}

func cloneReport(r *types.FusionReport) *types.FusionReport {
	if r == nil {
		return nil
	}
	out := *r
	if r.Contributions != nil {
		out.Contributions = make(map[types.Modality]float64, len(r.Contributions))
		for k, v := range r.Contributions {
			out.Contributions[k] = v
		}
	}
	out.Contributing = slices.Clone(r.Contributing)
	return &out
}
