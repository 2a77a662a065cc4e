// Package observe provides application-wide observability primitives for
// Veritas: OpenTelemetry metrics, tracing, trace-aware logging and the HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed for
// scraping through the Prometheus exporter installed by [Init]. A
// package-level [DefaultMetrics] instance is provided for convenience; tests
// should use [NewMetrics] with their own [metric.MeterProvider].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Veritas metrics.
const meterName = "github.com/MrWong99/veritas"

// Frame transmission outcomes for [Metrics.RecordFrame].
const (
	FrameSent                = "sent"
	FrameDroppedSilence      = "dropped_silence"
	FrameDroppedDisconnected = "dropped_disconnected"
)

// Perception cycle outcomes for [Metrics.RecordCycle].
const (
	CycleHit   = "hit"
	CycleMiss  = "miss"
	CycleSkip  = "skip"
	CycleError = "error"
)

// Fusion request outcomes for [Metrics.RecordFusion].
const (
	FusionOK         = "ok"
	FusionError      = "error"
	FusionNoScore    = "no_score"
	FusionSuppressed = "suppressed"
)

// Metrics holds all OpenTelemetry instruments for the application. All fields
// are safe for concurrent use.
type Metrics struct {
	// --- Streaming ingest ---

	// IngestFrames counts outbound audio frames by status.
	IngestFrames metric.Int64Counter

	// IngestMessages counts inbound classifier messages by type.
	IngestMessages metric.Int64Counter

	// IngestMalformed counts inbound messages that failed to parse.
	IngestMalformed metric.Int64Counter

	// IngestReconnects counts scheduled reconnect attempts.
	IngestReconnects metric.Int64Counter

	// --- Perception ---

	// DetectorDuration tracks external detector latency.
	DetectorDuration metric.Float64Histogram

	// PerceptionCycles counts executed cycles by result.
	PerceptionCycles metric.Int64Counter

	// --- Fusion ---

	// FusionRequests counts fusion attempts by status.
	FusionRequests metric.Int64Counter

	// FusionDuration tracks fusion-service latency.
	FusionDuration metric.Float64Histogram

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attributes: attribute.String("name", ...), attribute.String("to", ...)
	BreakerTransitions metric.Int64Counter

	// --- Export ---

	// ExportDuration tracks end-to-end report export latency.
	ExportDuration metric.Float64Histogram

	// ActiveSessions tracks the number of running capture sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks control-server request time by method and
	// route pattern.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) suited to
// per-frame classifier and fusion calls.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.2, 0.3, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] using mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.IngestFrames, "veritas.ingest.frames", "Outbound audio frames by status."},
		{&met.IngestMessages, "veritas.ingest.messages", "Inbound classifier messages by type."},
		{&met.IngestMalformed, "veritas.ingest.malformed", "Inbound messages that could not be parsed."},
		{&met.IngestReconnects, "veritas.ingest.reconnects", "Scheduled reconnect attempts."},
		{&met.PerceptionCycles, "veritas.perception.cycles", "Executed perception cycles by result."},
		{&met.FusionRequests, "veritas.fusion.requests", "Fusion attempts by status."},
		{&met.BreakerTransitions, "veritas.breaker.transitions", "Circuit breaker transitions by name and target state."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.DetectorDuration, "veritas.perception.detector.duration", "Latency of the external face-expression detector."},
		{&met.FusionDuration, "veritas.fusion.duration", "Latency of the fusion-scoring service."},
		{&met.ExportDuration, "veritas.export.duration", "Latency of a full session export."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("veritas.active_sessions",
		metric.WithDescription("Number of running capture sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("veritas.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordFrame counts one outbound audio frame with the given status.
func (m *Metrics) RecordFrame(ctx context.Context, status string) {
	m.IngestFrames.Add(ctx, 1, metric.WithAttributes(Attr("status", status)))
}

// RecordMessage counts one inbound message of the given type.
func (m *Metrics) RecordMessage(ctx context.Context, msgType string) {
	m.IngestMessages.Add(ctx, 1, metric.WithAttributes(Attr("type", msgType)))
}

// RecordCycle counts one perception cycle with the given result.
func (m *Metrics) RecordCycle(ctx context.Context, result string) {
	m.PerceptionCycles.Add(ctx, 1, metric.WithAttributes(Attr("result", result)))
}

// RecordFusion counts one fusion attempt with the given status.
func (m *Metrics) RecordFusion(ctx context.Context, status string) {
	m.FusionRequests.Add(ctx, 1, metric.WithAttributes(Attr("status", status)))
}

// RecordBreaker counts one circuit breaker transition.
func (m *Metrics) RecordBreaker(ctx context.Context, name, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(Attr("name", name), Attr("to", to)))
}
