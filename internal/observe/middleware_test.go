package observe

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// controlServer wraps a mux shaped like the session control surface in
// Middleware. It installs a global tracer provider, so callers must not run
// in parallel.
func controlServer(t *testing.T) (http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-Correlation", CorrelationID(r.Context()))
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /api/export", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return Middleware(m)(mux), reader, exp
}

func TestMiddleware_ControlRoutes(t *testing.T) {
	handler, _, exp := controlServer(t)

	tests := []struct {
		method   string
		path     string
		wantCode int
		wantSpan string
	}{
		{http.MethodGet, "/api/status", http.StatusOK, "HTTP GET /api/status"},
		{http.MethodPost, "/api/export", http.StatusBadGateway, "HTTP POST /api/export"},
		{http.MethodGet, "/api/export", http.StatusMethodNotAllowed, "HTTP GET /api/export"},
		{http.MethodGet, "/api/unknown", http.StatusNotFound, "HTTP GET /api/unknown"},
	}
	for _, tt := range tests {
		exp.Reset()
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
		if rec.Code != tt.wantCode {
			t.Errorf("%s %s: code = %d, want %d", tt.method, tt.path, rec.Code, tt.wantCode)
		}

		cid := rec.Header().Get("X-Correlation-ID")
		if len(cid) != 32 {
			t.Errorf("%s %s: X-Correlation-ID = %q, want a 32-char trace id", tt.method, tt.path, cid)
		}

		spans := exp.GetSpans()
		if len(spans) != 1 {
			t.Fatalf("%s %s: spans = %d, want 1", tt.method, tt.path, len(spans))
		}
		if spans[0].Name != tt.wantSpan {
			t.Errorf("span name = %q, want %q", spans[0].Name, tt.wantSpan)
		}
		if got := spans[0].SpanContext.TraceID().String(); got != cid {
			t.Errorf("span trace id = %s, correlation header = %s", got, cid)
		}
		var code int64
		for _, a := range spans[0].Attributes {
			if a.Key == "http.response.status_code" {
				code = a.Value.AsInt64()
			}
		}
		if code != int64(tt.wantCode) {
			t.Errorf("%s: span status attribute = %d, want %d", tt.wantSpan, code, tt.wantCode)
		}
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	handler, _, _ := controlServer(t)
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Seen-Correlation"); got != traceID {
		t.Errorf("handler saw correlation %q, want %q", got, traceID)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
	}
	if tp := rec.Header().Get("traceparent"); !strings.Contains(tp, traceID) {
		t.Errorf("response traceparent = %q, want trace %s", tp, traceID)
	}
}

func TestMiddleware_DurationByRoutePattern(t *testing.T) {
	handler, reader, _ := controlServer(t)

	requests := []struct{ method, path string }{
		{http.MethodGet, "/api/status"},
		{http.MethodGet, "/api/status"},
		{http.MethodGet, "/api/status?verbose=1"},
		{http.MethodPost, "/api/export"},
	}
	for _, r := range requests {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(r.method, r.path, nil))
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "veritas.http.request.duration")
	if met == nil {
		t.Fatal("veritas.http.request.duration not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("data = %T, want histogram", met.Data)
	}

	counts := map[string]uint64{}
	for _, dp := range hist.DataPoints {
		path, _ := dp.Attributes.Value(attribute.Key("path"))
		method, _ := dp.Attributes.Value(attribute.Key("method"))
		counts[method.AsString()+" "+path.AsString()] += dp.Count
	}
	want := map[string]uint64{
		"GET GET /api/status":   3,
		"POST POST /api/export": 1,
	}
	if len(counts) != len(want) {
		t.Errorf("series = %v, want %v", counts, want)
	}
	for k, n := range want {
		if counts[k] != n {
			t.Errorf("%s count = %d, want %d", k, counts[k], n)
		}
	}
}

func TestMiddleware_QuietPathsLogAtDebug(t *testing.T) {
	handler, _, _ := controlServer(t)

	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if buf.Len() != 0 {
		t.Errorf("health check logged at info: %s", buf.String())
	}

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/status", nil))
	out := buf.String()
	for _, want := range []string{"observe: request completed", "path=/api/status", "status=200", "trace_id="} {
		if !strings.Contains(out, want) {
			t.Errorf("status request log missing %q: %s", want, out)
		}
	}
}
