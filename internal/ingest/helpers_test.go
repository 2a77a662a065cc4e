package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/veritas/internal/observe"
)

// ── Metrics ───────────────────────────────────────────────────────────────────

func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// counter sums the data points of an int64 counter whose attribute key has
// the given value. An empty key sums every point.
func counter(t *testing.T, reader *sdkmetric.ManualReader, name, key, value string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is not an int64 sum", name)
			}
			for _, dp := range sum.DataPoints {
				if key == "" {
					total += dp.Value
					continue
				}
				if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
					total += dp.Value
				}
			}
		}
	}
	return total
}

// ── Fake timers ───────────────────────────────────────────────────────────────

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped atomic.Bool
}

func (t *fakeTimer) Stop() bool { return !t.stopped.Swap(true) }

// fakeTimers records scheduled callbacks; tests fire them by hand.
type fakeTimers struct {
	added chan *fakeTimer
}

func newFakeTimers() *fakeTimers {
	return &fakeTimers{added: make(chan *fakeTimer, 64)}
}

func (ft *fakeTimers) AfterFunc(d time.Duration, f func()) interface{ Stop() bool } {
	t := &fakeTimer{d: d, f: f}
	ft.added <- t
	return t
}

func (ft *fakeTimers) next(t *testing.T) *fakeTimer {
	t.Helper()
	select {
	case tm := <-ft.added:
		return tm
	case <-time.After(2 * time.Second):
		t.Fatal("no timer scheduled")
		return nil
	}
}

func (ft *fakeTimers) expectNone(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case tm := <-ft.added:
		t.Fatalf("unexpected timer scheduled with delay %v", tm.d)
	case <-time.After(wait):
	}
}

// ── Fake connection ───────────────────────────────────────────────────────────

type fakeConn struct {
	once   sync.Once
	closed chan struct{}

	mu     sync.Mutex
	writes [][]byte
}

func newFakeConn() *fakeConn { return &fakeConn{closed: make(chan struct{})} }

func (c *fakeConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	case <-c.closed:
		return 0, nil, errors.New("fake: connection closed")
	}
}

func (c *fakeConn) Write(_ context.Context, _ websocket.MessageType, p []byte) error {
	select {
	case <-c.closed:
		return errors.New("fake: connection closed")
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), p...))
	return nil
}

func (c *fakeConn) Close(websocket.StatusCode, string) error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}

// fakeDialer fails the first Failures dials and then hands out fresh
// connections. With Failures < 0 every dial fails.
type fakeDialer struct {
	Failures int

	mu    sync.Mutex
	calls int
	conns []*fakeConn
}

func (d *fakeDialer) Dial(context.Context, string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.Failures < 0 || d.calls <= d.Failures {
		return nil, errors.New("fake: connection refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// startClient runs c in the background and stops it on cleanup.
func startClient(t *testing.T, c *Client) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// hook adapts the fake to the package-internal afterFunc type.
func (ft *fakeTimers) hook() afterFunc {
	return func(d time.Duration, f func()) timer { return ft.AfterFunc(d, f) }
}
