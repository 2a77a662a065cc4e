package ingest

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/veritas/internal/observe"
	"github.com/MrWong99/veritas/pkg/audio"
	"github.com/MrWong99/veritas/pkg/media"
)

func TestClient_ReconnectBackoff(t *testing.T) {
	t.Parallel()
	timers := newFakeTimers()
	dialer := &fakeDialer{Failures: -1}
	met, reader := newTestMetrics(t)
	base := 100 * time.Millisecond
	c := New("ws://test", Config{BaseDelay: base, MaxAttempts: 5},
		WithDialer(dialer), WithAfterFunc(timers.AfterFunc), WithMetrics(met))
	startClient(t, c)

	var delays []time.Duration
	for range 5 {
		tm := timers.next(t)
		delays = append(delays, tm.d)
		tm.f()
	}
	waitFor(t, time.Second, func() bool {
		return dialer.Calls() == 6 && c.State() == StateDisconnected
	})
	timers.expectNone(t, 50*time.Millisecond)

	want := []time.Duration{base, 2 * base, 4 * base, 8 * base, 16 * base}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay before attempt %d = %v, want %v", i+1, delays[i], want[i])
		}
	}
	if got := counter(t, reader, "veritas.ingest.reconnects", "", ""); got != 5 {
		t.Errorf("reconnects = %d, want 5", got)
	}

	// An external re-initiation starts a fresh cycle.
	c.Connect()
	if tm := timers.next(t); tm.d != base {
		t.Errorf("delay after manual connect = %v, want %v", tm.d, base)
	}
	if n := dialer.Calls(); n != 7 {
		t.Errorf("dial calls = %d, want 7", n)
	}
}

func TestClient_AttemptsResetOnOpen(t *testing.T) {
	t.Parallel()
	timers := newFakeTimers()
	dialer := &fakeDialer{Failures: 2}
	met, _ := newTestMetrics(t)
	base := 10 * time.Millisecond
	c := New("ws://test", Config{BaseDelay: base},
		WithDialer(dialer), WithAfterFunc(timers.AfterFunc), WithMetrics(met))
	startClient(t, c)

	timers.next(t).f()
	second := timers.next(t)
	if second.d != 2*base {
		t.Fatalf("second delay = %v, want %v", second.d, 2*base)
	}
	second.f()
	waitFor(t, time.Second, func() bool { return c.State() == StateConnected })
	if n := c.Attempts(); n != 0 {
		t.Errorf("attempts after open = %d, want 0", n)
	}

	// The peer closes: the client goes back to disconnected and starts over.
	dialer.last().Close(websocket.StatusGoingAway, "")
	tm := timers.next(t)
	if tm.d != base {
		t.Errorf("delay after close = %v, want %v", tm.d, base)
	}
	if s := c.State(); s != StateDisconnected {
		t.Errorf("state = %v, want disconnected", s)
	}
}

func TestClient_SendGating(t *testing.T) {
	t.Parallel()
	timers := newFakeTimers()
	dialer := &fakeDialer{}
	met, reader := newTestMetrics(t)
	c := New("ws://test", Config{}, WithDialer(dialer), WithAfterFunc(timers.AfterFunc), WithMetrics(met))
	ctx := context.Background()
	loud := []float32{0.5, -0.25, 1, -1}

	// Not running yet: frames are dropped, not queued.
	if err := c.Send(ctx, loud); err != nil {
		t.Fatalf("Send while disconnected: %v", err)
	}

	startClient(t, c)
	waitFor(t, time.Second, func() bool { return c.State() == StateConnected })

	if err := c.Send(ctx, []float32{0, 0.0005, -0.0009}); err != nil {
		t.Fatalf("Send silence: %v", err)
	}
	if err := c.Send(ctx, loud); err != nil {
		t.Fatalf("Send: %v", err)
	}

	writes := dialer.last().written()
	if len(writes) != 1 {
		t.Fatalf("frames written = %d, want 1", len(writes))
	}
	if !bytes.Equal(writes[0], audio.Float32ToPCM16(loud)) {
		t.Errorf("frame = %v, want PCM16 of %v", writes[0], loud)
	}

	tests := []struct {
		status string
		want   int64
	}{
		{observe.FrameSent, 1},
		{observe.FrameDroppedSilence, 1},
		{observe.FrameDroppedDisconnected, 1},
	}
	for _, tt := range tests {
		if got := counter(t, reader, "veritas.ingest.frames", "status", tt.status); got != tt.want {
			t.Errorf("frames{status=%s} = %d, want %d", tt.status, got, tt.want)
		}
	}
}

func TestClient_FailIsTerminal(t *testing.T) {
	t.Parallel()
	timers := newFakeTimers()
	dialer := &fakeDialer{}
	met, _ := newTestMetrics(t)
	c := New("ws://test", Config{}, WithDialer(dialer), WithAfterFunc(timers.AfterFunc), WithMetrics(met))
	startClient(t, c)
	waitFor(t, time.Second, func() bool { return c.State() == StateConnected })
	conn := dialer.last()

	c.Fail(media.ErrPermissionDenied)

	if s := c.State(); s != StateError {
		t.Fatalf("state = %v, want error", s)
	}
	if !errors.Is(c.Err(), media.ErrPermissionDenied) {
		t.Errorf("Err() = %v, want ErrPermissionDenied", c.Err())
	}
	if !conn.isClosed() {
		t.Error("connection must be closed")
	}
	timers.expectNone(t, 50*time.Millisecond)

	c.Connect()
	if n := dialer.Calls(); n != 1 {
		t.Errorf("dial calls after Fail = %d, want 1", n)
	}
}

func TestClient_CloseCancelsReconnect(t *testing.T) {
	t.Parallel()
	timers := newFakeTimers()
	dialer := &fakeDialer{Failures: -1}
	met, _ := newTestMetrics(t)
	c := New("ws://test", Config{}, WithDialer(dialer), WithAfterFunc(timers.AfterFunc), WithMetrics(met))
	startClient(t, c)

	tm := timers.next(t)
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !tm.stopped.Load() {
		t.Error("pending reconnect must be stopped")
	}
	// A timer that already fired must be a no-op after Close.
	tm.f()
	if n := dialer.Calls(); n != 1 {
		t.Errorf("dial calls = %d, want 1", n)
	}
	if err := c.Send(context.Background(), []float32{0.5}); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after Close = %v, want ErrClosed", err)
	}
	// Buffered events drain and the channel ends closed.
	for range c.Events() {
	}
}

func TestClient_WebSocketRoundTrip(t *testing.T) {
	t.Parallel()
	frames := make(chan []byte, 4)
	inbound := []string{
		`{"type":"text_sentiment","text":"ok","label":"truthful","score":0.9}`,
		`not json`,
		`{"type":"text_sentiment","text":"  I was at home all night  ","label":"Deceptive","score":0.8}`,
		`{"type":"voice_sentiment","emotion":{"neu":0.5,"hap":0.1,"sad":0.2,"ang":0.2},"speech_ratio":0.8}`,
		`{"type":"partial","text":"and then"}`,
		`{"type":"mystery"}`,
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()

		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		frames <- data
		for _, m := range inbound {
			if err := conn.Write(ctx, websocket.MessageText, []byte(m)); err != nil {
				return
			}
		}
		// Hold the connection open until the client leaves.
		_, _, _ = conn.Read(ctx)
	}))
	t.Cleanup(srv.Close)

	met, reader := newTestMetrics(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c := New(url, Config{FlushInterval: 20 * time.Millisecond, VoiceTimeout: 10 * time.Second}, WithMetrics(met))
	startClient(t, c)
	waitFor(t, 2*time.Second, func() bool { return c.State() == StateConnected })

	samples := []float32{0.5, -0.5, 0.25}
	if err := c.Send(context.Background(), samples); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case got := <-frames:
		if !bytes.Equal(got, audio.Float32ToPCM16(samples)) {
			t.Errorf("server received %v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server received no frame")
	}

	waitFor(t, 2*time.Second, func() bool {
		return len(c.History()) == 1 && c.Caption() == "and then" && c.VoiceAverage() != nil
	})

	recent := c.Recent()
	if len(recent) != 1 {
		t.Fatalf("recent = %v, want one accepted unit", recent)
	}
	if recent[0].Text != "I was at home all night" || recent[0].Label != "deceptive" || recent[0].Score != 0.8 || !recent[0].Scored {
		t.Errorf("recent[0] = %+v", recent[0])
	}
	if avg := c.VoiceAverage(); avg["neu"] != 0.5 || avg["ang"] != 0.2 {
		t.Errorf("voice average = %v", avg)
	}
	if got := counter(t, reader, "veritas.ingest.malformed", "", ""); got != 1 {
		t.Errorf("malformed = %d, want 1", got)
	}
	if got := counter(t, reader, "veritas.ingest.messages", "type", TypeTextSentiment); got != 2 {
		t.Errorf("text_sentiment messages = %d, want 2", got)
	}

	// The connection survived the malformed frame.
	if s := c.State(); s != StateConnected {
		t.Errorf("state = %v, want connected", s)
	}
}

func TestClient_SaturatedEventsKeepNewestVoiceClear(t *testing.T) {
	t.Parallel()
	timers := newFakeTimers()
	met, _ := newTestMetrics(t)
	c := New("ws://test", Config{EventBuffer: 4},
		WithDialer(&fakeDialer{}), WithAfterFunc(timers.AfterFunc), WithMetrics(met))
	t.Cleanup(func() { _ = c.Close() })

	// Nobody drains the events channel.
	var watchdog *fakeTimer
	for range 16 {
		c.handle(context.Background(), []byte(`{"type":"voice_sentiment","emotion":{"neu":0.2,"ang":0.8}}`))
		watchdog = timers.next(t)
	}
	watchdog.f()

	if avg := c.VoiceAverage(); avg != nil {
		t.Fatalf("voice average after watchdog = %v, want nil", avg)
	}
	var last Event
	for n := len(c.Events()); n > 0; n-- {
		last = <-c.Events()
	}
	ev, ok := last.(VoiceUpdated)
	if !ok {
		t.Fatalf("last event = %T, want VoiceUpdated", last)
	}
	if ev.Average != nil {
		t.Errorf("last voice event = %v, want cleared", ev.Average)
	}
}
