// Package ingest implements the streaming ingest client: a persistent
// WebSocket link to the transcription and voice-emotion service.
//
// Outbound, captured audio is gated for silence, encoded as 16-bit PCM and
// sent as binary frames, but only while the link is connected. Frames
// produced while disconnected are dropped, never queued. Inbound, JSON
// messages are parsed into a closed set of [Message] types and fed into the
// transcript buffers and the voice smoothing window.
//
// The link reconnects on close with exponential backoff
// (BaseDelay * 2^attempts) until MaxAttempts reconnects have failed. Errors on
// the link are advisory: only a close changes the state. [Client.Fail] moves
// the client into the terminal [StateError] for capture-device failures.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/veritas/internal/observe"
	"github.com/MrWong99/veritas/pkg/audio"
	"github.com/MrWong99/veritas/pkg/types"
)

// ErrClosed is returned by operations on a closed client.
var ErrClosed = errors.New("ingest: client closed")

// Conn is the subset of [websocket.Conn] used by the client.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Dialer opens a streaming connection.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebSocketDialer dials with [websocket.Dial].
type WebSocketDialer struct {
	// Header is sent with the opening handshake. May be nil.
	Header http.Header
}

// Dial implements [Dialer].
func (d WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: d.Header})
	if err != nil {
		return nil, err
	}
	// Classifier messages are small; this bounds a misbehaving peer.
	conn.SetReadLimit(1 << 20)
	return conn, nil
}

// Config holds the client tunables.
type Config struct {
	// BaseDelay is the first reconnect delay. Default: 3s.
	BaseDelay time.Duration

	// MaxAttempts caps automatic reconnects. Default: 5.
	MaxAttempts int

	// DialTimeout bounds one dial. Default: 10s.
	DialTimeout time.Duration

	// WriteTimeout bounds one frame write. Default: 2s.
	WriteTimeout time.Duration

	// SilenceThreshold is the peak amplitude below which a frame is not sent.
	// Default: 0.001.
	SilenceThreshold float32

	// RecentTranscripts caps the buffer feeding fusion. Default: 3.
	RecentTranscripts int

	// TranscriptHistory caps the transcript history. Default: 50.
	TranscriptHistory int

	// FlushInterval is the transcript batch window. Default: 250ms.
	FlushInterval time.Duration

	// VoiceWindow is the number of voice samples averaged. Default: 3.
	VoiceWindow int

	// VoiceTimeout clears the voice window when no sample arrives in time.
	// Default: 1.5s.
	VoiceTimeout time.Duration

	// EventBuffer is the capacity of the events channel. Default: 64.
	EventBuffer int
}

func (c *Config) applyDefaults() {
	if c.BaseDelay <= 0 {
		c.BaseDelay = 3 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 2 * time.Second
	}
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = 0.001
	}
	if c.RecentTranscripts <= 0 {
		c.RecentTranscripts = 3
	}
	if c.TranscriptHistory <= 0 {
		c.TranscriptHistory = 50
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 250 * time.Millisecond
	}
	if c.VoiceWindow <= 0 {
		c.VoiceWindow = 3
	}
	if c.VoiceTimeout <= 0 {
		c.VoiceTimeout = 1500 * time.Millisecond
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 64
	}
}

// ── Events ────────────────────────────────────────────────────────────────────

// Event is published on [Client.Events]. The concrete type is one of
// [StateChanged], [TranscriptAccepted], [HistoryFlushed], [VoiceUpdated] or
// [CaptionUpdated].
type Event interface{ isEvent() }

// StateChanged reports a connection state transition.
type StateChanged struct {
	From, To State
	// Err is set for transitions into [StateError].
	Err error
}

// TranscriptAccepted reports a transcript unit that entered the recent buffer.
type TranscriptAccepted struct {
	Segment types.TranscriptSegment
}

// HistoryFlushed reports a batch of units appended to the history.
type HistoryFlushed struct {
	Batch []types.TranscriptSegment
}

// VoiceUpdated carries the rolling voice average. Average is nil when the
// window was cleared by the inactivity watchdog. Consumers that may lag should
// treat it as a signal and read [Client.VoiceAverage].
type VoiceUpdated struct {
	Average map[string]float64
}

// CaptionUpdated carries the latest interim transcript.
type CaptionUpdated struct {
	Text string
}

func (StateChanged) isEvent()       {}
func (TranscriptAccepted) isEvent() {}
func (HistoryFlushed) isEvent()     {}
func (VoiceUpdated) isEvent()       {}
func (CaptionUpdated) isEvent()     {}

// ── Client ────────────────────────────────────────────────────────────────────

// Option is a functional option for [New].
type Option func(*Client)

// WithDialer replaces the default [WebSocketDialer].
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithMetrics records ingest metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithAfterFunc replaces [time.AfterFunc] for reconnect, flush and watchdog
// timers.
func WithAfterFunc(f func(d time.Duration, fn func()) interface{ Stop() bool }) Option {
	return func(c *Client) {
		c.after = func(d time.Duration, fn func()) timer { return f(d, fn) }
	}
}

// WithClock replaces [time.Now] for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// Client is the streaming ingest client. It is safe for concurrent use.
type Client struct {
	url     string
	cfg     Config
	dialer  Dialer
	metrics *observe.Metrics
	after   afterFunc
	now     func() time.Time

	transcripts *transcriptBuffer
	voice       *voiceWindow

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	state    State
	failErr  error
	attempts int
	conn     Conn
	connGen  uint64
	timer    timer
	caption  string
	closed   bool
	wg       sync.WaitGroup

	evMu     sync.Mutex
	events   chan Event
	evClosed bool
}

// New returns a client for the service at url. Call [Client.Run] to connect.
func New(url string, cfg Config, opts ...Option) *Client {
	cfg.applyDefaults()
	c := &Client{
		url:    url,
		cfg:    cfg,
		dialer: WebSocketDialer{},
		after:  realAfterFunc,
		now:    time.Now,
		events: make(chan Event, cfg.EventBuffer),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	c.transcripts = newTranscriptBuffer(cfg.RecentTranscripts, cfg.TranscriptHistory, cfg.FlushInterval, c.after,
		func(batch []types.TranscriptSegment) { c.emit(HistoryFlushed{Batch: batch}) })
	c.voice = newVoiceWindow(cfg.VoiceWindow, cfg.VoiceTimeout, c.after,
		func(avg map[string]float64) { c.emit(VoiceUpdated{Average: avg}) })
	return c
}

// Events returns the event stream. Sends never block; when the consumer falls
// behind the oldest queued event is dropped, so the newest state always
// arrives. The channel is closed by [Client.Close].
func (c *Client) Events() <-chan Event { return c.events }

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error that moved the client into [StateError], if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failErr
}

// Attempts returns the number of automatic reconnects since the last open.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Recent returns the short transcript buffer that feeds fusion.
func (c *Client) Recent() []types.TranscriptSegment { return c.transcripts.recentSegments() }

// History returns the flushed transcript history.
func (c *Client) History() []types.TranscriptSegment { return c.transcripts.historySegments() }

// VoiceAverage returns the rolling voice average, or nil.
func (c *Client) VoiceAverage() map[string]float64 { return c.voice.average() }

// Caption returns the latest interim transcript.
func (c *Client) Caption() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.caption
}

// Run connects and keeps the link alive until ctx is done or the client is
// closed. It closes the client before returning.
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	runCtx := c.ctx
	c.mu.Unlock()

	c.Connect()
	<-runCtx.Done()
	_ = c.Close()
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

// Connect starts a connection attempt unless one is open or in progress. It
// resets the reconnect counter, so it re-initiates a client that exhausted its
// automatic reconnects.
func (c *Client) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.ctx == nil {
		return
	}
	switch c.state {
	case StateConnecting, StateConnected, StateError:
		return
	}
	c.stopTimerLocked()
	c.attempts = 0
	c.dialLocked()
}

func (c *Client) dialLocked() {
	c.setStateLocked(StateConnecting, nil)
	c.connGen++
	gen := c.connGen
	ctx := c.ctx
	c.wg.Add(1)
	go c.dial(ctx, gen)
}

func (c *Client) dial(ctx context.Context, gen uint64) {
	defer c.wg.Done()

	dctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	conn, err := c.dialer.Dial(dctx, c.url)
	cancel()

	c.mu.Lock()
	if c.closed || gen != c.connGen {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "client closed")
		}
		return
	}
	if err != nil {
		slog.Warn("ingest: dial failed", "url", c.url, "attempt", c.attempts, "err", err)
		c.onCloseLocked()
		c.mu.Unlock()
		return
	}
	c.conn = conn
	c.attempts = 0
	c.setStateLocked(StateConnected, nil)
	c.mu.Unlock()

	slog.Info("ingest: connected", "url", c.url)
	c.readLoop(ctx, conn, gen)
}

// readLoop dispatches inbound messages until the connection closes.
func (c *Client) readLoop(ctx context.Context, conn Conn, gen uint64) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.mu.Lock()
			current := !c.closed && gen == c.connGen
			if current {
				c.conn = nil
				if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
					slog.Warn("ingest: connection lost", "err", err)
				} else {
					slog.Info("ingest: connection closed", "status", websocket.CloseStatus(err))
				}
				c.onCloseLocked()
			}
			c.mu.Unlock()
			if current {
				_ = conn.Close(websocket.StatusNormalClosure, "")
			}
			return
		}
		c.handle(ctx, data)
	}
}

// onCloseLocked moves to disconnected and schedules a reconnect unless the
// attempt cap is reached.
func (c *Client) onCloseLocked() {
	c.setStateLocked(StateDisconnected, nil)
	if c.attempts >= c.cfg.MaxAttempts {
		slog.Warn("ingest: reconnect attempts exhausted", "attempts", c.attempts)
		return
	}
	delay := c.cfg.BaseDelay * time.Duration(1<<c.attempts)
	slog.Info("ingest: reconnect scheduled", "delay", delay, "attempt", c.attempts+1)
	c.timer = c.after(delay, c.reconnect)
}

func (c *Client) reconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timer = nil
	if c.closed || c.state != StateDisconnected {
		return
	}
	c.attempts++
	c.metrics.IngestReconnects.Add(c.ctx, 1)
	c.dialLocked()
}

func (c *Client) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Client) setStateLocked(to State, err error) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	c.emit(StateChanged{From: from, To: to, Err: err})
}

// handle parses and dispatches one inbound frame. Malformed frames are logged
// and dropped.
func (c *Client) handle(ctx context.Context, data []byte) {
	msg, err := ParseMessage(data)
	if err != nil {
		slog.Warn("ingest: dropping message", "err", err)
		c.metrics.IngestMalformed.Add(ctx, 1)
		return
	}
	c.metrics.RecordMessage(ctx, msg.Type())

	switch m := msg.(type) {
	case TextSentiment:
		seg := types.TranscriptSegment{Text: m.Text, Label: m.Label, Score: m.Score, Scored: m.Scored, Start: c.now()}
		if !c.transcripts.add(seg) {
			slog.Debug("ingest: transcript rejected", "text", m.Text)
			return
		}
		c.emit(TranscriptAccepted{Segment: seg})

	case VoiceSentiment:
		if m.Error != "" {
			slog.Warn("ingest: voice service reported an error", "err", m.Error)
		}
		if m.SpeechRatio != nil {
			slog.Debug("ingest: voice sentiment", "speech_ratio", *m.SpeechRatio)
		}
		c.voice.push(m.Emotion, c.now())

	case Partial:
		c.mu.Lock()
		c.caption = m.Text
		c.mu.Unlock()
		c.emit(CaptionUpdated{Text: m.Text})

	case Unknown:
		slog.Debug("ingest: ignoring message", "type", m.Kind)
	}
}

// Send encodes samples and transmits them as one binary frame. Silent frames
// and frames produced while not connected are dropped. Write errors are
// logged; they do not change the state.
func (c *Client) Send(ctx context.Context, samples []float32) error {
	if audio.IsSilent(samples, c.cfg.SilenceThreshold) {
		c.metrics.RecordFrame(ctx, observe.FrameDroppedSilence)
		return nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	conn := c.conn
	connected := c.state == StateConnected && conn != nil
	c.mu.Unlock()
	if !connected {
		c.metrics.RecordFrame(ctx, observe.FrameDroppedDisconnected)
		return nil
	}

	wctx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageBinary, audio.Float32ToPCM16(samples)); err != nil {
		slog.Warn("ingest: write frame", "err", err)
		c.metrics.RecordFrame(ctx, observe.FrameDroppedDisconnected)
		return nil
	}
	c.metrics.RecordFrame(ctx, observe.FrameSent)
	return nil
}

// Fail moves the client into the terminal error state: any pending reconnect
// is cancelled and the link is closed. It is used for capture-device failures.
func (c *Client) Fail(err error) {
	c.mu.Lock()
	if c.closed || c.state == StateError {
		c.mu.Unlock()
		return
	}
	c.stopTimerLocked()
	c.connGen++
	conn := c.conn
	c.conn = nil
	c.failErr = err
	c.setStateLocked(StateError, err)
	c.mu.Unlock()

	slog.Error("ingest: capture failed", "err", err)
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "capture failed")
	}
}

// Close cancels timers, closes the link without reconnecting and waits for
// background goroutines. In-flight callbacks that resolve afterwards are
// no-ops. It is safe to call multiple times.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.stopTimerLocked()
	c.connGen++
	conn := c.conn
	c.conn = nil
	if c.state != StateError {
		c.setStateLocked(StateDisconnected, nil)
	}
	c.closed = true
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	c.transcripts.stop()
	c.voice.stop()

	if conn != nil {
		if err := conn.Close(websocket.StatusNormalClosure, "client closed"); err != nil {
			slog.Debug("ingest: close connection", "err", err)
		}
	}
	c.wg.Wait()

	c.evMu.Lock()
	c.evClosed = true
	close(c.events)
	c.evMu.Unlock()
	return nil
}

func (c *Client) emit(ev Event) {
	c.evMu.Lock()
	defer c.evMu.Unlock()
	if c.evClosed {
		return
	}
	select {
	case c.events <- ev:
		return
	default:
	}
	// emit is the only sender and holds evMu, so one receive makes room.
	select {
	case old := <-c.events:
		slog.Debug("ingest: event dropped", "event", fmt.Sprintf("%T", old))
	default:
	}
	select {
	case c.events <- ev:
	default:
		slog.Debug("ingest: event dropped", "event", fmt.Sprintf("%T", ev))
	}
}
