package file

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/veritas/pkg/audio"
	"github.com/MrWong99/veritas/pkg/media"
)

var _ media.AudioSource = (*AudioSource)(nil)

// AudioOption is a functional option for [NewAudioSource].
type AudioOption func(*AudioSource)

// WithChunk sets the duration of audio delivered per chunk. Default: 256ms.
func WithChunk(d time.Duration) AudioOption {
	return func(a *AudioSource) { a.chunk = d }
}

// WithAudioLoop restarts the file from the beginning when it ends.
func WithAudioLoop(loop bool) AudioOption {
	return func(a *AudioSource) { a.loop = loop }
}

// WithoutPacing delivers chunks as fast as the consumer reads them.
func WithoutPacing() AudioOption {
	return func(a *AudioSource) { a.unpaced = true }
}

// AudioSource decodes a 16-bit PCM WAV file, converts it to mono at the
// requested sample rate and delivers it in real-time paced chunks.
type AudioSource struct {
	path    string
	rate    int
	chunk   time.Duration
	loop    bool
	unpaced bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewAudioSource returns a source that will read path when opened. rate is the
// sample rate delivered to the consumer.
func NewAudioSource(path string, rate int, opts ...AudioOption) *AudioSource {
	a := &AudioSource{path: path, rate: rate, chunk: 256 * time.Millisecond}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Open implements [media.AudioSource]. The whole file is decoded up front so
// that format errors surface here rather than mid-stream.
func (a *AudioSource) Open(ctx context.Context) (<-chan []float32, error) {
	data, err := os.ReadFile(a.path)
	if err != nil {
		return nil, fmt.Errorf("media/file: read wav: %w", mapOSError(err))
	}
	w, err := ParseWAV(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	conv := audio.MonoConverter{TargetRate: a.rate}
	samples := audio.PCM16ToFloat32(conv.Convert(w.Data, audio.Format{SampleRate: w.SampleRate, Channels: w.Channels}))
	if len(samples) == 0 {
		return nil, fmt.Errorf("media/file: %q has no audio: %w", a.path, media.ErrUnsupported)
	}

	a.mu.Lock()
	if a.cancel != nil {
		a.mu.Unlock()
		return nil, errors.New("media/file: audio source already open")
	}
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	done := a.done
	a.mu.Unlock()

	out := make(chan []float32, 4)
	go a.pump(ctx, samples, out, done)
	return out, nil
}

func (a *AudioSource) pump(ctx context.Context, samples []float32, out chan<- []float32, done chan struct{}) {
	defer close(done)
	defer close(out)

	n := max(1, int(a.chunk.Seconds()*float64(a.rate)))
	var tick <-chan time.Time
	if !a.unpaced {
		t := time.NewTicker(a.chunk)
		defer t.Stop()
		tick = t.C
	}

	for pos := 0; ; {
		if pos >= len(samples) {
			if !a.loop {
				return
			}
			pos = 0
		}
		end := min(pos+n, len(samples))
		chunk := make([]float32, end-pos)
		copy(chunk, samples[pos:end])
		pos = end

		select {
		case <-ctx.Done():
			return
		case out <- chunk:
		}
		if tick != nil {
			select {
			case <-ctx.Done():
				return
			case <-tick:
			}
		}
	}
}

// Close implements [media.AudioSource]. It stops the pump and waits for the
// output channel to be closed.
func (a *AudioSource) Close() error {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// WAV holds the decoded PCM payload of a WAV file.
type WAV struct {
	SampleRate int
	Channels   int

	// Data is 16-bit signed little-endian interleaved PCM.
	Data []byte
}

// ParseWAV reads a RIFF/WAVE stream. Only uncompressed 16-bit PCM is
// supported; anything else returns [media.ErrUnsupported].
func ParseWAV(r io.Reader) (*WAV, error) {
	var hdr [12]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("media/file: wav header: %w", errors.Join(media.ErrUnsupported, err))
	}
	if string(hdr[0:4]) != "RIFF" || string(hdr[8:12]) != "WAVE" {
		return nil, fmt.Errorf("media/file: not a RIFF/WAVE stream: %w", media.ErrUnsupported)
	}

	var (
		w      WAV
		gotFmt bool
	)
	for {
		var ch [8]byte
		if _, err := io.ReadFull(r, ch[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, fmt.Errorf("media/file: wav has no data chunk: %w", media.ErrUnsupported)
			}
			return nil, fmt.Errorf("media/file: wav chunk: %w", err)
		}
		id := string(ch[0:4])
		size := int64(binary.LittleEndian.Uint32(ch[4:8]))

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("media/file: wav fmt chunk too short: %w", media.ErrUnsupported)
			}
			var f struct {
				AudioFormat   uint16
				Channels      uint16
				SampleRate    uint32
				ByteRate      uint32
				BlockAlign    uint16
				BitsPerSample uint16
			}
			if err := binary.Read(r, binary.LittleEndian, &f); err != nil {
				return nil, fmt.Errorf("media/file: wav fmt: %w", err)
			}
			if f.AudioFormat != 1 || f.BitsPerSample != 16 || f.Channels == 0 {
				return nil, fmt.Errorf("media/file: wav format %d/%d-bit/%dch: %w",
					f.AudioFormat, f.BitsPerSample, f.Channels, media.ErrUnsupported)
			}
			w.SampleRate, w.Channels = int(f.SampleRate), int(f.Channels)
			gotFmt = true
			if err := skip(r, size-16+size%2); err != nil {
				return nil, err
			}
		case "data":
			if !gotFmt {
				return nil, fmt.Errorf("media/file: wav data before fmt: %w", media.ErrUnsupported)
			}
			w.Data = make([]byte, size)
			n, err := io.ReadFull(r, w.Data)
			if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, fmt.Errorf("media/file: wav data: %w", err)
			}
			// Tolerate truncated recordings; keep whole frames only.
			frame := 2 * w.Channels
			w.Data = w.Data[:n-n%frame]
			return &w, nil
		default:
			if err := skip(r, size+size%2); err != nil {
				return nil, err
			}
		}
	}
}

func skip(r io.Reader, n int64) error {
	if n <= 0 {
		return nil
	}
	if _, err := io.CopyN(io.Discard, r, n); err != nil {
		return fmt.Errorf("media/file: wav skip: %w", err)
	}
	return nil
}
