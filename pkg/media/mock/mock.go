// Package mock provides scripted implementations of the [media.VideoSource],
// [media.Seeker] and [media.AudioSource] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. Set the exported fields before use
// (or through the setter methods while a test is running) and inspect the
// recorded calls afterwards.
package mock

import (
	"context"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/MrWong99/veritas/pkg/media"
)

// Compile-time interface assertions.
var (
	_ media.SeekableVideoSource = (*VideoSource)(nil)
	_ media.AudioSource         = (*AudioSource)(nil)
)

// ─── VideoSource ──────────────────────────────────────────────────────────────

// VideoSource is a mock [media.SeekableVideoSource].
type VideoSource struct {
	mu sync.Mutex

	// NotReady, IsPaused and IsEnded control the state queries. The zero value
	// is a ready, playing source.
	NotReady bool
	IsPaused bool
	IsEnded  bool

	// Width and Height are returned by Dimensions.
	Width, Height int

	// FrameResult is returned by Frame. When nil, a solid frame of
	// Width x Height is synthesised, tinted by the current position.
	FrameResult image.Image

	// FrameError is returned by Frame when non-nil.
	FrameError error

	// Length is returned by Duration.
	Length time.Duration

	// SeekDelay simulates a slow seek. Seek honours ctx while waiting.
	SeekDelay time.Duration

	// SeekError is returned by Seek when non-nil.
	SeekError error

	// CallCountFrame records how many times Frame was called.
	CallCountFrame int

	// Seeks records every offset passed to Seek, in order.
	Seeks []time.Duration

	position time.Duration
}

// Ready implements [media.VideoSource].
func (v *VideoSource) Ready() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return !v.NotReady
}

// Paused implements [media.VideoSource].
func (v *VideoSource) Paused() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.IsPaused
}

// Ended implements [media.VideoSource].
func (v *VideoSource) Ended() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.IsEnded
}

// SetPaused toggles the paused state while a test is running.
func (v *VideoSource) SetPaused(p bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.IsPaused = p
}

// Dimensions implements [media.VideoSource].
func (v *VideoSource) Dimensions() (int, int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.Width, v.Height
}

// Frame implements [media.VideoSource].
func (v *VideoSource) Frame(_ context.Context) (image.Image, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.CallCountFrame++
	if v.FrameError != nil {
		return nil, v.FrameError
	}
	if v.FrameResult != nil {
		return v.FrameResult, nil
	}
	if v.Width <= 0 || v.Height <= 0 {
		return nil, media.ErrNoFrame
	}
	img := image.NewRGBA(image.Rect(0, 0, v.Width, v.Height))
	shade := uint8(v.position / time.Second)
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = shade, shade, shade, 0xff
	}
	img.Set(0, 0, color.RGBA{R: 0xff, A: 0xff})
	return img, nil
}

// Position implements [media.Seeker].
func (v *VideoSource) Position() time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.position
}

// SetPosition moves the playback position without recording a seek.
func (v *VideoSource) SetPosition(d time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.position = d
}

// Duration implements [media.Seeker].
func (v *VideoSource) Duration() time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.Length
}

// Seek implements [media.Seeker].
func (v *VideoSource) Seek(ctx context.Context, offset time.Duration) error {
	v.mu.Lock()
	v.Seeks = append(v.Seeks, offset)
	delay, err := v.SeekDelay, v.SeekError
	v.mu.Unlock()

	if err != nil {
		return err
	}
	if delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	v.SetPosition(offset)
	return nil
}

// SeekCalls returns a copy of the recorded seek offsets.
func (v *VideoSource) SeekCalls() []time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]time.Duration, len(v.Seeks))
	copy(out, v.Seeks)
	return out
}

// ─── AudioSource ──────────────────────────────────────────────────────────────

// AudioSource is a mock [media.AudioSource]. Chunks pushed with Push are
// delivered on the channel returned by Open.
type AudioSource struct {
	mu sync.Mutex

	// OpenError is returned by Open when non-nil.
	OpenError error

	// CallCountOpen and CallCountClose record lifecycle calls.
	CallCountOpen  int
	CallCountClose int

	ch     chan []float32
	closed bool
}

// Open implements [media.AudioSource].
func (a *AudioSource) Open(ctx context.Context) (<-chan []float32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.CallCountOpen++
	if a.OpenError != nil {
		return nil, a.OpenError
	}
	if a.ch == nil {
		a.ch = make(chan []float32, 64)
	}
	ch := a.ch
	go func() {
		<-ctx.Done()
		_ = a.Close()
	}()
	return ch, nil
}

// Push delivers chunk to the consumer. It is a no-op after Close.
func (a *AudioSource) Push(chunk []float32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	if a.ch == nil {
		a.ch = make(chan []float32, 64)
	}
	a.ch <- chunk
}

// Close implements [media.AudioSource].
func (a *AudioSource) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.CallCountClose++
	if !a.closed {
		a.closed = true
		if a.ch != nil {
			close(a.ch)
		}
	}
	return nil
}

// Closes returns how many times Close was called.
func (a *AudioSource) Closes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.CallCountClose
}
