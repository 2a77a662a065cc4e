// Package file implements file-backed capture sources: a directory of still
// frames played back at a fixed frame rate and a 16-bit PCM WAV file paced in
// real time.
package file

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/veritas/pkg/media"
)

var _ media.SeekableVideoSource = (*VideoSource)(nil)

// VideoOption is a functional option for [NewVideoSource].
type VideoOption func(*VideoSource)

// WithLoop restarts playback from the first frame when the last one was shown.
func WithLoop(loop bool) VideoOption {
	return func(v *VideoSource) { v.loop = loop }
}

// WithClock overrides the wall clock. Intended for tests.
func WithClock(now func() time.Time) VideoOption {
	return func(v *VideoSource) { v.now = now }
}

// VideoSource plays a directory of PNG or JPEG frames, sorted by file name, at
// a fixed frame rate. Playback starts immediately.
type VideoSource struct {
	frames []string
	fps    float64
	width  int
	height int
	loop   bool
	now    func() time.Time

	mu sync.Mutex
	// origin is the wall-clock instant that corresponds to offset zero while
	// playing. While paused, pausedAt holds the frozen offset.
	origin   time.Time
	paused   bool
	pausedAt time.Duration

	cacheIdx int
	cacheImg image.Image
}

// NewVideoSource scans dir for frame images and returns a source playing them
// at fps frames per second. The first frame is decoded to learn the dimensions.
func NewVideoSource(dir string, fps float64, opts ...VideoOption) (*VideoSource, error) {
	if fps <= 0 {
		return nil, fmt.Errorf("media/file: fps must be positive, got %v", fps)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("media/file: read frame dir: %w", mapOSError(err))
	}
	var frames []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg":
			frames = append(frames, filepath.Join(dir, e.Name()))
		}
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("media/file: no frames in %q: %w", dir, media.ErrUnsupported)
	}
	slices.Sort(frames)

	v := &VideoSource{frames: frames, fps: fps, now: time.Now, cacheIdx: -1}
	for _, o := range opts {
		o(v)
	}

	f, err := os.Open(frames[0])
	if err != nil {
		return nil, fmt.Errorf("media/file: open first frame: %w", mapOSError(err))
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return nil, fmt.Errorf("media/file: decode %q: %w", frames[0], errors.Join(media.ErrUnsupported, err))
	}
	v.width, v.height = cfg.Width, cfg.Height
	v.origin = v.now()
	return v, nil
}

// Ready implements [media.VideoSource].
func (v *VideoSource) Ready() bool { return len(v.frames) > 0 }

// Paused implements [media.VideoSource].
func (v *VideoSource) Paused() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.paused
}

// Ended implements [media.VideoSource]. A looping source never ends.
func (v *VideoSource) Ended() bool {
	if v.loop {
		return false
	}
	return v.Position() >= v.Duration()
}

// Dimensions implements [media.VideoSource].
func (v *VideoSource) Dimensions() (int, int) { return v.width, v.height }

// Pause freezes playback at the current position.
func (v *VideoSource) Pause() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.paused {
		return
	}
	v.pausedAt = v.positionLocked()
	v.paused = true
}

// Resume continues playback from the paused position.
func (v *VideoSource) Resume() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.paused {
		return
	}
	v.origin = v.now().Add(-v.pausedAt)
	v.paused = false
}

// Position implements [media.Seeker].
func (v *VideoSource) Position() time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.positionLocked()
}

func (v *VideoSource) positionLocked() time.Duration {
	pos := v.pausedAt
	if !v.paused {
		pos = v.now().Sub(v.origin)
	}
	d := v.durationLocked()
	if v.loop && d > 0 {
		return pos % d
	}
	return min(pos, d)
}

// Duration implements [media.Seeker].
func (v *VideoSource) Duration() time.Duration {
	return v.durationLocked()
}

func (v *VideoSource) durationLocked() time.Duration {
	return time.Duration(float64(len(v.frames)) / v.fps * float64(time.Second))
}

// Seek implements [media.Seeker]. Frame files are addressable directly, so the
// seek completes synchronously.
func (v *VideoSource) Seek(ctx context.Context, offset time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if offset < 0 || offset > v.Duration() {
		return fmt.Errorf("media/file: seek offset %v outside [0, %v]", offset, v.Duration())
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.paused {
		v.pausedAt = offset
	} else {
		v.origin = v.now().Add(-offset)
	}
	return nil
}

// Frame implements [media.VideoSource]. The decoded image of the last
// requested frame is cached.
func (v *VideoSource) Frame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v.mu.Lock()
	idx := int(v.positionLocked().Seconds() * v.fps)
	if idx >= len(v.frames) {
		idx = len(v.frames) - 1
	}
	if idx == v.cacheIdx && v.cacheImg != nil {
		img := v.cacheImg
		v.mu.Unlock()
		return img, nil
	}
	path := v.frames[idx]
	v.mu.Unlock()

	img, err := decodeFrame(path)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	v.cacheIdx, v.cacheImg = idx, img
	v.mu.Unlock()
	return img, nil
}

func decodeFrame(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("media/file: open frame: %w", mapOSError(err))
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("media/file: decode %q: %w", path, err)
	}
	return img, nil
}

// mapOSError translates permission failures into [media.ErrPermissionDenied]
// while keeping the original error in the chain.
func mapOSError(err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return errors.Join(media.ErrPermissionDenied, err)
	}
	return err
}
