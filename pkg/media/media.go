// Package media defines the capture-source surface the pipeline consumes.
//
// A capture source is owned by whoever presents the session (a file player, a
// device bridge). The pipeline only queries it:
//
//   - [VideoSource]: readiness, pause/ended state, dimensions and the current
//     frame, polled by the perception loop.
//   - [Seeker]: playback position control, used by the session exporter for
//     per-moment snapshots.
//   - [AudioSource]: a stream of float32 sample chunks in [-1, 1], consumed
//     by the streaming ingest client.
//
// Device failures that end a session (permission denied, unsupported device)
// are reported as [ErrPermissionDenied] or [ErrUnsupported] so callers can tell
// them apart from transient errors.
package media

import (
	"context"
	"errors"
	"image"
	"time"
)

var (
	// ErrPermissionDenied is returned when the user or OS refused access to a
	// capture device. It is terminal for the session.
	ErrPermissionDenied = errors.New("media: permission denied")

	// ErrUnsupported is returned when the capture device or file format cannot
	// be used at all. It is terminal for the session.
	ErrUnsupported = errors.New("media: unsupported source")

	// ErrNoFrame is returned by [VideoSource.Frame] when no frame is available yet.
	ErrNoFrame = errors.New("media: no frame available")
)

// IsTerminal reports whether err is a device failure that must end the session
// instead of being retried.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrUnsupported)
}

// VideoSource is the query surface of a live or file-backed video stream.
// Implementations must be safe for concurrent use.
type VideoSource interface {
	// Ready reports whether the source has decoded enough to deliver frames.
	Ready() bool

	// Paused reports whether playback is paused.
	Paused() bool

	// Ended reports whether playback reached the end of the media.
	Ended() bool

	// Dimensions returns the frame size in pixels. Zero values mean unknown.
	Dimensions() (width, height int)

	// Frame returns the frame currently being presented.
	Frame(ctx context.Context) (image.Image, error)
}

// Seeker controls the playback position of a file-backed source.
type Seeker interface {
	// Position returns the current playback offset.
	Position() time.Duration

	// Duration returns the total media length, or zero when unknown (live).
	Duration() time.Duration

	// Seek moves playback to offset and returns once the new position is being
	// presented or ctx is done, whichever happens first.
	Seek(ctx context.Context, offset time.Duration) error
}

// SeekableVideoSource is a [VideoSource] that also supports [Seeker].
type SeekableVideoSource interface {
	VideoSource
	Seeker
}

// AudioSource delivers captured audio as float32 chunks in [-1, 1] at the
// sample rate it was opened with.
type AudioSource interface {
	// Open starts capture. The returned channel is closed when capture stops,
	// either because ctx was cancelled, Close was called or the media ended.
	Open(ctx context.Context) (<-chan []float32, error)

	// Close releases the capture device. Safe to call multiple times.
	Close() error
}
