package ingest

import (
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/veritas/pkg/types"
)

// timer is the subset of [time.Timer] used for scheduled callbacks.
type timer interface {
	Stop() bool
}

// afterFunc schedules f after d. Tests replace it to drive time by hand.
type afterFunc func(d time.Duration, f func()) timer

func realAfterFunc(d time.Duration, f func()) timer { return time.AfterFunc(d, f) }

// transcriptBuffer holds accepted transcript units: a short recent buffer
// that feeds fusion immediately and a longer history that is updated in
// batches.
type transcriptBuffer struct {
	recentCap  int
	historyCap int
	flushEvery time.Duration
	after      afterFunc
	onFlush    func(batch []types.TranscriptSegment)

	mu      sync.Mutex
	recent  []types.TranscriptSegment
	history []types.TranscriptSegment
	pending []types.TranscriptSegment
	timer   timer
	stopped bool
}

func newTranscriptBuffer(recentCap, historyCap int, flushEvery time.Duration, after afterFunc, onFlush func([]types.TranscriptSegment)) *transcriptBuffer {
	return &transcriptBuffer{
		recentCap:  recentCap,
		historyCap: historyCap,
		flushEvery: flushEvery,
		after:      after,
		onFlush:    onFlush,
	}
}

// add accepts seg unless its text has at most one word. It reports whether
// the segment was accepted.
func (b *transcriptBuffer) add(seg types.TranscriptSegment) bool {
	if wordCount(seg.Text) <= 1 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return false
	}
	b.recent = appendCapped(b.recent, seg, b.recentCap)
	b.pending = append(b.pending, seg)
	if b.timer == nil {
		b.timer = b.after(b.flushEvery, b.flush)
	}
	return true
}

// flush moves pending units into the history in one step.
func (b *transcriptBuffer) flush() {
	b.mu.Lock()
	b.timer = nil
	if b.stopped || len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.pending
	b.pending = nil
	for _, seg := range batch {
		b.history = appendCapped(b.history, seg, b.historyCap)
	}
	b.mu.Unlock()

	if b.onFlush != nil {
		b.onFlush(batch)
	}
}

// stop cancels a pending flush. Units not yet flushed are dropped.
func (b *transcriptBuffer) stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
	b.pending = nil
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

func (b *transcriptBuffer) recentSegments() []types.TranscriptSegment {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.recent)
}

func (b *transcriptBuffer) historySegments() []types.TranscriptSegment {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.history)
}

// appendCapped appends v and drops the oldest entries beyond limit.
func appendCapped[T any](s []T, v T, limit int) []T {
	s = append(s, v)
	if limit > 0 && len(s) > limit {
		s = slices.Delete(s, 0, len(s)-limit)
	}
	return s
}
