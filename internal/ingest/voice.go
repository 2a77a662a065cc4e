package ingest

import (
	"maps"
	"sync"
	"time"

	"github.com/MrWong99/veritas/pkg/types"
)

// voiceWindow smooths voice-emotion samples over the last few arrivals. A
// watchdog empties the window when no sample arrives within the timeout.
type voiceWindow struct {
	size     int
	timeout  time.Duration
	after    afterFunc
	onChange func(avg map[string]float64)

	mu      sync.Mutex
	samples []types.EmotionSample
	timer   timer
	gen     uint64
	stopped bool
}

func newVoiceWindow(size int, timeout time.Duration, after afterFunc, onChange func(map[string]float64)) *voiceWindow {
	return &voiceWindow{size: size, timeout: timeout, after: after, onChange: onChange}
}

// push adds a sample, re-arms the watchdog and publishes the new average.
func (w *voiceWindow) push(scores map[string]float64, at time.Time) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.samples = appendCapped(w.samples, types.EmotionSample{
		Modality: types.ModalityVoice,
		Scores:   maps.Clone(scores),
		At:       at,
	}, w.size)

	if w.timer != nil {
		w.timer.Stop()
	}
	w.gen++
	gen := w.gen
	w.timer = w.after(w.timeout, func() { w.expire(gen) })
	avg := w.averageLocked()
	w.mu.Unlock()

	if w.onChange != nil {
		w.onChange(avg)
	}
}

func (w *voiceWindow) expire(gen uint64) {
	w.mu.Lock()
	if w.stopped || gen != w.gen || len(w.samples) == 0 {
		w.mu.Unlock()
		return
	}
	w.samples = nil
	w.timer = nil
	w.mu.Unlock()

	if w.onChange != nil {
		w.onChange(nil)
	}
}

func (w *voiceWindow) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	w.gen++
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

// average returns the per-category mean, or nil when the window is empty.
func (w *voiceWindow) average() map[string]float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.averageLocked()
}

func (w *voiceWindow) averageLocked() map[string]float64 {
	if len(w.samples) == 0 {
		return nil
	}
	avg := make(map[string]float64)
	for _, s := range w.samples {
		for k, v := range s.Scores {
			avg[k] += v
		}
	}
	n := float64(len(w.samples))
	for k := range avg {
		avg[k] /= n
	}
	return avg
}
