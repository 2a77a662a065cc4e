package ingest

import (
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/veritas/pkg/types"
)

func seg(text string) types.TranscriptSegment {
	return types.TranscriptSegment{Text: text, Label: types.LabelTruthful, Score: 0.6, Scored: true, Start: time.Now()}
}

func TestTranscriptBuffer_RejectsSingleWord(t *testing.T) {
	t.Parallel()
	timers := newFakeTimers()
	b := newTranscriptBuffer(3, 50, time.Second, timers.hook(), nil)

	for _, text := range []string{"ok", "  yes ", ""} {
		if b.add(seg(text)) {
			t.Errorf("add(%q) accepted", text)
		}
	}
	if len(b.recentSegments()) != 0 {
		t.Error("rejected units must not reach the recent buffer")
	}
	timers.expectNone(t, 10*time.Millisecond)
}

func TestTranscriptBuffer_BatchFlush(t *testing.T) {
	t.Parallel()
	timers := newFakeTimers()
	var (
		mu      sync.Mutex
		batches [][]types.TranscriptSegment
	)
	b := newTranscriptBuffer(3, 4, 250*time.Millisecond, timers.hook(), func(batch []types.TranscriptSegment) {
		mu.Lock()
		defer mu.Unlock()
		batches = append(batches, batch)
	})

	for _, text := range []string{"one two", "three four", "five six", "seven eight"} {
		if !b.add(seg(text)) {
			t.Fatalf("add(%q) rejected", text)
		}
	}

	// A single flush timer covers the whole window.
	tm := timers.next(t)
	if tm.d != 250*time.Millisecond {
		t.Errorf("flush delay = %v", tm.d)
	}
	timers.expectNone(t, 10*time.Millisecond)

	recent := b.recentSegments()
	if len(recent) != 3 || recent[0].Text != "three four" {
		t.Errorf("recent = %v, want the last 3 units", recent)
	}
	if len(b.historySegments()) != 0 {
		t.Error("history must wait for the flush")
	}

	tm.f()
	if n := len(b.historySegments()); n != 4 {
		t.Fatalf("history len = %d, want 4", n)
	}
	if len(batches) != 1 || len(batches[0]) != 4 {
		t.Errorf("batches = %v, want one batch of 4", batches)
	}

	// History is capped at every insertion.
	b.add(seg("nine ten"))
	timers.next(t).f()
	h := b.historySegments()
	if len(h) != 4 || h[0].Text != "three four" || h[3].Text != "nine ten" {
		t.Errorf("history = %v", h)
	}
}

func TestTranscriptBuffer_StopCancelsFlush(t *testing.T) {
	t.Parallel()
	timers := newFakeTimers()
	called := false
	b := newTranscriptBuffer(3, 50, time.Second, timers.hook(), func([]types.TranscriptSegment) { called = true })
	b.add(seg("late words"))
	tm := timers.next(t)

	b.stop()
	if !tm.stopped.Load() {
		t.Error("flush timer must be stopped")
	}
	tm.f()
	if called || len(b.historySegments()) != 0 {
		t.Error("flush after stop must be a no-op")
	}
	if b.add(seg("more words")) {
		t.Error("add after stop must be rejected")
	}
}

func TestVoiceWindow_RollingAverage(t *testing.T) {
	t.Parallel()
	timers := newFakeTimers()
	var last map[string]float64
	w := newVoiceWindow(3, 1500*time.Millisecond, timers.hook(), func(avg map[string]float64) { last = avg })

	for _, neu := range []float64{0.9, 0.3, 0.6, 0.0} {
		w.push(map[string]float64{types.VoiceNeutral: neu, types.VoiceAngry: 1 - neu}, time.Now())
		<-timers.added
	}
	// Window of 3 holds 0.3, 0.6, 0.0.
	if got := last[types.VoiceNeutral]; got < 0.2999 || got > 0.3001 {
		t.Errorf("neutral average = %v, want 0.3", got)
	}
	if got := w.average()[types.VoiceAngry]; got < 0.6999 || got > 0.7001 {
		t.Errorf("angry average = %v, want 0.7", got)
	}
}

func TestVoiceWindow_WatchdogClears(t *testing.T) {
	t.Parallel()
	timers := newFakeTimers()
	var (
		updates int
		last    map[string]float64
	)
	w := newVoiceWindow(3, 1500*time.Millisecond, timers.hook(), func(avg map[string]float64) {
		updates++
		last = avg
	})

	w.push(map[string]float64{types.VoiceHappy: 1}, time.Now())
	first := timers.next(t)
	w.push(map[string]float64{types.VoiceHappy: 0.5}, time.Now())
	second := timers.next(t)
	if second.d != 1500*time.Millisecond {
		t.Errorf("watchdog delay = %v", second.d)
	}
	if !first.stopped.Load() {
		t.Error("new sample must re-arm the watchdog")
	}

	// A stale watchdog that fires anyway does nothing.
	first.f()
	if w.average() == nil {
		t.Fatal("stale watchdog cleared the window")
	}

	second.f()
	if w.average() != nil || last != nil {
		t.Error("watchdog must clear the window and publish nil")
	}
	if updates != 3 {
		t.Errorf("updates = %d, want 3", updates)
	}
}
