package perception

import (
	"math"
	"testing"

	"github.com/MrWong99/veritas/pkg/types"
)

func TestGroup(t *testing.T) {
	t.Parallel()
	got := Group(map[string]float64{
		"neutral":   0.40,
		"Happy":     0.1234,
		"sad":       0.05,
		"anger":     0.05,
		"disgusted": 0.02,
		"fearful":   0.15,
		"surprised": 0.1166,
	})
	want := map[string]float64{
		types.EmotionNeutral:   40,
		types.EmotionHappy:     12.3,
		types.EmotionSad:       5,
		types.EmotionAngry:     5,
		types.EmotionDisgusted: 2,
		types.EmotionFearful:   26.7,
	}
	if len(got) != len(want) {
		t.Fatalf("got %d categories, want %d", len(got), len(want))
	}
	for k, v := range want {
		if math.Abs(got[k]-v) > 1e-9 {
			t.Errorf("%s = %v, want %v", k, got[k], v)
		}
	}
}

func TestWindow_Mean(t *testing.T) {
	t.Parallel()
	w := window{size: 2}
	if w.mean(0) != nil {
		t.Error("empty window must have no mean")
	}
	w.push(map[string]float64{types.EmotionNeutral: 90, types.EmotionAngry: 10})
	w.push(map[string]float64{types.EmotionNeutral: 50, types.EmotionAngry: 30})
	w.push(map[string]float64{types.EmotionNeutral: 70, types.EmotionAngry: 50})
	if w.len() != 2 {
		t.Fatalf("len = %d, want 2", w.len())
	}

	m := AsMap(w.mean(0))
	if m[types.EmotionNeutral] != 60 || m[types.EmotionAngry] != 40 || m[types.EmotionHappy] != 0 {
		t.Errorf("mean = %v", m)
	}
	if len(m) != 6 {
		t.Errorf("mean has %d categories, want 6", len(m))
	}

	top := w.mean(2)
	if len(top) != 2 || top[0].Emotion != types.EmotionNeutral || top[1].Emotion != types.EmotionAngry {
		t.Errorf("top2 = %v", top)
	}
}
