package perception

import (
	"cmp"
	"math"
	"slices"

	"github.com/MrWong99/veritas/pkg/provider/detector"
	"github.com/MrWong99/veritas/pkg/types"
)

// Group maps raw detector probabilities in [0, 1] onto the six display
// categories as percentages rounded to one decimal. Fear and surprise are
// combined into fearful.
func Group(expressions map[string]float64) map[string]float64 {
	raw := make(map[string]float64, len(expressions))
	for k, v := range expressions {
		raw[detector.NormalizeExpression(k)] += v
	}
	pct := func(v float64) float64 { return math.Round(v*1000) / 10 }
	return map[string]float64{
		types.EmotionNeutral:   pct(raw[detector.ExprNeutral]),
		types.EmotionHappy:     pct(raw[detector.ExprHappy]),
		types.EmotionSad:       pct(raw[detector.ExprSad]),
		types.EmotionAngry:     pct(raw[detector.ExprAngry]),
		types.EmotionDisgusted: pct(raw[detector.ExprDisgusted]),
		types.EmotionFearful:   pct(raw[detector.ExprFearful] + raw[detector.ExprSurprised]),
	}
}

// window is the smoothing window of grouped face samples.
type window struct {
	size    int
	samples []map[string]float64
}

func (w *window) push(s map[string]float64) {
	w.samples = append(w.samples, s)
	if len(w.samples) > w.size {
		w.samples = slices.Delete(w.samples, 0, len(w.samples)-w.size)
	}
}

func (w *window) reset() { w.samples = nil }

func (w *window) len() int { return len(w.samples) }

// mean returns the per-category mean in display order. With topK > 0 only the
// topK highest categories are kept, highest first.
func (w *window) mean(topK int) []types.EmotionScore {
	if len(w.samples) == 0 {
		return nil
	}
	out := make([]types.EmotionScore, 0, len(types.FaceEmotions))
	for _, e := range types.FaceEmotions {
		var sum float64
		for _, s := range w.samples {
			sum += s[e]
		}
		out = append(out, types.EmotionScore{Emotion: e, Probability: sum / float64(len(w.samples))})
	}
	if topK > 0 && topK < len(out) {
		slices.SortStableFunc(out, func(a, b types.EmotionScore) int {
			return cmp.Compare(b.Probability, a.Probability)
		})
		out = out[:topK]
	}
	return out
}

// AsMap converts scores to a category-to-percentage map.
func AsMap(scores []types.EmotionScore) map[string]float64 {
	if scores == nil {
		return nil
	}
	m := make(map[string]float64, len(scores))
	for _, s := range scores {
		m[s.Emotion] = s.Probability
	}
	return m
}
