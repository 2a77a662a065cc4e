// Package vector maps raw per-modality classifier output onto normalized
// [truthWeight, lieWeight] pairs. All functions are pure.
//
// A nil [types.ModalityVector] means "modality not present". Callers must
// never substitute zeros for an absent modality.
package vector

import (
	"math"
	"strings"

	"github.com/MrWong99/veritas/pkg/types"
)

// Face maps a grouped face distribution (percentages in [0, 100]) to a vector.
// Truth is neutral+happy, lie is angry+sad+disgusted+fearful, both divided by
// 100. An empty distribution yields nil.
func Face(pct map[string]float64) types.ModalityVector {
	if len(pct) == 0 {
		return nil
	}
	truth := pct[types.EmotionNeutral] + pct[types.EmotionHappy]
	lie := pct[types.EmotionAngry] + pct[types.EmotionSad] +
		pct[types.EmotionDisgusted] + pct[types.EmotionFearful]
	return checked(truth/100, lie/100)
}

// Voice maps a voice-emotion distribution (fractions in [0, 1]) to a vector.
// Truth is neu+hap, lie is ang+sad. An empty distribution yields nil.
func Voice(p map[string]float64) types.ModalityVector {
	if len(p) == 0 {
		return nil
	}
	truth := p[types.VoiceNeutral] + p[types.VoiceHappy]
	lie := p[types.VoiceAngry] + p[types.VoiceSad]
	return checked(truth, lie)
}

// Text maps the latest transcript segment to a vector. A truthful label yields
// [score, 1-score] and a deceptive label [1-score, score]. Any other label, a
// nil segment, an unscored segment or a non-finite score yields nil.
func Text(seg *types.TranscriptSegment) types.ModalityVector {
	if seg == nil || !seg.Scored {
		return nil
	}
	s := seg.Score
	switch strings.ToLower(seg.Label) {
	case types.LabelTruthful:
		return checked(s, 1-s)
	case types.LabelDeceptive:
		return checked(1-s, s)
	default:
		return nil
	}
}

func checked(truth, lie float64) types.ModalityVector {
	v := types.ModalityVector{truth, lie}
	if !v.Valid() {
		return nil
	}
	return v
}

// Normalize scales non-negative weights so they sum to one, for proportional
// display only. Scores are never computed from normalized weights. A zero
// total returns an empty map.
func Normalize(weights map[types.Modality]float64) map[types.Modality]float64 {
	var total float64
	for _, w := range weights {
		if w > 0 && !math.IsInf(w, 0) {
			total += w
		}
	}
	out := make(map[types.Modality]float64, len(weights))
	if total == 0 {
		return out
	}
	for m, w := range weights {
		if w > 0 && !math.IsInf(w, 0) {
			out[m] = w / total
		}
	}
	return out
}
