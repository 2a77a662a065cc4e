package fusion

import "github.com/MrWong99/veritas/pkg/types"

// Label maps a deception score to its confidence label:
// below 0.2 high-confidence truthful, below 0.5 likely truthful, below 0.8
// likely deceptive, otherwise high-confidence deceptive.
func Label(deception float64) types.ConfidenceLabel {
	switch {
	case deception < 0.2:
		return types.ConfidenceHighTruthful
	case deception < 0.5:
		return types.ConfidenceLikelyTruth
	case deception < 0.8:
		return types.ConfidenceLikelyDecept
	default:
		return types.ConfidenceHighDeceptive
	}
}

// contributing returns the modalities that are locally valid and carry a
// server weight above epsilon, in canonical order, plus the one with the
// largest weight.
func contributing(vectors map[types.Modality]types.ModalityVector, weights map[types.Modality]float64, epsilon float64) ([]types.Modality, types.Modality) {
	var (
		out     []types.Modality
		primary types.Modality
		best    float64
	)
	for _, m := range types.Modalities {
		w := weights[m]
		if !vectors[m].Valid() || w <= epsilon {
			continue
		}
		out = append(out, m)
		if primary == "" || w > best {
			primary, best = m, w
		}
	}
	return out, primary
}
