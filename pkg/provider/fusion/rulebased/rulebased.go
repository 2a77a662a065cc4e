// Package rulebased provides an in-process [fusion.Scorer] that needs no
// network access.
//
// The deception score is the mean lie weight over every present modality.
// A valid vector whose components are both zero counts as absent. Each present
// modality receives an equal contribution of 1/n. With no present modality the
// scorer returns [fusion.ErrNoScore].
package rulebased

import (
	"context"

	"github.com/MrWong99/veritas/pkg/provider/fusion"
	"github.com/MrWong99/veritas/pkg/types"
)

var _ fusion.Scorer = Scorer{}

// Scorer is the rule-based scorer. The zero value is ready to use.
type Scorer struct{}

// New returns a Scorer.
func New() Scorer { return Scorer{} }

// Score implements fusion.Scorer.
func (Scorer) Score(ctx context.Context, req fusion.Request) (*types.FusionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		present []types.Modality
		sum     float64
	)
	for _, m := range req.Present() {
		v := req[m]
		if v.Truth() == 0 && v.Lie() == 0 {
			continue
		}
		present = append(present, m)
		sum += v.Lie()
	}
	if len(present) == 0 {
		return nil, fusion.ErrNoScore
	}

	score := min(max(sum/float64(len(present)), 0), 1)
	share := 1 / float64(len(present))
	contrib := make(map[types.Modality]float64, len(types.Modalities))
	for _, m := range types.Modalities {
		contrib[m] = 0
	}
	for _, m := range present {
		contrib[m] = share
	}
	return &types.FusionResult{DeceptionScore: score, Contributions: contrib}, nil
}
