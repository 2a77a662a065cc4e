package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/veritas/pkg/provider/fusion"
	"github.com/MrWong99/veritas/pkg/types"
)

// FusionFallback implements [fusion.Scorer] with failover across several
// scoring backends, typically a remote service backed by the in-process
// rule-based scorer. [fusion.ErrNoScore] and context cancellation are treated
// as answers: they neither trip a breaker nor trigger failover.
type FusionFallback struct {
	group *FallbackGroup[fusion.Scorer]
}

var _ fusion.Scorer = (*FusionFallback)(nil)

// NewFusionFallback creates a [FusionFallback] with primary as the preferred
// backend.
func NewFusionFallback(primary fusion.Scorer, primaryName string, cfg FallbackConfig) *FusionFallback {
	if cfg.Permanent == nil {
		cfg.Permanent = func(err error) bool {
			return errors.Is(err, fusion.ErrNoScore) ||
				errors.Is(err, context.Canceled)
		}
	}
	return &FusionFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional scorer.
func (f *FusionFallback) AddFallback(name string, s fusion.Scorer) {
	f.group.AddFallback(name, s)
}

// Score sends req to the first healthy scorer.
func (f *FusionFallback) Score(ctx context.Context, req fusion.Request) (*types.FusionResult, error) {
	return ExecuteWithResult(ctx, f.group, func(s fusion.Scorer) (*types.FusionResult, error) {
		return s.Score(ctx, req)
	})
}

// States reports the breaker state of every backend.
func (f *FusionFallback) States() []EntryState {
	return f.group.States()
}
