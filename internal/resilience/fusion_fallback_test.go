package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/veritas/pkg/provider/fusion"
	fusionmock "github.com/MrWong99/veritas/pkg/provider/fusion/mock"
	"github.com/MrWong99/veritas/pkg/types"
)

func TestFusionFallback_Failover(t *testing.T) {
	primary := &fusionmock.Scorer{ScoreErr: errors.New("connection refused")}
	secondary := &fusionmock.Scorer{ScoreResult: &types.FusionResult{DeceptionScore: 0.3}}

	fb := NewFusionFallback(primary, "http", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})
	fb.AddFallback("rule-based", secondary)

	req := fusion.Request{types.ModalityFace: {0.6, 0.4}}
	for range 3 {
		res, err := fb.Score(context.Background(), req)
		if err != nil {
			t.Fatalf("Score: %v", err)
		}
		if res.DeceptionScore != 0.3 {
			t.Errorf("score = %v, want 0.3", res.DeceptionScore)
		}
	}
	if n := len(primary.Calls()); n != 2 {
		t.Errorf("primary calls = %d, want 2 before the breaker opened", n)
	}
	if n := len(secondary.Calls()); n != 3 {
		t.Errorf("secondary calls = %d, want 3", n)
	}
	if s := fb.States(); s[0].State != "open" {
		t.Errorf("States = %+v, want primary open", s)
	}
}

func TestFusionFallback_NoScoreIsAnAnswer(t *testing.T) {
	primary := &fusionmock.Scorer{}
	secondary := &fusionmock.Scorer{ScoreResult: &types.FusionResult{DeceptionScore: 0.9}}

	fb := NewFusionFallback(primary, "http", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1},
	})
	fb.AddFallback("rule-based", secondary)

	_, err := fb.Score(context.Background(), fusion.Request{})
	if !errors.Is(err, fusion.ErrNoScore) {
		t.Fatalf("err = %v, want ErrNoScore", err)
	}
	if n := len(secondary.Calls()); n != 0 {
		t.Errorf("secondary called %d times, want 0", n)
	}
	if s := fb.States(); s[0].State != "closed" {
		t.Errorf("primary breaker = %s, want closed", s[0].State)
	}
}
