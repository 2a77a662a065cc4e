// Package mock provides a test double for the fusion.Scorer interface.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/veritas/pkg/provider/fusion"
	"github.com/MrWong99/veritas/pkg/types"
)

var _ fusion.Scorer = (*Scorer)(nil)

// ScoreCall records a single invocation of Score.
type ScoreCall struct {
	// Request is a copy of the request passed to Score.
	Request fusion.Request
	// At is the wall-clock time of the call.
	At time.Time
}

// Scorer is a mock implementation of fusion.Scorer.
type Scorer struct {
	mu sync.Mutex

	// ScoreResult is returned by Score. When nil and ScoreErr is nil,
	// fusion.ErrNoScore is returned.
	ScoreResult *types.FusionResult

	// ScoreErr, if non-nil, is returned as the error from Score.
	ScoreErr error

	// ScoreFunc, if set, overrides ScoreResult and ScoreErr.
	ScoreFunc func(fusion.Request) (*types.FusionResult, error)

	// Delay simulates service latency. Score honours ctx while waiting.
	Delay time.Duration

	// ScoreCalls records every call to Score in order.
	ScoreCalls []ScoreCall
}

// Score records the call and returns the configured result.
func (s *Scorer) Score(ctx context.Context, req fusion.Request) (*types.FusionResult, error) {
	cp := make(fusion.Request, len(req))
	for k, v := range req {
		cp[k] = append(types.ModalityVector(nil), v...)
	}

	s.mu.Lock()
	s.ScoreCalls = append(s.ScoreCalls, ScoreCall{Request: cp, At: time.Now()})
	delay, fn, res, err := s.Delay, s.ScoreFunc, s.ScoreResult, s.ScoreErr
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if fn != nil {
		return fn(req)
	}
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fusion.ErrNoScore
	}
	out := *res
	return &out, nil
}

// Set replaces the configured result and error while a test is running.
func (s *Scorer) Set(res *types.FusionResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ScoreResult, s.ScoreErr = res, err
}

// Calls returns a copy of the recorded calls.
func (s *Scorer) Calls() []ScoreCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ScoreCall(nil), s.ScoreCalls...)
}
