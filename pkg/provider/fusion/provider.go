// Package fusion defines the boundary to an external fusion-scoring service.
//
// A [Request] carries one [types.ModalityVector] per present modality; the
// scorer answers with a deception probability and per-modality contribution
// weights. Absent or invalid vectors are never serialized, so the service only
// sees modalities that are actually present.
//
// Implementations must be safe for concurrent use.
package fusion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/MrWong99/veritas/pkg/types"
)

// ErrNoScore is returned when the service answered but produced no score,
// e.g. because it considered every modality absent.
var ErrNoScore = errors.New("fusion: no score")

// Scorer is the abstraction over any fusion-scoring backend.
type Scorer interface {
	// Score fuses the vectors in req. It returns [ErrNoScore] when the backend
	// declined to score and any other error for transport or decode failures.
	Score(ctx context.Context, req Request) (*types.FusionResult, error)
}

// Request maps modalities to their current vectors. Missing keys, nil vectors
// and invalid vectors all mean "modality not present".
type Request map[types.Modality]types.ModalityVector

// Present returns the modalities with a valid vector, in canonical order.
func (r Request) Present() []types.Modality {
	var out []types.Modality
	for _, m := range types.Modalities {
		if r[m].Valid() {
			out = append(out, m)
		}
	}
	return out
}

// MarshalJSON implements [json.Marshaler]. Only valid vectors are emitted and
// keys are ordered, so equal requests always produce identical bytes.
func (r Request) MarshalJSON() ([]byte, error) {
	clean := make(map[types.Modality][]float64, len(r))
	for _, m := range r.Present() {
		clean[m] = []float64(r[m])
	}
	return json.Marshal(clean)
}

// response is the wire form of a fusion reply.
type response struct {
	Score         *float64           `json:"score"`
	Contributions map[string]float64 `json:"contributions"`
}

// DecodeResponse parses a fusion reply of the form
//
//	{"score": 0.42, "contributions": {"face": 0.5, "voice": 0.5}}
//
// A null or missing score yields [ErrNoScore]. A score outside [0, 1] is an
// error. Negative or non-finite contributions are dropped and unknown modality
// keys are ignored.
func DecodeResponse(r io.Reader) (*types.FusionResult, error) {
	var resp response
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return nil, fmt.Errorf("fusion: decode response: %w", err)
	}
	if resp.Score == nil {
		return nil, ErrNoScore
	}
	s := *resp.Score
	if math.IsNaN(s) || s < 0 || s > 1 {
		return nil, fmt.Errorf("fusion: score %v outside [0, 1]", s)
	}

	contrib := make(map[types.Modality]float64, len(types.Modalities))
	for _, m := range types.Modalities {
		w, ok := resp.Contributions[string(m)]
		if !ok || math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			continue
		}
		contrib[m] = w
	}
	return &types.FusionResult{DeceptionScore: s, Contributions: contrib}, nil
}
