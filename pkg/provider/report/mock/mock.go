// Package mock provides a test double for the report.Renderer interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/veritas/pkg/provider/report"
	"github.com/MrWong99/veritas/pkg/types"
)

var _ report.Renderer = (*Renderer)(nil)

// Renderer is a mock implementation of report.Renderer.
type Renderer struct {
	mu sync.Mutex

	// RenderResult is returned by Render. When nil, an empty PDF artifact is
	// returned.
	RenderResult *report.Artifact

	// RenderErr, if non-nil, is returned as the error from Render.
	RenderErr error

	// RenderCalls records every report passed to Render in order.
	RenderCalls []types.Report
}

// Render records the call and returns RenderResult, RenderErr.
func (r *Renderer) Render(_ context.Context, rep types.Report) (*report.Artifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.RenderCalls = append(r.RenderCalls, rep)
	if r.RenderErr != nil {
		return nil, r.RenderErr
	}
	if r.RenderResult != nil {
		return r.RenderResult, nil
	}
	return &report.Artifact{ContentType: "application/pdf", Filename: "report.pdf"}, nil
}

// Calls returns a copy of the recorded reports.
func (r *Renderer) Calls() []types.Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.Report(nil), r.RenderCalls...)
}
