// Package jsonfile provides an offline [report.Renderer] that writes the report
// payload as indented JSON into a directory.
package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/MrWong99/veritas/pkg/provider/report"
	"github.com/MrWong99/veritas/pkg/types"
)

var _ report.Renderer = (*Renderer)(nil)

// Renderer writes reports to Dir. The artifact returned to the caller is the
// same JSON document.
type Renderer struct {
	dir string
}

// New returns a Renderer writing into dir, creating it if needed.
func New(dir string) (*Renderer, error) {
	if dir == "" {
		return nil, fmt.Errorf("jsonfile: directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("jsonfile: create %q: %w", dir, err)
	}
	return &Renderer{dir: dir}, nil
}

// Render implements report.Renderer.
func (r *Renderer) Render(ctx context.Context, rep types.Report) (*report.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("jsonfile: marshal report: %w", err)
	}
	name := "veritas_" + report.SafeName(rep.SessionID) + ".json"
	path := filepath.Join(r.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return nil, fmt.Errorf("jsonfile: write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return nil, fmt.Errorf("jsonfile: rename: %w", err)
	}
	return &report.Artifact{ContentType: "application/json", Filename: name, Data: data}, nil
}
