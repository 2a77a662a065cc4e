// Package report defines the boundary to an external report renderer.
//
// The session exporter builds a [types.Report] and hands it to a [Renderer],
// which returns an opaque [Artifact] (typically a PDF document) for download.
package report

import (
	"context"
	"regexp"

	"github.com/MrWong99/veritas/pkg/types"
)

// Artifact is a rendered report.
type Artifact struct {
	// ContentType is the MIME type of Data, e.g. "application/pdf".
	ContentType string

	// Filename is a suggested download name.
	Filename string

	Data []byte
}

// Renderer is the abstraction over any report-rendering backend.
// Implementations must be safe for concurrent use.
type Renderer interface {
	Render(ctx context.Context, r types.Report) (*Artifact, error)
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// SafeName reduces a session id to characters safe for file names, capped at
// 128 bytes. An empty id becomes "unknown".
func SafeName(sessionID string) string {
	if sessionID == "" {
		return "unknown"
	}
	s := unsafeChars.ReplaceAllString(sessionID, "_")
	if len(s) > 128 {
		s = s[:128]
	}
	return s
}
