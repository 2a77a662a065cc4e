// Package httpreport provides a [report.Renderer] that posts the report payload
// to a remote rendering service and returns the response body verbatim.
package httpreport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/veritas/pkg/provider/report"
	"github.com/MrWong99/veritas/pkg/types"
)

// DefaultBaseURL is the default address of the rendering service.
const DefaultBaseURL = "http://localhost:8000"

// DefaultPath is the export route appended to the base URL.
const DefaultPath = "/api/export-summary"

// maxArtifact bounds the size of a rendered document.
const maxArtifact = 64 << 20

var _ report.Renderer = (*Renderer)(nil)

// Renderer implements report.Renderer over HTTP.
type Renderer struct {
	baseURL    string
	path       string
	apiKey     string
	httpClient *http.Client
}

// Option is a functional option for Renderer.
type Option func(*Renderer)

// WithTimeout sets a per-request HTTP timeout. Rendering is slow; the default
// is 60s.
func WithTimeout(d time.Duration) Option {
	return func(r *Renderer) { r.httpClient.Timeout = d }
}

// WithAPIKey sends key as a bearer token.
func WithAPIKey(key string) Option {
	return func(r *Renderer) { r.apiKey = key }
}

// WithPath overrides DefaultPath.
func WithPath(path string) Option {
	return func(r *Renderer) { r.path = "/" + strings.TrimLeft(path, "/") }
}

// New constructs a Renderer. An empty baseURL selects DefaultBaseURL.
func New(baseURL string, opts ...Option) (*Renderer, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("httpreport: base URL %q must be http(s)", baseURL)
	}
	r := &Renderer{
		baseURL:    strings.TrimRight(baseURL, "/"),
		path:       DefaultPath,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Render implements report.Renderer. A non-2xx response is returned as an
// error carrying the service's "detail" message when present.
func (r *Renderer) Render(ctx context.Context, rep types.Report) (*report.Artifact, error) {
	body, err := json.Marshal(rep)
	if err != nil {
		return nil, fmt.Errorf("httpreport: marshal report: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+r.path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("httpreport: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpreport: http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("httpreport: unexpected status %d: %s", resp.StatusCode, errorDetail(resp.Body))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArtifact))
	if err != nil {
		return nil, fmt.Errorf("httpreport: read artifact: %w", err)
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "application/pdf"
	}
	name := "veritas_" + report.SafeName(rep.SessionID) + ".pdf"
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		name = params["filename"]
	}
	return &report.Artifact{ContentType: ct, Filename: name, Data: data}, nil
}

// errorDetail extracts {"detail": ...} from an error body, falling back to the
// raw text.
func errorDetail(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4096))
	var e struct {
		Detail any `json:"detail"`
	}
	if json.Unmarshal(raw, &e) == nil && e.Detail != nil {
		if s, ok := e.Detail.(string); ok {
			return s
		}
		b, _ := json.Marshal(e.Detail)
		return string(b)
	}
	return strings.TrimSpace(string(raw))
}
