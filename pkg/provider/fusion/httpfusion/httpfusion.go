// Package httpfusion provides a [fusion.Scorer] that posts vectors to a remote
// fusion-scoring endpoint.
//
// Request body (absent modalities omitted):
//
//	{"face": [0.7, 0.1], "text": [0.2, 0.8]}
//
// Response body:
//
//	{"score": 0.45, "contributions": {"face": 0.5, "text": 0.5}}
package httpfusion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/veritas/pkg/provider/fusion"
	"github.com/MrWong99/veritas/pkg/types"
)

// DefaultBaseURL is the default address of the fusion service.
const DefaultBaseURL = "http://localhost:8000"

// DefaultPath is the scoring route appended to the base URL.
const DefaultPath = "/api/fusion-truthfulness"

var _ fusion.Scorer = (*Scorer)(nil)

// Scorer implements fusion.Scorer over HTTP. It is safe for concurrent use.
type Scorer struct {
	baseURL    string
	path       string
	apiKey     string
	httpClient *http.Client
}

// Option is a functional option for Scorer.
type Option func(*Scorer)

// WithTimeout sets a per-request HTTP timeout. Zero means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Scorer) { s.httpClient.Timeout = d }
}

// WithAPIKey sends key as a bearer token.
func WithAPIKey(key string) Option {
	return func(s *Scorer) { s.apiKey = key }
}

// WithPath overrides DefaultPath.
func WithPath(path string) Option {
	return func(s *Scorer) { s.path = "/" + strings.TrimLeft(path, "/") }
}

// New constructs a Scorer. An empty baseURL selects DefaultBaseURL.
func New(baseURL string, opts ...Option) (*Scorer, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("httpfusion: base URL %q must be http(s)", baseURL)
	}
	s := &Scorer{
		baseURL:    strings.TrimRight(baseURL, "/"),
		path:       DefaultPath,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Score implements fusion.Scorer.
func (s *Scorer) Score(ctx context.Context, req fusion.Request) (*types.FusionResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("httpfusion: marshal request: %w", err)
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+s.path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("httpfusion: build request: %w", err)
	}
	hreq.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		hreq.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("httpfusion: http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("httpfusion: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	res, err := fusion.DecodeResponse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("httpfusion: %w", err)
	}
	return res, nil
}
