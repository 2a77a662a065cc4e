// Package faceapi provides a [detector.Detector] backed by an HTTP
// face-expression service.
//
// Each frame is PNG-encoded, base64-wrapped and posted as JSON to
// {baseURL}/detect:
//
//	{"image": "<base64 png>", "model": "tiny"}
//
// The service answers with zero or more faces; the first is used:
//
//	{"faces": [{"box": {"x": 10, "y": 20, "width": 80, "height": 90},
//	            "expressions": {"neutral": 0.7, "happy": 0.1, ...}}]}
//
// Category names are normalized with [detector.NormalizeExpression], so
// services emitting "fear"/"disgust"/"surprise" work unchanged.
package faceapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/veritas/pkg/provider/detector"
)

// DefaultBaseURL is the default address of a locally running detector service.
const DefaultBaseURL = "http://localhost:8001"

var _ detector.Detector = (*Detector)(nil)

// Detector implements detector.Detector over HTTP. It is safe for concurrent use.
type Detector struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// Option is a functional option for Detector.
type Option func(*Detector)

// WithTimeout sets a per-request HTTP timeout. Zero means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Detector) { p.httpClient.Timeout = d }
}

// WithAPIKey sends key as a bearer token.
func WithAPIKey(key string) Option {
	return func(p *Detector) { p.apiKey = key }
}

// WithModel selects a model variant on services that host several.
func WithModel(model string) Option {
	return func(p *Detector) { p.model = model }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Detector) { p.httpClient = c }
}

// New constructs a Detector. An empty baseURL selects DefaultBaseURL.
func New(baseURL string, opts ...Option) (*Detector, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("faceapi: base URL %q must be http(s)", baseURL)
	}
	d := &Detector{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

type detectRequest struct {
	Image string `json:"image"`
	Model string `json:"model,omitempty"`
}

type box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type face struct {
	Box         box                `json:"box"`
	Expressions map[string]float64 `json:"expressions"`
}

type detectResponse struct {
	Faces []face `json:"faces"`
}

// Detect implements detector.Detector.
func (d *Detector) Detect(ctx context.Context, frame image.Image) (*detector.Detection, error) {
	var img bytes.Buffer
	if err := png.Encode(&img, frame); err != nil {
		return nil, fmt.Errorf("faceapi: encode frame: %w", err)
	}
	body, err := json.Marshal(detectRequest{
		Image: base64.StdEncoding.EncodeToString(img.Bytes()),
		Model: d.model,
	})
	if err != nil {
		return nil, fmt.Errorf("faceapi: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/detect", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("faceapi: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.apiKey)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("faceapi: http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("faceapi: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var result detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("faceapi: decode response: %w", err)
	}
	if len(result.Faces) == 0 {
		return nil, nil
	}

	f := result.Faces[0]
	exprs := make(map[string]float64, len(f.Expressions))
	for k, v := range f.Expressions {
		exprs[detector.NormalizeExpression(k)] += v
	}
	return &detector.Detection{
		Box: image.Rect(
			int(f.Box.X), int(f.Box.Y),
			int(f.Box.X+f.Box.Width), int(f.Box.Y+f.Box.Height),
		),
		Expressions: exprs,
	}, nil
}
