// Package health serves liveness and readiness probes for a running session.
//
//   - GET /healthz answers 200 while the process can serve HTTP.
//   - GET /readyz runs every registered [Checker] concurrently and answers 200
//     only when all of them pass, 503 otherwise.
//
// The pipeline registers the [Ingest], [Source] and [Fusion] checkers.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds each readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness probe. Check returns nil when the dependency
// is usable.
type Checker struct {
	// Name keys the check in the response, e.g. "ingest".
	Name string

	// Check must respect context cancellation.
	Check func(ctx context.Context) error
}

// CheckResult is the outcome of one [Checker].
type CheckResult struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// Report is the JSON body of both endpoints.
type Report struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Handler serves the probes. The checker list is fixed at construction.
type Handler struct {
	checkers []Checker
	now      func() time.Time
}

// New returns a [Handler] evaluating checkers on every /readyz request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...), now: time.Now}
}

// Healthz always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Report{Status: "ok"})
}

// Readyz answers 200 when [Handler.Evaluate] reports every check passing.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := h.Evaluate(r.Context())
	status := http.StatusOK
	if rep.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, rep)
}

// Evaluate runs all checkers concurrently, each under its own timeout.
func (h *Handler) Evaluate(ctx context.Context) Report {
	rep := Report{Status: "ok", Checks: make(map[string]CheckResult, len(h.checkers))}
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			start := h.now()
			err := c.Check(cctx)
			res := CheckResult{Status: "ok", LatencyMS: h.now().Sub(start).Milliseconds()}
			if err != nil {
				res.Status, res.Error = "fail", err.Error()
			}

			mu.Lock()
			defer mu.Unlock()
			rep.Checks[c.Name] = res
			if err != nil {
				rep.Status = "fail"
			}
			return nil
		})
	}
	_ = g.Wait()
	return rep
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
