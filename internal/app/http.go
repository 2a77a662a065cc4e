package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/MrWong99/veritas/internal/observe"
)

// Register adds the session control routes to mux:
//
//   - GET /api/status: the current [Status] as JSON.
//   - POST /api/export: renders the session report and streams the artifact.
//   - GET /api/overlay: the current face overlay as a transparent PNG.
//   - POST /api/reconnect: re-initiates the streaming link.
func (a *App) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/status", a.handleStatus)
	mux.HandleFunc("POST /api/export", a.handleExport)
	mux.HandleFunc("GET /api/overlay", a.handleOverlay)
	mux.HandleFunc("POST /api/reconnect", a.handleReconnect)
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.Status())
}

func (a *App) handleExport(w http.ResponseWriter, r *http.Request) {
	art, err := a.Export(r.Context())
	switch {
	case errors.Is(err, ErrExportDisabled):
		writeError(w, http.StatusNotFound, err)
		return
	case err != nil:
		observe.Logger(r.Context()).Warn("app: export failed", "err", err)
		writeError(w, http.StatusBadGateway, err)
		return
	}

	ct := art.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Length", strconv.Itoa(len(art.Data)))
	if art.Filename != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", art.Filename))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(art.Data); err != nil {
		slog.Debug("app: write export", "err", err)
	}
}

func (a *App) handleOverlay(w http.ResponseWriter, _ *http.Request) {
	if a.loop == nil {
		writeError(w, http.StatusNotFound, errors.New("perception disabled"))
		return
	}
	img := a.loop.Overlay()
	if img == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if err := png.Encode(w, img); err != nil {
		slog.Debug("app: write overlay", "err", err)
	}
}

func (a *App) handleReconnect(w http.ResponseWriter, r *http.Request) {
	if err := a.Reconnect(); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	observe.Logger(r.Context()).Info("app: reconnect requested")
	writeJSON(w, http.StatusAccepted, map[string]string{"connection": a.client.State().String()})
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("app: encode response", "err", err)
	}
}
