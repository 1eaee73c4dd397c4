package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"keygate/internal/store"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// HealthHandler exposes liveness and readiness probes.
type HealthHandler struct {
	store   store.Store
	logger  *slog.Logger
	started time.Time
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(st store.Store, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		store:   st,
		logger:  logger.With(slog.String("handler", "health")),
		started: time.Now().UTC(),
	}
}

// Routes returns the router for health endpoints.
func (h *HealthHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Live)
	r.Get("/ready", h.Ready)
	r.Get("/version", h.Version)
	return r
}

// Live reports process liveness. It never touches dependencies.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]any{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}

// Ready reports readiness to serve traffic, which requires the store.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.ErrorContext(ctx, "readiness check failed",
			slog.String("error", err.Error()))
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, map[string]any{
			"status": "unavailable",
			"store":  "down",
		})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]any{
		"status": "ok",
		"store":  "up",
	})
}

// Version reports the running build.
func (h *HealthHandler) Version(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]any{
		"version": Version,
		"service": "keygate",
	})
}
