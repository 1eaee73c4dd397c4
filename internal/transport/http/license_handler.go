// Package http provides the chi HTTP transport: request decoding and
// validation, RFC 7807 error rendering and route wiring. All domain
// decisions live in the services underneath.
package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	apperrors "keygate/internal/errors"
	"keygate/internal/middleware"
	"keygate/internal/services"
	"keygate/pkg/contracts/domain"
)

// LicenseHandler serves the public verification endpoint.
type LicenseHandler struct {
	service  *services.VerificationService
	logger   *slog.Logger
	validate *validator.Validate
}

// NewLicenseHandler creates a license verification handler.
func NewLicenseHandler(service *services.VerificationService, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		service:  service,
		logger:   logger.With(slog.String("handler", "license")),
		validate: validator.New(),
	}
}

// Routes returns the router for license endpoints.
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/verify", h.Verify)
	return r
}

// Verify handles POST /api/license/verify.
func (h *LicenseHandler) Verify(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("keygate/transport").Start(r.Context(), "handler.Verify")
	defer span.End()

	traceID := middleware.GetRequestID(ctx)

	var req domain.VerifyRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.logger.WarnContext(ctx, "failed to decode verify request",
			slog.String("error", err.Error()))
		render.Render(w, r, apperrors.MapLicenseError(apperrors.InvalidRequestWithError(err), traceID))
		return
	}

	if err := h.validate.Struct(&req); err != nil {
		render.Render(w, r, apperrors.MapLicenseError(apperrors.ErrValidation("license_key", err.Error()), traceID))
		return
	}

	span.SetAttributes(attribute.Bool("request.has_hardware_token", req.HardwareToken != ""))

	resp, err := h.service.Verify(ctx, req)
	if err != nil {
		span.RecordError(err)
		render.Render(w, r, apperrors.MapLicenseError(err, traceID))
		return
	}

	resp.TraceID = traceID
	render.Status(r, http.StatusOK)
	render.JSON(w, r, resp)
}
