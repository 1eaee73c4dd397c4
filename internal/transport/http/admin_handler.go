package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	apperrors "keygate/internal/errors"
	"keygate/internal/license"
	"keygate/internal/middleware"
	"keygate/internal/services"
	"keygate/pkg/contracts/domain"
)

// AdminHandler serves the operator surface. Operator authentication is
// handled upstream; the X-Operator-Ref header is trusted and recorded.
type AdminHandler struct {
	service  *services.AdminService
	logger   *slog.Logger
	validate *validator.Validate
}

// NewAdminHandler creates an admin handler.
func NewAdminHandler(service *services.AdminService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		service:  service,
		logger:   logger.With(slog.String("handler", "admin")),
		validate: validator.New(),
	}
}

// Routes returns the router for admin endpoints.
func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/licenses", func(r chi.Router) {
		r.Post("/", h.Grant)
		r.Get("/", h.List)

		r.Route("/{key}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Post("/suspend", h.action("suspend"))
			r.Post("/reactivate", h.action("reactivate"))
			r.Post("/revoke", h.action("revoke"))
			r.Post("/extend", h.Extend)
			r.Post("/reset-hwid", h.ResetHardware)
			r.Get("/audit", h.Audit)
		})
	})

	r.Get("/users/{user}/entitlements", h.Entitlements)

	return r
}

// toView converts the internal entity to its wire representation.
func toView(lic *license.License, now time.Time) domain.LicenseView {
	view := domain.LicenseView{
		LicenseKey:     lic.Key,
		UserRef:        lic.UserRef,
		ProductRef:     lic.ProductRef,
		Status:         string(lic.Status),
		HardwareBound:  lic.Bound(),
		CreatedAt:      lic.CreatedAt,
		ExpiresAt:      lic.ExpiresAt,
		LastVerifiedAt: lic.LastVerifiedAt,
		DaysRemaining:  lic.DaysRemaining(now),
	}
	if lic.SourceEventID != nil {
		view.SourceEventID = *lic.SourceEventID
	}
	return view
}

// operatorRef resolves the acting operator from the request.
func operatorRef(r *http.Request, fromBody string) string {
	if header := r.Header.Get("X-Operator-Ref"); header != "" {
		return header
	}
	return fromBody
}

// Grant handles POST /api/admin/licenses.
func (h *AdminHandler) Grant(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("keygate/transport").Start(r.Context(), "handler.Grant")
	defer span.End()

	traceID := middleware.GetRequestID(ctx)

	var req domain.GrantRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, apperrors.MapLicenseError(apperrors.InvalidRequestWithError(err), traceID))
		return
	}
	req.OperatorRef = operatorRef(r, req.OperatorRef)

	if err := h.validate.Struct(&req); err != nil {
		render.Render(w, r, apperrors.MapLicenseError(apperrors.ErrValidation("grant", err.Error()), traceID))
		return
	}

	lic, err := h.service.Grant(ctx, req)
	if err != nil {
		span.RecordError(err)
		render.Render(w, r, apperrors.MapLicenseError(err, traceID))
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, toView(lic, time.Now().UTC()))
}

// List handles GET /api/admin/licenses?user=...
func (h *AdminHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	traceID := middleware.GetRequestID(ctx)

	userRef := r.URL.Query().Get("user")
	if userRef == "" {
		render.Render(w, r, apperrors.MapLicenseError(apperrors.ErrValidation("user", "query parameter required"), traceID))
		return
	}

	licenses, err := h.service.List(ctx, userRef)
	if err != nil {
		render.Render(w, r, apperrors.MapLicenseError(err, traceID))
		return
	}

	now := time.Now().UTC()
	views := make([]domain.LicenseView, 0, len(licenses))
	for _, lic := range licenses {
		views = append(views, toView(lic, now))
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, views)
}

// Get handles GET /api/admin/licenses/{key}.
func (h *AdminHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	traceID := middleware.GetRequestID(ctx)

	lic, err := h.service.Get(ctx, chi.URLParam(r, "key"))
	if err != nil {
		render.Render(w, r, apperrors.MapLicenseError(err, traceID))
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, toView(lic, time.Now().UTC()))
}

// action builds the suspend/reactivate/revoke handlers, which share a
// request shape and differ only in the service call.
func (h *AdminHandler) action(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := otel.Tracer("keygate/transport").Start(r.Context(), "handler."+name)
		defer span.End()
		span.SetAttributes(attribute.String("admin.action", name))

		traceID := middleware.GetRequestID(ctx)
		key := chi.URLParam(r, "key")

		var req domain.AdminActionRequest
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			render.Render(w, r, apperrors.MapLicenseError(apperrors.InvalidRequestWithError(err), traceID))
			return
		}
		req.OperatorRef = operatorRef(r, req.OperatorRef)

		if err := h.validate.Struct(&req); err != nil {
			render.Render(w, r, apperrors.MapLicenseError(apperrors.ErrValidation(name, err.Error()), traceID))
			return
		}

		var (
			lic *license.License
			err error
		)
		switch name {
		case "suspend":
			lic, err = h.service.Suspend(ctx, key, req)
		case "reactivate":
			lic, err = h.service.Reactivate(ctx, key, req)
		case "revoke":
			lic, err = h.service.Revoke(ctx, key, req)
		}
		if err != nil {
			span.RecordError(err)
			render.Render(w, r, apperrors.MapLicenseError(err, traceID))
			return
		}

		render.Status(r, http.StatusOK)
		render.JSON(w, r, toView(lic, time.Now().UTC()))
	}
}

// Extend handles POST /api/admin/licenses/{key}/extend.
func (h *AdminHandler) Extend(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("keygate/transport").Start(r.Context(), "handler.Extend")
	defer span.End()

	traceID := middleware.GetRequestID(ctx)
	key := chi.URLParam(r, "key")

	var req domain.ExtendRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, apperrors.MapLicenseError(apperrors.InvalidRequestWithError(err), traceID))
		return
	}
	req.OperatorRef = operatorRef(r, req.OperatorRef)

	if err := h.validate.Struct(&req); err != nil {
		render.Render(w, r, apperrors.MapLicenseError(apperrors.ErrValidation("extend", err.Error()), traceID))
		return
	}

	lic, err := h.service.Extend(ctx, key, req)
	if err != nil {
		span.RecordError(err)
		render.Render(w, r, apperrors.MapLicenseError(err, traceID))
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, toView(lic, time.Now().UTC()))
}

// ResetHardware handles POST /api/admin/licenses/{key}/reset-hwid.
func (h *AdminHandler) ResetHardware(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	traceID := middleware.GetRequestID(ctx)
	key := chi.URLParam(r, "key")

	var req domain.AdminActionRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, apperrors.MapLicenseError(apperrors.InvalidRequestWithError(err), traceID))
		return
	}
	req.OperatorRef = operatorRef(r, req.OperatorRef)

	if err := h.validate.Struct(&req); err != nil {
		render.Render(w, r, apperrors.MapLicenseError(apperrors.ErrValidation("reset-hwid", err.Error()), traceID))
		return
	}

	if err := h.service.ResetHardware(ctx, key, req); err != nil {
		render.Render(w, r, apperrors.MapLicenseError(err, traceID))
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]any{"reset": true, "license_key": key})
}

// Audit handles GET /api/admin/licenses/{key}/audit.
func (h *AdminHandler) Audit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	traceID := middleware.GetRequestID(ctx)
	key := chi.URLParam(r, "key")

	// Confirm the license exists so unknown keys 404 rather than
	// returning an empty trail.
	if _, err := h.service.Get(ctx, key); err != nil {
		render.Render(w, r, apperrors.MapLicenseError(err, traceID))
		return
	}

	entries, err := h.service.Audit(ctx, key)
	if err != nil {
		render.Render(w, r, apperrors.MapLicenseError(err, traceID))
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, entries)
}

// Entitlements handles GET /api/admin/users/{user}/entitlements?product=...
func (h *AdminHandler) Entitlements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	traceID := middleware.GetRequestID(ctx)

	userRef := chi.URLParam(r, "user")
	productRef := r.URL.Query().Get("product")
	if productRef == "" {
		render.Render(w, r, apperrors.MapLicenseError(apperrors.ErrValidation("product", "query parameter required"), traceID))
		return
	}

	entitled, lic, err := h.service.Entitled(ctx, userRef, productRef)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		render.Render(w, r, apperrors.MapLicenseError(err, traceID))
		return
	}

	resp := map[string]any{
		"user_ref":    userRef,
		"product_ref": productRef,
		"entitled":    entitled,
	}
	if lic != nil {
		resp["license_key"] = lic.Key
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, resp)
}
