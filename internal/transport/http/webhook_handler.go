package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	apperrors "keygate/internal/errors"
	"keygate/internal/fulfillment"
	"keygate/internal/gateway"
	"keygate/internal/middleware"
)

// webhookMaxBody bounds provider payloads; real deliveries are a few KB.
const webhookMaxBody = int64(65536)

// WebhookHandler receives signed payment-provider webhooks, normalizes
// them through the gateway adapters and feeds the fulfillment pipeline.
type WebhookHandler struct {
	pipeline *fulfillment.Pipeline
	stripe   gateway.Adapter
	infinite gateway.Adapter
	logger   *slog.Logger
}

// NewWebhookHandler creates a webhook handler. Either adapter may be nil
// when the gateway is disabled; its route then answers 404.
func NewWebhookHandler(pipeline *fulfillment.Pipeline, stripe, infinite gateway.Adapter, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		pipeline: pipeline,
		stripe:   stripe,
		infinite: infinite,
		logger:   logger.With(slog.String("handler", "webhook")),
	}
}

// Routes returns the router for webhook endpoints.
func (h *WebhookHandler) Routes() chi.Router {
	r := chi.NewRouter()
	if h.stripe != nil {
		r.Post("/stripe", h.handle(h.stripe, "Stripe-Signature"))
	}
	if h.infinite != nil {
		r.Post("/infinitepay", h.handle(h.infinite, "X-Infinitepay-Signature"))
	}
	return r
}

func (h *WebhookHandler) handle(adapter gateway.Adapter, signatureHeader string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := otel.Tracer("keygate/transport").Start(r.Context(), "handler.Webhook")
		defer span.End()
		span.SetAttributes(attribute.String("webhook.provider", adapter.Name()))

		traceID := middleware.GetRequestID(ctx)

		r.Body = http.MaxBytesReader(w, r.Body, webhookMaxBody)
		payload, err := io.ReadAll(r.Body)
		if err != nil {
			h.logger.WarnContext(ctx, "failed to read webhook body",
				slog.String("provider", adapter.Name()),
				slog.String("error", err.Error()))
			render.Render(w, r, apperrors.MapLicenseError(apperrors.InvalidRequestWithError(err), traceID))
			return
		}

		ev, err := adapter.Parse(payload, r.Header.Get(signatureHeader))
		if err != nil {
			h.renderParseError(w, r, ctx, adapter.Name(), err, traceID)
			return
		}

		result, err := h.pipeline.Process(ctx, ev)
		if err != nil {
			span.RecordError(err)
			// Transient failures render 503 so the provider redelivers;
			// idempotency makes the retry safe.
			render.Render(w, r, apperrors.MapLicenseError(err, traceID))
			return
		}

		h.logger.InfoContext(ctx, "webhook processed",
			slog.String("provider", adapter.Name()),
			slog.String("event_id", ev.EventID),
			slog.Bool("duplicate", result.Duplicate))

		render.Status(r, http.StatusOK)
		render.JSON(w, r, map[string]any{
			"received":  true,
			"duplicate": result.Duplicate,
		})
	}
}

// renderParseError maps adapter errors onto responses. Unsupported event
// types are acknowledged with 200 so the provider stops retrying them.
func (h *WebhookHandler) renderParseError(w http.ResponseWriter, r *http.Request, ctx context.Context, provider string, err error, traceID string) {
	switch {
	case errors.Is(err, gateway.ErrUnsupportedEvent):
		h.logger.DebugContext(ctx, "ignoring webhook event",
			slog.String("provider", provider),
			slog.String("reason", err.Error()))
		render.Status(r, http.StatusOK)
		render.JSON(w, r, map[string]any{"received": true, "ignored": true})

	case errors.Is(err, gateway.ErrInvalidSignature):
		h.logger.WarnContext(ctx, "webhook signature verification failed",
			slog.String("provider", provider))
		render.Render(w, r, apperrors.MapLicenseError(
			apperrors.New(http.StatusBadRequest, "INVALID_SIGNATURE", "Webhook signature verification failed"), traceID))

	default:
		h.logger.WarnContext(ctx, "malformed webhook payload",
			slog.String("provider", provider),
			slog.String("error", err.Error()))
		render.Render(w, r, apperrors.MapLicenseError(
			apperrors.New(http.StatusBadRequest, "MALFORMED_PAYLOAD", "Webhook payload could not be processed"), traceID))
	}
}
