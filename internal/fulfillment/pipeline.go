// Package fulfillment turns settled payment events into entitlements,
// exactly once per event id. Notification is best-effort and never
// feeds back into the outcome.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	apperrors "keygate/internal/errors"
	"keygate/internal/notify"
	"keygate/internal/store"
	"keygate/pkg/contracts/domain"
)

// Enqueuer is the async notification entry point. A nil Enqueuer
// disables notifications.
type Enqueuer interface {
	Enqueue(msg notify.Message) bool
}

// Pipeline processes normalized payment events.
type Pipeline struct {
	store    store.Store
	notifier Enqueuer
	logger   *slog.Logger
	tracer   trace.Tracer

	fulfillments metric.Int64Counter
	duplicates   metric.Int64Counter
}

// NewPipeline wires a fulfillment pipeline. tracer and meter may come
// from the app's otel providers; pass nil notifier to disable mail.
func NewPipeline(st store.Store, notifier Enqueuer, logger *slog.Logger, tracer trace.Tracer, meter metric.Meter) (*Pipeline, error) {
	fulfillments, err := meter.Int64Counter("keygate.fulfillments",
		metric.WithDescription("Settled payment events fulfilled"))
	if err != nil {
		return nil, fmt.Errorf("failed to create fulfillments counter: %w", err)
	}

	duplicates, err := meter.Int64Counter("keygate.fulfillment_duplicates",
		metric.WithDescription("Replayed payment events absorbed by idempotency"))
	if err != nil {
		return nil, fmt.Errorf("failed to create duplicates counter: %w", err)
	}

	return &Pipeline{
		store:        st,
		notifier:     notifier,
		logger:       logger.With(slog.String("component", "fulfillment")),
		tracer:       tracer,
		fulfillments: fulfillments,
		duplicates:   duplicates,
	}, nil
}

// Process applies one payment event. Settled events grant or extend an
// entitlement; voided and expired events are recorded but never retract
// an already granted license.
func (p *Pipeline) Process(ctx context.Context, ev *domain.PaymentEvent) (*domain.FulfillmentResult, error) {
	ctx, span := p.tracer.Start(ctx, "fulfillment.Process")
	defer span.End()

	span.SetAttributes(
		attribute.String("payment.event_id", ev.EventID),
		attribute.String("payment.provider", ev.Provider),
		attribute.String("payment.outcome", string(ev.Outcome)),
	)

	if ev.Outcome != domain.OutcomeSettled {
		return p.recordNonSettled(ctx, ev)
	}

	now := time.Now().UTC()
	result, err := p.store.Fulfill(ctx, *ev, now)
	if err != nil {
		if errors.Is(err, apperrors.ErrDuplicateFulfillment) {
			// Lost an insert race after the lookup; treat as replay.
			p.duplicates.Add(ctx, 1)
			span.AddEvent("duplicate fulfillment race")
			return p.priorResult(ctx, ev)
		}
		span.RecordError(err)
		p.logger.ErrorContext(ctx, "fulfillment failed",
			slog.String("event_id", ev.EventID),
			slog.String("error", err.Error()))
		return nil, err
	}

	if result.Duplicate {
		p.duplicates.Add(ctx, 1)
		p.logger.InfoContext(ctx, "payment event replayed, returning original result",
			slog.String("event_id", ev.EventID),
			slog.String("license_key", result.LicenseKey))
		return result, nil
	}

	p.fulfillments.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", ev.Provider),
		attribute.Bool("extended", result.Extended)))

	p.logger.InfoContext(ctx, "payment event fulfilled",
		slog.String("event_id", ev.EventID),
		slog.String("license_key", result.LicenseKey),
		slog.Bool("extended", result.Extended))

	p.enqueueNotification(ctx, ev, result)
	return result, nil
}

// recordNonSettled audits voided and expired outcomes without touching
// entitlement. Grants are never auto-retracted on a later void.
func (p *Pipeline) recordNonSettled(ctx context.Context, ev *domain.PaymentEvent) (*domain.FulfillmentResult, error) {
	key := ""
	if lic, err := p.store.FindActiveForUser(ctx, ev.UserRef, ev.ProductRef); err == nil {
		key = lic.Key
	}

	action := "payment_" + string(ev.Outcome)
	if err := p.store.RecordAudit(ctx, ev.Provider, action, key,
		fmt.Sprintf("event %s reported %s", ev.EventID, ev.Outcome), time.Now().UTC()); err != nil {
		p.logger.ErrorContext(ctx, "failed to audit non-settled payment event",
			slog.String("event_id", ev.EventID),
			slog.String("error", err.Error()))
		return nil, err
	}

	p.logger.InfoContext(ctx, "non-settled payment event recorded",
		slog.String("event_id", ev.EventID),
		slog.String("outcome", string(ev.Outcome)))

	return &domain.FulfillmentResult{LicenseKey: key}, nil
}

// priorResult resolves the result of the first delivery of ev.
func (p *Pipeline) priorResult(ctx context.Context, ev *domain.PaymentEvent) (*domain.FulfillmentResult, error) {
	result, err := p.store.Fulfill(ctx, *ev, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (p *Pipeline) enqueueNotification(ctx context.Context, ev *domain.PaymentEvent, result *domain.FulfillmentResult) {
	if p.notifier == nil {
		return
	}

	lic, err := p.store.Get(ctx, result.LicenseKey)
	if err != nil {
		p.logger.WarnContext(ctx, "skipping notification, license lookup failed",
			slog.String("license_key", result.LicenseKey),
			slog.String("error", err.Error()))
		return
	}

	p.notifier.Enqueue(notify.Message{
		Recipient:  ev.UserRef,
		LicenseKey: lic.Key,
		ProductRef: lic.ProductRef,
		ExpiresAt:  lic.ExpiresAt,
		Extended:   result.Extended,
	})
}
