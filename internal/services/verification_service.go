// Package services holds the application services sitting between the
// HTTP transport and the license store.
package services

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
	"keygate/internal/license"
	"keygate/internal/store"
	"keygate/pkg/contracts/domain"
)

// VerificationService answers the client-facing license check. It is a
// read path with two sanctioned writes: the lazy expiry flip and the
// first hardware bind.
type VerificationService struct {
	store         store.Store
	exposeReasons bool
	logger        *slog.Logger
	tracer        trace.Tracer
	verifications metric.Int64Counter
}

// NewVerificationService wires a verification service.
func NewVerificationService(st store.Store, exposeReasons bool, logger *slog.Logger, tracer trace.Tracer, meter metric.Meter) (*VerificationService, error) {
	verifications, err := meter.Int64Counter("keygate.verifications",
		metric.WithDescription("License verification requests by result"))
	if err != nil {
		return nil, fmt.Errorf("failed to create verifications counter: %w", err)
	}

	return &VerificationService{
		store:         st,
		exposeReasons: exposeReasons,
		logger:        logger.With(slog.String("service", "verification")),
		tracer:        tracer,
		verifications: verifications,
	}, nil
}

// Verify checks a license key and, when a hardware token rides along,
// enforces or establishes the binding. Failures are reported in the
// response; an error return means the check itself could not run.
func (s *VerificationService) Verify(ctx context.Context, req domain.VerifyRequest) (*domain.VerifyResponse, error) {
	ctx, span := s.tracer.Start(ctx, "verification.Verify")
	defer span.End()

	now := time.Now().UTC()

	lic, err := s.store.Get(ctx, req.LicenseKey)
	if errors.Is(err, apperrors.ErrNotFound) {
		return s.fail(ctx, span, req.LicenseKey, domain.ReasonNotFound), nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	switch lic.Status {
	case license.StatusRevoked:
		return s.fail(ctx, span, lic.Key, domain.ReasonRevoked), nil
	case license.StatusSuspended:
		return s.fail(ctx, span, lic.Key, domain.ReasonSuspended), nil
	case license.StatusExpired:
		return s.fail(ctx, span, lic.Key, domain.ReasonExpired), nil
	}

	if lic.IsExpired(now) {
		// Stored status lags wall-clock expiry; reconcile on read.
		lic, err = s.store.MarkExpired(ctx, lic.Key, now)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if lic.Status == license.StatusExpired {
			return s.fail(ctx, span, lic.Key, domain.ReasonExpired), nil
		}
	}

	if req.HardwareToken != "" {
		if err := s.store.BindHardware(ctx, lic.Key, req.HardwareToken); err != nil {
			if errors.Is(err, apperrors.ErrHardwareMismatch) {
				return s.fail(ctx, span, lic.Key, domain.ReasonMismatch), nil
			}
			span.RecordError(err)
			return nil, err
		}
	}

	if err := s.store.TouchVerified(ctx, lic.Key, now); err != nil {
		// The verdict stands even if the bookkeeping write fails.
		s.logger.WarnContext(ctx, "failed to record verification time",
			slog.String("license_key", lic.Key),
			slog.String("error", err.Error()))
	}

	s.verifications.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "valid")))
	span.SetAttributes(attribute.Bool("license.valid", true))

	s.logger.InfoContext(ctx, "license verified",
		slog.String("license_key", lic.Key),
		slog.String("product_ref", lic.ProductRef))

	expiresAt := lic.ExpiresAt
	return &domain.VerifyResponse{
		Valid:         true,
		ProductRef:    lic.ProductRef,
		ExpiresAt:     &expiresAt,
		DaysRemaining: lic.DaysRemaining(now),
	}, nil
}

// fail builds an invalid-license response. The precise reason is always
// logged and counted; it only reaches the caller when configured to.
func (s *VerificationService) fail(ctx context.Context, span trace.Span, key, reason string) *domain.VerifyResponse {
	s.verifications.Add(ctx, 1, metric.WithAttributes(attribute.String("result", reason)))
	span.SetAttributes(
		attribute.Bool("license.valid", false),
		attribute.String("license.fail_reason", reason),
	)

	s.logger.InfoContext(ctx, "license verification failed",
		slog.String("license_key", key),
		slog.String("reason", reason))

	exposed := domain.ReasonInvalid
	if s.exposeReasons {
		exposed = reason
	}
	return &domain.VerifyResponse{Valid: false, Reason: exposed}
}
