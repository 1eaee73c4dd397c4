package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"keygate/internal/license"
	"keygate/internal/store"
	"keygate/pkg/contracts/domain"
)

// AdminService executes operator commands against licenses. Every
// mutation leaves an audit entry; authorization of the operator happens
// upstream, the operator reference is only recorded.
type AdminService struct {
	store  store.Store
	logger *slog.Logger
	tracer trace.Tracer
}

// NewAdminService wires an admin service.
func NewAdminService(st store.Store, logger *slog.Logger, tracer trace.Tracer) *AdminService {
	return &AdminService{
		store:  st,
		logger: logger.With(slog.String("service", "admin")),
		tracer: tracer,
	}
}

// Grant creates a license outside the payment flow.
func (s *AdminService) Grant(ctx context.Context, req domain.GrantRequest) (*license.License, error) {
	ctx, span := s.tracer.Start(ctx, "admin.Grant")
	defer span.End()

	now := time.Now().UTC()
	lic := &license.License{
		Key:        license.NewKey(),
		UserRef:    req.UserRef,
		ProductRef: req.ProductRef,
		Status:     license.StatusActive,
		CreatedAt:  now,
		ExpiresAt:  now.AddDate(0, 0, req.DurationDays),
		Version:    1,
	}

	if err := s.store.Create(ctx, lic); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to grant license: %w", err)
	}

	s.audit(ctx, req.OperatorRef, "grant", lic.Key, req.Reason)
	s.logger.InfoContext(ctx, "license granted",
		slog.String("license_key", lic.Key),
		slog.String("user_ref", req.UserRef),
		slog.String("operator", req.OperatorRef))

	return lic, nil
}

// Get returns one license.
func (s *AdminService) Get(ctx context.Context, key string) (*license.License, error) {
	return s.store.Get(ctx, key)
}

// List returns a user's licenses.
func (s *AdminService) List(ctx context.Context, userRef string) ([]*license.License, error) {
	return s.store.ListByUser(ctx, userRef)
}

// Suspend pauses an active license.
func (s *AdminService) Suspend(ctx context.Context, key string, req domain.AdminActionRequest) (*license.License, error) {
	return s.transition(ctx, key, license.StatusSuspended, "suspend", req)
}

// Reactivate returns a suspended or expired license to active. The store
// rejects reactivation when the expiry has already passed.
func (s *AdminService) Reactivate(ctx context.Context, key string, req domain.AdminActionRequest) (*license.License, error) {
	return s.transition(ctx, key, license.StatusActive, "reactivate", req)
}

// Revoke permanently invalidates a license.
func (s *AdminService) Revoke(ctx context.Context, key string, req domain.AdminActionRequest) (*license.License, error) {
	return s.transition(ctx, key, license.StatusRevoked, "revoke", req)
}

func (s *AdminService) transition(ctx context.Context, key string, to license.Status, action string, req domain.AdminActionRequest) (*license.License, error) {
	ctx, span := s.tracer.Start(ctx, "admin."+action)
	defer span.End()
	span.SetAttributes(attribute.String("license.key", key))

	now := time.Now().UTC()
	lic, err := s.store.Transition(ctx, key, to, now)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.audit(ctx, req.OperatorRef, action, key, req.Reason)
	s.logger.InfoContext(ctx, "license state changed",
		slog.String("license_key", key),
		slog.String("action", action),
		slog.String("operator", req.OperatorRef))

	return lic, nil
}

// Extend adds time to a license, reviving an expired one.
func (s *AdminService) Extend(ctx context.Context, key string, req domain.ExtendRequest) (*license.License, error) {
	ctx, span := s.tracer.Start(ctx, "admin.Extend")
	defer span.End()
	span.SetAttributes(
		attribute.String("license.key", key),
		attribute.Int("extend.extra_days", req.ExtraDays),
	)

	now := time.Now().UTC()
	lic, err := s.store.Extend(ctx, key, req.ExtraDays, now)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.audit(ctx, req.OperatorRef, "extend", key,
		fmt.Sprintf("%s (+%d days)", req.Reason, req.ExtraDays))
	s.logger.InfoContext(ctx, "license extended",
		slog.String("license_key", key),
		slog.Int("extra_days", req.ExtraDays),
		slog.String("operator", req.OperatorRef))

	return lic, nil
}

// ResetHardware clears a license's hardware binding, the only sanctioned
// way a binding ever changes.
func (s *AdminService) ResetHardware(ctx context.Context, key string, req domain.AdminActionRequest) error {
	ctx, span := s.tracer.Start(ctx, "admin.ResetHardware")
	defer span.End()

	if err := s.store.ResetHardware(ctx, key); err != nil {
		span.RecordError(err)
		return err
	}

	s.audit(ctx, req.OperatorRef, "reset_hwid", key, req.Reason)
	s.logger.InfoContext(ctx, "hardware binding reset",
		slog.String("license_key", key),
		slog.String("operator", req.OperatorRef))

	return nil
}

// Audit returns a license's audit trail.
func (s *AdminService) Audit(ctx context.Context, key string) ([]domain.AuditEntry, error) {
	return s.store.ListAudit(ctx, key)
}

// Entitled reports whether the user holds a live entitlement for a
// product, tolerating a stale stored status.
func (s *AdminService) Entitled(ctx context.Context, userRef, productRef string) (bool, *license.License, error) {
	lic, err := s.store.FindActiveForUser(ctx, userRef, productRef)
	if err != nil {
		return false, nil, err
	}
	if lic.IsExpired(time.Now().UTC()) {
		return false, lic, nil
	}
	return true, lic, nil
}

// audit failures are logged, not propagated: the state change already
// committed and must be reported to the operator.
func (s *AdminService) audit(ctx context.Context, actor, action, key, reason string) {
	if err := s.store.RecordAudit(ctx, actor, action, key, reason, time.Now().UTC()); err != nil {
		s.logger.ErrorContext(ctx, "failed to write audit entry",
			slog.String("license_key", key),
			slog.String("action", action),
			slog.String("error", err.Error()))
	}
}
