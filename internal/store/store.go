// Package store provides the durable license store. It owns uniqueness
// and state invariants: every mutation runs inside a transaction and
// consults the transition rules in internal/license before writing.
package store

import (
	"context"
	"time"

	"keygate/internal/license"
	"keygate/pkg/contracts/domain"
)

// Store is the persistence contract consumed by the services and the
// fulfillment pipeline. *SQLiteStore is the production implementation.
type Store interface {
	// Create inserts a new license record.
	Create(ctx context.Context, lic *license.License) error

	// Get returns the license for key, or ErrNotFound.
	Get(ctx context.Context, key string) (*license.License, error)

	// ListByUser returns all licenses held by a user, newest first.
	ListByUser(ctx context.Context, userRef string) ([]*license.License, error)

	// FindActiveForUser returns the active license a user holds for a
	// product, or ErrNotFound.
	FindActiveForUser(ctx context.Context, userRef, productRef string) (*license.License, error)

	// Transition moves a license to a new status, enforcing the
	// transition table and the no-resurrection policy for time-expired
	// licenses.
	Transition(ctx context.Context, key string, to license.Status, now time.Time) (*license.License, error)

	// Extend pushes expiry forward by extraDays from max(now, expires_at)
	// and re-activates an expired license when the new expiry is in the
	// future.
	Extend(ctx context.Context, key string, extraDays int, now time.Time) (*license.License, error)

	// BindHardware binds token to the license if and only if no token is
	// bound yet. Binding the already-bound token is a no-op; a different
	// token returns ErrHardwareMismatch.
	BindHardware(ctx context.Context, key, token string) error

	// ResetHardware clears the hardware binding.
	ResetHardware(ctx context.Context, key string) error

	// TouchVerified records a successful verification timestamp.
	TouchVerified(ctx context.Context, key string, at time.Time) error

	// MarkExpired flips a single license active→expired, conditioned on
	// status and expiry at write time. Returns the refreshed record.
	MarkExpired(ctx context.Context, key string, now time.Time) (*license.License, error)

	// MarkExpiredBatch flips up to limit due licenses active→expired and
	// returns how many rows changed.
	MarkExpiredBatch(ctx context.Context, now time.Time, limit int) (int64, error)

	// Fulfill applies a settled payment event exactly once: the
	// idempotency record and the license mutation commit in the same
	// transaction. Replays return the original result with Duplicate set.
	Fulfill(ctx context.Context, ev domain.PaymentEvent, now time.Time) (*domain.FulfillmentResult, error)

	// RecordAudit appends an administrative audit entry.
	RecordAudit(ctx context.Context, actor, action, key, reason string, at time.Time) error

	// ListAudit returns the audit trail for a license, oldest first.
	ListAudit(ctx context.Context, key string) ([]domain.AuditEntry, error)

	// Ping verifies store connectivity for readiness checks.
	Ping(ctx context.Context) error

	// Close releases the underlying database handle.
	Close() error
}
