package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"keygate/internal/config"
	apperrors "keygate/internal/errors"
	"keygate/internal/license"
	"keygate/pkg/contracts/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS licenses (
	key              TEXT PRIMARY KEY,
	user_ref         TEXT NOT NULL,
	product_ref      TEXT NOT NULL,
	status           TEXT NOT NULL,
	hardware_id      TEXT,
	source_event_id  TEXT UNIQUE,
	created_at       TIMESTAMP NOT NULL,
	expires_at       TIMESTAMP NOT NULL,
	last_verified_at TIMESTAMP,
	version          INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_licenses_user ON licenses(user_ref);
CREATE INDEX IF NOT EXISTS idx_licenses_due ON licenses(status, expires_at);

CREATE TABLE IF NOT EXISTS payment_events (
	event_id     TEXT PRIMARY KEY,
	provider     TEXT NOT NULL,
	outcome      TEXT NOT NULL,
	license_key  TEXT NOT NULL,
	raw_payload  BLOB,
	processed_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	actor       TEXT NOT NULL,
	action      TEXT NOT NULL,
	license_key TEXT NOT NULL,
	reason      TEXT,
	created_at  TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_license ON audit_log(license_key);
`

// SQLiteStore implements Store on a single SQLite database file.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (creating if needed) the database at cfg.Path and
// ensures the schema exists. Transactions take the write lock up front
// (_txlock=immediate) so read-modify-write sequences serialize.
func NewSQLiteStore(cfg config.StoreConfig, logger *slog.Logger) (*SQLiteStore, error) {
	if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=on&_txlock=immediate&_loc=UTC",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	logger.Info("license store opened",
		slog.String("component", "store"),
		slog.String("path", cfg.Path))

	return &SQLiteStore{
		db:     db,
		logger: logger.With(slog.String("component", "store")),
	}, nil
}

// translateErr wraps driver-level contention errors into the transient
// failure sentinel so callers can retry.
func translateErr(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		if sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked {
			return fmt.Errorf("%w: %v", apperrors.ErrTransientStore, err)
		}
	}
	return err
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

const licenseColumns = "key, user_ref, product_ref, status, hardware_id, source_event_id, created_at, expires_at, last_verified_at, version"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLicense(row rowScanner) (*license.License, error) {
	var (
		lic        license.License
		hardwareID sql.NullString
		sourceID   sql.NullString
		verifiedAt sql.NullTime
	)

	err := row.Scan(&lic.Key, &lic.UserRef, &lic.ProductRef, &lic.Status,
		&hardwareID, &sourceID, &lic.CreatedAt, &lic.ExpiresAt, &verifiedAt, &lic.Version)
	if err != nil {
		return nil, err
	}

	if hardwareID.Valid {
		lic.HardwareID = &hardwareID.String
	}
	if sourceID.Valid {
		lic.SourceEventID = &sourceID.String
	}
	if verifiedAt.Valid {
		t := verifiedAt.Time
		lic.LastVerifiedAt = &t
	}

	return &lic, nil
}

// Create inserts a new license record.
func (s *SQLiteStore) Create(ctx context.Context, lic *license.License) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO licenses (`+licenseColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lic.Key, lic.UserRef, lic.ProductRef, lic.Status,
		nullString(lic.HardwareID), nullString(lic.SourceEventID),
		lic.CreatedAt, lic.ExpiresAt, nullTime(lic.LastVerifiedAt), lic.Version)
	if err != nil {
		return translateErr(err)
	}
	return nil
}

// Get returns the license for key, or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, key string) (*license.License, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+licenseColumns+` FROM licenses WHERE key = ?`, key)

	lic, err := scanLicense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, translateErr(err)
	}
	return lic, nil
}

// ListByUser returns all licenses held by a user, newest first.
func (s *SQLiteStore) ListByUser(ctx context.Context, userRef string) ([]*license.License, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+licenseColumns+` FROM licenses WHERE user_ref = ? ORDER BY created_at DESC`, userRef)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var out []*license.License
	for rows.Next() {
		lic, err := scanLicense(rows)
		if err != nil {
			return nil, translateErr(err)
		}
		out = append(out, lic)
	}
	return out, translateErr(rows.Err())
}

// FindActiveForUser returns the active license a user holds for a product.
func (s *SQLiteStore) FindActiveForUser(ctx context.Context, userRef, productRef string) (*license.License, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+licenseColumns+` FROM licenses
		 WHERE user_ref = ? AND product_ref = ? AND status = ?
		 ORDER BY expires_at DESC LIMIT 1`,
		userRef, productRef, license.StatusActive)

	lic, err := scanLicense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, translateErr(err)
	}
	return lic, nil
}

// Transition moves a license to a new status inside one transaction. The
// transition table is consulted against the row as currently stored, and
// no license whose expiry has passed may return to active.
func (s *SQLiteStore) Transition(ctx context.Context, key string, to license.Status, now time.Time) (*license.License, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, translateErr(err)
	}
	defer tx.Rollback()

	lic, err := getForUpdate(ctx, tx, key)
	if err != nil {
		return nil, err
	}

	if !license.CanTransition(lic.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", apperrors.ErrInvalidTransition, lic.Status, to)
	}
	if to == license.StatusActive && lic.IsExpired(now) {
		return nil, fmt.Errorf("%w: cannot reactivate a license past its expiry", apperrors.ErrPolicyViolation)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE licenses SET status = ?, version = version + 1 WHERE key = ?`,
		to, key); err != nil {
		return nil, translateErr(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, translateErr(err)
	}

	lic.Status = to
	lic.Version++
	return lic, nil
}

// Extend pushes expiry forward by extraDays from whichever is later, now
// or the current expiry. An expired license becomes active again; revoked
// and suspended licenses are not extensible.
func (s *SQLiteStore) Extend(ctx context.Context, key string, extraDays int, now time.Time) (*license.License, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, translateErr(err)
	}
	defer tx.Rollback()

	lic, err := getForUpdate(ctx, tx, key)
	if err != nil {
		return nil, err
	}

	if lic.Status == license.StatusRevoked || lic.Status == license.StatusSuspended {
		return nil, fmt.Errorf("%w: %s licenses cannot be extended", apperrors.ErrInvalidTransition, lic.Status)
	}

	base := lic.ExpiresAt
	if base.Before(now) {
		base = now
	}
	newExpiry := base.AddDate(0, 0, extraDays)

	newStatus := lic.Status
	if lic.Status == license.StatusExpired && newExpiry.After(now) {
		newStatus = license.StatusActive
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE licenses SET expires_at = ?, status = ?, version = version + 1 WHERE key = ?`,
		newExpiry, newStatus, key); err != nil {
		return nil, translateErr(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, translateErr(err)
	}

	lic.ExpiresAt = newExpiry
	lic.Status = newStatus
	lic.Version++
	return lic, nil
}

// BindHardware performs the first-writer-wins compare-and-set. The UPDATE
// is conditioned on the binding slot being empty; zero rows affected means
// someone already bound, and only an equal token is tolerated.
func (s *SQLiteStore) BindHardware(ctx context.Context, key, token string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE licenses SET hardware_id = ?, version = version + 1
		 WHERE key = ? AND hardware_id IS NULL`,
		token, key)
	if err != nil {
		return translateErr(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return translateErr(err)
	}
	if affected == 1 {
		return nil
	}

	lic, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if lic.HardwareID != nil && *lic.HardwareID == token {
		return nil
	}
	return apperrors.ErrHardwareMismatch
}

// ResetHardware clears the hardware binding.
func (s *SQLiteStore) ResetHardware(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE licenses SET hardware_id = NULL, version = version + 1 WHERE key = ?`, key)
	if err != nil {
		return translateErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return translateErr(err)
	}
	if affected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// TouchVerified records a successful verification timestamp.
func (s *SQLiteStore) TouchVerified(ctx context.Context, key string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE licenses SET last_verified_at = ? WHERE key = ?`, at, key)
	return translateErr(err)
}

// MarkExpired flips one license active→expired. The WHERE clause repeats
// the status and expiry condition so a concurrent extension between read
// and write leaves the license untouched.
func (s *SQLiteStore) MarkExpired(ctx context.Context, key string, now time.Time) (*license.License, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE licenses SET status = ?, version = version + 1
		 WHERE key = ? AND status = ? AND expires_at <= ?`,
		license.StatusExpired, key, license.StatusActive, now)
	if err != nil {
		return nil, translateErr(err)
	}
	return s.Get(ctx, key)
}

// MarkExpiredBatch flips up to limit due licenses active→expired.
func (s *SQLiteStore) MarkExpiredBatch(ctx context.Context, now time.Time, limit int) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE licenses SET status = ?, version = version + 1
		 WHERE key IN (
			SELECT key FROM licenses WHERE status = ? AND expires_at <= ? LIMIT ?
		 ) AND status = ? AND expires_at <= ?`,
		license.StatusExpired, license.StatusActive, now, limit, license.StatusActive, now)
	if err != nil {
		return 0, translateErr(err)
	}
	affected, err := res.RowsAffected()
	return affected, translateErr(err)
}

// Fulfill applies a settled payment event exactly once. The idempotency
// lookup, the license mutation and the idempotency insert all share one
// immediate transaction; a replayed event id short-circuits to the result
// the first delivery produced.
func (s *SQLiteStore) Fulfill(ctx context.Context, ev domain.PaymentEvent, now time.Time) (*domain.FulfillmentResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, translateErr(err)
	}
	defer tx.Rollback()

	var priorKey string
	err = tx.QueryRowContext(ctx,
		`SELECT license_key FROM payment_events WHERE event_id = ?`, ev.EventID).Scan(&priorKey)
	if err == nil {
		return &domain.FulfillmentResult{LicenseKey: priorKey, Duplicate: true}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, translateErr(err)
	}

	result := &domain.FulfillmentResult{}

	row := tx.QueryRowContext(ctx,
		`SELECT `+licenseColumns+` FROM licenses
		 WHERE user_ref = ? AND product_ref = ? AND status = ?
		 ORDER BY expires_at DESC LIMIT 1`,
		ev.UserRef, ev.ProductRef, license.StatusActive)

	existing, err := scanLicense(row)
	switch {
	case err == nil:
		// Active entitlement already held: stack the purchased time.
		base := existing.ExpiresAt
		if base.Before(now) {
			base = now
		}
		newExpiry := base.AddDate(0, 0, ev.DurationDays)
		if _, err := tx.ExecContext(ctx,
			`UPDATE licenses SET expires_at = ?, version = version + 1 WHERE key = ?`,
			newExpiry, existing.Key); err != nil {
			return nil, translateErr(err)
		}
		result.LicenseKey = existing.Key
		result.Extended = true

	case errors.Is(err, sql.ErrNoRows):
		key := license.NewKey()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO licenses (`+licenseColumns+`) VALUES (?, ?, ?, ?, NULL, ?, ?, ?, NULL, 1)`,
			key, ev.UserRef, ev.ProductRef, license.StatusActive,
			ev.EventID, now, now.AddDate(0, 0, ev.DurationDays)); err != nil {
			return nil, translateErr(err)
		}
		result.LicenseKey = key

	default:
		return nil, translateErr(err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO payment_events (event_id, provider, outcome, license_key, raw_payload, processed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ev.EventID, ev.Provider, ev.Outcome, result.LicenseKey, ev.Raw, now); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: event %s", apperrors.ErrDuplicateFulfillment, ev.EventID)
		}
		return nil, translateErr(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, translateErr(err)
	}
	return result, nil
}

// RecordAudit appends an administrative audit entry.
func (s *SQLiteStore) RecordAudit(ctx context.Context, actor, action, key, reason string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (actor, action, license_key, reason, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		actor, action, key, reason, at)
	return translateErr(err)
}

// ListAudit returns the audit trail for a license, oldest first.
func (s *SQLiteStore) ListAudit(ctx context.Context, key string) ([]domain.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, actor, action, license_key, reason, created_at
		 FROM audit_log WHERE license_key = ? ORDER BY id ASC`, key)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			entry  domain.AuditEntry
			reason sql.NullString
		)
		if err := rows.Scan(&entry.ID, &entry.Actor, &entry.Action, &entry.LicenseKey, &reason, &entry.CreatedAt); err != nil {
			return nil, translateErr(err)
		}
		entry.Reason = reason.String
		out = append(out, entry)
	}
	return out, translateErr(rows.Err())
}

// Ping verifies store connectivity for readiness checks.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return translateErr(s.db.PingContext(ctx))
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// getForUpdate reads a license inside an open transaction.
func getForUpdate(ctx context.Context, tx *sql.Tx, key string) (*license.License, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+licenseColumns+` FROM licenses WHERE key = ?`, key)

	lic, err := scanLicense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, translateErr(err)
	}
	return lic, nil
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
