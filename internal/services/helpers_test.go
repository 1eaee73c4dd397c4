package services

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"keygate/internal/config"
	"keygate/internal/license"
	"keygate/internal/store"
	"keygate/pkg/contracts/domain"
)

func testTracer() trace.Tracer {
	return tracenoop.NewTracerProvider().Tracer("test")
}

func testMeter() metric.Meter {
	return metricnoop.NewMeterProvider().Meter("test")
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	st, err := store.NewSQLiteStore(config.StoreConfig{
		Path:        filepath.Join(t.TempDir(), "services.db"),
		BusyTimeout: 5 * time.Second,
	}, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func seedLicense(t *testing.T, st store.Store, mutate func(*license.License)) *license.License {
	t.Helper()

	now := time.Now().UTC().Truncate(time.Second)
	lic := &license.License{
		Key:        license.NewKey(),
		UserRef:    "user-1",
		ProductRef: "prod-1",
		Status:     license.StatusActive,
		CreatedAt:  now,
		ExpiresAt:  now.AddDate(0, 0, 30),
		Version:    1,
	}
	if mutate != nil {
		mutate(lic)
	}
	require.NoError(t, st.Create(context.Background(), lic))
	return lic
}

// mockStore is a testify mock over the Store interface for error-path
// tests the real store cannot simulate.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) Create(ctx context.Context, lic *license.License) error {
	return m.Called(ctx, lic).Error(0)
}

func (m *mockStore) Get(ctx context.Context, key string) (*license.License, error) {
	args := m.Called(ctx, key)
	lic, _ := args.Get(0).(*license.License)
	return lic, args.Error(1)
}

func (m *mockStore) ListByUser(ctx context.Context, userRef string) ([]*license.License, error) {
	args := m.Called(ctx, userRef)
	out, _ := args.Get(0).([]*license.License)
	return out, args.Error(1)
}

func (m *mockStore) FindActiveForUser(ctx context.Context, userRef, productRef string) (*license.License, error) {
	args := m.Called(ctx, userRef, productRef)
	lic, _ := args.Get(0).(*license.License)
	return lic, args.Error(1)
}

func (m *mockStore) Transition(ctx context.Context, key string, to license.Status, now time.Time) (*license.License, error) {
	args := m.Called(ctx, key, to, now)
	lic, _ := args.Get(0).(*license.License)
	return lic, args.Error(1)
}

func (m *mockStore) Extend(ctx context.Context, key string, extraDays int, now time.Time) (*license.License, error) {
	args := m.Called(ctx, key, extraDays, now)
	lic, _ := args.Get(0).(*license.License)
	return lic, args.Error(1)
}

func (m *mockStore) BindHardware(ctx context.Context, key, token string) error {
	return m.Called(ctx, key, token).Error(0)
}

func (m *mockStore) ResetHardware(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *mockStore) TouchVerified(ctx context.Context, key string, at time.Time) error {
	return m.Called(ctx, key, at).Error(0)
}

func (m *mockStore) MarkExpired(ctx context.Context, key string, now time.Time) (*license.License, error) {
	args := m.Called(ctx, key, now)
	lic, _ := args.Get(0).(*license.License)
	return lic, args.Error(1)
}

func (m *mockStore) MarkExpiredBatch(ctx context.Context, now time.Time, limit int) (int64, error) {
	args := m.Called(ctx, now, limit)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) Fulfill(ctx context.Context, ev domain.PaymentEvent, now time.Time) (*domain.FulfillmentResult, error) {
	args := m.Called(ctx, ev, now)
	res, _ := args.Get(0).(*domain.FulfillmentResult)
	return res, args.Error(1)
}

func (m *mockStore) RecordAudit(ctx context.Context, actor, action, key, reason string, at time.Time) error {
	return m.Called(ctx, actor, action, key, reason, at).Error(0)
}

func (m *mockStore) ListAudit(ctx context.Context, key string) ([]domain.AuditEntry, error) {
	args := m.Called(ctx, key)
	out, _ := args.Get(0).([]domain.AuditEntry)
	return out, args.Error(1)
}

func (m *mockStore) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockStore) Close() error {
	return m.Called().Error(0)
}
