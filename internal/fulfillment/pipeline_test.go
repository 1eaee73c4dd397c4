package fulfillment

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"keygate/internal/config"
	"keygate/internal/license"
	"keygate/internal/notify"
	"keygate/internal/store"
	"keygate/pkg/contracts/domain"
)

type captureEnqueuer struct {
	messages []notify.Message
}

func (c *captureEnqueuer) Enqueue(msg notify.Message) bool {
	c.messages = append(c.messages, msg)
	return true
}

func newTestPipeline(t *testing.T) (*Pipeline, store.Store, *captureEnqueuer) {
	t.Helper()

	st, err := store.NewSQLiteStore(config.StoreConfig{
		Path:        filepath.Join(t.TempDir(), "pipeline.db"),
		BusyTimeout: 5 * time.Second,
	}, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	enq := &captureEnqueuer{}
	p, err := NewPipeline(st, enq, slog.Default(),
		tracenoop.NewTracerProvider().Tracer("test"),
		metricnoop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)

	return p, st, enq
}

func settledEvent(id string) *domain.PaymentEvent {
	return &domain.PaymentEvent{
		EventID:      id,
		Provider:     "stripe",
		Outcome:      domain.OutcomeSettled,
		UserRef:      "buyer@example.com",
		ProductRef:   "prod-1",
		DurationDays: 30,
	}
}

func TestProcessSettledGrantsLicense(t *testing.T) {
	p, st, enq := newTestPipeline(t)
	ctx := context.Background()

	result, err := p.Process(ctx, settledEvent("evt-1"))
	require.NoError(t, err)
	assert.False(t, result.Duplicate)
	assert.NotEmpty(t, result.LicenseKey)

	lic, err := st.Get(ctx, result.LicenseKey)
	require.NoError(t, err)
	assert.Equal(t, license.StatusActive, lic.Status)

	require.Len(t, enq.messages, 1)
	assert.Equal(t, "buyer@example.com", enq.messages[0].Recipient)
	assert.Equal(t, result.LicenseKey, enq.messages[0].LicenseKey)
}

func TestProcessReplayReturnsOriginalKey(t *testing.T) {
	p, st, enq := newTestPipeline(t)
	ctx := context.Background()

	first, err := p.Process(ctx, settledEvent("evt-dup"))
	require.NoError(t, err)

	second, err := p.Process(ctx, settledEvent("evt-dup"))
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.LicenseKey, second.LicenseKey)

	// Replays do not notify again.
	assert.Len(t, enq.messages, 1)

	licenses, err := st.ListByUser(ctx, "buyer@example.com")
	require.NoError(t, err)
	assert.Len(t, licenses, 1)
}

func TestProcessSecondPurchaseExtends(t *testing.T) {
	p, _, enq := newTestPipeline(t)
	ctx := context.Background()

	first, err := p.Process(ctx, settledEvent("evt-a"))
	require.NoError(t, err)

	second, err := p.Process(ctx, settledEvent("evt-b"))
	require.NoError(t, err)

	assert.True(t, second.Extended)
	assert.Equal(t, first.LicenseKey, second.LicenseKey)

	require.Len(t, enq.messages, 2)
	assert.True(t, enq.messages[1].Extended)
}

func TestProcessVoidedNeverRetracts(t *testing.T) {
	p, st, enq := newTestPipeline(t)
	ctx := context.Background()

	granted, err := p.Process(ctx, settledEvent("evt-1"))
	require.NoError(t, err)

	voided := settledEvent("evt-void")
	voided.Outcome = domain.OutcomeVoided

	_, err = p.Process(ctx, voided)
	require.NoError(t, err)

	// The license stays active; the void is only audited.
	lic, err := st.Get(ctx, granted.LicenseKey)
	require.NoError(t, err)
	assert.Equal(t, license.StatusActive, lic.Status)

	entries, err := st.ListAudit(ctx, granted.LicenseKey)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "payment_voided", entries[0].Action)
	assert.Equal(t, "stripe", entries[0].Actor)

	// No notification for non-settled outcomes.
	assert.Len(t, enq.messages, 1)
}

func TestProcessExpiredOutcomeAudited(t *testing.T) {
	p, _, _ := newTestPipeline(t)

	expired := settledEvent("evt-exp")
	expired.Outcome = domain.OutcomeExpired

	result, err := p.Process(context.Background(), expired)
	require.NoError(t, err)
	assert.Empty(t, result.LicenseKey)
}

func TestProcessWithoutNotifier(t *testing.T) {
	st, err := store.NewSQLiteStore(config.StoreConfig{
		Path:        filepath.Join(t.TempDir(), "nonotify.db"),
		BusyTimeout: 5 * time.Second,
	}, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	p, err := NewPipeline(st, nil, slog.Default(),
		tracenoop.NewTracerProvider().Tracer("test"),
		metricnoop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)

	result, err := p.Process(context.Background(), settledEvent("evt-1"))
	require.NoError(t, err)
	assert.NotEmpty(t, result.LicenseKey)
}
