// Package sweeper periodically reconciles stored status with wall-clock
// expiry, flipping due licenses active→expired. The flip is conditioned
// at write time, so a sweep pass is idempotent and safe to rerun.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"keygate/internal/config"
	"keygate/internal/store"
)

// Sweeper runs the expiry batch on a fixed interval.
type Sweeper struct {
	store    store.Store
	interval time.Duration
	batch    int
	logger   *slog.Logger
	tracer   trace.Tracer
	swept    metric.Int64Counter

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New creates a sweeper from config.
func New(st store.Store, cfg config.SweeperConfig, logger *slog.Logger, tracer trace.Tracer, meter metric.Meter) (*Sweeper, error) {
	swept, err := meter.Int64Counter("keygate.licenses_expired",
		metric.WithDescription("Licenses flipped to expired by the sweeper"))
	if err != nil {
		return nil, fmt.Errorf("failed to create sweep counter: %w", err)
	}

	return &Sweeper{
		store:    st,
		interval: cfg.Interval,
		batch:    cfg.BatchSize,
		logger:   logger.With(slog.String("component", "sweeper")),
		tracer:   tracer,
		swept:    swept,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start runs the sweep loop until Stop is called or ctx is cancelled.
// One pass runs immediately so a long interval never delays catch-up
// after a restart.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		defer close(s.done)

		s.logger.InfoContext(ctx, "sweeper started",
			slog.Duration("interval", s.interval),
			slog.Int("batch_size", s.batch))

		s.sweep(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.sweep(ctx)
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the loop and waits for the in-flight pass to finish.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	<-s.done
}

// sweep drains everything currently due, batch by batch.
func (s *Sweeper) sweep(ctx context.Context) {
	ctx, span := s.tracer.Start(ctx, "sweeper.sweep")
	defer span.End()

	now := time.Now().UTC()
	var total int64

	for {
		n, err := s.store.MarkExpiredBatch(ctx, now, s.batch)
		if err != nil {
			span.RecordError(err)
			s.logger.ErrorContext(ctx, "sweep pass failed",
				slog.String("error", err.Error()))
			return
		}
		total += n
		if n < int64(s.batch) {
			break
		}
	}

	span.SetAttributes(attribute.Int64("sweeper.expired", total))
	if total > 0 {
		s.swept.Add(ctx, total)
		s.logger.InfoContext(ctx, "sweep pass expired licenses",
			slog.Int64("count", total))
	}
}
