package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/V4T54L/fleet-dispatch/internal/adapter/metrics"
	"github.com/V4T54L/fleet-dispatch/internal/domain"
	"github.com/V4T54L/fleet-dispatch/internal/pkg/clock"
)

// ExpireCommandsUseCase retires commands nobody picked up or acknowledged
// within the expiry horizon.
type ExpireCommandsUseCase struct {
	commands domain.CommandRepository
	activity domain.ActivityPublisher
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *metrics.DispatchMetrics
	horizon  time.Duration
}

func NewExpireCommandsUseCase(commands domain.CommandRepository, activity domain.ActivityPublisher, clk clock.Clock, logger *slog.Logger, m *metrics.DispatchMetrics, horizon time.Duration) *ExpireCommandsUseCase {
	return &ExpireCommandsUseCase{
		commands: commands,
		activity: activity,
		clock:    clk,
		logger:   logger.With("component", "expiry_sweeper"),
		metrics:  m,
		horizon:  horizon,
	}
}

// Sweep runs one expiry pass and returns how many commands were retired.
func (uc *ExpireCommandsUseCase) Sweep(ctx context.Context) (int64, error) {
	ctx, span := tracer.Start(ctx, "Expiry.Sweep")
	defer span.End()

	now := uc.clock.Now()
	n, err := uc.commands.Expire(ctx, now.Add(-uc.horizon), now)
	if err != nil {
		recordError(span, err)
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}

	uc.metrics.CommandsExpiredBatch(n)
	uc.logger.Info("Expired stale commands", "count", n)
	if uc.activity != nil {
		ev := domain.ActivityEvent{Type: domain.ActivityCommandsExpired, Detail: map[string]any{"count": n}, At: now}
		if err := uc.activity.Publish(ctx, ev); err != nil {
			uc.logger.Warn("Failed to publish activity event", "type", ev.Type, "error", err)
		}
	}
	return n, nil
}

// Run sweeps every interval until ctx is cancelled. Failed sweeps are logged
// and retried on the next tick.
func (uc *ExpireCommandsUseCase) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	uc.logger.Info("Expiry sweeper started", "interval", interval, "horizon", uc.horizon)
	for {
		select {
		case <-ctx.Done():
			uc.logger.Info("Expiry sweeper stopped")
			return
		case <-ticker.C:
			if _, err := uc.Sweep(ctx); err != nil && ctx.Err() == nil {
				uc.logger.Error("Expiry sweep failed", "error", err)
			}
		}
	}
}
