package providers

import (
	"context"
	"time"

	"go.od2.network/hive/pkg/config"
	"go.od2.network/hive/pkg/health"
	"go.od2.network/hive/pkg/store"
	"go.od2.network/hive/pkg/workerclient"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewHealthAggregator builds the health aggregator and starts its periodic
// maintenance sweep on the fx lifecycle.
func NewHealthAggregator(
	lc fx.Lifecycle,
	ctx context.Context,
	log *zap.Logger,
	cfg *config.Config,
	s *store.Store,
	workers *workerclient.Client,
) *health.Aggregator {
	a := health.New(s, workers, log.Named("health"), cfg.WorkerHealth, cfg.HealthCheckInterval, cfg.WaitForWorkerMax)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go maintainLoop(ctx, log, a, cfg.HealthCheckInterval)
			return nil
		},
	})
	return a
}

func maintainLoop(ctx context.Context, log *zap.Logger, a *health.Aggregator, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.Maintain(ctx); err != nil {
				log.Warn("Health maintenance sweep failed", zap.Error(err))
			}
		}
	}
}
