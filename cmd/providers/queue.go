package providers

import (
	"context"
	"errors"

	"go.od2.network/hive/pkg/config"
	"go.od2.network/hive/pkg/dispatch"
	"go.od2.network/hive/pkg/idempotency"
	hivemetrics "go.od2.network/hive/pkg/metrics"
	"go.od2.network/hive/pkg/queue"
	"go.od2.network/hive/pkg/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewQueue builds the job queue and starts its reservation runners, stall
// sweeper, and retry promoter on the fx lifecycle.
func NewQueue(
	lc fx.Lifecycle,
	ctx context.Context,
	log *zap.Logger,
	cfg *config.Config,
	s *store.Store,
	d *dispatch.Dispatcher,
	idem *idempotency.Store,
	m *hivemetrics.Queue,
) *queue.Queue {
	opts := queue.DefaultOptions()
	opts.WorkerConcurrency = d.Workers.N()
	opts.MaxAttempts = cfg.MaxAttempts
	opts.JobDeadline = cfg.BullSearch
	opts.BatchJobDeadline = cfg.BullBulk
	opts.JobResultsTTL = cfg.JobResultsTTL
	opts.InitialBackoff = cfg.InitialDelay
	opts.MaxBackoff = cfg.MaxDelay
	opts.StalledInterval = cfg.StalledInterval
	opts.MaxStalledCount = cfg.MaxStalledCount

	q := queue.New(s, d, idem, log.Named("queue"), opts)
	q.Metrics = m

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := q.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("Queue runner stopped", zap.Error(err))
				}
			}()
			return nil
		},
	})
	return q
}
