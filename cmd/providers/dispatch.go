package providers

import (
	"go.od2.network/hive/pkg/config"
	"go.od2.network/hive/pkg/dispatch"
	hivemetrics "go.od2.network/hive/pkg/metrics"
	"go.od2.network/hive/pkg/workerclient"
	"go.uber.org/zap"
)

// NewDispatcher builds the worker-pool dispatcher.
func NewDispatcher(log *zap.Logger, cfg *config.Config, workers *workerclient.Client, m *hivemetrics.Dispatch) *dispatch.Dispatcher {
	d := dispatch.New(workers, log.Named("dispatch"), dispatch.Options{
		HealthTimeout: cfg.WorkerHealth,
		SearchTimeout: cfg.WorkerSearch,
		RetryDelay:    cfg.RetryDelay,
		MaxAttempts:   cfg.MaxAttempts,
	})
	d.Metrics = m
	return d
}
