package providers

import (
	"go.od2.network/hive/pkg/batch"
	"go.od2.network/hive/pkg/config"
	"go.od2.network/hive/pkg/idempotency"
	hivemetrics "go.od2.network/hive/pkg/metrics"
	"go.od2.network/hive/pkg/queue"
	"go.od2.network/hive/pkg/store"
	"go.uber.org/zap"
)

// NewBatchCoordinator builds the batch coordinator.
func NewBatchCoordinator(log *zap.Logger, cfg *config.Config, q *queue.Queue, s *store.Store, idem *idempotency.Store, m *hivemetrics.Batch) *batch.Coordinator {
	c := batch.New(q, s, idem, log.Named("batch"), cfg.JobResultsTTL)
	c.Metrics = m
	return c
}
