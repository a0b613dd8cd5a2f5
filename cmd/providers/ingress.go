package providers

import (
	"go.od2.network/hive/pkg/batch"
	"go.od2.network/hive/pkg/health"
	"go.od2.network/hive/pkg/ingress"
	"go.od2.network/hive/pkg/queue"
	"go.od2.network/hive/pkg/workerclient"
	"go.uber.org/zap"
)

// NewIngressServer builds the HTTP transport wired to the core domain
// objects.
func NewIngressServer(log *zap.Logger, q *queue.Queue, b *batch.Coordinator, h *health.Aggregator, workers *workerclient.Client) *ingress.Server {
	return ingress.New(q, b, h, workers, log.Named("ingress"))
}
