package providers

import (
	"net/http"

	hivemetrics "go.od2.network/hive/pkg/metrics"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/global"
)

// NewMetricsHandler sets up the OpenTelemetry/go-metrics Prometheus
// exporters and returns the handler to mount at /metrics.
func NewMetricsHandler() (http.Handler, error) {
	return hivemetrics.Setup()
}

// NewMeter returns the meter every counter package builds on. It takes the
// /metrics handler as an unused parameter purely to make fx construct it
// after NewMetricsHandler has called global.SetMeterProvider.
func NewMeter(_ http.Handler) metric.Meter {
	return global.GetMeterProvider().Meter("hive.dispatch")
}

// NewDispatchMetrics builds the dispatcher's counters.
func NewDispatchMetrics(m metric.Meter) (*hivemetrics.Dispatch, error) {
	return hivemetrics.NewDispatch(m)
}

// NewQueueMetrics builds the queue's counters.
func NewQueueMetrics(m metric.Meter) (*hivemetrics.Queue, error) {
	return hivemetrics.NewQueue(m)
}

// NewBatchMetrics builds the batch coordinator's counters.
func NewBatchMetrics(m metric.Meter) (*hivemetrics.Batch, error) {
	return hivemetrics.NewBatch(m)
}
