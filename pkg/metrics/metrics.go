// Package metrics wires the service's counters into the OpenTelemetry
// meter and exposes them, alongside go-metrics' own registry, through a
// single Prometheus handler.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	prometheusmetrics "github.com/deathowl/go-metrics-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	gometrics "github.com/rcrowley/go-metrics"
	otelprom "go.opentelemetry.io/otel/exporters/metric/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/global"
)

// GOMPrometheusSync is how often the go-metrics registry is flushed into
// the Prometheus registerer.
var GOMPrometheusSync = 5 * time.Second

// Setup configures the OpenTelemetry and go-metrics Prometheus exporters
// and returns the HTTP handler to serve on /metrics.
func Setup() (http.Handler, error) {
	gomProvider := prometheusmetrics.NewPrometheusProvider(
		gometrics.DefaultRegistry,
		"hive_dispatch", "",
		prometheus.DefaultRegisterer,
		GOMPrometheusSync)
	go gomProvider.UpdatePrometheusMetrics()

	exporter, err := otelprom.NewExportPipeline(otelprom.Config{
		Registerer: prometheus.DefaultRegisterer,
		Gatherer:   prometheus.DefaultGatherer,
	})
	if err != nil {
		return nil, fmt.Errorf("metrics: build otel prometheus exporter: %w", err)
	}
	global.SetMeterProvider(exporter.MeterProvider())
	return exporter, nil
}

// Dispatch counts dispatcher attempts and outcomes (§4.C).
type Dispatch struct {
	attempts  metric.Int64Counter
	successes metric.Int64Counter
	exhausted metric.Int64Counter
}

// NewDispatch builds the dispatcher's counters on the given meter.
func NewDispatch(m metric.Meter) (*Dispatch, error) {
	d := new(Dispatch)
	var err error
	if d.attempts, err = m.NewInt64Counter("dispatch_attempts_total"); err != nil {
		return nil, err
	}
	if d.successes, err = m.NewInt64Counter("dispatch_successes_total"); err != nil {
		return nil, err
	}
	if d.exhausted, err = m.NewInt64Counter("dispatch_exhausted_total"); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Dispatch) Attempt(ctx context.Context)   { d.attempts.Add(ctx, 1) }
func (d *Dispatch) Success(ctx context.Context)   { d.successes.Add(ctx, 1) }
func (d *Dispatch) Exhausted(ctx context.Context) { d.exhausted.Add(ctx, 1) }

// Queue counts jobs that completed, failed, or stalled (§4.D).
type Queue struct {
	completed metric.Int64Counter
	failed    metric.Int64Counter
	stalled   metric.Int64Counter
}

// NewQueue builds the queue's counters on the given meter.
func NewQueue(m metric.Meter) (*Queue, error) {
	q := new(Queue)
	var err error
	if q.completed, err = m.NewInt64Counter("jobs_completed_total"); err != nil {
		return nil, err
	}
	if q.failed, err = m.NewInt64Counter("jobs_failed_total"); err != nil {
		return nil, err
	}
	if q.stalled, err = m.NewInt64Counter("jobs_stalled_total"); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Queue) Completed(ctx context.Context) { q.completed.Add(ctx, 1) }
func (q *Queue) Failed(ctx context.Context)    { q.failed.Add(ctx, 1) }
func (q *Queue) Stalled(ctx context.Context)   { q.stalled.Add(ctx, 1) }

// Batch counts batches created and their size (§4.E).
type Batch struct {
	created metric.Int64Counter
	size    metric.Int64ValueRecorder
}

// NewBatch builds the batch coordinator's counters on the given meter.
func NewBatch(m metric.Meter) (*Batch, error) {
	b := new(Batch)
	var err error
	if b.created, err = m.NewInt64Counter("batches_created_total"); err != nil {
		return nil, err
	}
	if b.size, err = m.NewInt64ValueRecorder("batch_size"); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Batch) Created(ctx context.Context, size int) {
	b.created.Add(ctx, 1)
	b.size.Record(ctx, int64(size))
}
