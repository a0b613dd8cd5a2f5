// Package queue implements the durable job queue (§4.D): enqueue, reserve,
// process, complete/fail, per-attempt retry with exponential backoff,
// TTL-based removal, status and listing. It is the component that owns
// job state; the dispatcher it drives (pkg/dispatch) never touches
// storage directly, matching the Design Notes' "ambient shared state →
// explicit dependencies" redesign: Queue takes its Store, Dispatcher, and
// Idempotency store as constructor arguments, not through a container.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/xid"
	"go.od2.network/hive/pkg/dispatch"
	"go.od2.network/hive/pkg/idempotency"
	"go.od2.network/hive/pkg/store"
	"go.uber.org/zap"
)

// ErrNotFound is returned by Get/status lookups for an unknown or
// TTL-evicted job ID.
var ErrNotFound = errors.New("queue: job not found")

// ErrPromptInvalid is returned synchronously by Enqueue for input that
// should have been rejected at ingress already; the core still checks it
// defensively (§7 "Input errors ... rejected synchronously at ingress;
// never reach the core"; this is the core's own backstop).
var ErrPromptInvalid = errors.New("queue: invalid prompt")

// Options configures retry cadence, TTLs, and pool sizing.
type Options struct {
	WorkerConcurrency int // §4.D "pool of worker goroutines ... size equal to WORKER_CONCURRENCY"
	MaxAttempts       int
	JobDeadline       time.Duration // BULL_SEARCH, §4.D per-job deadline for a standalone job
	BatchJobDeadline  time.Duration // BULL_BULK, §4.H per-job deadline for a batch child job
	JobResultsTTL     time.Duration
	InitialBackoff    time.Duration // base of the exponential backoff, §4.D literal value is 5s
	MaxBackoff        time.Duration
	StalledInterval   time.Duration
	MaxStalledCount   int

	// Tick intervals for the background sweepers; not environment-configurable,
	// chosen as a fraction of the windows they police.
	StallSweepInterval time.Duration
	RetrySweepInterval time.Duration
	IdleSleep          time.Duration // runner backoff when `waiting` is empty
}

// DefaultOptions fills in the background-loop cadences that are left
// unspecified, around the durations it does specify.
func DefaultOptions() Options {
	return Options{
		WorkerConcurrency:  1,
		MaxAttempts:        3,
		JobDeadline:        60 * time.Second,
		BatchJobDeadline:   time.Hour,
		JobResultsTTL:      24 * time.Hour,
		InitialBackoff:     5 * time.Second,
		MaxBackoff:         30 * time.Second,
		StalledInterval:    30 * time.Second,
		MaxStalledCount:    10,
		StallSweepInterval: 5 * time.Second,
		RetrySweepInterval: 500 * time.Millisecond,
		IdleSleep:          200 * time.Millisecond,
	}
}

// JobCounters is the subset of pkg/metrics' queue counters this package
// needs; kept as an interface so queue doesn't import metrics directly.
type JobCounters interface {
	Completed(ctx context.Context)
	Failed(ctx context.Context)
	Stalled(ctx context.Context)
}

// Queue is the job queue. All dependencies are explicit constructor
// arguments (Design Notes), so a test can build one with a miniredis-backed
// Store and an in-process Dispatcher.
type Queue struct {
	Store      *store.Store
	Dispatcher *dispatch.Dispatcher
	Idem       *idempotency.Store
	Log        *zap.Logger
	Options    Options
	Keys       Keys

	// Metrics is optional; a nil value disables counting.
	Metrics JobCounters
}

// New builds a Queue.
func New(s *store.Store, d *dispatch.Dispatcher, idem *idempotency.Store, log *zap.Logger, opts Options) *Queue {
	return &Queue{Store: s, Dispatcher: d, Idem: idem, Log: log, Options: opts, Keys: DefaultKeys()}
}

// EnqueueRequest is the admission input for a single job, §4.D "Enqueue".
type EnqueueRequest struct {
	Prompt         string
	WorkerHint     int
	Priority       int
	IdempotencyKey string

	// Batch linkage, set by pkg/batch when a job is a batch child.
	BatchID    string
	BatchIndex int
	BatchTotal int
}

// Enqueue admits a single job and returns its ID. If IdempotencyKey is set
// and has been seen before, the previously-created job ID is returned
// without creating new state (§4.F).
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	if req.IdempotencyKey != "" {
		if id, hit, err := q.Idem.LookupSingle(ctx, req.IdempotencyKey); err != nil {
			return "", err
		} else if hit {
			return id, nil
		}
	}
	if len(req.Prompt) == 0 || len(req.Prompt) > dispatch.MaxPromptLen {
		return "", fmt.Errorf("%w: length %d", ErrPromptInvalid, len(req.Prompt))
	}

	id := xid.New().String()
	job := &Job{
		ID:          id,
		Prompt:      req.Prompt,
		WorkerHint:  req.WorkerHint,
		BatchID:     req.BatchID,
		BatchIndex:  req.BatchIndex,
		BatchTotal:  req.BatchTotal,
		Priority:    req.Priority,
		MaxAttempts: q.Options.MaxAttempts,
		Status:      StatusPending,
		CreatedAt:   time.Now(),
	}
	if err := q.saveJob(ctx, job); err != nil {
		return "", err
	}
	if err := q.pushWaiting(ctx, id, req.Priority); err != nil {
		return "", err
	}
	if err := q.indexJob(ctx, id, job.CreatedAt); err != nil {
		return "", err
	}
	if req.IdempotencyKey != "" {
		if err := q.Idem.StoreSingle(ctx, req.IdempotencyKey, id, q.Options.JobResultsTTL); err != nil {
			q.Log.Warn("Failed to store idempotency record", zap.Error(err), zap.String("job", id))
		}
	}
	return id, nil
}

func (q *Queue) pushWaiting(ctx context.Context, id string, priority int) error {
	seq, err := q.Store.Redis.Incr(ctx, q.Keys.WaitingSeq).Result()
	if err != nil {
		return fmt.Errorf("queue: failed to allocate sequence: %w", err)
	}
	return q.Store.ZAdd(ctx, q.Keys.Waiting, waitingScore(priority, seq), id)
}

func (q *Queue) indexJob(ctx context.Context, id string, createdAt time.Time) error {
	return q.Store.ZAdd(ctx, q.Keys.JobsIndex, float64(createdAt.UnixNano()), id)
}

func (q *Queue) saveJob(ctx context.Context, job *Job) error {
	raw, err := marshalJob(job)
	if err != nil {
		return err
	}
	return q.Store.Set(ctx, q.Keys.JobKey(job.ID), raw)
}

func (q *Queue) loadJob(ctx context.Context, id string) (*Job, error) {
	raw, ok, err := q.Store.Get(ctx, q.Keys.JobKey(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return unmarshalJob(raw)
}

// Get returns a job's current record, or ErrNotFound if unknown or
// TTL-evicted.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	return q.loadJob(ctx, id)
}

// backoffDelay computes the §4.D retry delay for the n-th attempt
// (n starting at 1), using cenkalti/backoff's exponential policy seeded
// to match the documented "5s * 2^(attempts-1)" formula, capped at
// MaxBackoff.
func backoffDelay(n int, initial, max time.Duration) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     initial,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         max,
		MaxElapsedTime:      0,
		Clock:               backoff.SystemClock,
		Stop:                backoff.Stop,
	}
	b.Reset()
	var delay time.Duration
	for i := 0; i < n; i++ {
		delay = b.NextBackOff()
	}
	return delay
}
