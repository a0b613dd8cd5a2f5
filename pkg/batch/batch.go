// Package batch implements the batch coordinator (§4.E): fan a list of
// prompts out into ordinary jobs, tag each with its batch linkage, and
// answer aggregate status queries over the set of jobs it created. It
// holds no state of its own beyond the job-ID set recorded per batch;
// every other fact about a batch's jobs lives in pkg/queue's job records.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.od2.network/hive/pkg/idempotency"
	"go.od2.network/hive/pkg/queue"
	"go.od2.network/hive/pkg/store"
	"go.uber.org/zap"
)

// ErrEmptyPrompts is returned by EnqueueBulk for a request with no prompts.
var ErrEmptyPrompts = errors.New("batch: prompts must be non-empty")

// ErrNotFound is returned by GetStatus for an unknown or fully-evicted
// batch ID.
var ErrNotFound = errors.New("batch: not found")

// MaxPrompts bounds how many jobs a single bulk request may create.
const MaxPrompts = 1000

// Counters is the subset of pkg/metrics' batch counters this package
// needs; kept as an interface so batch doesn't import metrics directly.
type Counters interface {
	Created(ctx context.Context, size int)
}

// Coordinator fans bulk requests out to the job queue and aggregates their
// status. Dependencies are explicit constructor arguments, matching the
// rest of the core.
type Coordinator struct {
	Queue *queue.Queue
	Store *store.Store
	Idem  *idempotency.Store
	Log   *zap.Logger

	JobResultsTTL time.Duration

	// Metrics is optional; a nil value disables counting.
	Metrics Counters
}

// New builds a Coordinator.
func New(q *queue.Queue, s *store.Store, idem *idempotency.Store, log *zap.Logger, jobResultsTTL time.Duration) *Coordinator {
	return &Coordinator{Queue: q, Store: s, Idem: idem, Log: log, JobResultsTTL: jobResultsTTL}
}

// EnqueueBulkRequest is the admission input for a batch, §4.E
// "enqueueBulk".
type EnqueueBulkRequest struct {
	Prompts        []string
	WorkerHint     int
	Priority       int
	IdempotencyKey string
}

// EnqueueBulkResult carries the minted batch ID and the IDs of every job
// created for it, in the same order as the request's prompts.
type EnqueueBulkResult struct {
	BatchID string
	JobIDs  []string
}

// EnqueueBulk admits a batch of prompts as a single unit. Each prompt
// becomes an ordinary job carrying {batchId, batchIndex, batchTotal}; the
// set of resulting job IDs is recorded under batch:<batchId>:jobs with
// JobResultsTTL, and the whole result is idempotency-cached if a client
// key was supplied (§4.E, §4.F).
func (c *Coordinator) EnqueueBulk(ctx context.Context, req EnqueueBulkRequest) (EnqueueBulkResult, error) {
	if req.IdempotencyKey != "" {
		if rec, hit, err := c.Idem.LookupBulk(ctx, req.IdempotencyKey); err != nil {
			return EnqueueBulkResult{}, err
		} else if hit {
			return EnqueueBulkResult{BatchID: rec.BatchID, JobIDs: rec.JobIDs}, nil
		}
	}
	if len(req.Prompts) == 0 {
		return EnqueueBulkResult{}, ErrEmptyPrompts
	}
	if len(req.Prompts) > MaxPrompts {
		return EnqueueBulkResult{}, fmt.Errorf("batch: %d prompts exceeds limit of %d", len(req.Prompts), MaxPrompts)
	}

	batchID := newBatchID()
	total := len(req.Prompts)
	jobIDs := make([]string, total)
	for i, prompt := range req.Prompts {
		id, err := c.Queue.Enqueue(ctx, queue.EnqueueRequest{
			Prompt:     prompt,
			WorkerHint: req.WorkerHint,
			Priority:   req.Priority,
			BatchID:    batchID,
			BatchIndex: i,
			BatchTotal: total,
		})
		if err != nil {
			return EnqueueBulkResult{}, fmt.Errorf("batch: enqueue prompt %d: %w", i, err)
		}
		jobIDs[i] = id
	}

	if err := c.saveJobSet(ctx, batchID, jobIDs); err != nil {
		return EnqueueBulkResult{}, err
	}
	if c.Metrics != nil {
		c.Metrics.Created(ctx, total)
	}

	result := EnqueueBulkResult{BatchID: batchID, JobIDs: jobIDs}
	if req.IdempotencyKey != "" {
		rec := idempotency.BulkRecord{BatchID: batchID, JobIDs: jobIDs}
		if err := c.Idem.StoreBulk(ctx, req.IdempotencyKey, rec, c.JobResultsTTL); err != nil {
			c.Log.Warn("Failed to store bulk idempotency record", zap.Error(err), zap.String("batch", batchID))
		}
	}
	return result, nil
}

func (c *Coordinator) saveJobSet(ctx context.Context, batchID string, jobIDs []string) error {
	key := c.Queue.Keys.BatchJobsKey(batchID)
	if err := c.Store.SAdd(ctx, key, jobIDs...); err != nil {
		return fmt.Errorf("batch: record job set: %w", err)
	}
	return c.Store.Expire(ctx, key, c.JobResultsTTL)
}

// Counts is the aggregate status breakdown returned by GetStatus.
type Counts struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Processing int `json:"processing"`
	Pending    int `json:"pending"`
	Failed     int `json:"failed"`
}

// Status is the result of GetStatus: the batch's jobs, sorted by
// BatchIndex, plus aggregate counts over whichever of them could still be
// loaded.
type Status struct {
	BatchID string
	Jobs    []*queue.Job
	Counts  Counts
}

// GetStatus loads the batch's job-ID set and fetches each job's current
// record in parallel, tolerating individual fetch failures by silently
// skipping them (§4.E). Returns ErrNotFound if the set itself is empty or
// unknown.
func (c *Coordinator) GetStatus(ctx context.Context, batchID string) (Status, error) {
	key := c.Queue.Keys.BatchJobsKey(batchID)
	ids, err := c.Store.SMembers(ctx, key)
	if err != nil {
		return Status{}, fmt.Errorf("batch: load job set: %w", err)
	}
	if len(ids) == 0 {
		return Status{}, ErrNotFound
	}

	jobs := make([]*queue.Job, 0, len(ids))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			job, err := c.Queue.Get(ctx, id)
			if err != nil {
				c.Log.Debug("Skipping unreadable batch job", zap.String("job", id), zap.Error(err))
				return
			}
			mu.Lock()
			jobs = append(jobs, job)
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].BatchIndex < jobs[j].BatchIndex })

	status := Status{BatchID: batchID, Jobs: jobs, Counts: Counts{Total: len(ids)}}
	for _, job := range jobs {
		switch job.Status {
		case queue.StatusCompleted:
			status.Counts.Completed++
		case queue.StatusProcessing:
			status.Counts.Processing++
		case queue.StatusPending:
			status.Counts.Pending++
		case queue.StatusFailed:
			status.Counts.Failed++
		}
	}
	return status, nil
}
