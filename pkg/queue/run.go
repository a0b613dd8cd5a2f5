package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.od2.network/hive/pkg/dispatch"
	"go.uber.org/zap"
)

// Run starts WorkerConcurrency reservation runners plus the stall sweeper
// and retry promoter, and blocks until ctx is cancelled: a handful of
// goroutines racing cleanly over shared Redis state, coordinated only by
// what they each observe there.
func (q *Queue) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	n := q.Options.WorkerConcurrency
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(runner int) {
			defer wg.Done()
			q.runLoop(ctx, runner)
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		q.stallSweepLoop(ctx)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		q.retrySweepLoop(ctx)
	}()
	wg.Wait()
	return ctx.Err()
}

// runLoop repeatedly reserves and processes one job at a time, §4.D
// "Reserve": "pops one job at a time from waiting, moves it to active".
func (q *Queue) runLoop(ctx context.Context, runner int) {
	for {
		if ctx.Err() != nil {
			return
		}
		id, ok, err := q.reserveNext(ctx)
		if err != nil {
			q.Log.Warn("Failed to reserve next job", zap.Error(err), zap.Int("runner", runner))
			sleep(ctx, q.Options.IdleSleep)
			continue
		}
		if !ok {
			sleep(ctx, q.Options.IdleSleep)
			continue
		}
		q.processReserved(ctx, id)
	}
}

// reserveNext atomically pops the highest-priority, oldest waiting job and
// marks it reserved.
func (q *Queue) reserveNext(ctx context.Context) (string, bool, error) {
	popped, err := q.Store.ZPopMin(ctx, q.Keys.Waiting, 1)
	if err != nil {
		return "", false, err
	}
	if len(popped) == 0 {
		return "", false, nil
	}
	id, _ := popped[0].Member.(string)
	if err := q.Store.RPush(ctx, q.Keys.Active, id); err != nil {
		return "", false, err
	}
	if err := q.heartbeat(ctx, id); err != nil {
		return "", false, err
	}
	return id, true, nil
}

// heartbeat refreshes a reserved job's last-seen timestamp in the stalled
// sweep's sorted set, §4.D "Stall detection".
func (q *Queue) heartbeat(ctx context.Context, id string) error {
	return q.Store.ZAdd(ctx, q.Keys.Stalled, float64(time.Now().Unix()), id)
}

func (q *Queue) processReserved(ctx context.Context, id string) {
	job, err := q.loadJob(ctx, id)
	if err != nil {
		q.Log.Warn("Reserved job vanished before processing", zap.String("job", id), zap.Error(err))
		q.clearReservation(ctx, id)
		return
	}
	job.Status = StatusProcessing
	if err := q.saveJob(ctx, job); err != nil {
		q.Log.Warn("Failed to mark job processing", zap.String("job", id), zap.Error(err))
	}

	deadline := q.Options.JobDeadline
	if job.BatchID != "" {
		deadline = q.Options.BatchJobDeadline
	}
	jobCtx, cancel := context.WithTimeout(ctx, deadline)
	progress := func(p dispatch.Progress) {
		job.Progress = &Progress{Stage: p.Stage, WorkerID: p.WorkerID}
		_ = q.saveJob(ctx, job) // best-effort, last-write-wins per §4.D
		_ = q.heartbeat(ctx, id)
	}
	result, dispatchErr := q.Dispatcher.Dispatch(jobCtx, job.Prompt, job.WorkerHint, progress)
	cancel()
	q.clearReservation(ctx, id)

	if dispatchErr == nil {
		q.complete(ctx, job, result)
		return
	}
	q.handleAttemptFailure(ctx, job, dispatchErr)
}

func (q *Queue) clearReservation(ctx context.Context, id string) {
	if err := q.Store.Redis.LRem(ctx, q.Keys.Active, 1, id).Err(); err != nil {
		q.Log.Warn("Failed to clear active reservation", zap.String("job", id), zap.Error(err))
	}
	if err := q.Store.ZRem(ctx, q.Keys.Stalled, id); err != nil {
		q.Log.Warn("Failed to clear stalled heartbeat", zap.String("job", id), zap.Error(err))
	}
}

// handleAttemptFailure implements the per-job-deadline / attempt-budget
// half of §4.D: one dispatch attempt has ended in error (deadline
// exceeded, or the dispatcher exhausted its own internal retries). The
// queue now decides whether to spend another attempt, with exponential
// backoff, or mark the job permanently failed.
func (q *Queue) handleAttemptFailure(ctx context.Context, job *Job, dispatchErr error) {
	job.Attempts++
	if errors.Is(dispatchErr, dispatch.ErrInvalidArgument) {
		q.fail(ctx, job, dispatchErr.Error())
		return
	}
	if job.Attempts >= job.MaxAttempts {
		q.fail(ctx, job, dispatchErr.Error())
		return
	}
	delay := backoffDelay(job.Attempts, q.Options.InitialBackoff, q.Options.MaxBackoff)
	q.Log.Info("Retrying job after dispatch failure",
		zap.String("job", job.ID), zap.Int("attempts", job.Attempts), zap.Duration("delay", delay),
		zap.Error(dispatchErr))
	q.scheduleRetry(ctx, job, delay)
}

// scheduleRetry moves a job back to pending and schedules it to rejoin
// `waiting` after delay, §3's "processing to pending on retry" transition.
func (q *Queue) scheduleRetry(ctx context.Context, job *Job, delay time.Duration) {
	job.Status = StatusPending
	if err := q.saveJob(ctx, job); err != nil {
		q.Log.Warn("Failed to persist retry state", zap.String("job", job.ID), zap.Error(err))
	}
	readyAt := time.Now().Add(delay).Unix()
	if err := q.Store.ZAdd(ctx, q.Keys.RetryReady, float64(readyAt), job.ID); err != nil {
		q.Log.Warn("Failed to schedule retry", zap.String("job", job.ID), zap.Error(err))
	}
}

func (q *Queue) complete(ctx context.Context, job *Job, result dispatch.Result) {
	now := time.Now()
	job.Status = StatusCompleted
	job.Result = &Result{JSON: result.JSON, RawText: result.RawText, UsedWorker: result.UsedWorker}
	job.FinishedAt = &now
	job.Progress = nil
	q.finish(ctx, job)
	if q.Metrics != nil {
		q.Metrics.Completed(ctx)
	}
}

func (q *Queue) fail(ctx context.Context, job *Job, reason string) {
	now := time.Now()
	job.Status = StatusFailed
	job.FailureReason = reason
	job.FinishedAt = &now
	job.Progress = nil
	q.finish(ctx, job)
	if q.Metrics != nil {
		q.Metrics.Failed(ctx)
	}
}

func (q *Queue) finish(ctx context.Context, job *Job) {
	if err := q.saveJob(ctx, job); err != nil {
		q.Log.Warn("Failed to persist terminal job state", zap.String("job", job.ID), zap.Error(err))
		return
	}
	if err := q.Store.Expire(ctx, q.Keys.JobKey(job.ID), q.Options.JobResultsTTL); err != nil {
		q.Log.Warn("Failed to schedule job TTL removal", zap.String("job", job.ID), zap.Error(err))
	}
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
