package queue

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// stallSweepLoop periodically re-reserves or fails jobs whose reservation
// heartbeat has gone silent for longer than StalledInterval, §4.D "Stall
// detection", using plain Redis commands instead of Lua since there's no
// hot-path throughput requirement here.
func (q *Queue) stallSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(q.Options.StallSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.sweepStalled(ctx); err != nil {
				q.Log.Warn("Stall sweep failed", zap.Error(err))
			}
		}
	}
}

func (q *Queue) sweepStalled(ctx context.Context) error {
	cutoff := time.Now().Add(-q.Options.StalledInterval).Unix()
	ids, err := q.Store.ZRangeByScore(ctx, q.Keys.Stalled, "-inf", strconv.FormatInt(cutoff, 10))
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := q.recoverStalled(ctx, id); err != nil {
			q.Log.Warn("Failed to recover stalled job", zap.String("job", id), zap.Error(err))
		}
	}
	return nil
}

func (q *Queue) recoverStalled(ctx context.Context, id string) error {
	job, err := q.loadJob(ctx, id)
	if err != nil {
		// Evicted or otherwise gone: just drop the stale reservation.
		q.clearReservation(ctx, id)
		return nil
	}
	q.clearReservation(ctx, id)
	if q.Metrics != nil {
		q.Metrics.Stalled(ctx)
	}
	job.StalledCount++
	if job.StalledCount > q.Options.MaxStalledCount {
		q.fail(ctx, job, "stalled")
		return nil
	}
	job.Status = StatusPending
	if err := q.saveJob(ctx, job); err != nil {
		return err
	}
	return q.pushWaiting(ctx, id, job.Priority)
}
