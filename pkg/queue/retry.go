package queue

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// retrySweepLoop moves jobs whose backoff delay has elapsed from
// RetryReady back onto Waiting, §4.D "requeued with exponential backoff".
func (q *Queue) retrySweepLoop(ctx context.Context) {
	ticker := time.NewTicker(q.Options.RetrySweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.promoteReadyRetries(ctx); err != nil {
				q.Log.Warn("Retry promotion failed", zap.Error(err))
			}
		}
	}
}

func (q *Queue) promoteReadyRetries(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().Unix(), 10)
	ids, err := q.Store.ZRangeByScore(ctx, q.Keys.RetryReady, "-inf", now)
	if err != nil {
		return err
	}
	for _, id := range ids {
		job, err := q.loadJob(ctx, id)
		if err != nil {
			// Evicted while waiting to retry; drop it from the schedule.
			_ = q.Store.ZRem(ctx, q.Keys.RetryReady, id)
			continue
		}
		if err := q.pushWaiting(ctx, id, job.Priority); err != nil {
			q.Log.Warn("Failed to promote retry to waiting", zap.String("job", id), zap.Error(err))
			continue
		}
		if err := q.Store.ZRem(ctx, q.Keys.RetryReady, id); err != nil {
			q.Log.Warn("Failed to clear promoted retry", zap.String("job", id), zap.Error(err))
		}
	}
	return nil
}
