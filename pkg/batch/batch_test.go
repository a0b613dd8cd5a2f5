package batch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.od2.network/hive/pkg/dispatch"
	"go.od2.network/hive/pkg/idempotency"
	"go.od2.network/hive/pkg/queue"
	"go.od2.network/hive/pkg/store"
	"go.od2.network/hive/pkg/workerclient"
	"go.uber.org/zap/zaptest"
)

func newTestCoordinator(t *testing.T, handler http.HandlerFunc) *Coordinator {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	s, err := store.New(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	workers := workerclient.New(http.DefaultClient, []string{srv.URL})
	log := zaptest.NewLogger(t)
	d := dispatch.New(workers, log, dispatch.Options{
		HealthTimeout: time.Second,
		SearchTimeout: time.Second,
		RetryDelay:    10 * time.Millisecond,
		MaxAttempts:   2,
	})
	idem := idempotency.New(s)
	q := queue.New(s, d, idem, log, queue.DefaultOptions())
	return New(q, s, idem, log, time.Minute)
}

func healthyHandler(rw http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/health":
		rw.Write([]byte(`{"ok":true,"busy":false,"ready":true}`))
	case "/search":
		rw.Write([]byte(`{"ok":true,"result":{"json":"{}"}}`))
	}
}

func TestEnqueueBulkCreatesOneJobPerPrompt(t *testing.T) {
	c := newTestCoordinator(t, healthyHandler)
	ctx := context.Background()

	res, err := c.EnqueueBulk(ctx, EnqueueBulkRequest{Prompts: []string{"a", "b", "c"}})
	require.NoError(t, err)
	require.NotEmpty(t, res.BatchID)
	require.Len(t, res.JobIDs, 3)

	for i, id := range res.JobIDs {
		job, err := c.Queue.Get(ctx, id)
		require.NoError(t, err)
		require.Equal(t, res.BatchID, job.BatchID)
		require.Equal(t, i, job.BatchIndex)
		require.Equal(t, 3, job.BatchTotal)
	}
}

func TestEnqueueBulkRejectsEmptyPrompts(t *testing.T) {
	c := newTestCoordinator(t, healthyHandler)
	_, err := c.EnqueueBulk(context.Background(), EnqueueBulkRequest{Prompts: nil})
	require.ErrorIs(t, err, ErrEmptyPrompts)
}

func TestEnqueueBulkIsIdempotent(t *testing.T) {
	c := newTestCoordinator(t, healthyHandler)
	ctx := context.Background()

	res1, err := c.EnqueueBulk(ctx, EnqueueBulkRequest{Prompts: []string{"a", "b"}, IdempotencyKey: "k1"})
	require.NoError(t, err)

	res2, err := c.EnqueueBulk(ctx, EnqueueBulkRequest{Prompts: []string{"x", "y"}, IdempotencyKey: "k1"})
	require.NoError(t, err)
	require.Equal(t, res1.BatchID, res2.BatchID)
	require.Equal(t, res1.JobIDs, res2.JobIDs)
}

func TestGetStatusUnknownBatch(t *testing.T) {
	c := newTestCoordinator(t, healthyHandler)
	_, err := c.GetStatus(context.Background(), "no-such-batch")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetStatusAggregatesAndSorts(t *testing.T) {
	c := newTestCoordinator(t, healthyHandler)
	ctx := context.Background()

	res, err := c.EnqueueBulk(ctx, EnqueueBulkRequest{Prompts: []string{"a", "b", "c"}})
	require.NoError(t, err)

	status, err := c.GetStatus(ctx, res.BatchID)
	require.NoError(t, err)
	require.Equal(t, 3, status.Counts.Total)
	require.Equal(t, 3, status.Counts.Pending)

	for i, job := range status.Jobs {
		require.Equal(t, i, job.BatchIndex)
	}
}

func TestGetStatusToleratesEvictedJob(t *testing.T) {
	c := newTestCoordinator(t, healthyHandler)
	ctx := context.Background()

	res, err := c.EnqueueBulk(ctx, EnqueueBulkRequest{Prompts: []string{"a", "b"}})
	require.NoError(t, err)

	require.NoError(t, c.Store.Del(ctx, c.Queue.Keys.JobKey(res.JobIDs[0])))

	status, err := c.GetStatus(ctx, res.BatchID)
	require.NoError(t, err)
	require.Len(t, status.Jobs, 1)
	require.Equal(t, 2, status.Counts.Total)
}
