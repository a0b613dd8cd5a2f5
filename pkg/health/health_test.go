package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.od2.network/hive/pkg/store"
	"go.od2.network/hive/pkg/workerclient"
	"go.uber.org/zap/zaptest"
)

func newTestAggregator(t *testing.T, handlers ...http.HandlerFunc) *Aggregator {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	s, err := store.New(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	endpoints := make([]string, len(handlers))
	for i, h := range handlers {
		srv := httptest.NewServer(h)
		t.Cleanup(srv.Close)
		endpoints[i] = srv.URL
	}
	workers := workerclient.New(http.DefaultClient, endpoints)
	return New(s, workers, zaptest.NewLogger(t), time.Second, 0, time.Minute)
}

func healthyHandler(rw http.ResponseWriter, r *http.Request) {
	rw.Write([]byte(`{"ok":true,"busy":false,"ready":true}`))
}

func deadHandler(rw http.ResponseWriter, r *http.Request) {
	rw.WriteHeader(http.StatusInternalServerError)
}

func TestAggregateAllHealthy(t *testing.T) {
	a := newTestAggregator(t, healthyHandler, healthyHandler)
	snap := a.Aggregate(context.Background())
	require.Equal(t, StatusOK, snap.App.Status)
	require.Equal(t, StatusOK, snap.Redis.Status)
	require.Equal(t, StatusOK, snap.Workers.Status)
	require.Equal(t, 2, snap.Workers.Healthy)
}

func TestAggregateDegradedWhenSomeWorkersFail(t *testing.T) {
	a := newTestAggregator(t, healthyHandler, deadHandler)
	snap := a.Aggregate(context.Background())
	require.Equal(t, StatusDegraded, snap.Workers.Status)
	require.Equal(t, 1, snap.Workers.Healthy)
}

func TestAggregateFailWhenNoWorkersHealthy(t *testing.T) {
	a := newTestAggregator(t, deadHandler, deadHandler)
	snap := a.Aggregate(context.Background())
	require.Equal(t, StatusFail, snap.Workers.Status)
	require.Equal(t, 0, snap.Workers.Healthy)
}

func TestAggregateReportsRedisFailure(t *testing.T) {
	a := newTestAggregator(t, healthyHandler)
	require.NoError(t, a.Store.Close())

	snap := a.Aggregate(context.Background())
	require.Equal(t, StatusFail, snap.Redis.Status)
	require.NotEmpty(t, snap.Redis.Error)
}

func TestCachedWorkerHealthReusesSnapshot(t *testing.T) {
	calls := 0
	a := newTestAggregator(t, func(rw http.ResponseWriter, r *http.Request) {
		calls++
		rw.Write([]byte(`{"ok":true}`))
	})
	a.CacheTTL = time.Minute
	ctx := context.Background()

	_ = a.cachedWorkerHealth(ctx, 1)
	_ = a.cachedWorkerHealth(ctx, 1)
	require.Equal(t, 1, calls)
}

func TestMaintainWarmsUpPersistentlyUnhealthyWorker(t *testing.T) {
	var warmedUp bool
	a := newTestAggregator(t, func(rw http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			rw.WriteHeader(http.StatusInternalServerError)
		case "/tabs/search":
			warmedUp = true
			rw.WriteHeader(http.StatusOK)
		}
	})
	a.WaitForWorkerMax = 0

	require.NoError(t, a.Maintain(context.Background()))
	require.True(t, warmedUp)
}

func TestMaintainSkipsHealthyWorkers(t *testing.T) {
	var warmedUp bool
	a := newTestAggregator(t, func(rw http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			rw.Write([]byte(`{"ok":true,"busy":false,"ready":true}`))
		case "/tabs/search":
			warmedUp = true
		}
	})
	a.WaitForWorkerMax = 0

	require.NoError(t, a.Maintain(context.Background()))
	require.False(t, warmedUp)
}
