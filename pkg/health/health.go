// Package health implements the health aggregator (§4.G): a single query
// that probes the persistence adapter and every worker in parallel and
// folds the results into one app/redis/workers snapshot, plus a periodic
// maintenance sweep that nudges persistently unhealthy workers.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/simplelru"
	"go.od2.network/hive/pkg/cachegc"
	"go.od2.network/hive/pkg/ratelimit"
	"go.od2.network/hive/pkg/store"
	"go.od2.network/hive/pkg/workerclient"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Status is the three-way result reported for a probed component.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusFail     Status = "fail"
)

// AppHealth is always ok, §4.G: "always ok if the call reached the
// aggregator."
type AppHealth struct {
	Status Status `json:"status"`
}

// RedisHealth carries the PING round-trip time on success.
type RedisHealth struct {
	Status      Status `json:"status"`
	RoundTripMS int64  `json:"roundTripMs,omitempty"`
	Error       string `json:"error,omitempty"`
}

// WorkerDetail is one worker's contribution to the aggregate.
type WorkerDetail struct {
	Worker int    `json:"worker"`
	Status Status `json:"status"`
	Busy   bool   `json:"busy,omitempty"`
	Error  string `json:"error,omitempty"`
}

// WorkersHealth is the fleet-wide rollup, §4.G.
type WorkersHealth struct {
	Total   int            `json:"total"`
	Healthy int            `json:"healthy"`
	Busy    int            `json:"busy"`
	Status  Status         `json:"status"`
	Details []WorkerDetail `json:"details"`
}

// Snapshot is the full aggregate returned by Aggregate.
type Snapshot struct {
	App     AppHealth     `json:"app"`
	Redis   RedisHealth   `json:"redis"`
	Workers WorkersHealth `json:"workers"`
}

// Aggregator probes the store and worker fleet. A short-TTL cache absorbs
// repeated polling against the same worker snapshots; the dispatcher's own
// selection probe never goes through this cache (§4.C step 2a requires a
// fresh read on every attempt); only this package's own read path does.
type Aggregator struct {
	Store   *store.Store
	Workers *workerclient.Client
	Log     *zap.Logger

	HealthTimeout time.Duration
	CacheTTL      time.Duration

	// WaitForWorkerMax bounds how long a worker may stay unhealthy before
	// Maintain starts nudging it (a warmup, then a restart if the warmup
	// call fails).
	WaitForWorkerMax time.Duration

	cache          *cachegc.Cache
	restartLimiter map[int]*ratelimit.RateLimit
	unhealthySince map[int]time.Time
	mu             sync.Mutex
}

// New builds an Aggregator. CacheTTL of zero disables snapshot caching.
func New(s *store.Store, workers *workerclient.Client, log *zap.Logger, healthTimeout, cacheTTL, waitForWorkerMax time.Duration) *Aggregator {
	lru, _ := simplelru.NewLRU(workers.N()+1, nil)
	a := &Aggregator{
		Store:            s,
		Workers:          workers,
		Log:              log,
		HealthTimeout:    healthTimeout,
		CacheTTL:         cacheTTL,
		WaitForWorkerMax: waitForWorkerMax,
		cache:            cachegc.NewCache(lru, cacheTTL),
		restartLimiter:   make(map[int]*ratelimit.RateLimit),
		unhealthySince:   make(map[int]time.Time),
	}
	for w := 1; w <= workers.N(); w++ {
		// At most one restart attempt per worker per 5-minute window: with a
		// target of half an event per window, one recorded restart already
		// puts the estimate over the limit.
		a.restartLimiter[w] = ratelimit.NewRateLimit(0.5/300.0, 300)
	}
	return a
}

// Aggregate implements §4.G: probes Redis and every worker in parallel.
func (a *Aggregator) Aggregate(ctx context.Context) Snapshot {
	var wg sync.WaitGroup
	var redisHealth RedisHealth
	workerSnapshots := make([]workerclient.HealthSnapshot, a.Workers.N())

	wg.Add(1)
	go func() {
		defer wg.Done()
		redisHealth = a.probeRedis(ctx)
	}()

	for w := 1; w <= a.Workers.N(); w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			workerSnapshots[w-1] = a.cachedWorkerHealth(ctx, w)
		}()
	}
	wg.Wait()

	return Snapshot{
		App:     AppHealth{Status: StatusOK},
		Redis:   redisHealth,
		Workers: summarizeWorkers(workerSnapshots),
	}
}

func (a *Aggregator) probeRedis(ctx context.Context) RedisHealth {
	rtt, err := a.Store.Ping(ctx)
	if err != nil {
		return RedisHealth{Status: StatusFail, Error: err.Error()}
	}
	return RedisHealth{Status: StatusOK, RoundTripMS: rtt.Milliseconds()}
}

func (a *Aggregator) cachedWorkerHealth(ctx context.Context, worker int) workerclient.HealthSnapshot {
	if a.CacheTTL <= 0 {
		return a.Workers.Health(ctx, worker, a.HealthTimeout)
	}
	a.mu.Lock()
	a.cache.TTL = a.CacheTTL
	cached, ok := a.cache.Get(worker)
	a.mu.Unlock()
	if ok {
		return cached.(workerclient.HealthSnapshot)
	}
	snap := a.Workers.Health(ctx, worker, a.HealthTimeout)
	a.mu.Lock()
	a.cache.Add(worker, snap)
	a.mu.Unlock()
	return snap
}

func summarizeWorkers(snapshots []workerclient.HealthSnapshot) WorkersHealth {
	result := WorkersHealth{Total: len(snapshots), Details: make([]WorkerDetail, len(snapshots))}
	for i, snap := range snapshots {
		worker := i + 1
		detail := WorkerDetail{Worker: worker, Busy: snap.Busy, Error: snap.Error}
		switch {
		case snap.Selectable():
			detail.Status = StatusOK
			result.Healthy++
		case snap.OK:
			detail.Status = StatusOK // reachable but busy/not-ready counts as reachable, not failing
			result.Healthy++
		default:
			detail.Status = StatusFail
		}
		if snap.Busy {
			result.Busy++
		}
		result.Details[i] = detail
	}
	switch {
	case result.Healthy == result.Total:
		result.Status = StatusOK
	case result.Healthy == 0:
		result.Status = StatusFail
	default:
		result.Status = StatusDegraded
	}
	return result
}

// Maintain runs one maintenance sweep: any worker whose health probe has
// come back unselectable continuously for longer than WaitForWorkerMax
// gets a warmup nudge; if that warmup call fails, it gets a rate-limited
// browser restart instead. Errors from independent workers are combined
// rather than short-circuited.
func (a *Aggregator) Maintain(ctx context.Context) error {
	var combined error
	now := time.Now()
	for w := 1; w <= a.Workers.N(); w++ {
		snap := a.Workers.Health(ctx, w, a.HealthTimeout)
		if snap.Selectable() {
			a.mu.Lock()
			delete(a.unhealthySince, w)
			a.mu.Unlock()
			continue
		}
		since := a.markUnhealthy(w, now)
		if now.Sub(since) < a.WaitForWorkerMax {
			continue
		}
		if err := a.nudgeWorker(ctx, w, now); err != nil {
			combined = multierr.Append(combined, err)
		}
	}
	return combined
}

func (a *Aggregator) markUnhealthy(worker int, now time.Time) time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	since, ok := a.unhealthySince[worker]
	if !ok {
		a.unhealthySince[worker] = now
		return now
	}
	return since
}

func (a *Aggregator) nudgeWorker(ctx context.Context, worker int, now time.Time) error {
	if err := a.Workers.WarmupSearchTab(ctx, worker, a.HealthTimeout); err != nil {
		a.Log.Warn("Warmup nudge failed, considering restart", zap.Int("worker", worker), zap.Error(err))
	} else {
		a.Log.Info("Warmed up unhealthy worker", zap.Int("worker", worker))
		return nil
	}

	limiter := a.restartLimiter[worker]
	if limiter != nil {
		if limiter.Count(now.Unix(), 0) > 0 {
			a.Log.Debug("Restart rate-limited, skipping this sweep", zap.Int("worker", worker))
			return nil
		}
		limiter.Count(now.Unix(), 1)
	}
	if err := a.Workers.RestartBrowser(ctx, worker, a.HealthTimeout); err != nil {
		return err
	}
	a.Log.Info("Restarted unhealthy worker's browser", zap.Int("worker", worker))
	return nil
}
