// Package dispatch implements the worker-pool dispatcher (§4.C): it finds
// a free worker, issues a search, classifies the outcome, and retries
// across workers within the deadline carried by its context. The
// selection loop is stateless and concurrency-safe, driven by repeated
// health probing rather than a server-side atomic assignment, because the
// resource being arbitrated (worker business) is observed over HTTP, not
// inside a shared store.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.od2.network/hive/pkg/workerclient"
	"go.uber.org/zap"
)

// Counters is the subset of pkg/metrics' dispatch counters this package
// needs; kept as an interface so dispatch doesn't import metrics directly.
type Counters interface {
	Attempt(ctx context.Context)
	Success(ctx context.Context)
	Exhausted(ctx context.Context)
}

// ErrInvalidArgument is returned when the caller-supplied worker hint is
// out of range, or the prompt fails validation the core still checks
// defensively even though ingress is supposed to have rejected it already.
var ErrInvalidArgument = errors.New("dispatch: invalid argument")

// ErrExhausted is returned when no worker produced a terminal outcome
// within the attempt budget.
var ErrExhausted = errors.New("dispatch: exhausted")

// MaxPromptLen is the hard prompt length ceiling, §3.
const MaxPromptLen = 10000

// Result is the dispatcher's only success shape, never partial.
type Result struct {
	JSON       string
	RawText    string
	UsedWorker int
}

// Options configures retry cadence and timeouts independent from the
// per-job deadline, which the caller enforces via ctx.
type Options struct {
	HealthTimeout         time.Duration
	SearchTimeout         time.Duration
	RetryDelay            time.Duration // sleep between "no free worker" cycles, §4.C.2.b
	MaxAttemptsMultiplier int            // circuit breaker = configured MaxAttempts * this, §4.C.2
	MaxAttempts           int            // the queue's MAX_ATTEMPTS, used to derive the multiplier budget
}

// Progress is the opaque {stage, workerId} snapshot the dispatcher may
// publish as it works; the queue stores it best-effort (§4.D).
type Progress struct {
	Stage    string
	WorkerID int
}

// ProgressFunc receives best-effort progress updates. May be nil.
type ProgressFunc func(Progress)

// Dispatcher is stateless; constructing one is cheap and many concurrent
// Dispatch calls on the same Dispatcher race cleanly (§5).
type Dispatcher struct {
	Workers *workerclient.Client
	Log     *zap.Logger
	Options Options

	// Metrics is optional; a nil value disables counting.
	Metrics Counters
}

// New builds a Dispatcher.
func New(workers *workerclient.Client, log *zap.Logger, opts Options) *Dispatcher {
	if opts.MaxAttemptsMultiplier <= 0 {
		opts.MaxAttemptsMultiplier = 10
	}
	return &Dispatcher{Workers: workers, Log: log, Options: opts}
}

func (d *Dispatcher) countAttempt(ctx context.Context) {
	if d.Metrics != nil {
		d.Metrics.Attempt(ctx)
	}
}

func (d *Dispatcher) countSuccess(ctx context.Context) {
	if d.Metrics != nil {
		d.Metrics.Success(ctx)
	}
}

func (d *Dispatcher) countExhausted(ctx context.Context) {
	if d.Metrics != nil {
		d.Metrics.Exhausted(ctx)
	}
}

// Dispatch implements §4.C. ctx carries the per-job deadline (§4.D); the
// dispatcher does not set one of its own beyond the per-HTTP-call timeouts.
func (d *Dispatcher) Dispatch(ctx context.Context, prompt string, workerHint int, progress ProgressFunc) (Result, error) {
	if len(prompt) == 0 || len(prompt) > MaxPromptLen {
		return Result{}, fmt.Errorf("%w: prompt length %d out of bounds", ErrInvalidArgument, len(prompt))
	}
	n := d.Workers.N()
	if workerHint != 0 {
		if workerHint < 1 || workerHint > n {
			return Result{}, fmt.Errorf("%w: worker hint %d out of range [1,%d]", ErrInvalidArgument, workerHint, n)
		}
		if res, ok, err := d.tryHint(ctx, prompt, workerHint, progress); ok {
			return res, err
		}
		// Fall through to dynamic selection, where the hinted worker gets no
		// preference over the others.
	}
	return d.dynamicLoop(ctx, prompt, progress)
}

// tryHint implements §4.C step 1. ok=false means "fall through", not an
// error; the caller should proceed to dynamic selection regardless of why.
func (d *Dispatcher) tryHint(ctx context.Context, prompt string, worker int, progress ProgressFunc) (Result, bool, error) {
	health := d.Workers.Health(ctx, worker, d.Options.HealthTimeout)
	if !health.Selectable() {
		d.Log.Debug("Hinted worker not selectable, falling back",
			zap.Int("worker", worker), zap.Bool("ok", health.OK), zap.Bool("busy", health.Busy))
		return Result{}, false, nil
	}
	emit(progress, Progress{Stage: "searching", WorkerID: worker})
	d.countAttempt(ctx)
	outcome := d.Workers.Search(ctx, worker, prompt, d.Options.SearchTimeout)
	switch outcome.Kind {
	case workerclient.Success:
		d.countSuccess(ctx)
		return Result{JSON: outcome.JSON, RawText: outcome.RawText, UsedWorker: worker}, true, nil
	case workerclient.Empty:
		d.countSuccess(ctx)
		return Result{JSON: "", RawText: outcome.RawText, UsedWorker: worker}, true, nil
	default:
		d.Log.Debug("Hinted worker attempt did not succeed, falling back",
			zap.Int("worker", worker), zap.String("outcome", outcome.Kind.String()), zap.String("reason", outcome.Reason))
		return Result{}, false, nil
	}
}

// dynamicLoop implements §4.C step 2: the circuit-breaker bounded probe
// loop. maxAttempts = configured MaxAttempts * 10.
func (d *Dispatcher) dynamicLoop(ctx context.Context, prompt string, progress ProgressFunc) (Result, error) {
	maxAttempts := d.Options.MaxAttempts * d.Options.MaxAttemptsMultiplier
	if maxAttempts <= 0 {
		maxAttempts = d.Options.MaxAttemptsMultiplier
	}
	noFreeCycles := 0
	// skip holds workers whose search came back blocked or transient; they
	// are passed over while another selectable worker exists.
	skip := make(map[int]bool)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		worker, ok := d.pickFreeWorker(ctx, skip)
		if !ok {
			noFreeCycles++
			if noFreeCycles%10 == 0 {
				d.Log.Info("All workers busy", zap.Int("cycles", noFreeCycles), zap.Int("attempt", attempt))
			}
			emit(progress, Progress{Stage: "waiting_for_worker"})
			if err := sleep(ctx, d.Options.RetryDelay); err != nil {
				return Result{}, err
			}
			continue
		}
		emit(progress, Progress{Stage: "searching", WorkerID: worker})
		d.countAttempt(ctx)
		outcome := d.Workers.Search(ctx, worker, prompt, d.Options.SearchTimeout)
		switch outcome.Kind {
		case workerclient.Success:
			d.countSuccess(ctx)
			return Result{JSON: outcome.JSON, RawText: outcome.RawText, UsedWorker: worker}, nil
		case workerclient.Empty:
			d.countSuccess(ctx)
			return Result{JSON: "", RawText: outcome.RawText, UsedWorker: worker}, nil
		case workerclient.Blocked:
			d.Log.Info("Worker blocked, retrying another",
				zap.Int("worker", worker), zap.String("reason", outcome.Reason))
			// No sleep: proxy rotation happens worker-side.
			skip[worker] = true
		case workerclient.Busy:
			d.Log.Debug("Worker became busy mid-flight", zap.Int("worker", worker))
		case workerclient.Transient:
			d.Log.Info("Transient worker error, retrying another",
				zap.Int("worker", worker), zap.String("reason", outcome.Reason))
			skip[worker] = true
		}
	}
	d.countExhausted(ctx)
	return Result{}, fmt.Errorf("%w: no worker produced a terminal outcome within %d attempts", ErrExhausted, maxAttempts)
}

// pickFreeWorker implements §4.C.2.a: probe all workers in parallel, pick
// the lowest-indexed one reporting selectable health. Workers in skip are
// picked only when no other worker is selectable.
func (d *Dispatcher) pickFreeWorker(ctx context.Context, skip map[int]bool) (int, bool) {
	n := d.Workers.N()
	type probe struct {
		worker int
		health workerclient.HealthSnapshot
	}
	results := make(chan probe, n)
	for w := 1; w <= n; w++ {
		w := w
		go func() {
			results <- probe{worker: w, health: d.Workers.Health(ctx, w, d.Options.HealthTimeout)}
		}()
	}
	best, fallback := 0, 0
	for i := 0; i < n; i++ {
		p := <-results
		if !p.health.Selectable() {
			continue
		}
		if skip[p.worker] {
			if fallback == 0 || p.worker < fallback {
				fallback = p.worker
			}
			continue
		}
		if best == 0 || p.worker < best {
			best = p.worker
		}
	}
	if best == 0 {
		best = fallback
	}
	if best == 0 {
		return 0, false
	}
	return best, true
}

func emit(progress ProgressFunc, p Progress) {
	if progress != nil {
		progress(p)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
