// Package providers holds the fx constructors shared by every sub-command:
// config, storage, the worker client, the core domain objects, and the
// metrics pipeline. A sub-command's own package (cmd/server) wires these
// together with fx.Invoke rather than reaching for globals.
package providers

import (
	"context"

	"github.com/spf13/cobra"
	"go.od2.network/hive/pkg/appctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Log is the process-wide logger, built once by the root command's
// PersistentPreRun before any fx.App runs.
var Log *zap.Logger

// Providers holds constructors for every shared component.
var Providers = []interface{}{
	// config.go
	NewConfig,
	// store.go
	NewStore,
	// workerclient.go
	NewWorkerClient,
	// metrics.go
	NewMetricsHandler,
	NewMeter,
	NewDispatchMetrics,
	NewQueueMetrics,
	NewBatchMetrics,
	// dispatch.go
	NewDispatcher,
	// idempotency.go
	NewIdempotencyStore,
	// queue.go
	NewQueue,
	// batch.go
	NewBatchCoordinator,
	// health.go
	NewHealthAggregator,
	// ingress.go
	NewIngressServer,
	// providers.go
	NewContext,
}

// NewApp builds the fx.App for a sub-command.
func NewApp(cmd *cobra.Command, opts ...fx.Option) *fx.App {
	baseOpts := []fx.Option{
		fx.Provide(Providers...),
		fx.Supply(cmd),
		fx.Supply(Log),
		fx.Logger(zap.NewStdLog(Log)),
	}
	baseOpts = append(baseOpts, opts...)
	return fx.New(baseOpts...)
}

// NewContext derives the fx-scoped context from the process-lifetime
// signal-cancelled one (pkg/appctx), and additionally cancels it when fx
// stops the app, so background loops honor both a SIGINT and a plain
// shutdown.
func NewContext(lc fx.Lifecycle) context.Context {
	ctx, cancel := context.WithCancel(appctx.Context())
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			cancel()
			return nil
		},
	})
	return ctx
}
