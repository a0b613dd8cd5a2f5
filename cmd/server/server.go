// Package server wires the ingress mux and the Prometheus metrics handler
// onto one listener: the single process that serves this service end to
// end, behind an fx.App.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.od2.network/hive/cmd/providers"
	"go.od2.network/hive/pkg/config"
	"go.od2.network/hive/pkg/ingress"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Cmd is the server sub-command.
var Cmd = cobra.Command{
	Use:   "server",
	Short: "Run the prompt-dispatch HTTP server.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		app := providers.NewApp(cmd, fx.Invoke(Run))
		app.Run()
	},
}

// Run starts the HTTP listener and registers its shutdown on the fx
// lifecycle.
func Run(lc fx.Lifecycle, log *zap.Logger, cfg *config.Config, ingressServer *ingress.Server, metricsHandler http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("/", ingressServer.Handler())
	mux.Handle("/metrics", metricsHandler)

	addr := fmt.Sprintf(":%d", cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", addr, err)
	}
	srv := &http.Server{Addr: addr, Handler: mux}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Info("Starting HTTP server", zap.String("addr", addr))
			go func() {
				if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
					log.Fatal("HTTP server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("Stopping HTTP server")
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
	return nil
}
