package providers

import (
	"context"
	"time"

	"go.od2.network/hive/pkg/config"
	"go.od2.network/hive/pkg/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewStore connects to Redis and registers its shutdown on the fx
// lifecycle.
func NewStore(lc fx.Lifecycle, log *zap.Logger, cfg *config.Config) (*store.Store, error) {
	connectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info("Connecting to Redis", zap.String("url", cfg.RedisURL))
	s, err := store.New(connectCtx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			log.Info("Closing Redis client")
			return s.Close()
		},
	})
	return s, nil
}
