package cache

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"erplite/backend/internal/config"
)

func Module() fx.Option {
	return fx.Module(
		"cache",
		fx.Provide(func(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) ReportCache {
			if cfg.RedisAddr == "" {
				return NoopReportCache{}
			}

			redisCache := NewRedisReportCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := redisCache.Ping(pingCtx); err != nil {
				logger.Warn("redis unavailable, report cache disabled", zap.String("addr", cfg.RedisAddr), zap.Error(err))
				_ = redisCache.Close()
				return NoopReportCache{}
			}

			logger.Info("redis report cache enabled", zap.String("addr", cfg.RedisAddr))
			lc.Append(fx.Hook{
				OnStop: func(_ context.Context) error {
					return redisCache.Close()
				},
			})
			return redisCache
		}),
	)
}
