package service

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"erplite/backend/internal/cache"
	"erplite/backend/internal/config"
	"erplite/backend/internal/ledger"
	"erplite/backend/internal/store"
)

func Module() fx.Option {
	return fx.Module(
		"service",
		fx.Provide(func(repo store.Repository, stock *ledger.Ledger, reports cache.ReportCache, cfg config.Config, logger *zap.Logger) *Service {
			return New(repo, stock, reports, Options{
				ReportCacheTTL:    cfg.ReportCacheTTL(),
				LowStockThreshold: cfg.LowStockThreshold,
			}, logger)
		}),
	)
}
