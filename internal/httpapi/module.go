package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"erplite/backend/internal/config"
	"erplite/backend/internal/service"
	"erplite/backend/internal/store"
)

func Module() fx.Option {
	return fx.Module(
		"httpapi",
		fx.Provide(func(lc fx.Lifecycle, cfg config.Config, repo store.Repository, logger *zap.Logger) *AuthManager {
			auth := NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.ManagerPIN, repo, logger)
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					return auth.Bootstrap(ctx, cfg.AdminEmail, cfg.AdminPassword)
				},
			})
			return auth
		}),
		fx.Provide(func(svc *service.Service, auth *AuthManager, cfg config.Config, logger *zap.Logger) *API {
			return New(svc, auth, Options{
				AllowedOrigin:  cfg.AllowedOrigin,
				RequestTimeout: cfg.RequestTimeout(),
				SecureCookies:  strings.HasPrefix(cfg.AllowedOrigin, "https://"),
			}, logger)
		}),
		fx.Provide(newServer),
	)
}

func newServer(lc fx.Lifecycle, api *API, cfg config.Config, logger *zap.Logger) *http.Server {
	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.RequestTimeout() + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			listener, err := net.Listen("tcp", server.Addr)
			if err != nil {
				return err
			}
			logger.Info("erplite backend listening", zap.String("addr", server.Addr))
			go func() {
				if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return server.Shutdown(ctx)
		},
	})
	return server
}
