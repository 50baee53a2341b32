package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-core-fx/logger"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"erplite/backend/internal/cache"
	"erplite/backend/internal/config"
	"erplite/backend/internal/httpapi"
	"erplite/backend/internal/ledger"
	"erplite/backend/internal/service"
	"erplite/backend/internal/store"
	"erplite/backend/internal/store/memory"
	pgstore "erplite/backend/internal/store/postgres"
	sqlitestore "erplite/backend/internal/store/sqlite"
)

func main() {
	app := fx.New(
		logger.Module(),
		logger.WithFxDefaultLogger(),
		config.Module(),
		fx.Provide(provideRepository),
		cache.Module(),
		ledger.Module(),
		service.Module(),
		httpapi.Module(),
		fx.Invoke(validateSecurityConfig),
		fx.Invoke(func(*http.Server) {}),
	)
	if err := app.Err(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	app.Run()
}

// provideRepository picks postgres when DATABASE_URL is set, then sqlite
// when SQLITE_PATH is set, and otherwise a seeded in-memory store.
func provideRepository(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (store.Repository, error) {
	var repo store.Repository
	switch {
	case cfg.DatabaseURL != "":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback: %w", err)
		}
		repo = pg
		log.Info("repository: postgres")
	case cfg.SQLitePath != "":
		lite, err := sqlitestore.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
		}
		repo = lite
		log.Info("repository: sqlite", zap.String("path", cfg.SQLitePath))
	default:
		repo = memory.NewSeeded()
		log.Warn("repository: in-memory; data is lost on restart")
	}

	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			return repo.Close()
		},
	})
	return repo, nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects PINs that are all the same digit,
// sequential (ascending or descending), or from a known-weak list.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "111111": true,
		"222222": true, "333333": true, "444444": true, "555555": true,
		"666666": true, "777777": true, "888888": true, "999999": true,
		"121212": true, "112233": true, "123123": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	// Reject all-same-digit PINs.
	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	// Reject ascending or descending sequential PINs (e.g. 123456, 987654).
	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}

	return nil
}
