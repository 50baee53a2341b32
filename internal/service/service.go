package service

import (
	"context"
	"errors"
	"slices"
	"time"

	"go.uber.org/zap"

	"erplite/backend/internal/cache"
	"erplite/backend/internal/domain"
	"erplite/backend/internal/ledger"
	"erplite/backend/internal/store"
)

var (
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidState = errors.New("invalid state")
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	ReportCacheTTL    time.Duration
	LowStockThreshold int
}

type Service struct {
	repo    store.Repository
	ledger  *ledger.Ledger
	reports cache.ReportCache
	opts    Options
	logger  *zap.Logger
}

func New(repo store.Repository, stock *ledger.Ledger, reports cache.ReportCache, opts Options, logger *zap.Logger) *Service {
	if reports == nil {
		reports = cache.NoopReportCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if stock == nil {
		stock = ledger.New(repo, logger)
	}
	if opts.ReportCacheTTL <= 0 {
		opts.ReportCacheTTL = 30 * time.Second
	}
	if opts.LowStockThreshold <= 0 {
		opts.LowStockThreshold = 10
	}

	return &Service{
		repo:    repo,
		ledger:  stock,
		reports: reports,
		opts:    opts,
		logger:  logger.Named("service"),
	}
}

// withinTx runs fn as one unit of work and retries it once when the store
// reports a concurrency conflict. fn must be safe to run twice.
func (s *Service) withinTx(ctx context.Context, op string, fn func(tx store.Tx) error) error {
	err := s.repo.WithinTx(ctx, fn)
	if errors.Is(err, store.ErrConcurrencyConflict) {
		s.logger.Warn("retrying unit of work after conflict", zap.String("op", op), zap.Error(err))
		err = s.repo.WithinTx(ctx, fn)
	}
	return err
}

func requireRole(ctx context.Context, roles ...string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || !slices.Contains(roles, actor.Role) {
		return domain.Actor{}, ErrForbidden
	}
	return actor, nil
}

func actorEmail(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok {
		return actor.Email
	}
	return "system"
}

// logAudit writes an audit line for a state-changing operation.
func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, fields ...zap.Field) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Email: "system", Role: "system"}
	}
	base := []zap.Field{
		zap.String("action", action),
		zap.String("entity_type", entityType),
		zap.String("entity_id", entityID),
		zap.String("actor", actor.Email),
		zap.String("actor_role", actor.Role),
	}
	s.logger.Info("audit", append(base, fields...)...)
}

// invalidateReports drops cached reports after a write that changes what
// they project. A cache failure never fails the write.
func (s *Service) invalidateReports(ctx context.Context) {
	if err := s.reports.Invalidate(ctx, reportKeyPrefix); err != nil {
		s.logger.Warn("report cache invalidation failed", zap.Error(err))
	}
}
