// Package ledger is the only writer of stock quantities. Every change is an
// adjustment that appends a movement, inside either its own unit of work or
// one opened by the caller.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"erplite/backend/internal/domain"
	"erplite/backend/internal/store"
)

var validReasons = map[string]struct{}{
	domain.MovementSale:           {},
	domain.MovementPurchase:       {},
	domain.MovementSaleCancel:     {},
	domain.MovementPurchaseCancel: {},
	domain.MovementCount:          {},
}

type Ledger struct {
	repo   store.Repository
	logger *zap.Logger
}

func New(repo store.Repository, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{repo: repo, logger: logger.Named("ledger")}
}

// Quantity returns the on-hand quantity, zero for a product that never had
// stock.
func (l *Ledger) Quantity(ctx context.Context, productID string) (int, error) {
	entry, err := l.Entry(ctx, productID)
	if err != nil {
		return 0, err
	}
	return entry.Quantity, nil
}

func (l *Ledger) Entry(ctx context.Context, productID string) (domain.StockEntry, error) {
	productID = strings.TrimSpace(productID)
	entry, err := l.repo.GetStock(ctx, productID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.StockEntry{ProductID: productID}, nil
	}
	if err != nil {
		return domain.StockEntry{}, err
	}
	return *entry, nil
}

// Adjust applies delta in a unit of work of its own and returns the new
// quantity.
func (l *Ledger) Adjust(ctx context.Context, productID string, delta int, reason string, referenceID string) (int, error) {
	var quantity int
	err := l.repo.WithinTx(ctx, func(tx store.Tx) error {
		entry, err := l.AdjustIn(ctx, tx, domain.StockMovement{
			ProductID:   productID,
			Delta:       delta,
			Reason:      reason,
			ReferenceID: referenceID,
		})
		if err != nil {
			return err
		}
		quantity = entry.Quantity
		return nil
	})
	if err != nil {
		return 0, err
	}
	return quantity, nil
}

// AdjustIn applies the movement inside the caller's unit of work. The
// product must exist and the resulting quantity must not be negative.
func (l *Ledger) AdjustIn(ctx context.Context, tx store.Tx, movement domain.StockMovement) (domain.StockEntry, error) {
	movement.ProductID = strings.TrimSpace(movement.ProductID)
	if movement.ProductID == "" {
		return domain.StockEntry{}, fmt.Errorf("%w: product id is required", store.ErrInvalidInput)
	}
	if movement.Delta == 0 {
		return domain.StockEntry{}, fmt.Errorf("%w: delta must not be zero", store.ErrInvalidInput)
	}
	if _, ok := validReasons[movement.Reason]; !ok {
		return domain.StockEntry{}, fmt.Errorf("%w: unknown movement reason %q", store.ErrInvalidInput, movement.Reason)
	}
	if movement.UnitCost != nil && movement.UnitCost.IsNegative() {
		return domain.StockEntry{}, fmt.Errorf("%w: unit cost must not be negative", store.ErrInvalidInput)
	}
	if _, err := tx.GetProduct(ctx, movement.ProductID); err != nil {
		return domain.StockEntry{}, err
	}

	entry, err := tx.AdjustStock(ctx, movement)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientStock) {
			l.logger.Debug("stock adjustment rejected",
				zap.String("product_id", movement.ProductID),
				zap.Int("delta", movement.Delta),
				zap.String("reason", movement.Reason),
			)
		}
		return domain.StockEntry{}, err
	}
	return *entry, nil
}

func (l *Ledger) Movements(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return l.repo.ListStockMovements(ctx, strings.TrimSpace(productID), limit)
}
