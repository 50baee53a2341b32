package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"erplite/backend/internal/domain"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrNotFound            = errors.New("not found")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrDuplicate           = errors.New("duplicate")
	ErrPersistence         = errors.New("persistence failure")
)

// Tx is the view of the store inside one unit of work. Writes made through
// a Tx become visible to others only when the surrounding WithinTx returns
// nil.
type Tx interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	// GetStock returns ErrNotFound when the product has no stock entry yet.
	GetStock(ctx context.Context, productID string) (*domain.StockEntry, error)
	// AdjustStock applies movement.Delta to the product's entry, creating it
	// when missing, and appends the movement to the ledger. It returns
	// ErrInsufficientStock when the quantity would drop below zero.
	AdjustStock(ctx context.Context, movement domain.StockMovement) (*domain.StockEntry, error)

	CreateSale(ctx context.Context, sale domain.Sale) error
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	UpdateSale(ctx context.Context, sale domain.Sale) error

	CreatePurchase(ctx context.Context, purchase domain.Purchase) error
	GetPurchase(ctx context.Context, id string) (*domain.Purchase, error)
	UpdatePurchase(ctx context.Context, purchase domain.Purchase) error

	// SumPayments totals the non-failed, non-refunded payments recorded
	// against relatedID and reports how many payments exist in any status.
	SumPayments(ctx context.Context, relatedID string) (decimal.Decimal, int, error)
	CreatePayment(ctx context.Context, payment domain.Payment) error
}

type Repository interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
	GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	GetStock(ctx context.Context, productID string) (*domain.StockEntry, error)
	ListStock(ctx context.Context) ([]domain.StockEntry, error)
	ListStockMovements(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error)

	ListSales(ctx context.Context, filter domain.ListFilter) ([]domain.Sale, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error)

	ListPurchases(ctx context.Context, filter domain.ListFilter) ([]domain.Purchase, error)
	GetPurchase(ctx context.Context, id string) (*domain.Purchase, error)
	FindPurchaseByIdempotency(ctx context.Context, key string) (*domain.Purchase, error)

	ListPayments(ctx context.Context, filter domain.ListFilter) ([]domain.Payment, error)

	CreateCost(ctx context.Context, cost domain.Cost) (*domain.Cost, error)
	ListCosts(ctx context.Context, filter domain.ListFilter) ([]domain.Cost, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUserByEmail(ctx context.Context, email string) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, email string, passwordHash string) error

	Close() error
}

// WeightedUnitCost blends the cost of incoming units into the running average
// of the units already on hand.
func WeightedUnitCost(oldCost *decimal.Decimal, oldQty int, incomingCost decimal.Decimal, incomingQty int) decimal.Decimal {
	if incomingQty <= 0 {
		if oldCost != nil {
			return *oldCost
		}
		return incomingCost
	}
	if oldCost == nil || oldQty <= 0 {
		return incomingCost
	}
	totalQty := decimal.NewFromInt(int64(oldQty + incomingQty))
	totalValue := oldCost.Mul(decimal.NewFromInt(int64(oldQty))).
		Add(incomingCost.Mul(decimal.NewFromInt(int64(incomingQty))))
	return totalValue.DivRound(totalQty, 4)
}

// PaymentCounts reports whether a payment in the given status contributes to
// the paid amount of its sale or purchase.
func PaymentCounts(status string) bool {
	return status != domain.PaymentFailed && status != domain.PaymentRefunded
}
