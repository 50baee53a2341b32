package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"erplite/backend/internal/domain"
	"erplite/backend/internal/store"
	"erplite/backend/internal/xid"
)

// memTx stages writes on top of the store. The store's write lock is held by
// WithinTx while a memTx is alive, so it reads the maps directly.
type memTx struct {
	s         *Store
	stock     map[string]domain.StockEntry
	movements []domain.StockMovement
	sales     map[string]domain.Sale
	purchases map[string]domain.Purchase
	payments  []domain.Payment
}

func newTx(s *Store) *memTx {
	return &memTx{
		s:         s,
		stock:     make(map[string]domain.StockEntry),
		sales:     make(map[string]domain.Sale),
		purchases: make(map[string]domain.Purchase),
	}
}

func (t *memTx) commit() {
	for id, entry := range t.stock {
		t.s.stock[id] = entry
	}
	t.s.movements = append(t.s.movements, t.movements...)
	for id, sale := range t.sales {
		t.s.salesByID[id] = sale
		if sale.IdempotencyKey != "" {
			t.s.saleIDByIdem[sale.IdempotencyKey] = id
		}
	}
	for id, purchase := range t.purchases {
		t.s.purchasesByID[id] = purchase
		if purchase.IdempotencyKey != "" {
			t.s.purchaseIDByIdem[purchase.IdempotencyKey] = id
		}
	}
	t.s.payments = append(t.s.payments, t.payments...)
}

func (t *memTx) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	product, ok := t.s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (t *memTx) GetStock(_ context.Context, productID string) (*domain.StockEntry, error) {
	if entry, ok := t.stock[productID]; ok {
		return &entry, nil
	}
	if entry, ok := t.s.stock[productID]; ok {
		return &entry, nil
	}
	return nil, store.ErrNotFound
}

func (t *memTx) AdjustStock(ctx context.Context, movement domain.StockMovement) (*domain.StockEntry, error) {
	entry := domain.StockEntry{ProductID: movement.ProductID}
	if current, err := t.GetStock(ctx, movement.ProductID); err == nil {
		entry = *current
	}

	next := entry.Quantity + movement.Delta
	if next < 0 {
		return nil, store.ErrInsufficientStock
	}
	if movement.Delta > 0 && movement.UnitCost != nil {
		cost := store.WeightedUnitCost(entry.UnitCost, entry.Quantity, *movement.UnitCost, movement.Delta)
		entry.UnitCost = &cost
	}
	if movement.Location != "" {
		entry.Location = movement.Location
	}
	now := time.Now().UTC()
	entry.Quantity = next
	entry.UpdatedAt = now
	t.stock[movement.ProductID] = entry

	if movement.ID == "" {
		movement.ID = xid.New("mov")
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = now
	}
	movement.QtyAfter = next
	t.movements = append(t.movements, movement)
	return &entry, nil
}

func (t *memTx) CreateSale(_ context.Context, sale domain.Sale) error {
	if _, ok := t.s.salesByID[sale.ID]; ok {
		return fmt.Errorf("%w: sale %s", store.ErrDuplicate, sale.ID)
	}
	if sale.IdempotencyKey != "" {
		if _, ok := t.s.saleIDByIdem[sale.IdempotencyKey]; ok {
			return fmt.Errorf("%w: idempotency key %s", store.ErrDuplicate, sale.IdempotencyKey)
		}
	}
	t.sales[sale.ID] = sale
	return nil
}

func (t *memTx) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	if sale, ok := t.sales[id]; ok {
		return &sale, nil
	}
	if sale, ok := t.s.salesByID[id]; ok {
		return &sale, nil
	}
	return nil, store.ErrNotFound
}

func (t *memTx) UpdateSale(ctx context.Context, sale domain.Sale) error {
	if _, err := t.GetSale(ctx, sale.ID); err != nil {
		return err
	}
	t.sales[sale.ID] = sale
	return nil
}

func (t *memTx) CreatePurchase(_ context.Context, purchase domain.Purchase) error {
	if _, ok := t.s.purchasesByID[purchase.ID]; ok {
		return fmt.Errorf("%w: purchase %s", store.ErrDuplicate, purchase.ID)
	}
	if purchase.IdempotencyKey != "" {
		if _, ok := t.s.purchaseIDByIdem[purchase.IdempotencyKey]; ok {
			return fmt.Errorf("%w: idempotency key %s", store.ErrDuplicate, purchase.IdempotencyKey)
		}
	}
	t.purchases[purchase.ID] = purchase
	return nil
}

func (t *memTx) GetPurchase(_ context.Context, id string) (*domain.Purchase, error) {
	if purchase, ok := t.purchases[id]; ok {
		return &purchase, nil
	}
	if purchase, ok := t.s.purchasesByID[id]; ok {
		return &purchase, nil
	}
	return nil, store.ErrNotFound
}

func (t *memTx) UpdatePurchase(ctx context.Context, purchase domain.Purchase) error {
	if _, err := t.GetPurchase(ctx, purchase.ID); err != nil {
		return err
	}
	t.purchases[purchase.ID] = purchase
	return nil
}

func (t *memTx) SumPayments(_ context.Context, relatedID string) (decimal.Decimal, int, error) {
	total := decimal.Zero
	count := 0
	for _, list := range [][]domain.Payment{t.s.payments, t.payments} {
		for _, payment := range list {
			if payment.RelatedID != relatedID {
				continue
			}
			count++
			if store.PaymentCounts(payment.Status) {
				total = total.Add(payment.Amount)
			}
		}
	}
	return total, count, nil
}

func (t *memTx) CreatePayment(_ context.Context, payment domain.Payment) error {
	if !payment.Amount.IsPositive() {
		return fmt.Errorf("%w: payment amount must be positive, got %s", store.ErrInvalidInput, payment.Amount)
	}
	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}
	t.payments = append(t.payments, payment)
	return nil
}
