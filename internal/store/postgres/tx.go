package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"erplite/backend/internal/domain"
	"erplite/backend/internal/store"
	"erplite/backend/internal/xid"
)

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return getProduct(ctx, t.tx, "id", id)
}

func (t *pgTx) GetStock(ctx context.Context, productID string) (*domain.StockEntry, error) {
	e, err := scanStock(t.tx.QueryRowContext(ctx, `
		SELECT `+stockColumns+`
		FROM stock_entries
		WHERE product_id = $1
		FOR UPDATE
	`, productID))
	if err != nil {
		return nil, wrap("get stock", err)
	}
	return &e, nil
}

// AdjustStock locks the product's entry, creating it at zero first when
// missing, then applies the delta with a guarded update so the quantity can
// never be written below zero.
func (t *pgTx) AdjustStock(ctx context.Context, movement domain.StockMovement) (*domain.StockEntry, error) {
	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO stock_entries (product_id, quantity, updated_at)
		VALUES ($1, 0, now())
		ON CONFLICT (product_id) DO NOTHING
	`, movement.ProductID); err != nil {
		return nil, wrap("ensure stock entry", err)
	}

	current, err := t.GetStock(ctx, movement.ProductID)
	if err != nil {
		return nil, err
	}

	var unitCost any
	if movement.Delta > 0 && movement.UnitCost != nil {
		unitCost = store.WeightedUnitCost(current.UnitCost, current.Quantity, *movement.UnitCost, movement.Delta)
	}

	entry, err := scanStock(t.tx.QueryRowContext(ctx, `
		UPDATE stock_entries
		SET quantity = quantity + $2,
			unit_cost = COALESCE($3::numeric, unit_cost),
			location = COALESCE(NULLIF($4, ''), location),
			updated_at = now()
		WHERE product_id = $1 AND quantity + $2 >= 0
		RETURNING `+stockColumns,
		movement.ProductID, movement.Delta, unitCost, movement.Location))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrInsufficientStock
	}
	if err != nil {
		return nil, wrap("adjust stock", err)
	}

	if movement.ID == "" {
		movement.ID = xid.New("mov")
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}
	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO stock_movements (id, product_id, delta, qty_after, reason, reference_id, unit_cost, location, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, movement.ID, movement.ProductID, movement.Delta, entry.Quantity, movement.Reason, movement.ReferenceID,
		nullDecimal(movement.UnitCost), movement.Location, movement.CreatedAt); err != nil {
		return nil, wrap("record stock movement", err)
	}
	return &entry, nil
}

func (t *pgTx) CreateSale(ctx context.Context, sale domain.Sale) error {
	now := time.Now().UTC()
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = now
	}
	if sale.UpdatedAt.IsZero() {
		sale.UpdatedAt = now
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, customer_id, product_id, quantity, unit_price, discount, subtotal, discount_amount, total,
			status, payment_status, paid_amount, notes, idempotency_key, created_by, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`, sale.ID, sale.CustomerID, sale.ProductID, sale.Quantity, sale.UnitPrice, sale.Discount, sale.Subtotal,
		sale.DiscountAmount, sale.Total, sale.Status, sale.PaymentStatus, sale.PaidAmount, sale.Notes,
		nullIfEmpty(sale.IdempotencyKey), sale.CreatedBy, sale.CreatedAt, sale.UpdatedAt)
	if err != nil {
		return wrap("create sale", err)
	}
	return nil
}

// GetSale locks the row so status and paid amount changes within the
// transaction cannot interleave.
func (t *pgTx) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	return findSale(ctx, t.tx, "id", id, true)
}

func (t *pgTx) UpdateSale(ctx context.Context, sale domain.Sale) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE sales
		SET status = $2, payment_status = $3, paid_amount = $4, notes = $5, updated_at = now()
		WHERE id = $1
	`, sale.ID, sale.Status, sale.PaymentStatus, sale.PaidAmount, sale.Notes)
	if err != nil {
		return wrap("update sale", err)
	}
	return requireAffected(res)
}

func (t *pgTx) CreatePurchase(ctx context.Context, purchase domain.Purchase) error {
	now := time.Now().UTC()
	if purchase.CreatedAt.IsZero() {
		purchase.CreatedAt = now
	}
	if purchase.UpdatedAt.IsZero() {
		purchase.UpdatedAt = now
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO purchases (
			id, supplier_id, product_id, quantity, unit_price, total, status, payment_status,
			paid_amount, notes, idempotency_key, created_by, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, purchase.ID, purchase.SupplierID, purchase.ProductID, purchase.Quantity, purchase.UnitPrice, purchase.Total,
		purchase.Status, purchase.PaymentStatus, purchase.PaidAmount, purchase.Notes, nullIfEmpty(purchase.IdempotencyKey),
		purchase.CreatedBy, purchase.CreatedAt, purchase.UpdatedAt)
	if err != nil {
		return wrap("create purchase", err)
	}
	return nil
}

func (t *pgTx) GetPurchase(ctx context.Context, id string) (*domain.Purchase, error) {
	return findPurchase(ctx, t.tx, "id", id, true)
}

func (t *pgTx) UpdatePurchase(ctx context.Context, purchase domain.Purchase) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE purchases
		SET status = $2, payment_status = $3, paid_amount = $4, notes = $5, updated_at = now()
		WHERE id = $1
	`, purchase.ID, purchase.Status, purchase.PaymentStatus, purchase.PaidAmount, purchase.Notes)
	if err != nil {
		return wrap("update purchase", err)
	}
	return requireAffected(res)
}

func (t *pgTx) SumPayments(ctx context.Context, relatedID string) (decimal.Decimal, int, error) {
	total := decimal.Zero
	var count int
	err := t.tx.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE status NOT IN ($2, $3)), 0),
			COUNT(*)
		FROM payments
		WHERE related_id = $1
	`, relatedID, domain.PaymentFailed, domain.PaymentRefunded).Scan(&total, &count)
	if err != nil {
		return decimal.Zero, 0, wrap("sum payments", err)
	}
	return total, count, nil
}

func (t *pgTx) CreatePayment(ctx context.Context, payment domain.Payment) error {
	if !payment.Amount.IsPositive() {
		return fmt.Errorf("%w: payment amount must be positive, got %s", store.ErrInvalidInput, payment.Amount)
	}
	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO payments (id, amount, method, type, related_id, party, description, status, date, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, payment.ID, payment.Amount, payment.Method, payment.Type, payment.RelatedID, payment.Party,
		payment.Description, payment.Status, payment.Date, payment.CreatedBy, payment.CreatedAt)
	if err != nil {
		return wrap("create payment", err)
	}
	return nil
}
