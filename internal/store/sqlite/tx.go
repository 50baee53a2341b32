package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"erplite/backend/internal/domain"
	"erplite/backend/internal/store"
	"erplite/backend/internal/xid"
)

type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var row productRow
	if err := t.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, wrap("get product", err)
	}
	p := row.domain()
	return &p, nil
}

func (t *gormTx) GetStock(ctx context.Context, productID string) (*domain.StockEntry, error) {
	var row stockRow
	if err := t.db.WithContext(ctx).Where("product_id = ?", productID).Take(&row).Error; err != nil {
		return nil, wrap("get stock", err)
	}
	entry := row.domain()
	return &entry, nil
}

func (t *gormTx) AdjustStock(ctx context.Context, movement domain.StockMovement) (*domain.StockEntry, error) {
	db := t.db.WithContext(ctx)
	now := time.Now().UTC()

	var current stockRow
	err := db.Where("product_id = ?", movement.ProductID).Take(&current).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if movement.Delta < 0 {
			return nil, store.ErrInsufficientStock
		}
		current = stockRow{ProductID: movement.ProductID, UpdatedAt: now}
		if err := db.Create(&current).Error; err != nil {
			return nil, wrap("create stock entry", err)
		}
	case err != nil:
		return nil, wrap("get stock", err)
	}

	updates := map[string]any{
		"quantity":   gorm.Expr("quantity + ?", movement.Delta),
		"updated_at": now,
	}
	if movement.Delta > 0 && movement.UnitCost != nil {
		cost := store.WeightedUnitCost(decimalPtr(current.UnitCost), current.Quantity, *movement.UnitCost, movement.Delta)
		updates["unit_cost"] = decimal.NullDecimal{Decimal: cost, Valid: true}
	}
	if movement.Location != "" {
		updates["location"] = movement.Location
	}

	res := db.Model(&stockRow{}).
		Where("product_id = ? AND quantity + ? >= 0", movement.ProductID, movement.Delta).
		Updates(updates)
	if res.Error != nil {
		return nil, wrap("adjust stock", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, store.ErrInsufficientStock
	}

	var updated stockRow
	if err := db.Where("product_id = ?", movement.ProductID).Take(&updated).Error; err != nil {
		return nil, wrap("reload stock", err)
	}

	if movement.ID == "" {
		movement.ID = xid.New("mov")
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = now
	}
	movement.QtyAfter = updated.Quantity
	row := movementRow{
		ID:          movement.ID,
		ProductID:   movement.ProductID,
		Delta:       movement.Delta,
		QtyAfter:    movement.QtyAfter,
		Reason:      movement.Reason,
		ReferenceID: movement.ReferenceID,
		UnitCost:    nullDecimal(movement.UnitCost),
		Location:    movement.Location,
		CreatedAt:   movement.CreatedAt,
	}
	if err := db.Create(&row).Error; err != nil {
		return nil, wrap("record stock movement", err)
	}

	entry := updated.domain()
	return &entry, nil
}

func (t *gormTx) CreateSale(ctx context.Context, sale domain.Sale) error {
	row := toSaleRow(sale)
	if err := t.db.WithContext(ctx).Create(&row).Error; err != nil {
		return wrap("create sale", err)
	}
	return nil
}

func (t *gormTx) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	return getSale(t.db.WithContext(ctx), id)
}

func (t *gormTx) UpdateSale(ctx context.Context, sale domain.Sale) error {
	res := t.db.WithContext(ctx).Model(&saleRow{}).Where("id = ?", sale.ID).Updates(map[string]any{
		"status":         sale.Status,
		"payment_status": sale.PaymentStatus,
		"paid_amount":    sale.PaidAmount,
		"notes":          sale.Notes,
		"updated_at":     time.Now().UTC(),
	})
	if res.Error != nil {
		return wrap("update sale", res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *gormTx) CreatePurchase(ctx context.Context, purchase domain.Purchase) error {
	row := toPurchaseRow(purchase)
	if err := t.db.WithContext(ctx).Create(&row).Error; err != nil {
		return wrap("create purchase", err)
	}
	return nil
}

func (t *gormTx) GetPurchase(ctx context.Context, id string) (*domain.Purchase, error) {
	return getPurchase(t.db.WithContext(ctx), id)
}

func (t *gormTx) UpdatePurchase(ctx context.Context, purchase domain.Purchase) error {
	res := t.db.WithContext(ctx).Model(&purchaseRow{}).Where("id = ?", purchase.ID).Updates(map[string]any{
		"status":         purchase.Status,
		"payment_status": purchase.PaymentStatus,
		"paid_amount":    purchase.PaidAmount,
		"notes":          purchase.Notes,
		"updated_at":     time.Now().UTC(),
	})
	if res.Error != nil {
		return wrap("update purchase", res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// SumPayments adds the amounts in Go since they are stored as text.
func (t *gormTx) SumPayments(ctx context.Context, relatedID string) (decimal.Decimal, int, error) {
	var rows []paymentRow
	if err := t.db.WithContext(ctx).Where("related_id = ?", relatedID).Find(&rows).Error; err != nil {
		return decimal.Zero, 0, wrap("sum payments", err)
	}
	total := decimal.Zero
	for _, r := range rows {
		if store.PaymentCounts(r.Status) {
			total = total.Add(r.Amount)
		}
	}
	return total, len(rows), nil
}

func (t *gormTx) CreatePayment(ctx context.Context, payment domain.Payment) error {
	if !payment.Amount.IsPositive() {
		return fmt.Errorf("%w: payment amount must be positive, got %s", store.ErrInvalidInput, payment.Amount)
	}
	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}
	row := toPaymentRow(payment)
	if err := t.db.WithContext(ctx).Create(&row).Error; err != nil {
		return wrap("create payment", err)
	}
	return nil
}
