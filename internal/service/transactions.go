package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"erplite/backend/internal/domain"
	"erplite/backend/internal/store"
	"erplite/backend/internal/xid"
)

var hundred = decimal.NewFromInt(100)

// SaleTotals computes subtotal, discount amount and total for a sale line.
// The discount is a percentage and its amount is rounded to cents.
func SaleTotals(quantity int, unitPrice decimal.Decimal, discount decimal.Decimal) (subtotal, discountAmount, total decimal.Decimal) {
	subtotal = unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
	discountAmount = subtotal.Mul(discount).Div(hundred).Round(2)
	total = subtotal.Sub(discountAmount)
	return subtotal, discountAmount, total
}

// RecordSale decrements stock and persists the sale as one unit of work.
// When the stock is short nothing is written.
func (s *Service) RecordSale(ctx context.Context, req domain.SaleRequest) (domain.SaleResponse, error) {
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.ProductID = strings.TrimSpace(req.ProductID)
	req.Notes = strings.TrimSpace(req.Notes)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)

	v := Violations{}
	v.required("customerId", req.CustomerID)
	v.maxLen("customerId", req.CustomerID, 255)
	v.required("productId", req.ProductID)
	v.positiveInt("quantity", req.Quantity)
	v.maxInt("quantity", req.Quantity, MaxQuantity)
	if req.UnitPrice != nil {
		v.nonNegativeMoney("unitPrice", *req.UnitPrice)
	}
	v.rangeDecimal("discount", req.Discount, decimal.Zero, hundred)
	v.maxLen("notes", req.Notes, 1000)
	v.maxLen("idempotencyKey", req.IdempotencyKey, 128)
	if err := v.err(); err != nil {
		return domain.SaleResponse{}, err
	}

	if req.IdempotencyKey != "" {
		if existing, err := s.repo.FindSaleByIdempotency(ctx, req.IdempotencyKey); err == nil {
			return domain.SaleResponse{Sale: *existing, Duplicate: true}, nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return domain.SaleResponse{}, err
		}
	}

	product, err := s.productForTransaction(ctx, req.ProductID)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	unitPrice := product.SellingPrice
	if req.UnitPrice != nil {
		unitPrice = *req.UnitPrice
	}
	subtotal, discountAmount, total := SaleTotals(req.Quantity, unitPrice, req.Discount)

	now := time.Now().UTC()
	sale := domain.Sale{
		ID:             xid.New("sale"),
		CustomerID:     req.CustomerID,
		ProductID:      product.ID,
		Quantity:       req.Quantity,
		UnitPrice:      unitPrice,
		Discount:       req.Discount,
		Subtotal:       subtotal,
		DiscountAmount: discountAmount,
		Total:          total,
		Status:         domain.StatusCompleted,
		PaymentStatus:  domain.PaymentStatusUnpaid,
		PaidAmount:     decimal.Zero,
		Notes:          req.Notes,
		IdempotencyKey: req.IdempotencyKey,
		CreatedBy:      actorEmail(ctx),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.withinTx(ctx, "record_sale", func(tx store.Tx) error {
		if _, err := s.ledger.AdjustIn(ctx, tx, domain.StockMovement{
			ProductID:   sale.ProductID,
			Delta:       -sale.Quantity,
			Reason:      domain.MovementSale,
			ReferenceID: sale.ID,
		}); err != nil {
			return err
		}
		return tx.CreateSale(ctx, sale)
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) && req.IdempotencyKey != "" {
			if existing, lookupErr := s.repo.FindSaleByIdempotency(ctx, req.IdempotencyKey); lookupErr == nil {
				return domain.SaleResponse{Sale: *existing, Duplicate: true}, nil
			}
		}
		return domain.SaleResponse{}, err
	}

	s.logAudit(ctx, "sale_record", "sale", sale.ID,
		zap.String("product_id", sale.ProductID),
		zap.Int("quantity", sale.Quantity),
		zap.String("total", sale.Total.String()),
	)
	s.invalidateReports(ctx)
	return domain.SaleResponse{Sale: sale}, nil
}

// RecordPurchase increments stock, blends the received unit cost into the
// stock entry and persists the purchase as one unit of work.
func (s *Service) RecordPurchase(ctx context.Context, req domain.PurchaseRequest) (domain.PurchaseResponse, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return domain.PurchaseResponse{}, err
	}

	req.SupplierID = strings.TrimSpace(req.SupplierID)
	req.ProductID = strings.TrimSpace(req.ProductID)
	req.Location = strings.TrimSpace(req.Location)
	req.Notes = strings.TrimSpace(req.Notes)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)

	v := Violations{}
	v.required("supplierId", req.SupplierID)
	v.maxLen("supplierId", req.SupplierID, 255)
	v.required("productId", req.ProductID)
	v.positiveInt("quantity", req.Quantity)
	v.maxInt("quantity", req.Quantity, MaxQuantity)
	v.nonNegativeMoney("unitPrice", req.UnitPrice)
	v.maxLen("location", req.Location, 100)
	v.maxLen("notes", req.Notes, 1000)
	v.maxLen("idempotencyKey", req.IdempotencyKey, 128)
	if err := v.err(); err != nil {
		return domain.PurchaseResponse{}, err
	}

	if req.IdempotencyKey != "" {
		if existing, err := s.repo.FindPurchaseByIdempotency(ctx, req.IdempotencyKey); err == nil {
			return domain.PurchaseResponse{Purchase: *existing, Duplicate: true}, nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return domain.PurchaseResponse{}, err
		}
	}

	product, err := s.productForTransaction(ctx, req.ProductID)
	if err != nil {
		return domain.PurchaseResponse{}, err
	}

	now := time.Now().UTC()
	purchase := domain.Purchase{
		ID:             xid.New("pur"),
		SupplierID:     req.SupplierID,
		ProductID:      product.ID,
		Quantity:       req.Quantity,
		UnitPrice:      req.UnitPrice,
		Total:          req.UnitPrice.Mul(decimal.NewFromInt(int64(req.Quantity))),
		Status:         domain.StatusCompleted,
		PaymentStatus:  domain.PaymentStatusUnpaid,
		PaidAmount:     decimal.Zero,
		Notes:          req.Notes,
		IdempotencyKey: req.IdempotencyKey,
		CreatedBy:      actorEmail(ctx),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	unitCost := req.UnitPrice

	err = s.withinTx(ctx, "record_purchase", func(tx store.Tx) error {
		if _, err := s.ledger.AdjustIn(ctx, tx, domain.StockMovement{
			ProductID:   purchase.ProductID,
			Delta:       purchase.Quantity,
			Reason:      domain.MovementPurchase,
			ReferenceID: purchase.ID,
			UnitCost:    &unitCost,
			Location:    req.Location,
		}); err != nil {
			return err
		}
		return tx.CreatePurchase(ctx, purchase)
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) && req.IdempotencyKey != "" {
			if existing, lookupErr := s.repo.FindPurchaseByIdempotency(ctx, req.IdempotencyKey); lookupErr == nil {
				return domain.PurchaseResponse{Purchase: *existing, Duplicate: true}, nil
			}
		}
		return domain.PurchaseResponse{}, err
	}

	s.logAudit(ctx, "purchase_record", "purchase", purchase.ID,
		zap.String("product_id", purchase.ProductID),
		zap.Int("quantity", purchase.Quantity),
		zap.String("total", purchase.Total.String()),
	)
	s.invalidateReports(ctx)
	return domain.PurchaseResponse{Purchase: purchase}, nil
}

// CancelSale puts the sold quantity back on hand. Only completed sales
// without recorded payments can be cancelled.
func (s *Service) CancelSale(ctx context.Context, id string, reason string) (domain.Sale, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return domain.Sale{}, err
	}
	id = strings.TrimSpace(id)
	reason = defaultString(strings.TrimSpace(reason), "unspecified")

	var cancelled domain.Sale
	err := s.withinTx(ctx, "cancel_sale", func(tx store.Tx) error {
		sale, err := tx.GetSale(ctx, id)
		if err != nil {
			return fmt.Errorf("sale %s: %w", id, err)
		}
		if sale.Status != domain.StatusCompleted {
			return fmt.Errorf("%w: sale %s is %s", ErrInvalidState, id, sale.Status)
		}
		_, payments, err := tx.SumPayments(ctx, sale.ID)
		if err != nil {
			return err
		}
		if payments > 0 {
			return fmt.Errorf("%w: sale %s has recorded payments", ErrInvalidState, id)
		}
		if _, err := s.ledger.AdjustIn(ctx, tx, domain.StockMovement{
			ProductID:   sale.ProductID,
			Delta:       sale.Quantity,
			Reason:      domain.MovementSaleCancel,
			ReferenceID: sale.ID,
		}); err != nil {
			return err
		}
		sale.Status = domain.StatusCancelled
		sale.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateSale(ctx, *sale); err != nil {
			return err
		}
		cancelled = *sale
		return nil
	})
	if err != nil {
		return domain.Sale{}, err
	}

	s.logAudit(ctx, "sale_cancel", "sale", cancelled.ID, zap.String("reason", reason))
	s.invalidateReports(ctx)
	return cancelled, nil
}

// CancelPurchase takes the received quantity back off hand. It fails with
// ErrInsufficientStock when part of the delivery has already been sold.
func (s *Service) CancelPurchase(ctx context.Context, id string, reason string) (domain.Purchase, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return domain.Purchase{}, err
	}
	id = strings.TrimSpace(id)
	reason = defaultString(strings.TrimSpace(reason), "unspecified")

	var cancelled domain.Purchase
	err := s.withinTx(ctx, "cancel_purchase", func(tx store.Tx) error {
		purchase, err := tx.GetPurchase(ctx, id)
		if err != nil {
			return fmt.Errorf("purchase %s: %w", id, err)
		}
		if purchase.Status != domain.StatusCompleted {
			return fmt.Errorf("%w: purchase %s is %s", ErrInvalidState, id, purchase.Status)
		}
		_, payments, err := tx.SumPayments(ctx, purchase.ID)
		if err != nil {
			return err
		}
		if payments > 0 {
			return fmt.Errorf("%w: purchase %s has recorded payments", ErrInvalidState, id)
		}
		if _, err := s.ledger.AdjustIn(ctx, tx, domain.StockMovement{
			ProductID:   purchase.ProductID,
			Delta:       -purchase.Quantity,
			Reason:      domain.MovementPurchaseCancel,
			ReferenceID: purchase.ID,
		}); err != nil {
			return err
		}
		purchase.Status = domain.StatusCancelled
		purchase.UpdatedAt = time.Now().UTC()
		if err := tx.UpdatePurchase(ctx, *purchase); err != nil {
			return err
		}
		cancelled = *purchase
		return nil
	})
	if err != nil {
		return domain.Purchase{}, err
	}

	s.logAudit(ctx, "purchase_cancel", "purchase", cancelled.ID, zap.String("reason", reason))
	s.invalidateReports(ctx)
	return cancelled, nil
}

func (s *Service) ListSales(ctx context.Context, filter domain.ListFilter) ([]domain.Sale, error) {
	return s.repo.ListSales(ctx, normalizeFilter(filter))
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Sale{}, fmt.Errorf("sale %s: %w", id, err)
	}
	return *sale, nil
}

func (s *Service) ListPurchases(ctx context.Context, filter domain.ListFilter) ([]domain.Purchase, error) {
	return s.repo.ListPurchases(ctx, normalizeFilter(filter))
}

func (s *Service) GetPurchase(ctx context.Context, id string) (domain.Purchase, error) {
	purchase, err := s.repo.GetPurchase(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Purchase{}, fmt.Errorf("purchase %s: %w", id, err)
	}
	return *purchase, nil
}

func normalizeFilter(filter domain.ListFilter) domain.ListFilter {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return filter
}

func defaultString(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
