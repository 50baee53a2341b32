package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"erplite/backend/internal/domain"
	"erplite/backend/internal/store"
	"erplite/backend/internal/xid"
)

var paymentStatuses = []string{domain.PaymentPending, domain.PaymentCompleted, domain.PaymentFailed, domain.PaymentRefunded}

// RecordPayment stores a money movement. A payment tied to a sale or
// purchase may not exceed what is still outstanding on it, and the
// transaction's paid amount moves in the same unit of work.
func (s *Service) RecordPayment(ctx context.Context, req domain.PaymentRequest) (domain.Payment, error) {
	req.Method = strings.TrimSpace(req.Method)
	req.Type = strings.TrimSpace(req.Type)
	req.RelatedID = strings.TrimSpace(req.RelatedID)
	req.Party = strings.TrimSpace(req.Party)
	req.Description = strings.TrimSpace(req.Description)
	req.Status = defaultString(strings.TrimSpace(req.Status), domain.PaymentPending)

	v := Violations{}
	v.positiveMoney("amount", req.Amount)
	v.oneOf("method", req.Method, domain.PaymentMethods)
	v.oneOf("type", req.Type, []string{domain.PaymentTypeSale, domain.PaymentTypePurchase})
	v.oneOf("status", req.Status, paymentStatuses)
	v.maxLen("party", req.Party, 255)
	v.maxLen("description", req.Description, 1000)
	date := v.parseDate("date", req.Date)
	if req.RelatedID == "" && req.Party == "" {
		v["party"] = "required"
	}
	if err := v.err(); err != nil {
		return domain.Payment{}, err
	}

	payment := domain.Payment{
		ID:          xid.New("pay"),
		Amount:      req.Amount,
		Method:      req.Method,
		Type:        req.Type,
		RelatedID:   req.RelatedID,
		Party:       req.Party,
		Description: req.Description,
		Status:      req.Status,
		Date:        date,
		CreatedBy:   actorEmail(ctx),
		CreatedAt:   time.Now().UTC(),
	}

	var recorded domain.Payment
	err := s.withinTx(ctx, "record_payment", func(tx store.Tx) error {
		p := payment
		if p.RelatedID != "" {
			if err := s.reconcilePayment(ctx, tx, &p); err != nil {
				return err
			}
		}
		if err := tx.CreatePayment(ctx, p); err != nil {
			return err
		}
		recorded = p
		return nil
	})
	if err != nil {
		return domain.Payment{}, err
	}

	s.logAudit(ctx, "payment_record", "payment", recorded.ID,
		zap.String("type", recorded.Type),
		zap.String("related_id", recorded.RelatedID),
		zap.String("amount", recorded.Amount.String()),
		zap.String("status", recorded.Status),
	)
	s.invalidateReports(ctx)
	return recorded, nil
}

// reconcilePayment checks the payment against its sale or purchase and
// moves that record's paid amount and payment status. The record is read
// through the unit of work first so stores that lock rows hold the lock
// before payments are summed.
func (s *Service) reconcilePayment(ctx context.Context, tx store.Tx, p *domain.Payment) error {
	counts := store.PaymentCounts(p.Status)

	switch p.Type {
	case domain.PaymentTypeSale:
		sale, err := tx.GetSale(ctx, p.RelatedID)
		if err != nil {
			return fmt.Errorf("sale %s: %w", p.RelatedID, err)
		}
		if sale.Status == domain.StatusCancelled {
			return fmt.Errorf("%w: sale %s is cancelled", ErrInvalidState, sale.ID)
		}
		paid, _, err := tx.SumPayments(ctx, sale.ID)
		if err != nil {
			return err
		}
		if counts && p.Amount.GreaterThan(sale.Total.Sub(paid)) {
			return (Violations{"amount": "exceeds_outstanding"}).err()
		}
		if p.Party == "" {
			p.Party = sale.CustomerID
		}
		if counts {
			sale.PaidAmount = paid.Add(p.Amount)
			sale.PaymentStatus = paymentStatusFor(sale.Total, sale.PaidAmount)
			sale.UpdatedAt = time.Now().UTC()
			return tx.UpdateSale(ctx, *sale)
		}
	case domain.PaymentTypePurchase:
		purchase, err := tx.GetPurchase(ctx, p.RelatedID)
		if err != nil {
			return fmt.Errorf("purchase %s: %w", p.RelatedID, err)
		}
		if purchase.Status == domain.StatusCancelled {
			return fmt.Errorf("%w: purchase %s is cancelled", ErrInvalidState, purchase.ID)
		}
		paid, _, err := tx.SumPayments(ctx, purchase.ID)
		if err != nil {
			return err
		}
		if counts && p.Amount.GreaterThan(purchase.Total.Sub(paid)) {
			return (Violations{"amount": "exceeds_outstanding"}).err()
		}
		if p.Party == "" {
			p.Party = purchase.SupplierID
		}
		if counts {
			purchase.PaidAmount = paid.Add(p.Amount)
			purchase.PaymentStatus = paymentStatusFor(purchase.Total, purchase.PaidAmount)
			purchase.UpdatedAt = time.Now().UTC()
			return tx.UpdatePurchase(ctx, *purchase)
		}
	}
	return nil
}

func paymentStatusFor(total decimal.Decimal, paid decimal.Decimal) string {
	switch {
	case !paid.IsPositive():
		return domain.PaymentStatusUnpaid
	case paid.GreaterThanOrEqual(total):
		return domain.PaymentStatusPaid
	default:
		return domain.PaymentStatusPartial
	}
}

func (s *Service) ListPayments(ctx context.Context, filter domain.ListFilter) ([]domain.Payment, error) {
	return s.repo.ListPayments(ctx, normalizeFilter(filter))
}

func (s *Service) RecordCost(ctx context.Context, req domain.CostRequest) (domain.Cost, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return domain.Cost{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Description = strings.TrimSpace(req.Description)
	req.Category = strings.TrimSpace(req.Category)
	req.Reference = strings.TrimSpace(req.Reference)

	v := Violations{}
	v.required("name", req.Name)
	v.maxLen("name", req.Name, 255)
	v.maxLen("description", req.Description, 1000)
	v.positiveMoney("amount", req.Amount)
	v.oneOf("category", req.Category, domain.CostCategories)
	v.maxLen("reference", req.Reference, 255)
	date := v.parseDate("date", req.Date)
	if err := v.err(); err != nil {
		return domain.Cost{}, err
	}

	created, err := s.repo.CreateCost(ctx, domain.Cost{
		ID:          xid.New("cst"),
		Name:        req.Name,
		Description: req.Description,
		Amount:      req.Amount,
		Category:    req.Category,
		Date:        date,
		Reference:   req.Reference,
		CreatedBy:   actorEmail(ctx),
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return domain.Cost{}, err
	}

	s.logAudit(ctx, "cost_record", "cost", created.ID,
		zap.String("category", created.Category),
		zap.String("amount", created.Amount.String()),
	)
	s.invalidateReports(ctx)
	return *created, nil
}

func (s *Service) ListCosts(ctx context.Context, filter domain.ListFilter) ([]domain.Cost, error) {
	return s.repo.ListCosts(ctx, normalizeFilter(filter))
}
