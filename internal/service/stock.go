package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"erplite/backend/internal/domain"
	"erplite/backend/internal/store"
	"erplite/backend/internal/xid"
)

// Stock returns the stock entry of a product. Unknown products report zero.
func (s *Service) Stock(ctx context.Context, productID string) (domain.StockEntry, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.StockEntry{}, (Violations{"productId": "required"}).err()
	}
	return s.ledger.Entry(ctx, productID)
}

func (s *Service) ListStock(ctx context.Context) ([]domain.StockEntry, error) {
	return s.repo.ListStock(ctx)
}

func (s *Service) StockMovements(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	return s.ledger.Movements(ctx, productID, limit)
}

// StockCount sets the counted quantity of every line by recording a count
// movement for the difference. All lines apply together or not at all.
func (s *Service) StockCount(ctx context.Context, req domain.StockCountRequest) (domain.StockCountResponse, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return domain.StockCountResponse{}, err
	}

	req.Notes = strings.TrimSpace(req.Notes)
	v := Violations{}
	if len(req.Lines) == 0 {
		v["lines"] = "required"
	}
	v.maxLen("notes", req.Notes, 1000)
	seen := make(map[string]int, len(req.Lines))
	for i := range req.Lines {
		line := &req.Lines[i]
		line.SKU = normalizeSKU(line.SKU)
		line.Location = strings.TrimSpace(line.Location)
		field := fmt.Sprintf("lines[%d]", i)
		v.required(field+".sku", line.SKU)
		v.nonNegativeInt(field+".countedQty", line.CountedQty)
		v.maxInt(field+".countedQty", line.CountedQty, MaxQuantity)
		if prev, dup := seen[line.SKU]; dup && line.SKU != "" {
			v[field+".sku"] = fmt.Sprintf("duplicate_of_lines[%d]", prev)
		}
		seen[line.SKU] = i
	}
	if err := v.err(); err != nil {
		return domain.StockCountResponse{}, err
	}

	products := make([]domain.Product, len(req.Lines))
	for i, line := range req.Lines {
		product, err := s.repo.GetProductBySKU(ctx, line.SKU)
		if errors.Is(err, store.ErrNotFound) {
			v[fmt.Sprintf("lines[%d].sku", i)] = "unknown_sku"
			continue
		}
		if err != nil {
			return domain.StockCountResponse{}, err
		}
		products[i] = *product
	}
	if err := v.err(); err != nil {
		return domain.StockCountResponse{}, err
	}

	countID := xid.New("count")
	var adjustments []domain.StockCountAdjustment
	err := s.withinTx(ctx, "stock_count", func(tx store.Tx) error {
		adjustments = make([]domain.StockCountAdjustment, 0, len(req.Lines))
		for i, line := range req.Lines {
			product := products[i]
			systemQty := 0
			entry, err := tx.GetStock(ctx, product.ID)
			switch {
			case err == nil:
				systemQty = entry.Quantity
			case !errors.Is(err, store.ErrNotFound):
				return err
			}

			delta := line.CountedQty - systemQty
			if delta != 0 {
				if _, err := s.ledger.AdjustIn(ctx, tx, domain.StockMovement{
					ProductID:   product.ID,
					Delta:       delta,
					Reason:      domain.MovementCount,
					ReferenceID: countID,
					Location:    line.Location,
				}); err != nil {
					return err
				}
			}
			adjustments = append(adjustments, domain.StockCountAdjustment{
				ProductID:  product.ID,
				SKU:        product.SKU,
				SystemQty:  systemQty,
				CountedQty: line.CountedQty,
				Delta:      delta,
			})
		}
		return nil
	})
	if err != nil {
		return domain.StockCountResponse{}, err
	}

	s.logAudit(ctx, "stock_count", "stock", countID,
		zap.Int("lines", len(req.Lines)),
		zap.String("notes", req.Notes),
	)
	s.invalidateReports(ctx)
	return domain.StockCountResponse{
		CountID:     countID,
		Notes:       req.Notes,
		Adjustments: adjustments,
		CreatedAt:   time.Now().UTC(),
	}, nil
}
