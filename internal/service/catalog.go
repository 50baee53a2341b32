package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"erplite/backend/internal/domain"
	"erplite/backend/internal/xid"
)

const defaultReorderLevel = 10

func (s *Service) ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, includeInactive)
}

func (s *Service) ProductByID(ctx context.Context, id string) (domain.Product, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Product{}, (Violations{"id": "required"}).err()
	}
	product, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return domain.Product{}, fmt.Errorf("product %s: %w", id, err)
	}
	return *product, nil
}

func (s *Service) ProductBySKU(ctx context.Context, sku string) (domain.Product, error) {
	sku = normalizeSKU(sku)
	if sku == "" {
		return domain.Product{}, (Violations{"sku": "required"}).err()
	}
	product, err := s.repo.GetProductBySKU(ctx, sku)
	if err != nil {
		return domain.Product{}, fmt.Errorf("product sku %s: %w", sku, err)
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return domain.Product{}, err
	}

	req.SKU = normalizeSKU(req.SKU)
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	req.Description = strings.TrimSpace(req.Description)
	req.Supplier = strings.TrimSpace(req.Supplier)
	reorderLevel := defaultReorderLevel
	if req.ReorderLevel != nil {
		reorderLevel = *req.ReorderLevel
	}

	v := Violations{}
	v.required("sku", req.SKU)
	v.maxLen("sku", req.SKU, 50)
	v.required("name", req.Name)
	v.maxLen("name", req.Name, 255)
	v.required("category", req.Category)
	v.maxLen("category", req.Category, 100)
	v.nonNegativeMoney("costPrice", req.CostPrice)
	v.nonNegativeMoney("sellingPrice", req.SellingPrice)
	v.nonNegativeInt("reorderLevel", reorderLevel)
	v.maxLen("supplier", req.Supplier, 255)
	if err := v.err(); err != nil {
		return domain.Product{}, err
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		ID:           xid.New("prd"),
		SKU:          req.SKU,
		Name:         req.Name,
		Description:  req.Description,
		Category:     req.Category,
		CostPrice:    req.CostPrice,
		SellingPrice: req.SellingPrice,
		ReorderLevel: reorderLevel,
		Supplier:     req.Supplier,
		Active:       true,
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_create", "product", created.ID,
		zap.String("sku", created.SKU),
		zap.String("selling_price", created.SellingPrice.String()),
	)
	s.invalidateReports(ctx)
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return domain.Product{}, err
	}

	existing, err := s.ProductByID(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	updated := existing
	v := Violations{}
	if req.Name != nil {
		updated.Name = strings.TrimSpace(*req.Name)
		v.required("name", updated.Name)
		v.maxLen("name", updated.Name, 255)
	}
	if req.Description != nil {
		updated.Description = strings.TrimSpace(*req.Description)
	}
	if req.Category != nil {
		updated.Category = strings.TrimSpace(*req.Category)
		v.required("category", updated.Category)
		v.maxLen("category", updated.Category, 100)
	}
	if req.CostPrice != nil {
		updated.CostPrice = *req.CostPrice
		v.nonNegativeMoney("costPrice", updated.CostPrice)
	}
	if req.SellingPrice != nil {
		updated.SellingPrice = *req.SellingPrice
		v.nonNegativeMoney("sellingPrice", updated.SellingPrice)
	}
	if req.ReorderLevel != nil {
		updated.ReorderLevel = *req.ReorderLevel
		v.nonNegativeInt("reorderLevel", updated.ReorderLevel)
	}
	if req.Supplier != nil {
		updated.Supplier = strings.TrimSpace(*req.Supplier)
		v.maxLen("supplier", updated.Supplier, 255)
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}
	if err := v.err(); err != nil {
		return domain.Product{}, err
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_update", "product", saved.ID,
		zap.String("selling_price_before", existing.SellingPrice.String()),
		zap.String("selling_price_after", saved.SellingPrice.String()),
		zap.Bool("active", saved.Active),
	)
	s.invalidateReports(ctx)
	return *saved, nil
}

func normalizeSKU(sku string) string {
	return strings.ToUpper(strings.TrimSpace(sku))
}

// productForTransaction loads an active product for a sale or purchase.
func (s *Service) productForTransaction(ctx context.Context, id string) (domain.Product, error) {
	product, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return domain.Product{}, fmt.Errorf("product %s: %w", id, err)
	}
	if !product.Active {
		return domain.Product{}, (Violations{"productId": "product_inactive"}).err()
	}
	return *product, nil
}
