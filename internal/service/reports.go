package service

import (
	"cmp"
	"context"
	"encoding/json"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"erplite/backend/internal/domain"
)

const (
	reportKeyPrefix = "erplite:report:"

	ReportStockLevels      = "stock-levels"
	ReportCostPrice        = "cost-price"
	ReportProfitability    = "profitability"
	ReportCustomerBalances = "customer-balances"
)

var ReportTypes = []string{ReportStockLevels, ReportCostPrice, ReportProfitability, ReportCustomerBalances}

// ReportQuery narrows a report. From is inclusive, To exclusive.
type ReportQuery struct {
	From     *time.Time
	To       *time.Time
	Location string
	Customer string
}

func (q ReportQuery) key(reportType string) string {
	parts := []string{reportType, formatBound(q.From), formatBound(q.To), q.Location, q.Customer}
	return reportKeyPrefix + strings.Join(parts, ":")
}

func formatBound(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// Report builds the named report, serving it from the report cache when a
// fresh copy is there.
func (s *Service) Report(ctx context.Context, reportType string, q ReportQuery) (any, error) {
	switch reportType {
	case ReportStockLevels:
		return cachedReport(ctx, s, q.key(reportType), func() (domain.StockLevelsReport, error) {
			return s.StockLevelsReport(ctx, q.Location)
		})
	case ReportCostPrice:
		return cachedReport(ctx, s, q.key(reportType), func() (domain.CostPriceReport, error) {
			return s.CostPriceReport(ctx)
		})
	case ReportProfitability:
		return cachedReport(ctx, s, q.key(reportType), func() (domain.ProfitabilityReport, error) {
			return s.ProfitabilityReport(ctx, q.From, q.To)
		})
	case ReportCustomerBalances:
		return cachedReport(ctx, s, q.key(reportType), func() (domain.CustomerBalancesReport, error) {
			return s.CustomerBalancesReport(ctx, q.Customer)
		})
	default:
		return nil, (Violations{"type": "unsupported_value"}).err()
	}
}

func cachedReport[T any](ctx context.Context, s *Service, key string, build func() (T, error)) (T, error) {
	if raw, ok, err := s.reports.Get(ctx, key); err != nil {
		s.logger.Warn("report cache read failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		var cached T
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached, nil
		}
	}

	report, err := build()
	if err != nil {
		var zero T
		return zero, err
	}
	if raw, err := json.Marshal(report); err == nil {
		if err := s.reports.Set(ctx, key, raw, s.opts.ReportCacheTTL); err != nil {
			s.logger.Warn("report cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return report, nil
}

// StockLevelsReport lists on-hand quantity per active product. A product is
// low on stock below its reorder level, or below the configured threshold
// when it has none.
func (s *Service) StockLevelsReport(ctx context.Context, location string) (domain.StockLevelsReport, error) {
	products, err := s.repo.ListProducts(ctx, false)
	if err != nil {
		return domain.StockLevelsReport{}, err
	}
	entries, err := s.repo.ListStock(ctx)
	if err != nil {
		return domain.StockLevelsReport{}, err
	}
	byProduct := make(map[string]domain.StockEntry, len(entries))
	for _, entry := range entries {
		byProduct[entry.ProductID] = entry
	}

	location = strings.TrimSpace(location)
	report := domain.StockLevelsReport{
		GeneratedAt: time.Now().UTC(),
		StockLevels: make([]domain.StockLevel, 0, len(products)),
		LowStock:    make([]domain.StockLevel, 0),
	}
	for _, p := range products {
		entry := byProduct[p.ID]
		if location != "" && !strings.EqualFold(entry.Location, location) {
			continue
		}
		level := domain.StockLevel{
			ProductID:    p.ID,
			SKU:          p.SKU,
			Name:         p.Name,
			Category:     p.Category,
			Quantity:     entry.Quantity,
			ReorderLevel: p.ReorderLevel,
			Location:     entry.Location,
		}
		report.StockLevels = append(report.StockLevels, level)

		threshold := p.ReorderLevel
		if threshold == 0 {
			threshold = s.opts.LowStockThreshold
		}
		if level.Quantity < threshold {
			report.LowStock = append(report.LowStock, level)
		}
	}
	return report, nil
}

func (s *Service) CostPriceReport(ctx context.Context) (domain.CostPriceReport, error) {
	products, err := s.repo.ListProducts(ctx, false)
	if err != nil {
		return domain.CostPriceReport{}, err
	}

	report := domain.CostPriceReport{
		GeneratedAt: time.Now().UTC(),
		Lines:       make([]domain.CostPriceLine, 0, len(products)),
	}
	for _, p := range products {
		margin := p.SellingPrice.Sub(p.CostPrice)
		report.Lines = append(report.Lines, domain.CostPriceLine{
			ProductID:        p.ID,
			ProductName:      p.Name,
			CostPrice:        p.CostPrice,
			SellingPrice:     p.SellingPrice,
			Margin:           margin,
			MarginPercentage: percentOf(margin, p.SellingPrice),
		})
	}
	return report, nil
}

// ProfitabilityReport sets completed sales against recorded costs, in total
// and per calendar month.
func (s *Service) ProfitabilityReport(ctx context.Context, from, to *time.Time) (domain.ProfitabilityReport, error) {
	filter := domain.ListFilter{From: from, To: to}
	sales, err := s.repo.ListSales(ctx, filter)
	if err != nil {
		return domain.ProfitabilityReport{}, err
	}
	costs, err := s.repo.ListCosts(ctx, filter)
	if err != nil {
		return domain.ProfitabilityReport{}, err
	}

	type bucket struct{ sales, costs decimal.Decimal }
	months := map[string]*bucket{}
	monthOf := func(t time.Time) *bucket {
		period := t.UTC().Format("2006-01")
		b, ok := months[period]
		if !ok {
			b = &bucket{sales: decimal.Zero, costs: decimal.Zero}
			months[period] = b
		}
		return b
	}

	report := domain.ProfitabilityReport{
		From:       formatDate(from),
		To:         formatDate(to),
		TotalSales: decimal.Zero,
		TotalCosts: decimal.Zero,
	}
	for _, sale := range sales {
		if sale.Status != domain.StatusCompleted {
			continue
		}
		report.TotalSales = report.TotalSales.Add(sale.Total)
		b := monthOf(sale.CreatedAt)
		b.sales = b.sales.Add(sale.Total)
	}
	for _, cost := range costs {
		report.TotalCosts = report.TotalCosts.Add(cost.Amount)
		b := monthOf(cost.Date)
		b.costs = b.costs.Add(cost.Amount)
	}
	report.Profit = report.TotalSales.Sub(report.TotalCosts)
	report.ProfitMargin = percentOf(report.Profit, report.TotalSales)

	report.Monthly = make([]domain.MonthlyProfitability, 0, len(months))
	for period, b := range months {
		profit := b.sales.Sub(b.costs)
		report.Monthly = append(report.Monthly, domain.MonthlyProfitability{
			Period: period,
			Sales:  b.sales,
			Costs:  b.costs,
			Profit: profit,
			Margin: percentOf(profit, b.sales),
		})
	}
	slices.SortFunc(report.Monthly, func(a, b domain.MonthlyProfitability) int {
		return cmp.Compare(a.Period, b.Period)
	})
	return report, nil
}

// CustomerBalancesReport lists, per customer, what completed sales billed
// and what sale payments have settled.
func (s *Service) CustomerBalancesReport(ctx context.Context, customer string) (domain.CustomerBalancesReport, error) {
	sales, err := s.repo.ListSales(ctx, domain.ListFilter{})
	if err != nil {
		return domain.CustomerBalancesReport{}, err
	}

	customer = strings.TrimSpace(customer)
	balances := map[string]*domain.CustomerBalance{}
	for _, sale := range sales {
		if sale.Status != domain.StatusCompleted {
			continue
		}
		if customer != "" && sale.CustomerID != customer {
			continue
		}
		b, ok := balances[sale.CustomerID]
		if !ok {
			b = &domain.CustomerBalance{CustomerID: sale.CustomerID, Billed: decimal.Zero, Paid: decimal.Zero}
			balances[sale.CustomerID] = b
		}
		b.Billed = b.Billed.Add(sale.Total)
		b.Paid = b.Paid.Add(sale.PaidAmount)
	}

	report := domain.CustomerBalancesReport{
		GeneratedAt: time.Now().UTC(),
		Balances:    make([]domain.CustomerBalance, 0, len(balances)),
	}
	for _, b := range balances {
		b.Balance = b.Billed.Sub(b.Paid)
		report.Balances = append(report.Balances, *b)
	}
	slices.SortFunc(report.Balances, func(a, b domain.CustomerBalance) int {
		return cmp.Compare(a.CustomerID, b.CustomerID)
	})
	return report, nil
}

func percentOf(part, whole decimal.Decimal) decimal.Decimal {
	if !whole.IsPositive() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(hundred).Round(2)
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.DateOnly)
}
