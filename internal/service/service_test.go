package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"erplite/backend/internal/domain"
	"erplite/backend/internal/ledger"
	"erplite/backend/internal/store"
	"erplite/backend/internal/store/memory"
	"erplite/backend/internal/store/sqlite"
)

type repoFactory func(t *testing.T) store.Repository

var backends = map[string]repoFactory{
	"memory": func(t *testing.T) store.Repository {
		return memory.New()
	},
	"sqlite": func(t *testing.T) store.Repository {
		name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
		repo, err := sqlite.Open("file:" + name + "?mode=memory&cache=shared")
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		t.Cleanup(func() { _ = repo.Close() })
		return repo
	},
}

func managerCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{UserID: "usr-1", Email: "manager@erplite.local", Role: domain.RoleManager})
}

func clerkCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{UserID: "usr-2", Email: "clerk@erplite.local", Role: domain.RoleUser})
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// newFixture returns a service over repo with one product priced at 5 and
// the given quantity on hand.
func newFixture(t *testing.T, repo store.Repository, qty int) (*Service, domain.Product) {
	t.Helper()
	svc := New(repo, nil, nil, Options{}, nil)
	product, err := svc.CreateProduct(managerCtx(), domain.ProductCreateRequest{
		SKU:          "widget-1",
		Name:         "Widget",
		Category:     "Parts",
		CostPrice:    money("3"),
		SellingPrice: money("5"),
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	if qty > 0 {
		if _, err := svc.ledger.Adjust(context.Background(), product.ID, qty, domain.MovementCount, "opening"); err != nil {
			t.Fatalf("opening stock: %v", err)
		}
	}
	return svc, product
}

func quantity(t *testing.T, svc *Service, productID string) int {
	t.Helper()
	entry, err := svc.Stock(context.Background(), productID)
	if err != nil {
		t.Fatalf("stock: %v", err)
	}
	return entry.Quantity
}

func TestSaleTotals(t *testing.T) {
	cases := []struct {
		qty                             int
		price, discount                 string
		subtotal, discountAmount, total string
	}{
		{3, "5", "10", "15", "1.5", "13.5"},
		{1, "19.99", "0", "19.99", "0", "19.99"},
		{3, "3.33", "33.3", "9.99", "3.33", "6.66"},
		{2, "10", "100", "20", "20", "0"},
	}
	for _, tc := range cases {
		subtotal, discountAmount, total := SaleTotals(tc.qty, money(tc.price), money(tc.discount))
		if !subtotal.Equal(money(tc.subtotal)) || !discountAmount.Equal(money(tc.discountAmount)) || !total.Equal(money(tc.total)) {
			t.Fatalf("SaleTotals(%d, %s, %s) = %s, %s, %s", tc.qty, tc.price, tc.discount, subtotal, discountAmount, total)
		}
	}
}

func TestTransactionScenario(t *testing.T) {
	for name, newRepo := range backends {
		t.Run(name, func(t *testing.T) {
			svc, product := newFixture(t, newRepo(t), 10)
			ctx := managerCtx()

			price := money("5")
			saleResp, err := svc.RecordSale(ctx, domain.SaleRequest{
				CustomerID: "cust-1",
				ProductID:  product.ID,
				Quantity:   3,
				UnitPrice:  &price,
				Discount:   money("10"),
			})
			if err != nil {
				t.Fatalf("record sale: %v", err)
			}
			sale := saleResp.Sale
			if !sale.Subtotal.Equal(money("15")) || !sale.DiscountAmount.Equal(money("1.5")) || !sale.Total.Equal(money("13.5")) {
				t.Fatalf("unexpected totals %s/%s/%s", sale.Subtotal, sale.DiscountAmount, sale.Total)
			}
			if sale.Status != domain.StatusCompleted || sale.PaymentStatus != domain.PaymentStatusUnpaid {
				t.Fatalf("unexpected sale state %s/%s", sale.Status, sale.PaymentStatus)
			}
			if got := quantity(t, svc, product.ID); got != 7 {
				t.Fatalf("expected 7 after sale, got %d", got)
			}

			purchaseResp, err := svc.RecordPurchase(ctx, domain.PurchaseRequest{
				SupplierID: "supp-1",
				ProductID:  product.ID,
				Quantity:   20,
				UnitPrice:  money("4"),
			})
			if err != nil {
				t.Fatalf("record purchase: %v", err)
			}
			if !purchaseResp.Purchase.Total.Equal(money("80")) {
				t.Fatalf("expected purchase total 80, got %s", purchaseResp.Purchase.Total)
			}
			if got := quantity(t, svc, product.ID); got != 27 {
				t.Fatalf("expected 27 after purchase, got %d", got)
			}

			_, err = svc.RecordSale(ctx, domain.SaleRequest{CustomerID: "cust-1", ProductID: product.ID, Quantity: 100, UnitPrice: &price})
			if !errors.Is(err, store.ErrInsufficientStock) {
				t.Fatalf("expected ErrInsufficientStock, got %v", err)
			}
			if got := quantity(t, svc, product.ID); got != 27 {
				t.Fatalf("expected 27 after rejected sale, got %d", got)
			}

			sales, err := svc.ListSales(ctx, domain.ListFilter{})
			if err != nil {
				t.Fatalf("list sales: %v", err)
			}
			if len(sales) != 1 || sales[0].ID != sale.ID {
				t.Fatalf("expected exactly the first sale persisted, got %d sales", len(sales))
			}
		})
	}
}

func TestRejectedSaleHasNoSideEffects(t *testing.T) {
	for name, newRepo := range backends {
		t.Run(name, func(t *testing.T) {
			svc, product := newFixture(t, newRepo(t), 2)
			ctx := clerkCtx()
			req := domain.SaleRequest{CustomerID: "cust-9", ProductID: product.ID, Quantity: 3}

			for attempt := 0; attempt < 3; attempt++ {
				if _, err := svc.RecordSale(ctx, req); !errors.Is(err, store.ErrInsufficientStock) {
					t.Fatalf("attempt %d: expected ErrInsufficientStock, got %v", attempt, err)
				}
			}
			if got := quantity(t, svc, product.ID); got != 2 {
				t.Fatalf("expected quantity unchanged at 2, got %d", got)
			}
			sales, _ := svc.ListSales(ctx, domain.ListFilter{})
			if len(sales) != 0 {
				t.Fatalf("expected no sales, got %d", len(sales))
			}
			movements, _ := svc.StockMovements(ctx, product.ID, 10)
			if len(movements) != 1 {
				t.Fatalf("expected only the opening movement, got %d", len(movements))
			}
		})
	}
}

func TestPurchaseAlwaysIncrements(t *testing.T) {
	for name, newRepo := range backends {
		t.Run(name, func(t *testing.T) {
			svc, product := newFixture(t, newRepo(t), 0)
			ctx := managerCtx()
			expected := 0
			for i, qty := range []int{1, 7, 250} {
				before := quantity(t, svc, product.ID)
				if _, err := svc.RecordPurchase(ctx, domain.PurchaseRequest{
					SupplierID: "supp-" + strconv.Itoa(i),
					ProductID:  product.ID,
					Quantity:   qty,
					UnitPrice:  money("2.50"),
				}); err != nil {
					t.Fatalf("purchase %d: %v", i, err)
				}
				expected += qty
				if got := quantity(t, svc, product.ID); got != before+qty || got != expected {
					t.Fatalf("purchase %d: expected %d, got %d", i, expected, got)
				}
			}
			entry, _ := svc.Stock(ctx, product.ID)
			if entry.UnitCost == nil || !entry.UnitCost.Equal(money("2.5")) {
				t.Fatalf("expected unit cost 2.5, got %v", entry.UnitCost)
			}
		})
	}
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	const stock, buyers = 15, 40
	for name, newRepo := range backends {
		t.Run(name, func(t *testing.T) {
			svc, product := newFixture(t, newRepo(t), stock)
			ctx := clerkCtx()

			var (
				wg           sync.WaitGroup
				mu           sync.Mutex
				succeeded    int
				insufficient int
				other        []error
			)
			for i := 0; i < buyers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := svc.RecordSale(ctx, domain.SaleRequest{
						CustomerID: "cust-" + strconv.Itoa(i),
						ProductID:  product.ID,
						Quantity:   1,
					})
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						succeeded++
					case errors.Is(err, store.ErrInsufficientStock):
						insufficient++
					default:
						other = append(other, err)
					}
				}(i)
			}
			wg.Wait()

			if len(other) > 0 {
				t.Fatalf("unexpected errors: %v", other)
			}
			if succeeded != stock || insufficient != buyers-stock {
				t.Fatalf("expected %d sales and %d rejections, got %d and %d", stock, buyers-stock, succeeded, insufficient)
			}
			if got := quantity(t, svc, product.ID); got != 0 {
				t.Fatalf("expected 0 left, got %d", got)
			}
			sales, _ := svc.ListSales(ctx, domain.ListFilter{Limit: 500})
			if len(sales) != stock {
				t.Fatalf("expected %d persisted sales, got %d", stock, len(sales))
			}
		})
	}
}

func TestConcurrentPaymentsNeverOverpay(t *testing.T) {
	const payers = 8
	for name, newRepo := range backends {
		t.Run(name, func(t *testing.T) {
			svc, product := newFixture(t, newRepo(t), 20)
			ctx := clerkCtx()
			resp, err := svc.RecordSale(ctx, domain.SaleRequest{CustomerID: "acme", ProductID: product.ID, Quantity: 20})
			if err != nil {
				t.Fatalf("record sale: %v", err)
			}

			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				succeeded int
				rejected  int
				other     []error
			)
			for i := 0; i < payers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := svc.RecordPayment(ctx, domain.PaymentRequest{Amount: money("60"), Method: "cash", Type: domain.PaymentTypeSale, RelatedID: resp.Sale.ID, Status: domain.PaymentCompleted})
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						succeeded++
					case errors.Is(err, store.ErrInvalidInput):
						rejected++
					default:
						other = append(other, err)
					}
				}()
			}
			wg.Wait()

			if len(other) > 0 {
				t.Fatalf("unexpected errors: %v", other)
			}
			if succeeded != 1 || rejected != payers-1 {
				t.Fatalf("expected 1 payment and %d rejections, got %d and %d", payers-1, succeeded, rejected)
			}
			sale, err := svc.GetSale(ctx, resp.Sale.ID)
			if err != nil {
				t.Fatalf("get sale: %v", err)
			}
			if !sale.PaidAmount.Equal(money("60")) || sale.PaymentStatus != domain.PaymentStatusPartial {
				t.Fatalf("expected 60 paid and partial status, got %s %s", sale.PaidAmount, sale.PaymentStatus)
			}
		})
	}
}

func TestQuantitiesAreBounded(t *testing.T) {
	svc, product := newFixture(t, memory.New(), 5)
	tooMany := MaxQuantity + 1

	_, err := svc.RecordSale(clerkCtx(), domain.SaleRequest{CustomerID: "c", ProductID: product.ID, Quantity: tooMany})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Violations["quantity"] != "too_large" {
		t.Fatalf("sale: expected quantity too_large, got %v", err)
	}

	_, err = svc.RecordPurchase(managerCtx(), domain.PurchaseRequest{SupplierID: "s", ProductID: product.ID, Quantity: tooMany, UnitPrice: money("1")})
	if !errors.As(err, &verr) || verr.Violations["quantity"] != "too_large" {
		t.Fatalf("purchase: expected quantity too_large, got %v", err)
	}

	_, err = svc.StockCount(managerCtx(), domain.StockCountRequest{Lines: []domain.StockCountLine{{SKU: product.SKU, CountedQty: tooMany}}})
	if !errors.As(err, &verr) || verr.Violations["lines[0].countedQty"] != "too_large" {
		t.Fatalf("stock count: expected countedQty too_large, got %v", err)
	}
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if got := quantity(t, svc, product.ID); got != 5 {
		t.Fatalf("expected stock untouched at 5, got %d", got)
	}

	if _, err := svc.RecordPurchase(managerCtx(), domain.PurchaseRequest{SupplierID: "s", ProductID: product.ID, Quantity: MaxQuantity, UnitPrice: money("1")}); err != nil {
		t.Fatalf("purchase at the bound: %v", err)
	}
}

func TestRecordSaleValidation(t *testing.T) {
	svc, product := newFixture(t, memory.New(), 5)
	negative := money("-1")

	_, err := svc.RecordSale(clerkCtx(), domain.SaleRequest{
		ProductID: product.ID,
		Quantity:  0,
		UnitPrice: &negative,
		Discount:  money("120"),
	})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected error to unwrap to ErrInvalidInput")
	}
	for _, field := range []string{"customerId", "quantity", "unitPrice", "discount"} {
		if _, ok := verr.Violations[field]; !ok {
			t.Fatalf("expected violation for %s, got %v", field, verr.Violations)
		}
	}

	_, err = svc.RecordSale(clerkCtx(), domain.SaleRequest{CustomerID: "c", ProductID: "prd-missing", Quantity: 1})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown product, got %v", err)
	}
}

func TestRecordSaleDefaultsToSellingPrice(t *testing.T) {
	svc, product := newFixture(t, memory.New(), 5)
	resp, err := svc.RecordSale(clerkCtx(), domain.SaleRequest{CustomerID: "c", ProductID: product.ID, Quantity: 2})
	if err != nil {
		t.Fatalf("record sale: %v", err)
	}
	if !resp.Sale.UnitPrice.Equal(money("5")) || !resp.Sale.Total.Equal(money("10")) {
		t.Fatalf("expected selling price 5 and total 10, got %s and %s", resp.Sale.UnitPrice, resp.Sale.Total)
	}
	if resp.Sale.CreatedBy != "clerk@erplite.local" {
		t.Fatalf("expected creator to be recorded, got %q", resp.Sale.CreatedBy)
	}
}

func TestIdempotentSaleReturnsOriginal(t *testing.T) {
	for name, newRepo := range backends {
		t.Run(name, func(t *testing.T) {
			svc, product := newFixture(t, newRepo(t), 10)
			req := domain.SaleRequest{CustomerID: "c", ProductID: product.ID, Quantity: 4, IdempotencyKey: "order-77"}

			first, err := svc.RecordSale(clerkCtx(), req)
			if err != nil || first.Duplicate {
				t.Fatalf("first sale: %+v err=%v", first, err)
			}
			second, err := svc.RecordSale(clerkCtx(), req)
			if err != nil {
				t.Fatalf("second sale: %v", err)
			}
			if !second.Duplicate || second.Sale.ID != first.Sale.ID {
				t.Fatalf("expected duplicate of %s, got %+v", first.Sale.ID, second)
			}
			if got := quantity(t, svc, product.ID); got != 6 {
				t.Fatalf("expected a single decrement to 6, got %d", got)
			}
		})
	}
}

func TestPurchaseRequiresManager(t *testing.T) {
	svc, product := newFixture(t, memory.New(), 0)
	_, err := svc.RecordPurchase(clerkCtx(), domain.PurchaseRequest{SupplierID: "s", ProductID: product.ID, Quantity: 1, UnitPrice: money("1")})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestCancelSaleRestocks(t *testing.T) {
	for name, newRepo := range backends {
		t.Run(name, func(t *testing.T) {
			svc, product := newFixture(t, newRepo(t), 10)
			resp, err := svc.RecordSale(clerkCtx(), domain.SaleRequest{CustomerID: "c", ProductID: product.ID, Quantity: 4})
			if err != nil {
				t.Fatalf("record sale: %v", err)
			}

			if _, err := svc.CancelSale(clerkCtx(), resp.Sale.ID, "typo"); !errors.Is(err, ErrForbidden) {
				t.Fatalf("expected ErrForbidden for clerk, got %v", err)
			}
			cancelled, err := svc.CancelSale(managerCtx(), resp.Sale.ID, "customer returned")
			if err != nil {
				t.Fatalf("cancel sale: %v", err)
			}
			if cancelled.Status != domain.StatusCancelled {
				t.Fatalf("expected cancelled status, got %s", cancelled.Status)
			}
			if got := quantity(t, svc, product.ID); got != 10 {
				t.Fatalf("expected stock restored to 10, got %d", got)
			}
			if _, err := svc.CancelSale(managerCtx(), resp.Sale.ID, "again"); !errors.Is(err, ErrInvalidState) {
				t.Fatalf("expected ErrInvalidState on second cancel, got %v", err)
			}
			movements, _ := svc.StockMovements(context.Background(), product.ID, 1)
			if len(movements) != 1 || movements[0].Reason != domain.MovementSaleCancel {
				t.Fatalf("expected sale_cancel movement, got %+v", movements)
			}
		})
	}
}

func TestCancelPurchaseFailsWhenStockSold(t *testing.T) {
	svc, product := newFixture(t, memory.New(), 0)
	resp, err := svc.RecordPurchase(managerCtx(), domain.PurchaseRequest{SupplierID: "s", ProductID: product.ID, Quantity: 5, UnitPrice: money("1")})
	if err != nil {
		t.Fatalf("record purchase: %v", err)
	}
	if _, err := svc.RecordSale(clerkCtx(), domain.SaleRequest{CustomerID: "c", ProductID: product.ID, Quantity: 2}); err != nil {
		t.Fatalf("record sale: %v", err)
	}

	if _, err := svc.CancelPurchase(managerCtx(), resp.Purchase.ID, "wrong delivery"); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	purchase, _ := svc.GetPurchase(context.Background(), resp.Purchase.ID)
	if purchase.Status != domain.StatusCompleted {
		t.Fatalf("expected purchase to stay completed, got %s", purchase.Status)
	}
	if got := quantity(t, svc, product.ID); got != 3 {
		t.Fatalf("expected 3 on hand, got %d", got)
	}
}

func TestPaymentReconcilesAgainstSale(t *testing.T) {
	for name, newRepo := range backends {
		t.Run(name, func(t *testing.T) {
			svc, product := newFixture(t, newRepo(t), 10)
			ctx := clerkCtx()
			resp, err := svc.RecordSale(ctx, domain.SaleRequest{CustomerID: "acme", ProductID: product.ID, Quantity: 2})
			if err != nil {
				t.Fatalf("record sale: %v", err)
			}
			saleID := resp.Sale.ID

			payment, err := svc.RecordPayment(ctx, domain.PaymentRequest{Amount: money("4"), Method: "cash", Type: domain.PaymentTypeSale, RelatedID: saleID, Status: domain.PaymentCompleted})
			if err != nil {
				t.Fatalf("first payment: %v", err)
			}
			if payment.Party != "acme" {
				t.Fatalf("expected party to default to the customer, got %q", payment.Party)
			}
			sale, _ := svc.GetSale(ctx, saleID)
			if sale.PaymentStatus != domain.PaymentStatusPartial || !sale.PaidAmount.Equal(money("4")) {
				t.Fatalf("expected partial payment of 4, got %s %s", sale.PaymentStatus, sale.PaidAmount)
			}

			_, err = svc.RecordPayment(ctx, domain.PaymentRequest{Amount: money("6.01"), Method: "cash", Type: domain.PaymentTypeSale, RelatedID: saleID})
			var verr *ValidationError
			if !errors.As(err, &verr) || verr.Violations["amount"] != "exceeds_outstanding" {
				t.Fatalf("expected overpayment to be rejected, got %v", err)
			}

			if _, err := svc.RecordPayment(ctx, domain.PaymentRequest{Amount: money("6"), Method: "bank_transfer", Type: domain.PaymentTypeSale, RelatedID: saleID}); err != nil {
				t.Fatalf("settling payment: %v", err)
			}
			sale, _ = svc.GetSale(ctx, saleID)
			if sale.PaymentStatus != domain.PaymentStatusPaid {
				t.Fatalf("expected paid, got %s", sale.PaymentStatus)
			}

			if _, err := svc.CancelSale(managerCtx(), saleID, "late"); !errors.Is(err, ErrInvalidState) {
				t.Fatalf("expected paid sale cancel to fail with ErrInvalidState, got %v", err)
			}
		})
	}
}

func TestPaymentValidation(t *testing.T) {
	svc, _ := newFixture(t, memory.New(), 0)
	ctx := clerkCtx()

	_, err := svc.RecordPayment(ctx, domain.PaymentRequest{Amount: money("0"), Method: "barter", Type: "gift", Date: "31/12/2024"})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	for _, field := range []string{"amount", "method", "type", "date", "party"} {
		if _, ok := verr.Violations[field]; !ok {
			t.Fatalf("expected violation for %s, got %v", field, verr.Violations)
		}
	}

	_, err = svc.RecordPayment(ctx, domain.PaymentRequest{Amount: money("5"), Method: "cash", Type: domain.PaymentTypePurchase, RelatedID: "pur-missing"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown purchase, got %v", err)
	}

	free, err := svc.RecordPayment(ctx, domain.PaymentRequest{Amount: money("12.50"), Method: "cheque", Type: domain.PaymentTypePurchase, Party: "landlord", Date: "2024-03-01"})
	if err != nil {
		t.Fatalf("free-standing payment: %v", err)
	}
	if free.Status != domain.PaymentPending || free.Date.Format(time.DateOnly) != "2024-03-01" {
		t.Fatalf("unexpected free-standing payment %+v", free)
	}
}

func TestStockCountSetsCountedQuantities(t *testing.T) {
	svc, product := newFixture(t, memory.New(), 10)
	ctx := managerCtx()

	other, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{SKU: "gear-2", Name: "Gear", Category: "Parts", SellingPrice: money("2")})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	resp, err := svc.StockCount(ctx, domain.StockCountRequest{
		Notes: "quarterly",
		Lines: []domain.StockCountLine{
			{SKU: "widget-1", CountedQty: 8},
			{SKU: "GEAR-2", CountedQty: 3, Location: "B2"},
		},
	})
	if err != nil {
		t.Fatalf("stock count: %v", err)
	}
	if len(resp.Adjustments) != 2 || resp.Adjustments[0].Delta != -2 || resp.Adjustments[1].Delta != 3 {
		t.Fatalf("unexpected adjustments %+v", resp.Adjustments)
	}
	if got := quantity(t, svc, product.ID); got != 8 {
		t.Fatalf("expected 8, got %d", got)
	}
	entry, _ := svc.Stock(ctx, other.ID)
	if entry.Quantity != 3 || entry.Location != "B2" {
		t.Fatalf("expected 3 at B2, got %+v", entry)
	}

	_, err = svc.StockCount(ctx, domain.StockCountRequest{Lines: []domain.StockCountLine{
		{SKU: "widget-1", CountedQty: 1},
		{SKU: "nope", CountedQty: 1},
	}})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected unknown sku to be rejected, got %v", err)
	}
	if got := quantity(t, svc, product.ID); got != 8 {
		t.Fatalf("expected rejected count to leave 8, got %d", got)
	}
}

func TestCreateProductRejectsDuplicateSKU(t *testing.T) {
	svc, _ := newFixture(t, memory.New(), 0)
	_, err := svc.CreateProduct(managerCtx(), domain.ProductCreateRequest{SKU: "WIDGET-1", Name: "Again", Category: "Parts"})
	if !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestUpdateProductAppliesPartialChanges(t *testing.T) {
	svc, product := newFixture(t, memory.New(), 0)
	price := money("6.25")
	inactive := false
	updated, err := svc.UpdateProduct(managerCtx(), product.ID, domain.ProductUpdateRequest{SellingPrice: &price, Active: &inactive})
	if err != nil {
		t.Fatalf("update product: %v", err)
	}
	if !updated.SellingPrice.Equal(price) || updated.Active || updated.Name != "Widget" {
		t.Fatalf("unexpected product %+v", updated)
	}

	_, err = svc.RecordSale(clerkCtx(), domain.SaleRequest{CustomerID: "c", ProductID: product.ID, Quantity: 1})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected inactive product to be rejected, got %v", err)
	}
}

type mapCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	hits    int
}

func newMapCache() *mapCache {
	return &mapCache{entries: map[string][]byte{}}
}

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	if ok {
		c.hits++
	}
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	return nil
}

func (c *mapCache) Invalidate(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
	return nil
}

func TestReportsAreCachedAndInvalidated(t *testing.T) {
	repo := memory.New()
	reports := newMapCache()
	svc := New(repo, ledger.New(repo, nil), reports, Options{ReportCacheTTL: time.Minute}, nil)
	ctx := managerCtx()

	product, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{SKU: "cable", Name: "Cable", Category: "Parts", CostPrice: money("1"), SellingPrice: money("4"), ReorderLevel: new(int)})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	if _, err := svc.RecordPurchase(ctx, domain.PurchaseRequest{SupplierID: "s", ProductID: product.ID, Quantity: 12, UnitPrice: money("1")}); err != nil {
		t.Fatalf("purchase: %v", err)
	}

	first, err := svc.Report(ctx, ReportStockLevels, ReportQuery{})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	levels := first.(domain.StockLevelsReport)
	if len(levels.StockLevels) != 1 || levels.StockLevels[0].Quantity != 12 || len(levels.LowStock) != 0 {
		t.Fatalf("unexpected stock levels %+v", levels)
	}
	if _, err := svc.Report(ctx, ReportStockLevels, ReportQuery{}); err != nil {
		t.Fatalf("cached report: %v", err)
	}
	if reports.hits != 1 {
		t.Fatalf("expected second read to hit the cache, hits=%d", reports.hits)
	}

	if _, err := svc.RecordSale(ctx, domain.SaleRequest{CustomerID: "c", ProductID: product.ID, Quantity: 5}); err != nil {
		t.Fatalf("sale: %v", err)
	}
	after, err := svc.Report(ctx, ReportStockLevels, ReportQuery{})
	if err != nil {
		t.Fatalf("report after sale: %v", err)
	}
	levels = after.(domain.StockLevelsReport)
	if levels.StockLevels[0].Quantity != 7 || len(levels.LowStock) != 1 {
		t.Fatalf("expected fresh report with 7 on hand and low stock flagged, got %+v", levels)
	}

	if _, err := svc.Report(ctx, "sales-targets", ReportQuery{}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected unknown report type to be rejected, got %v", err)
	}
}

func TestProfitabilityAndBalances(t *testing.T) {
	for name, newRepo := range backends {
		t.Run(name, func(t *testing.T) {
			svc, product := newFixture(t, newRepo(t), 50)
			ctx := managerCtx()

			if _, err := svc.RecordSale(ctx, domain.SaleRequest{CustomerID: "acme", ProductID: product.ID, Quantity: 4}); err != nil {
				t.Fatalf("sale: %v", err)
			}
			second, err := svc.RecordSale(ctx, domain.SaleRequest{CustomerID: "globex", ProductID: product.ID, Quantity: 2})
			if err != nil {
				t.Fatalf("sale: %v", err)
			}
			if _, err := svc.RecordCost(ctx, domain.CostRequest{Name: "Rent", Amount: money("12"), Category: "Overhead"}); err != nil {
				t.Fatalf("cost: %v", err)
			}
			if _, err := svc.RecordPayment(ctx, domain.PaymentRequest{Amount: money("5"), Method: "cash", Type: domain.PaymentTypeSale, RelatedID: second.Sale.ID, Status: domain.PaymentCompleted}); err != nil {
				t.Fatalf("payment: %v", err)
			}

			profit, err := svc.ProfitabilityReport(ctx, nil, nil)
			if err != nil {
				t.Fatalf("profitability: %v", err)
			}
			if !profit.TotalSales.Equal(money("30")) || !profit.TotalCosts.Equal(money("12")) || !profit.Profit.Equal(money("18")) || !profit.ProfitMargin.Equal(money("60")) {
				t.Fatalf("unexpected profitability %+v", profit)
			}
			if len(profit.Monthly) != 1 || profit.Monthly[0].Period != time.Now().UTC().Format("2006-01") {
				t.Fatalf("expected one monthly bucket, got %+v", profit.Monthly)
			}

			balances, err := svc.CustomerBalancesReport(ctx, "")
			if err != nil {
				t.Fatalf("balances: %v", err)
			}
			if len(balances.Balances) != 2 {
				t.Fatalf("expected two customers, got %+v", balances.Balances)
			}
			acme, globex := balances.Balances[0], balances.Balances[1]
			if acme.CustomerID != "acme" || !acme.Billed.Equal(money("20")) || !acme.Paid.IsZero() || !acme.Balance.Equal(money("20")) {
				t.Fatalf("unexpected acme balance %+v", acme)
			}
			if globex.CustomerID != "globex" || !globex.Billed.Equal(money("10")) || !globex.Paid.Equal(money("5")) || !globex.Balance.Equal(money("5")) {
				t.Fatalf("unexpected globex balance %+v", globex)
			}

			only, err := svc.CustomerBalancesReport(ctx, "globex")
			if err != nil {
				t.Fatalf("filtered balances: %v", err)
			}
			if len(only.Balances) != 1 || only.Balances[0].CustomerID != "globex" || !only.Balances[0].Balance.Equal(money("5")) {
				t.Fatalf("expected only globex with 5 outstanding, got %+v", only.Balances)
			}

			costPrice, err := svc.CostPriceReport(ctx)
			if err != nil {
				t.Fatalf("cost price: %v", err)
			}
			if len(costPrice.Lines) != 1 || !costPrice.Lines[0].Margin.Equal(money("2")) || !costPrice.Lines[0].MarginPercentage.Equal(money("40")) {
				t.Fatalf("unexpected cost price report %+v", costPrice.Lines)
			}
		})
	}
}
