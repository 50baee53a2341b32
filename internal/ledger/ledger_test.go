package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"erplite/backend/internal/domain"
	"erplite/backend/internal/store"
	"erplite/backend/internal/store/memory"
)

func newLedger(t *testing.T) (*Ledger, *memory.Store, string) {
	t.Helper()
	repo := memory.New()
	product, err := repo.CreateProduct(context.Background(), domain.Product{SKU: "NUT-1", Name: "Nut", Active: true})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	return New(repo, nil), repo, product.ID
}

func TestQuantityIsZeroWithoutEntry(t *testing.T) {
	l, _, productID := newLedger(t)
	qty, err := l.Quantity(context.Background(), productID)
	if err != nil {
		t.Fatalf("quantity: %v", err)
	}
	if qty != 0 {
		t.Fatalf("expected 0, got %d", qty)
	}
	qty, err = l.Quantity(context.Background(), "prd-unknown")
	if err != nil || qty != 0 {
		t.Fatalf("expected 0 for unknown product, got %d err=%v", qty, err)
	}
}

func TestAdjustNeverGoesNegative(t *testing.T) {
	l, _, productID := newLedger(t)
	ctx := context.Background()

	qty, err := l.Adjust(ctx, productID, 5, domain.MovementPurchase, "po-1")
	if err != nil || qty != 5 {
		t.Fatalf("expected 5 after receipt, got %d err=%v", qty, err)
	}
	if _, err := l.Adjust(ctx, productID, -6, domain.MovementSale, "sale-1"); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	qty, err = l.Adjust(ctx, productID, -5, domain.MovementSale, "sale-2")
	if err != nil || qty != 0 {
		t.Fatalf("expected 0 after selling out, got %d err=%v", qty, err)
	}

	movements, err := l.Movements(ctx, productID, 10)
	if err != nil {
		t.Fatalf("movements: %v", err)
	}
	if len(movements) != 2 {
		t.Fatalf("expected 2 recorded movements, got %d", len(movements))
	}
	if movements[0].ReferenceID != "sale-2" || movements[0].QtyAfter != 0 {
		t.Fatalf("unexpected newest movement %+v", movements[0])
	}
}

func TestAdjustRejectsBadInput(t *testing.T) {
	l, _, productID := newLedger(t)
	ctx := context.Background()

	cases := []struct {
		name      string
		productID string
		delta     int
		reason    string
		want      error
	}{
		{"zero delta", productID, 0, domain.MovementSale, store.ErrInvalidInput},
		{"unknown reason", productID, 1, "gift", store.ErrInvalidInput},
		{"missing product", "", 1, domain.MovementPurchase, store.ErrInvalidInput},
		{"unknown product", "prd-missing", 1, domain.MovementPurchase, store.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := l.Adjust(ctx, tc.productID, tc.delta, tc.reason, ""); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestConcurrentAdjustmentsDoNotOversell(t *testing.T) {
	l, _, productID := newLedger(t)
	ctx := context.Background()
	if _, err := l.Adjust(ctx, productID, 10, domain.MovementPurchase, ""); err != nil {
		t.Fatalf("seed stock: %v", err)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Adjust(ctx, productID, -1, domain.MovementSale, ""); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 10 {
		t.Fatalf("expected exactly 10 successful decrements, got %d", succeeded)
	}
	qty, _ := l.Quantity(ctx, productID)
	if qty != 0 {
		t.Fatalf("expected 0 remaining, got %d", qty)
	}
}
