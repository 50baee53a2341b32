package memory

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"erplite/backend/internal/domain"
	"erplite/backend/internal/store"
	"erplite/backend/internal/xid"
)

// Store keeps every entity in process memory. A unit of work holds the write
// lock for its whole duration, so stock adjustments are serialized.
type Store struct {
	mu               sync.RWMutex
	products         map[string]domain.Product
	productIDBySKU   map[string]string
	stock            map[string]domain.StockEntry
	movements        []domain.StockMovement
	salesByID        map[string]domain.Sale
	saleIDByIdem     map[string]string
	purchasesByID    map[string]domain.Purchase
	purchaseIDByIdem map[string]string
	payments         []domain.Payment
	costs            []domain.Cost
	usersByEmail     map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		products:         make(map[string]domain.Product),
		productIDBySKU:   make(map[string]string),
		stock:            make(map[string]domain.StockEntry),
		movements:        make([]domain.StockMovement, 0, 128),
		salesByID:        make(map[string]domain.Sale),
		saleIDByIdem:     make(map[string]string),
		purchasesByID:    make(map[string]domain.Purchase),
		purchaseIDByIdem: make(map[string]string),
		payments:         make([]domain.Payment, 0, 64),
		costs:            make([]domain.Cost, 0, 64),
		usersByEmail:     make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store with a demo catalog, opening stock and dev
// accounts. Passwords come from SEED_ADMIN_PASSWORD and SEED_MANAGER_PASSWORD
// and fall back to dev defaults.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	products := []domain.Product{
		{SKU: "LAP-001", Name: "Laptop 14in", Category: "Electronics", CostPrice: decimal.RequireFromString("650"), SellingPrice: decimal.RequireFromString("899.99"), ReorderLevel: 5},
		{SKU: "MON-024", Name: "Monitor 24in", Category: "Electronics", CostPrice: decimal.RequireFromString("120"), SellingPrice: decimal.RequireFromString("189.50"), ReorderLevel: 8},
		{SKU: "KEY-100", Name: "Mechanical Keyboard", Category: "Accessories", CostPrice: decimal.RequireFromString("35"), SellingPrice: decimal.RequireFromString("59.90"), ReorderLevel: 10},
		{SKU: "MOU-200", Name: "Wireless Mouse", Category: "Accessories", CostPrice: decimal.RequireFromString("9.50"), SellingPrice: decimal.RequireFromString("19.99"), ReorderLevel: 20},
		{SKU: "CHR-300", Name: "Office Chair", Category: "Furniture", CostPrice: decimal.RequireFromString("80"), SellingPrice: decimal.RequireFromString("149"), ReorderLevel: 4},
		{SKU: "DSK-310", Name: "Standing Desk", Category: "Furniture", CostPrice: decimal.RequireFromString("210"), SellingPrice: decimal.RequireFromString("379"), ReorderLevel: 3},
		{SKU: "PPR-A4", Name: "Copy Paper A4 (500)", Category: "Supplies", CostPrice: decimal.RequireFromString("3.20"), SellingPrice: decimal.RequireFromString("5.75"), ReorderLevel: 50},
		{SKU: "TNR-BLK", Name: "Toner Black", Category: "Supplies", CostPrice: decimal.RequireFromString("42"), SellingPrice: decimal.RequireFromString("69"), ReorderLevel: 6},
	}
	for _, p := range products {
		p.ID = xid.New("prd")
		p.Active = true
		p.CreatedAt = now
		p.UpdatedAt = now
		s.products[p.ID] = p
		s.productIDBySKU[p.SKU] = p.ID
		cost := p.CostPrice
		s.stock[p.ID] = domain.StockEntry{ProductID: p.ID, Quantity: 40, UnitCost: &cost, UpdatedAt: now}
	}

	for _, u := range []struct {
		name     string
		email    string
		password string
		role     string
	}{
		{"Administrator", "admin@erplite.local", envOr("SEED_ADMIN_PASSWORD", "admin123"), domain.RoleAdmin},
		{"Store Manager", "manager@erplite.local", envOr("SEED_MANAGER_PASSWORD", "manager123"), domain.RoleManager},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			panic(fmt.Sprintf("memory store: hash seed password for %s: %v", u.email, err))
		}
		s.usersByEmail[u.email] = domain.UserAccount{
			ID:        xid.New("usr"),
			Name:      u.name,
			Email:     u.email,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := newTx(s)
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *Store) ListProducts(_ context.Context, includeInactive bool) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active && !includeInactive {
			continue
		}
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return cmp.Compare(a.Name, b.Name)
		}
		return cmp.Compare(a.Category, b.Category)
	})
	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.SKU == "" || product.Name == "" {
		return nil, fmt.Errorf("%w: product sku and name are required", store.ErrInvalidInput)
	}
	if _, exists := s.productIDBySKU[product.SKU]; exists {
		return nil, fmt.Errorf("%w: sku %s", store.ErrDuplicate, product.SKU)
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now
	s.products[product.ID] = product
	s.productIDBySKU[product.SKU] = product.ID
	created := product
	return &created, nil
}

func (s *Store) GetProductByID(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) GetProductBySKU(_ context.Context, sku string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.productIDBySKU[sku]
	if !exists {
		return nil, store.ErrNotFound
	}
	product := s.products[id]
	return &product, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.products[product.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	product.SKU = current.SKU
	product.CreatedAt = current.CreatedAt
	product.UpdatedAt = time.Now().UTC()
	s.products[product.ID] = product
	updated := product
	return &updated, nil
}

func (s *Store) GetStock(_ context.Context, productID string) (*domain.StockEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.stock[productID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &entry, nil
}

func (s *Store) ListStock(_ context.Context) ([]domain.StockEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.StockEntry, 0, len(s.stock))
	for _, entry := range s.stock {
		entries = append(entries, entry)
	}
	slices.SortFunc(entries, func(a, b domain.StockEntry) int {
		return cmp.Compare(a.ProductID, b.ProductID)
	})
	return entries, nil
}

func (s *Store) ListStockMovements(_ context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockMovement, 0, 16)
	for i := len(s.movements) - 1; i >= 0; i-- {
		m := s.movements[i]
		if productID != "" && m.ProductID != productID {
			continue
		}
		result = append(result, m)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) ListSales(_ context.Context, filter domain.ListFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, len(s.salesByID))
	for _, sale := range s.salesByID {
		if inRange(filter, sale.CreatedAt) {
			sales = append(sales, sale)
		}
	}
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return page(sales, filter), nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sale, nil
}

func (s *Store) FindSaleByIdempotency(_ context.Context, key string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.saleIDByIdem[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	sale := s.salesByID[id]
	return &sale, nil
}

func (s *Store) ListPurchases(_ context.Context, filter domain.ListFilter) ([]domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	purchases := make([]domain.Purchase, 0, len(s.purchasesByID))
	for _, purchase := range s.purchasesByID {
		if inRange(filter, purchase.CreatedAt) {
			purchases = append(purchases, purchase)
		}
	}
	slices.SortFunc(purchases, func(a, b domain.Purchase) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return page(purchases, filter), nil
}

func (s *Store) GetPurchase(_ context.Context, id string) (*domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	purchase, ok := s.purchasesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &purchase, nil
}

func (s *Store) FindPurchaseByIdempotency(_ context.Context, key string) (*domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.purchaseIDByIdem[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	purchase := s.purchasesByID[id]
	return &purchase, nil
}

func (s *Store) ListPayments(_ context.Context, filter domain.ListFilter) ([]domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payments := make([]domain.Payment, 0, len(s.payments))
	for _, payment := range s.payments {
		if inRange(filter, payment.Date) {
			payments = append(payments, payment)
		}
	}
	slices.SortStableFunc(payments, func(a, b domain.Payment) int {
		return b.Date.Compare(a.Date)
	})
	return page(payments, filter), nil
}

func (s *Store) CreateCost(_ context.Context, cost domain.Cost) (*domain.Cost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cost.Name == "" || !cost.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: cost needs a name and a positive amount", store.ErrInvalidInput)
	}
	if cost.ID == "" {
		cost.ID = xid.New("cst")
	}
	if cost.CreatedAt.IsZero() {
		cost.CreatedAt = time.Now().UTC()
	}
	s.costs = append(s.costs, cost)
	created := cost
	return &created, nil
}

func (s *Store) ListCosts(_ context.Context, filter domain.ListFilter) ([]domain.Cost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	costs := make([]domain.Cost, 0, len(s.costs))
	for _, cost := range s.costs {
		if inRange(filter, cost.Date) {
			costs = append(costs, cost)
		}
	}
	slices.SortStableFunc(costs, func(a, b domain.Cost) int {
		return b.Date.Compare(a.Date)
	})
	return page(costs, filter), nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(strings.TrimSpace(user.Email))
	if email == "" || strings.TrimSpace(user.Password) == "" {
		return fmt.Errorf("%w: user email and password are required", store.ErrInvalidInput)
	}
	if _, exists := s.usersByEmail[email]; exists {
		return fmt.Errorf("%w: email %s", store.ErrDuplicate, email)
	}
	user.Email = email
	if user.ID == "" {
		user.ID = xid.New("usr")
	}
	if user.Role == "" {
		user.Role = domain.RoleUser
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByEmail[email] = user
	return nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.usersByEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByEmail))
	for _, user := range s.usersByEmail {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmp.Compare(a.Email, b.Email)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, email string, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || strings.TrimSpace(passwordHash) == "" {
		return fmt.Errorf("%w: email and password hash are required", store.ErrInvalidInput)
	}
	user, exists := s.usersByEmail[email]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = passwordHash
	s.usersByEmail[email] = user
	return nil
}

func inRange(filter domain.ListFilter, t time.Time) bool {
	if filter.From != nil && t.Before(*filter.From) {
		return false
	}
	if filter.To != nil && !t.Before(*filter.To) {
		return false
	}
	return true
}

func page[T any](items []T, filter domain.ListFilter) []T {
	if filter.Offset > 0 {
		if filter.Offset >= len(items) {
			return items[:0]
		}
		items = items[filter.Offset:]
	}
	if filter.Limit > 0 && len(items) > filter.Limit {
		items = items[:filter.Limit]
	}
	return items
}
