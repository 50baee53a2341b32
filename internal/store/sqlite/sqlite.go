// Package sqlite is the embedded single-file backend built on gorm.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"erplite/backend/internal/domain"
	"erplite/backend/internal/store"
	"erplite/backend/internal/xid"
)

type Store struct {
	db *gorm.DB
}

// Open connects to dsn (a file path or a file: URI) and migrates the schema.
// SQLite allows one writer, so the pool is capped at a single connection and
// units of work run one after another.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&productRow{},
		&stockRow{},
		&movementRow{},
		&saleRow{},
		&purchaseRow{},
		&paymentRow{},
		&costRow{},
		&userRow{},
	); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate sqlite schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	var fnErr error
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fnErr = fn(&gormTx{db: tx})
		return fnErr
	})
	if err == nil || err == fnErr {
		return err
	}
	return wrap("transaction", err)
}

func (s *Store) ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error) {
	q := s.db.WithContext(ctx).Order("category, name")
	if !includeInactive {
		q = q.Where("active = ?", true)
	}
	var rows []productRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, wrap("list products", err)
	}
	products := make([]domain.Product, 0, len(rows))
	for _, r := range rows {
		products = append(products, r.domain())
	}
	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.SKU == "" || product.Name == "" {
		return nil, fmt.Errorf("%w: product sku and name are required", store.ErrInvalidInput)
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	row := toProductRow(product)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, wrap("create product", err)
	}
	created := row.domain()
	return &created, nil
}

func (s *Store) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	var row productRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, wrap("get product", err)
	}
	p := row.domain()
	return &p, nil
}

func (s *Store) GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	var row productRow
	if err := s.db.WithContext(ctx).Where("sku = ?", sku).Take(&row).Error; err != nil {
		return nil, wrap("get product by sku", err)
	}
	p := row.domain()
	return &p, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	res := s.db.WithContext(ctx).Model(&productRow{}).Where("id = ?", product.ID).Updates(map[string]any{
		"name":          product.Name,
		"description":   product.Description,
		"category":      product.Category,
		"cost_price":    product.CostPrice,
		"selling_price": product.SellingPrice,
		"reorder_level": product.ReorderLevel,
		"supplier":      product.Supplier,
		"active":        product.Active,
		"updated_at":    time.Now().UTC(),
	})
	if res.Error != nil {
		return nil, wrap("update product", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetProductByID(ctx, product.ID)
}

func (s *Store) GetStock(ctx context.Context, productID string) (*domain.StockEntry, error) {
	var row stockRow
	if err := s.db.WithContext(ctx).Where("product_id = ?", productID).Take(&row).Error; err != nil {
		return nil, wrap("get stock", err)
	}
	entry := row.domain()
	return &entry, nil
}

func (s *Store) ListStock(ctx context.Context) ([]domain.StockEntry, error) {
	var rows []stockRow
	if err := s.db.WithContext(ctx).Order("product_id").Find(&rows).Error; err != nil {
		return nil, wrap("list stock", err)
	}
	entries := make([]domain.StockEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, r.domain())
	}
	return entries, nil
}

func (s *Store) ListStockMovements(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	q := s.db.WithContext(ctx).Order("seq DESC")
	if productID != "" {
		q = q.Where("product_id = ?", productID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []movementRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, wrap("list stock movements", err)
	}
	movements := make([]domain.StockMovement, 0, len(rows))
	for _, r := range rows {
		movements = append(movements, r.domain())
	}
	return movements, nil
}

func (s *Store) ListSales(ctx context.Context, filter domain.ListFilter) ([]domain.Sale, error) {
	var rows []saleRow
	if err := applyFilter(s.db.WithContext(ctx), filter, "created_at").Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, wrap("list sales", err)
	}
	sales := make([]domain.Sale, 0, len(rows))
	for _, r := range rows {
		sales = append(sales, r.domain())
	}
	return sales, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	return getSale(s.db.WithContext(ctx), id)
}

func (s *Store) FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error) {
	var row saleRow
	if err := s.db.WithContext(ctx).Where("idempotency_key = ?", key).Take(&row).Error; err != nil {
		return nil, wrap("find sale by idempotency key", err)
	}
	sale := row.domain()
	return &sale, nil
}

func (s *Store) ListPurchases(ctx context.Context, filter domain.ListFilter) ([]domain.Purchase, error) {
	var rows []purchaseRow
	if err := applyFilter(s.db.WithContext(ctx), filter, "created_at").Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, wrap("list purchases", err)
	}
	purchases := make([]domain.Purchase, 0, len(rows))
	for _, r := range rows {
		purchases = append(purchases, r.domain())
	}
	return purchases, nil
}

func (s *Store) GetPurchase(ctx context.Context, id string) (*domain.Purchase, error) {
	return getPurchase(s.db.WithContext(ctx), id)
}

func (s *Store) FindPurchaseByIdempotency(ctx context.Context, key string) (*domain.Purchase, error) {
	var row purchaseRow
	if err := s.db.WithContext(ctx).Where("idempotency_key = ?", key).Take(&row).Error; err != nil {
		return nil, wrap("find purchase by idempotency key", err)
	}
	purchase := row.domain()
	return &purchase, nil
}

func (s *Store) ListPayments(ctx context.Context, filter domain.ListFilter) ([]domain.Payment, error) {
	var rows []paymentRow
	if err := applyFilter(s.db.WithContext(ctx), filter, "date").Order("date DESC, seq DESC").Find(&rows).Error; err != nil {
		return nil, wrap("list payments", err)
	}
	payments := make([]domain.Payment, 0, len(rows))
	for _, r := range rows {
		payments = append(payments, r.domain())
	}
	return payments, nil
}

func (s *Store) CreateCost(ctx context.Context, cost domain.Cost) (*domain.Cost, error) {
	if cost.Name == "" || !cost.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: cost needs a name and a positive amount", store.ErrInvalidInput)
	}
	if cost.ID == "" {
		cost.ID = xid.New("cst")
	}
	row := toCostRow(cost)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, wrap("create cost", err)
	}
	created := row.domain()
	return &created, nil
}

func (s *Store) ListCosts(ctx context.Context, filter domain.ListFilter) ([]domain.Cost, error) {
	var rows []costRow
	if err := applyFilter(s.db.WithContext(ctx), filter, "date").Order("date DESC, seq DESC").Find(&rows).Error; err != nil {
		return nil, wrap("list costs", err)
	}
	costs := make([]domain.Cost, 0, len(rows))
	for _, r := range rows {
		costs = append(costs, r.domain())
	}
	return costs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if user.Email == "" || strings.TrimSpace(user.Password) == "" {
		return fmt.Errorf("%w: user email and password are required", store.ErrInvalidInput)
	}
	if user.ID == "" {
		user.ID = xid.New("usr")
	}
	if user.Role == "" {
		user.Role = domain.RoleUser
	}
	user.Active = true
	row := toUserRow(user)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return wrap("create user", err)
	}
	return nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.UserAccount, error) {
	var row userRow
	if err := s.db.WithContext(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(email))).Take(&row).Error; err != nil {
		return nil, wrap("get user", err)
	}
	user := row.domain()
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	var rows []userRow
	if err := s.db.WithContext(ctx).Order("email").Find(&rows).Error; err != nil {
		return nil, wrap("list users", err)
	}
	users := make([]domain.UserAccount, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.domain())
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, email string, passwordHash string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || strings.TrimSpace(passwordHash) == "" {
		return fmt.Errorf("%w: email and password hash are required", store.ErrInvalidInput)
	}
	res := s.db.WithContext(ctx).Model(&userRow{}).Where("email = ?", email).Update("password", passwordHash)
	if res.Error != nil {
		return wrap("update user password", res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func applyFilter(q *gorm.DB, filter domain.ListFilter, column string) *gorm.DB {
	if filter.From != nil {
		q = q.Where(column+" >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		q = q.Where(column+" < ?", filter.To.UTC())
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	return q
}

func getSale(db *gorm.DB, id string) (*domain.Sale, error) {
	var row saleRow
	if err := db.Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, wrap("get sale", err)
	}
	sale := row.domain()
	return &sale, nil
}

func getPurchase(db *gorm.DB, id string) (*domain.Purchase, error) {
	var row purchaseRow
	if err := db.Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, wrap("get purchase", err)
	}
	purchase := row.domain()
	return &purchase, nil
}

// wrap maps gorm errors onto the store sentinels.
func wrap(op string, err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return store.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %s", store.ErrDuplicate, op)
	case strings.Contains(err.Error(), "database is locked"):
		return fmt.Errorf("%w: %s", store.ErrConcurrencyConflict, op)
	default:
		return fmt.Errorf("%w: %s: %w", store.ErrPersistence, op, err)
	}
}
