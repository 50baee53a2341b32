package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"erplite/backend/internal/domain"
	"erplite/backend/internal/store"
	"erplite/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

// queryer is satisfied by both *sql.DB and *sql.Tx so reads can be shared
// between the store and its transactions.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// WithinTx runs fn in a read-committed transaction. Stock rows are locked
// with SELECT ... FOR UPDATE inside AdjustStock, which is what serializes
// concurrent writers of the same product.
func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return wrap("begin", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&pgTx{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return wrap("commit", err)
	}
	return nil
}

const productColumns = `id, sku, name, description, category, cost_price, selling_price, reorder_level, supplier, active, created_at, updated_at`

func scanProduct(row interface{ Scan(...any) error }) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Description, &p.Category, &p.CostPrice, &p.SellingPrice,
		&p.ReorderLevel, &p.Supplier, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, err
}

func (s *Store) ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE active = true OR $1
		ORDER BY category, name
	`, includeInactive)
	if err != nil {
		return nil, wrap("list products", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, wrap("scan product", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list products", err)
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
	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, product.ID, product.SKU, product.Name, product.Description, product.Category, product.CostPrice,
		product.SellingPrice, product.ReorderLevel, product.Supplier, product.Active, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		return nil, wrap("create product", err)
	}
	created := product
	return &created, nil
}

func (s *Store) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	return getProduct(ctx, s.db, "id", id)
}

func (s *Store) GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	return getProduct(ctx, s.db, "sku", sku)
}

func getProduct(ctx context.Context, q queryer, column string, value string) (*domain.Product, error) {
	if column != "id" && column != "sku" {
		return nil, fmt.Errorf("unsupported lookup column")
	}
	p, err := scanProduct(q.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE `+column+` = $1`, value))
	if err != nil {
		return nil, wrap("get product", err)
	}
	return &p, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, description = $3, category = $4, cost_price = $5, selling_price = $6,
			reorder_level = $7, supplier = $8, active = $9, updated_at = now()
		WHERE id = $1
	`, product.ID, product.Name, product.Description, product.Category, product.CostPrice, product.SellingPrice,
		product.ReorderLevel, product.Supplier, product.Active)
	if err != nil {
		return nil, wrap("update product", err)
	}
	if err := requireAffected(res); err != nil {
		return nil, err
	}
	return s.GetProductByID(ctx, product.ID)
}

const stockColumns = `product_id, quantity, unit_cost, location, updated_at`

func scanStock(row interface{ Scan(...any) error }) (domain.StockEntry, error) {
	var e domain.StockEntry
	var cost decimal.NullDecimal
	err := row.Scan(&e.ProductID, &e.Quantity, &cost, &e.Location, &e.UpdatedAt)
	e.UnitCost = decimalPtr(cost)
	e.UpdatedAt = e.UpdatedAt.UTC()
	return e, err
}

func (s *Store) GetStock(ctx context.Context, productID string) (*domain.StockEntry, error) {
	e, err := scanStock(s.db.QueryRowContext(ctx, `SELECT `+stockColumns+` FROM stock_entries WHERE product_id = $1`, productID))
	if err != nil {
		return nil, wrap("get stock", err)
	}
	return &e, nil
}

func (s *Store) ListStock(ctx context.Context) ([]domain.StockEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+stockColumns+` FROM stock_entries ORDER BY product_id`)
	if err != nil {
		return nil, wrap("list stock", err)
	}
	defer rows.Close()

	entries := make([]domain.StockEntry, 0, 64)
	for rows.Next() {
		e, err := scanStock(rows)
		if err != nil {
			return nil, wrap("scan stock", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list stock", err)
	}
	return entries, nil
}

func (s *Store) ListStockMovements(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, delta, qty_after, reason, reference_id, unit_cost, location, created_at
		FROM stock_movements
		WHERE ($1 = '' OR product_id = $1)
		ORDER BY seq DESC
		LIMIT NULLIF($2, 0)
	`, productID, limit)
	if err != nil {
		return nil, wrap("list stock movements", err)
	}
	defer rows.Close()

	movements := make([]domain.StockMovement, 0, 64)
	for rows.Next() {
		var m domain.StockMovement
		var cost decimal.NullDecimal
		if err := rows.Scan(&m.ID, &m.ProductID, &m.Delta, &m.QtyAfter, &m.Reason, &m.ReferenceID, &cost, &m.Location, &m.CreatedAt); err != nil {
			return nil, wrap("scan stock movement", err)
		}
		m.UnitCost = decimalPtr(cost)
		m.CreatedAt = m.CreatedAt.UTC()
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list stock movements", err)
	}
	return movements, nil
}

const saleColumns = `id, customer_id, product_id, quantity, unit_price, discount, subtotal, discount_amount, total,
	status, payment_status, paid_amount, notes, COALESCE(idempotency_key, ''), created_by, created_at, updated_at`

func scanSale(row interface{ Scan(...any) error }) (domain.Sale, error) {
	var s domain.Sale
	err := row.Scan(&s.ID, &s.CustomerID, &s.ProductID, &s.Quantity, &s.UnitPrice, &s.Discount, &s.Subtotal,
		&s.DiscountAmount, &s.Total, &s.Status, &s.PaymentStatus, &s.PaidAmount, &s.Notes, &s.IdempotencyKey,
		&s.CreatedBy, &s.CreatedAt, &s.UpdatedAt)
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return s, err
}

func (s *Store) ListSales(ctx context.Context, filter domain.ListFilter) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE ($1::timestamptz IS NULL OR created_at >= $1)
			AND ($2::timestamptz IS NULL OR created_at < $2)
		ORDER BY created_at DESC
		LIMIT NULLIF($3, 0) OFFSET $4
	`, nullTime(filter.From), nullTime(filter.To), filter.Limit, filter.Offset)
	if err != nil {
		return nil, wrap("list sales", err)
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 64)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, wrap("scan sale", err)
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list sales", err)
	}
	return sales, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	return findSale(ctx, s.db, "id", id, false)
}

func (s *Store) FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error) {
	return findSale(ctx, s.db, "idempotency_key", key, false)
}

func findSale(ctx context.Context, q queryer, column string, value string, lock bool) (*domain.Sale, error) {
	if column != "id" && column != "idempotency_key" {
		return nil, fmt.Errorf("unsupported lookup column")
	}
	query := `SELECT ` + saleColumns + ` FROM sales WHERE ` + column + ` = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	sale, err := scanSale(q.QueryRowContext(ctx, query, value))
	if err != nil {
		return nil, wrap("get sale", err)
	}
	return &sale, nil
}

const purchaseColumns = `id, supplier_id, product_id, quantity, unit_price, total, status, payment_status,
	paid_amount, notes, COALESCE(idempotency_key, ''), created_by, created_at, updated_at`

func scanPurchase(row interface{ Scan(...any) error }) (domain.Purchase, error) {
	var p domain.Purchase
	err := row.Scan(&p.ID, &p.SupplierID, &p.ProductID, &p.Quantity, &p.UnitPrice, &p.Total, &p.Status,
		&p.PaymentStatus, &p.PaidAmount, &p.Notes, &p.IdempotencyKey, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, err
}

func (s *Store) ListPurchases(ctx context.Context, filter domain.ListFilter) ([]domain.Purchase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+purchaseColumns+`
		FROM purchases
		WHERE ($1::timestamptz IS NULL OR created_at >= $1)
			AND ($2::timestamptz IS NULL OR created_at < $2)
		ORDER BY created_at DESC
		LIMIT NULLIF($3, 0) OFFSET $4
	`, nullTime(filter.From), nullTime(filter.To), filter.Limit, filter.Offset)
	if err != nil {
		return nil, wrap("list purchases", err)
	}
	defer rows.Close()

	purchases := make([]domain.Purchase, 0, 64)
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, wrap("scan purchase", err)
		}
		purchases = append(purchases, p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list purchases", err)
	}
	return purchases, nil
}

func (s *Store) GetPurchase(ctx context.Context, id string) (*domain.Purchase, error) {
	return findPurchase(ctx, s.db, "id", id, false)
}

func (s *Store) FindPurchaseByIdempotency(ctx context.Context, key string) (*domain.Purchase, error) {
	return findPurchase(ctx, s.db, "idempotency_key", key, false)
}

func findPurchase(ctx context.Context, q queryer, column string, value string, lock bool) (*domain.Purchase, error) {
	if column != "id" && column != "idempotency_key" {
		return nil, fmt.Errorf("unsupported lookup column")
	}
	query := `SELECT ` + purchaseColumns + ` FROM purchases WHERE ` + column + ` = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	p, err := scanPurchase(q.QueryRowContext(ctx, query, value))
	if err != nil {
		return nil, wrap("get purchase", err)
	}
	return &p, nil
}

func (s *Store) ListPayments(ctx context.Context, filter domain.ListFilter) ([]domain.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, amount, method, type, related_id, party, description, status, date, created_by, created_at
		FROM payments
		WHERE ($1::timestamptz IS NULL OR date >= $1)
			AND ($2::timestamptz IS NULL OR date < $2)
		ORDER BY date DESC, seq DESC
		LIMIT NULLIF($3, 0) OFFSET $4
	`, nullTime(filter.From), nullTime(filter.To), filter.Limit, filter.Offset)
	if err != nil {
		return nil, wrap("list payments", err)
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0, 64)
	for rows.Next() {
		var p domain.Payment
		if err := rows.Scan(&p.ID, &p.Amount, &p.Method, &p.Type, &p.RelatedID, &p.Party, &p.Description,
			&p.Status, &p.Date, &p.CreatedBy, &p.CreatedAt); err != nil {
			return nil, wrap("scan payment", err)
		}
		p.Date = p.Date.UTC()
		p.CreatedAt = p.CreatedAt.UTC()
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list payments", err)
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
	if cost.CreatedAt.IsZero() {
		cost.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO costs (id, name, description, amount, category, date, reference, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, cost.ID, cost.Name, cost.Description, cost.Amount, cost.Category, cost.Date, cost.Reference, cost.CreatedBy, cost.CreatedAt)
	if err != nil {
		return nil, wrap("create cost", err)
	}
	created := cost
	return &created, nil
}

func (s *Store) ListCosts(ctx context.Context, filter domain.ListFilter) ([]domain.Cost, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, amount, category, date, reference, created_by, created_at
		FROM costs
		WHERE ($1::timestamptz IS NULL OR date >= $1)
			AND ($2::timestamptz IS NULL OR date < $2)
		ORDER BY date DESC, seq DESC
		LIMIT NULLIF($3, 0) OFFSET $4
	`, nullTime(filter.From), nullTime(filter.To), filter.Limit, filter.Offset)
	if err != nil {
		return nil, wrap("list costs", err)
	}
	defer rows.Close()

	costs := make([]domain.Cost, 0, 64)
	for rows.Next() {
		var c domain.Cost
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.Amount, &c.Category, &c.Date, &c.Reference,
			&c.CreatedBy, &c.CreatedAt); err != nil {
			return nil, wrap("scan cost", err)
		}
		c.Date = c.Date.UTC()
		c.CreatedAt = c.CreatedAt.UTC()
		costs = append(costs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list costs", err)
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
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (id, name, email, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,true,$6,now())
	`, user.ID, user.Name, user.Email, user.Password, user.Role, user.CreatedAt)
	if err != nil {
		return wrap("create user", err)
	}
	return nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, password, role, active, created_at
		FROM app_users
		WHERE email = $1
	`, strings.ToLower(strings.TrimSpace(email))).Scan(&user.ID, &user.Name, &user.Email, &user.Password, &user.Role, &user.Active, &user.CreatedAt)
	if err != nil {
		return nil, wrap("get user", err)
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, email, password, role, active, created_at
		FROM app_users
		ORDER BY email ASC
	`)
	if err != nil {
		return nil, wrap("list users", err)
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.ID, &user.Name, &user.Email, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, wrap("scan user", err)
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list users", err)
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, email string, passwordHash string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || strings.TrimSpace(passwordHash) == "" {
		return fmt.Errorf("%w: email and password hash are required", store.ErrInvalidInput)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE email = $1
	`, email, passwordHash)
	if err != nil {
		return wrap("update user password", err)
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return wrap("rows affected", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// wrap maps driver errors onto the store sentinels.
func wrap(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s: %s", store.ErrDuplicate, op, pgErr.ConstraintName)
		case "40001", "40P01":
			return fmt.Errorf("%w: %s", store.ErrConcurrencyConflict, op)
		case "23514":
			return fmt.Errorf("%w: %s: %s", store.ErrInsufficientStock, op, pgErr.ConstraintName)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", store.ErrPersistence, op, err)
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func decimalPtr(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

func nullDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return *d
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return val.UTC()
}
