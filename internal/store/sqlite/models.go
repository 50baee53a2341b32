package sqlite

import (
	"time"

	"github.com/shopspring/decimal"

	"erplite/backend/internal/domain"
)

// Money columns are stored as text so values round-trip without float
// conversion.

type productRow struct {
	ID           string `gorm:"primaryKey"`
	SKU          string `gorm:"uniqueIndex;size:50;not null"`
	Name         string `gorm:"size:255;not null"`
	Description  string
	Category     string          `gorm:"size:100;index"`
	CostPrice    decimal.Decimal `gorm:"type:text;not null"`
	SellingPrice decimal.Decimal `gorm:"type:text;not null"`
	ReorderLevel int
	Supplier     string
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (productRow) TableName() string { return "products" }

type stockRow struct {
	ProductID string              `gorm:"primaryKey"`
	Quantity  int                 `gorm:"not null;check:quantity >= 0"`
	UnitCost  decimal.NullDecimal `gorm:"type:text"`
	Location  string
	UpdatedAt time.Time
}

func (stockRow) TableName() string { return "stock_entries" }

type movementRow struct {
	Seq         uint   `gorm:"primaryKey;autoIncrement"`
	ID          string `gorm:"uniqueIndex;not null"`
	ProductID   string `gorm:"index;not null"`
	Delta       int
	QtyAfter    int
	Reason      string `gorm:"size:32"`
	ReferenceID string
	UnitCost    decimal.NullDecimal `gorm:"type:text"`
	Location    string
	CreatedAt   time.Time
}

func (movementRow) TableName() string { return "stock_movements" }

type saleRow struct {
	ID             string `gorm:"primaryKey"`
	CustomerID     string `gorm:"index"`
	ProductID      string `gorm:"index"`
	Quantity       int
	UnitPrice      decimal.Decimal `gorm:"type:text"`
	Discount       decimal.Decimal `gorm:"type:text"`
	Subtotal       decimal.Decimal `gorm:"type:text"`
	DiscountAmount decimal.Decimal `gorm:"type:text"`
	Total          decimal.Decimal `gorm:"type:text"`
	Status         string
	PaymentStatus  string
	PaidAmount     decimal.Decimal `gorm:"type:text"`
	Notes          string
	IdempotencyKey *string `gorm:"uniqueIndex"`
	CreatedBy      string
	CreatedAt      time.Time `gorm:"index"`
	UpdatedAt      time.Time
}

func (saleRow) TableName() string { return "sales" }

type purchaseRow struct {
	ID             string `gorm:"primaryKey"`
	SupplierID     string `gorm:"index"`
	ProductID      string `gorm:"index"`
	Quantity       int
	UnitPrice      decimal.Decimal `gorm:"type:text"`
	Total          decimal.Decimal `gorm:"type:text"`
	Status         string
	PaymentStatus  string
	PaidAmount     decimal.Decimal `gorm:"type:text"`
	Notes          string
	IdempotencyKey *string `gorm:"uniqueIndex"`
	CreatedBy      string
	CreatedAt      time.Time `gorm:"index"`
	UpdatedAt      time.Time
}

func (purchaseRow) TableName() string { return "purchases" }

type paymentRow struct {
	Seq         uint            `gorm:"primaryKey;autoIncrement"`
	ID          string          `gorm:"uniqueIndex;not null"`
	Amount      decimal.Decimal `gorm:"type:text"`
	Method      string
	Type        string
	RelatedID   string `gorm:"index"`
	Party       string
	Description string
	Status      string
	Date        time.Time `gorm:"index"`
	CreatedBy   string
	CreatedAt   time.Time
}

func (paymentRow) TableName() string { return "payments" }

type costRow struct {
	Seq         uint   `gorm:"primaryKey;autoIncrement"`
	ID          string `gorm:"uniqueIndex;not null"`
	Name        string `gorm:"size:255"`
	Description string
	Amount      decimal.Decimal `gorm:"type:text"`
	Category    string
	Date        time.Time `gorm:"index"`
	Reference   string
	CreatedBy   string
	CreatedAt   time.Time
}

func (costRow) TableName() string { return "costs" }

type userRow struct {
	ID        string `gorm:"primaryKey"`
	Name      string
	Email     string `gorm:"uniqueIndex;not null"`
	Password  string `gorm:"not null"`
	Role      string
	Active    bool
	CreatedAt time.Time
}

func (userRow) TableName() string { return "users" }

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func decimalPtr(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func toProductRow(p domain.Product) productRow {
	return productRow{
		ID: p.ID, SKU: p.SKU, Name: p.Name, Description: p.Description, Category: p.Category,
		CostPrice: p.CostPrice, SellingPrice: p.SellingPrice, ReorderLevel: p.ReorderLevel,
		Supplier: p.Supplier, Active: p.Active, CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt,
	}
}

func (r productRow) domain() domain.Product {
	return domain.Product{
		ID: r.ID, SKU: r.SKU, Name: r.Name, Description: r.Description, Category: r.Category,
		CostPrice: r.CostPrice, SellingPrice: r.SellingPrice, ReorderLevel: r.ReorderLevel,
		Supplier: r.Supplier, Active: r.Active, CreatedAt: r.CreatedAt.UTC(), UpdatedAt: r.UpdatedAt.UTC(),
	}
}

func (r stockRow) domain() domain.StockEntry {
	return domain.StockEntry{
		ProductID: r.ProductID, Quantity: r.Quantity, UnitCost: decimalPtr(r.UnitCost),
		Location: r.Location, UpdatedAt: r.UpdatedAt.UTC(),
	}
}

func (r movementRow) domain() domain.StockMovement {
	return domain.StockMovement{
		ID: r.ID, ProductID: r.ProductID, Delta: r.Delta, QtyAfter: r.QtyAfter, Reason: r.Reason,
		ReferenceID: r.ReferenceID, UnitCost: decimalPtr(r.UnitCost), Location: r.Location, CreatedAt: r.CreatedAt.UTC(),
	}
}

func toSaleRow(s domain.Sale) saleRow {
	return saleRow{
		ID: s.ID, CustomerID: s.CustomerID, ProductID: s.ProductID, Quantity: s.Quantity,
		UnitPrice: s.UnitPrice, Discount: s.Discount, Subtotal: s.Subtotal, DiscountAmount: s.DiscountAmount,
		Total: s.Total, Status: s.Status, PaymentStatus: s.PaymentStatus, PaidAmount: s.PaidAmount,
		Notes: s.Notes, IdempotencyKey: optional(s.IdempotencyKey), CreatedBy: s.CreatedBy,
		CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt,
	}
}

func (r saleRow) domain() domain.Sale {
	return domain.Sale{
		ID: r.ID, CustomerID: r.CustomerID, ProductID: r.ProductID, Quantity: r.Quantity,
		UnitPrice: r.UnitPrice, Discount: r.Discount, Subtotal: r.Subtotal, DiscountAmount: r.DiscountAmount,
		Total: r.Total, Status: r.Status, PaymentStatus: r.PaymentStatus, PaidAmount: r.PaidAmount,
		Notes: r.Notes, IdempotencyKey: deref(r.IdempotencyKey), CreatedBy: r.CreatedBy,
		CreatedAt: r.CreatedAt.UTC(), UpdatedAt: r.UpdatedAt.UTC(),
	}
}

func toPurchaseRow(p domain.Purchase) purchaseRow {
	return purchaseRow{
		ID: p.ID, SupplierID: p.SupplierID, ProductID: p.ProductID, Quantity: p.Quantity,
		UnitPrice: p.UnitPrice, Total: p.Total, Status: p.Status, PaymentStatus: p.PaymentStatus,
		PaidAmount: p.PaidAmount, Notes: p.Notes, IdempotencyKey: optional(p.IdempotencyKey),
		CreatedBy: p.CreatedBy, CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt,
	}
}

func (r purchaseRow) domain() domain.Purchase {
	return domain.Purchase{
		ID: r.ID, SupplierID: r.SupplierID, ProductID: r.ProductID, Quantity: r.Quantity,
		UnitPrice: r.UnitPrice, Total: r.Total, Status: r.Status, PaymentStatus: r.PaymentStatus,
		PaidAmount: r.PaidAmount, Notes: r.Notes, IdempotencyKey: deref(r.IdempotencyKey),
		CreatedBy: r.CreatedBy, CreatedAt: r.CreatedAt.UTC(), UpdatedAt: r.UpdatedAt.UTC(),
	}
}

func toPaymentRow(p domain.Payment) paymentRow {
	return paymentRow{
		ID: p.ID, Amount: p.Amount, Method: p.Method, Type: p.Type, RelatedID: p.RelatedID,
		Party: p.Party, Description: p.Description, Status: p.Status, Date: p.Date,
		CreatedBy: p.CreatedBy, CreatedAt: p.CreatedAt,
	}
}

func (r paymentRow) domain() domain.Payment {
	return domain.Payment{
		ID: r.ID, Amount: r.Amount, Method: r.Method, Type: r.Type, RelatedID: r.RelatedID,
		Party: r.Party, Description: r.Description, Status: r.Status, Date: r.Date.UTC(),
		CreatedBy: r.CreatedBy, CreatedAt: r.CreatedAt.UTC(),
	}
}

func toCostRow(c domain.Cost) costRow {
	return costRow{
		ID: c.ID, Name: c.Name, Description: c.Description, Amount: c.Amount, Category: c.Category,
		Date: c.Date, Reference: c.Reference, CreatedBy: c.CreatedBy, CreatedAt: c.CreatedAt,
	}
}

func (r costRow) domain() domain.Cost {
	return domain.Cost{
		ID: r.ID, Name: r.Name, Description: r.Description, Amount: r.Amount, Category: r.Category,
		Date: r.Date.UTC(), Reference: r.Reference, CreatedBy: r.CreatedBy, CreatedAt: r.CreatedAt.UTC(),
	}
}

func toUserRow(u domain.UserAccount) userRow {
	return userRow{
		ID: u.ID, Name: u.Name, Email: u.Email, Password: u.Password, Role: u.Role,
		Active: u.Active, CreatedAt: u.CreatedAt,
	}
}

func (r userRow) domain() domain.UserAccount {
	return domain.UserAccount{
		ID: r.ID, Name: r.Name, Email: r.Email, Password: r.Password, Role: r.Role,
		Active: r.Active, CreatedAt: r.CreatedAt.UTC(),
	}
}
