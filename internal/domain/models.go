package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"

	PaymentStatusUnpaid  = "unpaid"
	PaymentStatusPartial = "partial"
	PaymentStatusPaid    = "paid"

	PaymentPending   = "pending"
	PaymentCompleted = "completed"
	PaymentFailed    = "failed"
	PaymentRefunded  = "refunded"

	PaymentTypeSale     = "sale"
	PaymentTypePurchase = "purchase"

	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleUser    = "user"
)

const (
	MovementSale           = "sale"
	MovementPurchase       = "purchase"
	MovementSaleCancel     = "sale_cancel"
	MovementPurchaseCancel = "purchase_cancel"
	MovementCount          = "count"
)

var PaymentMethods = []string{"cash", "bank_transfer", "credit_card", "debit_card", "cheque", "other"}

var CostCategories = []string{"Material", "Labor", "Overhead", "Miscellaneous"}

type Product struct {
	ID           string          `json:"id"`
	SKU          string          `json:"sku"`
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	Category     string          `json:"category"`
	CostPrice    decimal.Decimal `json:"costPrice"`
	SellingPrice decimal.Decimal `json:"sellingPrice"`
	ReorderLevel int             `json:"reorderLevel"`
	Supplier     string          `json:"supplier,omitempty"`
	Active       bool            `json:"active"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

type ProductCreateRequest struct {
	SKU          string          `json:"sku"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Category     string          `json:"category"`
	CostPrice    decimal.Decimal `json:"costPrice"`
	SellingPrice decimal.Decimal `json:"sellingPrice"`
	ReorderLevel *int            `json:"reorderLevel,omitempty"`
	Supplier     string          `json:"supplier"`
}

type ProductUpdateRequest struct {
	Name         *string          `json:"name,omitempty"`
	Description  *string          `json:"description,omitempty"`
	Category     *string          `json:"category,omitempty"`
	CostPrice    *decimal.Decimal `json:"costPrice,omitempty"`
	SellingPrice *decimal.Decimal `json:"sellingPrice,omitempty"`
	ReorderLevel *int             `json:"reorderLevel,omitempty"`
	Supplier     *string          `json:"supplier,omitempty"`
	Active       *bool            `json:"active,omitempty"`
}

// StockEntry is the on-hand quantity of one product. There is at most one
// entry per product; a missing entry means zero stock.
type StockEntry struct {
	ProductID string           `json:"productId"`
	Quantity  int              `json:"quantity"`
	UnitCost  *decimal.Decimal `json:"unitCost,omitempty"`
	Location  string           `json:"location,omitempty"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// StockMovement is one append-only line of the stock ledger.
type StockMovement struct {
	ID          string           `json:"id"`
	ProductID   string           `json:"productId"`
	Delta       int              `json:"delta"`
	QtyAfter    int              `json:"qtyAfter"`
	Reason      string           `json:"reason"`
	ReferenceID string           `json:"referenceId,omitempty"`
	UnitCost    *decimal.Decimal `json:"unitCost,omitempty"`
	Location    string           `json:"location,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
}

type StockCountLine struct {
	SKU        string `json:"sku"`
	CountedQty int    `json:"countedQty"`
	Location   string `json:"location,omitempty"`
}

type StockCountRequest struct {
	Notes string           `json:"notes"`
	Lines []StockCountLine `json:"lines"`
}

type StockCountAdjustment struct {
	ProductID  string `json:"productId"`
	SKU        string `json:"sku"`
	SystemQty  int    `json:"systemQty"`
	CountedQty int    `json:"countedQty"`
	Delta      int    `json:"delta"`
}

type StockCountResponse struct {
	CountID     string                 `json:"countId"`
	Notes       string                 `json:"notes,omitempty"`
	Adjustments []StockCountAdjustment `json:"adjustments"`
	CreatedAt   time.Time              `json:"createdAt"`
}

type Sale struct {
	ID             string          `json:"id"`
	CustomerID     string          `json:"customerId"`
	ProductID      string          `json:"productId"`
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unitPrice"`
	Discount       decimal.Decimal `json:"discount"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	Total          decimal.Decimal `json:"total"`
	Status         string          `json:"status"`
	PaymentStatus  string          `json:"paymentStatus"`
	PaidAmount     decimal.Decimal `json:"paidAmount"`
	Notes          string          `json:"notes,omitempty"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
	CreatedBy      string          `json:"createdBy,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

type SaleRequest struct {
	CustomerID     string           `json:"customerId"`
	ProductID      string           `json:"productId"`
	Quantity       int              `json:"quantity"`
	UnitPrice      *decimal.Decimal `json:"unitPrice,omitempty"`
	Discount       decimal.Decimal  `json:"discount"`
	Notes          string           `json:"notes"`
	IdempotencyKey string           `json:"idempotencyKey"`
}

type SaleResponse struct {
	Sale      Sale `json:"sale"`
	Duplicate bool `json:"duplicate"`
}

type Purchase struct {
	ID             string          `json:"id"`
	SupplierID     string          `json:"supplierId"`
	ProductID      string          `json:"productId"`
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unitPrice"`
	Total          decimal.Decimal `json:"total"`
	Status         string          `json:"status"`
	PaymentStatus  string          `json:"paymentStatus"`
	PaidAmount     decimal.Decimal `json:"paidAmount"`
	Notes          string          `json:"notes,omitempty"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
	CreatedBy      string          `json:"createdBy,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

type PurchaseRequest struct {
	SupplierID     string          `json:"supplierId"`
	ProductID      string          `json:"productId"`
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unitPrice"`
	Location       string          `json:"location"`
	Notes          string          `json:"notes"`
	IdempotencyKey string          `json:"idempotencyKey"`
}

type PurchaseResponse struct {
	Purchase  Purchase `json:"purchase"`
	Duplicate bool     `json:"duplicate"`
}

type CancelRequest struct {
	Reason     string `json:"reason"`
	ManagerPIN string `json:"managerPin"`
}

type Payment struct {
	ID          string          `json:"id"`
	Amount      decimal.Decimal `json:"amount"`
	Method      string          `json:"method"`
	Type        string          `json:"type"`
	RelatedID   string          `json:"relatedId,omitempty"`
	Party       string          `json:"party,omitempty"`
	Description string          `json:"description,omitempty"`
	Status      string          `json:"status"`
	Date        time.Time       `json:"date"`
	CreatedBy   string          `json:"createdBy,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

type PaymentRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Method      string          `json:"method"`
	Type        string          `json:"type"`
	RelatedID   string          `json:"relatedId"`
	Party       string          `json:"party"`
	Description string          `json:"description"`
	Status      string          `json:"status"`
	Date        string          `json:"date"`
}

type Cost struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category"`
	Date        time.Time       `json:"date"`
	Reference   string          `json:"reference,omitempty"`
	CreatedBy   string          `json:"createdBy,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

type CostRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category"`
	Date        string          `json:"date"`
	Reference   string          `json:"reference"`
}

// ListFilter bounds list queries. A zero Limit means no limit.
type ListFilter struct {
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

type UserAccount struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

type UserCreateRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string      `json:"accessToken"`
	Role        string      `json:"role"`
	ExpiresAt   string      `json:"expiresAt"`
	User        UserAccount `json:"user"`
}

type Actor struct {
	UserID string
	Email  string
	Role   string
}

type StockLevel struct {
	ProductID    string `json:"productId"`
	SKU          string `json:"sku"`
	Name         string `json:"name"`
	Category     string `json:"category"`
	Quantity     int    `json:"quantity"`
	ReorderLevel int    `json:"reorderLevel"`
	Location     string `json:"location,omitempty"`
}

type StockLevelsReport struct {
	GeneratedAt time.Time    `json:"generatedAt"`
	StockLevels []StockLevel `json:"stockLevels"`
	LowStock    []StockLevel `json:"lowStockProducts"`
}

type CostPriceLine struct {
	ProductID        string          `json:"productId"`
	ProductName      string          `json:"productName"`
	CostPrice        decimal.Decimal `json:"costPrice"`
	SellingPrice     decimal.Decimal `json:"sellingPrice"`
	Margin           decimal.Decimal `json:"margin"`
	MarginPercentage decimal.Decimal `json:"marginPercentage"`
}

type CostPriceReport struct {
	GeneratedAt time.Time       `json:"generatedAt"`
	Lines       []CostPriceLine `json:"lines"`
}

type MonthlyProfitability struct {
	Period string          `json:"period"`
	Sales  decimal.Decimal `json:"sales"`
	Costs  decimal.Decimal `json:"costs"`
	Profit decimal.Decimal `json:"profit"`
	Margin decimal.Decimal `json:"margin"`
}

type ProfitabilityReport struct {
	From         string                 `json:"from,omitempty"`
	To           string                 `json:"to,omitempty"`
	TotalSales   decimal.Decimal        `json:"totalSales"`
	TotalCosts   decimal.Decimal        `json:"totalCosts"`
	Profit       decimal.Decimal        `json:"profit"`
	ProfitMargin decimal.Decimal        `json:"profitMargin"`
	Monthly      []MonthlyProfitability `json:"monthlyData"`
}

type CustomerBalance struct {
	CustomerID string          `json:"customerId"`
	Billed     decimal.Decimal `json:"billed"`
	Paid       decimal.Decimal `json:"paid"`
	Balance    decimal.Decimal `json:"balance"`
}

type CustomerBalancesReport struct {
	GeneratedAt time.Time         `json:"generatedAt"`
	Balances    []CustomerBalance `json:"balances"`
}
