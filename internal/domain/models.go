package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	SKU         string          `json:"sku"`
	Name        string          `json:"name"`
	Category    string          `json:"category"`
	Subcategory string          `json:"subcategory,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Cost        decimal.Decimal `json:"cost"`
	Active      bool            `json:"active"`
}

type ProductCreateRequest struct {
	SKU          string          `json:"sku"`
	Name         string          `json:"name"`
	Category     string          `json:"category"`
	Subcategory  string          `json:"subcategory,omitempty"`
	Price        decimal.Decimal `json:"price"`
	Cost         decimal.Decimal `json:"cost"`
	InitialStock int             `json:"initial_stock"`
	ReorderPoint int             `json:"reorder_point"`
}

type ProductUpdateRequest struct {
	Name        *string          `json:"name,omitempty"`
	Category    *string          `json:"category,omitempty"`
	Subcategory *string          `json:"subcategory,omitempty"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	Cost        *decimal.Decimal `json:"cost,omitempty"`
	Active      *bool            `json:"active,omitempty"`
}

type InventoryRecord struct {
	SKU          string `json:"sku"`
	Quantity     int    `json:"quantity"`
	ReorderPoint int    `json:"reorder_point"`
}

type StockMovement struct {
	ID          string    `json:"id"`
	SKU         string    `json:"sku"`
	Delta       int       `json:"delta"`
	PriorQty    int       `json:"prior_qty"`
	NewQty      int       `json:"new_qty"`
	Reason      string    `json:"reason"`
	Actor       string    `json:"actor"`
	ReferenceID string    `json:"reference_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type AdjustInventoryRequest struct {
	SKU        string `json:"sku"`
	Delta      int    `json:"delta"`
	Reason     string `json:"reason"`
	ManagerPIN string `json:"manager_pin,omitempty"`
}

const (
	DiscountKindPercentage = "percentage"
	DiscountKindFixed      = "fixed"
)

const (
	DiscountScopeAll        = "all"
	DiscountScopeCategories = "categories"
	DiscountScopeProducts   = "products"
)

type Discount struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Kind       string          `json:"kind"`
	Value      decimal.Decimal `json:"value"`
	Scope      string          `json:"scope"`
	Categories []string        `json:"categories,omitempty"`
	SKUs       []string        `json:"skus,omitempty"`
	Active     bool            `json:"active"`
	StartDate  time.Time       `json:"start_date"`
	EndDate    time.Time       `json:"end_date"`
	CreatedBy  string          `json:"created_by"`
	CreatedAt  time.Time       `json:"created_at"`
}

type DiscountCreateRequest struct {
	Name       string          `json:"name"`
	Kind       string          `json:"kind"`
	Value      decimal.Decimal `json:"value"`
	Scope      string          `json:"scope"`
	Categories []string        `json:"categories,omitempty"`
	SKUs       []string        `json:"skus,omitempty"`
	StartDate  string          `json:"start_date"`
	EndDate    string          `json:"end_date"`
}

const (
	OfferKindBOGO         = "bogo"
	OfferKindBundle       = "bundle"
	OfferKindSpecialPrice = "special_price"
)

type Offer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	Active    bool      `json:"active"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	CreatedAt time.Time `json:"created_at"`

	// bogo
	BuyQty int      `json:"buy_qty,omitempty"`
	GetQty int      `json:"get_qty,omitempty"`
	SKUs   []string `json:"skus,omitempty"`

	// bundle
	BundlePrice decimal.Decimal `json:"bundle_price,omitempty"`

	// special_price
	SKU          string          `json:"sku,omitempty"`
	SpecialPrice decimal.Decimal `json:"special_price,omitempty"`
}

type OfferCreateRequest struct {
	Name         string          `json:"name"`
	Kind         string          `json:"kind"`
	StartDate    string          `json:"start_date"`
	EndDate      string          `json:"end_date"`
	BuyQty       int             `json:"buy_qty,omitempty"`
	GetQty       int             `json:"get_qty,omitempty"`
	SKUs         []string        `json:"skus,omitempty"`
	BundlePrice  decimal.Decimal `json:"bundle_price,omitempty"`
	SKU          string          `json:"sku,omitempty"`
	SpecialPrice decimal.Decimal `json:"special_price,omitempty"`
}

type ToggleActiveRequest struct {
	Active bool `json:"active"`
}

// CartLine is a caller-owned line of an in-progress sale. UnitPrice is the
// price snapshot taken when the line entered the cart; committed transactions
// carry these snapshots unchanged.
type CartLine struct {
	SKU       string          `json:"sku"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Qty       int             `json:"qty"`
}

type Quote struct {
	Subtotal       decimal.Decimal `json:"subtotal"`
	Tax            decimal.Decimal `json:"tax"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	OfferSavings   decimal.Decimal `json:"offer_savings"`
	Total          decimal.Decimal `json:"total"`
}

type PriceCartRequest struct {
	Lines      []CartLine `json:"lines"`
	DiscountID string     `json:"discount_id,omitempty"`
}

const (
	PaymentMethodCash   = "cash"
	PaymentMethodCredit = "credit_card"
	PaymentMethodDebit  = "debit_card"
	PaymentMethodMobile = "mobile_payment"
)

type Payment struct {
	Method         string          `json:"method"`
	AmountTendered decimal.Decimal `json:"amount_tendered"`
}

type CommitSaleRequest struct {
	Lines      []CartLine `json:"lines"`
	DiscountID string     `json:"discount_id,omitempty"`
	Payment    Payment    `json:"payment"`
}

type Transaction struct {
	ID             string          `json:"id"`
	CreatedAt      time.Time       `json:"created_at"`
	Lines          []CartLine      `json:"lines"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	Tax            decimal.Decimal `json:"tax"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	OfferSavings   decimal.Decimal `json:"offer_savings"`
	Total          decimal.Decimal `json:"total"`
	PaymentMethod  string          `json:"payment_method"`
	AmountTendered decimal.Decimal `json:"amount_tendered"`
	Change         decimal.Decimal `json:"change"`
	CashierID      string          `json:"cashier_id"`
	ShiftID        string          `json:"shift_id,omitempty"`
}

type ReturnLine struct {
	SKU       string          `json:"sku"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Qty       int             `json:"qty"`
}

const (
	ReturnStatusPending   = "Pending"
	ReturnStatusCompleted = "Completed"
)

type Return struct {
	ID             string          `json:"id"`
	TransactionID  string          `json:"transaction_id"`
	Lines          []ReturnLine    `json:"lines"`
	RefundSubtotal decimal.Decimal `json:"refund_subtotal"`
	TaxRefund      decimal.Decimal `json:"tax_refund"`
	TotalRefund    decimal.Decimal `json:"total_refund"`
	Reason         string          `json:"reason"`
	ProcessedBy    string          `json:"processed_by"`
	ShiftID        string          `json:"shift_id,omitempty"`
	RefundMethod   string          `json:"refund_method"`
	Status         string          `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

type ReturnLineRequest struct {
	SKU string `json:"sku"`
	Qty int    `json:"qty"`
}

type CommitReturnRequest struct {
	TransactionID string              `json:"transaction_id"`
	Lines         []ReturnLineRequest `json:"lines"`
	Reason        string              `json:"reason"`
}

type CompleteReturnRequest struct {
	ManagerPIN string `json:"manager_pin"`
}

const (
	ShiftStatusActive    = "active"
	ShiftStatusCompleted = "completed"
)

type ShiftSession struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	StartTime    time.Time       `json:"start_time"`
	EndTime      *time.Time      `json:"end_time,omitempty"`
	StartingCash decimal.Decimal `json:"starting_cash"`
	EndingCash   decimal.Decimal `json:"ending_cash"`
	Status       string          `json:"status"`
}

type StartShiftRequest struct {
	StartingCash decimal.Decimal `json:"starting_cash"`
}

const (
	DrawerEntrySale   = "sale"
	DrawerEntryRefund = "refund"
)

type DrawerEntry struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	CreatedAt   time.Time       `json:"created_at"`
	ReferenceID string          `json:"reference_id"`
	Actor       string          `json:"actor"`
	ShiftID     string          `json:"shift_id,omitempty"`
}

// DrawerStatus pairs the running balance with a fold of the entry log so the
// two can be compared for audit.
type DrawerStatus struct {
	Balance           decimal.Decimal `json:"balance"`
	RecomputedFold    decimal.Decimal `json:"recomputed_fold"`
	EntryCount        int             `json:"entry_count"`
	BalanceConsistent bool            `json:"balance_consistent"`
}

type DailySummary struct {
	Date          string          `json:"date"`
	Transactions  int64           `json:"transactions"`
	GrossSales    decimal.Decimal `json:"gross_sales"`
	TotalDiscount decimal.Decimal `json:"total_discount"`
	TotalSavings  decimal.Decimal `json:"total_savings"`
	TotalTax      decimal.Decimal `json:"total_tax"`
	NetSales      decimal.Decimal `json:"net_sales"`
	Returns       int64           `json:"returns"`
	TotalRefunded decimal.Decimal `json:"total_refunded"`
}

// LowStockItem is a reporting row for products whose on-hand quantity has
// fallen below the reorder point.
type LowStockItem struct {
	SKU          string `json:"sku"`
	Name         string `json:"name"`
	Quantity     int    `json:"quantity"`
	ReorderPoint int    `json:"reorder_point"`
}

type TransactionFilter struct {
	From      time.Time
	To        time.Time
	CashierID string
	SKU       string
	Limit     int
}

type ReturnFilter struct {
	From   time.Time
	To     time.Time
	Status string
	Limit  int
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}
