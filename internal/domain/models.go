package domain

import "time"

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

const (
	SaleStatusPending   = "pending"
	SaleStatusCompleted = "completed"
	SaleStatusCancelled = "cancelled"
	SaleStatusRefunded  = "refunded"
)

const (
	ChannelPOS    = "pos"
	ChannelOnline = "online"
)

const (
	MovementInitial    = "initial"
	MovementSale       = "sale"
	MovementPurchase   = "purchase"
	MovementAdjustment = "adjustment"
	MovementCount      = "count"
	MovementReturn     = "return"
	MovementCancel     = "cancel"
)

const (
	PaymentCash     = "cash"
	PaymentCard     = "card"
	PaymentQRIS     = "qris"
	PaymentTransfer = "transfer"
	PaymentEWallet  = "ewallet"
)

type Product struct {
	ID            string    `json:"id"`
	SKU           string    `json:"sku"`
	Barcode       string    `json:"barcode,omitempty"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	Category      string    `json:"category"`
	Unit          string    `json:"unit"`
	ImageURL      string    `json:"image_url,omitempty"`
	PriceCents    int64     `json:"price_cents"`
	CostCents     int64     `json:"cost_cents"`
	StockQuantity int       `json:"stock_quantity"`
	ReorderLevel  int       `json:"reorder_level"`
	Active        bool      `json:"active"`
	OnlineVisible bool      `json:"online_visible"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// LowStock reports whether the product is at or below its reorder level.
func (p Product) LowStock() bool {
	return p.StockQuantity <= p.ReorderLevel
}

type ProductFilter struct {
	Query        string
	Category     string
	IncludeAll   bool
	OnlineOnly   bool
	LowStockOnly bool
	Limit        int
	Offset       int
}

type ProductCreateRequest struct {
	SKU           string `json:"sku"`
	Barcode       string `json:"barcode,omitempty"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	Category      string `json:"category"`
	Unit          string `json:"unit,omitempty"`
	ImageURL      string `json:"image_url,omitempty"`
	PriceCents    int64  `json:"price_cents"`
	CostCents     int64  `json:"cost_cents"`
	InitialStock  int    `json:"initial_stock"`
	ReorderLevel  *int   `json:"reorder_level,omitempty"`
	OnlineVisible *bool  `json:"online_visible,omitempty"`
}

type ProductUpdateRequest struct {
	Barcode       *string `json:"barcode,omitempty"`
	Name          *string `json:"name,omitempty"`
	Description   *string `json:"description,omitempty"`
	Category      *string `json:"category,omitempty"`
	Unit          *string `json:"unit,omitempty"`
	ImageURL      *string `json:"image_url,omitempty"`
	PriceCents    *int64  `json:"price_cents,omitempty"`
	CostCents     *int64  `json:"cost_cents,omitempty"`
	ReorderLevel  *int    `json:"reorder_level,omitempty"`
	Active        *bool   `json:"active,omitempty"`
	OnlineVisible *bool   `json:"online_visible,omitempty"`
}

type CategorySummary struct {
	Name         string `json:"name"`
	ProductCount int    `json:"product_count"`
}

// InventoryTransaction is one row of the stock ledger. NewQuantity always
// equals PreviousQuantity + Quantity and is never negative.
type InventoryTransaction struct {
	ID               string    `json:"id"`
	ProductID        string    `json:"product_id"`
	SKU              string    `json:"sku"`
	Type             string    `json:"type"`
	Quantity         int       `json:"quantity"`
	PreviousQuantity int       `json:"previous_quantity"`
	NewQuantity      int       `json:"new_quantity"`
	ReferenceType    string    `json:"reference_type,omitempty"`
	ReferenceID      string    `json:"reference_id,omitempty"`
	Notes            string    `json:"notes,omitempty"`
	CreatedBy        string    `json:"created_by,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

type InventoryFilter struct {
	ProductID string
	Type      string
	From      time.Time
	To        time.Time
	Limit     int
}

// StockChange moves a product's stock by Quantity, or sets it to Quantity
// when Absolute is true.
type StockChange struct {
	ProductID     string
	Quantity      int
	Absolute      bool
	Type          string
	ReferenceType string
	ReferenceID   string
	Notes         string
	CreatedBy     string
}

type StockReceiveRequest struct {
	Items     []StockReceiveItem `json:"items"`
	Reference string             `json:"reference,omitempty"`
	Notes     string             `json:"notes,omitempty"`
}

type StockReceiveItem struct {
	ProductID     string `json:"product_id"`
	Qty           int    `json:"qty"`
	UnitCostCents int64  `json:"unit_cost_cents,omitempty"`
}

type StockAdjustRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Reason    string `json:"reason"`
}

type StockCountRequest struct {
	Items []StockCountItem `json:"items"`
	Notes string           `json:"notes,omitempty"`
}

type StockCountItem struct {
	ProductID  string `json:"product_id"`
	CountedQty int    `json:"counted_qty"`
}

type StockCountAdjustment struct {
	ProductID  string `json:"product_id"`
	SKU        string `json:"sku"`
	SystemQty  int    `json:"system_qty"`
	CountedQty int    `json:"counted_qty"`
	DeltaQty   int    `json:"delta_qty"`
}

type StockMovementResponse struct {
	Transactions []InventoryTransaction `json:"transactions"`
}

type StockCountResponse struct {
	CountID      string                 `json:"count_id"`
	Adjustments  []StockCountAdjustment `json:"adjustments"`
	Transactions []InventoryTransaction `json:"transactions"`
	CreatedAt    time.Time              `json:"created_at"`
}

type Customer struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Email           string     `json:"email,omitempty"`
	Phone           string     `json:"phone,omitempty"`
	Address         string     `json:"address,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	LoyaltyPoints   int64      `json:"loyalty_points"`
	TotalSpentCents int64      `json:"total_spent_cents"`
	VisitCount      int        `json:"visit_count"`
	LastPurchaseAt  *time.Time `json:"last_purchase_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type CustomerFilter struct {
	Query  string
	Limit  int
	Offset int
}

type CustomerRequest struct {
	Name    *string `json:"name,omitempty"`
	Email   *string `json:"email,omitempty"`
	Phone   *string `json:"phone,omitempty"`
	Address *string `json:"address,omitempty"`
	Notes   *string `json:"notes,omitempty"`
}

type Sale struct {
	ID                  string     `json:"id"`
	Number              string     `json:"number"`
	Channel             string     `json:"channel"`
	Status              string     `json:"status"`
	CustomerID          string     `json:"customer_id,omitempty"`
	CashierUsername     string     `json:"cashier_username,omitempty"`
	TerminalID          string     `json:"terminal_id,omitempty"`
	IdempotencyKey      string     `json:"idempotency_key,omitempty"`
	PaymentMethod       string     `json:"payment_method"`
	PaymentReference    string     `json:"payment_reference,omitempty"`
	SubtotalCents       int64      `json:"subtotal_cents"`
	DiscountCents       int64      `json:"discount_cents"`
	TaxCents            int64      `json:"tax_cents"`
	TotalCents          int64      `json:"total_cents"`
	AmountPaidCents     int64      `json:"amount_paid_cents"`
	ChangeCents         int64      `json:"change_cents"`
	RefundedCents       int64      `json:"refunded_cents"`
	LoyaltyPointsEarned int64      `json:"loyalty_points_earned"`
	TaxInclusive        bool       `json:"tax_inclusive"`
	Notes               string     `json:"notes,omitempty"`
	CancelReason        string     `json:"cancel_reason,omitempty"`
	Items               []SaleItem `json:"items"`
	CreatedAt           time.Time  `json:"created_at"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	CancelledAt         *time.Time `json:"cancelled_at,omitempty"`
}

// Counted reports whether the sale contributes to revenue figures.
func (s Sale) Counted() bool {
	return s.Status == SaleStatusCompleted || s.Status == SaleStatusRefunded
}

// SaleItem snapshots the product at the time of sale.
type SaleItem struct {
	ID             string `json:"id"`
	ProductID      string `json:"product_id"`
	SKU            string `json:"sku"`
	Name           string `json:"name"`
	Category       string `json:"category"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	UnitCostCents  int64  `json:"unit_cost_cents"`
	DiscountCents  int64  `json:"discount_cents"`
	NetCents       int64  `json:"net_cents"`
	TaxCents       int64  `json:"tax_cents"`
	TotalCents     int64  `json:"total_cents"`
	ReturnedQty    int    `json:"returned_qty"`
	RefundedCents  int64  `json:"refunded_cents"`
}

type SaleFilter struct {
	Status     string
	Channel    string
	CustomerID string
	Cashier    string
	Number     string
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}

// SalePayment settles a pending sale.
type SalePayment struct {
	Method          string
	Reference       string
	AmountPaidCents int64
	ChangeCents     int64
	LoyaltyPoints   int64
	CompletedAt     time.Time
}

type SaleReturn struct {
	ID          string           `json:"id"`
	SaleID      string           `json:"sale_id"`
	Items       []SaleReturnItem `json:"items"`
	RefundCents int64            `json:"refund_cents"`
	Reason      string           `json:"reason,omitempty"`
	CreatedBy   string           `json:"created_by,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

type SaleReturnItem struct {
	SaleItemID  string `json:"sale_item_id"`
	ProductID   string `json:"product_id"`
	Qty         int    `json:"qty"`
	RefundCents int64  `json:"refund_cents"`
}

type CartItem struct {
	ProductID     string `json:"product_id,omitempty"`
	SKU           string `json:"sku,omitempty"`
	Qty           int    `json:"qty"`
	DiscountCents int64  `json:"discount_cents,omitempty"`
}

type CartDiscount struct {
	Type  string  `json:"type"`
	Value float64 `json:"value"`
}

type QuoteRequest struct {
	Items    []CartItem    `json:"items"`
	Discount *CartDiscount `json:"discount,omitempty"`
}

type QuoteLine struct {
	ProductID         string `json:"product_id"`
	SKU               string `json:"sku"`
	Name              string `json:"name"`
	Qty               int    `json:"qty"`
	UnitPriceCents    int64  `json:"unit_price_cents"`
	GrossCents        int64  `json:"gross_cents"`
	LineDiscountCents int64  `json:"line_discount_cents"`
	CartDiscountCents int64  `json:"cart_discount_cents"`
	NetCents          int64  `json:"net_cents"`
	TaxCents          int64  `json:"tax_cents"`
	TotalCents        int64  `json:"total_cents"`
	InStock           bool   `json:"in_stock"`
}

type QuoteResponse struct {
	Lines          []QuoteLine `json:"lines"`
	SubtotalCents  int64       `json:"subtotal_cents"`
	DiscountCents  int64       `json:"discount_cents"`
	TaxCents       int64       `json:"tax_cents"`
	TotalCents     int64       `json:"total_cents"`
	TaxRatePercent float64     `json:"tax_rate_percent"`
	TaxInclusive   bool        `json:"tax_inclusive"`
	Currency       string      `json:"currency"`
}

type CheckoutRequest struct {
	TerminalID       string        `json:"terminal_id,omitempty"`
	IdempotencyKey   string        `json:"idempotency_key,omitempty"`
	CustomerID       string        `json:"customer_id,omitempty"`
	Items            []CartItem    `json:"items"`
	Discount         *CartDiscount `json:"discount,omitempty"`
	PaymentMethod    string        `json:"payment_method"`
	PaymentReference string        `json:"payment_reference,omitempty"`
	AmountPaidCents  int64         `json:"amount_paid_cents"`
	Notes            string        `json:"notes,omitempty"`
	ManagerPIN       string        `json:"manager_pin,omitempty"`
}

type HoldRequest struct {
	TerminalID     string        `json:"terminal_id,omitempty"`
	IdempotencyKey string        `json:"idempotency_key,omitempty"`
	CustomerID     string        `json:"customer_id,omitempty"`
	Items          []CartItem    `json:"items"`
	Discount       *CartDiscount `json:"discount,omitempty"`
	Notes          string        `json:"notes,omitempty"`
	ManagerPIN     string        `json:"manager_pin,omitempty"`
}

type SaleResponse struct {
	Sale      Sale `json:"sale"`
	Duplicate bool `json:"duplicate"`
}

type CompleteSaleRequest struct {
	PaymentMethod    string `json:"payment_method"`
	PaymentReference string `json:"payment_reference,omitempty"`
	AmountPaidCents  int64  `json:"amount_paid_cents"`
}

type CancelSaleRequest struct {
	Reason     string `json:"reason"`
	ManagerPIN string `json:"manager_pin,omitempty"`
}

type ReturnRequest struct {
	Items      []ReturnLine `json:"items"`
	Reason     string       `json:"reason,omitempty"`
	ManagerPIN string       `json:"manager_pin,omitempty"`
}

type ReturnLine struct {
	SaleItemID string `json:"sale_item_id"`
	Qty        int    `json:"qty"`
}

type ReturnResponse struct {
	Sale   Sale       `json:"sale"`
	Return SaleReturn `json:"return"`
}

type SaleListResponse struct {
	Sales []Sale `json:"sales"`
	Count int    `json:"count"`
}

type OfflineTransaction struct {
	ClientTransactionID string          `json:"client_transaction_id"`
	Checkout            CheckoutRequest `json:"checkout"`
}

type OfflineSyncRequest struct {
	TerminalID   string               `json:"terminal_id"`
	EnvelopeID   string               `json:"envelope_id"`
	Transactions []OfflineTransaction `json:"transactions"`
}

type OfflineSyncStatus struct {
	ClientTransactionID string `json:"client_transaction_id"`
	Status              string `json:"status"`
	Reason              string `json:"reason,omitempty"`
	SaleID              string `json:"sale_id,omitempty"`
	SaleNumber          string `json:"sale_number,omitempty"`
}

type OfflineSyncResponse struct {
	EnvelopeID string              `json:"envelope_id"`
	Statuses   []OfflineSyncStatus `json:"statuses"`
}

type ScanKeystroke struct {
	Key      string `json:"key"`
	OffsetMS int64  `json:"offset_ms"`
}

type ScanRequest struct {
	Keystrokes []ScanKeystroke `json:"keystrokes,omitempty"`
	Codes      []string        `json:"codes,omitempty"`
}

type ScanResult struct {
	Code       string   `json:"code"`
	Symbology  string   `json:"symbology"`
	CheckValid bool     `json:"check_valid"`
	Found      bool     `json:"found"`
	Product    *Product `json:"product,omitempty"`
}

type ScanResponse struct {
	Results []ScanResult `json:"results"`
}

// Settings is the typed view of the key/value settings table.
type Settings struct {
	StoreName                 string  `json:"store_name" yaml:"store_name"`
	StoreAddress              string  `json:"store_address" yaml:"store_address"`
	StorePhone                string  `json:"store_phone" yaml:"store_phone"`
	StoreEmail                string  `json:"store_email" yaml:"store_email"`
	Currency                  string  `json:"currency" yaml:"currency"`
	TaxRatePercent            float64 `json:"tax_rate_percent" yaml:"tax_rate_percent"`
	TaxInclusive              bool    `json:"tax_inclusive" yaml:"tax_inclusive"`
	ReceiptFooter             string  `json:"receipt_footer" yaml:"receipt_footer"`
	LowStockThreshold         int     `json:"low_stock_threshold" yaml:"low_stock_threshold"`
	LoyaltyEnabled            bool    `json:"loyalty_enabled" yaml:"loyalty_enabled"`
	LoyaltySpendPerPointCents int64   `json:"loyalty_spend_per_point_cents" yaml:"loyalty_spend_per_point_cents"`
	MaxCashierDiscountPercent float64 `json:"max_cashier_discount_percent" yaml:"max_cashier_discount_percent"`
	StorefrontEnabled         bool    `json:"storefront_enabled" yaml:"storefront_enabled"`
	Timezone                  string  `json:"timezone" yaml:"timezone"`
}

type SettingsUpdateRequest struct {
	StoreName                 *string  `json:"store_name,omitempty"`
	StoreAddress              *string  `json:"store_address,omitempty"`
	StorePhone                *string  `json:"store_phone,omitempty"`
	StoreEmail                *string  `json:"store_email,omitempty"`
	Currency                  *string  `json:"currency,omitempty"`
	TaxRatePercent            *float64 `json:"tax_rate_percent,omitempty"`
	TaxInclusive              *bool    `json:"tax_inclusive,omitempty"`
	ReceiptFooter             *string  `json:"receipt_footer,omitempty"`
	LowStockThreshold         *int     `json:"low_stock_threshold,omitempty"`
	LoyaltyEnabled            *bool    `json:"loyalty_enabled,omitempty"`
	LoyaltySpendPerPointCents *int64   `json:"loyalty_spend_per_point_cents,omitempty"`
	MaxCashierDiscountPercent *float64 `json:"max_cashier_discount_percent,omitempty"`
	StorefrontEnabled         *bool    `json:"storefront_enabled,omitempty"`
	Timezone                  *string  `json:"timezone,omitempty"`
}

type StoreInfo struct {
	Name          string  `json:"name"`
	Address       string  `json:"address,omitempty"`
	Phone         string  `json:"phone,omitempty"`
	Email         string  `json:"email,omitempty"`
	Currency      string  `json:"currency"`
	TaxRate       float64 `json:"tax_rate_percent"`
	TaxInclusive  bool    `json:"tax_inclusive"`
	ReceiptFooter string  `json:"receipt_footer,omitempty"`
}

// StoreProduct is the storefront view of a product; cost and exact stock stay private.
type StoreProduct struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category"`
	Unit        string `json:"unit"`
	ImageURL    string `json:"image_url,omitempty"`
	PriceCents  int64  `json:"price_cents"`
	InStock     bool   `json:"in_stock"`
}

type StoreOrderRequest struct {
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
	Name           string     `json:"name"`
	Email          string     `json:"email"`
	Phone          string     `json:"phone,omitempty"`
	Address        string     `json:"address,omitempty"`
	PaymentMethod  string     `json:"payment_method"`
	Notes          string     `json:"notes,omitempty"`
	Items          []CartItem `json:"items"`
}

type StoreOrderLine struct {
	Name           string `json:"name"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	TotalCents     int64  `json:"total_cents"`
}

type StoreOrder struct {
	Number        string           `json:"number"`
	Status        string           `json:"status"`
	PaymentMethod string           `json:"payment_method"`
	SubtotalCents int64            `json:"subtotal_cents"`
	DiscountCents int64            `json:"discount_cents"`
	TaxCents      int64            `json:"tax_cents"`
	TotalCents    int64            `json:"total_cents"`
	Lines         []StoreOrderLine `json:"lines"`
	CreatedAt     time.Time        `json:"created_at"`
}

type DashboardSummary struct {
	Date           string          `json:"date"`
	Today          SalesTotals     `json:"today"`
	Trend          []PeriodTotals  `json:"trend"`
	TopProducts    []ProductTotals `json:"top_products"`
	LowStock       []Product       `json:"low_stock"`
	RecentSales    []Sale          `json:"recent_sales"`
	PendingOrders  int             `json:"pending_orders"`
	ProductCount   int             `json:"product_count"`
	InventoryValue int64           `json:"inventory_value_cents"`
}

type SalesTotals struct {
	Orders            int   `json:"orders"`
	ItemsSold         int   `json:"items_sold"`
	GrossCents        int64 `json:"gross_cents"`
	DiscountCents     int64 `json:"discount_cents"`
	TaxCents          int64 `json:"tax_cents"`
	RefundedCents     int64 `json:"refunded_cents"`
	NetSalesCents     int64 `json:"net_sales_cents"`
	CostCents         int64 `json:"cost_cents"`
	ProfitCents       int64 `json:"profit_cents"`
	AverageOrderCents int64 `json:"average_order_cents"`
}

type PeriodTotals struct {
	Period string `json:"period"`
	SalesTotals
}

type ProductTotals struct {
	ProductID    string `json:"product_id"`
	SKU          string `json:"sku"`
	Name         string `json:"name"`
	Category     string `json:"category"`
	QtySold      int    `json:"qty_sold"`
	RevenueCents int64  `json:"revenue_cents"`
	CostCents    int64  `json:"cost_cents"`
	ProfitCents  int64  `json:"profit_cents"`
}

type GroupTotals struct {
	Key          string `json:"key"`
	Orders       int    `json:"orders"`
	RevenueCents int64  `json:"revenue_cents"`
	ProfitCents  int64  `json:"profit_cents"`
}

type ValuationRow struct {
	ProductID        string `json:"product_id"`
	SKU              string `json:"sku"`
	Name             string `json:"name"`
	Category         string `json:"category"`
	StockQuantity    int    `json:"stock_quantity"`
	CostCents        int64  `json:"cost_cents"`
	PriceCents       int64  `json:"price_cents"`
	CostValueCents   int64  `json:"cost_value_cents"`
	RetailValueCents int64  `json:"retail_value_cents"`
	LowStock         bool   `json:"low_stock"`
}

type InventoryValuation struct {
	Rows             []ValuationRow `json:"rows"`
	TotalUnits       int            `json:"total_units"`
	CostValueCents   int64          `json:"cost_value_cents"`
	RetailValueCents int64          `json:"retail_value_cents"`
	LowStockCount    int            `json:"low_stock_count"`
}

type ReportQuery struct {
	From   time.Time
	To     time.Time
	Period string
	Limit  int
}

type LedgerDiscrepancy struct {
	Kind          string `json:"kind"`
	TransactionID string `json:"transaction_id,omitempty"`
	Expected      int    `json:"expected"`
	Actual        int    `json:"actual"`
}

type LedgerReport struct {
	ProductID    string              `json:"product_id"`
	SKU          string              `json:"sku"`
	Entries      int                 `json:"entries"`
	CurrentStock int                 `json:"current_stock"`
	LedgerStock  int                 `json:"ledger_stock"`
	Balanced     bool                `json:"balanced"`
	Issues       []LedgerDiscrepancy `json:"issues,omitempty"`
}

type ReconcileResponse struct {
	Reports    []LedgerReport `json:"reports"`
	Unbalanced int            `json:"unbalanced"`
	CheckedAt  time.Time      `json:"checked_at"`
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

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
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
