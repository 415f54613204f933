package domain

import "time"

const (
	ProductTypeTangible = "tangible_good"
	ProductTypeService  = "service"
)

const (
	TxStatusProcessing = "processing"
	TxStatusCompleted  = "completed"
	TxStatusShipped    = "shipped"
	TxStatusCancelled  = "cancelled"
)

const (
	PaymentSucceeded = "succeeded"
	PaymentPending   = "pending"
	PaymentFailed    = "failed"
)

// VATRatePercent is the fixed Indonesian VAT rate applied when the tenant is
// a registered taxable entity (PKP).
const VATRatePercent = 11

// ServiceFeePayableAccountName is the ledger account label used to resolve
// the payable account for the platform service fee.
const ServiceFeePayableAccountName = "Utang Biaya Layanan Berez"

type Product struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	Name       string    `json:"name"`
	Type       string    `json:"type"`
	PriceCents int64     `json:"price_cents"`
	CostCents  int64     `json:"cost_cents"`
	StockQty   *int      `json:"stock_qty,omitempty"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

type ProductCreateRequest struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	PriceCents   int64  `json:"price_cents"`
	CostCents    int64  `json:"cost_cents"`
	InitialStock int    `json:"initial_stock"`
}

type ItemAttribute struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// SaleItem is a snapshot of a product at the moment of sale. It is owned by
// the transaction it belongs to; later catalog changes never affect it.
type SaleItem struct {
	ProductID      string          `json:"product_id"`
	ProductName    string          `json:"product_name"`
	ProductType    string          `json:"product_type"`
	Qty            int             `json:"qty"`
	UnitPriceCents int64           `json:"unit_price_cents"`
	CostCents      int64           `json:"cost_cents"`
	Attributes     []ItemAttribute `json:"attributes,omitempty"`
}

// JournalLine is one side of a double-entry posting. Exactly one of
// DebitCents/CreditCents is non-zero. Line order is insertion order and must
// stay reproducible for auditing.
type JournalLine struct {
	AccountID   string `json:"account_id"`
	DebitCents  int64  `json:"debit_cents"`
	CreditCents int64  `json:"credit_cents"`
	Description string `json:"description"`
}

type Account struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

// SaleAccounts holds the resolved ledger account ids a journal was built
// with. Persisted with the transaction so the journal can be rebuilt.
type SaleAccounts struct {
	PaymentAccountID    string `json:"payment_account_id"`
	SalesAccountID      string `json:"sales_account_id"`
	COGSAccountID       string `json:"cogs_account_id"`
	InventoryAccountID  string `json:"inventory_account_id"`
	DiscountAccountID   string `json:"discount_account_id,omitempty"`
	TaxAccountID        string `json:"tax_account_id,omitempty"`
	ServiceFeeAccountID string `json:"service_fee_account_id,omitempty"`
}

type Transaction struct {
	ID              string        `json:"id"`
	TenantID        string        `json:"tenant_id"`
	BranchID        string        `json:"branch_id,omitempty"`
	WarehouseID     string        `json:"warehouse_id,omitempty"`
	Number          string        `json:"number"`
	Type            string        `json:"type"`
	Status          string        `json:"status"`
	PaymentStatus   string        `json:"payment_status"`
	SubtotalCents   int64         `json:"subtotal_cents"`
	DiscountCents   int64         `json:"discount_cents"`
	TaxCents        int64         `json:"tax_cents"`
	ServiceFeeCents int64         `json:"service_fee_cents"`
	TotalCents      int64         `json:"total_cents"`
	PaidCents       int64         `json:"paid_cents"`
	CustomerID      string        `json:"customer_id,omitempty"`
	CustomerName    string        `json:"customer_name,omitempty"`
	PaymentMethod   string        `json:"payment_method"`
	IsTaxableEntity bool          `json:"is_taxable_entity"`
	Items           []SaleItem    `json:"items"`
	Lines           []JournalLine `json:"lines"`
	Accounts        SaleAccounts  `json:"accounts"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

type CreateTransactionRequest struct {
	Items           []SaleItem   `json:"items"`
	SubtotalCents   int64        `json:"subtotal_cents"`
	DiscountCents   int64        `json:"discount_cents"`
	TaxCents        int64        `json:"tax_cents"`
	ServiceFeeCents int64        `json:"service_fee_cents"`
	TotalCents      int64        `json:"total_cents"`
	PaymentMethod   string       `json:"payment_method"`
	PaymentStatus   string       `json:"payment_status,omitempty"`
	CustomerID      string       `json:"customer_id,omitempty"`
	CustomerName    string       `json:"customer_name,omitempty"`
	BranchID        string       `json:"branch_id,omitempty"`
	WarehouseID     string       `json:"warehouse_id,omitempty"`
	IsTaxableEntity bool         `json:"is_taxable_entity"`
	Accounts        SaleAccounts `json:"accounts"`
}

type CreateTransactionResponse struct {
	Success       bool          `json:"success"`
	TransactionID string        `json:"transaction_id"`
	Number        string        `json:"number"`
	Lines         []JournalLine `json:"lines"`
}

// SettleItemEdit describes one cashier edit applied during settlement.
// Qty <= 0 removes the product from the sale; a product not present in the
// original item list is appended with costing defaulted from the catalog.
type SettleItemEdit struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type SettleTransactionRequest struct {
	Edits           []SettleItemEdit `json:"edits"`
	DiscountPercent float64          `json:"discount_percent"`
	PaymentMethod   string           `json:"payment_method"`
	IsTaxableEntity bool             `json:"is_taxable_entity"`
	Accounts        SaleAccounts     `json:"accounts"`
}

// StockAdjustment is a signed quantity delta applied to a product's stock as
// part of an atomic write. Negative consumes stock, positive restores it.
type StockAdjustment struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type RecordPurchaseRequest struct {
	ProductID     string `json:"product_id"`
	Qty           int    `json:"qty"`
	UnitCostCents int64  `json:"unit_cost_cents"`
	BranchID      string `json:"branch_id,omitempty"`
	WarehouseID   string `json:"warehouse_id,omitempty"`
}

type RecordPurchaseResponse struct {
	Success      bool   `json:"success"`
	ProductID    string `json:"product_id"`
	UpdatedStock int    `json:"updated_stock"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	TenantID    string `json:"tenant_id"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
	TenantID string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	TenantID  string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
