package domain

import "time"

type Store struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

type StoreCreateRequest struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
	// Optional manager account created together with the store.
	ManagerName     string `json:"manager_name,omitempty"`
	ManagerEmail    string `json:"manager_email,omitempty"`
	ManagerPassword string `json:"manager_password,omitempty"`
}

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	StoreID      string    `json:"store_id,omitempty"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

type EmployeeCreateRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
	StoreID  string `json:"store_id"`
}

type Actor struct {
	UserID  string
	Role    string
	StoreID string
}

type Product struct {
	ID         string    `json:"id"`
	StoreID    string    `json:"store_id"`
	Name       string    `json:"name"`
	SKU        string    `json:"sku"`
	Barcode    string    `json:"barcode,omitempty"`
	Category   string    `json:"category,omitempty"`
	PriceCents int64     `json:"price_cents"`
	CostCents  int64     `json:"cost_cents"`
	Quantity   int       `json:"quantity"`
	MinStock   int       `json:"min_stock"`
	CreatedAt  time.Time `json:"created_at"`
}

type ProductCreateRequest struct {
	StoreID    string `json:"store_id"`
	Name       string `json:"name"`
	SKU        string `json:"sku"`
	Barcode    string `json:"barcode,omitempty"`
	Category   string `json:"category,omitempty"`
	PriceCents int64  `json:"price_cents"`
	CostCents  int64  `json:"cost_cents"`
	Quantity   int    `json:"quantity"`
	MinStock   int    `json:"min_stock"`
}

type ProductUpdateRequest struct {
	Name       *string `json:"name,omitempty"`
	Barcode    *string `json:"barcode,omitempty"`
	Category   *string `json:"category,omitempty"`
	PriceCents *int64  `json:"price_cents,omitempty"`
	CostCents  *int64  `json:"cost_cents,omitempty"`
	MinStock   *int    `json:"min_stock,omitempty"`
}

type CartItem struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type SaleInput struct {
	Items         []CartItem `json:"items"`
	CustomerName  string     `json:"customer_name,omitempty"`
	CustomerPhone string     `json:"customer_phone,omitempty"`
	PaymentMethod string     `json:"payment_method"`
}

type SaleItem struct {
	ID         string `json:"id"`
	ProductID  string `json:"product_id"`
	Name       string `json:"name"`
	SKU        string `json:"sku"`
	Quantity   int    `json:"quantity"`
	PriceCents int64  `json:"price_cents"`
	TotalCents int64  `json:"total_cents"`
}

type Sale struct {
	ID            string     `json:"id"`
	Number        string     `json:"number"`
	StoreID       string     `json:"store_id"`
	CashierID     string     `json:"cashier_id"`
	CustomerName  string     `json:"customer_name,omitempty"`
	CustomerPhone string     `json:"customer_phone,omitempty"`
	PaymentMethod string     `json:"payment_method"`
	Status        string     `json:"status"`
	SubtotalCents int64      `json:"subtotal_cents"`
	TaxCents      int64      `json:"tax_cents"`
	FeeCents      int64      `json:"fee_cents"`
	TotalCents    int64      `json:"total_cents"`
	Items         []SaleItem `json:"items"`
	CreatedAt     time.Time  `json:"created_at"`
}

type ReturnLine struct {
	SaleItemID string `json:"sale_item_id"`
	Qty        int    `json:"qty"`
}

type ReturnInput struct {
	SaleID string       `json:"sale_id"`
	Items  []ReturnLine `json:"items"`
	Reason string       `json:"reason"`
}

type ReturnItem struct {
	ID          string `json:"id"`
	SaleItemID  string `json:"sale_item_id"`
	ProductID   string `json:"product_id"`
	Quantity    int    `json:"quantity"`
	RefundCents int64  `json:"refund_cents"`
}

type Return struct {
	ID              string       `json:"id"`
	Number          string       `json:"number"`
	SaleID          string       `json:"sale_id"`
	StoreID         string       `json:"store_id"`
	ProcessedBy     string       `json:"processed_by"`
	Reason          string       `json:"reason"`
	RefundCents     int64        `json:"refund_cents"`
	RestockFeeCents int64        `json:"restock_fee_cents"`
	NetRefundCents  int64        `json:"net_refund_cents"`
	Items           []ReturnItem `json:"items"`
	// SaleStatus is the status the sale ended up with after this return
	// was applied. Set on creation, derived, not stored on the return row.
	SaleStatus string    `json:"sale_status,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Settings is the deployment-wide singleton row. TaxRateBP is the sales tax
// rate in basis points, so 500 means 5%.
type Settings struct {
	ID        string    `json:"id"`
	StoreName string    `json:"store_name"`
	TaxRateBP int64     `json:"tax_rate_bp"`
	FeeCents  int64     `json:"fee_cents"`
	Currency  string    `json:"currency"`
	UpdatedAt time.Time `json:"updated_at"`
}

type SettingsUpdateRequest struct {
	StoreName *string `json:"store_name,omitempty"`
	TaxRateBP *int64  `json:"tax_rate_bp,omitempty"`
	FeeCents  *int64  `json:"fee_cents,omitempty"`
	Currency  *string `json:"currency,omitempty"`
}

type StockAdjustment struct {
	ProductID string `json:"product_id"`
	Delta     int    `json:"delta"`
	Note      string `json:"note,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	StoreID     string `json:"store_id,omitempty"`
	ExpiresAt   string `json:"expires_at"`
}

type AuditLog struct {
	ID         string    `json:"id"`
	StoreID    string    `json:"store_id"`
	ActorID    string    `json:"actor_id"`
	ActorRole  string    `json:"actor_role"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
}

const (
	RoleAdmin    = "ADMIN"
	RoleManager  = "STORE_MANAGER"
	RoleEmployee = "EMPLOYEE"
)

const (
	PaymentCash   = "CASH"
	PaymentCard   = "CARD"
	PaymentMobile = "MOBILE"
)

const (
	SaleStatusCompleted     = "COMPLETED"
	SaleStatusPartialReturn = "PARTIAL_RETURN"
	SaleStatusReturned      = "RETURNED"
)

// ValidPaymentMethod reports whether m is one of the accepted payment kinds.
func ValidPaymentMethod(m string) bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentMobile:
		return true
	}
	return false
}

// ValidRole reports whether r names a known user role.
func ValidRole(r string) bool {
	switch r {
	case RoleAdmin, RoleManager, RoleEmployee:
		return true
	}
	return false
}

// ReorderSuggestion is a restock hint for a product that is at or
// below its minimum stock level.
type ReorderSuggestion struct {
	ProductID              string  `json:"product_id"`
	Name                   string  `json:"name"`
	SKU                    string  `json:"sku"`
	Category               string  `json:"category"`
	CurrentStock           int     `json:"current_stock"`
	MinStock               int     `json:"min_stock"`
	DailySalesRate         float64 `json:"daily_sales_rate"`
	RecommendedQty         int     `json:"recommended_qty"`
	EstimatedPurchaseCents int64   `json:"estimated_purchase_cents"`
}
