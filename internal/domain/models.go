package domain

import "time"

type Product struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	Category       string  `json:"category"`
	PriceCents     int64   `json:"price_cents"`
	Quantity       int     `json:"quantity"`
	MinStock       int     `json:"min_stock"`
	TaxRatePercent float64 `json:"tax_rate_percent"`
	LocationID     int64   `json:"location_id"`
	Active         bool    `json:"active"`
}

func (p Product) IsLowStock() bool {
	return p.Quantity <= p.MinStock
}

type Availability struct {
	ProductID    int64 `json:"product_id"`
	Requested    int   `json:"requested"`
	Available    bool  `json:"available"`
	CurrentStock int   `json:"current_stock"`
}

type CartItem struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// Cart is the caller-supplied input for a sale. It deliberately carries no
// totals; those are always derived from resolved product snapshots.
type Cart struct {
	CustomerID     *int64     `json:"customer_id,omitempty"`
	Items          []CartItem `json:"items"`
	PaymentMethod  string     `json:"payment_method"`
	DiscountCents  int64      `json:"discount_cents"`
	Notes          string     `json:"notes,omitempty"`
	ActorID        string     `json:"actor_id"`
	LocationID     int64      `json:"location_id"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
}

type SaleLine struct {
	ProductID      int64   `json:"product_id"`
	ProductName    string  `json:"product_name"`
	Quantity       int     `json:"quantity"`
	UnitPriceCents int64   `json:"unit_price_cents"`
	TaxRatePercent float64 `json:"tax_rate_percent"`
	SubtotalCents  int64   `json:"subtotal_cents"`
	TaxCents       int64   `json:"tax_cents"`
}

type Sale struct {
	ID             string     `json:"id"`
	CustomerID     *int64     `json:"customer_id,omitempty"`
	CreatedBy      string     `json:"created_by"`
	LocationID     int64      `json:"location_id"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
	Lines          []SaleLine `json:"lines"`
	SubtotalCents  int64      `json:"subtotal_cents"`
	TaxCents       int64      `json:"tax_cents"`
	DiscountCents  int64      `json:"discount_cents"`
	TotalCents     int64      `json:"total_cents"`
	PaymentMethod  string     `json:"payment_method"`
	Notes          string     `json:"notes,omitempty"`
	LoyaltyPoints  int64      `json:"loyalty_points"`
	Status         string     `json:"status"`
	VoidReason     string     `json:"void_reason,omitempty"`
	VoidedBy       string     `json:"voided_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	VoidedAt       *time.Time `json:"voided_at,omitempty"`
	Duplicate      bool       `json:"duplicate,omitempty"`
}

func (s Sale) IsVoided() bool {
	return s.Status == SaleStatusVoided
}

func (s Sale) ItemCount() int {
	count := 0
	for _, line := range s.Lines {
		count += line.Quantity
	}
	return count
}

// StockMovement is an append-only audit row written in the same atomic unit
// as the quantity change it describes.
type StockMovement struct {
	ID        string    `json:"id"`
	ProductID int64     `json:"product_id"`
	SaleID    string    `json:"sale_id"`
	Delta     int       `json:"delta"`
	Before    int       `json:"before"`
	After     int       `json:"after"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

type VoidRequest struct {
	Reason string `json:"reason"`
}

const (
	SaleStatusCompleted = "completed"
	SaleStatusVoided    = "voided"
)

const (
	MovementReasonSale = "sale"
	MovementReasonVoid = "void"
)

const (
	PaymentCash         = "cash"
	PaymentCard         = "card"
	PaymentUPI          = "upi"
	PaymentBankTransfer = "bank_transfer"
	PaymentWallet       = "wallet"
)

func IsSupportedPaymentMethod(method string) bool {
	switch method {
	case PaymentCash, PaymentCard, PaymentUPI, PaymentBankTransfer, PaymentWallet:
		return true
	default:
		return false
	}
}
