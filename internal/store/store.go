package store

import (
	"context"
	"errors"
	"time"

	"possale/backend/internal/domain"
)

// ErrDuplicateIdempotencyKey is returned by Tx.InsertSale when another sale
// already holds the same idempotency key.
var ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

type SaleFilter struct {
	From          time.Time
	To            time.Time
	IncludeVoided bool
	Status        string
	Limit         int
}

// Matches applies the filter to a single sale. Zero From/To are unbounded;
// To is exclusive.
func (f SaleFilter) Matches(sale domain.Sale) bool {
	if !f.From.IsZero() && sale.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !sale.CreatedAt.Before(f.To) {
		return false
	}
	if f.Status != "" {
		return sale.Status == f.Status
	}
	if !f.IncludeVoided && sale.IsVoided() {
		return false
	}
	return true
}

type Repository interface {
	GetProducts(ctx context.Context, ids []int64) (map[int64]domain.Product, error)
	ListLowStock(ctx context.Context, limit int) ([]domain.Product, error)
	FindSale(ctx context.Context, id string) (*domain.Sale, error)
	FindSaleByIdempotencyKey(ctx context.Context, key string) (*domain.Sale, error)
	// ListSales returns committed sales newest first.
	ListSales(ctx context.Context, filter SaleFilter) ([]domain.Sale, error)
	// WithinTx runs fn inside one atomic unit. The unit commits when fn
	// returns nil and rolls back on error or panic.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of writes permitted inside an atomic unit.
type Tx interface {
	// DecrementStock subtracts qty only if the current quantity covers it and
	// returns the quantity before the change. On shortfall it returns an
	// insufficient_stock error carrying the current quantity.
	DecrementStock(ctx context.Context, productID int64, qty int) (int, error)
	RestoreStock(ctx context.Context, productID int64, qty int) (int, error)
	RecordMovement(ctx context.Context, movement domain.StockMovement) error
	InsertSale(ctx context.Context, sale *domain.Sale) error
	// LockSale reads the sale header and lines and holds its row lock until
	// the unit ends.
	LockSale(ctx context.Context, id string) (*domain.Sale, error)
	MarkSaleVoided(ctx context.Context, id string, reason string, actor string, at time.Time) error
	AccrueLoyaltyPoints(ctx context.Context, customerID int64, points int64) error
}
