package stock

import (
	"context"
	"time"

	"possale/backend/internal/domain"
	"possale/backend/internal/store"
)

// Ledger owns on-hand quantities. Reads go through the repository; every
// change happens inside a caller's unit and leaves a movement row behind.
type Ledger struct {
	repo store.Repository
	now  func() time.Time
}

func NewLedger(repo store.Repository) *Ledger {
	return &Ledger{repo: repo, now: time.Now}
}

func (l *Ledger) CheckAvailability(ctx context.Context, productID int64, qty int) (domain.Availability, error) {
	if qty < 1 {
		return domain.Availability{}, domain.NewValidationError("quantity must be at least 1")
	}
	products, err := l.repo.GetProducts(ctx, []int64{productID})
	if err != nil {
		return domain.Availability{}, domain.WithOp("check availability", err)
	}
	product, ok := products[productID]
	if !ok {
		return domain.Availability{}, domain.NewProductNotFound(productID)
	}
	return domain.Availability{
		ProductID:    productID,
		Requested:    qty,
		Available:    product.Quantity >= qty,
		CurrentStock: product.Quantity,
	}, nil
}

// Decrement removes qty inside tx. A concurrent unit that already consumed the
// stock makes this fail with insufficient_stock carrying the current quantity.
func (l *Ledger) Decrement(ctx context.Context, tx store.Tx, saleID string, productID int64, qty int) error {
	before, err := tx.DecrementStock(ctx, productID, qty)
	if err != nil {
		return err
	}
	return tx.RecordMovement(ctx, domain.StockMovement{
		ProductID: productID,
		SaleID:    saleID,
		Delta:     -qty,
		Before:    before,
		After:     before - qty,
		Reason:    domain.MovementReasonSale,
		CreatedAt: l.now().UTC(),
	})
}

func (l *Ledger) Restore(ctx context.Context, tx store.Tx, saleID string, productID int64, qty int) error {
	before, err := tx.RestoreStock(ctx, productID, qty)
	if err != nil {
		return err
	}
	return tx.RecordMovement(ctx, domain.StockMovement{
		ProductID: productID,
		SaleID:    saleID,
		Delta:     qty,
		Before:    before,
		After:     before + qty,
		Reason:    domain.MovementReasonVoid,
		CreatedAt: l.now().UTC(),
	})
}

func (l *Ledger) LowStock(ctx context.Context, limit int) ([]domain.Product, error) {
	products, err := l.repo.ListLowStock(ctx, limit)
	if err != nil {
		return nil, domain.WithOp("low stock", err)
	}
	return products, nil
}
