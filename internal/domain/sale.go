package domain

import (
	"math"
	"time"
)

// BuildSale turns a cart and the product snapshots resolved for it into a
// draft sale. It performs no I/O; totals are always derived from the lines.
func BuildSale(cart Cart, products map[int64]Product, now time.Time) (Sale, error) {
	items, err := MergeItems(cart.Items)
	if err != nil {
		return Sale{}, err
	}
	if cart.DiscountCents < 0 {
		return Sale{}, NewValidationError("discount must not be negative")
	}

	lines := make([]SaleLine, 0, len(items))
	for _, item := range items {
		product, ok := products[item.ProductID]
		if !ok {
			return Sale{}, NewProductNotFound(item.ProductID)
		}
		lines = append(lines, NewSaleLine(product, item.Quantity))
	}

	sale := Sale{
		CustomerID:     cart.CustomerID,
		CreatedBy:      cart.ActorID,
		LocationID:     cart.LocationID,
		IdempotencyKey: cart.IdempotencyKey,
		Lines:          lines,
		DiscountCents:  cart.DiscountCents,
		PaymentMethod:  cart.PaymentMethod,
		Notes:          cart.Notes,
		Status:         SaleStatusCompleted,
		CreatedAt:      now.UTC(),
	}
	sale.Recompute()

	if sale.DiscountCents > sale.SubtotalCents+sale.TaxCents {
		return Sale{}, NewValidationError("discount %d exceeds subtotal plus tax %d", sale.DiscountCents, sale.SubtotalCents+sale.TaxCents)
	}
	return sale, nil
}

// MergeItems validates cart items and folds repeated product ids into a single
// item, keeping the order in which each product first appeared.
func MergeItems(items []CartItem) ([]CartItem, error) {
	if len(items) == 0 {
		return nil, NewValidationError("cart has no items")
	}

	index := make(map[int64]int, len(items))
	merged := make([]CartItem, 0, len(items))
	for _, item := range items {
		if item.ProductID <= 0 {
			return nil, NewValidationError("invalid product id %d", item.ProductID)
		}
		if item.Quantity < 1 {
			return nil, NewValidationError("quantity for product %d must be at least 1", item.ProductID)
		}
		if i, ok := index[item.ProductID]; ok {
			merged[i].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}
	return merged, nil
}

func NewSaleLine(product Product, qty int) SaleLine {
	line := SaleLine{
		ProductID:      product.ID,
		ProductName:    product.Name,
		Quantity:       qty,
		UnitPriceCents: product.PriceCents,
		TaxRatePercent: product.TaxRatePercent,
	}
	line.SubtotalCents = int64(qty) * product.PriceCents
	line.TaxCents = lineTax(line.SubtotalCents, product.TaxRatePercent)
	return line
}

func lineTax(subtotalCents int64, ratePercent float64) int64 {
	return int64(math.Round(float64(subtotalCents) * ratePercent / 100))
}

// Recompute re-derives every line amount and the header totals from line
// quantities and snapshot prices.
func (s *Sale) Recompute() {
	var subtotal, tax int64
	for i := range s.Lines {
		line := &s.Lines[i]
		line.SubtotalCents = int64(line.Quantity) * line.UnitPriceCents
		line.TaxCents = lineTax(line.SubtotalCents, line.TaxRatePercent)
		subtotal += line.SubtotalCents
		tax += line.TaxCents
	}
	s.SubtotalCents = subtotal
	s.TaxCents = tax
	s.TotalCents = subtotal + tax - s.DiscountCents
}

// TotalsConsistent reports whether the stored header totals match what the
// lines produce.
func (s Sale) TotalsConsistent() bool {
	check := s
	check.Lines = append([]SaleLine(nil), s.Lines...)
	check.Recompute()
	return check.SubtotalCents == s.SubtotalCents &&
		check.TaxCents == s.TaxCents &&
		check.TotalCents == s.TotalCents
}

// LoyaltyPoints is the accrual policy: one point per full divisor of the sale
// total. A non-positive divisor disables accrual.
func LoyaltyPoints(totalCents int64, divisor int64) int64 {
	if divisor <= 0 || totalCents <= 0 {
		return 0
	}
	return totalCents / divisor
}
