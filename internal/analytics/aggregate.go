package analytics

import (
	"sort"
	"time"

	"possale/backend/internal/domain"
)

// BucketStart returns the UTC start of the period containing t. Weeks start
// on Monday.
func BucketStart(t time.Time, g domain.Granularity) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	switch g {
	case domain.GranularityWeek:
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case domain.GranularityMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return day
	}
}

func NextBucket(start time.Time, g domain.Granularity) time.Time {
	switch g {
	case domain.GranularityWeek:
		return start.AddDate(0, 0, 7)
	case domain.GranularityMonth:
		return start.AddDate(0, 1, 0)
	default:
		return start.AddDate(0, 0, 1)
	}
}

// Bucketize groups sales by period, oldest first. With fill set, every
// period between from and to is present even when it has no sales.
func Bucketize(sales []domain.Sale, g domain.Granularity, from, to time.Time, fill bool) []domain.SalesBucket {
	byStart := make(map[time.Time]*domain.SalesBucket)
	for _, sale := range sales {
		start := BucketStart(sale.CreatedAt, g)
		b, ok := byStart[start]
		if !ok {
			b = &domain.SalesBucket{Start: start}
			byStart[start] = b
		}
		b.Count++
		b.TotalCents += sale.TotalCents
		b.TaxCents += sale.TaxCents
		b.DiscountCents += sale.DiscountCents
	}

	if fill && !from.IsZero() && !to.IsZero() {
		for start := BucketStart(from, g); start.Before(to); start = NextBucket(start, g) {
			if _, ok := byStart[start]; !ok {
				byStart[start] = &domain.SalesBucket{Start: start}
			}
		}
	}

	buckets := make([]domain.SalesBucket, 0, len(byStart))
	for _, b := range byStart {
		if b.Count > 0 {
			b.AverageCents = b.TotalCents / b.Count
		}
		buckets = append(buckets, *b)
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].Start.Before(buckets[j].Start)
	})
	return buckets
}

// TopProducts ranks products by units sold, then revenue, then id.
func TopProducts(sales []domain.Sale, n int) []domain.TopProduct {
	byID := make(map[int64]*domain.TopProduct)
	for _, sale := range sales {
		for _, line := range sale.Lines {
			p, ok := byID[line.ProductID]
			if !ok {
				p = &domain.TopProduct{ProductID: line.ProductID}
				byID[line.ProductID] = p
			}
			p.Name = line.ProductName
			p.Quantity += int64(line.Quantity)
			p.RevenueCents += line.SubtotalCents
		}
	}

	out := make([]domain.TopProduct, 0, len(byID))
	for _, p := range byID {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Quantity != out[j].Quantity {
			return out[i].Quantity > out[j].Quantity
		}
		if out[i].RevenueCents != out[j].RevenueCents {
			return out[i].RevenueCents > out[j].RevenueCents
		}
		return out[i].ProductID < out[j].ProductID
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func PaymentBreakdown(sales []domain.Sale) []domain.PaymentBreakdown {
	byMethod := make(map[string]*domain.PaymentBreakdown)
	for _, sale := range sales {
		p, ok := byMethod[sale.PaymentMethod]
		if !ok {
			p = &domain.PaymentBreakdown{PaymentMethod: sale.PaymentMethod}
			byMethod[sale.PaymentMethod] = p
		}
		p.Count++
		p.TotalCents += sale.TotalCents
	}

	out := make([]domain.PaymentBreakdown, 0, len(byMethod))
	for _, p := range byMethod {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].PaymentMethod < out[j].PaymentMethod
	})
	return out
}

// HourlyDistribution always returns 24 buckets indexed by UTC hour.
func HourlyDistribution(sales []domain.Sale) []domain.HourlyBucket {
	out := make([]domain.HourlyBucket, 24)
	for h := range out {
		out[h].Hour = h
	}
	for _, sale := range sales {
		b := &out[sale.CreatedAt.UTC().Hour()]
		b.Count++
		b.ItemsSold += int64(sale.ItemCount())
		b.TotalCents += sale.TotalCents
	}
	return out
}

func totals(sales []domain.Sale) (count int64, revenue int64) {
	for _, sale := range sales {
		count++
		revenue += sale.TotalCents
	}
	return count, revenue
}
