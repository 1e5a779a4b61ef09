package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"possale/backend/internal/domain"
)

func at(day, hour int) time.Time {
	return time.Date(2026, time.April, day, hour, 0, 0, 0, time.UTC)
}

func saleAt(id string, when time.Time, method string, lines ...domain.SaleLine) domain.Sale {
	s := domain.Sale{ID: id, CreatedAt: when, PaymentMethod: method, Status: domain.SaleStatusCompleted, Lines: lines}
	s.Recompute()
	return s
}

func line(productID int64, qty int, price int64) domain.SaleLine {
	return domain.SaleLine{ProductID: productID, ProductName: "p", Quantity: qty, UnitPriceCents: price}
}

func TestBucketStartWeekBeginsMonday(t *testing.T) {
	monday := at(6, 0)
	assert.Equal(t, monday, BucketStart(at(8, 15), domain.GranularityWeek))
	assert.Equal(t, monday, BucketStart(at(12, 23), domain.GranularityWeek))
	assert.Equal(t, at(13, 0), BucketStart(at(13, 1), domain.GranularityWeek))
	assert.Equal(t, at(1, 0), BucketStart(at(30, 5), domain.GranularityMonth))
	assert.Equal(t, at(9, 0), BucketStart(at(9, 17), domain.GranularityDay))
}

func TestBucketStartUsesUTC(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	local := time.Date(2026, time.April, 9, 2, 0, 0, 0, ist)
	assert.Equal(t, at(8, 0), BucketStart(local, domain.GranularityDay))
}

func TestBucketize(t *testing.T) {
	sales := []domain.Sale{
		saleAt("a", at(6, 9), domain.PaymentCash, line(1, 1, 100)),
		saleAt("b", at(6, 18), domain.PaymentCard, line(1, 2, 100)),
		saleAt("c", at(8, 10), domain.PaymentCash, line(2, 1, 500)),
	}

	sparse := Bucketize(sales, domain.GranularityDay, at(5, 0), at(9, 0), false)
	require.Len(t, sparse, 2)
	assert.Equal(t, at(6, 0), sparse[0].Start)
	assert.Equal(t, int64(2), sparse[0].Count)
	assert.Equal(t, int64(300), sparse[0].TotalCents)
	assert.Equal(t, int64(150), sparse[0].AverageCents)

	filled := Bucketize(sales, domain.GranularityDay, at(5, 0), at(9, 0), true)
	require.Len(t, filled, 4)
	assert.Equal(t, at(5, 0), filled[0].Start)
	assert.Zero(t, filled[0].Count)
	assert.Equal(t, at(7, 0), filled[2].Start)
	assert.Zero(t, filled[2].TotalCents)

	weekly := Bucketize(sales, domain.GranularityWeek, time.Time{}, time.Time{}, false)
	require.Len(t, weekly, 1)
	assert.Equal(t, int64(3), weekly[0].Count)
}

func TestTopProductsOrdering(t *testing.T) {
	sales := []domain.Sale{
		saleAt("a", at(6, 9), domain.PaymentCash, line(3, 2, 100), line(1, 5, 10)),
		saleAt("b", at(6, 10), domain.PaymentCash, line(2, 2, 100), line(4, 5, 10)),
		saleAt("c", at(6, 11), domain.PaymentCash, line(5, 2, 300)),
	}

	top := TopProducts(sales, 0)
	ids := make([]int64, 0, len(top))
	for _, p := range top {
		ids = append(ids, p.ProductID)
	}
	// qty 5 ties broken by id; qty 2 ties broken by revenue then id.
	assert.Equal(t, []int64{1, 4, 5, 2, 3}, ids)
	assert.Equal(t, int64(5), top[0].Quantity)
	assert.Equal(t, int64(600), top[2].RevenueCents)

	assert.Len(t, TopProducts(sales, 2), 2)
}

func TestPaymentBreakdown(t *testing.T) {
	sales := []domain.Sale{
		saleAt("a", at(6, 9), domain.PaymentUPI, line(1, 1, 100)),
		saleAt("b", at(6, 10), domain.PaymentCash, line(1, 2, 100)),
		saleAt("c", at(6, 11), domain.PaymentUPI, line(1, 3, 100)),
	}

	got := PaymentBreakdown(sales)
	assert.Equal(t, []domain.PaymentBreakdown{
		{PaymentMethod: domain.PaymentCash, Count: 1, TotalCents: 200},
		{PaymentMethod: domain.PaymentUPI, Count: 2, TotalCents: 400},
	}, got)
}

func TestHourlyDistribution(t *testing.T) {
	sales := []domain.Sale{
		saleAt("a", at(6, 9), domain.PaymentCash, line(1, 1, 100)),
		saleAt("b", at(7, 9), domain.PaymentCash, line(1, 3, 100)),
		saleAt("c", at(7, 23), domain.PaymentCash, line(1, 1, 50)),
	}

	hours := HourlyDistribution(sales)
	require.Len(t, hours, 24)
	assert.Equal(t, 9, hours[9].Hour)
	assert.Equal(t, int64(2), hours[9].Count)
	assert.Equal(t, int64(4), hours[9].ItemsSold)
	assert.Equal(t, int64(400), hours[9].TotalCents)
	assert.Equal(t, int64(1), hours[23].Count)
	assert.Zero(t, hours[0].Count)
}
