package domain

import "time"

type Granularity string

const (
	GranularityDay   Granularity = "day"
	GranularityWeek  Granularity = "week"
	GranularityMonth Granularity = "month"
)

func ParseGranularity(raw string) (Granularity, bool) {
	switch Granularity(raw) {
	case "":
		return GranularityDay, true
	case GranularityDay, GranularityWeek, GranularityMonth:
		return Granularity(raw), true
	default:
		return "", false
	}
}

type SalesBucket struct {
	Start         time.Time `json:"start"`
	Count         int64     `json:"count"`
	TotalCents    int64     `json:"total_cents"`
	TaxCents      int64     `json:"tax_cents"`
	DiscountCents int64     `json:"discount_cents"`
	AverageCents  int64     `json:"average_cents"`
}

type SalesSummary struct {
	Granularity   Granularity   `json:"granularity"`
	From          time.Time     `json:"from"`
	To            time.Time     `json:"to"`
	IncludeVoided bool          `json:"include_voided"`
	Buckets       []SalesBucket `json:"buckets"`
}

type TopProduct struct {
	ProductID    int64  `json:"product_id"`
	Name         string `json:"name"`
	Quantity     int64  `json:"quantity"`
	RevenueCents int64  `json:"revenue_cents"`
}

type PaymentBreakdown struct {
	PaymentMethod string `json:"payment_method"`
	Count         int64  `json:"count"`
	TotalCents    int64  `json:"total_cents"`
}

type HourlyBucket struct {
	Hour       int   `json:"hour"`
	Count      int64 `json:"count"`
	ItemsSold  int64 `json:"items_sold"`
	TotalCents int64 `json:"total_cents"`
}

type Dashboard struct {
	Granularity   Granularity        `json:"granularity"`
	GeneratedAt   time.Time          `json:"generated_at"`
	Trend         []SalesBucket      `json:"trend"`
	TopProducts   []TopProduct       `json:"top_products"`
	Payments      []PaymentBreakdown `json:"payments"`
	LowStock      []Product          `json:"low_stock"`
	RecentSales   []Sale             `json:"recent_sales"`
	TotalSales    int64              `json:"total_sales"`
	RevenueCents  int64              `json:"revenue_cents"`
}
