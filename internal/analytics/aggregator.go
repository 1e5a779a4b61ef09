package analytics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"possale/backend/internal/cache"
	"possale/backend/internal/domain"
	"possale/backend/internal/metrics"
	"possale/backend/internal/store"
)

const (
	DefaultCacheTTL         = time.Minute
	DefaultDashboardPeriods = 7
	MaxDashboardPeriods     = 366
	defaultRange            = 30 * 24 * time.Hour
	defaultRangeStep        = time.Minute
	dashboardTopN           = 5
	dashboardLowStock       = 10
	dashboardRecentSales    = 10
)

type Option func(*Aggregator)

func WithCache(c cache.AnalyticsCache, ttl time.Duration) Option {
	return func(a *Aggregator) {
		if c != nil {
			a.cache = c
		}
		if ttl > 0 {
			a.ttl = ttl
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Aggregator) {
		a.metrics = m
	}
}

// WithDashboardPeriods sets how many periods Dashboard covers when the caller
// asks for zero.
func WithDashboardPeriods(n int) Option {
	return func(a *Aggregator) {
		if n > 0 && n <= MaxDashboardPeriods {
			a.periods = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// Aggregator derives reports from the committed ledger. It never writes to
// the ledger; its cache is dropped whenever a sale commits or is voided.
type Aggregator struct {
	repo    store.Repository
	cache   cache.AnalyticsCache
	ttl     time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	periods int
	now     func() time.Time
}

func NewAggregator(repo store.Repository, opts ...Option) *Aggregator {
	a := &Aggregator{
		repo:    repo,
		cache:   cache.NoopAnalyticsCache{},
		ttl:     DefaultCacheTTL,
		periods: DefaultDashboardPeriods,
		logger:  zap.NewNop(),
		tracer:  otel.Tracer("possale/analytics"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.Named("analytics")
	return a
}

func (a *Aggregator) Invalidate(ctx context.Context) error {
	return a.cache.Invalidate(ctx)
}

type Range struct {
	From          time.Time
	To            time.Time
	IncludeVoided bool
}

// normalize fills a missing bound relative to now and checks ordering. A
// defaulted end is rounded up to the next minute so repeated default-range
// reports share a cache key.
func (a *Aggregator) normalize(r Range) (Range, error) {
	if r.To.IsZero() {
		r.To = a.now().UTC().Truncate(defaultRangeStep).Add(defaultRangeStep)
	}
	if r.From.IsZero() {
		r.From = r.To.Add(-defaultRange)
	}
	r.From = r.From.UTC()
	r.To = r.To.UTC()
	if !r.From.Before(r.To) {
		return Range{}, domain.NewValidationError("from must be before to")
	}
	return r, nil
}

func (r Range) key() string {
	return fmt.Sprintf("%d:%d:%t", r.From.UnixNano(), r.To.UnixNano(), r.IncludeVoided)
}

func (a *Aggregator) Summary(ctx context.Context, raw domain.Granularity, r Range) (domain.SalesSummary, error) {
	g, ok := domain.ParseGranularity(string(raw))
	if !ok {
		return domain.SalesSummary{}, domain.NewValidationError("unknown granularity %q", raw)
	}
	r, err := a.normalize(r)
	if err != nil {
		return domain.SalesSummary{}, err
	}

	return cached(ctx, a, "summary:"+string(g)+":"+r.key(), func(ctx context.Context) (domain.SalesSummary, error) {
		sales, err := a.load(ctx, r)
		if err != nil {
			return domain.SalesSummary{}, err
		}
		return domain.SalesSummary{
			Granularity:   g,
			From:          r.From,
			To:            r.To,
			IncludeVoided: r.IncludeVoided,
			Buckets:       Bucketize(sales, g, r.From, r.To, false),
		}, nil
	})
}

func (a *Aggregator) TopProducts(ctx context.Context, r Range, limit int) ([]domain.TopProduct, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	r.IncludeVoided = false
	r, err := a.normalize(r)
	if err != nil {
		return nil, err
	}

	return cached(ctx, a, fmt.Sprintf("top:%d:%s", limit, r.key()), func(ctx context.Context) ([]domain.TopProduct, error) {
		sales, err := a.load(ctx, r)
		if err != nil {
			return nil, err
		}
		return TopProducts(sales, limit), nil
	})
}

func (a *Aggregator) Payments(ctx context.Context, r Range) ([]domain.PaymentBreakdown, error) {
	r.IncludeVoided = false
	r, err := a.normalize(r)
	if err != nil {
		return nil, err
	}

	return cached(ctx, a, "payments:"+r.key(), func(ctx context.Context) ([]domain.PaymentBreakdown, error) {
		sales, err := a.load(ctx, r)
		if err != nil {
			return nil, err
		}
		return PaymentBreakdown(sales), nil
	})
}

func (a *Aggregator) Hourly(ctx context.Context, r Range) ([]domain.HourlyBucket, error) {
	r.IncludeVoided = false
	r, err := a.normalize(r)
	if err != nil {
		return nil, err
	}

	return cached(ctx, a, "hourly:"+r.key(), func(ctx context.Context) ([]domain.HourlyBucket, error) {
		sales, err := a.load(ctx, r)
		if err != nil {
			return nil, err
		}
		return HourlyDistribution(sales), nil
	})
}

// Dashboard covers the trailing periods ending with the current one, with
// empty periods zero-filled.
func (a *Aggregator) Dashboard(ctx context.Context, raw domain.Granularity, periods int) (domain.Dashboard, error) {
	g, ok := domain.ParseGranularity(string(raw))
	if !ok {
		return domain.Dashboard{}, domain.NewValidationError("unknown granularity %q", raw)
	}
	if periods <= 0 {
		periods = a.periods
	}
	if periods > MaxDashboardPeriods {
		return domain.Dashboard{}, domain.NewValidationError("periods must be at most %d", MaxDashboardPeriods)
	}

	now := a.now().UTC()
	to := NextBucket(BucketStart(now, g), g)
	from := to
	for i := 0; i < periods; i++ {
		from = previousBucket(from, g)
	}
	r := Range{From: from, To: to}

	return cached(ctx, a, fmt.Sprintf("dashboard:%s:%d:%s", g, periods, r.key()), func(ctx context.Context) (domain.Dashboard, error) {
		ctx, span := a.tracer.Start(ctx, "analytics.Dashboard", trace.WithAttributes(
			attribute.String("granularity", string(g)),
			attribute.Int("periods", periods),
		))
		defer span.End()

		var (
			sales    []domain.Sale
			lowStock []domain.Product
			recent   []domain.Sale
		)
		eg, egCtx := errgroup.WithContext(ctx)
		eg.Go(func() error {
			var err error
			sales, err = a.load(egCtx, r)
			return err
		})
		eg.Go(func() error {
			var err error
			lowStock, err = a.repo.ListLowStock(egCtx, dashboardLowStock)
			return err
		})
		eg.Go(func() error {
			var err error
			recent, err = a.repo.ListSales(egCtx, store.SaleFilter{Limit: dashboardRecentSales})
			return err
		})
		if err := eg.Wait(); err != nil {
			span.RecordError(err)
			return domain.Dashboard{}, domain.WithOp("dashboard", err)
		}

		count, revenue := totals(sales)
		return domain.Dashboard{
			Granularity:  g,
			GeneratedAt:  now,
			Trend:        Bucketize(sales, g, from, to, true),
			TopProducts:  TopProducts(sales, dashboardTopN),
			Payments:     PaymentBreakdown(sales),
			LowStock:     lowStock,
			RecentSales:  recent,
			TotalSales:   count,
			RevenueCents: revenue,
		}, nil
	})
}

func (a *Aggregator) load(ctx context.Context, r Range) ([]domain.Sale, error) {
	sales, err := a.repo.ListSales(ctx, store.SaleFilter{From: r.From, To: r.To, IncludeVoided: r.IncludeVoided})
	if err != nil {
		return nil, domain.WithOp("load sales", err)
	}
	return sales, nil
}

func cached[T any](ctx context.Context, a *Aggregator, key string, compute func(ctx context.Context) (T, error)) (T, error) {
	// The generation is read before the ledger so a commit that lands
	// during compute keeps the result out of the cache.
	gen, err := a.cache.Generation(ctx)
	if err != nil {
		a.logger.Warn("analytics cache generation read failed", zap.String("key", key), zap.Error(err))
		return compute(ctx)
	}

	hit, ok, err := cache.GetJSON[T](ctx, a.cache, key)
	if err != nil {
		a.logger.Warn("analytics cache read failed", zap.String("key", key), zap.Error(err))
	}
	if a.metrics != nil {
		a.metrics.CacheLookup(ok)
	}
	if ok {
		return hit, nil
	}

	value, err := compute(ctx)
	if err != nil {
		return value, err
	}
	if err := cache.SetJSON(ctx, a.cache, gen, key, value, a.ttl); err != nil {
		a.logger.Warn("analytics cache write failed", zap.String("key", key), zap.Error(err))
	}
	return value, nil
}

func previousBucket(start time.Time, g domain.Granularity) time.Time {
	switch g {
	case domain.GranularityWeek:
		return start.AddDate(0, 0, -7)
	case domain.GranularityMonth:
		return start.AddDate(0, -1, 0)
	default:
		return start.AddDate(0, 0, -1)
	}
}
