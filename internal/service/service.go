package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"possale/backend/internal/domain"
	"possale/backend/internal/metrics"
	"possale/backend/internal/notify"
	"possale/backend/internal/stock"
	"possale/backend/internal/store"
	"possale/backend/internal/xid"
)

const (
	DefaultPointsDivisor = 100
	tracerName           = "possale/sales"
	systemActor          = "system"
	defaultListLimit     = 100
	maxListLimit         = 500
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actorID)
}

func ActorFromContext(ctx context.Context) (string, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(string)
	return actor, ok && actor != ""
}

// CacheInvalidator is told about every committed change to the ledger.
type CacheInvalidator interface {
	Invalidate(ctx context.Context) error
}

type EventDispatcher interface {
	Dispatch(event notify.Event)
}

type Option func(*Service)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPointsDivisor sets how many minor units of sale total earn one loyalty
// point. Zero or less disables accrual.
func WithPointsDivisor(divisor int64) Option {
	return func(s *Service) {
		s.pointsDivisor = divisor
	}
}

func WithCacheInvalidator(inv CacheInvalidator) Option {
	return func(s *Service) {
		if inv != nil {
			s.cache = inv
		}
	}
}

func WithEvents(d EventDispatcher) Option {
	return func(s *Service) {
		if d != nil {
			s.events = d
		}
	}
}

type Service struct {
	repo          store.Repository
	ledger        *stock.Ledger
	cache         CacheInvalidator
	events        EventDispatcher
	logger        *zap.Logger
	metrics       *metrics.Metrics
	tracer        trace.Tracer
	now           func() time.Time
	pointsDivisor int64
}

func New(repo store.Repository, ledger *stock.Ledger, opts ...Option) *Service {
	s := &Service{
		repo:          repo,
		ledger:        ledger,
		logger:        zap.NewNop(),
		metrics:       metrics.New(),
		tracer:        otel.Tracer(tracerName),
		now:           time.Now,
		pointsDivisor: DefaultPointsDivisor,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("sales")
	return s
}

func (s *Service) CheckAvailability(ctx context.Context, productID int64, qty int) (domain.Availability, error) {
	return s.ledger.CheckAvailability(ctx, productID, qty)
}

func (s *Service) LowStock(ctx context.Context, limit int) ([]domain.Product, error) {
	return s.ledger.LowStock(ctx, limit)
}

// CreateSale validates the cart against current stock, then inserts the sale,
// decrements every line and accrues loyalty points in one atomic unit.
func (s *Service) CreateSale(ctx context.Context, cart domain.Cart) (domain.Sale, error) {
	ctx, span := s.tracer.Start(ctx, "sales.CreateSale")
	defer span.End()

	sale, err := s.createSale(ctx, cart)
	if err != nil {
		s.fail(span, "create", err)
		return domain.Sale{}, domain.WithOp("create sale", err)
	}
	span.SetAttributes(attribute.String("sale.id", sale.ID), attribute.Bool("sale.duplicate", sale.Duplicate))
	return sale, nil
}

func (s *Service) createSale(ctx context.Context, cart domain.Cart) (domain.Sale, error) {
	cart, err := s.normalizeCart(ctx, cart)
	if err != nil {
		return domain.Sale{}, err
	}

	if cart.IdempotencyKey != "" {
		existing, err := s.findByIdempotencyKey(ctx, cart.IdempotencyKey)
		if err != nil {
			return domain.Sale{}, err
		}
		if existing != nil {
			return replay(cart, *existing)
		}
	}

	ids := make([]int64, 0, len(cart.Items))
	for _, item := range cart.Items {
		avail, err := s.ledger.CheckAvailability(ctx, item.ProductID, item.Quantity)
		if err != nil {
			return domain.Sale{}, err
		}
		if !avail.Available {
			return domain.Sale{}, domain.NewInsufficientStock(item.ProductID, item.Quantity, avail.CurrentStock)
		}
		ids = append(ids, item.ProductID)
	}

	products, err := s.repo.GetProducts(ctx, ids)
	if err != nil {
		return domain.Sale{}, err
	}

	sale, err := domain.BuildSale(cart, products, s.now())
	if err != nil {
		return domain.Sale{}, err
	}
	sale.ID = xid.New("sale")
	if sale.CustomerID != nil {
		sale.LoyaltyPoints = domain.LoyaltyPoints(sale.TotalCents, s.pointsDivisor)
	}

	start := time.Now()
	err = s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertSale(ctx, &sale); err != nil {
			return err
		}
		for _, line := range lockOrder(sale.Lines) {
			if err := s.ledger.Decrement(ctx, tx, sale.ID, line.ProductID, line.Quantity); err != nil {
				return err
			}
		}
		if sale.CustomerID != nil {
			return tx.AccrueLoyaltyPoints(ctx, *sale.CustomerID, sale.LoyaltyPoints)
		}
		return nil
	})
	if errors.Is(err, store.ErrDuplicateIdempotencyKey) {
		// A concurrent request with the same key committed first.
		existing, lookupErr := s.findByIdempotencyKey(ctx, cart.IdempotencyKey)
		if lookupErr != nil {
			return domain.Sale{}, lookupErr
		}
		if existing != nil {
			return replay(cart, *existing)
		}
	}
	if err != nil {
		return domain.Sale{}, err
	}

	s.metrics.SaleCommitted(time.Since(start))
	s.logger.Info("sale committed",
		zap.String("sale_id", sale.ID),
		zap.String("actor", sale.CreatedBy),
		zap.Int("lines", len(sale.Lines)),
		zap.Int64("total_cents", sale.TotalCents),
		zap.Int64("loyalty_points", sale.LoyaltyPoints),
	)
	s.afterCommit(ctx, notify.EventSaleCommitted, sale)
	return sale, nil
}

// VoidSale marks a completed sale voided and restores the stock of every line
// in one unit. A sale can be voided at most once.
func (s *Service) VoidSale(ctx context.Context, saleID string, reason string, actorID string) (domain.Sale, error) {
	ctx, span := s.tracer.Start(ctx, "sales.VoidSale", trace.WithAttributes(attribute.String("sale.id", saleID)))
	defer span.End()

	sale, err := s.voidSale(ctx, saleID, reason, actorID)
	if err != nil {
		s.fail(span, "void", err)
		return domain.Sale{}, domain.WithOp("void sale", err)
	}
	return sale, nil
}

func (s *Service) voidSale(ctx context.Context, saleID string, reason string, actorID string) (domain.Sale, error) {
	saleID = strings.TrimSpace(saleID)
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.Sale{}, domain.NewValidationError("void reason is required")
	}
	if saleID == "" {
		return domain.Sale{}, domain.NewValidationError("sale id is required")
	}
	actorID = s.resolveActor(ctx, actorID)
	if actorID == "" {
		actorID = systemActor
	}

	var voided domain.Sale
	at := s.now().UTC()
	start := time.Now()
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		sale, err := tx.LockSale(ctx, saleID)
		if err != nil {
			return err
		}
		if sale.IsVoided() {
			return domain.NewAlreadyVoided(saleID)
		}
		for _, line := range lockOrder(sale.Lines) {
			if err := s.ledger.Restore(ctx, tx, sale.ID, line.ProductID, line.Quantity); err != nil {
				return err
			}
		}
		if sale.CustomerID != nil && sale.LoyaltyPoints > 0 {
			if err := tx.AccrueLoyaltyPoints(ctx, *sale.CustomerID, -sale.LoyaltyPoints); err != nil {
				return err
			}
		}
		if err := tx.MarkSaleVoided(ctx, sale.ID, reason, actorID, at); err != nil {
			return err
		}

		sale.Status = domain.SaleStatusVoided
		sale.VoidReason = reason
		sale.VoidedBy = actorID
		sale.VoidedAt = &at
		voided = *sale
		return nil
	})
	if err != nil {
		return domain.Sale{}, err
	}

	s.metrics.SaleVoided(time.Since(start))
	s.logger.Info("sale voided",
		zap.String("sale_id", voided.ID),
		zap.String("actor", actorID),
		zap.String("reason", reason),
	)
	s.afterCommit(ctx, notify.EventSaleVoided, voided)
	return voided, nil
}

func (s *Service) GetSale(ctx context.Context, saleID string) (domain.Sale, error) {
	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return domain.Sale{}, domain.NewValidationError("sale id is required")
	}
	sale, err := s.repo.FindSale(ctx, saleID)
	if err != nil {
		return domain.Sale{}, domain.WithOp("get sale", err)
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, filter store.SaleFilter) ([]domain.Sale, error) {
	if !filter.From.IsZero() && !filter.To.IsZero() && !filter.From.Before(filter.To) {
		return nil, domain.NewValidationError("from must be before to")
	}
	switch filter.Status {
	case "", domain.SaleStatusCompleted, domain.SaleStatusVoided:
	default:
		return nil, domain.NewValidationError("unknown sale status %q", filter.Status)
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	sales, err := s.repo.ListSales(ctx, filter)
	if err != nil {
		return nil, domain.WithOp("list sales", err)
	}
	return sales, nil
}

func (s *Service) normalizeCart(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	cart.PaymentMethod = strings.ToLower(strings.TrimSpace(cart.PaymentMethod))
	if cart.PaymentMethod == "" {
		cart.PaymentMethod = domain.PaymentCash
	}
	if !domain.IsSupportedPaymentMethod(cart.PaymentMethod) {
		return domain.Cart{}, domain.NewValidationError("unsupported payment method %q", cart.PaymentMethod)
	}
	cart.ActorID = s.resolveActor(ctx, cart.ActorID)
	if cart.ActorID == "" {
		return domain.Cart{}, domain.NewValidationError("actor is required")
	}
	if cart.LocationID <= 0 {
		return domain.Cart{}, domain.NewValidationError("location is required")
	}
	if cart.CustomerID != nil && *cart.CustomerID <= 0 {
		return domain.Cart{}, domain.NewValidationError("invalid customer id %d", *cart.CustomerID)
	}
	cart.Notes = strings.TrimSpace(cart.Notes)
	cart.IdempotencyKey = strings.TrimSpace(cart.IdempotencyKey)

	items, err := domain.MergeItems(cart.Items)
	if err != nil {
		return domain.Cart{}, err
	}
	cart.Items = items
	return cart, nil
}

func (s *Service) resolveActor(ctx context.Context, actorID string) string {
	actorID = strings.TrimSpace(actorID)
	if actorID != "" {
		return actorID
	}
	if fromCtx, ok := ActorFromContext(ctx); ok {
		return fromCtx
	}
	return ""
}

// findByIdempotencyKey returns nil without error when no sale holds key.
func (s *Service) findByIdempotencyKey(ctx context.Context, key string) (*domain.Sale, error) {
	existing, err := s.repo.FindSaleByIdempotencyKey(ctx, key)
	if err != nil {
		if domain.IsKind(err, domain.KindSaleNotFound) {
			return nil, nil
		}
		return nil, err
	}
	existing.Duplicate = true
	return existing, nil
}

// afterCommit runs the post-commit side effects. None of them can fail the
// operation: the unit is already durable.
func (s *Service) afterCommit(ctx context.Context, eventType string, sale domain.Sale) {
	if s.cache != nil {
		if err := s.cache.Invalidate(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("analytics cache invalidation failed", zap.String("sale_id", sale.ID), zap.Error(err))
		}
	}
	if s.events != nil {
		s.events.Dispatch(notify.NewEvent(eventType, sale, s.now()))
	}
}

func (s *Service) fail(span trace.Span, op string, err error) {
	kind := domain.ErrorKind(err)
	s.metrics.SaleFailed(op, string(kind))
	span.RecordError(err)
	span.SetStatus(codes.Error, string(kind))

	if domain.Retryable(err) {
		s.logger.Error("sale operation failed", zap.String("op", op), zap.String("kind", string(kind)), zap.Error(err))
		return
	}
	s.logger.Info("sale operation rejected", zap.String("op", op), zap.String("kind", string(kind)), zap.Error(err))
}

// replay returns the sale already recorded under the cart's idempotency key.
// A key reused by another actor or with different contents is rejected.
func replay(cart domain.Cart, existing domain.Sale) (domain.Sale, error) {
	if existing.CreatedBy != cart.ActorID {
		return domain.Sale{}, domain.NewValidationError("idempotency key %q was used by another actor", cart.IdempotencyKey)
	}
	if !sameContents(cart, existing) {
		return domain.Sale{}, domain.NewValidationError("idempotency key %q was used for a different sale", cart.IdempotencyKey)
	}
	return existing, nil
}

// sameContents compares a merged cart with a stored sale.
func sameContents(cart domain.Cart, sale domain.Sale) bool {
	if cart.DiscountCents != sale.DiscountCents ||
		cart.PaymentMethod != sale.PaymentMethod ||
		cart.LocationID != sale.LocationID {
		return false
	}
	if (cart.CustomerID == nil) != (sale.CustomerID == nil) {
		return false
	}
	if cart.CustomerID != nil && *cart.CustomerID != *sale.CustomerID {
		return false
	}
	if len(cart.Items) != len(sale.Lines) {
		return false
	}
	for i, item := range cart.Items {
		if item.ProductID != sale.Lines[i].ProductID || item.Quantity != sale.Lines[i].Quantity {
			return false
		}
	}
	return true
}

// lockOrder returns the lines sorted by product id. Every unit touches stock
// rows in this order so two carts never wait on each other's rows.
func lockOrder(lines []domain.SaleLine) []domain.SaleLine {
	ordered := append([]domain.SaleLine(nil), lines...)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].ProductID < ordered[j].ProductID
	})
	return ordered
}
