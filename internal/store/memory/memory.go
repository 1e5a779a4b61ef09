package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"possale/backend/internal/domain"
	"possale/backend/internal/store"
	"possale/backend/internal/xid"
)

const defaultLockTimeout = 5 * time.Second

// Store keeps the ledger in process. Writers are serialized through a
// single-slot semaphore acquired with a bounded wait; a unit's writes are
// staged and only become visible to readers when it commits.
type Store struct {
	mu          sync.RWMutex
	products    map[int64]domain.Product
	customers   map[int64]int64
	sales       map[string]*domain.Sale
	salesByIdem map[string]string
	movements   []domain.StockMovement

	writer      chan struct{}
	lockTimeout time.Duration
}

type Option func(*Store)

func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.lockTimeout = d
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		products:    make(map[int64]domain.Product),
		customers:   make(map[int64]int64),
		sales:       make(map[string]*domain.Sale),
		salesByIdem: make(map[string]string),
		movements:   make([]domain.StockMovement, 0, 64),
		writer:      make(chan struct{}, 1),
		lockTimeout: defaultLockTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func NewSeeded(opts ...Option) *Store {
	s := New(opts...)
	products := []domain.Product{
		{ID: 1, Name: "Basmati Rice 5kg", Category: "grocery", PriceCents: 64900, Quantity: 120, MinStock: 10, TaxRatePercent: 5, LocationID: 1, Active: true},
		{ID: 2, Name: "Sunflower Oil 1L", Category: "grocery", PriceCents: 15500, Quantity: 80, MinStock: 10, TaxRatePercent: 5, LocationID: 1, Active: true},
		{ID: 3, Name: "Green Tea 100g", Category: "beverage", PriceCents: 24000, Quantity: 60, MinStock: 8, TaxRatePercent: 12, LocationID: 1, Active: true},
		{ID: 4, Name: "USB-C Cable", Category: "electronics", PriceCents: 39900, Quantity: 40, MinStock: 5, TaxRatePercent: 18, LocationID: 1, Active: true},
		{ID: 5, Name: "Notebook A5", Category: "stationery", PriceCents: 6000, Quantity: 200, MinStock: 20, TaxRatePercent: 12, LocationID: 1, Active: true},
		{ID: 6, Name: "Desk Lamp", Category: "furniture", PriceCents: 129900, Quantity: 4, MinStock: 5, TaxRatePercent: 18, LocationID: 1, Active: true},
	}
	for _, p := range products {
		s.AddProduct(p)
	}
	for _, id := range []int64{1, 2, 3} {
		s.AddCustomer(id)
	}
	return s
}

func (s *Store) AddProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

func (s *Store) AddCustomer(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.customers[id]; !ok {
		s.customers[id] = 0
	}
}

func (s *Store) Product(id int64) (domain.Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	return p, ok
}

func (s *Store) CustomerPoints(id int64) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	points, ok := s.customers[id]
	return points, ok
}

func (s *Store) Movements() []domain.StockMovement {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.StockMovement(nil), s.movements...)
}

func (s *Store) SaleCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sales)
}

func (s *Store) GetProducts(_ context.Context, ids []int64) (map[int64]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[int64]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok && p.Active {
			out[id] = p
		}
	}
	return out, nil
}

func (s *Store) ListLowStock(_ context.Context, limit int) ([]domain.Product, error) {
	s.mu.RLock()
	low := make([]domain.Product, 0, 8)
	for _, p := range s.products {
		if p.Active && p.IsLowStock() {
			low = append(low, p)
		}
	}
	s.mu.RUnlock()

	sort.Slice(low, func(i, j int) bool {
		if low[i].Quantity != low[j].Quantity {
			return low[i].Quantity < low[j].Quantity
		}
		return low[i].ID < low[j].ID
	})
	if limit > 0 && len(low) > limit {
		low = low[:limit]
	}
	return low, nil
}

func (s *Store) FindSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, domain.NewSaleNotFound(id)
	}
	return cloneSale(sale), nil
}

func (s *Store) FindSaleByIdempotencyKey(_ context.Context, key string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.salesByIdem[key]
	if !ok {
		return nil, domain.NewSaleNotFound("")
	}
	return cloneSale(s.sales[id]), nil
}

func (s *Store) ListSales(_ context.Context, filter store.SaleFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	out := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		if filter.Matches(*sale) {
			out = append(out, *cloneSale(sale))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer func() { <-s.writer }()

	tx := &memTx{
		store:  s,
		stock:  make(map[int64]int),
		voids:  make(map[string]voidUpdate),
		points: make(map[int64]int64),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *Store) acquire(ctx context.Context) error {
	var timeout <-chan time.Time
	if s.lockTimeout > 0 {
		timer := time.NewTimer(s.lockTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case s.writer <- struct{}{}:
		return nil
	case <-timeout:
		return domain.NewTimeout(fmt.Errorf("writer lock not acquired within %s", s.lockTimeout))
	case <-ctx.Done():
		return domain.NewTimeout(ctx.Err())
	}
}

func (s *Store) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, qty := range tx.stock {
		p := s.products[id]
		p.Quantity = qty
		s.products[id] = p
	}
	for _, sale := range tx.inserted {
		s.sales[sale.ID] = sale
		if sale.IdempotencyKey != "" {
			s.salesByIdem[sale.IdempotencyKey] = sale.ID
		}
	}
	for id, v := range tx.voids {
		sale := s.sales[id]
		sale.Status = domain.SaleStatusVoided
		sale.VoidReason = v.reason
		sale.VoidedBy = v.actor
		at := v.at
		sale.VoidedAt = &at
	}
	for id, points := range tx.points {
		s.customers[id] += points
	}
	s.movements = append(s.movements, tx.movements...)
	return nil
}

type voidUpdate struct {
	reason string
	actor  string
	at     time.Time
}

type memTx struct {
	store     *Store
	stock     map[int64]int
	inserted  []*domain.Sale
	voids     map[string]voidUpdate
	points    map[int64]int64
	movements []domain.StockMovement
}

func (t *memTx) quantity(productID int64) (int, bool) {
	if qty, ok := t.stock[productID]; ok {
		return qty, true
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	p, ok := t.store.products[productID]
	if !ok {
		return 0, false
	}
	return p.Quantity, true
}

func (t *memTx) DecrementStock(_ context.Context, productID int64, qty int) (int, error) {
	current, ok := t.quantity(productID)
	if !ok {
		return 0, domain.NewProductNotFound(productID)
	}
	if current < qty {
		return current, domain.NewInsufficientStock(productID, qty, current)
	}
	t.stock[productID] = current - qty
	return current, nil
}

func (t *memTx) RestoreStock(_ context.Context, productID int64, qty int) (int, error) {
	current, ok := t.quantity(productID)
	if !ok {
		return 0, domain.NewProductNotFound(productID)
	}
	t.stock[productID] = current + qty
	return current, nil
}

func (t *memTx) RecordMovement(_ context.Context, movement domain.StockMovement) error {
	if movement.ID == "" {
		movement.ID = xid.New("mv")
	}
	t.movements = append(t.movements, movement)
	return nil
}

func (t *memTx) InsertSale(_ context.Context, sale *domain.Sale) error {
	t.store.mu.RLock()
	_, exists := t.store.sales[sale.ID]
	_, duplicateKey := t.store.salesByIdem[sale.IdempotencyKey]
	t.store.mu.RUnlock()

	if exists {
		return domain.NewDatabaseError(fmt.Errorf("sale %s already exists", sale.ID))
	}
	if sale.IdempotencyKey != "" && duplicateKey {
		return store.ErrDuplicateIdempotencyKey
	}
	t.inserted = append(t.inserted, cloneSale(sale))
	return nil
}

func (t *memTx) LockSale(_ context.Context, id string) (*domain.Sale, error) {
	t.store.mu.RLock()
	sale, ok := t.store.sales[id]
	var cp *domain.Sale
	if ok {
		cp = cloneSale(sale)
	}
	t.store.mu.RUnlock()

	if !ok {
		for _, staged := range t.inserted {
			if staged.ID == id {
				cp = cloneSale(staged)
				ok = true
				break
			}
		}
	}
	if !ok {
		return nil, domain.NewSaleNotFound(id)
	}
	if v, voided := t.voids[id]; voided {
		cp.Status = domain.SaleStatusVoided
		cp.VoidReason = v.reason
		cp.VoidedBy = v.actor
		at := v.at
		cp.VoidedAt = &at
	}
	return cp, nil
}

func (t *memTx) MarkSaleVoided(ctx context.Context, id string, reason string, actor string, at time.Time) error {
	sale, err := t.LockSale(ctx, id)
	if err != nil {
		return err
	}
	if sale.IsVoided() {
		return domain.NewAlreadyVoided(id)
	}
	t.voids[id] = voidUpdate{reason: reason, actor: actor, at: at.UTC()}
	return nil
}

func (t *memTx) AccrueLoyaltyPoints(_ context.Context, customerID int64, points int64) error {
	t.store.mu.RLock()
	_, ok := t.store.customers[customerID]
	t.store.mu.RUnlock()
	if !ok {
		return domain.NewCustomerNotFound(customerID)
	}
	t.points[customerID] += points
	return nil
}

func cloneSale(sale *domain.Sale) *domain.Sale {
	cp := *sale
	cp.Lines = append([]domain.SaleLine(nil), sale.Lines...)
	if sale.CustomerID != nil {
		id := *sale.CustomerID
		cp.CustomerID = &id
	}
	if sale.VoidedAt != nil {
		at := *sale.VoidedAt
		cp.VoidedAt = &at
	}
	return &cp
}
