package postgres

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"possale/backend/internal/domain"
	"possale/backend/internal/service"
	"possale/backend/internal/stock"
	"possale/backend/internal/store"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("POSSALE_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set POSSALE_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL, Options{LockTimeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func seedProduct(t *testing.T, s *Store, qty int) int64 {
	t.Helper()
	ctx := context.Background()

	var id int64
	name := fmt.Sprintf("IT Product %d", time.Now().UnixNano())
	if err := s.db.QueryRowContext(ctx, `
		INSERT INTO products (name, category, price_cents, quantity, min_stock, tax_rate_percent)
		VALUES ($1, 'it', 1000, $2, 1, 10)
		RETURNING id
	`, name, qty).Scan(&id); err != nil {
		t.Fatalf("insert product: %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_movements WHERE product_id = $1`, id)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_lines WHERE product_id = $1`, id)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	})
	return id
}

func TestConditionalDecrementPreventsOversell(t *testing.T) {
	s := newIntegrationStore(t)
	productID := seedProduct(t, s, 5)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
				_, err := tx.DecrementStock(ctx, productID, 3)
				return err
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		if !domain.IsKind(err, domain.KindInsufficientStock) {
			t.Fatalf("expected insufficient stock for the loser, got %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one winner, got %d", succeeded)
	}

	products, err := s.GetProducts(ctx, []int64{productID})
	if err != nil {
		t.Fatalf("get products: %v", err)
	}
	if products[productID].Quantity != 2 {
		t.Fatalf("expected stock 2, got %d", products[productID].Quantity)
	}
}

func TestVoidRestocksAndLocksHeader(t *testing.T) {
	s := newIntegrationStore(t)
	productID := seedProduct(t, s, 10)
	ctx := context.Background()
	saleID := fmt.Sprintf("sale-it-%d", time.Now().UnixNano())

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_lines WHERE sale_id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, saleID)
	})

	sale := &domain.Sale{
		ID:            saleID,
		CreatedBy:     "it",
		LocationID:    1,
		PaymentMethod: domain.PaymentCash,
		Status:        domain.SaleStatusCompleted,
		CreatedAt:     time.Now().UTC(),
		Lines: []domain.SaleLine{{
			ProductID: productID, ProductName: "IT", Quantity: 2, UnitPriceCents: 1000, TaxRatePercent: 10,
		}},
	}
	sale.Recompute()

	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertSale(ctx, sale); err != nil {
			return err
		}
		_, err := tx.DecrementStock(ctx, productID, 2)
		return err
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	err = s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		locked, err := tx.LockSale(ctx, saleID)
		if err != nil {
			return err
		}
		for _, line := range locked.Lines {
			if _, err := tx.RestoreStock(ctx, line.ProductID, line.Quantity); err != nil {
				return err
			}
		}
		return tx.MarkSaleVoided(ctx, saleID, "integration test void", "it", time.Now())
	})
	if err != nil {
		t.Fatalf("void sale: %v", err)
	}

	products, _ := s.GetProducts(ctx, []int64{productID})
	if products[productID].Quantity != 10 {
		t.Fatalf("expected stock 10 after void restock, got %d", products[productID].Quantity)
	}

	got, err := s.FindSale(ctx, saleID)
	if err != nil {
		t.Fatalf("find sale: %v", err)
	}
	if !got.IsVoided() || got.VoidedAt == nil {
		t.Fatalf("expected sale to be voided, got %s", got.Status)
	}
	if !got.TotalsConsistent() {
		t.Fatalf("expected stored totals to match lines")
	}
}

func TestOppositeOrderCartsDoNotDeadlock(t *testing.T) {
	s := newIntegrationStore(t)
	productA := seedProduct(t, s, 1000)
	productB := seedProduct(t, s, 1000)
	ctx := context.Background()
	svc := service.New(s, stock.NewLedger(s), service.WithLogger(zaptest.NewLogger(t)))

	var mu sync.Mutex
	var saleIDs []string
	t.Cleanup(func() {
		mu.Lock()
		defer mu.Unlock()
		for _, id := range saleIDs {
			_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_movements WHERE sale_id = $1`, id)
			_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_lines WHERE sale_id = $1`, id)
			_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, id)
		}
	})

	carts := [][]int64{{productA, productB}, {productB, productA}}
	const rounds = 20
	var wg sync.WaitGroup
	errs := make(chan error, rounds*len(carts))
	for round := 0; round < rounds; round++ {
		for _, order := range carts {
			wg.Add(1)
			go func(order []int64) {
				defer wg.Done()
				cart := domain.Cart{ActorID: "it", LocationID: 1, PaymentMethod: domain.PaymentCash}
				for _, id := range order {
					cart.Items = append(cart.Items, domain.CartItem{ProductID: id, Quantity: 1})
				}
				sale, err := svc.CreateSale(ctx, cart)
				if err != nil {
					errs <- err
					return
				}
				mu.Lock()
				saleIDs = append(saleIDs, sale.ID)
				mu.Unlock()
				if sale.Lines[0].ProductID != order[0] {
					errs <- fmt.Errorf("expected persisted line order to follow the cart, got %d first", sale.Lines[0].ProductID)
				}
			}(order)
		}
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent opposite-order sale failed: %v", err)
	}
	products, err := s.GetProducts(ctx, []int64{productA, productB})
	if err != nil {
		t.Fatalf("get products: %v", err)
	}
	for _, id := range []int64{productA, productB} {
		if got := products[id].Quantity; got != 1000-rounds*len(carts) {
			t.Fatalf("product %d: expected stock %d, got %d", id, 1000-rounds*len(carts), got)
		}
	}
}
