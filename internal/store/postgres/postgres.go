package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"possale/backend/internal/domain"
	"possale/backend/internal/store"
	"possale/backend/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

const (
	codeLockNotAvailable = "55P03"
	codeQueryCanceled    = "57014"
	codeDeadlock         = "40P01"
	codeSerialization    = "40001"
	codeUniqueViolation  = "23505"
	codeForeignKey       = "23503"

	idempotencyConstraint = "sales_idempotency_key_key"
	customerFKConstraint  = "sales_customer_id_fkey"
)

type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	LockTimeout     time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxOpenConns <= 0 {
		o.MaxOpenConns = 30
	}
	if o.MaxIdleConns <= 0 {
		o.MaxIdleConns = 8
	}
	if o.ConnMaxLifetime <= 0 {
		o.ConnMaxLifetime = 30 * time.Minute
	}
	if o.LockTimeout <= 0 {
		o.LockTimeout = 5 * time.Second
	}
	return o
}

type Store struct {
	db          *sql.DB
	lockTimeout time.Duration
}

func New(ctx context.Context, databaseURL string, opts Options) (*Store, error) {
	opts = opts.withDefaults()

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, lockTimeout: opts.LockTimeout}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) GetProducts(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	result := make(map[int64]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, price_cents, quantity, min_stock, tax_rate_percent, location_id, active
		FROM products
		WHERE active = true AND id = ANY($1)
	`, ids)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, mapError(err)
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return result, nil
}

func (s *Store) ListLowStock(ctx context.Context, limit int) ([]domain.Product, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, price_cents, quantity, min_stock, tax_rate_percent, location_id, active
		FROM products
		WHERE active = true AND quantity <= min_stock
		ORDER BY quantity ASC, id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 16)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, mapError(err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return products, nil
}

func (s *Store) FindSale(ctx context.Context, id string) (*domain.Sale, error) {
	return findSale(ctx, s.db, "id", id, "")
}

func (s *Store) FindSaleByIdempotencyKey(ctx context.Context, key string) (*domain.Sale, error) {
	return findSale(ctx, s.db, "idempotency_key", key, "")
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const saleColumns = `id, customer_id, created_by, location_id, idempotency_key, subtotal_cents, tax_cents,
	discount_cents, total_cents, payment_method, notes, loyalty_points, status, void_reason, voided_by,
	created_at, voided_at`

func findSale(ctx context.Context, q queryer, column string, value string, suffix string) (*domain.Sale, error) {
	row := q.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE `+column+` = $1 `+suffix, value)
	sale, err := scanSale(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewSaleNotFound(value)
		}
		return nil, mapError(err)
	}

	lines, err := loadLines(ctx, q, []string{sale.ID})
	if err != nil {
		return nil, err
	}
	sale.Lines = lines[sale.ID]
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, filter store.SaleFilter) ([]domain.Sale, error) {
	query := `SELECT ` + saleColumns + ` FROM sales WHERE true`
	args := make([]any, 0, 4)
	if !filter.From.IsZero() {
		args = append(args, filter.From.UTC())
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To.UTC())
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	switch {
	case filter.Status != "":
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	case !filter.IncludeVoided:
		args = append(args, domain.SaleStatusCompleted)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	sales := make([]domain.Sale, 0, 64)
	ids := make([]string, 0, 64)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			_ = rows.Close()
			return nil, mapError(err)
		}
		sales = append(sales, sale)
		ids = append(ids, sale.ID)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, mapError(err)
	}
	_ = rows.Close()

	if len(ids) == 0 {
		return sales, nil
	}
	lines, err := loadLines(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i].Lines = lines[sales[i].ID]
	}
	return sales, nil
}

// WithinTx runs fn in a read-committed transaction whose lock waits are
// bounded by the configured lock timeout.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return mapError(err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if _, err = sqlTx.ExecContext(ctx, `SELECT set_config('lock_timeout', $1, true)`,
		fmt.Sprintf("%dms", s.lockTimeout.Milliseconds())); err != nil {
		return mapError(err)
	}

	if err = fn(ctx, &pgTx{tx: sqlTx}); err != nil {
		return mapError(err)
	}
	if err = sqlTx.Commit(); err != nil {
		return mapError(err)
	}
	return nil
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) DecrementStock(ctx context.Context, productID int64, qty int) (int, error) {
	var before int
	err := t.tx.QueryRowContext(ctx, `
		UPDATE products
		SET quantity = quantity - $1, updated_at = now()
		WHERE id = $2 AND active = true AND quantity >= $1
		RETURNING quantity + $1
	`, qty, productID).Scan(&before)
	if err == nil {
		return before, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, mapError(err)
	}

	var current int
	err = t.tx.QueryRowContext(ctx, `SELECT quantity FROM products WHERE id = $1 AND active = true`, productID).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.NewProductNotFound(productID)
		}
		return 0, mapError(err)
	}
	return current, domain.NewInsufficientStock(productID, qty, current)
}

func (t *pgTx) RestoreStock(ctx context.Context, productID int64, qty int) (int, error) {
	var before int
	err := t.tx.QueryRowContext(ctx, `
		UPDATE products
		SET quantity = quantity + $1, updated_at = now()
		WHERE id = $2
		RETURNING quantity - $1
	`, qty, productID).Scan(&before)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.NewProductNotFound(productID)
		}
		return 0, mapError(err)
	}
	return before, nil
}

func (t *pgTx) RecordMovement(ctx context.Context, m domain.StockMovement) error {
	if m.ID == "" {
		m.ID = xid.New("mv")
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO stock_movements (id, product_id, sale_id, delta, before_qty, after_qty, reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, m.ID, m.ProductID, m.SaleID, m.Delta, m.Before, m.After, m.Reason, m.CreatedAt.UTC())
	return mapError(err)
}

func (t *pgTx) InsertSale(ctx context.Context, sale *domain.Sale) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, customer_id, created_by, location_id, idempotency_key, subtotal_cents, tax_cents,
			discount_cents, total_cents, payment_method, notes, loyalty_points, status, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, sale.ID, nullInt64(sale.CustomerID), sale.CreatedBy, sale.LocationID, nullIfEmpty(sale.IdempotencyKey),
		sale.SubtotalCents, sale.TaxCents, sale.DiscountCents, sale.TotalCents, sale.PaymentMethod,
		sale.Notes, sale.LoyaltyPoints, sale.Status, sale.CreatedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch {
			case pgErr.Code == codeUniqueViolation && pgErr.ConstraintName == idempotencyConstraint:
				return store.ErrDuplicateIdempotencyKey
			case pgErr.Code == codeForeignKey && pgErr.ConstraintName == customerFKConstraint && sale.CustomerID != nil:
				return domain.NewCustomerNotFound(*sale.CustomerID)
			}
		}
		return mapError(err)
	}

	for i, line := range sale.Lines {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO sale_lines (
				sale_id, line_no, product_id, product_name, quantity, unit_price_cents,
				tax_rate_percent, subtotal_cents, tax_cents
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, sale.ID, i+1, line.ProductID, line.ProductName, line.Quantity, line.UnitPriceCents,
			line.TaxRatePercent, line.SubtotalCents, line.TaxCents)
		if err != nil {
			return mapError(err)
		}
	}
	return nil
}

func (t *pgTx) LockSale(ctx context.Context, id string) (*domain.Sale, error) {
	return findSale(ctx, t.tx, "id", id, "FOR UPDATE")
}

func (t *pgTx) MarkSaleVoided(ctx context.Context, id string, reason string, actor string, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE sales
		SET status = $2, void_reason = $3, voided_by = $4, voided_at = $5
		WHERE id = $1 AND status = $6
	`, id, domain.SaleStatusVoided, reason, actor, at.UTC(), domain.SaleStatusCompleted)
	if err != nil {
		return mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return mapError(err)
	}
	if affected == 0 {
		return domain.NewAlreadyVoided(id)
	}
	return nil
}

func (t *pgTx) AccrueLoyaltyPoints(ctx context.Context, customerID int64, points int64) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE customers SET loyalty_points = loyalty_points + $1 WHERE id = $2
	`, points, customerID)
	if err != nil {
		return mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return mapError(err)
	}
	if affected == 0 {
		return domain.NewCustomerNotFound(customerID)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(row scanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Name, &p.Category, &p.PriceCents, &p.Quantity, &p.MinStock,
		&p.TaxRatePercent, &p.LocationID, &p.Active)
	return p, err
}

func scanSale(row scanner) (domain.Sale, error) {
	var (
		sale       domain.Sale
		customerID sql.NullInt64
		idemKey    sql.NullString
		voidReason sql.NullString
		voidedBy   sql.NullString
		voidedAt   sql.NullTime
	)
	err := row.Scan(&sale.ID, &customerID, &sale.CreatedBy, &sale.LocationID, &idemKey,
		&sale.SubtotalCents, &sale.TaxCents, &sale.DiscountCents, &sale.TotalCents, &sale.PaymentMethod,
		&sale.Notes, &sale.LoyaltyPoints, &sale.Status, &voidReason, &voidedBy, &sale.CreatedAt, &voidedAt)
	if err != nil {
		return domain.Sale{}, err
	}
	if customerID.Valid {
		id := customerID.Int64
		sale.CustomerID = &id
	}
	sale.IdempotencyKey = idemKey.String
	sale.VoidReason = voidReason.String
	sale.VoidedBy = voidedBy.String
	sale.CreatedAt = sale.CreatedAt.UTC()
	if voidedAt.Valid {
		at := voidedAt.Time.UTC()
		sale.VoidedAt = &at
	}
	return sale, nil
}

func loadLines(ctx context.Context, q queryer, saleIDs []string) (map[string][]domain.SaleLine, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT sale_id, product_id, product_name, quantity, unit_price_cents, tax_rate_percent, subtotal_cents, tax_cents
		FROM sale_lines
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, line_no
	`, saleIDs)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := make(map[string][]domain.SaleLine, len(saleIDs))
	for rows.Next() {
		var saleID string
		var line domain.SaleLine
		if err := rows.Scan(&saleID, &line.ProductID, &line.ProductName, &line.Quantity, &line.UnitPriceCents,
			&line.TaxRatePercent, &line.SubtotalCents, &line.TaxCents); err != nil {
			return nil, mapError(err)
		}
		out[saleID] = append(out[saleID], line)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

// mapError translates driver failures into the domain error kinds. Errors that
// already carry a kind pass through untouched.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) || errors.Is(err, store.ErrDuplicateIdempotencyKey) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeLockNotAvailable, codeQueryCanceled, codeDeadlock, codeSerialization:
			return domain.NewTimeout(err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.NewTimeout(err)
	}
	return domain.NewDatabaseError(err)
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullInt64(val *int64) any {
	if val == nil {
		return nil
	}
	return *val
}
