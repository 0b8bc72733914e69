package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/textsearch"
	"retailpos/backend/internal/xid"
)

// maxTxAttempts bounds retries of serializable transactions that lost a
// conflict with a concurrent writer.
const maxTxAttempts = 3

type Store struct {
	db *sql.DB
}

type rowScanner interface {
	Scan(dest ...any) error
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// inTx runs fn in a serializable transaction, retrying serialization
// failures. fn must be safe to run more than once.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		if err == nil || !isSerializationFailure(err) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", store.ErrConflict, err)
}

func (s *Store) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

const productColumns = `id, sku, COALESCE(barcode, ''), name, description, category, unit, image_url,
	price_cents, cost_cents, stock_quantity, reorder_level, active, online_visible, created_at, updated_at`

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(
		&p.ID, &p.SKU, &p.Barcode, &p.Name, &p.Description, &p.Category, &p.Unit, &p.ImageURL,
		&p.PriceCents, &p.CostCents, &p.StockQuantity, &p.ReorderLevel, &p.Active, &p.OnlineVisible, &p.CreatedAt, &p.UpdatedAt,
	)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, err
}

func collectProducts(rows *sql.Rows) ([]domain.Product, error) {
	defer rows.Close()
	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	q := newQueryBuilder()
	if !filter.IncludeAll {
		q.where("active = true")
	}
	if filter.OnlineOnly {
		q.where("active = true AND online_visible = true")
	}
	if filter.LowStockOnly {
		q.where("stock_quantity <= reorder_level")
	}
	if category := strings.TrimSpace(filter.Category); category != "" {
		q.where("lower(category) = lower(" + q.arg(category) + ")")
	}
	for _, token := range textsearch.Tokens(filter.Query) {
		p := q.arg("%" + escapeLike(token) + "%")
		q.where(fmt.Sprintf("(name ILIKE %[1]s OR sku ILIKE %[1]s OR COALESCE(barcode, '') ILIKE %[1]s OR category ILIKE %[1]s OR description ILIKE %[1]s)", p))
	}

	query := "SELECT " + productColumns + " FROM products" + q.clause() + " ORDER BY category, name" + q.page(filter.Limit, filter.Offset)
	rows, err := s.db.QueryContext(ctx, query, q.args...)
	if err != nil {
		return nil, err
	}
	return collectProducts(rows)
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return s.getProduct(ctx, `WHERE id = $1`, id)
}

func (s *Store) GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	return s.getProduct(ctx, `WHERE lower(sku) = lower($1)`, strings.TrimSpace(sku))
}

func (s *Store) GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return nil, store.ErrNotFound
	}
	return s.getProduct(ctx, `WHERE barcode = $1`, barcode)
}

func (s *Store) getProduct(ctx context.Context, where string, value string) (*domain.Product, error) {
	product, err := scanProduct(s.db.QueryRowContext(ctx, "SELECT "+productColumns+" FROM products "+where, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("product %s: %w", value, store.ErrNotFound)
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product, createdBy string) (*domain.Product, error) {
	if product.SKU == "" || product.Name == "" || product.Category == "" || product.PriceCents < 1 {
		return nil, store.ErrInvalidTransaction
	}
	if product.CostCents < 0 || product.StockQuantity < 0 || product.ReorderLevel < 0 {
		return nil, store.ErrInvalidTransaction
	}

	now := time.Now().UTC()
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if product.Unit == "" {
		product.Unit = "pcs"
	}
	product.CreatedAt = now
	product.UpdatedAt = now

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO products (
				id, sku, barcode, name, description, category, unit, image_url,
				price_cents, cost_cents, stock_quantity, reorder_level, active, online_visible, created_at, updated_at
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$15)
		`, product.ID, product.SKU, nullIfEmpty(product.Barcode), product.Name, product.Description, product.Category, product.Unit, product.ImageURL,
			product.PriceCents, product.CostCents, product.StockQuantity, product.ReorderLevel, product.Active, product.OnlineVisible, now)
		if err != nil {
			return err
		}
		if product.StockQuantity == 0 {
			return nil
		}
		return insertLedger(ctx, tx, domain.InventoryTransaction{
			ID:               xid.New("itx"),
			ProductID:        product.ID,
			SKU:              product.SKU,
			Type:             domain.MovementInitial,
			Quantity:         product.StockQuantity,
			PreviousQuantity: 0,
			NewQuantity:      product.StockQuantity,
			ReferenceType:    "product",
			ReferenceID:      product.ID,
			CreatedBy:        createdBy,
			CreatedAt:        now,
		})
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("sku or barcode already exists: %w", store.ErrConflict)
		}
		return nil, err
	}

	created := product
	return &created, nil
}

// UpdateProduct replaces the catalog fields of a product. Stock is only ever
// changed through ledger operations.
func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.SKU == "" || product.Name == "" || product.Category == "" || product.PriceCents < 1 || product.CostCents < 0 || product.ReorderLevel < 0 {
		return nil, store.ErrInvalidTransaction
	}

	updated, err := scanProduct(s.db.QueryRowContext(ctx, `
		UPDATE products
		SET sku = $2, barcode = $3, name = $4, description = $5, category = $6, unit = $7, image_url = $8,
			price_cents = $9, cost_cents = $10, reorder_level = $11, active = $12, online_visible = $13, updated_at = now()
		WHERE id = $1
		RETURNING `+productColumns,
		product.ID, product.SKU, nullIfEmpty(product.Barcode), product.Name, product.Description, product.Category, product.Unit, product.ImageURL,
		product.PriceCents, product.CostCents, product.ReorderLevel, product.Active, product.OnlineVisible,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("product %s: %w", product.ID, store.ErrNotFound)
		}
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("sku or barcode already exists: %w", store.ErrConflict)
		}
		return nil, err
	}
	return &updated, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]domain.CategorySummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT category, count(*)
		FROM products
		WHERE active = true
		GROUP BY category
		ORDER BY category
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make([]domain.CategorySummary, 0, 16)
	for rows.Next() {
		var c domain.CategorySummary
		if err := rows.Scan(&c.Name, &c.ProductCount); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return categories, nil
}

// queryBuilder collects WHERE conditions and their positional arguments.
type queryBuilder struct {
	conditions []string
	args       []any
}

func newQueryBuilder() *queryBuilder {
	return &queryBuilder{}
}

func (q *queryBuilder) arg(value any) string {
	q.args = append(q.args, value)
	return fmt.Sprintf("$%d", len(q.args))
}

func (q *queryBuilder) where(condition string) {
	q.conditions = append(q.conditions, condition)
}

func (q *queryBuilder) clause() string {
	if len(q.conditions) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(q.conditions, " AND ")
}

func (q *queryBuilder) page(limit int, offset int) string {
	out := ""
	if limit > 0 {
		out += " LIMIT " + q.arg(limit)
	}
	if offset > 0 {
		out += " OFFSET " + q.arg(offset)
	}
	return out
}

func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(value)
}

func uniqueSorted(values []string) []string {
	set := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func timePtr(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	t := val.Time.UTC()
	return &t
}
