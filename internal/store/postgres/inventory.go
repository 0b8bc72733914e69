package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

// lockProducts row-locks the given products in id order so concurrent
// movements over overlapping products cannot deadlock.
func lockProducts(ctx context.Context, tx *sql.Tx, ids []string) (map[string]*domain.Product, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, uniqueSorted(ids))
	if err != nil {
		return nil, err
	}
	products, err := collectProducts(rows)
	if err != nil {
		return nil, err
	}
	locked := make(map[string]*domain.Product, len(products))
	for i := range products {
		locked[products[i].ID] = &products[i]
	}
	return locked, nil
}

// moveStock changes a locked product's quantity by delta and appends the
// ledger row in the same transaction.
func moveStock(ctx context.Context, tx *sql.Tx, product *domain.Product, delta int, change domain.StockChange, at time.Time) (domain.InventoryTransaction, error) {
	previous := product.StockQuantity
	next := previous + delta
	if next < 0 {
		return domain.InventoryTransaction{}, fmt.Errorf("%s has %d in stock: %w", product.SKU, previous, store.ErrInsufficientStock)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE products
		SET stock_quantity = $2, updated_at = $3
		WHERE id = $1
	`, product.ID, next, at); err != nil {
		return domain.InventoryTransaction{}, err
	}
	product.StockQuantity = next
	product.UpdatedAt = at

	entry := domain.InventoryTransaction{
		ID:               xid.New("itx"),
		ProductID:        product.ID,
		SKU:              product.SKU,
		Type:             change.Type,
		Quantity:         delta,
		PreviousQuantity: previous,
		NewQuantity:      next,
		ReferenceType:    change.ReferenceType,
		ReferenceID:      change.ReferenceID,
		Notes:            change.Notes,
		CreatedBy:        change.CreatedBy,
		CreatedAt:        at,
	}
	if err := insertLedger(ctx, tx, entry); err != nil {
		return domain.InventoryTransaction{}, err
	}
	return entry, nil
}

func insertLedger(ctx context.Context, q queryer, entry domain.InventoryTransaction) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO inventory_transactions (
			id, product_id, sku, type, quantity, previous_quantity, new_quantity,
			reference_type, reference_id, notes, created_by, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, entry.ID, entry.ProductID, entry.SKU, entry.Type, entry.Quantity, entry.PreviousQuantity, entry.NewQuantity,
		entry.ReferenceType, entry.ReferenceID, entry.Notes, entry.CreatedBy, entry.CreatedAt)
	return err
}

// ApplyStockChanges applies every change or none of them.
func (s *Store) ApplyStockChanges(ctx context.Context, changes []domain.StockChange) ([]domain.InventoryTransaction, error) {
	if len(changes) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	ids := make([]string, 0, len(changes))
	for _, change := range changes {
		ids = append(ids, change.ProductID)
	}

	var entries []domain.InventoryTransaction
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		entries = make([]domain.InventoryTransaction, 0, len(changes))
		products, err := lockProducts(ctx, tx, ids)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		for _, change := range changes {
			product, ok := products[change.ProductID]
			if !ok {
				return fmt.Errorf("product %s: %w", change.ProductID, store.ErrNotFound)
			}
			delta := change.Quantity
			if change.Absolute {
				if change.Quantity < 0 {
					return store.ErrInvalidTransaction
				}
				delta = change.Quantity - product.StockQuantity
				if delta == 0 {
					continue
				}
			} else if delta == 0 {
				return store.ErrInvalidTransaction
			}
			entry, err := moveStock(ctx, tx, product, delta, change, now)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// ListInventoryTransactions returns newest entries first.
func (s *Store) ListInventoryTransactions(ctx context.Context, filter domain.InventoryFilter) ([]domain.InventoryTransaction, error) {
	q := newQueryBuilder()
	if filter.ProductID != "" {
		q.where("product_id = " + q.arg(filter.ProductID))
	}
	if filter.Type != "" {
		q.where("type = " + q.arg(filter.Type))
	}
	if !filter.From.IsZero() {
		q.where("created_at >= " + q.arg(filter.From))
	}
	if !filter.To.IsZero() {
		q.where("created_at < " + q.arg(filter.To))
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, sku, type, quantity, previous_quantity, new_quantity,
			reference_type, reference_id, notes, created_by, created_at
		FROM inventory_transactions`+q.clause()+`
		ORDER BY seq DESC`+q.page(filter.Limit, 0), q.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.InventoryTransaction, 0, 64)
	for rows.Next() {
		var e domain.InventoryTransaction
		if err := rows.Scan(&e.ID, &e.ProductID, &e.SKU, &e.Type, &e.Quantity, &e.PreviousQuantity, &e.NewQuantity,
			&e.ReferenceType, &e.ReferenceID, &e.Notes, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
