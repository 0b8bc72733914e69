package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/pricing"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

const saleColumns = `id, number, channel, status, COALESCE(customer_id, ''), cashier_username, terminal_id,
	COALESCE(idempotency_key, ''), payment_method, payment_reference, subtotal_cents, discount_cents, tax_cents,
	total_cents, amount_paid_cents, change_cents, refunded_cents, loyalty_points_earned, tax_inclusive, notes,
	cancel_reason, created_at, completed_at, cancelled_at`

func scanSale(row rowScanner) (domain.Sale, error) {
	var sale domain.Sale
	var completedAt, cancelledAt sql.NullTime
	err := row.Scan(
		&sale.ID, &sale.Number, &sale.Channel, &sale.Status, &sale.CustomerID, &sale.CashierUsername, &sale.TerminalID,
		&sale.IdempotencyKey, &sale.PaymentMethod, &sale.PaymentReference, &sale.SubtotalCents, &sale.DiscountCents, &sale.TaxCents,
		&sale.TotalCents, &sale.AmountPaidCents, &sale.ChangeCents, &sale.RefundedCents, &sale.LoyaltyPointsEarned, &sale.TaxInclusive, &sale.Notes,
		&sale.CancelReason, &sale.CreatedAt, &completedAt, &cancelledAt,
	)
	sale.CreatedAt = sale.CreatedAt.UTC()
	sale.CompletedAt = timePtr(completedAt)
	sale.CancelledAt = timePtr(cancelledAt)
	return sale, err
}

// loadItems returns the items of each sale in line order.
func loadItems(ctx context.Context, q queryer, saleIDs []string, lock bool) (map[string][]domain.SaleItem, error) {
	query := `
		SELECT sale_id, id, product_id, sku, name, category, qty, unit_price_cents, unit_cost_cents,
			discount_cents, net_cents, tax_cents, total_cents, returned_qty, refunded_cents
		FROM sale_items
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, line_no`
	if lock {
		query += " FOR UPDATE"
	}
	rows, err := q.QueryContext(ctx, query, saleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make(map[string][]domain.SaleItem, len(saleIDs))
	for rows.Next() {
		var saleID string
		var item domain.SaleItem
		if err := rows.Scan(&saleID, &item.ID, &item.ProductID, &item.SKU, &item.Name, &item.Category, &item.Qty,
			&item.UnitPriceCents, &item.UnitCostCents, &item.DiscountCents, &item.NetCents, &item.TaxCents,
			&item.TotalCents, &item.ReturnedQty, &item.RefundedCents); err != nil {
			return nil, err
		}
		items[saleID] = append(items[saleID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func getSale(ctx context.Context, q queryer, column string, value string, lock bool) (*domain.Sale, error) {
	query := "SELECT " + saleColumns + " FROM sales WHERE " + column + " = $1"
	if lock {
		query += " FOR UPDATE"
	}
	sale, err := scanSale(q.QueryRowContext(ctx, query, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("sale %s: %w", value, store.ErrNotFound)
		}
		return nil, err
	}
	items, err := loadItems(ctx, q, []string{sale.ID}, lock)
	if err != nil {
		return nil, err
	}
	sale.Items = items[sale.ID]
	return &sale, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	return getSale(ctx, s.db, "id", id, false)
}

func (s *Store) GetSaleByNumber(ctx context.Context, number string) (*domain.Sale, error) {
	return getSale(ctx, s.db, "number", number, false)
}

func (s *Store) FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error) {
	return getSale(ctx, s.db, "idempotency_key", key, false)
}

// CreateSale stores a priced sale, numbers it and takes its items out of
// stock. A sale whose idempotency key was already used returns the original.
func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.IdempotencyKey != "" {
		existing, err := s.FindSaleByIdempotency(ctx, sale.IdempotencyKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	if len(sale.Items) == 0 || sale.Channel == "" {
		return nil, store.ErrInvalidTransaction
	}
	if sale.Status != domain.SaleStatusPending && sale.Status != domain.SaleStatusCompleted {
		return nil, store.ErrInvalidTransaction
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	if sale.Status == domain.SaleStatusCompleted && sale.CompletedAt == nil {
		completedAt := sale.CreatedAt
		sale.CompletedAt = &completedAt
	}
	createdBy := sale.CashierUsername
	if createdBy == "" {
		createdBy = sale.Channel
	}
	productIDs := make([]string, 0, len(sale.Items))
	for i := range sale.Items {
		if sale.Items[i].Qty < 1 {
			return nil, store.ErrInvalidTransaction
		}
		if sale.Items[i].ID == "" {
			sale.Items[i].ID = xid.New("sli")
		}
		productIDs = append(productIDs, sale.Items[i].ProductID)
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if sale.CustomerID != "" {
			var found int
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM customers WHERE id = $1 FOR UPDATE`, sale.CustomerID).Scan(&found)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("customer %s: %w", sale.CustomerID, store.ErrNotFound)
			}
			if err != nil {
				return err
			}
		}

		products, err := lockProducts(ctx, tx, productIDs)
		if err != nil {
			return err
		}
		movedAt := time.Now().UTC()
		for _, item := range sale.Items {
			product, ok := products[item.ProductID]
			if !ok || !product.Active {
				return fmt.Errorf("product %s unavailable: %w", item.ProductID, store.ErrInvalidTransaction)
			}
			if _, err := moveStock(ctx, tx, product, -item.Qty, domain.StockChange{
				Type:          domain.MovementSale,
				ReferenceType: "sale",
				ReferenceID:   sale.ID,
				CreatedBy:     createdBy,
			}, movedAt); err != nil {
				return err
			}
		}

		var seq int
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO sale_counters (day, last_value)
			VALUES ($1::date, 1)
			ON CONFLICT (day) DO UPDATE SET last_value = sale_counters.last_value + 1
			RETURNING last_value
		`, sale.CreatedAt.Format("2006-01-02")).Scan(&seq); err != nil {
			return err
		}
		sale.Number = store.SaleNumber(sale.CreatedAt, seq)
		sale.CreatedAt = sale.CreatedAt.UTC()

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sales (
				id, number, channel, status, customer_id, cashier_username, terminal_id, idempotency_key,
				payment_method, payment_reference, subtotal_cents, discount_cents, tax_cents, total_cents,
				amount_paid_cents, change_cents, refunded_cents, loyalty_points_earned, tax_inclusive, notes,
				cancel_reason, created_at, completed_at, cancelled_at
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)
		`, sale.ID, sale.Number, sale.Channel, sale.Status, nullIfEmpty(sale.CustomerID), sale.CashierUsername, sale.TerminalID,
			nullIfEmpty(sale.IdempotencyKey), sale.PaymentMethod, sale.PaymentReference, sale.SubtotalCents, sale.DiscountCents,
			sale.TaxCents, sale.TotalCents, sale.AmountPaidCents, sale.ChangeCents, sale.RefundedCents, sale.LoyaltyPointsEarned,
			sale.TaxInclusive, sale.Notes, sale.CancelReason, sale.CreatedAt, nullTime(sale.CompletedAt), nullTime(sale.CancelledAt)); err != nil {
			return err
		}

		for i, item := range sale.Items {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO sale_items (
					id, sale_id, line_no, product_id, sku, name, category, qty, unit_price_cents, unit_cost_cents,
					discount_cents, net_cents, tax_cents, total_cents, returned_qty, refunded_cents
				)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
			`, item.ID, sale.ID, i+1, item.ProductID, item.SKU, item.Name, item.Category, item.Qty, item.UnitPriceCents,
				item.UnitCostCents, item.DiscountCents, item.NetCents, item.TaxCents, item.TotalCents, item.ReturnedQty, item.RefundedCents); err != nil {
				return err
			}
		}

		if sale.Status == domain.SaleStatusCompleted {
			return applyCustomerSale(ctx, tx, sale)
		}
		return nil
	})
	if err != nil {
		if sale.IdempotencyKey != "" && isUniqueViolation(err) {
			return s.FindSaleByIdempotency(ctx, sale.IdempotencyKey)
		}
		return nil, err
	}

	created := sale
	return &created, nil
}

// ListSales returns newest sales first.
func (s *Store) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	q := newQueryBuilder()
	if filter.Status != "" {
		q.where("status = " + q.arg(filter.Status))
	}
	if filter.Channel != "" {
		q.where("channel = " + q.arg(filter.Channel))
	}
	if filter.CustomerID != "" {
		q.where("customer_id = " + q.arg(filter.CustomerID))
	}
	if filter.Cashier != "" {
		q.where("lower(cashier_username) = lower(" + q.arg(filter.Cashier) + ")")
	}
	if filter.Number != "" {
		q.where("upper(number) = upper(" + q.arg(filter.Number) + ")")
	}
	if !filter.From.IsZero() {
		q.where("created_at >= " + q.arg(filter.From))
	}
	if !filter.To.IsZero() {
		q.where("created_at < " + q.arg(filter.To))
	}

	rows, err := s.db.QueryContext(ctx, "SELECT "+saleColumns+" FROM sales"+q.clause()+" ORDER BY created_at DESC, id DESC"+q.page(filter.Limit, filter.Offset), q.args...)
	if err != nil {
		return nil, err
	}
	sales := make([]domain.Sale, 0, 64)
	ids := make([]string, 0, 64)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		sales = append(sales, sale)
		ids = append(ids, sale.ID)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	if len(ids) == 0 {
		return sales, nil
	}
	items, err := loadItems(ctx, s.db, ids, false)
	if err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i].Items = items[sales[i].ID]
	}
	return sales, nil
}

func (s *Store) CompleteSale(ctx context.Context, id string, payment domain.SalePayment) (*domain.Sale, error) {
	completedAt := payment.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}

	var result *domain.Sale
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		sale, err := getSale(ctx, tx, "id", id, true)
		if err != nil {
			return err
		}
		if sale.Status != domain.SaleStatusPending {
			return fmt.Errorf("sale %s is %s: %w", sale.Number, sale.Status, store.ErrConflict)
		}

		sale.Status = domain.SaleStatusCompleted
		sale.PaymentMethod = payment.Method
		sale.PaymentReference = payment.Reference
		sale.AmountPaidCents = payment.AmountPaidCents
		sale.ChangeCents = payment.ChangeCents
		sale.LoyaltyPointsEarned = payment.LoyaltyPoints
		sale.CompletedAt = &completedAt

		if _, err := tx.ExecContext(ctx, `
			UPDATE sales
			SET status = $2, payment_method = $3, payment_reference = $4, amount_paid_cents = $5,
				change_cents = $6, loyalty_points_earned = $7, completed_at = $8
			WHERE id = $1
		`, sale.ID, sale.Status, sale.PaymentMethod, sale.PaymentReference, sale.AmountPaidCents,
			sale.ChangeCents, sale.LoyaltyPointsEarned, completedAt); err != nil {
			return err
		}
		if err := applyCustomerSale(ctx, tx, *sale); err != nil {
			return err
		}
		result = sale
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CancelSale puts back whatever has not been returned yet and undoes the
// customer figures of a completed sale.
func (s *Store) CancelSale(ctx context.Context, id string, reason string, cancelledBy string, at time.Time) (*domain.Sale, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	var result *domain.Sale
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		sale, err := getSale(ctx, tx, "id", id, true)
		if err != nil {
			return err
		}
		if sale.Status != domain.SaleStatusPending && sale.Status != domain.SaleStatusCompleted {
			return fmt.Errorf("sale %s is %s: %w", sale.Number, sale.Status, store.ErrConflict)
		}

		productIDs := make([]string, 0, len(sale.Items))
		for _, item := range sale.Items {
			productIDs = append(productIDs, item.ProductID)
		}
		products, err := lockProducts(ctx, tx, productIDs)
		if err != nil {
			return err
		}
		for _, item := range sale.Items {
			qty := item.Qty - item.ReturnedQty
			if qty <= 0 {
				continue
			}
			product, ok := products[item.ProductID]
			if !ok {
				return fmt.Errorf("product %s: %w", item.ProductID, store.ErrNotFound)
			}
			if _, err := moveStock(ctx, tx, product, qty, domain.StockChange{
				Type:          domain.MovementCancel,
				ReferenceType: "sale",
				ReferenceID:   sale.ID,
				Notes:         reason,
				CreatedBy:     cancelledBy,
			}, at); err != nil {
				return err
			}
		}

		if sale.Status == domain.SaleStatusCompleted && sale.CustomerID != "" {
			if _, err := tx.ExecContext(ctx, `
				UPDATE customers
				SET total_spent_cents = GREATEST(total_spent_cents - $2, 0),
					visit_count = GREATEST(visit_count - 1, 0),
					loyalty_points = GREATEST(loyalty_points - $3, 0),
					updated_at = now()
				WHERE id = $1
			`, sale.CustomerID, sale.TotalCents-sale.RefundedCents, sale.LoyaltyPointsEarned); err != nil {
				return err
			}
		}

		sale.Status = domain.SaleStatusCancelled
		sale.CancelReason = reason
		sale.CancelledAt = &at
		if _, err := tx.ExecContext(ctx, `
			UPDATE sales
			SET status = $2, cancel_reason = $3, cancelled_at = $4
			WHERE id = $1
		`, sale.ID, sale.Status, reason, at); err != nil {
			return err
		}
		result = sale
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReturnSaleItems refunds and restocks returned units of a completed sale.
// The sale becomes refunded once every unit has come back.
func (s *Store) ReturnSaleItems(ctx context.Context, ret domain.SaleReturn) (*domain.Sale, *domain.SaleReturn, error) {
	if len(ret.Items) == 0 {
		return nil, nil, store.ErrInvalidTransaction
	}
	if ret.ID == "" {
		ret.ID = xid.New("ret")
	}
	if ret.CreatedAt.IsZero() {
		ret.CreatedAt = time.Now().UTC()
	}
	requested := ret.Items

	var result *domain.Sale
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		sale, err := getSale(ctx, tx, "id", ret.SaleID, true)
		if err != nil {
			return err
		}
		if sale.Status != domain.SaleStatusCompleted {
			return fmt.Errorf("sale %s is %s: %w", sale.Number, sale.Status, store.ErrConflict)
		}

		productIDs := make([]string, 0, len(sale.Items))
		for _, item := range sale.Items {
			productIDs = append(productIDs, item.ProductID)
		}
		products, err := lockProducts(ctx, tx, productIDs)
		if err != nil {
			return err
		}

		lines := make([]domain.SaleReturnItem, 0, len(requested))
		refundTotal := int64(0)
		for _, line := range requested {
			idx := slices.IndexFunc(sale.Items, func(item domain.SaleItem) bool { return item.ID == line.SaleItemID })
			if idx < 0 || line.Qty < 1 {
				return fmt.Errorf("sale item %s: %w", line.SaleItemID, store.ErrInvalidTransaction)
			}
			item := &sale.Items[idx]
			if item.ReturnedQty+line.Qty > item.Qty {
				return fmt.Errorf("sale item %s has %d returnable: %w", item.ID, item.Qty-item.ReturnedQty, store.ErrInvalidTransaction)
			}
			refund := pricing.LineRefund(item.TotalCents, item.Qty, item.ReturnedQty, item.RefundedCents, line.Qty)
			item.ReturnedQty += line.Qty
			item.RefundedCents += refund

			product, ok := products[item.ProductID]
			if !ok {
				return fmt.Errorf("product %s: %w", item.ProductID, store.ErrNotFound)
			}
			if _, err := moveStock(ctx, tx, product, line.Qty, domain.StockChange{
				Type:          domain.MovementReturn,
				ReferenceType: "sale_return",
				ReferenceID:   ret.ID,
				Notes:         ret.Reason,
				CreatedBy:     ret.CreatedBy,
			}, ret.CreatedAt); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE sale_items SET returned_qty = $2, refunded_cents = $3 WHERE id = $1
			`, item.ID, item.ReturnedQty, item.RefundedCents); err != nil {
				return err
			}

			lines = append(lines, domain.SaleReturnItem{
				SaleItemID:  item.ID,
				ProductID:   item.ProductID,
				Qty:         line.Qty,
				RefundCents: refund,
			})
			refundTotal += refund
		}

		sale.RefundedCents += refundTotal
		if fullyReturned(sale.Items) {
			sale.Status = domain.SaleStatusRefunded
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE sales SET refunded_cents = $2, status = $3 WHERE id = $1
		`, sale.ID, sale.RefundedCents, sale.Status); err != nil {
			return err
		}

		itemsJSON, err := json.Marshal(lines)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sale_returns (id, sale_id, items, refund_cents, reason, created_by, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, ret.ID, sale.ID, itemsJSON, refundTotal, ret.Reason, ret.CreatedBy, ret.CreatedAt); err != nil {
			return err
		}

		if sale.CustomerID != "" {
			if _, err := tx.ExecContext(ctx, `
				UPDATE customers
				SET total_spent_cents = GREATEST(total_spent_cents - $2, 0), updated_at = now()
				WHERE id = $1
			`, sale.CustomerID, refundTotal); err != nil {
				return err
			}
		}

		ret.Items = lines
		ret.RefundCents = refundTotal
		result = sale
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	saved := ret
	return result, &saved, nil
}

func applyCustomerSale(ctx context.Context, tx *sql.Tx, sale domain.Sale) error {
	if sale.CustomerID == "" {
		return nil
	}
	at := sale.CreatedAt
	if sale.CompletedAt != nil {
		at = *sale.CompletedAt
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE customers
		SET total_spent_cents = total_spent_cents + $2,
			visit_count = visit_count + 1,
			loyalty_points = loyalty_points + $3,
			last_purchase_at = $4,
			updated_at = now()
		WHERE id = $1
	`, sale.CustomerID, sale.TotalCents, sale.LoyaltyPointsEarned, at)
	return err
}

func fullyReturned(items []domain.SaleItem) bool {
	for _, item := range items {
		if item.ReturnedQty < item.Qty {
			return false
		}
	}
	return true
}
