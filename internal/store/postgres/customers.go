package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/textsearch"
	"retailpos/backend/internal/xid"
)

const customerColumns = `id, name, COALESCE(email, ''), phone, address, notes, loyalty_points, total_spent_cents,
	visit_count, last_purchase_at, created_at, updated_at`

func scanCustomer(row rowScanner) (domain.Customer, error) {
	var c domain.Customer
	var lastPurchase sql.NullTime
	err := row.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Address, &c.Notes, &c.LoyaltyPoints, &c.TotalSpentCents,
		&c.VisitCount, &lastPurchase, &c.CreatedAt, &c.UpdatedAt)
	c.LastPurchaseAt = timePtr(lastPurchase)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, err
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	customer.Name = strings.TrimSpace(customer.Name)
	customer.Email = strings.ToLower(strings.TrimSpace(customer.Email))
	if customer.Name == "" {
		return nil, store.ErrInvalidTransaction
	}
	now := time.Now().UTC()
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	customer.CreatedAt = now
	customer.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, email, phone, address, notes, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
	`, customer.ID, customer.Name, nullIfEmpty(customer.Email), customer.Phone, customer.Address, customer.Notes, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("email %s already registered: %w", customer.Email, store.ErrConflict)
		}
		return nil, err
	}
	created := customer
	return &created, nil
}

// UpdateCustomer replaces contact details. Purchase figures are owned by
// the sales operations and are kept.
func (s *Store) UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	customer.Name = strings.TrimSpace(customer.Name)
	customer.Email = strings.ToLower(strings.TrimSpace(customer.Email))
	if customer.Name == "" {
		return nil, store.ErrInvalidTransaction
	}

	updated, err := scanCustomer(s.db.QueryRowContext(ctx, `
		UPDATE customers
		SET name = $2, email = $3, phone = $4, address = $5, notes = $6, updated_at = now()
		WHERE id = $1
		RETURNING `+customerColumns,
		customer.ID, customer.Name, nullIfEmpty(customer.Email), customer.Phone, customer.Address, customer.Notes))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("customer %s: %w", customer.ID, store.ErrNotFound)
		}
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("email %s already registered: %w", customer.Email, store.ErrConflict)
		}
		return nil, err
	}
	return &updated, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	return s.getCustomer(ctx, "id", id)
}

func (s *Store) GetCustomerByEmail(ctx context.Context, email string) (*domain.Customer, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, store.ErrNotFound
	}
	return s.getCustomer(ctx, "email", email)
}

func (s *Store) getCustomer(ctx context.Context, column string, value string) (*domain.Customer, error) {
	customer, err := scanCustomer(s.db.QueryRowContext(ctx, "SELECT "+customerColumns+" FROM customers WHERE "+column+" = $1", value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("customer %s: %w", value, store.ErrNotFound)
		}
		return nil, err
	}
	return &customer, nil
}

func (s *Store) ListCustomers(ctx context.Context, filter domain.CustomerFilter) ([]domain.Customer, error) {
	q := newQueryBuilder()
	for _, token := range textsearch.Tokens(filter.Query) {
		p := q.arg("%" + escapeLike(token) + "%")
		q.where(fmt.Sprintf("(name ILIKE %[1]s OR COALESCE(email, '') ILIKE %[1]s OR phone ILIKE %[1]s)", p))
	}

	rows, err := s.db.QueryContext(ctx, "SELECT "+customerColumns+" FROM customers"+q.clause()+" ORDER BY name, id"+q.page(filter.Limit, filter.Offset), q.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 32)
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

// DeleteCustomer removes the customer; the foreign key unlinks their sales.
func (s *Store) DeleteCustomer(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("customer %s: %w", id, store.ErrNotFound)
	}
	return nil
}
