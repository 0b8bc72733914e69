package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/asaskevich/govalidator"

	"retailpos/backend/internal/domain"
)

func (s *Service) ListCustomers(ctx context.Context, filter domain.CustomerFilter) ([]domain.Customer, error) {
	if filter.Limit < 1 || filter.Limit > 200 {
		filter.Limit = 50
	}
	return s.repo.ListCustomers(ctx, filter)
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	customer, err := s.repo.GetCustomer(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerRequest) (domain.Customer, error) {
	var customer domain.Customer
	if err := applyCustomer(&customer, req); err != nil {
		return domain.Customer{}, err
	}
	if customer.Name == "" {
		return domain.Customer{}, invalidf("customer name is required")
	}

	created, err := s.repo.CreateCustomer(ctx, customer)
	if err != nil {
		return domain.Customer{}, err
	}
	s.logAudit(ctx, "customer_create", "customer", created.ID, customerLabel(*created))
	return *created, nil
}

func (s *Service) UpdateCustomer(ctx context.Context, id string, req domain.CustomerRequest) (domain.Customer, error) {
	existing, err := s.repo.GetCustomer(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Customer{}, err
	}
	updated := *existing
	if err := applyCustomer(&updated, req); err != nil {
		return domain.Customer{}, err
	}
	if updated.Name == "" {
		return domain.Customer{}, invalidf("customer name is required")
	}

	saved, err := s.repo.UpdateCustomer(ctx, updated)
	if err != nil {
		return domain.Customer{}, err
	}
	s.logAudit(ctx, "customer_update", "customer", saved.ID, customerLabel(*saved))
	return *saved, nil
}

// DeleteCustomer removes a customer; their past sales stay, unlinked.
func (s *Service) DeleteCustomer(ctx context.Context, id string) error {
	if _, err := requireAdmin(ctx); err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if err := s.repo.DeleteCustomer(ctx, id); err != nil {
		return err
	}
	s.invalidate()
	s.logAudit(ctx, "customer_delete", "customer", id, "")
	return nil
}

// CustomerSales is the purchase history of a customer, newest first.
func (s *Service) CustomerSales(ctx context.Context, id string, limit int) ([]domain.Sale, error) {
	customer, err := s.repo.GetCustomer(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	return s.ListSales(ctx, domain.SaleFilter{CustomerID: customer.ID, Limit: limit})
}

func applyCustomer(c *domain.Customer, req domain.CustomerRequest) error {
	if req.Name != nil {
		c.Name = strings.TrimSpace(*req.Name)
	}
	if req.Email != nil {
		email, err := normalizeEmail(*req.Email)
		if err != nil {
			return err
		}
		c.Email = email
	}
	if req.Phone != nil {
		c.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.Address != nil {
		c.Address = strings.TrimSpace(*req.Address)
	}
	if req.Notes != nil {
		c.Notes = strings.TrimSpace(*req.Notes)
	}
	return nil
}

// normalizeEmail lowercases a bare address. An empty value is allowed.
func normalizeEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	if !govalidator.StringLength(raw, "3", "254") || !govalidator.IsEmail(raw) {
		return "", invalidf("invalid email %q", raw)
	}
	return strings.ToLower(raw), nil
}

func customerLabel(c domain.Customer) string {
	if c.Email != "" {
		return fmt.Sprintf("%s <%s>", c.Name, c.Email)
	}
	return c.Name
}
