package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/pricing"
	"retailpos/backend/internal/store"
)

var errStorefrontDisabled = fmt.Errorf("storefront is disabled: %w", store.ErrNotFound)

func (s *Service) storefrontSettings(ctx context.Context) (domain.Settings, error) {
	set, err := s.currentSettings(ctx)
	if err != nil {
		return domain.Settings{}, err
	}
	if !set.StorefrontEnabled {
		return domain.Settings{}, errStorefrontDisabled
	}
	return set, nil
}

// StoreInfo is the public subset of the store settings.
func (s *Service) StoreInfo(ctx context.Context) (domain.StoreInfo, error) {
	set, err := s.storefrontSettings(ctx)
	if err != nil {
		return domain.StoreInfo{}, err
	}
	return domain.StoreInfo{
		Name:          set.StoreName,
		Address:       set.StoreAddress,
		Phone:         set.StorePhone,
		Email:         set.StoreEmail,
		Currency:      set.Currency,
		TaxRate:       set.TaxRatePercent,
		TaxInclusive:  set.TaxInclusive,
		ReceiptFooter: set.ReceiptFooter,
	}, nil
}

func toStoreProduct(p domain.Product) domain.StoreProduct {
	return domain.StoreProduct{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Category:    p.Category,
		Unit:        p.Unit,
		ImageURL:    p.ImageURL,
		PriceCents:  p.PriceCents,
		InStock:     p.StockQuantity > 0,
	}
}

func (s *Service) StoreProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.StoreProduct, error) {
	if _, err := s.storefrontSettings(ctx); err != nil {
		return nil, err
	}
	if filter.Limit < 1 || filter.Limit > 100 {
		filter.Limit = 50
	}
	products, err := s.repo.ListProducts(ctx, domain.ProductFilter{
		Query:      filter.Query,
		Category:   filter.Category,
		OnlineOnly: true,
		Limit:      filter.Limit,
		Offset:     filter.Offset,
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.StoreProduct, 0, len(products))
	for _, p := range products {
		out = append(out, toStoreProduct(p))
	}
	return out, nil
}

func (s *Service) StoreProduct(ctx context.Context, id string) (domain.StoreProduct, error) {
	if _, err := s.storefrontSettings(ctx); err != nil {
		return domain.StoreProduct{}, err
	}
	product, err := s.repo.GetProduct(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.StoreProduct{}, err
	}
	if !product.Active || !product.OnlineVisible {
		return domain.StoreProduct{}, fmt.Errorf("product %s: %w", id, store.ErrNotFound)
	}
	return toStoreProduct(*product), nil
}

// PlaceOrder records an online order as a pending sale with its stock
// reserved. The customer is matched by email or created.
func (s *Service) PlaceOrder(ctx context.Context, req domain.StoreOrderRequest) (domain.StoreOrder, bool, error) {
	set, err := s.storefrontSettings(ctx)
	if err != nil {
		return domain.StoreOrder{}, false, err
	}

	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.IdempotencyKey != "" {
		if existing, err := s.repo.FindSaleByIdempotency(ctx, req.IdempotencyKey); err == nil {
			return toStoreOrder(*existing), true, nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return domain.StoreOrder{}, false, err
		}
	}

	req.Name = strings.TrimSpace(req.Name)
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return domain.StoreOrder{}, false, err
	}
	if req.Name == "" || email == "" {
		return domain.StoreOrder{}, false, invalidf("name and email are required")
	}
	method := normalizeMethod(req.PaymentMethod)
	if !pricing.SupportedMethod(method) {
		return domain.StoreOrder{}, false, invalidf("unsupported payment method %q", method)
	}
	for _, item := range req.Items {
		if item.DiscountCents != 0 {
			return domain.StoreOrder{}, false, invalidf("discounts are not available online")
		}
	}

	cart, err := s.priceCart(ctx, req.Items, nil, set, true)
	if err != nil {
		return domain.StoreOrder{}, false, err
	}
	customer, err := s.customerForOrder(ctx, req, email)
	if err != nil {
		return domain.StoreOrder{}, false, err
	}

	sale := newSale(domain.ChannelOnline, set, cart)
	sale.Status = domain.SaleStatusPending
	sale.CustomerID = customer.ID
	sale.IdempotencyKey = req.IdempotencyKey
	sale.PaymentMethod = method
	sale.Notes = strings.TrimSpace(req.Notes)

	resp, err := s.createSale(ctx, sale, "store_order")
	if err != nil {
		return domain.StoreOrder{}, false, err
	}
	return toStoreOrder(resp.Sale), resp.Duplicate, nil
}

func (s *Service) customerForOrder(ctx context.Context, req domain.StoreOrderRequest, email string) (*domain.Customer, error) {
	existing, err := s.repo.GetCustomerByEmail(ctx, email)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		Name:    req.Name,
		Email:   email,
		Phone:   strings.TrimSpace(req.Phone),
		Address: strings.TrimSpace(req.Address),
	})
	if errors.Is(err, store.ErrConflict) {
		// Created by a concurrent order with the same email.
		return s.repo.GetCustomerByEmail(ctx, email)
	}
	return created, err
}

// OrderStatus looks up an online order. The email must match the order's
// customer so order numbers cannot be enumerated.
func (s *Service) OrderStatus(ctx context.Context, number string, email string) (domain.StoreOrder, error) {
	if _, err := s.storefrontSettings(ctx); err != nil {
		return domain.StoreOrder{}, err
	}
	notFound := fmt.Errorf("order %s: %w", number, store.ErrNotFound)

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return domain.StoreOrder{}, invalidf("email is required")
	}
	sale, err := s.repo.GetSaleByNumber(ctx, strings.ToUpper(strings.TrimSpace(number)))
	if err != nil {
		return domain.StoreOrder{}, err
	}
	if sale.Channel != domain.ChannelOnline || sale.CustomerID == "" {
		return domain.StoreOrder{}, notFound
	}
	customer, err := s.repo.GetCustomer(ctx, sale.CustomerID)
	if err != nil || customer.Email != email {
		return domain.StoreOrder{}, notFound
	}
	return toStoreOrder(*sale), nil
}

func toStoreOrder(sale domain.Sale) domain.StoreOrder {
	lines := make([]domain.StoreOrderLine, 0, len(sale.Items))
	for _, item := range sale.Items {
		lines = append(lines, domain.StoreOrderLine{
			Name:           item.Name,
			Qty:            item.Qty,
			UnitPriceCents: item.UnitPriceCents,
			TotalCents:     item.TotalCents,
		})
	}
	return domain.StoreOrder{
		Number:        sale.Number,
		Status:        sale.Status,
		PaymentMethod: sale.PaymentMethod,
		SubtotalCents: sale.SubtotalCents,
		DiscountCents: sale.DiscountCents,
		TaxCents:      sale.TaxCents,
		TotalCents:    sale.TotalCents,
		Lines:         lines,
		CreatedAt:     sale.CreatedAt,
	}
}
