package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
)

// ListProducts hides inactive products from everyone but admins.
func (s *Service) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	if filter.IncludeAll {
		if _, err := requireAdmin(ctx); err != nil {
			filter.IncludeAll = false
		}
	}
	return s.repo.ListProducts(ctx, filter)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

// LookupProduct resolves a scanned or typed code by barcode, then by SKU.
func (s *Service) LookupProduct(ctx context.Context, code string) (domain.Product, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Product{}, invalidf("code is required")
	}
	product, err := s.repo.GetProductByBarcode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		product, err = s.repo.GetProductBySKU(ctx, strings.ToUpper(code))
	}
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.Product{}, err
	}

	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.ToLower(strings.TrimSpace(req.Category))
	if req.SKU == "" || req.Name == "" || req.Category == "" {
		return domain.Product{}, invalidf("sku, name and category are required")
	}
	if req.PriceCents < 1 || req.CostCents < 0 || req.InitialStock < 0 {
		return domain.Product{}, invalidf("price must be positive and cost and stock non-negative")
	}

	set, err := s.currentSettings(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	reorder := set.LowStockThreshold
	if req.ReorderLevel != nil {
		if *req.ReorderLevel < 0 {
			return domain.Product{}, invalidf("reorder level must not be negative")
		}
		reorder = *req.ReorderLevel
	}
	online := true
	if req.OnlineVisible != nil {
		online = *req.OnlineVisible
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		SKU:           req.SKU,
		Barcode:       strings.TrimSpace(req.Barcode),
		Name:          req.Name,
		Description:   strings.TrimSpace(req.Description),
		Category:      req.Category,
		Unit:          strings.TrimSpace(req.Unit),
		ImageURL:      strings.TrimSpace(req.ImageURL),
		PriceCents:    req.PriceCents,
		CostCents:     req.CostCents,
		StockQuantity: req.InitialStock,
		ReorderLevel:  reorder,
		Active:        true,
		OnlineVisible: online,
	}, actor.Username)
	if err != nil {
		return domain.Product{}, err
	}

	if created.StockQuantity > 0 {
		s.metrics.RecordMovement(domain.MovementInitial)
	}
	s.invalidate()
	s.logAudit(ctx, "product_create", "product", created.ID, fmt.Sprintf("sku=%s,price=%d,stock=%d", created.SKU, created.PriceCents, created.StockQuantity))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	existing, err := s.repo.GetProduct(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Barcode != nil {
		updated.Barcode = strings.TrimSpace(*req.Barcode)
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, invalidf("name must not be empty")
		}
		updated.Name = name
	}
	if req.Description != nil {
		updated.Description = strings.TrimSpace(*req.Description)
	}
	if req.Category != nil {
		category := strings.ToLower(strings.TrimSpace(*req.Category))
		if category == "" {
			return domain.Product{}, invalidf("category must not be empty")
		}
		updated.Category = category
	}
	if req.Unit != nil {
		updated.Unit = strings.TrimSpace(*req.Unit)
	}
	if req.ImageURL != nil {
		updated.ImageURL = strings.TrimSpace(*req.ImageURL)
	}
	if req.PriceCents != nil {
		if *req.PriceCents < 1 {
			return domain.Product{}, invalidf("price must be positive")
		}
		updated.PriceCents = *req.PriceCents
	}
	if req.CostCents != nil {
		if *req.CostCents < 0 {
			return domain.Product{}, invalidf("cost must not be negative")
		}
		updated.CostCents = *req.CostCents
	}
	if req.ReorderLevel != nil {
		if *req.ReorderLevel < 0 {
			return domain.Product{}, invalidf("reorder level must not be negative")
		}
		updated.ReorderLevel = *req.ReorderLevel
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}
	if req.OnlineVisible != nil {
		updated.OnlineVisible = *req.OnlineVisible
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.invalidate()
	s.logAudit(ctx, "product_update", "product", saved.ID, fmt.Sprintf("active=%t,price=%d,cost=%d", saved.Active, saved.PriceCents, saved.CostCents))
	return *saved, nil
}

// DeactivateProduct hides a product from the POS and the storefront. Sales
// and ledger rows keep referencing it.
func (s *Service) DeactivateProduct(ctx context.Context, id string) (domain.Product, error) {
	inactive := false
	return s.UpdateProduct(ctx, id, domain.ProductUpdateRequest{Active: &inactive})
}

func (s *Service) ListCategories(ctx context.Context) ([]domain.CategorySummary, error) {
	return s.repo.ListCategories(ctx)
}

func (s *Service) LowStock(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, domain.ProductFilter{LowStockOnly: true})
}
