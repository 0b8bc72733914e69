package service

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/ledger"
	"retailpos/backend/internal/xid"
)

// ReceiveStock books delivered goods in as purchase movements and, when a
// unit cost is given, updates the product's cost.
func (s *Service) ReceiveStock(ctx context.Context, req domain.StockReceiveRequest) (domain.StockMovementResponse, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.StockMovementResponse{}, err
	}
	if len(req.Items) == 0 {
		return domain.StockMovementResponse{}, invalidf("no items to receive")
	}

	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		reference = xid.New("rcv")
	}
	changes := make([]domain.StockChange, 0, len(req.Items))
	for _, item := range req.Items {
		if strings.TrimSpace(item.ProductID) == "" || item.Qty < 1 || item.UnitCostCents < 0 {
			return domain.StockMovementResponse{}, invalidf("each item needs a product and a positive quantity")
		}
		changes = append(changes, domain.StockChange{
			ProductID:     strings.TrimSpace(item.ProductID),
			Quantity:      item.Qty,
			Type:          domain.MovementPurchase,
			ReferenceType: "receipt",
			ReferenceID:   reference,
			Notes:         strings.TrimSpace(req.Notes),
			CreatedBy:     actor.Username,
		})
	}

	txs, err := s.repo.ApplyStockChanges(ctx, changes)
	if err != nil {
		return domain.StockMovementResponse{}, err
	}

	for _, item := range req.Items {
		if item.UnitCostCents <= 0 {
			continue
		}
		product, err := s.repo.GetProduct(ctx, strings.TrimSpace(item.ProductID))
		if err != nil || product.CostCents == item.UnitCostCents {
			continue
		}
		product.CostCents = item.UnitCostCents
		if _, err := s.repo.UpdateProduct(ctx, *product); err != nil {
			s.logger.Warn("failed to update cost after receipt", zap.String("product_id", product.ID), zap.Error(err))
		}
	}

	s.afterStockMoved(ctx, domain.MovementPurchase, productIDs(txs), false)
	s.logAudit(ctx, "stock_receive", "inventory", reference, fmt.Sprintf("items=%d", len(txs)))
	return domain.StockMovementResponse{Transactions: txs}, nil
}

// AdjustStock applies a signed correction such as breakage or shrinkage.
func (s *Service) AdjustStock(ctx context.Context, req domain.StockAdjustRequest) (domain.StockMovementResponse, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.StockMovementResponse{}, err
	}
	req.ProductID = strings.TrimSpace(req.ProductID)
	req.Reason = strings.TrimSpace(req.Reason)
	if req.ProductID == "" || req.Quantity == 0 {
		return domain.StockMovementResponse{}, invalidf("product and a non-zero quantity are required")
	}
	if req.Reason == "" {
		return domain.StockMovementResponse{}, invalidf("adjustment reason is required")
	}

	adjustmentID := xid.New("adj")
	txs, err := s.repo.ApplyStockChanges(ctx, []domain.StockChange{{
		ProductID:     req.ProductID,
		Quantity:      req.Quantity,
		Type:          domain.MovementAdjustment,
		ReferenceType: "adjustment",
		ReferenceID:   adjustmentID,
		Notes:         req.Reason,
		CreatedBy:     actor.Username,
	}})
	if err != nil {
		return domain.StockMovementResponse{}, err
	}

	s.afterStockMoved(ctx, domain.MovementAdjustment, productIDs(txs), req.Quantity < 0)
	s.logAudit(ctx, "stock_adjust", "product", req.ProductID, fmt.Sprintf("qty=%d,reason=%s", req.Quantity, req.Reason))
	return domain.StockMovementResponse{Transactions: txs}, nil
}

// CountStock sets stock to physically counted quantities. Items whose count
// matches the system quantity produce no ledger row.
func (s *Service) CountStock(ctx context.Context, req domain.StockCountRequest) (domain.StockCountResponse, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.StockCountResponse{}, err
	}
	if len(req.Items) == 0 {
		return domain.StockCountResponse{}, invalidf("no items counted")
	}

	countID := xid.New("cnt")
	changes := make([]domain.StockChange, 0, len(req.Items))
	seen := make(map[string]bool, len(req.Items))
	for _, item := range req.Items {
		id := strings.TrimSpace(item.ProductID)
		if id == "" || item.CountedQty < 0 {
			return domain.StockCountResponse{}, invalidf("each item needs a product and a non-negative count")
		}
		if seen[id] {
			return domain.StockCountResponse{}, invalidf("product %s counted twice", id)
		}
		seen[id] = true
		changes = append(changes, domain.StockChange{
			ProductID:     id,
			Quantity:      item.CountedQty,
			Absolute:      true,
			Type:          domain.MovementCount,
			ReferenceType: "stock_count",
			ReferenceID:   countID,
			Notes:         strings.TrimSpace(req.Notes),
			CreatedBy:     actor.Username,
		})
	}

	txs, err := s.repo.ApplyStockChanges(ctx, changes)
	if err != nil {
		return domain.StockCountResponse{}, err
	}

	byProduct := make(map[string]domain.InventoryTransaction, len(txs))
	decreased := false
	for _, tx := range txs {
		byProduct[tx.ProductID] = tx
		if tx.Quantity < 0 {
			decreased = true
		}
	}
	adjustments := make([]domain.StockCountAdjustment, 0, len(req.Items))
	for _, change := range changes {
		adj := domain.StockCountAdjustment{
			ProductID:  change.ProductID,
			SystemQty:  change.Quantity,
			CountedQty: change.Quantity,
		}
		if tx, ok := byProduct[change.ProductID]; ok {
			adj.SKU = tx.SKU
			adj.SystemQty = tx.PreviousQuantity
			adj.DeltaQty = tx.Quantity
		} else if product, err := s.repo.GetProduct(ctx, change.ProductID); err == nil {
			adj.SKU = product.SKU
		}
		adjustments = append(adjustments, adj)
	}

	s.afterStockMoved(ctx, domain.MovementCount, productIDs(txs), decreased)
	s.logAudit(ctx, "stock_count", "inventory", countID, fmt.Sprintf("items=%d,changed=%d", len(req.Items), len(txs)))
	return domain.StockCountResponse{
		CountID:      countID,
		Adjustments:  adjustments,
		Transactions: txs,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

func (s *Service) ListInventoryTransactions(ctx context.Context, filter domain.InventoryFilter) ([]domain.InventoryTransaction, error) {
	if filter.Limit < 1 || filter.Limit > 500 {
		filter.Limit = 100
	}
	if filter.Type != "" && !validMovementType(filter.Type) {
		return nil, invalidf("unknown movement type %q", filter.Type)
	}
	return s.repo.ListInventoryTransactions(ctx, filter)
}

// ReconcileInventory checks the ledger of one product, or of every product
// when productID is empty, against current stock.
func (s *Service) ReconcileInventory(ctx context.Context, productID string) (domain.ReconcileResponse, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.ReconcileResponse{}, err
	}

	var products []domain.Product
	productID = strings.TrimSpace(productID)
	if productID != "" {
		product, err := s.repo.GetProduct(ctx, productID)
		if err != nil {
			return domain.ReconcileResponse{}, err
		}
		products = []domain.Product{*product}
	} else {
		all, err := s.repo.ListProducts(ctx, domain.ProductFilter{IncludeAll: true})
		if err != nil {
			return domain.ReconcileResponse{}, err
		}
		products = all
	}

	entries, err := s.repo.ListInventoryTransactions(ctx, domain.InventoryFilter{ProductID: productID})
	if err != nil {
		return domain.ReconcileResponse{}, err
	}
	// Listed newest first; Verify needs the original order for rows that
	// share a timestamp.
	slices.Reverse(entries)

	byProduct := make(map[string][]domain.InventoryTransaction, len(products))
	for _, entry := range entries {
		byProduct[entry.ProductID] = append(byProduct[entry.ProductID], entry)
	}

	resp := domain.ReconcileResponse{
		Reports:   make([]domain.LedgerReport, 0, len(products)),
		CheckedAt: time.Now().UTC(),
	}
	for _, product := range products {
		report := ledger.Verify(product, byProduct[product.ID])
		if !report.Balanced {
			resp.Unbalanced++
		}
		resp.Reports = append(resp.Reports, report)
	}
	return resp, nil
}

func validMovementType(t string) bool {
	switch t {
	case domain.MovementInitial, domain.MovementSale, domain.MovementPurchase, domain.MovementAdjustment,
		domain.MovementCount, domain.MovementReturn, domain.MovementCancel:
		return true
	default:
		return false
	}
}

func productIDs(txs []domain.InventoryTransaction) []string {
	ids := make([]string, 0, len(txs))
	for _, tx := range txs {
		ids = append(ids, tx.ProductID)
	}
	return ids
}
