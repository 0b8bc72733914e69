package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/events"
	"retailpos/backend/internal/pricing"
	"retailpos/backend/internal/settings"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

type pricedCart struct {
	products []domain.Product
	quote    pricing.Quote
}

func (s *Service) resolveCartItem(ctx context.Context, item domain.CartItem) (*domain.Product, error) {
	if id := strings.TrimSpace(item.ProductID); id != "" {
		product, err := s.repo.GetProduct(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil, invalidf("unknown product %s", id)
		}
		return product, err
	}
	sku := strings.ToUpper(strings.TrimSpace(item.SKU))
	if sku == "" {
		return nil, invalidf("each item needs a product_id or sku")
	}
	product, err := s.repo.GetProductBySKU(ctx, sku)
	if errors.Is(err, store.ErrNotFound) {
		return nil, invalidf("unknown sku %s", sku)
	}
	return product, err
}

// priceCart resolves the cart against the catalog and prices it with the
// current tax settings. onlineOnly restricts it to storefront products.
func (s *Service) priceCart(ctx context.Context, items []domain.CartItem, discount *domain.CartDiscount, set domain.Settings, onlineOnly bool) (pricedCart, error) {
	if len(items) == 0 {
		return pricedCart{}, invalidf("cart is empty")
	}

	cart := pricedCart{products: make([]domain.Product, 0, len(items))}
	lines := make([]pricing.Line, 0, len(items))
	for _, item := range items {
		product, err := s.resolveCartItem(ctx, item)
		if err != nil {
			return pricedCart{}, err
		}
		if !product.Active || (onlineOnly && !product.OnlineVisible) {
			return pricedCart{}, invalidf("product %s is not available", product.SKU)
		}
		cart.products = append(cart.products, *product)
		lines = append(lines, pricing.Line{
			Key:            product.ID,
			Qty:            item.Qty,
			UnitPriceCents: product.PriceCents,
			DiscountCents:  item.DiscountCents,
		})
	}

	var cartDiscount pricing.CartDiscount
	if discount != nil {
		cartDiscount = pricing.CartDiscount{Type: discount.Type, Value: discount.Value}
	}
	quote, err := pricing.Calculate(lines, cartDiscount, pricing.TaxPolicy{
		RatePercent: set.TaxRatePercent,
		Inclusive:   set.TaxInclusive,
	})
	if err != nil {
		return pricedCart{}, fmt.Errorf("%w: %v", store.ErrInvalidTransaction, err)
	}
	cart.quote = quote
	return cart, nil
}

// checkDiscount requires an admin or a manager PIN for discounts above the
// cashier limit.
func (s *Service) checkDiscount(ctx context.Context, set domain.Settings, quote pricing.Quote) error {
	if quote.DiscountCents == 0 {
		return nil
	}
	percent := pricing.DiscountPercentOf(quote.DiscountCents, quote.SubtotalCents)
	if percent <= set.MaxCashierDiscountPercent {
		return nil
	}
	actor, _ := ActorFromContext(ctx)
	if actor.Role == domain.RoleAdmin || managerApproved(ctx) {
		return nil
	}
	return fmt.Errorf("%w: discount of %.1f%% exceeds the cashier limit of %.1f%%, manager pin required",
		ErrForbidden, percent, set.MaxCashierDiscountPercent)
}

func newSale(channel string, set domain.Settings, cart pricedCart) domain.Sale {
	items := make([]domain.SaleItem, len(cart.quote.Lines))
	for i, line := range cart.quote.Lines {
		product := cart.products[i]
		items[i] = domain.SaleItem{
			ID:             xid.New("sli"),
			ProductID:      product.ID,
			SKU:            product.SKU,
			Name:           product.Name,
			Category:       product.Category,
			Qty:            line.Qty,
			UnitPriceCents: line.UnitPriceCents,
			UnitCostCents:  product.CostCents,
			DiscountCents:  line.DiscountCents(),
			NetCents:       line.NetCents,
			TaxCents:       line.TaxCents,
			TotalCents:     line.TotalCents,
		}
	}
	return domain.Sale{
		ID:            xid.New("sale"),
		Channel:       channel,
		SubtotalCents: cart.quote.SubtotalCents,
		DiscountCents: cart.quote.DiscountCents,
		TaxCents:      cart.quote.TaxCents,
		TotalCents:    cart.quote.TotalCents,
		TaxInclusive:  set.TaxInclusive,
		Items:         items,
		CreatedAt:     time.Now().In(settings.Location(set)),
	}
}

func loyaltyFor(set domain.Settings, customerID string, totalCents int64) int64 {
	if !set.LoyaltyEnabled || customerID == "" {
		return 0
	}
	return pricing.LoyaltyPoints(totalCents, set.LoyaltySpendPerPointCents)
}

func normalizeMethod(method string) string {
	method = strings.ToLower(strings.TrimSpace(method))
	if method == "" {
		return domain.PaymentCash
	}
	return method
}

// Quote prices a cart without touching stock.
func (s *Service) Quote(ctx context.Context, req domain.QuoteRequest) (domain.QuoteResponse, error) {
	set, err := s.currentSettings(ctx)
	if err != nil {
		return domain.QuoteResponse{}, err
	}
	cart, err := s.priceCart(ctx, req.Items, req.Discount, set, false)
	if err != nil {
		return domain.QuoteResponse{}, err
	}

	wanted := make(map[string]int, len(cart.products))
	for i, line := range cart.quote.Lines {
		wanted[cart.products[i].ID] += line.Qty
	}
	resp := domain.QuoteResponse{
		Lines:          make([]domain.QuoteLine, 0, len(cart.quote.Lines)),
		SubtotalCents:  cart.quote.SubtotalCents,
		DiscountCents:  cart.quote.DiscountCents,
		TaxCents:       cart.quote.TaxCents,
		TotalCents:     cart.quote.TotalCents,
		TaxRatePercent: set.TaxRatePercent,
		TaxInclusive:   set.TaxInclusive,
		Currency:       set.Currency,
	}
	for i, line := range cart.quote.Lines {
		product := cart.products[i]
		resp.Lines = append(resp.Lines, domain.QuoteLine{
			ProductID:         product.ID,
			SKU:               product.SKU,
			Name:              product.Name,
			Qty:               line.Qty,
			UnitPriceCents:    line.UnitPriceCents,
			GrossCents:        line.GrossCents,
			LineDiscountCents: line.LineDiscountCents,
			CartDiscountCents: line.CartDiscountCents,
			NetCents:          line.NetCents,
			TaxCents:          line.TaxCents,
			TotalCents:        line.TotalCents,
			InStock:           product.StockQuantity >= wanted[product.ID],
		})
	}
	return resp, nil
}

// Checkout records a paid POS sale. Retrying with the same idempotency key
// returns the original sale and moves no stock.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.SaleResponse, error) {
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = xid.New("idem")
	}
	if existing, err := s.repo.FindSaleByIdempotency(ctx, req.IdempotencyKey); err == nil {
		return domain.SaleResponse{Sale: *existing, Duplicate: true}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.SaleResponse{}, err
	}

	set, err := s.currentSettings(ctx)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	cart, err := s.priceCart(ctx, req.Items, req.Discount, set, false)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	if err := s.checkDiscount(ctx, set, cart.quote); err != nil {
		return domain.SaleResponse{}, err
	}

	method := normalizeMethod(req.PaymentMethod)
	paid, change, err := pricing.Tender(cart.quote.TotalCents, method, req.AmountPaidCents, req.PaymentReference)
	if err != nil {
		return domain.SaleResponse{}, fmt.Errorf("%w: %v", store.ErrInvalidTransaction, err)
	}

	actor, _ := ActorFromContext(ctx)
	sale := newSale(domain.ChannelPOS, set, cart)
	sale.Status = domain.SaleStatusCompleted
	sale.CustomerID = strings.TrimSpace(req.CustomerID)
	sale.CashierUsername = actor.Username
	sale.TerminalID = strings.TrimSpace(req.TerminalID)
	sale.IdempotencyKey = req.IdempotencyKey
	sale.PaymentMethod = method
	sale.PaymentReference = strings.TrimSpace(req.PaymentReference)
	sale.AmountPaidCents = paid
	sale.ChangeCents = change
	sale.Notes = strings.TrimSpace(req.Notes)
	sale.LoyaltyPointsEarned = loyaltyFor(set, sale.CustomerID, sale.TotalCents)
	completedAt := sale.CreatedAt.UTC()
	sale.CompletedAt = &completedAt

	return s.createSale(ctx, sale, "checkout")
}

// HoldSale parks a priced POS cart as a pending sale. Its stock stays
// reserved until the sale is completed or cancelled.
func (s *Service) HoldSale(ctx context.Context, req domain.HoldRequest) (domain.SaleResponse, error) {
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.IdempotencyKey != "" {
		if existing, err := s.repo.FindSaleByIdempotency(ctx, req.IdempotencyKey); err == nil {
			return domain.SaleResponse{Sale: *existing, Duplicate: true}, nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return domain.SaleResponse{}, err
		}
	}

	set, err := s.currentSettings(ctx)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	cart, err := s.priceCart(ctx, req.Items, req.Discount, set, false)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	if err := s.checkDiscount(ctx, set, cart.quote); err != nil {
		return domain.SaleResponse{}, err
	}

	actor, _ := ActorFromContext(ctx)
	sale := newSale(domain.ChannelPOS, set, cart)
	sale.Status = domain.SaleStatusPending
	sale.CustomerID = strings.TrimSpace(req.CustomerID)
	sale.CashierUsername = actor.Username
	sale.TerminalID = strings.TrimSpace(req.TerminalID)
	sale.IdempotencyKey = req.IdempotencyKey
	sale.Notes = strings.TrimSpace(req.Notes)

	return s.createSale(ctx, sale, "sale_hold")
}

func (s *Service) createSale(ctx context.Context, sale domain.Sale, action string) (domain.SaleResponse, error) {
	created, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	if created.ID != sale.ID {
		return domain.SaleResponse{Sale: *created, Duplicate: true}, nil
	}

	ids := make([]string, 0, len(created.Items))
	for _, item := range created.Items {
		ids = append(ids, item.ProductID)
	}
	s.afterStockMoved(ctx, domain.MovementSale, ids, true)
	if created.Status == domain.SaleStatusCompleted {
		s.saleCompleted(ctx, *created)
	}
	s.logAudit(ctx, action, "sale", created.ID, fmt.Sprintf("number=%s,status=%s,total=%d,payment=%s,items=%d",
		created.Number, created.Status, created.TotalCents, created.PaymentMethod, len(created.Items)))
	return domain.SaleResponse{Sale: *created}, nil
}

func (s *Service) saleCompleted(ctx context.Context, sale domain.Sale) {
	s.metrics.RecordSale(sale.Channel, sale.TotalCents)
	s.publish(ctx, events.New(events.TypeSaleCompleted, sale.ID, map[string]any{
		"number":         sale.Number,
		"channel":        sale.Channel,
		"customer_id":    sale.CustomerID,
		"payment_method": sale.PaymentMethod,
		"total_cents":    sale.TotalCents,
		"items":          len(sale.Items),
	}))
}

// CompleteSale takes payment for a pending sale.
func (s *Service) CompleteSale(ctx context.Context, id string, req domain.CompleteSaleRequest) (domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Sale{}, err
	}
	if sale.Status != domain.SaleStatusPending {
		return domain.Sale{}, fmt.Errorf("sale %s is %s: %w", sale.Number, sale.Status, store.ErrConflict)
	}

	set, err := s.currentSettings(ctx)
	if err != nil {
		return domain.Sale{}, err
	}
	method := normalizeMethod(req.PaymentMethod)
	paid, change, err := pricing.Tender(sale.TotalCents, method, req.AmountPaidCents, req.PaymentReference)
	if err != nil {
		return domain.Sale{}, fmt.Errorf("%w: %v", store.ErrInvalidTransaction, err)
	}

	completed, err := s.repo.CompleteSale(ctx, sale.ID, domain.SalePayment{
		Method:          method,
		Reference:       strings.TrimSpace(req.PaymentReference),
		AmountPaidCents: paid,
		ChangeCents:     change,
		LoyaltyPoints:   loyaltyFor(set, sale.CustomerID, sale.TotalCents),
		CompletedAt:     time.Now().UTC(),
	})
	if err != nil {
		return domain.Sale{}, err
	}

	s.invalidate()
	s.saleCompleted(ctx, *completed)
	s.logAudit(ctx, "sale_complete", "sale", completed.ID, fmt.Sprintf("number=%s,total=%d,payment=%s", completed.Number, completed.TotalCents, method))
	return *completed, nil
}

// CancelSale voids a pending or completed sale and restocks what was not
// returned already.
func (s *Service) CancelSale(ctx context.Context, id string, req domain.CancelSaleRequest) (domain.Sale, error) {
	if _, err := requireApproval(ctx, "cancel a sale"); err != nil {
		return domain.Sale{}, err
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "unspecified"
	}

	cancelled, err := s.repo.CancelSale(ctx, strings.TrimSpace(id), reason, actorName(ctx), time.Now().UTC())
	if err != nil {
		return domain.Sale{}, err
	}

	ids := make([]string, 0, len(cancelled.Items))
	for _, item := range cancelled.Items {
		if item.Qty > item.ReturnedQty {
			ids = append(ids, item.ProductID)
		}
	}
	s.afterStockMoved(ctx, domain.MovementCancel, ids, false)
	s.publish(ctx, events.New(events.TypeSaleCancelled, cancelled.ID, map[string]any{
		"number": cancelled.Number,
		"reason": reason,
	}))
	s.logAudit(ctx, "sale_cancel", "sale", cancelled.ID, fmt.Sprintf("number=%s,reason=%s", cancelled.Number, reason))
	return *cancelled, nil
}

// ReturnItems refunds and restocks units of a completed sale.
func (s *Service) ReturnItems(ctx context.Context, saleID string, req domain.ReturnRequest) (domain.ReturnResponse, error) {
	if _, err := requireApproval(ctx, "return items"); err != nil {
		return domain.ReturnResponse{}, err
	}
	if len(req.Items) == 0 {
		return domain.ReturnResponse{}, invalidf("no items to return")
	}

	lines := make([]domain.SaleReturnItem, 0, len(req.Items))
	for _, line := range req.Items {
		if strings.TrimSpace(line.SaleItemID) == "" || line.Qty < 1 {
			return domain.ReturnResponse{}, invalidf("each return line needs a sale item and a positive quantity")
		}
		lines = append(lines, domain.SaleReturnItem{SaleItemID: strings.TrimSpace(line.SaleItemID), Qty: line.Qty})
	}

	sale, ret, err := s.repo.ReturnSaleItems(ctx, domain.SaleReturn{
		ID:        xid.New("ret"),
		SaleID:    strings.TrimSpace(saleID),
		Items:     lines,
		Reason:    strings.TrimSpace(req.Reason),
		CreatedBy: actorName(ctx),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return domain.ReturnResponse{}, err
	}

	ids := make([]string, 0, len(ret.Items))
	for _, item := range ret.Items {
		ids = append(ids, item.ProductID)
	}
	s.afterStockMoved(ctx, domain.MovementReturn, ids, false)
	s.publish(ctx, events.New(events.TypeSaleReturned, sale.ID, map[string]any{
		"number":       sale.Number,
		"return_id":    ret.ID,
		"refund_cents": ret.RefundCents,
		"status":       sale.Status,
	}))
	s.logAudit(ctx, "sale_return", "sale", sale.ID, fmt.Sprintf("number=%s,refund=%d,status=%s", sale.Number, ret.RefundCents, sale.Status))
	return domain.ReturnResponse{Sale: *sale, Return: *ret}, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	if filter.Limit < 1 || filter.Limit > 200 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && !filter.From.Before(filter.To) {
		return nil, invalidf("from must be before to")
	}
	return s.repo.ListSales(ctx, filter)
}

// SyncOffline replays checkouts recorded while a terminal was offline. Each
// entry is reported on its own; one rejected entry does not stop the batch.
func (s *Service) SyncOffline(ctx context.Context, req domain.OfflineSyncRequest) (domain.OfflineSyncResponse, error) {
	resp := domain.OfflineSyncResponse{
		EnvelopeID: req.EnvelopeID,
		Statuses:   make([]domain.OfflineSyncStatus, 0, len(req.Transactions)),
	}

	for _, tx := range req.Transactions {
		status := domain.OfflineSyncStatus{ClientTransactionID: tx.ClientTransactionID}
		checkoutReq := tx.Checkout
		if checkoutReq.TerminalID == "" {
			checkoutReq.TerminalID = req.TerminalID
		}
		if checkoutReq.IdempotencyKey == "" {
			checkoutReq.IdempotencyKey = tx.ClientTransactionID
		}
		if strings.TrimSpace(checkoutReq.IdempotencyKey) == "" {
			status.Status = "rejected"
			status.Reason = "client_transaction_id is required"
			resp.Statuses = append(resp.Statuses, status)
			continue
		}

		checkoutResp, err := s.Checkout(ctx, checkoutReq)
		if err != nil {
			status.Status = "rejected"
			status.Reason = err.Error()
			resp.Statuses = append(resp.Statuses, status)
			continue
		}

		if checkoutResp.Duplicate {
			status.Status = "duplicate"
		} else {
			status.Status = "accepted"
		}
		status.SaleID = checkoutResp.Sale.ID
		status.SaleNumber = checkoutResp.Sale.Number
		resp.Statuses = append(resp.Statuses, status)
	}

	return resp, nil
}
