package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/pricing"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/textsearch"
	"retailpos/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	ledger          []domain.InventoryTransaction
	salesByID       map[string]*domain.Sale
	salesByIdem     map[string]string
	saleOrder       []string
	saleCounters    map[string]int
	returns         []domain.SaleReturn
	customers       map[string]domain.Customer
	settings        map[string]string
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
	now             func() time.Time
}

// New returns an empty store without users or products.
func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		ledger:          make([]domain.InventoryTransaction, 0, 256),
		salesByID:       make(map[string]*domain.Sale),
		salesByIdem:     make(map[string]string),
		saleCounters:    make(map[string]int),
		customers:       make(map[string]domain.Customer),
		settings:        make(map[string]string),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// SeedCredentials are the demo account passwords. Empty fields use the dev
// defaults admin123 and cashier123.
type SeedCredentials struct {
	AdminPassword   string
	CashierPassword string
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// These credentials are never used in production (the backend uses
// PostgreSQL when DATABASE_URL is set).
func seedUsers(logger *zap.Logger, creds SeedCredentials, now time.Time) (map[string]domain.UserAccount, error) {
	if creds.AdminPassword == "" || creds.CashierPassword == "" {
		logger.Warn("memory store is using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}
	adminPwd := valueOr(creds.AdminPassword, "admin123")
	cashierPwd := valueOr(creds.CashierPassword, "cashier123")

	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash seed password for %s: %w", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users, nil
}

func valueOr(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with the dev demo users, a small grocery catalog
// and the initial stock ledger rows for it.
func NewSeeded(logger *zap.Logger) (*Store, error) {
	return NewSeededWith(logger, SeedCredentials{})
}

// NewSeededWith is NewSeeded with explicit demo passwords.
func NewSeededWith(logger *zap.Logger, creds SeedCredentials) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := New()
	now := s.now()

	users, err := seedUsers(logger, creds, now)
	if err != nil {
		return nil, err
	}
	s.usersByUsername = users

	products := []domain.Product{
		{SKU: "SKU-MIE-01", Barcode: "8991001000019", Name: "Mie Goreng Instan", Category: "grocery", Unit: "pcs", PriceCents: 3500, CostCents: 2730, StockQuantity: 120, ReorderLevel: 24},
		{SKU: "SKU-TELUR-01", Barcode: "8991001000026", Name: "Telur 10 Butir", Category: "grocery", Unit: "pack", PriceCents: 26500, CostCents: 23050, StockQuantity: 40, ReorderLevel: 10},
		{SKU: "SKU-SUSU-01", Barcode: "8991001000033", Name: "Susu UHT 1L", Category: "dairy", Unit: "pcs", PriceCents: 18900, CostCents: 13600, StockQuantity: 60, ReorderLevel: 12},
		{SKU: "SKU-ROTI-01", Barcode: "8991001000040", Name: "Roti Tawar", Category: "bakery", Unit: "pcs", PriceCents: 17800, CostCents: 12460, StockQuantity: 25, ReorderLevel: 8},
		{SKU: "SKU-KOPI-01", Barcode: "8991001000057", Name: "Kopi Sachet", Category: "beverage", Unit: "pcs", PriceCents: 2600, CostCents: 1720, StockQuantity: 200, ReorderLevel: 40},
		{SKU: "SKU-GULA-01", Barcode: "8991001000064", Name: "Gula 1kg", Category: "grocery", Unit: "kg", PriceCents: 17400, CostCents: 15310, StockQuantity: 50, ReorderLevel: 10},
		{SKU: "SKU-TEH-01", Barcode: "8991001000071", Name: "Teh Celup", Category: "beverage", Unit: "box", PriceCents: 9800, CostCents: 7250, StockQuantity: 45, ReorderLevel: 10},
		{SKU: "SKU-AIR-01", Barcode: "8991001000088", Name: "Air Mineral 600ml", Category: "beverage", Unit: "pcs", PriceCents: 3900, CostCents: 3200, StockQuantity: 150, ReorderLevel: 36},
		{SKU: "SKU-KERIPIK-01", Barcode: "8991001000095", Name: "Keripik Singkong", Category: "snack", Unit: "pcs", PriceCents: 12800, CostCents: 8060, StockQuantity: 30, ReorderLevel: 8},
		{SKU: "SKU-COKLAT-01", Barcode: "8991001000101", Name: "Coklat Batang", Category: "snack", Unit: "pcs", PriceCents: 8600, CostCents: 5590, StockQuantity: 4, ReorderLevel: 6},
		{SKU: "SKU-SABUN-01", Barcode: "8991001000118", Name: "Sabun Mandi", Category: "household", Unit: "pcs", PriceCents: 7400, CostCents: 5030, StockQuantity: 35, ReorderLevel: 8},
		{SKU: "SKU-SHAMPOO-01", Barcode: "8991001000125", Name: "Shampoo Sachet", Category: "household", Unit: "pcs", PriceCents: 3200, CostCents: 2140, StockQuantity: 90, ReorderLevel: 20},
	}
	for _, p := range products {
		p.Active = true
		p.OnlineVisible = true
		if _, err := s.CreateProduct(context.Background(), p, "seed"); err != nil {
			return nil, fmt.Errorf("seed product %s: %w", p.SKU, err)
		}
	}

	if _, err := s.CreateCustomer(context.Background(), domain.Customer{
		Name:  "Pelanggan Setia",
		Email: "pelanggan@example.com",
		Phone: "081200000001",
	}); err != nil {
		return nil, fmt.Errorf("seed customer: %w", err)
	}

	return s, nil
}

func (s *Store) ListProducts(_ context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	category := strings.TrimSpace(filter.Category)
	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !filter.IncludeAll && !p.Active {
			continue
		}
		if filter.OnlineOnly && (!p.Active || !p.OnlineVisible) {
			continue
		}
		if filter.LowStockOnly && !p.LowStock() {
			continue
		}
		if category != "" && !strings.EqualFold(p.Category, category) {
			continue
		}
		if !textsearch.Match(filter.Query, p.Name, p.SKU, p.Barcode, p.Category, p.Description) {
			continue
		}
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.Category, b.Category)
	})

	return page(products, filter.Offset, filter.Limit), nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, fmt.Errorf("product %s: %w", id, store.ErrNotFound)
	}
	return &product, nil
}

func (s *Store) GetProductBySKU(_ context.Context, sku string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.products {
		if strings.EqualFold(p.SKU, strings.TrimSpace(sku)) {
			found := p
			return &found, nil
		}
	}
	return nil, fmt.Errorf("sku %s: %w", sku, store.ErrNotFound)
}

func (s *Store) GetProductByBarcode(_ context.Context, barcode string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return nil, store.ErrNotFound
	}
	for _, p := range s.products {
		if p.Barcode == barcode {
			found := p
			return &found, nil
		}
	}
	return nil, fmt.Errorf("barcode %s: %w", barcode, store.ErrNotFound)
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product, createdBy string) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.SKU == "" || product.Name == "" || product.Category == "" || product.PriceCents < 1 {
		return nil, store.ErrInvalidTransaction
	}
	if product.CostCents < 0 || product.StockQuantity < 0 || product.ReorderLevel < 0 {
		return nil, store.ErrInvalidTransaction
	}
	if err := s.checkProductUniqueLocked(product); err != nil {
		return nil, err
	}

	now := s.now()
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if product.Unit == "" {
		product.Unit = "pcs"
	}
	product.CreatedAt = now
	product.UpdatedAt = now
	s.products[product.ID] = product

	if product.StockQuantity > 0 {
		s.ledger = append(s.ledger, domain.InventoryTransaction{
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
	}

	created := product
	return &created, nil
}

// UpdateProduct replaces the catalog fields of a product. Stock is only ever
// changed through ledger operations, so the stored quantity is kept.
func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.products[product.ID]
	if !exists {
		return nil, fmt.Errorf("product %s: %w", product.ID, store.ErrNotFound)
	}
	if product.SKU == "" || product.Name == "" || product.Category == "" || product.PriceCents < 1 || product.CostCents < 0 || product.ReorderLevel < 0 {
		return nil, store.ErrInvalidTransaction
	}
	if err := s.checkProductUniqueLocked(product); err != nil {
		return nil, err
	}

	product.StockQuantity = existing.StockQuantity
	product.CreatedAt = existing.CreatedAt
	product.UpdatedAt = s.now()
	s.products[product.ID] = product
	updated := product
	return &updated, nil
}

func (s *Store) checkProductUniqueLocked(product domain.Product) error {
	for _, other := range s.products {
		if other.ID == product.ID {
			continue
		}
		if strings.EqualFold(other.SKU, product.SKU) {
			return fmt.Errorf("sku %s already exists: %w", product.SKU, store.ErrConflict)
		}
		if product.Barcode != "" && other.Barcode == product.Barcode {
			return fmt.Errorf("barcode %s already exists: %w", product.Barcode, store.ErrConflict)
		}
	}
	return nil
}

func (s *Store) ListCategories(_ context.Context) ([]domain.CategorySummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, p := range s.products {
		if p.Active {
			counts[p.Category]++
		}
	}
	categories := make([]domain.CategorySummary, 0, len(counts))
	for name, count := range counts {
		categories = append(categories, domain.CategorySummary{Name: name, ProductCount: count})
	}
	slices.SortFunc(categories, func(a, b domain.CategorySummary) int {
		return cmpString(a.Name, b.Name)
	})
	return categories, nil
}

// ApplyStockChanges applies every change or none of them.
func (s *Store) ApplyStockChanges(_ context.Context, changes []domain.StockChange) ([]domain.InventoryTransaction, error) {
	if len(changes) == 0 {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	working := make(map[string]domain.Product)
	entries := make([]domain.InventoryTransaction, 0, len(changes))
	now := s.now()
	for _, change := range changes {
		product, ok := working[change.ProductID]
		if !ok {
			product, ok = s.products[change.ProductID]
			if !ok {
				return nil, fmt.Errorf("product %s: %w", change.ProductID, store.ErrNotFound)
			}
		}

		delta := change.Quantity
		if change.Absolute {
			if change.Quantity < 0 {
				return nil, store.ErrInvalidTransaction
			}
			delta = change.Quantity - product.StockQuantity
			if delta == 0 {
				continue
			}
		} else if delta == 0 {
			return nil, store.ErrInvalidTransaction
		}

		entry, err := s.moveLocked(&product, delta, change, now)
		if err != nil {
			return nil, err
		}
		working[product.ID] = product
		entries = append(entries, entry)
	}

	for id, product := range working {
		product.UpdatedAt = now
		s.products[id] = product
	}
	s.ledger = append(s.ledger, entries...)
	return entries, nil
}

// moveLocked changes the quantity on product and returns the ledger row. The
// caller persists both.
func (s *Store) moveLocked(product *domain.Product, delta int, change domain.StockChange, at time.Time) (domain.InventoryTransaction, error) {
	previous := product.StockQuantity
	next := previous + delta
	if next < 0 {
		return domain.InventoryTransaction{}, fmt.Errorf("%s has %d in stock: %w", product.SKU, previous, store.ErrInsufficientStock)
	}
	product.StockQuantity = next
	return domain.InventoryTransaction{
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
	}, nil
}

// ListInventoryTransactions returns newest entries first.
func (s *Store) ListInventoryTransactions(_ context.Context, filter domain.InventoryFilter) ([]domain.InventoryTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.InventoryTransaction, 0, 64)
	for i := len(s.ledger) - 1; i >= 0; i-- {
		entry := s.ledger[i]
		if filter.ProductID != "" && entry.ProductID != filter.ProductID {
			continue
		}
		if filter.Type != "" && entry.Type != filter.Type {
			continue
		}
		if !filter.From.IsZero() && entry.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !entry.CreatedAt.Before(filter.To) {
			continue
		}
		result = append(result, entry)
		if filter.Limit > 0 && len(result) == filter.Limit {
			break
		}
	}
	return result, nil
}

// CreateSale stores a priced sale, numbers it and takes its items out of
// stock. A sale whose idempotency key was already used returns the original.
func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.IdempotencyKey != "" {
		if existingID, ok := s.salesByIdem[sale.IdempotencyKey]; ok {
			return cloneSale(s.salesByID[existingID]), nil
		}
	}
	if len(sale.Items) == 0 || sale.Channel == "" {
		return nil, store.ErrInvalidTransaction
	}
	if sale.Status != domain.SaleStatusPending && sale.Status != domain.SaleStatusCompleted {
		return nil, store.ErrInvalidTransaction
	}
	if sale.CustomerID != "" {
		if _, ok := s.customers[sale.CustomerID]; !ok {
			return nil, fmt.Errorf("customer %s: %w", sale.CustomerID, store.ErrNotFound)
		}
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = s.now()
	}
	createdBy := sale.CashierUsername
	if createdBy == "" {
		createdBy = sale.Channel
	}

	movedAt := s.now()
	working := make(map[string]domain.Product)
	entries := make([]domain.InventoryTransaction, 0, len(sale.Items))
	items := make([]domain.SaleItem, len(sale.Items))
	for i, item := range sale.Items {
		if item.Qty < 1 {
			return nil, store.ErrInvalidTransaction
		}
		product, ok := working[item.ProductID]
		if !ok {
			product, ok = s.products[item.ProductID]
			if !ok || !product.Active {
				return nil, fmt.Errorf("product %s unavailable: %w", item.ProductID, store.ErrInvalidTransaction)
			}
		}
		entry, err := s.moveLocked(&product, -item.Qty, domain.StockChange{
			Type:          domain.MovementSale,
			ReferenceType: "sale",
			ReferenceID:   sale.ID,
			CreatedBy:     createdBy,
		}, movedAt)
		if err != nil {
			return nil, err
		}
		working[product.ID] = product
		entries = append(entries, entry)

		if item.ID == "" {
			item.ID = xid.New("sli")
		}
		items[i] = item
	}
	sale.Items = items

	for id, product := range working {
		product.UpdatedAt = movedAt
		s.products[id] = product
	}
	s.ledger = append(s.ledger, entries...)

	day := sale.CreatedAt.Format("20060102")
	s.saleCounters[day]++
	sale.Number = store.SaleNumber(sale.CreatedAt, s.saleCounters[day])
	sale.CreatedAt = sale.CreatedAt.UTC()

	if sale.Status == domain.SaleStatusCompleted {
		if sale.CompletedAt == nil {
			completedAt := sale.CreatedAt
			sale.CompletedAt = &completedAt
		}
		s.applyCustomerSaleLocked(sale)
	}

	stored := cloneSale(&sale)
	s.salesByID[sale.ID] = stored
	s.saleOrder = append(s.saleOrder, sale.ID)
	if sale.IdempotencyKey != "" {
		s.salesByIdem[sale.IdempotencyKey] = sale.ID
	}
	return cloneSale(stored), nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByID[id]
	if !ok {
		return nil, fmt.Errorf("sale %s: %w", id, store.ErrNotFound)
	}
	return cloneSale(sale), nil
}

func (s *Store) GetSaleByNumber(_ context.Context, number string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	number = strings.TrimSpace(number)
	for _, id := range s.saleOrder {
		if sale := s.salesByID[id]; strings.EqualFold(sale.Number, number) {
			return cloneSale(sale), nil
		}
	}
	return nil, fmt.Errorf("sale %s: %w", number, store.ErrNotFound)
}

func (s *Store) FindSaleByIdempotency(_ context.Context, key string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.salesByIdem[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(s.salesByID[id]), nil
}

// ListSales returns newest sales first.
func (s *Store) ListSales(_ context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, 64)
	for i := len(s.saleOrder) - 1; i >= 0; i-- {
		sale := s.salesByID[s.saleOrder[i]]
		if filter.Status != "" && sale.Status != filter.Status {
			continue
		}
		if filter.Channel != "" && sale.Channel != filter.Channel {
			continue
		}
		if filter.CustomerID != "" && sale.CustomerID != filter.CustomerID {
			continue
		}
		if filter.Cashier != "" && !strings.EqualFold(sale.CashierUsername, filter.Cashier) {
			continue
		}
		if filter.Number != "" && !strings.EqualFold(sale.Number, filter.Number) {
			continue
		}
		if !filter.From.IsZero() && sale.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !sale.CreatedAt.Before(filter.To) {
			continue
		}
		result = append(result, *cloneSale(sale))
	}
	return page(result, filter.Offset, filter.Limit), nil
}

func (s *Store) CompleteSale(_ context.Context, id string, payment domain.SalePayment) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.salesByID[id]
	if !ok {
		return nil, fmt.Errorf("sale %s: %w", id, store.ErrNotFound)
	}
	if sale.Status != domain.SaleStatusPending {
		return nil, fmt.Errorf("sale %s is %s: %w", sale.Number, sale.Status, store.ErrConflict)
	}

	completedAt := payment.CompletedAt
	if completedAt.IsZero() {
		completedAt = s.now()
	}
	sale.Status = domain.SaleStatusCompleted
	sale.PaymentMethod = payment.Method
	sale.PaymentReference = payment.Reference
	sale.AmountPaidCents = payment.AmountPaidCents
	sale.ChangeCents = payment.ChangeCents
	sale.LoyaltyPointsEarned = payment.LoyaltyPoints
	sale.CompletedAt = &completedAt
	s.applyCustomerSaleLocked(*sale)
	return cloneSale(sale), nil
}

// CancelSale puts back whatever has not been returned yet and undoes the
// customer figures of a completed sale.
func (s *Store) CancelSale(_ context.Context, id string, reason string, cancelledBy string, at time.Time) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.salesByID[id]
	if !ok {
		return nil, fmt.Errorf("sale %s: %w", id, store.ErrNotFound)
	}
	if sale.Status != domain.SaleStatusPending && sale.Status != domain.SaleStatusCompleted {
		return nil, fmt.Errorf("sale %s is %s: %w", sale.Number, sale.Status, store.ErrConflict)
	}
	if at.IsZero() {
		at = s.now()
	}

	working := make(map[string]domain.Product)
	entries := make([]domain.InventoryTransaction, 0, len(sale.Items))
	for _, item := range sale.Items {
		qty := item.Qty - item.ReturnedQty
		if qty <= 0 {
			continue
		}
		product, ok := working[item.ProductID]
		if !ok {
			product, ok = s.products[item.ProductID]
			if !ok {
				return nil, fmt.Errorf("product %s: %w", item.ProductID, store.ErrNotFound)
			}
		}
		entry, err := s.moveLocked(&product, qty, domain.StockChange{
			Type:          domain.MovementCancel,
			ReferenceType: "sale",
			ReferenceID:   sale.ID,
			Notes:         reason,
			CreatedBy:     cancelledBy,
		}, at)
		if err != nil {
			return nil, err
		}
		working[product.ID] = product
		entries = append(entries, entry)
	}
	for pid, product := range working {
		product.UpdatedAt = at
		s.products[pid] = product
	}
	s.ledger = append(s.ledger, entries...)

	if sale.Status == domain.SaleStatusCompleted {
		s.reverseCustomerSaleLocked(*sale)
	}
	sale.Status = domain.SaleStatusCancelled
	sale.CancelReason = reason
	sale.CancelledAt = &at
	return cloneSale(sale), nil
}

// ReturnSaleItems refunds and restocks returned units of a completed sale.
// The sale becomes refunded once every unit has come back.
func (s *Store) ReturnSaleItems(_ context.Context, ret domain.SaleReturn) (*domain.Sale, *domain.SaleReturn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.salesByID[ret.SaleID]
	if !ok {
		return nil, nil, fmt.Errorf("sale %s: %w", ret.SaleID, store.ErrNotFound)
	}
	if stored.Status != domain.SaleStatusCompleted {
		return nil, nil, fmt.Errorf("sale %s is %s: %w", stored.Number, stored.Status, store.ErrConflict)
	}
	if len(ret.Items) == 0 {
		return nil, nil, store.ErrInvalidTransaction
	}

	if ret.ID == "" {
		ret.ID = xid.New("ret")
	}
	if ret.CreatedAt.IsZero() {
		ret.CreatedAt = s.now()
	}

	sale := cloneSale(stored)
	working := make(map[string]domain.Product)
	entries := make([]domain.InventoryTransaction, 0, len(ret.Items))
	lines := make([]domain.SaleReturnItem, 0, len(ret.Items))
	ret.RefundCents = 0
	for _, line := range ret.Items {
		idx := slices.IndexFunc(sale.Items, func(item domain.SaleItem) bool { return item.ID == line.SaleItemID })
		if idx < 0 || line.Qty < 1 {
			return nil, nil, fmt.Errorf("sale item %s: %w", line.SaleItemID, store.ErrInvalidTransaction)
		}
		item := &sale.Items[idx]
		if item.ReturnedQty+line.Qty > item.Qty {
			return nil, nil, fmt.Errorf("sale item %s has %d returnable: %w", item.ID, item.Qty-item.ReturnedQty, store.ErrInvalidTransaction)
		}

		refund := pricing.LineRefund(item.TotalCents, item.Qty, item.ReturnedQty, item.RefundedCents, line.Qty)
		item.ReturnedQty += line.Qty
		item.RefundedCents += refund

		product, ok := working[item.ProductID]
		if !ok {
			product, ok = s.products[item.ProductID]
			if !ok {
				return nil, nil, fmt.Errorf("product %s: %w", item.ProductID, store.ErrNotFound)
			}
		}
		entry, err := s.moveLocked(&product, line.Qty, domain.StockChange{
			Type:          domain.MovementReturn,
			ReferenceType: "sale_return",
			ReferenceID:   ret.ID,
			Notes:         ret.Reason,
			CreatedBy:     ret.CreatedBy,
		}, ret.CreatedAt)
		if err != nil {
			return nil, nil, err
		}
		working[product.ID] = product
		entries = append(entries, entry)

		lines = append(lines, domain.SaleReturnItem{
			SaleItemID:  item.ID,
			ProductID:   item.ProductID,
			Qty:         line.Qty,
			RefundCents: refund,
		})
		ret.RefundCents += refund
	}
	ret.Items = lines

	sale.RefundedCents += ret.RefundCents
	if fullyReturned(sale.Items) {
		sale.Status = domain.SaleStatusRefunded
	}

	for pid, product := range working {
		product.UpdatedAt = ret.CreatedAt
		s.products[pid] = product
	}
	s.ledger = append(s.ledger, entries...)
	if sale.CustomerID != "" {
		if customer, ok := s.customers[sale.CustomerID]; ok {
			customer.TotalSpentCents = max(customer.TotalSpentCents-ret.RefundCents, 0)
			customer.UpdatedAt = ret.CreatedAt
			s.customers[customer.ID] = customer
		}
	}
	s.salesByID[sale.ID] = sale
	s.returns = append(s.returns, cloneReturn(ret))

	saved := cloneReturn(ret)
	return cloneSale(sale), &saved, nil
}

func fullyReturned(items []domain.SaleItem) bool {
	for _, item := range items {
		if item.ReturnedQty < item.Qty {
			return false
		}
	}
	return true
}

func (s *Store) applyCustomerSaleLocked(sale domain.Sale) {
	if sale.CustomerID == "" {
		return
	}
	customer, ok := s.customers[sale.CustomerID]
	if !ok {
		return
	}
	at := sale.CreatedAt
	if sale.CompletedAt != nil {
		at = *sale.CompletedAt
	}
	customer.TotalSpentCents += sale.TotalCents
	customer.VisitCount++
	customer.LoyaltyPoints += sale.LoyaltyPointsEarned
	customer.LastPurchaseAt = &at
	customer.UpdatedAt = s.now()
	s.customers[customer.ID] = customer
}

func (s *Store) reverseCustomerSaleLocked(sale domain.Sale) {
	if sale.CustomerID == "" {
		return
	}
	customer, ok := s.customers[sale.CustomerID]
	if !ok {
		return
	}
	customer.TotalSpentCents = max(customer.TotalSpentCents-(sale.TotalCents-sale.RefundedCents), 0)
	customer.VisitCount = max(customer.VisitCount-1, 0)
	customer.LoyaltyPoints = max(customer.LoyaltyPoints-sale.LoyaltyPointsEarned, 0)
	customer.UpdatedAt = s.now()
	s.customers[customer.ID] = customer
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	customer.Name = strings.TrimSpace(customer.Name)
	customer.Email = strings.ToLower(strings.TrimSpace(customer.Email))
	if customer.Name == "" {
		return nil, store.ErrInvalidTransaction
	}
	if err := s.checkCustomerEmailLocked(customer); err != nil {
		return nil, err
	}
	now := s.now()
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	customer.CreatedAt = now
	customer.UpdatedAt = now
	s.customers[customer.ID] = customer
	created := customer
	return &created, nil
}

// UpdateCustomer replaces contact details. Purchase figures are owned by
// the sales operations and are kept.
func (s *Store) UpdateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.customers[customer.ID]
	if !ok {
		return nil, fmt.Errorf("customer %s: %w", customer.ID, store.ErrNotFound)
	}
	customer.Name = strings.TrimSpace(customer.Name)
	customer.Email = strings.ToLower(strings.TrimSpace(customer.Email))
	if customer.Name == "" {
		return nil, store.ErrInvalidTransaction
	}
	if err := s.checkCustomerEmailLocked(customer); err != nil {
		return nil, err
	}
	existing.Name = customer.Name
	existing.Email = customer.Email
	existing.Phone = customer.Phone
	existing.Address = customer.Address
	existing.Notes = customer.Notes
	existing.UpdatedAt = s.now()
	s.customers[existing.ID] = existing
	updated := existing
	return &updated, nil
}

func (s *Store) checkCustomerEmailLocked(customer domain.Customer) error {
	if customer.Email == "" {
		return nil
	}
	for _, other := range s.customers {
		if other.ID != customer.ID && other.Email == customer.Email {
			return fmt.Errorf("email %s already registered: %w", customer.Email, store.ErrConflict)
		}
	}
	return nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, ok := s.customers[id]
	if !ok {
		return nil, fmt.Errorf("customer %s: %w", id, store.ErrNotFound)
	}
	return &customer, nil
}

func (s *Store) GetCustomerByEmail(_ context.Context, email string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, store.ErrNotFound
	}
	for _, customer := range s.customers {
		if customer.Email == email {
			found := customer
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListCustomers(_ context.Context, filter domain.CustomerFilter) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Customer, 0, len(s.customers))
	for _, customer := range s.customers {
		if !textsearch.Match(filter.Query, customer.Name, customer.Email, customer.Phone) {
			continue
		}
		result = append(result, customer)
	}
	slices.SortFunc(result, func(a, b domain.Customer) int {
		if a.Name == b.Name {
			return cmpString(a.ID, b.ID)
		}
		return cmpString(a.Name, b.Name)
	})
	return page(result, filter.Offset, filter.Limit), nil
}

// DeleteCustomer removes the customer; their sales stay, unlinked.
func (s *Store) DeleteCustomer(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.customers[id]; !ok {
		return fmt.Errorf("customer %s: %w", id, store.ErrNotFound)
	}
	delete(s.customers, id)
	for _, sale := range s.salesByID {
		if sale.CustomerID == id {
			sale.CustomerID = ""
		}
	}
	return nil
}

func (s *Store) GetSettings(_ context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	values := make(map[string]string, len(s.settings))
	for key, value := range s.settings {
		values[key] = value
	}
	return values, nil
}

func (s *Store) SaveSettings(_ context.Context, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, value := range values {
		if strings.TrimSpace(key) == "" {
			return store.ErrInvalidTransaction
		}
		s.settings[key] = value
	}
	return nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.usersByUsername[username]; exists {
		return fmt.Errorf("user %s: %w", username, store.ErrConflict)
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func page[T any](items []T, offset int, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	dup := *src
	dupItems := make([]domain.SaleItem, len(src.Items))
	copy(dupItems, src.Items)
	dup.Items = dupItems
	return &dup
}

func cloneReturn(src domain.SaleReturn) domain.SaleReturn {
	dup := src
	items := make([]domain.SaleReturnItem, len(src.Items))
	copy(items, src.Items)
	dup.Items = items
	return dup
}
