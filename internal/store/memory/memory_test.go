package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/ledger"
	"retailpos/backend/internal/store"
)

func newSeededStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewSeeded(nil)
	require.NoError(t, err)
	return s
}

func productBySKU(t *testing.T, s *Store, sku string) domain.Product {
	t.Helper()
	p, err := s.GetProductBySKU(context.Background(), sku)
	require.NoError(t, err)
	return *p
}

func saleFor(product domain.Product, qty int, status string) domain.Sale {
	total := product.PriceCents * int64(qty)
	return domain.Sale{
		Channel:         domain.ChannelPOS,
		Status:          status,
		CashierUsername: "cashier",
		PaymentMethod:   domain.PaymentCash,
		SubtotalCents:   total,
		TotalCents:      total,
		Items: []domain.SaleItem{{
			ProductID:      product.ID,
			SKU:            product.SKU,
			Name:           product.Name,
			Category:       product.Category,
			Qty:            qty,
			UnitPriceCents: product.PriceCents,
			UnitCostCents:  product.CostCents,
			NetCents:       total,
			TotalCents:     total,
		}},
	}
}

func assertLedgerBalanced(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	products, err := s.ListProducts(ctx, domain.ProductFilter{IncludeAll: true})
	require.NoError(t, err)
	entries, err := s.ListInventoryTransactions(ctx, domain.InventoryFilter{})
	require.NoError(t, err)
	oldestFirst := make([]domain.InventoryTransaction, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		oldestFirst = append(oldestFirst, entries[i])
	}
	for _, p := range products {
		report := ledger.Verify(p, oldestFirst)
		assert.Truef(t, report.Balanced, "ledger for %s: %+v", p.SKU, report.Issues)
	}
}

func TestSeededStoreHasInitialLedger(t *testing.T) {
	s := newSeededStore(t)
	ctx := context.Background()

	entries, err := s.ListInventoryTransactions(ctx, domain.InventoryFilter{Type: domain.MovementInitial})
	require.NoError(t, err)
	assert.Len(t, entries, 12)

	low, err := s.ListProducts(ctx, domain.ProductFilter{LowStockOnly: true})
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, "SKU-COKLAT-01", low[0].SKU)

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 2)
	assertLedgerBalanced(t, s)
}

func TestListProductsSearchesFoldedText(t *testing.T) {
	s := newSeededStore(t)
	products, err := s.ListProducts(context.Background(), domain.ProductFilter{Query: "SUSU uht"})
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "SKU-SUSU-01", products[0].SKU)

	paged, err := s.ListProducts(context.Background(), domain.ProductFilter{Limit: 5, Offset: 10})
	require.NoError(t, err)
	assert.Len(t, paged, 2)
}

func TestCreateProductRejectsDuplicateCodes(t *testing.T) {
	s := newSeededStore(t)
	_, err := s.CreateProduct(context.Background(), domain.Product{
		SKU: "sku-mie-01", Name: "Mie Kuah", Category: "grocery", PriceCents: 3000, Active: true,
	}, "admin")
	assert.True(t, errors.Is(err, store.ErrConflict))

	_, err = s.CreateProduct(context.Background(), domain.Product{
		SKU: "SKU-NEW-01", Barcode: "8991001000019", Name: "Mie Kuah", Category: "grocery", PriceCents: 3000, Active: true,
	}, "admin")
	assert.True(t, errors.Is(err, store.ErrConflict))
}

func TestUpdateProductKeepsStock(t *testing.T) {
	s := newSeededStore(t)
	p := productBySKU(t, s, "SKU-ROTI-01")
	p.PriceCents = 19000
	p.StockQuantity = 999

	updated, err := s.UpdateProduct(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, int64(19000), updated.PriceCents)
	assert.Equal(t, 25, updated.StockQuantity)
}

func TestApplyStockChangesIsAllOrNothing(t *testing.T) {
	s := newSeededStore(t)
	ctx := context.Background()
	kopi := productBySKU(t, s, "SKU-KOPI-01")
	coklat := productBySKU(t, s, "SKU-COKLAT-01")

	_, err := s.ApplyStockChanges(ctx, []domain.StockChange{
		{ProductID: kopi.ID, Quantity: -10, Type: domain.MovementAdjustment},
		{ProductID: coklat.ID, Quantity: -5, Type: domain.MovementAdjustment},
	})
	require.True(t, errors.Is(err, store.ErrInsufficientStock))
	assert.Equal(t, 200, productBySKU(t, s, "SKU-KOPI-01").StockQuantity)

	entries, err := s.ApplyStockChanges(ctx, []domain.StockChange{
		{ProductID: kopi.ID, Quantity: 10, Type: domain.MovementPurchase},
		{ProductID: kopi.ID, Quantity: 150, Absolute: true, Type: domain.MovementCount},
		{ProductID: coklat.ID, Quantity: 4, Absolute: true, Type: domain.MovementCount},
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 210, entries[1].PreviousQuantity)
	assert.Equal(t, -60, entries[1].Quantity)
	assert.Equal(t, 150, productBySKU(t, s, "SKU-KOPI-01").StockQuantity)
	assertLedgerBalanced(t, s)
}

func TestSaleNumberUsesStoreLocalDay(t *testing.T) {
	s := newSeededStore(t)
	ctx := context.Background()
	mie := productBySKU(t, s, "SKU-MIE-01")

	wib := time.FixedZone("WIB", 7*3600)
	sale := saleFor(mie, 1, domain.SaleStatusCompleted)
	// 03:00 local on the 20th is still the 19th in UTC.
	sale.CreatedAt = time.Date(2026, 10, 19, 20, 0, 0, 0, time.UTC).In(wib)
	created, err := s.CreateSale(ctx, sale)
	require.NoError(t, err)
	assert.Equal(t, "S-20261020-0001", created.Number)
	assert.Equal(t, time.UTC, created.CreatedAt.Location())

	utcSale := saleFor(mie, 1, domain.SaleStatusCompleted)
	utcSale.CreatedAt = time.Date(2026, 10, 19, 20, 30, 0, 0, time.UTC)
	other, err := s.CreateSale(ctx, utcSale)
	require.NoError(t, err)
	assert.Equal(t, "S-20261019-0001", other.Number)
}

func TestCreateSaleDeductsStockAndIsIdempotent(t *testing.T) {
	s := newSeededStore(t)
	ctx := context.Background()
	mie := productBySKU(t, s, "SKU-MIE-01")

	sale := saleFor(mie, 3, domain.SaleStatusCompleted)
	sale.IdempotencyKey = "term-1:001"
	sale.CreatedAt = time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	created, err := s.CreateSale(ctx, sale)
	require.NoError(t, err)
	assert.Equal(t, "S-20261019-0001", created.Number)
	assert.NotEmpty(t, created.Items[0].ID)
	require.NotNil(t, created.CompletedAt)

	again, err := s.CreateSale(ctx, sale)
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID)
	assert.Equal(t, 117, productBySKU(t, s, "SKU-MIE-01").StockQuantity)

	second := saleFor(mie, 1, domain.SaleStatusPending)
	second.CreatedAt = sale.CreatedAt.Add(time.Hour)
	next, err := s.CreateSale(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, "S-20261019-0002", next.Number)
	assert.Equal(t, 116, productBySKU(t, s, "SKU-MIE-01").StockQuantity)
	assertLedgerBalanced(t, s)
}

func TestCreateSaleRejectsOversellWithoutSideEffects(t *testing.T) {
	s := newSeededStore(t)
	ctx := context.Background()
	roti := productBySKU(t, s, "SKU-ROTI-01")
	mie := productBySKU(t, s, "SKU-MIE-01")

	sale := saleFor(mie, 2, domain.SaleStatusCompleted)
	sale.Items = append(sale.Items, saleFor(roti, 26, domain.SaleStatusCompleted).Items...)
	_, err := s.CreateSale(ctx, sale)
	require.True(t, errors.Is(err, store.ErrInsufficientStock))

	assert.Equal(t, 120, productBySKU(t, s, "SKU-MIE-01").StockQuantity)
	sales, err := s.ListSales(ctx, domain.SaleFilter{})
	require.NoError(t, err)
	assert.Empty(t, sales)
}

func TestCompleteAndCancelUpdateCustomer(t *testing.T) {
	s := newSeededStore(t)
	ctx := context.Background()
	customer, err := s.GetCustomerByEmail(ctx, "PELANGGAN@example.com")
	require.NoError(t, err)
	susu := productBySKU(t, s, "SKU-SUSU-01")

	pending := saleFor(susu, 2, domain.SaleStatusPending)
	pending.CustomerID = customer.ID
	created, err := s.CreateSale(ctx, pending)
	require.NoError(t, err)

	completed, err := s.CompleteSale(ctx, created.ID, domain.SalePayment{Method: domain.PaymentCash, AmountPaidCents: 40000, ChangeCents: 2200, LoyaltyPoints: 3})
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusCompleted, completed.Status)

	_, err = s.CompleteSale(ctx, created.ID, domain.SalePayment{Method: domain.PaymentCash})
	assert.True(t, errors.Is(err, store.ErrConflict))

	after, err := s.GetCustomer(ctx, customer.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(37800), after.TotalSpentCents)
	assert.Equal(t, 1, after.VisitCount)
	assert.Equal(t, int64(3), after.LoyaltyPoints)

	cancelled, err := s.CancelSale(ctx, created.ID, "wrong item", "admin", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusCancelled, cancelled.Status)
	assert.Equal(t, 60, productBySKU(t, s, "SKU-SUSU-01").StockQuantity)

	reverted, err := s.GetCustomer(ctx, customer.ID)
	require.NoError(t, err)
	assert.Zero(t, reverted.TotalSpentCents)
	assert.Zero(t, reverted.VisitCount)
	assert.Zero(t, reverted.LoyaltyPoints)

	_, err = s.CancelSale(ctx, created.ID, "again", "admin", time.Time{})
	assert.True(t, errors.Is(err, store.ErrConflict))
	assertLedgerBalanced(t, s)
}

func TestReturnsRefundExactlyTheLineTotal(t *testing.T) {
	s := newSeededStore(t)
	ctx := context.Background()
	teh := productBySKU(t, s, "SKU-TEH-01")

	sale := saleFor(teh, 3, domain.SaleStatusCompleted)
	sale.Items[0].TotalCents = 10000
	sale.TotalCents = 10000
	created, err := s.CreateSale(ctx, sale)
	require.NoError(t, err)
	itemID := created.Items[0].ID

	_, first, err := s.ReturnSaleItems(ctx, domain.SaleReturn{SaleID: created.ID, Items: []domain.SaleReturnItem{{SaleItemID: itemID, Qty: 1}}})
	require.NoError(t, err)
	assert.Equal(t, int64(3333), first.RefundCents)

	_, _, err = s.ReturnSaleItems(ctx, domain.SaleReturn{SaleID: created.ID, Items: []domain.SaleReturnItem{{SaleItemID: itemID, Qty: 3}}})
	assert.True(t, errors.Is(err, store.ErrInvalidTransaction))

	updated, last, err := s.ReturnSaleItems(ctx, domain.SaleReturn{SaleID: created.ID, Items: []domain.SaleReturnItem{{SaleItemID: itemID, Qty: 2}}})
	require.NoError(t, err)
	assert.Equal(t, int64(6667), last.RefundCents)
	assert.Equal(t, int64(10000), updated.RefundedCents)
	assert.Equal(t, domain.SaleStatusRefunded, updated.Status)
	assert.Equal(t, 45, productBySKU(t, s, "SKU-TEH-01").StockQuantity)

	_, err = s.CancelSale(ctx, created.ID, "late", "admin", time.Time{})
	assert.True(t, errors.Is(err, store.ErrConflict))
	assertLedgerBalanced(t, s)
}

func TestCancelAfterPartialReturnRestocksRemainder(t *testing.T) {
	s := newSeededStore(t)
	ctx := context.Background()
	gula := productBySKU(t, s, "SKU-GULA-01")

	created, err := s.CreateSale(ctx, saleFor(gula, 4, domain.SaleStatusCompleted))
	require.NoError(t, err)
	_, _, err = s.ReturnSaleItems(ctx, domain.SaleReturn{SaleID: created.ID, Items: []domain.SaleReturnItem{{SaleItemID: created.Items[0].ID, Qty: 1}}})
	require.NoError(t, err)
	assert.Equal(t, 47, productBySKU(t, s, "SKU-GULA-01").StockQuantity)

	_, err = s.CancelSale(ctx, created.ID, "customer left", "admin", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 50, productBySKU(t, s, "SKU-GULA-01").StockQuantity)
	assertLedgerBalanced(t, s)
}

func TestDeleteCustomerUnlinksSales(t *testing.T) {
	s := newSeededStore(t)
	ctx := context.Background()
	customer, err := s.CreateCustomer(ctx, domain.Customer{Name: "Budi", Email: "Budi@Example.com"})
	require.NoError(t, err)
	assert.Equal(t, "budi@example.com", customer.Email)

	_, err = s.CreateCustomer(ctx, domain.Customer{Name: "Budi 2", Email: "budi@example.com"})
	assert.True(t, errors.Is(err, store.ErrConflict))

	sale := saleFor(productBySKU(t, s, "SKU-AIR-01"), 1, domain.SaleStatusCompleted)
	sale.CustomerID = customer.ID
	created, err := s.CreateSale(ctx, sale)
	require.NoError(t, err)

	require.NoError(t, s.DeleteCustomer(ctx, customer.ID))
	got, err := s.GetSale(ctx, created.ID)
	require.NoError(t, err)
	assert.Empty(t, got.CustomerID)
	assert.True(t, errors.Is(s.DeleteCustomer(ctx, customer.ID), store.ErrNotFound))
}

func TestSettingsAndUsers(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.SaveSettings(ctx, map[string]string{"store_name": "Toko"}))
	values, err := s.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Toko", values["store_name"])

	require.NoError(t, s.CreateUser(ctx, domain.UserAccount{Username: " Kasir2 ", Password: "hash"}))
	assert.True(t, errors.Is(s.CreateUser(ctx, domain.UserAccount{Username: "till2", Password: "hash"}), store.ErrConflict))
	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, domain.RoleCashier, users[0].Role)
}

func TestNewSeededWithUsesGivenPasswords(t *testing.T) {
	s, err := NewSeededWith(nil, SeedCredentials{AdminPassword: "owner-pass-1", CashierPassword: "till-pass-1"})
	require.NoError(t, err)

	users, err := s.ListUsers(context.Background())
	require.NoError(t, err)
	byName := map[string]domain.UserAccount{}
	for _, u := range users {
		byName[u.Username] = u
	}
	require.Contains(t, byName, "admin")
	require.Contains(t, byName, "cashier")
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(byName["admin"].Password), []byte("owner-pass-1")))
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(byName["cashier"].Password), []byte("till-pass-1")))
}
