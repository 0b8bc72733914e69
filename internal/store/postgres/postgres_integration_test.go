//go:build integration

package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/ledger"
	"retailpos/backend/internal/service"
	"retailpos/backend/internal/store"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("retailpos"),
		tcpostgres.WithUsername("retailpos"),
		tcpostgres.WithPassword("retailpos"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	applied, err := s.Migrate(ctx)
	require.NoError(t, err)
	assert.Len(t, applied, 4)

	again, err := s.Migrate(ctx)
	require.NoError(t, err)
	assert.Empty(t, again, "second run must be a no-op")
	return s
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

func TestPostgresSaleLifecycleKeepsLedgerBalanced(t *testing.T) {
	s := newIntegrationStore(t)
	svc := service.New(s, service.Deps{Logger: zap.NewNop()})
	admin := service.WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})

	reorder := 3
	product, err := svc.CreateProduct(admin, domain.ProductCreateRequest{
		SKU:          "SKU-BERAS-05",
		Barcode:      "8991001000200",
		Name:         "Beras 5kg",
		Category:     "grocery",
		Unit:         "sack",
		PriceCents:   72000,
		CostCents:    61000,
		InitialStock: 20,
		ReorderLevel: &reorder,
	})
	require.NoError(t, err)

	_, err = svc.CreateProduct(admin, domain.ProductCreateRequest{
		SKU: "sku-beras-05", Name: "Duplicate", Category: "grocery", PriceCents: 1,
	})
	assert.True(t, errors.Is(err, store.ErrConflict))

	resp, err := svc.Checkout(admin, domain.CheckoutRequest{
		IdempotencyKey:  "pg-1",
		PaymentMethod:   domain.PaymentCash,
		AmountPaidCents: 500000,
		Items:           []domain.CartItem{{ProductID: product.ID, Qty: 4}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusCompleted, resp.Sale.Status)

	dup, err := svc.Checkout(admin, domain.CheckoutRequest{
		IdempotencyKey:  "pg-1",
		PaymentMethod:   domain.PaymentCash,
		AmountPaidCents: 500000,
		Items:           []domain.CartItem{{ProductID: product.ID, Qty: 4}},
	})
	require.NoError(t, err)
	assert.True(t, dup.Duplicate)
	assert.Equal(t, resp.Sale.ID, dup.Sale.ID)

	held, err := svc.HoldSale(admin, domain.HoldRequest{Items: []domain.CartItem{{ProductID: product.ID, Qty: 2}}})
	require.NoError(t, err)
	_, err = svc.CancelSale(admin, held.Sale.ID, domain.CancelSaleRequest{Reason: "walked out"})
	require.NoError(t, err)

	ret, err := svc.ReturnItems(admin, resp.Sale.ID, domain.ReturnRequest{
		Items:  []domain.ReturnLine{{SaleItemID: resp.Sale.Items[0].ID, Qty: 1}},
		Reason: "damaged",
	})
	require.NoError(t, err)
	assert.Positive(t, ret.Return.RefundCents)

	_, err = svc.Checkout(admin, domain.CheckoutRequest{
		PaymentMethod:   domain.PaymentCash,
		AmountPaidCents: 10_000_000,
		Items:           []domain.CartItem{{ProductID: product.ID, Qty: 100}},
	})
	assert.True(t, errors.Is(err, store.ErrInsufficientStock))

	got, err := s.GetProduct(context.Background(), product.ID)
	require.NoError(t, err)
	assert.Equal(t, 17, got.StockQuantity)

	rec, err := svc.ReconcileInventory(admin, product.ID)
	require.NoError(t, err)
	require.Len(t, rec.Reports, 1)
	assert.True(t, rec.Reports[0].Balanced)
	assertLedgerBalanced(t, s)
}

func TestPostgresConcurrentCheckoutsNeverOversell(t *testing.T) {
	s := newIntegrationStore(t)
	svc := service.New(s, service.Deps{Logger: zap.NewNop()})
	admin := service.WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})

	product, err := svc.CreateProduct(admin, domain.ProductCreateRequest{
		SKU: "SKU-LAST-01", Name: "Last Units", Category: "grocery", PriceCents: 1000, InitialStock: 5,
	})
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Checkout(admin, domain.CheckoutRequest{
				PaymentMethod:    domain.PaymentCard,
				PaymentReference: "CARD",
				Items:            []domain.CartItem{{ProductID: product.ID, Qty: 1}},
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			// Retries can run out under serializable contention.
			assert.True(t, errors.Is(err, store.ErrInsufficientStock) || errors.Is(err, store.ErrConflict), "unexpected error: %v", err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, succeeded, 5)
	assert.Positive(t, succeeded)
	got, err := s.GetProduct(context.Background(), product.ID)
	require.NoError(t, err)
	assert.Equal(t, 5-succeeded, got.StockQuantity)
	assertLedgerBalanced(t, s)
}
