package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"retailpos/backend/internal/domain"
)

func sampleSales() []domain.Sale {
	return []domain.Sale{
		{
			ID: "s1", Status: domain.SaleStatusCompleted, Channel: domain.ChannelPOS,
			CashierUsername: "till1", PaymentMethod: "cash",
			SubtotalCents: 10000, TotalCents: 10000,
			CreatedAt: time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC),
			Items: []domain.SaleItem{
				{ProductID: "p-a", SKU: "A", Name: "Kopi", Category: "beverage", Qty: 2, UnitPriceCents: 3000, UnitCostCents: 2000, NetCents: 6000, TotalCents: 6000},
				{ProductID: "p-b", SKU: "B", Name: "Roti", Category: "bakery", Qty: 1, UnitPriceCents: 4000, UnitCostCents: 2500, NetCents: 4000, TotalCents: 4000},
			},
		},
		{
			ID: "s2", Status: domain.SaleStatusCompleted, Channel: domain.ChannelOnline,
			PaymentMethod: "qris", SubtotalCents: 12000, TotalCents: 12000, RefundedCents: 3000,
			CreatedAt: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC),
			Items: []domain.SaleItem{
				{ProductID: "p-a", SKU: "A", Name: "Kopi", Category: "beverage", Qty: 4, UnitPriceCents: 3000, UnitCostCents: 2000, NetCents: 12000, TotalCents: 12000, ReturnedQty: 1, RefundedCents: 3000},
			},
		},
		{
			ID: "s3", Status: domain.SaleStatusCancelled, PaymentMethod: "cash", TotalCents: 99999,
			CreatedAt: time.Date(2026, 10, 19, 11, 0, 0, 0, time.UTC),
			Items:     []domain.SaleItem{{ProductID: "p-b", Qty: 9, TotalCents: 99999}},
		},
		{
			ID: "s4", Status: domain.SaleStatusPending, PaymentMethod: "transfer", TotalCents: 5000,
			CreatedAt: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
		},
	}
}

func TestSummarizeNetsRefundsAndSkipsUncountedSales(t *testing.T) {
	got := Summarize(sampleSales())
	want := domain.SalesTotals{
		Orders:            2,
		ItemsSold:         6,
		GrossCents:        22000,
		RefundedCents:     3000,
		NetSalesCents:     19000,
		CostCents:         12500,
		ProfitCents:       6500,
		AverageOrderCents: 9500,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("summary mismatch (-want +got):\n%s", diff)
	}
}

func TestTopProducts(t *testing.T) {
	got := TopProducts(sampleSales(), 0)
	want := []domain.ProductTotals{
		{ProductID: "p-a", SKU: "A", Name: "Kopi", Category: "beverage", QtySold: 5, RevenueCents: 15000, CostCents: 10000, ProfitCents: 5000},
		{ProductID: "p-b", SKU: "B", Name: "Roti", Category: "bakery", QtySold: 1, RevenueCents: 4000, CostCents: 2500, ProfitCents: 1500},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("top products mismatch (-want +got):\n%s", diff)
	}
	if limited := TopProducts(sampleSales(), 1); len(limited) != 1 || limited[0].SKU != "A" {
		t.Fatalf("expected limit to keep the best seller, got %+v", limited)
	}
}

func TestGroupings(t *testing.T) {
	payments := ByPayment(sampleSales())
	wantPayments := []domain.GroupTotals{
		{Key: "cash", Orders: 1, RevenueCents: 10000, ProfitCents: 3500},
		{Key: "qris", Orders: 1, RevenueCents: 9000, ProfitCents: 3000},
	}
	if diff := cmp.Diff(wantPayments, payments); diff != "" {
		t.Fatalf("payments mismatch (-want +got):\n%s", diff)
	}

	cashiers := ByCashier(sampleSales())
	if len(cashiers) != 2 || cashiers[0].Key != "till1" || cashiers[1].Key != "online" {
		t.Fatalf("unexpected cashier grouping %+v", cashiers)
	}

	categories := ByCategory(sampleSales())
	wantCategories := []domain.GroupTotals{
		{Key: "beverage", Orders: 2, RevenueCents: 15000, ProfitCents: 5000},
		{Key: "bakery", Orders: 1, RevenueCents: 4000, ProfitCents: 1500},
	}
	if diff := cmp.Diff(wantCategories, categories); diff != "" {
		t.Fatalf("categories mismatch (-want +got):\n%s", diff)
	}

	channels := ByChannel(sampleSales())
	if len(channels) != 2 || channels[0].Key != domain.ChannelPOS {
		t.Fatalf("unexpected channel grouping %+v", channels)
	}
}

func TestSalesByPeriodAndTrend(t *testing.T) {
	days := SalesByPeriod(sampleSales(), PeriodDay, time.UTC)
	if len(days) != 2 || days[0].Period != "2026-10-18" || days[1].Period != "2026-10-19" {
		t.Fatalf("unexpected day buckets %+v", days)
	}

	weeks := SalesByPeriod(sampleSales(), PeriodWeek, time.UTC)
	if len(weeks) != 2 || weeks[0].Period != "2026-W42" || weeks[1].Period != "2026-W43" {
		t.Fatalf("unexpected week buckets %+v", weeks)
	}

	months := SalesByPeriod(sampleSales(), PeriodMonth, time.UTC)
	if len(months) != 1 || months[0].Orders != 2 {
		t.Fatalf("unexpected month buckets %+v", months)
	}

	trend := DailyTrend(sampleSales(), time.Date(2026, 10, 20, 23, 0, 0, 0, time.UTC), 3, time.UTC)
	if len(trend) != 3 || trend[2].Period != "2026-10-20" || trend[2].Orders != 0 || trend[0].NetSalesCents != 10000 {
		t.Fatalf("unexpected trend %+v", trend)
	}
}

func TestInventoryValuationAndCSV(t *testing.T) {
	valuation := InventoryValuation([]domain.Product{
		{ID: "p-a", SKU: "A", Name: "Kopi", StockQuantity: 10, ReorderLevel: 5, CostCents: 2000, PriceCents: 3000},
		{ID: "p-b", SKU: "B", Name: "Roti, tawar", StockQuantity: 2, ReorderLevel: 5, CostCents: 2500, PriceCents: 4000},
	})
	if valuation.CostValueCents != 25000 || valuation.RetailValueCents != 38000 || valuation.LowStockCount != 1 {
		t.Fatalf("unexpected valuation %+v", valuation)
	}

	var buf bytes.Buffer
	if err := ValuationTable(valuation).WriteCSV(&buf); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header, two rows and total, got %d lines", len(lines))
	}
	if lines[2] != `B,"Roti, tawar",,2,25.00,40.00,50.00,80.00,true` {
		t.Fatalf("unexpected csv row %q", lines[2])
	}
}

func TestMoney(t *testing.T) {
	if got := Money(1234567); got != "12345.67" {
		t.Fatalf("unexpected money %q", got)
	}
	if got := Money(-50); got != "-0.50" {
		t.Fatalf("unexpected money %q", got)
	}
}

func TestSummarizeLargeRefundedLine(t *testing.T) {
	sale := domain.Sale{
		ID: "s-big", Status: domain.SaleStatusCompleted, Channel: domain.ChannelPOS,
		CashierUsername: "till1", PaymentMethod: "transfer",
		SubtotalCents: 15_000_000_000, TaxCents: 1_650_000_000,
		TotalCents: 16_650_000_000, RefundedCents: 1_665_000_000,
		CreatedAt: time.Date(2026, 10, 19, 11, 0, 0, 0, time.UTC),
		Items: []domain.SaleItem{{
			ProductID: "p-laptop", SKU: "LAPTOP", Name: "Laptop", Category: "electronics",
			Qty: 10, ReturnedQty: 1, UnitPriceCents: 1_500_000_000, UnitCostCents: 1_200_000_000,
			NetCents: 15_000_000_000, TaxCents: 1_650_000_000, TotalCents: 16_650_000_000,
			RefundedCents: 1_665_000_000,
		}},
	}

	got := Summarize([]domain.Sale{sale})
	if got.ItemsSold != 9 || got.CostCents != 10_800_000_000 || got.ProfitCents != 2_700_000_000 {
		t.Fatalf("unexpected totals for large refunded line: %+v", got)
	}

	top := TopProducts([]domain.Sale{sale}, 5)
	if len(top) != 1 || top[0].RevenueCents != 13_500_000_000 {
		t.Fatalf("unexpected product revenue: %+v", top)
	}
}
