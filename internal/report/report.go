// Package report aggregates sales and stock into the figures shown on the
// dashboard and the reports pages. Only completed and refunded sales count;
// refunds are netted out of revenue, cost and quantity.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"retailpos/backend/internal/domain"
)

const (
	PeriodDay   = "day"
	PeriodWeek  = "week"
	PeriodMonth = "month"
)

// ValidPeriod reports whether p is one of day, week or month.
func ValidPeriod(p string) bool {
	return p == PeriodDay || p == PeriodWeek || p == PeriodMonth
}

// PeriodKey buckets t into its day ("2026-10-19"), ISO week ("2026-W43") or
// month ("2026-10").
func PeriodKey(t time.Time, period string) string {
	switch period {
	case PeriodWeek:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	case PeriodMonth:
		return t.Format("2006-01")
	default:
		return t.Format("2006-01-02")
	}
}

type itemFigures struct {
	qty     int
	revenue int64
	cost    int64
}

// keptItem returns the part of a line that was not returned. Revenue excludes
// tax and is reduced by what was refunded.
func keptItem(item domain.SaleItem) itemFigures {
	kept := item.Qty - item.ReturnedQty
	if kept < 0 {
		kept = 0
	}
	preTax := item.TotalCents - item.TaxCents
	refundedPreTax := decimal.Zero
	if item.TotalCents > 0 {
		refundedPreTax, _ = decimal.NewFromInt(preTax).Mul(decimal.NewFromInt(item.RefundedCents)).QuoRem(decimal.NewFromInt(item.TotalCents), 0)
	}
	return itemFigures{
		qty:     kept,
		revenue: preTax - refundedPreTax.IntPart(),
		cost:    item.UnitCostCents * int64(kept),
	}
}

func addSale(t *domain.SalesTotals, sale domain.Sale) {
	t.Orders++
	t.GrossCents += sale.SubtotalCents
	t.DiscountCents += sale.DiscountCents
	t.TaxCents += sale.TaxCents
	t.RefundedCents += sale.RefundedCents
	t.NetSalesCents += sale.TotalCents - sale.RefundedCents
	for _, item := range sale.Items {
		f := keptItem(item)
		t.ItemsSold += f.qty
		t.CostCents += f.cost
		t.ProfitCents += f.revenue - f.cost
	}
}

func finish(t *domain.SalesTotals) {
	if t.Orders > 0 {
		t.AverageOrderCents = t.NetSalesCents / int64(t.Orders)
	}
}

// Summarize totals every counted sale.
func Summarize(sales []domain.Sale) domain.SalesTotals {
	var totals domain.SalesTotals
	for _, sale := range sales {
		if sale.Counted() {
			addSale(&totals, sale)
		}
	}
	finish(&totals)
	return totals
}

// SalesByPeriod groups counted sales by period in loc, oldest first.
func SalesByPeriod(sales []domain.Sale, period string, loc *time.Location) []domain.PeriodTotals {
	if loc == nil {
		loc = time.UTC
	}
	buckets := make(map[string]*domain.PeriodTotals)
	for _, sale := range sales {
		if !sale.Counted() {
			continue
		}
		key := PeriodKey(sale.CreatedAt.In(loc), period)
		bucket, ok := buckets[key]
		if !ok {
			bucket = &domain.PeriodTotals{Period: key}
			buckets[key] = bucket
		}
		addSale(&bucket.SalesTotals, sale)
	}

	rows := make([]domain.PeriodTotals, 0, len(buckets))
	for _, bucket := range buckets {
		finish(&bucket.SalesTotals)
		rows = append(rows, *bucket)
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Period < rows[j].Period
	})
	return rows
}

// DailyTrend returns one row per day for the days ending at end (inclusive),
// including days without sales.
func DailyTrend(sales []domain.Sale, end time.Time, days int, loc *time.Location) []domain.PeriodTotals {
	if loc == nil {
		loc = time.UTC
	}
	byDay := make(map[string]domain.PeriodTotals)
	for _, row := range SalesByPeriod(sales, PeriodDay, loc) {
		byDay[row.Period] = row
	}
	end = end.In(loc)
	rows := make([]domain.PeriodTotals, 0, days)
	for i := days - 1; i >= 0; i-- {
		key := end.AddDate(0, 0, -i).Format("2006-01-02")
		row, ok := byDay[key]
		if !ok {
			row = domain.PeriodTotals{Period: key}
		}
		rows = append(rows, row)
	}
	return rows
}

// TopProducts ranks products by revenue, then quantity. limit <= 0 returns all.
func TopProducts(sales []domain.Sale, limit int) []domain.ProductTotals {
	byProduct := make(map[string]*domain.ProductTotals)
	for _, sale := range sales {
		if !sale.Counted() {
			continue
		}
		for _, item := range sale.Items {
			row, ok := byProduct[item.ProductID]
			if !ok {
				row = &domain.ProductTotals{
					ProductID: item.ProductID,
					SKU:       item.SKU,
					Name:      item.Name,
					Category:  item.Category,
				}
				byProduct[item.ProductID] = row
			}
			f := keptItem(item)
			row.QtySold += f.qty
			row.RevenueCents += f.revenue
			row.CostCents += f.cost
			row.ProfitCents += f.revenue - f.cost
		}
	}

	rows := make([]domain.ProductTotals, 0, len(byProduct))
	for _, row := range byProduct {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].RevenueCents != rows[j].RevenueCents {
			return rows[i].RevenueCents > rows[j].RevenueCents
		}
		if rows[i].QtySold != rows[j].QtySold {
			return rows[i].QtySold > rows[j].QtySold
		}
		return rows[i].SKU < rows[j].SKU
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

// ByCategory groups item revenue by the category snapshotted on the sale.
func ByCategory(sales []domain.Sale) []domain.GroupTotals {
	groups := make(map[string]*domain.GroupTotals)
	for _, sale := range sales {
		if !sale.Counted() {
			continue
		}
		seen := make(map[string]bool)
		for _, item := range sale.Items {
			key := strings.TrimSpace(item.Category)
			if key == "" {
				key = "uncategorized"
			}
			g := group(groups, key)
			if !seen[key] {
				g.Orders++
				seen[key] = true
			}
			f := keptItem(item)
			g.RevenueCents += f.revenue
			g.ProfitCents += f.revenue - f.cost
		}
	}
	return sortedGroups(groups)
}

func ByPayment(sales []domain.Sale) []domain.GroupTotals {
	return bySaleKey(sales, func(s domain.Sale) string { return s.PaymentMethod })
}

func ByCashier(sales []domain.Sale) []domain.GroupTotals {
	return bySaleKey(sales, func(s domain.Sale) string {
		if s.CashierUsername == "" {
			return "online"
		}
		return s.CashierUsername
	})
}

func ByChannel(sales []domain.Sale) []domain.GroupTotals {
	return bySaleKey(sales, func(s domain.Sale) string { return s.Channel })
}

func bySaleKey(sales []domain.Sale, keyOf func(domain.Sale) string) []domain.GroupTotals {
	groups := make(map[string]*domain.GroupTotals)
	for _, sale := range sales {
		if !sale.Counted() {
			continue
		}
		key := keyOf(sale)
		if key == "" {
			key = "unknown"
		}
		g := group(groups, key)
		g.Orders++
		g.RevenueCents += sale.TotalCents - sale.RefundedCents
		for _, item := range sale.Items {
			f := keptItem(item)
			g.ProfitCents += f.revenue - f.cost
		}
	}
	return sortedGroups(groups)
}

func group(groups map[string]*domain.GroupTotals, key string) *domain.GroupTotals {
	g, ok := groups[key]
	if !ok {
		g = &domain.GroupTotals{Key: key}
		groups[key] = g
	}
	return g
}

func sortedGroups(groups map[string]*domain.GroupTotals) []domain.GroupTotals {
	rows := make([]domain.GroupTotals, 0, len(groups))
	for _, g := range groups {
		rows = append(rows, *g)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].RevenueCents != rows[j].RevenueCents {
			return rows[i].RevenueCents > rows[j].RevenueCents
		}
		return rows[i].Key < rows[j].Key
	})
	return rows
}

// InventoryValuation values stock at cost and at retail price.
func InventoryValuation(products []domain.Product) domain.InventoryValuation {
	valuation := domain.InventoryValuation{Rows: make([]domain.ValuationRow, 0, len(products))}
	for _, p := range products {
		row := domain.ValuationRow{
			ProductID:        p.ID,
			SKU:              p.SKU,
			Name:             p.Name,
			Category:         p.Category,
			StockQuantity:    p.StockQuantity,
			CostCents:        p.CostCents,
			PriceCents:       p.PriceCents,
			CostValueCents:   p.CostCents * int64(p.StockQuantity),
			RetailValueCents: p.PriceCents * int64(p.StockQuantity),
			LowStock:         p.LowStock(),
		}
		valuation.Rows = append(valuation.Rows, row)
		valuation.TotalUnits += row.StockQuantity
		valuation.CostValueCents += row.CostValueCents
		valuation.RetailValueCents += row.RetailValueCents
		if row.LowStock {
			valuation.LowStockCount++
		}
	}
	sort.Slice(valuation.Rows, func(i, j int) bool {
		if valuation.Rows[i].CostValueCents != valuation.Rows[j].CostValueCents {
			return valuation.Rows[i].CostValueCents > valuation.Rows[j].CostValueCents
		}
		return valuation.Rows[i].SKU < valuation.Rows[j].SKU
	})
	return valuation
}
