package report

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/shopspring/decimal"

	"retailpos/backend/internal/domain"
)

// Table is a flat, exportable view of a report.
type Table struct {
	Header []string
	Rows   [][]string
}

func (t Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return err
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return err
	}
	return cw.Error()
}

// Money renders cents as a fixed two-decimal amount, e.g. 1234567 -> "12345.67".
func Money(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

func PeriodsTable(rows []domain.PeriodTotals) Table {
	t := Table{Header: []string{
		"period", "orders", "items_sold", "gross", "discount", "tax", "refunded", "net_sales", "cost", "profit", "average_order",
	}}
	for _, r := range rows {
		t.Rows = append(t.Rows, []string{
			r.Period,
			strconv.Itoa(r.Orders),
			strconv.Itoa(r.ItemsSold),
			Money(r.GrossCents),
			Money(r.DiscountCents),
			Money(r.TaxCents),
			Money(r.RefundedCents),
			Money(r.NetSalesCents),
			Money(r.CostCents),
			Money(r.ProfitCents),
			Money(r.AverageOrderCents),
		})
	}
	return t
}

func ProductsTable(rows []domain.ProductTotals) Table {
	t := Table{Header: []string{"sku", "name", "category", "qty_sold", "revenue", "cost", "profit"}}
	for _, r := range rows {
		t.Rows = append(t.Rows, []string{
			r.SKU,
			r.Name,
			r.Category,
			strconv.Itoa(r.QtySold),
			Money(r.RevenueCents),
			Money(r.CostCents),
			Money(r.ProfitCents),
		})
	}
	return t
}

func GroupsTable(keyName string, rows []domain.GroupTotals) Table {
	t := Table{Header: []string{keyName, "orders", "revenue", "profit"}}
	for _, r := range rows {
		t.Rows = append(t.Rows, []string{
			r.Key,
			strconv.Itoa(r.Orders),
			Money(r.RevenueCents),
			Money(r.ProfitCents),
		})
	}
	return t
}

func ValuationTable(v domain.InventoryValuation) Table {
	t := Table{Header: []string{"sku", "name", "category", "stock", "unit_cost", "unit_price", "cost_value", "retail_value", "low_stock"}}
	for _, r := range v.Rows {
		t.Rows = append(t.Rows, []string{
			r.SKU,
			r.Name,
			r.Category,
			strconv.Itoa(r.StockQuantity),
			Money(r.CostCents),
			Money(r.PriceCents),
			Money(r.CostValueCents),
			Money(r.RetailValueCents),
			strconv.FormatBool(r.LowStock),
		})
	}
	t.Rows = append(t.Rows, []string{
		"TOTAL", "", "", strconv.Itoa(v.TotalUnits), "", "", Money(v.CostValueCents), Money(v.RetailValueCents), strconv.Itoa(v.LowStockCount),
	})
	return t
}
