// Package ledger checks that a product's inventory transactions form an
// unbroken chain ending at the product's current stock.
package ledger

import (
	"sort"

	"retailpos/backend/internal/domain"
)

const (
	IssueArithmetic = "arithmetic"
	IssueChain      = "chain"
	IssueNegative   = "negative"
	IssueDrift      = "drift"
)

// Verify walks entries oldest first. Entries for other products are ignored.
func Verify(product domain.Product, entries []domain.InventoryTransaction) domain.LedgerReport {
	own := make([]domain.InventoryTransaction, 0, len(entries))
	for _, entry := range entries {
		if entry.ProductID == product.ID {
			own = append(own, entry)
		}
	}
	sort.SliceStable(own, func(i, j int) bool {
		return own[i].CreatedAt.Before(own[j].CreatedAt)
	})

	report := domain.LedgerReport{
		ProductID:    product.ID,
		SKU:          product.SKU,
		Entries:      len(own),
		CurrentStock: product.StockQuantity,
	}

	running := 0
	for i, entry := range own {
		if entry.PreviousQuantity+entry.Quantity != entry.NewQuantity {
			report.Issues = append(report.Issues, domain.LedgerDiscrepancy{
				Kind:          IssueArithmetic,
				TransactionID: entry.ID,
				Expected:      entry.PreviousQuantity + entry.Quantity,
				Actual:        entry.NewQuantity,
			})
		}
		if i > 0 && entry.PreviousQuantity != running {
			report.Issues = append(report.Issues, domain.LedgerDiscrepancy{
				Kind:          IssueChain,
				TransactionID: entry.ID,
				Expected:      running,
				Actual:        entry.PreviousQuantity,
			})
		}
		if entry.NewQuantity < 0 {
			report.Issues = append(report.Issues, domain.LedgerDiscrepancy{
				Kind:          IssueNegative,
				TransactionID: entry.ID,
				Expected:      0,
				Actual:        entry.NewQuantity,
			})
		}
		running = entry.NewQuantity
	}

	report.LedgerStock = running
	if running != product.StockQuantity {
		report.Issues = append(report.Issues, domain.LedgerDiscrepancy{
			Kind:     IssueDrift,
			Expected: running,
			Actual:   product.StockQuantity,
		})
	}
	report.Balanced = len(report.Issues) == 0
	return report
}
