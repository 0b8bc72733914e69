package service

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/report"
	"retailpos/backend/internal/settings"
)

const (
	ReportSales      = "sales"
	ReportProducts   = "products"
	ReportCategories = "categories"
	ReportPayments   = "payments"
	ReportCashiers   = "cashiers"
	ReportChannels   = "channels"
	ReportInventory  = "inventory"
)

const (
	dashboardTrendDays = 7
	dashboardTopN      = 5
	dashboardRecentN   = 10
	defaultReportDays  = 30
	maxReportDays      = 366
)

// ReportResult carries a report both as typed rows for JSON and as a flat
// table for CSV export.
type ReportResult struct {
	Kind  string
	From  time.Time
	To    time.Time
	Rows  any
	Table report.Table
}

// startOfDay is midnight of t's calendar day in loc.
func startOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// StoreLocation is the configured store timezone.
func (s *Service) StoreLocation(ctx context.Context) (*time.Location, error) {
	set, err := s.currentSettings(ctx)
	if err != nil {
		return nil, err
	}
	return settings.Location(set), nil
}

// Dashboard summarizes today, the last week and the current stock position.
// Days follow the store timezone.
func (s *Service) Dashboard(ctx context.Context) (domain.DashboardSummary, error) {
	loc, err := s.StoreLocation(ctx)
	if err != nil {
		return domain.DashboardSummary{}, err
	}
	now := time.Now().In(loc)
	key := s.cacheKey("dashboard", loc.String(), startOfDay(now, loc).Format("2006-01-02"))
	return cached(ctx, s, key, func(ctx context.Context) (domain.DashboardSummary, error) {
		return s.buildDashboard(ctx, now, loc)
	})
}

func (s *Service) buildDashboard(ctx context.Context, now time.Time, loc *time.Location) (domain.DashboardSummary, error) {
	today := startOfDay(now, loc)
	var (
		week     []domain.Sale
		pending  []domain.Sale
		lowStock []domain.Product
		products []domain.Product
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		week, err = s.repo.ListSales(gctx, domain.SaleFilter{
			From: today.AddDate(0, 0, -(dashboardTrendDays - 1)),
			To:   today.AddDate(0, 0, 1),
		})
		return err
	})
	g.Go(func() error {
		var err error
		pending, err = s.repo.ListSales(gctx, domain.SaleFilter{Status: domain.SaleStatusPending})
		return err
	})
	g.Go(func() error {
		var err error
		lowStock, err = s.repo.ListProducts(gctx, domain.ProductFilter{LowStockOnly: true})
		return err
	})
	g.Go(func() error {
		var err error
		products, err = s.repo.ListProducts(gctx, domain.ProductFilter{})
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.DashboardSummary{}, err
	}

	todaySales := make([]domain.Sale, 0, len(week))
	for _, sale := range week {
		if !sale.CreatedAt.Before(today) {
			todaySales = append(todaySales, sale)
		}
	}
	recent := week
	if len(recent) > dashboardRecentN {
		recent = recent[:dashboardRecentN]
	}

	return domain.DashboardSummary{
		Date:           today.Format("2006-01-02"),
		Today:          report.Summarize(todaySales),
		Trend:          report.DailyTrend(week, now, dashboardTrendDays, loc),
		TopProducts:    report.TopProducts(todaySales, dashboardTopN),
		LowStock:       lowStock,
		RecentSales:    recent,
		PendingOrders:  len(pending),
		ProductCount:   len(products),
		InventoryValue: report.InventoryValuation(products).CostValueCents,
	}, nil
}

// normalizeQuery defaults to the 30 store days ending with today. The
// default upper bound is the end of today so repeated requests share a cache
// key.
func normalizeQuery(q domain.ReportQuery, now time.Time, loc *time.Location) (domain.ReportQuery, error) {
	if q.To.IsZero() {
		q.To = startOfDay(now, loc).AddDate(0, 0, 1)
	}
	if q.From.IsZero() {
		q.From = startOfDay(q.To.Add(-time.Nanosecond), loc).AddDate(0, 0, -(defaultReportDays - 1))
	}
	q.From = q.From.UTC()
	q.To = q.To.UTC()
	if !q.From.Before(q.To) {
		return q, invalidf("from must be before to")
	}
	if q.To.Sub(q.From) > maxReportDays*24*time.Hour {
		return q, invalidf("report range is limited to %d days", maxReportDays)
	}
	if q.Period == "" {
		q.Period = report.PeriodDay
	}
	if !report.ValidPeriod(q.Period) {
		return q, invalidf("period must be day, week or month")
	}
	if q.Limit < 1 || q.Limit > 100 {
		q.Limit = 20
	}
	return q, nil
}

func (s *Service) salesBetween(ctx context.Context, q domain.ReportQuery) ([]domain.Sale, error) {
	return s.repo.ListSales(ctx, domain.SaleFilter{From: q.From, To: q.To})
}

// Report builds one of the admin reports over the query range.
func (s *Service) Report(ctx context.Context, kind string, q domain.ReportQuery) (ReportResult, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return ReportResult{}, err
	}

	if kind == ReportInventory {
		valuation, err := cached(ctx, s, s.cacheKey("report", kind), func(ctx context.Context) (domain.InventoryValuation, error) {
			products, err := s.repo.ListProducts(ctx, domain.ProductFilter{})
			if err != nil {
				return domain.InventoryValuation{}, err
			}
			return report.InventoryValuation(products), nil
		})
		if err != nil {
			return ReportResult{}, err
		}
		now := time.Now().UTC()
		return ReportResult{Kind: kind, From: now, To: now, Rows: valuation, Table: report.ValuationTable(valuation)}, nil
	}

	loc, err := s.StoreLocation(ctx)
	if err != nil {
		return ReportResult{}, err
	}
	q, err = normalizeQuery(q, time.Now(), loc)
	if err != nil {
		return ReportResult{}, err
	}
	key := s.cacheKey("report", kind, q.From.Unix(), q.To.Unix(), q.Period, q.Limit, loc.String())
	result := ReportResult{Kind: kind, From: q.From, To: q.To}

	switch kind {
	case ReportSales:
		rows, err := cached(ctx, s, key, func(ctx context.Context) ([]domain.PeriodTotals, error) {
			sales, err := s.salesBetween(ctx, q)
			if err != nil {
				return nil, err
			}
			return report.SalesByPeriod(sales, q.Period, loc), nil
		})
		if err != nil {
			return ReportResult{}, err
		}
		result.Rows, result.Table = rows, report.PeriodsTable(rows)
	case ReportProducts:
		rows, err := cached(ctx, s, key, func(ctx context.Context) ([]domain.ProductTotals, error) {
			sales, err := s.salesBetween(ctx, q)
			if err != nil {
				return nil, err
			}
			return report.TopProducts(sales, q.Limit), nil
		})
		if err != nil {
			return ReportResult{}, err
		}
		result.Rows, result.Table = rows, report.ProductsTable(rows)
	case ReportCategories, ReportPayments, ReportCashiers, ReportChannels:
		group := groupFunc(kind)
		rows, err := cached(ctx, s, key, func(ctx context.Context) ([]domain.GroupTotals, error) {
			sales, err := s.salesBetween(ctx, q)
			if err != nil {
				return nil, err
			}
			return group(sales), nil
		})
		if err != nil {
			return ReportResult{}, err
		}
		result.Rows, result.Table = rows, report.GroupsTable(groupColumn(kind), rows)
	default:
		return ReportResult{}, invalidf("unknown report %q", kind)
	}
	return result, nil
}

func groupFunc(kind string) func([]domain.Sale) []domain.GroupTotals {
	switch kind {
	case ReportCategories:
		return report.ByCategory
	case ReportPayments:
		return report.ByPayment
	case ReportCashiers:
		return report.ByCashier
	default:
		return report.ByChannel
	}
}

func groupColumn(kind string) string {
	switch kind {
	case ReportCategories:
		return "category"
	case ReportPayments:
		return "payment_method"
	case ReportCashiers:
		return "cashier"
	default:
		return "channel"
	}
}
