package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mssola/useragent"

	"retailpos/backend/internal/domain"
)

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = time.Now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, invalidf("date must be YYYY-MM-DD")
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

// RecordLogin audits a successful login with the client's browser and OS.
func (s *Service) RecordLogin(ctx context.Context, actor domain.Actor, userAgent string, remote string) {
	detail := "client=unknown"
	if ua := useragent.New(userAgent); userAgent != "" {
		browser, version := ua.Browser()
		detail = fmt.Sprintf("browser=%s %s,os=%s,mobile=%t,bot=%t", browser, version, ua.OS(), ua.Mobile(), ua.Bot())
	}
	if remote != "" {
		detail += ",remote=" + remote
	}
	s.logAudit(WithActor(ctx, actor), "login", "user", actor.Username, detail)
}

func (s *Service) RecordCashierCreated(ctx context.Context, username string) {
	s.logAudit(ctx, "cashier_create", "user", username, "role="+domain.RoleCashier)
}
