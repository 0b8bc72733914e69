package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"retailpos/backend/internal/domain"
)

func (a *API) handleListCustomers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	customers, err := a.service.ListCustomers(r.Context(), domain.CustomerFilter{
		Query:  q.Get("q"),
		Limit:  parsePositiveLimit(q.Get("limit"), 50, 200),
		Offset: parseOffset(q.Get("offset")),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customers": customers})
}

func (a *API) handleCreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req domain.CustomerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	customer, err := a.service.CreateCustomer(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"customer": customer})
}

func (a *API) handleGetCustomer(w http.ResponseWriter, r *http.Request) {
	customer, err := a.service.GetCustomer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customer": customer})
}

func (a *API) handleUpdateCustomer(w http.ResponseWriter, r *http.Request) {
	var req domain.CustomerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	customer, err := a.service.UpdateCustomer(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customer": customer})
}

func (a *API) handleDeleteCustomer(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteCustomer(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleCustomerSales(w http.ResponseWriter, r *http.Request) {
	sales, err := a.service.CustomerSales(r.Context(), chi.URLParam(r, "id"), parsePositiveLimit(r.URL.Query().Get("limit"), 50, 200))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.SaleListResponse{Sales: sales, Count: len(sales)})
}

func (a *API) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	set, err := a.service.GetSettings(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": set})
}

func (a *API) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req domain.SettingsUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	set, err := a.service.UpdateSettings(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": set})
}

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	summary, err := a.service.Dashboard(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleReport serves a report as JSON, or as a CSV download with ?format=csv.
func (a *API) handleReport(w http.ResponseWriter, r *http.Request) {
	from, to, err := a.parseRange(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	kind := chi.URLParam(r, "kind")
	result, err := a.service.Report(r.Context(), kind, domain.ReportQuery{
		From:   from,
		To:     to,
		Period: strings.TrimSpace(q.Get("period")),
		Limit:  parsePositiveLimit(q.Get("limit"), 0, 100),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}

	if strings.EqualFold(q.Get("format"), "csv") {
		filename := fmt.Sprintf("%s-%s-%s.csv", kind, result.From.Format("20060102"), result.To.Format("20060102"))
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
		w.WriteHeader(http.StatusOK)
		if err := result.Table.WriteCSV(w); err != nil {
			a.logger.Warn("write csv report", zap.String("kind", kind), zap.Error(err))
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"kind": result.Kind,
		"from": result.From,
		"to":   result.To,
		"rows": result.Rows,
	})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	logs, err := a.service.ListAuditLogs(r.Context(), strings.TrimSpace(q.Get("date")), parsePositiveLimit(q.Get("limit"), 100, 500))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}
