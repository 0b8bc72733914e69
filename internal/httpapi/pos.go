package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"retailpos/backend/internal/domain"
)

func saleStatus(duplicate bool) int {
	if duplicate {
		return http.StatusOK
	}
	return http.StatusCreated
}

func (a *API) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req domain.QuoteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	quote, err := a.service.Quote(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req domain.CheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	}
	ctx, ok := a.approve(w, r, req.ManagerPIN, "discount")
	if !ok {
		return
	}

	resp, err := a.service.Checkout(ctx, req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, saleStatus(resp.Duplicate), resp)
}

func (a *API) handleHold(w http.ResponseWriter, r *http.Request) {
	var req domain.HoldRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ctx, ok := a.approve(w, r, req.ManagerPIN, "discount")
	if !ok {
		return
	}

	resp, err := a.service.HoldSale(ctx, req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, saleStatus(resp.Duplicate), resp)
}

func (a *API) handleScan(w http.ResponseWriter, r *http.Request) {
	var req domain.ScanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.ResolveScan(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleOfflineSync(w http.ResponseWriter, r *http.Request) {
	var req domain.OfflineSyncRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.SyncOffline(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListSales(w http.ResponseWriter, r *http.Request) {
	from, to, err := a.parseRange(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	sales, err := a.service.ListSales(r.Context(), domain.SaleFilter{
		Status:     strings.TrimSpace(q.Get("status")),
		Channel:    strings.TrimSpace(q.Get("channel")),
		CustomerID: strings.TrimSpace(q.Get("customer_id")),
		Cashier:    strings.TrimSpace(q.Get("cashier")),
		Number:     strings.ToUpper(strings.TrimSpace(q.Get("number"))),
		From:       from,
		To:         to,
		Limit:      parsePositiveLimit(q.Get("limit"), 50, 200),
		Offset:     parseOffset(q.Get("offset")),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.SaleListResponse{Sales: sales, Count: len(sales)})
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.GetSale(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleCompleteSale(w http.ResponseWriter, r *http.Request) {
	var req domain.CompleteSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sale, err := a.service.CompleteSale(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleCancelSale(w http.ResponseWriter, r *http.Request) {
	var req domain.CancelSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ctx, ok := a.approve(w, r, req.ManagerPIN, "cancel")
	if !ok {
		return
	}

	sale, err := a.service.CancelSale(ctx, chi.URLParam(r, "id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleReturnItems(w http.ResponseWriter, r *http.Request) {
	var req domain.ReturnRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ctx, ok := a.approve(w, r, req.ManagerPIN, "return")
	if !ok {
		return
	}

	resp, err := a.service.ReturnItems(ctx, chi.URLParam(r, "id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}
