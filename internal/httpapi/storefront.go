package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"retailpos/backend/internal/domain"
)

func (a *API) handleStoreInfo(w http.ResponseWriter, r *http.Request) {
	info, err := a.service.StoreInfo(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (a *API) handleStoreProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.StoreProducts(r.Context(), productFilter(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleStoreProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.service.StoreProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleStoreOrder(w http.ResponseWriter, r *http.Request) {
	if !a.orderLimiter.Allow("order:" + clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many orders, try again later"))
		return
	}

	var req domain.StoreOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	order, duplicate, err := a.service.PlaceOrder(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, saleStatus(duplicate), map[string]any{"order": order, "duplicate": duplicate})
}

func (a *API) handleStoreOrderStatus(w http.ResponseWriter, r *http.Request) {
	order, err := a.service.OrderStatus(r.Context(), chi.URLParam(r, "number"), r.URL.Query().Get("email"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}
