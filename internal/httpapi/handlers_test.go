package httpapi

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/service"
	"retailpos/backend/internal/store/memory"
)

const testManagerPIN = "739154"

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo, err := memory.NewSeeded(zap.NewNop())
	if err != nil {
		t.Fatalf("seed store: %v", err)
	}
	svc := service.New(repo, service.Deps{Logger: zap.NewNop()})
	auth := NewAuthManager(context.Background(), "test-secret-key", time.Hour, testManagerPIN, repo)

	return New(svc, auth, Options{AllowedOrigin: "*"})
}

// mustHashPassword generates a bcrypt hash of the given password or fails the test.
func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

// doJSON sends a request through the router. Empty token or csrf leaves the
// header out.
func doJSON(t *testing.T, h http.Handler, method, path, token, csrf string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v (raw: %s)", err, rec.Body.String())
	}
	return out
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	body := decodeBody[map[string]any](t, rec)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestUnknownRouteReturnsJSON404(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api.Handler(), http.MethodGet, "/api/v1/nope", "", "", nil)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected json error body, got %q", ct)
	}
}

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api.Handler(), http.MethodPost, "/api/v1/auth/login", "", "", map[string]string{
		"username": "admin",
		"password": "admin123",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	body := decodeBody[domain.LoginResponse](t, rec)
	if body.AccessToken == "" || body.Role != domain.RoleAdmin {
		t.Fatalf("expected admin access token in response, got %+v", body)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api.Handler(), http.MethodPost, "/api/v1/auth/login", "", "", map[string]string{
		"username": "admin",
		"password": "wrongpassword",
	})

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleLogin_RateLimit(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	// The loginLimiter allows 5 attempts per minute.
	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "badpass",
	})

	var lastCode int
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "192.0.2.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		lastCode = rec.Code
	}

	if lastCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after 6 attempts, got %d", lastCode)
	}
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api.Handler(), http.MethodGet, "/api/v1/products", "", "", nil)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleProducts_WithValidToken(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")

	rec := doJSON(t, api.Handler(), http.MethodGet, "/api/v1/products?q=kopi", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	body := decodeBody[struct {
		Products []domain.Product `json:"products"`
	}](t, rec)
	if len(body.Products) != 1 || body.Products[0].SKU != "SKU-KOPI-01" {
		t.Fatalf("expected kopi search hit, got %+v", body.Products)
	}
}

func TestLookupProductByBarcode(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")

	rec := doJSON(t, api.Handler(), http.MethodGet, "/api/v1/products/lookup?code=8991001000057", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	body := decodeBody[struct {
		Product domain.Product `json:"product"`
	}](t, rec)
	if body.Product.SKU != "SKU-KOPI-01" {
		t.Fatalf("expected kopi by barcode, got %+v", body.Product)
	}

	rec = doJSON(t, api.Handler(), http.MethodGet, "/api/v1/products/lookup?code=0000", token, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown code, got %d", rec.Code)
	}
}

func TestCashierCannotUseAdminRoutes(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api.Handler(), http.MethodPost, "/api/v1/products", token, csrf, domain.ProductCreateRequest{
		SKU:        "SKU-NEW-01",
		Name:       "Produk Baru",
		PriceCents: 1000,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier product create, got %d", rec.Code)
	}

	rec = doJSON(t, api.Handler(), http.MethodGet, "/api/v1/reports/sales", token, "", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier report, got %d", rec.Code)
	}
}

func TestMutationWithoutCSRFTokenIsRejected(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")

	rec := doJSON(t, api.Handler(), http.MethodPost, "/api/v1/pos/checkout", token, "", domain.CheckoutRequest{
		PaymentMethod:   "cash",
		AmountPaidCents: 10000,
		Items:           []domain.CartItem{{SKU: "SKU-MIE-01", Qty: 1}},
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without csrf token, got %d", rec.Code)
	}
}

func TestCheckoutCreatesSaleAndReplaysDuplicate(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, api, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, api)

	checkout := domain.CheckoutRequest{
		TerminalID:      "terminal-a1",
		PaymentMethod:   "cash",
		AmountPaidCents: 10000,
		Items:           []domain.CartItem{{SKU: "SKU-MIE-01", Qty: 2}},
	}
	send := func() *httptest.ResponseRecorder {
		payload, _ := json.Marshal(checkout)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/pos/checkout", bytes.NewReader(payload))
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("X-CSRF-Token", csrf)
		req.Header.Set("Idempotency-Key", "http-idem-1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	first := send()
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", first.Code, first.Body.String())
	}
	created := decodeBody[domain.SaleResponse](t, first)
	if created.Sale.TotalCents != 7770 || created.Sale.ChangeCents != 2230 || created.Duplicate {
		t.Fatalf("unexpected sale %+v", created)
	}

	second := send()
	if second.Code != http.StatusOK {
		t.Fatalf("expected 200 for replay, got %d", second.Code)
	}
	replayed := decodeBody[domain.SaleResponse](t, second)
	if !replayed.Duplicate || replayed.Sale.ID != created.Sale.ID {
		t.Fatalf("expected replay of %s, got %+v", created.Sale.ID, replayed)
	}

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/sales/"+created.Sale.ID, token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected sale lookup 200, got %d", rec.Code)
	}
}

func TestCheckoutInsufficientStockIsConflict(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api.Handler(), http.MethodPost, "/api/v1/pos/checkout", token, csrf, domain.CheckoutRequest{
		PaymentMethod:    "card",
		PaymentReference: "CARD-1",
		Items:            []domain.CartItem{{SKU: "SKU-COKLAT-01", Qty: 50}},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestCancelHeldSaleNeedsManagerPIN(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, api, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/pos/hold", token, csrf, domain.HoldRequest{
		Items: []domain.CartItem{{SKU: "SKU-SUSU-01", Qty: 1}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected hold 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	held := decodeBody[domain.SaleResponse](t, rec)
	path := "/api/v1/sales/" + held.Sale.ID + "/cancel"

	rec = doJSON(t, handler, http.MethodPost, path, token, csrf, domain.CancelSaleRequest{Reason: "customer left"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without pin, got %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodPost, path, token, csrf, domain.CancelSaleRequest{Reason: "customer left", ManagerPIN: "111111"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with wrong pin, got %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodPost, path, token, csrf, domain.CancelSaleRequest{Reason: "customer left", ManagerPIN: testManagerPIN})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with manager pin, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	body := decodeBody[struct {
		Sale domain.Sale `json:"sale"`
	}](t, rec)
	if body.Sale.Status != domain.SaleStatusCancelled {
		t.Fatalf("expected cancelled sale, got %s", body.Sale.Status)
	}
}

func TestStorefrontOrderAndStatus(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/store/products?q=susu", "", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	listing := decodeBody[struct {
		Products []domain.StoreProduct `json:"products"`
	}](t, rec)
	if len(listing.Products) != 1 {
		t.Fatalf("expected one product, got %+v", listing.Products)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/store/orders", "", csrf, domain.StoreOrderRequest{
		IdempotencyKey: "web-http-1",
		Name:           "Budi",
		Email:          "budi@example.com",
		PaymentMethod:  "transfer",
		Items:          []domain.CartItem{{ProductID: listing.Products[0].ID, Qty: 2}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	placed := decodeBody[struct {
		Order     domain.StoreOrder `json:"order"`
		Duplicate bool              `json:"duplicate"`
	}](t, rec)
	if placed.Order.Number == "" || placed.Order.Status != domain.SaleStatusPending {
		t.Fatalf("unexpected order %+v", placed.Order)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/store/orders/"+placed.Order.Number+"?email=budi@example.com", "", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/store/orders/"+placed.Order.Number+"?email=other@example.com", "", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for wrong email, got %d", rec.Code)
	}
}

func TestReportCSVExport(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	admin := loginAs(t, api, "admin", "admin123")
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/pos/checkout", admin, csrf, domain.CheckoutRequest{
		PaymentMethod:   "cash",
		AmountPaidCents: 10000,
		Items:           []domain.CartItem{{SKU: "SKU-MIE-01", Qty: 2}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("checkout failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/reports/payments?format=csv", admin, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("expected csv content type, got %q", ct)
	}
	records, err := csv.NewReader(rec.Body).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected header and one payment row, got %v", records)
	}
	if records[1][0] != "cash" {
		t.Fatalf("expected cash row, got %v", records[1])
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/reports/bogus", admin, "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown report, got %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/reports/sales?from=yesterday", admin, "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad date, got %d", rec.Code)
	}
}

func TestAdminCreatesCashierWhoCanLogin(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	admin := loginAs(t, api, "admin", "admin123")
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/users/cashiers", admin, csrf, domain.CashierCreateRequest{
		Username: "shift-b",
		Password: "pass1234",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/users/cashiers", admin, csrf, domain.CashierCreateRequest{
		Username: "shift-b",
		Password: "pass1234",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate cashier, got %d", rec.Code)
	}

	loginAs(t, api, "shift-b", "pass1234")

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/audit-logs", admin, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	logs := decodeBody[struct {
		Logs []domain.AuditLog `json:"logs"`
	}](t, rec)
	if len(logs.Logs) == 0 {
		t.Fatalf("expected login and cashier audit entries")
	}
}

// TestMustHashPassword verifies that the test helper produces valid bcrypt hashes
// (used to confirm test infrastructure is sound).
func TestMustHashPassword(t *testing.T) {
	hash := mustHashPassword(t, "secret")
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("secret")); err != nil {
		t.Fatalf("hash verification failed: %v", err)
	}
}

func TestStorefrontHidesInternalFieldsAndUnlistedProducts(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAsAdmin(t, api)
	csrf := fetchCSRFToken(t, api)

	productByBarcode := func(code string) domain.Product {
		t.Helper()
		rec := doJSON(t, handler, http.MethodGet, "/api/v1/products/lookup?code="+code, token, "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("lookup %s: expected 200, got %d", code, rec.Code)
		}
		return decodeBody[struct {
			Product domain.Product `json:"product"`
		}](t, rec).Product
	}
	gula := productByBarcode("8991001000064")
	teh := productByBarcode("8991001000071")

	hidden := false
	rec := doJSON(t, handler, http.MethodPatch, "/api/v1/products/"+gula.ID, token, csrf, domain.ProductUpdateRequest{OnlineVisible: &hidden})
	if rec.Code != http.StatusOK {
		t.Fatalf("hide product: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, handler, http.MethodDelete, "/api/v1/products/"+teh.ID, token, csrf, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("deactivate product: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	for _, id := range []string{gula.ID, teh.ID} {
		rec = doJSON(t, handler, http.MethodGet, "/api/v1/store/products/"+id, "", "", nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("store product %s: expected 404, got %d", id, rec.Code)
		}
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/store/products?limit=100", "", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	listing := decodeBody[struct {
		Products []map[string]any `json:"products"`
	}](t, rec)
	if len(listing.Products) == 0 {
		t.Fatalf("expected visible products in storefront listing")
	}
	for _, p := range listing.Products {
		if p["id"] == gula.ID || p["id"] == teh.ID {
			t.Fatalf("unlisted product %v leaked into storefront listing", p["id"])
		}
		for _, key := range []string{"cost_cents", "stock_quantity", "sku", "reorder_level"} {
			if _, ok := p[key]; ok {
				t.Fatalf("storefront product exposes %q: %v", key, p)
			}
		}
	}

	kopi := productByBarcode("8991001000057")
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/store/products/"+kopi.ID, "", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for visible product, got %d", rec.Code)
	}
	single := decodeBody[struct {
		Product map[string]any `json:"product"`
	}](t, rec).Product
	if single["in_stock"] != true {
		t.Fatalf("expected in_stock flag, got %v", single)
	}
	for _, key := range []string{"cost_cents", "stock_quantity"} {
		if _, ok := single[key]; ok {
			t.Fatalf("storefront product exposes %q: %v", key, single)
		}
	}
}
