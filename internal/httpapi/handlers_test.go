package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/service"
	"retailpos/backend/internal/store/memory"
)

// newTestAPI builds a full API on an in-memory store with a real AuthManager
// and real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.New()
	ctx := context.Background()

	if _, err := repo.CreateStore(ctx, domain.Store{ID: "store-a", Name: "Store A"}, nil); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	if _, err := repo.CreateProduct(ctx, domain.Product{
		ID: "prod-widget", StoreID: "store-a", Name: "Widget", SKU: "SKU-WIDGET", PriceCents: 1000, Quantity: 10, MinStock: 2,
	}); err != nil {
		t.Fatalf("seed product: %v", err)
	}

	accounts := []domain.User{
		{ID: "user-admin", Name: "Admin", Email: "admin@example.com", Role: domain.RoleAdmin},
		{ID: "user-manager", Name: "Manager", Email: "manager@example.com", Role: domain.RoleManager, StoreID: "store-a"},
		{ID: "user-cashier", Name: "Cashier", Email: "cashier@example.com", Role: domain.RoleEmployee, StoreID: "store-a"},
	}
	for _, account := range accounts {
		account.PasswordHash = mustHashPassword(t, "secret-pass")
		account.Active = true
		if _, err := repo.CreateUser(ctx, account); err != nil {
			t.Fatalf("seed user %s: %v", account.Email, err)
		}
	}

	svc := service.New(repo, nil, nil, nil)
	auth := NewAuthManager("test-secret-key", time.Hour)
	return New(svc, auth, "*")
}

func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

func loginAs(t *testing.T, api *API, email string) string {
	t.Helper()

	payload, _ := json.Marshal(domain.LoginRequest{Email: email, Password: "secret-pass"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login as %s failed: %d (body: %s)", email, rec.Code, rec.Body.String())
	}

	var body domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if body.AccessToken == "" {
		t.Fatalf("expected access token for %s", email)
	}
	return body.AccessToken
}

func fetchCSRFToken(t *testing.T, api *API) string {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("csrf token fetch failed: %d", rec.Code)
	}

	var body struct {
		CSRFToken string `json:"csrf_token"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode csrf response: %v", err)
	}
	return body.CSRFToken
}

func doJSON(t *testing.T, api *API, method string, path string, token string, csrf string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLoginInvalidCredentials(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", "",
		domain.LoginRequest{Email: "admin@example.com", Password: "wrong-pass"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestRequireAuthRejectsMissingAndBadTokens(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", rec.Code)
	}
}

func TestStoresEndpointIsAdminOnly(t *testing.T) {
	api := newTestAPI(t)
	cashier := loginAs(t, api, "cashier@example.com")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stores", nil)
	req.Header.Set("Authorization", "Bearer "+cashier)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier, got %d", rec.Code)
	}

	admin := loginAs(t, api, "admin@example.com")
	req = httptest.NewRequest(http.MethodGet, "/api/v1/stores", nil)
	req.Header.Set("Authorization", "Bearer "+admin)
	rec = httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestSaleCheckoutFlow(t *testing.T) {
	api := newTestAPI(t)
	cashier := loginAs(t, api, "cashier@example.com")
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/sales", cashier, csrf, domain.SaleInput{
		Items: []domain.CartItem{{ProductID: "prod-widget", Qty: 2}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var created struct {
		Sale domain.Sale `json:"sale"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode sale: %v", err)
	}
	// 2 x 1000 subtotal, 5% tax, 100 flat fee.
	if created.Sale.TotalCents != 2200 {
		t.Fatalf("expected total 2200, got %d", created.Sale.TotalCents)
	}
	if created.Sale.Number == "" {
		t.Fatalf("expected a sale number")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sales/"+created.Sale.ID, nil)
	req.Header.Set("Authorization", "Bearer "+cashier)
	getRec := httptest.NewRecorder()
	api.Handler().ServeHTTP(getRec, req)
	if getRec.Code != http.StatusOK {
		t.Fatalf("expected 200 for sale fetch, got %d", getRec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/sales/"+created.Sale.ID+"/receipt", nil)
	req.Header.Set("Authorization", "Bearer "+cashier)
	receiptRec := httptest.NewRecorder()
	api.Handler().ServeHTTP(receiptRec, req)
	if receiptRec.Code != http.StatusOK {
		t.Fatalf("expected 200 for receipt, got %d (body: %s)", receiptRec.Code, receiptRec.Body.String())
	}
	var receipt struct {
		Text         string `json:"text"`
		EscposBase64 string `json:"escpos_base64"`
	}
	if err := json.NewDecoder(receiptRec.Body).Decode(&receipt); err != nil {
		t.Fatalf("decode receipt: %v", err)
	}
	if receipt.Text == "" || receipt.EscposBase64 == "" {
		t.Fatalf("expected rendered receipt and printer bytes")
	}
}

func TestSaleErrorsMapToStatuses(t *testing.T) {
	api := newTestAPI(t)
	cashier := loginAs(t, api, "cashier@example.com")
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/sales", cashier, csrf, domain.SaleInput{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty cart, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/sales", cashier, csrf, domain.SaleInput{
		Items: []domain.CartItem{{ProductID: "prod-widget", Qty: 999}},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for insufficient stock, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/sales", cashier, csrf, domain.SaleInput{
		Items: []domain.CartItem{{ProductID: "no-such-product", Qty: 1}},
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown product, got %d", rec.Code)
	}
}

func TestReturnOverReturnConflicts(t *testing.T) {
	api := newTestAPI(t)
	manager := loginAs(t, api, "manager@example.com")
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/sales", manager, csrf, domain.SaleInput{
		Items: []domain.CartItem{{ProductID: "prod-widget", Qty: 1}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("sale failed: %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created struct {
		Sale domain.Sale `json:"sale"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode sale: %v", err)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/returns", manager, csrf, domain.ReturnInput{
		SaleID: created.Sale.ID,
		Items:  []domain.ReturnLine{{SaleItemID: created.Sale.Items[0].ID, Qty: 2}},
		Reason: "damaged",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for over-return, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/returns", manager, csrf, domain.ReturnInput{
		SaleID: created.Sale.ID,
		Items:  []domain.ReturnLine{{SaleItemID: created.Sale.Items[0].ID, Qty: 1}},
		Reason: "damaged",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 for valid return, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var ret struct {
		Return domain.Return `json:"return"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&ret); err != nil {
		t.Fatalf("decode return: %v", err)
	}
	if ret.Return.NetRefundCents != 900 {
		t.Fatalf("expected net refund 900, got %d", ret.Return.NetRefundCents)
	}
	if ret.Return.SaleStatus != domain.SaleStatusReturned {
		t.Fatalf("expected sale status RETURNED on the return, got %s", ret.Return.SaleStatus)
	}
}

func TestSettingsPatchAdminOnly(t *testing.T) {
	api := newTestAPI(t)
	csrf := fetchCSRFToken(t, api)

	manager := loginAs(t, api, "manager@example.com")
	rec := doJSON(t, api, http.MethodPatch, "/api/v1/settings", manager, csrf, map[string]any{"tax_rate_bp": 0})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for manager, got %d", rec.Code)
	}

	admin := loginAs(t, api, "admin@example.com")
	rec = doJSON(t, api, http.MethodPatch, "/api/v1/settings", admin, csrf, map[string]any{"tax_rate_bp": 700})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body struct {
		Settings domain.Settings `json:"settings"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode settings: %v", err)
	}
	if body.Settings.TaxRateBP != 700 {
		t.Fatalf("expected tax 700, got %d", body.Settings.TaxRateBP)
	}
}

func TestProductCreateAndGet(t *testing.T) {
	api := newTestAPI(t)
	admin := loginAs(t, api, "admin@example.com")
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/products", admin, csrf, domain.ProductCreateRequest{
		StoreID: "store-a", Name: "Cable", SKU: "sku-cable", PriceCents: 250, Quantity: 3, MinStock: 1,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created struct {
		Product domain.Product `json:"product"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode product: %v", err)
	}
	if created.Product.SKU != "SKU-CABLE" {
		t.Fatalf("expected SKU upper-cased, got %s", created.Product.SKU)
	}

	// Duplicate SKU in the same store conflicts.
	rec = doJSON(t, api, http.MethodPost, "/api/v1/products", admin, csrf, domain.ProductCreateRequest{
		StoreID: "store-a", Name: "Cable 2", SKU: "SKU-CABLE", PriceCents: 300, Quantity: 1,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate sku, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products/"+created.Product.ID, nil)
	req.Header.Set("Authorization", "Bearer "+admin)
	getRec := httptest.NewRecorder()
	api.Handler().ServeHTTP(getRec, req)
	if getRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", getRec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/products/no-such-id", nil)
	req.Header.Set("Authorization", "Bearer "+admin)
	missRec := httptest.NewRecorder()
	api.Handler().ServeHTTP(missRec, req)
	if missRec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", missRec.Code)
	}
}

func TestEmployeeLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	admin := loginAs(t, api, "admin@example.com")
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/employees", admin, csrf, domain.EmployeeCreateRequest{
		Name: "Sana", Email: "sana@example.com", Password: "secret-pass", Role: domain.RoleEmployee, StoreID: "store-a",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created struct {
		Employee domain.User `json:"employee"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode employee: %v", err)
	}

	loginAs(t, api, "sana@example.com")

	rec = doJSON(t, api, http.MethodPost, "/api/v1/employees/"+created.Employee.ID+"/active", admin, csrf, map[string]any{"active": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for deactivation, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", "",
		domain.LoginRequest{Email: "sana@example.com", Password: "secret-pass"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for deactivated account, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/employees/password-reset", admin, csrf, map[string]string{
		"email": "cashier@example.com", "new_password": "rotated-pass",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for password reset, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestUnknownJSONFieldRejected(t *testing.T) {
	api := newTestAPI(t)
	admin := loginAs(t, api, "admin@example.com")
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/products", admin, csrf, map[string]any{
		"store_id": "store-a", "name": "X", "sku": "SKU-X", "price_cents": 100, "bogus_field": true,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}
}
