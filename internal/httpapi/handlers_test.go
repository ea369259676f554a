package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dukalink/backend/internal/domain"
	"dukalink/backend/internal/service"
	"dukalink/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, nil, nil, time.Second)
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, "*")
}

// login obtains a bearer token for the given seeded account.
func login(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()

	payload, _ := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("login %s failed: %d %s", username, rec.Code, rec.Body.String())
	}

	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func fetchCSRFToken(t *testing.T, handler http.Handler) string {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("csrf token fetch failed: %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode csrf response: %v", err)
	}
	return body["csrf_token"]
}

// doJSON issues an authenticated JSON request with a valid CSRF token.
func doJSON(t *testing.T, handler http.Handler, method, path, token string, payload any) *httptest.ResponseRecorder {
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
	req.Header.Set("Authorization", "Bearer "+token)
	if method != http.MethodGet {
		req.Header.Set("X-CSRF-Token", fetchCSRFToken(t, handler))
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func saleBody(storeID, productID string, qty int) map[string]any {
	return map[string]any{
		"customer": map[string]any{
			"name":   "Neema John",
			"phone":  "0755123456",
			"region": "Dar es Salaam",
		},
		"store_id":  storeID,
		"served_by": "staff",
		"lines": []map[string]any{
			{"product_id": productID, "quantity": qty, "price_cents": 35000000},
		},
		"payments": []map[string]any{
			{"method": "cash", "amount_cents": 35000000 * qty},
		},
	}
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

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "wrongpassword",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleLogin_RateLimit(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	// The loginLimiter allows 5 attempts per minute.
	// Fire 6 requests from the same "IP" (httptest uses RemoteAddr "192.0.2.1:1234").
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

func TestHandleStores_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stores", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleStores_ListWithToken(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "staff", "staff123")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/stores", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body struct {
		Stores []domain.Store `json:"stores"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Stores) != 3 {
		t.Fatalf("expected 3 seeded stores, got %d", len(body.Stores))
	}
}

func TestHandleSales_CreateAndFetch(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "staff", "staff123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sales", token, saleBody("store-mbezi", "prod-phone-a12", 2))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var created domain.SaleResponse
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode sale: %v", err)
	}
	if created.Sale.ID == "" || created.Sale.CustomerID == "" {
		t.Fatalf("sale = %+v", created.Sale)
	}
	if created.Sale.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("payment status = %q", created.Sale.PaymentStatus)
	}

	lookup := doJSON(t, handler, http.MethodGet, "/api/v1/sales/"+created.Sale.ID, token, nil)
	if lookup.Code != http.StatusOK {
		t.Fatalf("sale lookup: %d (body: %s)", lookup.Code, lookup.Body.String())
	}

	stock := doJSON(t, handler, http.MethodGet, "/api/v1/stock/store-mbezi/prod-phone-a12", token, nil)
	if stock.Code != http.StatusOK {
		t.Fatalf("stock lookup: %d", stock.Code)
	}
	var stockBody struct {
		Stock domain.StockRecord `json:"stock"`
	}
	if err := json.NewDecoder(stock.Body).Decode(&stockBody); err != nil {
		t.Fatalf("decode stock: %v", err)
	}
	if stockBody.Stock.Quantity != 13 {
		t.Fatalf("quantity = %d, want 13", stockBody.Stock.Quantity)
	}
}

func TestHandleSales_InsufficientStockConflict(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "staff", "staff123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sales", token, saleBody("store-arusha", "prod-phone-a12", 9))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] == "" {
		t.Fatalf("expected error message, got %v", body)
	}
}

func TestHandleTransfers_ApproveFlow(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	staffToken := login(t, handler, "staff", "staff123")
	adminToken := login(t, handler, "admin", "admin123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/transfers", staffToken, map[string]any{
		"product_id":   "prod-radio-fm1",
		"from_store":   "store-hq",
		"to_store":     "store-arusha",
		"quantity":     4,
		"initiated_by": "staff",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("transfer request: %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created struct {
		Transfer domain.Transfer `json:"transfer"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode transfer: %v", err)
	}

	approvePath := fmt.Sprintf("/api/v1/transfers/%s/approve", created.Transfer.ID)

	// Staff may not settle transfers.
	if rec := doJSON(t, handler, http.MethodPost, approvePath, staffToken, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("staff approve: %d, want 403", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, approvePath, adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("approve: %d (body: %s)", rec.Code, rec.Body.String())
	}
	var approved struct {
		Transfer domain.Transfer `json:"transfer"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&approved); err != nil {
		t.Fatalf("decode approved: %v", err)
	}
	if approved.Transfer.Status != domain.TransferStatusApproved || approved.Transfer.ApprovedBy != "admin" {
		t.Fatalf("approved = %+v", approved.Transfer)
	}

	// Second approval of the same transfer conflicts.
	if rec := doJSON(t, handler, http.MethodPost, approvePath, adminToken, nil); rec.Code != http.StatusConflict {
		t.Fatalf("double approve: %d, want 409", rec.Code)
	}

	stock := doJSON(t, handler, http.MethodGet, "/api/v1/stock/store-arusha/prod-radio-fm1", staffToken, nil)
	if stock.Code != http.StatusOK {
		t.Fatalf("destination stock lookup: %d", stock.Code)
	}
}

func TestHandleTransfers_ListAndCounts(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	staffToken := login(t, handler, "staff", "staff123")

	if rec := doJSON(t, handler, http.MethodPost, "/api/v1/transfers", staffToken, map[string]any{
		"product_id":   "prod-phone-a12",
		"from_store":   "store-hq",
		"to_store":     "store-mbezi",
		"quantity":     2,
		"initiated_by": "staff",
	}); rec.Code != http.StatusCreated {
		t.Fatalf("transfer request: %d", rec.Code)
	}

	// Direction is mandatory.
	if rec := doJSON(t, handler, http.MethodGet, "/api/v1/transfers?store_id=store-mbezi", staffToken, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing direction: %d, want 400", rec.Code)
	}

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/transfers?store_id=store-mbezi&direction=incoming", staffToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list transfers: %d (body: %s)", rec.Code, rec.Body.String())
	}
	var list domain.TransferListResponse
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Status != domain.TransferStatusPending || len(list.Transfers) != 1 {
		t.Fatalf("list = %+v", list)
	}

	counts := doJSON(t, handler, http.MethodGet, "/api/v1/transfers/counts?store_id=store-mbezi", staffToken, nil)
	if counts.Code != http.StatusOK {
		t.Fatalf("counts: %d", counts.Code)
	}
	var countsBody domain.TransferCounts
	if err := json.NewDecoder(counts.Body).Decode(&countsBody); err != nil {
		t.Fatalf("decode counts: %v", err)
	}
	if countsBody.Incoming != 1 || countsBody.Outgoing != 0 {
		t.Fatalf("counts = %+v", countsBody)
	}
}

func TestHandleStock_AddIsAdminAndHQOnly(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	staffToken := login(t, handler, "staff", "staff123")
	adminToken := login(t, handler, "admin", "admin123")

	body := map[string]any{
		"store_id":   "store-hq",
		"product_id": "prod-tv-32",
		"quantity":   10,
	}

	if rec := doJSON(t, handler, http.MethodPost, "/api/v1/stock", staffToken, body); rec.Code != http.StatusForbidden {
		t.Fatalf("staff add stock: %d, want 403", rec.Code)
	}

	branch := map[string]any{
		"store_id":   "store-mbezi",
		"product_id": "prod-tv-32",
		"quantity":   10,
	}
	if rec := doJSON(t, handler, http.MethodPost, "/api/v1/stock", adminToken, branch); rec.Code != http.StatusBadRequest {
		t.Fatalf("branch add stock: %d, want 400", rec.Code)
	}

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/stock", adminToken, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("hq add stock: %d (body: %s)", rec.Code, rec.Body.String())
	}
	var stockBody struct {
		Stock domain.StockRecord `json:"stock"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&stockBody); err != nil {
		t.Fatalf("decode stock: %v", err)
	}
	if stockBody.Stock.Quantity != 10 {
		t.Fatalf("quantity = %d", stockBody.Stock.Quantity)
	}
}

func TestHandleStock_AllStoresViewIsAdminOnly(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	staffToken := login(t, handler, "staff", "staff123")
	adminToken := login(t, handler, "admin", "admin123")

	if rec := doJSON(t, handler, http.MethodGet, "/api/v1/stock?store_id=all", staffToken, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("staff all-stores view: %d, want 403", rec.Code)
	}

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/stock?store_id=all", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin all-stores view: %d (body: %s)", rec.Code, rec.Body.String())
	}
	var list domain.StockListResponse
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Records) != 6 {
		t.Fatalf("records = %d, want 6", len(list.Records))
	}
}

func TestHandleCustomers_CreateLookupConflict(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "staff", "staff123")

	body := map[string]any{
		"name":   "Baraka M",
		"phone":  "0713999888",
		"region": "Mwanza",
	}
	if rec := doJSON(t, handler, http.MethodPost, "/api/v1/customers", token, body); rec.Code != http.StatusCreated {
		t.Fatalf("create customer: %d (body: %s)", rec.Code, rec.Body.String())
	}
	if rec := doJSON(t, handler, http.MethodPost, "/api/v1/customers", token, body); rec.Code != http.StatusConflict {
		t.Fatalf("duplicate customer: %d, want 409", rec.Code)
	}

	lookup := doJSON(t, handler, http.MethodGet, "/api/v1/customers/0713999888", token, nil)
	if lookup.Code != http.StatusOK {
		t.Fatalf("customer lookup: %d", lookup.Code)
	}

	missing := doJSON(t, handler, http.MethodGet, "/api/v1/customers/0700000000", token, nil)
	if missing.Code != http.StatusNotFound {
		t.Fatalf("unknown customer: %d, want 404", missing.Code)
	}
}

func TestHandleStaffUsers_AdminOnly(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	staffToken := login(t, handler, "staff", "staff123")
	adminToken := login(t, handler, "admin", "admin123")

	if rec := doJSON(t, handler, http.MethodGet, "/api/v1/users/staff", staffToken, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("staff listing staff: %d, want 403", rec.Code)
	}

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/users/staff", adminToken, map[string]string{
		"username": "newstaff",
		"password": "pass1234",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create staff: %d (body: %s)", rec.Code, rec.Body.String())
	}

	if token := login(t, handler, "newstaff", "pass1234"); token == "" {
		t.Fatal("new staff user cannot log in")
	}
}
