package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tillpoint/backend/internal/cache"
	"tillpoint/backend/internal/service"
	"tillpoint/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, cache.NoopQuoteCache{}, decimal.NewFromFloat(0.08), 2)
	auth := NewAuthManager("test-secret-key", time.Hour, "123456", repo)

	return New(svc, auth, "*")
}

func loginToken(t *testing.T, handler http.Handler, username string, password string) string {
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
		t.Fatalf("login as %s failed: %d (%s)", username, rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode login body: %v", err)
	}
	token, _ := body["access_token"].(string)
	if token == "" {
		t.Fatalf("no access_token in login response: %v", body)
	}
	return token
}

func authedRequest(t *testing.T, api *API, method string, path string, token string, payload any) *httptest.ResponseRecorder {
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
		req.Header.Set("X-CSRF-Token", api.generateCSRFToken())
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
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)

	payload, _ := json.Marshal(map[string]string{"username": "admin", "password": "wrong"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleProducts_WithValidToken(t *testing.T) {
	api := newTestAPI(t)
	token := loginToken(t, api.Handler(), "cashier", "cashier123")

	rec := authedRequest(t, api, http.MethodGet, "/api/v1/products", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if _, ok := body["products"]; !ok {
		t.Fatalf("expected products key, got %v", body)
	}
}

func TestSaleCommitOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	token := loginToken(t, api.Handler(), "cashier", "cashier123")

	rec := authedRequest(t, api, http.MethodPost, "/api/v1/sales", token, map[string]any{
		"lines": []map[string]any{
			{"sku": "SKU-COLA-01", "qty": 2},
		},
		"payment": map[string]any{
			"method":          "cash",
			"amount_tendered": "10.00",
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}

	var tx map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&tx); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if tx["id"] == "" || tx["id"] == nil {
		t.Fatalf("expected transaction id, got %v", tx)
	}
	// 2 x 1.50 = 3.00 + 8% tax = 3.24.
	if tx["total"] != "3.24" {
		t.Fatalf("expected total 3.24, got %v", tx["total"])
	}
}

func TestInsufficientCashReturns400(t *testing.T) {
	api := newTestAPI(t)
	token := loginToken(t, api.Handler(), "cashier", "cashier123")

	rec := authedRequest(t, api, http.MethodPost, "/api/v1/sales", token, map[string]any{
		"lines": []map[string]any{
			{"sku": "SKU-COLA-01", "qty": 2},
		},
		"payment": map[string]any{
			"method":          "cash",
			"amount_tendered": "1.00",
		},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestCashierCannotToggleDiscount(t *testing.T) {
	api := newTestAPI(t)
	token := loginToken(t, api.Handler(), "cashier", "cashier123")

	rec := authedRequest(t, api, http.MethodPatch, "/api/v1/discounts/any-id", token, map[string]any{"active": false})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestCompleteReturnRequiresManagerPIN(t *testing.T) {
	api := newTestAPI(t)
	manager := loginToken(t, api.Handler(), "manager", "manager123")

	rec := authedRequest(t, api, http.MethodPost, "/api/v1/returns/ret-x/complete", manager, map[string]any{
		"manager_pin": "000000",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for wrong PIN, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestShiftLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	token := loginToken(t, api.Handler(), "cashier", "cashier123")

	rec := authedRequest(t, api, http.MethodPost, "/api/v1/shifts/start", token, map[string]any{
		"starting_cash": "150.00",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("start shift: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}

	rec = authedRequest(t, api, http.MethodPost, "/api/v1/shifts/start", token, map[string]any{
		"starting_cash": "10.00",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("second shift: expected 409, got %d (%s)", rec.Code, rec.Body.String())
	}

	rec = authedRequest(t, api, http.MethodGet, "/api/v1/shifts/active", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("active shift: expected 200, got %d", rec.Code)
	}

	rec = authedRequest(t, api, http.MethodPost, "/api/v1/shifts/end", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("end shift: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	rec = authedRequest(t, api, http.MethodPost, "/api/v1/shifts/end", token, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("end without shift: expected 409, got %d", rec.Code)
	}
}
