package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pasal/backend/internal/domain"
	"pasal/backend/internal/service"
	"pasal/backend/internal/store/memory"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if got := res.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected X-Content-Type-Options nosniff, got %q", got)
	}
	if got := res.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("expected X-Frame-Options DENY, got %q", got)
	}
	if got := res.Header().Get("Referrer-Policy"); got == "" {
		t.Fatalf("expected Referrer-Policy to be set")
	}
}

func TestPreflightAllowsManagerPINHeader(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/retailer/stockAdjustments/new", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", res.Code)
	}
	allowed := res.Header().Get("Access-Control-Allow-Headers")
	for _, header := range []string{"Authorization", "Idempotency-Key", "X-Manager-PIN"} {
		if !strings.Contains(allowed, header) {
			t.Fatalf("expected %s in allowed headers, got %q", header, allowed)
		}
	}
}

func TestLoginRateLimitReturns429(t *testing.T) {
	api := newTestAPI(t)
	body, _ := json.Marshal(domain.LoginRequest{Username: "admin", Password: "wrong-pass"})

	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "127.0.0.1:5000"
		res := httptest.NewRecorder()

		api.Handler().ServeHTTP(res, req)

		if i < 5 && res.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d expected 401 before limit, got %d", i+1, res.Code)
		}
		if i == 5 && res.Code != http.StatusTooManyRequests {
			t.Fatalf("attempt 6 expected 429, got %d", res.Code)
		}
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	api := newTestAPI(t)
	veryLong := strings.Repeat("a", (1<<20)+1024)
	body := fmt.Sprintf(`{"username":"%s","password":"x"}`, veryLong)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for too large body, got %d", res.Code)
	}
}

func TestUnknownFieldsRejected(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api.Handler(), "cashier", "cashier123").Token

	req := httptest.NewRequest(http.MethodPost, "/api/retailer/cash-sales", strings.NewReader(`{"billNumber":"CS-9999","items":[]}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for client-chosen bill number, got %d", res.Code)
	}
}

func TestManagerPINRateLimitReturns429(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api.Handler(), "cashier", "cashier123").Token

	body, _ := json.Marshal(domain.DocumentRequest{
		AdjustmentType: domain.AdjustmentShortage,
		Items:          []domain.LineItem{{ItemID: "itm-dal", Quantity: decimal.NewFromInt(1)}},
	})

	for i := 0; i < 9; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/retailer/stockAdjustments/new", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("X-Manager-PIN", "000000")
		req.RemoteAddr = "127.0.0.1:5001"
		res := httptest.NewRecorder()

		api.Handler().ServeHTTP(res, req)

		if i < 8 && res.Code != http.StatusForbidden {
			t.Fatalf("attempt %d expected 403 before pin limit, got %d", i+1, res.Code)
		}
		if i == 8 && res.Code != http.StatusTooManyRequests {
			t.Fatalf("attempt 9 expected 429, got %d", res.Code)
		}
	}
}

func TestKeyedLimiterRefillsAndForgetsIdleKeys(t *testing.T) {
	limiter := newKeyedLimiter(2, 20*time.Millisecond)
	if !limiter.Allow("a") || !limiter.Allow("a") {
		t.Fatalf("expected burst of 2 to be allowed")
	}
	if limiter.Allow("a") {
		t.Fatalf("expected third immediate attempt to be limited")
	}
	if !limiter.Allow("b") {
		t.Fatalf("expected separate key to have its own bucket")
	}

	time.Sleep(30 * time.Millisecond)
	if !limiter.Allow("a") {
		t.Fatalf("expected bucket to refill")
	}
}

func TestClientKeyStripsPort(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "10.0.0.7:53211"
	if got := clientKey(req); got != "10.0.0.7" {
		t.Fatalf("expected host only, got %q", got)
	}
	req.RemoteAddr = "[::1]:8080"
	if got := clientKey(req); got != "::1" {
		t.Fatalf("expected ipv6 host, got %q", got)
	}
}

func TestParsePositiveLimitCaps(t *testing.T) {
	if got := parsePositiveLimit("9999", 50, 200); got != 200 {
		t.Fatalf("expected capped limit 200, got %d", got)
	}
	if got := parsePositiveLimit("", 50, 200); got != 50 {
		t.Fatalf("expected fallback limit 50, got %d", got)
	}
	if got := parsePositiveLimit("invalid", 50, 200); got != 50 {
		t.Fatalf("expected fallback on invalid input, got %d", got)
	}
}

func TestDenylistOutageReturnsServiceUnavailable(t *testing.T) {
	repo := memory.NewSeeded(zap.NewNop())
	auth := NewAuthManager("test-secret-key", time.Hour, testManagerPIN, repo, unreachableDenylist{}, zap.NewNop())
	api := New(service.New(repo, service.Options{}), auth, "*", zap.NewNop())
	h := api.Handler()

	resp := login(t, h, "cashier", "cashier123")
	rec := doJSON(t, h, http.MethodGet, "/api/auth/me", resp.Token, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when the deny-list is unreachable, got %d: %s", rec.Code, rec.Body.String())
	}
}
