package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = time.Now().Add(time.Hour).Unix()
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return token
}

func TestParseToken(t *testing.T) {
	token := sign(t, jwt.MapClaims{
		"sub":      "u1",
		"plan":     "premium",
		"verified": true,
		"admin":    false,
		"consents": []string{"payouts"},
	})
	principal, err := ParseToken(testSecret, token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if principal.UserID != "u1" || principal.Plan != "premium" || !principal.Verified {
		t.Fatalf("unexpected principal: %+v", principal)
	}
	if !principal.Consents["payouts"] {
		t.Fatal("expected payouts consent")
	}
}

func TestParseTokenDefaultsPlan(t *testing.T) {
	principal, err := ParseToken(testSecret, sign(t, jwt.MapClaims{"sub": "u1"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if principal.Plan != "standard" {
		t.Fatalf("expected standard plan default, got %q", principal.Plan)
	}
}

func TestParseTokenRejectsMissingSubject(t *testing.T) {
	if _, err := ParseToken(testSecret, sign(t, jwt.MapClaims{"plan": "premium"})); err == nil {
		t.Fatal("expected error for missing subject")
	}
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1", "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("other-secret"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ParseToken(testSecret, token); err == nil {
		t.Fatal("expected error for wrong secret")
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	token := sign(t, jwt.MapClaims{"sub": "u1", "exp": time.Now().Add(-time.Minute).Unix()})
	if _, err := ParseToken(testSecret, token); err == nil {
		t.Fatal("expected error for expired token")
	}
}

func okHandler() (http.Handler, *bool) {
	called := false
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}), &called
}

func TestAuthMiddleware(t *testing.T) {
	next, called := okHandler()
	handler := Auth(testSecret)(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized || *called {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+sign(t, jwt.MapClaims{"sub": "u1"}))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !*called {
		t.Fatalf("expected 200 with valid token, got %d", rec.Code)
	}
}

func TestAuthMiddlewareAcceptsQueryToken(t *testing.T) {
	next, _ := okHandler()
	handler := Auth(testSecret)(next)

	req := httptest.NewRequest(http.MethodGet, "/?token="+sign(t, jwt.MapClaims{"sub": "u1"}), nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with query token, got %d", rec.Code)
	}
}

func TestRequireConsent(t *testing.T) {
	next, _ := okHandler()
	handler := Auth(testSecret)(RequireConsent("payouts")(next))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+sign(t, jwt.MapClaims{"sub": "u1"}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without consent, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+sign(t, jwt.MapClaims{"sub": "u1", "consents": []string{"payouts"}}))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with consent, got %d", rec.Code)
	}
}

func TestRequireAdmin(t *testing.T) {
	next, _ := okHandler()
	handler := Auth(testSecret)(RequireAdmin()(next))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+sign(t, jwt.MapClaims{"sub": "u1"}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+sign(t, jwt.MapClaims{"sub": "u1", "admin": true}))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d", rec.Code)
	}
}
