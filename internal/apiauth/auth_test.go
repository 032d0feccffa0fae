package apiauth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"pitchtracker/internal/config"
)

func TestAuthenticateRejectsWrongPassword(t *testing.T) {
	a := New(config.APIConfig{AuthEnabled: true}, "admin", "correct-horse", 0)

	if _, _, err := a.Authenticate("admin", "wrong"); err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestAuthenticateIssuesValidatableToken(t *testing.T) {
	a := New(config.APIConfig{AuthEnabled: true}, "admin", "correct-horse", 0)

	token, expiresAt, err := a.Authenticate("admin", "correct-horse")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if token == "" || expiresAt == 0 {
		t.Fatal("expected a non-empty token and expiry")
	}

	claims, err := a.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.Username != "admin" {
		t.Errorf("expected username admin, got %q", claims.Username)
	}
}

func TestAuthenticateDisabledReturnsErrAuthDisabled(t *testing.T) {
	a := New(config.APIConfig{AuthEnabled: false}, "admin", "pw", 0)
	if _, _, err := a.Authenticate("admin", "pw"); err != ErrAuthDisabled {
		t.Fatalf("expected ErrAuthDisabled, got %v", err)
	}
}

func TestMiddlewareRejectsMissingHeader(t *testing.T) {
	a := New(config.APIConfig{AuthEnabled: true}, "admin", "pw", 0)
	handler := Middleware(a)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestMiddlewareSkipsCheckWhenDisabled(t *testing.T) {
	a := New(config.APIConfig{AuthEnabled: false}, "admin", "pw", 0)
	handler := Middleware(a)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 when auth disabled, got %d", rec.Code)
	}
}

func TestMiddlewareAcceptsValidToken(t *testing.T) {
	a := New(config.APIConfig{AuthEnabled: true}, "admin", "pw", 0)
	token, _, err := a.Authenticate("admin", "pw")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	var gotClaims *Claims
	handler := Middleware(a)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClaims = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotClaims == nil || gotClaims.Username != "admin" {
		t.Fatalf("expected claims for admin in context, got %+v", gotClaims)
	}
}
