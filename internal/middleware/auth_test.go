package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-secret")

func signTestToken(t *testing.T, role string, expired bool) string {
	t.Helper()
	claims := &Claims{
		Subject: "user-1",
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	if expired {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	}
	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tokenString
}

func authedRequest(token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/rounds", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestAuthMiddleware(t *testing.T) {
	m := NewAuthMiddleware(testSecret, nil, []string{"/healthz"})
	var gotRole string
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims, ok := ClaimsFromContext(r.Context()); ok {
			gotRole = claims.Role
		}
		w.WriteHeader(http.StatusOK)
	}))

	cases := []struct {
		name   string
		req    *http.Request
		status int
	}{
		{"valid token", authedRequest(signTestToken(t, "player", false)), http.StatusOK},
		{"missing header", authedRequest(""), http.StatusUnauthorized},
		{"expired token", authedRequest(signTestToken(t, "player", true)), http.StatusUnauthorized},
		{"malformed header", func() *http.Request {
			req := httptest.NewRequest(http.MethodGet, "/rounds", nil)
			req.Header.Set("Authorization", "Basic abc")
			return req
		}(), http.StatusUnauthorized},
		{"skip path", httptest.NewRequest(http.MethodGet, "/healthz", nil), http.StatusOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, tc.req)
			if rec.Code != tc.status {
				t.Fatalf("status %d, want %d", rec.Code, tc.status)
			}
		})
	}

	if gotRole != "player" {
		t.Fatalf("claims not propagated, got role %q", gotRole)
	}
}

func TestAuthMiddlewareRejectsWrongAlgorithm(t *testing.T) {
	// A token signed with none must never validate.
	token := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{Subject: "user-1"})
	tokenString, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	m := NewAuthMiddleware(testSecret, nil, nil)
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(tokenString))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", rec.Code)
	}
}

func TestRequireRole(t *testing.T) {
	m := NewAuthMiddleware(testSecret, nil, nil)
	handler := m.Handler(RequireRole(RoleAdmin, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(signTestToken(t, "player", false)))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("player role passed admin check: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(signTestToken(t, RoleAdmin, false)))
	if rec.Code != http.StatusOK {
		t.Fatalf("admin role rejected: %d", rec.Code)
	}
}
