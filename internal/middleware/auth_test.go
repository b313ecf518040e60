package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/snagbook/snag/internal/domain"
	"github.com/snagbook/snag/internal/errors"
	"github.com/snagbook/snag/internal/logging"
	"github.com/snagbook/snag/supabase"
)

const testSecret = "test-jwt-secret"

type stubProfiles struct {
	rows map[string]*domain.Profile
}

func (s *stubProfiles) GetByID(_ context.Context, id string) (*domain.Profile, error) {
	p, ok := s.rows[id]
	if !ok {
		return nil, errors.ProfileNotFound(id)
	}
	return p, nil
}

type stubVerifier struct {
	users map[string]*supabase.User
}

func (s *stubVerifier) GetUser(_ context.Context, token string) (*supabase.User, error) {
	u, ok := s.users[token]
	if !ok {
		return nil, fmt.Errorf("invalid token")
	}
	return u, nil
}

func signToken(t *testing.T, secret, sub, email string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   sub,
		"email": email,
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func testAuthenticator(profiles *stubProfiles, verifier TokenVerifier) *Authenticator {
	logger := logging.New("mw-test", logging.Config{Level: "error", Format: "text"})
	if verifier == nil {
		verifier = &stubVerifier{}
	}
	return NewAuthenticator(AuthConfig{JWTSecret: testSecret}, verifier, profiles, logger)
}

func principalEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := PrincipalFromContext(r.Context())
		if p == nil {
			w.Write([]byte("anonymous"))
			return
		}
		fmt.Fprintf(w, "%s:%s", p.ID, p.Role)
	})
}

func TestAuthMiddlewareValidToken(t *testing.T) {
	profiles := &stubProfiles{rows: map[string]*domain.Profile{
		"u1": {ID: "u1", Role: domain.RoleClient},
	}}
	auth := testAuthenticator(profiles, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/appointments", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, "u1", "u1@example.com"))
	rec := httptest.NewRecorder()
	auth.Middleware(principalEcho()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := rec.Body.String(); got != "u1:client" {
		t.Fatalf("unexpected principal: %s", got)
	}
}

func TestAuthMiddlewareNoHeaderPassesThrough(t *testing.T) {
	auth := testAuthenticator(&stubProfiles{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/businesses", nil)
	rec := httptest.NewRecorder()
	auth.Middleware(principalEcho()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "anonymous" {
		t.Fatalf("expected anonymous passthrough, got %s", rec.Body.String())
	}
}

func TestAuthMiddlewareBadSignature(t *testing.T) {
	auth := testAuthenticator(&stubProfiles{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/appointments", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "wrong-secret", "u1", ""))
	rec := httptest.NewRecorder()
	auth.Middleware(principalEcho()).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAuthMiddlewareMalformedHeader(t *testing.T) {
	auth := testAuthenticator(&stubProfiles{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/appointments", nil)
	req.Header.Set("Authorization", "Token abc")
	rec := httptest.NewRecorder()
	auth.Middleware(principalEcho()).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAuthMiddlewareNoProfileIs401(t *testing.T) {
	auth := testAuthenticator(&stubProfiles{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/appointments", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, "ghost", ""))
	rec := httptest.NewRecorder()
	auth.Middleware(principalEcho()).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("verified identity without profile must be rejected, got %d", rec.Code)
	}
}

func TestAuthMiddlewareRESTFallback(t *testing.T) {
	// No local secret configured: the verifier round trip is the only path.
	logger := logging.New("mw-test", logging.Config{Level: "error", Format: "text"})
	verifier := &stubVerifier{users: map[string]*supabase.User{
		"opaque-token": {ID: "u1", Email: "u1@example.com"},
	}}
	profiles := &stubProfiles{rows: map[string]*domain.Profile{
		"u1": {ID: "u1", Role: domain.RoleBusiness},
	}}
	auth := NewAuthenticator(AuthConfig{}, verifier, profiles, logger)

	req := httptest.NewRequest(http.MethodGet, "/api/appointments", nil)
	req.Header.Set("Authorization", "Bearer opaque-token")
	rec := httptest.NewRecorder()
	auth.Middleware(principalEcho()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "u1:business" {
		t.Fatalf("unexpected principal: %s", rec.Body.String())
	}
}

func withPrincipal(req *http.Request, p *domain.Profile) *http.Request {
	ctx := context.WithValue(req.Context(), principalContextKey, p)
	return req.WithContext(ctx)
}

func TestRequireRoles(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	cases := []struct {
		name      string
		principal *domain.Profile
		roles     []domain.Role
		want      int
	}{
		{"anonymous", nil, nil, http.StatusUnauthorized},
		{"any authenticated", &domain.Profile{ID: "u1", Role: domain.RoleClient}, nil, http.StatusOK},
		{"matching role", &domain.Profile{ID: "u1", Role: domain.RoleAdmin}, []domain.Role{domain.RoleAdmin}, http.StatusOK},
		{"wrong role", &domain.Profile{ID: "u1", Role: domain.RoleClient}, []domain.Role{domain.RoleAdmin}, http.StatusForbidden},
		{"one of several", &domain.Profile{ID: "u1", Role: domain.RoleBusiness}, []domain.Role{domain.RoleAdmin, domain.RoleBusiness}, http.StatusOK},
		{"invalid role", &domain.Profile{ID: "u1", Role: domain.Role("superuser")}, nil, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/dashboard/admin", nil)
			if tc.principal != nil {
				req = withPrincipal(req, tc.principal)
			}
			rec := httptest.NewRecorder()
			RequireRoles(tc.roles...)(ok).ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestRateLimiterRejectsBurstOverflow(t *testing.T) {
	logger := logging.New("mw-test", logging.Config{Level: "error", Format: "text"})
	rl := NewRateLimiter(1, 2, logger)
	handler := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	var codes []int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/availability", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Fatalf("burst requests should pass, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst, got %v", codes)
	}
}
