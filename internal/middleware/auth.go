// Package middleware provides the HTTP middleware chain: authentication,
// authorization, logging, metrics, CORS, and rate limiting.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/snagbook/snag/internal/authz"
	"github.com/snagbook/snag/internal/domain"
	apperrors "github.com/snagbook/snag/internal/errors"
	"github.com/snagbook/snag/internal/httputil"
	"github.com/snagbook/snag/internal/logging"
	"github.com/snagbook/snag/internal/metrics"
	"github.com/snagbook/snag/supabase"
)

type contextKey string

const (
	principalContextKey contextKey = "principal"
	tokenContextKey     contextKey = "access_token"
)

// ProfileResolver loads the application profile for a verified identity.
type ProfileResolver interface {
	GetByID(ctx context.Context, id string) (*domain.Profile, error)
}

// TokenVerifier validates an access token against the auth service.
type TokenVerifier interface {
	GetUser(ctx context.Context, accessToken string) (*supabase.User, error)
}

// AuthConfig holds token verification settings.
type AuthConfig struct {
	// JWTSecret enables local HMAC verification; when empty every token
	// costs a round trip to the auth service.
	JWTSecret string
}

// Authenticator verifies bearer tokens and attaches the resolved principal
// to the request context. Requests without an Authorization header pass
// through unauthenticated; RequireAuth and RequireRoles gate the routes that
// need a principal.
type Authenticator struct {
	config   AuthConfig
	verifier TokenVerifier
	profiles ProfileResolver
	logger   *logging.Logger
}

func NewAuthenticator(config AuthConfig, verifier TokenVerifier, profiles ProfileResolver, logger *logging.Logger) *Authenticator {
	return &Authenticator{
		config:   config,
		verifier: verifier,
		profiles: profiles,
		logger:   logger,
	}
}

// Middleware validates the bearer token, when present, and resolves the
// caller's profile. A malformed or invalid token is a hard 401; a missing
// one is not.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			next.ServeHTTP(w, r)
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			httputil.Unauthorized(w, "invalid authorization header format")
			return
		}
		token := parts[1]

		identity, err := a.verifyToken(r.Context(), token)
		if err != nil {
			a.logger.WithContext(r.Context()).WithError(err).Debug("token verification failed")
			httputil.Unauthorized(w, "invalid or expired token")
			return
		}

		// The JWT proves identity; authorization comes from the profile
		// row, which is the single source of truth for roles.
		ctx := supabase.WithAccessToken(r.Context(), token)
		profile, err := a.profiles.GetByID(ctx, identity.ID)
		if err != nil {
			a.logger.WithContext(r.Context()).WithError(err).
				WithField("user_id", identity.ID).Warn("no profile for verified identity")
			httputil.Unauthorized(w, "account has no profile")
			return
		}

		ctx = context.WithValue(ctx, principalContextKey, profile)
		ctx = context.WithValue(ctx, tokenContextKey, token)
		ctx = logging.WithUserID(ctx, profile.ID)
		ctx = logging.WithRole(ctx, profile.Role.String())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// verifyToken prefers local HMAC verification and falls back to the auth
// REST endpoint when no secret is configured or the local check fails.
func (a *Authenticator) verifyToken(ctx context.Context, token string) (*domain.Identity, error) {
	if a.config.JWTSecret != "" {
		if identity, err := a.verifyLocal(token); err == nil {
			return identity, nil
		}
	}
	user, err := a.verifier.GetUser(ctx, token)
	if err != nil {
		return nil, err
	}
	return &domain.Identity{ID: user.ID, Email: user.Email}, nil
}

func (a *Authenticator) verifyLocal(token string) (*domain.Identity, error) {
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(a.config.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("jwt parse: %w", err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("jwt invalid")
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("jwt missing sub claim")
	}
	email, _ := claims["email"].(string)
	return &domain.Identity{ID: sub, Email: email}, nil
}

// RequireAuth rejects requests that carry no principal.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if PrincipalFromContext(r.Context()) == nil {
			httputil.Unauthorized(w, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRoles gates a route to the given roles. An empty role list admits
// any authenticated principal. The decision is delegated to the access
// guard so route checks and handler checks cannot drift apart.
func RequireRoles(roles ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := PrincipalFromContext(r.Context())
			if principal == nil {
				metrics.RecordAuthAttempt("route", false)
				httputil.Unauthorized(w, "authentication required")
				return
			}
			if !authz.CanAccessRoute(principal, roles) {
				metrics.RecordAuthAttempt("route", false)
				httputil.Forbidden(w, "access denied")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// PrincipalFromContext returns the authenticated profile, or nil.
func PrincipalFromContext(ctx context.Context) *domain.Profile {
	principal, ok := ctx.Value(principalContextKey).(*domain.Profile)
	if !ok {
		return nil
	}
	return principal
}

// AccessTokenFromContext returns the caller's raw bearer token, or "".
func AccessTokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenContextKey).(string)
	return token
}

// RequirePrincipal is a handler-level helper: it returns the principal or
// writes a 401 and reports false.
func RequirePrincipal(w http.ResponseWriter, r *http.Request) (*domain.Profile, bool) {
	principal := PrincipalFromContext(r.Context())
	if principal == nil {
		httputil.WriteServiceError(w, r, apperrors.Unauthorized("authentication required"))
		return nil, false
	}
	return principal, true
}
