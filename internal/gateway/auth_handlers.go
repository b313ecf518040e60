package gateway

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/snagbook/snag/internal/domain"
	"github.com/snagbook/snag/internal/errors"
	"github.com/snagbook/snag/internal/httputil"
	"github.com/snagbook/snag/internal/metrics"
	"github.com/snagbook/snag/internal/middleware"
	"github.com/snagbook/snag/supabase"
)

// sessionResponse is what the auth endpoints return on success.
type sessionResponse struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	ExpiresAt    time.Time       `json:"expires_at"`
	Profile      *domain.Profile `json:"profile"`
}

type signUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type updateProfileRequest struct {
	FullName  *string `json:"full_name"`
	AvatarURL *string `json:"avatar_url"`
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		httputil.BadRequest(w, "email and password required")
		return
	}
	role, err := domain.ParseRole(req.Role)
	if err != nil {
		httputil.BadRequest(w, "role must be admin, business, or client")
		return
	}

	authSession, err := s.auth.SignUp(r.Context(), req.Email, req.Password, &supabase.SignUpOptions{
		Data: map[string]any{"full_name": req.FullName, "role": role.String()},
	})
	if err != nil {
		metrics.RecordAuthAttempt("signup", false)
		s.writeAuthError(w, r, err)
		return
	}
	if authSession.User == nil {
		// GoTrue answers signup with an empty session when email
		// confirmation is pending; nothing can be provisioned yet.
		metrics.RecordAuthAttempt("signup", false)
		httputil.WriteServiceError(w, r, errors.Internal("auth session has no user", nil))
		return
	}

	// Provision the profile with the caller's own token so row-level
	// security applies. Sign-up without a profile is rolled back.
	profile, err := s.provisionProfile(r.Context(), authSession, req.Email, req.FullName, role)
	if err != nil {
		metrics.RecordAuthAttempt("signup", false)
		_ = s.auth.SignOut(r.Context(), authSession.AccessToken)
		httputil.WriteServiceError(w, r, errors.Internal("account created but profile provisioning failed", err))
		return
	}

	metrics.RecordAuthAttempt("signup", true)
	httputil.WriteJSON(w, http.StatusCreated, sessionResponse{
		AccessToken:  authSession.AccessToken,
		RefreshToken: authSession.RefreshToken,
		ExpiresAt:    authSession.ExpiresAt(),
		Profile:      profile,
	})
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		httputil.BadRequest(w, "email and password required")
		return
	}

	authSession, err := s.auth.SignInWithPassword(r.Context(), req.Email, req.Password)
	if err != nil {
		metrics.RecordAuthAttempt("signin", false)
		s.writeAuthError(w, r, err)
		return
	}
	if authSession.User == nil {
		metrics.RecordAuthAttempt("signin", false)
		httputil.WriteServiceError(w, r, errors.Internal("auth session has no user", nil))
		return
	}

	profile, err := s.resolveProfile(r.Context(), authSession)
	if err != nil {
		// No profile means no authorization decisions can be made;
		// revoke the fresh session rather than admit a half-usable one.
		metrics.RecordAuthAttempt("signin", false)
		_ = s.auth.SignOut(r.Context(), authSession.AccessToken)
		httputil.WriteServiceError(w, r, errors.ProfileNotFound(authSession.User.ID))
		return
	}

	metrics.RecordAuthAttempt("signin", true)
	httputil.WriteJSON(w, http.StatusOK, sessionResponse{
		AccessToken:  authSession.AccessToken,
		RefreshToken: authSession.RefreshToken,
		ExpiresAt:    authSession.ExpiresAt(),
		Profile:      profile,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		httputil.BadRequest(w, "refresh_token required")
		return
	}

	authSession, err := s.auth.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		metrics.RecordAuthAttempt("refresh", false)
		s.writeAuthError(w, r, err)
		return
	}
	if authSession.User == nil {
		metrics.RecordAuthAttempt("refresh", false)
		httputil.WriteServiceError(w, r, errors.Internal("auth session has no user", nil))
		return
	}

	profile, err := s.resolveProfile(r.Context(), authSession)
	if err != nil {
		metrics.RecordAuthAttempt("refresh", false)
		_ = s.auth.SignOut(r.Context(), authSession.AccessToken)
		httputil.WriteServiceError(w, r, errors.ProfileNotFound(authSession.User.ID))
		return
	}

	metrics.RecordAuthAttempt("refresh", true)
	httputil.WriteJSON(w, http.StatusOK, sessionResponse{
		AccessToken:  authSession.AccessToken,
		RefreshToken: authSession.RefreshToken,
		ExpiresAt:    authSession.ExpiresAt(),
		Profile:      profile,
	})
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	token := middleware.AccessTokenFromContext(r.Context())
	if token != "" {
		if err := s.auth.SignOut(r.Context(), token); err != nil {
			s.logger.WithContext(r.Context()).WithError(err).Warn("remote sign-out failed")
		}
	}
	// Sign-out reports success regardless; the token is dead to this
	// gateway either way.
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "signed_out"})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.RequirePrincipal(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"profile":       principal,
	})
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.RequirePrincipal(w, r)
	if !ok {
		return
	}
	var req updateProfileRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	patch := map[string]any{}
	if req.FullName != nil {
		if strings.TrimSpace(*req.FullName) == "" {
			httputil.BadRequest(w, "full_name cannot be blank")
			return
		}
		patch["full_name"] = strings.TrimSpace(*req.FullName)
	}
	if req.AvatarURL != nil {
		patch["avatar_url"] = strings.TrimSpace(*req.AvatarURL)
	}
	if len(patch) == 0 {
		httputil.BadRequest(w, "nothing to update")
		return
	}

	ctx := supabase.WithAccessToken(r.Context(), middleware.AccessTokenFromContext(r.Context()))
	profile, err := s.profiles.Update(ctx, principal.ID, patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, profile)
}

// =============================================================================
// Helpers
// =============================================================================

func (s *Server) resolveProfile(ctx context.Context, authSession *supabase.AuthSession) (*domain.Profile, error) {
	ctx = supabase.WithAccessToken(ctx, authSession.AccessToken)
	return s.profiles.GetByID(ctx, authSession.User.ID)
}

const provisionAttempts = 3

func (s *Server) provisionProfile(ctx context.Context, authSession *supabase.AuthSession, email, fullName string, role domain.Role) (*domain.Profile, error) {
	ctx = supabase.WithAccessToken(ctx, authSession.AccessToken)
	want := &domain.Profile{
		ID:       authSession.User.ID,
		Email:    email,
		FullName: fullName,
		Role:     role,
	}

	var lastErr error
	for attempt := 0; attempt < provisionAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(250 * time.Millisecond):
			}
		}
		profile, err := s.profiles.EnsureProfile(ctx, want)
		if err == nil {
			return profile, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	if supabase.IsCredentialError(err) {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "already registered") || strings.Contains(msg, "already exists") {
			httputil.WriteServiceError(w, r, errors.Conflict("email is already registered"))
			return
		}
		httputil.WriteServiceError(w, r, errors.InvalidCredentials(err))
		return
	}
	s.logger.WithContext(r.Context()).WithError(err).Error("auth service error")
	httputil.WriteServiceError(w, r, errors.Internal("authentication service unavailable", err))
}
