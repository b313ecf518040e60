package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Auth returns the auth client.
func (c *Client) Auth() *AuthClient {
	return &AuthClient{client: c}
}

// AuthClient handles GoTrue authentication operations.
type AuthClient struct {
	client *Client
}

// User represents a Supabase auth user.
type User struct {
	ID               string         `json:"id"`
	Aud              string         `json:"aud,omitempty"`
	Email            string         `json:"email"`
	Phone            string         `json:"phone,omitempty"`
	Role             string         `json:"role,omitempty"`
	EmailConfirmedAt string         `json:"email_confirmed_at,omitempty"`
	CreatedAt        string         `json:"created_at,omitempty"`
	UpdatedAt        string         `json:"updated_at,omitempty"`
	AppMetadata      map[string]any `json:"app_metadata,omitempty"`
	UserMetadata     map[string]any `json:"user_metadata,omitempty"`
}

// AuthSession is the token payload returned by sign-in, sign-up and refresh.
type AuthSession struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAtRaw int64  `json:"expires_at,omitempty"`
	RefreshToken string `json:"refresh_token"`
	User         *User  `json:"user"`
}

// ExpiresAt returns the absolute token expiry.
func (s *AuthSession) ExpiresAt() time.Time {
	if s.ExpiresAtRaw > 0 {
		return time.Unix(s.ExpiresAtRaw, 0)
	}
	return time.Now().Add(time.Duration(s.ExpiresIn) * time.Second)
}

// SignUpOptions carries optional user metadata for sign-up.
type SignUpOptions struct {
	Data map[string]any
}

// SignUp creates a new user.
func (a *AuthClient) SignUp(ctx context.Context, email, password string, opts *SignUpOptions) (*AuthSession, error) {
	payload := map[string]any{
		"email":    email,
		"password": password,
	}
	if opts != nil && len(opts.Data) > 0 {
		payload["data"] = opts.Data
	}
	return a.tokenRequest(ctx, a.client.baseURL+"/auth/v1/signup", payload)
}

// SignInWithPassword authenticates a user with email and password.
func (a *AuthClient) SignInWithPassword(ctx context.Context, email, password string) (*AuthSession, error) {
	payload := map[string]any{
		"email":    email,
		"password": password,
	}
	return a.tokenRequest(ctx, a.client.baseURL+"/auth/v1/token?grant_type=password", payload)
}

// RefreshToken exchanges a refresh token for a new session.
func (a *AuthClient) RefreshToken(ctx context.Context, refreshToken string) (*AuthSession, error) {
	payload := map[string]any{
		"refresh_token": refreshToken,
	}
	return a.tokenRequest(ctx, a.client.baseURL+"/auth/v1/token?grant_type=refresh_token", payload)
}

func (a *AuthClient) tokenRequest(ctx context.Context, url string, payload map[string]any) (*AuthSession, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("apikey", a.client.anonKey)
	req.Header.Set("Authorization", "Bearer "+a.client.anonKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, parseError(resp.Body, resp.StatusCode)
	}

	var session AuthSession
	if err := json.Unmarshal(resp.Body, &session); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &session, nil
}

// GetUser retrieves the user behind an access token.
func (a *AuthClient) GetUser(ctx context.Context, accessToken string) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", a.client.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("apikey", a.client.anonKey)
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := a.client.do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, parseError(resp.Body, resp.StatusCode)
	}

	var user User
	if err := json.Unmarshal(resp.Body, &user); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &user, nil
}

// SignOut revokes the session behind an access token. Revoking an already
// dead session is not an error.
func (a *AuthClient) SignOut(ctx context.Context, accessToken string) error {
	req, err := http.NewRequestWithContext(ctx, "POST", a.client.baseURL+"/auth/v1/logout", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("apikey", a.client.anonKey)
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := a.client.do(req)
	if err != nil {
		return err
	}
	// GoTrue returns 401 for tokens that are already revoked or expired;
	// treat that the same as a successful sign-out.
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusUnauthorized {
		return parseError(resp.Body, resp.StatusCode)
	}
	return nil
}

// IsCredentialError reports whether err is a rejected-credential auth error
// rather than a transport or server failure.
func IsCredentialError(err error) bool {
	apiErr, ok := err.(*Error)
	if !ok {
		return false
	}
	switch apiErr.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusUnprocessableEntity:
		return true
	}
	return false
}
