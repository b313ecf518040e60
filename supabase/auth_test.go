package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

// newAuthServer fakes the GoTrue endpoints the client talks to.
func newAuthServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/auth/v1/signup", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string         `json:"email"`
			Password string         `json:"password"`
			Data     map[string]any `json:"data"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Email == "taken@snag.dev" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			fmt.Fprint(w, `{"msg":"User already registered"}`)
			return
		}
		json.NewEncoder(w).Encode(AuthSession{
			AccessToken:  "access-new",
			RefreshToken: "refresh-new",
			ExpiresIn:    3600,
			User:         &User{ID: "user-1", Email: req.Email, UserMetadata: req.Data},
		})
	})

	mux.HandleFunc("/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("grant_type") {
		case "password":
			var req struct {
				Email    string `json:"email"`
				Password string `json:"password"`
			}
			json.NewDecoder(r.Body).Decode(&req)
			if req.Password != "correct" {
				w.WriteHeader(http.StatusBadRequest)
				fmt.Fprint(w, `{"error":"invalid_grant","error_description":"Invalid login credentials"}`)
				return
			}
			json.NewEncoder(w).Encode(AuthSession{
				AccessToken:  "access-pw",
				RefreshToken: "refresh-pw",
				ExpiresIn:    3600,
				User:         &User{ID: "user-1", Email: req.Email},
			})
		case "refresh_token":
			var req struct {
				RefreshToken string `json:"refresh_token"`
			}
			json.NewDecoder(r.Body).Decode(&req)
			if req.RefreshToken != "refresh-pw" {
				w.WriteHeader(http.StatusBadRequest)
				fmt.Fprint(w, `{"error":"invalid_grant","error_description":"Invalid Refresh Token"}`)
				return
			}
			json.NewEncoder(w).Encode(AuthSession{
				AccessToken:  "access-rotated",
				RefreshToken: "refresh-rotated",
				ExpiresIn:    3600,
				User:         &User{ID: "user-1", Email: "ada@snag.dev"},
			})
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})

	mux.HandleFunc("/auth/v1/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-pw" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"msg":"invalid JWT"}`)
			return
		}
		json.NewEncoder(w).Encode(User{ID: "user-1", Email: "ada@snag.dev"})
	})

	mux.HandleFunc("/auth/v1/logout", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer expired" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newAuthClient(t *testing.T) *AuthClient {
	t.Helper()
	server := newAuthServer(t)
	client, err := New(Config{URL: server.URL, AnonKey: "anon-key"})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return client.Auth()
}

func TestSignInWithPassword(t *testing.T) {
	auth := newAuthClient(t)

	sess, err := auth.SignInWithPassword(context.Background(), "ada@snag.dev", "correct")
	if err != nil {
		t.Fatalf("SignInWithPassword() error: %v", err)
	}
	if sess.AccessToken != "access-pw" {
		t.Errorf("AccessToken = %s", sess.AccessToken)
	}
	if sess.User == nil || sess.User.ID != "user-1" {
		t.Errorf("User = %+v, want user-1", sess.User)
	}
	if sess.ExpiresAt().IsZero() {
		t.Error("ExpiresAt() should derive from expires_in")
	}
}

func TestSignInRejectsBadPassword(t *testing.T) {
	auth := newAuthClient(t)

	_, err := auth.SignInWithPassword(context.Background(), "ada@snag.dev", "wrong")
	if err == nil {
		t.Fatal("SignInWithPassword() should fail")
	}
	if !IsCredentialError(err) {
		t.Errorf("IsCredentialError() = false for %v", err)
	}
}

func TestSignUpCarriesMetadata(t *testing.T) {
	auth := newAuthClient(t)

	sess, err := auth.SignUp(context.Background(), "new@snag.dev", "correct", &SignUpOptions{
		Data: map[string]any{"role": "client"},
	})
	if err != nil {
		t.Fatalf("SignUp() error: %v", err)
	}
	if sess.User.UserMetadata["role"] != "client" {
		t.Errorf("UserMetadata = %v, want role=client", sess.User.UserMetadata)
	}
}

func TestSignUpDuplicateIsCredentialError(t *testing.T) {
	auth := newAuthClient(t)

	_, err := auth.SignUp(context.Background(), "taken@snag.dev", "correct", nil)
	if err == nil {
		t.Fatal("SignUp() should fail for registered address")
	}
	if !IsCredentialError(err) {
		t.Errorf("IsCredentialError() = false for %v", err)
	}
}

func TestRefreshTokenRotates(t *testing.T) {
	auth := newAuthClient(t)

	sess, err := auth.RefreshToken(context.Background(), "refresh-pw")
	if err != nil {
		t.Fatalf("RefreshToken() error: %v", err)
	}
	if sess.AccessToken != "access-rotated" || sess.RefreshToken != "refresh-rotated" {
		t.Errorf("rotated session = %s/%s", sess.AccessToken, sess.RefreshToken)
	}
}

func TestRefreshTokenRevoked(t *testing.T) {
	auth := newAuthClient(t)

	_, err := auth.RefreshToken(context.Background(), "refresh-revoked")
	if err == nil {
		t.Fatal("RefreshToken() should fail for revoked token")
	}
	if !IsCredentialError(err) {
		t.Errorf("IsCredentialError() = false for %v", err)
	}
}

func TestGetUser(t *testing.T) {
	auth := newAuthClient(t)

	user, err := auth.GetUser(context.Background(), "access-pw")
	if err != nil {
		t.Fatalf("GetUser() error: %v", err)
	}
	if user.ID != "user-1" {
		t.Errorf("ID = %s, want user-1", user.ID)
	}

	if _, err := auth.GetUser(context.Background(), "stale"); err == nil {
		t.Error("GetUser() should fail for a stale token")
	}
}

func TestSignOutTreatsRevokedTokenAsSuccess(t *testing.T) {
	auth := newAuthClient(t)

	if err := auth.SignOut(context.Background(), "access-pw"); err != nil {
		t.Fatalf("SignOut() error: %v", err)
	}
	// Already-expired tokens come back 401 from GoTrue; sign-out still counts.
	if err := auth.SignOut(context.Background(), "expired"); err != nil {
		t.Errorf("SignOut() with expired token error: %v", err)
	}
}
