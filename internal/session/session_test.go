package session

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/snagbook/snag/internal/domain"
	"github.com/snagbook/snag/internal/errors"
	"github.com/snagbook/snag/internal/logging"
	"github.com/snagbook/snag/supabase"
)

type fakeAuth struct {
	mu sync.Mutex

	signInFn  func(ctx context.Context, email, password string) (*supabase.AuthSession, error)
	signUpFn  func(ctx context.Context, email, password string, opts *supabase.SignUpOptions) (*supabase.AuthSession, error)
	refreshFn func(ctx context.Context, refreshToken string) (*supabase.AuthSession, error)
	getUserFn func(ctx context.Context, accessToken string) (*supabase.User, error)

	signedOutTokens []string
}

func (f *fakeAuth) SignUp(ctx context.Context, email, password string, opts *supabase.SignUpOptions) (*supabase.AuthSession, error) {
	if f.signUpFn != nil {
		return f.signUpFn(ctx, email, password, opts)
	}
	return nil, fmt.Errorf("sign-up not configured")
}

func (f *fakeAuth) SignInWithPassword(ctx context.Context, email, password string) (*supabase.AuthSession, error) {
	if f.signInFn != nil {
		return f.signInFn(ctx, email, password)
	}
	return nil, fmt.Errorf("sign-in not configured")
}

func (f *fakeAuth) RefreshToken(ctx context.Context, refreshToken string) (*supabase.AuthSession, error) {
	if f.refreshFn != nil {
		return f.refreshFn(ctx, refreshToken)
	}
	return nil, fmt.Errorf("refresh not configured")
}

func (f *fakeAuth) GetUser(ctx context.Context, accessToken string) (*supabase.User, error) {
	if f.getUserFn != nil {
		return f.getUserFn(ctx, accessToken)
	}
	return nil, fmt.Errorf("get-user not configured")
}

func (f *fakeAuth) SignOut(_ context.Context, accessToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signedOutTokens = append(f.signedOutTokens, accessToken)
	return nil
}

func (f *fakeAuth) revoked() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.signedOutTokens))
	copy(out, f.signedOutTokens)
	return out
}

type fakeProfiles struct {
	mu          sync.Mutex
	profiles    map[string]*domain.Profile
	ensureFails int
	ensureCalls int
}

func (f *fakeProfiles) GetByID(_ context.Context, id string) (*domain.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[id]
	if !ok {
		return nil, errors.ProfileNotFound(id)
	}
	return p, nil
}

func (f *fakeProfiles) EnsureProfile(_ context.Context, profile *domain.Profile) (*domain.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureCalls++
	if f.ensureCalls <= f.ensureFails {
		return nil, fmt.Errorf("profiles table unavailable")
	}
	if f.profiles == nil {
		f.profiles = make(map[string]*domain.Profile)
	}
	f.profiles[profile.ID] = profile
	return profile, nil
}

func testSession(userID, token string) *supabase.AuthSession {
	return &supabase.AuthSession{
		AccessToken:  token,
		RefreshToken: "refresh-" + token,
		ExpiresAtRaw: time.Now().Add(time.Hour).Unix(),
		User:         &supabase.User{ID: userID, Email: userID + "@example.com"},
	}
}

func newTestStore(t *testing.T, auth *fakeAuth, profiles *fakeProfiles, storage Storage) *Store {
	t.Helper()
	logger := logging.New("session-test", logging.Config{Level: "error", Format: "text"})
	store := New(auth, profiles, storage, logger, &Options{
		ProvisionBackoff: time.Millisecond,
	})
	t.Cleanup(store.Close)
	return store
}

func TestSignInSuccess(t *testing.T) {
	auth := &fakeAuth{
		signInFn: func(_ context.Context, email, _ string) (*supabase.AuthSession, error) {
			return testSession("u1", "tok-1"), nil
		},
	}
	profiles := &fakeProfiles{profiles: map[string]*domain.Profile{
		"u1": {ID: "u1", Email: "u1@example.com", Role: domain.RoleClient},
	}}
	store := newTestStore(t, auth, profiles, nil)

	if err := store.SignIn(context.Background(), "u1@example.com", "pw"); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}

	snap := store.Snapshot()
	if !snap.IsAuthenticated {
		t.Fatal("expected authenticated session")
	}
	if snap.State != StateAuthenticated {
		t.Fatalf("expected state authenticated, got %s", snap.State)
	}
	if snap.Identity == nil || snap.Identity.ID != "u1" {
		t.Fatalf("unexpected identity: %+v", snap.Identity)
	}
	if snap.Profile == nil || snap.Profile.Role != domain.RoleClient {
		t.Fatalf("unexpected profile: %+v", snap.Profile)
	}
	if snap.Loading {
		t.Fatal("loading should be false after sign-in settles")
	}
	if snap.Err != "" {
		t.Fatalf("unexpected error in session: %q", snap.Err)
	}
}

func TestSignInBadCredentials(t *testing.T) {
	auth := &fakeAuth{
		signInFn: func(_ context.Context, _, _ string) (*supabase.AuthSession, error) {
			return nil, &supabase.Error{StatusCode: 400, Message: "invalid login credentials"}
		},
	}
	store := newTestStore(t, auth, &fakeProfiles{}, nil)

	err := store.SignIn(context.Background(), "u1@example.com", "wrong")
	if err == nil {
		t.Fatal("expected sign-in error")
	}
	if !errors.IsUnauthorized(err) {
		t.Fatalf("expected unauthorized-class error, got %v", err)
	}

	snap := store.Snapshot()
	if snap.IsAuthenticated {
		t.Fatal("failed sign-in must not authenticate")
	}
	if snap.Err == "" {
		t.Fatal("expected session error message")
	}
	if snap.Loading {
		t.Fatal("loading should settle after failure")
	}
}

func TestSignInWithoutProfileForcesSignOut(t *testing.T) {
	auth := &fakeAuth{
		signInFn: func(_ context.Context, _, _ string) (*supabase.AuthSession, error) {
			return testSession("ghost", "tok-ghost"), nil
		},
	}
	store := newTestStore(t, auth, &fakeProfiles{}, nil)

	err := store.SignIn(context.Background(), "ghost@example.com", "pw")
	if err == nil {
		t.Fatal("expected error when profile is missing")
	}

	snap := store.Snapshot()
	if snap.IsAuthenticated {
		t.Fatal("identity without profile must not be treated as signed in")
	}
	revoked := auth.revoked()
	if len(revoked) != 1 || revoked[0] != "tok-ghost" {
		t.Fatalf("expected remote session revocation, got %v", revoked)
	}
}

// A sign-out that lands while a sign-in is still in flight must win: the
// slow sign-in's result is discarded and its fresh token revoked.
func TestSignOutPreemptsInFlightSignIn(t *testing.T) {
	release := make(chan struct{})
	auth := &fakeAuth{
		signInFn: func(_ context.Context, _, _ string) (*supabase.AuthSession, error) {
			<-release
			return testSession("u1", "tok-stale"), nil
		},
	}
	profiles := &fakeProfiles{profiles: map[string]*domain.Profile{
		"u1": {ID: "u1", Role: domain.RoleClient},
	}}
	store := newTestStore(t, auth, profiles, nil)

	done := make(chan error, 1)
	go func() {
		done <- store.SignIn(context.Background(), "u1@example.com", "pw")
	}()

	// Let the sign-in claim its generation, then pre-empt it.
	deadline := time.Now().Add(time.Second)
	for store.Snapshot().State != StateAuthenticating {
		if time.Now().After(deadline) {
			t.Fatal("sign-in never started")
		}
		time.Sleep(time.Millisecond)
	}
	store.HandleAuthEvent(context.Background(), Event{Type: EventSignedOut})
	close(release)

	if err := <-done; err == nil {
		t.Fatal("superseded sign-in should report an error")
	}

	snap := store.Snapshot()
	if snap.IsAuthenticated {
		t.Fatal("stale sign-in overwrote a later sign-out")
	}
	if snap.State != StateUnauthenticated {
		t.Fatalf("expected unauthenticated, got %s", snap.State)
	}

	revoked := auth.revoked()
	if len(revoked) != 1 || revoked[0] != "tok-stale" {
		t.Fatalf("stale token should have been revoked, got %v", revoked)
	}
}

func TestSignUpRetriesProvisioning(t *testing.T) {
	auth := &fakeAuth{
		signUpFn: func(_ context.Context, email, _ string, _ *supabase.SignUpOptions) (*supabase.AuthSession, error) {
			return testSession("new", "tok-new"), nil
		},
	}
	profiles := &fakeProfiles{ensureFails: 2}
	store := newTestStore(t, auth, profiles, nil)

	if err := store.SignUp(context.Background(), "new@example.com", "pw", "New User", domain.RoleBusiness); err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if profiles.ensureCalls != 3 {
		t.Fatalf("expected 3 provisioning attempts, got %d", profiles.ensureCalls)
	}

	snap := store.Snapshot()
	if !snap.IsAuthenticated {
		t.Fatal("expected authenticated session after sign-up")
	}
	if snap.Profile.Role != domain.RoleBusiness {
		t.Fatalf("expected business role, got %s", snap.Profile.Role)
	}
}

func TestSignUpProvisioningExhaustedSignsOut(t *testing.T) {
	auth := &fakeAuth{
		signUpFn: func(_ context.Context, _, _ string, _ *supabase.SignUpOptions) (*supabase.AuthSession, error) {
			return testSession("new", "tok-new"), nil
		},
	}
	profiles := &fakeProfiles{ensureFails: 100}
	store := newTestStore(t, auth, profiles, nil)

	err := store.SignUp(context.Background(), "new@example.com", "pw", "New User", domain.RoleClient)
	if err == nil {
		t.Fatal("expected provisioning failure")
	}

	snap := store.Snapshot()
	if snap.IsAuthenticated {
		t.Fatal("partially provisioned account must not be signed in")
	}
	if len(auth.revoked()) != 1 {
		t.Fatal("expected the orphaned auth session to be revoked")
	}
}

// GoTrue answers signup with HTTP 200 and no user or tokens when email
// confirmation is pending. The store must treat that as a failed attempt
// rather than dereferencing the missing user.
func TestSignUpWithoutUserStaysUnauthenticated(t *testing.T) {
	auth := &fakeAuth{
		signUpFn: func(_ context.Context, _, _ string, _ *supabase.SignUpOptions) (*supabase.AuthSession, error) {
			return &supabase.AuthSession{}, nil
		},
	}
	profiles := &fakeProfiles{}
	store := newTestStore(t, auth, profiles, nil)

	err := store.SignUp(context.Background(), "new@example.com", "pw", "New User", domain.RoleClient)
	if err == nil {
		t.Fatal("expected error for user-less auth session")
	}
	if profiles.ensureCalls != 0 {
		t.Fatalf("nothing should be provisioned, got %d attempts", profiles.ensureCalls)
	}

	snap := store.Snapshot()
	if snap.IsAuthenticated {
		t.Fatal("user-less session must not authenticate")
	}
	if snap.Err == "" {
		t.Fatal("expected session error message")
	}
	if snap.Loading {
		t.Fatal("loading should settle after failure")
	}
}

func TestSignInWithoutUserStaysUnauthenticated(t *testing.T) {
	auth := &fakeAuth{
		signInFn: func(_ context.Context, _, _ string) (*supabase.AuthSession, error) {
			return &supabase.AuthSession{AccessToken: "tok-odd"}, nil
		},
	}
	store := newTestStore(t, auth, &fakeProfiles{}, nil)

	if err := store.SignIn(context.Background(), "u1@example.com", "pw"); err == nil {
		t.Fatal("expected error for user-less auth session")
	}
	if store.Snapshot().IsAuthenticated {
		t.Fatal("user-less session must not authenticate")
	}
}

func TestSignUpRejectsInvalidRole(t *testing.T) {
	store := newTestStore(t, &fakeAuth{}, &fakeProfiles{}, nil)
	err := store.SignUp(context.Background(), "x@example.com", "pw", "X", domain.Role("superuser"))
	if err == nil {
		t.Fatal("expected validation error")
	}
	svcErr := errors.GetServiceError(err)
	if svcErr == nil || svcErr.Code != "VALIDATION" {
		t.Fatalf("expected VALIDATION error, got %v", err)
	}
}

func TestSignOutIsIdempotent(t *testing.T) {
	store := newTestStore(t, &fakeAuth{}, &fakeProfiles{}, nil)
	for i := 0; i < 3; i++ {
		if err := store.SignOut(context.Background()); err != nil {
			t.Fatalf("SignOut #%d failed: %v", i+1, err)
		}
	}
	snap := store.Snapshot()
	if snap.State != StateUnauthenticated || snap.IsAuthenticated {
		t.Fatalf("expected unauthenticated store, got %+v", snap)
	}
}

func TestInitRestoresPersistedSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	storage := NewFileStorage(path)

	seed := testSession("u1", "tok-old")
	profile := &domain.Profile{ID: "u1", Role: domain.RoleAdmin}

	if err := storage.Save(context.Background(), &Snapshot{
		AccessToken:  seed.AccessToken,
		RefreshToken: seed.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}

	auth := &fakeAuth{
		getUserFn: func(_ context.Context, token string) (*supabase.User, error) {
			if token != "tok-old" {
				return nil, fmt.Errorf("unknown token")
			}
			return seed.User, nil
		},
	}
	profiles := &fakeProfiles{profiles: map[string]*domain.Profile{"u1": profile}}
	store := newTestStore(t, auth, profiles, storage)

	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	snap := store.Snapshot()
	if !snap.IsAuthenticated {
		t.Fatal("expected restored session to authenticate")
	}
	if snap.Profile.Role != domain.RoleAdmin {
		t.Fatalf("unexpected role: %s", snap.Profile.Role)
	}
}

func TestInitWithExpiredTokenRefreshes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	storage := NewFileStorage(path)

	if err := storage.Save(context.Background(), &Snapshot{
		AccessToken:  "tok-expired",
		RefreshToken: "refresh-tok-expired",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}); err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}

	fresh := testSession("u1", "tok-fresh")
	auth := &fakeAuth{
		refreshFn: func(_ context.Context, refreshToken string) (*supabase.AuthSession, error) {
			if refreshToken != "refresh-tok-expired" {
				return nil, fmt.Errorf("unknown refresh token")
			}
			return fresh, nil
		},
	}
	profiles := &fakeProfiles{profiles: map[string]*domain.Profile{
		"u1": {ID: "u1", Role: domain.RoleClient},
	}}
	store := newTestStore(t, auth, profiles, storage)

	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	snap := store.Snapshot()
	if !snap.IsAuthenticated {
		t.Fatal("expected refreshed session")
	}
	if snap.AccessToken != "tok-fresh" {
		t.Fatalf("expected refreshed access token, got %q", snap.AccessToken)
	}
}

func TestInitWithNoSnapshotStartsUnauthenticated(t *testing.T) {
	storage := NewFileStorage(filepath.Join(t.TempDir(), "missing.json"))
	store := newTestStore(t, &fakeAuth{}, &fakeProfiles{}, storage)

	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	snap := store.Snapshot()
	if snap.State != StateUnauthenticated {
		t.Fatalf("expected unauthenticated start, got %s", snap.State)
	}
	if snap.Loading {
		t.Fatal("loading should settle after init")
	}
}

func TestHandleAuthEventTokenRefreshed(t *testing.T) {
	profiles := &fakeProfiles{profiles: map[string]*domain.Profile{
		"u1": {ID: "u1", Role: domain.RoleClient},
	}}
	auth := &fakeAuth{
		signInFn: func(_ context.Context, _, _ string) (*supabase.AuthSession, error) {
			return testSession("u1", "tok-1"), nil
		},
	}
	store := newTestStore(t, auth, profiles, nil)
	if err := store.SignIn(context.Background(), "u1@example.com", "pw"); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}

	store.HandleAuthEvent(context.Background(), Event{
		Type:    EventTokenRefreshed,
		Session: testSession("u1", "tok-2"),
	})

	snap := store.Snapshot()
	if snap.AccessToken != "tok-2" {
		t.Fatalf("expected refreshed token, got %q", snap.AccessToken)
	}
	if !snap.IsAuthenticated {
		t.Fatal("refresh must keep the session authenticated")
	}
}

// A refresh event whose session carries no user cannot be validated; the
// store resets instead of panicking on the missing identity.
func TestHandleAuthEventWithoutUserResets(t *testing.T) {
	profiles := &fakeProfiles{profiles: map[string]*domain.Profile{
		"u1": {ID: "u1", Role: domain.RoleClient},
	}}
	auth := &fakeAuth{
		signInFn: func(_ context.Context, _, _ string) (*supabase.AuthSession, error) {
			return testSession("u1", "tok-1"), nil
		},
	}
	store := newTestStore(t, auth, profiles, nil)
	if err := store.SignIn(context.Background(), "u1@example.com", "pw"); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}

	store.HandleAuthEvent(context.Background(), Event{
		Type:    EventTokenRefreshed,
		Session: &supabase.AuthSession{AccessToken: "tok-hollow"},
	})

	snap := store.Snapshot()
	if snap.IsAuthenticated {
		t.Fatal("user-less refresh event must not keep the session alive")
	}
	if snap.State != StateUnauthenticated {
		t.Fatalf("expected unauthenticated, got %s", snap.State)
	}
}

func TestSubscribeObservesCommits(t *testing.T) {
	auth := &fakeAuth{
		signInFn: func(_ context.Context, _, _ string) (*supabase.AuthSession, error) {
			return testSession("u1", "tok-1"), nil
		},
	}
	profiles := &fakeProfiles{profiles: map[string]*domain.Profile{
		"u1": {ID: "u1", Role: domain.RoleClient},
	}}
	store := newTestStore(t, auth, profiles, nil)

	seen := make(chan Session, 16)
	unsubscribe := store.Subscribe(func(s Session) { seen <- s })
	defer unsubscribe()

	if err := store.SignIn(context.Background(), "u1@example.com", "pw"); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		select {
		case s := <-seen:
			if s.IsAuthenticated {
				return
			}
		case <-deadline:
			t.Fatal("watcher never observed the authenticated commit")
		}
	}
}

func TestFileStorageRoundTrip(t *testing.T) {
	storage := NewFileStorage(filepath.Join(t.TempDir(), "nested", "session.json"))
	ctx := context.Background()

	want := &Snapshot{
		AccessToken:  "tok",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(time.Hour).UTC().Truncate(time.Second),
	}
	if err := storage.Save(ctx, want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := storage.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got == nil || got.AccessToken != "tok" || got.RefreshToken != "refresh" {
		t.Fatalf("unexpected snapshot: %+v", got)
	}

	if err := storage.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	got, err = storage.Load(ctx)
	if err != nil {
		t.Fatalf("Load after clear failed: %v", err)
	}
	if got != nil {
		t.Fatal("expected nil snapshot after clear")
	}
	if err := storage.Clear(ctx); err != nil {
		t.Fatalf("Clear must be idempotent: %v", err)
	}
}
