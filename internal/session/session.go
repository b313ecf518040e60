// Package session owns the process-wide authenticated session: who is signed
// in, with which profile and role, and the tokens backing that claim.
//
// The store is the single writer of the Session value. Explicit actions
// (SignIn, SignUp, SignOut) and asynchronous auth events (token refresh,
// external sign-out) all converge on the same commit path, which is fenced by
// a generation counter: a commit prepared against a generation that has since
// moved on is dropped. A sign-out therefore always wins over a slower,
// in-flight sign-in.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/snagbook/snag/internal/domain"
	"github.com/snagbook/snag/internal/errors"
	"github.com/snagbook/snag/internal/logging"
	"github.com/snagbook/snag/supabase"
)

// State is the lifecycle state of the session store.
type State int

const (
	StateInitializing State = iota
	StateUnauthenticated
	StateAuthenticating
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Session is the in-memory record combining identity, profile, and auth
// status. IsAuthenticated holds iff both Identity and Profile are present.
type Session struct {
	State           State
	Identity        *domain.Identity
	Profile         *domain.Profile
	IsAuthenticated bool
	Loading         bool
	Err             string

	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time

	Generation uint64
}

// clone returns a deep-enough copy for watchers and Snapshot readers.
func (s Session) clone() Session {
	out := s
	if s.Identity != nil {
		id := *s.Identity
		out.Identity = &id
	}
	if s.Profile != nil {
		p := *s.Profile
		out.Profile = &p
	}
	return out
}

// AuthAPI is the slice of the hosted auth service the store depends on.
type AuthAPI interface {
	SignUp(ctx context.Context, email, password string, opts *supabase.SignUpOptions) (*supabase.AuthSession, error)
	SignInWithPassword(ctx context.Context, email, password string) (*supabase.AuthSession, error)
	RefreshToken(ctx context.Context, refreshToken string) (*supabase.AuthSession, error)
	GetUser(ctx context.Context, accessToken string) (*supabase.User, error)
	SignOut(ctx context.Context, accessToken string) error
}

// ProfileAPI resolves and provisions application profiles.
type ProfileAPI interface {
	GetByID(ctx context.Context, id string) (*domain.Profile, error)
	EnsureProfile(ctx context.Context, profile *domain.Profile) (*domain.Profile, error)
}

// EventType classifies auth push events.
type EventType string

const (
	EventSignedIn       EventType = "SIGNED_IN"
	EventTokenRefreshed EventType = "TOKEN_REFRESHED"
	EventSignedOut      EventType = "SIGNED_OUT"
)

// Event is an auth-state-change notification.
type Event struct {
	Type EventType
	// Session is nil for sign-out / no-session events.
	Session *supabase.AuthSession
}

// Options tunes store behavior.
type Options struct {
	// RefreshLeeway is how long before token expiry a refresh is attempted.
	RefreshLeeway time.Duration
	// ProvisionRetries bounds EnsureProfile attempts during sign-up.
	ProvisionRetries int
	// ProvisionBackoff is the delay between provision attempts.
	ProvisionBackoff time.Duration
}

func (o *Options) withDefaults() Options {
	out := Options{
		RefreshLeeway:    60 * time.Second,
		ProvisionRetries: 3,
		ProvisionBackoff: 250 * time.Millisecond,
	}
	if o == nil {
		return out
	}
	if o.RefreshLeeway > 0 {
		out.RefreshLeeway = o.RefreshLeeway
	}
	if o.ProvisionRetries > 0 {
		out.ProvisionRetries = o.ProvisionRetries
	}
	if o.ProvisionBackoff > 0 {
		out.ProvisionBackoff = o.ProvisionBackoff
	}
	return out
}

// Store is the session state container. Construct with New and pass the
// handle down; there is deliberately no package-level instance.
type Store struct {
	auth     AuthAPI
	profiles ProfileAPI
	storage  Storage
	logger   *logging.Logger
	opts     Options

	mu       sync.Mutex
	session  Session
	gen      uint64
	watchers map[int]func(Session)
	nextID   int

	stopRefresh chan struct{}
	refreshOnce sync.Once
}

// New creates a session store. storage may be nil to disable persistence.
func New(auth AuthAPI, profiles ProfileAPI, storage Storage, logger *logging.Logger, opts *Options) *Store {
	return &Store{
		auth:     auth,
		profiles: profiles,
		storage:  storage,
		logger:   logger,
		opts:     opts.withDefaults(),
		session: Session{
			State:   StateInitializing,
			Loading: true,
		},
		watchers:    make(map[int]func(Session)),
		stopRefresh: make(chan struct{}),
	}
}

// Snapshot returns a copy of the latest committed session. Readers never see
// a partially applied write.
func (s *Store) Snapshot() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.clone()
}

// Subscribe registers a watcher invoked with a session copy after every
// committed write. The returned function unsubscribes.
func (s *Store) Subscribe(fn func(Session)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

// Close stops the background refresh loop.
func (s *Store) Close() {
	s.refreshOnce.Do(func() {
		close(s.stopRefresh)
	})
}

// =============================================================================
// Commit path
//
// beginOp records the generation an operation was prepared against. commit
// applies a mutation only if the generation is unchanged; reset invalidates
// every in-flight operation and replaces the session wholesale.
// =============================================================================

func (s *Store) beginOp(mut func(*Session)) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mut != nil {
		mut(&s.session)
		s.notifyLocked()
	}
	return s.gen
}

func (s *Store) commit(gen uint64, mut func(*Session)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return false
	}
	mut(&s.session)
	s.session.Generation = s.gen
	s.notifyLocked()
	return true
}

func (s *Store) reset(errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.session = Session{
		State:      StateUnauthenticated,
		Err:        errMsg,
		Generation: s.gen,
	}
	s.notifyLocked()
}

func (s *Store) notifyLocked() {
	snap := s.session.clone()
	for _, fn := range s.watchers {
		go fn(snap)
	}
}

// =============================================================================
// Lifecycle
// =============================================================================

// Init resolves the one-time startup session check: restore the persisted
// snapshot, validate it against the auth service, and land in either
// Authenticated or Unauthenticated. It also starts the token refresh loop.
func (s *Store) Init(ctx context.Context) error {
	defer func() { go s.refreshLoop() }()

	snap := s.loadSnapshot(ctx)
	if snap == nil || snap.RefreshToken == "" {
		s.reset("")
		return nil
	}

	gen := s.beginOp(nil)

	authSession, err := s.resumeSession(ctx, snap)
	if err != nil {
		s.log().WithError(err).Info("persisted session no longer valid")
		s.clearSnapshot(ctx)
		s.reset("")
		return nil
	}

	profile, err := s.fetchProfile(ctx, authSession)
	if err != nil {
		// Strict policy: an identity without a profile is not a valid
		// session. Revoke and start unauthenticated.
		s.log().WithError(err).Warn("profile missing for persisted session, signing out")
		_ = s.auth.SignOut(ctx, authSession.AccessToken)
		s.clearSnapshot(ctx)
		s.reset("")
		return nil
	}

	if s.commitAuthenticated(ctx, gen, authSession, profile) {
		s.log().WithField("user_id", authSession.User.ID).Info("session restored")
	}
	return nil
}

func (s *Store) resumeSession(ctx context.Context, snap *Snapshot) (*supabase.AuthSession, error) {
	if snap.AccessToken != "" && time.Until(snap.ExpiresAt) > s.opts.RefreshLeeway {
		user, err := s.auth.GetUser(ctx, snap.AccessToken)
		if err == nil {
			return &supabase.AuthSession{
				AccessToken:  snap.AccessToken,
				RefreshToken: snap.RefreshToken,
				ExpiresAtRaw: snap.ExpiresAt.Unix(),
				User:         user,
			}, nil
		}
	}
	return s.auth.RefreshToken(ctx, snap.RefreshToken)
}

// =============================================================================
// Explicit actions
// =============================================================================

// SignIn authenticates with email/password and resolves the profile. Auth
// failures are recorded in the session's Err field rather than returned; the
// returned error only reports invariant-level problems for callers that want
// them (the gateway maps them to HTTP responses).
func (s *Store) SignIn(ctx context.Context, email, password string) error {
	gen := s.beginOp(func(sess *Session) {
		sess.State = StateAuthenticating
		sess.Loading = true
		sess.Err = ""
	})

	authSession, err := s.auth.SignInWithPassword(ctx, email, password)
	if err != nil {
		svcErr := translateAuthError(err)
		s.commit(gen, func(sess *Session) {
			sess.State = StateUnauthenticated
			sess.Loading = false
			sess.Err = svcErr.Message
		})
		return svcErr
	}
	if authSession.User == nil {
		return s.failUserless(gen)
	}

	profile, err := s.fetchProfile(ctx, authSession)
	if err != nil {
		// Authenticated but no profile: strict policy forces sign-out.
		_ = s.auth.SignOut(ctx, authSession.AccessToken)
		svcErr := errors.ProfileNotFound(authSession.User.ID)
		s.commit(gen, func(sess *Session) {
			sess.State = StateUnauthenticated
			sess.Loading = false
			sess.Err = svcErr.Message
		})
		return svcErr
	}

	if !s.commitAuthenticated(ctx, gen, authSession, profile) {
		// The store moved on while we were signing in (e.g. an external
		// sign-out). The fresh session must not survive.
		_ = s.auth.SignOut(ctx, authSession.AccessToken)
		return errors.Unauthorized("session superseded during sign-in")
	}
	return nil
}

// SignUp registers a new identity and provisions its profile. The profile
// insert is an idempotent upsert keyed by the identity id and is retried; a
// signup that authenticates but cannot provision leaves the store
// unauthenticated and reports the account as partially provisioned.
func (s *Store) SignUp(ctx context.Context, email, password, fullName string, role domain.Role) error {
	if !role.Valid() {
		return errors.Validation("invalid role")
	}

	gen := s.beginOp(func(sess *Session) {
		sess.State = StateAuthenticating
		sess.Loading = true
		sess.Err = ""
	})

	authSession, err := s.auth.SignUp(ctx, email, password, &supabase.SignUpOptions{
		Data: map[string]any{
			"full_name": fullName,
			"role":      role.String(),
		},
	})
	if err != nil {
		svcErr := translateAuthError(err)
		s.commit(gen, func(sess *Session) {
			sess.State = StateUnauthenticated
			sess.Loading = false
			sess.Err = svcErr.Message
		})
		return svcErr
	}
	if authSession.User == nil {
		// GoTrue answers signup with an empty session when email
		// confirmation is pending; there is no identity to provision yet.
		return s.failUserless(gen)
	}

	profile, err := s.provisionProfile(ctx, authSession, email, fullName, role)
	if err != nil {
		svcErr := errors.Internal("account created but profile provisioning failed", err).
			WithDetails("user_id", authSession.User.ID)
		_ = s.auth.SignOut(ctx, authSession.AccessToken)
		s.commit(gen, func(sess *Session) {
			sess.State = StateUnauthenticated
			sess.Loading = false
			sess.Err = svcErr.Message
		})
		return svcErr
	}

	if !s.commitAuthenticated(ctx, gen, authSession, profile) {
		_ = s.auth.SignOut(ctx, authSession.AccessToken)
		return errors.Unauthorized("session superseded during sign-up")
	}
	return nil
}

// SignOut revokes the remote session, clears all local state, and bumps the
// generation so stale in-flight writes are discarded. Calling it on an
// already unauthenticated store is a no-op.
func (s *Store) SignOut(ctx context.Context) error {
	s.mu.Lock()
	token := s.session.AccessToken
	s.mu.Unlock()

	if token != "" {
		if err := s.auth.SignOut(ctx, token); err != nil {
			// Remote revocation failing must not keep the user signed
			// in locally.
			s.log().WithError(err).Warn("remote sign-out failed")
		}
	}

	s.clearSnapshot(ctx)
	s.reset("")
	return nil
}

// =============================================================================
// Push events
// =============================================================================

// HandleAuthEvent is the sole sink for asynchronous auth-state notifications.
// Session-present events re-resolve the profile and replace the state
// wholesale; no-session events reset immediately and pre-empt any in-flight
// action.
func (s *Store) HandleAuthEvent(ctx context.Context, ev Event) {
	if ev.Session == nil || ev.Session.User == nil || ev.Type == EventSignedOut {
		s.clearSnapshot(ctx)
		s.reset("")
		return
	}

	gen := s.beginOp(nil)

	profile, err := s.fetchProfile(ctx, ev.Session)
	if err != nil {
		s.log().WithError(err).Warn("auth event for identity without profile, signing out")
		_ = s.auth.SignOut(ctx, ev.Session.AccessToken)
		s.clearSnapshot(ctx)
		s.reset(errors.ProfileNotFound(ev.Session.User.ID).Message)
		return
	}

	s.commitAuthenticated(ctx, gen, ev.Session, profile)
}

// =============================================================================
// Internals
// =============================================================================

func (s *Store) fetchProfile(ctx context.Context, authSession *supabase.AuthSession) (*domain.Profile, error) {
	if authSession == nil || authSession.User == nil || authSession.User.ID == "" {
		return nil, errors.Internal("auth session has no user", nil)
	}
	ctx = supabase.WithAccessToken(ctx, authSession.AccessToken)
	profile, err := s.profiles.GetByID(ctx, authSession.User.ID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, errors.ProfileNotFound(authSession.User.ID)
	}
	return profile, nil
}

func (s *Store) provisionProfile(ctx context.Context, authSession *supabase.AuthSession, email, fullName string, role domain.Role) (*domain.Profile, error) {
	ctx = supabase.WithAccessToken(ctx, authSession.AccessToken)
	want := &domain.Profile{
		ID:       authSession.User.ID,
		Email:    email,
		FullName: fullName,
		Role:     role,
	}

	var lastErr error
	for attempt := 0; attempt < s.opts.ProvisionRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.opts.ProvisionBackoff):
			}
		}
		profile, err := s.profiles.EnsureProfile(ctx, want)
		if err == nil {
			return profile, nil
		}
		lastErr = err
		s.log().WithError(err).WithField("attempt", attempt+1).Warn("profile provisioning failed")
	}
	return nil, lastErr
}

func (s *Store) commitAuthenticated(ctx context.Context, gen uint64, authSession *supabase.AuthSession, profile *domain.Profile) bool {
	identity := &domain.Identity{
		ID:    authSession.User.ID,
		Email: authSession.User.Email,
	}
	ok := s.commit(gen, func(sess *Session) {
		sess.State = StateAuthenticated
		sess.Identity = identity
		sess.Profile = profile
		sess.IsAuthenticated = true
		sess.Loading = false
		sess.Err = ""
		sess.AccessToken = authSession.AccessToken
		sess.RefreshToken = authSession.RefreshToken
		sess.ExpiresAt = authSession.ExpiresAt()
	})
	if ok {
		s.saveSnapshot(ctx, authSession, profile)
	}
	return ok
}

// failUserless records the auth-session-without-a-user outcome and leaves the
// store unauthenticated.
func (s *Store) failUserless(gen uint64) error {
	svcErr := errors.Internal("auth session has no user", nil)
	s.commit(gen, func(sess *Session) {
		sess.State = StateUnauthenticated
		sess.Loading = false
		sess.Err = svcErr.Message
	})
	return svcErr
}

func translateAuthError(err error) *errors.ServiceError {
	if supabase.IsCredentialError(err) {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "already registered") || strings.Contains(msg, "already exists") {
			return errors.Conflict("email is already registered")
		}
		return errors.InvalidCredentials(err)
	}
	return errors.Internal("authentication service unavailable", err)
}

func (s *Store) log() *logging.Logger {
	return s.logger
}

// =============================================================================
// Token refresh loop
// =============================================================================

func (s *Store) refreshLoop() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopRefresh:
			return
		case <-ticker.C:
			s.maybeRefresh()
		}
	}
}

func (s *Store) maybeRefresh() {
	s.mu.Lock()
	needsRefresh := s.session.IsAuthenticated &&
		s.session.RefreshToken != "" &&
		time.Until(s.session.ExpiresAt) < s.opts.RefreshLeeway
	refreshToken := s.session.RefreshToken
	s.mu.Unlock()

	if !needsRefresh {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	authSession, err := s.auth.RefreshToken(ctx, refreshToken)
	if err != nil {
		s.log().WithError(err).Warn("token refresh failed")
		if supabase.IsCredentialError(err) {
			// Refresh token revoked upstream: the session is gone.
			s.HandleAuthEvent(ctx, Event{Type: EventSignedOut})
		}
		return
	}
	s.HandleAuthEvent(ctx, Event{Type: EventTokenRefreshed, Session: authSession})
}
