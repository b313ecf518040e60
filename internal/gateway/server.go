// Package gateway exposes the booking platform over HTTP: auth flows,
// business and service catalogs, appointments, availability, and role-scoped
// dashboards.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/snagbook/snag/internal/booking"
	"github.com/snagbook/snag/internal/config"
	"github.com/snagbook/snag/internal/domain"
	"github.com/snagbook/snag/internal/logging"
	"github.com/snagbook/snag/internal/metrics"
	"github.com/snagbook/snag/internal/middleware"
	"github.com/snagbook/snag/supabase"
)

// Server wires the HTTP surface to the booking core.
type Server struct {
	cfg    *config.Config
	logger *logging.Logger

	auth         *supabase.AuthClient
	profiles     booking.ProfileRepositoryInterface
	businesses   booking.BusinessRepositoryInterface
	catalog      booking.ServiceRepositoryInterface
	appointments *booking.Service

	authenticator *middleware.Authenticator
	limiter       *middleware.RateLimiter
	cors          *middleware.CORS

	router *mux.Router
	http   *http.Server
}

// Deps bundles the constructor inputs.
type Deps struct {
	Config       *config.Config
	Logger       *logging.Logger
	Auth         *supabase.AuthClient
	Profiles     booking.ProfileRepositoryInterface
	Businesses   booking.BusinessRepositoryInterface
	Catalog      booking.ServiceRepositoryInterface
	Appointments *booking.Service
}

// NewServer builds the gateway with its full middleware chain.
func NewServer(deps Deps) *Server {
	s := &Server{
		cfg:          deps.Config,
		logger:       deps.Logger,
		auth:         deps.Auth,
		profiles:     deps.Profiles,
		businesses:   deps.Businesses,
		catalog:      deps.Catalog,
		appointments: deps.Appointments,
	}

	s.authenticator = middleware.NewAuthenticator(
		middleware.AuthConfig{JWTSecret: deps.Config.Supabase.JWTSecret},
		deps.Auth,
		deps.Profiles,
		deps.Logger,
	)
	s.limiter = middleware.NewRateLimiter(
		deps.Config.RateLimit.RequestsPerSecond,
		deps.Config.RateLimit.Burst,
		deps.Logger,
	)
	s.cors = middleware.NewCORS(deps.Config.Server.AllowedOrigins)

	s.router = mux.NewRouter()
	s.registerRoutes()

	s.http = &http.Server{
		Addr:         deps.Config.Server.Addr,
		Handler:      s.router,
		ReadTimeout:  deps.Config.Server.ReadTimeout.Std(),
		WriteTimeout: deps.Config.Server.WriteTimeout.Std(),
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Router returns the configured router, mainly for tests.
func (s *Server) Router() http.Handler { return s.router }

// =============================================================================
// Routes
// =============================================================================

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(mux.MiddlewareFunc(s.cors.Handler))
	r.Use(middleware.Recovery(s.logger))
	r.Use(middleware.Tracing(s.logger))
	r.Use(middleware.Metrics())
	r.Use(s.authenticator.Middleware)
	r.Use(mux.MiddlewareFunc(s.limiter.Handler))

	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.Handle("/metrics", metrics.Handler()).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()

	// Auth flows are the unauthenticated entry points.
	api.HandleFunc("/auth/signup", s.handleSignUp).Methods("POST")
	api.HandleFunc("/auth/signin", s.handleSignIn).Methods("POST")
	api.HandleFunc("/auth/refresh", s.handleRefresh).Methods("POST")

	authed := api.NewRoute().Subrouter()
	authed.Use(middleware.RequireAuth)
	authed.HandleFunc("/auth/signout", s.handleSignOut).Methods("POST")
	authed.HandleFunc("/auth/session", s.handleSession).Methods("GET")
	authed.HandleFunc("/auth/profile", s.handleUpdateProfile).Methods("PUT")

	// Public catalog browsing.
	api.HandleFunc("/businesses", s.handleListBusinesses).Methods("GET")
	api.HandleFunc("/businesses/{id}", s.handleGetBusiness).Methods("GET")
	api.HandleFunc("/businesses/{id}/services", s.handleListServices).Methods("GET")

	// Business management requires the business role.
	owner := api.NewRoute().Subrouter()
	owner.Use(middleware.RequireRoles(domain.RoleBusiness, domain.RoleAdmin))
	owner.HandleFunc("/businesses", s.handleCreateBusiness).Methods("POST")
	owner.HandleFunc("/businesses/{id}", s.handleUpdateBusiness).Methods("PUT")
	owner.HandleFunc("/businesses/{id}/services", s.handleCreateService).Methods("POST")
	owner.HandleFunc("/services/{id}", s.handleUpdateService).Methods("PUT")
	owner.HandleFunc("/services/{id}", s.handleDeleteService).Methods("DELETE")

	// Appointments: any authenticated role; fine-grained ownership checks
	// live in the booking service.
	appt := api.NewRoute().Subrouter()
	appt.Use(middleware.RequireRoles())
	appt.HandleFunc("/appointments", s.handleListAppointments).Methods("GET")
	appt.HandleFunc("/appointments", s.handleCreateAppointment).Methods("POST")
	appt.HandleFunc("/appointments/{id}", s.handleGetAppointment).Methods("GET")
	appt.HandleFunc("/appointments/{id}/status", s.handleUpdateAppointmentStatus).Methods("PATCH")
	appt.HandleFunc("/appointments/{id}", s.handleDeleteAppointment).Methods("DELETE")
	appt.HandleFunc("/availability", s.handleCheckAvailability).Methods("GET")

	// Role-scoped dashboards.
	api.Handle("/dashboard/client",
		middleware.RequireRoles(domain.RoleClient)(http.HandlerFunc(s.handleClientDashboard))).Methods("GET")
	api.Handle("/dashboard/business",
		middleware.RequireRoles(domain.RoleBusiness)(http.HandlerFunc(s.handleBusinessDashboard))).Methods("GET")
	api.Handle("/dashboard/admin",
		middleware.RequireRoles(domain.RoleAdmin)(http.HandlerFunc(s.handleAdminDashboard))).Methods("GET")
}

// =============================================================================
// Lifecycle
// =============================================================================

// Start begins serving and blocks until the listener fails or is closed.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.http.Addr).Info("gateway listening")
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
