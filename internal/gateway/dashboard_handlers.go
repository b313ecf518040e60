package gateway

import (
	"net/http"

	"github.com/snagbook/snag/internal/domain"
	"github.com/snagbook/snag/internal/httputil"
	"github.com/snagbook/snag/internal/middleware"
)

// Dashboards aggregate what each role lands on after sign-in. They reuse the
// same repositories as the CRUD routes; there is no separate read model.

func (s *Server) handleClientDashboard(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.RequirePrincipal(w, r)
	if !ok {
		return
	}

	appointments, err := s.appointments.ListForPrincipal(r.Context(), principal)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	businesses, err := s.businesses.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"profile":      principal,
		"appointments": appointments,
		"businesses":   businesses,
	})
}

func (s *Server) handleBusinessDashboard(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.RequirePrincipal(w, r)
	if !ok {
		return
	}

	businesses, err := s.businesses.ListByOwner(r.Context(), principal.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	appointments, err := s.appointments.ListForPrincipal(r.Context(), principal)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var pending, confirmed int
	for _, appt := range appointments {
		switch appt.Status {
		case domain.StatusPending:
			pending++
		case domain.StatusConfirmed:
			confirmed++
		}
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"profile":      principal,
		"businesses":   businesses,
		"appointments": appointments,
		"stats": map[string]int{
			"pending":   pending,
			"confirmed": confirmed,
			"total":     len(appointments),
		},
	})
}

func (s *Server) handleAdminDashboard(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.RequirePrincipal(w, r)
	if !ok {
		return
	}

	appointments, err := s.appointments.ListForPrincipal(r.Context(), principal)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	businesses, err := s.businesses.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	clients, err := s.profiles.ListByRole(r.Context(), domain.RoleClient)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	owners, err := s.profiles.ListByRole(r.Context(), domain.RoleBusiness)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	byStatus := make(map[string]int)
	for _, appt := range appointments {
		byStatus[appt.Status.String()]++
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"stats": map[string]any{
			"appointments":           len(appointments),
			"appointments_by_status": byStatus,
			"businesses":             len(businesses),
			"clients":                len(clients),
			"business_owners":        len(owners),
		},
		"appointments": appointments,
		"businesses":   businesses,
	})
}
