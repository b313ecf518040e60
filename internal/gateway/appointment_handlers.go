package gateway

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/snagbook/snag/internal/booking"
	"github.com/snagbook/snag/internal/domain"
	"github.com/snagbook/snag/internal/httputil"
	"github.com/snagbook/snag/internal/middleware"
)

func (s *Server) handleListAppointments(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.RequirePrincipal(w, r)
	if !ok {
		return
	}
	appointments, err := s.appointments.ListForPrincipal(r.Context(), principal)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if appointments == nil {
		appointments = []domain.Appointment{}
	}
	httputil.WriteJSON(w, http.StatusOK, appointments)
}

func (s *Server) handleCreateAppointment(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.RequirePrincipal(w, r)
	if !ok {
		return
	}

	var req booking.CreateRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	appt, err := s.appointments.Create(r.Context(), principal, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, appt)
}

func (s *Server) handleGetAppointment(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.RequirePrincipal(w, r)
	if !ok {
		return
	}
	appt, err := s.appointments.Get(r.Context(), principal, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, appt)
}

type statusUpdateRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes,omitempty"`
}

func (s *Server) handleUpdateAppointmentStatus(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.RequirePrincipal(w, r)
	if !ok {
		return
	}

	var req statusUpdateRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	status, err := domain.ParseStatus(req.Status)
	if err != nil {
		httputil.BadRequest(w, "status must be pending, confirmed, cancelled, or completed")
		return
	}

	appt, err := s.appointments.UpdateStatus(r.Context(), principal, mux.Vars(r)["id"], status, req.Notes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, appt)
}

func (s *Server) handleDeleteAppointment(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.RequirePrincipal(w, r)
	if !ok {
		return
	}
	if err := s.appointments.Delete(r.Context(), principal, mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCheckAvailability answers whether a slot is free:
// GET /api/availability?business_id=&service_id=&date=&start_time=
func (s *Server) handleCheckAvailability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	businessID := q.Get("business_id")
	serviceID := q.Get("service_id")
	date := q.Get("date")
	startTime := q.Get("start_time")
	if businessID == "" || serviceID == "" || date == "" || startTime == "" {
		httputil.BadRequest(w, "business_id, service_id, date, and start_time are required")
		return
	}

	avail, err := s.appointments.CheckAvailability(r.Context(), businessID, serviceID, date, startTime)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, avail)
}
