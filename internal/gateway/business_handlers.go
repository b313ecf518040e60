package gateway

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/snagbook/snag/internal/domain"
	"github.com/snagbook/snag/internal/errors"
	"github.com/snagbook/snag/internal/httputil"
	"github.com/snagbook/snag/internal/middleware"
)

func (s *Server) handleListBusinesses(w http.ResponseWriter, r *http.Request) {
	businesses, err := s.businesses.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, businesses)
}

func (s *Server) handleGetBusiness(w http.ResponseWriter, r *http.Request) {
	business, err := s.businesses.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, business)
}

type businessInput struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Address     string `json:"address,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Email       string `json:"email,omitempty"`
	LogoURL     string `json:"logo_url,omitempty"`
}

func (s *Server) handleCreateBusiness(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.RequirePrincipal(w, r)
	if !ok {
		return
	}

	var input businessInput
	if !httputil.DecodeJSON(w, r, &input) {
		return
	}
	input.Name = strings.TrimSpace(input.Name)
	if input.Name == "" {
		httputil.BadRequest(w, "name required")
		return
	}

	business, err := s.businesses.Create(r.Context(), &domain.Business{
		Name:        input.Name,
		Description: input.Description,
		Address:     input.Address,
		Phone:       input.Phone,
		Email:       input.Email,
		LogoURL:     input.LogoURL,
		OwnerID:     principal.ID,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, business)
}

func (s *Server) handleUpdateBusiness(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.RequirePrincipal(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]

	existing, err := s.businesses.GetByID(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if existing.OwnerID != principal.ID && principal.Role != domain.RoleAdmin {
		s.writeError(w, r, errors.Forbidden("not the business owner"))
		return
	}

	var input businessInput
	if !httputil.DecodeJSON(w, r, &input) {
		return
	}
	if input.Name != "" {
		existing.Name = strings.TrimSpace(input.Name)
	}
	if input.Description != "" {
		existing.Description = input.Description
	}
	if input.Address != "" {
		existing.Address = input.Address
	}
	if input.Phone != "" {
		existing.Phone = input.Phone
	}
	if input.Email != "" {
		existing.Email = input.Email
	}
	if input.LogoURL != "" {
		existing.LogoURL = input.LogoURL
	}

	updated, err := s.businesses.Update(r.Context(), existing)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

// =============================================================================
// Service catalog
// =============================================================================

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	services, err := s.catalog.ListByBusiness(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, services)
}

type serviceInput struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Duration    int     `json:"duration"`
	Price       float64 `json:"price"`
}

func (s *Server) handleCreateService(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.RequirePrincipal(w, r)
	if !ok {
		return
	}
	businessID := mux.Vars(r)["id"]

	if ok, err := s.ownsBusiness(r, principal, businessID); err != nil {
		s.writeError(w, r, err)
		return
	} else if !ok {
		s.writeError(w, r, errors.Forbidden("not the business owner"))
		return
	}

	var input serviceInput
	if !httputil.DecodeJSON(w, r, &input) {
		return
	}
	if strings.TrimSpace(input.Name) == "" || input.Duration <= 0 {
		httputil.BadRequest(w, "name and positive duration required")
		return
	}

	service, err := s.catalog.Create(r.Context(), &domain.Service{
		BusinessID:      businessID,
		Name:            strings.TrimSpace(input.Name),
		Description:     input.Description,
		DurationMinutes: input.Duration,
		Price:           input.Price,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, service)
}

func (s *Server) handleUpdateService(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.RequirePrincipal(w, r)
	if !ok {
		return
	}

	service, err := s.catalog.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if ok, err := s.ownsBusiness(r, principal, service.BusinessID); err != nil {
		s.writeError(w, r, err)
		return
	} else if !ok {
		s.writeError(w, r, errors.Forbidden("not the business owner"))
		return
	}

	var input serviceInput
	if !httputil.DecodeJSON(w, r, &input) {
		return
	}
	if input.Name != "" {
		service.Name = strings.TrimSpace(input.Name)
	}
	if input.Description != "" {
		service.Description = input.Description
	}
	if input.Duration > 0 {
		service.DurationMinutes = input.Duration
	}
	if input.Price > 0 {
		service.Price = input.Price
	}

	updated, err := s.catalog.Update(r.Context(), service)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteService(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.RequirePrincipal(w, r)
	if !ok {
		return
	}

	service, err := s.catalog.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if ok, err := s.ownsBusiness(r, principal, service.BusinessID); err != nil {
		s.writeError(w, r, err)
		return
	} else if !ok {
		s.writeError(w, r, errors.Forbidden("not the business owner"))
		return
	}

	if err := s.catalog.Delete(r.Context(), service.ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) ownsBusiness(r *http.Request, principal *domain.Profile, businessID string) (bool, error) {
	if principal.Role == domain.RoleAdmin {
		return true, nil
	}
	business, err := s.businesses.GetByID(r.Context(), businessID)
	if err != nil {
		return false, err
	}
	return business.OwnerID == principal.ID, nil
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	se := errors.GetServiceError(err)
	if se == nil || se.Code == errors.CodeInternal {
		s.logger.WithContext(r.Context()).WithError(err).Error("request failed")
	}
	httputil.WriteServiceError(w, r, err)
}
