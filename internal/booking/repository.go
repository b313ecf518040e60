// Package booking implements the appointment domain: profile, business,
// service, and appointment persistence plus the scheduling rules layered on
// top of them.
package booking

import (
	"context"
	"fmt"

	"github.com/snagbook/snag/internal/domain"
	"github.com/snagbook/snag/internal/errors"
	"github.com/snagbook/snag/supabase"
)

const (
	tableProfiles     = "profiles"
	tableBusinesses   = "businesses"
	tableServices     = "services"
	tableAppointments = "appointments"
)

// ProfileRepositoryInterface defines profile data access. The interface
// exists for mocking in tests.
type ProfileRepositoryInterface interface {
	GetByID(ctx context.Context, id string) (*domain.Profile, error)
	EnsureProfile(ctx context.Context, profile *domain.Profile) (*domain.Profile, error)
	Update(ctx context.Context, id string, patch map[string]any) (*domain.Profile, error)
	ListByRole(ctx context.Context, role domain.Role) ([]domain.Profile, error)
}

var _ ProfileRepositoryInterface = (*ProfileRepository)(nil)

// ProfileRepository provides profile data access over PostgREST.
type ProfileRepository struct {
	client *supabase.Client
}

func NewProfileRepository(client *supabase.Client) *ProfileRepository {
	return &ProfileRepository{client: client}
}

func (r *ProfileRepository) GetByID(ctx context.Context, id string) (*domain.Profile, error) {
	if id == "" {
		return nil, errors.Validation("profile id cannot be empty")
	}

	resp, err := r.client.From(tableProfiles).Select("*").Eq("id", id).Single().Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	if resp.IsNotFound() {
		return nil, errors.ProfileNotFound(id)
	}
	if err := resp.Err(); err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}

	var profile domain.Profile
	if err := resp.JSON(&profile); err != nil {
		return nil, fmt.Errorf("unmarshal profile: %w", err)
	}
	return &profile, nil
}

// EnsureProfile inserts the profile if absent and is a no-op for an existing
// row with the same id, making two-step account provisioning safe to retry.
func (r *ProfileRepository) EnsureProfile(ctx context.Context, profile *domain.Profile) (*domain.Profile, error) {
	if profile == nil {
		return nil, errors.Validation("profile cannot be nil")
	}
	if profile.ID == "" {
		return nil, errors.Validation("profile id cannot be empty")
	}
	if !profile.Role.Valid() {
		return nil, errors.Validation("invalid profile role")
	}

	resp, err := r.client.From(tableProfiles).OnConflict("id").ExecuteUpsert(ctx, profile)
	if err != nil {
		return nil, fmt.Errorf("ensure profile: %w", err)
	}
	if err := resp.Err(); err != nil {
		return nil, fmt.Errorf("ensure profile: %w", err)
	}

	var rows []domain.Profile
	if err := resp.JSON(&rows); err != nil {
		return nil, fmt.Errorf("unmarshal profiles: %w", err)
	}
	if len(rows) == 0 {
		return profile, nil
	}
	return &rows[0], nil
}

// Update patches mutable profile fields (full_name, avatar_url).
func (r *ProfileRepository) Update(ctx context.Context, id string, patch map[string]any) (*domain.Profile, error) {
	if id == "" {
		return nil, errors.Validation("profile id cannot be empty")
	}
	if len(patch) == 0 {
		return nil, errors.Validation("patch cannot be empty")
	}

	resp, err := r.client.From(tableProfiles).Eq("id", id).ExecuteUpdate(ctx, patch)
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	if err := resp.Err(); err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}

	var rows []domain.Profile
	if err := resp.JSON(&rows); err != nil {
		return nil, fmt.Errorf("unmarshal profiles: %w", err)
	}
	if len(rows) == 0 {
		return nil, errors.ProfileNotFound(id)
	}
	return &rows[0], nil
}

func (r *ProfileRepository) ListByRole(ctx context.Context, role domain.Role) ([]domain.Profile, error) {
	if !role.Valid() {
		return nil, errors.Validation("invalid role")
	}

	resp, err := r.client.From(tableProfiles).Select("*").Eq("role", role.String()).
		Order("created_at", false).Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	if err := resp.Err(); err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}

	var rows []domain.Profile
	if err := resp.JSON(&rows); err != nil {
		return nil, fmt.Errorf("unmarshal profiles: %w", err)
	}
	return rows, nil
}

// BusinessRepositoryInterface defines business data access.
type BusinessRepositoryInterface interface {
	Create(ctx context.Context, business *domain.Business) (*domain.Business, error)
	GetByID(ctx context.Context, id string) (*domain.Business, error)
	List(ctx context.Context) ([]domain.Business, error)
	ListByOwner(ctx context.Context, ownerID string) ([]domain.Business, error)
	Update(ctx context.Context, business *domain.Business) (*domain.Business, error)
}

var _ BusinessRepositoryInterface = (*BusinessRepository)(nil)

// BusinessRepository provides business data access over PostgREST.
type BusinessRepository struct {
	client *supabase.Client
}

func NewBusinessRepository(client *supabase.Client) *BusinessRepository {
	return &BusinessRepository{client: client}
}

func (r *BusinessRepository) Create(ctx context.Context, business *domain.Business) (*domain.Business, error) {
	if business == nil {
		return nil, errors.Validation("business cannot be nil")
	}
	if business.Name == "" {
		return nil, errors.Validation("business name cannot be empty")
	}
	if business.OwnerID == "" {
		return nil, errors.Validation("business owner cannot be empty")
	}

	resp, err := r.client.From(tableBusinesses).ExecuteInsert(ctx, business)
	if err != nil {
		return nil, fmt.Errorf("create business: %w", err)
	}
	if err := resp.Err(); err != nil {
		return nil, fmt.Errorf("create business: %w", err)
	}
	return firstRow[domain.Business](resp, "businesses")
}

func (r *BusinessRepository) GetByID(ctx context.Context, id string) (*domain.Business, error) {
	if id == "" {
		return nil, errors.Validation("business id cannot be empty")
	}

	resp, err := r.client.From(tableBusinesses).Select("*").Eq("id", id).Single().Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("get business: %w", err)
	}
	if resp.IsNotFound() {
		return nil, errors.NotFound("business", id)
	}
	if err := resp.Err(); err != nil {
		return nil, fmt.Errorf("get business: %w", err)
	}

	var business domain.Business
	if err := resp.JSON(&business); err != nil {
		return nil, fmt.Errorf("unmarshal business: %w", err)
	}
	return &business, nil
}

func (r *BusinessRepository) List(ctx context.Context) ([]domain.Business, error) {
	resp, err := r.client.From(tableBusinesses).Select("*").Order("name", true).Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("list businesses: %w", err)
	}
	if err := resp.Err(); err != nil {
		return nil, fmt.Errorf("list businesses: %w", err)
	}

	var rows []domain.Business
	if err := resp.JSON(&rows); err != nil {
		return nil, fmt.Errorf("unmarshal businesses: %w", err)
	}
	return rows, nil
}

func (r *BusinessRepository) ListByOwner(ctx context.Context, ownerID string) ([]domain.Business, error) {
	if ownerID == "" {
		return nil, errors.Validation("owner id cannot be empty")
	}

	resp, err := r.client.From(tableBusinesses).Select("*").Eq("owner_id", ownerID).
		Order("created_at", false).Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("list businesses by owner: %w", err)
	}
	if err := resp.Err(); err != nil {
		return nil, fmt.Errorf("list businesses by owner: %w", err)
	}

	var rows []domain.Business
	if err := resp.JSON(&rows); err != nil {
		return nil, fmt.Errorf("unmarshal businesses: %w", err)
	}
	return rows, nil
}

func (r *BusinessRepository) Update(ctx context.Context, business *domain.Business) (*domain.Business, error) {
	if business == nil {
		return nil, errors.Validation("business cannot be nil")
	}
	if business.ID == "" {
		return nil, errors.Validation("business id cannot be empty")
	}

	resp, err := r.client.From(tableBusinesses).Eq("id", business.ID).ExecuteUpdate(ctx, business)
	if err != nil {
		return nil, fmt.Errorf("update business: %w", err)
	}
	if err := resp.Err(); err != nil {
		return nil, fmt.Errorf("update business: %w", err)
	}
	return firstRow[domain.Business](resp, "businesses")
}

// ServiceRepositoryInterface defines service-catalog data access.
type ServiceRepositoryInterface interface {
	Create(ctx context.Context, service *domain.Service) (*domain.Service, error)
	GetByID(ctx context.Context, id string) (*domain.Service, error)
	ListByBusiness(ctx context.Context, businessID string) ([]domain.Service, error)
	Update(ctx context.Context, service *domain.Service) (*domain.Service, error)
	Delete(ctx context.Context, id string) error
}

var _ ServiceRepositoryInterface = (*ServiceRepository)(nil)

// ServiceRepository provides service-catalog data access over PostgREST.
type ServiceRepository struct {
	client *supabase.Client
}

func NewServiceRepository(client *supabase.Client) *ServiceRepository {
	return &ServiceRepository{client: client}
}

func (r *ServiceRepository) Create(ctx context.Context, service *domain.Service) (*domain.Service, error) {
	if service == nil {
		return nil, errors.Validation("service cannot be nil")
	}
	if service.BusinessID == "" {
		return nil, errors.Validation("service business id cannot be empty")
	}
	if service.DurationMinutes <= 0 {
		return nil, errors.Validation("service duration must be positive")
	}

	resp, err := r.client.From(tableServices).ExecuteInsert(ctx, service)
	if err != nil {
		return nil, fmt.Errorf("create service: %w", err)
	}
	if err := resp.Err(); err != nil {
		return nil, fmt.Errorf("create service: %w", err)
	}
	return firstRow[domain.Service](resp, "services")
}

func (r *ServiceRepository) GetByID(ctx context.Context, id string) (*domain.Service, error) {
	if id == "" {
		return nil, errors.Validation("service id cannot be empty")
	}

	resp, err := r.client.From(tableServices).Select("*").Eq("id", id).Single().Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("get service: %w", err)
	}
	if resp.IsNotFound() {
		return nil, errors.NotFound("service", id)
	}
	if err := resp.Err(); err != nil {
		return nil, fmt.Errorf("get service: %w", err)
	}

	var service domain.Service
	if err := resp.JSON(&service); err != nil {
		return nil, fmt.Errorf("unmarshal service: %w", err)
	}
	return &service, nil
}

func (r *ServiceRepository) ListByBusiness(ctx context.Context, businessID string) ([]domain.Service, error) {
	if businessID == "" {
		return nil, errors.Validation("business id cannot be empty")
	}

	resp, err := r.client.From(tableServices).Select("*").Eq("business_id", businessID).
		Order("name", true).Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	if err := resp.Err(); err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}

	var rows []domain.Service
	if err := resp.JSON(&rows); err != nil {
		return nil, fmt.Errorf("unmarshal services: %w", err)
	}
	return rows, nil
}

func (r *ServiceRepository) Update(ctx context.Context, service *domain.Service) (*domain.Service, error) {
	if service == nil {
		return nil, errors.Validation("service cannot be nil")
	}
	if service.ID == "" {
		return nil, errors.Validation("service id cannot be empty")
	}

	resp, err := r.client.From(tableServices).Eq("id", service.ID).ExecuteUpdate(ctx, service)
	if err != nil {
		return nil, fmt.Errorf("update service: %w", err)
	}
	if err := resp.Err(); err != nil {
		return nil, fmt.Errorf("update service: %w", err)
	}
	return firstRow[domain.Service](resp, "services")
}

func (r *ServiceRepository) Delete(ctx context.Context, id string) error {
	if id == "" {
		return errors.Validation("service id cannot be empty")
	}

	resp, err := r.client.From(tableServices).Eq("id", id).ExecuteDelete(ctx)
	if err != nil {
		return fmt.Errorf("delete service: %w", err)
	}
	if err := resp.Err(); err != nil {
		return fmt.Errorf("delete service: %w", err)
	}
	return nil
}

// AppointmentRepositoryInterface defines appointment data access.
type AppointmentRepositoryInterface interface {
	Create(ctx context.Context, appt *domain.Appointment) (*domain.Appointment, error)
	GetByID(ctx context.Context, id string) (*domain.Appointment, error)
	Update(ctx context.Context, id string, patch map[string]any) (*domain.Appointment, error)
	Delete(ctx context.Context, id string) error
	ListByClient(ctx context.Context, clientID string) ([]domain.Appointment, error)
	ListByBusiness(ctx context.Context, businessID string) ([]domain.Appointment, error)
	ListAll(ctx context.Context, limit, offset int) ([]domain.Appointment, error)
	ListActiveForDay(ctx context.Context, businessID, date string) ([]domain.Appointment, error)
	ListStatusBefore(ctx context.Context, status domain.AppointmentStatus, date string) ([]domain.Appointment, error)
}

var _ AppointmentRepositoryInterface = (*AppointmentRepository)(nil)

// AppointmentRepository provides appointment data access over PostgREST.
type AppointmentRepository struct {
	client *supabase.Client
}

func NewAppointmentRepository(client *supabase.Client) *AppointmentRepository {
	return &AppointmentRepository{client: client}
}

func (r *AppointmentRepository) Create(ctx context.Context, appt *domain.Appointment) (*domain.Appointment, error) {
	if appt == nil {
		return nil, errors.Validation("appointment cannot be nil")
	}

	resp, err := r.client.From(tableAppointments).ExecuteInsert(ctx, appt)
	if err != nil {
		return nil, fmt.Errorf("create appointment: %w", err)
	}
	if err := resp.Err(); err != nil {
		return nil, fmt.Errorf("create appointment: %w", err)
	}
	return firstRow[domain.Appointment](resp, "appointments")
}

func (r *AppointmentRepository) GetByID(ctx context.Context, id string) (*domain.Appointment, error) {
	if id == "" {
		return nil, errors.Validation("appointment id cannot be empty")
	}

	resp, err := r.client.From(tableAppointments).Select("*").Eq("id", id).Single().Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	if resp.IsNotFound() {
		return nil, errors.NotFound("appointment", id)
	}
	if err := resp.Err(); err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}

	var appt domain.Appointment
	if err := resp.JSON(&appt); err != nil {
		return nil, fmt.Errorf("unmarshal appointment: %w", err)
	}
	return &appt, nil
}

// Update applies a partial patch so unrelated columns written by concurrent
// writers are not clobbered.
func (r *AppointmentRepository) Update(ctx context.Context, id string, patch map[string]any) (*domain.Appointment, error) {
	if id == "" {
		return nil, errors.Validation("appointment id cannot be empty")
	}
	if len(patch) == 0 {
		return nil, errors.Validation("empty appointment patch")
	}

	resp, err := r.client.From(tableAppointments).Eq("id", id).ExecuteUpdate(ctx, patch)
	if err != nil {
		return nil, fmt.Errorf("update appointment: %w", err)
	}
	if err := resp.Err(); err != nil {
		return nil, fmt.Errorf("update appointment: %w", err)
	}
	return firstRow[domain.Appointment](resp, "appointments")
}

func (r *AppointmentRepository) Delete(ctx context.Context, id string) error {
	if id == "" {
		return errors.Validation("appointment id cannot be empty")
	}

	resp, err := r.client.From(tableAppointments).Eq("id", id).ExecuteDelete(ctx)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	if err := resp.Err(); err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	return nil
}

func (r *AppointmentRepository) ListByClient(ctx context.Context, clientID string) ([]domain.Appointment, error) {
	if clientID == "" {
		return nil, errors.Validation("client id cannot be empty")
	}
	return r.list(ctx, r.client.From(tableAppointments).Select("*").Eq("client_id", clientID).
		Order("date", false).Order("start_time", false))
}

func (r *AppointmentRepository) ListByBusiness(ctx context.Context, businessID string) ([]domain.Appointment, error) {
	if businessID == "" {
		return nil, errors.Validation("business id cannot be empty")
	}
	return r.list(ctx, r.client.From(tableAppointments).Select("*").Eq("business_id", businessID).
		Order("date", false).Order("start_time", false))
}

func (r *AppointmentRepository) ListAll(ctx context.Context, limit, offset int) ([]domain.Appointment, error) {
	q := r.client.From(tableAppointments).Select("*").Order("date", false).Order("start_time", false)
	if limit > 0 {
		q = q.Limit(limit).Offset(offset)
	}
	return r.list(ctx, q)
}

// ListActiveForDay returns the non-cancelled appointments for a business on
// a date; this is the conflict set for availability checks.
func (r *AppointmentRepository) ListActiveForDay(ctx context.Context, businessID, date string) ([]domain.Appointment, error) {
	if businessID == "" {
		return nil, errors.Validation("business id cannot be empty")
	}
	if date == "" {
		return nil, errors.Validation("date cannot be empty")
	}
	return r.list(ctx, r.client.From(tableAppointments).Select("*").
		Eq("business_id", businessID).
		Eq("date", date).
		Neq("status", domain.StatusCancelled.String()).
		Order("start_time", true))
}

// ListStatusBefore returns appointments in the given status dated strictly
// before the given day; the maintenance sweeper uses it to retire stale rows.
func (r *AppointmentRepository) ListStatusBefore(ctx context.Context, status domain.AppointmentStatus, date string) ([]domain.Appointment, error) {
	if date == "" {
		return nil, errors.Validation("date cannot be empty")
	}
	return r.list(ctx, r.client.From(tableAppointments).Select("*").
		Eq("status", status.String()).
		Lt("date", date).
		Order("date", true))
}

func (r *AppointmentRepository) list(ctx context.Context, q *supabase.QueryBuilder) ([]domain.Appointment, error) {
	resp, err := q.Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	if err := resp.Err(); err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}

	var rows []domain.Appointment
	if err := resp.JSON(&rows); err != nil {
		return nil, fmt.Errorf("unmarshal appointments: %w", err)
	}
	return rows, nil
}

// firstRow extracts the representation returned by a PostgREST write.
func firstRow[T any](resp *supabase.Response, table string) (*T, error) {
	var rows []T
	if err := resp.JSON(&rows); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", table, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: write returned no representation", table)
	}
	return &rows[0], nil
}
