package booking

import (
	"context"
	"fmt"

	"github.com/snagbook/snag/internal/authz"
	"github.com/snagbook/snag/internal/domain"
	"github.com/snagbook/snag/internal/errors"
	"github.com/snagbook/snag/internal/logging"
	"github.com/snagbook/snag/internal/metrics"
)

// Service orchestrates appointment operations: availability, booking, status
// transitions, and ownership checks. All authorization decisions here are
// re-made server-side regardless of what the caller claims.
type Service struct {
	profiles     ProfileRepositoryInterface
	businesses   BusinessRepositoryInterface
	catalog      ServiceRepositoryInterface
	appointments AppointmentRepositoryInterface
	notifier     Notifier
	logger       *logging.Logger
}

// NewService wires the booking service. notifier may be nil to disable
// notifications.
func NewService(
	profiles ProfileRepositoryInterface,
	businesses BusinessRepositoryInterface,
	catalog ServiceRepositoryInterface,
	appointments AppointmentRepositoryInterface,
	notifier Notifier,
	logger *logging.Logger,
) *Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Service{
		profiles:     profiles,
		businesses:   businesses,
		catalog:      catalog,
		appointments: appointments,
		notifier:     notifier,
		logger:       logger,
	}
}

// Availability is the result of a slot check.
type Availability struct {
	Available bool   `json:"available"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	// Conflicts lists the appointment ids blocking the slot.
	Conflicts []string `json:"conflicts,omitempty"`
}

// CheckAvailability computes the requested slot's end from the service
// duration and tests it against the business's non-cancelled bookings on that
// date. Intervals are half-open: a booking ending at 10:00 does not block a
// slot starting at 10:00.
func (s *Service) CheckAvailability(ctx context.Context, businessID, serviceID, date, startTime string) (*Availability, error) {
	if err := validateDate(date); err != nil {
		return nil, errors.Validation(err.Error())
	}
	start, err := parseClock(startTime)
	if err != nil {
		return nil, errors.Validation(err.Error())
	}

	svc, err := s.catalog.GetByID(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if svc.BusinessID != businessID {
		return nil, errors.Validation("service does not belong to business")
	}

	end := start + svc.DurationMinutes
	if end > 24*60 {
		return nil, errors.Validation("appointment does not fit within the day")
	}

	existing, err := s.appointments.ListActiveForDay(ctx, businessID, date)
	if err != nil {
		return nil, err
	}

	result := &Availability{
		Available: true,
		StartTime: formatClock(start),
		EndTime:   formatClock(end),
	}
	for _, appt := range existing {
		otherStart, err := parseClock(appt.StartTime)
		if err != nil {
			continue
		}
		otherEnd, err := parseClock(appt.EndTime)
		if err != nil {
			continue
		}
		if overlaps(start, end, otherStart, otherEnd) {
			result.Available = false
			result.Conflicts = append(result.Conflicts, appt.ID)
		}
	}
	return result, nil
}

// CreateRequest carries the fields a caller supplies when booking.
type CreateRequest struct {
	ClientID   string `json:"client_id,omitempty"`
	BusinessID string `json:"business_id"`
	ServiceID  string `json:"service_id"`
	Date       string `json:"date"`
	StartTime  string `json:"start_time"`
	Notes      string `json:"notes,omitempty"`
}

// Create books an appointment. Non-admin callers always book for themselves;
// only admins may supply a different client_id. The slot is re-checked at
// booking time, though two racing creates can still both pass the check
// (true exclusion needs a database constraint).
func (s *Service) Create(ctx context.Context, principal *domain.Profile, req CreateRequest) (*domain.Appointment, error) {
	if principal == nil {
		return nil, errors.Unauthorized("not signed in")
	}
	if req.BusinessID == "" || req.ServiceID == "" {
		return nil, errors.Validation("business_id and service_id are required")
	}

	clientID := principal.ID
	if req.ClientID != "" && req.ClientID != principal.ID {
		if principal.Role != domain.RoleAdmin {
			return nil, errors.Forbidden("cannot book on behalf of another client")
		}
		clientID = req.ClientID
	}

	avail, err := s.CheckAvailability(ctx, req.BusinessID, req.ServiceID, req.Date, req.StartTime)
	if err != nil {
		return nil, err
	}
	if !avail.Available {
		metrics.RecordSlotConflict()
		return nil, errors.SlotUnavailable(fmt.Sprintf("slot %s %s is already booked", req.Date, avail.StartTime)).
			WithDetails("conflicts", avail.Conflicts)
	}

	appt, err := s.appointments.Create(ctx, &domain.Appointment{
		ClientID:   clientID,
		BusinessID: req.BusinessID,
		ServiceID:  req.ServiceID,
		Date:       req.Date,
		StartTime:  avail.StartTime,
		EndTime:    avail.EndTime,
		Status:     domain.StatusPending,
		Notes:      req.Notes,
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordAppointmentCreated()
	s.logger.WithFields(map[string]interface{}{
		"appointment_id": appt.ID,
		"business_id":    appt.BusinessID,
		"client_id":      appt.ClientID,
		"date":           appt.Date,
	}).Info("appointment created")
	s.notifier.AppointmentCreated(ctx, appt)
	return appt, nil
}

// Get returns an appointment the principal is allowed to see.
func (s *Service) Get(ctx context.Context, principal *domain.Profile, id string) (*domain.Appointment, error) {
	if principal == nil {
		return nil, errors.Unauthorized("not signed in")
	}
	appt, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.canView(ctx, principal, appt) {
		// Hide existence from unrelated parties.
		return nil, errors.NotFound("appointment", id)
	}
	return appt, nil
}

// UpdateStatus transitions an appointment's status, enforcing both ownership
// and the legal transition graph.
func (s *Service) UpdateStatus(ctx context.Context, principal *domain.Profile, id string, to domain.AppointmentStatus, notes string) (*domain.Appointment, error) {
	if principal == nil {
		return nil, errors.Unauthorized("not signed in")
	}

	appt, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.canModify(ctx, principal, appt) {
		return nil, errors.Forbidden("not allowed to modify this appointment")
	}
	if appt.Status == to {
		return appt, nil
	}
	if !appt.Status.CanTransition(to) {
		return nil, errors.Conflict(fmt.Sprintf("cannot change status from %s to %s", appt.Status, to))
	}

	patch := map[string]any{"status": to.String()}
	if notes != "" {
		patch["notes"] = notes
	}
	from := appt.Status
	updated, err := s.appointments.Update(ctx, id, patch)
	if err != nil {
		return nil, err
	}

	metrics.RecordStatusTransition(to.String())
	s.logger.WithFields(map[string]interface{}{
		"appointment_id": id,
		"from":           from.String(),
		"to":             to.String(),
	}).Info("appointment status changed")
	s.notifier.AppointmentStatusChanged(ctx, updated, from)
	return updated, nil
}

// Delete removes an appointment outright. Ownership rules match status
// updates; most callers should prefer cancelling.
func (s *Service) Delete(ctx context.Context, principal *domain.Profile, id string) error {
	if principal == nil {
		return errors.Unauthorized("not signed in")
	}

	appt, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !s.canModify(ctx, principal, appt) {
		return errors.Forbidden("not allowed to delete this appointment")
	}
	return s.appointments.Delete(ctx, id)
}

// ListForPrincipal returns the appointments the principal's role entitles
// them to: clients see their own bookings, business owners see bookings
// across their businesses, admins see everything.
func (s *Service) ListForPrincipal(ctx context.Context, principal *domain.Profile) ([]domain.Appointment, error) {
	if principal == nil {
		return nil, errors.Unauthorized("not signed in")
	}

	switch principal.Role {
	case domain.RoleClient:
		return s.appointments.ListByClient(ctx, principal.ID)
	case domain.RoleBusiness:
		owned, err := s.businesses.ListByOwner(ctx, principal.ID)
		if err != nil {
			return nil, err
		}
		var out []domain.Appointment
		for _, b := range owned {
			appts, err := s.appointments.ListByBusiness(ctx, b.ID)
			if err != nil {
				return nil, err
			}
			out = append(out, appts...)
		}
		return out, nil
	case domain.RoleAdmin:
		return s.appointments.ListAll(ctx, 0, 0)
	default:
		return nil, errors.Forbidden("unknown role")
	}
}

// ownsBusiness reports whether the principal owns the appointment's business.
func (s *Service) ownsBusiness(ctx context.Context, principal *domain.Profile, businessID string) bool {
	business, err := s.businesses.GetByID(ctx, businessID)
	if err != nil {
		return false
	}
	return business.OwnerID == principal.ID
}

// The guard works on business identity; a business principal qualifies when
// they own the appointment's business. The resolution happens here so the
// guard itself stays pure.
func (s *Service) canModify(ctx context.Context, principal *domain.Profile, appt *domain.Appointment) bool {
	if principal.Role == domain.RoleBusiness {
		if !s.ownsBusiness(ctx, principal, appt.BusinessID) {
			return false
		}
		owned := *appt
		return authz.CanModifyAppointment(appt.BusinessID, principal.Role, &owned)
	}
	return authz.CanModifyAppointment(principal.ID, principal.Role, appt)
}

func (s *Service) canView(ctx context.Context, principal *domain.Profile, appt *domain.Appointment) bool {
	if principal.Role == domain.RoleBusiness {
		if !s.ownsBusiness(ctx, principal, appt.BusinessID) {
			return false
		}
		owned := *appt
		return authz.CanViewAppointment(appt.BusinessID, principal.Role, &owned)
	}
	return authz.CanViewAppointment(principal.ID, principal.Role, appt)
}
