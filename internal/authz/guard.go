// Package authz is the pure authorization predicate layer. Every predicate
// fails closed: nil or unauthenticated principals are always rejected, and no
// predicate ever returns an error.
//
// These predicates run both in the gateway handlers and in the booking
// service. Anything enforced here must also hold behind row-level security in
// the hosted backend; this layer is the service-side check, not the only one.
package authz

import (
	"github.com/snagbook/snag/internal/domain"
)

// CanAccessRoute reports whether profile may enter a route restricted to the
// allowed roles. An empty allowed set admits any authenticated profile.
func CanAccessRoute(profile *domain.Profile, allowed []domain.Role) bool {
	if profile == nil || !profile.Role.Valid() {
		return false
	}
	if len(allowed) == 0 {
		return true
	}
	for _, role := range allowed {
		if profile.Role == role {
			return true
		}
	}
	return false
}

// CanModifyAppointment reports whether the principal may mutate appt.
// Admins may modify anything; clients and businesses only their own side of
// the booking.
func CanModifyAppointment(principalID string, role domain.Role, appt *domain.Appointment) bool {
	if principalID == "" || appt == nil {
		return false
	}
	switch role {
	case domain.RoleAdmin:
		return true
	case domain.RoleClient:
		return appt.ClientID == principalID
	case domain.RoleBusiness:
		return appt.BusinessID == principalID
	}
	return false
}

// CanViewAppointment reports whether the principal may read appt. The rule is
// the same ownership anchor as modification.
func CanViewAppointment(principalID string, role domain.Role, appt *domain.Appointment) bool {
	return CanModifyAppointment(principalID, role, appt)
}
