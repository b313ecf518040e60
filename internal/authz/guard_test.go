package authz

import (
	"testing"

	"github.com/snagbook/snag/internal/domain"
)

func profileWithRole(role domain.Role) *domain.Profile {
	return &domain.Profile{ID: "p1", Email: "p1@example.com", Role: role}
}

func TestCanAccessRouteNilProfile(t *testing.T) {
	if CanAccessRoute(nil, nil) {
		t.Fatal("nil profile must be rejected")
	}
	if CanAccessRoute(nil, []domain.Role{domain.RoleClient}) {
		t.Fatal("nil profile must be rejected for restricted routes")
	}
}

func TestCanAccessRouteEmptyAllowedSet(t *testing.T) {
	for _, role := range domain.AllRoles {
		if !CanAccessRoute(profileWithRole(role), nil) {
			t.Fatalf("role %s should access unrestricted route", role)
		}
	}
}

func TestCanAccessRouteMembership(t *testing.T) {
	tests := []struct {
		name    string
		role    domain.Role
		allowed []domain.Role
		want    bool
	}{
		{"client on client route", domain.RoleClient, []domain.Role{domain.RoleClient}, true},
		{"client on business route", domain.RoleClient, []domain.Role{domain.RoleBusiness}, false},
		{"business on business route", domain.RoleBusiness, []domain.Role{domain.RoleBusiness}, true},
		{"business on admin route", domain.RoleBusiness, []domain.Role{domain.RoleAdmin}, false},
		{"admin on admin route", domain.RoleAdmin, []domain.Role{domain.RoleAdmin}, true},
		{"client on multi-role route", domain.RoleClient, []domain.Role{domain.RoleBusiness, domain.RoleClient}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanAccessRoute(profileWithRole(tt.role), tt.allowed); got != tt.want {
				t.Fatalf("CanAccessRoute(%s, %v) = %v, want %v", tt.role, tt.allowed, got, tt.want)
			}
		})
	}
}

func TestCanAccessRouteInvalidRole(t *testing.T) {
	p := &domain.Profile{ID: "p1", Role: domain.Role("superuser")}
	if CanAccessRoute(p, nil) {
		t.Fatal("unknown role must be rejected even on unrestricted routes")
	}
}

func TestCanModifyAppointmentOwnership(t *testing.T) {
	appt := &domain.Appointment{ID: "a1", ClientID: "U1", BusinessID: "B1"}

	if !CanModifyAppointment("U1", domain.RoleClient, appt) {
		t.Fatal("owning client must be allowed")
	}
	if CanModifyAppointment("U2", domain.RoleClient, appt) {
		t.Fatal("other client must be rejected")
	}
	if !CanModifyAppointment("B1", domain.RoleBusiness, appt) {
		t.Fatal("owning business must be allowed")
	}
	if CanModifyAppointment("B2", domain.RoleBusiness, appt) {
		t.Fatal("other business must be rejected")
	}
	if !CanModifyAppointment("anyone", domain.RoleAdmin, appt) {
		t.Fatal("admin must be allowed")
	}
}

func TestCanModifyAppointmentFailClosed(t *testing.T) {
	appt := &domain.Appointment{ID: "a1", ClientID: "U1", BusinessID: "B1"}

	if CanModifyAppointment("", domain.RoleAdmin, appt) {
		t.Fatal("empty principal id must be rejected")
	}
	if CanModifyAppointment("U1", domain.RoleClient, nil) {
		t.Fatal("nil appointment must be rejected")
	}
	if CanModifyAppointment("U1", domain.Role("owner"), appt) {
		t.Fatal("unknown role must be rejected")
	}
}

func TestCanViewMatchesModify(t *testing.T) {
	appt := &domain.Appointment{ID: "a1", ClientID: "U1", BusinessID: "B1"}
	cases := []struct {
		id   string
		role domain.Role
	}{
		{"U1", domain.RoleClient},
		{"U2", domain.RoleClient},
		{"B1", domain.RoleBusiness},
		{"x", domain.RoleAdmin},
	}
	for _, c := range cases {
		if CanViewAppointment(c.id, c.role, appt) != CanModifyAppointment(c.id, c.role, appt) {
			t.Fatalf("view/modify diverged for %s/%s", c.id, c.role)
		}
	}
}
