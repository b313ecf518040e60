// Package domain defines the core booking data model.
package domain

import (
	"fmt"
	"strings"
)

// Role is the closed set of application roles. The canonical form is
// lowercase; ParseRole normalizes any legacy casing at the boundary.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleBusiness Role = "business"
	RoleClient   Role = "client"
)

// AllRoles lists every valid role.
var AllRoles = []Role{RoleAdmin, RoleBusiness, RoleClient}

// ParseRole normalizes s to a canonical Role. Unknown values are rejected.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleBusiness:
		return RoleBusiness, nil
	case RoleClient:
		return RoleClient, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Valid reports whether r is a canonical role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleBusiness, RoleClient:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }
