package model

import (
	"fmt"
)

// Role is the closed set of portal roles a user can hold. Keeping this a
// typed enumeration (rather than free-form strings resolved through lookup
// tables) lets switches over roles be checked for exhaustiveness.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleStudent Role = "student"
	RoleCompany Role = "company"
	RoleMentor  Role = "mentor"
)

// ParseRole validates a raw role tag from a credential or API payload.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin, RoleStudent, RoleCompany, RoleMentor:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Valid reports whether the role is one of the known variants.
func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

// DashboardPath maps a role to its portal landing path.
func (r Role) DashboardPath() string {
	switch r {
	case RoleAdmin:
		return "/admin"
	case RoleStudent:
		return "/student"
	case RoleCompany:
		return "/company"
	case RoleMentor:
		return "/mentor"
	default:
		return "/"
	}
}
