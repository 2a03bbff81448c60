package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Role is the caller's role as asserted by the identity provider
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleTrainer  Role = "trainer"
	RoleCustomer Role = "customer"
)

// ParseRole normalizes a role claim ("Admin", "trainer", ...) into a Role
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleTrainer:
		return RoleTrainer, nil
	case RoleCustomer:
		return RoleCustomer, nil
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrUnauthenticated, s)
}

// Actor is the resolved identity passed explicitly into every service call
type Actor struct {
	ID   uuid.UUID `json:"id"`
	Role Role      `json:"role"`
}

// IsAdmin reports whether the actor has the admin role
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}
