package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Role describes the operator's access level.
type Role int

const (
	// RoleUnspecified represents an invalid role value.
	RoleUnspecified Role = iota
	// RoleAdmin indicates a platform administrator.
	RoleAdmin
	// RoleSuperAdmin indicates an administrator with full platform access.
	RoleSuperAdmin
	// RoleFranchise indicates an operator bound to a single franchise.
	RoleFranchise
)

// String returns the wire representation of the role.
func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "ADMIN"
	case RoleSuperAdmin:
		return "SUPER_ADMIN"
	case RoleFranchise:
		return "FRANCHISE"
	default:
		return "UNSPECIFIED"
	}
}

// ParseRole converts a wire role value into a Role.
func ParseRole(value string) (Role, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "ADMIN":
		return RoleAdmin, nil
	case "SUPER_ADMIN":
		return RoleSuperAdmin, nil
	case "FRANCHISE":
		return RoleFranchise, nil
	default:
		return RoleUnspecified, fmt.Errorf("unknown role %q", value)
	}
}

var (
	// ErrInvalidRole indicates a missing or unknown actor role.
	ErrInvalidRole = errors.New("actor role is required")
	// ErrFranchiseActorUnbound indicates a franchise actor without a franchise.
	ErrFranchiseActorUnbound = errors.New("franchise actor requires a franchise id")
)

// Actor identifies the operator driving a workflow session. It is supplied
// once at session construction by the identity collaborator and never changes
// for the life of the session.
type Actor struct {
	Subject     string
	Role        Role
	FranchiseID string
}

// Validate checks the actor invariants.
func (a Actor) Validate() error {
	switch a.Role {
	case RoleAdmin, RoleSuperAdmin:
		return nil
	case RoleFranchise:
		if strings.TrimSpace(a.FranchiseID) == "" {
			return ErrFranchiseActorUnbound
		}
		return nil
	default:
		return ErrInvalidRole
	}
}

// FranchiseLocked reports whether the actor's franchise is fixed and not
// selectable in the workflow.
func (a Actor) FranchiseLocked() bool {
	return a.Role == RoleFranchise
}
