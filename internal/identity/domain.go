// Package identity resolves the authenticated principal for a request.
package identity

import (
	"time"
)

// Role is the closed set of marketplace roles.
type Role string

const (
	RoleAnonymous  Role = "anonymous"
	RoleCustomer   Role = "customer"
	RoleStoreOwner Role = "store_owner"
	RoleAffiliate  Role = "affiliate"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// ParseRole maps a stored role name to a Role, defaulting to anonymous for
// anything outside the closed set.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleCustomer, RoleStoreOwner, RoleAffiliate, RoleAdmin, RoleSuperAdmin:
		return Role(s)
	default:
		return RoleAnonymous
	}
}

// Principal describes the authenticated actor for a single request. It is
// constructed fresh per request and never mutated.
type Principal struct {
	ID          string
	Role        Role
	Permissions []string
	IsActive    bool
	BannedUntil *time.Time
}

// HasPermission reports whether the principal carries the permission directly.
// Role-implied permissions are resolved by the authorization engine.
func (p *Principal) HasPermission(perm string) bool {
	if p == nil {
		return false
	}
	for _, g := range p.Permissions {
		if g == perm {
			return true
		}
	}
	return false
}

// Banned reports whether the principal is banned at the given instant.
func (p *Principal) Banned(now time.Time) bool {
	return p != nil && p.BannedUntil != nil && p.BannedUntil.After(now)
}

// Account is the persisted identity record backing a principal.
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	Role         string
	Permissions  []string
	IsActive     bool
	BannedUntil  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
