// Package authz decides whether a principal may proceed past a route's
// declared requirement and, on deny, where to send them instead.
package authz

import "github.com/dealport/dealport/internal/identity"

// Requirement is a route's declared access policy: either a set of acceptable
// roles or a single required permission, never both.
type Requirement struct {
	roles      []identity.Role
	permission string
}

// RequireRoles declares that the caller's role must be one of the given set.
func RequireRoles(roles ...identity.Role) Requirement {
	return Requirement{roles: roles}
}

// RequirePermission declares that the caller must hold the given permission,
// directly or through their role.
func RequirePermission(perm string) Requirement {
	return Requirement{permission: perm}
}

// Roles returns the acceptable role set, nil for permission requirements.
func (r Requirement) Roles() []identity.Role { return r.roles }

// Permission returns the required permission, empty for role requirements.
func (r Requirement) Permission() string { return r.permission }

// Code classifies an authorization decision.
type Code int

const (
	CodeOK Code = iota
	CodeUnauthenticated
	CodeForbiddenRole
	CodeForbiddenPermission
)

// Decision is the outcome of evaluating a requirement against a principal.
type Decision struct {
	Code Code
	// RedirectTarget is the page destination for denied navigations. Empty for
	// permission denials, which are surfaced as structured errors instead.
	RedirectTarget string
}

// OK reports whether the decision allows the request to proceed.
func (d Decision) OK() bool { return d.Code == CodeOK }
