package authz

import "github.com/dealport/dealport/internal/identity"

// LoginPath is where unauthenticated callers are sent for page navigations.
const LoginPath = "/auth/login"

// roleHomes routes a denied caller to their own dashboard rather than a
// generic error page. Keyed by the principal's actual role, not the route's
// required roles.
var roleHomes = map[identity.Role]string{
	identity.RoleCustomer:   "/account",
	identity.RoleStoreOwner: "/store",
	identity.RoleAffiliate:  "/affiliate",
	identity.RoleAdmin:      "/admin",
	identity.RoleSuperAdmin: "/admin",
}

// roleImplied maps each role to the permissions membership alone grants.
// Direct per-account grants extend these.
var roleImplied = map[identity.Role][]string{
	identity.RoleCustomer:   {"coupons:redeem", "reviews:write"},
	identity.RoleStoreOwner: {"coupons:create", "coupons:edit", "store:manage"},
	identity.RoleAffiliate:  {"links:manage", "payouts:view"},
	identity.RoleAdmin: {
		"coupons:approve", "coupons:edit",
		"stores:manage", "users:view", "reports:view",
	},
}

// Engine evaluates route requirements. It is stateless; all policy lives in
// the static tables above.
type Engine struct{}

// NewEngine constructs an Engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Authorize evaluates the requirement for the principal. defaultTarget is used
// as the redirect destination when the principal's role has no home of its own.
//
// Role-set checks always precede permission checks; the first failing check
// wins. A nil principal is unauthenticated regardless of the requirement kind.
func (e *Engine) Authorize(p *identity.Principal, req Requirement, defaultTarget string) Decision {
	if p == nil {
		return Decision{Code: CodeUnauthenticated, RedirectTarget: LoginPath}
	}

	if roles := req.Roles(); len(roles) > 0 {
		for _, role := range roles {
			if p.Role == role {
				return Decision{Code: CodeOK}
			}
		}
		return Decision{Code: CodeForbiddenRole, RedirectTarget: e.HomeFor(p.Role, defaultTarget)}
	}

	if perm := req.Permission(); perm != "" {
		if p.Role == identity.RoleSuperAdmin {
			return Decision{Code: CodeOK}
		}
		if p.HasPermission(perm) || roleGrants(p.Role, perm) {
			return Decision{Code: CodeOK}
		}
		return Decision{Code: CodeForbiddenPermission}
	}

	return Decision{Code: CodeOK}
}

// HomeFor returns the dashboard path for a role, or defaultTarget when the
// role has none.
func (e *Engine) HomeFor(role identity.Role, defaultTarget string) string {
	if home, ok := roleHomes[role]; ok {
		return home
	}
	if defaultTarget != "" {
		return defaultTarget
	}
	return LoginPath
}

// ImpliedPermissions returns the permissions granted by role membership alone.
func (e *Engine) ImpliedPermissions(role identity.Role) []string {
	perms := roleImplied[role]
	out := make([]string, len(perms))
	copy(out, perms)
	return out
}

func roleGrants(role identity.Role, perm string) bool {
	for _, g := range roleImplied[role] {
		if g == perm {
			return true
		}
	}
	return false
}
