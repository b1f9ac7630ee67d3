// Package admission composes authorization and rate limiting into a single
// per-request verdict.
package admission

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dealport/dealport/internal/authz"
	"github.com/dealport/dealport/internal/identity"
	"github.com/dealport/dealport/internal/ratelimit"
)

// Reason classifies a verdict.
type Reason string

const (
	ReasonOK                  Reason = "ok"
	ReasonUnauthenticated     Reason = "unauthenticated"
	ReasonForbiddenRole       Reason = "forbidden_role"
	ReasonForbiddenPermission Reason = "forbidden_permission"
	ReasonRateLimited         Reason = "rate_limited"
)

// RoutePolicy is the tagged configuration value attached to a route at
// registration: an optional access requirement and an optional named rate
// policy. Handlers stay free of authorization code.
type RoutePolicy struct {
	Require *authz.Requirement
	Rate    *ratelimit.Policy
	// DefaultRedirect is where denied page navigations land when the caller's
	// role has no dashboard of its own.
	DefaultRedirect string
}

// Verdict is the pipeline's terminal result for one request.
type Verdict struct {
	Allowed        bool
	Reason         Reason
	Principal      *identity.Principal
	RedirectTarget string
	// RateLimit carries budget metadata whenever the route is rate-guarded,
	// on allow as well as deny, so success responses expose the budget too.
	RateLimit *ratelimit.Result
}

// Observer receives admission outcomes for metrics.
type Observer interface {
	ObserveAdmission(reason string)
	ObserveRateLimited(policy string)
}

// Gateway runs the admission pipeline: resolve, authorize, rate-limit.
type Gateway struct {
	resolver *identity.Resolver
	engine   *authz.Engine
	limiter  *ratelimit.Limiter
	logger   *slog.Logger
	observer Observer
}

// NewGateway constructs a Gateway. observer may be nil.
func NewGateway(resolver *identity.Resolver, engine *authz.Engine, limiter *ratelimit.Limiter, logger *slog.Logger, observer Observer) *Gateway {
	return &Gateway{
		resolver: resolver,
		engine:   engine,
		limiter:  limiter,
		logger:   logger,
		observer: observer,
	}
}

// Admit produces the verdict for a request under a route policy. Strict
// order: principal resolution, then authorization, then rate limiting.
// An authorization deny is terminal and the limiter is never consulted.
func (g *Gateway) Admit(r *http.Request, policy RoutePolicy) Verdict {
	principal := g.resolver.Resolve(r)

	if policy.Require != nil {
		decision := g.engine.Authorize(principal, *policy.Require, policy.DefaultRedirect)
		if !decision.OK() {
			v := Verdict{
				Reason:         reasonFor(decision.Code),
				Principal:      principal,
				RedirectTarget: decision.RedirectTarget,
			}
			g.observe(v.Reason)
			g.logDeny(r, v)
			return v
		}
	}

	if policy.Rate != nil {
		res := g.limiter.Check(r.Context(), callerFor(r, principal), *policy.Rate)
		if !res.Allowed {
			v := Verdict{
				Reason:    ReasonRateLimited,
				Principal: principal,
				RateLimit: &res,
			}
			g.observe(v.Reason)
			if g.observer != nil {
				g.observer.ObserveRateLimited(policy.Rate.Name)
			}
			g.logDeny(r, v)
			return v
		}
		g.observe(ReasonOK)
		return Verdict{Allowed: true, Reason: ReasonOK, Principal: principal, RateLimit: &res}
	}

	g.observe(ReasonOK)
	return Verdict{Allowed: true, Reason: ReasonOK, Principal: principal}
}

func (g *Gateway) observe(reason Reason) {
	if g.observer != nil {
		g.observer.ObserveAdmission(string(reason))
	}
}

func (g *Gateway) logDeny(r *http.Request, v Verdict) {
	if g.logger == nil {
		return
	}
	attrs := []any{
		slog.String("path", r.URL.Path),
		slog.String("reason", string(v.Reason)),
	}
	if v.Principal != nil {
		attrs = append(attrs, slog.String("principal", v.Principal.ID))
	}
	g.logger.Warn("request denied", attrs...)
}

func reasonFor(code authz.Code) Reason {
	switch code {
	case authz.CodeUnauthenticated:
		return ReasonUnauthenticated
	case authz.CodeForbiddenRole:
		return ReasonForbiddenRole
	case authz.CodeForbiddenPermission:
		return ReasonForbiddenPermission
	default:
		return ReasonOK
	}
}

func callerFor(r *http.Request, principal *identity.Principal) ratelimit.Caller {
	caller := ratelimit.Caller{
		IP:    clientIP(r),
		Route: routePattern(r),
	}
	if principal != nil {
		caller.PrincipalID = principal.ID
	}
	return caller
}

// clientIP relies on chi's RealIP middleware having rewritten RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
