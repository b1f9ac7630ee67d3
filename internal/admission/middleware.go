package admission

import (
	"net/http"

	"github.com/dealport/dealport/internal/identity"
	"github.com/dealport/dealport/internal/platform/httpx"
	"github.com/dealport/dealport/internal/ratelimit"
)

// rateLimitedBody is the JSON payload for 429 responses.
type rateLimitedBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter"`
}

// Page guards a browser-facing route: denied navigations redirect to a
// sensible destination rather than showing an error page.
func (g *Gateway) Page(policy RoutePolicy) func(http.Handler) http.Handler {
	return g.guard(policy, g.denyPage)
}

// API guards a machine-facing route: every deny is a structured JSON payload
// with the matching status code.
func (g *Gateway) API(policy RoutePolicy) func(http.Handler) http.Handler {
	return g.guard(policy, g.denyAPI)
}

func (g *Gateway) guard(policy RoutePolicy, deny func(http.ResponseWriter, *http.Request, Verdict)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			verdict := g.Admit(r, policy)
			if !verdict.Allowed {
				deny(w, r, verdict)
				return
			}
			if verdict.RateLimit != nil {
				ratelimit.SetHeaders(w.Header(), *verdict.RateLimit)
			}
			if verdict.Principal != nil {
				r = r.WithContext(identity.ContextWithPrincipal(r.Context(), verdict.Principal))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (g *Gateway) denyPage(w http.ResponseWriter, r *http.Request, v Verdict) {
	switch v.Reason {
	case ReasonRateLimited:
		// Rate-limit denials are always machine-readable, even on pages, so
		// retrying clients get deterministic back-off guidance.
		writeRateLimited(w, v)
	case ReasonForbiddenPermission:
		// Permission requirements have no page fallback.
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "missing permission")
	default:
		http.Redirect(w, r, v.RedirectTarget, http.StatusSeeOther)
	}
}

func (g *Gateway) denyAPI(w http.ResponseWriter, r *http.Request, v Verdict) {
	switch v.Reason {
	case ReasonUnauthenticated:
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
	case ReasonForbiddenRole:
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "role not permitted")
	case ReasonForbiddenPermission:
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "missing permission")
	case ReasonRateLimited:
		writeRateLimited(w, v)
	default:
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
	}
}

func writeRateLimited(w http.ResponseWriter, v Verdict) {
	retryAfter := 0
	if v.RateLimit != nil {
		ratelimit.SetHeaders(w.Header(), *v.RateLimit)
		retryAfter = v.RateLimit.RetryAfter
	}
	httpx.JSON(w, http.StatusTooManyRequests, rateLimitedBody{
		Error:      "rate_limited",
		Message:    "request budget exhausted, retry later",
		RetryAfter: retryAfter,
	})
}
