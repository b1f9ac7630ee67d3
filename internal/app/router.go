package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/dealport/dealport/internal/admission"
	"github.com/dealport/dealport/internal/auth"
	"github.com/dealport/dealport/internal/authz"
	"github.com/dealport/dealport/internal/coupons"
	"github.com/dealport/dealport/internal/identity"
	"github.com/dealport/dealport/internal/observability"
	"github.com/dealport/dealport/internal/shared"
	"github.com/dealport/dealport/internal/stores"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	Gateway        *admission.Gateway
	Policies       RatePolicies
	AuthHandler    *auth.Handler
	CouponsHandler *coupons.Handler
	StoresHandler  *stores.Handler
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router with Dealport defaults.
//
// Every protected route declares its policy here, at registration time; the
// admission gateway is the only place access decisions are made.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/auth", params.AuthHandler.MountRoutes)

	// Role dashboards. Markup rendering lives elsewhere; these stubs exist so
	// the fallback redirects land somewhere real.
	g := params.Gateway
	mountDashboard(r, g, "/account", authz.RequireRoles(identity.RoleCustomer), params)
	mountDashboard(r, g, "/store", authz.RequireRoles(identity.RoleStoreOwner), params)
	mountDashboard(r, g, "/affiliate", authz.RequireRoles(identity.RoleAffiliate), params)
	mountDashboard(r, g, "/admin", authz.RequireRoles(identity.RoleAdmin, identity.RoleSuperAdmin), params)

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", params.AuthHandler.MountAPIRoutes)
		params.CouponsHandler.MountAPIRoutes(r)
		params.StoresHandler.MountAPIRoutes(r)
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}

func mountDashboard(r chi.Router, g *admission.Gateway, path string, req authz.Requirement, params RouterParams) {
	read := params.Policies.Read
	guard := g.Page(admission.RoutePolicy{Require: &req, Rate: &read})
	r.With(guard).Get(path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"dashboard":"` + path + `"}`))
	})
}
