package stores

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dealport/dealport/internal/admission"
	"github.com/dealport/dealport/internal/authz"
	"github.com/dealport/dealport/internal/platform/httpx"
	"github.com/dealport/dealport/internal/ratelimit"
	"github.com/dealport/dealport/internal/shared"
)

// Policies groups the rate policies the store routes declare.
type Policies struct {
	Read      ratelimit.Policy
	Sensitive ratelimit.Policy
}

// Handler serves store routes.
type Handler struct {
	logger   *slog.Logger
	repo     *Repository
	gateway  *admission.Gateway
	policies Policies
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, repo *Repository, gateway *admission.Gateway, policies Policies) *Handler {
	return &Handler{logger: logger, repo: repo, gateway: gateway, policies: policies}
}

// MountAPIRoutes registers the store API surface.
func (h *Handler) MountAPIRoutes(r chi.Router) {
	browse := h.gateway.API(admission.RoutePolicy{Rate: &h.policies.Read})
	r.With(browse).Get("/stores", h.list)

	manageReq := authz.RequirePermission("stores:manage")
	manage := h.gateway.API(admission.RoutePolicy{Require: &manageReq, Rate: &h.policies.Sensitive})
	r.With(manage).Post("/admin/stores/{storeID}/suspend", h.suspend)
	r.With(manage).Post("/admin/stores/{storeID}/reinstate", h.reinstate)
}

type storeView struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Slug   string `json:"slug"`
	Status string `json:"status"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	items, err := h.repo.ListActive(r.Context())
	if err != nil {
		h.logger.Error("list stores", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	views := make([]storeView, 0, len(items))
	for _, s := range items {
		views = append(views, storeView{ID: s.ID, Name: s.Name, Slug: s.Slug, Status: string(s.Status)})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"stores": views})
}

func (h *Handler) suspend(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, StatusSuspended)
}

func (h *Handler) reinstate(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, StatusActive)
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request, status Status) {
	id := chi.URLParam(r, "storeID")
	if err := h.repo.SetStatus(r.Context(), id, status); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			httpx.RespondError(w, httpx.ErrNotFound)
			return
		}
		h.logger.Error("set store status", slog.String("store", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
