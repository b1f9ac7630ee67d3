package coupons

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dealport/dealport/internal/admission"
	"github.com/dealport/dealport/internal/authz"
	"github.com/dealport/dealport/internal/identity"
	"github.com/dealport/dealport/internal/platform/httpx"
	"github.com/dealport/dealport/internal/ratelimit"
	"github.com/dealport/dealport/internal/shared"
)

const browseLimit = 50

// Policies groups the rate policies the coupon routes declare.
type Policies struct {
	Read      ratelimit.Policy
	Write     ratelimit.Policy
	Sensitive ratelimit.Policy
}

// Repo is the persistence surface the handler depends on.
type Repo interface {
	ListApproved(ctx context.Context, limit int) ([]Coupon, error)
	ListByStore(ctx context.Context, storeID string) ([]Coupon, error)
	Create(ctx context.Context, c *Coupon) (*Coupon, error)
	SetStatus(ctx context.Context, id string, status Status) error
	Delete(ctx context.Context, id, storeID string) error
	StoreOwner(ctx context.Context, storeID string) (string, error)
}

// Handler serves coupon routes.
type Handler struct {
	logger   *slog.Logger
	repo     Repo
	gateway  *admission.Gateway
	policies Policies
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, repo Repo, gateway *admission.Gateway, policies Policies) *Handler {
	return &Handler{logger: logger, repo: repo, gateway: gateway, policies: policies}
}

// MountAPIRoutes registers the coupon API surface. Each route declares its
// admission policy at registration; handlers carry no authorization code.
func (h *Handler) MountAPIRoutes(r chi.Router) {
	browse := h.gateway.API(admission.RoutePolicy{Rate: &h.policies.Read})
	r.With(browse).Get("/coupons", h.list)

	ownerReq := authz.RequireRoles(identity.RoleStoreOwner, identity.RoleAdmin, identity.RoleSuperAdmin)
	owner := h.gateway.API(admission.RoutePolicy{Require: &ownerReq, Rate: &h.policies.Write})
	r.Route("/store/{storeID}/coupons", func(r chi.Router) {
		r.Use(owner)
		r.Get("/", h.listForStore)
		r.Post("/", h.create)
		r.Delete("/{couponID}", h.remove)
	})

	approveReq := authz.RequirePermission("coupons:approve")
	approve := h.gateway.API(admission.RoutePolicy{Require: &approveReq, Rate: &h.policies.Sensitive})
	r.With(approve).Post("/admin/coupons/{couponID}/approve", h.approve)
	r.With(approve).Post("/admin/coupons/{couponID}/reject", h.reject)
}

type couponView struct {
	ID        string     `json:"id"`
	StoreID   string     `json:"storeId"`
	Title     string     `json:"title"`
	Code      string     `json:"code"`
	Discount  int        `json:"discount"`
	Status    string     `json:"status"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

func toView(c Coupon) couponView {
	return couponView{
		ID:        c.ID,
		StoreID:   c.StoreID,
		Title:     c.Title,
		Code:      c.Code,
		Discount:  c.Discount,
		Status:    string(c.Status),
		ExpiresAt: c.ExpiresAt,
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	items, err := h.repo.ListApproved(r.Context(), browseLimit)
	if err != nil {
		h.logger.Error("list coupons", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	views := make([]couponView, 0, len(items))
	for _, c := range items {
		views = append(views, toView(c))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"coupons": views})
}

// checkStoreAccess verifies the caller may manage the given store. Admins
// moderate any store; owners only their own.
func (h *Handler) checkStoreAccess(r *http.Request, storeID string) error {
	p := identity.PrincipalFromContext(r.Context())
	if p == nil {
		return httpx.ErrForbidden
	}
	if p.Role == identity.RoleAdmin || p.Role == identity.RoleSuperAdmin {
		return nil
	}
	owner, err := h.repo.StoreOwner(r.Context(), storeID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return httpx.ErrNotFound
		}
		return err
	}
	if owner != p.ID {
		return httpx.ErrForbidden
	}
	return nil
}

func (h *Handler) listForStore(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")
	if err := h.checkStoreAccess(r, storeID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, err := h.repo.ListByStore(r.Context(), storeID)
	if err != nil {
		h.logger.Error("list store coupons", slog.String("store", storeID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	views := make([]couponView, 0, len(items))
	for _, c := range items {
		views = append(views, toView(c))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"coupons": views})
}

type createRequest struct {
	Title     string     `json:"title"`
	Code      string     `json:"code"`
	Discount  int        `json:"discount"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	if err := h.checkStoreAccess(r, chi.URLParam(r, "storeID")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	req.Code = strings.TrimSpace(req.Code)
	if req.Title == "" || req.Code == "" || req.Discount <= 0 || req.Discount > 100 {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}

	created, err := h.repo.Create(r.Context(), &Coupon{
		StoreID:   chi.URLParam(r, "storeID"),
		Title:     req.Title,
		Code:      req.Code,
		Discount:  req.Discount,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateCode) {
			httpx.RespondError(w, httpx.ErrDuplicate)
			return
		}
		h.logger.Error("create coupon", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toView(*created))
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	if err := h.checkStoreAccess(r, chi.URLParam(r, "storeID")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	err := h.repo.Delete(r.Context(), chi.URLParam(r, "couponID"), chi.URLParam(r, "storeID"))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			httpx.RespondError(w, httpx.ErrNotFound)
			return
		}
		h.logger.Error("delete coupon", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	h.moderate(w, r, StatusApproved)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	h.moderate(w, r, StatusRejected)
}

func (h *Handler) moderate(w http.ResponseWriter, r *http.Request, status Status) {
	id := chi.URLParam(r, "couponID")
	if err := h.repo.SetStatus(r.Context(), id, status); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			httpx.RespondError(w, httpx.ErrNotFound)
			return
		}
		h.logger.Error("moderate coupon", slog.String("coupon", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	moderator := ""
	if p := identity.PrincipalFromContext(r.Context()); p != nil {
		moderator = p.ID
	}
	h.logger.Info("coupon moderated",
		slog.String("coupon", id),
		slog.String("status", string(status)),
		slog.String("moderator", moderator))
	w.WriteHeader(http.StatusNoContent)
}
