package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dealport/dealport/internal/admission"
	"github.com/dealport/dealport/internal/authz"
	"github.com/dealport/dealport/internal/identity"
	"github.com/dealport/dealport/internal/platform/httpx"
	"github.com/dealport/dealport/internal/ratelimit"
	"github.com/dealport/dealport/internal/shared"
)

// Handler serves login and logout.
type Handler struct {
	logger     *slog.Logger
	service    *Service
	sessions   *shared.SessionManager
	engine     *authz.Engine
	gateway    *admission.Gateway
	authPolicy ratelimit.Policy
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service, sessions *shared.SessionManager, engine *authz.Engine, gateway *admission.Gateway, authPolicy ratelimit.Policy) *Handler {
	return &Handler{
		logger:     logger,
		service:    service,
		sessions:   sessions,
		engine:     engine,
		gateway:    gateway,
		authPolicy: authPolicy,
	}
}

// MountRoutes registers page-context auth routes. Credential endpoints carry
// the auth rate policy so password guessing burns a small budget.
func (h *Handler) MountRoutes(r chi.Router) {
	guard := h.gateway.Page(admission.RoutePolicy{Rate: &h.authPolicy})
	r.With(guard).Post("/login", h.login)
	r.Post("/logout", h.logout)
}

// MountAPIRoutes registers the JSON variants under /api.
func (h *Handler) MountAPIRoutes(r chi.Router) {
	guard := h.gateway.API(admission.RoutePolicy{Rate: &h.authPolicy})
	r.With(guard).Post("/login", h.loginAPI)
	r.Post("/logout", h.logoutAPI)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.PostFormValue("email"))
	password := r.PostFormValue("password")

	acc, err := h.service.Authenticate(r.Context(), email, password)
	if err != nil {
		h.logger.Warn("login failed", slog.String("email", email))
		http.Redirect(w, r, authz.LoginPath+"?error=credentials", http.StatusSeeOther)
		return
	}

	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	// Fresh session id on privilege change.
	h.sessions.Rotate(r.Context(), sess)
	sess.SetAccount(acc.ID)

	home := h.engine.HomeFor(identity.ParseRole(acc.Role), "/")
	http.Redirect(w, r, home, http.StatusSeeOther)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		h.sessions.Destroy(sess)
	}
	http.Redirect(w, r, authz.LoginPath, http.StatusSeeOther)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccountID string `json:"accountId"`
	Role      string `json:"role"`
}

func (h *Handler) loginAPI(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}

	acc, err := h.service.Authenticate(r.Context(), strings.TrimSpace(req.Email), req.Password)
	if err != nil {
		h.logger.Warn("api login failed", slog.String("email", req.Email))
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}

	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	h.sessions.Rotate(r.Context(), sess)
	sess.SetAccount(acc.ID)

	httpx.JSON(w, http.StatusOK, loginResponse{AccountID: acc.ID, Role: acc.Role})
}

func (h *Handler) logoutAPI(w http.ResponseWriter, r *http.Request) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		h.sessions.Destroy(sess)
	}
	w.WriteHeader(http.StatusNoContent)
}
