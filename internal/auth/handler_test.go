package auth_test

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/dealport/dealport/internal/admission"
	"github.com/dealport/dealport/internal/auth"
	"github.com/dealport/dealport/internal/authz"
	"github.com/dealport/dealport/internal/identity"
	"github.com/dealport/dealport/internal/ratelimit"
	"github.com/dealport/dealport/internal/shared"
	_ "github.com/dealport/dealport/testing"
)

type stubRepo struct {
	account *identity.Account
}

func (s *stubRepo) FindByID(ctx context.Context, id string) (*identity.Account, error) {
	if s.account == nil || s.account.ID != id {
		return nil, shared.ErrNotFound
	}
	return s.account, nil
}

func (s *stubRepo) FindByEmail(ctx context.Context, email string) (*identity.Account, error) {
	if s.account == nil || s.account.Email != email {
		return nil, shared.ErrNotFound
	}
	return s.account, nil
}

func newAuthRouter(t *testing.T, repo identity.Repository) (http.Handler, *shared.SessionManager) {
	t.Helper()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessionManager := shared.NewSessionManager(redisClient, "test_session", "secret", time.Hour, false)

	logger := slog.New(slog.DiscardHandler)
	engine := authz.NewEngine()
	resolver := identity.NewResolver(repo, logger)
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), logger)
	gateway := admission.NewGateway(resolver, engine, limiter, logger, nil)

	handler := auth.NewHandler(logger, auth.NewService(repo), sessionManager, engine, gateway, ratelimit.PolicyAuth)

	r := chi.NewRouter()
	r.Route("/auth", handler.MountRoutes)
	r.Route("/api/auth", handler.MountAPIRoutes)
	return r, sessionManager
}

func withSession(t *testing.T, sm *shared.SessionManager, req *http.Request) (*http.Request, *shared.Session) {
	t.Helper()
	sess, err := sm.Load(context.Background(), req)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	return req.WithContext(shared.ContextWithSession(req.Context(), sess)), sess
}

func hashPassword(t *testing.T, password string) string {
	t.Helper()
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return string(hashed)
}

func TestLoginInvalidCredentials(t *testing.T) {
	repo := &stubRepo{account: &identity.Account{
		ID:           "acc-1",
		Email:        "owner@test.local",
		PasswordHash: hashPassword(t, "correctpass"),
		Role:         "store_owner",
		IsActive:     true,
	}}
	router, sm := newAuthRouter(t, repo)

	form := url.Values{}
	form.Set("email", "owner@test.local")
	form.Set("password", "wrongpass")

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req, _ = withSession(t, sm, req)

	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	if res.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", res.Code)
	}
	if loc := res.Header().Get("Location"); !strings.HasPrefix(loc, authz.LoginPath) {
		t.Fatalf("expected redirect back to login, got %q", loc)
	}
}

func TestLoginSuccessRedirectsToRoleHome(t *testing.T) {
	repo := &stubRepo{account: &identity.Account{
		ID:           "acc-1",
		Email:        "owner@test.local",
		PasswordHash: hashPassword(t, "correctpass"),
		Role:         "store_owner",
		IsActive:     true,
	}}
	router, sm := newAuthRouter(t, repo)

	form := url.Values{}
	form.Set("email", "owner@test.local")
	form.Set("password", "correctpass")

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req, sess := withSession(t, sm, req)

	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	if res.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", res.Code)
	}
	if loc := res.Header().Get("Location"); loc != "/store" {
		t.Fatalf("expected store owner home, got %q", loc)
	}
	if sess.Account() != "acc-1" {
		t.Fatalf("expected session bound to acc-1, got %q", sess.Account())
	}
}

func TestLoginInactiveAccount(t *testing.T) {
	repo := &stubRepo{account: &identity.Account{
		ID:           "acc-1",
		Email:        "owner@test.local",
		PasswordHash: hashPassword(t, "correctpass"),
		Role:         "store_owner",
		IsActive:     false,
	}}
	router, sm := newAuthRouter(t, repo)

	form := url.Values{}
	form.Set("email", "owner@test.local")
	form.Set("password", "correctpass")

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req, _ = withSession(t, sm, req)

	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	if loc := res.Header().Get("Location"); !strings.HasPrefix(loc, authz.LoginPath) {
		t.Fatalf("inactive account must not log in, got redirect %q", loc)
	}
}

func TestAPILoginReturnsJSON(t *testing.T) {
	repo := &stubRepo{account: &identity.Account{
		ID:           "acc-1",
		Email:        "owner@test.local",
		PasswordHash: hashPassword(t, "correctpass"),
		Role:         "store_owner",
		IsActive:     true,
	}}
	router, sm := newAuthRouter(t, repo)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"owner@test.local","password":"correctpass"}`))
	req.Header.Set("Content-Type", "application/json")
	req, _ = withSession(t, sm, req)

	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if !strings.Contains(res.Body.String(), `"accountId":"acc-1"`) {
		t.Fatalf("expected account id in body, got %s", res.Body.String())
	}
}

func TestAPILoginRateLimited(t *testing.T) {
	repo := &stubRepo{}
	router, sm := newAuthRouter(t, repo)

	var last *httptest.ResponseRecorder
	for i := 0; i <= ratelimit.PolicyAuth.Max; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
			strings.NewReader(`{"email":"x@test.local","password":"nope"}`))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "203.0.113.9:1000"
		req, _ = withSession(t, sm, req)

		last = httptest.NewRecorder()
		router.ServeHTTP(last, req)
	}

	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after exhausting the auth budget, got %d", last.Code)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header on 429")
	}
}

func TestLogoutDestroysSession(t *testing.T) {
	repo := &stubRepo{}
	router, sm := newAuthRouter(t, repo)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req, sess := withSession(t, sm, req)
	sess.SetAccount("acc-1")

	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	if res.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", res.Code)
	}
	if err := sm.Commit(req.Context(), res, req, sess); err != nil {
		t.Fatalf("commit: %v", err)
	}
	// Result() snapshots headers at WriteHeader time, before Commit above
	// wrote the clearing cookie; read the live header map instead.
	cookies := (&http.Response{Header: res.Header()}).Cookies()
	found := false
	for _, c := range cookies {
		if c.Name == sm.CookieName() && c.MaxAge < 0 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected session cookie cleared on logout")
	}
}
