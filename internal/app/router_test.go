package app_test

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/dealport/dealport/internal/admission"
	"github.com/dealport/dealport/internal/app"
	"github.com/dealport/dealport/internal/auth"
	"github.com/dealport/dealport/internal/authz"
	"github.com/dealport/dealport/internal/coupons"
	"github.com/dealport/dealport/internal/identity"
	"github.com/dealport/dealport/internal/ratelimit"
	"github.com/dealport/dealport/internal/shared"
	"github.com/dealport/dealport/internal/stores"
)

type stubAccounts struct {
	accounts map[string]*identity.Account
}

func (s *stubAccounts) FindByID(ctx context.Context, id string) (*identity.Account, error) {
	for _, acc := range s.accounts {
		if acc.ID == id {
			return acc, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (s *stubAccounts) FindByEmail(ctx context.Context, email string) (*identity.Account, error) {
	if acc, ok := s.accounts[email]; ok {
		return acc, nil
	}
	return nil, shared.ErrNotFound
}

// newAppRouter assembles the full router, middleware chain included, over an
// in-process Redis.
func newAppRouter(t *testing.T) http.Handler {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := slog.New(slog.DiscardHandler)
	cfg := &app.Config{
		AppEnv:              "test",
		AppRequestTimeout:   5 * time.Second,
		BaselineRateLimit:   100,
		RateReadWindow:      time.Minute,
		RateReadMax:         120,
		RateWriteWindow:     time.Minute,
		RateWriteMax:        30,
		RateAuthWindow:      15 * time.Minute,
		RateAuthMax:         10,
		RateSensitiveWindow: time.Hour,
		RateSensitiveMax:    15,
	}
	policies := cfg.RatePolicies()

	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	require.NoError(t, err)
	repo := &stubAccounts{accounts: map[string]*identity.Account{
		"owner@example.com": {
			ID:           "owner-1",
			Email:        "owner@example.com",
			PasswordHash: string(hash),
			Role:         "store_owner",
			IsActive:     true,
		},
	}}

	sessions := shared.NewSessionManager(client, "dealport_session", "session-secret", time.Hour, false)
	csrf := shared.NewCSRFManager("csrf-secret")
	engine := authz.NewEngine()
	resolver := identity.NewResolver(repo, logger)
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), logger)
	gateway := admission.NewGateway(resolver, engine, limiter, logger, nil)

	return app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessions,
		CSRFManager:    csrf,
		Gateway:        gateway,
		Policies:       policies,
		AuthHandler:    auth.NewHandler(logger, auth.NewService(repo), sessions, engine, gateway, policies.Auth),
		CouponsHandler: coupons.NewHandler(logger, nil, gateway, coupons.Policies{
			Read: policies.Read, Write: policies.Write, Sensitive: policies.Sensitive,
		}),
		StoresHandler: stores.NewHandler(logger, nil, gateway, stores.Policies{
			Read: policies.Read, Sensitive: policies.Sensitive,
		}),
	})
}

func sessionCookie(t *testing.T, res *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range res.Result().Cookies() {
		if c.Name == "dealport_session" {
			return c
		}
	}
	t.Fatal("session cookie not set")
	return nil
}

func TestLoginThroughFullMiddlewareChain(t *testing.T) {
	router := newAppRouter(t)

	// Any first request hands out the session cookie and its CSRF token.
	res := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "203.0.113.7:40000"
	router.ServeHTTP(res, req)

	require.Equal(t, http.StatusOK, res.Code)
	token := res.Header().Get("X-CSRF-Token")
	require.NotEmpty(t, token, "responses must carry the CSRF token")
	cookie := sessionCookie(t, res)

	res = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"owner@example.com","password":"correct horse"}`))
	req.RemoteAddr = "203.0.113.7:40001"
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CSRF-Token", token)
	req.AddCookie(cookie)
	router.ServeHTTP(res, req)

	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	assert.Contains(t, res.Body.String(), "owner-1")
}

func TestMutationWithoutCSRFTokenForbidden(t *testing.T) {
	router := newAppRouter(t)

	res := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"owner@example.com","password":"correct horse"}`))
	req.RemoteAddr = "203.0.113.7:40002"
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(res, req)

	assert.Equal(t, http.StatusForbidden, res.Code)
}

func TestCSRFTokenStableAcrossRequests(t *testing.T) {
	router := newAppRouter(t)

	res := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "203.0.113.7:40003"
	router.ServeHTTP(res, req)
	first := res.Header().Get("X-CSRF-Token")
	cookie := sessionCookie(t, res)

	res = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "203.0.113.7:40003"
	req.AddCookie(cookie)
	router.ServeHTTP(res, req)

	assert.Equal(t, first, res.Header().Get("X-CSRF-Token"),
		"the token is bound to the session, not regenerated per request")
}
