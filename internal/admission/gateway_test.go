package admission_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealport/dealport/internal/admission"
	"github.com/dealport/dealport/internal/authz"
	"github.com/dealport/dealport/internal/identity"
	"github.com/dealport/dealport/internal/ratelimit"
	"github.com/dealport/dealport/internal/shared"
)

type stubRepo struct {
	accounts map[string]*identity.Account
}

func (s *stubRepo) FindByID(ctx context.Context, id string) (*identity.Account, error) {
	if acc, ok := s.accounts[id]; ok {
		return acc, nil
	}
	return nil, shared.ErrNotFound
}

func (s *stubRepo) FindByEmail(ctx context.Context, email string) (*identity.Account, error) {
	return nil, shared.ErrNotFound
}

type countingStore struct {
	inner ratelimit.Store
	calls atomic.Int64
}

func (s *countingStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	s.calls.Add(1)
	return s.inner.Increment(ctx, key, window)
}

type fixture struct {
	gateway *admission.Gateway
	store   *countingStore
}

func newFixture(t *testing.T, accounts map[string]*identity.Account) *fixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	store := &countingStore{inner: ratelimit.NewMemoryStore()}
	resolver := identity.NewResolver(&stubRepo{accounts: accounts}, logger)
	limiter := ratelimit.NewLimiter(store, logger)
	return &fixture{
		gateway: admission.NewGateway(resolver, authz.NewEngine(), limiter, logger, nil),
		store:   store,
	}
}

func request(accountID, path string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, path, nil)
	r.RemoteAddr = "203.0.113.5:44123"
	sess := &shared.Session{}
	if accountID != "" {
		sess.SetAccount(accountID)
	}
	return r.WithContext(shared.ContextWithSession(r.Context(), sess))
}

func testAccounts() map[string]*identity.Account {
	return map[string]*identity.Account{
		"cust-1":  {ID: "cust-1", Role: "customer", IsActive: true},
		"admin-1": {ID: "admin-1", Role: "admin", IsActive: true},
	}
}

func testRatePolicy(max int) ratelimit.Policy {
	return ratelimit.Policy{
		Name:     "read",
		Window:   time.Minute,
		Max:      max,
		KeyParts: []ratelimit.KeyPart{ratelimit.PartIP, ratelimit.PartRoute},
	}
}

func TestAdmitAuthzDenySkipsLimiter(t *testing.T) {
	f := newFixture(t, testAccounts())
	req := authz.RequireRoles(identity.RoleAdmin, identity.RoleSuperAdmin)
	rate := testRatePolicy(5)
	policy := admission.RoutePolicy{Require: &req, Rate: &rate}

	v := f.gateway.Admit(request("cust-1", "/admin"), policy)
	require.False(t, v.Allowed)
	assert.Equal(t, admission.ReasonForbiddenRole, v.Reason)
	assert.Equal(t, "/account", v.RedirectTarget, "customer falls back to their own home")
	assert.Zero(t, f.store.calls.Load(), "limiter must not run after an authorization deny")
}

func TestAdmitAnonymousRedirectsToLogin(t *testing.T) {
	f := newFixture(t, testAccounts())
	req := authz.RequireRoles(identity.RoleCustomer)
	rate := testRatePolicy(5)
	policy := admission.RoutePolicy{Require: &req, Rate: &rate}

	v := f.gateway.Admit(request("", "/account"), policy)
	require.False(t, v.Allowed)
	assert.Equal(t, admission.ReasonUnauthenticated, v.Reason)
	assert.Equal(t, authz.LoginPath, v.RedirectTarget)
	assert.Zero(t, f.store.calls.Load())
}

func TestAdmitOKCarriesBudget(t *testing.T) {
	f := newFixture(t, testAccounts())
	rate := testRatePolicy(5)
	policy := admission.RoutePolicy{Rate: &rate}

	v := f.gateway.Admit(request("", "/coupons"), policy)
	require.True(t, v.Allowed)
	require.NotNil(t, v.RateLimit, "allowed verdicts still expose the budget")
	assert.Equal(t, 5, v.RateLimit.Limit)
	assert.Equal(t, 4, v.RateLimit.Remaining)
}

func TestAdmitRateLimited(t *testing.T) {
	f := newFixture(t, testAccounts())
	rate := testRatePolicy(2)
	policy := admission.RoutePolicy{Rate: &rate}

	f.gateway.Admit(request("", "/coupons"), policy)
	f.gateway.Admit(request("", "/coupons"), policy)
	v := f.gateway.Admit(request("", "/coupons"), policy)

	require.False(t, v.Allowed)
	assert.Equal(t, admission.ReasonRateLimited, v.Reason)
	require.NotNil(t, v.RateLimit)
	assert.Equal(t, 0, v.RateLimit.Remaining)
	assert.InDelta(t, 60, v.RateLimit.RetryAfter, 1)
}

func TestAdmitPermissionRequirement(t *testing.T) {
	f := newFixture(t, testAccounts())
	req := authz.RequirePermission("coupons:approve")
	policy := admission.RoutePolicy{Require: &req}

	v := f.gateway.Admit(request("admin-1", "/api/admin/coupons/1/approve"), policy)
	assert.True(t, v.Allowed, "admin role implies coupons:approve")

	v = f.gateway.Admit(request("cust-1", "/api/admin/coupons/1/approve"), policy)
	require.False(t, v.Allowed)
	assert.Equal(t, admission.ReasonForbiddenPermission, v.Reason)
	assert.Empty(t, v.RedirectTarget)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func TestPageGuardRedirects(t *testing.T) {
	f := newFixture(t, testAccounts())
	req := authz.RequireRoles(identity.RoleAdmin)
	handler := f.gateway.Page(admission.RoutePolicy{Require: &req})(okHandler())

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, request("cust-1", "/admin"))

	require.Equal(t, http.StatusSeeOther, res.Code)
	assert.Equal(t, "/account", res.Header().Get("Location"))
}

func TestAPIGuardStatusCodes(t *testing.T) {
	f := newFixture(t, testAccounts())
	req := authz.RequireRoles(identity.RoleAdmin)
	handler := f.gateway.API(admission.RoutePolicy{Require: &req})(okHandler())

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, request("", "/api/admin"))
	assert.Equal(t, http.StatusUnauthorized, res.Code)

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, request("cust-1", "/api/admin"))
	assert.Equal(t, http.StatusForbidden, res.Code)
}

func TestGuardSetsBudgetHeadersOnSuccess(t *testing.T) {
	f := newFixture(t, testAccounts())
	rate := testRatePolicy(5)
	handler := f.gateway.API(admission.RoutePolicy{Rate: &rate})(okHandler())

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, request("", "/api/coupons"))

	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "5", res.Header().Get(ratelimit.HeaderLimit))
	assert.Equal(t, "4", res.Header().Get(ratelimit.HeaderRemaining))
	assert.NotEmpty(t, res.Header().Get(ratelimit.HeaderReset))
}

func TestGuard429Body(t *testing.T) {
	f := newFixture(t, testAccounts())
	rate := testRatePolicy(1)
	handler := f.gateway.API(admission.RoutePolicy{Rate: &rate})(okHandler())

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, request("", "/api/coupons"))
	require.Equal(t, http.StatusOK, res.Code)

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, request("", "/api/coupons"))
	require.Equal(t, http.StatusTooManyRequests, res.Code)
	assert.NotEmpty(t, res.Header().Get(ratelimit.HeaderRetryAfter))

	var body struct {
		Error      string `json:"error"`
		Message    string `json:"message"`
		RetryAfter int    `json:"retryAfter"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	assert.Equal(t, "rate_limited", body.Error)
	assert.Greater(t, body.RetryAfter, 0)
}

func TestGuardExposesPrincipalToHandlers(t *testing.T) {
	f := newFixture(t, testAccounts())
	req := authz.RequireRoles(identity.RoleAdmin)

	var seen *identity.Principal
	handler := f.gateway.Page(admission.RoutePolicy{Require: &req})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = identity.PrincipalFromContext(r.Context())
		}))

	handler.ServeHTTP(httptest.NewRecorder(), request("admin-1", "/admin"))
	require.NotNil(t, seen)
	assert.Equal(t, "admin-1", seen.ID)
}
