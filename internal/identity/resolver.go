package identity

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dealport/dealport/internal/shared"
)

// Resolver turns an incoming request into a Principal, or nil for anonymous.
//
// Resolution is fail-safe: any lookup failure yields an anonymous caller, never
// an error into the admission pipeline. Results are never cached across
// requests so ban and deactivation state is always current.
type Resolver struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewResolver constructs a Resolver.
func NewResolver(repo Repository, logger *slog.Logger) *Resolver {
	return &Resolver{repo: repo, logger: logger, now: time.Now}
}

// Resolve extracts the principal for the request, or nil when the caller is
// anonymous, unknown, deactivated, or banned.
func (rs *Resolver) Resolve(r *http.Request) *Principal {
	id := shared.AccountFromContext(r.Context())
	if id == "" {
		return nil
	}

	acc, err := rs.repo.FindByID(r.Context(), id)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) && rs.logger != nil {
			rs.logger.Warn("principal lookup failed", slog.String("account", id), slog.Any("error", err))
		}
		return nil
	}

	p := &Principal{
		ID:          acc.ID,
		Role:        ParseRole(acc.Role),
		Permissions: acc.Permissions,
		IsActive:    acc.IsActive,
		BannedUntil: acc.BannedUntil,
	}
	if !p.IsActive || p.Banned(rs.now()) {
		return nil
	}
	return p
}
