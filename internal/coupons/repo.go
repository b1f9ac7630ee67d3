package coupons

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dealport/dealport/internal/shared"
)

// ErrDuplicateCode indicates the coupon code is already in use for the store.
var ErrDuplicateCode = errors.New("coupons: duplicate code")

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const couponColumns = `id, store_id, title, code, discount, status, expires_at, created_at, updated_at`

// ListApproved returns approved coupons, newest first.
func (r *Repository) ListApproved(ctx context.Context, limit int) ([]Coupon, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+couponColumns+` FROM coupons WHERE status = $1 ORDER BY created_at DESC LIMIT $2`,
		StatusApproved, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

// ListByStore returns all coupons belonging to a store.
func (r *Repository) ListByStore(ctx context.Context, storeID string) ([]Coupon, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+couponColumns+` FROM coupons WHERE store_id = $1 ORDER BY created_at DESC`,
		storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

// Create inserts a pending coupon.
func (r *Repository) Create(ctx context.Context, c *Coupon) (*Coupon, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO coupons (store_id, title, code, discount, status, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+couponColumns,
		c.StoreID, c.Title, c.Code, c.Discount, StatusPending, c.ExpiresAt)
	created, err := scan(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateCode
		}
		return nil, err
	}
	return created, nil
}

// SetStatus moves a coupon to the given status. Returns shared.ErrNotFound if
// the coupon does not exist.
func (r *Repository) SetStatus(ctx context.Context, id string, status Status) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE coupons SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Delete removes a coupon owned by the given store.
func (r *Repository) Delete(ctx context.Context, id, storeID string) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM coupons WHERE id = $1 AND store_id = $2`, id, storeID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// StoreOwner returns the account id owning the given store.
func (r *Repository) StoreOwner(ctx context.Context, storeID string) (string, error) {
	var owner string
	err := r.pool.QueryRow(ctx,
		`SELECT owner_id FROM stores WHERE id = $1`, storeID).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", shared.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return owner, nil
}

func collect(rows pgx.Rows) ([]Coupon, error) {
	var out []Coupon
	for rows.Next() {
		var c Coupon
		if err := rows.Scan(&c.ID, &c.StoreID, &c.Title, &c.Code, &c.Discount, &c.Status, &c.ExpiresAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scan(row pgx.Row) (*Coupon, error) {
	var c Coupon
	if err := row.Scan(&c.ID, &c.StoreID, &c.Title, &c.Code, &c.Discount, &c.Status, &c.ExpiresAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}
