package coupons

import "time"

// Status tracks a coupon through its moderation lifecycle.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// Coupon is a store's published deal.
type Coupon struct {
	ID        string
	StoreID   string
	Title     string
	Code      string
	Discount  int
	Status    Status
	ExpiresAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}
