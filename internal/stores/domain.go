package stores

import "time"

// Status tracks a store's standing on the marketplace.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// Store is a merchant storefront.
type Store struct {
	ID        string
	OwnerID   string
	Name      string
	Slug      string
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}
