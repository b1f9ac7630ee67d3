// Package ratelimit implements fixed-window request budgeting against a
// pluggable counter store.
package ratelimit

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// KeyPart names a component of a rate-limit identifier.
type KeyPart string

const (
	PartIP        KeyPart = "ip"
	PartPrincipal KeyPart = "principal"
	PartRoute     KeyPart = "route"
)

// Policy is a named fixed-window budget.
type Policy struct {
	Name     string        `validate:"required"`
	Window   time.Duration `validate:"required,gt=0"`
	Max      int           `validate:"required,gt=0"`
	KeyParts []KeyPart     `validate:"min=1"`
}

// Default policy set. Window and max are overridable through configuration;
// names and key composition are fixed.
var (
	PolicyRead = Policy{
		Name:     "read",
		Window:   time.Minute,
		Max:      120,
		KeyParts: []KeyPart{PartIP, PartRoute},
	}
	PolicyWrite = Policy{
		Name:     "write",
		Window:   time.Minute,
		Max:      30,
		KeyParts: []KeyPart{PartIP, PartPrincipal, PartRoute},
	}
	PolicyAuth = Policy{
		Name:     "auth",
		Window:   15 * time.Minute,
		Max:      10,
		KeyParts: []KeyPart{PartIP},
	}
	PolicySensitive = Policy{
		Name:     "sensitive",
		Window:   time.Hour,
		Max:      15,
		KeyParts: []KeyPart{PartPrincipal, PartRoute},
	}
)

// Validate checks the policy invariants.
func (p Policy) Validate() error {
	if err := validator.New().Struct(p); err != nil {
		return fmt.Errorf("ratelimit: policy %q: %w", p.Name, err)
	}
	return nil
}
