// Package auth exposes the login and logout surface over the identity store.
package auth

import (
	"context"

	"golang.org/x/crypto/bcrypt"

	"github.com/dealport/dealport/internal/identity"
	"github.com/dealport/dealport/internal/shared"
)

// Service wraps authentication business rules.
type Service struct {
	repo identity.Repository
}

// NewService constructs a new Service.
func NewService(repo identity.Repository) *Service {
	return &Service{repo: repo}
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*identity.Account, error) {
	acc, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !acc.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return acc, nil
}
