// Package service holds the business logic between the HTTP layer and
// the store and identity provider.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/kalimotxo/enginewatch/internal/api/domain"
	"github.com/kalimotxo/enginewatch/internal/api/identity"
	"github.com/kalimotxo/enginewatch/internal/api/store"
)

// UserService mirrors provider identities into the local users table.
// The provider owns credentials and profile truth; the local row only
// carries what request handling needs (numeric id, active flag,
// profile_completed).
type UserService struct {
	users store.Users
}

func NewUserService(users store.Users) *UserService {
	return &UserService{users: users}
}

// Resolve returns the local user row for a provider identity, creating
// it on first sight. Two requests for the same new identity may race;
// the loser's insert fails on the provider_id unique constraint and is
// settled by re-reading the winner's row. Resolve is idempotent.
func (s *UserService) Resolve(ctx context.Context, ident identity.Identity) (domain.User, error) {
	u, err := s.users.GetByProviderID(ctx, ident.ID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.User{}, fmt.Errorf("resolving user: %w", err)
	}

	created, err := s.users.Create(ctx, domain.User{
		ProviderID: ident.ID,
		Username:   ident.Username,
		Email:      ident.Email,
		Active:     ident.Active,
	})
	if err == nil {
		return created, nil
	}
	if !errors.Is(err, store.ErrAlreadyExists) {
		return domain.User{}, fmt.Errorf("creating user: %w", err)
	}

	// Lost the insert race. The winner's row exists now.
	u, err = s.users.GetByProviderID(ctx, ident.ID)
	if err != nil {
		return domain.User{}, fmt.Errorf("re-reading user after insert race: %w", err)
	}
	return u, nil
}

// CompleteProfile flips the user's profile_completed flag.
func (s *UserService) CompleteProfile(ctx context.Context, userID int64) (domain.User, error) {
	if err := s.users.SetProfileCompleted(ctx, userID, true); err != nil {
		return domain.User{}, fmt.Errorf("completing profile: %w", err)
	}

	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return domain.User{}, fmt.Errorf("reloading user: %w", err)
	}
	return u, nil
}

// List returns every mirrored user.
func (s *UserService) List(ctx context.Context) ([]domain.User, error) {
	return s.users.List(ctx)
}
