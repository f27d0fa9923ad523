package domain

import "time"

// User is the local mirror of an identity the external provider owns.
// The provider is the source of truth for credentials and roles; this row
// only carries the join key (ProviderID) and application-local state.
type User struct {
	ID               int64
	ProviderID       string // stable id assigned by the identity provider, immutable
	Username         string
	Email            string
	Active           bool
	ProfileCompleted bool // local-only, never touched by the provider
	CreatedAt        time.Time
	UpdatedAt        *time.Time
}
