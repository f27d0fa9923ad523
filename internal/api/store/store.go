package store

import (
	"context"
	"errors"

	"github.com/kalimotxo/enginewatch/internal/api/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers (sqlite for
// now) implement this; it exposes sub-repositories to keep concerns tidy
// and testable.
type Store interface {
	Users() Users
	Readings() Readings

	ApplyMigrations() error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

type Users interface {
	// GetByProviderID returns the local mirror row for a provider id.
	GetByProviderID(ctx context.Context, providerID string) (domain.User, error)

	// GetByID returns a user by its local numeric id.
	GetByID(ctx context.Context, id int64) (domain.User, error)

	// Create inserts a new local user. Returns ErrAlreadyExists when the
	// provider id or email collides with an existing row; callers racing
	// on the same identity use that as the retry signal.
	Create(ctx context.Context, u domain.User) (domain.User, error)

	// SetProfileCompleted mutates the local-only flag and bumps updated_at.
	SetProfileCompleted(ctx context.Context, id int64, completed bool) error

	// List returns all local users ordered by creation (oldest first).
	List(ctx context.Context) ([]domain.User, error)
}

type Readings interface {
	// Insert appends one telemetry reading. The store assigns ID and
	// CreatedAt; rows are never updated or deleted afterwards.
	Insert(ctx context.Context, r domain.Reading) (domain.Reading, error)

	// ListRecent returns up to limit readings, most recent first.
	ListRecent(ctx context.Context, limit int) ([]domain.Reading, error)

	// CountAll returns the total number of stored readings.
	CountAll(ctx context.Context) (int64, error)
}
