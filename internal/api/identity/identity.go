// Package identity defines the provider-neutral authentication contract.
// Exactly one concrete implementation (keycloak) is wired at startup;
// business code only ever sees this package's types.
package identity

import (
	"context"
	"errors"
)

// Failure taxonomy shared by every provider implementation. The HTTP
// layer translates these to status codes; callers must not learn more
// than the category (a bad signature and an expired token both surface
// as ErrUnauthorized).
var (
	// ErrUnauthorized covers rejected credentials and any invalid,
	// expired or malformed token.
	ErrUnauthorized = errors.New("identity: unauthorized")

	// ErrForbidden means authenticated but missing a required role.
	ErrForbidden = errors.New("identity: forbidden")

	// ErrConflict means the provider reports the identity already exists.
	ErrConflict = errors.New("identity: already exists")

	// ErrNotFound means the provider has no such user.
	ErrNotFound = errors.New("identity: not found")

	// ErrProviderUnavailable covers transport errors and timeouts
	// talking to the provider. Callers may retry; ErrUnauthorized they
	// must not.
	ErrProviderUnavailable = errors.New("identity: provider unavailable")

	// ErrInconsistent means provisioning apparently succeeded but the
	// provider's response did not reveal the new stable id.
	ErrInconsistent = errors.New("identity: provider state inconsistent")
)

// Identity is the normalized view of an externally authenticated user.
// It is re-derived from each validated credential, never persisted.
type Identity struct {
	ID            string // the provider's stable, immutable identifier
	Username      string
	Email         string
	FirstName     string
	LastName      string
	Roles         []string // flattened across all claim locations, deduped
	Active        bool
	EmailVerified bool
	Raw           map[string]any // opaque provider payload
}

// TokenBundle is a normalized token response.
type TokenBundle struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
}

// NewUser carries the fields needed to provision an identity. The secret
// is handed to the provider verbatim; this service never hashes or
// stores it.
type NewUser struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// Provider is the capability set an identity provider implementation
// must satisfy. Add providers by adding implementations, never by
// branching on provider type in business logic.
type Provider interface {
	// Login exchanges credentials for tokens. Rejected credentials are
	// ErrUnauthorized; an unreachable provider is ErrProviderUnavailable.
	Login(ctx context.Context, username, password string) (TokenBundle, error)

	// DecodeToken validates a bearer token against the provider's
	// current signing keys and extracts the normalized Identity.
	DecodeToken(ctx context.Context, token string) (Identity, error)

	// RefreshToken exchanges a refresh token for a fresh bundle.
	RefreshToken(ctx context.Context, refreshToken string) (TokenBundle, error)

	// CreateUser provisions a new identity with the provider.
	CreateUser(ctx context.Context, u NewUser) (Identity, error)

	// Administrative operations.
	GetUserByID(ctx context.Context, id string) (Identity, error)
	UpdateUser(ctx context.Context, id string, fields map[string]any) (Identity, error)
	DeleteUser(ctx context.Context, id string) (bool, error)
	AssignRole(ctx context.Context, id, role string) (bool, error)
	RemoveRole(ctx context.Context, id, role string) (bool, error)
}
