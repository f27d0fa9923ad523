package keycloak

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kalimotxo/enginewatch/internal/api/identity"
	"github.com/kalimotxo/enginewatch/pkg/jwtx"
)

// keyCache wraps a jwtx.KeySet with the fetch logic for the realm's
// JWKS endpoint. Refreshes are serialized so a burst of unknown-kid
// tokens after a key rotation triggers a single refetch.
type keyCache struct {
	client  *http.Client
	jwksURL string

	refreshMu sync.Mutex
	set       *jwtx.KeySet
}

func newKeyCache(client *http.Client, jwksURL string) *keyCache {
	return &keyCache{
		client:  client,
		jwksURL: jwksURL,
		set:     jwtx.NewKeySet(),
	}
}

// get returns the key for kid, refetching the JWKS once on a miss.
func (c *keyCache) get(ctx context.Context, kid string) (any, error) {
	if pk, err := c.set.Get(kid); err == nil {
		return pk, nil
	}

	if err := c.refresh(ctx); err != nil {
		return nil, err
	}
	return c.set.Get(kid)
}

func (c *keyCache) refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.jwksURL, nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: fetching jwks: %w", identity.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: jwks endpoint returned %d",
			identity.ErrProviderUnavailable, resp.StatusCode)
	}

	var jwks jwtx.JWKS
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return fmt.Errorf("%w: decoding jwks: %w", identity.ErrProviderUnavailable, err)
	}
	return c.set.ResetFromJWKS(jwks)
}

// KeysReady reports whether at least one realm signing key is cached.
// Readiness probes use it: until the first JWKS fetch succeeds no
// bearer token can validate.
func (p *Provider) KeysReady() bool {
	return p.keys.set.IsReady()
}

// WarmKeys prefetches the realm JWKS so the first request after boot
// does not pay the fetch. Failures are retried lazily on the next
// unknown-kid decode.
func (p *Provider) WarmKeys(ctx context.Context) error {
	return p.keys.refresh(ctx)
}

// accessClaims models the subset of Keycloak's access token claims the
// service cares about.
type accessClaims struct {
	jwt.RegisteredClaims

	PreferredUsername string `json:"preferred_username"`
	Email             string `json:"email"`
	GivenName         string `json:"given_name"`
	FamilyName        string `json:"family_name"`
	EmailVerified     bool   `json:"email_verified"`

	RealmAccess struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`

	ResourceAccess map[string]struct {
		Roles []string `json:"roles"`
	} `json:"resource_access"`
}

// DecodeToken validates an RS256 access token against the realm's
// published keys and extracts the normalized identity. Every validation
// failure collapses to ErrUnauthorized; only an unreachable JWKS
// endpoint surfaces as ErrProviderUnavailable.
func (p *Provider) DecodeToken(ctx context.Context, token string) (identity.Identity, error) {
	claims := &accessClaims{}

	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token missing kid header")
		}
		return p.keys.get(ctx, kid)
	}, jwt.WithValidMethods([]string{"RS256"}))
	if err != nil {
		if errors.Is(err, identity.ErrProviderUnavailable) {
			return identity.Identity{}, err
		}
		return identity.Identity{}, identity.ErrUnauthorized
	}
	if !parsed.Valid || claims.Subject == "" {
		return identity.Identity{}, identity.ErrUnauthorized
	}

	return identity.Identity{
		ID:            claims.Subject,
		Username:      claims.PreferredUsername,
		Email:         claims.Email,
		FirstName:     claims.GivenName,
		LastName:      claims.FamilyName,
		Roles:         mergeRoles(claims, p.clientID),
		Active:        true,
		EmailVerified: claims.EmailVerified,
	}, nil
}

// mergeRoles flattens realm roles and this client's resource roles into
// one sorted, deduplicated list.
func mergeRoles(claims *accessClaims, clientID string) []string {
	seen := make(map[string]struct{})
	for _, r := range claims.RealmAccess.Roles {
		seen[r] = struct{}{}
	}
	if res, ok := claims.ResourceAccess[clientID]; ok {
		for _, r := range res.Roles {
			seen[r] = struct{}{}
		}
	}

	roles := make([]string, 0, len(seen))
	for r := range seen {
		roles = append(roles, r)
	}
	sort.Strings(roles)
	return roles
}
