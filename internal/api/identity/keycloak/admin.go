package keycloak

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/kalimotxo/enginewatch/internal/api/identity"
)

// kcUser is Keycloak's admin-API user representation.
type kcUser struct {
	ID            string `json:"id,omitempty"`
	Username      string `json:"username"`
	Email         string `json:"email,omitempty"`
	FirstName     string `json:"firstName,omitempty"`
	LastName      string `json:"lastName,omitempty"`
	Enabled       bool   `json:"enabled"`
	EmailVerified bool   `json:"emailVerified,omitempty"`
}

func (u kcUser) identity() identity.Identity {
	return identity.Identity{
		ID:            u.ID,
		Username:      u.Username,
		Email:         u.Email,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		Active:        u.Enabled,
		EmailVerified: u.EmailVerified,
	}
}

// adminToken obtains a service-account token via the client_credentials
// grant. Tokens are not cached; admin operations are rare enough that a
// grant per operation keeps the flow stateless.
func (p *Provider) adminToken(ctx context.Context) (string, error) {
	bundle, err := p.tokenGrant(ctx, url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {p.clientID},
		"client_secret": {p.clientSecret},
	}, identity.ErrProviderUnavailable)
	if err != nil {
		return "", fmt.Errorf("admin token: %w", err)
	}
	return bundle.AccessToken, nil
}

// CreateUser provisions a user in the realm. Keycloak's create endpoint
// returns 201 with no body, so the new id has to be recovered: first
// from the Location header, then by a username search after a short
// settle delay. If neither reveals the id the realm now holds a user
// this service cannot address, which is ErrInconsistent.
func (p *Provider) CreateUser(ctx context.Context, nu identity.NewUser) (identity.Identity, error) {
	token, err := p.adminToken(ctx)
	if err != nil {
		return identity.Identity{}, err
	}

	payload := map[string]any{
		"username":      nu.Username,
		"email":         nu.Email,
		"firstName":     nu.FirstName,
		"lastName":      nu.LastName,
		"enabled":       true,
		"emailVerified": false,
		"credentials": []map[string]any{{
			"type":      "password",
			"value":     nu.Password,
			"temporary": false,
		}},
	}

	resp, err := p.doJSON(ctx, http.MethodPost, p.adminURL+"/users", token, payload)
	if err != nil {
		return identity.Identity{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		// fall through to id recovery
	case http.StatusConflict:
		return identity.Identity{}, identity.ErrConflict
	default:
		return identity.Identity{}, fmt.Errorf("%w: create user returned %d",
			identity.ErrProviderUnavailable, resp.StatusCode)
	}

	if loc := resp.Header.Get("Location"); loc != "" {
		if id := path.Base(loc); id != "" && id != "." && id != "/" {
			return p.GetUserByID(ctx, id)
		}
	}

	// No Location header. Give the provider a moment to settle, then
	// find the user by exact username.
	select {
	case <-time.After(p.settleDelay):
	case <-ctx.Done():
		return identity.Identity{}, ctx.Err()
	}

	found, err := p.searchByUsername(ctx, token, nu.Username)
	if err != nil {
		return identity.Identity{}, err
	}
	if found == nil {
		logProviderError(ctx, "create_user", identity.ErrInconsistent)
		return identity.Identity{}, identity.ErrInconsistent
	}
	return found.identity(), nil
}

// searchByUsername returns the user matching the exact username, or nil.
func (p *Provider) searchByUsername(ctx context.Context, token, username string) (*kcUser, error) {
	target := fmt.Sprintf("%s/users?username=%s&exact=true", p.adminURL, url.QueryEscape(username))

	resp, err := p.doJSON(ctx, http.MethodGet, target, token, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: user search returned %d",
			identity.ErrProviderUnavailable, resp.StatusCode)
	}

	var users []kcUser
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		return nil, fmt.Errorf("%w: decoding user search: %w",
			identity.ErrProviderUnavailable, err)
	}
	for i := range users {
		if strings.EqualFold(users[i].Username, username) {
			return &users[i], nil
		}
	}
	return nil, nil
}

// GetUserByID fetches the provider's view of a user.
func (p *Provider) GetUserByID(ctx context.Context, id string) (identity.Identity, error) {
	token, err := p.adminToken(ctx)
	if err != nil {
		return identity.Identity{}, err
	}
	return p.getUser(ctx, token, id)
}

func (p *Provider) getUser(ctx context.Context, token, id string) (identity.Identity, error) {
	resp, err := p.doJSON(ctx, http.MethodGet, p.adminURL+"/users/"+url.PathEscape(id), token, nil)
	if err != nil {
		return identity.Identity{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return identity.Identity{}, identity.ErrNotFound
	default:
		return identity.Identity{}, fmt.Errorf("%w: get user returned %d",
			identity.ErrProviderUnavailable, resp.StatusCode)
	}

	var u kcUser
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return identity.Identity{}, fmt.Errorf("%w: decoding user: %w",
			identity.ErrProviderUnavailable, err)
	}
	return u.identity(), nil
}

// UpdateUser applies a partial update and returns the provider's
// post-update view.
func (p *Provider) UpdateUser(ctx context.Context, id string, fields map[string]any) (identity.Identity, error) {
	token, err := p.adminToken(ctx)
	if err != nil {
		return identity.Identity{}, err
	}

	resp, err := p.doJSON(ctx, http.MethodPut, p.adminURL+"/users/"+url.PathEscape(id), token, fields)
	if err != nil {
		return identity.Identity{}, err
	}
	resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK:
	case http.StatusNotFound:
		return identity.Identity{}, identity.ErrNotFound
	default:
		return identity.Identity{}, fmt.Errorf("%w: update user returned %d",
			identity.ErrProviderUnavailable, resp.StatusCode)
	}

	return p.getUser(ctx, token, id)
}

// DeleteUser removes the user from the realm. Deleting an unknown id
// reports false without error.
func (p *Provider) DeleteUser(ctx context.Context, id string) (bool, error) {
	token, err := p.adminToken(ctx)
	if err != nil {
		return false, err
	}

	resp, err := p.doJSON(ctx, http.MethodDelete, p.adminURL+"/users/"+url.PathEscape(id), token, nil)
	if err != nil {
		return false, err
	}
	resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("%w: delete user returned %d",
			identity.ErrProviderUnavailable, resp.StatusCode)
	}
}

// kcRole is Keycloak's realm role representation.
type kcRole struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AssignRole grants a realm role to a user. Unknown role or user
// reports false without error.
func (p *Provider) AssignRole(ctx context.Context, id, role string) (bool, error) {
	return p.changeRoleMapping(ctx, http.MethodPost, id, role)
}

// RemoveRole revokes a realm role from a user.
func (p *Provider) RemoveRole(ctx context.Context, id, role string) (bool, error) {
	return p.changeRoleMapping(ctx, http.MethodDelete, id, role)
}

func (p *Provider) changeRoleMapping(ctx context.Context, method, id, role string) (bool, error) {
	token, err := p.adminToken(ctx)
	if err != nil {
		return false, err
	}

	r, err := p.lookupRole(ctx, token, role)
	if err != nil {
		return false, err
	}
	if r == nil {
		return false, nil
	}

	target := p.adminURL + "/users/" + url.PathEscape(id) + "/role-mappings/realm"
	resp, err := p.doJSON(ctx, method, target, token, []kcRole{*r})
	if err != nil {
		return false, err
	}
	resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("%w: role mapping returned %d",
			identity.ErrProviderUnavailable, resp.StatusCode)
	}
}

// lookupRole resolves a realm role by name, returning nil when the
// realm has no such role.
func (p *Provider) lookupRole(ctx context.Context, token, role string) (*kcRole, error) {
	resp, err := p.doJSON(ctx, http.MethodGet, p.adminURL+"/roles/"+url.PathEscape(role), token, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: get role returned %d",
			identity.ErrProviderUnavailable, resp.StatusCode)
	}

	var r kcRole
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("%w: decoding role: %w", identity.ErrProviderUnavailable, err)
	}
	return &r, nil
}
