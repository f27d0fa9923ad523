// Package keycloak adapts Keycloak's OpenID Connect and admin APIs to
// the identity.Provider contract. All Keycloak-specific behaviour lives
// here.
package keycloak

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kalimotxo/enginewatch/internal/api/identity"
	"github.com/kalimotxo/enginewatch/pkg/slogx"
)

const (
	defaultTimeout = 10 * time.Second

	// defaultSettleDelay is how long to wait before the fallback
	// username search after user creation. Keycloak assigns the id
	// out-of-band and the new user is not always queryable immediately.
	defaultSettleDelay = 500 * time.Millisecond
)

type Config struct {
	ServerURL    string
	Realm        string
	ClientID     string
	ClientSecret string

	// Timeout bounds every HTTP call to the provider. Zero means the
	// default of 10s; exceeding it surfaces as ErrProviderUnavailable.
	Timeout time.Duration
}

// Provider implements identity.Provider against a Keycloak realm.
type Provider struct {
	clientID     string
	clientSecret string

	tokenURL string
	jwksURL  string
	adminURL string

	client *http.Client
	keys   *keyCache

	settleDelay time.Duration
}

func New(cfg Config) *Provider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	base := strings.TrimRight(cfg.ServerURL, "/")
	client := &http.Client{Timeout: timeout}

	jwksURL := fmt.Sprintf("%s/realms/%s/protocol/openid-connect/certs", base, cfg.Realm)

	return &Provider{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		tokenURL:     fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", base, cfg.Realm),
		jwksURL:      jwksURL,
		adminURL:     fmt.Sprintf("%s/admin/realms/%s", base, cfg.Realm),
		client:       client,
		keys:         newKeyCache(client, jwksURL),
		settleDelay:  defaultSettleDelay,
	}
}

// Login implements the OAuth2 password grant.
func (p *Provider) Login(ctx context.Context, username, password string) (identity.TokenBundle, error) {
	return p.tokenGrant(ctx, url.Values{
		"grant_type":    {"password"},
		"client_id":     {p.clientID},
		"client_secret": {p.clientSecret},
		"username":      {username},
		"password":      {password},
	}, identity.ErrUnauthorized)
}

// RefreshToken exchanges a refresh token for a fresh bundle. Any
// rejection collapses to ErrUnauthorized.
func (p *Provider) RefreshToken(ctx context.Context, refreshToken string) (identity.TokenBundle, error) {
	return p.tokenGrant(ctx, url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {p.clientID},
		"client_secret": {p.clientSecret},
		"refresh_token": {refreshToken},
	}, identity.ErrUnauthorized)
}

// tokenGrant posts to the token endpoint and normalizes the response.
// rejectErr is returned for 4xx rejections so login and refresh can
// share the transport handling.
func (p *Provider) tokenGrant(ctx context.Context, form url.Values, rejectErr error) (identity.TokenBundle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return identity.TokenBundle{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return identity.TokenBundle{}, fmt.Errorf("%w: %w", identity.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return identity.TokenBundle{}, rejectErr
	default:
		return identity.TokenBundle{}, fmt.Errorf("%w: token endpoint returned %d",
			identity.ErrProviderUnavailable, resp.StatusCode)
	}

	var body struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return identity.TokenBundle{}, fmt.Errorf("%w: decoding token response: %w",
			identity.ErrProviderUnavailable, err)
	}

	return identity.TokenBundle{
		AccessToken:  body.AccessToken,
		TokenType:    "bearer",
		RefreshToken: body.RefreshToken,
		ExpiresIn:    body.ExpiresIn,
	}, nil
}

// doJSON performs a request with an optional JSON body and bearer token,
// mapping transport failures to ErrProviderUnavailable. The caller owns
// the response body.
func (p *Provider) doJSON(ctx context.Context, method, target, bearer string, payload any) (*http.Response, error) {
	var body *strings.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = strings.NewReader(string(raw))
	} else {
		body = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", identity.ErrProviderUnavailable, err)
	}
	return resp, nil
}

func logProviderError(ctx context.Context, op string, err error) {
	slogx.FromContext(ctx).Warn("identity provider call failed", "op", op, "err", err)
}
