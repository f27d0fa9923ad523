package keycloak

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/kalimotxo/enginewatch/internal/api/identity"
	"github.com/kalimotxo/enginewatch/pkg/jwtx"
)

// fakeRealm is an in-process stand-in for the handful of Keycloak
// endpoints the provider talks to.
type fakeRealm struct {
	t *testing.T

	signKey *rsa.PrivateKey
	kid     string

	// handlers keyed by "METHOD path" for admin routes; unmatched
	// requests 404.
	handlers map[string]http.HandlerFunc

	// rejectPassword makes the password grant fail with 401.
	rejectPassword bool

	jwksFetches int
}

func newFakeRealm(t *testing.T) *fakeRealm {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	return &fakeRealm{
		t:        t,
		signKey:  key,
		kid:      "kid-1",
		handlers: map[string]http.HandlerFunc{},
	}
}

func (f *fakeRealm) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/realms/test/protocol/openid-connect/token":
		_ = r.ParseForm()
		if f.rejectPassword && r.PostFormValue("grant_type") == "password" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "at-" + r.PostFormValue("grant_type"),
			"refresh_token": "rt-" + r.PostFormValue("grant_type"),
			"expires_in":    300,
		})
	case r.Method == http.MethodGet && r.URL.Path == "/realms/test/protocol/openid-connect/certs":
		f.jwksFetches++
		_ = json.NewEncoder(w).Encode(jwtx.JWKS{
			Keys: []jwtx.JWK{jwtx.NewRSAJWK(f.kid, "sig", "RS256", &f.signKey.PublicKey)},
		})
	default:
		if h, ok := f.handlers[r.Method+" "+r.URL.Path]; ok {
			h(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}
}

// start wires the fake realm into a provider with a short settle delay.
func (f *fakeRealm) start() (*Provider, *httptest.Server) {
	srv := httptest.NewServer(f)
	f.t.Cleanup(srv.Close)

	p := New(Config{
		ServerURL:    srv.URL,
		Realm:        "test",
		ClientID:     "enginewatch",
		ClientSecret: "secret",
		Timeout:      2 * time.Second,
	})
	p.settleDelay = 5 * time.Millisecond
	return p, srv
}

// sign issues an RS256 token with the realm's current key.
func (f *fakeRealm) sign(claims jwt.MapClaims) string {
	f.t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = f.kid
	signed, err := token.SignedString(f.signKey)
	require.NoError(f.t, err)
	return signed
}

func TestLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("valid credentials return a bundle", func(t *testing.T) {
		realm := newFakeRealm(t)
		p, _ := realm.start()

		bundle, err := p.Login(ctx, "alice", "pw")
		require.NoError(t, err)
		require.Equal(t, "at-password", bundle.AccessToken)
		require.Equal(t, "rt-password", bundle.RefreshToken)
		require.Equal(t, "bearer", bundle.TokenType)
		require.Equal(t, 300, bundle.ExpiresIn)
	})

	t.Run("rejected credentials map to ErrUnauthorized", func(t *testing.T) {
		realm := newFakeRealm(t)
		realm.rejectPassword = true
		p, _ := realm.start()

		_, err := p.Login(ctx, "alice", "wrong")
		require.ErrorIs(t, err, identity.ErrUnauthorized)
	})

	t.Run("unreachable provider maps to ErrProviderUnavailable", func(t *testing.T) {
		realm := newFakeRealm(t)
		p, srv := realm.start()
		srv.Close()

		_, err := p.Login(ctx, "alice", "pw")
		require.ErrorIs(t, err, identity.ErrProviderUnavailable)
	})
}

func TestRefreshToken(t *testing.T) {
	realm := newFakeRealm(t)
	p, _ := realm.start()

	bundle, err := p.RefreshToken(context.Background(), "rt-old")
	require.NoError(t, err)
	require.Equal(t, "at-refresh_token", bundle.AccessToken)
}

func baseClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":                "kc-alice",
		"preferred_username": "alice",
		"email":              "alice@example.com",
		"given_name":         "Alice",
		"family_name":        "Doe",
		"email_verified":     true,
		"exp":                time.Now().Add(time.Minute).Unix(),
		"realm_access":       map[string]any{"roles": []string{"user", "admin"}},
		"resource_access": map[string]any{
			"enginewatch": map[string]any{"roles": []string{"user", "operator"}},
			"other-app":   map[string]any{"roles": []string{"ignored"}},
		},
	}
}

func TestDecodeToken(t *testing.T) {
	ctx := context.Background()

	t.Run("valid token yields normalized identity", func(t *testing.T) {
		realm := newFakeRealm(t)
		p, _ := realm.start()

		ident, err := p.DecodeToken(ctx, realm.sign(baseClaims()))
		require.NoError(t, err)
		require.Equal(t, "kc-alice", ident.ID)
		require.Equal(t, "alice", ident.Username)
		require.Equal(t, "alice@example.com", ident.Email)
		require.True(t, ident.EmailVerified)

		// Realm roles and this client's resource roles merge deduped;
		// other clients' roles stay out.
		require.Equal(t, []string{"admin", "operator", "user"}, ident.Roles)
	})

	t.Run("expired token maps to ErrUnauthorized", func(t *testing.T) {
		realm := newFakeRealm(t)
		p, _ := realm.start()

		claims := baseClaims()
		claims["exp"] = time.Now().Add(-time.Minute).Unix()
		_, err := p.DecodeToken(ctx, realm.sign(claims))
		require.ErrorIs(t, err, identity.ErrUnauthorized)
	})

	t.Run("garbage token maps to ErrUnauthorized", func(t *testing.T) {
		realm := newFakeRealm(t)
		p, _ := realm.start()

		_, err := p.DecodeToken(ctx, "not.a.jwt")
		require.ErrorIs(t, err, identity.ErrUnauthorized)
	})

	t.Run("key rotation triggers one refetch", func(t *testing.T) {
		realm := newFakeRealm(t)
		p, _ := realm.start()

		_, err := p.DecodeToken(ctx, realm.sign(baseClaims()))
		require.NoError(t, err)
		fetchesBefore := realm.jwksFetches

		// Rotate the realm key. The cached set no longer knows the new
		// kid, so the next decode must refetch exactly once.
		newKey, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		realm.signKey = newKey
		realm.kid = "kid-2"

		_, err = p.DecodeToken(ctx, realm.sign(baseClaims()))
		require.NoError(t, err)
		require.Equal(t, fetchesBefore+1, realm.jwksFetches)
	})

	t.Run("unknown kid after refetch maps to ErrUnauthorized", func(t *testing.T) {
		realm := newFakeRealm(t)
		p, _ := realm.start()

		orphan, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)

		token := jwt.NewWithClaims(jwt.SigningMethodRS256, baseClaims())
		token.Header["kid"] = "kid-unpublished"
		signed, err := token.SignedString(orphan)
		require.NoError(t, err)

		_, err = p.DecodeToken(ctx, signed)
		require.ErrorIs(t, err, identity.ErrUnauthorized)
	})
}

func TestWarmKeys(t *testing.T) {
	ctx := context.Background()

	t.Run("prefetch makes the key cache ready", func(t *testing.T) {
		realm := newFakeRealm(t)
		p, _ := realm.start()

		require.False(t, p.KeysReady())
		require.NoError(t, p.WarmKeys(ctx))
		require.True(t, p.KeysReady())
		require.Equal(t, 1, realm.jwksFetches)
	})

	t.Run("unreachable realm leaves the cache cold", func(t *testing.T) {
		realm := newFakeRealm(t)
		p, srv := realm.start()
		srv.Close()

		require.ErrorIs(t, p.WarmKeys(ctx), identity.ErrProviderUnavailable)
		require.False(t, p.KeysReady())
	})
}

func TestCreateUser(t *testing.T) {
	ctx := context.Background()
	newUser := identity.NewUser{
		Username: "bob", Email: "bob@example.com", Password: "pw",
		FirstName: "Bob", LastName: "Ray",
	}
	bobJSON := kcUser{
		ID: "kc-bob", Username: "bob", Email: "bob@example.com",
		FirstName: "Bob", LastName: "Ray", Enabled: true,
	}

	t.Run("id recovered from Location header", func(t *testing.T) {
		realm := newFakeRealm(t)
		realm.handlers["POST /admin/realms/test/users"] = func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Location", r.Host+"/admin/realms/test/users/kc-bob")
			w.WriteHeader(http.StatusCreated)
		}
		realm.handlers["GET /admin/realms/test/users/kc-bob"] = func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(bobJSON)
		}
		p, _ := realm.start()

		ident, err := p.CreateUser(ctx, newUser)
		require.NoError(t, err)
		require.Equal(t, "kc-bob", ident.ID)
		require.True(t, ident.Active)
	})

	t.Run("id recovered by username search when Location is absent", func(t *testing.T) {
		realm := newFakeRealm(t)
		realm.handlers["POST /admin/realms/test/users"] = func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusCreated)
		}
		realm.handlers["GET /admin/realms/test/users"] = func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "bob", r.URL.Query().Get("username"))
			require.Equal(t, "true", r.URL.Query().Get("exact"))
			_ = json.NewEncoder(w).Encode([]kcUser{bobJSON})
		}
		p, _ := realm.start()

		ident, err := p.CreateUser(ctx, newUser)
		require.NoError(t, err)
		require.Equal(t, "kc-bob", ident.ID)
	})

	t.Run("duplicate maps to ErrConflict", func(t *testing.T) {
		realm := newFakeRealm(t)
		realm.handlers["POST /admin/realms/test/users"] = func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusConflict)
		}
		p, _ := realm.start()

		_, err := p.CreateUser(ctx, newUser)
		require.ErrorIs(t, err, identity.ErrConflict)
	})

	t.Run("unrecoverable id maps to ErrInconsistent", func(t *testing.T) {
		realm := newFakeRealm(t)
		realm.handlers["POST /admin/realms/test/users"] = func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusCreated)
		}
		realm.handlers["GET /admin/realms/test/users"] = func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode([]kcUser{})
		}
		p, _ := realm.start()

		_, err := p.CreateUser(ctx, newUser)
		require.ErrorIs(t, err, identity.ErrInconsistent)
	})
}

func TestGetUserByID(t *testing.T) {
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		realm := newFakeRealm(t)
		realm.handlers["GET /admin/realms/test/users/kc-alice"] = func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(kcUser{ID: "kc-alice", Username: "alice", Enabled: false})
		}
		p, _ := realm.start()

		ident, err := p.GetUserByID(ctx, "kc-alice")
		require.NoError(t, err)
		require.False(t, ident.Active)
	})

	t.Run("missing maps to ErrNotFound", func(t *testing.T) {
		realm := newFakeRealm(t)
		p, _ := realm.start()

		_, err := p.GetUserByID(ctx, "kc-ghost")
		require.ErrorIs(t, err, identity.ErrNotFound)
	})
}

func TestDeleteUser(t *testing.T) {
	ctx := context.Background()

	realm := newFakeRealm(t)
	realm.handlers["DELETE /admin/realms/test/users/kc-bob"] = func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}
	p, _ := realm.start()

	ok, err := p.DeleteUser(ctx, "kc-bob")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = p.DeleteUser(ctx, "kc-ghost")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRoleMappings(t *testing.T) {
	ctx := context.Background()

	realm := newFakeRealm(t)
	realm.handlers["GET /admin/realms/test/roles/admin"] = func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(kcRole{ID: "role-1", Name: "admin"})
	}
	realm.handlers["POST /admin/realms/test/users/kc-alice/role-mappings/realm"] = func(w http.ResponseWriter, r *http.Request) {
		var roles []kcRole
		require.NoError(t, json.NewDecoder(r.Body).Decode(&roles))
		require.Len(t, roles, 1)
		require.Equal(t, "role-1", roles[0].ID)
		w.WriteHeader(http.StatusNoContent)
	}
	realm.handlers["DELETE /admin/realms/test/users/kc-alice/role-mappings/realm"] = func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}
	p, _ := realm.start()

	t.Run("assign", func(t *testing.T) {
		ok, err := p.AssignRole(ctx, "kc-alice", "admin")
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("remove", func(t *testing.T) {
		ok, err := p.RemoveRole(ctx, "kc-alice", "admin")
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("unknown role reports false", func(t *testing.T) {
		ok, err := p.AssignRole(ctx, "kc-alice", "nope")
		require.NoError(t, err)
		require.False(t, ok)
	})
}
