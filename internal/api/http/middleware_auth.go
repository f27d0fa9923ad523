package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/kalimotxo/enginewatch/internal/api/domain"
	"github.com/kalimotxo/enginewatch/internal/api/identity"
	"github.com/kalimotxo/enginewatch/internal/api/service"
	"github.com/kalimotxo/enginewatch/pkg/httpx"
)

// authenticate validates the bearer token with the identity provider,
// resolves the local mirror row and stores both on the request context.
// The mirror row is resolved on every authenticated request, so the
// first request a new identity makes is what creates its local row.
func authenticate(provider identity.Provider, users *service.UserService) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}

			ident, err := provider.DecodeToken(r.Context(), token)
			if err != nil {
				writeDomainError(w, r, err)
				return
			}

			user, err := users.Resolve(r.Context(), ident)
			if err != nil {
				writeDomainError(w, r, err)
				return
			}
			if !user.Active {
				httpx.WriteError(w, http.StatusForbidden, "forbidden", "account disabled")
				return
			}

			ctx := context.WithValue(r.Context(), httpx.CtxKeyIdentity, ident)
			ctx = context.WithValue(ctx, httpx.CtxKeyUser, user)
			ctx = httpx.WithRoles(ctx, ident.Roles)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(auth, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return token, true
}

func identityFromContext(ctx context.Context) (identity.Identity, bool) {
	ident, ok := ctx.Value(httpx.CtxKeyIdentity).(identity.Identity)
	return ident, ok
}

func userFromContext(ctx context.Context) (domain.User, bool) {
	u, ok := ctx.Value(httpx.CtxKeyUser).(domain.User)
	return u, ok
}
