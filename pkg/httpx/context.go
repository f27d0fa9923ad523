package httpx

import "context"

type ctxKey string

// Context keys populated by the authentication middleware. Values are
// stored as the concrete domain types of the caller; this package only
// needs the role list for authorization decisions.
const (
	CtxKeyIdentity ctxKey = "identity"
	CtxKeyUser     ctxKey = "user"
	CtxKeyRoles    ctxKey = "roles"
)

// RolesFromContext returns the authenticated caller's role names, or nil.
func RolesFromContext(ctx context.Context) []string {
	if v, ok := ctx.Value(CtxKeyRoles).([]string); ok {
		return v
	}
	return nil
}

// WithRoles stores the caller's role names on the context.
func WithRoles(ctx context.Context, roles []string) context.Context {
	return context.WithValue(ctx, CtxKeyRoles, roles)
}
