package http

import (
	"errors"
	"net/http"

	"github.com/kalimotxo/enginewatch/internal/api/identity"
	"github.com/kalimotxo/enginewatch/internal/api/store"
	"github.com/kalimotxo/enginewatch/pkg/httpx"
	"github.com/kalimotxo/enginewatch/pkg/slogx"
)

// writeDomainError maps the service error taxonomy onto HTTP statuses.
// Anything unmapped is a 500 with a generic body; the detail goes to the
// log, never to the client.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, identity.ErrUnauthorized):
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid credentials or token")
	case errors.Is(err, identity.ErrForbidden):
		httpx.WriteError(w, http.StatusForbidden, "forbidden", "missing required role")
	case errors.Is(err, identity.ErrConflict):
		httpx.WriteError(w, http.StatusConflict, "conflict", "resource already exists")
	case errors.Is(err, identity.ErrNotFound), errors.Is(err, store.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, identity.ErrProviderUnavailable):
		httpx.WriteError(w, http.StatusServiceUnavailable, "provider_unavailable", "identity provider unreachable")
	default:
		slogx.FromContext(r.Context()).Error("unhandled error", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
