package http

import (
	"net/http"
	"time"

	"github.com/kalimotxo/enginewatch/internal/api/identity"
	"github.com/kalimotxo/enginewatch/internal/api/store"
	"github.com/kalimotxo/enginewatch/pkg/httpx"
)

type healthChecks struct {
	Database string `json:"database,omitempty"`
	Keys     string `json:"keys,omitempty"`
}

// keyReadiness is implemented by providers that cache signing keys.
type keyReadiness interface {
	KeysReady() bool
}

type healthResponse struct {
	Status  string        `json:"status"`
	Uptime  string        `json:"uptime"`
	Version string        `json:"version"`
	Checks  *healthChecks `json:"checks,omitempty"`
}

// LivezHandler reports process liveness. Always 200 while the process
// can serve requests at all.
func LivezHandler(startTime time.Time, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, healthResponse{
			Status:  "ok",
			Uptime:  time.Since(startTime).String(),
			Version: version,
		})
	}
}

// ReadyzHandler reports readiness, checking the database connection and
// the provider's signing-key cache when the provider exposes one.
// Broker health is deliberately not a readiness gate; the read API
// stays useful during a broker outage.
func ReadyzHandler(startTime time.Time, version string, st store.Store, provider identity.Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := &healthChecks{Database: "ok"}
		status := "ok"
		code := http.StatusOK

		if err := st.Ping(r.Context()); err != nil {
			checks.Database = "error: " + err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
		}

		if kr, ok := provider.(keyReadiness); ok {
			checks.Keys = "ok"
			if !kr.KeysReady() {
				checks.Keys = "error: no signing keys cached"
				status = "degraded"
				code = http.StatusServiceUnavailable
			}
		}

		httpx.WriteJSON(w, code, healthResponse{
			Status:  status,
			Uptime:  time.Since(startTime).String(),
			Version: version,
			Checks:  checks,
		})
	}
}
