package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/kalimotxo/enginewatch/internal/api/identity"
	"github.com/kalimotxo/enginewatch/internal/api/service"
	"github.com/kalimotxo/enginewatch/internal/api/store"
	"github.com/kalimotxo/enginewatch/pkg/httpx"
	"github.com/kalimotxo/enginewatch/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store            store.Store
	provider         identity.Provider
	UserService      *service.UserService
	TelemetryService *service.TelemetryService
}

func NewRouter(
	provider identity.Provider,
	buildVersion string,
	st store.Store,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		provider:     provider,
		logger:       logger,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerAuth()
	r.registerUsers()
	r.registerTelemetry()
	r.registerSystem()
}

// ServeHTTP implements http.Handler for Router and applies the global
// middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerAuth() {
	h := &AuthHandler{Provider: r.provider, UserService: r.UserService}

	// Login is limited per IP and per target username so one attacker
	// cannot exhaust another user's budget.
	r.Mux.Handle("POST /v1/auth/login",
		httpx.Chain(http.HandlerFunc(h.HandleLogin),
			httpx.RateLimitByIPAndJSONField(httpx.StrictLimit, "username"),
		),
	)
	r.Mux.Handle("POST /v1/auth/refresh",
		httpx.Chain(http.HandlerFunc(h.HandleRefresh),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)
	r.Mux.Handle("POST /v1/auth/register",
		httpx.Chain(http.HandlerFunc(h.HandleRegister),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
}

func (r *Router) registerUsers() {
	h := &UsersHandler{Provider: r.provider, UserService: r.UserService}
	authed := authenticate(r.provider, r.UserService)

	r.Mux.Handle("GET /v1/users/me",
		httpx.Chain(http.HandlerFunc(h.HandleMe),
			httpx.RateLimitByIP(httpx.LenientLimit),
			authed,
		),
	)
	r.Mux.Handle("PATCH /v1/users/me/profile",
		httpx.Chain(http.HandlerFunc(h.HandleProfile),
			httpx.RateLimitByIP(httpx.ModerateLimit),
			authed,
		),
	)
	r.Mux.Handle("GET /v1/users",
		httpx.Chain(http.HandlerFunc(h.HandleList),
			httpx.RateLimitByIP(httpx.ModerateLimit),
			authed,
			httpx.RequireAnyRole("admin"),
		),
	)
}

func (r *Router) registerTelemetry() {
	h := &TelemetryHandler{TelemetryService: r.TelemetryService}
	authed := authenticate(r.provider, r.UserService)

	r.Mux.Handle("GET /v1/telemetry/latest",
		httpx.Chain(http.HandlerFunc(h.HandleLatest),
			httpx.RateLimitByIP(httpx.LenientLimit),
			authed,
		),
	)
	r.Mux.Handle("GET /v1/telemetry/history",
		httpx.Chain(http.HandlerFunc(h.HandleHistory),
			httpx.RateLimitByIP(httpx.LenientLimit),
			authed,
		),
	)
	r.Mux.Handle("GET /v1/telemetry/stats",
		httpx.Chain(http.HandlerFunc(h.HandleStats),
			httpx.RateLimitByIP(httpx.LenientLimit),
			authed,
		),
	)
}

func (r *Router) registerSystem() {
	r.Mux.HandleFunc("GET /livez", LivezHandler(r.startTime, r.buildVersion))
	r.Mux.HandleFunc("GET /readyz", ReadyzHandler(r.startTime, r.buildVersion, r.store, r.provider))
}
