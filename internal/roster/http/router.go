package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/roster/internal/roster/domain"
	"github.com/aussiebroadwan/roster/internal/roster/service"
	"github.com/aussiebroadwan/roster/internal/roster/store"
	"github.com/aussiebroadwan/roster/pkg/httpx"
	"github.com/aussiebroadwan/roster/pkg/jwtx"
	"github.com/aussiebroadwan/roster/pkg/slogx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	verifier     jwtx.Verifier
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger
	store        store.Store

	LoginService     *service.LoginService
	BootstrapService *service.BootstrapService
	ReconcileService *service.ReconcileService
	AttemptTracker   *service.AttemptTracker
	RetentionService *service.RetentionService

	// RetentionPolicy is what a manual advance runs with.
	RetentionPolicy domain.RetentionPolicy

	// Gatherer backs /metrics; nil leaves the route unregistered.
	Gatherer prometheus.Gatherer

	LoginLimit httpx.RateLimitConfig
	AdminLimit httpx.RateLimitConfig
}

func NewRouter(verifier jwtx.Verifier, buildVersion string, st store.Store, logger *slog.Logger) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		verifier:     verifier,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		logger:       logger,
		store:        st,
		LoginLimit:   httpx.LoginLimit,
		AdminLimit:   httpx.AdminLimit,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}
	return r
}

func (r *Router) ApplyRoutes() {
	r.registerAuth()
	r.registerDirectory()
	r.registerLockout()
	r.registerIdentities()
	r.registerRetention()
	r.registerSystem()
}

// ServeHTTP implements http.Handler and applies the global middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

// admin wraps h for authenticated callers holding one of roles.
func (r *Router) admin(h http.HandlerFunc, roles ...string) http.Handler {
	return httpx.Chain(h,
		httpx.Authn(r.verifier),
		httpx.RequireAnyRole(roles...),
		httpx.RateLimit(r.AdminLimit, httpx.SubjectKeyExtractor),
	)
}

func (r *Router) registerAuth() {
	login := &LoginHandler{LoginService: r.LoginService}

	// Buckets are per address and email; the lockout covers the email
	// across addresses.
	r.Mux.Handle("POST /v1/auth/login",
		httpx.Chain(login,
			httpx.RateLimit(r.LoginLimit, httpx.CompositeKeyExtractor("|",
				httpx.IPKeyExtractor, httpx.JSONFieldKeyExtractor("email"))),
		),
	)

	if r.BootstrapService != nil {
		bootstrap := &BootstrapHandler{BootstrapService: r.BootstrapService}
		r.Mux.Handle("POST /v1/bootstrap",
			httpx.Chain(bootstrap, httpx.RateLimit(r.LoginLimit, httpx.IPKeyExtractor)),
		)
	}
}

func (r *Router) registerDirectory() {
	h := &DirectoryHandler{ReconcileService: r.ReconcileService}

	r.Mux.Handle("POST /v1/admin/directory/sync", r.admin(h.HandleSync, string(domain.RoleAdmin)))
	r.Mux.Handle("GET /v1/admin/directory/status", r.admin(h.HandleStatus, string(domain.RoleAdmin)))
}

func (r *Router) registerLockout() {
	h := &LockoutHandler{AttemptTracker: r.AttemptTracker}

	r.Mux.Handle("GET /v1/admin/lockout", r.admin(h.HandleGet, string(domain.RoleAdmin)))
	r.Mux.Handle("POST /v1/admin/lockout/unlock", r.admin(h.HandleUnlock, string(domain.RoleAdmin)))
}

func (r *Router) registerIdentities() {
	h := &IdentitiesHandler{
		AttemptTracker:   r.AttemptTracker,
		RetentionService: r.RetentionService,
	}

	r.Mux.Handle("GET /v1/admin/identities/{id}/attempts", r.admin(h.HandleAttempts, string(domain.RoleAdmin)))
	r.Mux.Handle("POST /v1/admin/identities/{id}/deactivate", r.admin(h.HandleDeactivate, string(domain.RoleAdmin)))
}

func (r *Router) registerRetention() {
	h := &RetentionHandler{
		RetentionService: r.RetentionService,
		Policy:           r.RetentionPolicy,
	}

	r.Mux.Handle("POST /v1/admin/retention/advance", r.admin(h.HandleAdvance, string(domain.RoleAdmin)))
	r.Mux.Handle("GET /v1/admin/retention/stats",
		r.admin(h.HandleStats, string(domain.RoleAdmin), string(domain.RoleHR)))
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez", LivezHandler(r.startTime, r.buildVersion))
	r.Mux.Handle("GET /readyz", ReadyzHandler(r.startTime, r.buildVersion, r.store, r.ReconcileService))

	if r.Gatherer != nil {
		r.Mux.Handle("GET /metrics", promhttp.HandlerFor(r.Gatherer, promhttp.HandlerOpts{}))
	}
}
