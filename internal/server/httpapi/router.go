package httpapi

import (
	"net/http"

	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/metrics"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// RouterDeps bundles everything NewRouter wires together.
type RouterDeps struct {
	Gate     Gate
	Resetter Resetter
	Users    UserLister
	Logger   logging.Logger
	Metrics  metrics.Recorder

	// MetricsHandler is mounted at /metrics when set.
	MetricsHandler http.Handler
	// RateLimiter guards the unauthenticated /auth endpoints when set.
	RateLimiter *RateLimiter
	// TrustProxyHeaders takes the client address from X-Forwarded-For /
	// X-Real-IP. Enable only behind a proxy that overwrites them.
	TrustProxyHeaders bool
}

// NewRouter builds the chi router.
//
// Middleware order: RealIP (when proxy headers are trusted), request id,
// recovery, access log.
// /auth/* is public; /users/* requires an active bearer.
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger.With("module", "http")
	rec := deps.Metrics
	if rec == nil {
		rec = metrics.Nop{}
	}

	h := &handlers{
		gate:     deps.Gate,
		resetter: deps.Resetter,
		users:    deps.Users,
		logger:   logger,
	}

	r := chi.NewRouter()
	if deps.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(requestID)
	r.Use(recovery(logger))
	r.Use(accessLog(logger, rec))

	r.Get("/healthz", healthz)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// Clients configured with the bare token URL still reach the login route.
	r.Post("/token", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/auth/token", http.StatusTemporaryRedirect)
	})

	r.Route("/auth", func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware)
		}
		r.Post("/token", h.login)
		r.Post("/reset-password", h.requestReset)
		r.Post("/set-new-password", h.setNewPassword)
	})

	r.Route("/users", func(r chi.Router) {
		r.Use(requireActiveUser(deps.Gate, logger))
		r.Get("/", h.listUsers)
		r.Get("/me", h.me)
	})

	return r
}
