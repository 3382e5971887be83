package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/quazardous/qdadm/internal/config"
	"github.com/quazardous/qdadm/internal/definition"
	"github.com/quazardous/qdadm/internal/observability"
	"github.com/quazardous/qdadm/internal/options"
	"github.com/quazardous/qdadm/internal/screen"
	"github.com/quazardous/qdadm/internal/search"
	"github.com/quazardous/qdadm/model"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config       *config.Config
	Logger       *zap.Logger
	Metrics      *observability.Metrics
	Definitions  *definition.Registry
	Options      *options.Resolver
	Search       *search.Provider
	Capabilities model.CapabilityResolver
	// Screen carries the page controller wiring. Notifier and Confirmer
	// are replaced per request.
	Screen screen.Deps
	// Authenticate is the auth middleware; nil disables authentication
	// (tests only).
	Authenticate func(http.Handler) http.Handler
	// Ready supplies the readiness probe checks.
	Ready observability.ReadinessChecks
}

// server carries the resolved dependencies behind the handlers.
type server struct {
	logger      *zap.Logger
	metrics     *observability.Metrics
	definitions *definition.Registry
	options     *options.Resolver
	search      *search.Provider
	screen      screen.Deps
}

// screenDeps returns a copy of the screen wiring bound to request-scoped
// notification and confirmation sinks.
func (s *server) screenDeps(notifier model.Notifier, confirmer model.Confirmer) screen.Deps {
	deps := s.screen
	deps.Notifier = notifier
	deps.Confirmer = confirmer
	return deps
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &server{
		logger:      logger,
		metrics:     deps.Metrics,
		definitions: deps.Definitions,
		options:     deps.Options,
		search:      deps.Search,
		screen:      deps.Screen,
	}

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	r.Use(observability.TracingMiddleware)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}

	// Public routes bypass authentication.
	r.Get("/healthz", observability.HandleHealth())
	r.Get("/readyz", observability.HandleReady(deps.Ready))
	metricsPath := deps.Config.Observability.Metrics.Path
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	r.Method(http.MethodGet, metricsPath, observability.Handler())

	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	r.Route("/admin", func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildRequestContext(deps.Config.Identity.ClaimPaths))
		r.Use(ResolveCapabilities(deps.Capabilities, logger))
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))

		r.Get("/navigation", handleNavigation(deps.Screen.Nav))
		r.Get("/search", s.handleSearch())

		r.Route("/{entity}", func(r chi.Router) {
			r.Get("/", s.handleListPage())
			r.Post("/clear-filters", s.handleClearFilters())
			r.Post("/bulk-delete", s.handleBulkDelete())
			r.Get("/options/{filter}", s.handleFilterOptions())

			r.Get("/form", s.handleGetForm())
			r.Post("/form", s.handleSubmitForm())
			// Static "leave" wins over the {id} param in chi, so the
			// create-mode guard endpoint stays unambiguous.
			r.Post("/form/leave", s.handleLeaveForm())
			r.Get("/form/{id}", s.handleGetForm())
			r.Post("/form/{id}", s.handleSubmitForm())
			r.Post("/form/{id}/leave", s.handleLeaveForm())

			r.Get("/show/{id}", s.handleShowPage())
			r.Delete("/{id}", s.handleDeleteRecord())
		})
	})

	return r
}
