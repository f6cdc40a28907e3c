package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/partnerportal/portal/internal/members"
	"github.com/partnerportal/portal/internal/metroareas"
	"github.com/partnerportal/portal/internal/observability"
	"github.com/partnerportal/portal/internal/partners"
	"github.com/partnerportal/portal/internal/platform/httpx"
	"github.com/partnerportal/portal/internal/policy"
	"github.com/partnerportal/portal/internal/resources"
	"github.com/partnerportal/portal/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics

	// Authenticate resolves the caller; every API route sits behind it.
	Authenticate func(http.Handler) http.Handler
	// Policy gates operator routes to super admins. Without an evaluator
	// those routes are not mounted.
	Policy policy.Middleware

	PartnersHandler   *partners.Handler
	MembersHandler    *members.Handler
	ResourcesHandler  *resources.Handler
	MetroAreasHandler *metroareas.Handler
	JobHandler        *jobs.Handler
}

// NewRouter constructs the chi.Router with portal defaults.
func NewRouter(params RouterParams) http.Handler {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}
	r.Use(requestLogger(logger))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Error(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.Error(w, http.StatusMethodNotAllowed, "")
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	r.Group(func(r chi.Router) {
		if params.Authenticate != nil {
			r.Use(params.Authenticate)
		}
		if params.PartnersHandler != nil {
			params.PartnersHandler.MountRoutes(r)
		}
		if params.MembersHandler != nil {
			params.MembersHandler.MountRoutes(r)
		}
		if params.ResourcesHandler != nil {
			params.ResourcesHandler.MountRoutes(r)
		}
		if params.MetroAreasHandler != nil {
			params.MetroAreasHandler.MountRoutes(r)
		}
		if params.JobHandler != nil && params.Policy.Evaluator != nil {
			r.With(params.Policy.RequireSuperAdmin()).Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
