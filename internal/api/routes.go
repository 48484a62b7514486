package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/exigo-bridge/internal/domain"
	"github.com/ignite/exigo-bridge/internal/metrics"
	"github.com/ignite/exigo-bridge/internal/pkg/httputil"
	"github.com/ignite/exigo-bridge/internal/tenant"
	"github.com/ignite/exigo-bridge/internal/worker"
)

// CompanyLookup finds wired companies.
type CompanyLookup interface {
	Get(id string) (*tenant.Company, bool)
	All() []*tenant.Company
}

// SnapshotLister reads snapshot metadata.
type SnapshotLister interface {
	ListSnapshots(ctx context.Context, companyID string, limit int) ([]domain.SnapshotSummary, error)
}

// TransitionLister reads the audit log.
type TransitionLister interface {
	ListTransitions(ctx context.Context, companyID string, limit int) ([]domain.CustomerTypeTransition, error)
}

// SyncTrigger starts a background run.
type SyncTrigger interface {
	Trigger(job worker.Job) error
}

// Deps is everything the router serves from. Snapshots, Transitions,
// Trigger and Health may be nil; their routes then answer 503.
type Deps struct {
	Companies      CompanyLookup
	Snapshots      SnapshotLister
	Transitions    TransitionLister
	Trigger        SyncTrigger
	Health         *HealthChecker
	AdminToken     string
	AllowedOrigins []string
}

// NewRouter configures all routes.
func NewRouter(deps Deps) *chi.Mux {
	h := &handlers{deps: deps}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(httputil.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	health := deps.Health
	if health == nil {
		health = NewHealthChecker(nil, nil)
	}
	r.Get("/health", health.HandleHealth)
	r.Get("/health/live", health.HandleLiveness)
	r.Get("/health/ready", health.HandleReadiness)
	r.Handle("/metrics", metrics.Handler())

	// Fluid-signed routes.
	r.Post("/webhooks/fluid/{companyID}", h.fluidWebhook)
	r.Post("/callbacks/{companyID}/customer-tier", h.customerTierCallback)

	r.Route("/api", func(r chi.Router) {
		r.Use(adminAuth(deps.AdminToken))
		r.Get("/companies", h.listCompanies)
		r.Route("/companies/{companyID}", func(r chi.Router) {
			r.Put("/customers/{customerID}/tier", h.overrideTier)
			r.Post("/sync", h.triggerSync)
			r.Get("/snapshots", h.listSnapshots)
			r.Get("/transitions", h.listTransitions)
		})
	})
	return r
}

// adminAuth requires "Authorization: Bearer <token>". An empty token
// locks the admin API entirely.
func adminAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if token == "" || !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				httputil.Unauthorized(w, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
