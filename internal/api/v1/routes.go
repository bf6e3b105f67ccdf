// Package v1 provides the REST API handlers of the integration engine.
package v1

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/integration-sync/internal/enrichment"
	"github.com/stacklok/integration-sync/internal/health"
	"github.com/stacklok/integration-sync/internal/reconcile"
	"github.com/stacklok/integration-sync/internal/sources"
	"github.com/stacklok/integration-sync/internal/store"
	"github.com/stacklok/integration-sync/internal/sync/scheduler"
	"github.com/stacklok/integration-sync/internal/webhook"
)

// Services are the components the API exposes. Enricher may be nil when enrichment is disabled.
type Services struct {
	Scheduler     scheduler.Scheduler
	Sources       *sources.Registry
	Store         store.Store
	Resolver      *reconcile.Resolver
	Enricher      *enrichment.Enricher
	Subscriptions *webhook.SubscriptionService
	Monitor       *health.Monitor
}

// Routes holds the handlers of the v1 API
type Routes struct {
	svc *Services
}

// NewRoutes creates a new Routes instance with the provided services
func NewRoutes(svc *Services) *Routes {
	return &Routes{svc: svc}
}

// Router creates the router of the v1 API
func Router(svc *Services) http.Handler {
	routes := NewRoutes(svc)

	r := chi.NewRouter()

	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", routes.listJobs)
		r.Post("/", routes.createJob)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", routes.getJob)
			r.Put("/", routes.updateJob)
			r.Delete("/", routes.deleteJob)
			r.Post("/enable", routes.enableJob)
			r.Post("/disable", routes.disableJob)
			r.Post("/trigger", routes.triggerJob)
		})
	})

	r.Get("/sources", routes.listSources)
	r.Post("/sources/{source}/sync", routes.manualSync)
	r.Get("/sources/{source}/test", routes.testSource)

	r.Get("/executions", routes.listExecutions)
	r.Get("/executions/{id}", routes.getExecution)

	r.Get("/entities", routes.listEntities)
	r.Get("/entities/{id}", routes.getEntity)
	r.Post("/entities/{id}/enrich", routes.enrichEntity)

	r.Get("/conflicts", routes.listConflicts)
	r.Get("/conflicts/{id}", routes.getConflict)
	r.Post("/conflicts/{id}/resolve", routes.resolveConflict)

	r.Route("/webhooks", func(r chi.Router) {
		r.Get("/subscriptions", routes.listSubscriptions)
		r.Post("/subscriptions", routes.createSubscription)
		r.Get("/subscriptions/{id}", routes.getSubscription)
		r.Delete("/subscriptions/{id}", routes.deleteSubscription)
		r.Get("/deliveries", routes.listDeliveries)
	})

	r.Get("/health/dashboard", routes.healthDashboard)

	return r
}
