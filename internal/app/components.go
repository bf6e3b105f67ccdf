package app

import (
	"github.com/stacklok/integration-sync/internal/enrichment"
	"github.com/stacklok/integration-sync/internal/health"
	"github.com/stacklok/integration-sync/internal/reconcile"
	"github.com/stacklok/integration-sync/internal/sources"
	"github.com/stacklok/integration-sync/internal/store"
	pkgsync "github.com/stacklok/integration-sync/internal/sync"
	"github.com/stacklok/integration-sync/internal/sync/scheduler"
	"github.com/stacklok/integration-sync/internal/webhook"
)

// AppComponents groups all application components
//
//nolint:revive // This name is fine
type AppComponents struct {
	// Store persists entities, conflicts, jobs, executions and webhook state
	Store store.Store

	// Sources resolves adapters by source name
	Sources *sources.Registry

	// Manager runs the fetch, normalize and reconcile pipeline
	Manager pkgsync.Manager

	// Scheduler runs jobs on their cron schedules
	Scheduler scheduler.Scheduler

	// Resolver settles conflicts on behalf of a human
	Resolver *reconcile.Resolver

	// Enricher scores entities; nil when enrichment is not configured
	Enricher *enrichment.Enricher

	Subscriptions *webhook.SubscriptionService
	Gateway       *webhook.Gateway

	// Monitor computes and caches the health dashboard
	Monitor *health.Monitor
}
