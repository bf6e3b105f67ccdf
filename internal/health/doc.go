// Package health derives the integration health dashboard from the execution and
// delivery logs of the scheduler and the webhook gateway, plus entity, conflict and
// enrichment statistics. Dashboards are cached in memory or in redis and refreshed
// on a fixed interval.
package health
