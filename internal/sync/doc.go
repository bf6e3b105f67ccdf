// Package sync runs the fetch, normalize, reconcile and enrich pipeline for one source.
//
// # Core Interfaces
//
//   - Manager: pages through an adapter, normalizes records, reconciles them into
//     canonical entities and scores the entities that changed
//
// # Result Types
//
//   - Result: counts of fetched, created, updated and conflicted records plus per-record errors
//   - Error: structured failure carrying a Reason such as ReasonFetchFailed
//
// Scheduling, retries and the in-flight guard live in the scheduler subpackage.
// Per-record failures never abort a run; a failed page fetch does, and records
// applied before it stay applied.
package sync
