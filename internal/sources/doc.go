// Package sources adapts external security and compliance systems to the engine.
//
// Each configured source is served by an Adapter that knows how to test the
// connection, page through records of the entity kinds it supports, fetch a
// single record, and normalize raw records into models.NormalizedRecord.
//
// Implementations:
//   - TenableAdapter: vulnerability scanner API (assets, vulnerabilities)
//   - XactaAdapter: compliance API (systems, controls, POA&Ms, system-asset links),
//     with webhook registration
//   - SimulatedAdapter: deterministic in-process data in either shape
//
// Adapters share a per-source rate limiter and call timeout. Job filters are
// validated against the adapter's JSON schema before a job is stored.
package sources
