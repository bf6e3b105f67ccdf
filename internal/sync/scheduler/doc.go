// Package scheduler runs sync jobs on their cron schedules.
//
// Each enabled job owns one cron timer. A timer fires on its own goroutine and calls
// ExecuteSyncJob, which is also the entry point for manual and webhook triggered runs.
// At most one execution runs per job key (source:jobID); a second attempt while the
// first is in flight returns ErrJobInFlight without touching the store.
//
// A failed execution is retried after BaseRetryDelay * 2^retryCount while retryCount
// is below the job's maxRetries. Pending retries are cancelled when the job is
// unscheduled, disabled, deleted or when the scheduler stops.
package scheduler
