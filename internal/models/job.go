package models

import (
	"time"
)

// SyncJob is a scheduled synchronization of one source
type SyncJob struct {
	ID         string         `json:"id" yaml:"id"`
	Name       string         `json:"name" yaml:"name"`
	Source     string         `json:"source" yaml:"source"`
	Schedule   string         `json:"schedule" yaml:"schedule"`
	Filters    map[string]any `json:"filters,omitempty" yaml:"filters,omitempty"`
	RetryCount int            `json:"retryCount" yaml:"retryCount,omitempty"`
	MaxRetries int            `json:"maxRetries" yaml:"maxRetries,omitempty"`
	Enabled    bool           `json:"enabled" yaml:"enabled"`
	Timezone   string         `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	CreatedAt  time.Time      `json:"createdAt" yaml:"-"`
	UpdatedAt  time.Time      `json:"updatedAt" yaml:"-"`
}

// Key returns the concurrency guard key for the job
func (j *SyncJob) Key() string {
	return JobKey(j.Source, j.ID)
}

// JobKey builds the concurrency guard key from a source and job id
func JobKey(source, jobID string) string {
	return source + ":" + jobID
}

// ExecutionStatus is the lifecycle state of a SyncExecution
type ExecutionStatus string

const (
	// ExecutionRunning means the execution is in flight
	ExecutionRunning ExecutionStatus = "running"
	// ExecutionCompleted means the execution finished
	ExecutionCompleted ExecutionStatus = "completed"
	// ExecutionFailed means the execution aborted with an error
	ExecutionFailed ExecutionStatus = "failed"
)

// Terminal reports whether the status is final
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed
}

// TriggerType records how an execution was started
type TriggerType string

const (
	// TriggerScheduled is a cron-driven run
	TriggerScheduled TriggerType = "scheduled"
	// TriggerRetry is a backoff retry of a failed run
	TriggerRetry TriggerType = "retry"
	// TriggerManual is an operator- or webhook-initiated run
	TriggerManual TriggerType = "manual"
)

// SyncExecution is one run of a SyncJob
type SyncExecution struct {
	ID               string          `json:"id"`
	JobID            string          `json:"jobId"`
	Source           string          `json:"source"`
	Trigger          TriggerType     `json:"trigger"`
	Attempt          int             `json:"attempt"`
	Status           ExecutionStatus `json:"status"`
	StartedAt        time.Time       `json:"startedAt"`
	CompletedAt      *time.Time      `json:"completedAt,omitempty"`
	RecordsProcessed int             `json:"recordsProcessed"`
	RecordsCreated   int             `json:"recordsCreated"`
	RecordsUpdated   int             `json:"recordsUpdated"`
	ConflictsCreated int             `json:"conflictsCreated"`
	Errors           []string        `json:"errors,omitempty"`
}

// Duration returns the elapsed time of a finished execution, or zero while running
func (e *SyncExecution) Duration() time.Duration {
	if e.CompletedAt == nil {
		return 0
	}
	return e.CompletedAt.Sub(e.StartedAt)
}
