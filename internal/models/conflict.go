package models

import (
	"time"

	"github.com/google/uuid"
)

// ConflictStatus is the resolution state of a Conflict
type ConflictStatus string

const (
	// ConflictPending awaits resolution
	ConflictPending ConflictStatus = "pending"
	// ConflictResolved has a chosen value written back to the entity
	ConflictResolved ConflictStatus = "resolved"
)

// Severity ranks conflicts by the importance of the disputed field
type Severity string

const (
	// SeverityHigh applies to identity and classification fields
	SeverityHigh Severity = "high"
	// SeverityMedium applies to scores and timestamps
	SeverityMedium Severity = "medium"
	// SeverityLow applies to descriptive fields
	SeverityLow Severity = "low"
)

// ResolvedBySystem marks conflicts settled by the automatic policy
const ResolvedBySystem = "system"

// Conflict records two sources disagreeing on one field of one entity
type Conflict struct {
	ID             uuid.UUID      `json:"id"`
	EntityID       uuid.UUID      `json:"entityId"`
	EntityKind     EntityKind     `json:"entityKind"`
	Field          string         `json:"field"`
	StoredValue    any            `json:"storedValue"`
	StoredSource   string         `json:"storedSource"`
	StoredAt       time.Time      `json:"storedAt"`
	IncomingValue  any            `json:"incomingValue"`
	IncomingSource string         `json:"incomingSource"`
	IncomingAt     time.Time      `json:"incomingAt"`
	Severity       Severity       `json:"severity"`
	Status         ConflictStatus `json:"status"`
	ResolvedValue  any            `json:"resolvedValue,omitempty"`
	ResolvedBy     string         `json:"resolvedBy,omitempty"`
	ResolvedAt     *time.Time     `json:"resolvedAt,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	// Created is set on results of a store write when the conflict was inserted rather than refreshed
	Created bool `json:"-"`
}

// CompetingValues returns the disputed values keyed by source
func (c *Conflict) CompetingValues() map[string]any {
	return map[string]any{
		c.StoredSource:   c.StoredValue,
		c.IncomingSource: c.IncomingValue,
	}
}

// ConflictStats summarises the conflict queue
type ConflictStats struct {
	Pending      int `json:"pending"`
	Resolved     int `json:"resolved"`
	AutoResolved int `json:"autoResolved"`
}

// Total returns the number of conflicts ever recorded
func (s ConflictStats) Total() int {
	return s.Pending + s.Resolved
}
