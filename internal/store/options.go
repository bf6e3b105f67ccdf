package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stacklok/integration-sync/internal/models"
)

// Option sets a filter on a list operation. Options not understood by the
// operation fail with an error.
type Option func(o any) error

type kindOption interface {
	setKind(kind models.EntityKind) error
}

type sourceOption interface {
	setSource(source string) error
}

type limitOption interface {
	setLimit(limit int) error
}

type offsetOption interface {
	setOffset(offset int) error
}

type statusOption interface {
	setStatus(status string) error
}

type sinceOption interface {
	setSince(since time.Time) error
}

type jobIDOption interface {
	setJobID(jobID string) error
}

type entityIDOption interface {
	setEntityID(id uuid.UUID) error
}

type eventTypeOption interface {
	setEventType(eventType string) error
}

// WithKind filters by entity kind
func WithKind(kind models.EntityKind) Option {
	return func(o any) error {
		if !kind.Valid() {
			return models.NewValidationError("kind", "unknown entity kind %q", kind)
		}
		switch o := o.(type) {
		case kindOption:
			return o.setKind(kind)
		default:
			return fmt.Errorf("invalid option type: %T", o)
		}
	}
}

// WithSource filters by source name
func WithSource(source string) Option {
	return func(o any) error {
		if source == "" {
			return models.NewValidationError("source", "must not be empty")
		}
		switch o := o.(type) {
		case sourceOption:
			return o.setSource(source)
		default:
			return fmt.Errorf("invalid option type: %T", o)
		}
	}
}

// WithLimit caps the number of results. Limits above MaxListLimit are clamped.
func WithLimit(limit int) Option {
	return func(o any) error {
		if limit <= 0 {
			return models.NewValidationError("limit", "must be positive, got %d", limit)
		}
		switch o := o.(type) {
		case limitOption:
			return o.setLimit(min(limit, MaxListLimit))
		default:
			return fmt.Errorf("invalid option type: %T", o)
		}
	}
}

// WithOffset skips the first results
func WithOffset(offset int) Option {
	return func(o any) error {
		if offset < 0 {
			return models.NewValidationError("offset", "must not be negative, got %d", offset)
		}
		switch o := o.(type) {
		case offsetOption:
			return o.setOffset(offset)
		default:
			return fmt.Errorf("invalid option type: %T", o)
		}
	}
}

// WithStatus filters by conflict, execution or delivery status
func WithStatus(status string) Option {
	return func(o any) error {
		if status == "" {
			return models.NewValidationError("status", "must not be empty")
		}
		switch o := o.(type) {
		case statusOption:
			return o.setStatus(status)
		default:
			return fmt.Errorf("invalid option type: %T", o)
		}
	}
}

// WithSince keeps records started or received at or after since
func WithSince(since time.Time) Option {
	return func(o any) error {
		if since.IsZero() {
			return models.NewValidationError("since", "must not be zero")
		}
		switch o := o.(type) {
		case sinceOption:
			return o.setSince(since)
		default:
			return fmt.Errorf("invalid option type: %T", o)
		}
	}
}

// WithJobID filters executions by job
func WithJobID(jobID string) Option {
	return func(o any) error {
		if jobID == "" {
			return models.NewValidationError("jobId", "must not be empty")
		}
		switch o := o.(type) {
		case jobIDOption:
			return o.setJobID(jobID)
		default:
			return fmt.Errorf("invalid option type: %T", o)
		}
	}
}

// WithEntityID filters conflicts by entity
func WithEntityID(id uuid.UUID) Option {
	return func(o any) error {
		if id == uuid.Nil {
			return models.NewValidationError("entityId", "must not be nil")
		}
		switch o := o.(type) {
		case entityIDOption:
			return o.setEntityID(id)
		default:
			return fmt.Errorf("invalid option type: %T", o)
		}
	}
}

// WithEventType filters deliveries by event type
func WithEventType(eventType string) Option {
	return func(o any) error {
		if eventType == "" {
			return models.NewValidationError("eventType", "must not be empty")
		}
		switch o := o.(type) {
		case eventTypeOption:
			return o.setEventType(eventType)
		default:
			return fmt.Errorf("invalid option type: %T", o)
		}
	}
}

// ListEntitiesOptions holds the filters of ListEntities
type ListEntitiesOptions struct {
	Kind   models.EntityKind
	Source string
	Limit  int
	Offset int
}

func (o *ListEntitiesOptions) setKind(kind models.EntityKind) error {
	o.Kind = kind
	return nil
}

func (o *ListEntitiesOptions) setSource(source string) error {
	o.Source = source
	return nil
}

func (o *ListEntitiesOptions) setLimit(limit int) error {
	o.Limit = limit
	return nil
}

func (o *ListEntitiesOptions) setOffset(offset int) error {
	o.Offset = offset
	return nil
}

// ListConflictsOptions holds the filters of ListConflicts
type ListConflictsOptions struct {
	Status   models.ConflictStatus
	EntityID uuid.UUID
	Limit    int
}

func (o *ListConflictsOptions) setStatus(status string) error {
	s := models.ConflictStatus(status)
	if s != models.ConflictPending && s != models.ConflictResolved {
		return models.NewValidationError("status", "unknown conflict status %q", status)
	}
	o.Status = s
	return nil
}

func (o *ListConflictsOptions) setEntityID(id uuid.UUID) error {
	o.EntityID = id
	return nil
}

func (o *ListConflictsOptions) setLimit(limit int) error {
	o.Limit = limit
	return nil
}

// ListExecutionsOptions holds the filters of ListExecutions
type ListExecutionsOptions struct {
	JobID  string
	Source string
	Status models.ExecutionStatus
	Since  time.Time
	Limit  int
}

func (o *ListExecutionsOptions) setJobID(jobID string) error {
	o.JobID = jobID
	return nil
}

func (o *ListExecutionsOptions) setSource(source string) error {
	o.Source = source
	return nil
}

func (o *ListExecutionsOptions) setSince(since time.Time) error {
	o.Since = since
	return nil
}

func (o *ListExecutionsOptions) setLimit(limit int) error {
	o.Limit = limit
	return nil
}

func (o *ListExecutionsOptions) setStatus(status string) error {
	s := models.ExecutionStatus(status)
	if s != models.ExecutionRunning && !s.Terminal() {
		return models.NewValidationError("status", "unknown execution status %q", status)
	}
	o.Status = s
	return nil
}

// ListDeliveriesOptions holds the filters of ListDeliveries
type ListDeliveriesOptions struct {
	Source    string
	EventType string
	Status    models.DeliveryStatus
	Since     time.Time
	Limit     int
}

func (o *ListDeliveriesOptions) setSource(source string) error {
	o.Source = source
	return nil
}

func (o *ListDeliveriesOptions) setEventType(eventType string) error {
	o.EventType = eventType
	return nil
}

func (o *ListDeliveriesOptions) setSince(since time.Time) error {
	o.Since = since
	return nil
}

func (o *ListDeliveriesOptions) setLimit(limit int) error {
	o.Limit = limit
	return nil
}

func (o *ListDeliveriesOptions) setStatus(status string) error {
	switch s := models.DeliveryStatus(status); s {
	case models.DeliveryProcessing, models.DeliveryCompleted, models.DeliveryFailed:
		o.Status = s
		return nil
	default:
		return models.NewValidationError("status", "unknown delivery status %q", status)
	}
}

// NewListEntitiesOptions applies opts over the defaults
func NewListEntitiesOptions(opts ...Option) (*ListEntitiesOptions, error) {
	o := &ListEntitiesOptions{Limit: DefaultListLimit}
	return o, apply(o, opts)
}

// NewListConflictsOptions applies opts over the defaults
func NewListConflictsOptions(opts ...Option) (*ListConflictsOptions, error) {
	o := &ListConflictsOptions{Limit: DefaultListLimit}
	return o, apply(o, opts)
}

// NewListExecutionsOptions applies opts over the defaults
func NewListExecutionsOptions(opts ...Option) (*ListExecutionsOptions, error) {
	o := &ListExecutionsOptions{Limit: DefaultListLimit}
	return o, apply(o, opts)
}

// NewListDeliveriesOptions applies opts over the defaults
func NewListDeliveriesOptions(opts ...Option) (*ListDeliveriesOptions, error) {
	o := &ListDeliveriesOptions{Limit: DefaultListLimit}
	return o, apply(o, opts)
}

func apply(o any, opts []Option) error {
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return err
		}
	}
	return nil
}
