package models

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsNull(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		value    any
		expected bool
	}{
		{name: "nil", value: nil, expected: true},
		{name: "empty string", value: "", expected: true},
		{name: "empty list", value: []any{}, expected: true},
		{name: "empty string list", value: []string{}, expected: true},
		{name: "empty map", value: map[string]any{}, expected: true},
		{name: "zero number", value: float64(0), expected: false},
		{name: "false", value: false, expected: false},
		{name: "string", value: "high", expected: false},
		{name: "list", value: []any{"a"}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, IsNull(tt.value))
		})
	}
}

func TestValuesEqual(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		a, b     any
		expected bool
	}{
		{name: "same string", a: "high", b: "high", expected: true},
		{name: "different string", a: "high", b: "medium", expected: false},
		{name: "int and float after round trip", a: 443, b: float64(443), expected: true},
		{name: "string slice and any slice", a: []string{"10.0.0.1"}, b: []any{"10.0.0.1"}, expected: true},
		{name: "slice order matters", a: []string{"a", "b"}, b: []string{"b", "a"}, expected: false},
		{name: "nil and nil", a: nil, b: nil, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, ValuesEqual(tt.a, tt.b))
		})
	}
}

func TestEntityClone(t *testing.T) {
	t.Parallel()

	now := time.Now()
	e := &Entity{
		ID:   uuid.New(),
		Kind: KindAsset,
		Fields: map[string]FieldValue{
			"ipv4": {Value: []any{"10.0.0.1"}, Source: "tenable", UpdatedAt: now},
		},
		Links: []ExternalRef{{Source: "tenable", ExternalID: "a-1"}},
	}

	c := e.Clone()
	c.Fields["ipv4"].Value.([]any)[0] = "10.0.0.2"
	c.Links[0].ExternalID = "changed"

	assert.Equal(t, []any{"10.0.0.1"}, e.Value("ipv4"))
	assert.True(t, e.HasLink("tenable", "a-1"))
	assert.Nil(t, e.Value("missing"))
}

func TestErrorHelpers(t *testing.T) {
	t.Parallel()

	validation := fmt.Errorf("create job: %w", NewValidationError("schedule", "invalid cron %q", "bad"))
	notFound := fmt.Errorf("lookup: %w", NewNotFoundError("subscription", "tenable.scanCompleted"))
	adapter := NewAdapterError("tenable", "fetch", errors.New("connection refused"))
	auth := &AuthenticationError{Source: "tenable", Message: "signature mismatch"}

	assert.True(t, IsValidation(validation))
	assert.False(t, IsValidation(notFound))
	assert.True(t, IsNotFound(notFound))
	assert.True(t, IsAdapter(adapter))
	assert.True(t, IsAuthentication(auth))
	assert.Contains(t, validation.Error(), "schedule")
	assert.Equal(t, "subscription not found: tenable.scanCompleted", errors.Unwrap(notFound).Error())

	var ae *AdapterError
	require.ErrorAs(t, adapter, &ae)
	assert.EqualError(t, ae.Unwrap(), "connection refused")
}

func TestConflictCompetingValues(t *testing.T) {
	t.Parallel()

	c := &Conflict{
		StoredValue: "high", StoredSource: "tenable",
		IncomingValue: "medium", IncomingSource: "xacta",
	}
	assert.Equal(t, map[string]any{"tenable": "high", "xacta": "medium"}, c.CompetingValues())
	assert.Equal(t, 3, ConflictStats{Pending: 1, Resolved: 2}.Total())
}

func TestSyncJobKey(t *testing.T) {
	t.Parallel()

	job := &SyncJob{ID: "j1", Source: "tenable"}
	assert.Equal(t, "tenable:j1", job.Key())
	assert.True(t, ExecutionFailed.Terminal())
	assert.False(t, ExecutionRunning.Terminal())
}
