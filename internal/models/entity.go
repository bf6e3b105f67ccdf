// Package models contains the domain types shared by the integration engine:
// canonical entities, sync jobs and executions, conflicts, webhook subscriptions
// and deliveries, and risk enrichments.
package models

import (
	"encoding/json"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
)

// EntityKind identifies the kind of canonical record
type EntityKind string

const (
	// KindAsset is a host or device reported by a scanner or a compliance system
	KindAsset EntityKind = "asset"
	// KindVulnerability is a finding on an asset
	KindVulnerability EntityKind = "vulnerability"
	// KindControl is a security control from a compliance framework
	KindControl EntityKind = "control"
	// KindSystem is an information system under authorization
	KindSystem EntityKind = "system"
	// KindPOAM is a plan of action and milestones item
	KindPOAM EntityKind = "poam"
)

// AllKinds lists every entity kind known to the engine
var AllKinds = []EntityKind{KindAsset, KindVulnerability, KindControl, KindSystem, KindPOAM}

// Valid reports whether k is a known entity kind
func (k EntityKind) Valid() bool {
	return slices.Contains(AllKinds, k)
}

// Vulnerability states as reported by scanners.
// StateFixed is terminal and kept apart from any workflow "resolved" state.
const (
	VulnStateOpen     = "open"
	VulnStateReopened = "reopened"
	VulnStateFixed    = "fixed"
)

// NormalizedRecord is the source-independent shape an adapter produces
type NormalizedRecord struct {
	Kind       EntityKind `json:"kind"`
	ExternalID string     `json:"externalId"`
	// CorrelationKey is a natural key shared across sources (for assets, the scanner UUID).
	// Empty when the source offers none.
	CorrelationKey string          `json:"correlationKey,omitempty"`
	Fields         map[string]any  `json:"fields"`
	Raw            json.RawMessage `json:"raw,omitempty"`
	ObservedAt     time.Time       `json:"observedAt"`
}

// FieldValue is a canonical field value together with its provenance
type FieldValue struct {
	Value     any       `json:"value"`
	Source    string    `json:"source"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ExternalRef links a canonical entity to the identifier a source uses for it
type ExternalRef struct {
	Source     string `json:"source"`
	ExternalID string `json:"externalId"`
}

// EntityRef is the lookup key used when reconciling an incoming record
type EntityRef struct {
	Source         string
	Kind           EntityKind
	ExternalID     string
	CorrelationKey string
}

// Entity is the canonical record for an asset, vulnerability, control, system or POA&M
type Entity struct {
	ID             uuid.UUID                  `json:"id"`
	Kind           EntityKind                 `json:"kind"`
	CorrelationKey string                     `json:"correlationKey,omitempty"`
	Fields         map[string]FieldValue      `json:"fields"`
	Links          []ExternalRef              `json:"links"`
	BatchID        string                     `json:"batchId"`
	Raw            map[string]json.RawMessage `json:"raw,omitempty"`
	CreatedAt      time.Time                  `json:"createdAt"`
	UpdatedAt      time.Time                  `json:"updatedAt"`
}

// HasLink reports whether the entity is linked to the given source identifier
func (e *Entity) HasLink(source, externalID string) bool {
	for _, l := range e.Links {
		if l.Source == source && l.ExternalID == externalID {
			return true
		}
	}
	return false
}

// Value returns the stored value of a field, or nil when absent
func (e *Entity) Value(field string) any {
	if fv, ok := e.Fields[field]; ok {
		return fv.Value
	}
	return nil
}

// Clone returns a deep copy of the entity
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	c := *e
	c.Fields = make(map[string]FieldValue, len(e.Fields))
	for k, v := range e.Fields {
		v.Value = CloneValue(v.Value)
		c.Fields[k] = v
	}
	c.Links = slices.Clone(e.Links)
	if e.Raw != nil {
		c.Raw = make(map[string]json.RawMessage, len(e.Raw))
		for k, v := range e.Raw {
			c.Raw[k] = slices.Clone(v)
		}
	}
	return &c
}

// CloneValue deep-copies a canonical value (scalars, []any and map[string]any)
func CloneValue(v any) any {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = CloneValue(t[i])
		}
		return out
	case map[string]any:
		out := maps.Clone(t)
		for k := range out {
			out[k] = CloneValue(out[k])
		}
		return out
	default:
		return v
	}
}
