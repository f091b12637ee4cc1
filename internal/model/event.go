package model

import (
	"encoding/json"
	"time"
)

// EntityType classifies the entity an event or change record refers to.
type EntityType string

const (
	EntityNode  EntityType = "node"
	EntityEdge  EntityType = "edge"
	EntityGraph EntityType = "graph"
	EntitySlice EntityType = "slice"
)

// String returns the string representation of the entity type.
func (t EntityType) String() string {
	return string(t)
}

// IsValid reports whether the entity type is a non-empty string.
// Entity types are extensible (products register their own, e.g.
// "context_node"), so any non-empty value is accepted.
func (t EntityType) IsValid() bool {
	return t != ""
}

// ActorKind identifies what kind of principal performed a mutation.
type ActorKind string

const (
	ActorUser   ActorKind = "user"
	ActorAPIKey ActorKind = "api_key"
	ActorSystem ActorKind = "system"
)

// Actor is the authenticated identity that caused a mutation.
type Actor struct {
	ID   string    `json:"id"`
	Kind ActorKind `json:"kind"`
}

// Event is an immutable record of a single tenant mutation.
//
// GlobalVersion is assigned at publish time from the tenant's version
// counter: for a fixed tenant, committed events carry a gap-free, strictly
// increasing sequence starting at 1. It is serialized as a string because
// it is a 64-bit counter unsafe to round-trip as a native number in some
// consumer ecosystems.
type Event struct {
	ID            string          `json:"id"`
	TenantID      string          `json:"tenantId"`
	GraphID       string          `json:"graphId,omitempty"`
	EventType     string          `json:"eventType"`
	EntityType    EntityType      `json:"entityType"`
	EntityID      string          `json:"entityId"`
	EntityVersion int64           `json:"entityVersion"`
	GlobalVersion int64           `json:"globalVersion,string"`
	Actor         Actor           `json:"actor"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}
