package model

import (
	"fmt"
	"time"
)

// DefaultSubscriptionTTL is how long a subscription lives before the
// cleanup sweep may remove it.
const DefaultSubscriptionTTL = 7 * 24 * time.Hour

// DefaultBatchWindowMS is the batch accumulation window when a batched
// subscription does not specify one.
const DefaultBatchWindowMS = 5000

// ScopeKind discriminates the scope tagged union. The set is closed.
type ScopeKind string

const (
	ScopeTenant    ScopeKind = "tenant"
	ScopeWorkspace ScopeKind = "workspace"
	ScopeGraph     ScopeKind = "graph"
	ScopeSlice     ScopeKind = "slice"
	ScopeNode      ScopeKind = "node"
	ScopePattern   ScopeKind = "pattern"
)

// Scope declares which slice of the tenant's event stream a subscription
// wants. Tenant scopes match everything in the tenant; id-bearing scopes
// match events whose corresponding field equals ID; pattern scopes glob
// against "{entityType}/{entityId}".
type Scope struct {
	Kind    ScopeKind `json:"kind"`
	ID      string    `json:"id,omitempty"`
	Pattern string    `json:"pattern,omitempty"`
}

// Validate rejects malformed scopes before any state is created.
func (s Scope) Validate() error {
	switch s.Kind {
	case ScopeTenant:
		return nil
	case ScopeWorkspace, ScopeGraph, ScopeSlice, ScopeNode:
		if s.ID == "" {
			return fmt.Errorf("scope %q requires an id", s.Kind)
		}
		return nil
	case ScopePattern:
		if s.Pattern == "" {
			return fmt.Errorf("scope %q requires a pattern", s.Kind)
		}
		return nil
	default:
		return fmt.Errorf("unknown scope kind %q", s.Kind)
	}
}

// Matches reports whether the scope matches the event. The event is assumed
// to belong to the subscription's tenant already.
func (s Scope) Matches(ev *Event) bool {
	switch s.Kind {
	case ScopeTenant:
		return true
	case ScopeWorkspace:
		// Workspaces are the product-facing name for graph partitions.
		return ev.GraphID == s.ID
	case ScopeGraph:
		return ev.GraphID == s.ID
	case ScopeSlice:
		return ev.EntityType == EntitySlice && ev.EntityID == s.ID
	case ScopeNode:
		return ev.EntityType == EntityNode && ev.EntityID == s.ID
	case ScopePattern:
		return MatchGlob(s.Pattern, string(ev.EntityType)+"/"+ev.EntityID)
	}
	return false
}

// Filters are allow-lists applied as an AND after a scope match.
// A nil or empty list auto-passes.
type Filters struct {
	EventTypes  []string     `json:"eventTypes,omitempty"`
	EntityTypes []EntityType `json:"entityTypes,omitempty"`
}

// Matches applies both allow-lists to the event.
func (f *Filters) Matches(ev *Event) bool {
	if f == nil {
		return true
	}
	if len(f.EventTypes) > 0 && !containsString(f.EventTypes, ev.EventType) {
		return false
	}
	if len(f.EntityTypes) > 0 && !containsEntityType(f.EntityTypes, ev.EntityType) {
		return false
	}
	return true
}

// DeliveryMode selects how matched events reach the client.
type DeliveryMode string

const (
	DeliveryRealtime DeliveryMode = "realtime"
	DeliveryBatched  DeliveryMode = "batched"
	DeliveryPolling  DeliveryMode = "polling"
)

// IsValid checks whether the delivery mode is a known value.
func (m DeliveryMode) IsValid() bool {
	switch m {
	case DeliveryRealtime, DeliveryBatched, DeliveryPolling:
		return true
	}
	return false
}

// DeliveryOptions control how matched events are delivered.
type DeliveryOptions struct {
	Mode           DeliveryMode `json:"mode"`
	BatchWindowMS  int          `json:"batchWindowMs,omitempty"`
	IncludePayload bool         `json:"includePayload,omitempty"`
	RequireAck     bool         `json:"requireAck,omitempty"`
}

// BatchWindow returns the configured batch window as a duration, falling
// back to the default when unset.
func (o DeliveryOptions) BatchWindow() time.Duration {
	ms := o.BatchWindowMS
	if ms <= 0 {
		ms = DefaultBatchWindowMS
	}
	return time.Duration(ms) * time.Millisecond
}

// Subscription is a client's durable intent to receive events. ClientID is
// stable per logical client and survives reconnects; the subscription row is
// soft-deleted (IsActive=false) on unsubscribe/disconnect and hard-deleted by
// the periodic sweep once expired or inactive-and-stale.
type Subscription struct {
	ID             string          `json:"id"`
	TenantID       string          `json:"tenantId"`
	ClientID       string          `json:"clientId"`
	Product        string          `json:"product"`
	ProductVersion string          `json:"productVersion,omitempty"`
	Scopes         []Scope         `json:"scopes"`
	Filters        *Filters        `json:"filters,omitempty"`
	Options        DeliveryOptions `json:"options"`
	IsActive       bool            `json:"isActive"`
	LastAckVersion int64           `json:"lastAckVersion,string"`
	LastAckAt      *time.Time      `json:"lastAckAt,omitempty"`
	ExpiresAt      time.Time       `json:"expiresAt"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// Matches evaluates the two-stage matching rule: at least one scope must
// match, then the filters (if any) must pass. Events from other tenants
// never match.
func (s *Subscription) Matches(ev *Event) bool {
	if ev.TenantID != s.TenantID {
		return false
	}
	scoped := false
	for _, scope := range s.Scopes {
		if scope.Matches(ev) {
			scoped = true
			break
		}
	}
	if !scoped {
		return false
	}
	return s.Filters.Matches(ev)
}

// Validate rejects malformed subscriptions before any state is created.
func (s *Subscription) Validate() error {
	if s.TenantID == "" {
		return fmt.Errorf("tenant id is required")
	}
	if s.ClientID == "" {
		return fmt.Errorf("client id is required")
	}
	if len(s.Scopes) == 0 {
		return fmt.Errorf("at least one scope is required")
	}
	for i, scope := range s.Scopes {
		if err := scope.Validate(); err != nil {
			return fmt.Errorf("scope %d: %w", i, err)
		}
	}
	if s.Options.Mode != "" && !s.Options.Mode.IsValid() {
		return fmt.Errorf("unknown delivery mode %q", s.Options.Mode)
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsEntityType(list []EntityType, t EntityType) bool {
	for _, v := range list {
		if v == t {
			return true
		}
	}
	return false
}
