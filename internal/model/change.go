package model

import (
	"reflect"
	"sort"
	"time"
)

// ChangeKind classifies a change record.
type ChangeKind string

const (
	ChangeCreate   ChangeKind = "CREATE"
	ChangeUpdate   ChangeKind = "UPDATE"
	ChangeDelete   ChangeKind = "DELETE"
	ChangeRollback ChangeKind = "ROLLBACK"
)

// String returns the string representation of the change kind.
func (k ChangeKind) String() string {
	return string(k)
}

// IsValid checks whether the change kind is a known value.
func (k ChangeKind) IsValid() bool {
	switch k {
	case ChangeCreate, ChangeUpdate, ChangeDelete, ChangeRollback:
		return true
	}
	return false
}

// EntityState is the dynamic field map of a versioned business entity.
// The ordering and matching core never inspects domain field contents;
// only the reserved keys below have meaning here.
type EntityState map[string]any

// Reserved state keys maintained by the version tracker rather than by
// the owning business service.
const (
	StateKeyID        = "id"
	StateKeyTenantID  = "tenantId"
	StateKeyVersion   = "version"
	StateKeyDeletedAt = "deletedAt"
)

// identifierFields are excluded from the changed-field set on CREATE and
// stripped before a rollback state is re-applied.
var identifierFields = map[string]bool{
	StateKeyID:        true,
	StateKeyTenantID:  true,
	StateKeyVersion:   true,
	StateKeyDeletedAt: true,
}

// IsIdentifierField reports whether the field is maintained by the tracker
// itself and therefore never part of a change's field set.
func IsIdentifierField(name string) bool {
	return identifierFields[name]
}

// Clone returns a shallow copy of the state. Nested values are shared;
// callers treat reconstructed states as read-only.
func (s EntityState) Clone() EntityState {
	if s == nil {
		return nil
	}
	out := make(EntityState, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// ChangeRecord captures one mutation to a versioned entity. For a fixed
// (tenant, entity type, entity id) the records form a contiguous, strictly
// increasing version sequence starting at 1. Previous/new values are sparse:
// only fields in ChangedFields are stored.
type ChangeRecord struct {
	ID              string         `json:"id"`
	TenantID        string         `json:"tenantId"`
	EntityType      EntityType     `json:"entityType"`
	EntityID        string         `json:"entityId"`
	Version         int64          `json:"version"`
	PreviousVersion *int64         `json:"previousVersion,omitempty"`
	Kind            ChangeKind     `json:"kind"`
	ChangedFields   []string       `json:"changedFields"`
	PreviousValues  EntityState    `json:"previousValues,omitempty"`
	NewValues       EntityState    `json:"newValues,omitempty"`
	Actor           Actor          `json:"actor"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
}

// ChangedFields compares every field of prev against next (deep equality;
// absent on one side counts as changed) and returns the changed field names
// sorted. Identifier fields are never reported. A nil prev means every
// non-identifier field of next is changed (the CREATE case).
func ChangedFields(prev, next EntityState) []string {
	seen := make(map[string]bool, len(next))
	var fields []string

	for name, nv := range next {
		if IsIdentifierField(name) {
			continue
		}
		seen[name] = true
		if prev == nil {
			fields = append(fields, name)
			continue
		}
		pv, ok := prev[name]
		if !ok || !reflect.DeepEqual(pv, nv) {
			fields = append(fields, name)
		}
	}
	// Fields removed in next are changes too.
	for name := range prev {
		if IsIdentifierField(name) || seen[name] {
			continue
		}
		if _, ok := next[name]; !ok {
			fields = append(fields, name)
		}
	}

	sort.Strings(fields)
	return fields
}

// SparseValues restricts state to the given fields, for sparse storage of
// previous/new values. Fields absent from state are omitted.
func SparseValues(state EntityState, fields []string) EntityState {
	if state == nil {
		return nil
	}
	out := make(EntityState, len(fields))
	for _, name := range fields {
		if v, ok := state[name]; ok {
			out[name] = v
		}
	}
	return out
}

// FieldDiffKind tags a single field difference between two states.
type FieldDiffKind string

const (
	FieldAdded   FieldDiffKind = "added"
	FieldRemoved FieldDiffKind = "removed"
	FieldChanged FieldDiffKind = "changed"
)

// FieldDiff describes one field's difference between two reconstructed states.
type FieldDiff struct {
	Field string        `json:"field"`
	Kind  FieldDiffKind `json:"kind"`
	From  any           `json:"from,omitempty"`
	To    any           `json:"to,omitempty"`
}

// DiffStates computes the full-field comparison between two states, sorted by
// field name. Identifier fields are skipped.
func DiffStates(from, to EntityState) []FieldDiff {
	var diffs []FieldDiff

	for name, fv := range from {
		if IsIdentifierField(name) {
			continue
		}
		tv, ok := to[name]
		if !ok {
			diffs = append(diffs, FieldDiff{Field: name, Kind: FieldRemoved, From: fv})
			continue
		}
		if !reflect.DeepEqual(fv, tv) {
			diffs = append(diffs, FieldDiff{Field: name, Kind: FieldChanged, From: fv, To: tv})
		}
	}
	for name, tv := range to {
		if IsIdentifierField(name) {
			continue
		}
		if _, ok := from[name]; !ok {
			diffs = append(diffs, FieldDiff{Field: name, Kind: FieldAdded, To: tv})
		}
	}

	sort.Slice(diffs, func(i, j int) bool { return diffs[i].Field < diffs[j].Field })
	return diffs
}
