package model

import (
	"reflect"
	"testing"
)

func TestChangedFields(t *testing.T) {
	tests := []struct {
		name string
		prev EntityState
		next EntityState
		want []string
	}{
		{
			name: "create reports all non-identifier fields",
			prev: nil,
			next: EntityState{"id": "n-1", "tenantId": "t-1", "name": "A", "weight": 2},
			want: []string{"name", "weight"},
		},
		{
			name: "unchanged fields are skipped",
			prev: EntityState{"name": "A", "weight": 2},
			next: EntityState{"name": "B", "weight": 2},
			want: []string{"name"},
		},
		{
			name: "field added on one side counts as changed",
			prev: EntityState{"name": "A"},
			next: EntityState{"name": "A", "extra": 1},
			want: []string{"extra"},
		},
		{
			name: "field removed on one side counts as changed",
			prev: EntityState{"name": "A", "extra": 1},
			next: EntityState{"name": "A"},
			want: []string{"extra"},
		},
		{
			name: "deep comparison on nested values",
			prev: EntityState{"attrs": map[string]any{"color": "red"}},
			next: EntityState{"attrs": map[string]any{"color": "blue"}},
			want: []string{"attrs"},
		},
		{
			name: "identical nested values are equal",
			prev: EntityState{"attrs": map[string]any{"color": "red"}},
			next: EntityState{"attrs": map[string]any{"color": "red"}},
			want: nil,
		},
		{
			name: "version bump alone is not a change",
			prev: EntityState{"version": int64(1), "name": "A"},
			next: EntityState{"version": int64(2), "name": "A"},
			want: nil,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ChangedFields(tc.prev, tc.next)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("ChangedFields() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSparseValues(t *testing.T) {
	state := EntityState{"name": "A", "weight": 2, "extra": 1}
	got := SparseValues(state, []string{"name", "missing"})
	want := EntityState{"name": "A"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SparseValues() = %v, want %v", got, want)
	}
	if SparseValues(nil, []string{"name"}) != nil {
		t.Error("SparseValues(nil) should be nil")
	}
}

func TestDiffStates(t *testing.T) {
	from := EntityState{"id": "n-1", "name": "A", "gone": true}
	to := EntityState{"id": "n-1", "name": "C", "extra": 1}

	got := DiffStates(from, to)
	want := []FieldDiff{
		{Field: "extra", Kind: FieldAdded, To: 1},
		{Field: "gone", Kind: FieldRemoved, From: true},
		{Field: "name", Kind: FieldChanged, From: "A", To: "C"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DiffStates() = %+v, want %+v", got, want)
	}
}

// Reversing the diff direction swaps added/removed and from/to.
func TestDiffStates_Symmetry(t *testing.T) {
	from := EntityState{"name": "A", "gone": true}
	to := EntityState{"name": "C", "extra": 1}

	forward := DiffStates(from, to)
	backward := DiffStates(to, from)

	if len(forward) != len(backward) {
		t.Fatalf("diff lengths differ: %d vs %d", len(forward), len(backward))
	}

	byField := make(map[string]FieldDiff, len(backward))
	for _, d := range backward {
		byField[d.Field] = d
	}
	for _, fd := range forward {
		bd, ok := byField[fd.Field]
		if !ok {
			t.Fatalf("field %q missing from reverse diff", fd.Field)
		}
		switch fd.Kind {
		case FieldAdded:
			if bd.Kind != FieldRemoved {
				t.Errorf("field %q: forward added, backward %s", fd.Field, bd.Kind)
			}
		case FieldRemoved:
			if bd.Kind != FieldAdded {
				t.Errorf("field %q: forward removed, backward %s", fd.Field, bd.Kind)
			}
		case FieldChanged:
			if bd.Kind != FieldChanged {
				t.Errorf("field %q: forward changed, backward %s", fd.Field, bd.Kind)
			}
			if !reflect.DeepEqual(fd.From, bd.To) || !reflect.DeepEqual(fd.To, bd.From) {
				t.Errorf("field %q: from/to not swapped in reverse diff", fd.Field)
			}
		}
	}
}

func TestEntityStateClone(t *testing.T) {
	orig := EntityState{"name": "A"}
	clone := orig.Clone()
	clone["name"] = "B"
	if orig["name"] != "A" {
		t.Error("mutating the clone must not affect the original")
	}
	if EntityState(nil).Clone() != nil {
		t.Error("cloning nil should be nil")
	}
}
