package versioning

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/helixgraph/graphstream/internal/model"
	"github.com/helixgraph/graphstream/internal/store"
	"github.com/helixgraph/graphstream/internal/store/storetest"
)

var testActor = model.Actor{ID: "u-1", Kind: model.ActorUser}

// trackSequence records the canonical three-version history used across
// tests: create name=A, rename to B, rename to C and add a field.
func trackSequence(t *testing.T, tr *Tracker) {
	t.Helper()
	ctx := context.Background()
	states := []model.EntityState{
		{"name": "A"},
		{"name": "B"},
		{"name": "C", "weight": 3},
	}
	for _, s := range states {
		if _, err := tr.TrackChange(ctx, TrackRequest{
			TenantID:   "t-1",
			EntityType: model.EntityNode,
			EntityID:   "n-1",
			State:      s,
			Actor:      testActor,
		}); err != nil {
			t.Fatalf("TrackChange: %v", err)
		}
	}
}

func TestTrackChange_KindsAndVersions(t *testing.T) {
	st := storetest.NewMemStore()
	tr := New(st, nil)
	ctx := context.Background()

	first, err := tr.TrackChange(ctx, TrackRequest{
		TenantID:   "t-1",
		EntityType: model.EntityNode,
		EntityID:   "n-1",
		State:      model.EntityState{"name": "A"},
		Actor:      testActor,
	})
	if err != nil {
		t.Fatalf("TrackChange: %v", err)
	}
	if first.Kind != model.ChangeCreate {
		t.Errorf("first kind = %s, want CREATE", first.Kind)
	}
	if first.Version != 1 || first.PreviousVersion != nil {
		t.Errorf("first version = %d (prev %v), want 1 (prev nil)", first.Version, first.PreviousVersion)
	}

	second, err := tr.TrackChange(ctx, TrackRequest{
		TenantID:   "t-1",
		EntityType: model.EntityNode,
		EntityID:   "n-1",
		State:      model.EntityState{"name": "B"},
		Actor:      testActor,
	})
	if err != nil {
		t.Fatalf("TrackChange: %v", err)
	}
	if second.Kind != model.ChangeUpdate {
		t.Errorf("second kind = %s, want UPDATE", second.Kind)
	}
	if second.Version != 2 || second.PreviousVersion == nil || *second.PreviousVersion != 1 {
		t.Errorf("second version = %d (prev %v), want 2 (prev 1)", second.Version, second.PreviousVersion)
	}
	if len(second.ChangedFields) != 1 || second.ChangedFields[0] != "name" {
		t.Errorf("changed fields = %v, want [name]", second.ChangedFields)
	}
	if second.PreviousValues["name"] != "A" || second.NewValues["name"] != "B" {
		t.Errorf("sparse values = %v -> %v", second.PreviousValues, second.NewValues)
	}

	deleted, err := tr.TrackChange(ctx, TrackRequest{
		TenantID:   "t-1",
		EntityType: model.EntityNode,
		EntityID:   "n-1",
		State:      nil,
		Actor:      testActor,
	})
	if err != nil {
		t.Fatalf("TrackChange delete: %v", err)
	}
	if deleted.Kind != model.ChangeDelete {
		t.Errorf("delete kind = %s, want DELETE", deleted.Kind)
	}
	if deleted.Version != 3 {
		t.Errorf("delete version = %d, want 3", deleted.Version)
	}
}

func TestAtVersion_Reconstruction(t *testing.T) {
	st := storetest.NewMemStore()
	tr := New(st, nil)
	trackSequence(t, tr)
	ctx := context.Background()

	state, err := tr.AtVersion(ctx, "t-1", model.EntityNode, "n-1", 2)
	if err != nil {
		t.Fatalf("AtVersion(2): %v", err)
	}
	if state["name"] != "B" {
		t.Errorf("name = %v, want B", state["name"])
	}
	if _, ok := state["weight"]; ok {
		t.Error("weight must not exist at version 2")
	}
	if state[model.StateKeyVersion] != int64(2) {
		t.Errorf("version field = %v, want 2", state[model.StateKeyVersion])
	}
	if state[model.StateKeyID] != "n-1" || state[model.StateKeyTenantID] != "t-1" {
		t.Errorf("identifier fields not stamped: %v", state)
	}

	state, err = tr.AtVersion(ctx, "t-1", model.EntityNode, "n-1", 3)
	if err != nil {
		t.Fatalf("AtVersion(3): %v", err)
	}
	if state["name"] != "C" || state["weight"] != 3 {
		t.Errorf("state at 3 = %v", state)
	}
}

func TestAtVersion_RemovedFieldDisappears(t *testing.T) {
	st := storetest.NewMemStore()
	tr := New(st, nil)
	ctx := context.Background()

	for _, s := range []model.EntityState{
		{"name": "A", "color": "red"},
		{"name": "A"},
	} {
		if _, err := tr.TrackChange(ctx, TrackRequest{
			TenantID: "t-1", EntityType: model.EntityNode, EntityID: "n-1",
			State: s, Actor: testActor,
		}); err != nil {
			t.Fatalf("TrackChange: %v", err)
		}
	}

	state, err := tr.AtVersion(ctx, "t-1", model.EntityNode, "n-1", 2)
	if err != nil {
		t.Fatalf("AtVersion: %v", err)
	}
	if _, ok := state["color"]; ok {
		t.Errorf("removed field still present: %v", state)
	}
}

func TestAtVersion_DeleteStampsDeletedAt(t *testing.T) {
	st := storetest.NewMemStore()
	tr := New(st, nil)
	ctx := context.Background()

	if _, err := tr.TrackChange(ctx, TrackRequest{
		TenantID: "t-1", EntityType: model.EntityNode, EntityID: "n-1",
		State: model.EntityState{"name": "A"}, Actor: testActor,
	}); err != nil {
		t.Fatalf("TrackChange: %v", err)
	}
	if _, err := tr.TrackChange(ctx, TrackRequest{
		TenantID: "t-1", EntityType: model.EntityNode, EntityID: "n-1",
		State: nil, Actor: testActor,
	}); err != nil {
		t.Fatalf("TrackChange delete: %v", err)
	}

	state, err := tr.AtVersion(ctx, "t-1", model.EntityNode, "n-1", 2)
	if err != nil {
		t.Fatalf("AtVersion: %v", err)
	}
	if state[model.StateKeyDeletedAt] == nil {
		t.Errorf("deletedAt not stamped: %v", state)
	}
	if _, ok := state["name"]; ok {
		t.Errorf("deleted entity retains fields: %v", state)
	}
}

func TestAtVersion_NotFound(t *testing.T) {
	st := storetest.NewMemStore()
	tr := New(st, nil)
	trackSequence(t, tr)
	ctx := context.Background()

	if _, err := tr.AtVersion(ctx, "t-1", model.EntityNode, "n-missing", 1); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing entity: err = %v, want ErrNotFound", err)
	}
	if _, err := tr.AtVersion(ctx, "t-1", model.EntityNode, "n-1", 9); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("future version: err = %v, want ErrNotFound", err)
	}
}

func TestAtVersion_DetectsGap(t *testing.T) {
	st := storetest.NewMemStore()
	tr := New(st, nil)
	ctx := context.Background()

	// A corrupt history: versions 1 and 3 with no 2.
	for _, version := range []int64{1, 3} {
		ch := &model.ChangeRecord{
			ID: "chg-test", TenantID: "t-1",
			EntityType: model.EntityNode, EntityID: "n-1",
			Version: version, Kind: model.ChangeUpdate,
			ChangedFields: []string{"name"},
			NewValues:     model.EntityState{"name": "x"},
			CreatedAt:     time.Now().UTC(),
		}
		if version == 1 {
			ch.Kind = model.ChangeCreate
		}
		if err := st.InsertChange(ctx, ch); err != nil {
			t.Fatalf("InsertChange: %v", err)
		}
	}

	if _, err := tr.AtVersion(ctx, "t-1", model.EntityNode, "n-1", 3); !errors.Is(err, ErrVersionGap) {
		t.Errorf("err = %v, want ErrVersionGap", err)
	}
}

func TestAtVersion_SnapshotEqualsReplay(t *testing.T) {
	st := storetest.NewMemStore()
	tr := New(st, nil)
	ctx := context.Background()

	for i := 1; i <= 12; i++ {
		if _, err := tr.TrackChange(ctx, TrackRequest{
			TenantID: "t-1", EntityType: model.EntityNode, EntityID: "n-1",
			State: model.EntityState{"count": i}, Actor: testActor,
		}); err != nil {
			t.Fatalf("TrackChange %d: %v", i, err)
		}
	}

	// The automatic snapshot at version 10 must exist and match replay.
	snap, err := st.GetSnapshot(ctx, "t-1", model.EntityNode, "n-1", 10)
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if snap.State["count"] != 10 {
		t.Errorf("snapshot count = %v, want 10", snap.State["count"])
	}

	// Reconstruction through the snapshot (11 = snapshot 10 + one change).
	state, err := tr.AtVersion(ctx, "t-1", model.EntityNode, "n-1", 11)
	if err != nil {
		t.Fatalf("AtVersion(11): %v", err)
	}
	if state["count"] != 11 {
		t.Errorf("count = %v, want 11", state["count"])
	}
}

func TestAtTime(t *testing.T) {
	st := storetest.NewMemStore()
	tr := New(st, nil)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, name := range []string{"A", "B", "C"} {
		kind := model.ChangeUpdate
		if i == 0 {
			kind = model.ChangeCreate
		}
		ch := &model.ChangeRecord{
			ID: "chg-t" + name, TenantID: "t-1",
			EntityType: model.EntityNode, EntityID: "n-1",
			Version: int64(i + 1), Kind: kind,
			ChangedFields: []string{"name"},
			NewValues:     model.EntityState{"name": name},
			CreatedAt:     base.Add(time.Duration(i) * time.Hour),
		}
		if err := st.InsertChange(ctx, ch); err != nil {
			t.Fatalf("InsertChange: %v", err)
		}
	}

	state, err := tr.AtTime(ctx, "t-1", model.EntityNode, "n-1", base.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("AtTime: %v", err)
	}
	if state["name"] != "B" {
		t.Errorf("name = %v, want B", state["name"])
	}

	if _, err := tr.AtTime(ctx, "t-1", model.EntityNode, "n-1", base.Add(-time.Minute)); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("before creation: err = %v, want ErrNotFound", err)
	}
}

func TestDiff(t *testing.T) {
	st := storetest.NewMemStore()
	tr := New(st, nil)
	trackSequence(t, tr)
	ctx := context.Background()

	diff, err := tr.Diff(ctx, "t-1", model.EntityNode, "n-1", 1, 3)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(diff.Changes) != 2 {
		t.Errorf("got %d changes, want 2", len(diff.Changes))
	}
	if len(diff.FieldDiffs) != 2 {
		t.Fatalf("got %d field diffs, want 2: %v", len(diff.FieldDiffs), diff.FieldDiffs)
	}
	// Sorted by field: name (changed), weight (added).
	if diff.FieldDiffs[0].Field != "name" || diff.FieldDiffs[0].Kind != model.FieldChanged {
		t.Errorf("diff[0] = %+v", diff.FieldDiffs[0])
	}
	if diff.FieldDiffs[0].From != "A" || diff.FieldDiffs[0].To != "C" {
		t.Errorf("name diff = %v -> %v", diff.FieldDiffs[0].From, diff.FieldDiffs[0].To)
	}
	if diff.FieldDiffs[1].Field != "weight" || diff.FieldDiffs[1].Kind != model.FieldAdded {
		t.Errorf("diff[1] = %+v", diff.FieldDiffs[1])
	}

	if _, err := tr.Diff(ctx, "t-1", model.EntityNode, "n-1", 3, 1); err == nil {
		t.Error("expected error for inverted version range")
	}
}

func TestRollback(t *testing.T) {
	st := storetest.NewMemStore()
	tr := New(st, nil)
	trackSequence(t, tr)
	ctx := context.Background()

	ch, err := tr.Rollback(ctx, "t-1", model.EntityNode, "n-1", 1, testActor, nil)
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if ch.Kind != model.ChangeRollback {
		t.Errorf("kind = %s, want ROLLBACK", ch.Kind)
	}
	if ch.Version != 4 {
		t.Errorf("version = %d, want 4", ch.Version)
	}
	if got := ch.Metadata["rolledBackTo"]; got != int64(1) {
		t.Errorf("rolledBackTo = %v, want 1", got)
	}

	// The new head matches version 1's business fields.
	state, err := tr.AtVersion(ctx, "t-1", model.EntityNode, "n-1", 4)
	if err != nil {
		t.Fatalf("AtVersion(4): %v", err)
	}
	if state["name"] != "A" {
		t.Errorf("name = %v, want A", state["name"])
	}
	if _, ok := state["weight"]; ok {
		t.Errorf("weight survived rollback: %v", state)
	}
	if state[model.StateKeyVersion] != int64(4) {
		t.Errorf("version field = %v, want 4", state[model.StateKeyVersion])
	}

	// Earlier versions are untouched.
	state, err = tr.AtVersion(ctx, "t-1", model.EntityNode, "n-1", 3)
	if err != nil {
		t.Fatalf("AtVersion(3): %v", err)
	}
	if state["name"] != "C" || state["weight"] != 3 {
		t.Errorf("history mutated by rollback: %v", state)
	}
}

func TestRollback_BeyondLatest(t *testing.T) {
	st := storetest.NewMemStore()
	tr := New(st, nil)
	trackSequence(t, tr)

	if _, err := tr.Rollback(context.Background(), "t-1", model.EntityNode, "n-1", 7, testActor, nil); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRollback_ResurrectsDeletedEntity(t *testing.T) {
	st := storetest.NewMemStore()
	tr := New(st, nil)
	trackSequence(t, tr)
	ctx := context.Background()

	// Version 4: delete.
	if _, err := tr.TrackChange(ctx, TrackRequest{
		TenantID:   "t-1",
		EntityType: model.EntityNode,
		EntityID:   "n-1",
		Actor:      testActor,
	}); err != nil {
		t.Fatalf("TrackChange (delete): %v", err)
	}

	// Rolling back past the delete clears the deletion stamp.
	ch, err := tr.Rollback(ctx, "t-1", model.EntityNode, "n-1", 2, testActor, nil)
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if ch.Version != 5 {
		t.Errorf("version = %d, want 5", ch.Version)
	}
	state, err := tr.AtVersion(ctx, "t-1", model.EntityNode, "n-1", 5)
	if err != nil {
		t.Fatalf("AtVersion(5): %v", err)
	}
	if _, ok := state[model.StateKeyDeletedAt]; ok {
		t.Errorf("deletedAt survived rollback past the delete: %v", state)
	}
	if state["name"] != "B" {
		t.Errorf("name = %v, want B", state["name"])
	}

	// The deleted version itself is untouched history.
	state, err = tr.AtVersion(ctx, "t-1", model.EntityNode, "n-1", 4)
	if err != nil {
		t.Fatalf("AtVersion(4): %v", err)
	}
	if state[model.StateKeyDeletedAt] == nil {
		t.Errorf("delete version lost its stamp: %v", state)
	}
	deletedStamp := state[model.StateKeyDeletedAt]

	// Rolling back to the deleted version restores a deleted state with the
	// original stamp.
	if _, err := tr.Rollback(ctx, "t-1", model.EntityNode, "n-1", 4, testActor, nil); err != nil {
		t.Fatalf("Rollback to deleted version: %v", err)
	}
	state, err = tr.AtVersion(ctx, "t-1", model.EntityNode, "n-1", 6)
	if err != nil {
		t.Fatalf("AtVersion(6): %v", err)
	}
	if state[model.StateKeyDeletedAt] != deletedStamp {
		t.Errorf("deletedAt = %v, want %v", state[model.StateKeyDeletedAt], deletedStamp)
	}
}

func TestRollback_ApplyFunc(t *testing.T) {
	st := storetest.NewMemStore()
	tr := New(st, nil)
	trackSequence(t, tr)
	ctx := context.Background()

	// The apply hook sees the restored business fields and its result is what
	// gets recorded.
	var seen model.EntityState
	ch, err := tr.Rollback(ctx, "t-1", model.EntityNode, "n-1", 1, testActor,
		func(ctx context.Context, state model.EntityState) (model.EntityState, error) {
			seen = state
			state["restoredBy"] = "apply"
			return state, nil
		})
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if seen == nil || seen["name"] != "A" {
		t.Errorf("apply saw %v, want version 1 fields", seen)
	}
	if _, ok := seen[model.StateKeyVersion]; ok {
		t.Errorf("identifier fields leaked into apply input: %v", seen)
	}
	if ch.NewValues["restoredBy"] != "apply" {
		t.Errorf("apply result not recorded: %v", ch.NewValues)
	}

	state, err := tr.AtVersion(ctx, "t-1", model.EntityNode, "n-1", 4)
	if err != nil {
		t.Fatalf("AtVersion(4): %v", err)
	}
	if state["restoredBy"] != "apply" {
		t.Errorf("state = %v, want apply result", state)
	}
}

func TestRollback_ApplyError(t *testing.T) {
	st := storetest.NewMemStore()
	tr := New(st, nil)
	trackSequence(t, tr)

	boom := errors.New("boom")
	_, err := tr.Rollback(context.Background(), "t-1", model.EntityNode, "n-1", 1, testActor,
		func(ctx context.Context, state model.EntityState) (model.EntityState, error) {
			return nil, boom
		})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped apply error", err)
	}

	// No ROLLBACK record was written.
	latest, err := st.GetLatestChange(context.Background(), "t-1", model.EntityNode, "n-1")
	if err != nil {
		t.Fatalf("GetLatestChange: %v", err)
	}
	if latest.Version != 3 {
		t.Errorf("latest version = %d, want 3", latest.Version)
	}
}

func TestTrackChange_CallerSuppliedPreviousState(t *testing.T) {
	st := storetest.NewMemStore()
	tr := New(st, nil)
	trackSequence(t, tr)
	ctx := context.Background()

	// The caller-known previous state is trusted over reconstruction, so the
	// diff is computed against it.
	ch, err := tr.TrackChange(ctx, TrackRequest{
		TenantID:      "t-1",
		EntityType:    model.EntityNode,
		EntityID:      "n-1",
		State:         model.EntityState{"name": "C", "weight": 9},
		PreviousState: model.EntityState{"name": "C", "weight": 3},
		Actor:         testActor,
	})
	if err != nil {
		t.Fatalf("TrackChange: %v", err)
	}
	if ch.Version != 4 {
		t.Errorf("version = %d, want 4", ch.Version)
	}
	if len(ch.ChangedFields) != 1 || ch.ChangedFields[0] != "weight" {
		t.Errorf("changed fields = %v, want [weight]", ch.ChangedFields)
	}
	if ch.PreviousValues["weight"] != 3 || ch.NewValues["weight"] != 9 {
		t.Errorf("sparse values = %v -> %v", ch.PreviousValues, ch.NewValues)
	}
}

func TestCreateSnapshot(t *testing.T) {
	st := storetest.NewMemStore()
	tr := New(st, nil)
	trackSequence(t, tr)
	ctx := context.Background()

	snap, err := tr.CreateSnapshot(ctx, "t-1", model.EntityNode, "n-1", 2)
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}
	if snap.Version != 2 || snap.State["name"] != "B" {
		t.Errorf("snapshot = %+v", snap)
	}

	// A snapshot never changes what reconstruction returns.
	state, err := tr.AtVersion(ctx, "t-1", model.EntityNode, "n-1", 2)
	if err != nil {
		t.Fatalf("AtVersion: %v", err)
	}
	if state["name"] != "B" {
		t.Errorf("state after snapshot = %v", state)
	}
}

func TestHistory_NewestFirst(t *testing.T) {
	st := storetest.NewMemStore()
	tr := New(st, nil)
	trackSequence(t, tr)

	changes, err := tr.History(context.Background(), "t-1", model.EntityNode, "n-1", store.HistoryQuery{})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(changes) != 3 {
		t.Fatalf("got %d changes, want 3", len(changes))
	}
	for i, want := range []int64{3, 2, 1} {
		if changes[i].Version != want {
			t.Errorf("changes[%d].Version = %d, want %d", i, changes[i].Version, want)
		}
	}
}
