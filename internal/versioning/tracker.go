// Package versioning implements field-level entity version tracking:
// per-entity change records, snapshot-accelerated reconstruction,
// point-in-time queries, diffs, and rollback-as-new-version.
package versioning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/helixgraph/graphstream/internal/idgen"
	"github.com/helixgraph/graphstream/internal/model"
	"github.com/helixgraph/graphstream/internal/store"
)

// ErrVersionGap is returned when an entity's change history is not a
// contiguous version sequence. A gap means the history is corrupt and
// reconstruction would silently produce a wrong state.
var ErrVersionGap = errors.New("versioning: gap in change history")

// DefaultSnapshotInterval is how many versions apart automatic snapshots
// are written. Snapshots only bound replay cost; correctness never
// depends on them.
const DefaultSnapshotInterval = 10

// Tracker records and reconstructs entity versions on top of the store.
type Tracker struct {
	store            store.Store
	logger           *slog.Logger
	snapshotInterval int64
}

// New creates a tracker with the default snapshot interval.
func New(st store.Store, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{store: st, logger: logger, snapshotInterval: DefaultSnapshotInterval}
}

// TrackRequest describes one entity mutation to record. State is the full
// post-mutation field map; leave it nil for deletions.
type TrackRequest struct {
	TenantID   string
	EntityType model.EntityType
	EntityID   string
	Kind       model.ChangeKind // inferred from state when empty
	State      model.EntityState
	// PreviousState is the pre-mutation state as the caller knows it. When
	// nil and the entity already has history, the previous state is
	// reconstructed from the change records instead.
	PreviousState model.EntityState
	Actor         model.Actor
	Metadata      map[string]any
}

func (r *TrackRequest) validate() error {
	if r.TenantID == "" {
		return fmt.Errorf("tenant id is required")
	}
	if !r.EntityType.IsValid() {
		return fmt.Errorf("entity type is required")
	}
	if r.EntityID == "" {
		return fmt.Errorf("entity id is required")
	}
	if r.Kind != "" && !r.Kind.IsValid() {
		return fmt.Errorf("unknown change kind %q", r.Kind)
	}
	return nil
}

// TrackChange records a new version for the entity. The first record for an
// entity is a CREATE at version 1; later records get the latest version plus
// one. Changed fields are computed against the reconstructed previous state,
// and previous/new values are stored sparsely.
func (t *Tracker) TrackChange(ctx context.Context, req TrackRequest) (*model.ChangeRecord, error) {
	if err := req.validate(); err != nil {
		return nil, fmt.Errorf("invalid track request: %w", err)
	}

	var (
		prevState   model.EntityState
		prevVersion *int64
		version     = int64(1)
	)
	latest, err := t.store.GetLatestChange(ctx, req.TenantID, req.EntityType, req.EntityID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// First version.
	case err != nil:
		return nil, fmt.Errorf("reading latest change: %w", err)
	default:
		if req.PreviousState != nil {
			prevState = req.PreviousState
		} else {
			prevState, err = t.reconstruct(ctx, req.TenantID, req.EntityType, req.EntityID, latest.Version)
			if err != nil {
				return nil, fmt.Errorf("reconstructing previous state: %w", err)
			}
		}
		v := latest.Version
		prevVersion = &v
		version = v + 1
	}

	kind := req.Kind
	if kind == "" {
		switch {
		case prevVersion == nil:
			kind = model.ChangeCreate
		case req.State == nil:
			kind = model.ChangeDelete
		default:
			kind = model.ChangeUpdate
		}
	}

	fields := model.ChangedFields(prevState, req.State)
	id, err := idgen.Generate(idgen.ChangePrefix)
	if err != nil {
		return nil, err
	}

	ch := &model.ChangeRecord{
		ID:              id,
		TenantID:        req.TenantID,
		EntityType:      req.EntityType,
		EntityID:        req.EntityID,
		Version:         version,
		PreviousVersion: prevVersion,
		Kind:            kind,
		ChangedFields:   fields,
		PreviousValues:  model.SparseValues(prevState, fields),
		NewValues:       model.SparseValues(req.State, fields),
		Actor:           req.Actor,
		Metadata:        req.Metadata,
		CreatedAt:       time.Now().UTC(),
	}
	if err := t.store.InsertChange(ctx, ch); err != nil {
		return nil, fmt.Errorf("inserting change: %w", err)
	}

	if t.snapshotInterval > 0 && version%t.snapshotInterval == 0 {
		t.writeSnapshot(ctx, ch, applyChange(prevState.Clone(), ch))
	}
	return ch, nil
}

// writeSnapshot persists an automatic snapshot. Failures are logged only;
// snapshots are an optimization and replay remains correct without them.
func (t *Tracker) writeSnapshot(ctx context.Context, ch *model.ChangeRecord, state model.EntityState) {
	snap := &model.Snapshot{
		TenantID:   ch.TenantID,
		EntityType: ch.EntityType,
		EntityID:   ch.EntityID,
		Version:    ch.Version,
		State:      finalizeState(state, ch.TenantID, ch.EntityID, ch.Version),
		CreatedAt:  time.Now().UTC(),
	}
	if err := t.store.UpsertSnapshot(ctx, snap); err != nil {
		t.logger.Warn("writing snapshot",
			"entity_type", ch.EntityType, "entity_id", ch.EntityID,
			"version", ch.Version, "error", err)
	}
}

// History returns the entity's change records, newest first.
func (t *Tracker) History(ctx context.Context, tenantID string, entityType model.EntityType, entityID string, q store.HistoryQuery) ([]*model.ChangeRecord, error) {
	changes, err := t.store.GetChanges(ctx, tenantID, entityType, entityID, q)
	if err != nil {
		return nil, fmt.Errorf("reading change history: %w", err)
	}
	return changes, nil
}

// AtVersion reconstructs the entity's full state as of the given version.
// It returns store.ErrNotFound when the entity or version does not exist and
// ErrVersionGap when the stored history is not contiguous.
func (t *Tracker) AtVersion(ctx context.Context, tenantID string, entityType model.EntityType, entityID string, version int64) (model.EntityState, error) {
	if version < 1 {
		return nil, fmt.Errorf("version must be positive, got %d", version)
	}
	return t.reconstruct(ctx, tenantID, entityType, entityID, version)
}

// AtTime reconstructs the entity's state as of the given instant, i.e. the
// state produced by the last change at or before ts.
func (t *Tracker) AtTime(ctx context.Context, tenantID string, entityType model.EntityType, entityID string, ts time.Time) (model.EntityState, error) {
	ch, err := t.store.GetChangeAtOrBefore(ctx, tenantID, entityType, entityID, ts)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("no version at or before %s: %w", ts.Format(time.RFC3339), store.ErrNotFound)
		}
		return nil, fmt.Errorf("resolving version at time: %w", err)
	}
	return t.reconstruct(ctx, tenantID, entityType, entityID, ch.Version)
}

// Latest reconstructs the entity's current state.
func (t *Tracker) Latest(ctx context.Context, tenantID string, entityType model.EntityType, entityID string) (model.EntityState, int64, error) {
	latest, err := t.store.GetLatestChange(ctx, tenantID, entityType, entityID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, 0, store.ErrNotFound
		}
		return nil, 0, fmt.Errorf("reading latest change: %w", err)
	}
	state, err := t.reconstruct(ctx, tenantID, entityType, entityID, latest.Version)
	if err != nil {
		return nil, 0, err
	}
	return state, latest.Version, nil
}

// reconstruct rebuilds state at target: exact snapshot if present, otherwise
// the nearest earlier snapshot plus replay of the change records after it.
// Every replayed step must advance the version by exactly one.
func (t *Tracker) reconstruct(ctx context.Context, tenantID string, entityType model.EntityType, entityID string, target int64) (model.EntityState, error) {
	if snap, err := t.store.GetSnapshot(ctx, tenantID, entityType, entityID, target); err == nil {
		return snap.State.Clone(), nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}

	var (
		state model.EntityState
		from  int64
	)
	snap, err := t.store.GetNearestSnapshot(ctx, tenantID, entityType, entityID, target)
	switch {
	case err == nil:
		state = snap.State.Clone()
		from = snap.Version
	case errors.Is(err, store.ErrNotFound):
		// Full replay from the beginning.
	default:
		return nil, fmt.Errorf("reading nearest snapshot: %w", err)
	}

	changes, err := t.store.GetChangeRange(ctx, tenantID, entityType, entityID, from, target)
	if err != nil {
		return nil, fmt.Errorf("reading change range: %w", err)
	}
	if from == 0 && len(changes) == 0 {
		return nil, store.ErrNotFound
	}

	expected := from
	for _, ch := range changes {
		expected++
		if ch.Version != expected {
			return nil, fmt.Errorf("expected version %d, found %d for %s/%s: %w",
				expected, ch.Version, entityType, entityID, ErrVersionGap)
		}
		state = applyChange(state, ch)
	}
	if expected != target {
		// History ends before the requested version: it does not exist.
		return nil, store.ErrNotFound
	}

	return finalizeState(state, tenantID, entityID, target), nil
}

// applyChange folds one change record into state. Fields absent from
// NewValues but listed in ChangedFields were removed. Deletions stamp the
// deletion timestamp; rollbacks replace it with whatever the target version
// carried, resurrecting the entity when the target predates a delete.
func applyChange(state model.EntityState, ch *model.ChangeRecord) model.EntityState {
	if state == nil {
		state = make(model.EntityState)
	}
	for _, field := range ch.ChangedFields {
		if v, ok := ch.NewValues[field]; ok {
			state[field] = v
		} else {
			delete(state, field)
		}
	}
	switch ch.Kind {
	case model.ChangeDelete:
		state[model.StateKeyDeletedAt] = ch.CreatedAt.UTC().Format(time.RFC3339Nano)
	case model.ChangeRollback:
		delete(state, model.StateKeyDeletedAt)
		if ts, ok := ch.Metadata[model.StateKeyDeletedAt].(string); ok && ts != "" {
			state[model.StateKeyDeletedAt] = ts
		}
	}
	return state
}

// finalizeState stamps the reserved identifier fields onto a reconstructed
// state.
func finalizeState(state model.EntityState, tenantID, entityID string, version int64) model.EntityState {
	if state == nil {
		state = make(model.EntityState)
	}
	state[model.StateKeyID] = entityID
	state[model.StateKeyTenantID] = tenantID
	state[model.StateKeyVersion] = version
	return state
}

// DiffResult is the full comparison between two versions of an entity.
type DiffResult struct {
	FromVersion int64                 `json:"fromVersion"`
	ToVersion   int64                 `json:"toVersion"`
	FromState   model.EntityState     `json:"fromState"`
	ToState     model.EntityState     `json:"toState"`
	Changes     []*model.ChangeRecord `json:"changes"`
	FieldDiffs  []model.FieldDiff     `json:"fieldDiffs"`
}

// Diff reconstructs both versions, lists the change records between them, and
// computes the field-level differences.
func (t *Tracker) Diff(ctx context.Context, tenantID string, entityType model.EntityType, entityID string, fromVersion, toVersion int64) (*DiffResult, error) {
	if fromVersion < 1 || toVersion < 1 {
		return nil, fmt.Errorf("versions must be positive")
	}
	if fromVersion > toVersion {
		return nil, fmt.Errorf("from version %d is after to version %d", fromVersion, toVersion)
	}

	fromState, err := t.reconstruct(ctx, tenantID, entityType, entityID, fromVersion)
	if err != nil {
		return nil, fmt.Errorf("reconstructing version %d: %w", fromVersion, err)
	}
	toState, err := t.reconstruct(ctx, tenantID, entityType, entityID, toVersion)
	if err != nil {
		return nil, fmt.Errorf("reconstructing version %d: %w", toVersion, err)
	}
	changes, err := t.store.GetChangeRange(ctx, tenantID, entityType, entityID, fromVersion, toVersion)
	if err != nil {
		return nil, fmt.Errorf("reading change range: %w", err)
	}

	return &DiffResult{
		FromVersion: fromVersion,
		ToVersion:   toVersion,
		FromState:   fromState,
		ToState:     toState,
		Changes:     changes,
		FieldDiffs:  model.DiffStates(fromState, toState),
	}, nil
}

// ApplyFunc passes a restored state through the caller's own mutation path
// during rollback, letting business services persist it before the change
// record is written. The returned state is what gets recorded.
type ApplyFunc func(ctx context.Context, state model.EntityState) (model.EntityState, error)

// Rollback restores the entity to the state it had at toVersion by recording
// a new ROLLBACK change on top of the history. Earlier versions are never
// mutated; rolling back is itself versioned and can be rolled back again.
// Rolling back past a DELETE resurrects the entity: the deletion stamp is
// part of the restored state, not of the surviving history.
// A nil apply records the restored state directly.
func (t *Tracker) Rollback(ctx context.Context, tenantID string, entityType model.EntityType, entityID string, toVersion int64, actor model.Actor, apply ApplyFunc) (*model.ChangeRecord, error) {
	if toVersion < 1 {
		return nil, fmt.Errorf("version must be positive, got %d", toVersion)
	}

	latest, err := t.store.GetLatestChange(ctx, tenantID, entityType, entityID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("reading latest change: %w", err)
	}
	if toVersion > latest.Version {
		return nil, fmt.Errorf("cannot roll back to version %d beyond latest %d: %w",
			toVersion, latest.Version, store.ErrNotFound)
	}

	restored, err := t.reconstruct(ctx, tenantID, entityType, entityID, toVersion)
	if err != nil {
		return nil, fmt.Errorf("reconstructing version %d: %w", toVersion, err)
	}
	current, err := t.reconstruct(ctx, tenantID, entityType, entityID, latest.Version)
	if err != nil {
		return nil, fmt.Errorf("reconstructing current state: %w", err)
	}

	// The restored state keeps its business fields only; identifier fields
	// are re-stamped for the new version. The deletion stamp travels through
	// the record's metadata instead, so replay reproduces it exactly.
	targetDeletedAt, targetDeleted := restored[model.StateKeyDeletedAt]
	target := restored.Clone()
	for field := range target {
		if model.IsIdentifierField(field) {
			delete(target, field)
		}
	}
	if apply != nil {
		target, err = apply(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("applying rollback state: %w", err)
		}
	}

	fields := model.ChangedFields(current, target)
	id, err := idgen.Generate(idgen.ChangePrefix)
	if err != nil {
		return nil, err
	}
	prev := latest.Version
	metadata := map[string]any{"rolledBackTo": toVersion}
	if targetDeleted {
		metadata[model.StateKeyDeletedAt] = targetDeletedAt
	}
	ch := &model.ChangeRecord{
		ID:              id,
		TenantID:        tenantID,
		EntityType:      entityType,
		EntityID:        entityID,
		Version:         prev + 1,
		PreviousVersion: &prev,
		Kind:            model.ChangeRollback,
		ChangedFields:   fields,
		PreviousValues:  model.SparseValues(current, fields),
		NewValues:       model.SparseValues(target, fields),
		Actor:           actor,
		Metadata:        metadata,
		CreatedAt:       time.Now().UTC(),
	}
	if err := t.store.InsertChange(ctx, ch); err != nil {
		return nil, fmt.Errorf("inserting rollback change: %w", err)
	}
	return ch, nil
}

// CreateSnapshot materializes and persists the entity's state at the given
// version.
func (t *Tracker) CreateSnapshot(ctx context.Context, tenantID string, entityType model.EntityType, entityID string, version int64) (*model.Snapshot, error) {
	state, err := t.reconstruct(ctx, tenantID, entityType, entityID, version)
	if err != nil {
		return nil, err
	}
	snap := &model.Snapshot{
		TenantID:   tenantID,
		EntityType: entityType,
		EntityID:   entityID,
		Version:    version,
		State:      state,
		CreatedAt:  time.Now().UTC(),
	}
	if err := t.store.UpsertSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("persisting snapshot: %w", err)
	}
	return snap, nil
}
