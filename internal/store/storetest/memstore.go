// Package storetest provides an in-memory store.Store for component tests.
// It mirrors the Postgres store's observable semantics (version counters,
// range scan ordering, not-found mapping, transaction rollback) without a
// database, so packages above the store can exercise real flows.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/helixgraph/graphstream/internal/model"
	"github.com/helixgraph/graphstream/internal/store"
)

type entityKey struct {
	tenantID   string
	entityType model.EntityType
	entityID   string
}

// MemStore is a threadsafe in-memory implementation of store.Store.
// The error fields, when set, are returned by the corresponding method to
// simulate storage failures.
type MemStore struct {
	mu   sync.Mutex
	txMu sync.Mutex

	versions  map[string]int64
	events    []*model.Event
	changes   map[entityKey][]*model.ChangeRecord
	snapshots map[entityKey]map[int64]*model.Snapshot
	subs      map[string]*model.Subscription

	NextVersionErr  error
	InsertEventErr  error
	InsertChangeErr error
}

var _ store.Store = (*MemStore)(nil)

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		versions:  make(map[string]int64),
		changes:   make(map[entityKey][]*model.ChangeRecord),
		snapshots: make(map[entityKey]map[int64]*model.Snapshot),
		subs:      make(map[string]*model.Subscription),
	}
}

func (m *MemStore) NextGlobalVersion(ctx context.Context, tenantID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.NextVersionErr != nil {
		return 0, m.NextVersionErr
	}
	m.versions[tenantID]++
	return m.versions[tenantID], nil
}

func (m *MemStore) GetCurrentVersion(ctx context.Context, tenantID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.versions[tenantID], nil
}

func (m *MemStore) InsertEvent(ctx context.Context, ev *model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.InsertEventErr != nil {
		return m.InsertEventErr
	}
	for _, existing := range m.events {
		if existing.TenantID == ev.TenantID && existing.GlobalVersion == ev.GlobalVersion {
			return fmt.Errorf("duplicate global version %d for tenant %s", ev.GlobalVersion, ev.TenantID)
		}
	}
	cp := *ev
	m.events = append(m.events, &cp)
	return nil
}

func (m *MemStore) GetEventsSince(ctx context.Context, tenantID string, sinceVersion int64, q store.EventQuery) ([]*model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	limit := q.Limit
	if limit <= 0 {
		limit = store.DefaultEventLimit
	}

	var out []*model.Event
	for _, ev := range m.events {
		if ev.TenantID != tenantID || ev.GlobalVersion <= sinceVersion {
			continue
		}
		if q.GraphID != "" && ev.GraphID != q.GraphID {
			continue
		}
		if len(q.EntityTypes) > 0 && !containsEntityType(q.EntityTypes, ev.EntityType) {
			continue
		}
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GlobalVersion < out[j].GlobalVersion })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemStore) GetLatestEvents(ctx context.Context, tenantID, graphID string, limit int) ([]*model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 {
		limit = store.DefaultEventLimit
	}
	var out []*model.Event
	for _, ev := range m.events {
		if ev.TenantID != tenantID {
			continue
		}
		if graphID != "" && ev.GraphID != graphID {
			continue
		}
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GlobalVersion > out[j].GlobalVersion })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemStore) GetEventsAfterRow(ctx context.Context, afterRow int64, limit int) ([]*model.Event, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 {
		limit = store.DefaultEventLimit
	}
	lastRow := afterRow
	var out []*model.Event
	for i, ev := range m.events {
		rowID := int64(i + 1)
		if rowID <= afterRow {
			continue
		}
		out = append(out, ev)
		lastRow = rowID
		if len(out) == limit {
			break
		}
	}
	return out, lastRow, nil
}

func (m *MemStore) InsertChange(ctx context.Context, ch *model.ChangeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.InsertChangeErr != nil {
		return m.InsertChangeErr
	}
	key := entityKey{ch.TenantID, ch.EntityType, ch.EntityID}
	for _, existing := range m.changes[key] {
		if existing.Version == ch.Version {
			return fmt.Errorf("duplicate change version %d for %s/%s", ch.Version, ch.EntityType, ch.EntityID)
		}
	}
	cp := *ch
	m.changes[key] = append(m.changes[key], &cp)
	sort.Slice(m.changes[key], func(i, j int) bool {
		return m.changes[key][i].Version < m.changes[key][j].Version
	})
	return nil
}

func (m *MemStore) GetChanges(ctx context.Context, tenantID string, entityType model.EntityType, entityID string, q store.HistoryQuery) ([]*model.ChangeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	limit := q.Limit
	if limit <= 0 {
		limit = store.DefaultHistoryLimit
	}

	var out []*model.ChangeRecord
	records := m.changes[entityKey{tenantID, entityType, entityID}]
	for i := len(records) - 1; i >= 0; i-- {
		ch := records[i]
		if q.FromVersion > 0 && ch.Version < q.FromVersion {
			continue
		}
		if q.ToVersion > 0 && ch.Version > q.ToVersion {
			continue
		}
		out = append(out, ch)
	}
	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return nil, nil
		}
		out = out[q.Offset:]
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemStore) GetChangeRange(ctx context.Context, tenantID string, entityType model.EntityType, entityID string, afterVersion, throughVersion int64) ([]*model.ChangeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*model.ChangeRecord
	for _, ch := range m.changes[entityKey{tenantID, entityType, entityID}] {
		if ch.Version > afterVersion && ch.Version <= throughVersion {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (m *MemStore) GetLatestChange(ctx context.Context, tenantID string, entityType model.EntityType, entityID string) (*model.ChangeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := m.changes[entityKey{tenantID, entityType, entityID}]
	if len(records) == 0 {
		return nil, store.ErrNotFound
	}
	return records[len(records)-1], nil
}

func (m *MemStore) GetChangeAtOrBefore(ctx context.Context, tenantID string, entityType model.EntityType, entityID string, ts time.Time) (*model.ChangeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := m.changes[entityKey{tenantID, entityType, entityID}]
	for i := len(records) - 1; i >= 0; i-- {
		if !records[i].CreatedAt.After(ts) {
			return records[i], nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *MemStore) UpsertSnapshot(ctx context.Context, snap *model.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entityKey{snap.TenantID, snap.EntityType, snap.EntityID}
	if m.snapshots[key] == nil {
		m.snapshots[key] = make(map[int64]*model.Snapshot)
	}
	cp := *snap
	cp.State = snap.State.Clone()
	m.snapshots[key][snap.Version] = &cp
	return nil
}

func (m *MemStore) GetSnapshot(ctx context.Context, tenantID string, entityType model.EntityType, entityID string, version int64) (*model.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, ok := m.snapshots[entityKey{tenantID, entityType, entityID}][version]
	if !ok {
		return nil, store.ErrNotFound
	}
	return snap, nil
}

func (m *MemStore) GetNearestSnapshot(ctx context.Context, tenantID string, entityType model.EntityType, entityID string, maxVersion int64) (*model.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *model.Snapshot
	for v, snap := range m.snapshots[entityKey{tenantID, entityType, entityID}] {
		if v > maxVersion {
			continue
		}
		if best == nil || v > best.Version {
			best = snap
		}
	}
	if best == nil {
		return nil, store.ErrNotFound
	}
	return best, nil
}

func (m *MemStore) CreateSubscription(ctx context.Context, sub *model.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *sub
	m.subs[sub.ID] = &cp
	return nil
}

func (m *MemStore) GetSubscription(ctx context.Context, id string) (*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (m *MemStore) ListActiveSubscriptions(ctx context.Context, tenantID string) ([]*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*model.Subscription
	for _, sub := range m.subs {
		if sub.TenantID == tenantID && sub.IsActive {
			cp := *sub
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemStore) ListClientSubscriptions(ctx context.Context, tenantID, clientID string) ([]*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*model.Subscription
	for _, sub := range m.subs {
		if sub.TenantID == tenantID && sub.ClientID == clientID {
			cp := *sub
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemStore) UpdateSubscriptionAck(ctx context.Context, id string, version int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[id]
	if !ok {
		return store.ErrNotFound
	}
	sub.LastAckVersion = version
	t := at
	sub.LastAckAt = &t
	return nil
}

func (m *MemStore) DeactivateSubscription(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[id]
	if !ok {
		return store.ErrNotFound
	}
	sub.IsActive = false
	return nil
}

func (m *MemStore) DeleteExpiredSubscriptions(ctx context.Context, now, inactiveCutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for id, sub := range m.subs {
		expired := sub.ExpiresAt.Before(now)
		stale := !sub.IsActive &&
			((sub.LastAckAt != nil && sub.LastAckAt.Before(inactiveCutoff)) ||
				(sub.LastAckAt == nil && sub.CreatedAt.Before(inactiveCutoff)))
		if expired || stale {
			delete(m.subs, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *MemStore) GetSubscriptionStats(ctx context.Context, tenantID string) (*store.SubscriptionStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &store.SubscriptionStats{ByProduct: make(map[string]int)}
	for _, sub := range m.subs {
		if sub.TenantID != tenantID || !sub.IsActive {
			continue
		}
		stats.TotalActive++
		stats.ByProduct[sub.Product]++
	}
	return stats, nil
}

// RunInTransaction serializes transactions and restores the pre-transaction
// state when fn fails, matching the all-or-nothing contract of the SQL store.
func (m *MemStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	backup := m.backup()
	if err := fn(m); err != nil {
		m.restore(backup)
		return err
	}
	return nil
}

func (m *MemStore) Close() error { return nil }

type memBackup struct {
	versions  map[string]int64
	events    []*model.Event
	changes   map[entityKey][]*model.ChangeRecord
	snapshots map[entityKey]map[int64]*model.Snapshot
	subs      map[string]*model.Subscription
}

func (m *MemStore) backup() memBackup {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := memBackup{
		versions:  make(map[string]int64, len(m.versions)),
		events:    append([]*model.Event(nil), m.events...),
		changes:   make(map[entityKey][]*model.ChangeRecord, len(m.changes)),
		snapshots: make(map[entityKey]map[int64]*model.Snapshot, len(m.snapshots)),
		subs:      make(map[string]*model.Subscription, len(m.subs)),
	}
	for k, v := range m.versions {
		b.versions[k] = v
	}
	for k, v := range m.changes {
		b.changes[k] = append([]*model.ChangeRecord(nil), v...)
	}
	for k, v := range m.snapshots {
		inner := make(map[int64]*model.Snapshot, len(v))
		for ver, snap := range v {
			inner[ver] = snap
		}
		b.snapshots[k] = inner
	}
	for k, v := range m.subs {
		cp := *v
		b.subs[k] = &cp
	}
	return b
}

func (m *MemStore) restore(b memBackup) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.versions = b.versions
	m.events = b.events
	m.changes = b.changes
	m.snapshots = b.snapshots
	m.subs = b.subs
}

func containsEntityType(list []model.EntityType, t model.EntityType) bool {
	for _, v := range list {
		if v == t {
			return true
		}
	}
	return false
}
