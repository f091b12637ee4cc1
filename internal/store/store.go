package store

import (
	"context"
	"errors"
	"time"

	"github.com/helixgraph/graphstream/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
// Implementations map their driver's not-found condition to this error.
var ErrNotFound = errors.New("store: not found")

// DefaultEventLimit caps event range scans when the caller does not
// specify a limit.
const DefaultEventLimit = 1000

// DefaultHistoryLimit caps change-history pages when the caller does not
// specify a limit.
const DefaultHistoryLimit = 50

// EventQuery filters an ascending event range scan.
type EventQuery struct {
	GraphID     string
	EntityTypes []model.EntityType
	Limit       int // 0 = DefaultEventLimit
}

// HistoryQuery paginates and bounds a newest-first change history scan.
type HistoryQuery struct {
	Limit       int // 0 = DefaultHistoryLimit
	Offset      int
	FromVersion int64 // 0 = unbounded
	ToVersion   int64 // 0 = unbounded
}

// SubscriptionStats summarizes a tenant's active subscriptions.
type SubscriptionStats struct {
	TotalActive int            `json:"totalActive"`
	ByProduct   map[string]int `json:"byProduct"`
}

// Store defines the persistence interface for the event distribution and
// versioning core. The store is assumed to offer atomic increment-on-write
// for the tenant version counter and range scans keyed by version.
type Store interface {
	// Tenant version counter. NextGlobalVersion atomically increments and
	// returns the tenant's counter, creating it at 1 when absent. It is the
	// one operation requiring true atomicity under concurrent writers and is
	// expected to run inside the same transaction as the event insert.
	NextGlobalVersion(ctx context.Context, tenantID string) (int64, error)
	GetCurrentVersion(ctx context.Context, tenantID string) (int64, error)

	// Events (append-only; rows are never updated or deleted here).
	InsertEvent(ctx context.Context, ev *model.Event) error
	GetEventsSince(ctx context.Context, tenantID string, sinceVersion int64, q EventQuery) ([]*model.Event, error)
	GetLatestEvents(ctx context.Context, tenantID, graphID string, limit int) ([]*model.Event, error)
	// GetEventsAfterRow scans events by storage row id across all tenants,
	// for archival export. It returns the events and the last row id seen.
	GetEventsAfterRow(ctx context.Context, afterRow int64, limit int) ([]*model.Event, int64, error)

	// Entity change records.
	InsertChange(ctx context.Context, ch *model.ChangeRecord) error
	GetChanges(ctx context.Context, tenantID string, entityType model.EntityType, entityID string, q HistoryQuery) ([]*model.ChangeRecord, error)
	// GetChangeRange returns changes with version in (afterVersion,
	// throughVersion] in ascending version order, for replay.
	GetChangeRange(ctx context.Context, tenantID string, entityType model.EntityType, entityID string, afterVersion, throughVersion int64) ([]*model.ChangeRecord, error)
	GetLatestChange(ctx context.Context, tenantID string, entityType model.EntityType, entityID string) (*model.ChangeRecord, error)
	GetChangeAtOrBefore(ctx context.Context, tenantID string, entityType model.EntityType, entityID string, ts time.Time) (*model.ChangeRecord, error)

	// Snapshots.
	UpsertSnapshot(ctx context.Context, snap *model.Snapshot) error
	GetSnapshot(ctx context.Context, tenantID string, entityType model.EntityType, entityID string, version int64) (*model.Snapshot, error)
	// GetNearestSnapshot returns the snapshot with the highest version at or
	// below maxVersion.
	GetNearestSnapshot(ctx context.Context, tenantID string, entityType model.EntityType, entityID string, maxVersion int64) (*model.Snapshot, error)

	// Subscriptions.
	CreateSubscription(ctx context.Context, sub *model.Subscription) error
	GetSubscription(ctx context.Context, id string) (*model.Subscription, error)
	ListActiveSubscriptions(ctx context.Context, tenantID string) ([]*model.Subscription, error)
	ListClientSubscriptions(ctx context.Context, tenantID, clientID string) ([]*model.Subscription, error)
	UpdateSubscriptionAck(ctx context.Context, id string, version int64, at time.Time) error
	DeactivateSubscription(ctx context.Context, id string) error
	// DeleteExpiredSubscriptions removes rows past their expiry at `now`, or
	// inactive rows whose last ack is older than inactiveCutoff.
	DeleteExpiredSubscriptions(ctx context.Context, now, inactiveCutoff time.Time) (int64, error)
	GetSubscriptionStats(ctx context.Context, tenantID string) (*SubscriptionStats, error)

	// Transaction support.
	RunInTransaction(ctx context.Context, fn func(tx Store) error) error

	// Lifecycle.
	Close() error
}
