// Package eventlog implements the append-only tenant event log with
// gap-free global version assignment.
package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/helixgraph/graphstream/internal/bus"
	"github.com/helixgraph/graphstream/internal/idgen"
	"github.com/helixgraph/graphstream/internal/model"
	"github.com/helixgraph/graphstream/internal/store"
)

// Log appends events to the store and notifies the bus. Version assignment
// and the event insert run in one transaction, so a committed event always
// owns its global version and a failed insert never consumes one.
type Log struct {
	store  store.Store
	pub    bus.Publisher
	logger *slog.Logger
}

// New creates an event log backed by the given store and bus publisher. A
// nil publisher disables notifications (tool processes and tests that only
// need the durable log).
func New(st store.Store, pub bus.Publisher, logger *slog.Logger) *Log {
	if pub == nil {
		pub = &bus.NoopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{store: st, pub: pub, logger: logger}
}

// PublishRequest describes one mutation to record.
type PublishRequest struct {
	TenantID      string
	GraphID       string
	EventType     string
	EntityType    model.EntityType
	EntityID      string
	EntityVersion int64
	Actor         model.Actor
	Payload       json.RawMessage
	Metadata      map[string]any
}

func (r *PublishRequest) validate() error {
	if r.TenantID == "" {
		return fmt.Errorf("tenant id is required")
	}
	if r.EventType == "" {
		return fmt.Errorf("event type is required")
	}
	if !r.EntityType.IsValid() {
		return fmt.Errorf("entity type is required")
	}
	if r.EntityID == "" {
		return fmt.Errorf("entity id is required")
	}
	return nil
}

// Publish assigns the tenant's next global version, persists the event, and
// notifies the bus. Persistence is all-or-nothing; the bus notification is
// fire-and-forget because subscribers recover missed events through
// version-aware catch-up.
func (l *Log) Publish(ctx context.Context, req PublishRequest) (*model.Event, error) {
	if err := req.validate(); err != nil {
		return nil, fmt.Errorf("invalid publish request: %w", err)
	}

	id, err := idgen.Generate(idgen.EventPrefix)
	if err != nil {
		return nil, err
	}

	ev := &model.Event{
		ID:            id,
		TenantID:      req.TenantID,
		GraphID:       req.GraphID,
		EventType:     req.EventType,
		EntityType:    req.EntityType,
		EntityID:      req.EntityID,
		EntityVersion: req.EntityVersion,
		Actor:         req.Actor,
		Payload:       req.Payload,
		Metadata:      req.Metadata,
		CreatedAt:     time.Now().UTC(),
	}

	err = l.store.RunInTransaction(ctx, func(tx store.Store) error {
		version, err := tx.NextGlobalVersion(ctx, req.TenantID)
		if err != nil {
			return fmt.Errorf("allocating global version: %w", err)
		}
		ev.GlobalVersion = version
		return tx.InsertEvent(ctx, ev)
	})
	if err != nil {
		return nil, fmt.Errorf("publishing event: %w", err)
	}

	l.notify(ctx, ev)
	return ev, nil
}

// notify pushes the committed event to the bus. Failures are logged and
// swallowed; the event is already durable.
func (l *Log) notify(ctx context.Context, ev *model.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		l.logger.Warn("marshaling event notification", "event_id", ev.ID, "error", err)
		return
	}
	if err := l.pub.Publish(ctx, bus.EventTopic(ev.TenantID), payload); err != nil {
		l.logger.Warn("publishing event notification",
			"event_id", ev.ID, "tenant_id", ev.TenantID, "error", err)
	}
}

// EventsSince returns the tenant's events with global version strictly
// greater than sinceVersion, oldest first.
func (l *Log) EventsSince(ctx context.Context, tenantID string, sinceVersion int64, q store.EventQuery) ([]*model.Event, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant id is required")
	}
	events, err := l.store.GetEventsSince(ctx, tenantID, sinceVersion, q)
	if err != nil {
		return nil, fmt.Errorf("listing events since %d: %w", sinceVersion, err)
	}
	return events, nil
}

// LatestEvents returns the tenant's most recent events, newest first.
func (l *Log) LatestEvents(ctx context.Context, tenantID, graphID string, limit int) ([]*model.Event, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant id is required")
	}
	events, err := l.store.GetLatestEvents(ctx, tenantID, graphID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing latest events: %w", err)
	}
	return events, nil
}

// CurrentVersion returns the tenant's version counter, 0 when the tenant has
// never published.
func (l *Log) CurrentVersion(ctx context.Context, tenantID string) (int64, error) {
	version, err := l.store.GetCurrentVersion(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("reading current version: %w", err)
	}
	return version, nil
}
