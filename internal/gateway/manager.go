// Package gateway is the real-time distribution surface: it accepts
// websocket clients, maintains their subscriptions, and fans committed
// events out to them in realtime or batched form.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/helixgraph/graphstream/internal/auth"
	"github.com/helixgraph/graphstream/internal/bus"
	"github.com/helixgraph/graphstream/internal/eventlog"
	"github.com/helixgraph/graphstream/internal/model"
	"github.com/helixgraph/graphstream/internal/subscriptions"
)

// sender abstracts the connection write so the dispatch core can be tested
// without a websocket.
type sender interface {
	send(msg *serverMessage) error
}

// client is one connected consumer and the subscriptions bound to it.
type client struct {
	id       string
	identity *auth.Identity
	out      sender

	// subs is guarded by the manager's mutex.
	subs map[string]*model.Subscription
}

// Manager routes committed events to connected clients. All connection,
// subscription-index, and batch state is guarded by one mutex; timers are
// stopped synchronously on unsubscribe and disconnect so no flush fires for
// a subscription that no longer has a connection.
type Manager struct {
	registry *subscriptions.Registry
	log      *eventlog.Log
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[string]*client
	bySub   map[string]*client
	pending map[string][]*outboundEvent
	timers  map[string]*time.Timer
}

// NewManager creates a manager over the subscription registry and event log.
func NewManager(registry *subscriptions.Registry, log *eventlog.Log, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		registry: registry,
		log:      log,
		logger:   logger,
		clients:  make(map[string]*client),
		bySub:    make(map[string]*client),
		pending:  make(map[string][]*outboundEvent),
		timers:   make(map[string]*time.Timer),
	}
}

// Run consumes event notifications from the bus and dispatches them until
// ctx is done. It is the bridge between publishers (possibly in other
// processes) and this node's connections.
func (m *Manager) Run(ctx context.Context, sub bus.Subscriber) error {
	ch, cancel, err := sub.Subscribe(bus.WildcardTopic)
	if err != nil {
		return fmt.Errorf("subscribing to event notifications: %w", err)
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-ch:
			if !ok {
				return nil
			}
			var ev model.Event
			if err := json.Unmarshal(payload, &ev); err != nil {
				m.logger.Warn("dropping malformed event notification", "error", err)
				continue
			}
			m.Dispatch(ctx, &ev)
		}
	}
}

// connect registers a connection. A reconnect under the same client id
// supersedes the old connection's routing.
func (m *Manager) connect(id string, identity *auth.Identity, out sender) *client {
	c := &client{id: id, identity: identity, out: out, subs: make(map[string]*model.Subscription)}
	m.mu.Lock()
	m.clients[id] = c
	m.mu.Unlock()
	return c
}

// disconnect tears down a connection: batch timers are stopped, pending
// batches dropped, and the subscriptions soft-deleted so a reconnect can
// resume from its last ack.
func (m *Manager) disconnect(ctx context.Context, c *client) {
	m.mu.Lock()
	var subIDs []string
	for subID := range c.subs {
		subIDs = append(subIDs, subID)
		m.dropSubLocked(subID)
	}
	if m.clients[c.id] == c {
		delete(m.clients, c.id)
	}
	m.mu.Unlock()

	for _, subID := range subIDs {
		if err := m.registry.Deactivate(ctx, subID); err != nil {
			m.logger.Warn("deactivating subscription on disconnect",
				"subscription_id", subID, "error", err)
		}
	}
}

// attach binds a subscription to a connection.
func (m *Manager) attach(c *client, sub *model.Subscription) {
	m.mu.Lock()
	c.subs[sub.ID] = sub
	m.bySub[sub.ID] = c
	m.mu.Unlock()
}

// detach unbinds a subscription from its connection and clears its batch
// state.
func (m *Manager) detach(subID string) {
	m.mu.Lock()
	if c, ok := m.bySub[subID]; ok {
		delete(c.subs, subID)
	}
	m.dropSubLocked(subID)
	m.mu.Unlock()
}

// dropSubLocked removes routing, pending events, and the batch timer for a
// subscription. Callers hold m.mu.
func (m *Manager) dropSubLocked(subID string) {
	delete(m.bySub, subID)
	delete(m.pending, subID)
	if timer, ok := m.timers[subID]; ok {
		timer.Stop()
		delete(m.timers, subID)
	}
}

// Dispatch routes one committed event to every matching connected
// subscription. A failure to deliver to one subscription never affects the
// others.
func (m *Manager) Dispatch(ctx context.Context, ev *model.Event) {
	matched, err := m.registry.FindMatching(ctx, ev)
	if err != nil {
		m.logger.Error("matching subscriptions", "event_id", ev.ID, "error", err)
		return
	}

	for _, sub := range matched {
		if err := m.deliver(sub, ev); err != nil {
			m.logger.Warn("delivering event",
				"event_id", ev.ID, "subscription_id", sub.ID, "error", err)
		}
	}
}

func (m *Manager) deliver(sub *model.Subscription, ev *model.Event) error {
	m.mu.Lock()
	c, connected := m.bySub[sub.ID]
	if !connected {
		// Offline or polling-only; the client catches up over HTTP.
		m.mu.Unlock()
		return nil
	}
	// The attached copy of the subscription carries the delivery options the
	// client subscribed with.
	if attached, ok := c.subs[sub.ID]; ok {
		sub = attached
	}

	switch sub.Options.Mode {
	case model.DeliveryBatched:
		m.pending[sub.ID] = append(m.pending[sub.ID], toOutbound(ev, sub.Options.IncludePayload))
		if _, running := m.timers[sub.ID]; !running {
			subID := sub.ID
			m.timers[subID] = time.AfterFunc(sub.Options.BatchWindow(), func() {
				m.flush(subID)
			})
		}
		m.mu.Unlock()
		return nil
	case model.DeliveryPolling:
		m.mu.Unlock()
		return nil
	default:
		m.mu.Unlock()
		out := toOutbound(ev, sub.Options.IncludePayload)
		return c.out.send(&serverMessage{
			Type:           MsgEvent,
			SubscriptionID: sub.ID,
			Event:          out,
			Position:       &position{Version: out.GlobalVersion, Timestamp: out.CreatedAt},
		})
	}
}

// flush sends a subscription's accumulated batch. Batch state is cleared
// before the write, so a failed send never causes a replay of the window.
func (m *Manager) flush(subID string) {
	m.mu.Lock()
	events := m.pending[subID]
	delete(m.pending, subID)
	delete(m.timers, subID)
	c, connected := m.bySub[subID]
	m.mu.Unlock()

	if !connected || len(events) == 0 {
		return
	}
	if err := c.out.send(batchMessage(subID, events, false)); err != nil {
		m.logger.Warn("delivering event batch",
			"subscription_id", subID, "count", len(events), "error", err)
	}
}

func batchMessage(subID string, events []*outboundEvent, catchUp bool) *serverMessage {
	msg := &serverMessage{
		Type:           MsgEventBatch,
		SubscriptionID: subID,
		Events:         events,
		Count:          len(events),
		IsCatchUp:      catchUp,
	}
	if len(events) > 0 {
		msg.Position = &position{
			FromVersion: events[0].GlobalVersion,
			ToVersion:   events[len(events)-1].GlobalVersion,
		}
	}
	return msg
}
