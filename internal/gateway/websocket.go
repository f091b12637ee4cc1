package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/helixgraph/graphstream/internal/auth"
	"github.com/helixgraph/graphstream/internal/model"
	"github.com/helixgraph/graphstream/internal/store"
	"github.com/helixgraph/graphstream/internal/subscriptions"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// wsConn wraps a websocket connection with a write mutex. Gorilla supports
// one concurrent reader and one concurrent writer; batch timers and the
// dispatch loop write from other goroutines.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsConn) send(msg *serverMessage) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(msg)
}

// Handler upgrades GET requests to websocket sessions speaking the
// subscribe/unsubscribe/ack/ping protocol.
type Handler struct {
	manager  *Manager
	registry *subscriptions.Registry
	auth     auth.Authenticator
	logger   *slog.Logger
}

// NewHandler creates the websocket endpoint handler.
func NewHandler(manager *Manager, registry *subscriptions.Registry, authn auth.Authenticator, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{manager: manager, registry: registry, auth: authn, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	s := &session{
		handler: h,
		out:     &wsConn{conn: conn},
		conn:    conn,
	}
	s.run(r.Context())
}

// session is the per-connection protocol state machine.
type session struct {
	handler *Handler
	out     *wsConn
	conn    *websocket.Conn

	identity *auth.Identity
	client   *client
}

func (s *session) run(ctx context.Context) {
	defer func() {
		if s.client != nil {
			s.handler.manager.disconnect(ctx, s.client)
		}
	}()

	for {
		var msg clientMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.handler.logger.Debug("websocket closed", "error", err)
			}
			return
		}

		switch msg.Type {
		case MsgSubscribe:
			if !s.handleSubscribe(ctx, &msg) {
				return
			}
		case MsgUnsubscribe:
			s.handleUnsubscribe(ctx, &msg)
		case MsgAck:
			s.handleAck(ctx, &msg)
		case MsgPing:
			s.reply(&serverMessage{
				Type:      MsgPong,
				Timestamp: time.Now().UTC().Format(timeFormat),
			})
		default:
			s.reply(errorMessage(CodeBadRequest, fmt.Sprintf("unknown message type %q", msg.Type)))
		}
	}
}

// handleSubscribe authenticates (on the first subscribe), creates the
// subscription, binds it to this connection, and runs catch-up when asked.
// It reports whether the connection should stay open.
func (s *session) handleSubscribe(ctx context.Context, msg *clientMessage) bool {
	if s.identity == nil {
		identity, err := s.authenticate(msg)
		if err != nil {
			s.reply(errorMessage(CodeUnauthorized, "invalid credentials"))
			return false
		}
		if msg.ClientID == "" {
			s.reply(errorMessage(CodeBadRequest, "clientId is required"))
			return false
		}
		s.identity = identity
		s.client = s.handler.manager.connect(msg.ClientID, identity, s.out)
	}

	var options model.DeliveryOptions
	if msg.Options != nil {
		options = *msg.Options
	}
	sub, err := s.handler.registry.Create(ctx, subscriptions.CreateRequest{
		TenantID:       s.identity.TenantID,
		ClientID:       s.client.id,
		Product:        msg.Product,
		ProductVersion: msg.ProductVersion,
		Scopes:         msg.Scopes,
		Filters:        msg.Filters,
		Options:        options,
	})
	if err != nil {
		s.reply(errorMessage(CodeSubscribeFailed, err.Error()))
		return true
	}

	// Bind before catch-up so no event committed during the replay is lost;
	// versioned delivery makes the occasional duplicate harmless.
	s.handler.manager.attach(s.client, sub)

	current, err := s.handler.manager.log.CurrentVersion(ctx, sub.TenantID)
	if err != nil {
		s.handler.logger.Warn("reading current version", "tenant_id", sub.TenantID, "error", err)
	}
	s.reply(&serverMessage{
		Type:           MsgSubscribed,
		SubscriptionID: sub.ID,
		CurrentVersion: formatVersion(current),
	})

	if msg.CatchUpFrom != nil {
		s.catchUp(ctx, sub, *msg.CatchUpFrom)
	}
	return true
}

// catchUp replays committed events after the given version as one batch.
func (s *session) catchUp(ctx context.Context, sub *model.Subscription, fromStr string) {
	from, err := parseVersion(fromStr)
	if err != nil || from < 0 {
		s.reply(errorMessage(CodeBadRequest, fmt.Sprintf("invalid catchUpFrom %q", fromStr)))
		return
	}

	events, err := s.handler.manager.log.EventsSince(ctx, sub.TenantID, from, store.EventQuery{})
	if err != nil {
		s.handler.logger.Error("catch-up replay failed",
			"subscription_id", sub.ID, "from_version", from, "error", err)
		s.reply(errorMessage(CodeSubscribeFailed, "catch-up replay failed"))
		return
	}

	var outbound []*outboundEvent
	for _, ev := range events {
		if sub.Matches(ev) {
			outbound = append(outbound, toOutbound(ev, sub.Options.IncludePayload))
		}
	}
	s.reply(batchMessage(sub.ID, outbound, true))
}

func (s *session) handleUnsubscribe(ctx context.Context, msg *clientMessage) {
	if !s.ownsSubscription(msg.SubscriptionID) {
		s.reply(errorMessage(CodeNotFound, "unknown subscription"))
		return
	}
	s.handler.manager.detach(msg.SubscriptionID)
	if err := s.handler.registry.Deactivate(ctx, msg.SubscriptionID); err != nil {
		s.handler.logger.Warn("deactivating subscription",
			"subscription_id", msg.SubscriptionID, "error", err)
	}
	s.reply(&serverMessage{Type: MsgUnsubscribed, SubscriptionID: msg.SubscriptionID})
}

func (s *session) handleAck(ctx context.Context, msg *clientMessage) {
	if !s.ownsSubscription(msg.SubscriptionID) {
		s.reply(errorMessage(CodeNotFound, "unknown subscription"))
		return
	}
	version, err := parseVersion(msg.Version)
	if err != nil || version < 0 {
		s.reply(errorMessage(CodeBadRequest, fmt.Sprintf("invalid ack version %q", msg.Version)))
		return
	}
	if err := s.handler.registry.Ack(ctx, msg.SubscriptionID, version); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.reply(errorMessage(CodeNotFound, "unknown subscription"))
			return
		}
		s.handler.logger.Error("recording ack", "subscription_id", msg.SubscriptionID, "error", err)
		s.reply(errorMessage(CodeBadRequest, "ack failed"))
		return
	}
	s.reply(&serverMessage{
		Type:           MsgAckConfirmed,
		SubscriptionID: msg.SubscriptionID,
		Version:        msg.Version,
	})
}

func (s *session) ownsSubscription(subID string) bool {
	if s.client == nil || subID == "" {
		return false
	}
	s.handler.manager.mu.Lock()
	defer s.handler.manager.mu.Unlock()
	_, ok := s.client.subs[subID]
	return ok
}

func (s *session) authenticate(msg *clientMessage) (*auth.Identity, error) {
	switch {
	case msg.Token != "":
		return s.handler.auth.VerifyToken(msg.Token)
	case msg.APIKey != "":
		return s.handler.auth.VerifyAPIKey(msg.APIKey)
	default:
		return nil, auth.ErrUnauthorized
	}
}

func (s *session) reply(msg *serverMessage) {
	if err := s.out.send(msg); err != nil {
		s.handler.logger.Debug("writing to websocket", "error", err)
	}
}
