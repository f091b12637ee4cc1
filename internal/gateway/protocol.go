package gateway

import (
	"encoding/json"
	"strconv"

	"github.com/helixgraph/graphstream/internal/model"
)

// Client message types.
const (
	MsgSubscribe   = "subscribe"
	MsgUnsubscribe = "unsubscribe"
	MsgAck         = "ack"
	MsgPing        = "ping"
)

// Server message types.
const (
	MsgSubscribed   = "subscribed"
	MsgUnsubscribed = "unsubscribed"
	MsgAckConfirmed = "ack_confirmed"
	MsgPong         = "pong"
	MsgEvent        = "event"
	MsgEventBatch   = "event_batch"
	MsgError        = "error"
)

// Error codes carried in error messages.
const (
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeBadRequest      = "BAD_REQUEST"
	CodeSubscribeFailed = "SUBSCRIBE_FAILED"
	CodeNotFound        = "NOT_FOUND"
)

// clientMessage is the envelope for every message a client sends. Version
// fields arrive as strings because global versions are 64-bit counters that
// do not survive a round-trip through a JSON number in every client runtime.
type clientMessage struct {
	Type           string                 `json:"type"`
	Token          string                 `json:"token,omitempty"`
	APIKey         string                 `json:"apiKey,omitempty"`
	ClientID       string                 `json:"clientId,omitempty"`
	Product        string                 `json:"product,omitempty"`
	ProductVersion string                 `json:"productVersion,omitempty"`
	Scopes         []model.Scope          `json:"scopes,omitempty"`
	Filters        *model.Filters         `json:"filters,omitempty"`
	Options        *model.DeliveryOptions `json:"options,omitempty"`
	SubscriptionID string                 `json:"subscriptionId,omitempty"`
	CatchUpFrom    *string                `json:"catchUpFrom,omitempty"`
	Version        string                 `json:"version,omitempty"`
}

// serverMessage is the envelope for every message the gateway sends.
type serverMessage struct {
	Type           string           `json:"type"`
	SubscriptionID string           `json:"subscriptionId,omitempty"`
	CurrentVersion string           `json:"currentVersion,omitempty"`
	Event          *outboundEvent   `json:"event,omitempty"`
	Events         []*outboundEvent `json:"events,omitempty"`
	Count          int              `json:"count,omitempty"`
	IsCatchUp      bool             `json:"isCatchUp,omitempty"`
	Position       *position        `json:"position,omitempty"`
	Version        string           `json:"version,omitempty"`
	Timestamp      string           `json:"timestamp,omitempty"`
	Code           string           `json:"code,omitempty"`
	Message        string           `json:"message,omitempty"`
}

// position locates a delivery in the tenant's global version sequence:
// single-event pushes carry the event's version and timestamp, batches carry
// the covered version range.
type position struct {
	Version     string `json:"version,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
	FromVersion string `json:"fromVersion,omitempty"`
	ToVersion   string `json:"toVersion,omitempty"`
}

// outboundEvent is the wire form of an event. The payload is withheld unless
// the subscription asked for it.
type outboundEvent struct {
	ID            string           `json:"id"`
	TenantID      string           `json:"tenantId"`
	GraphID       string           `json:"graphId,omitempty"`
	EventType     string           `json:"eventType"`
	EntityType    model.EntityType `json:"entityType"`
	EntityID      string           `json:"entityId"`
	EntityVersion int64            `json:"entityVersion"`
	GlobalVersion string           `json:"globalVersion"`
	Actor         model.Actor      `json:"actor"`
	Payload       json.RawMessage  `json:"payload,omitempty"`
	Metadata      map[string]any   `json:"metadata,omitempty"`
	CreatedAt     string           `json:"createdAt"`
}

func toOutbound(ev *model.Event, includePayload bool) *outboundEvent {
	out := &outboundEvent{
		ID:            ev.ID,
		TenantID:      ev.TenantID,
		GraphID:       ev.GraphID,
		EventType:     ev.EventType,
		EntityType:    ev.EntityType,
		EntityID:      ev.EntityID,
		EntityVersion: ev.EntityVersion,
		GlobalVersion: formatVersion(ev.GlobalVersion),
		Actor:         ev.Actor,
		Metadata:      ev.Metadata,
		CreatedAt:     ev.CreatedAt.Format(timeFormat),
	}
	if includePayload {
		out.Payload = ev.Payload
	}
	return out
}

const timeFormat = "2006-01-02T15:04:05.999999999Z07:00" // RFC 3339 with nanoseconds

func formatVersion(v int64) string {
	return strconv.FormatInt(v, 10)
}

func parseVersion(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

func errorMessage(code, msg string) *serverMessage {
	return &serverMessage{Type: MsgError, Code: code, Message: msg}
}
