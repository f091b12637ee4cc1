// Package bus carries "event published" notifications from the event log to
// every distribution gateway instance. Each gateway re-evaluates its own live
// connections against every notification, so horizontal scaling needs no
// cross-process session affinity.
package bus

import "context"

// TopicPrefix is the subject prefix for event notifications. The tenant id
// is appended as the final subject token.
const TopicPrefix = "graphstream.events."

// WildcardTopic subscribes to event notifications for all tenants.
const WildcardTopic = TopicPrefix + ">"

// EventTopic returns the notification subject for a tenant.
func EventTopic(tenantID string) string {
	return TopicPrefix + tenantID
}

// Publisher is the interface for emitting event notifications.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}

// Subscriber receives event notifications from the bus.
type Subscriber interface {
	// Subscribe delivers raw notification payloads on the returned channel.
	// Call the returned cancel function to unsubscribe and close the channel.
	Subscribe(topic string) (<-chan []byte, func(), error)
	Close() error
}
