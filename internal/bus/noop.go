package bus

import "context"

// NoopPublisher is a Publisher that does nothing (used when no bus is
// configured and no gateway runs in this process).
type NoopPublisher struct{}

func (n *NoopPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	return nil
}

func (n *NoopPublisher) Close() error {
	return nil
}
