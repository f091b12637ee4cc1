package bus

import (
	"context"
	"strings"
	"sync"
)

// Local is an in-process bus implementing both Publisher and Subscriber.
// It is used for single-node deployments without NATS and in tests; subject
// matching follows the same dot-separated wildcard rules ("*" for one
// segment, ">" for a trailing run of segments).
type Local struct {
	mu     sync.RWMutex
	subs   map[*localSub]struct{}
	closed bool
}

type localSub struct {
	topic string
	ch    chan []byte
}

// NewLocal creates an empty in-process bus.
func NewLocal() *Local {
	return &Local{subs: make(map[*localSub]struct{})}
}

func (l *Local) Publish(ctx context.Context, topic string, payload []byte) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for sub := range l.subs {
		if matchTopic(sub.topic, topic) {
			select {
			case sub.ch <- payload:
			default:
				// Drop when the subscriber is slow, same contract as NATS.
			}
		}
	}
	return nil
}

func (l *Local) Subscribe(topic string) (<-chan []byte, func(), error) {
	sub := &localSub{topic: topic, ch: make(chan []byte, 64)}

	l.mu.Lock()
	l.subs[sub] = struct{}{}
	l.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, sub)
			l.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel, nil
}

func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	for sub := range l.subs {
		close(sub.ch)
		delete(l.subs, sub)
	}
	return nil
}

// matchTopic matches a dot-separated subject against a pattern. "*" matches
// exactly one segment and ">" matches one or more remaining segments.
func matchTopic(pattern, topic string) bool {
	if pattern == topic {
		return true
	}

	patParts := strings.Split(pattern, ".")
	topParts := strings.Split(topic, ".")

	for i, pp := range patParts {
		if pp == ">" {
			return i < len(topParts)
		}
		if i >= len(topParts) {
			return false
		}
		if pp != "*" && pp != topParts[i] {
			return false
		}
	}

	return len(patParts) == len(topParts)
}
