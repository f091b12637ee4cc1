package bus

import (
	"context"
	"testing"
	"time"
)

func TestLocalBus_PublishSubscribe(t *testing.T) {
	l := NewLocal()
	defer l.Close()

	ch, cancel, err := l.Subscribe(WildcardTopic)
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer cancel()

	if err := l.Publish(context.Background(), EventTopic("t-1"), []byte(`{"id":"evt-1"}`)); err != nil {
		t.Fatalf("publishing: %v", err)
	}

	select {
	case msg := <-ch:
		if string(msg) != `{"id":"evt-1"}` {
			t.Errorf("got %q", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func TestLocalBus_CancelStopsDelivery(t *testing.T) {
	l := NewLocal()
	defer l.Close()

	ch, cancel, err := l.Subscribe(WildcardTopic)
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}

	cancel()
	cancel() // double cancel must not panic

	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after cancel")
	}

	// Publishing after cancel must not panic or block.
	if err := l.Publish(context.Background(), EventTopic("t-1"), []byte(`{}`)); err != nil {
		t.Fatalf("publishing: %v", err)
	}
}

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		pattern string
		topic   string
		want    bool
	}{
		{"graphstream.events.t-1", "graphstream.events.t-1", true},
		{"graphstream.events.t-1", "graphstream.events.t-2", false},
		{"graphstream.events.*", "graphstream.events.t-1", true},
		{"graphstream.events.*", "graphstream.events.t-1.extra", false},
		{"graphstream.events.>", "graphstream.events.t-1", true},
		{"graphstream.events.>", "graphstream.events.t-1.extra", true},
		{"graphstream.events.>", "graphstream.events", false},
		{"graphstream.*.t-1", "graphstream.events.t-1", true},
	}
	for _, tc := range tests {
		if got := matchTopic(tc.pattern, tc.topic); got != tc.want {
			t.Errorf("matchTopic(%q, %q) = %v, want %v", tc.pattern, tc.topic, got, tc.want)
		}
	}
}
