package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/helixgraph/graphstream/internal/bus"
	"github.com/helixgraph/graphstream/internal/model"
	"github.com/helixgraph/graphstream/internal/store"
	"github.com/helixgraph/graphstream/internal/store/storetest"
)

func testRequest(tenantID string) PublishRequest {
	return PublishRequest{
		TenantID:   tenantID,
		GraphID:    "g-1",
		EventType:  "node.updated",
		EntityType: model.EntityNode,
		EntityID:   "n-1",
		Actor:      model.Actor{ID: "u-1", Kind: model.ActorUser},
	}
}

func TestPublish_AssignsContiguousVersions(t *testing.T) {
	st := storetest.NewMemStore()
	log := New(st, nil, nil)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		ev, err := log.Publish(ctx, testRequest("t-1"))
		if err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
		if ev.GlobalVersion != int64(i) {
			t.Errorf("publish %d: global version = %d, want %d", i, ev.GlobalVersion, i)
		}
		if ev.ID == "" {
			t.Error("event id not assigned")
		}
	}

	version, err := log.CurrentVersion(ctx, "t-1")
	if err != nil {
		t.Fatalf("CurrentVersion: %v", err)
	}
	if version != 5 {
		t.Errorf("current version = %d, want 5", version)
	}
}

func TestNew_NilPublisherDefaultsToNoop(t *testing.T) {
	log := New(storetest.NewMemStore(), nil, nil)
	if _, ok := log.pub.(*bus.NoopPublisher); !ok {
		t.Fatalf("publisher = %T, want *bus.NoopPublisher", log.pub)
	}
	// Publishing without a bus still persists the event.
	ev, err := log.Publish(context.Background(), testRequest("t-1"))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if ev.GlobalVersion != 1 {
		t.Errorf("global version = %d, want 1", ev.GlobalVersion)
	}
}

func TestPublish_VersionsAreIndependentPerTenant(t *testing.T) {
	st := storetest.NewMemStore()
	log := New(st, nil, nil)
	ctx := context.Background()

	if _, err := log.Publish(ctx, testRequest("t-1")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := log.Publish(ctx, testRequest("t-1")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	ev, err := log.Publish(ctx, testRequest("t-2"))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if ev.GlobalVersion != 1 {
		t.Errorf("t-2 first version = %d, want 1", ev.GlobalVersion)
	}
}

func TestPublish_ConcurrentWritersGetUniqueGapFreeVersions(t *testing.T) {
	st := storetest.NewMemStore()
	log := New(st, nil, nil)
	ctx := context.Background()

	const writers = 20
	versions := make(chan int64, writers)
	var wg sync.WaitGroup
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ev, err := log.Publish(ctx, testRequest("t-1"))
			if err != nil {
				t.Errorf("publish: %v", err)
				return
			}
			versions <- ev.GlobalVersion
		}()
	}
	wg.Wait()
	close(versions)

	seen := make(map[int64]bool)
	for v := range versions {
		if seen[v] {
			t.Errorf("duplicate global version %d", v)
		}
		seen[v] = true
	}
	for v := int64(1); v <= writers; v++ {
		if !seen[v] {
			t.Errorf("gap: version %d never assigned", v)
		}
	}
}

func TestPublish_FailedInsertConsumesNoVersion(t *testing.T) {
	st := storetest.NewMemStore()
	st.InsertEventErr = errors.New("disk full")
	log := New(st, nil, nil)
	ctx := context.Background()

	if _, err := log.Publish(ctx, testRequest("t-1")); err == nil {
		t.Fatal("expected publish to fail")
	}

	// The aborted attempt must not have consumed a version.
	version, err := log.CurrentVersion(ctx, "t-1")
	if err != nil {
		t.Fatalf("CurrentVersion: %v", err)
	}
	if version != 0 {
		t.Errorf("current version = %d after failed publish, want 0", version)
	}

	st.InsertEventErr = nil
	ev, err := log.Publish(ctx, testRequest("t-1"))
	if err != nil {
		t.Fatalf("publish after recovery: %v", err)
	}
	if ev.GlobalVersion != 1 {
		t.Errorf("version after recovery = %d, want 1", ev.GlobalVersion)
	}
}

func TestPublish_Validation(t *testing.T) {
	log := New(storetest.NewMemStore(), nil, nil)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*PublishRequest)
	}{
		{"missing tenant", func(r *PublishRequest) { r.TenantID = "" }},
		{"missing event type", func(r *PublishRequest) { r.EventType = "" }},
		{"missing entity type", func(r *PublishRequest) { r.EntityType = "" }},
		{"missing entity id", func(r *PublishRequest) { r.EntityID = "" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := testRequest("t-1")
			tc.mutate(&req)
			if _, err := log.Publish(ctx, req); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestPublish_NotifiesBus(t *testing.T) {
	st := storetest.NewMemStore()
	local := bus.NewLocal()
	defer local.Close()
	log := New(st, local, nil)

	ch, cancel, err := local.Subscribe(bus.EventTopic("t-1"))
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer cancel()

	published, err := log.Publish(context.Background(), testRequest("t-1"))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case payload := <-ch:
		var got model.Event
		if err := json.Unmarshal(payload, &got); err != nil {
			t.Fatalf("unmarshaling notification: %v", err)
		}
		if got.ID != published.ID {
			t.Errorf("notification event id = %q, want %q", got.ID, published.ID)
		}
		if got.GlobalVersion != 1 {
			t.Errorf("notification global version = %d, want 1", got.GlobalVersion)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for bus notification")
	}
}

func TestEventsSince_FiltersAndOrders(t *testing.T) {
	st := storetest.NewMemStore()
	log := New(st, nil, nil)
	ctx := context.Background()

	for i := range 4 {
		req := testRequest("t-1")
		if i%2 == 1 {
			req.EntityType = model.EntityEdge
		}
		if _, err := log.Publish(ctx, req); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	events, err := log.EventsSince(ctx, "t-1", 1, store.EventQuery{})
	if err != nil {
		t.Fatalf("EventsSince: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	for i, ev := range events {
		if want := int64(i + 2); ev.GlobalVersion != want {
			t.Errorf("event %d: version = %d, want %d", i, ev.GlobalVersion, want)
		}
	}

	edges, err := log.EventsSince(ctx, "t-1", 0, store.EventQuery{
		EntityTypes: []model.EntityType{model.EntityEdge},
	})
	if err != nil {
		t.Fatalf("EventsSince with filter: %v", err)
	}
	if len(edges) != 2 {
		t.Fatalf("got %d edge events, want 2", len(edges))
	}
}

func TestCurrentVersion_ZeroWhenNeverPublished(t *testing.T) {
	log := New(storetest.NewMemStore(), nil, nil)
	version, err := log.CurrentVersion(context.Background(), "t-absent")
	if err != nil {
		t.Fatalf("CurrentVersion: %v", err)
	}
	if version != 0 {
		t.Errorf("version = %d, want 0", version)
	}
}
