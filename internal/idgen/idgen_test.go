package idgen

import (
	"strings"
	"testing"
)

func TestGenerate(t *testing.T) {
	id, err := Generate(EventPrefix)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.HasPrefix(id, "evt-") {
		t.Errorf("id %q missing prefix", id)
	}
	if len(id) != len(EventPrefix)+Length {
		t.Errorf("id %q has length %d, want %d", id, len(id), len(EventPrefix)+Length)
	}
}

func TestGenerateUnique(t *testing.T) {
	seen := make(map[string]bool)
	for range 1000 {
		id, err := Generate(SubscriptionPrefix)
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}
