package xid

import (
	"strings"
	"testing"
)

func TestNewIsPrefixedAndUnique(t *testing.T) {
	seen := make(map[string]struct{}, 100)
	for i := 0; i < 100; i++ {
		id := New("sale")
		if !strings.HasPrefix(id, "sale_") {
			t.Fatalf("expected sale_ prefix, got %q", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestNewSortsByCreationOrder(t *testing.T) {
	first := New("inv")
	second := New("inv")
	if first >= second {
		t.Fatalf("expected %q to sort before %q", first, second)
	}
}
