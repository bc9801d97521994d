package idgen

import (
	"strings"
	"testing"
)

func TestNew_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New()
		if !Valid(id) {
			t.Fatalf("New() = %q is not a UUID", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("evt_")
	if !strings.HasPrefix(id, "evt_") {
		t.Errorf("missing prefix: %q", id)
	}
	if len(id) != len("evt_")+32 {
		t.Errorf("unexpected length %d", len(id))
	}
}

func TestValid(t *testing.T) {
	if Valid("not-a-uuid") {
		t.Error("expected invalid")
	}
	if Valid("") {
		t.Error("empty string is not a uuid")
	}
}

func TestHex(t *testing.T) {
	if got := Hex(8); len(got) != 16 {
		t.Errorf("Hex(8) length = %d", len(got))
	}
}
