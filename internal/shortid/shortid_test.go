package shortid

import (
	"strings"
	"testing"
)

func TestNewLengthAndCharset(t *testing.T) {
	for i := 0; i < 100; i++ {
		id := New()
		if len(id) != 8 {
			t.Fatalf("expected 8-char id, got %q", id)
		}
		if strings.ToLower(id) != id {
			t.Fatalf("expected lowercase id, got %q", id)
		}
	}
}

func TestNewPrefixed(t *testing.T) {
	id := NewPrefixed("mov")
	if !strings.HasPrefix(id, "mov-") {
		t.Fatalf("expected mov- prefix, got %q", id)
	}
	if len(id) != len("mov-")+8 {
		t.Fatalf("unexpected length for %q", id)
	}
}
