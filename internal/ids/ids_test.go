package ids

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
)

func TestNew_IsParsableULID(t *testing.T) {
	id := New()
	if _, err := ulid.ParseStrict(id); err != nil {
		t.Fatalf("New() = %q is not a valid ULID: %v", id, err)
	}
}

func TestNewAt_MonotonicWithinSameInstant(t *testing.T) {
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	prev := NewAt(at)
	for i := 0; i < 100; i++ {
		next := NewAt(at)
		if next <= prev {
			t.Fatalf("ids not increasing: %q then %q", prev, next)
		}
		prev = next
	}
}
