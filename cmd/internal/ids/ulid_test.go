package ids

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
)

func TestNewULID_SortsByTime(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a, err := NewULID(t0)
	if err != nil {
		t.Fatalf("NewULID: %v", err)
	}
	b, err := NewULID(t0.Add(time.Millisecond))
	if err != nil {
		t.Fatalf("NewULID: %v", err)
	}

	if len(a) != 26 || len(b) != 26 {
		t.Fatalf("unexpected lengths: %d %d", len(a), len(b))
	}
	if a >= b {
		t.Fatalf("expected %q < %q", a, b)
	}

	parsed, err := ulid.Parse(a)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := ulid.Time(parsed.Time()); !got.Equal(t0) {
		t.Fatalf("timestamp mismatch: %v", got)
	}
}

func TestNewULID_ZeroTimeUsesNow(t *testing.T) {
	t.Parallel()

	before := time.Now().Add(-time.Second)
	id := MustULID(time.Time{})
	parsed, err := ulid.Parse(id)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ulid.Time(parsed.Time()).Before(before) {
		t.Fatalf("zero time should map to now")
	}
}
