package cache

import (
	"testing"
	"time"
)

func TestTakeRedeemsAtMostOnce(t *testing.T) {
	c := New[string](time.Minute)
	c.Set("state", "pending")

	v, ok := c.Take("state")
	if !ok || v != "pending" {
		t.Fatalf("first Take got (%q, %v), want (pending, true)", v, ok)
	}

	// a replayed key must find nothing
	if _, ok := c.Take("state"); ok {
		t.Fatalf("second Take succeeded, key must be single-use")
	}
	if _, ok := c.Get("state"); ok {
		t.Fatalf("Get found a consumed key")
	}
}

func TestTakeRefusesExpiredEntry(t *testing.T) {
	c := New[string](20 * time.Millisecond)
	c.Set("state", "pending")

	time.Sleep(40 * time.Millisecond)

	if _, ok := c.Take("state"); ok {
		t.Fatalf("Take returned an expired entry")
	}
}

func TestTakeUnknownKey(t *testing.T) {
	c := New[string](time.Minute)

	if _, ok := c.Take("never-issued"); ok {
		t.Fatalf("Take returned a value for a key never set")
	}
}
