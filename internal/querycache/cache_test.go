package querycache

import (
	"testing"
	"time"
)

func TestSetGetWithinTTL(t *testing.T) {
	c := New[[]string](time.Minute)
	key := Key("alice@x.com", "emails from bob", "bob")

	c.Set(key, []string{"a", "b"})
	got, ok := c.Get(key)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if len(got) != 2 || got[0] != "a" {
		t.Errorf("got = %v", got)
	}
}

func TestGetAfterTTLExpires(t *testing.T) {
	c := New[string](50 * time.Millisecond)
	c.Set("k", "v")

	time.Sleep(80 * time.Millisecond)

	if _, ok := c.Get("k"); ok {
		t.Fatal("expected expired entry to miss")
	}
}

func TestClear(t *testing.T) {
	c := New[int](time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	if c.Len() != 2 {
		t.Fatalf("Len = %d, want 2", c.Len())
	}

	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len after Clear = %d, want 0", c.Len())
	}
	if _, ok := c.Get("a"); ok {
		t.Error("expected miss after Clear")
	}
}

func TestKeyIsStableAndDistinct(t *testing.T) {
	k1 := Key("alice@x.com", "urgent items", "")
	k2 := Key("alice@x.com", "urgent items", "")
	if k1 != k2 {
		t.Error("same inputs produced different keys")
	}

	if Key("alice@x.com", "urgent items", "bob") == k1 {
		t.Error("sender filter did not change key")
	}
	if Key("carol@x.com", "urgent items", "") == k1 {
		t.Error("user did not change key")
	}
}

func TestSetReplacesWithFreshTimestamp(t *testing.T) {
	c := New[int](time.Minute)
	c.Set("k", 1)
	c.Set("k", 2)

	got, ok := c.Get("k")
	if !ok || got != 2 {
		t.Errorf("got = %d ok=%v, want 2 true", got, ok)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}
