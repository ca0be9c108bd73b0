package cache

import (
	"testing"
	"time"
)

func TestSetGetDelete(t *testing.T) {
	c := NewTTLCache[string, int]()

	c.Set("a", 1, 0)
	if got, ok := c.Get("a"); !ok || got != 1 {
		t.Fatalf("expected 1, got %d %v", got, ok)
	}

	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected miss after delete")
	}
}

func TestExpiry(t *testing.T) {
	c := NewTTLCache[string, string]()

	c.Set("k", "v", time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected entry to expire")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry not evicted, len %d", c.Len())
	}
}
