package cache

import "testing"

func TestLRU_PutGet(t *testing.T) {
	c := NewLRU[int](2)
	c.Put("a", 1)
	c.Put("b", 2)
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("Get(a) = %d, %v, want 1, true", v, ok)
	}
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRU[int](2)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Get("a") // a is now most-recently-used
	c.Put("c", 3) // evicts b, not a

	if _, ok := c.Get("b"); ok {
		t.Fatal("expected b to be evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected a to survive eviction")
	}
	if _, ok := c.Get("c"); !ok {
		t.Fatal("expected c to be present")
	}
	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}
}

func TestLRU_Delete(t *testing.T) {
	c := NewLRU[string](4)
	c.Put("k", "v")
	c.Delete("k")
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected deleted key to be absent")
	}
}

func TestLRU_DefaultCapacity(t *testing.T) {
	c := NewLRU[int](0)
	if c.capacity != 500 {
		t.Errorf("capacity = %d, want 500", c.capacity)
	}
}
