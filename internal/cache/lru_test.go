package cache

import (
	"strconv"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func TestLRUCacheEviction(t *testing.T) {
	c := NewLRUCache[string](3, time.Hour)

	c.Set("key1", "value1")
	c.Set("key2", "value2")
	c.Set("key3", "value3")
	c.Set("key4", "value4") // evicts key1

	if _, found := c.Get("key1"); found {
		t.Error("key1 should have been evicted")
	}
	for _, k := range []string{"key2", "key3", "key4"} {
		if _, found := c.Get(k); !found {
			t.Errorf("%s should still exist", k)
		}
	}
}

func TestLRUCacheAccessRefreshesRecency(t *testing.T) {
	c := NewLRUCache[int](2, 0)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a")
	c.Set("c", 3) // evicts b, not a

	if _, found := c.Get("b"); found {
		t.Error("b should have been evicted")
	}
	if v, found := c.Get("a"); !found || v != 1 {
		t.Errorf("a = %v/%v, want 1/true", v, found)
	}
}

func TestLRUCacheTTLExpiration(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLRUCache[string](100, 50*time.Millisecond)
	c.now = clock.now

	c.Set("key1", "value1")
	if _, found := c.Get("key1"); !found {
		t.Fatal("key1 should exist immediately")
	}

	clock.advance(60 * time.Millisecond)
	if _, found := c.Get("key1"); found {
		t.Fatal("key1 should have expired")
	}
}

func TestLRUCacheCleanExpired(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLRUCache[int](0, time.Minute)
	c.now = clock.now

	c.Set("old", 1)
	clock.advance(2 * time.Minute)
	c.Set("fresh", 2)

	if removed := c.CleanExpired(); removed != 1 {
		t.Fatalf("CleanExpired removed %d, want 1", removed)
	}
	if c.Size() != 1 {
		t.Fatalf("Size = %d, want 1", c.Size())
	}
}

func TestUnboundedNeverEvicts(t *testing.T) {
	c := Unbounded[int]()
	for i := 0; i < 5000; i++ {
		c.Set(strconv.Itoa(i), i)
	}
	if c.Size() != 5000 {
		t.Fatalf("Size = %d, want 5000", c.Size())
	}
	if removed := c.CleanExpired(); removed != 0 {
		t.Fatalf("CleanExpired removed %d from a cache without TTL", removed)
	}
	c.Clear()
	if c.Size() != 0 {
		t.Fatalf("Size after Clear = %d", c.Size())
	}
}

func TestManagerCleanNow(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	a := NewLRUCache[int](0, time.Second)
	a.now = clock.now
	a.Set("x", 1)
	clock.advance(2 * time.Second)

	m := NewManager(nil)
	m.Register(a)
	m.Register(Unbounded[string]())
	if got := m.CleanNow(); got != 1 {
		t.Fatalf("CleanNow = %d, want 1", got)
	}

	m.StartCleanup(time.Hour)
	m.Stop()
	m.Stop()
}
