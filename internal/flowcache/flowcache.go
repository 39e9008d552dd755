// Package flowcache memoises backend responses under descriptor keys.
//
// Entries are only removed by Delete, Reset or the bounds of the underlying
// cache; the store never decides on its own that an entry is stale. Identical
// in-flight requests share one upstream call, and a request that has been
// overtaken by a newer one on the same slot is reported as superseded.
package flowcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"cashflow/internal/cache"
	"cashflow/internal/descriptor"
)

// ErrSuperseded is returned to a caller whose request was overtaken by a newer
// request on the same slot. The payload is still cached under its own key.
var ErrSuperseded = errors.New("request superseded by a newer one")

// Options tune a single Fetch call.
type Options struct {
	// ForceRefetch skips the cache lookup and always calls the backend.
	ForceRefetch bool
	// Slot groups requests that compete for the same view, e.g. one browser tab's
	// cashflow chart. Only the latest request on a slot is delivered.
	Slot string
}

// Result is a cached or freshly fetched payload.
type Result[T any] struct {
	Key     descriptor.Key
	Payload T
	Cached  bool
}

// FetchFunc loads the payload for a key from the backend.
type FetchFunc[T any] func(ctx context.Context) (T, error)

type Store[T any] struct {
	name   string
	cache  cache.Cache[T]
	group  singleflight.Group
	logger *slog.Logger

	mu sync.Mutex
	// gen is bumped by Delete and Reset. A fetch started under an older
	// generation returns its payload but does not store it.
	gen uint64
	// seq numbers every Fetch call.
	seq uint64
	// slots maps a slot to the seq of its newest request. Entries are removed
	// when that request completes.
	slots map[string]uint64
	// owners maps a key to the newest flight allowed to store it, so an older
	// flight cannot overwrite the result of a forced one.
	owners map[string]uint64
}

// New wraps c. A nil cache means an unbounded one.
func New[T any](name string, c cache.Cache[T], logger *slog.Logger) *Store[T] {
	if c == nil {
		c = cache.Unbounded[T]()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store[T]{
		name:   name,
		cache:  c,
		logger: logger.With("cache", name),
		slots:  make(map[string]uint64),
		owners: make(map[string]uint64),
	}
}

// Fetch returns the payload for key, calling fetch on a miss or when forced.
// A forced call never joins a request that is already in flight.
func (s *Store[T]) Fetch(ctx context.Context, key descriptor.Key, opts Options, fetch FetchFunc[T]) (Result[T], error) {
	seq, gen := s.begin(opts.Slot)
	defer s.finish(opts.Slot, seq)

	if !opts.ForceRefetch {
		if payload, ok := s.cache.Get(string(key)); ok {
			s.logger.DebugContext(ctx, "Cache hit", "key", key)
			return Result[T]{Key: key, Payload: payload, Cached: true}, nil
		}
	}

	flight := fmt.Sprintf("%d:%s", gen, key)
	if opts.ForceRefetch {
		s.group.Forget(flight)
	}
	ch := s.group.DoChan(flight, func() (any, error) {
		s.claim(key, seq)
		// Shared by every waiter, so one caller going away must not cancel it.
		payload, err := fetch(context.WithoutCancel(ctx))
		if err != nil {
			s.release(key, seq)
			return payload, err
		}
		if s.store(key, gen, seq, payload) {
			s.logger.DebugContext(ctx, "Cache stored", "key", key, "forced", opts.ForceRefetch)
		} else {
			s.logger.DebugContext(ctx, "Discarded outdated result", "key", key)
		}
		return payload, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return Result[T]{Key: key}, ctx.Err()
	case res = <-ch:
	}

	if res.Err != nil {
		return Result[T]{Key: key}, fmt.Errorf("fetch %s: %w", s.name, res.Err)
	}
	if res.Shared {
		s.logger.DebugContext(ctx, "Joined in-flight request", "key", key)
	}

	out := Result[T]{Key: key, Payload: res.Val.(T)}
	if !s.current(opts.Slot, seq) {
		return out, ErrSuperseded
	}
	return out, nil
}

// Peek returns the cached payload without fetching.
func (s *Store[T]) Peek(key descriptor.Key) (T, bool) {
	return s.cache.Get(string(key))
}

// Delete drops a single entry. Fetches already running are not stored.
func (s *Store[T]) Delete(key descriptor.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.cache.Delete(string(key))
}

// Reset drops every entry. Fetches already running are not stored, and later
// calls do not join them.
func (s *Store[T]) Reset() {
	s.mu.Lock()
	s.gen++
	s.cache.Clear()
	s.mu.Unlock()
	s.logger.Info("Cache reset")
}

// Len returns the number of cached entries.
func (s *Store[T]) Len() int {
	return s.cache.Size()
}

// Slots returns how many slots have a request in progress.
func (s *Store[T]) Slots() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}

func (s *Store[T]) begin(slot string) (seq, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	if slot != "" {
		s.slots[slot] = s.seq
	}
	return s.seq, s.gen
}

func (s *Store[T]) current(slot string, seq uint64) bool {
	if slot == "" {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slots[slot] == seq
}

func (s *Store[T]) finish(slot string, seq uint64) {
	if slot == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.slots[slot] == seq {
		delete(s.slots, slot)
	}
}

func (s *Store[T]) claim(key descriptor.Key, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owners[string(key)] < seq {
		s.owners[string(key)] = seq
	}
}

func (s *Store[T]) release(key descriptor.Key, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owners[string(key)] == seq {
		delete(s.owners, string(key))
	}
}

func (s *Store[T]) store(key descriptor.Key, gen, seq uint64, payload T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	owner := s.owners[string(key)]
	if owner == seq {
		delete(s.owners, string(key))
	}
	if gen != s.gen || owner != seq {
		return false
	}
	s.cache.Set(string(key), payload)
	return true
}
