// Package viewstate persists the cashflow view a user last looked at, per owner
// and per viewed account.
package viewstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"cashflow/internal/core"
)

const keyPrefix = "cashflow:view-state"

// State is what the cashflow view restores on the next visit.
type State struct {
	ActiveRange  core.Range         `json:"activeRange"`
	Offset       int                `json:"offset"`
	FlowTab      core.FlowType      `json:"flowTab"`
	RangeOffsets map[core.Range]int `json:"rangeOffsets"`
}

// Defaults returns a fresh default state. Callers may modify it freely.
func Defaults() State {
	return State{
		ActiveRange:  core.Month,
		Offset:       0,
		FlowTab:      core.FlowAll,
		RangeOffsets: DefaultRangeOffsets(),
	}
}

// DefaultRangeOffsets returns a fresh map with a zero offset for every range.
func DefaultRangeOffsets() map[core.Range]int {
	m := make(map[core.Range]int, len(core.Ranges()))
	for _, r := range core.Ranges() {
		m[r] = 0
	}
	return m
}

// StorageKey identifies the state of ownerID looking at targetID's data.
// An empty targetID, or one equal to ownerID, means the owner's own data.
func StorageKey(ownerID, targetID string) string {
	owner := strings.TrimSpace(ownerID)
	if owner == "" {
		owner = "unknown"
	}
	scope := "self"
	if t := strings.TrimSpace(targetID); t != "" && t != owner {
		scope = "friend-" + t
	}
	return fmt.Sprintf("%s:owner-%s:%s", keyPrefix, owner, scope)
}

// Sanitize replaces invalid fields with defaults. It is idempotent.
func Sanitize(s State) State {
	out := Defaults()
	if s.ActiveRange.Valid() {
		out.ActiveRange = s.ActiveRange
	}
	if s.FlowTab.ValidFlowTab() {
		out.FlowTab = s.FlowTab
	}
	out.Offset = s.Offset
	for _, r := range core.Ranges() {
		if v, ok := s.RangeOffsets[r]; ok {
			out.RangeOffsets[r] = v
		}
	}
	return out
}

// KV is the storage the state is written to.
type KV interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Put(ctx context.Context, key, value string) error
}

// Store reads and writes view states. Storage failures never reach the
// caller: they are logged and the defaults are used instead.
type Store struct {
	kv      KV
	logger  *slog.Logger
	verbose bool
}

// NewStore wraps kv. Failures are logged as warnings unless env is production,
// where they drop to debug level.
func NewStore(kv KV, logger *slog.Logger, env string) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		kv:      kv,
		logger:  logger.With("component", "view_state"),
		verbose: env != "production",
	}
}

// Persist sanitises s, writes it under key and returns what was written.
func (s *Store) Persist(ctx context.Context, key string, st State) State {
	clean := Sanitize(st)
	b, err := json.Marshal(clean)
	if err != nil {
		s.warn(ctx, "Failed to encode view state", key, err)
		return clean
	}
	if err := s.kv.Put(ctx, key, string(b)); err != nil {
		s.warn(ctx, "Failed to persist view state", key, err)
	}
	return clean
}

// Read returns the sanitised state stored under key, or the defaults when it is
// missing or unreadable.
func (s *Store) Read(ctx context.Context, key string) State {
	raw, found, err := s.kv.Get(ctx, key)
	if err != nil {
		s.warn(ctx, "Failed to read view state", key, err)
		return Defaults()
	}
	if !found {
		return Defaults()
	}
	var st State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		s.warn(ctx, "Corrupted view state", key, err)
		return Defaults()
	}
	return Sanitize(st)
}

func (s *Store) warn(ctx context.Context, msg, key string, err error) {
	level := slog.LevelDebug
	if s.verbose {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, msg, "key", key, "error", err)
}

// ErrMemoryFull is returned by a MemoryKV that reached its entry limit.
var ErrMemoryFull = errors.New("view state storage full")

// MemoryKV keeps states in process memory.
type MemoryKV struct {
	mu    sync.RWMutex
	data  map[string]string
	limit int
}

// NewMemoryKV creates an in-memory store. limit <= 0 means no limit.
func NewMemoryKV(limit int) *MemoryKV {
	return &MemoryKV{data: make(map[string]string), limit: limit}
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryKV) Put(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.data[key]; !exists && m.limit > 0 && len(m.data) >= m.limit {
		return ErrMemoryFull
	}
	m.data[key] = value
	return nil
}
