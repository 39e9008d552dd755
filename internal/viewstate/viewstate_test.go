package viewstate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cashflow/internal/core"
)

type failingKV struct{}

func (failingKV) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("disk on fire")
}

func (failingKV) Put(context.Context, string, string) error {
	return errors.New("disk on fire")
}

func TestStorageKey(t *testing.T) {
	tests := []struct {
		owner, target, want string
	}{
		{"u1", "", "cashflow:view-state:owner-u1:self"},
		{"u1", "u1", "cashflow:view-state:owner-u1:self"},
		{"u1", "f9", "cashflow:view-state:owner-u1:friend-f9"},
		{"", "", "cashflow:view-state:owner-unknown:self"},
		{"", "f9", "cashflow:view-state:owner-unknown:friend-f9"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StorageKey(tt.owner, tt.target), "owner=%q target=%q", tt.owner, tt.target)
	}
}

func TestDefaultsAreFresh(t *testing.T) {
	a := Defaults()
	a.RangeOffsets[core.Week] = 7
	a.ActiveRange = core.Year

	b := Defaults()
	assert.Equal(t, core.Month, b.ActiveRange)
	assert.Equal(t, core.FlowAll, b.FlowTab)
	assert.Equal(t, 0, b.RangeOffsets[core.Week])
	assert.Len(t, DefaultRangeOffsets(), 3)
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   State
		want State
	}{
		{
			name: "zero value",
			in:   State{},
			want: Defaults(),
		},
		{
			name: "valid state kept",
			in: State{
				ActiveRange:  core.Week,
				Offset:       -2,
				FlowTab:      core.Outflow,
				RangeOffsets: map[core.Range]int{core.Week: -2, core.Month: 1, core.Year: 0},
			},
			want: State{
				ActiveRange:  core.Week,
				Offset:       -2,
				FlowTab:      core.Outflow,
				RangeOffsets: map[core.Range]int{core.Week: -2, core.Month: 1, core.Year: 0},
			},
		},
		{
			name: "invalid enums and unknown offsets",
			in: State{
				ActiveRange:  "decade",
				Offset:       3,
				FlowTab:      "sideways",
				RangeOffsets: map[core.Range]int{"decade": 4, core.Year: -1},
			},
			want: State{
				ActiveRange:  core.Month,
				Offset:       3,
				FlowTab:      core.FlowAll,
				RangeOffsets: map[core.Range]int{core.Week: 0, core.Month: 0, core.Year: -1},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Sanitize(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, Sanitize(got), "sanitize must be idempotent")
		})
	}
}

func TestPersistReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemoryKV(0), nil, "test")
	key := StorageKey("u1", "f2")

	in := State{
		ActiveRange:  core.Year,
		Offset:       -1,
		FlowTab:      core.Inflow,
		RangeOffsets: map[core.Range]int{core.Year: -1, "bogus": 9},
	}
	written := store.Persist(ctx, key, in)
	assert.Equal(t, Sanitize(in), written)
	assert.Equal(t, Sanitize(in), store.Read(ctx, key))
}

func TestReadFallsBackToDefaults(t *testing.T) {
	ctx := context.Background()

	kv := NewMemoryKV(0)
	require.NoError(t, kv.Put(ctx, "corrupt", "{not json"))
	store := NewStore(kv, nil, "development")

	assert.Equal(t, Defaults(), store.Read(ctx, "missing"))
	assert.Equal(t, Defaults(), store.Read(ctx, "corrupt"))

	broken := NewStore(failingKV{}, nil, "production")
	assert.Equal(t, Defaults(), broken.Read(ctx, "any"))
	assert.Equal(t, Defaults(), broken.Persist(ctx, "any", State{}))
}

func TestMemoryKVLimit(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV(1)
	require.NoError(t, kv.Put(ctx, "a", "1"))
	require.NoError(t, kv.Put(ctx, "a", "2"))
	assert.ErrorIs(t, kv.Put(ctx, "b", "1"), ErrMemoryFull)

	v, ok, err := kv.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2", v)
}
