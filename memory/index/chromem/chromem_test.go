package chromem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-recall/core"
	"github.com/becomeliminal/nim-recall/memory/vector"
)

func newIndex(t *testing.T) *Index {
	t.Helper()
	x, err := New(2)
	require.NoError(t, err)
	t.Cleanup(func() { _ = x.Close() })
	return x
}

func insert(t *testing.T, x *Index, userID string, v ...float32) int {
	t.Helper()
	slot, err := x.Insert(context.Background(), userID, vector.Normalize(v))
	require.NoError(t, err)
	return slot
}

func TestIndex_SlotsAreGlobal(t *testing.T) {
	x := newIndex(t)

	assert.Equal(t, 0, insert(t, x, "alice", 1, 0))
	assert.Equal(t, 1, insert(t, x, "bob", 0, 1))
	assert.Equal(t, 2, insert(t, x, "alice", 1, 1))
	assert.Equal(t, 3, x.Len())

	entries := x.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "alice", entries[0].OwnerID)
	assert.Equal(t, "bob", entries[1].OwnerID)
	assert.Equal(t, "alice", entries[2].OwnerID)
}

func TestIndex_DimensionMismatch(t *testing.T) {
	x := newIndex(t)

	_, err := x.Insert(context.Background(), "alice", []float32{1, 2, 3})
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)
	assert.Equal(t, 0, x.Len())
}

func TestIndex_FlatScanRanksWithinUser(t *testing.T) {
	ctx := context.Background()
	x := newIndex(t)
	a0 := insert(t, x, "alice", 0, 1)
	insert(t, x, "bob", 1, 0)
	a1 := insert(t, x, "alice", 1, 0)
	a2 := insert(t, x, "alice", 1, 1)

	matches, err := x.FlatScan(ctx, "alice", []float32{1, 0}, []int{a0, a1, a2})
	require.NoError(t, err)
	require.Len(t, matches, 3)

	assert.Equal(t, a1, matches[0].Slot)
	assert.Equal(t, a2, matches[1].Slot)
	assert.Equal(t, a0, matches[2].Slot)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-5)
}

func TestIndex_FlatScanTiesKeepSlotOrder(t *testing.T) {
	ctx := context.Background()
	x := newIndex(t)
	var slots []int
	for i := 0; i < 3; i++ {
		slots = append(slots, insert(t, x, "alice", 1, 1))
	}

	matches, err := x.FlatScan(ctx, "alice", []float32{1, 1}, slots)
	require.NoError(t, err)
	for i, m := range matches {
		assert.Equal(t, slots[i], m.Slot)
	}
}

func TestIndex_FlatScanUnknownUser(t *testing.T) {
	x := newIndex(t)
	insert(t, x, "alice", 1, 0)

	matches, err := x.FlatScan(context.Background(), "mallory", []float32{1, 0}, []int{0})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestIndex_FlatScanRejectsForeignSlot(t *testing.T) {
	x := newIndex(t)
	insert(t, x, "alice", 1, 0)
	bob := insert(t, x, "bob", 1, 0)

	_, err := x.FlatScan(context.Background(), "alice", []float32{1, 0}, []int{bob})
	assert.Error(t, err)
}

func TestIndex_FlatScanZeroQuery(t *testing.T) {
	x := newIndex(t)
	a := insert(t, x, "alice", 1, 0)
	b := insert(t, x, "alice", 0, 1)

	matches, err := x.FlatScan(context.Background(), "alice", []float32{0, 0}, []int{a, b})
	require.NoError(t, err)
	assert.Equal(t, []core.Match{{Slot: a}, {Slot: b}}, matches)
}
