package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestNew_PanicsOnNonPositiveCapacity(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
	assert.Panics(t, func() { New[int](-3) })
}

func TestBuffer_AppendBelowCapacity(t *testing.T) {
	b := New[int](3)

	assert.False(t, b.Append(1))
	assert.False(t, b.Append(2))

	assert.Equal(t, []int{1, 2}, b.Snapshot())
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, 3, b.Cap())
}

func TestBuffer_EvictsOldestFirst(t *testing.T) {
	b := New[int](3)
	for i := 1; i <= 3; i++ {
		require.False(t, b.Append(i))
	}

	assert.True(t, b.Append(4))
	assert.True(t, b.Append(5))

	assert.Equal(t, []int{3, 4, 5}, b.Snapshot())
}

func TestBuffer_SixtyRecordsIntoFifty(t *testing.T) {
	b := New[int](50)
	for i := 1; i <= 60; i++ {
		b.Append(i)
	}

	snap := b.Snapshot()
	require.Len(t, snap, 50)
	for i, v := range snap {
		assert.Equal(t, i+11, v)
	}
}

func TestBuffer_TwentyFiveSnapshotsIntoTwenty(t *testing.T) {
	b := New[string](20)
	for i := 1; i <= 25; i++ {
		b.Append(string(rune('a' + i - 1)))
	}

	snap := b.Snapshot()
	require.Len(t, snap, 20)
	assert.Equal(t, "f", snap[0], "first element is the 6th item sent")
	assert.Equal(t, "y", snap[19])
}

func TestBuffer_SnapshotIsolation(t *testing.T) {
	b := New[int](4)
	b.Append(1)
	b.Append(2)

	first := b.Snapshot()
	second := b.Snapshot()
	assert.Equal(t, first, second)

	first[0] = 99
	assert.Equal(t, []int{1, 2}, b.Snapshot())

	b.Append(3)
	assert.Equal(t, []int{99, 2}, first, "earlier snapshot must not see later appends")
}

func TestBuffer_Last(t *testing.T) {
	b := New[int](2)
	_, ok := b.Last()
	assert.False(t, ok)

	b.Append(1)
	v, ok := b.Last()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	b.Append(2)
	b.Append(3)
	v, _ = b.Last()
	assert.Equal(t, 3, v)
}

func TestBuffer_Reset(t *testing.T) {
	b := New[int](2)
	b.Append(1)
	b.Append(2)
	b.Append(3)

	b.Reset()
	assert.Empty(t, b.Snapshot())
	assert.Equal(t, 2, b.Cap())

	b.Append(7)
	assert.Equal(t, []int{7}, b.Snapshot())
}

func TestBuffer_PropertyBased_LengthNeverExceedsCapacity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(1, 64).Draw(t, "capacity")
		items := rapid.SliceOf(rapid.Int()).Draw(t, "items")

		b := New[int](capacity)
		for _, it := range items {
			b.Append(it)
			if b.Len() > capacity || len(b.Snapshot()) > capacity {
				t.Fatalf("length %d exceeds capacity %d", b.Len(), capacity)
			}
		}
	})
}

func TestBuffer_PropertyBased_KeepsLastCapacityItems(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(1, 64).Draw(t, "capacity")
		extra := rapid.IntRange(0, 200).Draw(t, "extra")

		b := New[int](capacity)
		total := capacity + extra
		evictions := 0
		for i := 0; i < total; i++ {
			if b.Append(i) {
				evictions++
			}
		}

		snap := b.Snapshot()
		if len(snap) != capacity {
			t.Fatalf("len = %d, want %d", len(snap), capacity)
		}
		for i, v := range snap {
			if want := extra + i; v != want {
				t.Fatalf("snap[%d] = %d, want %d", i, v, want)
			}
		}
		if evictions != extra {
			t.Fatalf("evictions = %d, want %d", evictions, extra)
		}
	})
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("records")
	require.NoError(t, err)
	assert.Equal(t, KindRecords, k)

	k, err = ParseKind("snapshots")
	require.NoError(t, err)
	assert.Equal(t, KindSnapshots, k)

	_, err = ParseKind("trips")
	assert.Error(t, err)
}
