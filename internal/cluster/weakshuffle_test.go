package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeakShuffleAddContainsDiscard(t *testing.T) {
	w := NewWeakShuffle()
	a := newNonLocalMember("a")
	b := newNonLocalMember("b")

	assert.False(t, w.Contains(a))
	w.Add(a)
	w.Add(b)
	assert.Equal(t, 2, w.Len())
	assert.True(t, w.Contains(a))
	assert.True(t, w.Contains(b))

	w.Discard(a)
	assert.Equal(t, 1, w.Len())
	assert.False(t, w.Contains(a))
	assert.True(t, w.Contains(b))
}

func TestWeakShuffleAddIsIdempotent(t *testing.T) {
	w := NewWeakShuffle()
	a := newNonLocalMember("a")
	w.Add(a)
	w.Add(a)
	assert.Equal(t, 1, w.Len())
}

func TestWeakShuffleDiscardMissingIsNoop(t *testing.T) {
	w := NewWeakShuffle()
	a := newNonLocalMember("a")
	w.Discard(a)
	assert.Equal(t, 0, w.Len())
}

func TestWeakShuffleChoiceEmpty(t *testing.T) {
	w := NewWeakShuffle()
	_, ok := w.Choice()
	assert.False(t, ok)
}

func TestWeakShuffleChoiceUniformity(t *testing.T) {
	w := NewWeakShuffle()
	names := []string{"a", "b", "c", "d"}
	for _, n := range names {
		w.Add(newNonLocalMember(n))
	}

	counts := make(map[string]int)
	const trials = 20000
	for i := 0; i < trials; i++ {
		m, ok := w.Choice()
		require.True(t, ok)
		counts[m.Name]++
	}

	expected := float64(trials) / float64(len(names))
	for _, n := range names {
		got := float64(counts[n])
		// Loose tolerance: this only guards against a badly skewed
		// selection, not exact uniformity.
		assert.InDeltaf(t, expected, got, expected*0.25, "name %s got %d selections", n, counts[n])
	}
}

func TestWeakShuffleSnapshotIsIndependent(t *testing.T) {
	w := NewWeakShuffle()
	a := newNonLocalMember("a")
	w.Add(a)

	snap := w.Snapshot()
	w.Add(newNonLocalMember("b"))
	assert.Equal(t, 1, len(snap))
	assert.Equal(t, 2, w.Len())
}
