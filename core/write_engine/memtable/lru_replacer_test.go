package memtable

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLRUReplacerVictimOrder(t *testing.T) {
	r := NewLRUReplacer(4)
	r.Unpin(1)
	r.Unpin(2)
	r.Unpin(3)
	require.Equal(t, 3, r.Size())

	// Re-unpinning keeps the original position.
	r.Unpin(1)

	for _, want := range []FrameID{1, 2, 3} {
		got, ok := r.Victim()
		require.True(t, ok)
		require.Equal(t, want, got)
	}
	_, ok := r.Victim()
	require.False(t, ok)
}

func TestLRUReplacerPinRemovesCandidate(t *testing.T) {
	r := NewLRUReplacer(4)
	r.Unpin(1)
	r.Unpin(2)
	r.Pin(1)
	r.Pin(7) // untracked, ignored
	require.Equal(t, 1, r.Size())

	got, ok := r.Victim()
	require.True(t, ok)
	require.Equal(t, FrameID(2), got)
}

func TestLRUReplacerCapacity(t *testing.T) {
	r := NewLRUReplacer(2)
	r.Unpin(0)
	r.Unpin(1)
	r.Unpin(2)
	require.Equal(t, 2, r.Size())

	got, ok := r.Victim()
	require.True(t, ok)
	require.Equal(t, FrameID(0), got)
}

func TestLRUReplacerRestoreKeepsVictimOrder(t *testing.T) {
	r := NewLRUReplacer(3)
	r.Unpin(1)
	r.Unpin(2)
	r.Unpin(3)

	got, ok := r.Victim()
	require.True(t, ok)
	require.Equal(t, FrameID(1), got)
	r.Restore(got)
	r.Restore(got) // already tracked, ignored

	for _, want := range []FrameID{1, 2, 3} {
		got, ok := r.Victim()
		require.True(t, ok)
		require.Equal(t, want, got)
	}
	_, ok = r.Victim()
	require.False(t, ok)
}
