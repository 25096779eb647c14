package flowslot

import (
	"testing"

	"github.com/joeycumines/go-flowtrace/internal/triepath"
	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseReset(t *testing.T) {
	root := &triepath.Node{Site: "A.alloc"}
	s := Acquire(root)
	require.Same(t, root, s.Cursor)
	require.Equal(t, 0, s.Depth)
	require.False(t, s.Completed())

	child := &triepath.Node{Site: "B.use", Parent: root}
	s.Advance(child)
	require.Same(t, child, s.Cursor)
	require.Equal(t, 1, s.Depth)

	require.True(t, s.MarkCompleted())
	require.True(t, s.Completed())
	require.False(t, s.MarkCompleted()) // already completed

	Release(s)
}

func TestAcquireAfterReleaseIsClean(t *testing.T) {
	root := &triepath.Node{Site: "A.alloc"}
	s := Acquire(root)
	s.Advance(&triepath.Node{Site: "B.use"})
	s.MarkCompleted()
	Release(s)

	s2 := Acquire(root)
	require.Same(t, root, s2.Cursor)
	require.Equal(t, 0, s2.Depth)
	require.False(t, s2.Completed())
}
