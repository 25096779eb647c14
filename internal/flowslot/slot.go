// Package flowslot implements the pooled per-object flow cursor (C4): the
// position of one live tracked object within the call-path trie, reused via
// sync.Pool the way the teacher corpus recycles refPoolItem and chunk
// values to keep the hot path allocation-free after warmup.
package flowslot

import (
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-flowtrace/internal/triepath"
)

// Slot is a live object's cursor into the trie: its current node, the depth
// reached so far, and whether a clean release has already been recorded.
type Slot struct {
	Cursor *triepath.Node
	Depth  int

	completed atomic.Bool
}

var pool = sync.Pool{New: func() any { return new(Slot) }}

// Acquire returns a Slot positioned at root, either freshly allocated or
// recycled from the pool.
func Acquire(root *triepath.Node) *Slot {
	s := pool.Get().(*Slot)
	s.Cursor = root
	s.Depth = 0
	s.completed.Store(false)
	return s
}

// Release clears s and returns it to the pool. Callers must not use s after
// calling Release.
func Release(s *Slot) {
	s.Cursor = nil
	s.Depth = 0
	s.completed.Store(false)
	pool.Put(s)
}

// Advance moves the cursor to n and increments Depth.
func (s *Slot) Advance(n *triepath.Node) {
	s.Cursor = n
	s.Depth++
}

// MarkCompleted atomically transitions the slot to completed, reporting
// whether this call performed the transition (false if already completed).
func (s *Slot) MarkCompleted() bool {
	return s.completed.CompareAndSwap(false, true)
}

// Completed reports whether a clean release has already been recorded.
func (s *Slot) Completed() bool {
	return s.completed.Load()
}
