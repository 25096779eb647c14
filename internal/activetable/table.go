// Package activetable implements the active-object table (C5): an
// identity-keyed map from live tracked objects to their current flow
// cursor, with Go's weak-pointer-adjacent runtime.AddCleanup facility
// standing in for the "reference queue" / "phantom reference" finalization
// mechanism spec.md's design notes describe as one valid option for
// languages without intrinsic identity hashes or GC hooks.
//
// The pending-finalization queue itself is a simple mutex-guarded FIFO,
// modeled on the overflow-slice compaction in the teacher corpus's
// joeycumines/go-eventloop registry.go (compactAndRenew) -- this runs off
// the record() hot path (inside the runtime's own cleanup goroutine, or
// during the bounded inline drain), so a short critical section is an
// acceptable tradeoff for simplicity over a true lock-free MPSC queue.
package activetable

import (
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/joeycumines/go-flowtrace/internal/flowslot"
	"github.com/joeycumines/go-flowtrace/internal/leaksink"
	"github.com/joeycumines/go-flowtrace/internal/triepath"
)

// ObjectID is the identity of a tracked object: its pointer value, reduced
// to an integer. This is Go's analogue of "the raw pointer cast to an
// integer" that spec.md's design notes ask the instrumentation layer to
// supply in languages without an intrinsic identity hash.
type ObjectID = uintptr

// Pusher is the subset of leaksink.Sink the active table needs: whether
// anyone is listening, and where to deliver a detected leak.
type Pusher interface {
	IsRecording() bool
	Push(ev leaksink.LeakEvent)
}

// entry is an ActiveEntry: a live object's flow slot plus the bookkeeping
// needed to classify its eventual outcome.
type entry struct {
	id       ObjectID
	slot     *flowslot.Slot
	rootSite string
	isDirect bool
	cleanup  runtime.Cleanup
}

// Table is the concurrent identity -> ActiveEntry map, plus the pending
// finalization queue fed by runtime.AddCleanup callbacks.
type Table struct {
	mu      sync.RWMutex
	entries map[ObjectID]*entry

	pending pendingQueue

	drainCounter   atomic.Uint64
	drainBatchSize int
	drainInterval  uint64

	sink Pusher
}

// Config bounds the active table's drain policy.
type Config struct {
	// DrainBatchSize bounds how many finalization entries one inline drain
	// processes. Default 100.
	DrainBatchSize int
	// DrainInterval is how often (in AcquireOrGet calls) an inline drain
	// runs, beyond the always-drain-on-first-call behavior. Default 100.
	DrainInterval uint64
}

const (
	DefaultDrainBatchSize = 100
	DefaultDrainInterval  = 100
)

// New constructs a Table that pushes detected leaks to sink.
func New(sink Pusher, cfg Config) *Table {
	if cfg.DrainBatchSize <= 0 {
		cfg.DrainBatchSize = DefaultDrainBatchSize
	}
	if cfg.DrainInterval == 0 {
		cfg.DrainInterval = DefaultDrainInterval
	}
	return &Table{
		entries:        make(map[ObjectID]*entry),
		drainBatchSize: cfg.DrainBatchSize,
		drainInterval:  cfg.DrainInterval,
		sink:           sink,
	}
}

// IdentityOf returns obj's pointer identity.
func IdentityOf[T any](obj *T) ObjectID {
	return uintptr(unsafe.Pointer(obj))
}

// AcquireOrGet returns the flow slot for obj, creating and registering a new
// ActiveEntry rooted at rootSite on first use. created reports whether this
// call performed that creation.
//
// Every call first applies the inline drain policy from spec §4.4: drain
// once on the very first call observed by this table, then once every
// DrainInterval calls thereafter. The teacher corpus's per-thread counter
// rationale (avoiding a contended global counter) does not translate
// directly: Go has no goroutine-local storage, so this uses one shared
// atomic counter, which still gives the intended cadence at the cost of
// that specific cache-locality optimization (see DESIGN.md).
func AcquireOrGet[T any](t *Table, obj *T, root *triepath.Node, rootSite string, isDirect bool) (slot *flowslot.Slot, created bool) {
	id := IdentityOf(obj)

	t.maybeDrain()

	t.mu.RLock()
	if e, ok := t.entries[id]; ok {
		t.mu.RUnlock()
		return e.slot, false
	}
	t.mu.RUnlock()

	candidateSlot := flowslot.Acquire(root)
	candidate := &entry{id: id, slot: candidateSlot, rootSite: rootSite, isDirect: isDirect}

	t.mu.Lock()
	if e, ok := t.entries[id]; ok {
		t.mu.Unlock()
		flowslot.Release(candidateSlot)
		return e.slot, false
	}
	t.entries[id] = candidate
	t.mu.Unlock()

	candidate.cleanup = runtime.AddCleanup(obj, t.onUnreachable, id)

	return candidateSlot, true
}

// MarkCleanReleased records a clean release for id's entry, if it still
// exists and has not already been marked. The entry itself remains in the
// map until its finalization notification arrives (see package doc and
// spec §4.4): this is what prevents a later, separately-instrumented
// release call on the same identity from being mistaken for a new root.
func (t *Table) MarkCleanReleased(id ObjectID) {
	t.mu.RLock()
	e, ok := t.entries[id]
	t.mu.RUnlock()
	if !ok {
		return
	}
	if e.slot.MarkCompleted() {
		e.slot.Cursor.RecordOutcome(true)
	}
}

// Get returns the entry's flow slot for id, if it still exists.
func (t *Table) Get(id ObjectID) (slot *flowslot.Slot, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[id]
	if !ok {
		return nil, false
	}
	return e.slot, true
}

// ActiveCount returns the number of entries currently tracked, including
// entries that are complete but not yet reclaimed -- the literal
// interpretation spec §9's open question #1 adopts.
func (t *Table) ActiveCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

func (t *Table) onUnreachable(id ObjectID) {
	t.pending.push(id)
}

func (t *Table) maybeDrain() {
	n := t.drainCounter.Add(1)
	if n == 1 || n%t.drainInterval == 0 {
		t.DrainFinalizationQueue(t.drainBatchSize)
	}
}

// DrainFinalizationQueue processes up to limit pending finalization
// notifications: for each, if the entry was never cleanly released, a leak
// outcome is recorded and (if anyone is listening) a LeakEvent is pushed to
// the sink. The entry is removed and its slot returned to the pool either
// way. It returns the number of notifications processed.
func (t *Table) DrainFinalizationQueue(limit int) int {
	ids := t.pending.popUpTo(limit)
	for _, id := range ids {
		t.finalizeOne(id)
	}
	return len(ids)
}

// DrainFinalizationQueueAll drains the pending finalization queue to
// exhaustion, for use during shutdown.
func (t *Table) DrainFinalizationQueueAll() int {
	total := 0
	for {
		n := t.DrainFinalizationQueue(t.drainBatchSize)
		total += n
		if n == 0 {
			return total
		}
	}
}

func (t *Table) finalizeOne(id ObjectID) {
	t.mu.Lock()
	e, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	t.recordOutcomeAndRelease(e)
}

// ForceFinalizeAll immediately finalizes every remaining active entry,
// regardless of whether the runtime has reported it unreachable, per
// shutdown step 2 in spec §5. Already-scheduled cleanups for these entries
// are stopped, since the entry has already been accounted for.
func (t *Table) ForceFinalizeAll() int {
	t.mu.Lock()
	remaining := make([]*entry, 0, len(t.entries))
	for id, e := range t.entries {
		remaining = append(remaining, e)
		delete(t.entries, id)
	}
	t.mu.Unlock()

	for _, e := range remaining {
		e.cleanup.Stop()
		t.recordOutcomeAndRelease(e)
	}
	return len(remaining)
}

func (t *Table) recordOutcomeAndRelease(e *entry) {
	if !e.slot.Completed() {
		e.slot.Cursor.RecordOutcome(false)
		if t.sink.IsRecording() {
			t.sink.Push(leaksink.LeakEvent{
				Leaf:         e.slot.Cursor,
				RootSite:     e.rootSite,
				IsDirect:     e.isDirect,
				DetectedAtMs: leaksink.NowMs(),
			})
		}
	}
	flowslot.Release(e.slot)
}

// Reset discards every entry and pending notification, without finalizing
// or reporting any of them -- a test/debug hook, matching spec's reset()
// semantics of "no effect on already-published snapshots".
func (t *Table) Reset() {
	t.mu.Lock()
	for _, e := range t.entries {
		e.cleanup.Stop()
	}
	t.entries = make(map[ObjectID]*entry)
	t.mu.Unlock()
	t.pending.reset()
	t.drainCounter.Store(0)
}
