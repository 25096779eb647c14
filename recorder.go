package flowtrace

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-flowtrace/internal/activetable"
	"github.com/joeycumines/go-flowtrace/internal/leaksink"
	"github.com/joeycumines/go-flowtrace/internal/triepath"
)

// Recorder is the single entry point instrumentation calls into: it wires
// together the call-path trie (C1-C4), the active-object table (C5), and
// the leak-event pipeline (C7) behind the Record/RecordScoped API.
//
// A Recorder is safe for concurrent use by arbitrarily many goroutines, the
// same way the teacher corpus's *Loop and *Batcher types are: every field
// reachable from Record is either immutable after New or independently
// synchronized.
type Recorder struct {
	cfg    config
	trie   *triepath.Trie
	table  *activetable.Table
	sink   *leaksink.Sink
	classC *classifierRegistry

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}

	closed atomic.Bool
}

// isShuttingDown reports whether Shutdown has been called, regardless of
// whether its goroutine-stop sequence has finished running.
func (rec *Recorder) isShuttingDown() bool {
	return rec.closed.Load()
}

// New constructs a Recorder. The background snapshot scheduler is started
// immediately unless WithPushInterval(0) (or negative) was supplied.
func New(opts ...Option) (*Recorder, error) {
	cfg, err := resolveConfig(opts)
	if err != nil {
		return nil, err
	}

	sink := leaksink.NewSink()
	sink.SetPanicHandler(logHandlerPanic)

	rec := &Recorder{
		cfg: cfg,
		trie: triepath.New(triepath.Config{
			MaxNodes:           cfg.maxNodes,
			MaxDepth:           cfg.maxDepth,
			MaxChildrenPerNode: cfg.maxChildrenPerNode,
			InternerCapacity:   cfg.internerCapacity,
		}),
		table: activetable.New(sink, activetable.Config{
			DrainBatchSize: cfg.drainBatchSize,
			DrainInterval:  cfg.drainInterval,
		}),
		sink:   sink,
		classC: newClassifierRegistry(),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	if cfg.pushInterval > 0 {
		go rec.runScheduler()
	} else {
		close(rec.doneCh)
	}

	return rec, nil
}

// Record is the primary instrumentation hook: it reports that obj was
// touched at site with the given ref-count-like metric. The first Record
// call observed for any given obj establishes that call's site as the
// object's root and isDirect as its metric kind; every subsequent call
// advances obj's cursor one hop through the call-path trie.
//
// metric == 0 (when the Recorder was constructed with the default
// WithReleaseOnlyAtZero(true)) is treated as a clean release: the object's
// current node is marked with a clean hint and, if this object is ever
// later observed as unreachable, no leak is reported for it.
//
// Record never returns an error and never blocks: callers are expected to
// call it from arbitrary hot paths (e.g. inside retain/release methods).
func Record[T any](rec *Recorder, obj *T, site string, metric int, isDirect bool) {
	if rec == nil || obj == nil {
		return
	}
	recordGeneric(rec, obj, site, metric, isDirect)
}

// recordGeneric is the type-parameterized body shared by Record and
// TrackAny: Go's lack of generic methods (and the impossibility of
// instantiating a generic function from a reflect.Type) means every path
// that eventually needs activetable.AcquireOrGet[T] must itself be
// generic over T, all the way up from the call site.
func recordGeneric[T any](rec *Recorder, obj *T, site string, metric int, isDirect bool) {
	// §7's shutdown-in-progress error kind: once Shutdown has been called,
	// every further Record/TrackAny/RecordScoped call is a silent no-op,
	// since ForceFinalizeAll and the final PushSnapshotNow have already run
	// and nothing will ever drain a trie node or active entry created after
	// that point.
	if rec.isShuttingDown() {
		return
	}

	// only an object with no active entry yet gets a root for site; later
	// touches advance from the existing cursor without creating a root.
	slot, ok := rec.table.Get(activetable.IdentityOf(obj))
	created := false
	if !ok {
		root, reason, replaced := rec.trie.GetOrCreateRoot(site, metric)
		if reason != triepath.SaturationNone {
			logSaturation(string(reason), site, root.Bucket, rec.trie.NodeCount())
		}
		if replaced {
			logSaturation(string(triepath.SaturationInternerReplaced), site, root.Bucket, rec.trie.NodeCount())
		}
		slot, created = activetable.AcquireOrGet(rec.table, obj, root, site, isDirect)
	}

	if created {
		slot.Cursor.RecordTraversal()
	} else {
		next, reason, replaced := rec.trie.TraverseOrCreate(slot.Cursor, site, metric, slot.Depth)
		if reason != triepath.SaturationNone {
			logSaturation(string(reason), site, next.Bucket, rec.trie.NodeCount())
		}
		if replaced {
			logSaturation(string(triepath.SaturationInternerReplaced), site, next.Bucket, rec.trie.NodeCount())
		}
		if next != slot.Cursor {
			slot.Advance(next)
		}
		next.RecordTraversal()
	}

	if rec.cfg.releaseOnlyAtZero && metric == 0 {
		rec.table.MarkCleanReleased(activetable.IdentityOf(obj))
	}
}

// TrackAny records obj at site using the Recorder's registered Classifiers
// to extract the ref-count-like metric and direct/heap classification,
// instead of requiring the caller to pass them explicitly the way Record
// does. It reports whether a Classifier recognized obj; when false, no
// tracking occurred.
func TrackAny[T any](rec *Recorder, obj *T, site string) bool {
	if rec == nil || obj == nil {
		return false
	}
	c, ok := rec.classC.classify(obj)
	if !ok {
		return false
	}
	recordGeneric(rec, obj, site, c.Metric(obj), c.IsDirect(obj))
	return true
}

// Scope carries the re-entrance guard and duplicate-suppression state that
// spec.md's design notes assume an OS thread-local provides. Go has no
// goroutine-local storage, so callers whose instrumentation can recurse
// (e.g. a release() that calls a shared touch() helper which itself calls
// release()) must acquire a Scope and thread it explicitly through
// RecordScoped, instead of Record silently relying on ambient state.
//
// A Scope is only needed by instrumentation layers that recurse through
// Record for the same logical operation; straight-line call sites can use
// Record directly.
type Scope struct {
	entered bool
	seen    map[uintptr]struct{}
}

var scopePool = sync.Pool{New: func() any { return &Scope{seen: make(map[uintptr]struct{})} }}

// AcquireScope returns an empty Scope, either freshly allocated or recycled
// from an internal pool.
func AcquireScope() *Scope {
	return scopePool.Get().(*Scope)
}

// ReleaseScope clears s and returns it to the pool. Callers must not use s
// after calling ReleaseScope.
func ReleaseScope(s *Scope) {
	s.entered = false
	for k := range s.seen {
		delete(s.seen, k)
	}
	scopePool.Put(s)
}

// RecordScoped behaves like Record, except it is a no-op when scope is
// already marked entered (re-entrance guard) or when obj's identity has
// already been recorded once within scope (duplicate suppression). This is
// the Go-native substitute for the thread-local re-entrance/dedup guard
// spec.md's design notes call for; see Scope's doc comment.
func RecordScoped[T any](rec *Recorder, scope *Scope, obj *T, site string, metric int, isDirect bool) {
	if rec == nil || obj == nil || scope == nil {
		return
	}
	if scope.entered {
		return
	}
	id := activetable.IdentityOf(obj)
	if _, dup := scope.seen[id]; dup {
		return
	}

	scope.entered = true
	defer func() { scope.entered = false }()

	scope.seen[id] = struct{}{}
	recordGeneric(rec, obj, site, metric, isDirect)
}

// RegisterClassifier adds a custom Classifier, consulted ahead of
// previously registered ones (including the built-in RefCounted
// classifier) by TrackAny.
func (rec *Recorder) RegisterClassifier(c Classifier) {
	rec.classC.register(c)
}

// RegisterHandler adds h to the set of handlers notified on every snapshot
// push (background or manual). It returns ErrNilHandler if h is nil, or
// ErrShuttingDown if Shutdown has already been called -- no further
// snapshots will ever be pushed to a handler registered after that point.
func (rec *Recorder) RegisterHandler(h SnapshotHandler) error {
	if h == nil {
		return ErrNilHandler
	}
	if rec.isShuttingDown() {
		return ErrShuttingDown
	}
	rec.sink.RegisterHandler(h)
	return nil
}

// IsTracking reports whether obj currently has a live entry in the active
// table.
func IsTracking[T any](rec *Recorder, obj *T) bool {
	if rec == nil || obj == nil {
		return false
	}
	_, ok := rec.table.Get(activetable.IdentityOf(obj))
	return ok
}

// ActiveCount reports the number of objects currently tracked, including
// entries that are complete but not yet reclaimed by finalization.
func (rec *Recorder) ActiveCount() int {
	return rec.table.ActiveCount()
}

// NodeCount reports the current call-path trie's node count estimate.
func (rec *Recorder) NodeCount() int64 {
	return rec.trie.NodeCount()
}

// PushSnapshotNow builds a snapshot from every LeakEvent accumulated since
// the previous push (background or manual) and delivers it to registered
// handlers synchronously. The background scheduler, if running, calls this
// on its own ticker; tests and callers needing deterministic timing can
// call it directly instead of waiting on PushInterval.
func (rec *Recorder) PushSnapshotNow() {
	rec.table.DrainFinalizationQueueAll()
	snap := rec.sink.BuildSnapshot(leaksink.NowMs())
	rec.sink.PushSnapshot(snap)
}

func (rec *Recorder) runScheduler() {
	defer close(rec.doneCh)
	ticker := time.NewTicker(rec.cfg.pushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rec.PushSnapshotNow()
		case <-rec.stopCh:
			return
		}
	}
}

// Reset discards all trie nodes, active entries, and pending leak events,
// returning the Recorder to an empty state without reporting anything.
// Registered handlers and classifiers are left untouched.
func (rec *Recorder) Reset() {
	rec.table.Reset()
	rec.trie.Reset()
	rec.sink.Drain()
}

// Shutdown performs the shutdown sequence from spec §5: stop the
// background scheduler, force-finalize every remaining active entry
// (reporting a leak for any that was never cleanly released), and deliver
// one final snapshot covering everything that produced. It is safe to call
// more than once; only the first call has any effect.
func (rec *Recorder) Shutdown() {
	if !rec.closed.CompareAndSwap(false, true) {
		return
	}

	rec.stopOnce.Do(func() { close(rec.stopCh) })
	<-rec.doneCh

	rec.table.ForceFinalizeAll()
	rec.PushSnapshotNow()
}
