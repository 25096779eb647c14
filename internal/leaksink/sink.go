// Package leaksink implements the leak event pipeline (C7): an unbounded,
// mostly lock-free queue of LeakEvents, delta-drain semantics, and
// aggregation into stable, parseable snapshot lines.
//
// The queue is modeled on the teacher corpus's MicrotaskRing
// (joeycumines/go-eventloop/ingress.go): a fixed-size lock-free ring
// absorbs the common case, with a mutex-guarded overflow slice taking over
// once the ring is full, so the queue never blocks a producer and never
// silently drops an event.
package leaksink

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-flowtrace/internal/triepath"
)

const ringSize = 1024

// LeakEvent is an immutable record of one detected leak.
type LeakEvent struct {
	Leaf         *triepath.Node
	RootSite     string
	IsDirect     bool
	DetectedAtMs int64
}

// Sink is the lock-free-on-the-fast-path queue of pending LeakEvents, plus
// the handler registry that decides whether recording is even worthwhile.
type Sink struct {
	buffer [ringSize]LeakEvent
	valid  [ringSize]atomic.Bool
	head   atomic.Uint64
	tail   atomic.Uint64

	overflowMu      sync.Mutex
	overflow        []LeakEvent
	overflowHead    int
	overflowPending atomic.Bool

	handlersMu     sync.RWMutex
	handlers       []Handler
	onHandlerPanic func(name string, recovered any)
}

// NewSink constructs an empty Sink.
func NewSink() *Sink {
	return &Sink{}
}

// IsRecording reports whether at least one handler is registered. When
// false, the recorder must not construct a LeakEvent at all -- this keeps
// leak detection allocation-free when nobody is listening.
func (s *Sink) IsRecording() bool {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	return len(s.handlers) > 0
}

// Push enqueues ev. It never blocks: the fixed ring is tried first, falling
// back to a mutex-guarded overflow slice when the ring is full.
func (s *Sink) Push(ev LeakEvent) {
	if s.overflowPending.Load() {
		s.overflowMu.Lock()
		if len(s.overflow)-s.overflowHead > 0 {
			s.overflow = append(s.overflow, ev)
			s.overflowMu.Unlock()
			return
		}
		s.overflowMu.Unlock()
	}

	for {
		tail := s.tail.Load()
		head := s.head.Load()
		if tail-head >= ringSize {
			break
		}
		if s.tail.CompareAndSwap(tail, tail+1) {
			idx := tail % ringSize
			s.buffer[idx] = ev
			s.valid[idx].Store(true)
			return
		}
	}

	s.overflowMu.Lock()
	s.overflow = append(s.overflow, ev)
	s.overflowPending.Store(true)
	s.overflowMu.Unlock()
}

// Drain returns every event accumulated since the previous Drain (delta
// semantics) and resets the queue to empty.
func (s *Sink) Drain() []LeakEvent {
	var out []LeakEvent

	for {
		head := s.head.Load()
		tail := s.tail.Load()
		if head >= tail {
			break
		}
		idx := head % ringSize
		if !s.valid[idx].Load() {
			break
		}
		out = append(out, s.buffer[idx])
		s.valid[idx].Store(false)
		s.head.Add(1)
	}

	s.overflowMu.Lock()
	if len(s.overflow)-s.overflowHead > 0 {
		out = append(out, s.overflow[s.overflowHead:]...)
		s.overflow = s.overflow[:0]
		s.overflowHead = 0
		s.overflowPending.Store(false)
	}
	s.overflowMu.Unlock()

	return out
}

// RegisterHandler adds h to the handler list, using a copy-on-write slice
// so OnSnapshot delivery never races with registration.
func (s *Sink) RegisterHandler(h Handler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	next := make([]Handler, len(s.handlers)+1)
	copy(next, s.handlers)
	next[len(next)-1] = h
	s.handlers = next
}

// Handlers returns the current copy-on-write handler slice.
func (s *Sink) Handlers() []Handler {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	return s.handlers
}

// MetricKind categorizes a leak event for handler filtering purposes, e.g.
// distinguishing direct-buffer leaks from heap-buffer leaks.
type MetricKind uint8

const (
	// MetricDirectBufferLeak marks leaks whose root allocator was a
	// "direct" allocator, per the Classifier that first touched the object.
	MetricDirectBufferLeak MetricKind = iota
	// MetricHeapBufferLeak marks leaks from any other allocator.
	MetricHeapBufferLeak
)

func kindOf(isDirect bool) MetricKind {
	if isDirect {
		return MetricDirectBufferLeak
	}
	return MetricHeapBufferLeak
}

// Handler consumes pushed snapshots. Implementations must not block
// OnSnapshot, and any panic is recovered and reported via the Sink's
// configured panic callback rather than propagating.
type Handler interface {
	// RequiredMetrics returns the set of MetricKinds this handler wants. A
	// nil or empty slice means "all kinds".
	RequiredMetrics() []MetricKind
	// OnSnapshot is invoked synchronously, on the goroutine calling
	// Sink.PushSnapshot, with the subset of the snapshot matching
	// RequiredMetrics.
	OnSnapshot(Snapshot)
	// Name identifies the handler, for logging.
	Name() string
}

// SetPanicHandler installs fn to be invoked (name, recovered value) whenever
// a Handler.OnSnapshot call panics. Handler exceptions never affect other
// handlers or future snapshots.
func (s *Sink) SetPanicHandler(fn func(name string, recovered any)) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.onHandlerPanic = fn
}

// PushSnapshot delivers full to every registered handler whose
// RequiredMetrics intersects the kinds present, filtering the snapshot
// accordingly. Handlers with no matching kinds are skipped entirely.
func (s *Sink) PushSnapshot(full Snapshot) {
	for _, h := range s.Handlers() {
		filtered := full.filterByMetrics(h.RequiredMetrics())
		if len(filtered.Paths) == 0 {
			continue
		}
		s.deliver(h, filtered)
	}
}

func (s *Sink) deliver(h Handler, snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			s.handlersMu.RLock()
			onPanic := s.onHandlerPanic
			s.handlersMu.RUnlock()
			if onPanic != nil {
				onPanic(h.Name(), r)
			}
		}
	}()
	h.OnSnapshot(snap)
}

func (snap Snapshot) filterByMetrics(required []MetricKind) Snapshot {
	if len(required) == 0 {
		return snap
	}
	set := make(map[MetricKind]struct{}, len(required))
	for _, k := range required {
		set[k] = struct{}{}
	}
	out := Snapshot{BuiltAtMs: snap.BuiltAtMs}
	for _, p := range snap.Paths {
		if _, ok := set[p.Kind]; ok {
			out.Paths = append(out.Paths, p)
		}
	}
	return out
}

// pathKey identifies one unique leak path for aggregation purposes.
type pathKey struct {
	leaf     *triepath.Node
	rootSite string
}

// Snapshot is a delta aggregation of LeakEvents drained since the previous
// snapshot, grouped by unique leaf path.
type Snapshot struct {
	BuiltAtMs int64
	Paths     []LeakPath
}

// LeakPath is one unique leak path within a Snapshot.
type LeakPath struct {
	RootSite  string
	FinalRef  triepath.RefBucket
	LeakCount int
	IsDirect  bool
	Kind      MetricKind
	Leaf      *triepath.Node
}

// Line renders LeakPath per the stable wire format documented in spec §4.6:
//
//	root=<rootSite>|final_ref=<bucket>|leak_count=<n>|path=<s1>[ref=<b1>] -> ... -> <sN>[ref=<bN>]
func (p LeakPath) Line() string {
	var b strings.Builder
	b.WriteString("root=")
	b.WriteString(p.RootSite)
	b.WriteString("|final_ref=")
	b.WriteString(p.FinalRef.String())
	b.WriteString("|leak_count=")
	b.WriteString(itoa(p.LeakCount))
	b.WriteString("|path=")
	for i, step := range p.Leaf.Path() {
		if i > 0 {
			b.WriteString(" -> ")
		}
		b.WriteString(step.Site)
		b.WriteString("[ref=")
		b.WriteString(step.Bucket.String())
		b.WriteString("]")
	}
	return b.String()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// BuildSnapshot drains the sink and aggregates the resulting events by
// unique (leaf, rootSite) path, producing one LeakPath per path with a
// count of occurrences in this interval.
func (s *Sink) BuildSnapshot(nowMs int64) Snapshot {
	events := s.Drain()

	byPath := make(map[pathKey]*LeakPath, len(events))
	order := make([]pathKey, 0, len(events))

	for _, ev := range events {
		key := pathKey{leaf: ev.Leaf, rootSite: ev.RootSite}
		lp, ok := byPath[key]
		if !ok {
			lp = &LeakPath{
				RootSite: ev.RootSite,
				FinalRef: ev.Leaf.Bucket,
				IsDirect: ev.IsDirect,
				Kind:     kindOf(ev.IsDirect),
				Leaf:     ev.Leaf,
			}
			byPath[key] = lp
			order = append(order, key)
		}
		lp.LeakCount++
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i].rootSite != order[j].rootSite {
			return order[i].rootSite < order[j].rootSite
		}
		return byPath[order[i]].Leaf.Site < byPath[order[j]].Leaf.Site
	})

	paths := make([]LeakPath, 0, len(order))
	for _, k := range order {
		paths = append(paths, *byPath[k])
	}

	return Snapshot{BuiltAtMs: nowMs, Paths: paths}
}

// NowMs returns the current wall-clock time in epoch milliseconds, the
// granularity LeakEvent.DetectedAtMs and Snapshot.BuiltAtMs use.
func NowMs() int64 {
	return time.Now().UnixMilli()
}
