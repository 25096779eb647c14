package flowtrace

import "sync"

// RefCounted is implemented by buffer types that expose their own reference
// count, the common case this package's built-in Classifier recognizes.
type RefCounted interface {
	RefCnt() int
}

// DirectRefCounted is implemented by RefCounted types that also know whether
// they hold externally-managed (e.g. off-heap) memory, distinguishing a
// MetricDirectBufferLeak from a MetricHeapBufferLeak.
type DirectRefCounted interface {
	RefCounted
	IsDirect() bool
}

// Classifier lets TrackAny recognize and extract a ref-count-like metric
// from arbitrary buffer types without requiring every call site to pass the
// metric explicitly, the way Record[T] does. This mirrors the instrumented
// agent's own type-classification step (spec.md's "classifier" design
// notes in §9) translated into an explicit, pluggable Go interface rather
// than bytecode-time type matching.
type Classifier interface {
	// Recognizes reports whether this Classifier can extract a metric from
	// obj.
	Recognizes(obj any) bool
	// Metric extracts the ref-count-like metric from obj. Only called when
	// Recognizes(obj) is true.
	Metric(obj any) int
	// IsDirect reports whether obj should be counted as a direct (as
	// opposed to heap) buffer leak. Only called when Recognizes(obj) is
	// true.
	IsDirect(obj any) bool
	// Name identifies the classifier, for diagnostics.
	Name() string
}

// refCountedClassifier is the built-in Classifier for types implementing
// RefCounted (and, optionally, DirectRefCounted).
type refCountedClassifier struct{}

func (refCountedClassifier) Recognizes(obj any) bool {
	_, ok := obj.(RefCounted)
	return ok
}

func (refCountedClassifier) Metric(obj any) int {
	return obj.(RefCounted).RefCnt()
}

func (refCountedClassifier) IsDirect(obj any) bool {
	if d, ok := obj.(DirectRefCounted); ok {
		return d.IsDirect()
	}
	return false
}

func (refCountedClassifier) Name() string { return "refcounted" }

// classifierRegistry is a copy-on-write list of Classifiers, consulted in
// registration order by TrackAny. It follows the same copy-on-write
// discipline as leaksink.Sink's handler list, for the same reason: lookups
// must never block registration, and registration is expected to be rare
// (usually only at startup).
type classifierRegistry struct {
	mu          sync.RWMutex
	classifiers []Classifier
}

func newClassifierRegistry() *classifierRegistry {
	return &classifierRegistry{classifiers: []Classifier{refCountedClassifier{}}}
}

func (r *classifierRegistry) register(c Classifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := make([]Classifier, len(r.classifiers)+1)
	copy(next, r.classifiers)
	next[len(next)-1] = c
	r.classifiers = next
}

// classify returns the first registered Classifier (most recently
// registered first, so custom classifiers can override the built-in one)
// that recognizes obj.
func (r *classifierRegistry) classify(obj any) (Classifier, bool) {
	r.mu.RLock()
	cs := r.classifiers
	r.mu.RUnlock()
	for i := len(cs) - 1; i >= 0; i-- {
		if cs[i].Recognizes(obj) {
			return cs[i], true
		}
	}
	return nil, false
}
