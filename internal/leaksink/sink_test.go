package leaksink

import (
	"fmt"
	"sync"
	"testing"

	"github.com/joeycumines/go-flowtrace/internal/triepath"
	"github.com/stretchr/testify/require"
)

func leafNode() *triepath.Node {
	root := &triepath.Node{Site: "A.alloc", Bucket: triepath.BucketLow}
	leaf, _, _ := root.GetOrCreateChild("B.use", triepath.BucketLow, 100)
	return leaf
}

func TestIsRecordingFalseWithoutHandlers(t *testing.T) {
	s := NewSink()
	require.False(t, s.IsRecording())
}

type fakeHandler struct {
	name     string
	required []MetricKind
	mu       sync.Mutex
	received []Snapshot
	panicOn  bool
}

func (h *fakeHandler) RequiredMetrics() []MetricKind { return h.required }
func (h *fakeHandler) Name() string                  { return h.name }
func (h *fakeHandler) OnSnapshot(s Snapshot) {
	if h.panicOn {
		panic("boom")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.received = append(h.received, s)
}

func TestIsRecordingTrueAfterRegistration(t *testing.T) {
	s := NewSink()
	s.RegisterHandler(&fakeHandler{name: "h1"})
	require.True(t, s.IsRecording())
}

func TestPushAndDrainDeltaSemantics(t *testing.T) {
	s := NewSink()
	leaf := leafNode()
	s.Push(LeakEvent{Leaf: leaf, RootSite: "A.alloc", DetectedAtMs: 1})
	s.Push(LeakEvent{Leaf: leaf, RootSite: "A.alloc", DetectedAtMs: 2})

	first := s.Drain()
	require.Len(t, first, 2)

	second := s.Drain()
	require.Empty(t, second)
}

func TestPushOverflowsPastRingCapacity(t *testing.T) {
	s := NewSink()
	leaf := leafNode()
	for i := 0; i < ringSize+10; i++ {
		s.Push(LeakEvent{Leaf: leaf, RootSite: "A.alloc", DetectedAtMs: int64(i)})
	}
	events := s.Drain()
	require.Len(t, events, ringSize+10)
}

func TestBuildSnapshotAggregatesByPath(t *testing.T) {
	s := NewSink()
	leaf1 := leafNode()
	root2 := &triepath.Node{Site: "C.alloc"}
	leaf2, _, _ := root2.GetOrCreateChild("D.use", triepath.BucketMid, 100)

	s.Push(LeakEvent{Leaf: leaf1, RootSite: "A.alloc", DetectedAtMs: 1})
	s.Push(LeakEvent{Leaf: leaf1, RootSite: "A.alloc", DetectedAtMs: 2})
	s.Push(LeakEvent{Leaf: leaf2, RootSite: "C.alloc", DetectedAtMs: 3})

	snap := s.BuildSnapshot(100)
	require.Len(t, snap.Paths, 2)

	var total int
	for _, p := range snap.Paths {
		total += p.LeakCount
	}
	require.Equal(t, 3, total)
}

func TestLeakPathLineFormat(t *testing.T) {
	root := &triepath.Node{Site: "A.alloc", Bucket: triepath.BucketLow}
	leaf, _, _ := root.GetOrCreateChild("B.use", triepath.BucketLow, 100)
	p := LeakPath{RootSite: "A.alloc", FinalRef: triepath.BucketLow, LeakCount: 1, Leaf: leaf}
	require.Equal(t, "root=A.alloc|final_ref=1|leak_count=1|path=A.alloc[ref=1] -> B.use[ref=1]", p.Line())
}

func TestPushSnapshotFiltersByRequiredMetrics(t *testing.T) {
	s := NewSink()
	direct := &fakeHandler{name: "direct", required: []MetricKind{MetricDirectBufferLeak}}
	all := &fakeHandler{name: "all"}
	s.RegisterHandler(direct)
	s.RegisterHandler(all)

	leaf := leafNode()
	s.Push(LeakEvent{Leaf: leaf, RootSite: "A.alloc", IsDirect: true, DetectedAtMs: 1})
	snap := s.BuildSnapshot(NowMs())
	s.PushSnapshot(snap)

	require.Len(t, direct.received, 1)
	require.Len(t, all.received, 1)

	heapOnly := &fakeHandler{name: "heap", required: []MetricKind{MetricHeapBufferLeak}}
	s.RegisterHandler(heapOnly)
	s.Push(LeakEvent{Leaf: leaf, RootSite: "A.alloc", IsDirect: true, DetectedAtMs: 2})
	snap2 := s.BuildSnapshot(NowMs())
	s.PushSnapshot(snap2)
	require.Empty(t, heapOnly.received)
}

func TestPushSnapshotRecoversHandlerPanic(t *testing.T) {
	s := NewSink()
	var gotName string
	var gotPanic any
	s.SetPanicHandler(func(name string, recovered any) {
		gotName = name
		gotPanic = recovered
	})
	s.RegisterHandler(&fakeHandler{name: "boom", panicOn: true})

	leaf := leafNode()
	s.Push(LeakEvent{Leaf: leaf, RootSite: "A.alloc"})
	require.NotPanics(t, func() {
		s.PushSnapshot(s.BuildSnapshot(0))
	})
	require.Equal(t, "boom", gotName)
	require.Equal(t, "boom", fmt.Sprint(gotPanic))
}

func TestRegisterHandlerConcurrent(t *testing.T) {
	s := NewSink()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.RegisterHandler(&fakeHandler{name: fmt.Sprintf("h%d", i)})
		}(i)
	}
	wg.Wait()
	require.Len(t, s.Handlers(), 32)
}
