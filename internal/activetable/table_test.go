package activetable

import (
	"runtime"
	"testing"
	"time"

	"github.com/joeycumines/go-flowtrace/internal/leaksink"
	"github.com/joeycumines/go-flowtrace/internal/triepath"
	"github.com/stretchr/testify/require"
)

type buf struct{ n int }

func waitForPending(t *testing.T, tbl *Table, want int) {
	t.Helper()
	for i := 0; i < 50; i++ {
		runtime.GC()
		time.Sleep(10 * time.Millisecond)
		if tbl.DrainFinalizationQueue(100) >= want {
			return
		}
	}
	t.Fatalf("finalization queue never reached %d entries", want)
}

func TestAcquireOrGetCreatesOnce(t *testing.T) {
	sink := leaksink.NewSink()
	tbl := New(sink, Config{})
	root := &triepath.Node{Site: "A.alloc"}

	o := &buf{}
	s1, created1 := AcquireOrGet(tbl, o, root, "A.alloc", false)
	require.True(t, created1)
	s2, created2 := AcquireOrGet(tbl, o, root, "A.alloc", false)
	require.False(t, created2)
	require.Same(t, s1, s2)
	require.Equal(t, 1, tbl.ActiveCount())
}

func TestMarkCleanReleasedSetsOutcome(t *testing.T) {
	sink := leaksink.NewSink()
	tbl := New(sink, Config{})
	root := &triepath.Node{Site: "A.alloc"}

	o := &buf{}
	slot, _ := AcquireOrGet(tbl, o, root, "A.alloc", false)
	id := IdentityOf(o)

	tbl.MarkCleanReleased(id)
	require.True(t, slot.Completed())
	require.True(t, root.CleanHint())
}

func TestFinalizationAfterUnreachableRecordsLeak(t *testing.T) {
	sink := leaksink.NewSink()
	sink.RegisterHandler(&countingHandler{})
	tbl := New(sink, Config{DrainBatchSize: 10, DrainInterval: 1000000})
	root := &triepath.Node{Site: "A.alloc"}

	func() {
		o := &buf{}
		_, created := AcquireOrGet(tbl, o, root, "A.alloc", true)
		require.True(t, created)
	}() // o becomes unreachable once this returns

	waitForPending(t, tbl, 1)

	require.Equal(t, uint64(1), root.Leaks())
	require.Equal(t, 0, tbl.ActiveCount())
}

func TestCleanReleaseSuppressesLeakOnFinalization(t *testing.T) {
	sink := leaksink.NewSink()
	tbl := New(sink, Config{DrainBatchSize: 10, DrainInterval: 1000000})
	root := &triepath.Node{Site: "A.alloc"}

	func() {
		o := &buf{}
		AcquireOrGet(tbl, o, root, "A.alloc", false)
		tbl.MarkCleanReleased(IdentityOf(o))
	}()

	waitForPending(t, tbl, 1)

	require.Equal(t, uint64(0), root.Leaks())
}

func TestForceFinalizeAllHandlesShutdown(t *testing.T) {
	sink := leaksink.NewSink()
	tbl := New(sink, Config{})
	root := &triepath.Node{Site: "A.alloc"}

	o1, o2 := &buf{}, &buf{}
	AcquireOrGet(tbl, o1, root, "A.alloc", false)
	AcquireOrGet(tbl, o2, root, "A.alloc", false)
	tbl.MarkCleanReleased(IdentityOf(o1))

	n := tbl.ForceFinalizeAll()
	require.Equal(t, 2, n)
	require.Equal(t, uint64(1), root.Leaks())
	require.Equal(t, 0, tbl.ActiveCount())
	runtime.KeepAlive(o1)
	runtime.KeepAlive(o2)
}

func TestResetClearsWithoutReporting(t *testing.T) {
	sink := leaksink.NewSink()
	sink.RegisterHandler(&countingHandler{})
	tbl := New(sink, Config{})
	root := &triepath.Node{Site: "A.alloc"}

	o := &buf{}
	AcquireOrGet(tbl, o, root, "A.alloc", false)
	tbl.Reset()
	require.Equal(t, 0, tbl.ActiveCount())
	runtime.KeepAlive(o)
}

type countingHandler struct{ n int }

func (h *countingHandler) RequiredMetrics() []leaksink.MetricKind { return nil }
func (h *countingHandler) Name() string                           { return "counting" }
func (h *countingHandler) OnSnapshot(s leaksink.Snapshot)         { h.n += len(s.Paths) }

var _ leaksink.Handler = (*countingHandler)(nil)
