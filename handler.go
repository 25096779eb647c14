package flowtrace

import "github.com/joeycumines/go-flowtrace/internal/leaksink"

// SnapshotHandler consumes Snapshots pushed by a Recorder, either on its
// background schedule or via PushSnapshotNow. Implementations must not
// block OnSnapshot; a recovered panic is reported via the package logger
// instead of propagating or affecting other handlers.
type SnapshotHandler = leaksink.Handler

// MetricKind categorizes a leak by the classification its root touch
// carried, letting a SnapshotHandler opt into only the subset it cares
// about via RequiredMetrics.
type MetricKind = leaksink.MetricKind

const (
	// MetricDirectBufferLeak marks leaks whose root touch was classified
	// as a direct (e.g. off-heap) buffer.
	MetricDirectBufferLeak = leaksink.MetricDirectBufferLeak
	// MetricHeapBufferLeak marks leaks from any other buffer kind.
	MetricHeapBufferLeak = leaksink.MetricHeapBufferLeak
)
