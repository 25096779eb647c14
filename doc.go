// Package flowtrace tracks the flow of reference-counted objects through a
// program's call sites and reports those that are finalized without ever
// having been cleanly released.
//
// # Architecture
//
// A [Recorder] wires together four bounded, concurrent data structures:
//
//   - A call-path trie ([internal/triepath]) whose nodes are keyed by
//     (call site, coarsened ref-count bucket, parent), so every distinct
//     path an object can take through instrumented code shares storage
//     with every other object that takes the same path.
//   - An active-object table ([internal/activetable]) mapping each live
//     tracked object's pointer identity to its current position (cursor)
//     in the trie, using [runtime.AddCleanup] to learn when an object
//     becomes unreachable without requiring instrumentation to call a
//     matching "untrack" site.
//   - A pooled per-object cursor ([internal/flowslot]) recycled through
//     sync.Pool, so tracking an object allocates at most once.
//   - A leak-event pipeline ([internal/leaksink]) that aggregates
//     finalized-without-release notifications into [Snapshot] values on a
//     schedule, for delivery to registered [SnapshotHandler]s.
//
// # Usage
//
//	rec, err := flowtrace.New(flowtrace.WithPushInterval(30 * time.Second))
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer rec.Shutdown()
//
//	rec.RegisterHandler(myHandler)
//
//	// at every retain/release/use call site in a ref-counted type:
//	flowtrace.Record(rec, buf, "mypkg.(*Buffer).Retain", buf.refCnt(), buf.isDirect())
//
// # Identity
//
// Go has no intrinsic identity hash; [Record] and [TrackAny] instead
// derive an object's identity from its pointer value via generics, the
// same way [internal/activetable.IdentityOf] does. Only pointer-typed
// values can be tracked.
//
// # Re-entrance and duplicate suppression
//
// Go has no goroutine-local storage, so instrumentation that recurses
// through the same logical operation (e.g. a Release that calls a shared
// helper which itself calls Record) must use [RecordScoped] with an
// explicit, caller-owned [Scope] instead of relying on ambient thread-local
// state the way the design this package is modeled on does.
//
// # Thread safety
//
// Every exported function and every [Recorder] method is safe to call
// concurrently from any goroutine.
package flowtrace
