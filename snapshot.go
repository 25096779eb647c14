package flowtrace

import "github.com/joeycumines/go-flowtrace/internal/leaksink"

// Snapshot is a delta aggregation of leaks detected since the previous
// push, grouped by unique call path.
type Snapshot = leaksink.Snapshot

// LeakPath is one unique leak path within a Snapshot, along with the
// number of times it was observed in this interval. Line renders it in the
// stable, parseable wire format:
//
//	root=<rootSite>|final_ref=<bucket>|leak_count=<n>|path=<s1>[ref=<b1>] -> ... -> <sN>[ref=<bN>]
type LeakPath = leaksink.LeakPath
