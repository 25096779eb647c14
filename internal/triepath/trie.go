package triepath

import (
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-flowtrace/internal/interner"
)

// Config bounds a Trie's memory footprint.
type Config struct {
	// MaxNodes is the soft global node cap. Default 1_000_000.
	MaxNodes int64
	// MaxDepth is the maximum path depth. Default 100.
	MaxDepth int
	// MaxChildrenPerNode bounds per-node fan-out. Default 100.
	MaxChildrenPerNode int
	// InternerCapacity sizes the backing string interner. Default 2*MaxNodes.
	InternerCapacity int
}

const (
	DefaultMaxNodes           = 1_000_000
	DefaultMaxDepth           = 100
	DefaultMaxChildrenPerNode = 100
)

func (c Config) withDefaults() Config {
	if c.MaxNodes <= 0 {
		c.MaxNodes = DefaultMaxNodes
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = DefaultMaxDepth
	}
	if c.MaxChildrenPerNode <= 0 {
		c.MaxChildrenPerNode = DefaultMaxChildrenPerNode
	}
	if c.InternerCapacity <= 0 {
		c.InternerCapacity = int(c.MaxNodes * 2)
	}
	return c
}

// Trie is the bounded, concurrent call-path trie: a root table plus the
// global node-count cap, depth cap, and interning gateway shared by every
// node reachable from it.
type Trie struct {
	cfg      Config
	interner *interner.Interner

	nodeCount atomic.Int64

	rootsMu sync.RWMutex
	roots   map[string]*Node
}

// New constructs a Trie, filling in defaults for any zero-valued Config
// fields.
func New(cfg Config) *Trie {
	cfg = cfg.withDefaults()
	return &Trie{
		cfg:      cfg,
		interner: interner.New(cfg.InternerCapacity),
		roots:    make(map[string]*Node),
	}
}

// NodeCount returns the soft node-count estimate. A child is counted only
// after it has been inserted, and the cap check in TraverseOrCreate is not
// atomic with that insertion, so concurrent readers may briefly see a lower
// value and concurrent insertions may carry the count slightly past MaxNodes.
func (t *Trie) NodeCount() int64 {
	return t.nodeCount.Load()
}

// MaxDepth returns the configured depth cap.
func (t *Trie) MaxDepth() int {
	return t.cfg.MaxDepth
}

// GetOrCreateRoot interns site and returns its root node, creating one on
// first use and bucketizing metric into the new root's Bucket field (per
// §3's TrieNode entity, bucket is part of every node, root or not -- see
// spec §8 Scenario B's worked example, whose root segment renders the
// allocating call's own metric bucket). Root creation is idempotent per
// site: the roots map is still keyed by site alone, as §3 specifies: a
// second call for the same site with a different metric returns the
// existing root unchanged, bucket included. If the node cap has already
// been reached, an existing root is returned instead of creating a new one
// (reported via SaturationMaxNodes) -- except when no root exists yet at
// all, in which case exactly one node is still created, so the trie is
// never left entirely empty by a MaxNodes: 0 misconfiguration. replaced
// reports whether interning site required evicting another string.
func (t *Trie) GetOrCreateRoot(site string, metric int) (root *Node, reason SaturationReason, replaced bool) {
	site, replaced = t.interner.InternReplaced(site)
	bucket := Bucketize(metric)

	t.rootsMu.RLock()
	if r, ok := t.roots[site]; ok {
		t.rootsMu.RUnlock()
		return r, SaturationNone, replaced
	}
	t.rootsMu.RUnlock()

	t.rootsMu.Lock()
	defer t.rootsMu.Unlock()

	if r, ok := t.roots[site]; ok {
		return r, SaturationNone, replaced
	}

	if t.nodeCount.Load() >= t.cfg.MaxNodes && len(t.roots) > 0 {
		for _, r := range t.roots {
			return r, SaturationMaxNodes, replaced
		}
	}

	r := &Node{Site: site, Bucket: bucket}
	t.roots[site] = r
	t.nodeCount.Add(1)
	return r, SaturationNone, replaced
}

// TraverseOrCreate advances from parent via (site, metric)'s bucket at the
// given depth. If depth has reached MaxDepth or the node cap has been
// reached, parent is returned unchanged -- the traversal is still expected
// to be counted by the caller against whatever node is returned -- along
// with the SaturationReason that stopped the advance. Otherwise the
// (possibly newly created) child is returned. replaced reports whether
// interning site required evicting another string.
func (t *Trie) TraverseOrCreate(parent *Node, site string, metric int, depth int) (next *Node, reason SaturationReason, replaced bool) {
	if depth >= t.cfg.MaxDepth {
		return parent, SaturationMaxDepth, false
	}
	if t.nodeCount.Load() >= t.cfg.MaxNodes {
		return parent, SaturationMaxNodes, false
	}

	site, replaced = t.interner.InternReplaced(site)
	bucket := Bucketize(metric)

	child, created, reason := parent.GetOrCreateChild(site, bucket, t.cfg.MaxChildrenPerNode)
	if created {
		t.nodeCount.Add(1)
	}
	return child, reason, replaced
}

// Reset discards every node and root, returning the trie to its initial
// empty state. Already-published snapshots are unaffected.
func (t *Trie) Reset() {
	t.rootsMu.Lock()
	defer t.rootsMu.Unlock()
	t.roots = make(map[string]*Node)
	t.nodeCount.Store(0)
	t.interner = interner.New(t.cfg.InternerCapacity)
}
