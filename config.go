package flowtrace

import (
	"fmt"
	"time"

	"github.com/joeycumines/go-flowtrace/internal/activetable"
	"github.com/joeycumines/go-flowtrace/internal/triepath"
)

// TrackingPolicy selects what the recorder treats as the root of an
// object's flow, per spec §4.5's "first-touch-is-root vs allocator-is-root"
// discussion. The core treats "root" as simply the site passed to the first
// Record call observed for an object; this only affects how the
// instrumentation layer is expected to behave, not the core's logic.
type TrackingPolicy uint8

const (
	// FirstTouchRoot treats the first method that ever sees the object as
	// the root, regardless of whether it's an allocator.
	FirstTouchRoot TrackingPolicy = iota
	// AllocatorRoot treats only a designated allocator-factory site as a
	// valid root; non-allocator first touches are expected to be filtered
	// out by the instrumentation layer before they reach Record.
	AllocatorRoot
)

// config holds the resolved configuration options recognized in spec §6.
type config struct {
	maxNodes           int64
	maxDepth           int
	maxChildrenPerNode int
	internerCapacity   int
	drainBatchSize     int
	drainInterval      uint64
	pushInterval       time.Duration
	trackingPolicy     TrackingPolicy
	releaseOnlyAtZero  bool
}

// Option configures a Recorder at construction time, following the teacher
// corpus's WithXxx(...) Option shape (joeycumines/go-eventloop/options.go).
type Option func(*config) error

func defaultConfig() config {
	return config{
		maxNodes:           triepath.DefaultMaxNodes,
		maxDepth:           triepath.DefaultMaxDepth,
		maxChildrenPerNode: triepath.DefaultMaxChildrenPerNode,
		internerCapacity:   triepath.DefaultMaxNodes * 2,
		drainBatchSize:     activetable.DefaultDrainBatchSize,
		drainInterval:      activetable.DefaultDrainInterval,
		pushInterval:       60 * time.Second,
		trackingPolicy:     FirstTouchRoot,
		releaseOnlyAtZero:  true,
	}
}

// WithMaxNodes sets the global trie node cap. Non-positive values are
// rejected by resolveConfig's validation.
func WithMaxNodes(n int64) Option {
	return func(c *config) error {
		if n <= 0 {
			return fmt.Errorf("%w: maxNodes must be positive, got %d", ErrInvalidConfig, n)
		}
		c.maxNodes = n
		return nil
	}
}

// WithMaxDepth sets the maximum path depth.
func WithMaxDepth(n int) Option {
	return func(c *config) error {
		if n <= 0 {
			return fmt.Errorf("%w: maxDepth must be positive, got %d", ErrInvalidConfig, n)
		}
		c.maxDepth = n
		return nil
	}
}

// WithMaxChildrenPerNode sets the per-node fan-out cap.
func WithMaxChildrenPerNode(n int) Option {
	return func(c *config) error {
		if n <= 0 {
			return fmt.Errorf("%w: maxChildrenPerNode must be positive, got %d", ErrInvalidConfig, n)
		}
		c.maxChildrenPerNode = n
		return nil
	}
}

// WithInternerCapacity sets the fixed interner slot count (rounded up to a
// power of two by the interner itself).
func WithInternerCapacity(n int) Option {
	return func(c *config) error {
		if n <= 0 {
			return fmt.Errorf("%w: internerCapacity must be positive, got %d", ErrInvalidConfig, n)
		}
		c.internerCapacity = n
		return nil
	}
}

// WithDrainBatchSize sets the finalization-drain batch limit.
func WithDrainBatchSize(n int) Option {
	return func(c *config) error {
		if n <= 0 {
			return fmt.Errorf("%w: drainBatchSize must be positive, got %d", ErrInvalidConfig, n)
		}
		c.drainBatchSize = n
		return nil
	}
}

// WithDrainInterval sets the per-thread(-approximated) drain frequency, in
// number of AcquireOrGet calls.
func WithDrainInterval(n uint64) Option {
	return func(c *config) error {
		if n == 0 {
			return fmt.Errorf("%w: drainInterval must be positive", ErrInvalidConfig)
		}
		c.drainInterval = n
		return nil
	}
}

// WithPushInterval sets the snapshot scheduler's period. Values <= 0 disable
// the background scheduler; PushSnapshotNow can still be called manually.
func WithPushInterval(d time.Duration) Option {
	return func(c *config) error {
		c.pushInterval = d
		return nil
	}
}

// WithTrackingPolicy selects FirstTouchRoot or AllocatorRoot.
func WithTrackingPolicy(p TrackingPolicy) Option {
	return func(c *config) error {
		c.trackingPolicy = p
		return nil
	}
}

// WithReleaseOnlyAtZero controls whether release-equivalent sites are
// expected to be recorded only when metric reaches zero. Default true.
func WithReleaseOnlyAtZero(enabled bool) Option {
	return func(c *config) error {
		c.releaseOnlyAtZero = enabled
		return nil
	}
}

func resolveConfig(opts []Option) (config, error) {
	c := defaultConfig()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&c); err != nil {
			return config{}, err
		}
	}
	return c, nil
}
