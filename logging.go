package flowtrace

import (
	"sync"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"

	"github.com/joeycumines/go-flowtrace/internal/triepath"
)

// Log is the structured event type this package's logger produces.
type Log = *stumpy.Event

// Logger is the package-level structured logger type, following the
// teacher corpus's package-level logging configuration pattern
// (joeycumines/go-eventloop/logging.go's SetStructuredLogger /
// getGlobalLogger) rather than threading a logger through every
// constructor: the core's own observations (saturation, handler panics)
// are cross-cutting infrastructure concerns, not part of any single
// Recorder's configuration surface.
type Logger = logiface.Logger[Log]

var globalLogger struct {
	sync.RWMutex
	logger *Logger
}

func init() {
	// Disabled by default: the recorder must never pay logging overhead on
	// its hot path unless a caller opts in.
	globalLogger.logger = stumpy.L.New(stumpy.L.WithLevel(logiface.LevelDisabled))
}

// SetLogger installs the package-level structured logger used for
// saturation notices and handler-panic reports. Reset and Shutdown do not
// log lifecycle events of their own. Passing nil restores the disabled
// default.
func SetLogger(l *Logger) {
	globalLogger.Lock()
	defer globalLogger.Unlock()
	if l == nil {
		l = stumpy.L.New(stumpy.L.WithLevel(logiface.LevelDisabled))
	}
	globalLogger.logger = l
}

func getLogger() *Logger {
	globalLogger.RLock()
	defer globalLogger.RUnlock()
	return globalLogger.logger
}

// logSaturation reports a bounded-capacity fallback hit while recording at
// site: the trie or interner fell back instead of advancing. reason is one
// of triepath's SaturationReason constants.
func logSaturation(reason string, site string, bucket triepath.RefBucket, nodeCount int64) {
	getLogger().Warning().
		Str("reason", reason).
		Str("site", site).
		Str("bucket", bucket.String()).
		Int64("node_count", nodeCount).
		Log("flowtrace: saturation")
}

func logHandlerPanic(name string, recovered any) {
	getLogger().Err().
		Str("handler", name).
		Str("recovered", fmtPanic(recovered)).
		Log("flowtrace: handler panic recovered")
}

func fmtPanic(v any) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	if s, ok := v.(string); ok {
		return s
	}
	return "non-error panic value"
}
