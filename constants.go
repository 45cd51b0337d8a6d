package memtrace

import "github.com/dbitools/memtrace/internal/constants"

// Re-exported tunables for the public API.
const (
	DefaultMaxLogEntries = constants.DefaultMaxLogEntries
)

// DefaultGatePrefixes is the default backing-path prefix list used by
// the application-code gate when Options.GatePrefixes is nil.
var DefaultGatePrefixes = constants.DefaultGatePrefixes

// DefaultMinBlockSize returns the default tracked-block size threshold
// (one host page).
func DefaultMinBlockSize() uint64 {
	return constants.DefaultMinBlockSize()
}
