// Package constants holds tunables and fixed values shared across the
// tracer's internal packages.
package constants

import "golang.org/x/sys/unix"

// DefaultMaxLogEntries is the default capacity of the event-log
// buffer: a tuning knob, not a contract, so it is overridable via
// Options.
const DefaultMaxLogEntries = 3_000_000

// DefaultGatePrefixes is the default backing-path prefix list used by
// the IR instrumentation pass's application-code gate.
var DefaultGatePrefixes = []string{"/usr"}

// PageSize returns the host's page size, used to seed the default
// MinBlockSize (one page).
func PageSize() uint64 {
	sz := unix.Getpagesize()
	if sz <= 0 {
		return 4096
	}
	return uint64(sz)
}

// DefaultMinBlockSize is the default tracked-block size threshold: one
// host page.
func DefaultMinBlockSize() uint64 {
	return PageSize()
}
