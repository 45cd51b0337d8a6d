// Package interfaces provides internal interface definitions for
// memtrace. These are separate from the public package to avoid
// circular imports between the top-level package and the internal
// ones it composes.
package interfaces

// ContextHandle is an opaque handle naming an allocation's capture
// site. The host (the allocator's stack-trace capture collaborator)
// hands this to on_new_block/on_free_block; memtrace never interprets
// it, only stores and later resolves it for printing.
type ContextHandle interface{}

// ContextResolver resolves a ContextHandle into human-readable frames,
// the host-provided print_context(handle) routine.
type ContextResolver interface {
	Describe(handle ContextHandle) string
}

// Sink is the host-provided write endpoint: a line-oriented text
// destination (stdout or a named file).
type Sink interface {
	// WriteLine writes a single formatted line, including its trailing
	// newline. Implementations must not block the caller indefinitely;
	// sink failures are treated as best-effort.
	WriteLine(line string) error

	// Close releases any resources held by the sink (e.g. a file
	// descriptor or an io_uring instance).
	Close() error
}

// Logger is the leveled logging interface used for tool lifecycle
// messages. The store hot path never logs.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Observer receives counters and latency samples from the tracer's
// hot and lifecycle paths. Implementations must be safe for
// concurrent use if the host chooses to wrap the tracer for
// multi-threaded callbacks.
type Observer interface {
	// ObserveStore is called once per successfully logged store.
	ObserveStore()

	// ObserveStoreMiss is called once per store whose address was not
	// covered by any tracked block (a gate miss).
	ObserveStoreMiss()

	// ObserveAlloc is called once per tracked on_new_block.
	ObserveAlloc(size uint64)

	// ObserveFree is called once per tracked on_free_block.
	ObserveFree(size uint64)

	// ObserveFlush is called once per buffer flush with the number of
	// entries flushed.
	ObserveFlush(entries int)

	// ObserveLookup is called once per predecessor() lookup on the hot
	// path with its duration in nanoseconds.
	ObserveLookup(latencyNs uint64)

	// ObserveLiveBlocks reports the current number of live tracked
	// blocks after an alloc or free.
	ObserveLiveBlocks(count int)
}
