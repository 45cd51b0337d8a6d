// Package eventlog implements the bounded event-log buffer: a
// fixed-capacity batch of Store/Alloc/Free events that flushes to a
// sink when full, preserving insertion order within and across
// flushes.
package eventlog

import (
	"strconv"

	"github.com/dbitools/memtrace/internal/interfaces"
	"github.com/dbitools/memtrace/internal/linebuf"
)

// Kind tags an Event's variant.
type Kind uint8

const (
	KindStore Kind = iota
	KindAlloc
	KindFree
)

// Event is a tagged record: a Store carries Addr and Value;
// Alloc/Free carry Addr (the block's start), Size, and Where (the
// allocation context).
type Event struct {
	Kind  Kind
	Addr  uint64
	Value uint64
	Size  uint64
	Where interfaces.ContextHandle
}

// Buffer is a fixed-capacity ring of events. It is allocated once at
// construction and never reallocated; Append may trigger a Flush but
// never grows the backing array.
type Buffer struct {
	entries  []Event
	count    int
	sink     interfaces.Sink
	resolver interfaces.ContextResolver
	observer interfaces.Observer
	logger   interfaces.Logger
	closed   bool
	failedOnce bool
}

// New allocates a Buffer with the given fixed capacity. resolver,
// observer, and logger may be nil; a nil resolver yields the
// "(No allocation stack trace available)" text for every ALLOC/FREE
// record.
func New(capacity int, sink interfaces.Sink, resolver interfaces.ContextResolver, observer interfaces.Observer, logger interfaces.Logger) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer{
		entries:  make([]Event, capacity),
		sink:     sink,
		resolver: resolver,
		observer: observer,
		logger:   logger,
	}
}

// Len reports the number of buffered, unflushed entries.
func (b *Buffer) Len() int {
	return b.count
}

// Cap reports the buffer's fixed capacity.
func (b *Buffer) Cap() int {
	return len(b.entries)
}

// Append writes event at the next slot, flushing first if the buffer
// is already at capacity so the append itself never overflows.
// Returns an error only if shutdownFlush has already been called.
func (b *Buffer) Append(e Event) error {
	if b.closed {
		return errClosed
	}
	if b.count == len(b.entries) {
		if err := b.Flush(); err != nil {
			// Best-effort: keep buffering even if the sink failed,
			// rather than losing the incoming event.
			_ = err
		}
	}
	b.entries[b.count] = e
	b.count++
	return nil
}

// Flush emits the current entries to the sink in insertion order and
// resets the count to zero. A sink write failure is best-effort: the
// buffer is still cleared (the entries were attempted), and at most
// one diagnostic is logged for the whole run.
func (b *Buffer) Flush() error {
	if b.count == 0 {
		return nil
	}

	var firstErr error
	for i := 0; i < b.count; i++ {
		if err := b.emit(b.entries[i]); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			if !b.failedOnce {
				b.failedOnce = true
				if b.logger != nil {
					b.logger.Errorf("sink write failed: %v", err)
				}
			}
		}
	}

	if b.observer != nil {
		b.observer.ObserveFlush(b.count)
	}
	b.count = 0
	return firstErr
}

// ShutdownFlush flushes unconditionally, then disables further
// appends. Idempotent: calling it again after the buffer is already
// closed is a no-op.
func (b *Buffer) ShutdownFlush() error {
	if b.closed {
		return nil
	}
	err := b.Flush()
	b.closed = true
	return err
}

func (b *Buffer) emit(e Event) error {
	switch e.Kind {
	case KindStore:
		return b.emitStore(e)
	case KindAlloc:
		return b.emitLifecycle(e, "ALLOC")
	case KindFree:
		return b.emitLifecycle(e, "FREE")
	default:
		return nil
	}
}

func (b *Buffer) emitStore(e Event) error {
	buf := linebuf.Get(64)
	buf = append(buf, "0x"...)
	buf = strconv.AppendUint(buf, e.Addr, 16)
	buf = append(buf, " 0x"...)
	buf = strconv.AppendUint(buf, e.Value, 16)
	buf = append(buf, '\n')
	line := string(buf)
	linebuf.Put(buf)
	return b.sink.WriteLine(line)
}

func (b *Buffer) emitLifecycle(e Event, tag string) error {
	ctx := "(No allocation stack trace available)"
	if b.resolver != nil {
		if described := b.resolver.Describe(e.Where); described != "" {
			ctx = described
		}
	}

	buf := linebuf.Get(256)
	buf = append(buf, "==="...)
	buf = append(buf, tag...)
	buf = append(buf, " START===\nStart 0x"...)
	buf = strconv.AppendUint(buf, e.Addr, 16)
	buf = append(buf, ", size "...)
	buf = strconv.AppendUint(buf, e.Size, 10)
	buf = append(buf, '\n')
	buf = append(buf, ctx...)
	buf = append(buf, "\n==="...)
	buf = append(buf, tag...)
	buf = append(buf, " END===\n"...)
	line := string(buf)
	linebuf.Put(buf)
	return b.sink.WriteLine(line)
}

type bufferError string

func (e bufferError) Error() string { return string(e) }

const errClosed bufferError = "eventlog: buffer already shut down"
