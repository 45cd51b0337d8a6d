package memtrace

import (
	"sync"

	"github.com/dbitools/memtrace/internal/interfaces"
)

// LockedTracer wraps a Tracer with a mutex, for hosts that cannot
// guarantee the single-goroutine serialization a bare Tracer otherwise
// requires. It is not the default: acquiring a lock on every store
// defeats the allocation-free hot path the bare Tracer is built for,
// so it exists only as an escape hatch for hosts that need it.
type LockedTracer struct {
	mu sync.Mutex
	t  *Tracer
}

// NewLockedTracer wraps t for concurrent use.
func NewLockedTracer(t *Tracer) *LockedTracer {
	return &LockedTracer{t: t}
}

// OnNewBlock is a lock-guarded call-through to Tracer.OnNewBlock.
func (l *LockedTracer) OnNewBlock(start, size uint64, where interfaces.ContextHandle) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.t.OnNewBlock(start, size, where)
}

// OnFreeBlock is a lock-guarded call-through to Tracer.OnFreeBlock.
func (l *LockedTracer) OnFreeBlock(start uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.t.OnFreeBlock(start)
}

// OnStore is a lock-guarded call-through to Tracer.OnStore.
func (l *LockedTracer) OnStore(addr, value uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.t.OnStore(addr, value)
}

// Shutdown is a lock-guarded call-through to Tracer.Shutdown.
func (l *LockedTracer) Shutdown() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.t.Shutdown()
}

// Unwrap returns the underlying Tracer, for callers that need direct
// access to Metrics() or GatePrefixes() outside the lock.
func (l *LockedTracer) Unwrap() *Tracer {
	return l.t
}
