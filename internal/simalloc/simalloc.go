// Package simalloc provides a simulated address-space allocator used
// by tests and the demo command to drive block-lifecycle tracking
// without a real guest process. It is not a store-interception
// allocator; it only hands out and reclaims address ranges and, if
// given hooks, reports them the way a real allocator's alloc/free
// hooks would.
package simalloc

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dbitools/memtrace/internal/interfaces"
)

// Hooks receives lifecycle notifications as the arena hands out and
// reclaims ranges, letting callers wire it directly to a tracer's
// OnNewBlock/OnFreeBlock.
type Hooks interface {
	OnAlloc(start, size uint64, ctx interfaces.ContextHandle)
	OnFree(start, size uint64, ctx interfaces.ContextHandle)
}

type span struct {
	start, size uint64
}

// Arena simulates a flat address range [Base, Base+Limit), handing out
// non-overlapping blocks first-fit from a free list and falling back
// to a bump pointer when no freed span is large enough.
type Arena struct {
	mu    sync.Mutex
	base  uint64
	next  uint64
	limit uint64
	free  []span
	live  map[uint64]uint64
	hooks Hooks
}

// NewArena creates an arena covering [base, base+limit).
func NewArena(base, limit uint64, hooks Hooks) *Arena {
	return &Arena{
		base:  base,
		next:  base,
		limit: limit,
		live:  make(map[uint64]uint64),
		hooks: hooks,
	}
}

// Alloc reserves a size-byte range and returns its start address.
// Freed spans are reused first-fit (the lowest-addressed free span
// large enough is taken, its remainder stays free); otherwise the
// arena bumps its watermark. Reports an error if the arena is exhausted.
func (a *Arena) Alloc(size uint64, ctx interfaces.ContextHandle) (uint64, error) {
	if size == 0 {
		return 0, fmt.Errorf("simalloc: zero-size allocation")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for i, s := range a.free {
		if s.size >= size {
			start := s.start
			a.consumeFreeLocked(i, size)
			a.live[start] = size
			if a.hooks != nil {
				a.hooks.OnAlloc(start, size, ctx)
			}
			return start, nil
		}
	}

	if a.next+size > a.base+a.limit {
		return 0, fmt.Errorf("simalloc: arena exhausted: need %d, have %d", size, a.base+a.limit-a.next)
	}
	start := a.next
	a.next += size
	a.live[start] = size
	if a.hooks != nil {
		a.hooks.OnAlloc(start, size, ctx)
	}
	return start, nil
}

// consumeFreeLocked removes the first `size` bytes of free span i,
// returning any remainder to the free list.
func (a *Arena) consumeFreeLocked(i int, size uint64) {
	s := a.free[i]
	a.free = append(a.free[:i], a.free[i+1:]...)
	if s.size > size {
		a.free = append(a.free, span{start: s.start + size, size: s.size - size})
		sort.Slice(a.free, func(i, j int) bool { return a.free[i].start < a.free[j].start })
	}
}

// Free reclaims the block starting at start, returning its size.
// Reports false if start is not a live allocation.
func (a *Arena) Free(start uint64, ctx interfaces.ContextHandle) (uint64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	size, ok := a.live[start]
	if !ok {
		return 0, false
	}
	delete(a.live, start)
	a.free = append(a.free, span{start: start, size: size})
	sort.Slice(a.free, func(i, j int) bool { return a.free[i].start < a.free[j].start })

	if a.hooks != nil {
		a.hooks.OnFree(start, size, ctx)
	}
	return size, true
}

// LiveCount reports the number of currently outstanding allocations.
func (a *Arena) LiveCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}
