// Package memtrace implements a store-tracing tool: given a stream of
// block-lifecycle events (new/freed tracked allocations) and guest
// store addresses, it records every store that lands inside a tracked
// block to a sink, in the format a post-processing script can grep
// and diff against a reference run.
//
// A Tracer wires together the ordered interval index
// (internal/rbtree) and the bounded event-log buffer
// (internal/eventlog) behind the three entry points a host (a binary
// translator, a fault handler, an allocator shim) calls into:
// OnNewBlock, OnFreeBlock, and OnStore. The instrumentation pass
// (internal/irpass) is not called by the Tracer; the host runs it
// directly, with the prefix list from Tracer.GatePrefixes. The host is responsible for
// serializing calls into a single Tracer; none of its hot-path
// methods take a lock of their own.
package memtrace

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dbitools/memtrace/internal/eventlog"
	"github.com/dbitools/memtrace/internal/interfaces"
	"github.com/dbitools/memtrace/internal/logging"
	"github.com/dbitools/memtrace/internal/rbtree"
)

// Options configures a Tracer.
type Options struct {
	// Context for cancellation of any background work. The Tracer is
	// synchronous and does not read it.
	Context context.Context

	// Sink receives finished event-log lines. Required.
	Sink interfaces.Sink

	// Resolver describes an allocation's context (e.g. a call stack)
	// for ALLOC/FREE log lines. If nil, every block logs the
	// "(No allocation stack trace available)" placeholder.
	Resolver interfaces.ContextResolver

	// Logger receives diagnostic messages (sink write failures,
	// rejected appends). If nil, logging.Default() is used.
	Logger interfaces.Logger

	// Observer receives per-event counters. If nil, a Metrics-backed
	// observer is created and reachable via Tracer.Metrics().
	Observer interfaces.Observer

	// MaxLogEntries bounds the event-log buffer's capacity.
	MaxLogEntries int

	// MinBlockSize is the smallest allocation the tracer tracks;
	// smaller allocations are invisible to OnStore. Defaults to one
	// host page.
	MinBlockSize uint64

	// GatePrefixes are the backing-path prefixes the application-code
	// gate treats as system code (see internal/irpass.IsAppCode).
	// Defaults to DefaultGatePrefixes.
	GatePrefixes []string

	// FastPathLookup enables an exact-match hash index alongside the
	// interval tree for OnFreeBlock/exact-start lookups, mirroring the
	// original's optional VgHashTable fast path. Off by default: the
	// interval tree alone satisfies every required operation, and the
	// extra index doubles bookkeeping on every alloc/free.
	FastPathLookup bool
}

// DefaultOptions returns an Options with every field at its default
// except Sink, which the caller must always provide.
func DefaultOptions(sink interfaces.Sink) Options {
	return Options{
		Sink:          sink,
		MaxLogEntries: DefaultMaxLogEntries,
		MinBlockSize:  DefaultMinBlockSize(),
		GatePrefixes:  append([]string(nil), DefaultGatePrefixes...),
	}
}

// Tracer is the store-tracing runtime: components A (interval index),
// B (event log), and E (block lifecycle) wired together behind the
// three methods a host calls on every store and allocation event.
type Tracer struct {
	tree     *rbtree.Tree
	buf      *eventlog.Buffer
	fastPath map[uint64]rbtree.Block // only populated if FastPathLookup

	observer     interfaces.Observer
	logger       interfaces.Logger
	metrics      *Metrics
	minBlockSize uint64
	gatePrefixes []string

	allocSites map[string]int
	sink       interfaces.Sink
	closed     bool
}

// New creates a Tracer from opts. opts.Sink must be non-nil.
func New(opts Options) (*Tracer, error) {
	if opts.Sink == nil {
		return nil, NewError("NEW", ErrCodeInvalidConfig, "Options.Sink must not be nil")
	}

	capacity := opts.MaxLogEntries
	if capacity <= 0 {
		capacity = DefaultMaxLogEntries
	}

	minBlockSize := opts.MinBlockSize
	if minBlockSize == 0 {
		minBlockSize = DefaultMinBlockSize()
	}

	gatePrefixes := opts.GatePrefixes
	if gatePrefixes == nil {
		gatePrefixes = append([]string(nil), DefaultGatePrefixes...)
	}

	metrics := NewMetrics()
	observer := opts.Observer
	if observer == nil {
		observer = NewMetricsObserver(metrics)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}

	t := &Tracer{
		tree:         rbtree.New(),
		buf:          eventlog.New(capacity, opts.Sink, opts.Resolver, observer, logger),
		observer:     observer,
		logger:       logger,
		metrics:      metrics,
		minBlockSize: minBlockSize,
		gatePrefixes: gatePrefixes,
		allocSites:   make(map[string]int),
		sink:         opts.Sink,
	}
	if opts.FastPathLookup {
		t.fastPath = make(map[uint64]rbtree.Block)
	}
	return t, nil
}

// OnNewBlock registers a newly allocated block. Blocks smaller than
// the tracer's MinBlockSize are not tracked: OnStore will never match
// them, and no ALLOC line is emitted. Returns false if the block was
// too small or already tracked (duplicate start).
func (t *Tracer) OnNewBlock(start, size uint64, where interfaces.ContextHandle) bool {
	if size < t.minBlockSize {
		return false
	}

	block := rbtree.Block{Start: start, Size: size, Where: where}
	if !t.tree.Insert(start, block) {
		return false
	}
	if t.fastPath != nil {
		t.fastPath[start] = block
	}

	t.observer.ObserveAlloc(size)
	t.observer.ObserveLiveBlocks(t.tree.Len())
	t.recordAllocSite(where)

	if err := t.buf.Append(eventlog.Event{Kind: eventlog.KindAlloc, Addr: start, Size: size, Where: where}); err != nil {
		t.logger.Errorf("memtrace: append ALLOC event: %v", err)
	}
	return true
}

// OnFreeBlock releases a tracked block. No-op (returns false) if start
// was never tracked or already freed.
func (t *Tracer) OnFreeBlock(start uint64) bool {
	var block rbtree.Block
	var tracked bool
	if t.fastPath != nil {
		block, tracked = t.fastPath[start]
	} else {
		block, tracked = t.tree.Predecessor(start)
		tracked = tracked && block.Start == start
	}
	if !tracked {
		return false
	}

	t.tree.Delete(start)
	if t.fastPath != nil {
		delete(t.fastPath, start)
	}

	t.observer.ObserveFree(block.Size)
	t.observer.ObserveLiveBlocks(t.tree.Len())

	if err := t.buf.Append(eventlog.Event{Kind: eventlog.KindFree, Addr: start, Size: block.Size, Where: block.Where}); err != nil {
		t.logger.Errorf("memtrace: append FREE event: %v", err)
	}
	return true
}

// OnStore records a store of value to addr if addr falls inside a
// tracked block. Stores outside any tracked block are counted as
// misses and otherwise ignored.
func (t *Tracer) OnStore(addr, value uint64) {
	lookupStart := time.Now()
	block, ok := t.tree.Predecessor(addr)
	t.observer.ObserveLookup(uint64(time.Since(lookupStart).Nanoseconds()))

	if !ok || !block.Contains(addr) {
		t.observer.ObserveStoreMiss()
		return
	}

	t.observer.ObserveStore()
	if err := t.buf.Append(eventlog.Event{Kind: eventlog.KindStore, Addr: addr, Value: value}); err != nil {
		t.logger.Errorf("memtrace: append STORE event: %v", err)
	}
}

// GatePrefixes returns the prefixes the application-code gate treats
// as system code, for callers driving internal/irpass.Instrument
// directly.
func (t *Tracer) GatePrefixes() []string {
	return t.gatePrefixes
}

// Metrics returns the tracer's built-in Metrics. It is only fed events
// when no custom Options.Observer was supplied at construction; if a
// custom observer was supplied, this Metrics stays at zero and
// Shutdown's StopTime is still recorded on it for uptime bookkeeping.
func (t *Tracer) Metrics() *Metrics {
	return t.metrics
}

// Shutdown flushes any buffered events, appends the "=== Allocation
// sites ===" summary, and releases the interval index. Idempotent.
func (t *Tracer) Shutdown() error {
	if t.closed {
		return nil
	}
	t.closed = true
	t.metrics.Stop()

	err := t.buf.ShutdownFlush()

	if summary := t.allocationSiteSummary(); summary != "" {
		if sinkErr := t.sink.WriteLine(summary); sinkErr != nil && err == nil {
			err = sinkErr
		}
	}

	t.tree.DropAll()
	if t.fastPath != nil {
		t.fastPath = nil
	}
	return err
}

func (t *Tracer) recordAllocSite(where interfaces.ContextHandle) {
	key := t.describeSite(where)
	t.allocSites[key]++
}

func (t *Tracer) describeSite(where interfaces.ContextHandle) string {
	if s, ok := where.(string); ok && s != "" {
		return s
	}
	return "(unknown allocation site)"
}

func (t *Tracer) allocationSiteSummary() string {
	if len(t.allocSites) == 0 {
		return ""
	}
	sites := make([]string, 0, len(t.allocSites))
	for site := range t.allocSites {
		sites = append(sites, site)
	}
	sort.Strings(sites)

	out := "=== Allocation sites ===\n"
	for _, site := range sites {
		out += fmt.Sprintf("%d allocations at %s\n", t.allocSites[site], site)
	}
	return out
}

var (
	defaultMu     sync.RWMutex
	defaultTracer *Tracer
)

// Default returns the process-wide default Tracer, or nil if
// SetDefault has never been called. Mirrors internal/logging's
// Default/SetDefault singleton pattern.
func Default() *Tracer {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultTracer
}

// SetDefault installs t as the process-wide default Tracer.
func SetDefault(t *Tracer) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultTracer = t
}
