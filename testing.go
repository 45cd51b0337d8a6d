package memtrace

import (
	"fmt"
	"sync"

	"github.com/dbitools/memtrace/internal/interfaces"
)

// MockSink is a test double implementing interfaces.Sink: it records
// every line written in order and can be made to fail on demand,
// useful for exercising the buffer's best-effort flush behavior.
type MockSink struct {
	mu        sync.Mutex
	lines     []string
	closed    bool
	failAfter int // fail starting from the failAfter'th WriteLine call (0 = never)
	calls     int
}

// NewMockSink creates a MockSink that never fails.
func NewMockSink() *MockSink {
	return &MockSink{}
}

// WriteLine records line, or returns an error once calls has reached
// the configured failAfter threshold.
func (s *MockSink) WriteLine(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.failAfter > 0 && s.calls >= s.failAfter {
		return fmt.Errorf("mocksink: simulated write failure")
	}
	s.lines = append(s.lines, line)
	return nil
}

// Close marks the sink closed.
func (s *MockSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Lines returns a copy of every line successfully recorded so far.
func (s *MockSink) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.lines))
	copy(out, s.lines)
	return out
}

// IsClosed reports whether Close has been called.
func (s *MockSink) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// CallCount reports how many times WriteLine was called, including
// any that failed.
func (s *MockSink) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// FailAfter configures the sink to fail starting from the n'th
// WriteLine call (1-indexed). 0 disables failure injection.
func (s *MockSink) FailAfter(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAfter = n
}

// Reset clears recorded lines and call counters, for reuse across
// subtests.
func (s *MockSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = nil
	s.calls = 0
	s.closed = false
}

// MockResolver implements interfaces.ContextResolver by looking up a
// canned description per handle; a handle with no entry yields "".
type MockResolver struct {
	mu    sync.Mutex
	byKey map[interfaces.ContextHandle]string
}

// NewMockResolver creates an empty MockResolver.
func NewMockResolver() *MockResolver {
	return &MockResolver{byKey: make(map[interfaces.ContextHandle]string)}
}

// Set registers the description returned for handle.
func (r *MockResolver) Set(handle interfaces.ContextHandle, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKey[handle] = description
}

// Describe implements interfaces.ContextResolver.
func (r *MockResolver) Describe(handle interfaces.ContextHandle) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byKey[handle]
}

// MockObserver records how many times each Observer method fired,
// useful for asserting a Tracer reported exactly the events it should
// have without wiring a real Metrics.
type MockObserver struct {
	mu sync.Mutex

	StoreCount      int
	StoreMissCount  int
	AllocCount      int
	AllocBytes      uint64
	FreeCount       int
	FreeBytes       uint64
	FlushCount      int
	FlushedEntries  int
	LookupCount     int
	LookupLatencies []uint64
	LiveBlockSample []int
}

// NewMockObserver creates an empty MockObserver.
func NewMockObserver() *MockObserver {
	return &MockObserver{}
}

func (o *MockObserver) ObserveStore() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.StoreCount++
}

func (o *MockObserver) ObserveStoreMiss() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.StoreMissCount++
}

func (o *MockObserver) ObserveAlloc(size uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.AllocCount++
	o.AllocBytes += size
}

func (o *MockObserver) ObserveFree(size uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.FreeCount++
	o.FreeBytes += size
}

func (o *MockObserver) ObserveFlush(entries int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.FlushCount++
	o.FlushedEntries += entries
}

func (o *MockObserver) ObserveLookup(latencyNs uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.LookupCount++
	o.LookupLatencies = append(o.LookupLatencies, latencyNs)
}

func (o *MockObserver) ObserveLiveBlocks(count int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.LiveBlockSample = append(o.LiveBlockSample, count)
}

var (
	_ interfaces.Sink            = (*MockSink)(nil)
	_ interfaces.ContextResolver = (*MockResolver)(nil)
	_ interfaces.Observer        = (*MockObserver)(nil)
)
