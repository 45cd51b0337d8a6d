package memtrace

import (
	"sync/atomic"
	"time"

	"github.com/dbitools/memtrace/internal/interfaces"
)

// LatencyBuckets defines the predecessor-lookup latency histogram
// buckets in nanoseconds, from 1us to 10s log-spaced.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// Metrics tracks operational statistics for a running Tracer: how many
// stores were logged versus missed the interval index, alloc/free
// event counts, flush activity, sink errors, and a lookup-latency
// histogram for the interval index's Predecessor calls.
type Metrics struct {
	StoresLogged  atomic.Uint64
	StoresMissed  atomic.Uint64 // stores outside any tracked block
	AllocEvents   atomic.Uint64
	FreeEvents    atomic.Uint64
	FlushCount    atomic.Uint64
	FlushedLines  atomic.Uint64
	SinkWriteErrs atomic.Uint64

	LiveBlocks atomic.Int64 // current count of tracked blocks

	TotalLookupLatencyNs atomic.Uint64
	LookupCount          atomic.Uint64
	LatencyBuckets       [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a Metrics instance with StartTime set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordStore records a store that fell inside a tracked block.
func (m *Metrics) RecordStore() {
	m.StoresLogged.Add(1)
}

// RecordStoreMiss records a store that the interval index had no
// tracked block for.
func (m *Metrics) RecordStoreMiss() {
	m.StoresMissed.Add(1)
}

// RecordAlloc records a new tracked block.
func (m *Metrics) RecordAlloc(size uint64) {
	m.AllocEvents.Add(1)
	m.LiveBlocks.Add(1)
}

// RecordFree records a tracked block's release.
func (m *Metrics) RecordFree(size uint64) {
	m.FreeEvents.Add(1)
	m.LiveBlocks.Add(-1)
}

// RecordFlush records a buffer flush of the given number of entries.
func (m *Metrics) RecordFlush(entries int) {
	m.FlushCount.Add(1)
	m.FlushedLines.Add(uint64(entries))
}

// RecordSinkError increments the sink-write-error counter.
func (m *Metrics) RecordSinkError() {
	m.SinkWriteErrs.Add(1)
}

// RecordLookup records an interval-index Predecessor lookup's latency
// and updates the histogram.
func (m *Metrics) RecordLookup(latencyNs uint64) {
	m.TotalLookupLatencyNs.Add(latencyNs)
	m.LookupCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the tracer as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time, non-atomic copy of Metrics
// suitable for logging or export.
type MetricsSnapshot struct {
	StoresLogged  uint64
	StoresMissed  uint64
	AllocEvents   uint64
	FreeEvents    uint64
	FlushCount    uint64
	FlushedLines  uint64
	SinkWriteErrs uint64
	LiveBlocks    int64

	AvgLookupLatencyNs uint64
	LookupP50Ns        uint64
	LookupP99Ns        uint64
	LookupP999Ns       uint64
	LatencyHistogram   [numLatencyBuckets]uint64

	UptimeNs  uint64
	MissRate  float64
	ErrorRate float64
}

// Snapshot computes a MetricsSnapshot from the live counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		StoresLogged:  m.StoresLogged.Load(),
		StoresMissed:  m.StoresMissed.Load(),
		AllocEvents:   m.AllocEvents.Load(),
		FreeEvents:    m.FreeEvents.Load(),
		FlushCount:    m.FlushCount.Load(),
		FlushedLines:  m.FlushedLines.Load(),
		SinkWriteErrs: m.SinkWriteErrs.Load(),
		LiveBlocks:    m.LiveBlocks.Load(),
	}

	totalStores := snap.StoresLogged + snap.StoresMissed
	if totalStores > 0 {
		snap.MissRate = float64(snap.StoresMissed) / float64(totalStores) * 100.0
	}
	if snap.FlushCount > 0 {
		snap.ErrorRate = float64(snap.SinkWriteErrs) / float64(snap.FlushCount) * 100.0
	}

	lookupCount := m.LookupCount.Load()
	if lookupCount > 0 {
		snap.AvgLookupLatencyNs = m.TotalLookupLatencyNs.Load() / lookupCount
		snap.LookupP50Ns = m.calculatePercentile(0.50)
		snap.LookupP99Ns = m.calculatePercentile(0.99)
		snap.LookupP999Ns = m.calculatePercentile(0.999)
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	return snap
}

// calculatePercentile estimates the lookup latency at the given
// percentile (0.0-1.0) by linear interpolation between histogram
// buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.LookupCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset zeroes every counter and restarts StartTime; useful in tests.
func (m *Metrics) Reset() {
	m.StoresLogged.Store(0)
	m.StoresMissed.Store(0)
	m.AllocEvents.Store(0)
	m.FreeEvents.Store(0)
	m.FlushCount.Store(0)
	m.FlushedLines.Store(0)
	m.SinkWriteErrs.Store(0)
	m.LiveBlocks.Store(0)
	m.TotalLookupLatencyNs.Store(0)
	m.LookupCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer is the pluggable metrics-collection interface a Tracer
// reports into; re-exported from internal/interfaces so callers never
// need to import the internal package directly.
type Observer = interfaces.Observer

// NoOpObserver discards every observation.
type NoOpObserver struct{}

func (NoOpObserver) ObserveStore()                 {}
func (NoOpObserver) ObserveStoreMiss()              {}
func (NoOpObserver) ObserveAlloc(uint64)            {}
func (NoOpObserver) ObserveFree(uint64)             {}
func (NoOpObserver) ObserveFlush(int)               {}
func (NoOpObserver) ObserveLookup(uint64)           {}
func (NoOpObserver) ObserveLiveBlocks(int)          {}

// MetricsObserver implements Observer by recording into a Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an Observer that records into m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveStore()        { o.metrics.RecordStore() }
func (o *MetricsObserver) ObserveStoreMiss()     { o.metrics.RecordStoreMiss() }
func (o *MetricsObserver) ObserveAlloc(size uint64) { o.metrics.RecordAlloc(size) }
func (o *MetricsObserver) ObserveFree(size uint64)  { o.metrics.RecordFree(size) }
func (o *MetricsObserver) ObserveFlush(entries int) { o.metrics.RecordFlush(entries) }
func (o *MetricsObserver) ObserveLookup(latencyNs uint64) { o.metrics.RecordLookup(latencyNs) }
func (o *MetricsObserver) ObserveLiveBlocks(count int) {}

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
