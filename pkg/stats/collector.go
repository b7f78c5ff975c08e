package stats

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KevoDB/blockq/pkg/tuple"
)

// OperationType defines the type of operation being tracked
type OperationType string

// Engine operation types
const (
	OpSelect      OperationType = "select"
	OpSortRuns    OperationType = "sort_runs"
	OpMerge       OperationType = "merge"
	OpSort        OperationType = "sort"
	OpBuildIndex  OperationType = "build_index"
	OpFindRange   OperationType = "find_range"
	OpIndexSelect OperationType = "index_select"
	OpJoin        OperationType = "join"
	OpDifference  OperationType = "difference"
	OpLoad        OperationType = "load"
	OpDump        OperationType = "dump"
	OpSnapshot    OperationType = "snapshot"
	OpRestore     OperationType = "restore"
)

// AtomicCollector provides centralized statistics collection with minimal contention
// using atomic operations for thread safety
type AtomicCollector struct {
	// Operation counters using atomic values
	counts   map[OperationType]*atomic.Uint64
	countsMu sync.RWMutex // Only used when creating new counter entries

	// Timing measurements for last operation timestamps
	lastOpTime   map[OperationType]time.Time
	lastOpTimeMu sync.RWMutex // Only used for timestamp updates

	// Block transfers per operation
	io   map[OperationType]*ioCounters
	ioMu sync.RWMutex

	// Tuples produced per operation
	tuples   map[OperationType]*atomic.Uint64
	tuplesMu sync.RWMutex

	totalBlocksRead    atomic.Uint64
	totalBlocksWritten atomic.Uint64

	// Error tracking
	errors   map[string]*atomic.Uint64
	errorsMu sync.RWMutex // Only used when creating new error entries

	indexCacheHits   atomic.Uint64
	indexCacheMisses atomic.Uint64

	snapshotBlocks atomic.Uint64
	restoreBlocks  atomic.Uint64

	// Latency tracking
	latencies   map[OperationType]*LatencyTracker
	latenciesMu sync.RWMutex // Only used when creating new latency trackers
}

type ioCounters struct {
	reads  atomic.Uint64
	writes atomic.Uint64
}

// LatencyTracker maintains running statistics about operation latencies
type LatencyTracker struct {
	count atomic.Uint64
	sum   atomic.Uint64 // sum in nanoseconds
	max   atomic.Uint64 // max in nanoseconds
	min   atomic.Uint64 // min in nanoseconds, 0 until the first sample
}

// NewAtomicCollector creates a new atomic statistics collector
func NewAtomicCollector() *AtomicCollector {
	return &AtomicCollector{
		counts:     make(map[OperationType]*atomic.Uint64),
		lastOpTime: make(map[OperationType]time.Time),
		io:         make(map[OperationType]*ioCounters),
		tuples:     make(map[OperationType]*atomic.Uint64),
		errors:     make(map[string]*atomic.Uint64),
		latencies:  make(map[OperationType]*LatencyTracker),
	}
}

// TrackOperation increments the counter for the specified operation type
func (c *AtomicCollector) TrackOperation(op OperationType) {
	counter := getOrCreate(&c.countsMu, c.counts, op)
	counter.Add(1)

	c.lastOpTimeMu.Lock()
	c.lastOpTime[op] = time.Now()
	c.lastOpTimeMu.Unlock()
}

// TrackOperationWithLatency tracks an operation and its latency
func (c *AtomicCollector) TrackOperationWithLatency(op OperationType, latencyNs uint64) {
	c.TrackOperation(op)

	tracker := c.getOrCreateLatencyTracker(op)
	tracker.count.Add(1)
	tracker.sum.Add(latencyNs)

	// Update max (using compare-and-swap pattern)
	for {
		current := tracker.max.Load()
		if latencyNs <= current {
			break
		}
		if tracker.max.CompareAndSwap(current, latencyNs) {
			break
		}
	}

	// Update min (using compare-and-swap pattern)
	for {
		current := tracker.min.Load()
		if current == 0 {
			if tracker.min.CompareAndSwap(0, latencyNs) {
				break
			}
			continue
		}
		if latencyNs >= current {
			break
		}
		if tracker.min.CompareAndSwap(current, latencyNs) {
			break
		}
	}
}

// TrackError increments the counter for the specified error type
func (c *AtomicCollector) TrackError(errorType string) {
	counter := getOrCreate(&c.errorsMu, c.errors, errorType)
	counter.Add(1)
}

// TrackIO adds block transfers charged by one operation
func (c *AtomicCollector) TrackIO(op OperationType, reads, writes uint64) {
	c.ioMu.RLock()
	counters, exists := c.io[op]
	c.ioMu.RUnlock()

	if !exists {
		c.ioMu.Lock()
		if counters, exists = c.io[op]; !exists {
			counters = &ioCounters{}
			c.io[op] = counters
		}
		c.ioMu.Unlock()
	}

	counters.reads.Add(reads)
	counters.writes.Add(writes)
	c.totalBlocksRead.Add(reads)
	c.totalBlocksWritten.Add(writes)
}

// TrackTuples adds the number of tuples an operation produced
func (c *AtomicCollector) TrackTuples(op OperationType, n uint64) {
	counter := getOrCreate(&c.tuplesMu, c.tuples, op)
	counter.Add(n)
}

// TrackIndexCache records an index cache lookup
func (c *AtomicCollector) TrackIndexCache(hit bool) {
	if hit {
		c.indexCacheHits.Add(1)
	} else {
		c.indexCacheMisses.Add(1)
	}
}

// TrackSnapshot records the blocks moved by a snapshot or restore
func (c *AtomicCollector) TrackSnapshot(restore bool, blocks uint64) {
	if restore {
		c.restoreBlocks.Add(blocks)
	} else {
		c.snapshotBlocks.Add(blocks)
	}
}

// GetStats returns all statistics as a map
func (c *AtomicCollector) GetStats() map[string]interface{} {
	stats := make(map[string]interface{})

	// Add operation counters
	c.countsMu.RLock()
	for op, counter := range c.counts {
		stats[string(op)+"_ops"] = counter.Load()
	}
	c.countsMu.RUnlock()

	// Add timing information
	c.lastOpTimeMu.RLock()
	for op, timestamp := range c.lastOpTime {
		stats["last_"+string(op)+"_time"] = timestamp.UnixNano()
	}
	c.lastOpTimeMu.RUnlock()

	c.ioMu.RLock()
	for op, counters := range c.io {
		stats[string(op)+"_io"] = map[string]uint64{
			"reads":  counters.reads.Load(),
			"writes": counters.writes.Load(),
		}
	}
	c.ioMu.RUnlock()

	c.tuplesMu.RLock()
	for op, counter := range c.tuples {
		stats[string(op)+"_tuples"] = counter.Load()
	}
	c.tuplesMu.RUnlock()

	read, written := c.totalBlocksRead.Load(), c.totalBlocksWritten.Load()
	stats["total_blocks_read"] = read
	stats["total_blocks_written"] = written
	stats["total_bytes_read"] = read * tuple.BlockSize
	stats["total_bytes_written"] = written * tuple.BlockSize

	stats["index_cache"] = map[string]uint64{
		"hits":   c.indexCacheHits.Load(),
		"misses": c.indexCacheMisses.Load(),
	}
	stats["snapshot_blocks"] = c.snapshotBlocks.Load()
	stats["restore_blocks"] = c.restoreBlocks.Load()

	// Add error statistics
	c.errorsMu.RLock()
	errorStats := make(map[string]uint64)
	for errType, counter := range c.errors {
		errorStats[errType] = counter.Load()
	}
	c.errorsMu.RUnlock()
	stats["errors"] = errorStats

	// Add latency statistics
	c.latenciesMu.RLock()
	for op, tracker := range c.latencies {
		count := tracker.count.Load()
		if count == 0 {
			continue
		}

		latencyStats := map[string]interface{}{
			"count":  count,
			"avg_ns": tracker.sum.Load() / count,
		}

		// Only include min/max if we have values
		if min := tracker.min.Load(); min != 0 {
			latencyStats["min_ns"] = min
		}
		if max := tracker.max.Load(); max != 0 {
			latencyStats["max_ns"] = max
		}

		stats[string(op)+"_latency"] = latencyStats
	}
	c.latenciesMu.RUnlock()

	return stats
}

// GetStatsFiltered returns statistics filtered by prefix
func (c *AtomicCollector) GetStatsFiltered(prefix string) map[string]interface{} {
	allStats := c.GetStats()
	filtered := make(map[string]interface{})

	for key, value := range allStats {
		if strings.HasPrefix(key, prefix) {
			filtered[key] = value
		}
	}

	return filtered
}

// getOrCreate returns the counter stored under key, creating it on first use
func getOrCreate[K comparable](mu *sync.RWMutex, m map[K]*atomic.Uint64, key K) *atomic.Uint64 {
	// Try read lock first (fast path)
	mu.RLock()
	counter, exists := m[key]
	mu.RUnlock()

	if !exists {
		// Slow path with write lock
		mu.Lock()
		if counter, exists = m[key]; !exists {
			counter = &atomic.Uint64{}
			m[key] = counter
		}
		mu.Unlock()
	}

	return counter
}

// getOrCreateLatencyTracker gets or creates a latency tracker for the operation
func (c *AtomicCollector) getOrCreateLatencyTracker(op OperationType) *LatencyTracker {
	c.latenciesMu.RLock()
	tracker, exists := c.latencies[op]
	c.latenciesMu.RUnlock()

	if !exists {
		c.latenciesMu.Lock()
		if tracker, exists = c.latencies[op]; !exists {
			tracker = &LatencyTracker{}
			c.latencies[op] = tracker
		}
		c.latenciesMu.Unlock()
	}

	return tracker
}
