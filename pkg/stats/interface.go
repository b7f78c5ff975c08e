package stats

// Provider defines the interface for components that provide statistics
type Provider interface {
	// GetStats returns all statistics
	GetStats() map[string]interface{}

	// GetStatsFiltered returns statistics filtered by prefix
	GetStatsFiltered(prefix string) map[string]interface{}
}

// Collector interface defines methods for collecting statistics
type Collector interface {
	Provider

	// TrackOperation records a single operation
	TrackOperation(op OperationType)

	// TrackOperationWithLatency records an operation with its latency
	TrackOperationWithLatency(op OperationType, latencyNs uint64)

	// TrackError increments the counter for the specified error type
	TrackError(errorType string)

	// TrackIO adds block transfers charged by one operation
	TrackIO(op OperationType, reads, writes uint64)

	// TrackTuples adds the number of tuples an operation produced
	TrackTuples(op OperationType, n uint64)

	// TrackIndexCache records an index cache lookup
	TrackIndexCache(hit bool)

	// TrackSnapshot records the blocks moved by a snapshot or restore
	TrackSnapshot(restore bool, blocks uint64)
}

// Ensure AtomicCollector implements the Collector interface
var _ Collector = (*AtomicCollector)(nil)
