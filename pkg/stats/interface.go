package stats

// Collector counts store and paginate operations. Implementations must be
// safe for concurrent use; one collector is shared by a store and its readers.
type Collector interface {
	// TrackOperationWithLatency records an operation with its latency
	TrackOperationWithLatency(op OperationType, latencyNs uint64)

	// TrackError increments the counter for the specified error type
	TrackError(errorType string)

	// TrackRows adds to the inspected and returned row counters
	TrackRows(read, returned uint64)

	// TrackSplit increments the split page counter
	TrackSplit()

	// GetStats returns all statistics
	GetStats() map[string]interface{}
}

// Ensure AtomicCollector implements the Collector interface
var _ Collector = (*AtomicCollector)(nil)
