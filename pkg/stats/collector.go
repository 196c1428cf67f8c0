package stats

import (
	"sync"
	"sync/atomic"
)

// OperationType names a tracked store or stream operation
type OperationType string

const (
	OpCreateTable OperationType = "create_table"
	OpInsert      OperationType = "insert"
	OpPatch       OperationType = "patch"
	OpReplace     OperationType = "replace"
	OpDelete      OperationType = "delete"
	OpGet         OperationType = "get"
	OpScan        OperationType = "scan"
	OpPaginate    OperationType = "paginate"
)

// AtomicCollector keeps counters in atomics. The maps are only locked for
// writing the first time an operation or error type is seen.
type AtomicCollector struct {
	mu     sync.RWMutex
	ops    map[OperationType]*opStats
	errors map[string]*atomic.Uint64

	// Rows inspected by traversals versus rows handed to callers
	rowsRead     atomic.Uint64
	rowsReturned atomic.Uint64
	splitPages   atomic.Uint64
}

// opStats is the count and latency summary of one operation type
type opStats struct {
	count atomic.Uint64
	sum   atomic.Uint64 // nanoseconds
	max   atomic.Uint64
	min   atomic.Uint64 // 0 until the first sample
}

// NewAtomicCollector creates an empty collector
func NewAtomicCollector() *AtomicCollector {
	return &AtomicCollector{
		ops:    make(map[OperationType]*opStats),
		errors: make(map[string]*atomic.Uint64),
	}
}

// TrackOperationWithLatency counts op and folds latencyNs into its summary
func (c *AtomicCollector) TrackOperationWithLatency(op OperationType, latencyNs uint64) {
	s := getOrCreate(&c.mu, c.ops, op, func() *opStats { return &opStats{} })
	s.count.Add(1)
	s.sum.Add(latencyNs)

	for {
		cur := s.max.Load()
		if latencyNs <= cur || s.max.CompareAndSwap(cur, latencyNs) {
			break
		}
	}
	for {
		cur := s.min.Load()
		if (cur != 0 && latencyNs >= cur) || s.min.CompareAndSwap(cur, latencyNs) {
			break
		}
	}
}

// TrackError increments the counter for the specified error type
func (c *AtomicCollector) TrackError(errorType string) {
	getOrCreate(&c.mu, c.errors, errorType, func() *atomic.Uint64 { return &atomic.Uint64{} }).Add(1)
}

// TrackRows adds to the inspected and returned row counters
func (c *AtomicCollector) TrackRows(read, returned uint64) {
	c.rowsRead.Add(read)
	c.rowsReturned.Add(returned)
}

// TrackSplit increments the split page counter
func (c *AtomicCollector) TrackSplit() {
	c.splitPages.Add(1)
}

// GetStats returns "<op>_ops" counts, "<op>_latency" summaries, row and
// split counters, and "errors" keyed by error type.
func (c *AtomicCollector) GetStats() map[string]interface{} {
	out := map[string]interface{}{
		"rows_read":     c.rowsRead.Load(),
		"rows_returned": c.rowsReturned.Load(),
		"split_pages":   c.splitPages.Load(),
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	for op, s := range c.ops {
		count := s.count.Load()
		out[string(op)+"_ops"] = count
		if count == 0 {
			continue
		}
		latency := map[string]interface{}{
			"count":  count,
			"avg_ns": s.sum.Load() / count,
			"max_ns": s.max.Load(),
		}
		if min := s.min.Load(); min != 0 {
			latency["min_ns"] = min
		}
		out[string(op)+"_latency"] = latency
	}

	errs := make(map[string]uint64, len(c.errors))
	for errType, n := range c.errors {
		errs[errType] = n.Load()
	}
	out["errors"] = errs

	return out
}

func getOrCreate[K comparable, V any](mu *sync.RWMutex, m map[K]V, key K, create func() V) V {
	mu.RLock()
	v, ok := m[key]
	mu.RUnlock()
	if ok {
		return v
	}

	mu.Lock()
	defer mu.Unlock()
	if v, ok = m[key]; !ok {
		v = create()
		m[key] = v
	}
	return v
}
