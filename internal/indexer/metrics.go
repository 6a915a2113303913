package indexer

import (
	"sync"
	"time"
)

// Metrics holds indexer metrics for the health endpoint. Prometheus
// collectors are updated separately through the telemetry package.
type Metrics struct {
	mu sync.RWMutex

	// Range processing metrics
	rangesProcessed int64
	rangesFailed    int64
	blocksIndexed   int64
	blocksArchived  int64
	archiveErrors   int64

	// Polling metrics
	rangesPublished int64
	chainHeight     uint32
	indexedHeight   uint32

	// Error metrics
	errorCounts map[string]int64

	// Performance metrics
	avgRangeSize      float64
	avgProcessingTime float64

	// Indexer status
	startTime       time.Time
	lastProcessedAt time.Time
	lastPolledAt    time.Time
	isHealthy       bool
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		errorCounts: make(map[string]int64),
		startTime:   time.Now(),
		isHealthy:   true,
	}
}

// RecordRange records a processed fetch request
func (m *Metrics) RecordRange(blocks, archived int, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rangesProcessed++
	m.blocksIndexed += int64(blocks)
	m.blocksArchived += int64(archived)
	m.lastProcessedAt = time.Now()

	n := float64(m.rangesProcessed)
	m.avgRangeSize = (m.avgRangeSize*(n-1) + float64(blocks)) / n
	m.avgProcessingTime = (m.avgProcessingTime*(n-1) + float64(duration.Milliseconds())) / n
}

// RecordArchiveError records a block whose archive upload failed
func (m *Metrics) RecordArchiveError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.archiveErrors++
}

// RecordError records a failed range
func (m *Metrics) RecordError(errorType string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.errorCounts[errorType]++
	m.rangesFailed++
}

// RecordPoll records one poller tick
func (m *Metrics) RecordPoll(chainHeight, indexedHeight uint32, published int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.chainHeight = chainHeight
	m.indexedHeight = indexedHeight
	m.rangesPublished += int64(published)
	m.lastPolledAt = time.Now()
}

// Lag is the number of blocks between the chain tip and the index
func (m *Metrics) Lag() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.indexedHeight >= m.chainHeight {
		return 0
	}
	return m.chainHeight - m.indexedHeight
}

// GetStats returns current metrics
func (m *Metrics) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sinceProcessed := time.Duration(0)
	if !m.lastProcessedAt.IsZero() {
		sinceProcessed = time.Since(m.lastProcessedAt)
	}

	errorCounts := make(map[string]int64, len(m.errorCounts))
	for k, v := range m.errorCounts {
		errorCounts[k] = v
	}

	return map[string]interface{}{
		"uptime_seconds":         time.Since(m.startTime).Seconds(),
		"ranges_processed":       m.rangesProcessed,
		"ranges_failed":          m.rangesFailed,
		"ranges_published":       m.rangesPublished,
		"blocks_indexed":         m.blocksIndexed,
		"blocks_archived":        m.blocksArchived,
		"archive_errors":         m.archiveErrors,
		"chain_height":           m.chainHeight,
		"indexed_height":         m.indexedHeight,
		"avg_range_size":         m.avgRangeSize,
		"avg_processing_time_ms": m.avgProcessingTime,
		"error_counts":           errorCounts,
		"last_processed_ago_ms":  sinceProcessed.Milliseconds(),
		"is_healthy":             m.isHealthy,
	}
}

// SetHealthy sets the health status
func (m *Metrics) SetHealthy(healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.isHealthy = healthy
}

// IsHealthy returns the health status
func (m *Metrics) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isHealthy
}
