package relay

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	asyncQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "aleo_relay_async_queue_depth",
		Help: "Current depth of the cache write-back queue",
	}, []string{"network"})

	asyncQueueCapacity = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "aleo_relay_async_queue_capacity",
		Help: "Total capacity of the cache write-back queue",
	}, []string{"network"})

	asyncWriteErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aleo_relay_async_write_errors_total",
		Help: "Total number of cache write-back errors",
	}, []string{"network", "error_type"})

	healthStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "aleo_relay_health_status",
		Help: "Health status (1=healthy, 0.5=degraded, 0=unhealthy)",
	}, []string{"network"})
)

func initializeAsyncMetrics(network string, queueCapacity int) {
	asyncQueueCapacity.WithLabelValues(network).Set(float64(queueCapacity))
	asyncQueueDepth.WithLabelValues(network).Set(0)
}

// UpdateHealthMetric updates the health status metric
func UpdateHealthMetric(network string, status float64) {
	healthStatus.WithLabelValues(network).Set(status)
}

// Metrics holds the counters served on /stats
type Metrics struct {
	mu               sync.Mutex
	totalRequests    int64
	totalErrors      int64
	lookups          map[string]int64
	requestDurations []time.Duration
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		lookups:          make(map[string]int64),
		requestDurations: make([]time.Duration, 0, 1000),
	}
}

// RecordRequest records a request metric
func (m *Metrics) RecordRequest(statusCode int, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalRequests++
	if statusCode >= 400 {
		m.totalErrors++
	}
	m.requestDurations = append(m.requestDurations, duration)

	// Keep only last 1000 durations
	if len(m.requestDurations) > 1000 {
		m.requestDurations = m.requestDurations[1:]
	}
}

// RecordLookup counts a read answered from source
func (m *Metrics) RecordLookup(source string) {
	m.mu.Lock()
	m.lookups[source]++
	m.mu.Unlock()
}

// GetStats returns current metrics
func (m *Metrics) GetStats() *StatsResponse {
	m.mu.Lock()
	defer m.mu.Unlock()

	lookups := make(map[string]int64, len(m.lookups))
	var total int64
	for k, v := range m.lookups {
		lookups[k] = v
		total += v
	}

	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(m.lookups[SourceCache]) / float64(total) * 100
	}

	avgLatency := float64(0)
	if len(m.requestDurations) > 0 {
		var sum time.Duration
		for _, d := range m.requestDurations {
			sum += d
		}
		avgLatency = float64(sum.Milliseconds()) / float64(len(m.requestDurations))
	}

	return &StatsResponse{
		TotalRequests:    m.totalRequests,
		TotalErrors:      m.totalErrors,
		Lookups:          lookups,
		CacheHitRate:     hitRate,
		AverageLatencyMs: avgLatency,
	}
}
