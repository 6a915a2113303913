package aleo

import (
	"context"
	"sync"
	"time"
)

// Observer receives request lifecycle events from a Client. endpoint is the
// route pattern (for example "block/{height}"), not the expanded path, so it
// is safe to use as a metric label.
//
// Implementations must be fast and safe for concurrent use.
type Observer interface {
	OnRequestStart(ctx context.Context, method, endpoint string)
	OnRequestEnd(ctx context.Context, method, endpoint string, duration time.Duration, err error)
	OnRetryAttempt(ctx context.Context, method, endpoint string, attempt int, delay time.Duration, err error)
	OnCircuitBreakerStateChange(endpoint string, oldState, newState CircuitState)
}

// NoopObserver ignores every event. It is the default.
type NoopObserver struct{}

func (n *NoopObserver) OnRequestStart(ctx context.Context, method, endpoint string) {}

func (n *NoopObserver) OnRequestEnd(ctx context.Context, method, endpoint string, duration time.Duration, err error) {
}

func (n *NoopObserver) OnRetryAttempt(ctx context.Context, method, endpoint string, attempt int, delay time.Duration, err error) {
}

func (n *NoopObserver) OnCircuitBreakerStateChange(endpoint string, oldState, newState CircuitState) {
}

// MetricsCollector keeps per-endpoint counters in memory. It is meant for
// tests and the CLI; services export through internal/telemetry instead.
//
//	metrics := aleo.NewMetricsCollector()
//	client, _ := aleo.NewClientWithConfig[aleo.Testnet3](url, "testnet3", aleo.DefaultConfig().WithObserver(metrics))
//	_, _ = client.LatestHeight(ctx)
//	snapshot := metrics.Snapshot()
type MetricsCollector struct {
	mu                  sync.RWMutex
	requestCount        map[string]int64
	latencies           map[string][]time.Duration
	errorCount          map[string]int64
	retryCount          map[string]int64
	circuitStateChanges map[string]int64
}

// MetricsSnapshot is a copy of the collector's counters.
type MetricsSnapshot struct {
	Requests            map[string]int64
	Latencies           map[string][]time.Duration
	Errors              map[string]int64
	Retries             map[string]int64
	CircuitStateChanges map[string]int64
}

// NewMetricsCollector creates an empty collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		requestCount:        make(map[string]int64),
		latencies:           make(map[string][]time.Duration),
		errorCount:          make(map[string]int64),
		retryCount:          make(map[string]int64),
		circuitStateChanges: make(map[string]int64),
	}
}

// OnRequestStart increments request count
func (m *MetricsCollector) OnRequestStart(ctx context.Context, method, endpoint string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount[method+" "+endpoint]++
}

// OnRequestEnd records request duration and errors
func (m *MetricsCollector) OnRequestEnd(ctx context.Context, method, endpoint string, duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := method + " " + endpoint
	m.latencies[key] = append(m.latencies[key], duration)
	if err != nil {
		m.errorCount[key]++
	}
}

// OnRetryAttempt increments retry count
func (m *MetricsCollector) OnRetryAttempt(ctx context.Context, method, endpoint string, attempt int, delay time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retryCount[method+" "+endpoint]++
}

// OnCircuitBreakerStateChange tracks state changes
func (m *MetricsCollector) OnCircuitBreakerStateChange(endpoint string, oldState, newState CircuitState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.circuitStateChanges[endpoint]++
}

// Snapshot returns a copy of the counters, safe to read without locks.
func (m *MetricsCollector) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := MetricsSnapshot{
		Requests:            copyCounts(m.requestCount),
		Latencies:           make(map[string][]time.Duration, len(m.latencies)),
		Errors:              copyCounts(m.errorCount),
		Retries:             copyCounts(m.retryCount),
		CircuitStateChanges: copyCounts(m.circuitStateChanges),
	}
	for k, v := range m.latencies {
		snap.Latencies[k] = append([]time.Duration(nil), v...)
	}
	return snap
}

func copyCounts(src map[string]int64) map[string]int64 {
	dst := make(map[string]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// CompositeObserver fans events out to several observers. A panicking
// observer does not stop the others or the request.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver combines observers, called in order.
func NewCompositeObserver(observers ...Observer) Observer {
	return &CompositeObserver{observers: observers}
}

func (c *CompositeObserver) each(fn func(Observer)) {
	for _, obs := range c.observers {
		func() {
			defer func() {
				_ = recover()
			}()
			fn(obs)
		}()
	}
}

// OnRequestStart notifies all observers
func (c *CompositeObserver) OnRequestStart(ctx context.Context, method, endpoint string) {
	c.each(func(o Observer) { o.OnRequestStart(ctx, method, endpoint) })
}

// OnRequestEnd notifies all observers
func (c *CompositeObserver) OnRequestEnd(ctx context.Context, method, endpoint string, duration time.Duration, err error) {
	c.each(func(o Observer) { o.OnRequestEnd(ctx, method, endpoint, duration, err) })
}

// OnRetryAttempt notifies all observers
func (c *CompositeObserver) OnRetryAttempt(ctx context.Context, method, endpoint string, attempt int, delay time.Duration, err error) {
	c.each(func(o Observer) { o.OnRetryAttempt(ctx, method, endpoint, attempt, delay, err) })
}

// OnCircuitBreakerStateChange notifies all observers
func (c *CompositeObserver) OnCircuitBreakerStateChange(endpoint string, oldState, newState CircuitState) {
	c.each(func(o Observer) { o.OnCircuitBreakerStateChange(endpoint, oldState, newState) })
}
