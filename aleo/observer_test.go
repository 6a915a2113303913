package aleo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockObserver struct {
	mock.Mock
}

func (m *mockObserver) OnRequestStart(ctx context.Context, method, endpoint string) {
	m.Called(method, endpoint)
}

func (m *mockObserver) OnRequestEnd(ctx context.Context, method, endpoint string, duration time.Duration, err error) {
	m.Called(method, endpoint, err)
}

func (m *mockObserver) OnRetryAttempt(ctx context.Context, method, endpoint string, attempt int, delay time.Duration, err error) {
	m.Called(method, endpoint, attempt)
}

func (m *mockObserver) OnCircuitBreakerStateChange(endpoint string, oldState, newState CircuitState) {
	m.Called(endpoint, oldState, newState)
}

type panickingObserver struct{ *NoopObserver }

func (panickingObserver) OnRequestStart(ctx context.Context, method, endpoint string) {
	panic("observer bug")
}

func TestMetricsCollector(t *testing.T) {
	ctx := context.Background()
	m := NewMetricsCollector()

	m.OnRequestStart(ctx, "GET", EndpointBlock)
	m.OnRetryAttempt(ctx, "GET", EndpointBlock, 1, time.Millisecond, errUnavailable)
	m.OnRequestEnd(ctx, "GET", EndpointBlock, 5*time.Millisecond, nil)
	m.OnRequestStart(ctx, "GET", EndpointBlock)
	m.OnRequestEnd(ctx, "GET", EndpointBlock, 7*time.Millisecond, errors.New("x"))
	m.OnCircuitBreakerStateChange("default", CircuitClosed, CircuitOpen)

	snap := m.Snapshot()
	key := "GET " + EndpointBlock
	assert.Equal(t, int64(2), snap.Requests[key])
	assert.Equal(t, int64(1), snap.Errors[key])
	assert.Equal(t, int64(1), snap.Retries[key])
	assert.Equal(t, []time.Duration{5 * time.Millisecond, 7 * time.Millisecond}, snap.Latencies[key])
	assert.Equal(t, int64(1), snap.CircuitStateChanges["default"])

	// The snapshot is detached from the collector.
	snap.Requests[key] = 100
	assert.Equal(t, int64(2), m.Snapshot().Requests[key])
}

func TestCompositeObserver(t *testing.T) {
	ctx := context.Background()
	first := &mockObserver{}
	second := &mockObserver{}

	first.On("OnRequestStart", "GET", EndpointLatestHeight).Return().Once()
	second.On("OnRequestStart", "GET", EndpointLatestHeight).Return().Once()
	first.On("OnCircuitBreakerStateChange", "default", CircuitClosed, CircuitOpen).Return().Once()
	second.On("OnCircuitBreakerStateChange", "default", CircuitClosed, CircuitOpen).Return().Once()

	obs := NewCompositeObserver(first, panickingObserver{}, second)

	assert.NotPanics(t, func() {
		obs.OnRequestStart(ctx, "GET", EndpointLatestHeight)
		obs.OnCircuitBreakerStateChange("default", CircuitClosed, CircuitOpen)
	})

	first.AssertExpectations(t)
	second.AssertExpectations(t)
}
