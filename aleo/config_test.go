package aleo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 3, cfg.RetryConfig.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.RetryConfig.InitialInterval)
	assert.Equal(t, 5*time.Second, cfg.RetryConfig.MaxInterval)
	assert.Equal(t, 2.0, cfg.RetryConfig.Multiplier)
	assert.Equal(t, 100, cfg.TransportConfig.MaxIdleConns)
	assert.Equal(t, 10, cfg.TransportConfig.MaxConnsPerHost)
	assert.Equal(t, 90*time.Second, cfg.TransportConfig.IdleConnTimeout)
	assert.Nil(t, cfg.CircuitBreakerConfig)
	assert.IsType(t, &NoopObserver{}, cfg.Observer)
	require.NoError(t, cfg.Validate())
}

func TestConfig_Builders(t *testing.T) {
	metrics := NewMetricsCollector()
	strategy := DefaultLinearBackoff()

	cfg := DefaultConfig().
		WithTimeout(5*time.Second).
		WithRetries(7).
		WithHeader("X-Request-Source", "indexer").
		WithTransport(TransportConfig{MaxIdleConns: 4, MaxConnsPerHost: 2, IdleConnTimeout: time.Second}).
		WithCircuitBreaker(DefaultCircuitBreakerConfig()).
		WithRetryStrategy(strategy).
		WithObserver(metrics).
		WithPerEndpointCircuitBreaker()

	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, 7, cfg.RetryConfig.MaxRetries)
	assert.Equal(t, "indexer", cfg.Headers["X-Request-Source"])
	assert.Equal(t, 2, cfg.TransportConfig.MaxConnsPerHost)
	require.NotNil(t, cfg.CircuitBreakerConfig)
	assert.Equal(t, 5, cfg.CircuitBreakerConfig.FailureThreshold)
	assert.Same(t, strategy, cfg.RetryStrategy)
	assert.Same(t, metrics, cfg.Observer)
	assert.True(t, cfg.EnablePerEndpointCircuitBreaker)
}

func TestConfig_Validate(t *testing.T) {
	cfg := &Config{
		Timeout:              -1,
		RetryConfig:          RetryConfig{MaxRetries: -2, Multiplier: 0.5},
		CircuitBreakerConfig: &CircuitBreakerConfig{},
	}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 0, cfg.RetryConfig.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.RetryConfig.InitialInterval)
	assert.Equal(t, 5*time.Second, cfg.RetryConfig.MaxInterval)
	assert.Equal(t, 2.0, cfg.RetryConfig.Multiplier)
	assert.Equal(t, 100, cfg.TransportConfig.MaxIdleConns)
	assert.Equal(t, 10, cfg.TransportConfig.MaxConnsPerHost)
	assert.Equal(t, 90*time.Second, cfg.TransportConfig.IdleConnTimeout)
	assert.NotNil(t, cfg.Observer)
	assert.Equal(t, DefaultCircuitBreakerConfig(), *cfg.CircuitBreakerConfig)
}

func TestConfig_Clone(t *testing.T) {
	orig := DefaultConfig().
		WithHeader("A", "1").
		WithCircuitBreaker(DefaultCircuitBreakerConfig())

	cp := orig.clone()
	cp.Headers["A"] = "2"
	cp.CircuitBreakerConfig.FailureThreshold = 99

	assert.Equal(t, "1", orig.Headers["A"])
	assert.Equal(t, 5, orig.CircuitBreakerConfig.FailureThreshold)
}
