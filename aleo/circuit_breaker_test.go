package aleo

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUnavailable = NewError(ErrorTypeServer, "unavailable", nil)

func TestCircuitBreaker(t *testing.T) {
	t.Run("opens after failure threshold", func(t *testing.T) {
		cb := NewCircuitBreaker(CircuitBreakerConfig{
			FailureThreshold: 3,
			SuccessThreshold: 1,
			Timeout:          time.Minute,
			HalfOpenRequests: 1,
		})

		for i := 0; i < 3; i++ {
			assert.Error(t, cb.Execute(func() error { return errUnavailable }))
		}
		assert.Equal(t, CircuitOpen, cb.State())

		err := cb.Execute(func() error {
			t.Error("fn must not run while open")
			return nil
		})
		assert.ErrorIs(t, err, ErrCircuitOpen)

		var typed *Error
		require.True(t, errors.As(err, &typed))
		assert.Equal(t, ErrorTypeCircuitOpen, typed.Type)
		assert.False(t, IsRetryable(err))
	})

	t.Run("not found does not count as failure", func(t *testing.T) {
		cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute, HalfOpenRequests: 1})

		for i := 0; i < 10; i++ {
			_ = cb.Execute(func() error { return NewError(ErrorTypeNotFound, "no block", nil) })
		}
		assert.Equal(t, CircuitClosed, cb.State())
	})

	t.Run("success resets the failure count", func(t *testing.T) {
		cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute, HalfOpenRequests: 1})

		_ = cb.Execute(func() error { return errUnavailable })
		_ = cb.Execute(func() error { return nil })
		_ = cb.Execute(func() error { return errUnavailable })
		assert.Equal(t, CircuitClosed, cb.State())
	})

	t.Run("half-open then closed", func(t *testing.T) {
		cb := NewCircuitBreaker(CircuitBreakerConfig{
			FailureThreshold: 1,
			SuccessThreshold: 2,
			Timeout:          20 * time.Millisecond,
			HalfOpenRequests: 5,
		})

		_ = cb.Execute(func() error { return errUnavailable })
		assert.Equal(t, CircuitOpen, cb.State())

		time.Sleep(30 * time.Millisecond)
		assert.Equal(t, CircuitHalfOpen, cb.State())

		require.NoError(t, cb.Execute(func() error { return nil }))
		assert.Equal(t, CircuitHalfOpen, cb.State())
		require.NoError(t, cb.Execute(func() error { return nil }))
		assert.Equal(t, CircuitClosed, cb.State())
	})

	t.Run("half-open failure reopens", func(t *testing.T) {
		cb := NewCircuitBreaker(CircuitBreakerConfig{
			FailureThreshold: 1,
			SuccessThreshold: 2,
			Timeout:          20 * time.Millisecond,
			HalfOpenRequests: 5,
		})

		_ = cb.Execute(func() error { return errUnavailable })
		time.Sleep(30 * time.Millisecond)
		_ = cb.Execute(func() error { return errUnavailable })
		assert.Equal(t, CircuitOpen, cb.State())
	})

	t.Run("reset", func(t *testing.T) {
		cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Minute, HalfOpenRequests: 1})
		_ = cb.Execute(func() error { return errUnavailable })
		require.Equal(t, CircuitOpen, cb.State())

		cb.Reset()
		assert.Equal(t, CircuitClosed, cb.State())
	})
}

func TestCircuitBreaker_StateChangeCallback(t *testing.T) {
	var mu sync.Mutex
	var transitions []string

	cb := newCircuitBreaker("latest/height", CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          10 * time.Millisecond,
		HalfOpenRequests: 1,
	}, func(name string, from, to CircuitState) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, name+":"+from.String()+"->"+to.String())
	})

	_ = cb.Execute(func() error { return errUnavailable })
	time.Sleep(20 * time.Millisecond)
	_ = cb.Execute(func() error { return nil })

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"latest/height:closed->open",
		"latest/height:open->half-open",
		"latest/height:half-open->closed",
	}, transitions)
}

func TestPerEndpointCircuitBreaker(t *testing.T) {
	pecb := newPerEndpointCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
		HalfOpenRequests: 1,
	}, nil)

	_ = pecb.Execute(EndpointStatePath, func() error { return errUnavailable })
	assert.Equal(t, CircuitOpen, pecb.State(EndpointStatePath))
	assert.Equal(t, CircuitClosed, pecb.State(EndpointLatestHeight))

	assert.NoError(t, pecb.Execute(EndpointLatestHeight, func() error { return nil }))
	assert.ErrorIs(t, pecb.Execute(EndpointStatePath, func() error { return nil }), ErrCircuitOpen)

	pecb.ResetAll()
	assert.Equal(t, CircuitClosed, pecb.State(EndpointStatePath))
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(42).String())
}
