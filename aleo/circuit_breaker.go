package aleo

import (
	"sync"
	"time"
)

// CircuitState is the state of a circuit breaker.
//
//	Closed -> Open       after FailureThreshold consecutive failures
//	Open -> Half-Open    after Timeout
//	Half-Open -> Closed  after SuccessThreshold consecutive successes
//	Half-Open -> Open    on any failure
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// String returns the string representation of the circuit state
func (cs CircuitState) String() string {
	switch cs {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker fails requests fast while the Beacon node is unhealthy.
// Only retryable errors count as failures: a 404 for a block that does not
// exist yet says nothing about node health.
type CircuitBreaker interface {
	// Execute runs fn unless the circuit is open, in which case it returns
	// an error matching ErrCircuitOpen.
	Execute(fn func() error) error
	State() CircuitState
	Reset()
}

// CircuitBreakerConfig configures a circuit breaker. Zero fields take the defaults.
type CircuitBreakerConfig struct {
	// Default: 5
	FailureThreshold int
	// Default: 2
	SuccessThreshold int
	// Default: 30s
	Timeout time.Duration
	// HalfOpenRequests limits concurrent probes while half-open. Default: 3
	HalfOpenRequests int
}

// DefaultCircuitBreakerConfig returns the default breaker settings.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
		HalfOpenRequests: 3,
	}
}

type circuitBreaker struct {
	config        CircuitBreakerConfig
	name          string
	onStateChange func(name string, from, to CircuitState)

	mu               sync.Mutex
	state            CircuitState
	failures         int
	successes        int
	halfOpenRequests int
	lastFailureTime  time.Time
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) CircuitBreaker {
	return newCircuitBreaker("", config, nil)
}

func newCircuitBreaker(name string, config CircuitBreakerConfig, onStateChange func(string, CircuitState, CircuitState)) *circuitBreaker {
	if onStateChange == nil {
		onStateChange = func(string, CircuitState, CircuitState) {}
	}
	return &circuitBreaker{
		config:        config,
		name:          name,
		onStateChange: onStateChange,
		state:         CircuitClosed,
	}
}

// Execute runs the given function if the circuit allows it
func (cb *circuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	cb.checkStateTransition()

	switch cb.state {
	case CircuitOpen:
		cb.mu.Unlock()
		return NewError(ErrorTypeCircuitOpen, "circuit breaker is open", ErrCircuitOpen)
	case CircuitHalfOpen:
		if cb.halfOpenRequests >= cb.config.HalfOpenRequests {
			cb.mu.Unlock()
			return NewError(ErrorTypeCircuitOpen, "circuit breaker half-open limit reached", ErrCircuitOpen)
		}
		cb.halfOpenRequests++
	}
	cb.mu.Unlock()

	err := fn()
	cb.recordResult(err)
	return err
}

// State returns the current state of the circuit
func (cb *circuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.checkStateTransition()
	return cb.state
}

// Reset manually resets the circuit to closed state
func (cb *circuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.transitionTo(CircuitClosed)
	cb.failures = 0
}

func (cb *circuitBreaker) checkStateTransition() {
	if cb.state == CircuitOpen && time.Since(cb.lastFailureTime) >= cb.config.Timeout {
		cb.transitionTo(CircuitHalfOpen)
	}
}

func (cb *circuitBreaker) recordResult(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil && IsRetryable(err) {
		cb.onFailure()
	} else {
		cb.onSuccess()
	}
}

func (cb *circuitBreaker) onSuccess() {
	switch cb.state {
	case CircuitClosed:
		cb.failures = 0
	case CircuitHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.transitionTo(CircuitClosed)
		}
	}
}

func (cb *circuitBreaker) onFailure() {
	cb.lastFailureTime = time.Now()

	switch cb.state {
	case CircuitClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.transitionTo(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.transitionTo(CircuitOpen)
	}
}

// transitionTo must be called with mu held.
func (cb *circuitBreaker) transitionTo(newState CircuitState) {
	if cb.state == newState {
		return
	}

	from := cb.state
	cb.state = newState
	cb.failures = 0
	cb.successes = 0
	cb.halfOpenRequests = 0

	cb.onStateChange(cb.name, from, newState)
}

// perEndpointCircuitBreaker keeps one breaker per endpoint path, so a failing
// statePath lookup does not block latest/height polling.
type perEndpointCircuitBreaker struct {
	mu            sync.RWMutex
	breakers      map[string]*circuitBreaker
	config        CircuitBreakerConfig
	onStateChange func(string, CircuitState, CircuitState)
}

func newPerEndpointCircuitBreaker(config CircuitBreakerConfig, onStateChange func(string, CircuitState, CircuitState)) *perEndpointCircuitBreaker {
	return &perEndpointCircuitBreaker{
		breakers:      make(map[string]*circuitBreaker),
		config:        config,
		onStateChange: onStateChange,
	}
}

// Execute runs fn under the breaker for endpoint, creating it on first use.
func (pecb *perEndpointCircuitBreaker) Execute(endpoint string, fn func() error) error {
	return pecb.getOrCreate(endpoint).Execute(fn)
}

// State returns CircuitClosed for endpoints never seen.
func (pecb *perEndpointCircuitBreaker) State(endpoint string) CircuitState {
	pecb.mu.RLock()
	cb, exists := pecb.breakers[endpoint]
	pecb.mu.RUnlock()

	if !exists {
		return CircuitClosed
	}
	return cb.State()
}

// ResetAll closes every breaker.
func (pecb *perEndpointCircuitBreaker) ResetAll() {
	pecb.mu.RLock()
	defer pecb.mu.RUnlock()

	for _, cb := range pecb.breakers {
		cb.Reset()
	}
}

func (pecb *perEndpointCircuitBreaker) getOrCreate(endpoint string) *circuitBreaker {
	pecb.mu.RLock()
	cb, exists := pecb.breakers[endpoint]
	pecb.mu.RUnlock()

	if exists {
		return cb
	}

	pecb.mu.Lock()
	defer pecb.mu.Unlock()

	if cb, exists := pecb.breakers[endpoint]; exists {
		return cb
	}

	cb = newCircuitBreaker(endpoint, pecb.config, pecb.onStateChange)
	pecb.breakers[endpoint] = cb
	return cb
}

type noopCircuitBreaker struct{}

func (noopCircuitBreaker) Execute(fn func() error) error { return fn() }
func (noopCircuitBreaker) State() CircuitState           { return CircuitClosed }
func (noopCircuitBreaker) Reset()                        {}
