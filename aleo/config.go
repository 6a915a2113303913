package aleo

import (
	"time"
)

// DefaultUserAgent is sent with every request unless overridden through Headers.
const DefaultUserAgent = "aleo-beacon-go/1.0"

// Config holds the transport settings shared by every request a Client makes.
// The base URL and network id are not part of Config: they are passed to the
// constructors and validated there.
//
//	cfg := aleo.DefaultConfig().
//	    WithTimeout(10 * time.Second).
//	    WithRetries(5).
//	    WithCircuitBreaker(aleo.DefaultCircuitBreakerConfig())
//
//	client, err := aleo.NewClientWithConfig[aleo.Testnet3]("https://vm.aleo.org/api", "testnet3", cfg)
type Config struct {
	// Timeout bounds a single HTTP attempt, including reading the body.
	// Default: 30s
	Timeout time.Duration

	// RetryConfig configures the default exponential backoff.
	RetryConfig RetryConfig

	// TransportConfig configures connection pooling.
	TransportConfig TransportConfig

	// Headers are added to every request.
	Headers map[string]string

	// CircuitBreakerConfig enables the circuit breaker when non-nil.
	CircuitBreakerConfig *CircuitBreakerConfig

	// RetryStrategy overrides the backoff derived from RetryConfig.
	RetryStrategy RetryStrategy

	// Observer receives request lifecycle events. Default: NoopObserver.
	Observer Observer

	// EnablePerEndpointCircuitBreaker keeps one breaker per endpoint path
	// instead of one for the whole client.
	EnablePerEndpointCircuitBreaker bool
}

// RetryConfig holds the parameters of the default exponential backoff.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt. 0 disables retries.
	// Default: 3
	MaxRetries int

	// InitialInterval is the wait before the first retry.
	// Default: 100ms
	InitialInterval time.Duration

	// MaxInterval caps the wait between retries.
	// Default: 5s
	MaxInterval time.Duration

	// Multiplier grows the interval after each retry.
	// Default: 2.0
	Multiplier float64
}

// TransportConfig holds connection pool settings. Both transports honor them.
type TransportConfig struct {
	// MaxIdleConns is the idle pool size across hosts.
	// Default: 100
	MaxIdleConns int

	// MaxConnsPerHost limits dialing, active and idle connections per host.
	// Default: 10
	MaxConnsPerHost int

	// IdleConnTimeout closes idle connections after this long.
	// Default: 90s
	IdleConnTimeout time.Duration
}

// DefaultConfig returns the configuration used by NewClient.
func DefaultConfig() *Config {
	return &Config{
		Timeout: 30 * time.Second,
		RetryConfig: RetryConfig{
			MaxRetries:      3,
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			Multiplier:      2.0,
		},
		TransportConfig: TransportConfig{
			MaxIdleConns:    100,
			MaxConnsPerHost: 10,
			IdleConnTimeout: 90 * time.Second,
		},
		Headers:  make(map[string]string),
		Observer: &NoopObserver{},
	}
}

// WithTimeout sets the per-attempt timeout.
func (c *Config) WithTimeout(timeout time.Duration) *Config {
	c.Timeout = timeout
	return c
}

// WithRetries sets the maximum number of retries. 0 disables retries.
func (c *Config) WithRetries(maxRetries int) *Config {
	c.RetryConfig.MaxRetries = maxRetries
	return c
}

// WithHeader adds a header sent with every request.
//
//	cfg := aleo.DefaultConfig().WithHeader("X-Request-Source", "indexer")
func (c *Config) WithHeader(key, value string) *Config {
	if c.Headers == nil {
		c.Headers = make(map[string]string)
	}
	c.Headers[key] = value
	return c
}

// WithTransport replaces the connection pool settings.
func (c *Config) WithTransport(tc TransportConfig) *Config {
	c.TransportConfig = tc
	return c
}

// WithCircuitBreaker enables the circuit breaker.
func (c *Config) WithCircuitBreaker(config CircuitBreakerConfig) *Config {
	c.CircuitBreakerConfig = &config
	return c
}

// WithRetryStrategy replaces the default exponential backoff.
//
//	cfg := aleo.DefaultConfig().
//	    WithRetryStrategy(aleo.DefaultConstantBackoff())
func (c *Config) WithRetryStrategy(strategy RetryStrategy) *Config {
	c.RetryStrategy = strategy
	return c
}

// WithObserver sets the observer notified of request lifecycle events.
func (c *Config) WithObserver(observer Observer) *Config {
	c.Observer = observer
	return c
}

// WithPerEndpointCircuitBreaker keeps a separate breaker per endpoint.
// It has no effect unless a circuit breaker is configured.
func (c *Config) WithPerEndpointCircuitBreaker() *Config {
	c.EnablePerEndpointCircuitBreaker = true
	return c
}

// Validate fills in defaults for zero or out of range values.
// It is called by NewClientWithConfig; a nil error is always returned today.
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.RetryConfig.MaxRetries < 0 {
		c.RetryConfig.MaxRetries = 0
	}
	if c.RetryConfig.InitialInterval <= 0 {
		c.RetryConfig.InitialInterval = 100 * time.Millisecond
	}
	if c.RetryConfig.MaxInterval <= 0 {
		c.RetryConfig.MaxInterval = 5 * time.Second
	}
	if c.RetryConfig.Multiplier <= 1 {
		c.RetryConfig.Multiplier = 2.0
	}
	if c.TransportConfig.MaxIdleConns <= 0 {
		c.TransportConfig.MaxIdleConns = 100
	}
	if c.TransportConfig.MaxConnsPerHost <= 0 {
		c.TransportConfig.MaxConnsPerHost = 10
	}
	if c.TransportConfig.IdleConnTimeout <= 0 {
		c.TransportConfig.IdleConnTimeout = 90 * time.Second
	}
	if c.Observer == nil {
		c.Observer = &NoopObserver{}
	}
	if c.CircuitBreakerConfig != nil {
		if c.CircuitBreakerConfig.FailureThreshold <= 0 {
			c.CircuitBreakerConfig.FailureThreshold = 5
		}
		if c.CircuitBreakerConfig.SuccessThreshold <= 0 {
			c.CircuitBreakerConfig.SuccessThreshold = 2
		}
		if c.CircuitBreakerConfig.Timeout <= 0 {
			c.CircuitBreakerConfig.Timeout = 30 * time.Second
		}
		if c.CircuitBreakerConfig.HalfOpenRequests <= 0 {
			c.CircuitBreakerConfig.HalfOpenRequests = 3
		}
	}
	return nil
}

// clone returns a copy safe to normalize without touching the caller's value.
func (c *Config) clone() *Config {
	cp := *c
	cp.Headers = make(map[string]string, len(c.Headers))
	for k, v := range c.Headers {
		cp.Headers[k] = v
	}
	if c.CircuitBreakerConfig != nil {
		cb := *c.CircuitBreakerConfig
		cp.CircuitBreakerConfig = &cb
	}
	return &cp
}
