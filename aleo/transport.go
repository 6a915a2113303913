package aleo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// TransportMode identifies the HTTP transport compiled into the binary.
type TransportMode int

const (
	// ModeBlocking is the default build: every request runs on the calling goroutine over net/http.
	ModeBlocking TransportMode = iota
	// ModeAsync is selected with -tags async: requests are dispatched to fasthttp
	// on their own goroutine and endpoint calls gain ...Async variants returning a Future.
	ModeAsync
)

// String returns the string representation of the transport mode
func (m TransportMode) String() string {
	switch m {
	case ModeBlocking:
		return "blocking"
	case ModeAsync:
		return "async"
	default:
		return "unknown"
	}
}

// Mode reports the transport selected at build time.
func Mode() TransportMode {
	return transportMode
}

// rawResponse is what a roundTripper hands back: the body is fully read and
// owned by the caller.
type rawResponse struct {
	statusCode int
	requestID  string
	body       []byte
}

// roundTripper performs a single HTTP attempt. Exactly one implementation is
// compiled in: transport_blocking.go or transport_async.go. Failures are
// returned as typed *Error values.
type roundTripper interface {
	roundTrip(ctx context.Context, method, rawURL string, headers map[string]string, body []byte) (*rawResponse, error)
}

// request describes one logical call. endpoint is the route pattern and is
// used for circuit breaking and observer labels.
type request struct {
	method   string
	endpoint string
	url      string
	body     []byte
}

// httpTransport wraps the build's roundTripper with retries, circuit
// breaking, response decoding and observer notifications.
type httpTransport struct {
	rt                        roundTripper
	headers                   map[string]string
	circuitBreaker            CircuitBreaker
	perEndpointCircuitBreaker *perEndpointCircuitBreaker
	retryExecutor             *retryExecutor
	observer                  Observer
}

// newHTTPTransport allocates the transport for a validated config. It does
// no I/O.
func newHTTPTransport(config *Config) *httpTransport {
	headers := map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
		"User-Agent":   DefaultUserAgent,
	}
	for k, v := range config.Headers {
		headers[k] = v
	}

	onStateChange := func(endpoint string, from, to CircuitState) {
		if endpoint == "" {
			endpoint = "default"
		}
		config.Observer.OnCircuitBreakerStateChange(endpoint, from, to)
	}

	var circuitBreaker CircuitBreaker = noopCircuitBreaker{}
	var perEndpointCB *perEndpointCircuitBreaker
	if config.CircuitBreakerConfig != nil {
		if config.EnablePerEndpointCircuitBreaker {
			perEndpointCB = newPerEndpointCircuitBreaker(*config.CircuitBreakerConfig, onStateChange)
		} else {
			circuitBreaker = newCircuitBreaker("", *config.CircuitBreakerConfig, onStateChange)
		}
	}

	retryStrategy := config.RetryStrategy
	if retryStrategy == nil {
		retryStrategy = &ExponentialBackoffStrategy{
			InitialInterval: config.RetryConfig.InitialInterval,
			MaxInterval:     config.RetryConfig.MaxInterval,
			Multiplier:      config.RetryConfig.Multiplier,
			Jitter:          0.3,
			Budget: RetryBudget{
				MaxAttempts: config.RetryConfig.MaxRetries + 1,
			},
		}
	}

	return &httpTransport{
		rt:                        newRoundTripper(config),
		headers:                   headers,
		circuitBreaker:            circuitBreaker,
		perEndpointCircuitBreaker: perEndpointCB,
		retryExecutor:             newRetryExecutor(retryStrategy),
		observer:                  config.Observer,
	}
}

// do runs r through the breaker and retry loop and decodes a 2xx body into result.
func (t *httpTransport) do(ctx context.Context, r *request, result interface{}) error {
	t.observer.OnRequestStart(ctx, r.method, r.endpoint)
	start := time.Now()

	var retries int
	exec := func() error {
		var err error
		retries, err = t.retryExecutor.Execute(ctx,
			func() error { return t.attempt(ctx, r, result) },
			func(attempt int, delay time.Duration, err error) {
				t.observer.OnRetryAttempt(ctx, r.method, r.endpoint, attempt, delay, err)
			},
		)
		return err
	}

	var err error
	if t.perEndpointCircuitBreaker != nil {
		err = t.perEndpointCircuitBreaker.Execute(r.endpoint, exec)
	} else {
		err = t.circuitBreaker.Execute(exec)
	}

	duration := time.Since(start)
	var typed *Error
	if errors.As(err, &typed) {
		if typed.Context == nil {
			typed.Context = &ErrorContext{URL: r.url, Method: r.method}
		}
		typed.Context.RetryCount = retries
		typed.Context.Duration = duration
	}

	t.observer.OnRequestEnd(ctx, r.method, r.endpoint, duration, err)
	return err
}

// attempt performs a single try.
func (t *httpTransport) attempt(ctx context.Context, r *request, result interface{}) error {
	if err := ctx.Err(); err != nil {
		return contextError(err)
	}

	resp, err := t.rt.roundTrip(ctx, r.method, r.url, t.headers, r.body)
	if err != nil {
		return err
	}

	if resp.statusCode >= 200 && resp.statusCode < 300 {
		if result != nil && len(resp.body) > 0 {
			if err := json.Unmarshal(resp.body, result); err != nil {
				return NewError(ErrorTypeInvalidResponse, fmt.Sprintf("failed to decode %s response", r.endpoint), err).
					WithContext(&ErrorContext{URL: r.url, Method: r.method})
			}
		}
		return nil
	}

	typed := parseAPIError(resp.statusCode, resp.body).ToError()
	typed.WithContext(&ErrorContext{URL: r.url, Method: r.method})
	typed.RequestID = resp.requestID
	return typed
}

// buildPath substitutes args, in order, for the {name} placeholders of
// pattern. Every argument is escaped for use as a single path segment; spaces
// become %20 rather than +.
//
//	buildPath("block/{height}/transactions", "12")  // "block/12/transactions"
func buildPath(pattern string, args ...string) string {
	var b strings.Builder
	rest := pattern
	for _, arg := range args {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			break
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			break
		}
		b.WriteString(rest[:open])
		escaped := url.QueryEscape(arg)
		b.WriteString(strings.ReplaceAll(escaped, "+", "%20"))
		rest = rest[open+end+1:]
	}
	b.WriteString(rest)
	return b.String()
}

// transportError classifies a failed round trip.
func transportError(ctx context.Context, op string, err error, timedOut bool) *Error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return contextError(ctxErr)
	}
	if timedOut {
		return (&TimeoutError{Op: op}).ToError()
	}
	return (&NetworkError{Op: op, Err: err}).ToError()
}
