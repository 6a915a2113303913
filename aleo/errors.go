package aleo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Sentinel errors. Typed errors returned by the client match them with errors.Is.
//
//	_, err := client.GetBlock(ctx, 12)
//	if errors.Is(err, aleo.ErrNotFound) {
//	    // block not produced yet
//	}
var (
	// ErrInvalidBaseURL is matched by the ValidationError returned from NewClient.
	ErrInvalidBaseURL = errors.New("invalid base url")

	// ErrInvalidArgument is matched by validation failures on endpoint arguments.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound is returned when the Beacon API has no such resource.
	ErrNotFound = errors.New("resource not found")

	// ErrTimeout is returned when a request times out.
	ErrTimeout = errors.New("request timeout")

	// ErrServerError is returned for 5xx responses.
	ErrServerError = errors.New("server error")

	// ErrInvalidResponse is returned when a response body cannot be decoded.
	ErrInvalidResponse = errors.New("invalid response from server")

	// ErrContextCanceled is returned when the context ends before the request completes.
	ErrContextCanceled = errors.New("context canceled")

	// ErrCircuitOpen is returned when the circuit breaker rejects a request.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrRateLimited is returned for 429 responses.
	ErrRateLimited = errors.New("rate limited")

	// ErrRetryBudgetExhausted is returned when the retry budget runs out.
	ErrRetryBudgetExhausted = errors.New("retry budget exhausted")
)

// ErrorType classifies an Error for handling and retry decisions.
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	ErrorTypeNetwork
	ErrorTypeTimeout
	ErrorTypeServer
	ErrorTypeClient
	ErrorTypeNotFound
	ErrorTypeCircuitOpen
	ErrorTypeRateLimit
	ErrorTypeValidation
	ErrorTypeRetryBudget
	ErrorTypeInvalidResponse
	ErrorTypeCanceled
)

// String returns the string representation of the error type
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeNetwork:
		return "network"
	case ErrorTypeTimeout:
		return "timeout"
	case ErrorTypeServer:
		return "server"
	case ErrorTypeClient:
		return "client"
	case ErrorTypeNotFound:
		return "not_found"
	case ErrorTypeCircuitOpen:
		return "circuit_open"
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeValidation:
		return "validation"
	case ErrorTypeRetryBudget:
		return "retry_budget"
	case ErrorTypeInvalidResponse:
		return "invalid_response"
	case ErrorTypeCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Error is the typed error returned by every request method.
//
//	var aerr *aleo.Error
//	if errors.As(err, &aerr) && aerr.Context != nil {
//	    log.Printf("%s %s failed after %d retries", aerr.Context.Method, aerr.Context.URL, aerr.Context.RetryCount)
//	}
type Error struct {
	Type      ErrorType              `json:"type"`
	Code      string                 `json:"code,omitempty"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Retryable bool                   `json:"retryable"`
	Context   *ErrorContext          `json:"context,omitempty"`
	wrapped   error
}

// ErrorContext describes the request that failed.
type ErrorContext struct {
	URL        string            `json:"url,omitempty"`
	Method     string            `json:"method,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Duration   time.Duration     `json:"duration,omitempty"`
	RetryCount int               `json:"retry_count,omitempty"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Context != nil && e.Context.URL != "" {
		return fmt.Sprintf("%s error: %s (url: %s, retries: %d)", e.Type, e.Message, e.Context.URL, e.Context.RetryCount)
	}
	return fmt.Sprintf("%s error: %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.wrapped
}

// Is implements errors.Is
func (e *Error) Is(target error) bool {
	switch e.Type {
	case ErrorTypeTimeout:
		return target == ErrTimeout
	case ErrorTypeServer:
		return target == ErrServerError
	case ErrorTypeNotFound:
		return target == ErrNotFound
	case ErrorTypeCircuitOpen:
		return target == ErrCircuitOpen
	case ErrorTypeRateLimit:
		return target == ErrRateLimited
	case ErrorTypeRetryBudget:
		return target == ErrRetryBudgetExhausted
	case ErrorTypeInvalidResponse:
		return target == ErrInvalidResponse
	case ErrorTypeCanceled:
		return target == ErrContextCanceled
	}
	return false
}

// IsRetryable returns true if the error is retryable
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// WithContext adds error context
func (e *Error) WithContext(ctx *ErrorContext) *Error {
	e.Context = ctx
	return e
}

// WithDetail adds a detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewError creates a new typed error
func NewError(errType ErrorType, message string, wrapped error) *Error {
	return &Error{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Retryable: isRetryableType(errType),
		wrapped:   wrapped,
	}
}

// NewErrorWithCode creates a new typed error with a code
func NewErrorWithCode(errType ErrorType, code, message string, wrapped error) *Error {
	err := NewError(errType, message, wrapped)
	err.Code = code
	return err
}

func isRetryableType(errType ErrorType) bool {
	switch errType {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeServer, ErrorTypeRateLimit:
		return true
	default:
		return false
	}
}

// ValidationError reports an argument rejected before any request is made.
// The base URL check in NewClient is the main source of these.
type ValidationError struct {
	Field   string
	Value   string
	Message string
	err     error
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return e.Message
}

// Unwrap returns the matching sentinel (ErrInvalidBaseURL or ErrInvalidArgument).
func (e *ValidationError) Unwrap() error {
	return e.err
}

// ToError converts ValidationError to the typed Error
func (e *ValidationError) ToError() *Error {
	err := NewError(ErrorTypeValidation, e.Message, e)
	err.WithDetail("field", e.Field)
	return err
}

func newBaseURLError(baseURL string) *ValidationError {
	return &ValidationError{
		Field: "base_url",
		Value: baseURL,
		Message: fmt.Sprintf(
			"specified url %s invalid, the base url must start with https:// (or http:// if doing local development)",
			baseURL,
		),
		err: ErrInvalidBaseURL,
	}
}

func newArgumentError(field, value, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message, err: ErrInvalidArgument}
}

// APIError is an error response from the Beacon API. snarkOS answers with
// either a plain text body or a JSON object carrying an "error" field.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"error"`
	Code       string `json:"code,omitempty"`
	Details    string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("API error (status %d): %s - %s", e.StatusCode, e.Message, e.Details)
	}
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// IsNotFound returns true if the error is a not found error
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound || e.Code == "NOT_FOUND"
}

// IsServerError returns true if the error is a server error
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500
}

// IsClientError returns true if the error is a client error
func (e *APIError) IsClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// IsRetryable returns true if the error is retryable
func (e *APIError) IsRetryable() bool {
	if e.IsServerError() {
		return true
	}
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusRequestTimeout:
		return true
	}
	return false
}

// ToError converts APIError to the typed Error
func (e *APIError) ToError() *Error {
	errType := ErrorTypeClient
	switch {
	case e.IsNotFound():
		errType = ErrorTypeNotFound
	case e.StatusCode == http.StatusTooManyRequests:
		errType = ErrorTypeRateLimit
	case e.StatusCode == http.StatusRequestTimeout || e.StatusCode == http.StatusGatewayTimeout:
		errType = ErrorTypeTimeout
	case e.IsServerError():
		errType = ErrorTypeServer
	}

	err := NewErrorWithCode(errType, e.Code, e.Message, e)
	if e.Details != "" {
		err.WithDetail("api_details", e.Details)
	}
	err.WithDetail("status_code", e.StatusCode)
	return err
}

// parseAPIError builds an APIError from a non-2xx response body.
func parseAPIError(statusCode int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: statusCode}

	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		apiErr.Message = fmt.Sprintf("HTTP %d error", statusCode)
		return apiErr
	}

	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = trimmed
	}
	apiErr.StatusCode = statusCode
	return apiErr
}

// NetworkError is a transport level failure such as a refused connection.
type NetworkError struct {
	Op  string
	Err error
}

// Error implements the error interface
func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ToError converts NetworkError to the typed Error
func (e *NetworkError) ToError() *Error {
	err := NewError(ErrorTypeNetwork, e.Error(), e)
	err.WithDetail("operation", e.Op)
	return err
}

// TimeoutError is an attempt that exceeded Config.Timeout.
type TimeoutError struct {
	Op string
}

// Error implements the error interface
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout during %s", e.Op)
}

// ToError converts TimeoutError to the typed Error
func (e *TimeoutError) ToError() *Error {
	err := NewError(ErrorTypeTimeout, e.Error(), e)
	err.WithDetail("operation", e.Op)
	return err
}

// IsNotFound reports whether err means the requested resource does not exist.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsNotFound()
	}
	return false
}

// IsRetryable reports whether retrying the request may succeed.
// Validation, client and circuit-open errors are not retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var typed *Error
	if errors.As(err, &typed) {
		return typed.IsRetryable()
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRetryable()
	}

	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}

	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return true
	}

	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrServerError) || errors.Is(err, ErrRateLimited)
}

// WrapError wraps err as a typed Error, keeping an existing typed error's type.
func WrapError(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	var typed *Error
	if errors.As(err, &typed) {
		typed.Message = message
		return typed
	}

	return NewError(errType, message, err)
}

// contextError maps a finished context to a typed error.
func contextError(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(ErrorTypeTimeout, "context deadline exceeded", err)
	}
	return NewError(ErrorTypeCanceled, "context canceled", err)
}
