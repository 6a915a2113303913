// Package cache stores Beacon API results in Redis, keyed per network.
package cache

import (
	"context"
	"errors"
	"time"
)

// Cache is a byte-oriented key/value store.
type Cache interface {
	// Get returns ErrKeyNotFound when key is absent
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value; a zero ttl uses the store default
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	Delete(ctx context.Context, key string) error

	Exists(ctx context.Context, key string) (bool, error)

	// GetMultiple returns only the keys that were found
	GetMultiple(ctx context.Context, keys []string) (map[string][]byte, error)

	SetMultiple(ctx context.Context, items map[string][]byte, ttl time.Duration) error

	DeleteMultiple(ctx context.Context, keys []string) error

	Ping(ctx context.Context) error

	Close() error
}

// Common errors
var (
	ErrKeyNotFound = NewCacheError("key not found", false)
	ErrCacheClosed = NewCacheError("cache is closed", false)
)

// CacheError represents a cache-specific error
type CacheError struct {
	Message    string
	Retryable  bool
	Underlying error
}

// NewCacheError creates a new cache error
func NewCacheError(message string, retryable bool) *CacheError {
	return &CacheError{
		Message:   message,
		Retryable: retryable,
	}
}

// Error implements the error interface
func (e *CacheError) Error() string {
	if e.Underlying != nil {
		return e.Message + ": " + e.Underlying.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *CacheError) Unwrap() error {
	return e.Underlying
}

// Is matches on the message so wrapped sentinels compare equal.
func (e *CacheError) Is(target error) bool {
	t, ok := target.(*CacheError)
	return ok && t.Message == e.Message
}

// WithError returns a copy of e wrapping err
func (e *CacheError) WithError(err error) *CacheError {
	cp := *e
	cp.Underlying = err
	return &cp
}

// IsRetryable returns whether the error is retryable
func (e *CacheError) IsRetryable() bool {
	return e.Retryable
}

// IsNotFound reports whether err is a cache miss.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}
