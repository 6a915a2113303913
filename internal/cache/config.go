package cache

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds cache configuration
type Config struct {
	// Redis connection settings
	Host     string
	Port     int
	Password string
	DB       int

	// Connection pool settings
	MaxRetries      int
	MinRetryBackoff time.Duration
	MaxRetryBackoff time.Duration
	DialTimeout     time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	PoolSize        int
	MinIdleConns    int
	MaxIdleTime     time.Duration

	// BlockTTL applies to immutable data: blocks, transactions, programs.
	BlockTTL time.Duration
	// LatestTTL applies to the chain tip, which moves every few seconds.
	LatestTTL time.Duration

	// ServiceName tags the DataDog redis spans.
	ServiceName string
}

// NewConfigFromEnv creates a new Config from environment variables
func NewConfigFromEnv() (*Config, error) {
	port, err := strconv.Atoi(getEnvOrDefault("REDIS_PORT", "6379"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
	}

	db, err := strconv.Atoi(getEnvOrDefault("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	poolSize, err := strconv.Atoi(getEnvOrDefault("REDIS_POOL_SIZE", "50"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_POOL_SIZE: %w", err)
	}

	minIdleConns, err := strconv.Atoi(getEnvOrDefault("REDIS_MIN_IDLE_CONNS", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_MIN_IDLE_CONNS: %w", err)
	}

	blockTTL, err := parseDuration(getEnvOrDefault("CACHE_BLOCK_TTL", "24h"))
	if err != nil {
		return nil, fmt.Errorf("invalid CACHE_BLOCK_TTL: %w", err)
	}

	latestTTL, err := parseDuration(getEnvOrDefault("CACHE_LATEST_TTL", "5s"))
	if err != nil {
		return nil, fmt.Errorf("invalid CACHE_LATEST_TTL: %w", err)
	}

	cfg := &Config{
		Host:            getEnvOrDefault("REDIS_HOST", "localhost"),
		Port:            port,
		Password:        os.Getenv("REDIS_PASSWORD"),
		DB:              db,
		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		PoolSize:        poolSize,
		MinIdleConns:    minIdleConns,
		MaxIdleTime:     5 * time.Minute,
		BlockTTL:        blockTTL,
		LatestTTL:       latestTTL,
		ServiceName:     getEnvOrDefault("REDIS_SERVICE_NAME", "aleo-beacon-redis"),
	}
	return cfg, cfg.Validate()
}

// Validate checks the TTLs
func (c *Config) Validate() error {
	if c.BlockTTL <= 0 {
		return fmt.Errorf("CACHE_BLOCK_TTL must be positive")
	}
	if c.LatestTTL <= 0 {
		return fmt.Errorf("CACHE_LATEST_TTL must be positive")
	}
	if c.LatestTTL > c.BlockTTL {
		return fmt.Errorf("CACHE_LATEST_TTL (%s) must not exceed CACHE_BLOCK_TTL (%s)", c.LatestTTL, c.BlockTTL)
	}
	return nil
}

// Address returns the Redis server address
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration accepts "1h30m" style strings or plain seconds.
func parseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	if seconds, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	return 0, fmt.Errorf("invalid duration format: %s", s)
}
