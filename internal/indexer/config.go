package indexer

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/birbparty/aleo-beacon/aleo"
)

// Config holds indexer configuration
type Config struct {
	// Indexer identification
	IndexerID string
	Network   string
	BeaconURL string

	// Polling
	StartHeight      uint32
	PollInterval     time.Duration
	RangeSize        uint32
	MaxRangesPerTick int
	StallTimeout     time.Duration

	// Processing settings
	ProcessingConcurrency int
	ProcessTimeout        time.Duration

	// Monitoring
	MetricsInterval time.Duration
	HealthCheckPort int
}

// NewConfigFromEnv creates a new Config from environment variables
func NewConfigFromEnv() (*Config, error) {
	startHeight, err := strconv.ParseUint(getEnvOrDefault("INDEXER_START_HEIGHT", "0"), 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid INDEXER_START_HEIGHT: %w", err)
	}

	pollInterval, err := time.ParseDuration(getEnvOrDefault("INDEXER_POLL_INTERVAL", "10s"))
	if err != nil {
		return nil, fmt.Errorf("invalid INDEXER_POLL_INTERVAL: %w", err)
	}

	rangeSize, err := strconv.ParseUint(getEnvOrDefault("INDEXER_RANGE_SIZE", strconv.Itoa(aleo.MaxBlockRange)), 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid INDEXER_RANGE_SIZE: %w", err)
	}

	maxRanges, err := strconv.Atoi(getEnvOrDefault("INDEXER_MAX_RANGES_PER_TICK", "20"))
	if err != nil {
		return nil, fmt.Errorf("invalid INDEXER_MAX_RANGES_PER_TICK: %w", err)
	}

	stallTimeout, err := time.ParseDuration(getEnvOrDefault("INDEXER_STALL_TIMEOUT", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid INDEXER_STALL_TIMEOUT: %w", err)
	}

	concurrency, err := strconv.Atoi(getEnvOrDefault("INDEXER_CONCURRENCY", "8"))
	if err != nil {
		return nil, fmt.Errorf("invalid INDEXER_CONCURRENCY: %w", err)
	}

	processTimeout, err := time.ParseDuration(getEnvOrDefault("INDEXER_PROCESS_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid INDEXER_PROCESS_TIMEOUT: %w", err)
	}

	metricsInterval, err := time.ParseDuration(getEnvOrDefault("INDEXER_METRICS_INTERVAL", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid INDEXER_METRICS_INTERVAL: %w", err)
	}

	healthCheckPort, err := strconv.Atoi(getEnvOrDefault("INDEXER_HEALTH_PORT", "8081"))
	if err != nil {
		return nil, fmt.Errorf("invalid INDEXER_HEALTH_PORT: %w", err)
	}

	cfg := &Config{
		IndexerID:             getEnvOrDefault("INDEXER_ID", generateIndexerID()),
		Network:               getEnvOrDefault("ALEO_NETWORK", aleo.Testnet3NetworkID),
		BeaconURL:             getEnvOrDefault("ALEO_BEACON_URL", aleo.Testnet3BaseURL),
		StartHeight:           uint32(startHeight),
		PollInterval:          pollInterval,
		RangeSize:             uint32(rangeSize),
		MaxRangesPerTick:      maxRanges,
		StallTimeout:          stallTimeout,
		ProcessingConcurrency: concurrency,
		ProcessTimeout:        processTimeout,
		MetricsInterval:       metricsInterval,
		HealthCheckPort:       healthCheckPort,
	}
	return cfg, cfg.Validate()
}

// Validate checks ranges stay within what the Beacon API serves
func (c *Config) Validate() error {
	if c.Network == "" {
		return fmt.Errorf("ALEO_NETWORK is required")
	}
	if c.RangeSize == 0 || c.RangeSize > aleo.MaxBlockRange {
		return fmt.Errorf("INDEXER_RANGE_SIZE must be between 1 and %d, got %d", aleo.MaxBlockRange, c.RangeSize)
	}
	if c.MaxRangesPerTick < 1 {
		return fmt.Errorf("INDEXER_MAX_RANGES_PER_TICK must be at least 1")
	}
	if c.ProcessingConcurrency < 1 {
		return fmt.Errorf("INDEXER_CONCURRENCY must be at least 1")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("INDEXER_POLL_INTERVAL must be positive")
	}
	if c.ProcessTimeout <= 0 {
		return fmt.Errorf("INDEXER_PROCESS_TIMEOUT must be positive")
	}
	if c.MetricsInterval <= 0 {
		return fmt.Errorf("INDEXER_METRICS_INTERVAL must be positive")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func generateIndexerID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", hostname, time.Now().Unix())
}
