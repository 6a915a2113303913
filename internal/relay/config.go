package relay

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/birbparty/aleo-beacon/aleo"
)

// Config holds the relay configuration
type Config struct {
	// Server configuration
	Host string
	Port int

	// Network served and the node behind it
	Network   string
	BeaconURL string

	// Async writer configuration
	WriteQueueSize    int
	WriteWorkers      int
	WriteMaxRetries   int
	WriteRetryBackoff time.Duration

	// Backfill publishes a fetch request for blocks served from upstream
	Backfill bool

	// API configuration
	RateLimit       int
	CORSOrigins     string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	ServiceName     string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	port, err := strconv.Atoi(getEnvOrDefault("RELAY_PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid RELAY_PORT: %w", err)
	}

	writeQueueSize, err := strconv.Atoi(getEnvOrDefault("RELAY_WRITE_QUEUE_SIZE", "10000"))
	if err != nil {
		return nil, fmt.Errorf("invalid RELAY_WRITE_QUEUE_SIZE: %w", err)
	}

	writeWorkers, err := strconv.Atoi(getEnvOrDefault("RELAY_WRITE_WORKERS", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid RELAY_WRITE_WORKERS: %w", err)
	}

	writeMaxRetries, err := strconv.Atoi(getEnvOrDefault("RELAY_WRITE_MAX_RETRIES", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid RELAY_WRITE_MAX_RETRIES: %w", err)
	}

	writeRetryBackoff, err := time.ParseDuration(getEnvOrDefault("RELAY_WRITE_RETRY_BACKOFF", "1s"))
	if err != nil {
		return nil, fmt.Errorf("invalid RELAY_WRITE_RETRY_BACKOFF: %w", err)
	}

	rateLimit, err := strconv.Atoi(getEnvOrDefault("RELAY_RATE_LIMIT", "600"))
	if err != nil {
		return nil, fmt.Errorf("invalid RELAY_RATE_LIMIT: %w", err)
	}

	requestTimeout, err := time.ParseDuration(getEnvOrDefault("RELAY_REQUEST_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid RELAY_REQUEST_TIMEOUT: %w", err)
	}

	shutdownTimeout, err := time.ParseDuration(getEnvOrDefault("RELAY_SHUTDOWN_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid RELAY_SHUTDOWN_TIMEOUT: %w", err)
	}

	cfg := &Config{
		Host:              getEnvOrDefault("RELAY_HOST", "0.0.0.0"),
		Port:              port,
		Network:           getEnvOrDefault("ALEO_NETWORK", aleo.Testnet3NetworkID),
		BeaconURL:         getEnvOrDefault("ALEO_BEACON_URL", aleo.Testnet3BaseURL),
		WriteQueueSize:    writeQueueSize,
		WriteWorkers:      writeWorkers,
		WriteMaxRetries:   writeMaxRetries,
		WriteRetryBackoff: writeRetryBackoff,
		Backfill:          getEnvOrDefault("RELAY_BACKFILL", "false") == "true",
		RateLimit:         rateLimit,
		CORSOrigins:       getEnvOrDefault("RELAY_CORS_ORIGINS", "*"),
		RequestTimeout:    requestTimeout,
		ShutdownTimeout:   shutdownTimeout,
		ServiceName:       getEnvOrDefault("RELAY_SERVICE_NAME", "aleo-relay"),
	}
	return cfg, cfg.Validate()
}

// Validate checks the values the server cannot start without
func (c *Config) Validate() error {
	if c.Network == "" {
		return fmt.Errorf("ALEO_NETWORK is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("RELAY_PORT out of range: %d", c.Port)
	}
	if c.WriteWorkers < 1 || c.WriteQueueSize < 1 {
		return fmt.Errorf("async writer needs at least one worker and a queue")
	}
	return nil
}

// Addr is the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
