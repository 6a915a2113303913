package retention

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/birbparty/aleo-beacon/aleo"
)

// Config contains configuration for the retention service
type Config struct {
	Enabled bool
	Network string

	// KeepBlocks is how many of the newest indexed blocks stay in Postgres
	KeepBlocks uint32
	Interval   time.Duration
	BatchSize  int

	DryRun bool
	// ArchiveBeforeDelete uploads unarchived blocks first and deletes only
	// blocks whose upload succeeded
	ArchiveBeforeDelete bool
}

// LoadConfig loads retention configuration from environment variables
func LoadConfig() (*Config, error) {
	keep, err := strconv.ParseUint(getEnvString("RETENTION_KEEP_BLOCKS", "100000"), 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid RETENTION_KEEP_BLOCKS: %w", err)
	}

	cfg := &Config{
		Enabled:             getEnvBool("RETENTION_ENABLED", false),
		Network:             getEnvString("ALEO_NETWORK", aleo.Testnet3NetworkID),
		KeepBlocks:          uint32(keep),
		Interval:            getEnvDuration("RETENTION_INTERVAL", time.Hour),
		BatchSize:           getEnvInt("RETENTION_BATCH_SIZE", 500),
		DryRun:              getEnvBool("RETENTION_DRY_RUN", false),
		ArchiveBeforeDelete: getEnvBool("RETENTION_ARCHIVE", true),
	}
	return cfg, cfg.Validate()
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.Network == "" {
		return fmt.Errorf("ALEO_NETWORK is required")
	}
	if c.KeepBlocks == 0 {
		return fmt.Errorf("RETENTION_KEEP_BLOCKS must be positive")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("RETENTION_INTERVAL must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("RETENTION_BATCH_SIZE must be positive")
	}
	return nil
}

// getEnvString gets a string value from environment or returns default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean value from environment or returns default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvInt gets an int value from environment or returns default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration value from environment or returns default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
