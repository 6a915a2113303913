package database

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Config holds database configuration
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	// ServiceName tags the DataDog postgres spans
	ServiceName string
}

// NewConfigFromEnv creates a new Config from environment variables
func NewConfigFromEnv() (*Config, error) {
	port, err := strconv.Atoi(getEnvOrDefault("POSTGRES_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid POSTGRES_PORT: %w", err)
	}

	maxConns, err := strconv.ParseInt(getEnvOrDefault("POSTGRES_MAX_CONNS", "25"), 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid POSTGRES_MAX_CONNS: %w", err)
	}

	minConns, err := strconv.ParseInt(getEnvOrDefault("POSTGRES_MIN_CONNS", "5"), 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid POSTGRES_MIN_CONNS: %w", err)
	}

	cfg := &Config{
		Host:            getEnvOrDefault("POSTGRES_HOST", "localhost"),
		Port:            port,
		User:            getEnvOrDefault("POSTGRES_USER", "aleo"),
		Password:        getEnvOrDefault("POSTGRES_PASSWORD", "aleopass"),
		Database:        getEnvOrDefault("POSTGRES_DB", "aleo_beacon"),
		SSLMode:         getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
		MaxConns:        int32(maxConns),
		MinConns:        int32(minConns),
		MaxConnLifetime: 1 * time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		ServiceName:     getEnvOrDefault("POSTGRES_SERVICE_NAME", "aleo-beacon-postgres"),
	}
	return cfg, cfg.Validate()
}

// Validate checks pool bounds
func (c *Config) Validate() error {
	if c.MaxConns < 1 {
		return fmt.Errorf("POSTGRES_MAX_CONNS must be at least 1")
	}
	if c.MinConns < 0 || c.MinConns > c.MaxConns {
		return fmt.Errorf("POSTGRES_MIN_CONNS must be between 0 and POSTGRES_MAX_CONNS (%d)", c.MaxConns)
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection URL. Credentials are escaped.
func (c *Config) ConnectionString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
