package storage

import (
	"fmt"
	"os"
	"strings"
)

// Config contains configuration for the block archive bucket
type Config struct {
	Enabled        bool
	Endpoint       string
	Region         string
	Bucket         string
	AccessKey      string
	SecretKey      string
	PathPrefix     string
	ForcePathStyle bool
	// ServiceName tags the DataDog S3 spans
	ServiceName string
}

// NewConfigFromEnv reads ARCHIVE_* variables. Archiving is off unless
// ARCHIVE_ENABLED is true.
func NewConfigFromEnv() *Config {
	prefix := getEnvOrDefault("ARCHIVE_PREFIX", "aleo/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return &Config{
		Enabled:        os.Getenv("ARCHIVE_ENABLED") == "true",
		Endpoint:       os.Getenv("ARCHIVE_ENDPOINT"),
		Region:         getEnvOrDefault("ARCHIVE_REGION", "us-east-1"),
		Bucket:         os.Getenv("ARCHIVE_BUCKET"),
		AccessKey:      os.Getenv("ARCHIVE_ACCESS_KEY"),
		SecretKey:      os.Getenv("ARCHIVE_SECRET_KEY"),
		PathPrefix:     prefix,
		ForcePathStyle: os.Getenv("ARCHIVE_FORCE_PATH_STYLE") == "true",
		ServiceName:    getEnvOrDefault("ARCHIVE_SERVICE_NAME", "aleo-beacon-archive"),
	}
}

// Validate checks the fields needed to reach the bucket
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("ARCHIVE_BUCKET is required")
	}
	if c.Region == "" {
		return fmt.Errorf("ARCHIVE_REGION is required")
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		return fmt.Errorf("archive credentials are required")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
