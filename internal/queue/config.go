package queue

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds queue configuration
type Config struct {
	// NATS connection settings
	URL      string
	Name     string
	User     string
	Password string

	// JetStream settings
	StreamName       string
	StreamMaxAge     time.Duration
	StreamMaxBytes   int64
	StreamMaxMsgs    int64
	StreamMaxMsgSize int32
	StreamReplicas   int
	// MemoryStorage keeps streams in memory; meant for tests
	MemoryStorage    bool
	DuplicatesWindow time.Duration

	// Consumer settings
	ConsumerName          string
	ConsumerMaxDeliver    int
	ConsumerAckWait       time.Duration
	ConsumerMaxAckPending int

	// DLQ settings
	DLQStreamName    string
	DLQMaxRetries    int
	DLQRetryInterval time.Duration

	// Fetch settings for pull subscriptions
	FetchBatch   int
	FetchTimeout time.Duration
}

// NewConfigFromEnv creates a new Config from environment variables
func NewConfigFromEnv() (*Config, error) {
	streamMaxBytes, err := strconv.ParseInt(getEnvOrDefault("NATS_STREAM_MAX_BYTES", "1073741824"), 10, 64) // 1GB
	if err != nil {
		return nil, fmt.Errorf("invalid NATS_STREAM_MAX_BYTES: %w", err)
	}

	streamMaxMsgs, err := strconv.ParseInt(getEnvOrDefault("NATS_STREAM_MAX_MSGS", "1000000"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid NATS_STREAM_MAX_MSGS: %w", err)
	}

	// Aleo blocks with deployments are large; notifications stay small
	streamMaxMsgSize, err := strconv.ParseInt(getEnvOrDefault("NATS_STREAM_MAX_MSG_SIZE", "1048576"), 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid NATS_STREAM_MAX_MSG_SIZE: %w", err)
	}

	streamReplicas, err := strconv.Atoi(getEnvOrDefault("NATS_STREAM_REPLICAS", "1"))
	if err != nil {
		return nil, fmt.Errorf("invalid NATS_STREAM_REPLICAS: %w", err)
	}

	consumerMaxDeliver, err := strconv.Atoi(getEnvOrDefault("NATS_CONSUMER_MAX_DELIVER", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid NATS_CONSUMER_MAX_DELIVER: %w", err)
	}

	consumerMaxAckPending, err := strconv.Atoi(getEnvOrDefault("NATS_CONSUMER_MAX_ACK_PENDING", "1000"))
	if err != nil {
		return nil, fmt.Errorf("invalid NATS_CONSUMER_MAX_ACK_PENDING: %w", err)
	}

	dlqMaxRetries, err := strconv.Atoi(getEnvOrDefault("DLQ_MAX_RETRIES", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid DLQ_MAX_RETRIES: %w", err)
	}

	dlqRetryInterval, err := time.ParseDuration(getEnvOrDefault("DLQ_RETRY_INTERVAL", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid DLQ_RETRY_INTERVAL: %w", err)
	}

	fetchBatch, err := strconv.Atoi(getEnvOrDefault("NATS_FETCH_BATCH", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid NATS_FETCH_BATCH: %w", err)
	}

	fetchTimeout, err := time.ParseDuration(getEnvOrDefault("NATS_FETCH_TIMEOUT", "1s"))
	if err != nil {
		return nil, fmt.Errorf("invalid NATS_FETCH_TIMEOUT: %w", err)
	}

	cfg := &Config{
		URL:                   getEnvOrDefault("NATS_URL", "nats://localhost:4222"),
		Name:                  getEnvOrDefault("NATS_NAME", "aleo-beacon"),
		User:                  os.Getenv("NATS_USER"),
		Password:              os.Getenv("NATS_PASSWORD"),
		StreamName:            getEnvOrDefault("NATS_STREAM_NAME", "ALEO_BLOCKS"),
		StreamMaxAge:          24 * time.Hour,
		StreamMaxBytes:        streamMaxBytes,
		StreamMaxMsgs:         streamMaxMsgs,
		StreamMaxMsgSize:      int32(streamMaxMsgSize),
		StreamReplicas:        streamReplicas,
		DuplicatesWindow:      2 * time.Minute,
		ConsumerName:          getEnvOrDefault("NATS_CONSUMER_NAME", "aleo-indexer"),
		ConsumerMaxDeliver:    consumerMaxDeliver,
		ConsumerAckWait:       30 * time.Second,
		ConsumerMaxAckPending: consumerMaxAckPending,
		DLQStreamName:         getEnvOrDefault("DLQ_STREAM_NAME", "ALEO_BLOCKS_DLQ"),
		DLQMaxRetries:         dlqMaxRetries,
		DLQRetryInterval:      dlqRetryInterval,
		FetchBatch:            fetchBatch,
		FetchTimeout:          fetchTimeout,
	}
	return cfg, cfg.Validate()
}

// Validate checks the settings a running consumer depends on
func (c *Config) Validate() error {
	if c.StreamName == "" || c.DLQStreamName == "" {
		return fmt.Errorf("stream names must not be empty")
	}
	if c.StreamName == c.DLQStreamName {
		return fmt.Errorf("DLQ stream must differ from the main stream (%s)", c.StreamName)
	}
	if c.ConsumerMaxDeliver < 1 {
		return fmt.Errorf("NATS_CONSUMER_MAX_DELIVER must be at least 1")
	}
	if c.FetchBatch < 1 {
		return fmt.Errorf("NATS_FETCH_BATCH must be at least 1")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
