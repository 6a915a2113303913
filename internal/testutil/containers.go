// Package testutil starts the backing services for integration tests.
package testutil

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/birbparty/aleo-beacon/internal/cache"
	"github.com/birbparty/aleo-beacon/internal/database"
)

const (
	postgresUser     = "testuser"
	postgresPassword = "testpass"
	postgresDB       = "testdb"
)

// Endpoint is a started container and where to reach it
type Endpoint struct {
	Container testcontainers.Container
	Host      string
	Port      int
}

// TestContainers holds all test containers
type TestContainers struct {
	Postgres *Endpoint
	Redis    *Endpoint
	NATS     *Endpoint
}

// StartPostgres starts PostgreSQL
func StartPostgres(ctx context.Context) (*Endpoint, error) {
	c, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		postgres.WithDatabase(postgresDB),
		postgres.WithUsername(postgresUser),
		postgres.WithPassword(postgresPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}
	return endpoint(ctx, c, "5432/tcp", "postgres")
}

// StartRedis starts Redis
func StartRedis(ctx context.Context) (*Endpoint, error) {
	c, err := redis.RunContainer(ctx,
		testcontainers.WithImage("redis:7-alpine"),
		redis.WithLogLevel(redis.LogLevelDebug),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start redis container: %w", err)
	}
	return endpoint(ctx, c, "6379/tcp", "redis")
}

// StartNATS starts NATS with JetStream
func StartNATS(ctx context.Context) (*Endpoint, error) {
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:2.10-alpine",
			Cmd:          []string{"-js"},
			ExposedPorts: []string{"4222/tcp", "8222/tcp"},
			WaitingFor: wait.ForLog("Server is ready").
				WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start nats container: %w", err)
	}
	return endpoint(ctx, c, "4222/tcp", "nats")
}

func endpoint(ctx context.Context, c testcontainers.Container, port nat.Port, name string) (*Endpoint, error) {
	host, err := c.Host(ctx)
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, fmt.Errorf("failed to get %s host: %w", name, err)
	}
	mapped, err := c.MappedPort(ctx, port)
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, fmt.Errorf("failed to get %s port: %w", name, err)
	}
	p, err := strconv.Atoi(mapped.Port())
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, fmt.Errorf("invalid %s port %q: %w", name, mapped.Port(), err)
	}
	return &Endpoint{Container: c, Host: host, Port: p}, nil
}

// StartContainers starts all required containers for testing
func StartContainers(ctx context.Context) (*TestContainers, error) {
	tc := &TestContainers{}
	var err error

	if tc.Postgres, err = StartPostgres(ctx); err != nil {
		return nil, err
	}
	if tc.Redis, err = StartRedis(ctx); err != nil {
		_ = tc.Cleanup(ctx)
		return nil, err
	}
	if tc.NATS, err = StartNATS(ctx); err != nil {
		_ = tc.Cleanup(ctx)
		return nil, err
	}
	return tc, nil
}

// Cleanup terminates all containers
func (tc *TestContainers) Cleanup(ctx context.Context) error {
	var errs []error
	for _, e := range []*Endpoint{tc.Postgres, tc.Redis, tc.NATS} {
		if err := e.Terminate(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("cleanup errors: %v", errs)
	}
	return nil
}

// Terminate stops the container. A nil endpoint is a no-op.
func (e *Endpoint) Terminate(ctx context.Context) error {
	if e == nil || e.Container == nil {
		return nil
	}
	return e.Container.Terminate(ctx)
}

// DatabaseConfig points a database.Config at the postgres endpoint
func (e *Endpoint) DatabaseConfig() *database.Config {
	return &database.Config{
		Host:            e.Host,
		Port:            e.Port,
		User:            postgresUser,
		Password:        postgresPassword,
		Database:        postgresDB,
		SSLMode:         "disable",
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: time.Minute,
		ServiceName:     "aleo-beacon-postgres-test",
	}
}

// CacheConfig points a cache.Config at the redis endpoint
func (e *Endpoint) CacheConfig() *cache.Config {
	return &cache.Config{
		Host:            e.Host,
		Port:            e.Port,
		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		PoolSize:        10,
		MinIdleConns:    1,
		MaxIdleTime:     time.Minute,
		BlockTTL:        time.Hour,
		LatestTTL:       5 * time.Second,
		ServiceName:     "aleo-beacon-redis-test",
	}
}

// URL returns the nats:// URL of the endpoint
func (e *Endpoint) URL() string {
	return fmt.Sprintf("nats://%s:%d", e.Host, e.Port)
}
