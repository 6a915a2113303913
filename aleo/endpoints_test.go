package aleo

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/birbparty/aleo-beacon/aleo/aleotest"
)

// fastRetries keeps retrying tests quick: up to three retries 1ms apart.
func fastRetries() *Config {
	return DefaultConfig().WithRetryStrategy(&ConstantBackoffStrategy{
		Interval: time.Millisecond,
		Budget:   RetryBudget{MaxAttempts: 4},
	})
}

func newTestClient(t *testing.T, cfg *Config) (*Client[Testnet3], *aleotest.Server) {
	t.Helper()
	server := aleotest.NewServer("testnet3", 100)
	t.Cleanup(server.Close)

	client, err := NewClientWithConfig[Testnet3](server.BaseURL(), "testnet3", cfg)
	require.NoError(t, err)
	return client, server
}

func TestEndpoints_Paths(t *testing.T) {
	client, server := newTestClient(t, fastRetries())
	ctx := context.Background()

	tests := []struct {
		name      string
		call      func() error
		wantPath  string
		wantQuery string
	}{
		{
			name:     "latest height",
			call:     func() error { _, err := client.LatestHeight(ctx); return err },
			wantPath: "/testnet3/latest/height",
		},
		{
			name:     "latest hash",
			call:     func() error { _, err := client.LatestHash(ctx); return err },
			wantPath: "/testnet3/latest/hash",
		},
		{
			name:     "latest block",
			call:     func() error { _, err := client.LatestBlock(ctx); return err },
			wantPath: "/testnet3/latest/block",
		},
		{
			name:     "block",
			call:     func() error { _, err := client.GetBlock(ctx, 42); return err },
			wantPath: "/testnet3/block/42",
		},
		{
			name:      "blocks",
			call:      func() error { _, err := client.GetBlocks(ctx, 10, 20); return err },
			wantPath:  "/testnet3/blocks",
			wantQuery: "start=10&end=20",
		},
		{
			name:     "transaction",
			call:     func() error { _, err := client.GetTransaction(ctx, aleotest.TransactionID(5)); return err },
			wantPath: "/testnet3/transaction/" + aleotest.TransactionID(5),
		},
		{
			name:     "block transactions",
			call:     func() error { _, err := client.GetTransactions(ctx, 7); return err },
			wantPath: "/testnet3/block/7/transactions",
		},
		{
			name:     "memory pool",
			call:     func() error { _, err := client.GetMemoryPoolTransactions(ctx); return err },
			wantPath: "/testnet3/memoryPool/transactions",
		},
		{
			name:     "program",
			call:     func() error { _, err := client.GetProgram(ctx, "credits.aleo"); return err },
			wantPath: "/testnet3/program/credits.aleo",
		},
		{
			name:     "find block hash",
			call:     func() error { _, err := client.FindBlockHash(ctx, aleotest.TransactionID(9)); return err },
			wantPath: "/testnet3/find/blockHash/" + aleotest.TransactionID(9),
		},
		{
			name:     "find transition id with escaping",
			call:     func() error { _, err := client.FindTransitionID(ctx, "in put/1"); return err },
			wantPath: "/testnet3/find/transitionID/in%20put%2F1",
		},
		{
			name:     "state path",
			call:     func() error { _, err := client.GetStatePath(ctx, "cm1abc"); return err },
			wantPath: "/testnet3/statePath/cm1abc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server.Reset()
			_ = tt.call()

			requests := server.GetRequests()
			require.Len(t, requests, 1)
			assert.Equal(t, http.MethodGet, requests[0].Method)
			assert.Equal(t, tt.wantPath, requests[0].Path)
			assert.Equal(t, tt.wantQuery, requests[0].Query)
		})
	}
}

func TestEndpoints_Decoding(t *testing.T) {
	client, server := newTestClient(t, fastRetries())
	ctx := context.Background()

	t.Run("latest height", func(t *testing.T) {
		height, err := client.LatestHeight(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint32(100), height)
	})

	t.Run("latest hash", func(t *testing.T) {
		hash, err := client.LatestHash(ctx)
		require.NoError(t, err)
		assert.Equal(t, aleotest.BlockHash(100), hash)
	})

	t.Run("block", func(t *testing.T) {
		block, err := client.GetBlock(ctx, 12)
		require.NoError(t, err)
		assert.Equal(t, uint32(12), block.Height())
		assert.Equal(t, aleotest.BlockHash(12), block.BlockHash)
		assert.Equal(t, aleotest.BlockHash(11), block.PreviousHash)
		assert.Equal(t, uint16(3), block.Header.Metadata.Network)
		assert.Equal(t, "340282366920938463463374607431768211455", block.Header.Metadata.CumulativeWeight.String())
		assert.Equal(t, []string{aleotest.TransactionID(12)}, block.TransactionIDs())
		assert.True(t, block.Transactions[0].Transaction.IsExecute())
		assert.NotEmpty(t, block.Authority)
	})

	t.Run("blocks", func(t *testing.T) {
		blocks, err := client.GetBlocks(ctx, 0, 5)
		require.NoError(t, err)
		require.Len(t, blocks, 5)
		for i, b := range blocks {
			assert.Equal(t, uint32(i), b.Height())
		}
	})

	t.Run("blocks past the tip are truncated", func(t *testing.T) {
		blocks, err := client.GetBlocks(ctx, 98, 110)
		require.NoError(t, err)
		assert.Len(t, blocks, 3)
	})

	t.Run("transactions", func(t *testing.T) {
		txs, err := client.GetTransactions(ctx, 3)
		require.NoError(t, err)
		require.Len(t, txs, 1)
		assert.Equal(t, "accepted", txs[0].Status)
		assert.Equal(t, aleotest.TransactionID(3), txs[0].Transaction.ID)
	})

	t.Run("memory pool", func(t *testing.T) {
		server.AddMempoolTransaction("at1pending")
		txs, err := client.GetMemoryPoolTransactions(ctx)
		require.NoError(t, err)
		require.Len(t, txs, 1)
		assert.Equal(t, "at1pending", txs[0].ID)
	})

	t.Run("program", func(t *testing.T) {
		src, err := client.GetProgram(ctx, "credits.aleo")
		require.NoError(t, err)
		assert.Contains(t, src, "program credits.aleo;")
	})

	t.Run("find block hash", func(t *testing.T) {
		hash, err := client.FindBlockHash(ctx, aleotest.TransactionID(40))
		require.NoError(t, err)
		assert.Equal(t, aleotest.BlockHash(40), hash)
	})

	t.Run("find transition id", func(t *testing.T) {
		id, err := client.FindTransitionID(ctx, "in1xyz")
		require.NoError(t, err)
		assert.Equal(t, "au1transitionin1xyz", id)
	})

	t.Run("state path", func(t *testing.T) {
		path, err := client.GetStatePath(ctx, "cm1abc")
		require.NoError(t, err)
		assert.Equal(t, "path1cm1abc", path)
	})
}

func TestGetBlocks_RangeValidation(t *testing.T) {
	client, server := newTestClient(t, fastRetries())
	ctx := context.Background()

	tests := []struct {
		name       string
		start, end uint32
		wantErr    string
	}{
		{name: "empty range", start: 10, end: 10, wantErr: "Start height must be less than end height"},
		{name: "reversed range", start: 11, end: 10, wantErr: "Start height must be less than end height"},
		{name: "too wide", start: 0, end: 51, wantErr: "Cannot request more than 50 blocks at a time"},
		{name: "widest allowed", start: 10, end: 60},
		{name: "single block", start: 5, end: 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server.Reset()
			_, err := client.GetBlocks(ctx, tt.start, tt.end)
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, 1, server.GetRequestCount())
				return
			}

			require.Error(t, err)
			assert.Equal(t, tt.wantErr, err.Error())
			assert.ErrorIs(t, err, ErrInvalidArgument)
			assert.Equal(t, 0, server.GetRequestCount())
		})
	}
}

func TestBroadcastTransaction(t *testing.T) {
	client, server := newTestClient(t, fastRetries())
	ctx := context.Background()

	t.Run("posts the transaction", func(t *testing.T) {
		tx := &Transaction{
			Type:      TransactionTypeExecute,
			ID:        "at1new",
			Execution: json.RawMessage(`{"transitions":[]}`),
		}

		id, err := client.BroadcastTransaction(ctx, tx)
		require.NoError(t, err)
		assert.Equal(t, "at1new", id)

		requests := server.GetRequests()
		last := requests[len(requests)-1]
		assert.Equal(t, http.MethodPost, last.Method)
		assert.Equal(t, "/testnet3/transaction/broadcast", last.Path)
		assert.Equal(t, "application/json", last.Headers.Get("Content-Type"))

		var sent Transaction
		require.NoError(t, json.Unmarshal(last.Body, &sent))
		assert.Equal(t, "at1new", sent.ID)
		assert.Len(t, server.Broadcasts(), 1)
	})

	t.Run("rejected transaction", func(t *testing.T) {
		_, err := client.BroadcastTransaction(ctx, &Transaction{Type: TransactionTypeExecute})
		require.Error(t, err)

		var typed *Error
		require.True(t, errors.As(err, &typed))
		assert.Equal(t, ErrorTypeClient, typed.Type)
		assert.Equal(t, "Invalid transaction", typed.Message)
	})

	t.Run("nil transaction", func(t *testing.T) {
		server.Reset()
		_, err := client.BroadcastTransaction(ctx, nil)
		assert.ErrorIs(t, err, ErrInvalidArgument)
		assert.Equal(t, 0, server.GetRequestCount())
	})
}

func TestEndpoints_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("missing block is not found and not retried", func(t *testing.T) {
		client, server := newTestClient(t, fastRetries())

		_, err := client.GetBlock(ctx, 101)
		require.Error(t, err)
		assert.True(t, IsNotFound(err))
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Equal(t, 1, server.GetRequestCount())

		var typed *Error
		require.True(t, errors.As(err, &typed))
		assert.Equal(t, "Block 101 does not exist", typed.Message)
		require.NotNil(t, typed.Context)
		assert.Equal(t, server.BaseURL()+"/testnet3/block/101", typed.Context.URL)
		assert.Equal(t, 0, typed.Context.RetryCount)
	})

	t.Run("server errors are retried", func(t *testing.T) {
		client, server := newTestClient(t, fastRetries())
		server.WithRetryResponse("GET latest/height", 2, http.StatusServiceUnavailable)

		height, err := client.LatestHeight(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint32(100), height)
		assert.Equal(t, 3, server.GetRequestCount())
	})

	t.Run("retries give up with the last error", func(t *testing.T) {
		client, server := newTestClient(t, fastRetries())
		server.WithErrorResponse("GET latest/hash", http.StatusInternalServerError, "database unavailable")

		_, err := client.LatestHash(ctx)
		assert.ErrorIs(t, err, ErrServerError)
		assert.Equal(t, 4, server.GetRequestCount())

		var typed *Error
		require.True(t, errors.As(err, &typed))
		assert.Equal(t, 3, typed.Context.RetryCount)
		assert.Equal(t, "database unavailable", typed.Message)
	})

	t.Run("request id is kept", func(t *testing.T) {
		client, server := newTestClient(t, DefaultConfig().WithRetries(0))
		server.RegisterHandler("GET latest/block", func(w http.ResponseWriter, r *http.Request) (int, interface{}) {
			w.Header().Set("X-Request-ID", "req-123")
			return http.StatusBadRequest, map[string]string{"error": "bad"}
		})

		_, err := client.LatestBlock(ctx)
		var typed *Error
		require.True(t, errors.As(err, &typed))
		assert.Equal(t, "req-123", typed.RequestID)
		assert.Equal(t, "bad", typed.Message)
	})

	t.Run("undecodable body", func(t *testing.T) {
		client, server := newTestClient(t, fastRetries())
		server.RegisterHandler("GET latest/height", func(w http.ResponseWriter, r *http.Request) (int, interface{}) {
			return http.StatusOK, "not a number"
		})

		_, err := client.LatestHeight(ctx)
		assert.ErrorIs(t, err, ErrInvalidResponse)
		assert.Equal(t, 1, server.GetRequestCount())
	})

	t.Run("attempt timeout", func(t *testing.T) {
		client, server := newTestClient(t, DefaultConfig().WithTimeout(50*time.Millisecond).WithRetries(0))
		server.WithDelayedResponse("GET latest/height", 500*time.Millisecond, nil)

		_, err := client.LatestHeight(ctx)
		assert.ErrorIs(t, err, ErrTimeout)
	})

	t.Run("canceled context", func(t *testing.T) {
		client, server := newTestClient(t, fastRetries())
		canceled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := client.LatestHeight(canceled)
		assert.ErrorIs(t, err, ErrContextCanceled)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 0, server.GetRequestCount())
	})

	t.Run("connection refused", func(t *testing.T) {
		server := aleotest.NewServer("testnet3", 1)
		baseURL := server.BaseURL()
		server.Close()

		client, err := NewClientWithConfig[Testnet3](baseURL, "testnet3", DefaultConfig().WithRetries(0))
		require.NoError(t, err)

		_, err = client.LatestHeight(ctx)
		require.Error(t, err)

		var typed *Error
		require.True(t, errors.As(err, &typed))
		assert.Equal(t, ErrorTypeNetwork, typed.Type)
	})
}

func TestEndpoints_CircuitBreaker(t *testing.T) {
	ctx := context.Background()
	metrics := NewMetricsCollector()

	cfg := DefaultConfig().
		WithRetryStrategy(&NoRetryStrategy{}).
		WithCircuitBreaker(CircuitBreakerConfig{
			FailureThreshold: 2,
			SuccessThreshold: 1,
			Timeout:          time.Minute,
			HalfOpenRequests: 1,
		}).
		WithObserver(metrics)
	client, server := newTestClient(t, cfg)
	server.WithErrorResponse("GET latest/height", http.StatusServiceUnavailable, "syncing")

	// Not found responses leave the breaker closed.
	for i := 0; i < 5; i++ {
		_, _ = client.GetBlock(ctx, 1000)
	}

	_, _ = client.LatestHeight(ctx)
	_, _ = client.LatestHeight(ctx)
	before := server.GetRequestCount()

	_, err := client.LatestHash(ctx)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, before, server.GetRequestCount())

	snap := metrics.Snapshot()
	assert.Equal(t, int64(1), snap.CircuitStateChanges["default"])
	assert.Equal(t, int64(2), snap.Errors["GET "+EndpointLatestHeight])
	assert.Equal(t, int64(5), snap.Errors["GET "+EndpointBlock])
}

func TestEndpoints_PerEndpointCircuitBreaker(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig().
		WithRetryStrategy(&NoRetryStrategy{}).
		WithCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Minute, HalfOpenRequests: 1}).
		WithPerEndpointCircuitBreaker()
	client, server := newTestClient(t, cfg)
	server.WithErrorResponse("GET statePath/", http.StatusInternalServerError, "boom")

	_, _ = client.GetStatePath(ctx, "cm1")
	_, err := client.GetStatePath(ctx, "cm2")
	assert.ErrorIs(t, err, ErrCircuitOpen)

	height, err := client.LatestHeight(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(100), height)
}

func TestEndpoints_Headers(t *testing.T) {
	client, server := newTestClient(t, fastRetries().WithHeader("X-Request-Source", "test"))

	_, err := client.LatestHeight(context.Background())
	require.NoError(t, err)

	req := server.GetRequests()[0]
	assert.Equal(t, DefaultUserAgent, req.Headers.Get("User-Agent"))
	assert.Equal(t, "application/json", req.Headers.Get("Accept"))
	assert.Equal(t, "test", req.Headers.Get("X-Request-Source"))
}

func TestEndpoints_Observer(t *testing.T) {
	metrics := NewMetricsCollector()
	client, server := newTestClient(t, fastRetries().WithObserver(metrics))
	server.WithRetryResponse("GET block/", 1, http.StatusBadGateway)

	_, err := client.GetBlock(context.Background(), 5)
	require.NoError(t, err)

	snap := metrics.Snapshot()
	key := "GET " + EndpointBlock
	assert.Equal(t, int64(1), snap.Requests[key])
	assert.Equal(t, int64(1), snap.Retries[key])
	assert.Zero(t, snap.Errors[key])
	assert.Len(t, snap.Latencies[key], 1)
}
