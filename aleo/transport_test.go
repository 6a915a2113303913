package aleo

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPath(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		args    []string
		want    string
	}{
		{
			name:    "no placeholders",
			pattern: EndpointLatestHeight,
			want:    "latest/height",
		},
		{
			name:    "single placeholder",
			pattern: EndpointBlock,
			args:    []string{"12"},
			want:    "block/12",
		},
		{
			name:    "placeholder followed by suffix",
			pattern: EndpointBlockTransactions,
			args:    []string{"7"},
			want:    "block/7/transactions",
		},
		{
			name:    "spaces",
			pattern: EndpointProgram,
			args:    []string{"my program.aleo"},
			want:    "program/my%20program.aleo",
		},
		{
			name:    "special characters",
			pattern: EndpointStatePath,
			args:    []string{"cm1/x?y=1&z"},
			want:    "statePath/cm1%2Fx%3Fy%3D1%26z",
		},
		{
			name:    "unicode",
			pattern: EndpointFindTransitionID,
			args:    []string{"测试"},
			want:    "find/transitionID/%E6%B5%8B%E8%AF%95",
		},
		{
			name:    "missing argument leaves placeholder",
			pattern: EndpointTransaction,
			want:    "transaction/{id}",
		},
		{
			name:    "extra arguments are ignored",
			pattern: EndpointBlock,
			args:    []string{"1", "2"},
			want:    "block/1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildPath(tt.pattern, tt.args...))
		})
	}
}

func TestTransportMode_String(t *testing.T) {
	assert.Equal(t, "blocking", ModeBlocking.String())
	assert.Equal(t, "async", ModeAsync.String())
	assert.Equal(t, "unknown", TransportMode(7).String())
}

func TestTransportError(t *testing.T) {
	ctx := context.Background()

	timeout := transportError(ctx, "GET x", errors.New("slow"), true)
	assert.Equal(t, ErrorTypeTimeout, timeout.Type)
	assert.True(t, timeout.IsRetryable())

	network := transportError(ctx, "GET x", errors.New("refused"), false)
	assert.Equal(t, ErrorTypeNetwork, network.Type)
	assert.Equal(t, "GET x", network.Details["operation"])

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	fromCtx := transportError(canceled, "GET x", errors.New("refused"), false)
	assert.ErrorIs(t, fromCtx, ErrContextCanceled)
}

func TestNewHTTPTransport(t *testing.T) {
	cfg := DefaultConfig().WithHeader("User-Agent", "custom/2")
	require.NoError(t, cfg.Validate())

	tr := newHTTPTransport(cfg)
	assert.Equal(t, "custom/2", tr.headers["User-Agent"])
	assert.Equal(t, "application/json", tr.headers["Content-Type"])

	strategy, ok := tr.retryExecutor.strategy.(*ExponentialBackoffStrategy)
	require.True(t, ok)
	assert.Equal(t, 4, strategy.Budget.MaxAttempts)
	assert.Equal(t, cfg.RetryConfig.InitialInterval, strategy.InitialInterval)
}
