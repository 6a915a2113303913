//go:build !async

package aleo

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMode_Blocking(t *testing.T) {
	assert.Equal(t, ModeBlocking, Mode())
}

func TestBlockingTransport_PoolSettings(t *testing.T) {
	cfg := DefaultConfig().
		WithTimeout(3 * time.Second).
		WithTransport(TransportConfig{MaxIdleConns: 8, MaxConnsPerHost: 4, IdleConnTimeout: time.Minute})

	rt, ok := newRoundTripper(cfg).(*blockingTransport)
	require.True(t, ok)
	assert.Equal(t, 3*time.Second, rt.client.Timeout)

	transport, ok := rt.client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, 8, transport.MaxIdleConns)
	assert.Equal(t, 4, transport.MaxConnsPerHost)
	assert.Equal(t, 4, transport.MaxIdleConnsPerHost)
	assert.Equal(t, time.Minute, transport.IdleConnTimeout)
}
