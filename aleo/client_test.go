package aleo

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		chain   string
		wantErr bool
	}{
		{name: "public testnet", baseURL: "https://vm.aleo.org/api", chain: "testnet3"},
		{name: "local http", baseURL: "http://localhost:3030", chain: "testnet3"},
		{name: "bare https prefix", baseURL: "https://", chain: "testnet3"},
		{name: "bare http prefix", baseURL: "http://", chain: ""},
		{name: "prefix followed by garbage", baseURL: "http://%%%not a host", chain: "anything"},
		{name: "trailing slash kept", baseURL: "https://vm.aleo.org/api/", chain: "testnet3"},
		{name: "ftp scheme", baseURL: "ftp://example.com", chain: "testnet3", wantErr: true},
		{name: "empty url", baseURL: "", chain: "mainnet", wantErr: true},
		{name: "no scheme", baseURL: "vm.aleo.org/api", chain: "testnet3", wantErr: true},
		{name: "uppercase scheme", baseURL: "HTTPS://vm.aleo.org/api", chain: "testnet3", wantErr: true},
		{name: "leading whitespace", baseURL: " https://vm.aleo.org/api", chain: "testnet3", wantErr: true},
		{name: "missing slash", baseURL: "https:/vm.aleo.org", chain: "testnet3", wantErr: true},
		{name: "websocket", baseURL: "wss://vm.aleo.org", chain: "testnet3", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient[Testnet3](tt.baseURL, tt.chain)
			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, client)

				var verr *ValidationError
				require.True(t, errors.As(err, &verr))
				assert.Equal(t, "base_url", verr.Field)
				assert.Equal(t, tt.baseURL, verr.Value)
				assert.ErrorIs(t, err, ErrInvalidBaseURL)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, client)
			assert.Equal(t, tt.baseURL, client.BaseURL())
			assert.Equal(t, tt.chain, client.NetworkID())
		})
	}
}

func TestNewClient_ErrorMessage(t *testing.T) {
	_, err := NewClient[Testnet3]("ftp://example.com", "testnet3")
	require.Error(t, err)

	assert.Equal(t,
		"specified url ftp://example.com invalid, the base url must start with https:// (or http:// if doing local development)",
		err.Error())
	assert.Contains(t, err.Error(), "ftp://example.com")
	assert.Contains(t, err.Error(), "https://")
	assert.Contains(t, err.Error(), "http://")
}

func TestNewClient_AccessorsAreVerbatim(t *testing.T) {
	tests := []struct {
		baseURL string
		chain   string
	}{
		{"https://vm.aleo.org/api", "testnet3"},
		{"https://VM.Aleo.org/API/", "TestNet3"},
		{"http://localhost:3030", "  padded  "},
		{"https://example.com/a b", "ünïcode"},
	}

	for _, tt := range tests {
		t.Run(tt.baseURL, func(t *testing.T) {
			client, err := NewClient[Testnet3](tt.baseURL, tt.chain)
			require.NoError(t, err)
			assert.Equal(t, tt.baseURL, client.BaseURL())
			assert.Equal(t, tt.chain, client.NetworkID())

			// Reading twice must not change anything.
			assert.Equal(t, client.BaseURL(), client.BaseURL())
			assert.Equal(t, client.NetworkID(), client.NetworkID())
		})
	}
}

func TestNewTestnet3(t *testing.T) {
	client := NewTestnet3[Testnet3]()
	require.NotNil(t, client)
	assert.Equal(t, "https://vm.aleo.org/api", client.BaseURL())
	assert.Equal(t, "testnet3", client.NetworkID())
}

func TestNewLocalTestnet3(t *testing.T) {
	ports := []string{"3030", "80", "", "abc", "-1", "3030/extra", "65536", " 3030 "}

	for _, port := range ports {
		t.Run("port="+port, func(t *testing.T) {
			var client *Client[Testnet3]
			require.NotPanics(t, func() {
				client = NewLocalTestnet3[Testnet3](port)
			})
			assert.Equal(t, "http://localhost:"+port, client.BaseURL())
			assert.Equal(t, "testnet3", client.NetworkID())
		})
	}
}

func TestClient_IndependentHandles(t *testing.T) {
	first, err := NewClient[Testnet3]("https://vm.aleo.org/api", "testnet3")
	require.NoError(t, err)

	local := NewLocalTestnet3[Testnet3]("3030")
	remote := NewTestnet3[Testnet3]()
	second, err := NewClient[Testnet3]("https://vm.aleo.org/api", "testnet3")
	require.NoError(t, err)

	assert.Equal(t, "https://vm.aleo.org/api", first.BaseURL())
	assert.Equal(t, "testnet3", first.NetworkID())
	assert.Equal(t, first.BaseURL(), second.BaseURL())
	assert.Equal(t, first.NetworkID(), second.NetworkID())
	assert.Equal(t, remote.BaseURL(), first.BaseURL())
	assert.Equal(t, "http://localhost:3030", local.BaseURL())
}

func TestNewClientWithConfig(t *testing.T) {
	t.Run("nil config uses defaults", func(t *testing.T) {
		client, err := NewClientWithConfig[Testnet3]("https://vm.aleo.org/api", "testnet3", nil)
		require.NoError(t, err)
		assert.Equal(t, DefaultUserAgent, client.transport.headers["User-Agent"])
		assert.IsType(t, noopCircuitBreaker{}, client.transport.circuitBreaker)
	})

	t.Run("caller config is not modified", func(t *testing.T) {
		cfg := &Config{Headers: map[string]string{"X-Test": "1"}}
		client, err := NewClientWithConfig[Testnet3]("https://vm.aleo.org/api", "testnet3", cfg)
		require.NoError(t, err)

		assert.Zero(t, cfg.Timeout)
		assert.Nil(t, cfg.Observer)

		cfg.Headers["X-Test"] = "2"
		assert.Equal(t, "1", client.transport.headers["X-Test"])
	})

	t.Run("invalid url is rejected before the config is used", func(t *testing.T) {
		client, err := NewClientWithConfig[Testnet3]("localhost:3030", "testnet3", DefaultConfig())
		assert.Nil(t, client)
		assert.ErrorIs(t, err, ErrInvalidBaseURL)
	})

	t.Run("per endpoint breaker", func(t *testing.T) {
		cfg := DefaultConfig().
			WithCircuitBreaker(DefaultCircuitBreakerConfig()).
			WithPerEndpointCircuitBreaker()
		client, err := NewClientWithConfig[Testnet3]("https://vm.aleo.org/api", "testnet3", cfg)
		require.NoError(t, err)
		assert.NotNil(t, client.transport.perEndpointCircuitBreaker)
	})
}

func TestMustClient_Panics(t *testing.T) {
	assert.PanicsWithValue(t,
		"aleo: internal invariant violated: fixed client arguments rejected: boom",
		func() {
			mustClient[Testnet3](nil, errors.New("boom"))
		})
}

func TestClient_URL(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		chain   string
		path    string
		want    string
	}{
		{
			name:    "plain",
			baseURL: "https://vm.aleo.org/api",
			chain:   "testnet3",
			path:    "latest/height",
			want:    "https://vm.aleo.org/api/testnet3/latest/height",
		},
		{
			name:    "trailing slash on base",
			baseURL: "http://localhost:3030/",
			chain:   "testnet3",
			path:    "block/7",
			want:    "http://localhost:3030/testnet3/block/7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient[Testnet3](tt.baseURL, tt.chain)
			require.NoError(t, err)
			assert.Equal(t, tt.want, client.url(tt.path))
			assert.Equal(t, tt.baseURL, client.BaseURL())
		})
	}
}

func TestNetworks(t *testing.T) {
	info := InfoOf[Testnet3]()
	assert.Equal(t, uint16(3), info.ID)
	assert.Equal(t, "testnet3", info.Name)
	assert.Equal(t, Testnet3BaseURL, info.DefaultBaseURL)

	byName, ok := NetworkByName("testnet3")
	require.True(t, ok)
	assert.Equal(t, info, byName)

	byID, ok := NetworkByID(3)
	require.True(t, ok)
	assert.Equal(t, info, byID)

	_, ok = NetworkByName("mainnet")
	assert.False(t, ok)
	_, ok = NetworkByID(0)
	assert.False(t, ok)
}
