package aleo

import (
	"fmt"
	"strings"
)

// Client talks to an Aleo Beacon API node. N binds the client to a network
// at compile time, so a Client[Testnet3] cannot be passed where a client for
// another network is expected; it takes no space at runtime.
//
// The HTTP transport is fixed by the build: net/http by default, fasthttp
// with -tags async. See Mode.
//
// A Client is immutable after construction and safe for concurrent use.
// It holds no resources that need closing.
//
//	client, err := aleo.NewClient[aleo.Testnet3]("https://vm.aleo.org/api", "testnet3")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	height, err := client.LatestHeight(ctx)
type Client[N Network] struct {
	transport *httpTransport
	baseURL   string
	networkID string
	_         [0]N
}

// NewClient validates baseURL and returns a client using DefaultConfig.
//
// baseURL must start with "http://" or "https://"; anything else yields a
// *ValidationError matching ErrInvalidBaseURL. chain is stored as given.
// No network I/O happens here.
func NewClient[N Network](baseURL, chain string) (*Client[N], error) {
	return NewClientWithConfig[N](baseURL, chain, nil)
}

// NewClientWithConfig is NewClient with explicit transport settings. A nil
// config means DefaultConfig. The config is copied; later changes to it do
// not affect the client.
func NewClientWithConfig[N Network](baseURL, chain string, config *Config) (*Client[N], error) {
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, newBaseURLError(baseURL)
	}

	if config == nil {
		config = DefaultConfig()
	}
	config = config.clone()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Client[N]{
		transport: newHTTPTransport(config),
		baseURL:   baseURL,
		networkID: chain,
	}, nil
}

// NewTestnet3 returns a client for the public Testnet 3 Beacon API.
func NewTestnet3[N Network]() *Client[N] {
	return mustClient(NewClient[N](Testnet3BaseURL, Testnet3NetworkID))
}

// NewLocalTestnet3 returns a client for a Testnet 3 node on localhost. port
// is used verbatim.
func NewLocalTestnet3[N Network](port string) *Client[N] {
	return mustClient(NewClient[N]("http://localhost:"+port, Testnet3NetworkID))
}

// mustClient panics when a constructor with fixed, known-good arguments fails.
func mustClient[N Network](c *Client[N], err error) *Client[N] {
	if err != nil {
		panic(fmt.Sprintf("aleo: internal invariant violated: fixed client arguments rejected: %v", err))
	}
	return c
}

// BaseURL returns the base URL the client was constructed with.
func (c *Client[N]) BaseURL() string {
	return c.baseURL
}

// NetworkID returns the chain identifier the client was constructed with.
func (c *Client[N]) NetworkID() string {
	return c.networkID
}

// url joins the base URL, network id and an already escaped path.
func (c *Client[N]) url(path string) string {
	return strings.TrimRight(c.baseURL, "/") + "/" + c.networkID + "/" + path
}
