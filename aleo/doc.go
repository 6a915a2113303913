// Package aleo is a client for the Aleo Beacon API, the REST interface a
// snarkOS node exposes for reading the chain and broadcasting transactions.
//
// # Construction
//
// A client is bound to a network type, a base URL and a chain identifier:
//
//	client, err := aleo.NewClient[aleo.Testnet3]("https://vm.aleo.org/api", "testnet3")
//	if err != nil {
//	    // err is a *aleo.ValidationError matching aleo.ErrInvalidBaseURL
//	}
//
// The base URL must start with "https://" or "http://"; nothing else about it
// is checked and no request is made. Two shortcuts never fail:
//
//	remote := aleo.NewTestnet3[aleo.Testnet3]()          // https://vm.aleo.org/api
//	local := aleo.NewLocalTestnet3[aleo.Testnet3]("3030") // http://localhost:3030
//
// # Requests
//
// Every endpoint takes a context and returns typed values:
//
//	height, err := client.LatestHeight(ctx)
//	blocks, err := client.GetBlocks(ctx, height-10, height)
//
// Requests are retried with exponential backoff on network, timeout, 5xx and
// 429 failures. A circuit breaker can be enabled with Config.WithCircuitBreaker.
// Errors are *aleo.Error values that match the package sentinels:
//
//	if aleo.IsNotFound(err) {
//	    // not produced yet
//	}
//
// # Transports
//
// The default build sends requests with net/http on the calling goroutine.
// Building with -tags async switches to fasthttp, dispatches each attempt on
// its own goroutine and adds ...Async methods returning a Future:
//
//	f := client.GetBlockAsync(ctx, 12)
//	block, err := f.Await(ctx)
//
// Mode reports which transport a binary carries.
package aleo
