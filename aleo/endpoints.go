package aleo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// MaxBlockRange is the widest range GetBlocks accepts.
const MaxBlockRange = 50

// Endpoint patterns, relative to {base}/{network}/. Observers and circuit
// breakers see these, not the expanded paths.
const (
	EndpointLatestHeight      = "latest/height"
	EndpointLatestHash        = "latest/hash"
	EndpointLatestBlock       = "latest/block"
	EndpointBlock             = "block/{height}"
	EndpointBlocks            = "blocks"
	EndpointTransaction       = "transaction/{id}"
	EndpointBlockTransactions = "block/{height}/transactions"
	EndpointMemoryPool        = "memoryPool/transactions"
	EndpointProgram           = "program/{id}"
	EndpointFindBlockHash     = "find/blockHash/{id}"
	EndpointFindTransitionID  = "find/transitionID/{id}"
	EndpointStatePath         = "statePath/{commitment}"
	EndpointBroadcast         = "transaction/broadcast"
)

// call runs one request against c and decodes the response into T.
func call[T any, N Network](ctx context.Context, c *Client[N], method, pattern, query string, body interface{}, args ...string) (T, error) {
	var out T

	r := &request{
		method:   method,
		endpoint: pattern,
		url:      c.url(buildPath(pattern, args...)),
	}
	if query != "" {
		r.url += "?" + query
	}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return out, NewError(ErrorTypeValidation, "failed to marshal request body", err)
		}
		r.body = data
	}

	if err := c.transport.do(ctx, r, &out); err != nil {
		return out, err
	}
	return out, nil
}

// LatestHeight returns the height of the chain tip.
func (c *Client[N]) LatestHeight(ctx context.Context) (uint32, error) {
	return call[uint32](ctx, c, http.MethodGet, EndpointLatestHeight, "", nil)
}

// LatestHash returns the hash of the chain tip.
func (c *Client[N]) LatestHash(ctx context.Context) (string, error) {
	return call[string](ctx, c, http.MethodGet, EndpointLatestHash, "", nil)
}

// LatestBlock returns the block at the chain tip.
func (c *Client[N]) LatestBlock(ctx context.Context) (*Block, error) {
	return call[*Block](ctx, c, http.MethodGet, EndpointLatestBlock, "", nil)
}

// GetBlock returns the block at height.
func (c *Client[N]) GetBlock(ctx context.Context, height uint32) (*Block, error) {
	return call[*Block](ctx, c, http.MethodGet, EndpointBlock, "", nil, formatHeight(height))
}

// GetBlocks returns the blocks in [start, end). The range must be non-empty
// and at most MaxBlockRange wide; otherwise a *ValidationError is returned
// without contacting the node.
func (c *Client[N]) GetBlocks(ctx context.Context, start, end uint32) ([]Block, error) {
	if err := ValidateBlockRange(start, end); err != nil {
		return nil, err
	}
	query := fmt.Sprintf("start=%d&end=%d", start, end)
	return call[[]Block](ctx, c, http.MethodGet, EndpointBlocks, query, nil)
}

// ValidateBlockRange checks a [start, end) range against GetBlocks' limits.
func ValidateBlockRange(start, end uint32) error {
	if start >= end {
		return newArgumentError("start", formatHeight(start), "Start height must be less than end height")
	}
	if end-start > MaxBlockRange {
		return newArgumentError("end", formatHeight(end), fmt.Sprintf("Cannot request more than %d blocks at a time", MaxBlockRange))
	}
	return nil
}

// GetTransaction returns a transaction by id.
func (c *Client[N]) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	return call[*Transaction](ctx, c, http.MethodGet, EndpointTransaction, "", nil, id)
}

// GetTransactions returns the confirmed transactions of the block at height.
func (c *Client[N]) GetTransactions(ctx context.Context, height uint32) ([]ConfirmedTransaction, error) {
	return call[[]ConfirmedTransaction](ctx, c, http.MethodGet, EndpointBlockTransactions, "", nil, formatHeight(height))
}

// GetMemoryPoolTransactions returns the unconfirmed transactions the node holds.
func (c *Client[N]) GetMemoryPoolTransactions(ctx context.Context) ([]Transaction, error) {
	return call[[]Transaction](ctx, c, http.MethodGet, EndpointMemoryPool, "", nil)
}

// GetProgram returns the source of a deployed program, for example "credits.aleo".
func (c *Client[N]) GetProgram(ctx context.Context, programID string) (string, error) {
	return call[string](ctx, c, http.MethodGet, EndpointProgram, "", nil, programID)
}

// FindBlockHash returns the hash of the block containing a transaction.
func (c *Client[N]) FindBlockHash(ctx context.Context, transactionID string) (string, error) {
	return call[string](ctx, c, http.MethodGet, EndpointFindBlockHash, "", nil, transactionID)
}

// FindTransitionID returns the transition that produced or consumed an input or output id.
func (c *Client[N]) FindTransitionID(ctx context.Context, inputOrOutputID string) (string, error) {
	return call[string](ctx, c, http.MethodGet, EndpointFindTransitionID, "", nil, inputOrOutputID)
}

// GetStatePath returns the state path for a record commitment.
func (c *Client[N]) GetStatePath(ctx context.Context, commitment string) (string, error) {
	return call[string](ctx, c, http.MethodGet, EndpointStatePath, "", nil, commitment)
}

// BroadcastTransaction submits a transaction and returns the id the node reports.
func (c *Client[N]) BroadcastTransaction(ctx context.Context, tx *Transaction) (string, error) {
	if tx == nil {
		return "", newArgumentError("transaction", "", "transaction must not be nil")
	}
	return call[string](ctx, c, http.MethodPost, EndpointBroadcast, "", tx)
}

func formatHeight(h uint32) string {
	return strconv.FormatUint(uint64(h), 10)
}
