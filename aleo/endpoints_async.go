//go:build async

package aleo

import (
	"context"
)

// LatestHeightAsync is the non-blocking form of LatestHeight.
func (c *Client[N]) LatestHeightAsync(ctx context.Context) *Future[uint32] {
	return Go(ctx, c.LatestHeight)
}

// LatestHashAsync is the non-blocking form of LatestHash.
func (c *Client[N]) LatestHashAsync(ctx context.Context) *Future[string] {
	return Go(ctx, c.LatestHash)
}

// LatestBlockAsync is the non-blocking form of LatestBlock.
func (c *Client[N]) LatestBlockAsync(ctx context.Context) *Future[*Block] {
	return Go(ctx, c.LatestBlock)
}

// GetBlockAsync is the non-blocking form of GetBlock.
func (c *Client[N]) GetBlockAsync(ctx context.Context, height uint32) *Future[*Block] {
	return Go(ctx, func(ctx context.Context) (*Block, error) {
		return c.GetBlock(ctx, height)
	})
}

// GetBlocksAsync is the non-blocking form of GetBlocks.
func (c *Client[N]) GetBlocksAsync(ctx context.Context, start, end uint32) *Future[[]Block] {
	return Go(ctx, func(ctx context.Context) ([]Block, error) {
		return c.GetBlocks(ctx, start, end)
	})
}

// GetTransactionAsync is the non-blocking form of GetTransaction.
func (c *Client[N]) GetTransactionAsync(ctx context.Context, id string) *Future[*Transaction] {
	return Go(ctx, func(ctx context.Context) (*Transaction, error) {
		return c.GetTransaction(ctx, id)
	})
}

// GetTransactionsAsync is the non-blocking form of GetTransactions.
func (c *Client[N]) GetTransactionsAsync(ctx context.Context, height uint32) *Future[[]ConfirmedTransaction] {
	return Go(ctx, func(ctx context.Context) ([]ConfirmedTransaction, error) {
		return c.GetTransactions(ctx, height)
	})
}

// GetMemoryPoolTransactionsAsync is the non-blocking form of GetMemoryPoolTransactions.
func (c *Client[N]) GetMemoryPoolTransactionsAsync(ctx context.Context) *Future[[]Transaction] {
	return Go(ctx, c.GetMemoryPoolTransactions)
}

// GetProgramAsync is the non-blocking form of GetProgram.
func (c *Client[N]) GetProgramAsync(ctx context.Context, programID string) *Future[string] {
	return Go(ctx, func(ctx context.Context) (string, error) {
		return c.GetProgram(ctx, programID)
	})
}

// FindBlockHashAsync is the non-blocking form of FindBlockHash.
func (c *Client[N]) FindBlockHashAsync(ctx context.Context, transactionID string) *Future[string] {
	return Go(ctx, func(ctx context.Context) (string, error) {
		return c.FindBlockHash(ctx, transactionID)
	})
}

// FindTransitionIDAsync is the non-blocking form of FindTransitionID.
func (c *Client[N]) FindTransitionIDAsync(ctx context.Context, inputOrOutputID string) *Future[string] {
	return Go(ctx, func(ctx context.Context) (string, error) {
		return c.FindTransitionID(ctx, inputOrOutputID)
	})
}

// GetStatePathAsync is the non-blocking form of GetStatePath.
func (c *Client[N]) GetStatePathAsync(ctx context.Context, commitment string) *Future[string] {
	return Go(ctx, func(ctx context.Context) (string, error) {
		return c.GetStatePath(ctx, commitment)
	})
}

// BroadcastTransactionAsync is the non-blocking form of BroadcastTransaction.
func (c *Client[N]) BroadcastTransactionAsync(ctx context.Context, tx *Transaction) *Future[string] {
	return Go(ctx, func(ctx context.Context) (string, error) {
		return c.BroadcastTransaction(ctx, tx)
	})
}
