package database

import (
	"context"
	"errors"

	"github.com/birbparty/aleo-beacon/aleo"
)

// Common errors
var (
	ErrNotFound = errors.New("block not found")
)

// BlockStore is the block index the relay, indexer and retention jobs share
type BlockStore interface {
	// SaveBlock upserts a block and its transactions atomically
	SaveBlock(ctx context.Context, network string, block *aleo.Block) error

	// SaveBlocks upserts blocks in a single transaction
	SaveBlocks(ctx context.Context, network string, blocks []aleo.Block) error

	GetBlockByHeight(ctx context.Context, network string, height uint32) (*BlockRecord, error)

	GetBlockByHash(ctx context.Context, network, hash string) (*BlockRecord, error)

	FindBlockHeightByTransaction(ctx context.Context, network, txID string) (uint32, error)

	// LatestIndexedHeight returns ErrNotFound when nothing is indexed yet
	LatestIndexedHeight(ctx context.Context, network string) (uint32, error)

	MarkArchived(ctx context.Context, network string, heights []uint32) error

	// ListUnarchivedBelow returns up to limit unarchived blocks with height < below, oldest first
	ListUnarchivedBelow(ctx context.Context, network string, below uint32, limit int) ([]BlockRecord, error)

	// DeleteBelow deletes blocks with height < below. When onlyArchived is
	// set, unarchived blocks are kept.
	DeleteBelow(ctx context.Context, network string, below uint32, onlyArchived bool) (int64, error)

	Health(ctx context.Context) error
}

var _ BlockStore = (*BlockRepository)(nil)
