package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/birbparty/aleo-beacon/aleo"
)

const blockColumns = `network, height, hash, previous_hash, timestamp, tx_count, body, archived, indexed_at`

// BlockRepository stores indexed blocks in PostgreSQL
type BlockRepository struct {
	db *DB
}

// NewBlockRepository creates a new block repository
func NewBlockRepository(db *DB) *BlockRepository {
	return &BlockRepository{db: db}
}

// SaveBlock upserts a block and its transactions atomically
func (r *BlockRepository) SaveBlock(ctx context.Context, network string, block *aleo.Block) error {
	return r.SaveBlocks(ctx, network, []aleo.Block{*block})
}

// SaveBlocks upserts blocks and their transactions in one transaction.
// Re-indexing a height replaces its row and transaction index.
func (r *BlockRepository) SaveBlocks(ctx context.Context, network string, blocks []aleo.Block) error {
	if len(blocks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i := range blocks {
		rec, txs, err := NewBlockRecord(network, &blocks[i])
		if err != nil {
			return err
		}

		batch.Queue(`
			INSERT INTO aleo_blocks (network, height, hash, previous_hash, timestamp, tx_count, body)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (network, height) DO UPDATE SET
				hash = EXCLUDED.hash,
				previous_hash = EXCLUDED.previous_hash,
				timestamp = EXCLUDED.timestamp,
				tx_count = EXCLUDED.tx_count,
				body = EXCLUDED.body,
				indexed_at = CURRENT_TIMESTAMP`,
			rec.Network, int64(rec.Height), rec.Hash, rec.PreviousHash, rec.Timestamp, rec.TxCount, rec.Body)

		batch.Queue(`DELETE FROM aleo_transactions WHERE network = $1 AND height = $2`,
			rec.Network, int64(rec.Height))

		for _, tx := range txs {
			batch.Queue(`
				INSERT INTO aleo_transactions (network, tx_id, height, type, status)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (network, tx_id) DO UPDATE SET
					height = EXCLUDED.height,
					type = EXCLUDED.type,
					status = EXCLUDED.status`,
				tx.Network, tx.TxID, int64(tx.Height), tx.Type, tx.Status)
		}
	}

	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to save %d blocks: %w", len(blocks), err)
		}
		return nil
	})
}

// GetBlockByHeight returns the block at height or ErrNotFound
func (r *BlockRepository) GetBlockByHeight(ctx context.Context, network string, height uint32) (*BlockRecord, error) {
	query := `SELECT ` + blockColumns + ` FROM aleo_blocks WHERE network = $1 AND height = $2`
	return r.getBlock(ctx, query, network, int64(height))
}

// GetBlockByHash returns the block with hash or ErrNotFound
func (r *BlockRepository) GetBlockByHash(ctx context.Context, network, hash string) (*BlockRecord, error) {
	query := `SELECT ` + blockColumns + ` FROM aleo_blocks WHERE network = $1 AND hash = $2`
	return r.getBlock(ctx, query, network, hash)
}

func (r *BlockRepository) getBlock(ctx context.Context, query string, args ...interface{}) (*BlockRecord, error) {
	rec, err := scanBlock(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get block: %w", err)
	}
	return rec, nil
}

// FindBlockHeightByTransaction returns the height of the block containing txID
func (r *BlockRepository) FindBlockHeightByTransaction(ctx context.Context, network, txID string) (uint32, error) {
	var height int64
	err := r.db.QueryRow(ctx,
		`SELECT height FROM aleo_transactions WHERE network = $1 AND tx_id = $2`,
		network, txID,
	).Scan(&height)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to find transaction %s: %w", txID, err)
	}
	return uint32(height), nil
}

// LatestIndexedHeight returns the highest indexed height or ErrNotFound
func (r *BlockRepository) LatestIndexedHeight(ctx context.Context, network string) (uint32, error) {
	var height *int64
	err := r.db.QueryRow(ctx,
		`SELECT MAX(height) FROM aleo_blocks WHERE network = $1`, network,
	).Scan(&height)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest indexed height: %w", err)
	}
	if height == nil {
		return 0, ErrNotFound
	}
	return uint32(*height), nil
}

// MarkArchived flags heights as present in the archive
func (r *BlockRepository) MarkArchived(ctx context.Context, network string, heights []uint32) error {
	if len(heights) == 0 {
		return nil
	}
	hs := make([]int64, len(heights))
	for i, h := range heights {
		hs[i] = int64(h)
	}
	_, err := r.db.Exec(ctx,
		`UPDATE aleo_blocks SET archived = TRUE WHERE network = $1 AND height = ANY($2)`,
		network, hs)
	if err != nil {
		return fmt.Errorf("failed to mark %d blocks archived: %w", len(heights), err)
	}
	return nil
}

// ListUnarchivedBelow returns up to limit unarchived blocks below a height, oldest first
func (r *BlockRepository) ListUnarchivedBelow(ctx context.Context, network string, below uint32, limit int) ([]BlockRecord, error) {
	query := `SELECT ` + blockColumns + ` FROM aleo_blocks
		WHERE network = $1 AND height < $2 AND NOT archived
		ORDER BY height
		LIMIT $3`

	rows, err := r.db.Query(ctx, query, network, int64(below), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unarchived blocks: %w", err)
	}
	defer rows.Close()

	var records []BlockRecord
	for rows.Next() {
		rec, err := scanBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan block: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating blocks: %w", err)
	}
	return records, nil
}

// DeleteBelow removes blocks below a height; transactions cascade
func (r *BlockRepository) DeleteBelow(ctx context.Context, network string, below uint32, onlyArchived bool) (int64, error) {
	query := `DELETE FROM aleo_blocks WHERE network = $1 AND height < $2`
	if onlyArchived {
		query += ` AND archived`
	}

	result, err := r.db.Exec(ctx, query, network, int64(below))
	if err != nil {
		return 0, fmt.Errorf("failed to delete blocks below %d: %w", below, err)
	}
	return result.RowsAffected(), nil
}

// Health checks the database health
func (r *BlockRepository) Health(ctx context.Context) error {
	return r.db.Health(ctx)
}

func scanBlock(row pgx.Row) (*BlockRecord, error) {
	var (
		rec    BlockRecord
		height int64
	)
	err := row.Scan(
		&rec.Network,
		&height,
		&rec.Hash,
		&rec.PreviousHash,
		&rec.Timestamp,
		&rec.TxCount,
		&rec.Body,
		&rec.Archived,
		&rec.IndexedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Height = uint32(height)
	return &rec, nil
}
