package database

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/birbparty/aleo-beacon/aleo"
)

// BlockRecord is a row of aleo_blocks
type BlockRecord struct {
	Network      string          `db:"network" json:"network"`
	Height       uint32          `db:"height" json:"height"`
	Hash         string          `db:"hash" json:"hash"`
	PreviousHash string          `db:"previous_hash" json:"previous_hash"`
	Timestamp    time.Time       `db:"timestamp" json:"timestamp"`
	TxCount      int             `db:"tx_count" json:"tx_count"`
	Body         json.RawMessage `db:"body" json:"body"`
	Archived     bool            `db:"archived" json:"archived"`
	IndexedAt    time.Time       `db:"indexed_at" json:"indexed_at"`
}

// TransactionRecord is a row of aleo_transactions
type TransactionRecord struct {
	Network string `db:"network" json:"network"`
	TxID    string `db:"tx_id" json:"tx_id"`
	Height  uint32 `db:"height" json:"height"`
	Type    string `db:"type" json:"type"`
	Status  string `db:"status" json:"status"`
}

// NewBlockRecord flattens a block into its row and transaction index rows
func NewBlockRecord(network string, block *aleo.Block) (*BlockRecord, []TransactionRecord, error) {
	if block.BlockHash == "" {
		return nil, nil, fmt.Errorf("block %d has no hash", block.Height())
	}

	body, err := json.Marshal(block)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode block %d: %w", block.Height(), err)
	}

	rec := &BlockRecord{
		Network:      network,
		Height:       block.Height(),
		Hash:         block.BlockHash,
		PreviousHash: block.PreviousHash,
		Timestamp:    time.Unix(block.Header.Metadata.Timestamp, 0).UTC(),
		TxCount:      len(block.Transactions),
		Body:         body,
	}

	txs := make([]TransactionRecord, 0, len(block.Transactions))
	for _, ct := range block.Transactions {
		txs = append(txs, TransactionRecord{
			Network: network,
			TxID:    ct.Transaction.ID,
			Height:  rec.Height,
			Type:    ct.Type,
			Status:  ct.Status,
		})
	}
	return rec, txs, nil
}

// Block decodes the stored body
func (r *BlockRecord) Block() (*aleo.Block, error) {
	var b aleo.Block
	if err := json.Unmarshal(r.Body, &b); err != nil {
		return nil, fmt.Errorf("failed to decode block %d: %w", r.Height, err)
	}
	return &b, nil
}

// Transaction finds a transaction in the stored body by id
func (r *BlockRecord) Transaction(id string) (*aleo.Transaction, error) {
	b, err := r.Block()
	if err != nil {
		return nil, err
	}
	for i := range b.Transactions {
		if b.Transactions[i].Transaction.ID == id {
			return &b.Transactions[i].Transaction, nil
		}
	}
	return nil, ErrNotFound
}
