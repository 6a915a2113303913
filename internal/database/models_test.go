package database

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/birbparty/aleo-beacon/aleo"
)

func sampleBlock() *aleo.Block {
	b := &aleo.Block{
		BlockHash:    "ab1block",
		PreviousHash: "ab1parent",
		Transactions: []aleo.ConfirmedTransaction{
			{Status: "accepted", Type: aleo.TransactionTypeExecute, Index: 0, Transaction: aleo.Transaction{Type: aleo.TransactionTypeExecute, ID: "at1exec"}},
			{Status: "rejected", Type: aleo.TransactionTypeDeploy, Index: 1, Transaction: aleo.Transaction{Type: aleo.TransactionTypeFee, ID: "at1fee"}},
		},
	}
	b.Header.Metadata.Height = 77
	b.Header.Metadata.Timestamp = 1700000000
	return b
}

func TestNewBlockRecord(t *testing.T) {
	rec, txs, err := NewBlockRecord("testnet3", sampleBlock())
	require.NoError(t, err)

	assert.Equal(t, "testnet3", rec.Network)
	assert.Equal(t, uint32(77), rec.Height)
	assert.Equal(t, "ab1block", rec.Hash)
	assert.Equal(t, "ab1parent", rec.PreviousHash)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), rec.Timestamp)
	assert.Equal(t, 2, rec.TxCount)
	assert.True(t, json.Valid(rec.Body))

	require.Len(t, txs, 2)
	assert.Equal(t, TransactionRecord{Network: "testnet3", TxID: "at1exec", Height: 77, Type: "execute", Status: "accepted"}, txs[0])
	assert.Equal(t, "deploy", txs[1].Type)
	assert.Equal(t, "rejected", txs[1].Status)
}

func TestNewBlockRecord_MissingHash(t *testing.T) {
	b := sampleBlock()
	b.BlockHash = ""
	_, _, err := NewBlockRecord("testnet3", b)
	assert.Error(t, err)
}

func TestBlockRecord_RoundTrip(t *testing.T) {
	rec, _, err := NewBlockRecord("testnet3", sampleBlock())
	require.NoError(t, err)

	block, err := rec.Block()
	require.NoError(t, err)
	assert.Equal(t, uint32(77), block.Height())
	assert.Equal(t, []string{"at1exec", "at1fee"}, block.TransactionIDs())

	tx, err := rec.Transaction("at1fee")
	require.NoError(t, err)
	assert.Equal(t, aleo.TransactionTypeFee, tx.Type)

	_, err = rec.Transaction("at1missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBlockRecord_CorruptBody(t *testing.T) {
	rec := &BlockRecord{Height: 3, Body: json.RawMessage(`{"header":`)}
	_, err := rec.Block()
	assert.Error(t, err)
}
