package aleo

import (
	"encoding/json"
)

// Block is a block as served by the Beacon API. Consensus and proof data is
// kept as raw JSON; decoding it needs the full snarkVM type system.
type Block struct {
	BlockHash             string                 `json:"block_hash"`
	PreviousHash          string                 `json:"previous_hash"`
	Header                Header                 `json:"header"`
	Authority             json.RawMessage        `json:"authority,omitempty"`
	Ratifications         json.RawMessage        `json:"ratifications,omitempty"`
	Solutions             json.RawMessage        `json:"solutions,omitempty"`
	Transactions          []ConfirmedTransaction `json:"transactions"`
	AbortedTransactionIDs []string               `json:"aborted_transaction_ids,omitempty"`
}

// Header is the block header.
type Header struct {
	PreviousStateRoot string   `json:"previous_state_root"`
	TransactionsRoot  string   `json:"transactions_root"`
	FinalizeRoot      string   `json:"finalize_root,omitempty"`
	RatificationsRoot string   `json:"ratifications_root,omitempty"`
	SolutionsRoot     string   `json:"solutions_root,omitempty"`
	SubdagRoot        string   `json:"subdag_root,omitempty"`
	Metadata          Metadata `json:"metadata"`
}

// Metadata carries the header's scalar fields. The u128 counters are kept as
// json.Number because they do not fit in a uint64.
type Metadata struct {
	Network               uint16      `json:"network"`
	Round                 uint64      `json:"round"`
	Height                uint32      `json:"height"`
	CumulativeWeight      json.Number `json:"cumulative_weight"`
	CumulativeProofTarget json.Number `json:"cumulative_proof_target"`
	CoinbaseTarget        uint64      `json:"coinbase_target"`
	ProofTarget           uint64      `json:"proof_target"`
	LastCoinbaseTarget    uint64      `json:"last_coinbase_target"`
	LastCoinbaseTimestamp int64       `json:"last_coinbase_timestamp"`
	Timestamp             int64       `json:"timestamp"`
}

// Height returns the block height.
func (b *Block) Height() uint32 {
	return b.Header.Metadata.Height
}

// TransactionIDs returns the ids of the confirmed transactions, in block order.
func (b *Block) TransactionIDs() []string {
	ids := make([]string, 0, len(b.Transactions))
	for _, tx := range b.Transactions {
		ids = append(ids, tx.Transaction.ID)
	}
	return ids
}

// ConfirmedTransaction is a transaction together with its outcome in a block.
type ConfirmedTransaction struct {
	// Status is "accepted" or "rejected".
	Status string `json:"status"`
	// Type is "deploy" or "execute".
	Type        string          `json:"type"`
	Index       uint32          `json:"index"`
	Transaction Transaction     `json:"transaction"`
	Finalize    json.RawMessage `json:"finalize,omitempty"`
}

// Transaction types.
const (
	TransactionTypeDeploy  = "deploy"
	TransactionTypeExecute = "execute"
	TransactionTypeFee     = "fee"
)

// Transaction is a deployment, execution or fee transaction. Exactly one of
// Deployment and Execution is set for deploy and execute transactions.
type Transaction struct {
	Type       string          `json:"type"`
	ID         string          `json:"id"`
	Owner      json.RawMessage `json:"owner,omitempty"`
	Deployment json.RawMessage `json:"deployment,omitempty"`
	Execution  json.RawMessage `json:"execution,omitempty"`
	Fee        json.RawMessage `json:"fee,omitempty"`
}

// IsDeploy reports whether the transaction deploys a program.
func (t *Transaction) IsDeploy() bool {
	return t.Type == TransactionTypeDeploy
}

// IsExecute reports whether the transaction executes a program function.
func (t *Transaction) IsExecute() bool {
	return t.Type == TransactionTypeExecute
}
