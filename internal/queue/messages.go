package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType represents the type of queue message
type MessageType string

const (
	// MessageTypeFetch asks the indexer to fetch and store a block range
	MessageTypeFetch MessageType = "fetch"
	// MessageTypeIndexed announces a block that was stored
	MessageTypeIndexed MessageType = "indexed"
	// MessageTypePruned announces blocks removed by retention
	MessageTypePruned MessageType = "pruned"
)

// Subject layout. Every block subject lives under aleo.blocks.> so one
// stream captures them; the DLQ sits outside that namespace.
const (
	SubjectRoot = "aleo.blocks"
	SubjectDLQ  = "aleo.dlq.blocks"
)

// SubjectFetch is the fetch request subject for network
func SubjectFetch(network string) string {
	return fmt.Sprintf("%s.%s.fetch", SubjectRoot, network)
}

// SubjectIndexed is the block indexed subject for network
func SubjectIndexed(network string) string {
	return fmt.Sprintf("%s.%s.indexed", SubjectRoot, network)
}

// SubjectPruned is the prune notification subject for network
func SubjectPruned(network string) string {
	return fmt.Sprintf("%s.%s.pruned", SubjectRoot, network)
}

// Message is anything that can be published to the blocks stream
type Message interface {
	Subject() string
	// MessageID is used for JetStream de-duplication
	MessageID() string
}

// BaseMessage contains common fields for all messages
type BaseMessage struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Network   string      `json:"network"`
	Timestamp time.Time   `json:"timestamp"`
	Retries   int         `json:"retries,omitempty"`
}

// MessageID implements Message
func (m *BaseMessage) MessageID() string {
	return m.ID
}

func newBase(t MessageType, network, id string) BaseMessage {
	if id == "" {
		id = uuid.NewString()
	}
	return BaseMessage{
		ID:        id,
		Type:      t,
		Network:   network,
		Timestamp: time.Now().UTC(),
	}
}

// FetchRequest asks for the blocks in [Start, End)
type FetchRequest struct {
	BaseMessage
	Start uint32 `json:"start"`
	End   uint32 `json:"end"`
}

// NewFetchRequest creates a fetch request. The id is derived from the range
// so a poller re-publishing the same range inside the duplicate window is
// dropped by JetStream.
func NewFetchRequest(network string, start, end uint32) *FetchRequest {
	return &FetchRequest{
		BaseMessage: newBase(MessageTypeFetch, network, fmt.Sprintf("fetch-%s-%d-%d", network, start, end)),
		Start:       start,
		End:         end,
	}
}

// Subject implements Message
func (m *FetchRequest) Subject() string { return SubjectFetch(m.Network) }

// Size returns the number of blocks requested
func (m *FetchRequest) Size() int {
	if m.End <= m.Start {
		return 0
	}
	return int(m.End - m.Start)
}

// BlockIndexed announces a stored block
type BlockIndexed struct {
	BaseMessage
	Height   uint32 `json:"height"`
	Hash     string `json:"hash"`
	TxCount  int    `json:"tx_count"`
	Archived bool   `json:"archived"`
}

// NewBlockIndexed creates a block indexed event
func NewBlockIndexed(network string, height uint32, hash string, txCount int, archived bool) *BlockIndexed {
	return &BlockIndexed{
		BaseMessage: newBase(MessageTypeIndexed, network, fmt.Sprintf("indexed-%s-%d-%s", network, height, hash)),
		Height:      height,
		Hash:        hash,
		TxCount:     txCount,
		Archived:    archived,
	}
}

// Subject implements Message
func (m *BlockIndexed) Subject() string { return SubjectIndexed(m.Network) }

// PruneNotification announces that blocks below Below were removed
type PruneNotification struct {
	BaseMessage
	Below    uint32 `json:"below"`
	Deleted  int64  `json:"deleted"`
	Archived int    `json:"archived"`
	DryRun   bool   `json:"dry_run,omitempty"`
}

// NewPruneNotification creates a prune notification
func NewPruneNotification(network string, below uint32, deleted int64, archived int, dryRun bool) *PruneNotification {
	return &PruneNotification{
		BaseMessage: newBase(MessageTypePruned, network, ""),
		Below:       below,
		Deleted:     deleted,
		Archived:    archived,
		DryRun:      dryRun,
	}
}

// Subject implements Message
func (m *PruneNotification) Subject() string { return SubjectPruned(m.Network) }

// DLQMessage represents a dead letter queue message
type DLQMessage struct {
	OriginalMessage json.RawMessage `json:"original_message"`
	OriginalSubject string          `json:"original_subject"`
	Error           string          `json:"error"`
	FailedAt        time.Time       `json:"failed_at"`
	Retries         int             `json:"retries"`
	MaxRetries      int             `json:"max_retries"`
}

// Marshal converts the message to JSON bytes
func (m *DLQMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalFetchRequest unmarshals and checks a fetch request
func UnmarshalFetchRequest(data []byte) (*FetchRequest, error) {
	var msg FetchRequest
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Type != MessageTypeFetch {
		return nil, fmt.Errorf("unexpected message type %q", msg.Type)
	}
	if msg.Network == "" {
		return nil, fmt.Errorf("fetch request %s has no network", msg.ID)
	}
	return &msg, nil
}

// UnmarshalBlockIndexed unmarshals a block indexed event
func UnmarshalBlockIndexed(data []byte) (*BlockIndexed, error) {
	var msg BlockIndexed
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// UnmarshalPruneNotification unmarshals a prune notification
func UnmarshalPruneNotification(data []byte) (*PruneNotification, error) {
	var msg PruneNotification
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// UnmarshalDLQMessage unmarshals a DLQ message from JSON
func UnmarshalDLQMessage(data []byte) (*DLQMessage, error) {
	var msg DLQMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
