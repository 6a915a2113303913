package cache

import (
	"strconv"
	"strings"
)

const (
	// Separator is the delimiter used in key construction
	Separator = ":"
	// Prefix is the namespace every key starts with
	Prefix = "aleo"
)

// Key components
const (
	componentBlock       = "block"
	componentBlockHash   = "blockhash"
	componentTransaction = "tx"
	componentProgram     = "program"
	componentLatest      = "latest"
)

// KeyBuilder builds network-scoped keys of the form
// aleo:{network}:{component}:{identifiers}.
type KeyBuilder struct {
	network string
}

// NewKeyBuilder creates a KeyBuilder for network, e.g. "testnet3".
func NewKeyBuilder(network string) *KeyBuilder {
	return &KeyBuilder{network: strings.TrimSpace(network)}
}

// Network returns the network the builder scopes keys to
func (kb *KeyBuilder) Network() string {
	return kb.network
}

// BuildKey joins components under the network prefix
func (kb *KeyBuilder) BuildKey(components ...string) string {
	parts := make([]string, 0, len(components)+2)
	parts = append(parts, Prefix, kb.network)
	parts = append(parts, components...)
	return strings.Join(parts, Separator)
}

// ParseKey splits a key into its network and components. ok is false for
// keys outside the aleo namespace.
func (kb *KeyBuilder) ParseKey(key string) (network string, components []string, ok bool) {
	parts := strings.Split(key, Separator)
	if len(parts) < 2 || parts[0] != Prefix {
		return "", nil, false
	}
	if len(parts) > 2 {
		components = parts[2:]
	}
	return parts[1], components, true
}

// BuildPattern returns a SCAN pattern for keys of this network whose first
// component starts with prefix. An empty prefix matches the whole network.
func (kb *KeyBuilder) BuildPattern(prefix string) string {
	base := Prefix + Separator + kb.network + Separator
	return base + prefix + "*"
}

// IsNetworkKey reports whether key belongs to this builder's network
func (kb *KeyBuilder) IsNetworkKey(key string) bool {
	return strings.HasPrefix(key, Prefix+Separator+kb.network+Separator)
}

// BlockKey is the key of the block at height
func (kb *KeyBuilder) BlockKey(height uint32) string {
	return kb.BuildKey(componentBlock, strconv.FormatUint(uint64(height), 10))
}

// BlockHashKey maps a block hash to its height
func (kb *KeyBuilder) BlockHashKey(hash string) string {
	return kb.BuildKey(componentBlockHash, hash)
}

// TransactionKey is the key of a transaction by id
func (kb *KeyBuilder) TransactionKey(id string) string {
	return kb.BuildKey(componentTransaction, id)
}

// ProgramKey is the key of a program source by program id
func (kb *KeyBuilder) ProgramKey(programID string) string {
	return kb.BuildKey(componentProgram, programID)
}

// LatestHeightKey is the key of the cached chain tip height
func (kb *KeyBuilder) LatestHeightKey() string {
	return kb.BuildKey(componentLatest, "height")
}
