package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/birbparty/aleo-beacon/aleo"
	"github.com/birbparty/aleo-beacon/internal/telemetry"
)

// NetworkCache stores typed Beacon data for one network on top of a Cache.
// Blocks, transactions and programs never change once final and use the
// long TTL; the chain tip uses the short one.
type NetworkCache struct {
	client    Cache
	keys      *KeyBuilder
	blockTTL  time.Duration
	latestTTL time.Duration
}

// NewNetworkCache creates a cache for network backed by client.
func NewNetworkCache(client Cache, network string, blockTTL, latestTTL time.Duration) *NetworkCache {
	return &NetworkCache{
		client:    client,
		keys:      NewKeyBuilder(network),
		blockTTL:  blockTTL,
		latestTTL: latestTTL,
	}
}

// Keys returns the key builder
func (nc *NetworkCache) Keys() *KeyBuilder {
	return nc.keys
}

// GetBlock returns the cached block at height or ErrKeyNotFound
func (nc *NetworkCache) GetBlock(ctx context.Context, height uint32) (*aleo.Block, error) {
	var block aleo.Block
	if err := nc.getJSON(ctx, "cache.get_block", nc.keys.BlockKey(height), &block); err != nil {
		return nil, err
	}
	return &block, nil
}

// SetBlock caches block under its height and indexes its hash
func (nc *NetworkCache) SetBlock(ctx context.Context, block *aleo.Block) error {
	return nc.SetBlocks(ctx, []aleo.Block{*block})
}

// SetBlocks caches blocks and their hash index in one round trip
func (nc *NetworkCache) SetBlocks(ctx context.Context, blocks []aleo.Block) (err error) {
	if len(blocks) == 0 {
		return nil
	}
	done := telemetry.TimeOperation(ctx, "cache.set_blocks")
	defer func() { done(status(err)) }()

	items := make(map[string][]byte, len(blocks)*2)
	for i := range blocks {
		b := &blocks[i]
		data, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("failed to encode block %d: %w", b.Height(), err)
		}
		items[nc.keys.BlockKey(b.Height())] = data
		if b.BlockHash != "" {
			items[nc.keys.BlockHashKey(b.BlockHash)] = []byte(strconv.FormatUint(uint64(b.Height()), 10))
		}
	}
	return nc.client.SetMultiple(ctx, items, nc.blockTTL)
}

// GetBlocks returns the cached blocks among heights, keyed by height
func (nc *NetworkCache) GetBlocks(ctx context.Context, heights []uint32) (_ map[uint32]*aleo.Block, err error) {
	done := telemetry.TimeOperation(ctx, "cache.get_blocks")
	defer func() { done(status(err)) }()

	keys := make([]string, len(heights))
	byKey := make(map[string]uint32, len(heights))
	for i, h := range heights {
		keys[i] = nc.keys.BlockKey(h)
		byKey[keys[i]] = h
	}

	raw, err := nc.client.GetMultiple(ctx, keys)
	if err != nil {
		return nil, err
	}

	blocks := make(map[uint32]*aleo.Block, len(raw))
	for key, data := range raw {
		var b aleo.Block
		if err := json.Unmarshal(data, &b); err != nil {
			// a corrupt entry is treated as a miss
			continue
		}
		blocks[byKey[key]] = &b
	}
	return blocks, nil
}

// GetBlockHeightByHash resolves a block hash through the hash index
func (nc *NetworkCache) GetBlockHeightByHash(ctx context.Context, hash string) (uint32, error) {
	data, err := nc.get(ctx, "cache.get_block_hash", nc.keys.BlockHashKey(hash))
	if err != nil {
		return 0, err
	}
	h, err := strconv.ParseUint(string(data), 10, 32)
	if err != nil {
		return 0, NewCacheError("corrupt block hash entry", false).WithError(err)
	}
	return uint32(h), nil
}

// GetTransaction returns a cached transaction or ErrKeyNotFound
func (nc *NetworkCache) GetTransaction(ctx context.Context, id string) (*aleo.Transaction, error) {
	var tx aleo.Transaction
	if err := nc.getJSON(ctx, "cache.get_transaction", nc.keys.TransactionKey(id), &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// SetTransaction caches a transaction by its id
func (nc *NetworkCache) SetTransaction(ctx context.Context, tx *aleo.Transaction) error {
	return nc.setJSON(ctx, "cache.set_transaction", nc.keys.TransactionKey(tx.ID), tx, nc.blockTTL)
}

// GetProgram returns a cached program source or ErrKeyNotFound
func (nc *NetworkCache) GetProgram(ctx context.Context, programID string) (string, error) {
	data, err := nc.get(ctx, "cache.get_program", nc.keys.ProgramKey(programID))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// SetProgram caches a program source
func (nc *NetworkCache) SetProgram(ctx context.Context, programID, source string) (err error) {
	done := telemetry.TimeOperation(ctx, "cache.set_program")
	defer func() { done(status(err)) }()
	return nc.client.Set(ctx, nc.keys.ProgramKey(programID), []byte(source), nc.blockTTL)
}

// GetLatestHeight returns the cached chain tip or ErrKeyNotFound
func (nc *NetworkCache) GetLatestHeight(ctx context.Context) (uint32, error) {
	data, err := nc.get(ctx, "cache.get_latest_height", nc.keys.LatestHeightKey())
	if err != nil {
		return 0, err
	}
	h, err := strconv.ParseUint(string(data), 10, 32)
	if err != nil {
		return 0, NewCacheError("corrupt latest height entry", false).WithError(err)
	}
	return uint32(h), nil
}

// SetLatestHeight caches the chain tip with the short TTL
func (nc *NetworkCache) SetLatestHeight(ctx context.Context, height uint32) (err error) {
	done := telemetry.TimeOperation(ctx, "cache.set_latest_height")
	defer func() { done(status(err)) }()
	return nc.client.Set(ctx, nc.keys.LatestHeightKey(), []byte(strconv.FormatUint(uint64(height), 10)), nc.latestTTL)
}

// DeleteBlocks evicts blocks and their hash index entries
func (nc *NetworkCache) DeleteBlocks(ctx context.Context, blocks map[uint32]string) (err error) {
	if len(blocks) == 0 {
		return nil
	}
	done := telemetry.TimeOperation(ctx, "cache.delete_blocks")
	defer func() { done(status(err)) }()

	keys := make([]string, 0, len(blocks)*2)
	for height, hash := range blocks {
		keys = append(keys, nc.keys.BlockKey(height))
		if hash != "" {
			keys = append(keys, nc.keys.BlockHashKey(hash))
		}
	}
	return nc.client.DeleteMultiple(ctx, keys)
}

type patternDeleter interface {
	DeletePattern(ctx context.Context, pattern string) (int, error)
}

// Purge removes every key of the network. It needs a backend that can
// delete by pattern.
func (nc *NetworkCache) Purge(ctx context.Context) (int, error) {
	pd, ok := nc.client.(patternDeleter)
	if !ok {
		return 0, fmt.Errorf("cache backend %T cannot delete by pattern", nc.client)
	}
	return pd.DeletePattern(ctx, nc.keys.BuildPattern(""))
}

// Ping checks the backend
func (nc *NetworkCache) Ping(ctx context.Context) error {
	return nc.client.Ping(ctx)
}

func (nc *NetworkCache) get(ctx context.Context, operation, key string) (data []byte, err error) {
	done := telemetry.TimeOperation(ctx, operation)
	defer func() { done(status(err)) }()
	return nc.client.Get(ctx, key)
}

func (nc *NetworkCache) getJSON(ctx context.Context, operation, key string, v interface{}) error {
	data, err := nc.get(ctx, operation, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return NewCacheError("failed to decode cached value", false).WithError(err)
	}
	return nil
}

func (nc *NetworkCache) setJSON(ctx context.Context, operation, key string, v interface{}, ttl time.Duration) (err error) {
	done := telemetry.TimeOperation(ctx, operation)
	defer func() { done(status(err)) }()

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode value: %w", err)
	}
	return nc.client.Set(ctx, key, data, ttl)
}

func status(err error) string {
	switch {
	case err == nil:
		return "success"
	case IsNotFound(err):
		return "miss"
	default:
		return "error"
	}
}
