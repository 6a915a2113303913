// Package relay serves the Beacon API from the local cache and index,
// falling back to the upstream node for anything not held locally.
package relay

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/birbparty/aleo-beacon/aleo"
	"github.com/birbparty/aleo-beacon/internal/cache"
	"github.com/birbparty/aleo-beacon/internal/database"
	"github.com/birbparty/aleo-beacon/internal/queue"
	"github.com/birbparty/aleo-beacon/internal/telemetry"
)

// Where a lookup was answered from
const (
	SourceCache    = "cache"
	SourceDatabase = "database"
	SourceUpstream = "upstream"
)

// Upstream is the Beacon node the relay fronts
type Upstream interface {
	LatestHeight(ctx context.Context) (uint32, error)
	LatestHash(ctx context.Context) (string, error)
	LatestBlock(ctx context.Context) (*aleo.Block, error)
	GetBlock(ctx context.Context, height uint32) (*aleo.Block, error)
	GetBlocks(ctx context.Context, start, end uint32) ([]aleo.Block, error)
	GetTransaction(ctx context.Context, id string) (*aleo.Transaction, error)
	GetTransactions(ctx context.Context, height uint32) ([]aleo.ConfirmedTransaction, error)
	GetMemoryPoolTransactions(ctx context.Context) ([]aleo.Transaction, error)
	GetProgram(ctx context.Context, programID string) (string, error)
	FindBlockHash(ctx context.Context, transactionID string) (string, error)
	FindTransitionID(ctx context.Context, inputOrOutputID string) (string, error)
	GetStatePath(ctx context.Context, commitment string) (string, error)
	BroadcastTransaction(ctx context.Context, tx *aleo.Transaction) (string, error)
}

// BlockCache is the network scoped cache the relay reads through
type BlockCache interface {
	GetBlock(ctx context.Context, height uint32) (*aleo.Block, error)
	GetBlocks(ctx context.Context, heights []uint32) (map[uint32]*aleo.Block, error)
	GetBlockHeightByHash(ctx context.Context, hash string) (uint32, error)
	GetTransaction(ctx context.Context, id string) (*aleo.Transaction, error)
	GetProgram(ctx context.Context, programID string) (string, error)
	GetLatestHeight(ctx context.Context) (uint32, error)
	Ping(ctx context.Context) error
	CacheWriter
}

// CacheWriter receives write-backs from the async writer
type CacheWriter interface {
	SetBlock(ctx context.Context, block *aleo.Block) error
	SetTransaction(ctx context.Context, tx *aleo.Transaction) error
	SetProgram(ctx context.Context, programID, source string) error
	SetLatestHeight(ctx context.Context, height uint32) error
}

// Service answers Beacon reads from cache, then the block index, then
// upstream. The store and backfill publisher are optional.
type Service struct {
	network  string
	upstream Upstream
	cache    BlockCache
	store    database.BlockStore
	writer   *AsyncWriter
	backfill queue.Publisher
	metrics  *Metrics
	log      *logrus.Entry
}

// NewService creates a read-through service. store and backfill may be nil.
func NewService(network string, upstream Upstream, cache BlockCache, store database.BlockStore, writer *AsyncWriter, metrics *Metrics) *Service {
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Service{
		network:  network,
		upstream: upstream,
		cache:    cache,
		store:    store,
		writer:   writer,
		metrics:  metrics,
		log:      telemetry.Entry().WithFields(logrus.Fields{"component": "relay", "network": network}),
	}
}

// WithBackfill makes the service ask the indexer for blocks it had to
// fetch from upstream.
func (s *Service) WithBackfill(p queue.Publisher) *Service {
	s.backfill = p
	return s
}

// Network returns the network served
func (s *Service) Network() string {
	return s.network
}

func (s *Service) lookup(resource, source string) string {
	telemetry.RecordLookup(resource, source)
	s.metrics.RecordLookup(source)
	return source
}

// LatestHeight returns the chain tip. The cached value has a short TTL.
func (s *Service) LatestHeight(ctx context.Context) (uint32, string, error) {
	if h, err := s.cache.GetLatestHeight(ctx); err == nil {
		return h, s.lookup("latest_height", SourceCache), nil
	} else if !cache.IsNotFound(err) {
		s.log.WithContext(ctx).WithError(err).Debug("Cache read failed")
	}

	h, err := s.upstream.LatestHeight(ctx)
	if err != nil {
		return 0, "", err
	}
	s.writer.WriteLatestHeight(ctx, h)
	return h, s.lookup("latest_height", SourceUpstream), nil
}

// LatestHash is always answered upstream
func (s *Service) LatestHash(ctx context.Context) (string, string, error) {
	hash, err := s.upstream.LatestHash(ctx)
	if err != nil {
		return "", "", err
	}
	return hash, s.lookup("latest_hash", SourceUpstream), nil
}

// LatestBlock is answered upstream and written back
func (s *Service) LatestBlock(ctx context.Context) (*aleo.Block, string, error) {
	block, err := s.upstream.LatestBlock(ctx)
	if err != nil {
		return nil, "", err
	}
	s.writer.WriteBlock(ctx, block)
	s.writer.WriteLatestHeight(ctx, block.Height())
	return block, s.lookup("latest_block", SourceUpstream), nil
}

// GetBlock returns the block at height
func (s *Service) GetBlock(ctx context.Context, height uint32) (*aleo.Block, string, error) {
	if block, err := s.cache.GetBlock(ctx, height); err == nil {
		return block, s.lookup("block", SourceCache), nil
	}

	if block, ok := s.storedBlock(ctx, height); ok {
		s.writer.WriteBlock(ctx, block)
		return block, s.lookup("block", SourceDatabase), nil
	}

	block, err := s.upstream.GetBlock(ctx, height)
	if err != nil {
		return nil, "", err
	}
	s.writer.WriteBlock(ctx, block)
	s.requestBackfill(ctx, height, height+1)
	return block, s.lookup("block", SourceUpstream), nil
}

// GetBlockByHash resolves a block hash held locally. Upstream has no hash
// lookup so unknown hashes are not found.
func (s *Service) GetBlockByHash(ctx context.Context, hash string) (*aleo.Block, string, error) {
	if height, err := s.cache.GetBlockHeightByHash(ctx, hash); err == nil {
		if block, err := s.cache.GetBlock(ctx, height); err == nil {
			return block, s.lookup("block_hash", SourceCache), nil
		}
	}

	if s.store != nil {
		rec, err := s.store.GetBlockByHash(ctx, s.network, hash)
		switch {
		case err == nil:
			block, err := rec.Block()
			if err != nil {
				return nil, "", err
			}
			s.writer.WriteBlock(ctx, block)
			return block, s.lookup("block_hash", SourceDatabase), nil
		case !errors.Is(err, database.ErrNotFound):
			return nil, "", err
		}
	}
	return nil, "", database.ErrNotFound
}

// GetBlocks returns the blocks in [start, end). Local hits are used up to
// the first gap; the rest of the range comes from upstream.
func (s *Service) GetBlocks(ctx context.Context, start, end uint32) ([]aleo.Block, string, error) {
	if err := aleo.ValidateBlockRange(start, end); err != nil {
		return nil, "", err
	}

	heights := make([]uint32, 0, end-start)
	for h := start; h < end; h++ {
		heights = append(heights, h)
	}

	found, err := s.cache.GetBlocks(ctx, heights)
	if err != nil {
		found = map[uint32]*aleo.Block{}
	}
	source := SourceCache

	blocks := make([]aleo.Block, 0, len(heights))
	next := start
	for ; next < end; next++ {
		block, ok := found[next]
		if !ok {
			block, ok = s.storedBlock(ctx, next)
			if !ok {
				break
			}
			s.writer.WriteBlock(ctx, block)
			source = SourceDatabase
		}
		blocks = append(blocks, *block)
	}

	if next < end {
		rest, err := s.upstream.GetBlocks(ctx, next, end)
		if err != nil {
			return nil, "", err
		}
		for i := range rest {
			s.writer.WriteBlock(ctx, &rest[i])
		}
		blocks = append(blocks, rest...)
		source = SourceUpstream
		if len(rest) > 0 {
			s.requestBackfill(ctx, next, rest[len(rest)-1].Height()+1)
		}
	}
	return blocks, s.lookup("blocks", source), nil
}

// GetTransaction returns a confirmed transaction by id
func (s *Service) GetTransaction(ctx context.Context, id string) (*aleo.Transaction, string, error) {
	if tx, err := s.cache.GetTransaction(ctx, id); err == nil {
		return tx, s.lookup("transaction", SourceCache), nil
	}

	if s.store != nil {
		if height, err := s.store.FindBlockHeightByTransaction(ctx, s.network, id); err == nil {
			if rec, err := s.store.GetBlockByHeight(ctx, s.network, height); err == nil {
				if tx, err := rec.Transaction(id); err == nil {
					s.writer.WriteTransaction(ctx, tx)
					return tx, s.lookup("transaction", SourceDatabase), nil
				}
			}
		}
	}

	tx, err := s.upstream.GetTransaction(ctx, id)
	if err != nil {
		return nil, "", err
	}
	s.writer.WriteTransaction(ctx, tx)
	return tx, s.lookup("transaction", SourceUpstream), nil
}

// GetTransactions returns the confirmed transactions of the block at height
func (s *Service) GetTransactions(ctx context.Context, height uint32) ([]aleo.ConfirmedTransaction, string, error) {
	block, source, err := s.GetBlock(ctx, height)
	if err != nil {
		return nil, "", err
	}
	txs := block.Transactions
	if txs == nil {
		txs = []aleo.ConfirmedTransaction{}
	}
	return txs, source, nil
}

// GetProgram returns a program's source
func (s *Service) GetProgram(ctx context.Context, programID string) (string, string, error) {
	if src, err := s.cache.GetProgram(ctx, programID); err == nil {
		return src, s.lookup("program", SourceCache), nil
	}

	src, err := s.upstream.GetProgram(ctx, programID)
	if err != nil {
		return "", "", err
	}
	s.writer.WriteProgram(ctx, programID, src)
	return src, s.lookup("program", SourceUpstream), nil
}

// FindBlockHash returns the hash of the block containing transactionID
func (s *Service) FindBlockHash(ctx context.Context, transactionID string) (string, string, error) {
	if s.store != nil {
		if height, err := s.store.FindBlockHeightByTransaction(ctx, s.network, transactionID); err == nil {
			if rec, err := s.store.GetBlockByHeight(ctx, s.network, height); err == nil {
				return rec.Hash, s.lookup("find_block_hash", SourceDatabase), nil
			}
		}
	}

	hash, err := s.upstream.FindBlockHash(ctx, transactionID)
	if err != nil {
		return "", "", err
	}
	return hash, s.lookup("find_block_hash", SourceUpstream), nil
}

// GetMemoryPoolTransactions is never cached
func (s *Service) GetMemoryPoolTransactions(ctx context.Context) ([]aleo.Transaction, string, error) {
	txs, err := s.upstream.GetMemoryPoolTransactions(ctx)
	if err != nil {
		return nil, "", err
	}
	return txs, s.lookup("mempool", SourceUpstream), nil
}

// FindTransitionID is passed through
func (s *Service) FindTransitionID(ctx context.Context, inputOrOutputID string) (string, string, error) {
	id, err := s.upstream.FindTransitionID(ctx, inputOrOutputID)
	if err != nil {
		return "", "", err
	}
	return id, s.lookup("find_transition_id", SourceUpstream), nil
}

// GetStatePath is passed through
func (s *Service) GetStatePath(ctx context.Context, commitment string) (string, string, error) {
	path, err := s.upstream.GetStatePath(ctx, commitment)
	if err != nil {
		return "", "", err
	}
	return path, s.lookup("state_path", SourceUpstream), nil
}

// BroadcastTransaction forwards tx to upstream
func (s *Service) BroadcastTransaction(ctx context.Context, tx *aleo.Transaction) (string, error) {
	id, err := s.upstream.BroadcastTransaction(ctx, tx)
	if err != nil {
		return "", err
	}
	s.log.WithContext(ctx).WithField("transaction_id", id).Info("Transaction broadcast")
	return id, nil
}

// storedBlock reads height from the block index
func (s *Service) storedBlock(ctx context.Context, height uint32) (*aleo.Block, bool) {
	if s.store == nil {
		return nil, false
	}
	rec, err := s.store.GetBlockByHeight(ctx, s.network, height)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			s.log.WithContext(ctx).WithError(err).WithField("height", height).Warn("Block index read failed")
		}
		return nil, false
	}
	block, err := rec.Block()
	if err != nil {
		s.log.WithContext(ctx).WithError(err).WithField("height", height).Warn("Stored block is corrupt")
		return nil, false
	}
	return block, true
}

// requestBackfill asks the indexer for [start, end)
func (s *Service) requestBackfill(ctx context.Context, start, end uint32) {
	if s.backfill == nil || end <= start {
		return
	}
	if err := s.backfill.Publish(ctx, queue.NewFetchRequest(s.network, start, end)); err != nil {
		s.log.WithContext(ctx).WithError(err).WithFields(logrus.Fields{
			"start": start,
			"end":   end,
		}).Warn("Failed to publish backfill request")
	}
}
