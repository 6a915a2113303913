// Package databasetest provides an in-memory BlockStore for tests.
package databasetest

import (
	"context"
	"sort"
	"sync"

	"github.com/birbparty/aleo-beacon/aleo"
	"github.com/birbparty/aleo-beacon/internal/database"
)

// MemStore is a BlockStore backed by maps. Set the *Err fields to make the
// matching calls fail.
type MemStore struct {
	mu      sync.Mutex
	records map[string]map[uint32]*database.BlockRecord

	SaveErr   error
	GetErr    error
	LatestErr error
	DeleteErr error
	HealthErr error
}

var _ database.BlockStore = (*MemStore)(nil)

// NewMemStore creates an empty store
func NewMemStore() *MemStore {
	return &MemStore{records: map[string]map[uint32]*database.BlockRecord{}}
}

func (s *MemStore) network(name string) map[uint32]*database.BlockRecord {
	m, ok := s.records[name]
	if !ok {
		m = map[uint32]*database.BlockRecord{}
		s.records[name] = m
	}
	return m
}

// SaveBlock implements database.BlockStore
func (s *MemStore) SaveBlock(ctx context.Context, network string, block *aleo.Block) error {
	return s.SaveBlocks(ctx, network, []aleo.Block{*block})
}

// SaveBlocks implements database.BlockStore
func (s *MemStore) SaveBlocks(ctx context.Context, network string, blocks []aleo.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}

	recs := make([]*database.BlockRecord, 0, len(blocks))
	for i := range blocks {
		rec, _, err := database.NewBlockRecord(network, &blocks[i])
		if err != nil {
			return err
		}
		recs = append(recs, rec)
	}

	m := s.network(network)
	for _, rec := range recs {
		if old, ok := m[rec.Height]; ok {
			rec.Archived = old.Archived
		}
		m[rec.Height] = rec
	}
	return nil
}

// GetBlockByHeight implements database.BlockStore
func (s *MemStore) GetBlockByHeight(ctx context.Context, network string, height uint32) (*database.BlockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	rec, ok := s.network(network)[height]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// GetBlockByHash implements database.BlockStore
func (s *MemStore) GetBlockByHash(ctx context.Context, network, hash string) (*database.BlockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	for _, rec := range s.network(network) {
		if rec.Hash == hash {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, database.ErrNotFound
}

// FindBlockHeightByTransaction implements database.BlockStore
func (s *MemStore) FindBlockHeightByTransaction(ctx context.Context, network, txID string) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetErr != nil {
		return 0, s.GetErr
	}
	for h, rec := range s.network(network) {
		if _, err := rec.Transaction(txID); err == nil {
			return h, nil
		}
	}
	return 0, database.ErrNotFound
}

// LatestIndexedHeight implements database.BlockStore
func (s *MemStore) LatestIndexedHeight(ctx context.Context, network string) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LatestErr != nil {
		return 0, s.LatestErr
	}
	m := s.network(network)
	if len(m) == 0 {
		return 0, database.ErrNotFound
	}
	var max uint32
	for h := range m {
		if h > max {
			max = h
		}
	}
	return max, nil
}

// MarkArchived implements database.BlockStore
func (s *MemStore) MarkArchived(ctx context.Context, network string, heights []uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.network(network)
	for _, h := range heights {
		if rec, ok := m[h]; ok {
			rec.Archived = true
		}
	}
	return nil
}

// ListUnarchivedBelow implements database.BlockStore
func (s *MemStore) ListUnarchivedBelow(ctx context.Context, network string, below uint32, limit int) ([]database.BlockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetErr != nil {
		return nil, s.GetErr
	}

	var out []database.BlockRecord
	for _, h := range s.sortedHeights(network) {
		rec := s.records[network][h]
		if h >= below {
			break
		}
		if rec.Archived {
			continue
		}
		out = append(out, *rec)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// DeleteBelow implements database.BlockStore
func (s *MemStore) DeleteBelow(ctx context.Context, network string, below uint32, onlyArchived bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DeleteErr != nil {
		return 0, s.DeleteErr
	}

	var n int64
	m := s.network(network)
	for h, rec := range m {
		if h >= below || (onlyArchived && !rec.Archived) {
			continue
		}
		delete(m, h)
		n++
	}
	return n, nil
}

// Health implements database.BlockStore
func (s *MemStore) Health(ctx context.Context) error {
	return s.HealthErr
}

// Heights returns the stored heights of network in ascending order
func (s *MemStore) Heights(network string) []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedHeights(network)
}

// IsArchived reports whether the stored block at height is archived
func (s *MemStore) IsArchived(network string, height uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.network(network)[height]
	return ok && rec.Archived
}

func (s *MemStore) sortedHeights(network string) []uint32 {
	m := s.network(network)
	out := make([]uint32, 0, len(m))
	for h := range m {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
