package indexer

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/birbparty/aleo-beacon/aleo"
	"github.com/birbparty/aleo-beacon/internal/queue"
)

// recordingPublisher keeps every published message
type recordingPublisher struct {
	mu   sync.Mutex
	msgs []queue.Message
	err  error
}

func (p *recordingPublisher) Publish(ctx context.Context, msg queue.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *recordingPublisher) fetchRanges() [][2]uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out [][2]uint32
	for _, m := range p.msgs {
		if req, ok := m.(*queue.FetchRequest); ok {
			out = append(out, [2]uint32{req.Start, req.End})
		}
	}
	return out
}

func (p *recordingPublisher) indexed() map[uint32]*queue.BlockIndexed {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := map[uint32]*queue.BlockIndexed{}
	for _, m := range p.msgs {
		if ev, ok := m.(*queue.BlockIndexed); ok {
			out[ev.Height] = ev
		}
	}
	return out
}

// mockArchiver is a testify mock of storage.Archiver
type mockArchiver struct {
	mock.Mock
}

func (m *mockArchiver) ArchiveBlock(ctx context.Context, network string, height uint32, body []byte) (string, error) {
	args := m.Called(ctx, network, height, body)
	return args.String(0), args.Error(1)
}

// mockBlockCache is a testify mock of BlockCache and LatestHeightCache
type mockBlockCache struct {
	mock.Mock
}

func (m *mockBlockCache) SetBlocks(ctx context.Context, blocks []aleo.Block) error {
	args := m.Called(ctx, blocks)
	return args.Error(0)
}

func (m *mockBlockCache) SetLatestHeight(ctx context.Context, height uint32) error {
	args := m.Called(ctx, height)
	return args.Error(0)
}

type stubTip struct {
	mu     sync.Mutex
	height uint32
	err    error
}

func (s *stubTip) LatestHeight(ctx context.Context) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.height, s.err
}

func testConfig() *Config {
	return &Config{
		IndexerID:             "test",
		Network:               "testnet3",
		PollInterval:          50 * time.Millisecond,
		RangeSize:             50,
		MaxRangesPerTick:      3,
		StallTimeout:          time.Minute,
		ProcessingConcurrency: 4,
		ProcessTimeout:        10 * time.Second,
		MetricsInterval:       time.Minute,
	}
}
