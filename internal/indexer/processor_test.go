package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/birbparty/aleo-beacon/aleo"
	"github.com/birbparty/aleo-beacon/aleo/aleotest"
	"github.com/birbparty/aleo-beacon/internal/database/databasetest"
	"github.com/birbparty/aleo-beacon/internal/queue"
	"github.com/birbparty/aleo-beacon/internal/queue/queuetest"
)

func newBeacon(t *testing.T, server *aleotest.Server) *aleo.Client[aleo.Testnet3] {
	t.Helper()
	cfg := aleo.DefaultConfig().WithRetryStrategy(&aleo.ConstantBackoffStrategy{
		Interval: time.Millisecond,
		Budget:   aleo.RetryBudget{MaxAttempts: 2},
	})
	client, err := aleo.NewClientWithConfig[aleo.Testnet3](server.BaseURL(), "testnet3", cfg)
	require.NoError(t, err)
	return client
}

func mustBlock(t *testing.T, height uint32) *aleo.Block {
	t.Helper()
	data, err := json.Marshal(aleotest.BlockJSON(height))
	require.NoError(t, err)
	var b aleo.Block
	require.NoError(t, json.Unmarshal(data, &b))
	return &b
}

func fetchMsg(t *testing.T, req *queue.FetchRequest) *nats.Msg {
	t.Helper()
	data, err := json.Marshal(req)
	require.NoError(t, err)
	return &nats.Msg{Subject: req.Subject(), Data: data}
}

type processorFixture struct {
	processor *Processor
	store     *databasetest.MemStore
	cache     *mockBlockCache
	pub       *recordingPublisher
	archiver  *mockArchiver
}

func newProcessorFixture(t *testing.T, tip uint32) *processorFixture {
	t.Helper()
	server := aleotest.NewServer("testnet3", tip)
	t.Cleanup(server.Close)

	f := &processorFixture{
		store:    databasetest.NewMemStore(),
		cache:    &mockBlockCache{},
		pub:      &recordingPublisher{},
		archiver: &mockArchiver{},
	}
	f.processor = NewProcessor(testConfig(), newBeacon(t, server), f.store, f.cache, f.pub, f.archiver, NewMetrics())
	return f
}

func TestProcessor_HandleFetch(t *testing.T) {
	f := newProcessorFixture(t, 20)
	f.cache.On("SetBlocks", mock.Anything, mock.MatchedBy(func(b []aleo.Block) bool { return len(b) == 10 })).Return(nil).Once()
	f.archiver.On("ArchiveBlock", mock.Anything, "testnet3", uint32(3), mock.Anything).Return("", errors.New("spaces unavailable")).Once()
	f.archiver.On("ArchiveBlock", mock.Anything, "testnet3", mock.Anything, mock.Anything).Return("key", nil)

	err := f.processor.HandleFetch(context.Background(), fetchMsg(t, queue.NewFetchRequest("testnet3", 0, 10)))
	require.NoError(t, err)

	assert.Equal(t, []uint32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, f.store.Heights("testnet3"))
	assert.True(t, f.store.IsArchived("testnet3", 2))
	assert.False(t, f.store.IsArchived("testnet3", 3))

	events := f.pub.indexed()
	require.Len(t, events, 10)
	assert.Equal(t, aleotest.BlockHash(7), events[7].Hash)
	assert.Equal(t, 1, events[7].TxCount)
	assert.True(t, events[7].Archived)
	assert.False(t, events[3].Archived)

	stats := f.processor.metrics.GetStats()
	assert.Equal(t, int64(10), stats["blocks_indexed"])
	assert.Equal(t, int64(9), stats["blocks_archived"])
	assert.Equal(t, int64(1), stats["archive_errors"])

	f.cache.AssertExpectations(t)
	f.archiver.AssertNumberOfCalls(t, "ArchiveBlock", 10)
}

func TestProcessor_ArchivedBodyIsBlockJSON(t *testing.T) {
	f := newProcessorFixture(t, 5)
	f.cache.On("SetBlocks", mock.Anything, mock.Anything).Return(nil)
	f.archiver.On("ArchiveBlock", mock.Anything, "testnet3", uint32(4), mock.MatchedBy(func(body []byte) bool {
		var b aleo.Block
		return json.Unmarshal(body, &b) == nil && b.BlockHash == aleotest.BlockHash(4)
	})).Return("key", nil).Once()

	require.NoError(t, f.processor.ProcessRange(context.Background(), 4, 5))
	f.archiver.AssertExpectations(t)
}

func TestProcessor_WithoutOptionalDependencies(t *testing.T) {
	server := aleotest.NewServer("testnet3", 5)
	defer server.Close()
	store := databasetest.NewMemStore()
	pub := &recordingPublisher{}

	p := NewProcessor(testConfig(), newBeacon(t, server), store, nil, pub, nil, NewMetrics())
	require.NoError(t, p.ProcessRange(context.Background(), 0, 6))

	assert.Len(t, store.Heights("testnet3"), 6)
	for _, ev := range pub.indexed() {
		assert.False(t, ev.Archived)
	}
}

func TestProcessor_BeyondTip(t *testing.T) {
	f := newProcessorFixture(t, 20)

	require.NoError(t, f.processor.ProcessRange(context.Background(), 30, 40))
	assert.Empty(t, f.store.Heights("testnet3"))
	assert.Empty(t, f.pub.indexed())
}

func TestProcessor_Errors(t *testing.T) {
	tests := []struct {
		name      string
		msg       func(t *testing.T) *nats.Msg
		setup     func(f *processorFixture)
		retryable bool
	}{
		{
			name: "malformed message",
			msg: func(t *testing.T) *nats.Msg {
				return &nats.Msg{Data: []byte("{")}
			},
		},
		{
			name: "other network",
			msg: func(t *testing.T) *nats.Msg {
				return fetchMsg(t, queue.NewFetchRequest("mainnet", 0, 10))
			},
		},
		{
			name: "invalid range",
			msg: func(t *testing.T) *nats.Msg {
				return fetchMsg(t, &queue.FetchRequest{
					BaseMessage: queue.BaseMessage{ID: "x", Type: queue.MessageTypeFetch, Network: "testnet3"},
					Start:       10,
					End:         5,
				})
			},
		},
		{
			name: "store failure",
			msg: func(t *testing.T) *nats.Msg {
				return fetchMsg(t, queue.NewFetchRequest("testnet3", 0, 10))
			},
			setup: func(f *processorFixture) {
				f.store.SaveErr = errors.New("deadlock detected")
			},
			retryable: true,
		},
		{
			name: "publish failure",
			msg: func(t *testing.T) *nats.Msg {
				return fetchMsg(t, queue.NewFetchRequest("testnet3", 0, 10))
			},
			setup: func(f *processorFixture) {
				f.cache.On("SetBlocks", mock.Anything, mock.Anything).Return(nil)
				f.archiver.On("ArchiveBlock", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("key", nil)
				f.pub.err = errors.New("nats timeout")
			},
			retryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newProcessorFixture(t, 20)
			if tt.setup != nil {
				tt.setup(f)
			}

			err := f.processor.HandleFetch(context.Background(), tt.msg(t))
			require.Error(t, err)
			assert.Equal(t, tt.retryable, queue.IsRetryable(err))
			assert.Equal(t, int64(1), f.processor.metrics.GetStats()["ranges_failed"])
		})
	}
}

func TestIndexer_EndToEnd(t *testing.T) {
	server := aleotest.NewServer("testnet3", 120)
	defer server.Close()

	qc, err := queue.NewClient(&queue.Config{
		URL:                   queuetest.RunServer(t),
		Name:                  "indexer-test",
		StreamName:            "ALEO_BLOCKS",
		StreamMaxAge:          time.Hour,
		StreamMaxBytes:        64 << 20,
		StreamMaxMsgs:         10000,
		StreamMaxMsgSize:      1 << 20,
		StreamReplicas:        1,
		MemoryStorage:         true,
		DuplicatesWindow:      time.Minute,
		ConsumerName:          "aleo-indexer",
		ConsumerMaxDeliver:    3,
		ConsumerAckWait:       10 * time.Second,
		ConsumerMaxAckPending: 100,
		DLQStreamName:         "ALEO_BLOCKS_DLQ",
		DLQMaxRetries:         1,
		FetchBatch:            5,
		FetchTimeout:          100 * time.Millisecond,
	})
	require.NoError(t, err)
	defer qc.Close()

	beacon := newBeacon(t, server)
	store := databasetest.NewMemStore()
	metrics := NewMetrics()
	cfg := testConfig()

	poller := NewPoller(cfg, beacon, store, nil, qc, metrics)
	processor := NewProcessor(cfg, beacon, store, nil, qc, nil, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 2)
	go func() { done <- poller.Run(ctx) }()
	go func() { done <- processor.Run(ctx, qc, "aleo-indexer") }()

	require.Eventually(t, func() bool {
		return len(store.Heights("testnet3")) == 121
	}, 15*time.Second, 50*time.Millisecond)

	latest, err := store.LatestIndexedHeight(context.Background(), "testnet3")
	require.NoError(t, err)
	assert.Equal(t, uint32(120), latest)

	cancel()
	assert.NoError(t, <-done)
	assert.NoError(t, <-done)
}
