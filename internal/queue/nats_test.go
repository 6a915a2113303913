package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/birbparty/aleo-beacon/internal/queue/queuetest"
)

func testConfig(url string) *Config {
	return &Config{
		URL:                   url,
		Name:                  "aleo-beacon-test",
		StreamName:            "ALEO_BLOCKS",
		StreamMaxAge:          time.Hour,
		StreamMaxBytes:        64 << 20,
		StreamMaxMsgs:         10000,
		StreamMaxMsgSize:      1 << 20,
		StreamReplicas:        1,
		MemoryStorage:         true,
		DuplicatesWindow:      time.Minute,
		ConsumerName:          "test",
		ConsumerMaxDeliver:    2,
		ConsumerAckWait:       5 * time.Second,
		ConsumerMaxAckPending: 100,
		DLQStreamName:         "ALEO_BLOCKS_DLQ",
		DLQMaxRetries:         2,
		FetchBatch:            10,
		FetchTimeout:          100 * time.Millisecond,
	}
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	client, err := NewClient(testConfig(queuetest.RunServer(t)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// subscribe runs Subscribe in the background until the test ends
func subscribe(t *testing.T, client *Client, consumer, subject string, handler Handler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Subscribe(ctx, consumer, subject, handler) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("Subscribe did not return after cancel")
		}
	})
}

func streamMsgs(t *testing.T, client *Client, stream string) uint64 {
	info, err := client.StreamInfo(stream)
	require.NoError(t, err)
	return info.State.Msgs
}

func TestClient_Health(t *testing.T) {
	client := newTestClient(t)
	assert.NoError(t, client.Health())

	require.NoError(t, client.Close())
	assert.Error(t, client.Health())
}

func TestClient_PublishSubscribe(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	received := make(chan *FetchRequest, 1)
	subscribe(t, client, "fetchers", SubjectFetch("testnet3"), func(ctx context.Context, msg *nats.Msg) error {
		req, err := UnmarshalFetchRequest(msg.Data)
		if err != nil {
			return Permanent(err)
		}
		received <- req
		return nil
	})

	require.NoError(t, client.Publish(ctx, NewFetchRequest("testnet3", 10, 20)))

	select {
	case req := <-received:
		assert.Equal(t, uint32(10), req.Start)
		assert.Equal(t, uint32(20), req.End)
	case <-time.After(5 * time.Second):
		t.Fatal("fetch request not delivered")
	}
}

func TestClient_DuplicateFetchRequests(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.Publish(ctx, NewFetchRequest("testnet3", 0, 50)))
	require.NoError(t, client.Publish(ctx, NewFetchRequest("testnet3", 0, 50)))
	require.NoError(t, client.Publish(ctx, NewFetchRequest("testnet3", 50, 100)))

	assert.Equal(t, uint64(2), streamMsgs(t, client, "ALEO_BLOCKS"))
}

func TestClient_PublishCanceledContext(t *testing.T) {
	client := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// the ack may already be in flight; either outcome is acceptable but
	// a canceled context must never block
	done := make(chan struct{})
	go func() {
		_ = client.Publish(ctx, NewBlockIndexed("testnet3", 1, "ab1", 0, false))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked on a canceled context")
	}
}

func TestClient_RetriesThenDLQ(t *testing.T) {
	client := newTestClient(t)

	var attempts int32
	subscribe(t, client, "failing", SubjectFetch("testnet3"), func(ctx context.Context, msg *nats.Msg) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("upstream unavailable")
	})

	require.NoError(t, client.Publish(context.Background(), NewFetchRequest("testnet3", 0, 10)))

	require.Eventually(t, func() bool {
		return streamMsgs(t, client, "ALEO_BLOCKS_DLQ") == 1
	}, 10*time.Second, 50*time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))

	raw, err := client.js.GetLastMsg("ALEO_BLOCKS_DLQ", SubjectDLQ)
	require.NoError(t, err)
	dlqMsg, err := UnmarshalDLQMessage(raw.Data)
	require.NoError(t, err)
	assert.Equal(t, SubjectFetch("testnet3"), dlqMsg.OriginalSubject)
	assert.Equal(t, "upstream unavailable", dlqMsg.Error)
	assert.Equal(t, 2, dlqMsg.MaxRetries)
	assert.Equal(t, "2", raw.Header.Get("X-Delivered"))
}

func TestClient_PermanentErrorSkipsRetries(t *testing.T) {
	client := newTestClient(t)

	var attempts int32
	subscribe(t, client, "strict", SubjectIndexed("testnet3"), func(ctx context.Context, msg *nats.Msg) error {
		atomic.AddInt32(&attempts, 1)
		return Permanent(errors.New("malformed"))
	})

	require.NoError(t, client.Publish(context.Background(), NewBlockIndexed("testnet3", 5, "ab1five", 0, false)))

	require.Eventually(t, func() bool {
		return streamMsgs(t, client, "ALEO_BLOCKS_DLQ") == 1
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))

	raw, err := client.js.GetLastMsg("ALEO_BLOCKS_DLQ", SubjectDLQ)
	require.NoError(t, err)
	dlqMsg, err := UnmarshalDLQMessage(raw.Data)
	require.NoError(t, err)
	assert.Equal(t, 0, dlqMsg.MaxRetries)
}

func TestDLQHandler_Replays(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	var (
		mu      sync.Mutex
		headers []string
	)
	subscribe(t, client, "flaky", SubjectFetch("testnet3"), func(ctx context.Context, msg *nats.Msg) error {
		mu.Lock()
		defer mu.Unlock()
		headers = append(headers, msg.Header.Get(HeaderDLQRetries))
		if len(headers) <= 2 {
			return errors.New("temporary")
		}
		return nil
	})

	require.NoError(t, client.Publish(ctx, NewFetchRequest("testnet3", 0, 10)))
	require.Eventually(t, func() bool {
		return streamMsgs(t, client, "ALEO_BLOCKS_DLQ") == 1
	}, 10*time.Second, 50*time.Millisecond)

	handler := NewDLQHandler(client)
	dlqCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- handler.ProcessDLQ(dlqCtx) }()
	defer func() {
		cancel()
		<-done
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(headers) == 3
	}, 10*time.Second, 50*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"", "", "1"}, headers)
	mu.Unlock()

	stats, err := handler.GetDLQStats()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.TotalMessages)

	require.NoError(t, handler.PurgeDLQ())
	assert.Equal(t, uint64(0), streamMsgs(t, client, "ALEO_BLOCKS_DLQ"))
}

func TestDLQHandler_NextRetryAt(t *testing.T) {
	h := &DLQHandler{config: &Config{DLQRetryInterval: time.Minute}}
	failed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, failed.Add(time.Minute), h.NextRetryAt(&DLQMessage{FailedAt: failed}))
	assert.Equal(t, failed.Add(3*time.Minute), h.NextRetryAt(&DLQMessage{FailedAt: failed, Retries: 2}))
}
