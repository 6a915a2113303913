package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/DataDog/dd-trace-go/v2/ddtrace/tracer"
	"github.com/sirupsen/logrus"

	"github.com/birbparty/aleo-beacon/aleo"
	"github.com/birbparty/aleo-beacon/internal/telemetry"
)

// WriteKind names what a write request carries
type WriteKind string

const (
	WriteBlock        WriteKind = "block"
	WriteTransaction  WriteKind = "transaction"
	WriteProgram      WriteKind = "program"
	WriteLatestHeight WriteKind = "latest_height"
)

// WriteRequest represents an async write-back to the cache
type WriteRequest struct {
	Ctx       context.Context // Traced context for span propagation
	Kind      WriteKind
	Block     *aleo.Block
	Tx        *aleo.Transaction
	ProgramID string
	Source    string
	Height    uint32
	Retries   int
}

// AsyncWriterStats provides statistics about the async writer
type AsyncWriterStats struct {
	QueueDepth    int   `json:"queue_depth"`
	QueueCapacity int   `json:"queue_capacity"`
	WorkerCount   int   `json:"worker_count"`
	Written       int64 `json:"written"`
	Dropped       int64 `json:"dropped"`
	Failed        int64 `json:"failed"`
}

// AsyncWriter writes relay responses back to the cache off the request path.
// A nil *AsyncWriter drops every write.
type AsyncWriter struct {
	cache    CacheWriter
	network  string
	queue    chan WriteRequest
	workers  int
	maxRetry int
	backoff  time.Duration
	log      *logrus.Entry

	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	written int64
	dropped int64
	failed  int64
}

// NewAsyncWriter creates a new async writer with worker pool
func NewAsyncWriter(cache CacheWriter, cfg *Config) *AsyncWriter {
	aw := &AsyncWriter{
		cache:    cache,
		network:  cfg.Network,
		queue:    make(chan WriteRequest, cfg.WriteQueueSize),
		workers:  cfg.WriteWorkers,
		maxRetry: cfg.WriteMaxRetries,
		backoff:  cfg.WriteRetryBackoff,
		log:      telemetry.Entry().WithField("component", "async-writer"),
	}
	initializeAsyncMetrics(cfg.Network, cfg.WriteQueueSize)

	// Start worker goroutines
	for i := 0; i < aw.workers; i++ {
		aw.wg.Add(1)
		go aw.worker(i)
	}

	return aw
}

// WriteBlock queues a block write-back
func (aw *AsyncWriter) WriteBlock(ctx context.Context, block *aleo.Block) {
	if block == nil {
		return
	}
	aw.enqueue(WriteRequest{Ctx: ctx, Kind: WriteBlock, Block: block, Height: block.Height()})
}

// WriteTransaction queues a transaction write-back
func (aw *AsyncWriter) WriteTransaction(ctx context.Context, tx *aleo.Transaction) {
	if tx == nil {
		return
	}
	aw.enqueue(WriteRequest{Ctx: ctx, Kind: WriteTransaction, Tx: tx})
}

// WriteProgram queues a program write-back
func (aw *AsyncWriter) WriteProgram(ctx context.Context, programID, source string) {
	aw.enqueue(WriteRequest{Ctx: ctx, Kind: WriteProgram, ProgramID: programID, Source: source})
}

// WriteLatestHeight queues a tip write-back
func (aw *AsyncWriter) WriteLatestHeight(ctx context.Context, height uint32) {
	aw.enqueue(WriteRequest{Ctx: ctx, Kind: WriteLatestHeight, Height: height})
}

func (aw *AsyncWriter) enqueue(req WriteRequest) {
	if aw == nil {
		return
	}
	// The request context ends with the response.
	req.Ctx = context.WithoutCancel(req.Ctx)

	aw.mu.Lock()
	defer aw.mu.Unlock()
	if aw.closed {
		aw.dropped++
		return
	}

	select {
	case aw.queue <- req:
		asyncQueueDepth.WithLabelValues(aw.network).Set(float64(len(aw.queue)))
	default:
		// Queue full; the response was still served
		aw.dropped++
		aw.log.WithField("kind", req.Kind).Debug("Write queue full, dropping write-back")
		asyncWriteErrors.WithLabelValues(aw.network, "queue_full").Inc()
	}
}

// worker processes write requests from the queue
func (aw *AsyncWriter) worker(id int) {
	defer aw.wg.Done()

	for req := range aw.queue {
		err := aw.write(req)

		if err != nil {
			if req.Retries < aw.maxRetry && !aw.isClosed() {
				req.Retries++
				time.Sleep(time.Duration(req.Retries) * aw.backoff)
				aw.requeue(id, req)
			} else {
				aw.mu.Lock()
				aw.failed++
				aw.mu.Unlock()
				aw.log.WithError(err).WithFields(logrus.Fields{
					"worker": id,
					"kind":   req.Kind,
				}).Warn("Write-back failed")
				asyncWriteErrors.WithLabelValues(aw.network, "max_retries_exceeded").Inc()
			}
		} else {
			aw.mu.Lock()
			aw.written++
			aw.mu.Unlock()
		}

		asyncQueueDepth.WithLabelValues(aw.network).Set(float64(len(aw.queue)))
	}
}

func (aw *AsyncWriter) write(req WriteRequest) error {
	span, ctx := tracer.StartSpanFromContext(req.Ctx, "relay.async_write",
		tracer.ServiceName("aleo-relay-async-writer"),
		tracer.ResourceName(string(req.Kind)),
		tracer.SpanType("cache"),
		tracer.Tag("aleo.network", aw.network),
	)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var err error
	switch req.Kind {
	case WriteBlock:
		err = aw.cache.SetBlock(ctx, req.Block)
	case WriteTransaction:
		err = aw.cache.SetTransaction(ctx, req.Tx)
	case WriteProgram:
		err = aw.cache.SetProgram(ctx, req.ProgramID, req.Source)
	case WriteLatestHeight:
		err = aw.cache.SetLatestHeight(ctx, req.Height)
	default:
		err = errors.New("unknown write kind " + string(req.Kind))
	}

	span.Finish(tracer.WithError(err))
	return err
}

func (aw *AsyncWriter) requeue(id int, req WriteRequest) {
	aw.mu.Lock()
	defer aw.mu.Unlock()
	if aw.closed {
		aw.failed++
		return
	}
	select {
	case aw.queue <- req:
		aw.log.WithFields(logrus.Fields{"worker": id, "kind": req.Kind, "retry": req.Retries}).Debug("Requeued write-back")
	default:
		aw.failed++
		asyncWriteErrors.WithLabelValues(aw.network, "requeue_failed").Inc()
	}
}

func (aw *AsyncWriter) isClosed() bool {
	aw.mu.RLock()
	defer aw.mu.RUnlock()
	return aw.closed
}

// QueueDepth returns the current queue depth
func (aw *AsyncWriter) QueueDepth() int {
	if aw == nil {
		return 0
	}
	return len(aw.queue)
}

// Stats returns current statistics
func (aw *AsyncWriter) Stats() AsyncWriterStats {
	if aw == nil {
		return AsyncWriterStats{}
	}
	aw.mu.RLock()
	defer aw.mu.RUnlock()
	return AsyncWriterStats{
		QueueDepth:    len(aw.queue),
		QueueCapacity: cap(aw.queue),
		WorkerCount:   aw.workers,
		Written:       aw.written,
		Dropped:       aw.dropped,
		Failed:        aw.failed,
	}
}

// Shutdown stops accepting writes and waits for queued ones until ctx is done
func (aw *AsyncWriter) Shutdown(ctx context.Context) error {
	if aw == nil {
		return nil
	}
	aw.mu.Lock()
	if !aw.closed {
		aw.closed = true
		close(aw.queue)
	}
	aw.mu.Unlock()

	done := make(chan struct{})
	go func() {
		aw.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
