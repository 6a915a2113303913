package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/DataDog/dd-trace-go/v2/ddtrace/tracer"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/birbparty/aleo-beacon/aleo"
	"github.com/birbparty/aleo-beacon/internal/database"
	"github.com/birbparty/aleo-beacon/internal/queue"
	"github.com/birbparty/aleo-beacon/internal/storage"
	"github.com/birbparty/aleo-beacon/internal/telemetry"
)

// BlockSource fetches block ranges from a Beacon node
type BlockSource interface {
	GetBlocks(ctx context.Context, start, end uint32) ([]aleo.Block, error)
}

// BlockCache is warmed with every indexed block
type BlockCache interface {
	SetBlocks(ctx context.Context, blocks []aleo.Block) error
}

// Subscriber delivers queue messages to a handler until ctx is done
type Subscriber interface {
	Subscribe(ctx context.Context, consumerName, filterSubject string, handler queue.Handler) error
}

// Processor turns fetch requests into indexed blocks
type Processor struct {
	config    *Config
	source    BlockSource
	store     database.BlockStore
	cache     BlockCache
	publisher queue.Publisher
	archiver  storage.Archiver
	metrics   *Metrics
	log       *logrus.Entry
}

// NewProcessor creates a processor. cache and archiver may be nil.
func NewProcessor(config *Config, source BlockSource, store database.BlockStore, cache BlockCache, publisher queue.Publisher, archiver storage.Archiver, metrics *Metrics) *Processor {
	return &Processor{
		config:    config,
		source:    source,
		store:     store,
		cache:     cache,
		publisher: publisher,
		archiver:  archiver,
		metrics:   metrics,
		log:       telemetry.Entry().WithFields(logrus.Fields{"component": "processor", "network": config.Network}),
	}
}

// ConsumerName is the durable consumer the processor pulls from
func (p *Processor) ConsumerName(base string) string {
	return fmt.Sprintf("%s-%s-fetch", base, p.config.Network)
}

// Run consumes fetch requests until ctx is done
func (p *Processor) Run(ctx context.Context, sub Subscriber, consumerBase string) error {
	p.log.WithField("indexer_id", p.config.IndexerID).Info("Processor starting")

	metricsTicker := time.NewTicker(p.config.MetricsInterval)
	defer metricsTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-metricsTicker.C:
				p.reportMetrics()
			}
		}
	}()

	err := sub.Subscribe(ctx, p.ConsumerName(consumerBase), queue.SubjectFetch(p.config.Network), p.HandleFetch)
	p.reportMetrics()
	return err
}

// HandleFetch is the queue handler for fetch requests. Errors that a
// redelivery cannot fix are marked permanent so the message goes straight
// to the DLQ.
func (p *Processor) HandleFetch(ctx context.Context, msg *nats.Msg) error {
	req, err := queue.UnmarshalFetchRequest(msg.Data)
	if err != nil {
		p.metrics.RecordError("decode")
		return queue.Permanent(fmt.Errorf("invalid fetch request: %w", err))
	}
	if req.Network != p.config.Network {
		p.metrics.RecordError("network")
		return queue.Permanent(fmt.Errorf("fetch request for network %q, indexer serves %q", req.Network, p.config.Network))
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.ProcessTimeout)
	defer cancel()

	if err := p.ProcessRange(ctx, req.Start, req.End); err != nil {
		var verr *aleo.ValidationError
		if errors.As(err, &verr) {
			return queue.Permanent(err)
		}
		return err
	}
	return nil
}

// ProcessRange fetches [start, end), stores the blocks, warms the cache,
// archives and announces each block.
func (p *Processor) ProcessRange(ctx context.Context, start, end uint32) error {
	began := time.Now()
	span, ctx := tracer.StartSpanFromContext(ctx, "indexer.process_range",
		tracer.ServiceName(p.config.IndexerID),
		tracer.ResourceName(queue.SubjectFetch(p.config.Network)),
		tracer.Tag("aleo.network", p.config.Network),
		tracer.Tag("aleo.range_start", start),
		tracer.Tag("aleo.range_end", end),
	)
	var err error
	defer func() { span.Finish(tracer.WithError(err)) }()

	log := p.log.WithContext(ctx).WithFields(logrus.Fields{"start": start, "end": end})

	blocks, err := p.source.GetBlocks(ctx, start, end)
	if err != nil {
		p.metrics.RecordError("fetch")
		return fmt.Errorf("failed to fetch blocks [%d, %d): %w", start, end, err)
	}
	if len(blocks) == 0 {
		log.Debug("Range beyond chain tip, nothing to index")
		return nil
	}

	if err = p.store.SaveBlocks(ctx, p.config.Network, blocks); err != nil {
		p.metrics.RecordError("store")
		return fmt.Errorf("failed to store blocks [%d, %d): %w", start, end, err)
	}

	if p.cache != nil {
		if cerr := p.cache.SetBlocks(ctx, blocks); cerr != nil {
			log.WithError(cerr).Warn("Failed to cache blocks")
		}
	}

	archived, err := p.archiveAndAnnounce(ctx, blocks)
	if err != nil {
		p.metrics.RecordError("publish")
		return err
	}

	if len(archived) > 0 {
		if merr := p.store.MarkArchived(ctx, p.config.Network, archived); merr != nil {
			// Retention archives these again later
			log.WithError(merr).Warn("Failed to mark blocks archived")
		}
	}

	telemetry.RecordBlocksIndexed(len(blocks))
	telemetry.RecordBatchSize("fetch", len(blocks))
	p.metrics.RecordRange(len(blocks), len(archived), time.Since(began))
	span.SetTag("aleo.blocks", len(blocks))

	log.WithFields(logrus.Fields{
		"blocks":      len(blocks),
		"archived":    len(archived),
		"duration_ms": time.Since(began).Milliseconds(),
	}).Debug("Range indexed")
	return nil
}

// archiveAndAnnounce uploads and publishes each block with bounded
// parallelism. Archive failures are logged; publish failures fail the range.
func (p *Processor) archiveAndAnnounce(ctx context.Context, blocks []aleo.Block) ([]uint32, error) {
	var (
		mu       sync.Mutex
		archived []uint32
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.ProcessingConcurrency)

	for i := range blocks {
		block := &blocks[i]
		g.Go(func() error {
			ok := p.archive(gctx, block)
			if ok {
				mu.Lock()
				archived = append(archived, block.Height())
				mu.Unlock()
			}

			event := queue.NewBlockIndexed(p.config.Network, block.Height(), block.BlockHash, len(block.Transactions), ok)
			if err := p.publisher.Publish(gctx, event); err != nil {
				return fmt.Errorf("failed to announce block %d: %w", block.Height(), err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return archived, nil
}

func (p *Processor) archive(ctx context.Context, block *aleo.Block) bool {
	if p.archiver == nil {
		return false
	}

	body, err := json.Marshal(block)
	if err == nil {
		_, err = p.archiver.ArchiveBlock(ctx, p.config.Network, block.Height(), body)
	}
	if err != nil {
		p.metrics.RecordArchiveError()
		p.log.WithContext(ctx).WithError(err).WithField("height", block.Height()).Warn("Failed to archive block")
		return false
	}
	return true
}

func (p *Processor) reportMetrics() {
	stats := p.metrics.GetStats()
	p.log.WithFields(logrus.Fields{
		"ranges_processed": stats["ranges_processed"],
		"ranges_failed":    stats["ranges_failed"],
		"blocks_indexed":   stats["blocks_indexed"],
		"blocks_archived":  stats["blocks_archived"],
		"chain_height":     stats["chain_height"],
		"indexed_height":   stats["indexed_height"],
	}).Info("Indexer metrics")
}
