// Package indexer keeps the Postgres block index in step with the chain.
// The Poller turns the gap between the Beacon tip and the index into fetch
// requests on NATS; the Processor consumes them.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/birbparty/aleo-beacon/internal/database"
	"github.com/birbparty/aleo-beacon/internal/queue"
	"github.com/birbparty/aleo-beacon/internal/telemetry"
)

// TipSource reports the chain tip
type TipSource interface {
	LatestHeight(ctx context.Context) (uint32, error)
}

// LatestHeightCache receives the tip observed by the poller
type LatestHeightCache interface {
	SetLatestHeight(ctx context.Context, height uint32) error
}

// Poller publishes fetch requests for blocks missing from the index
type Poller struct {
	config    *Config
	tip       TipSource
	store     database.BlockStore
	cache     LatestHeightCache
	publisher queue.Publisher
	metrics   *Metrics
	log       *logrus.Entry
	now       func() time.Time

	mu sync.Mutex
	// cursor is the first height not yet requested
	cursor       uint32
	started      bool
	lastIndexed  uint32
	lastProgress time.Time
}

// NewPoller creates a poller. cache may be nil.
func NewPoller(config *Config, tip TipSource, store database.BlockStore, cache LatestHeightCache, publisher queue.Publisher, metrics *Metrics) *Poller {
	return &Poller{
		config:    config,
		tip:       tip,
		store:     store,
		cache:     cache,
		publisher: publisher,
		metrics:   metrics,
		log:       telemetry.Entry().WithFields(logrus.Fields{"component": "poller", "network": config.Network}),
		now:       time.Now,
	}
}

// Run polls every PollInterval until ctx is done
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
			p.log.WithError(err).Warn("Poll failed")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Poll runs one tick and returns the number of fetch requests published.
// Ranges are aligned to RangeSize so a restarted poller re-publishes the
// same message ids and JetStream drops the duplicates.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tip, err := p.tip.LatestHeight(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get chain tip: %w", err)
	}
	telemetry.SetChainHeight(tip)
	if p.cache != nil {
		if err := p.cache.SetLatestHeight(ctx, tip); err != nil {
			p.log.WithError(err).Debug("Failed to cache latest height")
		}
	}

	next, indexed, err := p.nextHeight(ctx)
	if err != nil {
		return 0, err
	}
	telemetry.SetIndexedHeight(indexed)

	published := 0
	for next <= tip && published < p.config.MaxRangesPerTick {
		end := (next/p.config.RangeSize + 1) * p.config.RangeSize
		if end > tip+1 {
			end = tip + 1
		}

		if err := p.publisher.Publish(ctx, queue.NewFetchRequest(p.config.Network, next, end)); err != nil {
			p.metrics.RecordPoll(tip, indexed, published)
			return published, fmt.Errorf("failed to publish fetch request [%d, %d): %w", next, end, err)
		}
		published++
		next = end
		p.cursor = next
	}

	p.metrics.RecordPoll(tip, indexed, published)
	if published > 0 {
		p.log.WithFields(logrus.Fields{
			"tip":     tip,
			"indexed": indexed,
			"ranges":  published,
			"cursor":  p.cursor,
		}).Debug("Published fetch requests")
	}
	return published, nil
}

// nextHeight returns the first height to request and the indexed tip.
// The cursor is rewound to the index when the index has not moved for
// StallTimeout, which re-requests ranges whose messages were dead-lettered.
func (p *Poller) nextHeight(ctx context.Context) (uint32, uint32, error) {
	latest, err := p.store.LatestIndexedHeight(ctx, p.config.Network)
	hasIndex := true
	if errors.Is(err, database.ErrNotFound) {
		hasIndex = false
	} else if err != nil {
		return 0, 0, fmt.Errorf("failed to get indexed height: %w", err)
	}

	floor := p.config.StartHeight
	if hasIndex && latest+1 > floor {
		floor = latest + 1
	}

	now := p.now()
	if !p.started {
		p.started = true
		p.cursor = floor
		p.lastIndexed = latest
		p.lastProgress = now
	}

	if latest != p.lastIndexed {
		p.lastIndexed = latest
		p.lastProgress = now
	}

	switch {
	case p.cursor < floor:
		p.cursor = floor
	case p.cursor > floor && p.config.StallTimeout > 0 && now.Sub(p.lastProgress) >= p.config.StallTimeout:
		p.log.WithFields(logrus.Fields{
			"cursor":  p.cursor,
			"indexed": latest,
		}).Warn("Index stalled, rewinding cursor")
		p.cursor = floor
		p.lastProgress = now
	}

	return p.cursor, latest, nil
}

// Cursor returns the first height not yet requested
func (p *Poller) Cursor() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}
