// Package retention prunes old blocks from the block index, archiving them
// to object storage first.
package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/birbparty/aleo-beacon/internal/database"
	"github.com/birbparty/aleo-beacon/internal/queue"
	"github.com/birbparty/aleo-beacon/internal/storage"
	"github.com/birbparty/aleo-beacon/internal/telemetry"
)

// BlockEvictor drops pruned blocks from the cache
type BlockEvictor interface {
	DeleteBlocks(ctx context.Context, blocks map[uint32]string) error
}

// Result summarizes one retention cycle
type Result struct {
	Below    uint32
	Archived int
	Deleted  int64
	DryRun   bool
}

// Service prunes blocks that fall more than KeepBlocks behind the indexed tip
type Service struct {
	store     database.BlockStore
	archiver  storage.Archiver
	cache     BlockEvictor
	publisher queue.Publisher
	config    *Config
	log       *logrus.Entry
}

// NewService creates a retention service. archiver, cache and publisher may be nil.
func NewService(store database.BlockStore, archiver storage.Archiver, cache BlockEvictor, publisher queue.Publisher, config *Config) *Service {
	return &Service{
		store:     store,
		archiver:  archiver,
		cache:     cache,
		publisher: publisher,
		config:    config,
		log: telemetry.Entry().WithFields(logrus.Fields{
			"component": "retention",
			"network":   config.Network,
		}),
	}
}

// Run prunes immediately and then on every interval until ctx is done
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.log.WithFields(logrus.Fields{
		"dry_run":     s.config.DryRun,
		"interval":    s.config.Interval.String(),
		"keep_blocks": s.config.KeepBlocks,
	}).Info("Retention service started")

	s.runLogged(ctx)
	for {
		select {
		case <-ticker.C:
			s.runLogged(ctx)
		case <-ctx.Done():
			s.log.Info("Retention service stopped")
			return
		}
	}
}

func (s *Service) runLogged(ctx context.Context) {
	res, err := s.RunOnce(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.log.WithError(err).Error("Retention cycle failed")
		}
		return
	}
	if res == nil {
		return
	}
	s.log.WithFields(logrus.Fields{
		"below":    res.Below,
		"archived": res.Archived,
		"deleted":  res.Deleted,
		"dry_run":  res.DryRun,
	}).Info("Retention cycle completed")
}

// RunOnce executes one retention cycle. It returns nil when nothing is old
// enough to prune.
func (s *Service) RunOnce(ctx context.Context) (*Result, error) {
	tip, err := s.store.LatestIndexedHeight(ctx, s.config.Network)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read indexed tip: %w", err)
	}
	if tip < s.config.KeepBlocks {
		return nil, nil
	}
	res := &Result{Below: tip - s.config.KeepBlocks + 1, DryRun: s.config.DryRun}

	if s.config.DryRun {
		pending, err := s.store.ListUnarchivedBelow(ctx, s.config.Network, res.Below, s.config.BatchSize)
		if err != nil {
			return nil, fmt.Errorf("failed to list blocks: %w", err)
		}
		res.Archived = len(pending)
		s.log.WithFields(logrus.Fields{"below": res.Below, "unarchived": len(pending)}).
			Info("DRY RUN: would prune blocks")
		s.notify(ctx, res)
		return res, nil
	}

	archive := s.config.ArchiveBeforeDelete && s.archiver != nil
	evict := make(map[uint32]string)
	if archive {
		res.Archived, err = s.archiveBelow(ctx, res.Below, evict)
		if err != nil {
			return nil, err
		}
	}

	res.Deleted, err = s.store.DeleteBelow(ctx, s.config.Network, res.Below, archive)
	if err != nil {
		return nil, fmt.Errorf("failed to delete blocks below %d: %w", res.Below, err)
	}
	telemetry.RecordBlocksPruned(int(res.Deleted))

	// Blocks archived in earlier cycles expire from the cache by TTL.
	if s.cache != nil && len(evict) > 0 {
		if err := s.cache.DeleteBlocks(ctx, evict); err != nil {
			s.log.WithError(err).Warn("Failed to evict pruned blocks from cache")
		}
	}

	s.notify(ctx, res)
	return res, nil
}

// archiveBelow uploads unarchived blocks below height in batches. A batch
// with upload failures ends the pass; those blocks are kept for the next
// cycle.
func (s *Service) archiveBelow(ctx context.Context, below uint32, evict map[uint32]string) (int, error) {
	total := 0
	for {
		batch, err := s.store.ListUnarchivedBelow(ctx, s.config.Network, below, s.config.BatchSize)
		if err != nil {
			return total, fmt.Errorf("failed to list unarchived blocks: %w", err)
		}
		if len(batch) == 0 {
			return total, nil
		}

		heights := make([]uint32, 0, len(batch))
		failed := 0
		for _, rec := range batch {
			if _, err := s.archiver.ArchiveBlock(ctx, s.config.Network, rec.Height, rec.Body); err != nil {
				failed++
				s.log.WithError(err).WithField("height", rec.Height).Warn("Failed to archive block")
				continue
			}
			heights = append(heights, rec.Height)
			evict[rec.Height] = rec.Hash
		}

		if len(heights) > 0 {
			if err := s.store.MarkArchived(ctx, s.config.Network, heights); err != nil {
				return total, fmt.Errorf("failed to mark blocks archived: %w", err)
			}
			total += len(heights)
		}
		if failed > 0 || len(batch) < s.config.BatchSize {
			return total, nil
		}
	}
}

func (s *Service) notify(ctx context.Context, res *Result) {
	if s.publisher == nil {
		return
	}
	msg := queue.NewPruneNotification(s.config.Network, res.Below, res.Deleted, res.Archived, res.DryRun)
	if err := s.publisher.Publish(ctx, msg); err != nil {
		s.log.WithError(err).Warn("Failed to send prune notification")
	}
}
