package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DataDog/dd-trace-go/v2/ddtrace/tracer"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/birbparty/aleo-beacon/aleo"
	"github.com/birbparty/aleo-beacon/internal/cache"
	"github.com/birbparty/aleo-beacon/internal/database"
	"github.com/birbparty/aleo-beacon/internal/indexer"
	"github.com/birbparty/aleo-beacon/internal/queue"
	"github.com/birbparty/aleo-beacon/internal/retention"
	"github.com/birbparty/aleo-beacon/internal/storage"
	"github.com/birbparty/aleo-beacon/internal/telemetry"
)

func main() {
	telemetryConfig := telemetry.NewConfigFromEnv("aleo-indexer")
	if err := telemetry.Init(telemetryConfig); err != nil {
		logrus.Fatalf("Failed to initialize telemetry: %v", err)
	}
	log := telemetry.Entry()
	log.Info("🐦 Aleo Beacon indexer starting...")

	if err := tracer.Start(
		tracer.WithService(telemetryConfig.ServiceName),
		tracer.WithEnv(telemetryConfig.Environment),
		tracer.WithServiceVersion(telemetryConfig.ServiceVersion),
	); err != nil {
		log.WithError(err).Warn("DataDog tracer not started")
	}
	defer tracer.Stop()

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize configurations
	indexerConfig, err := indexer.NewConfigFromEnv()
	if err != nil {
		log.WithError(err).Fatal("Failed to load indexer config")
	}

	dbConfig, err := database.NewConfigFromEnv()
	if err != nil {
		log.WithError(err).Fatal("Failed to load database config")
	}

	cacheConfig, err := cache.NewConfigFromEnv()
	if err != nil {
		log.WithError(err).Fatal("Failed to load cache config")
	}

	queueConfig, err := queue.NewConfigFromEnv()
	if err != nil {
		log.WithError(err).Fatal("Failed to load queue config")
	}

	retentionConfig, err := retention.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("Failed to load retention config")
	}

	// Beacon client
	client, err := aleo.NewClientWithConfig[aleo.Testnet3](
		indexerConfig.BeaconURL,
		indexerConfig.Network,
		aleo.DefaultConfig().WithObserver(telemetry.NewClientObserver()),
	)
	if err != nil {
		log.WithError(err).Fatal("Failed to create Beacon client")
	}

	// Initialize database
	db, err := database.NewDB(dbConfig)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx); err != nil {
		log.WithError(err).Fatal("Failed to apply schema")
	}
	store := database.NewBlockRepository(db)
	log.Info("✅ Connected to PostgreSQL")

	// Initialize Redis cache
	redisCache, err := cache.NewRedisCache(cacheConfig)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redisCache.Close()
	networkCache := cache.NewNetworkCache(redisCache, indexerConfig.Network, cacheConfig.BlockTTL, cacheConfig.LatestTTL)
	log.Info("✅ Connected to Redis")

	// Initialize NATS queue
	queueClient, err := queue.NewClient(queueConfig)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to NATS")
	}
	defer queueClient.Close()
	log.Info("✅ Connected to NATS JetStream")

	// Initialize archive bucket (optional)
	var archiver storage.Archiver
	archiveConfig := storage.NewConfigFromEnv()
	if archiveConfig.Enabled {
		archiveClient, err := storage.NewArchiveClient(archiveConfig)
		if err != nil {
			log.WithError(err).Warn("⚠️ Failed to initialize archive client. Archival will be disabled.")
		} else {
			archiver = archiveClient
			log.WithField("bucket", archiveConfig.Bucket).Info("✅ Archive bucket configured")
		}
	} else {
		log.Info("⚠️ Archive not configured. Archival will be disabled.")
	}
	if archiver == nil && retentionConfig.ArchiveBeforeDelete {
		log.Warn("⚠️ Archive before delete is enabled but no archive is configured. Disabling archival.")
		retentionConfig.ArchiveBeforeDelete = false
	}

	// Indexer components
	metrics := indexer.NewMetrics()
	poller := indexer.NewPoller(indexerConfig, client, store, networkCache, queueClient, metrics)
	processor := indexer.NewProcessor(indexerConfig, client, store, networkCache, queueClient, archiver, metrics)
	dlqHandler := queue.NewDLQHandler(queueClient)

	healthServer := indexer.NewHealthServer(indexerConfig.HealthCheckPort, metrics, map[string]indexer.HealthCheck{
		"database": db.Health,
		"cache":    redisCache.Ping,
		"nats":     func(context.Context) error { return queueClient.Health() },
		"upstream": func(ctx context.Context) error { _, err := client.LatestHeight(ctx); return err },
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.WithField("port", indexerConfig.HealthCheckPort).Info("🩺 Health server listening")
		return healthServer.ListenAndServe()
	})
	g.Go(func() error {
		return processor.Run(gctx, queueClient, queueConfig.ConsumerName)
	})
	g.Go(func() error {
		return poller.Run(gctx)
	})
	g.Go(func() error {
		return dlqHandler.ProcessDLQ(gctx)
	})
	if retentionConfig.Enabled {
		retentionService := retention.NewService(store, archiver, networkCache, queueClient, retentionConfig)
		g.Go(func() error {
			log.WithFields(logrus.Fields{
				"keep_blocks": retentionConfig.KeepBlocks,
				"dry_run":     retentionConfig.DryRun,
			}).Info("🧹 Starting retention service...")
			retentionService.Run(gctx)
			return nil
		})
	}

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigChan:
			log.WithField("signal", sig.String()).Info("🛑 Shutting down gracefully...")
		case <-gctx.Done():
		}
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("Health server shutdown error")
		}
	}()

	err = g.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if shutdownErr := telemetry.Shutdown(shutdownCtx); shutdownErr != nil {
		log.WithError(shutdownErr).Error("Telemetry shutdown error")
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("Indexer stopped with error")
	}
	log.Info("✅ Indexer shutdown complete")
}
