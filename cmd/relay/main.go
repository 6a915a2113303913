package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/DataDog/dd-trace-go/v2/ddtrace/tracer"
	"github.com/sirupsen/logrus"

	"github.com/birbparty/aleo-beacon/aleo"
	"github.com/birbparty/aleo-beacon/internal/cache"
	"github.com/birbparty/aleo-beacon/internal/database"
	"github.com/birbparty/aleo-beacon/internal/queue"
	"github.com/birbparty/aleo-beacon/internal/relay"
	"github.com/birbparty/aleo-beacon/internal/telemetry"
)

func main() {
	telemetryConfig := telemetry.NewConfigFromEnv("aleo-relay")
	if err := telemetry.Init(telemetryConfig); err != nil {
		logrus.Fatalf("Failed to initialize telemetry: %v", err)
	}
	log := telemetry.Entry()
	log.Info("🛰️ Aleo Beacon relay starting...")

	if err := tracer.Start(
		tracer.WithService(telemetryConfig.ServiceName),
		tracer.WithEnv(telemetryConfig.Environment),
		tracer.WithServiceVersion(telemetryConfig.ServiceVersion),
	); err != nil {
		log.WithError(err).Warn("DataDog tracer not started")
	}
	defer tracer.Stop()

	cfg, err := relay.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("Failed to load relay config")
	}

	// Upstream Beacon node
	clientConfig := aleo.DefaultConfig().
		WithObserver(telemetry.NewClientObserver()).
		WithTimeout(cfg.RequestTimeout)
	upstream, err := aleo.NewClientWithConfig[aleo.Testnet3](cfg.BeaconURL, cfg.Network, clientConfig)
	if err != nil {
		log.WithError(err).Fatal("Failed to create Beacon client")
	}
	log.WithFields(logrus.Fields{
		"beacon_url": cfg.BeaconURL,
		"transport":  aleo.Mode().String(),
	}).Info("✅ Beacon client ready")

	// Redis cache
	cacheConfig, err := cache.NewConfigFromEnv()
	if err != nil {
		log.WithError(err).Fatal("Failed to load cache config")
	}
	redisCache, err := cache.NewRedisCache(cacheConfig)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redisCache.Close()
	networkCache := cache.NewNetworkCache(redisCache, cfg.Network, cacheConfig.BlockTTL, cacheConfig.LatestTTL)
	log.Info("✅ Connected to Redis")

	checks := map[string]relay.HealthCheck{
		"cache":    networkCache.Ping,
		"upstream": func(ctx context.Context) error { _, err := upstream.LatestHeight(ctx); return err },
	}

	// Postgres block index (optional, read only)
	var store database.BlockStore
	dbConfig, err := database.NewConfigFromEnv()
	if err != nil {
		log.WithError(err).Fatal("Failed to load database config")
	}
	db, err := database.NewDB(dbConfig)
	if err != nil {
		log.WithError(err).Warn("⚠️ PostgreSQL unavailable. Serving from cache and upstream only.")
	} else {
		defer db.Close()
		store = database.NewBlockRepository(db)
		checks["database"] = db.Health
		log.Info("✅ Connected to PostgreSQL")
	}

	// Async cache writer and read-through service
	writer := relay.NewAsyncWriter(networkCache, cfg)
	metrics := relay.NewMetrics()
	service := relay.NewService(cfg.Network, upstream, networkCache, store, writer, metrics)

	// NATS backfill publisher (optional)
	if cfg.Backfill {
		queueConfig, err := queue.NewConfigFromEnv()
		if err != nil {
			log.WithError(err).Fatal("Failed to load queue config")
		}
		queueClient, err := queue.NewClient(queueConfig)
		if err != nil {
			log.WithError(err).Warn("⚠️ NATS unavailable. Backfill disabled.")
		} else {
			defer queueClient.Close()
			service.WithBackfill(queueClient)
			checks["nats"] = func(context.Context) error { return queueClient.Health() }
			log.Info("✅ Connected to NATS JetStream")
		}
	}

	handler := relay.NewHandler(service, writer, metrics, checks)
	app := relay.NewApp(cfg, handler, metrics)

	// Handle graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan

		log.WithField("signal", sig.String()).Info("🛑 Shutting down relay...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()

		// Stop accepting requests before draining pending cache writes
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.WithError(err).Error("Server shutdown error")
		}
		if err := writer.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("Async writer did not drain")
		}
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("Telemetry shutdown error")
		}
	}()

	log.WithFields(logrus.Fields{
		"addr":    cfg.Addr(),
		"network": cfg.Network,
	}).Info("🚀 Relay listening")
	if err := app.Listen(cfg.Addr()); err != nil {
		log.WithError(err).Fatal("Server failed")
	}
	<-done
	log.Info("✅ Relay shutdown complete")
}
