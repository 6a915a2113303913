package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

var (
	metricsOnce     sync.Once
	otelMetricsOnce sync.Once

	// Beacon client
	clientRequestsTotal   *prometheus.CounterVec
	clientRequestDuration *prometheus.HistogramVec
	clientRetriesTotal    *prometheus.CounterVec
	circuitState          *prometheus.GaugeVec

	// Relay
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	relayLookupsTotal   *prometheus.CounterVec
	cacheOperation      *prometheus.HistogramVec

	// Indexer
	chainHeight          prometheus.Gauge
	indexedHeight        prometheus.Gauge
	blocksIndexedTotal   prometheus.Counter
	messagesProcessed    *prometheus.CounterVec
	messageProcessingDur *prometheus.HistogramVec
	batchSize            *prometheus.HistogramVec
	dlqMessagesTotal     *prometheus.CounterVec

	// Retention
	blocksPrunedTotal   prometheus.Counter
	blocksArchivedTotal prometheus.Counter

	serviceUp prometheus.Gauge

	fileExporter *FileMetricsExporter
)

// InitMetrics registers the Prometheus collectors and, when enabled, the
// OTLP meter provider.
func InitMetrics(cfg *Config) error {
	metricsOnce.Do(initPrometheusMetrics)

	var err error
	otelMetricsOnce.Do(func() {
		if cfg.EnableMetrics && !cfg.ExportToFile {
			err = initOTELMetrics(cfg)
		}

		if cfg.ExportToFile && cfg.MetricsFilePath != "" {
			fileExporter = &FileMetricsExporter{
				filePath: cfg.MetricsFilePath,
				gatherer: prometheus.DefaultGatherer,
				stop:     make(chan struct{}),
			}
			go fileExporter.run(time.Duration(cfg.MetricsInterval) * time.Second)
		}

		serviceUp.Set(1)
	})
	return err
}

func ensureMetrics() {
	metricsOnce.Do(initPrometheusMetrics)
}

func initPrometheusMetrics() {
	clientRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aleo_client_requests_total",
		Help: "Beacon API requests by endpoint pattern and outcome",
	}, []string{"method", "endpoint", "outcome"})

	clientRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aleo_client_request_duration_seconds",
		Help:    "Beacon API request duration including retries",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"})

	clientRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aleo_client_retries_total",
		Help: "Beacon API retry attempts",
	}, []string{"method", "endpoint"})

	circuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "aleo_client_circuit_state",
		Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
	}, []string{"endpoint"})

	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aleo_relay_http_requests_total",
		Help: "Relay HTTP requests",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aleo_relay_http_request_duration_seconds",
		Help:    "Relay HTTP request duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	relayLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aleo_relay_lookups_total",
		Help: "Relay reads by the layer that answered (redis, postgres, upstream)",
	}, []string{"resource", "source"})

	cacheOperation = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aleo_cache_operation_duration_seconds",
		Help:    "Duration of Redis cache operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "status"})

	chainHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aleo_chain_height",
		Help: "Latest height reported by the Beacon node",
	})

	indexedHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aleo_indexed_height",
		Help: "Highest block height stored in Postgres",
	})

	blocksIndexedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aleo_blocks_indexed_total",
		Help: "Blocks fetched and stored by the indexer",
	})

	messagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aleo_queue_messages_processed_total",
		Help: "Queue messages processed",
	}, []string{"type", "status"})

	messageProcessingDur = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aleo_queue_message_processing_duration_seconds",
		Help:    "Queue message processing duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	batchSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aleo_batch_size",
		Help:    "Size of processing batches",
		Buckets: []float64{1, 5, 10, 25, 50, 100},
	}, []string{"type"})

	dlqMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aleo_dlq_messages_total",
		Help: "Messages sent to the dead letter queue",
	}, []string{"reason"})

	blocksPrunedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aleo_blocks_pruned_total",
		Help: "Blocks deleted from Postgres by retention",
	})

	blocksArchivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aleo_blocks_archived_total",
		Help: "Blocks written to the object store archive",
	})

	serviceUp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aleo_service_up",
		Help: "Whether the service is up (1) or down (0)",
	})
}

func initOTELMetrics(cfg *Config) error {
	ctx := context.Background()

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(cfg.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return fmt.Errorf("failed to create metrics exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(
				exporter,
				sdkmetric.WithInterval(time.Duration(cfg.MetricsInterval)*time.Second),
			),
		),
	)
	otel.SetMeterProvider(provider)
	return nil
}

// FileMetricsExporter periodically dumps the aleo_* Prometheus series to a
// JSON file for local collectors.
type FileMetricsExporter struct {
	filePath string
	gatherer prometheus.Gatherer
	stop     chan struct{}
	stopOnce sync.Once
}

func (f *FileMetricsExporter) run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stop:
			return
		case <-ticker.C:
			if err := f.export(); err != nil {
				L().WithError(err).Error("Failed to export metrics to file")
			}
		}
	}
}

// Stop ends the export loop.
func (f *FileMetricsExporter) Stop() {
	f.stopOnce.Do(func() { close(f.stop) })
}

func (f *FileMetricsExporter) export() error {
	families, err := f.gatherer.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}

	snapshot := map[string]interface{}{"timestamp": time.Now().Unix()}
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), "aleo_") {
			continue
		}
		snapshot[mf.GetName()] = sumFamily(mf)
	}

	if err := os.MkdirAll(filepath.Dir(f.filePath), 0755); err != nil {
		return err
	}
	file, err := os.Create(f.filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(snapshot)
}

// sumFamily adds up every series of a counter or gauge family. Histograms
// report their sample count.
func sumFamily(mf *dto.MetricFamily) float64 {
	var total float64
	for _, m := range mf.GetMetric() {
		switch {
		case m.GetCounter() != nil:
			total += m.GetCounter().GetValue()
		case m.GetGauge() != nil:
			total += m.GetGauge().GetValue()
		case m.GetHistogram() != nil:
			total += float64(m.GetHistogram().GetSampleCount())
		}
	}
	return total
}

// RecordClientRequest records one Beacon API call. outcome is "success" or
// the aleo error type.
func RecordClientRequest(method, endpoint, outcome string, duration time.Duration) {
	ensureMetrics()
	clientRequestsTotal.WithLabelValues(method, endpoint, outcome).Inc()
	clientRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordClientRetry records a retry of a Beacon API call
func RecordClientRetry(method, endpoint string) {
	ensureMetrics()
	clientRetriesTotal.WithLabelValues(method, endpoint).Inc()
}

// SetCircuitState records the breaker state for endpoint
func SetCircuitState(endpoint string, state int) {
	ensureMetrics()
	circuitState.WithLabelValues(endpoint).Set(float64(state))
}

// RecordHTTPRequest records a relay HTTP request
func RecordHTTPRequest(method, route, status string, duration time.Duration) {
	ensureMetrics()
	httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordLookup records which layer answered a relay read
func RecordLookup(resource, source string) {
	ensureMetrics()
	relayLookupsTotal.WithLabelValues(resource, source).Inc()
}

// RecordCacheOperation records a cache operation duration
func RecordCacheOperation(operation, status string, duration time.Duration) {
	ensureMetrics()
	cacheOperation.WithLabelValues(operation, status).Observe(duration.Seconds())
}

// SetChainHeight records the latest height seen on the node
func SetChainHeight(h uint32) {
	ensureMetrics()
	chainHeight.Set(float64(h))
}

// SetIndexedHeight records the highest stored height
func SetIndexedHeight(h uint32) {
	ensureMetrics()
	indexedHeight.Set(float64(h))
}

// RecordBlocksIndexed adds n to the indexed block counter
func RecordBlocksIndexed(n int) {
	ensureMetrics()
	blocksIndexedTotal.Add(float64(n))
}

// RecordMessageProcessed records a processed queue message
func RecordMessageProcessed(msgType, status string, duration time.Duration) {
	ensureMetrics()
	messagesProcessed.WithLabelValues(msgType, status).Inc()
	messageProcessingDur.WithLabelValues(msgType).Observe(duration.Seconds())
}

// RecordBatchSize records the size of a processing batch
func RecordBatchSize(batchType string, size int) {
	ensureMetrics()
	batchSize.WithLabelValues(batchType).Observe(float64(size))
}

// RecordDLQMessage records a message sent to the DLQ
func RecordDLQMessage(reason string) {
	ensureMetrics()
	dlqMessagesTotal.WithLabelValues(reason).Inc()
}

// RecordBlocksPruned adds n to the pruned block counter
func RecordBlocksPruned(n int) {
	ensureMetrics()
	blocksPrunedTotal.Add(float64(n))
}

// RecordBlockArchived counts one archived block
func RecordBlockArchived() {
	ensureMetrics()
	blocksArchivedTotal.Inc()
}
