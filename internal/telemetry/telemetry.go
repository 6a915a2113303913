// Package telemetry wires logging, metrics and tracing for the relay and
// indexer services.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// Init initializes logging, metrics and tracing
func Init(cfg *Config) error {
	if err := InitLogger(cfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if err := InitMetrics(cfg); err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	if err := InitTracing(cfg); err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	Entry().WithField("export_to_file", cfg.ExportToFile).Info("Telemetry initialized")
	return nil
}

// Shutdown flushes spans and closes file outputs
func Shutdown(ctx context.Context) error {
	if fileExporter != nil {
		fileExporter.Stop()
	}
	if err := CloseTracing(ctx); err != nil {
		L().WithError(err).Error("Failed to close tracing")
	}
	if err := CloseLogger(); err != nil {
		L().WithError(err).Error("Failed to close logger")
	}
	return nil
}

// PrometheusHandler returns an HTTP handler for Prometheus metrics
func PrometheusHandler() http.Handler {
	return promhttp.Handler()
}

// FiberMetricsMiddleware opens a span per request and records relay metrics.
// The route pattern, not the raw path, is used as label so block heights do
// not explode cardinality.
func FiberMetricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		ctx, span := StartSpan(c.UserContext(), c.Method()+" "+c.Path())
		defer span.End()
		c.SetUserContext(ctx)

		err := c.Next()

		route := c.Route().Path
		status := c.Response().StatusCode()
		RecordHTTPRequest(c.Method(), route, strconv.Itoa(status), time.Since(start))

		span.SetName(c.Method() + " " + route)
		span.SetAttributes(
			semconv.HTTPMethodKey.String(c.Method()),
			semconv.HTTPTargetKey.String(c.OriginalURL()),
			semconv.HTTPRouteKey.String(route),
			semconv.HTTPStatusCodeKey.Int(status),
			attribute.String("aleo.network", c.Params("network")),
		)

		switch {
		case err != nil:
			RecordError(ctx, err)
		case status >= 500:
			SetErrorStatus(ctx, fmt.Sprintf("HTTP %d", status))
		default:
			SetOKStatus(ctx)
		}
		return err
	}
}

// FiberLoggingMiddleware logs one line per request
func FiberLoggingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		entry := WithContext(c.UserContext()).WithFields(logrus.Fields{
			"method":      c.Method(),
			"path":        c.Path(),
			"status":      c.Response().StatusCode(),
			"duration_ms": time.Since(start).Milliseconds(),
			"ip":          c.IP(),
			"request_id":  c.GetRespHeader(fiber.HeaderXRequestID),
		})

		switch {
		case err != nil:
			entry.WithError(err).Error("Request failed")
		case c.Response().StatusCode() >= 500:
			entry.Warn("Request completed with server error")
		default:
			entry.Debug("Request completed")
		}
		return err
	}
}

// TimeOperation starts a span for operation and returns a func that ends it
// and records the cache operation histogram.
//
//	done := telemetry.TimeOperation(ctx, "cache.get")
//	defer func() { done(status) }()
func TimeOperation(ctx context.Context, operation string) func(status string) {
	start := time.Now()
	ctx, span := StartSpan(ctx, operation)

	return func(status string) {
		duration := time.Since(start)
		RecordCacheOperation(operation, status, duration)

		if status == "error" {
			SetErrorStatus(ctx, operation+" failed")
		} else {
			SetOKStatus(ctx)
		}
		span.End()

		WithContext(ctx).WithFields(logrus.Fields{
			"operation":   operation,
			"status":      status,
			"duration_ms": duration.Milliseconds(),
		}).Trace("Operation completed")
	}
}
