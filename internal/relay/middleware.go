package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	fibertrace "github.com/DataDog/dd-trace-go/contrib/gofiber/fiber.v2/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/birbparty/aleo-beacon/internal/telemetry"
)

// HeaderNetwork optionally pins the network a client expects
const HeaderNetwork = "X-Aleo-Network"

// SetupMiddleware configures all middleware for the application
func SetupMiddleware(app *fiber.App, cfg *Config, metrics *Metrics) {
	app.Use(requestid.New())

	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	app.Use(fibertrace.Middleware(fibertrace.WithService(cfg.ServiceName)))
	app.Use(telemetry.FiberLoggingMiddleware())
	app.Use(telemetry.FiberMetricsMiddleware())

	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, " + HeaderNetwork,
	}))

	app.Use(errorHandler())
	app.Use(timingMiddleware())
	app.Use(MetricsMiddleware(metrics))

	if cfg.RateLimit > 0 {
		app.Use(limiter.New(limiter.Config{
			Max:        cfg.RateLimit,
			Expiration: time.Minute,
			Next: func(c *fiber.Ctx) bool {
				return c.Path() == "/health" || c.Path() == "/metrics"
			},
			LimitReached: func(c *fiber.Ctx) error {
				return c.Status(fiber.StatusTooManyRequests).JSON(
					NewErrorResponse("Rate limit exceeded", ErrCodeRateLimited),
				)
			},
		}))
	}

	if cfg.RequestTimeout > 0 {
		app.Use(requestTimeout(cfg.RequestTimeout))
	}
}

// errorHandler turns errors returned by handlers into JSON error responses
func errorHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()
		if err == nil {
			return nil
		}

		code := fiber.StatusInternalServerError
		message := "Internal Server Error"
		errCode := ErrCodeInternalError

		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
			message = fe.Message
		}

		switch code {
		case fiber.StatusNotFound:
			errCode = ErrCodeNotFound
		case fiber.StatusBadRequest:
			errCode = ErrCodeInvalidRequest
		case fiber.StatusRequestTimeout:
			errCode = ErrCodeTimeout
		case fiber.StatusTooManyRequests:
			errCode = ErrCodeRateLimited
		}

		telemetry.WithContext(c.UserContext()).WithError(err).WithField("path", c.Path()).Error("Unhandled request error")
		return c.Status(code).JSON(NewErrorResponse(message, errCode))
	}
}

// timingMiddleware adds request timing headers
func timingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		c.Set("X-Response-Time", fmt.Sprintf("%d ms", time.Since(start).Milliseconds()))
		return err
	}
}

// requestTimeout bounds the user context handed to the service
func requestTimeout(d time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), d)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	}
}

// MetricsMiddleware tracks request metrics
func MetricsMiddleware(metrics *Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		metrics.RecordRequest(c.Response().StatusCode(), time.Since(start))
		return err
	}
}

// NetworkGuard rejects requests addressed to another network. The path
// parameter decides which network is asked for; a mismatching
// X-Aleo-Network header is a client error.
func NetworkGuard(network string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if requested := c.Params("network"); requested != network {
			return c.Status(fiber.StatusNotFound).JSON(
				NewErrorResponseWithDetails("Unknown network", ErrCodeWrongNetwork,
					fmt.Sprintf("this relay serves %s", network)),
			)
		}
		if header := c.Get(HeaderNetwork); header != "" && header != network {
			return c.Status(fiber.StatusBadRequest).JSON(
				NewErrorResponseWithDetails("Network header does not match path", ErrCodeWrongNetwork,
					fmt.Sprintf("header %s, path %s", header, network)),
			)
		}
		return c.Next()
	}
}
