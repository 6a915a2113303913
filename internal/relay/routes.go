package relay

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/birbparty/aleo-beacon/internal/telemetry"
)

// SetupRoutes configures the Beacon API routes
func SetupRoutes(app *fiber.App, handler *Handler, network string) {
	// Beacon API, mirrored under the network path segment. The guard is
	// attached per route; a group handler would also match /health.
	beacon := app.Group("/:network")
	guard := NetworkGuard(network)

	beacon.Get("/latest/height", guard, handler.LatestHeight)
	beacon.Get("/latest/hash", guard, handler.LatestHash)
	beacon.Get("/latest/block", guard, handler.LatestBlock)

	beacon.Get("/block/:height/transactions", guard, handler.GetTransactions)
	beacon.Get("/block/:id", guard, handler.GetBlock)
	beacon.Get("/blocks", guard, handler.GetBlocks)

	beacon.Get("/transaction/:id", guard, handler.GetTransaction)
	beacon.Post("/transaction/broadcast", guard, handler.Broadcast)
	beacon.Get("/memoryPool/transactions", guard, handler.GetMemoryPool)

	beacon.Get("/program/:id", guard, handler.GetProgram)
	beacon.Get("/find/blockHash/:id", guard, handler.FindBlockHash)
	beacon.Get("/find/transitionID/:id", guard, handler.FindTransitionID)
	beacon.Get("/statePath/:commitment", guard, handler.GetStatePath)

	// Health and metrics endpoints
	app.Get("/health", handler.Health)
	app.Get("/stats", handler.Stats)
	app.Get("/metrics", adaptor.HTTPHandler(telemetry.PrometheusHandler()))

	// Root endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"service": "aleo-relay",
			"network": network,
			"status":  "running",
			"endpoints": fiber.Map{
				"latest":      "GET /" + network + "/latest/{height|hash|block}",
				"block":       "GET /" + network + "/block/{height|hash}",
				"blocks":      "GET /" + network + "/blocks?start={start}&end={end}",
				"transaction": "GET /" + network + "/transaction/{id}",
				"broadcast":   "POST /" + network + "/transaction/broadcast",
				"health":      "GET /health",
				"metrics":     "GET /metrics",
			},
		})
	})

	// 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(
			NewErrorResponse("Endpoint not found", ErrCodeNotFound),
		)
	})
}

// NewApp builds the relay Fiber app with middleware and routes installed
func NewApp(cfg *Config, handler *Handler, metrics *Metrics) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "aleo-relay",
		DisableStartupMessage: true,
		ReadTimeout:           cfg.RequestTimeout,
		WriteTimeout:          cfg.RequestTimeout,
	})
	SetupMiddleware(app, cfg, metrics)
	SetupRoutes(app, handler, cfg.Network)
	return app
}
