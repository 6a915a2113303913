package relay

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/birbparty/aleo-beacon/aleo"
	"github.com/birbparty/aleo-beacon/internal/cache"
	"github.com/birbparty/aleo-beacon/internal/database"
	"github.com/birbparty/aleo-beacon/internal/telemetry"
)

// HealthCheck probes one dependency
type HealthCheck func(ctx context.Context) error

// Handler holds all dependencies for API handlers
type Handler struct {
	service   *Service
	writer    *AsyncWriter
	metrics   *Metrics
	checks    map[string]HealthCheck
	startTime time.Time
}

// NewHandler creates a new handler instance
func NewHandler(service *Service, writer *AsyncWriter, metrics *Metrics, checks map[string]HealthCheck) *Handler {
	return &Handler{
		service:   service,
		writer:    writer,
		metrics:   metrics,
		checks:    checks,
		startTime: time.Now(),
	}
}

// LatestHeight handles GET /:network/latest/height
func (h *Handler) LatestHeight(c *fiber.Ctx) error {
	height, source, err := h.service.LatestHeight(c.UserContext())
	return respond(c, height, source, err)
}

// LatestHash handles GET /:network/latest/hash
func (h *Handler) LatestHash(c *fiber.Ctx) error {
	hash, source, err := h.service.LatestHash(c.UserContext())
	return respond(c, hash, source, err)
}

// LatestBlock handles GET /:network/latest/block
func (h *Handler) LatestBlock(c *fiber.Ctx) error {
	block, source, err := h.service.LatestBlock(c.UserContext())
	return respond(c, block, source, err)
}

// GetBlock handles GET /:network/block/:id where id is a height or a hash
func (h *Handler) GetBlock(c *fiber.Ctx) error {
	id := c.Params("id")
	if height, err := strconv.ParseUint(id, 10, 32); err == nil {
		block, source, err := h.service.GetBlock(c.UserContext(), uint32(height))
		return respond(c, block, source, err)
	}
	block, source, err := h.service.GetBlockByHash(c.UserContext(), id)
	return respond(c, block, source, err)
}

// GetBlocks handles GET /:network/blocks?start=&end=
func (h *Handler) GetBlocks(c *fiber.Ctx) error {
	start, err := parseHeight(c.Query("start"), "start")
	if err != nil {
		return writeError(c, err)
	}
	end, err := parseHeight(c.Query("end"), "end")
	if err != nil {
		return writeError(c, err)
	}
	blocks, source, err := h.service.GetBlocks(c.UserContext(), start, end)
	return respond(c, blocks, source, err)
}

// GetTransactions handles GET /:network/block/:height/transactions
func (h *Handler) GetTransactions(c *fiber.Ctx) error {
	height, err := parseHeight(c.Params("height"), "height")
	if err != nil {
		return writeError(c, err)
	}
	txs, source, err := h.service.GetTransactions(c.UserContext(), height)
	return respond(c, txs, source, err)
}

// GetTransaction handles GET /:network/transaction/:id
func (h *Handler) GetTransaction(c *fiber.Ctx) error {
	tx, source, err := h.service.GetTransaction(c.UserContext(), c.Params("id"))
	return respond(c, tx, source, err)
}

// GetMemoryPool handles GET /:network/memoryPool/transactions
func (h *Handler) GetMemoryPool(c *fiber.Ctx) error {
	txs, source, err := h.service.GetMemoryPoolTransactions(c.UserContext())
	return respond(c, txs, source, err)
}

// GetProgram handles GET /:network/program/:id
func (h *Handler) GetProgram(c *fiber.Ctx) error {
	src, source, err := h.service.GetProgram(c.UserContext(), c.Params("id"))
	return respond(c, src, source, err)
}

// FindBlockHash handles GET /:network/find/blockHash/:id
func (h *Handler) FindBlockHash(c *fiber.Ctx) error {
	hash, source, err := h.service.FindBlockHash(c.UserContext(), c.Params("id"))
	return respond(c, hash, source, err)
}

// FindTransitionID handles GET /:network/find/transitionID/:id
func (h *Handler) FindTransitionID(c *fiber.Ctx) error {
	id, source, err := h.service.FindTransitionID(c.UserContext(), c.Params("id"))
	return respond(c, id, source, err)
}

// GetStatePath handles GET /:network/statePath/:commitment
func (h *Handler) GetStatePath(c *fiber.Ctx) error {
	path, source, err := h.service.GetStatePath(c.UserContext(), c.Params("commitment"))
	return respond(c, path, source, err)
}

// Broadcast handles POST /:network/transaction/broadcast
func (h *Handler) Broadcast(c *fiber.Ctx) error {
	var tx aleo.Transaction
	if err := json.Unmarshal(c.Body(), &tx); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(
			NewErrorResponseWithDetails("Invalid transaction body", ErrCodeInvalidRequest, err.Error()),
		)
	}
	if tx.ID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(
			NewErrorResponse("Transaction id is required", ErrCodeInvalidRequest),
		)
	}

	id, err := h.service.BroadcastTransaction(c.UserContext(), &tx)
	return respond(c, id, SourceUpstream, err)
}

// Health handles GET /health
func (h *Handler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.checks))
	failed := 0
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			checks[name] = "unhealthy: " + err.Error()
			failed++
			continue
		}
		checks[name] = "healthy"
	}

	status, code, gauge := "healthy", fiber.StatusOK, 1.0
	switch {
	case failed > 0 && failed == len(h.checks):
		status, code, gauge = "unhealthy", fiber.StatusServiceUnavailable, 0
	case failed > 0:
		status, gauge = "degraded", 0.5
	}
	UpdateHealthMetric(h.service.Network(), gauge)

	return c.Status(code).JSON(HealthResponse{
		Status:  status,
		Service: "aleo-relay",
		Network: h.service.Network(),
		Uptime:  time.Since(h.startTime).Round(time.Second).String(),
		Checks:  checks,
	})
}

// Stats handles GET /stats
func (h *Handler) Stats(c *fiber.Ctx) error {
	stats := h.metrics.GetStats()
	stats.AsyncWriter = h.writer.Stats()
	return c.JSON(stats)
}

func parseHeight(raw, field string) (uint32, error) {
	if raw == "" {
		return 0, &aleo.ValidationError{Field: field, Message: field + " is required"}
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, &aleo.ValidationError{Field: field, Value: raw, Message: "invalid " + field + ": " + raw}
	}
	return uint32(v), nil
}

// respond writes v as JSON or maps err to an error response
func respond(c *fiber.Ctx, v interface{}, source string, err error) error {
	if err != nil {
		return writeError(c, err)
	}
	c.Set(HeaderSource, source)
	return c.JSON(v)
}

func writeError(c *fiber.Ctx, err error) error {
	status, code := statusFor(err)
	if status >= fiber.StatusInternalServerError {
		telemetry.WithContext(c.UserContext()).WithError(err).WithField("path", c.Path()).Warn("Relay request failed")
	}
	return c.Status(status).JSON(NewErrorResponse(err.Error(), code))
}

// statusFor maps a service error to an HTTP status and error code
func statusFor(err error) (int, string) {
	var verr *aleo.ValidationError
	if errors.As(err, &verr) {
		return fiber.StatusBadRequest, ErrCodeInvalidRequest
	}

	if aleo.IsNotFound(err) || errors.Is(err, database.ErrNotFound) || cache.IsNotFound(err) {
		return fiber.StatusNotFound, ErrCodeNotFound
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fiber.StatusGatewayTimeout, ErrCodeTimeout
	}

	var typed *aleo.Error
	if errors.As(err, &typed) {
		switch typed.Type {
		case aleo.ErrorTypeClient, aleo.ErrorTypeValidation:
			return fiber.StatusBadRequest, ErrCodeInvalidRequest
		case aleo.ErrorTypeRateLimit:
			return fiber.StatusTooManyRequests, ErrCodeRateLimited
		case aleo.ErrorTypeCircuitOpen:
			return fiber.StatusServiceUnavailable, ErrCodeUnavailable
		case aleo.ErrorTypeTimeout, aleo.ErrorTypeCanceled:
			return fiber.StatusGatewayTimeout, ErrCodeTimeout
		default:
			return fiber.StatusBadGateway, ErrCodeUpstream
		}
	}

	var apiErr *aleo.APIError
	if errors.As(err, &apiErr) {
		if apiErr.IsClientError() && apiErr.StatusCode != fiber.StatusTooManyRequests {
			return fiber.StatusBadRequest, ErrCodeInvalidRequest
		}
		return fiber.StatusBadGateway, ErrCodeUpstream
	}

	return fiber.StatusInternalServerError, ErrCodeInternalError
}
