package relay

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status  string            `json:"status"`
	Service string            `json:"service"`
	Network string            `json:"network"`
	Uptime  string            `json:"uptime"`
	Checks  map[string]string `json:"checks"`
}

// StatsResponse represents relay lookup statistics
type StatsResponse struct {
	TotalRequests    int64            `json:"total_requests"`
	TotalErrors      int64            `json:"total_errors"`
	Lookups          map[string]int64 `json:"lookups"`
	CacheHitRate     float64          `json:"cache_hit_rate"`
	AverageLatencyMs float64          `json:"average_latency_ms"`
	AsyncWriter      AsyncWriterStats `json:"async_writer"`
}

// Error codes
const (
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeInternalError  = "INTERNAL_ERROR"
	ErrCodeUpstream       = "UPSTREAM_ERROR"
	ErrCodeUnavailable    = "UPSTREAM_UNAVAILABLE"
	ErrCodeTimeout        = "TIMEOUT"
	ErrCodeRateLimited    = "RATE_LIMITED"
	ErrCodeWrongNetwork   = "WRONG_NETWORK"
)

// Response header carrying where a read was answered from
const HeaderSource = "X-Aleo-Source"

// NewErrorResponse creates a new error response
func NewErrorResponse(err string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error: err,
		Code:  code,
	}
}

// NewErrorResponseWithDetails creates a new error response with details
func NewErrorResponseWithDetails(err string, code string, details string) *ErrorResponse {
	return &ErrorResponse{
		Error:   err,
		Code:    code,
		Details: details,
	}
}
