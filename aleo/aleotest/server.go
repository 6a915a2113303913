// Package aleotest provides an in-process Beacon API for tests.
package aleotest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// HandlerFunc answers one request with a status and a JSON-encodable body.
// A nil body writes no content.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) (int, interface{})

// RecordedRequest stores information about a received request
type RecordedRequest struct {
	Method  string
	Path    string
	Query   string
	Headers http.Header
	Body    []byte
	Time    time.Time
}

// Server is a fake Beacon node serving a deterministic chain of blocks
// 0..Height for one network. Routes can be overridden with RegisterHandler.
type Server struct {
	*httptest.Server
	Network string

	mu           sync.RWMutex
	height       uint32
	handlers     map[string]HandlerFunc
	mempool      []map[string]interface{}
	programs     map[string]string
	broadcasts   [][]byte
	requestCount atomic.Int32
	requests     []RecordedRequest
}

// NewServer starts a fake node for network whose tip is at height.
func NewServer(network string, height uint32) *Server {
	s := &Server{
		Network:  network,
		height:   height,
		handlers: make(map[string]HandlerFunc),
		programs: map[string]string{
			"credits.aleo": "program credits.aleo;\n\nrecord credits:\n    owner as address.private;\n    microcredits as u64.private;\n",
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRequest)
	s.Server = httptest.NewServer(mux)
	return s
}

// BaseURL is the value to pass to aleo.NewClient.
func (s *Server) BaseURL() string {
	return s.Server.URL
}

// SetHeight moves the chain tip.
func (s *Server) SetHeight(h uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.height = h
}

// Height returns the current chain tip.
func (s *Server) Height() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.height
}

// AddMempoolTransaction adds an unconfirmed transaction with the given id.
func (s *Server) AddMempoolTransaction(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mempool = append(s.mempool, TransactionJSON(id))
}

// AddProgram registers program source under id.
func (s *Server) AddProgram(id, source string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.programs[id] = source
}

// Broadcasts returns the bodies received on transaction/broadcast.
func (s *Server) Broadcasts() [][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([][]byte, len(s.broadcasts))
	copy(out, s.broadcasts)
	return out
}

// RegisterHandler overrides a route. pattern is "METHOD path" with the path
// relative to the network, for example "GET latest/height". A pattern ending
// in "/" matches by prefix.
func (s *Server) RegisterHandler(pattern string, handler HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[pattern] = handler
}

// WithErrorResponse makes pattern fail with statusCode and a plain text body,
// the way snarkOS reports errors.
func (s *Server) WithErrorResponse(pattern string, statusCode int, message string) {
	s.RegisterHandler(pattern, func(w http.ResponseWriter, r *http.Request) (int, interface{}) {
		return statusCode, rawText(message)
	})
}

// WithDelayedResponse delays pattern before delegating to handler, or to the
// default route when handler is nil.
func (s *Server) WithDelayedResponse(pattern string, delay time.Duration, handler HandlerFunc) {
	s.RegisterHandler(pattern, func(w http.ResponseWriter, r *http.Request) (int, interface{}) {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return http.StatusServiceUnavailable, nil
		}
		if handler == nil {
			return s.route(r, strings.TrimPrefix(r.URL.Path, "/"+s.Network+"/"))
		}
		return handler(w, r)
	})
}

// WithRetryResponse fails pattern failCount times with failStatus, then
// serves the default route.
func (s *Server) WithRetryResponse(pattern string, failCount int, failStatus int) {
	var attempts atomic.Int32
	s.RegisterHandler(pattern, func(w http.ResponseWriter, r *http.Request) (int, interface{}) {
		if int(attempts.Add(1)) <= failCount {
			return failStatus, rawText("temporary failure")
		}
		return s.route(r, strings.TrimPrefix(r.URL.Path, "/"+s.Network+"/"))
	})
}

// GetRequestCount returns the total number of requests received
func (s *Server) GetRequestCount() int {
	return int(s.requestCount.Load())
}

// GetRequests returns all recorded requests
func (s *Server) GetRequests() []RecordedRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]RecordedRequest, len(s.requests))
	copy(result, s.requests)
	return result
}

// Reset clears all recorded requests
func (s *Server) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requestCount.Store(0)
	s.requests = s.requests[:0]
}

type rawText string

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	var body []byte
	if r.Body != nil {
		body, _ = io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	s.mu.Lock()
	s.requests = append(s.requests, RecordedRequest{
		Method:  r.Method,
		Path:    r.URL.EscapedPath(),
		Query:   r.URL.RawQuery,
		Headers: r.Header.Clone(),
		Body:    body,
		Time:    time.Now(),
	})
	s.mu.Unlock()
	s.requestCount.Add(1)

	prefix := "/" + s.Network + "/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		writeResponse(w, http.StatusNotFound, rawText("Not Found"))
		return
	}
	rel := strings.TrimPrefix(r.URL.Path, prefix)

	pattern := r.Method + " " + rel
	s.mu.RLock()
	handler, exact := s.handlers[pattern]
	if !exact {
		for p, h := range s.handlers {
			if strings.HasSuffix(p, "/") && strings.HasPrefix(pattern, p) {
				handler = h
				break
			}
		}
	}
	s.mu.RUnlock()

	var status int
	var resp interface{}
	if handler != nil {
		status, resp = handler(w, r)
	} else {
		status, resp = s.route(r, rel)
	}
	writeResponse(w, status, resp)
}

func writeResponse(w http.ResponseWriter, status int, resp interface{}) {
	if text, ok := resp.(rawText); ok {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, string(text))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if resp != nil {
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// route serves the default chain.
func (s *Server) route(r *http.Request, rel string) (int, interface{}) {
	s.mu.RLock()
	tip := s.height
	s.mu.RUnlock()

	parts := strings.Split(rel, "/")

	switch {
	case r.Method == http.MethodPost && rel == "transaction/broadcast":
		body, _ := io.ReadAll(r.Body)
		var tx struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(body, &tx); err != nil || tx.ID == "" {
			return http.StatusBadRequest, rawText("Invalid transaction")
		}
		s.mu.Lock()
		s.broadcasts = append(s.broadcasts, body)
		s.mu.Unlock()
		return http.StatusOK, tx.ID

	case r.Method != http.MethodGet:
		return http.StatusMethodNotAllowed, rawText("Method Not Allowed")

	case rel == "latest/height":
		return http.StatusOK, tip
	case rel == "latest/hash":
		return http.StatusOK, BlockHash(tip)
	case rel == "latest/block":
		return http.StatusOK, BlockJSON(tip)

	case rel == "blocks":
		start, err1 := strconv.ParseUint(r.URL.Query().Get("start"), 10, 32)
		end, err2 := strconv.ParseUint(r.URL.Query().Get("end"), 10, 32)
		if err1 != nil || err2 != nil || start >= end {
			return http.StatusBadRequest, rawText("Invalid block range")
		}
		if end-start > 50 {
			return http.StatusBadRequest, rawText("Cannot request more than 50 blocks at a time")
		}
		blocks := make([]map[string]interface{}, 0, end-start)
		for h := start; h < end && h <= uint64(tip); h++ {
			blocks = append(blocks, BlockJSON(uint32(h)))
		}
		return http.StatusOK, blocks

	case len(parts) >= 2 && parts[0] == "block":
		h, ok := s.parseHeight(parts[1], tip)
		if !ok {
			return http.StatusNotFound, rawText(fmt.Sprintf("Block %s does not exist", parts[1]))
		}
		if len(parts) == 3 && parts[2] == "transactions" {
			return http.StatusOK, BlockJSON(h)["transactions"]
		}
		if len(parts) == 2 {
			return http.StatusOK, BlockJSON(h)
		}

	case len(parts) == 2 && parts[0] == "transaction":
		h, ok := heightFromTransactionID(parts[1])
		if !ok || h > tip {
			return http.StatusNotFound, rawText("Transaction does not exist")
		}
		return http.StatusOK, TransactionJSON(parts[1])

	case rel == "memoryPool/transactions":
		s.mu.RLock()
		defer s.mu.RUnlock()
		out := make([]map[string]interface{}, len(s.mempool))
		copy(out, s.mempool)
		return http.StatusOK, out

	case len(parts) == 2 && parts[0] == "program":
		s.mu.RLock()
		src, ok := s.programs[parts[1]]
		s.mu.RUnlock()
		if !ok {
			return http.StatusNotFound, rawText(fmt.Sprintf("Program %s does not exist", parts[1]))
		}
		return http.StatusOK, src

	case len(parts) == 3 && parts[0] == "find" && parts[1] == "blockHash":
		h, ok := heightFromTransactionID(parts[2])
		if !ok || h > tip {
			return http.StatusNotFound, rawText("Transaction does not exist")
		}
		return http.StatusOK, BlockHash(h)

	case len(parts) == 3 && parts[0] == "find" && parts[1] == "transitionID":
		return http.StatusOK, "au1transition" + parts[2]

	case len(parts) == 2 && parts[0] == "statePath":
		return http.StatusOK, "path1" + parts[1]
	}

	return http.StatusNotFound, rawText("Not Found")
}

func (s *Server) parseHeight(raw string, tip uint32) (uint32, bool) {
	h, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || uint32(h) > tip {
		return 0, false
	}
	return uint32(h), true
}

// BlockHash is the deterministic hash of the block at height.
func BlockHash(height uint32) string {
	return fmt.Sprintf("ab1block%010d", height)
}

// TransactionID is the id of the single transaction in the block at height.
func TransactionID(height uint32) string {
	return fmt.Sprintf("at1tx%010d", height)
}

func heightFromTransactionID(id string) (uint32, bool) {
	if !strings.HasPrefix(id, "at1tx") {
		return 0, false
	}
	h, err := strconv.ParseUint(strings.TrimPrefix(id, "at1tx"), 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(h), true
}

// BlockJSON is the Beacon API representation of the block at height.
func BlockJSON(height uint32) map[string]interface{} {
	previous := "ab1genesis"
	if height > 0 {
		previous = BlockHash(height - 1)
	}
	return map[string]interface{}{
		"block_hash":    BlockHash(height),
		"previous_hash": previous,
		"header": map[string]interface{}{
			"previous_state_root": fmt.Sprintf("sr1%d", height),
			"transactions_root":   fmt.Sprintf("tr1%d", height),
			"metadata": map[string]interface{}{
				"network":                 3,
				"round":                   uint64(height) * 2,
				"height":                  height,
				"cumulative_weight":       json.Number("340282366920938463463374607431768211455"),
				"cumulative_proof_target": json.Number("0"),
				"coinbase_target":         1 << 20,
				"proof_target":            1 << 10,
				"last_coinbase_target":    1 << 20,
				"last_coinbase_timestamp": 1700000000,
				"timestamp":               1700000000 + int64(height)*15,
			},
		},
		"authority": map[string]interface{}{"type": "beacon", "signature": "sign1"},
		"transactions": []map[string]interface{}{
			{
				"status":      "accepted",
				"type":        "execute",
				"index":       0,
				"transaction": TransactionJSON(TransactionID(height)),
			},
		},
	}
}

// TransactionJSON is an execute transaction with the given id.
func TransactionJSON(id string) map[string]interface{} {
	return map[string]interface{}{
		"type": "execute",
		"id":   id,
		"execution": map[string]interface{}{
			"transitions": []map[string]interface{}{
				{"id": "au1" + id, "program": "credits.aleo", "function": "transfer_public"},
			},
			"global_state_root": "sr1",
		},
		"fee": map[string]interface{}{"transition": map[string]interface{}{"id": "au1fee" + id}},
	}
}
