// Package rpc implements the JSON-RPC 2.0 server for tensorvm.
//
// The server accepts encoded programs, executes them on a shared
// interpreter, and manages the content-addressed program store.
//
// Supported methods:
//   - Execution: executeProgram, executeStoredProgram
//   - Storage: storeProgram, getProgram, deleteProgram, listPrograms
//   - Node: getHealth, getVersion, getStats
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fortiblox/tensorvm/pkg/consumer"
	"github.com/fortiblox/tensorvm/pkg/engine"
	"github.com/fortiblox/tensorvm/pkg/programstore"
)

// ReplyTarget is the mailbox each execution request can deliver to.
const ReplyTarget = "reply"

// Config holds RPC server configuration.
type Config struct {
	// Addr is the listen address (host:port).
	Addr string

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes of the response.
	WriteTimeout time.Duration

	// MaxRequestSize is the maximum allowed request body size in bytes.
	MaxRequestSize int64

	// MaxBatchSize limits the number of calls in a batch request.
	MaxBatchSize int

	// ReplyCapacity is the size of the per-request reply mailbox.
	ReplyCapacity int

	// EnableCORS enables CORS headers for browser access.
	EnableCORS bool

	// AllowedOrigins specifies allowed CORS origins (empty means all).
	AllowedOrigins []string

	// LogRequests enables request logging.
	LogRequests bool

	// Version is reported by getVersion.
	Version string

	Logger *slog.Logger
}

// DefaultConfig returns a default RPC server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8899",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxRequestSize: 64 << 20,
		MaxBatchSize:   100,
		ReplyCapacity:  1024,
		EnableCORS:     true,
		LogRequests:    false,
		Version:        "dev",
	}
}

// Server is the JSON-RPC 2.0 server.
type Server struct {
	config Config
	logger *slog.Logger

	// Dependencies
	interp *engine.Interpreter
	store  programstore.Store
	shared consumer.Endpoint

	// State
	healthy  bool
	healthMu sync.RWMutex

	executions   atomic.Uint64
	failures     atomic.Uint64
	instructions atomic.Uint64
	delivered    atomic.Uint64

	// HTTP server
	server   *http.Server
	listener net.Listener

	// Method handlers
	handlers map[string]handlerFunc

	// Lifecycle
	mu      sync.RWMutex
	running bool
}

// handlerFunc is a JSON-RPC method handler.
type handlerFunc func(params json.RawMessage) (interface{}, *RPCError)

// New creates a new RPC server. shared, if not nil, resolves targets other
// than the per-request reply mailbox.
func New(config Config, interp *engine.Interpreter, store programstore.Store, shared consumer.Endpoint) *Server {
	if config.ReplyCapacity <= 0 {
		config.ReplyCapacity = DefaultConfig().ReplyCapacity
	}
	if config.MaxRequestSize <= 0 {
		config.MaxRequestSize = DefaultConfig().MaxRequestSize
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config:   config,
		logger:   logger.With("component", "rpc"),
		interp:   interp,
		store:    store,
		shared:   shared,
		healthy:  true,
		handlers: make(map[string]handlerFunc),
	}

	s.registerHandlers()

	return s
}

// registerHandlers registers all RPC method handlers.
func (s *Server) registerHandlers() {
	// Execution
	s.handlers["executeProgram"] = s.executeProgram
	s.handlers["executeStoredProgram"] = s.executeStoredProgram

	// Storage
	s.handlers["storeProgram"] = s.storeProgram
	s.handlers["getProgram"] = s.getProgram
	s.handlers["deleteProgram"] = s.deleteProgram
	s.handlers["listPrograms"] = s.listPrograms

	// Node
	s.handlers["getHealth"] = s.getHealth
	s.handlers["getVersion"] = s.getVersion
	s.handlers["getStats"] = s.getStats
}

// Start starts the RPC server and blocks until ctx is cancelled or the
// server fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}

	lis, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listen %s: %w", s.config.Addr, err)
	}

	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	s.listener = lis
	s.running = true
	srv := s.server
	s.mu.Unlock()

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("server starting", "addr", lis.Addr().String())

	err = srv.Serve(lis)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Addr returns the bound listen address once Start has been called.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop stops the RPC server.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.running = false
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Handler returns the HTTP handler serving JSON-RPC requests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRPC)
	return s.corsMiddleware(mux)
}

// SetHealthy sets the server health status.
func (s *Server) SetHealthy(healthy bool) {
	s.healthMu.Lock()
	s.healthy = healthy
	s.healthMu.Unlock()
}

// IsHealthy returns the current health status.
func (s *Server) IsHealthy() bool {
	s.healthMu.RLock()
	defer s.healthMu.RUnlock()
	return s.healthy
}

// corsMiddleware adds CORS headers if enabled.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	if !s.config.EnableCORS {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			allowed := len(s.config.AllowedOrigins) == 0
			for _, allowedOrigin := range s.config.AllowedOrigins {
				if allowedOrigin == origin || allowedOrigin == "*" {
					allowed = true
					break
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Max-Age", "3600")
			}
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleRPC handles incoming JSON-RPC requests.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	// Only accept POST
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType != "" && contentType != "application/json" {
		s.writeError(w, nil, ErrInvalidRequest)
		return
	}

	// One extra byte detects bodies over the limit
	body, err := io.ReadAll(io.LimitReader(r.Body, s.config.MaxRequestSize+1))
	if err != nil {
		s.writeError(w, nil, ErrParseError)
		return
	}
	if int64(len(body)) > s.config.MaxRequestSize {
		s.writeError(w, nil, InvalidParamsErrorf("request exceeds %d bytes", s.config.MaxRequestSize))
		return
	}

	if len(body) > 0 && body[0] == '[' {
		s.handleBatchRequest(w, body)
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, nil, ErrParseError)
		return
	}

	if req.JSONRPC != JSONRPCVersion {
		s.writeError(w, req.ID, ErrInvalidRequest)
		return
	}

	result, rpcErr := s.call(req)
	if rpcErr != nil {
		s.writeError(w, req.ID, rpcErr)
		return
	}

	s.writeResult(w, req.ID, result)
}

// handleBatchRequest handles batch JSON-RPC requests.
func (s *Server) handleBatchRequest(w http.ResponseWriter, body []byte) {
	var requests []Request
	if err := json.Unmarshal(body, &requests); err != nil {
		s.writeError(w, nil, ErrParseError)
		return
	}

	if len(requests) == 0 {
		s.writeError(w, nil, ErrInvalidRequest)
		return
	}
	if s.config.MaxBatchSize > 0 && len(requests) > s.config.MaxBatchSize {
		s.writeError(w, nil, NewRPCError(BatchTooLarge,
			fmt.Sprintf("batch of %d exceeds limit %d", len(requests), s.config.MaxBatchSize)))
		return
	}

	responses := make([]Response, len(requests))
	for i, req := range requests {
		if req.JSONRPC != JSONRPCVersion {
			responses[i] = Response{
				JSONRPC: JSONRPCVersion,
				ID:      req.ID,
				Error:   ErrInvalidRequest,
			}
			continue
		}

		result, rpcErr := s.call(req)
		if rpcErr != nil {
			responses[i] = Response{
				JSONRPC: JSONRPCVersion,
				ID:      req.ID,
				Error:   rpcErr,
			}
		} else {
			responses[i] = Response{
				JSONRPC: JSONRPCVersion,
				ID:      req.ID,
				Result:  result,
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(responses)
}

// call logs and dispatches one request.
func (s *Server) call(req Request) (interface{}, *RPCError) {
	start := time.Now()
	result, rpcErr := s.dispatch(req.Method, req.Params)
	if s.config.LogRequests {
		attrs := []any{"method", req.Method, "id", req.ID, "elapsed", time.Since(start)}
		if rpcErr != nil {
			attrs = append(attrs, "code", rpcErr.Code)
		}
		s.logger.Info("request", attrs...)
	}
	return result, rpcErr
}

// dispatch routes RPC methods to their handlers.
func (s *Server) dispatch(method string, params json.RawMessage) (interface{}, *RPCError) {
	handler, ok := s.handlers[method]
	if !ok {
		return nil, NewRPCError(MethodNotFound, fmt.Sprintf("Method not found: %s", method))
	}

	return handler(params)
}

// writeResult writes a successful response.
func (s *Server) writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Result:  result,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, id interface{}, err *RPCError) {
	resp := Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error:   err,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
