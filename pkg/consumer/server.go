package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fortiblox/tensorvm/pkg/loader"
)

// DefaultMaxMessageSize is the default maximum gRPC message size (64MB).
const DefaultMaxMessageSize = 64 << 20

// ServerConfig configures a delivery server.
type ServerConfig struct {
	// MaxMessageSize bounds received messages.
	MaxMessageSize int

	// Logger receives delivery failures. Nil disables logging.
	Logger *slog.Logger
}

// Server accepts deliveries from remote forwarders into local mailboxes.
type Server struct {
	boxes  *Mailboxes
	grpc   *grpc.Server
	logger *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup

	received atomic.Uint64
	rejected atomic.Uint64
}

// NewServer creates a delivery server backed by boxes.
func NewServer(boxes *Mailboxes, config ServerConfig) *Server {
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	s := &Server{
		boxes:  boxes,
		logger: config.Logger,
	}
	s.grpc = grpc.NewServer(grpc.MaxRecvMsgSize(config.MaxMessageSize))
	s.grpc.RegisterService(&consumerServiceDesc, s)
	return s
}

// Deliver handles one delivery.
func (s *Server) Deliver(_ context.Context, req *DeliverRequest) (*DeliverResponse, error) {
	msg, err := loader.UnmarshalMessage(req.Message)
	if err != nil {
		s.rejected.Add(1)
		return nil, status.Errorf(codes.InvalidArgument, "decode message: %v", err)
	}
	if err := s.boxes.Deliver(req.Target, msg); err != nil {
		s.rejected.Add(1)
		if s.logger != nil {
			s.logger.Warn("delivery rejected", "target", req.Target, "error", err)
		}
		switch {
		case errors.Is(err, ErrUnknownTarget):
			return nil, status.Error(codes.NotFound, err.Error())
		case errors.Is(err, ErrMailboxFull):
			return nil, status.Error(codes.ResourceExhausted, err.Error())
		default:
			return nil, status.Error(codes.Internal, err.Error())
		}
	}
	s.received.Add(1)
	return &DeliverResponse{Accepted: true}, nil
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.mu.Lock()
	s.listener = lis
	s.mu.Unlock()
	return s.grpc.Serve(lis)
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Serve(lis); err != nil && s.logger != nil {
			s.logger.Error("consumer server stopped", "error", err)
		}
	}()
	return nil
}

// Addr returns the listening address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop gracefully stops the server.
func (s *Server) Stop() {
	s.grpc.GracefulStop()
	s.wg.Wait()
}

// ServerStats reports delivery counters.
type ServerStats struct {
	Received uint64 `json:"received"`
	Rejected uint64 `json:"rejected"`
}

// Stats returns delivery counters.
func (s *Server) Stats() ServerStats {
	return ServerStats{Received: s.received.Load(), Rejected: s.rejected.Load()}
}
