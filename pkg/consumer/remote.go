package consumer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/fortiblox/tensorvm/pkg/engine"
	"github.com/fortiblox/tensorvm/pkg/loader"
)

// Default remote forwarder settings.
const (
	DefaultQueueSize        = 256
	DefaultDeliverTimeout   = 5 * time.Second
	DefaultKeepaliveTime    = 30 * time.Second
	DefaultKeepaliveTimeout = 10 * time.Second
)

// ErrNoEndpoint is returned when a remote has no endpoint configured.
var ErrNoEndpoint = errors.New("remote endpoint is required")

// RemoteConfig configures a gRPC forwarder.
type RemoteConfig struct {
	// Endpoint is the peer's host:port.
	Endpoint string

	// Targets are the addresses forwarded to this peer. A single "*"
	// forwards every address.
	Targets []string

	// QueueSize bounds deliveries waiting to be sent.
	QueueSize int

	// Timeout bounds each Deliver call.
	Timeout time.Duration

	// UseTLS enables TLS for the connection.
	UseTLS bool

	MaxMessageSize int
	Logger         *slog.Logger
}

// WithDefaults fills unset fields.
func (c RemoteConfig) WithDefaults() RemoteConfig {
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultDeliverTimeout
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	return c
}

type outbound struct {
	req *DeliverRequest
}

// Remote forwards deliveries to a peer Server. Send only enqueues; a
// worker performs the call, and failures after enqueue are logged and
// counted.
type Remote struct {
	config  RemoteConfig
	conn    *grpc.ClientConn
	targets map[string]bool
	all     bool

	mu     sync.RWMutex
	queue  chan outbound
	closed atomic.Bool
	wg     sync.WaitGroup

	sent    atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

// DialRemote connects to config.Endpoint and starts the delivery worker.
// Extra dial options are appended after the defaults.
func DialRemote(ctx context.Context, config RemoteConfig, extra ...grpc.DialOption) (*Remote, error) {
	config = config.WithDefaults()
	if config.Endpoint == "" {
		return nil, ErrNoEndpoint
	}

	opts := []grpc.DialOption{
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                DefaultKeepaliveTime,
			Timeout:             DefaultKeepaliveTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
			grpc.MaxCallSendMsgSize(config.MaxMessageSize),
		),
	}
	if config.UseTLS {
		opts = append(opts, grpc.WithTransportCredentials(
			credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12}),
		))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	opts = append(opts, extra...)

	//nolint:staticcheck // DialContext is the connection API of the pinned grpc release
	conn, err := grpc.DialContext(ctx, config.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial gRPC: %w", err)
	}

	r := &Remote{
		config:  config,
		conn:    conn,
		targets: make(map[string]bool, len(config.Targets)),
		queue:   make(chan outbound, config.QueueSize),
	}
	for _, t := range config.Targets {
		if t == "*" {
			r.all = true
		}
		r.targets[t] = true
	}

	r.wg.Add(1)
	go r.worker()
	return r, nil
}

// Resolves reports whether addr is forwarded to this peer.
func (r *Remote) Resolves(addr string) bool {
	return r.all || r.targets[addr]
}

// Deliver enqueues msg for addr.
func (r *Remote) Deliver(addr string, msg engine.Message) error {
	payload, err := loader.MarshalMessage(msg)
	if err != nil {
		return err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed.Load() {
		return ErrClosed
	}
	select {
	case r.queue <- outbound{req: &DeliverRequest{Target: addr, Message: payload}}:
		return nil
	default:
		r.dropped.Add(1)
		return fmt.Errorf("%w: %s", ErrQueueFull, r.config.Endpoint)
	}
}

// Send implements engine.Consumer.
func (r *Remote) Send(target engine.Term, msg engine.Message) error {
	addr, err := Address(target)
	if err != nil {
		return err
	}
	if !r.Resolves(addr) {
		return fmt.Errorf("%w: %s", ErrUnknownTarget, addr)
	}
	return r.Deliver(addr, msg)
}

func (r *Remote) worker() {
	defer r.wg.Done()
	for out := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.config.Timeout)
		_, err := invokeDeliver(ctx, r.conn, out.req)
		cancel()
		if err != nil {
			r.failed.Add(1)
			if r.config.Logger != nil {
				r.config.Logger.Warn("remote delivery failed",
					"endpoint", r.config.Endpoint, "target", out.req.Target, "error", err)
			}
			continue
		}
		r.sent.Add(1)
	}
}

// Close stops accepting deliveries, flushes the queue and closes the
// connection.
func (r *Remote) Close() error {
	r.mu.Lock()
	if r.closed.Swap(true) {
		r.mu.Unlock()
		return ErrClosed
	}
	close(r.queue)
	r.mu.Unlock()

	r.wg.Wait()
	return r.conn.Close()
}

// RemoteStats reports forwarding counters.
type RemoteStats struct {
	Endpoint string `json:"endpoint"`
	Sent     uint64 `json:"sent"`
	Failed   uint64 `json:"failed"`
	Dropped  uint64 `json:"dropped"`
	Queued   int    `json:"queued"`
}

// Stats returns forwarding counters.
func (r *Remote) Stats() RemoteStats {
	return RemoteStats{
		Endpoint: r.config.Endpoint,
		Sent:     r.sent.Load(),
		Failed:   r.failed.Load(),
		Dropped:  r.dropped.Load(),
		Queued:   len(r.queue),
	}
}

var (
	_ engine.Consumer = (*Remote)(nil)
	_ Endpoint        = (*Remote)(nil)
)
