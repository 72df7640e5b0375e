// Package consumer implements the channels that receive tensors sent by
// running programs.
//
// Targets are addressed by name. A Mailboxes holds named in-process
// queues, a Remote forwards deliveries for selected names to a peer over
// gRPC, a Server accepts such deliveries into local mailboxes, and a Router
// picks the first endpoint that resolves a name. Every Send is
// non-blocking.
package consumer

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fortiblox/tensorvm/pkg/engine"
)

var (
	// ErrUnknownTarget is returned when no endpoint resolves a target.
	ErrUnknownTarget = errors.New("unknown target")

	// ErrInvalidTarget is returned when a target term is not an address.
	ErrInvalidTarget = errors.New("invalid target")

	// ErrMailboxFull is returned when a mailbox has no free slot.
	ErrMailboxFull = errors.New("mailbox full")

	// ErrMailboxExists is returned when registering a taken name.
	ErrMailboxExists = errors.New("mailbox already registered")

	// ErrQueueFull is returned when a remote forwarder's queue is full.
	ErrQueueFull = errors.New("delivery queue full")

	// ErrClosed is returned when sending through a closed endpoint.
	ErrClosed = errors.New("consumer closed")
)

// DefaultMailboxSize is the buffer size used when Register gets size <= 0.
const DefaultMailboxSize = 64

// Address resolves a target term to a mailbox name. Atoms and binaries
// are addresses; anything else is rejected.
func Address(target engine.Term) (string, error) {
	var addr string
	switch t := target.(type) {
	case engine.Atom:
		addr = string(t)
	case engine.Binary:
		addr = string(t)
	default:
		return "", fmt.Errorf("%w: %v", ErrInvalidTarget, target)
	}
	if addr == "" {
		return "", fmt.Errorf("%w: empty address", ErrInvalidTarget)
	}
	return addr, nil
}

// Delivery is a message received by a mailbox.
type Delivery struct {
	Target   string
	Message  engine.Message
	Received time.Time
}

// Mailboxes is a set of named, buffered in-process queues.
type Mailboxes struct {
	mu    sync.RWMutex
	boxes map[string]chan Delivery
}

// NewMailboxes creates an empty mailbox set.
func NewMailboxes() *Mailboxes {
	return &Mailboxes{boxes: make(map[string]chan Delivery)}
}

// Register creates a mailbox holding up to size undelivered messages.
func (m *Mailboxes) Register(name string, size int) (<-chan Delivery, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty address", ErrInvalidTarget)
	}
	if size <= 0 {
		size = DefaultMailboxSize
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.boxes[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrMailboxExists, name)
	}
	ch := make(chan Delivery, size)
	m.boxes[name] = ch
	return ch, nil
}

// Unregister removes a mailbox and closes its channel. Undrained messages
// stay readable from the channel.
func (m *Mailboxes) Unregister(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.boxes[name]; ok {
		delete(m.boxes, name)
		close(ch)
	}
}

// Names returns the registered mailbox names in sorted order.
func (m *Mailboxes) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.boxes))
	for name := range m.boxes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Drain returns every message currently queued in a mailbox without
// waiting for more.
func (m *Mailboxes) Drain(name string) []Delivery {
	m.mu.RLock()
	ch, ok := m.boxes[name]
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	var out []Delivery
	for {
		select {
		case d, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, d)
		default:
			return out
		}
	}
}

// Resolves reports whether a mailbox named addr exists.
func (m *Mailboxes) Resolves(addr string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.boxes[addr]
	return ok
}

// Deliver queues msg in the mailbox named addr.
func (m *Mailboxes) Deliver(addr string, msg engine.Message) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.boxes[addr]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTarget, addr)
	}
	select {
	case ch <- Delivery{Target: addr, Message: msg, Received: time.Now()}:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrMailboxFull, addr)
	}
}

// Send implements engine.Consumer.
func (m *Mailboxes) Send(target engine.Term, msg engine.Message) error {
	addr, err := Address(target)
	if err != nil {
		return err
	}
	return m.Deliver(addr, msg)
}

var (
	_ engine.Consumer = (*Mailboxes)(nil)
	_ Endpoint        = (*Mailboxes)(nil)
)
