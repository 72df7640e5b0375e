package consumer

import (
	"fmt"

	"github.com/fortiblox/tensorvm/pkg/engine"
)

// Endpoint is a delivery destination that owns some set of addresses.
type Endpoint interface {
	Resolves(addr string) bool
	Deliver(addr string, msg engine.Message) error
}

// Router sends each message to the first endpoint resolving its target.
type Router struct {
	endpoints []Endpoint
}

// NewRouter creates a router over endpoints, consulted in order.
func NewRouter(endpoints ...Endpoint) *Router {
	return &Router{endpoints: endpoints}
}

func (r *Router) route(addr string) Endpoint {
	for _, e := range r.endpoints {
		if e.Resolves(addr) {
			return e
		}
	}
	return nil
}

// Resolves reports whether any endpoint resolves addr.
func (r *Router) Resolves(addr string) bool {
	return r.route(addr) != nil
}

// Deliver forwards msg to the endpoint resolving addr.
func (r *Router) Deliver(addr string, msg engine.Message) error {
	e := r.route(addr)
	if e == nil {
		return fmt.Errorf("%w: %s", ErrUnknownTarget, addr)
	}
	return e.Deliver(addr, msg)
}

// Send implements engine.Consumer.
func (r *Router) Send(target engine.Term, msg engine.Message) error {
	addr, err := Address(target)
	if err != nil {
		return err
	}
	return r.Deliver(addr, msg)
}

var (
	_ engine.Consumer = (*Router)(nil)
	_ Endpoint        = (*Router)(nil)
)
