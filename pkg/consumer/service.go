package consumer

import (
	"context"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// codecName is the gRPC content-subtype for CBOR payloads.
const codecName = "cbor"

// Service identifiers.
const (
	ServiceName   = "tensorvm.consumer.v1.Consumer"
	deliverMethod = "/" + ServiceName + "/Deliver"
)

// cborCodec implements encoding.Codec for the delivery messages.
type cborCodec struct{}

func (cborCodec) Marshal(v interface{}) ([]byte, error) {
	return cbor.Marshal(v)
}

func (cborCodec) Unmarshal(data []byte, v interface{}) error {
	return cbor.Unmarshal(data, v)
}

func (cborCodec) Name() string {
	return codecName
}

func init() {
	encoding.RegisterCodec(cborCodec{})
}

// DeliverRequest carries one message for a named target. Message holds the
// loader's CBOR encoding of engine.Message.
type DeliverRequest struct {
	Target  string `cbor:"1,keyasint"`
	Message []byte `cbor:"2,keyasint"`
}

// DeliverResponse acknowledges a delivery.
type DeliverResponse struct {
	Accepted bool `cbor:"1,keyasint"`
}

// consumerServer is the server-side contract of the Consumer service.
type consumerServer interface {
	Deliver(ctx context.Context, req *DeliverRequest) (*DeliverResponse, error)
}

func deliverHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(DeliverRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(consumerServer).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: deliverMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(consumerServer).Deliver(ctx, req.(*DeliverRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var consumerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*consumerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Deliver", Handler: deliverHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tensorvm/consumer/v1/consumer.proto",
}

// invokeDeliver performs the unary Deliver call on conn.
func invokeDeliver(ctx context.Context, conn grpc.ClientConnInterface, req *DeliverRequest) (*DeliverResponse, error) {
	resp := new(DeliverResponse)
	if err := conn.Invoke(ctx, deliverMethod, req, resp, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, err
	}
	if !resp.Accepted {
		return resp, fmt.Errorf("delivery to %s not accepted", req.Target)
	}
	return resp, nil
}
