// Package grpcsink forwards canonical records to a remote observer over
// gRPC. Messages are JSON encoded, so receivers need no generated code:
// implementing ObserverServer and calling RegisterObserverServer is enough.
package grpcsink

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"

	protov1 "github.com/marko911/pulse-geyser/pkg/proto/v1"
)

const (
	serviceName   = "pulse.geyser.v1.Observer"
	observeMethod = "/" + serviceName + "/Observe"
)

// Ack is the observer's reply.
type Ack struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// ObserverServer receives forwarded records.
type ObserverServer interface {
	Observe(ctx context.Context, rec *protov1.Wire) (*Ack, error)
}

// RegisterObserverServer registers srv on s. The server must be created
// with ServerCodec.
func RegisterObserverServer(s *grpc.Server, srv ObserverServer) {
	s.RegisterService(&observerServiceDesc, srv)
}

// ServerCodec forces the JSON codec on a server.
func ServerCodec() grpc.ServerOption {
	return grpc.ForceServerCodec(jsonCodec{})
}

var observerServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ObserverServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Observe",
			Handler:    observeHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pulse/geyser/v1/observer.json",
}

func observeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(protov1.Wire)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ObserverServer).Observe(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: observeMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ObserverServer).Observe(ctx, req.(*protov1.Wire))
	}
	return interceptor(ctx, in, info, handler)
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return "json" }
