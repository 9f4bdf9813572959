package api

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "sentinel.v1.Sentinel"

// Method names served by the Sentinel service.
const (
	MethodListTools       = "ListTools"
	MethodListAgents      = "ListAgents"
	MethodGetCallLog      = "GetCallLog"
	MethodInvokeTool      = "InvokeTool"
	MethodStreamTool      = "StreamTool"
	MethodTriggerIncident = "TriggerIncident"
	MethodGetIncident     = "GetIncident"
	MethodListIncidents   = "ListIncidents"
	MethodGetPlan         = "GetPlan"
	MethodWatchEvents     = "WatchEvents"
)

// FullMethod returns the wire path of method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// SentinelServer is the server API for the Sentinel service. Requests and
// responses are google.protobuf.Struct documents.
type SentinelServer interface {
	ListTools(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListAgents(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetCallLog(context.Context, *structpb.Struct) (*structpb.Struct, error)
	InvokeTool(context.Context, *structpb.Struct) (*structpb.Struct, error)
	TriggerIncident(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetIncident(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListIncidents(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetPlan(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StreamTool(*structpb.Struct, StructStream) error
	WatchEvents(*structpb.Struct, StructStream) error
}

// StructStream is the server side of a server-streaming Sentinel method.
type StructStream interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type structStream struct {
	grpc.ServerStream
}

func (s *structStream) Send(m *structpb.Struct) error {
	return s.ServerStream.SendMsg(m)
}

type unaryCall func(SentinelServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(SentinelServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(SentinelServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

type streamCall func(SentinelServer, *structpb.Struct, StructStream) error

func streamHandler(method string, call streamCall) grpc.StreamDesc {
	return grpc.StreamDesc{
		StreamName: method,
		Handler: func(srv any, stream grpc.ServerStream) error {
			in := new(structpb.Struct)
			if err := stream.RecvMsg(in); err != nil {
				return err
			}
			return call(srv.(SentinelServer), in, &structStream{ServerStream: stream})
		},
		ServerStreams: true,
	}
}

// ServiceDesc describes the Sentinel service for grpc.Server registration.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SentinelServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler(MethodListTools, SentinelServer.ListTools),
		unaryHandler(MethodListAgents, SentinelServer.ListAgents),
		unaryHandler(MethodGetCallLog, SentinelServer.GetCallLog),
		unaryHandler(MethodInvokeTool, SentinelServer.InvokeTool),
		unaryHandler(MethodTriggerIncident, SentinelServer.TriggerIncident),
		unaryHandler(MethodGetIncident, SentinelServer.GetIncident),
		unaryHandler(MethodListIncidents, SentinelServer.ListIncidents),
		unaryHandler(MethodGetPlan, SentinelServer.GetPlan),
	},
	Streams: []grpc.StreamDesc{
		streamHandler(MethodStreamTool, SentinelServer.StreamTool),
		streamHandler(MethodWatchEvents, SentinelServer.WatchEvents),
	},
	Metadata: "sentinel/v1/sentinel.proto",
}

// RegisterSentinelServer registers srv on s.
func RegisterSentinelServer(s grpc.ServiceRegistrar, srv SentinelServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client calls the Sentinel service with plain maps.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call performs a unary method.
func (c *Client) Call(ctx context.Context, method string, req map[string]any, opts ...grpc.CallOption) (map[string]any, error) {
	in, err := ToStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return FromStruct(out), nil
}

// Stream performs a server-streaming method, handing each frame to fn until
// the server ends the stream, fn returns an error, or ctx is done.
func (c *Client) Stream(ctx context.Context, method string, req map[string]any, fn func(map[string]any) error, opts ...grpc.CallOption) error {
	in, err := ToStruct(req)
	if err != nil {
		return err
	}
	desc := &grpc.StreamDesc{StreamName: method, ServerStreams: true}
	stream, err := c.cc.NewStream(ctx, desc, FullMethod(method), opts...)
	if err != nil {
		return err
	}
	if err := stream.SendMsg(in); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		frame := new(structpb.Struct)
		if err := stream.RecvMsg(frame); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := fn(FromStruct(frame)); err != nil {
			return err
		}
	}
}
