package service

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const serviceName = "cartridge.replay.v1.Replay"

// Full method names.
const (
	MethodStore            = "/" + serviceName + "/Store"
	MethodSample           = "/" + serviceName + "/Sample"
	MethodUpdatePriorities = "/" + serviceName + "/UpdatePriorities"
	MethodGetStats         = "/" + serviceName + "/GetStats"
	MethodGetConfig        = "/" + serviceName + "/GetConfig"
)

// ReplayServer is the server API for the Replay service. Requests and
// responses are google.protobuf.Struct messages.
type ReplayServer interface {
	Store(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Sample(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdatePriorities(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetStats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetConfig(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(ReplayServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func handler(fullMethod string, call unaryMethod) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ReplayServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		next := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(ReplayServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, next)
	}
}

// ReplayServiceDesc is the grpc.ServiceDesc for the Replay service.
var ReplayServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ReplayServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Store", Handler: handler(MethodStore, ReplayServer.Store)},
		{MethodName: "Sample", Handler: handler(MethodSample, ReplayServer.Sample)},
		{MethodName: "UpdatePriorities", Handler: handler(MethodUpdatePriorities, ReplayServer.UpdatePriorities)},
		{MethodName: "GetStats", Handler: handler(MethodGetStats, ReplayServer.GetStats)},
		{MethodName: "GetConfig", Handler: handler(MethodGetConfig, ReplayServer.GetConfig)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "replay/v1/replay.proto",
}

// RegisterReplayServer registers srv with s.
func RegisterReplayServer(s grpc.ServiceRegistrar, srv ReplayServer) {
	s.RegisterService(&ReplayServiceDesc, srv)
}
