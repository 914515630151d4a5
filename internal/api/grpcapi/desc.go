package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func fullMethod(name string) string { return "/" + ServiceName + "/" + name }

// ServiceDesc describes openstage.v1.StageService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*StageServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListStages", Handler: listStagesHandler},
		{MethodName: "GetPosition", Handler: getPositionHandler},
		{MethodName: "MoveRelative", Handler: moveRelativeHandler},
		{MethodName: "MoveAbsolute", Handler: moveAbsoluteHandler},
		{MethodName: "InvertAxisDirection", Handler: invertAxisDirectionHandler},
		{MethodName: "SetZeroPosition", Handler: setZeroPositionHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchPosition", Handler: watchPositionHandler, ServerStreams: true},
	},
	Metadata: "openstage/v1/stage.proto",
}

func listStagesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StageServer).ListStages(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("ListStages")}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(StageServer).ListStages(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func getPositionHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StageServer).GetPosition(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("GetPosition")}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(StageServer).GetPosition(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func setZeroPositionHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StageServer).SetZeroPosition(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("SetZeroPosition")}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(StageServer).SetZeroPosition(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// structHandler builds the handler of a Struct in, Struct out method.
func structHandler(method string, call func(StageServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(StageServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(StageServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var (
	moveRelativeHandler        = structHandler("MoveRelative", StageServer.MoveRelative)
	moveAbsoluteHandler        = structHandler("MoveAbsolute", StageServer.MoveAbsolute)
	invertAxisDirectionHandler = structHandler("InvertAxisDirection", StageServer.InvertAxisDirection)
)

func watchPositionHandler(srv any, stream grpc.ServerStream) error {
	in := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(StageServer).WatchPosition(in, stream)
}
