package grpcapi

import (
	"context"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client calls StageService over an existing connection.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) ListStages(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod("ListStages"), &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetPosition(ctx context.Context, stageName string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod("GetPosition"), wrapperspb.String(stageName), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) MoveRelative(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invokeStruct(ctx, "MoveRelative", req, opts...)
}

func (c *Client) MoveAbsolute(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invokeStruct(ctx, "MoveAbsolute", req, opts...)
}

func (c *Client) InvertAxisDirection(ctx context.Context, stageName, axis string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(map[string]any{"stage": stageName, "axis": axis})
	if err != nil {
		return nil, err
	}
	return c.invokeStruct(ctx, "InvertAxisDirection", req, opts...)
}

func (c *Client) SetZeroPosition(ctx context.Context, stageName string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod("SetZeroPosition"), wrapperspb.String(stageName), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) invokeStruct(ctx context.Context, method string, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod(method), req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// WatchPosition calls fn for every event until the stream ends, fn returns an
// error or ctx is done.
func (c *Client) WatchPosition(ctx context.Context, stageName string, fn func(*structpb.Struct) error, opts ...grpc.CallOption) error {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], fullMethod("WatchPosition"), opts...)
	if err != nil {
		return err
	}
	if err := stream.SendMsg(wrapperspb.String(stageName)); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}

	for {
		msg := new(structpb.Struct)
		if err := stream.RecvMsg(msg); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if err := fn(msg); err != nil {
			return err
		}
	}
}
