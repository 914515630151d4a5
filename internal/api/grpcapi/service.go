package grpcapi

import (
	"context"
	"errors"

	"github.com/KevinKickass/OpenStageCore/internal/devices"
	"github.com/KevinKickass/OpenStageCore/internal/stage"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const ServiceName = "openstage.v1.StageService"

// StageServer is implemented by StageService. Requests and responses use
// well-known types so no generated code is needed on either side.
type StageServer interface {
	ListStages(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetPosition(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	MoveRelative(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MoveAbsolute(context.Context, *structpb.Struct) (*structpb.Struct, error)
	InvertAxisDirection(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetZeroPosition(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	WatchPosition(*wrapperspb.StringValue, grpc.ServerStream) error
}

type StageService struct {
	devices  *devices.Manager
	streamer *EventStreamer
	logger   *zap.Logger
}

func NewStageService(devices *devices.Manager, streamer *EventStreamer, logger *zap.Logger) *StageService {
	return &StageService{
		devices:  devices,
		streamer: streamer,
		logger:   logger,
	}
}

// Register adds the service to s.
func Register(s grpc.ServiceRegistrar, srv StageServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func (s *StageService) lookup(name string) (*stage.Stage, error) {
	if name == "" {
		return nil, status.Error(codes.InvalidArgument, "stage is required")
	}
	st, ok := s.devices.GetStage(name)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "stage %s not found", name)
	}
	return st, nil
}

// ListStages returns {"stages": [...]} ordered by name.
func (s *StageService) ListStages(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	stages := s.devices.ListStages()
	list := make([]*structpb.Value, 0, len(stages))
	for _, st := range stages {
		props, err := propertiesStruct(st.Properties())
		if err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
		list = append(list, structpb.NewStructValue(props))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"stages": structpb.NewListValue(&structpb.ListValue{Values: list}),
	}}, nil
}

func (s *StageService) GetPosition(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	st, err := s.lookup(req.GetValue())
	if err != nil {
		return nil, err
	}
	return propertiesStruct(st.Properties())
}

func (s *StageService) MoveRelative(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.move(ctx, stage.MoveRelative, req)
}

func (s *StageService) MoveAbsolute(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.move(ctx, stage.MoveAbsolute, req)
}

func (s *StageService) move(ctx context.Context, kind stage.MoveKind, req *structpb.Struct) (*structpb.Struct, error) {
	mr, err := parseMoveRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	st, err := s.lookup(mr.stage)
	if err != nil {
		return nil, err
	}

	switch {
	case kind == stage.MoveRelative && mr.position != nil:
		err = st.MoveRelative(ctx, mr.position, mr.blockCancellation)
	case kind == stage.MoveRelative:
		err = st.MoveRelativeSequence(ctx, mr.sequence, mr.blockCancellation)
	case mr.position != nil:
		err = st.MoveAbsolute(ctx, mr.position, mr.blockCancellation)
	default:
		err = st.MoveAbsoluteSequence(ctx, mr.sequence, mr.blockCancellation)
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return propertiesStruct(st.Properties())
}

func (s *StageService) InvertAxisDirection(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	st, err := s.lookup(fields["stage"].GetStringValue())
	if err != nil {
		return nil, err
	}
	axis := fields["axis"].GetStringValue()
	if axis == "" {
		return nil, status.Error(codes.InvalidArgument, "axis is required")
	}

	if err := st.InvertAxisDirection(ctx, axis); err != nil {
		return nil, toStatus(err)
	}
	return propertiesStruct(st.Properties())
}

func (s *StageService) SetZeroPosition(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	st, err := s.lookup(req.GetValue())
	if err != nil {
		return nil, err
	}
	if err := st.SetZeroPosition(ctx); err != nil {
		return nil, toStatus(err)
	}
	return propertiesStruct(st.Properties())
}

// WatchPosition streams the events of one stage, or of every stage when the
// name is empty. A named stage starts with a position snapshot.
func (s *StageService) WatchPosition(req *wrapperspb.StringValue, stream grpc.ServerStream) error {
	name := req.GetValue()
	if name != "" {
		st, err := s.lookup(name)
		if err != nil {
			return err
		}
		snapshot, err := eventStruct(stage.Event{Type: stage.EventPosition, Stage: name, Position: st.Position()})
		if err != nil {
			return status.Error(codes.Internal, err.Error())
		}
		if err := stream.SendMsg(snapshot); err != nil {
			return err
		}
	}

	eventCh := s.streamer.Subscribe(name)
	defer s.streamer.Unsubscribe(name, eventCh)

	for {
		select {
		case event, ok := <-eventCh:
			if !ok {
				return nil
			}
			msg, err := eventStruct(event)
			if err != nil {
				s.logger.Warn("Failed to encode stage event", zap.Error(err))
				continue
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}

		case <-stream.Context().Done():
			return stream.Context().Err()
		}
	}
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, stage.ErrLengthMismatch),
		errors.Is(err, stage.ErrUnknownAxis),
		errors.Is(err, stage.ErrMissingAxis),
		errors.Is(err, stage.ErrFractional),
		errors.Is(err, stage.ErrOutOfRange):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, stage.ErrNotImplemented):
		return status.Error(codes.Unimplemented, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Unavailable, err.Error())
	}
}
