package grpcapi

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// NewServer builds a gRPC server carrying StageService and the standard
// health service. Both report SERVING until health.Shutdown is called.
func NewServer(svc StageServer, authorizer *Authorizer, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	opts = append(opts,
		grpc.ChainUnaryInterceptor(authorizer.Unary()),
		grpc.ChainStreamInterceptor(authorizer.Stream()),
	)
	s := grpc.NewServer(opts...)

	Register(s, svc)

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)

	return s, hs
}
