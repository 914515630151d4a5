package grpcapi

import (
	"context"
	"strings"

	"github.com/KevinKickass/OpenStageCore/internal/auth"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// methodPermissions mirrors the REST route permissions.
var methodPermissions = map[string]auth.Permission{
	fullMethod("ListStages"):          auth.PermOperator,
	fullMethod("GetPosition"):         auth.PermOperator,
	fullMethod("MoveRelative"):        auth.PermOperator,
	fullMethod("MoveAbsolute"):        auth.PermOperator,
	fullMethod("WatchPosition"):       auth.PermOperator,
	fullMethod("SetZeroPosition"):     auth.PermTechnician,
	fullMethod("InvertAxisDirection"): auth.PermAdmin,
}

// Authorizer checks the bearer token in the "authorization" metadata of
// every StageService call. Other services, such as health, pass through.
type Authorizer struct {
	service *auth.AuthService
}

func NewAuthorizer(service *auth.AuthService) *Authorizer {
	return &Authorizer{service: service}
}

func (a *Authorizer) authorize(ctx context.Context, method string) error {
	required, ok := methodPermissions[method]
	if !ok || !a.service.Enabled() {
		return nil
	}

	md, _ := metadata.FromIncomingContext(ctx)
	values := md.Get("authorization")
	if len(values) == 0 {
		return status.Error(codes.Unauthenticated, "missing authorization metadata")
	}
	token, found := strings.CutPrefix(values[0], "Bearer ")
	if !found {
		return status.Error(codes.Unauthenticated, "invalid authorization format")
	}

	ip := ""
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		ip = p.Addr.String()
	}
	identity, err := a.service.ValidateToken(ctx, token, ip)
	if err != nil {
		return status.Error(codes.Unauthenticated, "invalid or expired token")
	}
	if !identity.Has(required) {
		return status.Errorf(codes.PermissionDenied, "%s requires %s permission", method, required)
	}
	return nil
}

func (a *Authorizer) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if err := a.authorize(ctx, info.FullMethod); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

func (a *Authorizer) Stream() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if err := a.authorize(ss.Context(), info.FullMethod); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}
