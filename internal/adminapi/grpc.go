package adminapi

import (
	"context"

	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_recovery "github.com/grpc-ecosystem/go-grpc-middleware/recovery"
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/ruvnet/swimring/internal/cluster"
)

// healthCheckMethod is exempt from the bearer-token interceptor, same
// as the HTTP surface's /healthz.
const healthCheckMethod = "/grpc.health.v1.Health/Check"

func (s *Server) authInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if len(s.secret) == 0 || info.FullMethod == healthCheckMethod {
			return handler(ctx, req)
		}
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}
		tokens := md.Get("authorization")
		if len(tokens) == 0 {
			return nil, status.Error(codes.Unauthenticated, "missing bearer token")
		}
		raw, err := parseBearer(tokens[0])
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		if _, err := verifyOperatorToken(s.secret, raw); err != nil {
			return nil, status.Error(codes.Unauthenticated, "invalid or expired token")
		}
		return handler(ctx, req)
	}
}

// NewGRPCServer builds the admin gRPC surface: the standard health
// service (its status tracks whether the local member is ONLINE) plus
// the hand-rolled ListMembers query service, wrapped in recovery and
// Prometheus interceptors the way the teacher's gRPC server is.
func (s *Server) NewGRPCServer() *grpc.Server {
	recoveryFunc := func(p interface{}) error {
		s.logger.Error("grpc panic recovered", zap.Any("panic", p))
		return status.Errorf(codes.Internal, "internal server error")
	}

	srv := grpc.NewServer(
		grpc.ForceServerCodec(gobCodec{}),
		grpc.UnaryInterceptor(grpc_middleware.ChainUnaryServer(
			grpc_prometheus.UnaryServerInterceptor,
			s.authInterceptor(),
			grpc_recovery.UnaryServerInterceptor(grpc_recovery.WithRecoveryHandler(recoveryFunc)),
		)),
	)

	healthSrv := health.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, healthSrv)
	srv.RegisterService(&queryServiceDesc, &queryService{registry: s.registry})
	grpc_prometheus.Register(srv)

	go s.watchLocalHealth(healthSrv)
	return srv
}

// watchLocalHealth flips the health service's serving status whenever
// the local member's own status changes, so load balancers in front of
// this node stop routing to it the moment it leaves ONLINE.
func (s *Server) watchLocalHealth(healthSrv *health.Server) {
	setStatus := func(status cluster.Status) {
		if status == cluster.ONLINE {
			healthSrv.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
		} else {
			healthSrv.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
		}
	}
	setStatus(s.registry.Local().Status())

	changes, cancel := s.registry.Changes(8)
	defer cancel()
	localName := s.registry.LocalName()
	for m := range changes {
		if m.Name == localName {
			setStatus(m.Status())
		}
	}
}
