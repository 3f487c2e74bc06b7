package server

import (
	"github.com/danielpatrickdp/delay-risk/internal/api"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// #region grpc-health
// GRPCServer returns a gRPC server exposing grpc.health.v1, SERVING for
// both the overall server and the prediction service.
func (s *Server) GRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	gs := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(gs, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(api.HealthService, healthpb.HealthCheckResponse_SERVING)
	return gs
}

// Drain marks every health service NOT_SERVING ahead of shutdown.
func (s *Server) Drain() {
	s.health.Shutdown()
}

// #endregion grpc-health
