package client

import (
	"context"
	"fmt"

	"github.com/danielpatrickdp/delay-risk/internal/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// #region grpc-prober
// GRPCProber checks readiness through the standard grpc.health.v1 service.
type GRPCProber struct {
	conn    *grpc.ClientConn
	client  healthpb.HealthClient
	service string
}

// NewGRPCProber connects to a health server at addr.
func NewGRPCProber(addr string) (*GRPCProber, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return NewGRPCProberWithConn(conn), nil
}

// NewGRPCProberWithConn wraps an existing connection. Close closes it.
func NewGRPCProberWithConn(conn *grpc.ClientConn) *GRPCProber {
	return &GRPCProber{
		conn:    conn,
		client:  healthpb.NewHealthClient(conn),
		service: api.HealthService,
	}
}

// Health returns nil only when the service reports SERVING.
func (p *GRPCProber) Health(ctx context.Context) error {
	resp, err := p.client.Check(ctx, &healthpb.HealthCheckRequest{Service: p.service})
	if err != nil {
		return fmt.Errorf("health rpc: %w", err)
	}
	if s := resp.GetStatus(); s != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("health: %s", s)
	}
	return nil
}

// Close shuts down the gRPC connection.
func (p *GRPCProber) Close() error {
	return p.conn.Close()
}

// #endregion grpc-prober
