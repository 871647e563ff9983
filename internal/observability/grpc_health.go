package observability

import (
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCHealth serves grpc.health.v1 with one service entry per upstream provider.
type GRPCHealth struct {
	server *grpc.Server
	health *health.Server
}

// NewGRPCHealth creates the gRPC server with only the health service registered.
func NewGRPCHealth(services ...string) *GRPCHealth {
	h := health.NewServer()
	for _, svc := range services {
		h.SetServingStatus(svc, healthpb.HealthCheckResponse_SERVING)
	}

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, h)
	return &GRPCHealth{server: srv, health: h}
}

// SetServing flips one service between SERVING and NOT_SERVING.
func (g *GRPCHealth) SetServing(service string, serving bool) {
	status := healthpb.HealthCheckResponse_SERVING
	if !serving {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	g.health.SetServingStatus(service, status)
}

// Check answers a health probe in-process.
func (g *GRPCHealth) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := g.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

// Serve blocks serving gRPC on lis until Stop is called.
func (g *GRPCHealth) Serve(lis net.Listener) error {
	return g.server.Serve(lis)
}

// Stop marks everything NOT_SERVING and drains the server.
func (g *GRPCHealth) Stop() {
	g.health.Shutdown()
	g.server.GracefulStop()
}
