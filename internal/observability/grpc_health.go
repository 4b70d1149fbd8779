package observability

import (
	"context"
	"net"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServiceName is the gRPC health service name reported for sessions.
const HealthServiceName = "jetbot.interview.SessionService"

// GRPCHealth serves the standard gRPC health protocol for orchestration
// probes. Serving status follows the same checks as /ready.
type GRPCHealth struct {
	server *grpc.Server
	health *health.Server
	checks []HealthCheck
	logger zerolog.Logger
}

// NewGRPCHealth creates a gRPC server exposing only the health service.
func NewGRPCHealth(checks []HealthCheck) *GRPCHealth {
	server := grpc.NewServer()
	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, hs)
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	hs.SetServingStatus(HealthServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	return &GRPCHealth{
		server: server,
		health: hs,
		checks: checks,
		logger: WithComponent("grpc-health"),
	}
}

// Serve blocks serving on lis.
func (g *GRPCHealth) Serve(lis net.Listener) error {
	return g.server.Serve(lis)
}

// Refresh re-runs the dependency checks and updates the session service status.
func (g *GRPCHealth) Refresh(ctx context.Context) {
	_, ok := CheckAll(ctx, g.checks)
	status := grpc_health_v1.HealthCheckResponse_SERVING
	if !ok {
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	g.health.SetServingStatus(HealthServiceName, status)
}

// Watch refreshes serving status every interval until ctx is done.
func (g *GRPCHealth) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	g.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Refresh(ctx)
		}
	}
}

// Shutdown marks everything not serving and stops the server.
func (g *GRPCHealth) Shutdown() {
	g.logger.Info().Msg("Shutting down gRPC health server")
	g.health.Shutdown()
	g.server.GracefulStop()
}

// Status returns the current serving status for service.
func (g *GRPCHealth) Status(ctx context.Context, service string) (grpc_health_v1.HealthCheckResponse_ServingStatus, error) {
	resp, err := g.health.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: service})
	if err != nil {
		return grpc_health_v1.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}
