package transport

import (
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the grpc.health.v1.Health service name graphsyncd
// reports status under.
const ServiceName = "graphsync.sync"

// GRPCHealth wraps the pre-compiled grpc.health.v1.Health service so
// operators can probe liveness with grpc_health_probe alongside the
// HTTP /health endpoint, without hand-writing any .pb.go for it.
type GRPCHealth struct {
	server *health.Server
}

// NewGRPCHealth creates a health service reporting SERVING for
// serviceName until SetNotServing is called.
func NewGRPCHealth(serviceName string) *GRPCHealth {
	srv := health.NewServer()
	srv.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	return &GRPCHealth{server: srv}
}

// Register mounts the health service on grpcServer.
func (h *GRPCHealth) Register(grpcServer *grpc.Server) {
	healthpb.RegisterHealthServer(grpcServer, h.server)
}

// SetNotServing flips serviceName to NOT_SERVING, used when a dependency
// (the bbolt handle, for instance) is no longer usable.
func (h *GRPCHealth) SetNotServing(serviceName string) {
	h.server.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)
}

// GRPCServer bundles a *grpc.Server carrying only the health service
// with the listener lifecycle around it, so the daemon can expose
// grpc_health_probe-style liveness on a dedicated port without pulling
// any domain RPCs onto the wire.
type GRPCServer struct {
	Health *GRPCHealth
	server *grpc.Server
}

// NewGRPCServer builds a *grpc.Server with the health service mounted.
func NewGRPCServer() *GRPCServer {
	h := NewGRPCHealth(ServiceName)
	srv := grpc.NewServer()
	h.Register(srv)
	return &GRPCServer{Health: h, server: srv}
}

// Start blocks serving addr until the listener fails or Stop is called.
func (g *GRPCServer) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return g.server.Serve(lis)
}

// Stop gracefully drains in-flight RPCs and closes the listener.
func (g *GRPCServer) Stop() {
	g.Health.SetNotServing(ServiceName)
	g.server.GracefulStop()
}
