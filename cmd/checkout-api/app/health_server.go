package app

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer answers grpc.health.v1 checks for the checkout service.
type HealthServer struct {
	addr   string
	srv    *grpc.Server
	health *health.Server
}

func NewHealthServer(addr string) *HealthServer {
	hs := health.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return &HealthServer{addr: addr, srv: srv, health: hs}
}

// SetServing flips the overall and per-service status.
func (h *HealthServer) SetServing(service string, ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus(service, st)
}

// Serve blocks until ctx is done, then stops gracefully.
func (h *HealthServer) Serve(ctx context.Context) error {
	lis, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("grpc health listen %s: %w", h.addr, err)
	}
	return h.serve(ctx, lis)
}

func (h *HealthServer) serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() { errCh <- h.srv.Serve(lis) }()

	select {
	case <-ctx.Done():
		h.health.Shutdown()
		h.srv.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}
