package worker

import (
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name the worker reports under.
const ServiceName = "calculation.worker"

// HealthServer exposes grpc.health.v1 so orchestrators can health-check workers.
type HealthServer struct {
	server   *grpc.Server
	health   *health.Server
	listener net.Listener
	logger   *zap.Logger
}

func NewHealthServer(addr string, logger *zap.Logger) (*HealthServer, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	hs := health.NewServer()
	srv := grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, hs)
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	return &HealthServer{server: srv, health: hs, listener: lis, logger: logger.Named("health")}, nil
}

func (h *HealthServer) Addr() string { return h.listener.Addr().String() }

// SetServing flips both the overall and the worker service status.
func (h *HealthServer) SetServing(serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(ServiceName, status)
	h.logger.Debug("Health status updated", zap.String("status", status.String()))
}

// Serve blocks until Stop is called.
func (h *HealthServer) Serve() error {
	h.logger.Info("Health server listening", zap.String("addr", h.Addr()))
	if err := h.server.Serve(h.listener); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.server.GracefulStop()
}
