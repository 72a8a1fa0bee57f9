package server

import (
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer exposes the standard gRPC health service.
type HealthServer struct {
	server       *grpc.Server
	healthServer *health.Server
	port         int
	logger       *zap.Logger
}

// NewHealthServer creates a gRPC server that starts out NOT_SERVING.
func NewHealthServer(port int, logger *zap.Logger) *HealthServer {
	s := grpc.NewServer(grpc.ConnectionTimeout(30 * time.Second))
	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(s, hs)
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	return &HealthServer{server: s, healthServer: hs, port: port, logger: logger}
}

// SetServing flips the overall status, SERVING while the scheduler runs.
func (s *HealthServer) SetServing(serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.healthServer.SetServingStatus("", status)
}

// Start listens on the configured port and serves in the background.
func (s *HealthServer) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(listener)
}

// Serve serves on listener in the background.
func (s *HealthServer) Serve(listener net.Listener) error {
	s.logger.Info("gRPC health server starting", zap.String("address", listener.Addr().String()))
	go func() {
		if err := s.server.Serve(listener); err != nil {
			s.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully stops the gRPC server
func (s *HealthServer) Stop() {
	s.healthServer.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		s.logger.Warn("gRPC server forced to stop after timeout")
		s.server.Stop()
	}
}
