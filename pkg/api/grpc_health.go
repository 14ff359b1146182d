package api

import (
	"fmt"
	"net"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ReconcilerService is the gRPC health service name reporting whether the
// reconciliation loop is running
const ReconcilerService = "burrow.reconciler"

// HealthService exposes the standard gRPC health protocol
type HealthService struct {
	grpc   *grpc.Server
	health *health.Server
	logger zerolog.Logger
}

// NewHealthService creates a health service reporting NOT_SERVING until
// SetServing is called
func NewHealthService() *HealthService {
	hs := health.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	h := &HealthService{
		grpc:   srv,
		health: hs,
		logger: log.WithComponent("grpc-health"),
	}
	h.SetServing(false)
	return h
}

// SetServing updates the overall and reconciler serving status
func (h *HealthService) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(ReconcilerService, status)
}

// Start listens on addr and serves until Stop
func (h *HealthService) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return h.Serve(lis)
}

// Serve serves on an existing listener
func (h *HealthService) Serve(lis net.Listener) error {
	h.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC health listening")
	return h.grpc.Serve(lis)
}

// Stop marks every service NOT_SERVING and stops the server
func (h *HealthService) Stop() {
	h.health.Shutdown()
	h.grpc.GracefulStop()
}
