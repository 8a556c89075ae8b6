package server

import (
	"fmt"
	"log"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServiceName is the gRPC health service name reported for the memory
// store, next to the overall "" status.
const HealthServiceName = "nim-recall.memory"

// Health serves the standard gRPC health checking protocol so orchestrators
// can probe the process without speaking HTTP.
type Health struct {
	grpc   *grpc.Server
	health *health.Server
}

// NewHealth creates a health server reporting NOT_SERVING until SetServing.
func NewHealth() *Health {
	h := &Health{
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
	}
	grpc_health_v1.RegisterHealthServer(h.grpc, h.health)
	h.SetServing(false)
	return h
}

// SetServing updates the reported status.
func (h *Health) SetServing(serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(HealthServiceName, status)
}

// Serve blocks serving on lis until Stop.
func (h *Health) Serve(lis net.Listener) error {
	log.Printf("[SERVER] gRPC health listening on %s", lis.Addr())
	if err := h.grpc.Serve(lis); err != nil {
		return fmt.Errorf("serve grpc health: %w", err)
	}
	return nil
}

// Stop marks the service as shutting down and stops the gRPC server.
func (h *Health) Stop() {
	h.health.Shutdown()
	h.grpc.GracefulStop()
}
