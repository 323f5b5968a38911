package admin

import (
	"fmt"
	"net"
	"strconv"

	"fragstore/pkg/types"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// CoordinatorService is the gRPC health service name of the coordinator.
const CoordinatorService = "fragstore.Coordinator"

// NodeService returns the gRPC health service name of node index.
func NodeService(index int) string {
	return "fragstore.Node/" + strconv.Itoa(index)
}

// HealthServer publishes coordinator and node state through the standard
// grpc.health.v1 service.
type HealthServer struct {
	address   string
	nodeCount int
	logger    *zap.Logger

	health   *health.Server
	server   *grpc.Server
	listener net.Listener
}

func NewHealthServer(address string, nodeCount int, logger *zap.Logger) *HealthServer {
	if logger == nil {
		logger = zap.NewNop()
	}

	h := &HealthServer{
		address:   address,
		nodeCount: nodeCount,
		logger:    logger,
		health:    health.NewServer(),
		server:    grpc.NewServer(),
	}
	healthpb.RegisterHealthServer(h.server, h.health)

	h.SetServing(false)
	for i := 0; i < nodeCount; i++ {
		h.health.SetServingStatus(NodeService(i), healthpb.HealthCheckResponse_UNKNOWN)
	}
	return h
}

// Start binds the listener and serves in the background.
func (h *HealthServer) Start() error {
	listener, err := net.Listen("tcp", h.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.address, err)
	}
	h.listener = listener

	go func() {
		h.logger.Info("Starting gRPC health server", zap.String("address", listener.Addr().String()))
		if err := h.server.Serve(listener); err != nil && err != grpc.ErrServerStopped {
			h.logger.Error("gRPC health server failed", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (h *HealthServer) Addr() net.Addr {
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// SetServing updates the overall and coordinator service status.
func (h *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(CoordinatorService, status)
}

// UpdateNodes records the result of a probe round. It has the signature
// of a coordinator probe hook.
func (h *HealthServer) UpdateNodes(statuses []types.NodeStatus) {
	for _, s := range statuses {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if s.Reachable {
			status = healthpb.HealthCheckResponse_SERVING
		}
		h.health.SetServingStatus(NodeService(s.Index), status)
	}
}

// Stop marks every service NOT_SERVING and stops the server.
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.server.GracefulStop()
}
