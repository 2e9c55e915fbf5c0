package network

import (
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/annel0/room-server/internal/logging"
)

// ServiceRooms имя сервиса в gRPC health для балансировщиков
const ServiceRooms = "room-server.Rooms"

// HealthServer стандартный gRPC health-check
type HealthServer struct {
	server *grpc.Server
	health *health.Server
	logger *logging.Logger
}

func NewHealthServer() *HealthServer {
	h := &HealthServer{
		server: grpc.NewServer(),
		health: health.NewServer(),
		logger: logging.GetNetworkLogger(),
	}
	healthpb.RegisterHealthServer(h.server, h.health)
	h.health.SetServingStatus(ServiceRooms, healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// SetServing переключает статус сервиса комнат и общий статус ("")
func (h *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(ServiceRooms, status)
}

// Serve обслуживает l до Stop
func (h *HealthServer) Serve(l net.Listener) error {
	h.logger.Info("💓 gRPC health на %s", l.Addr())
	return h.server.Serve(l)
}

// Listen открывает addr и обслуживает его в фоне
func (h *HealthServer) Listen(addr string) (net.Addr, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	go func() {
		if err := h.Serve(l); err != nil {
			h.logger.Error("gRPC health остановлен: %v", err)
		}
	}()
	return l.Addr(), nil
}

// Stop переводит сервисы в NOT_SERVING и останавливает сервер
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.server.GracefulStop()
}
