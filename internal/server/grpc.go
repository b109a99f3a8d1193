package server

import (
	"context"
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"VaultLedger/internal/observability"
)

// GRPCServer is the ops-plane gRPC endpoint. It carries the standard health
// service and server reflection; the query and submission surface lives on
// the HTTP listener.
type GRPCServer struct {
	server *grpc.Server
	health *health.Server
	addr   string
	logger zerolog.Logger
}

func NewGRPCServer(addr string) *GRPCServer {
	server := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(server)

	return &GRPCServer{
		server: server,
		health: healthServer,
		addr:   addr,
		logger: observability.NewLogger("grpc"),
	}
}

// SetServing mirrors the readiness flag into the gRPC health service. The
// server starts NOT_SERVING and flips once replay has finished.
func (s *GRPCServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
}

// Start runs the server until ctx is cancelled (blocking).
func (s *GRPCServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("grpc server shutting down")
		s.server.GracefulStop()
	}()

	s.logger.Info().Str("addr", s.addr).Msg("grpc server listening")
	return s.server.Serve(lis)
}
