// Package grpcapi exposes the standard gRPC health service, reporting
// SERVING while the session loop runs.
package grpcapi

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name of the session loop.
const ServiceName = "speech.session.Loop"

// Server owns the health status published over gRPC.
type Server struct {
	health *health.Server
}

// Register installs the health and reflection services on g. Both the
// overall and the loop status start as NOT_SERVING.
func Register(g *grpc.Server) *Server {
	s := &Server{health: health.NewServer()}
	s.SetServing(false)
	healthpb.RegisterHealthServer(g, s.health)
	reflection.Register(g)
	return s
}

// SetServing flips the overall and loop status.
func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Shutdown marks everything NOT_SERVING and ignores later updates.
func (s *Server) Shutdown() {
	s.health.Shutdown()
}
