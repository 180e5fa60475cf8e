package health

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// ServiceName is the named service the recognizer registers under.
const ServiceName = "airscribe.Recognizer"

// defaultWatchInterval is how often Watch re-evaluates readiness.
const defaultWatchInterval = time.Second

// Server implements healthpb.HealthServer.
type Server struct {
	healthpb.UnimplementedHealthServer
	ready    func() bool
	interval time.Duration
}

// New creates a Server that reports ready() for the recognizer.
func New(ready func() bool) *Server {
	return &Server{ready: ready, interval: defaultWatchInterval}
}

func (s *Server) status(service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	if service != "" && service != ServiceName {
		return healthpb.HealthCheckResponse_SERVICE_UNKNOWN, status.Errorf(codes.NotFound, "unknown service %q", service)
	}
	if s.ready != nil && s.ready() {
		return healthpb.HealthCheckResponse_SERVING, nil
	}
	return healthpb.HealthCheckResponse_NOT_SERVING, nil
}

// Check is the unary health probe.
// Authentication is enforced by the gRPC server interceptor before this is called.
func (s *Server) Check(_ context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	st, err := s.status(req.GetService())
	if err != nil {
		return nil, err
	}
	slog.Debug("health: check", "service", req.GetService(), "status", st.String())
	return &healthpb.HealthCheckResponse{Status: st}, nil
}

// Watch streams the serving status, sending an update whenever it changes.
// An unknown service receives SERVICE_UNKNOWN rather than an error, matching
// the reference health server.
func (s *Server) Watch(req *healthpb.HealthCheckRequest, stream healthpb.Health_WatchServer) error {
	last := healthpb.HealthCheckResponse_ServingStatus(-1)
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		st, _ := s.status(req.GetService())
		if st != last {
			if err := stream.Send(&healthpb.HealthCheckResponse{Status: st}); err != nil {
				return err
			}
			last = st
		}
		select {
		case <-stream.Context().Done():
			return status.FromContextError(stream.Context().Err()).Err()
		case <-t.C:
		}
	}
}
