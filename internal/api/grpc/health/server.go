package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/oshokin/alarm-quorum/internal/logger"
)

// stopTimeout bounds the graceful stop; open Watch streams are cut after it.
const stopTimeout = 5 * time.Second

// ServiceName is the health-checked service of the alarm host. The empty
// name reports the whole process and follows it.
const ServiceName = "alarmquorum.Host"

// Server exposes the standard gRPC health service for the alarm host.
type Server struct {
	// grpc serves the health API.
	grpc *grpc.Server
	// health tracks serving status per service.
	health *health.Server
}

// NewServer returns a server reporting NOT_SERVING until SetServing is called.
func NewServer(opts ...grpc.ServerOption) *Server {
	s := &Server{
		grpc:   grpc.NewServer(opts...),
		health: health.NewServer(),
	}

	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.SetServing(false)

	return s
}

// SetServing updates the status of the process and of ServiceName.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}

	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Serve accepts health checks on lis until ctx is done, then reports
// NOT_SERVING to watchers and stops gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	// Done channel is closed after GracefulStop finishes so Serve returns
	// only once the server fully stopped.
	done := make(chan struct{})

	go func() {
		defer close(done)

		<-ctx.Done()
		logger.Info(ctx, "Shutting down health server")
		s.health.Shutdown()

		stopped := make(chan struct{})

		go func() {
			s.grpc.GracefulStop()
			close(stopped)
		}()

		select {
		case <-stopped:
		case <-time.After(stopTimeout):
			s.grpc.Stop()
			<-stopped
		}
	}()

	logger.InfoKV(ctx, "Health server listening", "address", lis.Addr().String())

	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve health: %w", err)
	}

	<-done

	return nil
}
