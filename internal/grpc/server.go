package grpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"smartbuilding/internal/health"
)

// Service name reported for the engine as a whole. Each dependency is
// reported under its own check name as well.
const EngineService = "smartbuilding.alerting"

const stopGrace = 5 * time.Second

// Server exposes the standard gRPC health protocol, refreshed from the
// dependency checks.
type Server struct {
	grpc     *grpc.Server
	health   *grpchealth.Server
	registry *health.Registry
	interval time.Duration
	log      *zap.Logger
}

func NewServer(registry *health.Registry, interval time.Duration, log *zap.Logger) *Server {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	s := &Server{
		grpc:     grpc.NewServer(),
		health:   grpchealth.NewServer(),
		registry: registry,
		interval: interval,
		log:      log,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)
	return s
}

func servingStatus(up bool) healthpb.HealthCheckResponse_ServingStatus {
	if up {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// Refresh runs the checks once and publishes the statuses.
func (s *Server) Refresh(ctx context.Context) *health.Report {
	report := s.registry.Run(ctx)
	for _, res := range report.Checks {
		s.health.SetServingStatus(res.Name, servingStatus(res.Status != health.StatusDown))
	}
	up := report.Status != health.OverallDown
	s.health.SetServingStatus("", servingStatus(up))
	s.health.SetServingStatus(EngineService, servingStatus(up))
	return report
}

func (s *Server) watch(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if report := s.Refresh(ctx); report.Status != health.OverallOK {
				s.log.Warn("dependency check not ok", zap.String("status", report.Status))
			}
		}
	}
}

// Serve blocks until the listener fails or Stop is called.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.Refresh(ctx)
	go s.watch(ctx)

	s.log.Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
	return s.grpc.Serve(lis)
}

// Stop marks everything as not serving and drains the server. Open health
// watches are cut after stopGrace.
func (s *Server) Stop() {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopGrace):
		s.grpc.Stop()
		<-done
	}
}

func StartServer(ctx context.Context, addr string, s *Server) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(ctx, lis)
}
