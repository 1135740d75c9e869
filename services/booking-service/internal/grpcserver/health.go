package grpcserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/md-rashed-zaman/apptgrid/libs/grpcx"
	"github.com/md-rashed-zaman/apptgrid/libs/runtime"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Health serves grpc.health.v1 from the same checks as /readyz.
type Health struct {
	service  string
	server   *health.Server
	checks   []runtime.ReadyCheck
	interval time.Duration
	logger   *slog.Logger
}

func NewHealth(service string, interval time.Duration, logger *slog.Logger, checks ...runtime.ReadyCheck) *Health {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	h := &Health{
		service:  service,
		server:   health.NewServer(),
		checks:   checks,
		interval: interval,
		logger:   logger,
	}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

func (h *Health) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(h.service, status)
}

// Refresh runs the checks once and publishes the result.
func (h *Health) Refresh(ctx context.Context) []string {
	failures := runtime.RunChecks(ctx, h.checks...)
	if len(failures) > 0 {
		h.logger.Warn("grpc health not serving", "failures", strings.Join(failures, "; "))
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return failures
	}
	h.set(healthpb.HealthCheckResponse_SERVING)
	return nil
}

// Run refreshes on every tick until ctx is done, then marks everything NOT_SERVING.
func (h *Health) Run(ctx context.Context) {
	h.Refresh(ctx)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.server.Shutdown()
			return
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}

func (h *Health) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.server)
}

// Serve runs a gRPC server on lis until ctx is done, then stops it gracefully.
func Serve(ctx context.Context, lis net.Listener, h *Health, logger *slog.Logger) error {
	srv := grpcx.NewServer(logger)
	h.Register(srv)
	go h.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("grpc server starting", "addr", lis.Addr().String())
		errCh <- srv.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		srv.GracefulStop()
		<-errCh
		logger.Info("grpc server stopped")
		return nil
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}
