// Package api exposes the device health over the standard gRPC health
// service and the process metrics over HTTP.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	grpc_mw "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"vrnode/pkg/log"
	"vrnode/pkg/models"
)

// ServiceName is the health service name reported next to the overall ("")
// status.
const ServiceName = "vrnode"

// Observable is satisfied by the health publisher.
type Observable interface {
	Observe(fn func(models.HealthRecord))
	Current() (models.HealthRecord, bool)
}

// StatusServer mirrors the published health record into a gRPC health
// server: SERVING exactly when the record's exit code is 0.
type StatusServer struct {
	health *grpchealth.Server
}

func NewStatusServer(src Observable) *StatusServer {
	s := &StatusServer{health: grpchealth.NewServer()}

	rec, ok := src.Current()
	if !ok {
		rec = models.HealthStarting
	}

	s.update(rec)
	src.Observe(s.update)

	return s
}

func (s *StatusServer) update(rec models.HealthRecord) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if rec.ExitCode == 0 {
		status = healthpb.HealthCheckResponse_SERVING
	}

	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Register adds the health and reflection services to srv.
func (s *StatusServer) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, s.health)
	reflection.Register(srv)
	grpc_prometheus.Register(srv)
}

// Shutdown reports NOT_SERVING to every watcher and stops further updates.
func (s *StatusServer) Shutdown() {
	s.health.Shutdown()
}

// NewGRPCServer builds a server with the metrics interceptors installed.
func NewGRPCServer() *grpc.Server {
	return grpc.NewServer(
		grpc.StreamInterceptor(grpc_mw.ChainStreamServer(
			grpc_prometheus.StreamServerInterceptor,
		)),
		grpc.UnaryInterceptor(grpc_mw.ChainUnaryServer(
			grpc_prometheus.UnaryServerInterceptor,
		)),
	)
}

// ServeStatus serves the health service on endpoint until ctx is done.
func ServeStatus(ctx context.Context, endpoint string, status *StatusServer) error {
	logger := log.GetLogger(ctx)

	listener, err := net.Listen("tcp", endpoint)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", endpoint, err)
	}

	srv := NewGRPCServer()
	status.Register(srv)

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down status server")
		status.Shutdown()
		srv.GracefulStop()
	}()

	logger.Infof("Starting status server on %s", endpoint)

	if err := srv.Serve(listener); err != nil {
		return fmt.Errorf("failed to serve: %w", err)
	}

	return nil
}

// ServeMetrics exposes the gatherer on /metrics until ctx is done.
func ServeMetrics(ctx context.Context, endpoint string, gatherer prometheus.Gatherer) error {
	logger := log.GetLogger(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              endpoint,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = srv.Shutdown(shutdown)
	}()

	logger.Infof("Serving metrics on %s", endpoint)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serving metrics: %w", err)
	}

	return nil
}
