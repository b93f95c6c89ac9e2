package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	grpcapi "github.com/lguibr/Mimeflow/internal/api/grpc"
	"github.com/lguibr/Mimeflow/internal/app"
	"github.com/lguibr/Mimeflow/internal/config"
	httpapi "github.com/lguibr/Mimeflow/internal/http"
	"github.com/lguibr/Mimeflow/internal/observability"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gRPC, HTTP and metrics listeners",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			sigCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(sigCtx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Configuration) error {
	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	log := a.Logger.With().Str("method", "serve").Logger()

	if err := a.Start(ctx); err != nil {
		_ = a.Shutdown()
		return err
	}

	lis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
	if err != nil {
		_ = a.Shutdown()
		return fmt.Errorf("listen grpc: %w", err)
	}

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(observability.UnaryServerInterceptor(a.Metrics)),
		grpc.ChainStreamInterceptor(observability.StreamServerInterceptor(a.Metrics)),
	)

	// Register gRPC health check service
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(grpcapi.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	scoring := grpcapi.NewServer(a.Registry, a.Options, a.EstimatorFactory()).
		WithDefaultProvider(cfg.Estimator.Provider)
	grpcapi.Register(server, scoring)

	// Enable gRPC reflection for debugging tools like grpcurl
	if cfg.Service.Reflection {
		reflection.Register(server)
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Service.HTTPPort,
		Handler:           httpapi.NewRouter(a),
		ReadHeaderTimeout: 5 * time.Second,
	}
	obs := observability.NewServer(":"+cfg.Service.MetricsPort, nil)
	obs.Start()

	errc := make(chan error, 2)
	go func() {
		log.Info().Str("addr", lis.Addr().String()).Msg("Mimeflow gRPC server started")
		if err := server.Serve(lis); err != nil {
			errc <- fmt.Errorf("grpc serve: %w", err)
		}
	}()
	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("Mimeflow HTTP server started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http serve: %w", err)
		}
	}()
	obs.SetReady(true)

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	case serveErr = <-errc:
		log.Error().Err(serveErr).Msg("Listener failed")
	}

	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	obs.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown")
	}
	server.GracefulStop()
	if err := a.Shutdown(); err != nil {
		log.Warn().Err(err).Msg("Application shutdown")
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Observability shutdown")
	}
	return serveErr
}
