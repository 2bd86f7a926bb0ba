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
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rl1809/keyshop/internal/adapter/handler"
	"github.com/rl1809/keyshop/internal/config"
	"github.com/rl1809/keyshop/internal/core/service"
	"github.com/rl1809/keyshop/internal/platform/observability"
)

const shutdownTimeout = 5 * time.Second

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "keyshop",
		Short:         "Digital key fulfillment service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/keyshop.yaml", "path to the YAML config file")

	root.AddCommand(newServeCmd(&configPath), newMigrateCmd(&configPath))
	return root
}

func newServeCmd(configPath *string) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC servers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply the embedded schema before serving")
	return cmd
}

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema to the configured store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.ServiceName)
			if err != nil {
				return err
			}
			defer logger.Sync()

			store, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer store.close()

			if err := store.migrate(cmd.Context()); err != nil {
				return err
			}
			logger.Info("schema applied", zap.String("driver", cfg.StoreDriver))
			return nil
		},
	}
}

func serve(ctx context.Context, cfg config.Config, migrate bool) error {
	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.ServiceName)
	if err != nil {
		return err
	}
	defer logger.Sync()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.ServiceName, version, cfg.OTELEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("trace flush failed", zap.Error(err))
		}
	}()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.close()

	if migrate {
		if err := store.migrate(ctx); err != nil {
			return err
		}
		logger.Info("schema applied", zap.String("driver", cfg.StoreDriver))
	}

	cache, closeCache, err := openOrderCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	publisher := openPublisher(cfg, logger)
	defer publisher.Close()

	orderOpts := []service.Option{service.WithEventPublisher(publisher)}
	if cache != nil {
		orderOpts = append(orderOpts, service.WithOrderCache(cache))
	}
	orders := service.NewOrderService(store.repo, logger, orderOpts...)
	notifications := service.NewNotificationService(store.repo, logger)
	catalog := service.NewCatalogService(store.repo, logger)

	grpcServer, healthServer := newGRPCServer(orders, notifications, cfg.MaxOrderQuantity)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	httpHandler := handler.NewHTTPHandler(orders, notifications, catalog, logger, cfg.MaxOrderQuantity)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpHandler.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return runServers(ctx, logger, grpcServer, healthServer, lis, httpServer)
}

func newGRPCServer(orders *service.OrderService, notifications *service.NotificationService, maxQuantity int) (*grpc.Server, *health.Server) {
	srv := grpc.NewServer()
	handler.RegisterFulfillmentServer(srv, handler.NewGRPCHandler(orders, notifications, maxQuantity))

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	return srv, healthServer
}

// runServers blocks until ctx ends or a server fails, then drains both. A server failure is returned.
func runServers(ctx context.Context, logger *zap.Logger, grpcServer *grpc.Server, healthServer *health.Server, lis net.Listener, httpServer *http.Server) error {
	serveErr := make(chan error, 2)
	go func() {
		logger.Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
		if err := grpcServer.Serve(lis); err != nil {
			serveErr <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("http server: %w", err)
		}
	}()

	var failure error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case failure = <-serveErr:
		logger.Error("server failed", zap.Error(failure))
	}

	healthServer.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	logger.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")
	return failure
}
