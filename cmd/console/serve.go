package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/dataherald/console/cmd/console/config"
	"github.com/dataherald/console/cmd/console/middleware"
	"github.com/dataherald/console/pkg/cache"
	"github.com/dataherald/console/pkg/handlers"
	"github.com/dataherald/console/pkg/infrastructure/memory"
	"github.com/dataherald/console/pkg/infrastructure/metrics"
	"github.com/dataherald/console/pkg/infrastructure/pool"
	"github.com/dataherald/console/pkg/repositories/duckdb"
	"github.com/dataherald/console/pkg/server"
	"github.com/dataherald/console/pkg/services"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the console server",
	Long: `Start the console Flight server with the specified configuration.

Example:
  console serve --config ./config.yaml
  console serve --address 0.0.0.0:8815 --database ./console.duckdb`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("address", "0.0.0.0:8815", "server listen address")
	serveCmd.Flags().String("database", "console.duckdb", "DuckDB database path")
	serveCmd.Flags().Bool("tls", false, "enable TLS")
	serveCmd.Flags().String("tls-cert", "", "TLS certificate file")
	serveCmd.Flags().String("tls-key", "", "TLS key file")
	serveCmd.Flags().Bool("auth", false, "enable authentication")
	serveCmd.Flags().String("auth-type", config.AuthAPIKey, "authentication type (api_key, jwt, bearer)")
	serveCmd.Flags().String("jwt-secret", "", "HMAC secret for jwt auth")
	serveCmd.Flags().Bool("metrics", true, "enable Prometheus metrics")
	serveCmd.Flags().String("metrics-address", ":9090", "metrics server address")
	serveCmd.Flags().Bool("census", true, "run the periodic status census")
	serveCmd.Flags().String("census-schedule", services.DefaultCensusSchedule, "status census cron schedule")
	serveCmd.Flags().Bool("cache", true, "cache query listings")
	serveCmd.Flags().Int("max-connections", 100, "maximum concurrent streams")
	serveCmd.Flags().Duration("shutdown-timeout", 30*time.Second, "graceful shutdown timeout")
}

// store is the opened database and the services built on it.
type store struct {
	pool    pool.ConnectionPool
	queries services.QueryService
	keys    services.APIKeyService
}

// openStore opens the database, applies the schema and builds the services.
func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger, collector metrics.Collector) (*store, error) {
	connPool, err := pool.New(pool.Config{
		DSN:                cfg.Database,
		MaxOpenConnections: cfg.ConnectionPool.MaxOpenConnections,
		MaxIdleConnections: cfg.ConnectionPool.MaxIdleConnections,
		ConnMaxLifetime:    cfg.ConnectionPool.ConnMaxLifetime,
		ConnMaxIdleTime:    cfg.ConnectionPool.ConnMaxIdleTime,
		HealthCheckPeriod:  cfg.ConnectionPool.HealthCheckPeriod,
		ConnectionTimeout:  cfg.ConnectionTimeout,
	}, logger.With().Str("component", "pool").Logger())
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	connPool.SetMetricsCollector(&poolMetricsAdapter{collector: collector})

	if err := duckdb.Migrate(ctx, connPool, logger); err != nil {
		connPool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	repoLogger := logger.With().Str("component", "repository").Logger()
	serviceMetrics := &serviceMetricsAdapter{collector: collector}

	return &store{
		pool: connPool,
		queries: services.NewQueryService(
			duckdb.NewQueryRepository(connPool, repoLogger),
			newLoggerAdapter(logger, "query_service"),
			serviceMetrics,
		),
		keys: services.NewAPIKeyService(
			duckdb.NewAPIKeyRepository(connPool, repoLogger),
			cfg.APIKeys,
			newLoggerAdapter(logger, "apikey_service"),
			serviceMetrics,
		),
	}, nil
}

func (s *store) Close() error {
	return s.pool.Close()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := setupLogging(os.Stdout, cfg.LogLevel)
	logger.Info().
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Msg("Starting Dataherald console server")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var collector metrics.Collector = metrics.NewNoOpCollector()
	var metricsServer *metrics.MetricsServer
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		collector = metrics.NewPrometheusCollector(reg)
		metricsServer = metrics.NewMetricsServer(cfg.Metrics.Address, cfg.Metrics.Path, reg)
	}

	st, err := openStore(ctx, cfg, logger, collector)
	if err != nil {
		return err
	}
	defer st.Close()

	allocator := memory.NewTrackedAllocator(nil)
	srv := newFlightServer(cfg, st, allocator, logger, collector)
	defer srv.Close(context.Background())

	grpcServer, healthServer, err := setupGRPCServer(cfg, srv, st.keys, logger, collector)
	if err != nil {
		return fmt.Errorf("failed to setup gRPC server: %w", err)
	}

	var scheduler *services.CensusScheduler
	if cfg.Census.Enabled {
		scheduler, err = services.NewCensusScheduler(st.queries, cfg.Census.Schedule, cfg.Census.Timeout,
			newLoggerAdapter(logger, "census"))
		if err != nil {
			return fmt.Errorf("failed to create census scheduler: %w", err)
		}
	}

	listener, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().
			Str("address", cfg.Address).
			Bool("tls", cfg.TLS.Enabled).
			Bool("auth", cfg.Auth.Enabled).
			Msg("Server listening")
		if err := grpcServer.Serve(listener); err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if metricsServer != nil {
		g.Go(func() error {
			logger.Info().Str("address", cfg.Metrics.Address).Msg("Starting metrics server")
			return metricsServer.Start()
		})
	}

	if cfg.Metrics.Enabled {
		g.Go(func() error {
			allocator.Report(gctx, collector, 15*time.Second)
			return nil
		})
	}

	if scheduler != nil {
		scheduler.Start()
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Dur("timeout", cfg.ShutdownTimeout).Msg("Starting graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if healthServer != nil {
			healthServer.Shutdown()
		}
		if scheduler != nil {
			if err := scheduler.Stop(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("Error stopping census scheduler")
			}
		}

		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			logger.Warn().Msg("Graceful shutdown timed out, closing open streams")
			grpcServer.Stop()
		}

		if err := srv.Close(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Error during server shutdown")
		}
		if metricsServer != nil {
			if err := metricsServer.Stop(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("Error stopping metrics server")
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("Server shutdown complete")
	return nil
}

func newFlightServer(cfg *config.Config, st *store, allocator *memory.TrackedAllocator, logger zerolog.Logger, collector metrics.Collector) *server.FlightServer {
	handlerMetrics := &serviceMetricsAdapter{collector: collector}

	queryHandler := handlers.NewQueryHandler(st.queries, allocator,
		newLoggerAdapter(logger, "query_handler"), handlerMetrics)
	apiKeyHandler := handlers.NewAPIKeyHandler(st.keys, allocator,
		newLoggerAdapter(logger, "apikey_handler"), handlerMetrics)

	var listCache cache.Cache
	if cfg.Cache.Enabled {
		listCache = cache.NewMemoryCache(cache.DefaultConfig().
			WithAllocator(allocator).
			WithMaxSize(cfg.Cache.MaxSize).
			WithMaxEntries(cfg.Cache.MaxEntries).
			WithTTL(cfg.Cache.TTL).
			WithStats(cfg.Cache.EnableStats))
	}

	return server.New(queryHandler, apiKeyHandler, allocator, listCache, logger, collector)
}

func setupGRPCServer(
	cfg *config.Config,
	srv *server.FlightServer,
	keys middleware.APIKeyAuthenticator,
	logger zerolog.Logger,
	collector metrics.Collector,
) (*grpc.Server, *health.Server, error) {
	authMW, err := middleware.NewAuthMiddleware(cfg.Auth, keys, logger.With().Str("component", "auth_middleware").Logger())
	if err != nil {
		return nil, nil, err
	}
	logMW := middleware.NewLoggingMiddleware(logger.With().Str("component", "logging_middleware").Logger())
	metricsMW := middleware.NewMetricsMiddleware(collector)
	recoverMW := middleware.NewRecoveryMiddleware(logger.With().Str("component", "recovery_middleware").Logger())

	opts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(int(cfg.MaxMessageSize)),
		grpc.MaxSendMsgSize(int(cfg.MaxMessageSize)),
		grpc.MaxConcurrentStreams(uint32(cfg.MaxConnections)),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    30 * time.Second,
			Timeout: 10 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(
			recoverMW.UnaryInterceptor(),
			logMW.UnaryInterceptor(),
			metricsMW.UnaryInterceptor(),
			authMW.UnaryInterceptor(),
		),
		grpc.ChainStreamInterceptor(
			recoverMW.StreamInterceptor(),
			logMW.StreamInterceptor(),
			metricsMW.StreamInterceptor(),
			authMW.StreamInterceptor(),
		),
	}

	if cfg.TLS.Enabled {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load TLS credentials: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
	}

	grpcServer := grpc.NewServer(opts...)
	srv.Register(grpcServer)

	var healthServer *health.Server
	if cfg.Health.Enabled {
		healthServer = health.NewServer()
		grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
		healthServer.SetServingStatus("arrow.flight.protocol.FlightService", grpc_health_v1.HealthCheckResponse_SERVING)
	}

	if cfg.Reflection {
		reflection.Register(grpcServer)
	}

	return grpcServer, healthServer, nil
}
