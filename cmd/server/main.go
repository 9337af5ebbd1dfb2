package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/pesio-ai/be-asset-custody/internal/actor"
	"github.com/pesio-ai/be-asset-custody/internal/client"
	"github.com/pesio-ai/be-asset-custody/internal/handler"
	"github.com/pesio-ai/be-asset-custody/internal/metrics"
	"github.com/pesio-ai/be-asset-custody/internal/platform/auth"
	"github.com/pesio-ai/be-asset-custody/internal/platform/config"
	"github.com/pesio-ai/be-asset-custody/internal/platform/database"
	"github.com/pesio-ai/be-asset-custody/internal/platform/logger"
	"github.com/pesio-ai/be-asset-custody/internal/platform/middleware"
	"github.com/pesio-ai/be-asset-custody/internal/repository"
	"github.com/pesio-ai/be-asset-custody/internal/repository/memory"
	"github.com/pesio-ai/be-asset-custody/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Str("store", cfg.Store).
		Msg("Starting Asset Custody Service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize repositories
	repos, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer closeStore()

	actors, err := actor.Load(cfg.Approval.ActorTablePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Approval.ActorTablePath).Msg("Failed to load actor table")
	}

	m := metrics.New()

	// Domain events are optional; without NATS_URL they are only audited.
	var events *client.EventPublisher
	if cfg.NATS.URL != "" {
		nc, err := client.Connect(cfg.NATS.URL, cfg.Service.Name, log)
		if err != nil {
			log.Fatal().Err(err).Str("url", cfg.NATS.URL).Msg("Failed to connect to NATS")
		}
		defer nc.Drain()
		events = client.NewEventPublisher(nc, cfg.NATS.SubjectPrefix, log)
	} else {
		events = client.NewEventPublisher(nil, cfg.NATS.SubjectPrefix, log)
		log.Warn().Msg("NATS_URL not set, domain events disabled")
	}

	// Initialize services
	deps := service.Deps{
		Repos:   repos,
		Actors:  actors,
		Events:  events,
		Metrics: m,
		Log:     log,
	}
	approvals := service.NewApprovalService(deps)
	transfers := service.NewTransferService(deps, approvals)
	requests := service.NewRequestService(deps, approvals)

	// Setup HTTP routes
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})
	mux.Handle("/metrics", m.Handler())
	handler.NewHTTPHandler(approvals, transfers, requests, log).Register(mux)

	verifier := auth.NewVerifier(cfg.Auth.JWTSecret)

	// Apply middleware
	var h http.Handler = mux
	h = middleware.Authenticate(verifier, "/health", "/metrics")(h)
	h = middleware.Timeout(cfg.Server.RequestTimeout)(h)
	h = middleware.CORS([]string{"*"})(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.RequestID(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		handler.LoggingInterceptor(log.Logger),
		handler.AuthInterceptor(verifier),
	))
	handler.RegisterCustodyServer(grpcServer, handler.NewGRPCHandler(approvals, transfers, log.Logger))
	healthServer := health.NewServer()
	healthServer.SetServingStatus(handler.CustodyServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create gRPC listener")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Info().Int("port", cfg.GRPC.Port).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")
		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown failed")
		}
		grpcServer.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server exited with error")
		return
	}
	log.Info().Msg("Server stopped")
}

// openStore builds the repositories for the configured backend.
func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (service.Repositories, func(), error) {
	if cfg.Store == "memory" {
		log.Warn().Msg("Using in-memory store, data is lost on restart")
		s := memory.New()
		return service.Repositories{
			Tx:        s,
			Approvals: s.FormApprovals(),
			Transfers: s.Transfers(),
			Requests:  s.Requests(),
			Assets:    s.Assets(),
			Audit:     s.Audit(),
		}, func() {}, nil
	}

	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
		HealthCheck: cfg.Database.HealthCheck,
	})
	if err != nil {
		return service.Repositories{}, nil, fmt.Errorf("connect database: %w", err)
	}
	log.Info().Str("host", cfg.Database.Host).Str("database", cfg.Database.Database).Msg("Database connection established")

	return service.Repositories{
		Tx:        db,
		Approvals: repository.NewFormApprovalRepository(db),
		Transfers: repository.NewTransferRepository(db),
		Requests:  repository.NewRequestRepository(db),
		Assets:    repository.NewAssetRepository(db),
		Audit:     repository.NewAuditRepository(db),
	}, db.Close, nil
}
