// Команда agent запускает агента протокола shorten-url: gRPC сервер для собеседников,
// HTTP сервер коротких ссылок и административный API.
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
	"time"

	"github.com/tempizhere/shortenurl/internal/app"
	"github.com/tempizhere/shortenurl/internal/auth"
	"github.com/tempizhere/shortenurl/internal/config"
	"github.com/tempizhere/shortenurl/internal/events"
	agentgrpc "github.com/tempizhere/shortenurl/internal/grpc"
	"github.com/tempizhere/shortenurl/internal/grpc/proto"
	"github.com/tempizhere/shortenurl/internal/handlers"
	"github.com/tempizhere/shortenurl/internal/invitation"
	"github.com/tempizhere/shortenurl/internal/log"
	"github.com/tempizhere/shortenurl/internal/repository"
	"github.com/tempizhere/shortenurl/internal/resolver"
	"github.com/tempizhere/shortenurl/internal/service"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		panic(err)
	}

	logger, err := log.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Agent stopped with error", zap.Error(err))
	}
	logger.Info("Agent stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	repo, db, err := newRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if db != nil {
		defer func() {
			if err := db.Close(); err != nil {
				logger.Warn("Failed to close database", zap.Error(err))
			}
		}()
	}

	signer, err := auth.NewSigner(cfg.JWTSecret, auth.DefaultTTL)
	if err != nil {
		return err
	}

	transport := agentgrpc.NewTransport(cfg.AgentID, cfg.Peers, signer, logger)
	defer func() {
		if err := transport.Close(); err != nil {
			logger.Warn("Failed to close peer connections", zap.Error(err))
		}
	}()

	bus := events.NewBus()
	bus.Subscribe(events.Logger(logger))

	svc := service.NewService(repo, transport, bus, logger,
		service.WithBaseURL(cfg.BaseURL),
		service.WithLegacySlugProblemCode(cfg.LegacySlugProblemCode),
	)
	dispatcher := handlers.NewDispatcher(svc, transport, bus, logger)
	res := resolver.NewResolver(svc, invitation.NewDecoder(), logger, resolver.WithBaseURL(cfg.BaseURL))
	appInstance := app.NewApp(svc, res, db, logger)

	httpServer := &http.Server{
		Addr:              cfg.RunAddr,
		Handler:           app.NewRouter(appInstance, app.BasePath(cfg.BaseURL), cfg.TrustedSubnet, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		agentgrpc.PeerAuthInterceptor(signer, logger),
		agentgrpc.LoggingInterceptor(logger),
	))
	proto.RegisterAgentServiceServer(grpcServer, agentgrpc.NewServer(dispatcher, cfg.AgentID, logger))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(proto.ServiceName, healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("address", cfg.RunAddr), zap.String("base_url", cfg.BaseURL))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("Starting gRPC server",
			zap.String("address", cfg.GRPCAddr),
			zap.String("agent_id", cfg.AgentID),
			zap.Int("peers", len(cfg.Peers)))
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		healthServer.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		grpcServer.GracefulStop()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// newRepository выбирает хранилище: PostgreSQL, файл или память
func newRepository(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.Repository, repository.Database, error) {
	switch {
	case cfg.DatabaseDSN != "":
		db, err := app.NewDB(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, nil, err
		}
		repo, err := repository.NewPostgresRepository(db, logger)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		logger.Info("Using PostgreSQL storage")
		return repo, db, nil
	case cfg.FileStoragePath != "":
		repo, err := repository.NewFileRepository(cfg.FileStoragePath, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Using file storage", zap.String("path", cfg.FileStoragePath))
		return repo, nil, nil
	default:
		logger.Info("Using in-memory storage")
		return repository.NewMemoryRepository(), nil, nil
	}
}
