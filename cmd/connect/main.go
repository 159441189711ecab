package main

import (
	"chat-connect/auth"
	"chat-connect/contract"
	"chat-connect/infrastructure/cache"
	"chat-connect/infrastructure/directory"
	grpcserver "chat-connect/infrastructure/grpc/server"
	"chat-connect/infrastructure/queue"
	"chat-connect/infrastructure/storage"
	"chat-connect/infrastructure/transport/ws"
	"chat-connect/internal"
	"chat-connect/observability"
	"chat-connect/runtime"
	"chat-connect/runtime/workers"
	"chat-connect/services"
	"context"
	goerrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
	"github.com/mama165/sdk-go/logs"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
)

// Exit codes to provide meaningful status to the operating system or service manager.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connect terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run wires every component and blocks until a signal or a server failure.
// Deferred cleanups run before the exit code reaches main.
func run() (int, error) {
	// 1. Configuration & Logger
	config, err := internal.Load()
	if err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Conversation repository
	repo, closeRepo, err := openRepository(ctx, log, config)
	if err != nil {
		return exitRuntime, err
	}
	defer closeRepo()

	// 3. Participant directory
	dir, closeDirectory, err := openDirectory(ctx, log, config)
	if err != nil {
		return exitRuntime, err
	}
	defer closeDirectory()

	// 4. Offline notifications
	var notifier contract.OfflineNotifier = queue.NewLogNotifier(log)
	if config.RedisURL != "" {
		n, err := queue.NewAsynqNotifier(log, config.RedisURL, config.NotifyQueue)
		if err != nil {
			return exitRuntime, err
		}
		defer func() { _ = n.Close() }()
		notifier = n
	}

	// 5. Core
	sup := workers.NewSupervisor(log, config.RestartInterval)
	orchestrator := runtime.NewOrchestrator(log, sup, repo, dir, notifier, runtime.Options{
		BufferSize:          config.BufferSize,
		StoreTimeout:        config.StoreTimeout,
		PresenceGrace:       config.PresenceGracePeriod,
		TypingTimeout:       config.TypingTimeout,
		TypingSweepInterval: config.TypingSweepInterval,
		NotifyTimeout:       config.NotifyTimeout,
		StatsInterval:       config.StatsInterval,
		LimitMessages:       config.LimitMessages,
		MaxContentLength:    config.MaxContentLength,
		NotifyKinds:         config.NotifyKindList(),
	})
	collector, err := observability.NewCollector(orchestrator.Registry().Counts)
	if err != nil {
		log.Warn("Process stats unavailable", "error", err)
	} else {
		orchestrator.WithCollector(collector)
	}

	orchestratorDone := make(chan struct{})
	go func() {
		defer close(orchestratorDone)
		_ = orchestrator.Start(ctx)
	}()

	resolver := auth.NewTokenResolver(config.JWTSecret, config.JWTIssuer)
	service := services.NewConnectService(log, resolver, orchestrator)

	// 6. Transports
	errChan := make(chan error, 2)

	gin.SetMode(gin.ReleaseMode)
	httpServer := &http.Server{
		Addr: net.JoinHostPort(config.Host, strconv.Itoa(config.HTTPPort)),
		Handler: ws.NewServer(log, service, collector, ws.Options{
			BufferSize:     config.ConnectionBufferSize,
			IdleTimeout:    config.IdleTimeout,
			PingInterval:   config.PingInterval,
			WriteTimeout:   config.WriteTimeout,
			AllowedOrigins: config.AllowedOriginList(),
			DebugEndpoints: config.DebugEndpoints,
		}).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("Starting HTTP server", "address", httpServer.Addr, "at", time.Now().UTC())
		if err := httpServer.ListenAndServe(); err != nil && !goerrors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	grpcAddress := net.JoinHostPort(config.Host, strconv.Itoa(config.GRPCPort))
	listener, err := net.Listen("tcp", grpcAddress)
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to listen on %s: %w", grpcAddress, err)
	}
	grpcServer := grpc.NewServer(
		grpc.StreamInterceptor(auth.StreamAuthInterceptor(resolver)),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    config.PingInterval,
			Timeout: config.IdleTimeout - config.PingInterval,
		}),
	)
	grpcserver.RegisterConnectServer(grpcServer, grpcserver.NewConnectServer(log, service, config.ConnectionBufferSize))
	go func() {
		log.Info("Starting gRPC server", "address", grpcAddress, "at", time.Now().UTC())
		if err := grpcServer.Serve(listener); err != nil && !goerrors.Is(err, grpc.ErrServerStopped) {
			errChan <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	// 7. Wait for Stop or Error
	code := exitOK
	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case runErr = <-errChan:
		code = exitRuntime
	}

	// 8. Final Cleanup: live connections are closed with a normal close first.
	orchestrator.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown incomplete", "error", err)
	}
	grpcServer.GracefulStop()
	<-orchestratorDone
	log.Info("Program stopped cleanly")

	return code, runErr
}

func openRepository(ctx context.Context, log *slog.Logger, config internal.Config) (contract.ConversationRepository, func(), error) {
	switch config.StoreDriver {
	case internal.DriverMongo:
		db, err := storage.NewMongoDB(ctx, config.MongoURL, config.MongoDatabase)
		if err != nil {
			return nil, nil, fmt.Errorf("mongo opening failed: %w", err)
		}
		repo := storage.NewMongoRepository(db, log)
		if err := repo.EnsureIndexes(ctx); err != nil {
			_ = db.Client().Disconnect(context.Background())
			return nil, nil, fmt.Errorf("mongo indexes: %w", err)
		}
		return repo, func() {
			log.Info("Closing MongoDB...")
			_ = db.Client().Disconnect(context.Background())
		}, nil
	default:
		db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).WithLoggingLevel(badger.WARNING))
		if err != nil {
			return nil, nil, fmt.Errorf("database opening failed: %w", err)
		}
		return storage.NewBadgerRepository(db, log), func() {
			log.Info("Closing BadgerDB...")
			_ = db.Close()
		}, nil
	}
}

func openDirectory(ctx context.Context, log *slog.Logger, config internal.Config) (contract.ParticipantDirectory, func(), error) {
	if config.PostgresURL == "" {
		log.Info("No participant directory configured, every participant is known")
		return directory.OpenDirectory{}, func() {}, nil
	}
	pool, err := directory.Connect(ctx, config.PostgresURL)
	if err != nil {
		return nil, nil, err
	}
	var dir contract.ParticipantDirectory = directory.NewPostgresDirectory(pool)
	closers := []func(){pool.Close}

	if config.RedisURL != "" {
		c, err := cache.NewRedisCache(ctx, config.RedisURL)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		dir = directory.NewCachedDirectory(log, dir, c, config.DirectoryCacheTTL)
		closers = append(closers, func() { _ = c.Close() })
	}
	return dir, func() {
		for _, closeFn := range closers {
			closeFn()
		}
	}, nil
}
