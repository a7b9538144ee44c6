// Package main initializes and runs the Bifrost evaluation service.
//
// It acts as the composition root: it wires the flag storage, the evaluator,
// the telemetry client and the HTTP API, and handles the server lifecycle.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rafaeljc/bifrost/internal/client"
	"github.com/rafaeljc/bifrost/internal/config"
	"github.com/rafaeljc/bifrost/internal/dataapi"
	"github.com/rafaeljc/bifrost/internal/evaluator"
	"github.com/rafaeljc/bifrost/internal/logger"
	"github.com/rafaeljc/bifrost/internal/observability"
	"github.com/rafaeljc/bifrost/internal/recorder"
	"github.com/rafaeljc/bifrost/internal/storage"
	"github.com/rafaeljc/bifrost/internal/syncer"
)

// cacheMetricsInterval is how often the L1 cache size is exported.
const cacheMetricsInterval = 15 * time.Second

// storageBackend is what the evaluator reads definitions from.
type storageBackend interface {
	evaluator.FlagStorage
	evaluator.SegmentStorage
}

// main is the application entrypoint.
func main() {
	if err := run(); err != nil {
		log.Printf("Fatal error: %v", err)
		os.Exit(1)
	}
}

// run executes the service lifecycle.
func run() error {
	// -------------------------------------------------------------------------
	// 1. Configuration
	// -------------------------------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger := logger.New(&cfg.App)
	slog.SetDefault(appLogger)
	cfg.LogConfig(appLogger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// -------------------------------------------------------------------------
	// 2. Infrastructure Setup
	// -------------------------------------------------------------------------
	var redisClient *redis.Client
	if cfg.NeedsRedis() {
		redisClient, err = storage.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisClient.Close()
	}

	store, closeStore, err := newStorage(ctx, appLogger, cfg, redisClient)
	if err != nil {
		return err
	}
	defer closeStore()

	rec := newRecorder(appLogger, cfg, redisClient)

	// -------------------------------------------------------------------------
	// 3. Wiring (Dependency Injection)
	// -------------------------------------------------------------------------
	eval := evaluator.New(logger.Component(appLogger, "evaluator"), store, store,
		evaluator.WithMaxDepth(cfg.Evaluator.MaxDependencyDepth))

	clientCfg, err := client.ConfigFrom(&cfg.Impressions)
	if err != nil {
		return fmt.Errorf("invalid impressions configuration: %w", err)
	}
	bifrost, err := client.New(appLogger, eval, rec, clientCfg)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	bifrost.Start()

	api := dataapi.NewAPI(logger.Component(appLogger, "api"), bifrost, dataapi.Options{
		APIKeyHash:   cfg.Server.APIKeyHash,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	})

	checkers := []observability.Checker{
		observability.CheckerFunc{Component: "client", Fn: bifrost.Ready},
	}
	if redisClient != nil {
		checkers = append(checkers, storage.NewHealthChecker(redisClient))
	}
	obsServer := observability.NewServer(appLogger, &cfg.Observability, checkers...)
	obsServer.Start()

	// -------------------------------------------------------------------------
	// 4. HTTP Server Setup
	// -------------------------------------------------------------------------
	srv := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           api.Router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		MaxHeaderBytes:    cfg.Server.MaxHeaderBytes,
	}

	errChan := make(chan error, 1)
	go func() {
		appLogger.Info("evaluation API listening",
			slog.String("addr", srv.Addr),
			slog.Bool("tls", cfg.Server.TLSEnabled),
		)
		var serveErr error
		if cfg.Server.TLSEnabled {
			serveErr = srv.ListenAndServeTLS(cfg.Server.TLSCert, cfg.Server.TLSKey)
		} else {
			serveErr = srv.ListenAndServe()
		}
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errChan <- fmt.Errorf("failed to serve HTTP: %w", serveErr)
		}
	}()

	// -------------------------------------------------------------------------
	// 5. Graceful Shutdown
	// -------------------------------------------------------------------------
	var runErr error
	select {
	case runErr = <-errChan:
	case <-ctx.Done():
		appLogger.Info("shutdown signal received, stopping services")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("failed to stop HTTP server", slog.String("error", err.Error()))
	}
	// Pending telemetry is flushed after the API stops accepting requests.
	if err := bifrost.Destroy(shutdownCtx); err != nil {
		appLogger.Error("failed to flush telemetry", slog.String("error", err.Error()))
	}
	if err := obsServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("failed to stop observability server", slog.String("error", err.Error()))
	}

	if runErr != nil {
		return runErr
	}
	appLogger.Info("service exited successfully")
	return nil
}

// newStorage builds the configured definitions storage. The returned func
// releases its resources.
func newStorage(ctx context.Context, base *slog.Logger, cfg *config.Config, rdb *redis.Client) (storageBackend, func(), error) {
	storageLogger := logger.Component(base, "storage")

	if cfg.Storage.Type == config.StorageTypeMemory {
		mem := storage.NewMemoryStorage(storageLogger)
		fileSyncer := syncer.New(logger.Component(base, "syncer"), syncer.Config{
			Path:     cfg.Storage.DefinitionsFile,
			Interval: cfg.Storage.DefinitionsRefresh,
		}, mem)

		// Fail fast: the service never starts without definitions.
		if _, err := fileSyncer.Sync(ctx); err != nil {
			return nil, nil, fmt.Errorf("failed to load definitions: %w", err)
		}
		if cfg.Storage.DefinitionsRefresh > 0 {
			go fileSyncer.Run(ctx)
		}
		return mem, func() {}, nil
	}

	opts := storage.RedisOptions{
		Prefix:        cfg.Storage.Prefix,
		LookupTimeout: cfg.Storage.LookupTimeout,
	}
	closeFn := func() {}
	if cfg.Storage.L1Capacity > 0 {
		l1, err := storage.NewFlagCache(cfg.Storage.L1Capacity, cfg.Storage.L1TTL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create L1 cache: %w", err)
		}
		go l1.RunMetricsCollector(ctx, cacheMetricsInterval)
		opts.Cache = l1
		closeFn = l1.Close
	}
	return storage.NewRedisStorage(storageLogger, rdb, opts), closeFn, nil
}

// newRecorder builds the configured telemetry sink.
func newRecorder(base *slog.Logger, cfg *config.Config, rdb *redis.Client) recorder.Recorder {
	recorderLogger := logger.Component(base, "recorder")

	if cfg.Recorder.Sink == config.RecorderSinkLog {
		return recorder.NewLogRecorder(recorderLogger)
	}
	meta := recorder.NewMetadata(cfg.Recorder.SDKVersion, cfg.Recorder.MachineIP, cfg.Recorder.MachineName)
	return recorder.NewRedisRecorder(recorderLogger, rdb, cfg.Storage.Prefix, meta)
}
