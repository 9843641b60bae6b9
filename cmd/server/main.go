package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/sync-editor/backend/api/handlers"
	"github.com/sync-editor/backend/internal/config"
	"github.com/sync-editor/backend/internal/db"
	"github.com/sync-editor/backend/internal/events"
	"github.com/sync-editor/backend/internal/logging"
	"github.com/sync-editor/backend/internal/metrics"
	"github.com/sync-editor/backend/internal/recorder"
	"github.com/sync-editor/backend/internal/repository"
	"github.com/sync-editor/backend/internal/session"
	"github.com/sync-editor/backend/internal/ws"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("server: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync()

	store := session.NewStore()
	registry := ws.NewRegistry()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg, func() float64 { return float64(store.Count()) })

	opts := ws.Options{
		Logger:         logger,
		Metrics:        m,
		SendBufferSize: cfg.SendBufferSize,
		WriteWait:      cfg.WriteWait,
		PongWait:       cfg.PongWait,
		PingPeriod:     cfg.PingPeriod,
		MaxMessageSize: cfg.MaxMessageSize,
	}

	var archive handlers.ArchiveReader
	if cfg.ArchiveDBPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.ArchiveDBPath), 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
		database, err := db.Open(cfg.ArchiveDBPath)
		if err != nil {
			return err
		}
		defer database.Close()

		repo := repository.NewArchiveRepository(database)
		opts.Archiver = repo
		archive = repo
		logger.Info("session archive enabled", zap.String("path", cfg.ArchiveDBPath))
	}

	if cfg.RedisAddr != "" {
		publisher := events.NewRedisPublisher(cfg.RedisAddr)
		defer publisher.Close()
		if err := publisher.Ping(ctx); err != nil {
			logger.Warn("redis unreachable, events will be retried per publish", zap.Error(err))
		}
		opts.Publisher = publisher
		logger.Info("event publishing enabled",
			zap.String("addr", cfg.RedisAddr), zap.String("instance_id", publisher.InstanceID()))
	}

	if cfg.RecordDir != "" {
		recordings, err := recorder.NewManager(cfg.RecordDir)
		if err != nil {
			return err
		}
		defer recordings.CloseAll()
		opts.Recorder = recordings
		logger.Info("edit recording enabled", zap.String("dir", cfg.RecordDir))
	}

	hub := ws.NewHub(store, registry, opts)

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go store.RunJanitor(janitorCtx, cfg.SweepInterval, cfg.SessionIdleTTL)

	router := newRouter(routerDeps{
		logger:   logger,
		metrics:  m,
		gatherer: reg,
		origins:  cfg.Origins(),
		store:    store,
		hub:      hub,
		archive:  archive,
	})

	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: router,
	}
	// Hijacked WebSocket connections are not tracked by Shutdown.
	srv.RegisterOnShutdown(hub.Close)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}
