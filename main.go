package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/chen-zeong/dtv/internal/config"
	"github.com/chen-zeong/dtv/internal/health"
	"github.com/chen-zeong/dtv/internal/listener"
	"github.com/chen-zeong/dtv/internal/logging"
	"github.com/chen-zeong/dtv/internal/message"
	"github.com/chen-zeong/dtv/internal/metrics"
	"github.com/chen-zeong/dtv/internal/recorder"
	"github.com/chen-zeong/dtv/internal/uploader"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Fatalf("Failed to load .env: %v", err)
	}

	// Get config path from environment variable or use default
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Danmaku listener starting...", zap.Int("rooms", len(cfg.Rooms)))
	metrics.Init()

	// Setup context and signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	events := make(chan message.Event, cfg.Listener.SinkBuffer)

	registry := listener.NewRegistry(events, logger, listener.Config{
		QueueSize:        cfg.Listener.QueueSize,
		HandshakeTimeout: cfg.HandshakeTimeout(),
	})

	rooms := newRoomManager(registry, newPlatforms(cfg, logger), logger)
	rooms.reconnect = cfg.ReconnectEnabled()
	rooms.initial = time.Duration(cfg.Reconnect.InitialSeconds) * time.Second
	rooms.max = time.Duration(cfg.Reconnect.MaxSeconds) * time.Second

	rec := recorder.New(
		cfg.Recorder.OutputDir,
		cfg.Recorder.BufferSize,
		cfg.Recorder.RotateMinutes,
		cfg.Recorder.RotateMegabytes,
		logger,
	)

	healthServer := health.New(cfg.Health.Addr, registry, logger)

	// The recorder and uploader outlive the listeners and stop once the sink
	// is closed and drained
	recCtx, recCancel := context.WithCancel(context.Background())
	defer recCancel()

	var uploaderInstance *uploader.Uploader
	var fileChan chan string
	if cfg.Uploader.Enabled {
		uploaderInstance, err = uploader.New(recCtx, uploader.Options{
			Bucket:               cfg.S3.Bucket,
			Region:               cfg.S3.Region,
			Endpoint:             cfg.S3.Endpoint,
			AccessKeyID:          cfg.S3.AccessKeyID,
			SecretAccessKey:      cfg.S3.SecretAccessKey,
			RoleARN:              cfg.S3.RoleARN,
			WebIdentityTokenFile: cfg.S3.WebIdentityTokenFile,
			DeleteAfterUpload:    cfg.Uploader.DeleteAfterUpload,
			MaxRetries:           cfg.Uploader.MaxRetries,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to create uploader", zap.Error(err))
		}
		// Upload any files left over from a previous run
		if err := uploaderInstance.ScanAndUploadExisting(recCtx, cfg.Recorder.OutputDir); err != nil {
			logger.Error("Error scanning for existing files", zap.Error(err))
		}
		fileChan = make(chan string, cfg.Uploader.QueueSize)
	}

	// Start all components
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if fileChan != nil {
			defer close(fileChan)
		}
		if err := rec.Start(recCtx, events, fileChan); err != nil && err != context.Canceled {
			logger.Error("Recorder error", zap.Error(err))
		}
	}()

	if uploaderInstance != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := uploaderInstance.Start(recCtx, fileChan); err != nil && err != context.Canceled {
				logger.Error("Uploader error", zap.Error(err))
			}
		}()
	}

	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		rooms.watch(ctx)
	}()
	rooms.startAll(ctx, cfg.Rooms)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := healthServer.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("Health server error", zap.Error(err))
		}
	}()

	logger.Info("All components started successfully")

	<-sigChan
	logger.Info("Shutdown signal received, initiating graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down health server", zap.Error(err))
	}

	// Stop listeners before the recorder so buffered events are written
	cancel()
	<-watchDone
	rooms.wait()
	registry.StopAll()
	close(events)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("All components stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Warn("Shutdown timeout exceeded, forcing exit")
		recCancel()
	}
}
