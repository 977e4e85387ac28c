package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/yegors/RTLSDR-Airband/internal/config"
	"github.com/yegors/RTLSDR-Airband/internal/metrics"
	"github.com/yegors/RTLSDR-Airband/internal/server"
	"github.com/yegors/RTLSDR-Airband/internal/source"
	"github.com/yegors/RTLSDR-Airband/internal/stream"
	"github.com/yegors/RTLSDR-Airband/internal/transport"
)

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", version),
		slog.String("config_path", configPath),
	)

	logger.Info("Configuration loaded",
		slog.String("format", cfg.Stream.Format),
		slog.String("channels", cfg.Stream.Channels),
		slog.String("transport", cfg.Stream.Transport),
		slog.String("listen_address", cfg.Stream.ListenAddress),
		slog.Int("listen_port", cfg.Stream.ListenPort),
		slog.Int("max_samples_per_channel", cfg.Stream.MaxSamplesPerChannel),
		slog.String("source", cfg.Source.Type),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Initialize Prometheus metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(registry)

	tr, err := transport.New(cfg.Stream.Transport, transport.Config{
		PayloadSize:  cfg.Stream.PayloadSize,
		QueueDepth:   cfg.Stream.SendQueueDepth,
		WriteTimeout: cfg.Stream.GetWriteTimeoutDuration(),
		Path:         cfg.Stream.WebSocketPath,
	}, logger)
	if err != nil {
		return err
	}
	subsystem := transport.NewSubsystem(tr, logger)

	engine := stream.NewEngine(subsystem, logger, appMetrics)
	err = engine.Initialize(stream.Config{
		Format:        cfg.Stream.GetFormat(),
		Channels:      cfg.Stream.GetChannelMode(),
		ListenAddress: cfg.Stream.ListenAddress,
		ListenPort:    cfg.Stream.ListenPort,
		Backlog:       cfg.Stream.Backlog,
	}, cfg.Stream.MaxSamplesPerChannel)
	if err != nil {
		subsystem.ShutdownAll()
		return fmt.Errorf("failed to start fan-out: %w", err)
	}

	// Initialize the audio source
	var src source.Source
	var ingest server.IngestStatus
	switch cfg.Source.Type {
	case "udp":
		udp := source.NewUDPSource(&cfg.Source, engine, logger, appMetrics)
		src, ingest = udp, udp
	default:
		src = source.NewToneSource(&cfg.Source, cfg.Stream.GetChannelMode(), engine, logger)
	}

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, engine, ingest, appMetrics, registry)
	}

	shutdown := func() {
		logger.Info("Starting graceful shutdown...")

		// Stop HTTP server first (stop accepting new requests)
		if httpServer != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()

			if err := httpServer.Stop(shutdownCtx); err != nil {
				logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
			}
		}

		// Stop the producer before tearing down the engine it feeds
		if err := src.Stop(); err != nil {
			logger.Error("Error stopping source", slog.String("error", err.Error()))
		}

		stats := engine.GetStatistics()
		engine.Shutdown()
		if err := subsystem.ShutdownAll(); err != nil {
			logger.Error("Error stopping transport", slog.String("error", err.Error()))
		}

		logger.Info("Final fan-out statistics",
			slog.Uint64("sessions_accepted", stats.SessionsAccepted),
			slog.Uint64("sessions_evicted", stats.SessionsEvicted),
			slog.Uint64("blocks_delivered", stats.BlocksDelivered),
			slog.Uint64("blocks_dropped", stats.BlocksDropped),
			slog.Uint64("bytes_sent", stats.BytesSent),
		)
		logger.Info("Service stopped")
	}

	if err := src.Start(); err != nil {
		engine.Shutdown()
		subsystem.ShutdownAll()
		return fmt.Errorf("failed to start %s source: %w", cfg.Source.Type, err)
	}

	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			src.Stop()
			engine.Shutdown()
			subsystem.ShutdownAll()
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("listen_address", engine.GetStatistics().ListenAddress),
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	shutdown()
	return nil
}
