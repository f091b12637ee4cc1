package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/helixgraph/graphstream/internal/archive"
	"github.com/helixgraph/graphstream/internal/auth"
	"github.com/helixgraph/graphstream/internal/bus"
	"github.com/helixgraph/graphstream/internal/config"
	"github.com/helixgraph/graphstream/internal/eventlog"
	"github.com/helixgraph/graphstream/internal/gateway"
	"github.com/helixgraph/graphstream/internal/server"
	"github.com/helixgraph/graphstream/internal/store/postgres"
	"github.com/helixgraph/graphstream/internal/subscriptions"
	"github.com/helixgraph/graphstream/internal/versioning"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the GraphStream server",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

		// Load configuration.
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		// Connect to Postgres.
		store, err := postgres.New(cfg.DatabaseURL)
		if err != nil {
			return err
		}

		// Event notification bus: NATS when configured, in-process otherwise.
		var (
			publisher  bus.Publisher
			subscriber bus.Subscriber
		)
		if cfg.NATSURL != "" {
			pub, err := bus.NewNATSPublisher(cfg.NATSURL)
			if err != nil {
				store.Close()
				return err
			}
			sub, err := bus.NewNATSSubscriber(cfg.NATSURL)
			if err != nil {
				pub.Close()
				store.Close()
				return err
			}
			publisher, subscriber = pub, sub
			logger.Info("event bus: nats", "nats_url", cfg.NATSURL)
		} else {
			local := bus.NewLocal()
			publisher, subscriber = local, local
			logger.Info("event bus: in-process (GRAPHSTREAM_NATS_URL not set)")
		}

		// Credentials.
		var authn auth.Authenticator
		if cfg.AuthFile != "" {
			static, err := auth.LoadStatic(cfg.AuthFile)
			if err != nil {
				publisher.Close()
				store.Close()
				return err
			}
			authn = static
			logger.Info("auth: static credential file", "path", cfg.AuthFile)
		} else {
			authn = auth.Insecure{}
			logger.Warn("auth: insecure mode, credentials are taken at face value (set GRAPHSTREAM_AUTH_FILE)")
		}

		// Core components.
		log := eventlog.New(store, publisher, logger)
		tracker := versioning.New(store, logger)
		registry := subscriptions.New(store, logger)
		manager := gateway.NewManager(registry, log, logger)
		stream := gateway.NewHandler(manager, registry, authn, logger)
		srv := server.New(store, log, tracker, registry, stream, authn, logger)

		// Fan event notifications out to websocket clients.
		runCtx, runCancel := context.WithCancel(context.Background())
		go func() {
			if err := manager.Run(runCtx, subscriber); err != nil {
				logger.Error("gateway dispatcher error", "err", err)
			}
		}()

		// Start HTTP server (REST surface plus the websocket stream).
		httpServer := &http.Server{
			Addr:    cfg.HTTPAddr,
			Handler: srv.NewHTTPHandler(),
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		// Sweep expired subscriptions in the background.
		var sweeper *subscriptions.Sweeper
		if cfg.SweepInterval > 0 {
			sweeper = subscriptions.NewSweeper(registry, cfg.SweepInterval, logger)
			sweeper.Start()
			logger.Info("subscription sweeper started", "interval", cfg.SweepInterval)
		}

		// Archive events to S3 when a bucket is configured.
		var scheduler *archive.Scheduler
		if cfg.ArchiveInterval > 0 && cfg.ArchiveS3Bucket != "" {
			dest, err := archive.NewS3Destination(
				context.Background(),
				cfg.ArchiveS3Bucket,
				cfg.ArchiveS3Region,
				cfg.ArchiveS3Endpoint,
			)
			if err != nil {
				logger.Error("failed to create S3 archive destination", "err", err)
			} else {
				scheduler = archive.NewScheduler(store, []archive.Destination{dest}, cfg.ArchiveInterval, cfg.ArchiveS3Prefix, logger)
				scheduler.Start()
				logger.Info("archive scheduler started",
					"bucket", cfg.ArchiveS3Bucket, "interval", cfg.ArchiveInterval)
			}
		}

		logger.Info("graphstream server started", "http_addr", cfg.HTTPAddr)

		// Wait for SIGINT or SIGTERM.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)

		// Graceful shutdown.
		runCancel()

		if scheduler != nil {
			scheduler.Stop()
			logger.Info("archive scheduler stopped")
		}
		if sweeper != nil {
			sweeper.Stop()
			logger.Info("subscription sweeper stopped")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")

		if err := subscriber.Close(); err != nil {
			logger.Error("error closing subscriber", "err", err)
		}
		if err := publisher.Close(); err != nil {
			logger.Error("error closing publisher", "err", err)
		}
		if err := store.Close(); err != nil {
			logger.Error("error closing store", "err", err)
		}

		logger.Info("shutdown complete")
		return nil
	},
}
