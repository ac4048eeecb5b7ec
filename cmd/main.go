package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pedalhouse/engine/internal/adapters/ingest"
	"github.com/pedalhouse/engine/internal/adapters/persist"
	"github.com/pedalhouse/engine/internal/config"
	"github.com/pedalhouse/engine/internal/session"
	"github.com/pedalhouse/engine/pkg/logger"
	"github.com/pedalhouse/engine/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

func main() {
	// Initialize logging
	if err := logger.Init(); err != nil {
		// Logger isn't available yet
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}
	log := logger.Get()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return
	}

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info",
			logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	// Payload snapshots land on disk; the retrier absorbs transient
	// write failures.
	sink := persist.NewRetrier(
		persist.NewFileSink(cfg.SaveDir),
		persist.WithLogger(log.Named("persist")),
	)

	// Build the session from configuration.
	ses := session.New(
		session.WithLogger(log),
		session.WithSink(sink),
		session.WithTickInterval(cfg.TickInterval()),
		session.WithAutosaveInterval(cfg.AutosaveInterval()),
		session.WithStartDebounce(cfg.StartDebounce),
		session.WithCoinUnit(cfg.CoinUnit()),
		session.WithGraceTransfer(cfg.GraceTransfer()),
		session.WithIdleAfter(cfg.IdleAfter()),
		session.WithRemoveAfter(cfg.RemoveAfter()),
		session.WithEmptyRosterEnd(cfg.EmptyRosterEnd()),
		session.WithQueueCapacity(cfg.QueueSize),
		session.WithMaxTimelinePoints(cfg.MaxTimelinePoints),
		session.WithPolicy(&cfg.Governance),
		session.WithProfiles(cfg.Profiles),
		session.WithDeviceOwners(cfg.DeviceOwners),
	)
	if err := ses.Start(ctx); err != nil {
		os.Stderr.WriteString("failed to start session: " + err.Error() + "\n")
		return
	}
	log.Info(ctx, "session armed, waiting for device readings",
		logger.String("session", ses.ID()))

	// Reading stream, when brokers are configured.
	if len(cfg.Kafka.Brokers) > 0 {
		consumer, err := ingest.New(ingest.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			GroupID: cfg.Kafka.GroupID,
		}, ses, ingest.WithLogger(log.Named("ingest")))
		if err != nil {
			os.Stderr.WriteString("failed to build reading consumer: " + err.Error() + "\n")
			return
		}
		defer func() {
			if err := consumer.Close(); err != nil {
				log.Warn(ctx, "consumer close failed", logger.Error(err))
			}
		}()
		go func() {
			if err := consumer.Run(ctx); err != nil && err != context.Canceled {
				log.Error(ctx, "reading consumer exited", logger.Error(err))
			}
		}()
	} else {
		log.Warn(ctx, "no kafka brokers configured; readings must be pushed directly")
	}

	// Prometheus endpoint.
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	go func() {
		log.Info(ctx, "starting metrics server", logger.String("addr", cfg.MetricsAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			os.Stderr.WriteString("metrics server failed: " + err.Error() + "\n")
		}
	}()

	// Block until shutdown signal.
	<-ctx.Done()
	log.Info(context.Background(), "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := ses.End(shutdownCtx, "shutdown"); err != nil {
		log.Error(shutdownCtx, "final save failed", logger.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "metrics server shutdown failed", logger.Error(err))
	}
}
