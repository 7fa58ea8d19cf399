// Package main provides the entry point for the scene enrichment service.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/helixir/scene-enrichment-service/internal/config"
	"github.com/helixir/scene-enrichment-service/internal/database"
	"github.com/helixir/scene-enrichment-service/internal/enrichment"
	"github.com/helixir/scene-enrichment-service/internal/enrichment/gemini"
	"github.com/helixir/scene-enrichment-service/internal/events"
	"github.com/helixir/scene-enrichment-service/internal/observability"
	"github.com/helixir/scene-enrichment-service/internal/orchestrator"
	"github.com/helixir/scene-enrichment-service/internal/repository"
	httpserver "github.com/helixir/scene-enrichment-service/internal/server/http"
	"github.com/helixir/scene-enrichment-service/internal/service"
	"github.com/helixir/scene-enrichment-service/internal/steps"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "server").Logger()
	logger.Info().Msg("scene-enrichment-service starting")

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to PostgreSQL.
	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info().Msg("database connection established")

	// Run migrations if configured.
	if cfg.Database.MigrationAutoRun {
		if err := migrate(db, cfg.Database.MigrationPath, logger); err != nil {
			return err
		}
	}

	jobRepo := repository.NewPgJobRepository(db)
	sceneRepo := repository.NewPgSceneRepository(db)

	metrics := observability.NewMetrics(cfg.Metrics.Namespace)

	// The remote functions always serve the completion chain; they also
	// enrich scenes unless the Gemini backend is selected.
	remote := enrichment.NewHTTPClient(enrichment.HTTPClientConfig{
		BaseURL:   cfg.Enrichment.BaseURL,
		APIKey:    cfg.Enrichment.APIKey,
		Timeout:   cfg.Enrichment.Timeout,
		RateLimit: cfg.Enrichment.RateLimitRPS,
		BurstSize: cfg.Enrichment.RateLimitBurst,
	})

	enricher, err := newEnricher(ctx, cfg, remote, sceneRepo, metrics, logger)
	if err != nil {
		return err
	}

	scheduler := orchestrator.NewScheduler(enricher, orchestrator.SchedulerConfig{
		Concurrency: cfg.Orchestrator.Concurrency,
		MaxAttempts: cfg.Orchestrator.MaxAttempts,
		RetryDelay:  cfg.Orchestrator.RetryDelay,
		CancelCheck: haltedCheck(jobRepo, logger),
	}, logger, metrics)

	chain := orchestrator.NewChain(
		steps.NewFinalizeStep(remote, jobRepo, logger),
		steps.NewSecondaryAnalysisStep(remote, logger),
		cfg.Orchestrator.ChainStepTimeout,
		logger,
		metrics,
	)

	// Kafka run reports.
	var (
		publisher orchestrator.ReportPublisher
		kafkaPub  *events.Publisher
	)
	if cfg.Kafka.Enabled {
		kafkaPub = events.NewPublisher(events.PublisherConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.EventsTopic,
			BatchTimeout: cfg.Kafka.BatchTimeout,
		}, logger)
		publisher = kafkaPub
		logger.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.EventsTopic).Msg("kafka publisher configured")
	}

	orch := orchestrator.New(scheduler, chain, sceneRepo, publisher, logger, metrics)
	svc := service.NewEnrichmentService(jobRepo, sceneRepo, orch, logger)

	// Resume jobs interrupted by a previous shutdown or crash.
	if cfg.Orchestrator.ResumeOnStartup {
		if _, err := svc.ResumeInterrupted(ctx); err != nil {
			logger.Error().Err(err).Msg("failed to resume interrupted jobs")
		}
	}

	// Channel to collect server errors.
	errCh := make(chan error, 3)

	// Kafka resume requests.
	var listener *events.ResumeListener
	if cfg.Kafka.Enabled {
		listener = events.NewResumeListener(events.ListenerConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.ResumeTopic,
			GroupID: cfg.Kafka.GroupID,
		}, svc, logger)

		go func() {
			if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("resume listener error: %w", err)
			}
		}()
	}

	httpCfg := httpserver.Config{
		Address:         cfg.Server.HTTPAddress(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     2 * time.Minute,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}
	httpSrv := httpserver.NewServer(httpCfg, svc, db, logger)

	// Set up Prometheus metrics handler on a separate port if configured.
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress(),
			Handler:      metricsMux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
	}

	// Start HTTP REST API server in background.
	go func() {
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Start metrics server if configured.
	if metricsServer != nil {
		go func() {
			logger.Info().
				Str("address", metricsServer.Addr).
				Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	readyLog := logger.Info().
		Str("http_address", httpCfg.Address).
		Str("enrichment_mode", cfg.Enrichment.Mode).
		Bool("kafka", cfg.Kafka.Enabled)
	if metricsServer != nil {
		readyLog = readyLog.Str("metrics_address", metricsServer.Addr)
	}
	readyLog.Msg("scene-enrichment-service is ready")

	// Wait for shutdown signal or server error.
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("server error")
	}

	// Graceful shutdown. Cancelling the root context stops the resume listener.
	stop()
	logger.Info().Msg("shutting down scene-enrichment-service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown error")
		}
	}

	if listener != nil {
		if err := listener.Close(); err != nil {
			logger.Error().Err(err).Msg("resume listener close error")
		}
	}

	// Active runs stop at their next wave boundary; jobs left enriching are
	// picked up again on the next start.
	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("orchestrator shutdown timed out with runs still active")
	}

	if kafkaPub != nil {
		if err := kafkaPub.Close(); err != nil {
			logger.Error().Err(err).Msg("kafka publisher close error")
		}
	}

	logger.Info().Msg("scene-enrichment-service shutdown complete")
	return runErr
}

// migrate applies pending migrations.
func migrate(db *database.DB, path string, logger zerolog.Logger) error {
	migrator, err := database.NewMigrator(db, path, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()

	if err := migrator.Up(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// newEnricher builds the configured per-scene backend wrapped with metrics.
func newEnricher(
	ctx context.Context,
	cfg *config.Config,
	remote *enrichment.HTTPClient,
	scenes repository.SceneRepository,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) (enrichment.Enricher, error) {
	switch strings.ToLower(cfg.Enrichment.Mode) {
	case config.EnrichmentModeGemini:
		g, err := gemini.New(ctx, gemini.Config{
			APIKey:  cfg.Enrichment.Gemini.APIKey,
			Model:   cfg.Enrichment.Gemini.Model,
			BaseURL: cfg.Enrichment.Gemini.BaseURL,
		}, scenes)
		if err != nil {
			return nil, fmt.Errorf("create gemini enricher: %w", err)
		}
		logger.Info().Str("model", cfg.Enrichment.Gemini.Model).Msg("gemini enrichment backend configured")
		return enrichment.NewInstrumented(g, config.EnrichmentModeGemini, metrics, logger), nil
	default:
		logger.Info().Str("base_url", cfg.Enrichment.BaseURL).Msg("remote enrichment backend configured")
		return enrichment.NewInstrumented(remote, config.EnrichmentModeHTTP, metrics, logger), nil
	}
}

// haltedCheck adapts the job repository to the scheduler's cancel check.
// A failed lookup is logged and treated as not halted.
func haltedCheck(jobs repository.JobRepository, logger zerolog.Logger) orchestrator.CancelCheck {
	return func(ctx context.Context, jobID uuid.UUID) bool {
		halted, err := jobs.IsHalted(ctx, jobID)
		if err != nil {
			logger.Warn().Err(err).Str("job_id", jobID.String()).Msg("cancel check failed")
			return false
		}
		return halted
	}
}
