// Package observability provides logging and metrics support for the scene
// enrichment service.
//
// # Overview
//
// The observability package provides:
//
//   - Structured logging with zerolog
//   - Prometheus metrics for runs, waves, scenes and the completion chain
//   - Context helpers for propagating job and run identifiers
//
// # Logging
//
// Create a logger from configuration:
//
//	cfg := observability.LoggingConfig{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "stdout",
//	}
//
//	logger := observability.NewLogger(cfg)
//	logger = observability.WithJobContext(logger, jobID, runID)
//	logger.Info().Int("total", 12).Msg("enrichment run started")
//
// # Metrics
//
//	metrics := observability.NewMetrics("scene_enrichment")
//	metrics.RecordRunStarted()
//	metrics.RecordSceneAbandoned("exhausted")
//
// # Standard Fields
//
//   - job_id: enrichment job (analysis) identifier
//   - run_id: identifier of a single enrichment run
//   - scene_id: scene identifier
//   - attempt: 1-based enrichment attempt for a scene
//   - correlation_id: request correlation identifier
package observability
