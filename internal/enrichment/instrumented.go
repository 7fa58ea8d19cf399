package enrichment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/scene-enrichment-service/internal/observability"
)

// Instrumented decorates an Enricher with request metrics and debug logging.
type Instrumented struct {
	next    Enricher
	backend string
	metrics *observability.Metrics
	logger  zerolog.Logger
}

var _ Enricher = (*Instrumented)(nil)

// NewInstrumented wraps next. metrics may be nil.
func NewInstrumented(next Enricher, backend string, metrics *observability.Metrics, logger zerolog.Logger) *Instrumented {
	return &Instrumented{
		next:    next,
		backend: backend,
		metrics: metrics,
		logger:  logger.With().Str("component", "enricher").Str("backend", backend).Logger(),
	}
}

// Enrich delegates to the wrapped Enricher.
func (i *Instrumented) Enrich(ctx context.Context, sceneID, jobID uuid.UUID) error {
	start := time.Now()
	err := i.next.Enrich(ctx, sceneID, jobID)
	elapsed := time.Since(start)

	if i.metrics != nil {
		i.metrics.RecordEnrichmentRequest(i.backend, elapsed.Seconds())
		if err != nil {
			i.metrics.RecordEnrichmentRequestFailed(i.backend, ErrorType(err))
		}
	}

	evt := i.logger.Debug()
	if err != nil {
		evt = evt.Err(err).Str("error_type", ErrorType(err))
	}
	evt.Str("scene_id", sceneID.String()).
		Str("job_id", jobID.String()).
		Dur("duration", elapsed).
		Msg("enrichment request finished")

	return err
}

// ErrorType returns a low-cardinality label for an enrichment failure.
func ErrorType(err error) string {
	var apiErr *APIError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &apiErr):
		switch {
		case apiErr.StatusCode == 429:
			return "rate_limited"
		case apiErr.StatusCode >= 500:
			return "server_error"
		default:
			return "client_error"
		}
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "transport"
	}
}
