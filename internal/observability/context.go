package observability

import (
	"context"
)

// Context keys for observability data.
type contextKey string

const (
	correlationIDKey contextKey = "correlation_id"
	jobIDKey         contextKey = "job_id"
	runIDKey         contextKey = "run_id"
)

// WithCorrelationID adds a correlation ID to the context.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// CorrelationIDFromContext retrieves the correlation ID from context.
// Returns empty string if not present.
func CorrelationIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(correlationIDKey).(string); ok {
		return v
	}
	return ""
}

// WithRun adds the enrichment job ID and run ID to the context.
func WithRun(ctx context.Context, jobID, runID string) context.Context {
	ctx = context.WithValue(ctx, jobIDKey, jobID)
	ctx = context.WithValue(ctx, runIDKey, runID)
	return ctx
}

// RunFromContext retrieves the job ID and run ID from context.
// Returns empty strings if not present.
func RunFromContext(ctx context.Context) (jobID, runID string) {
	if v, ok := ctx.Value(jobIDKey).(string); ok {
		jobID = v
	}
	if v, ok := ctx.Value(runIDKey).(string); ok {
		runID = v
	}
	return jobID, runID
}
