// Package enrichment provides the backends that enrich a single scene and the
// remote completion operations that run after a job's scenes are enriched.
//
// Backends never retry internally. The orchestrator owns retry, so every
// failure is returned as-is and rendered in a form the retry classifier
// recognizes ("HTTP 429: ...", "HTTP 503: ...").
package enrichment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Enricher enriches one scene of a job.
// A nil error means the scene's enriched flag is now persisted as true.
type Enricher interface {
	Enrich(ctx context.Context, sceneID, jobID uuid.UUID) error
}

// Finalizer runs the remote finalization of a job's analysis.
type Finalizer interface {
	Finalize(ctx context.Context, jobID uuid.UUID) error
}

// SecondaryAnalyzer runs the optional director-style analysis of a job.
type SecondaryAnalyzer interface {
	SecondaryAnalysis(ctx context.Context, jobID uuid.UUID) error
}

// APIError is a non-success response from an enrichment backend.
type APIError struct {
	StatusCode int
	Message    string
}

// Error renders as "HTTP <code>: <message>".
func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}
