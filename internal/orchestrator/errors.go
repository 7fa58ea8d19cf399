// Package orchestrator drives scene enrichment runs: bounded waves of remote
// enrichment calls, selective retry of transient failures, a best-effort
// completion chain and a per-job single-flight guard.
package orchestrator

import (
	"fmt"
)

// TransientRemoteError wraps a failure classified as retryable.
type TransientRemoteError struct {
	Attempt int
	Err     error
}

// Error implements the error interface.
func (e *TransientRemoteError) Error() string {
	return fmt.Sprintf("transient failure on attempt %d: %v", e.Attempt, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransientRemoteError) Unwrap() error {
	return e.Err
}

// TerminalRemoteError wraps a failure that will not be retried.
type TerminalRemoteError struct {
	Attempt int
	Err     error
}

// Error implements the error interface.
func (e *TerminalRemoteError) Error() string {
	return fmt.Sprintf("terminal failure on attempt %d: %v", e.Attempt, e.Err)
}

// Unwrap returns the underlying error.
func (e *TerminalRemoteError) Unwrap() error {
	return e.Err
}

// ExhaustedRetryError is a transient failure that hit the attempt cap.
type ExhaustedRetryError struct {
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *ExhaustedRetryError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

// Unwrap returns the last transient error.
func (e *ExhaustedRetryError) Unwrap() error {
	return e.Err
}

// ChainStepError reports a failed completion chain step.
type ChainStepError struct {
	Step string
	Err  error
}

// Error implements the error interface.
func (e *ChainStepError) Error() string {
	return fmt.Sprintf("chain step %s: %v", e.Step, e.Err)
}

// Unwrap returns the underlying error.
func (e *ChainStepError) Unwrap() error {
	return e.Err
}
