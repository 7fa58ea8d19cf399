package orchestrator

import (
	"github.com/google/uuid"
)

// DefaultMaxAttempts is the number of enrichment calls a scene gets per run.
const DefaultMaxAttempts = 4

// RetryQueue counts enrichment attempts per scene for one run.
// It is owned by the scheduler loop and is not safe for concurrent use.
type RetryQueue struct {
	maxAttempts int
	attempts    map[uuid.UUID]int
}

// NewRetryQueue creates a RetryQueue. Non-positive maxAttempts uses the default.
func NewRetryQueue(maxAttempts int) *RetryQueue {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &RetryQueue{
		maxAttempts: maxAttempts,
		attempts:    make(map[uuid.UUID]int),
	}
}

// Begin records a new attempt for id and returns its 1-based number.
func (q *RetryQueue) Begin(id uuid.UUID) int {
	q.attempts[id]++
	return q.attempts[id]
}

// Readmit reports whether id may be dispatched again after a retryable failure.
func (q *RetryQueue) Readmit(id uuid.UUID) bool {
	return q.attempts[id] < q.maxAttempts
}

// Attempts returns the number of attempts made for id.
func (q *RetryQueue) Attempts(id uuid.UUID) int {
	return q.attempts[id]
}

// MaxAttempts returns the attempt cap.
func (q *RetryQueue) MaxAttempts() int {
	return q.maxAttempts
}
