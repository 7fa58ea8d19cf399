package orchestrator

import (
	"regexp"
	"strings"
)

// Classifier decides whether a failed enrichment call should be retried.
type Classifier func(err error) bool

// retryableStatus matches the transient status codes as whole numbers, so ids
// and ports that merely contain the digits do not count.
var retryableStatus = regexp.MustCompile(`\b(429|503)\b`)

// retryableSignatures are lower-case substrings of transient remote failures.
var retryableSignatures = []string{
	"rate limit",
	"temporarily unavailable",
}

// IsRetryable reports whether the rendered error carries a 429 or 503 status
// or a known transient phrase. nil and errors that cannot be rendered are
// terminal.
func IsRetryable(err error) (retryable bool) {
	if err == nil {
		return false
	}

	// Error() on a nil pointer receiver or a broken implementation can panic.
	defer func() {
		if recover() != nil {
			retryable = false
		}
	}()

	msg := strings.ToLower(err.Error())
	if retryableStatus.MatchString(msg) {
		return true
	}
	for _, sig := range retryableSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
