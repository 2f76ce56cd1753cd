// Package pipeline composes Transport, Pacer, retry-with-backoff and
// header rotation into the single get() used by all scraper kinds.
//
// This file defines sentinel errors and the FetchError wrapper for
// classifying fetch failures. Callers use errors.Is/errors.As for typed
// assertions rather than string matching.
package pipeline

import (
	"errors"
	"fmt"
)

// Sentinel errors for fetch failure classification.
var (
	// ErrRateLimited indicates retries were exhausted against 429s.
	ErrRateLimited = errors.New("rate limited")

	// ErrBlocked indicates retries were exhausted against 403s.
	ErrBlocked = errors.New("blocked")

	// ErrServerError indicates retries were exhausted against 5xx.
	ErrServerError = errors.New("server error")

	// ErrNetwork indicates a transport-level failure (DNS, reset, timeout).
	ErrNetwork = errors.New("network error")
)

// FetchError is the terminal failure of one pipeline get(): retries are
// already exhausted when a caller sees it. The scraper framework logs
// it and moves on; a single failed URL never aborts a run.
type FetchError struct {
	// URL is the target that failed.
	URL string
	// FinalStatus is the last HTTP status observed, 0 for pure
	// transport failures.
	FinalStatus int
	// Attempts is the number of attempts made.
	Attempts int
	// Kind is the sentinel classification.
	Kind error
	// Err is the underlying error, if any.
	Err error
}

func (e *FetchError) Error() string {
	if e.FinalStatus > 0 {
		return fmt.Sprintf("failed to fetch %s after %d attempts (last status: %d)", e.URL, e.Attempts, e.FinalStatus)
	}
	return fmt.Sprintf("failed to fetch %s after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *FetchError) Unwrap() error { return e.Err }

// Is reports whether the error matches the target sentinel.
func (e *FetchError) Is(target error) bool { return errors.Is(e.Kind, target) }

// classifyStatus maps a final HTTP status onto a sentinel.
func classifyStatus(status int) error {
	switch {
	case status == 429:
		return ErrRateLimited
	case status == 403:
		return ErrBlocked
	case status >= 500:
		return ErrServerError
	default:
		return ErrNetwork
	}
}
