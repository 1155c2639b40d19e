package types

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure modes.
var (
	// ErrSessionInvalid signals that the server rejected the current
	// session bundle; the scheduler must acquire a fresh one.
	ErrSessionInvalid = errors.New("session invalid")

	// ErrSessionExhausted signals that session acquisition failed more
	// times than the per-partition budget allows.
	ErrSessionExhausted = errors.New("session acquisition exhausted")

	// ErrInputMissing signals that the operator-supplied partition
	// source could not be found.
	ErrInputMissing = errors.New("input file missing")

	// ErrCapReached signals the per-run record cap was hit; the run
	// terminates cleanly.
	ErrCapReached = errors.New("record cap reached")

	// ErrNoExtractor signals that no extractor is registered for the
	// requested site.
	ErrNoExtractor = errors.New("no extractor registered for site")

	// ErrDuplicate signals a fingerprint already present in the ledger.
	ErrDuplicate = errors.New("already scraped")
)

// FetchError wraps errors that occur during fetching.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
	Retryable  bool
	RetryAfter time.Duration // populated from Retry-After on HTTP 429
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch error for %s (status %d): %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch error for %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) IsRetryable() bool { return e.Retryable }

// ParseError wraps structural extraction failures: the payload was not the
// document shape the extractor expected.
type ParseError struct {
	URL         string
	PartitionID string
	Err         error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error for %s (partition=%q): %v", e.URL, e.PartitionID, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// SessionError wraps browser session acquisition failures.
type SessionError struct {
	Site string
	Step string
	Err  error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session error for %s (step=%q): %v", e.Site, e.Step, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// SinkError wraps output sink failures.
type SinkError struct {
	Backend string
	Err     error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink error (%s): %v", e.Backend, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

// EnrichError wraps language-model enrichment failures after retry
// exhaustion. The record is still emitted with enrichment fields set to the
// not-available sentinel.
type EnrichError struct {
	Task     string
	Attempts int
	Err      error
}

func (e *EnrichError) Error() string {
	return fmt.Sprintf("enrich error (task=%s, attempts=%d): %v", e.Task, e.Attempts, e.Err)
}

func (e *EnrichError) Unwrap() error { return e.Err }
