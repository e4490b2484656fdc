package models

import (
	"errors"
	"fmt"
)

// Error kinds used in API responses and internal error handling.
const (
	ErrKindInvalidRequest    = "INVALID_REQUEST"
	ErrKindRateLimited       = "RATE_LIMITED"
	ErrKindQueueSaturated    = "QUEUE_SATURATED"
	ErrKindPoolExhausted     = "POOL_EXHAUSTED"
	ErrKindNavigationTimeout = "NAVIGATION_TIMEOUT"
	ErrKindNetworkError      = "NETWORK_ERROR"
	ErrKindBrowserCrash      = "BROWSER_CRASH"
	ErrKindExtractionError   = "EXTRACTION_ERROR"
	ErrKindUnauthorized      = "UNAUTHORIZED"
	ErrKindInternal          = "INTERNAL_ERROR"

	// LLM-related error kinds for /api/v1/summarize.
	ErrKindLLMFailure     = "LLM_FAILURE"
	ErrKindLLMAuthFailure = "LLM_AUTH_FAILURE"
	ErrKindLLMRateLimited = "LLM_RATE_LIMITED"
)

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ScrapeError is the internal error type carrying an error kind.
// It implements the error interface and supports error wrapping via Unwrap.
type ScrapeError struct {
	Kind    string
	Message string
	Err     error // wrapped original error
}

func (e *ScrapeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// NewScrapeError creates a new ScrapeError.
func NewScrapeError(kind, message string, err error) *ScrapeError {
	return &ScrapeError{Kind: kind, Message: message, Err: err}
}

// Retryable reports whether the scheduler may re-enqueue a task that failed
// with this error. Only transient navigation-level failures are retryable;
// everything else either cannot fix itself on retry (a malformed rule set,
// a bad URL) or is backpressure that must surface to the caller immediately.
func (e *ScrapeError) Retryable() bool {
	switch e.Kind {
	case ErrKindNavigationTimeout, ErrKindNetworkError, ErrKindBrowserCrash:
		return true
	default:
		return false
	}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *ScrapeError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Kind: e.Kind, Message: e.Message}
}

// AsScrapeError extracts a *ScrapeError from an error chain. When the error
// is not a ScrapeError it is wrapped as an internal error so callers always
// have a kind to map.
func AsScrapeError(err error) *ScrapeError {
	var se *ScrapeError
	if errors.As(err, &se) {
		return se
	}
	return NewScrapeError(ErrKindInternal, err.Error(), err)
}
