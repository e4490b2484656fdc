package models

import (
	"errors"
	"fmt"
	"testing"
)

func TestScrapeError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	se := NewScrapeError(ErrKindNetworkError, "fetch failed", cause)

	if !errors.Is(se, cause) {
		t.Error("wrapped cause not reachable via errors.Is")
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		kind string
		want bool
	}{
		{ErrKindNavigationTimeout, true},
		{ErrKindNetworkError, true},
		{ErrKindBrowserCrash, true},
		{ErrKindInvalidRequest, false},
		{ErrKindRateLimited, false},
		{ErrKindQueueSaturated, false},
		{ErrKindPoolExhausted, false},
		{ErrKindExtractionError, false},
		{ErrKindInternal, false},
	}

	for _, tt := range tests {
		se := NewScrapeError(tt.kind, "x", nil)
		if got := se.Retryable(); got != tt.want {
			t.Errorf("Retryable(%s) = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestAsScrapeError_PassThrough(t *testing.T) {
	orig := NewScrapeError(ErrKindNavigationTimeout, "slow page", nil)
	wrapped := fmt.Errorf("attempt 2: %w", orig)

	se := AsScrapeError(wrapped)
	if se.Kind != ErrKindNavigationTimeout {
		t.Errorf("kind = %s, want %s", se.Kind, ErrKindNavigationTimeout)
	}
}

func TestAsScrapeError_WrapsUnknown(t *testing.T) {
	se := AsScrapeError(errors.New("boom"))
	if se.Kind != ErrKindInternal {
		t.Errorf("kind = %s, want %s", se.Kind, ErrKindInternal)
	}
	if se.Message == "" {
		t.Error("message should carry the original error text")
	}
}
