package ai

import (
	"errors"
	"fmt"
)

// ErrQuotaExceeded indicates the AI provider returned a quota/limit error (HTTP 429 or similar).
var ErrQuotaExceeded = errors.New("ai quota exceeded")

// ErrTimeout marks a provider call that did not settle within the dispatch timeout.
var ErrTimeout = errors.New("ai provider timed out")

// ErrUnknownProvider is returned for a requested provider that is not configured.
var ErrUnknownProvider = errors.New("unknown ai provider")

// ErrEmptyResponse is returned when a provider answers without any content.
var ErrEmptyResponse = errors.New("ai provider returned empty response")

// ProviderError records a single provider failure inside a dispatch.
type ProviderError struct {
	Provider ProviderID
	Timeout  bool
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("provider %s: timeout: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
