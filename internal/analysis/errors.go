package analysis

import (
	"errors"
	"fmt"
)

// ErrorKind classifies provider failures for retry decisions.
type ErrorKind string

// Provider failure classes.
const (
	// KindTimeout covers deadline and network failures.
	KindTimeout ErrorKind = "timeout"
	// KindRateLimited covers quota and throttling responses.
	KindRateLimited ErrorKind = "rate_limited"
	// KindAuth covers rejected credentials. Retryable: keys rotate
	// out from under running workers.
	KindAuth ErrorKind = "auth"
	// KindMalformed covers unusable provider responses.
	KindMalformed ErrorKind = "malformed_response"
	// KindInvalidInput covers content the provider can never accept,
	// such as an unsupported media type. Not retryable.
	KindInvalidInput ErrorKind = "invalid_input"
)

// ProviderError is a classified provider failure.
type ProviderError struct {
	Provider string
	Kind     ErrorKind
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether a later attempt could plausibly succeed.
// Everything except invalid input is retryable; the retry budget
// bounds how far that optimism goes.
func (e *ProviderError) Retryable() bool {
	return e.Kind != KindInvalidInput
}

// Retryable reports whether err should go back on the queue. Errors
// that are not classified ProviderErrors are treated as transient.
func Retryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return true
}
