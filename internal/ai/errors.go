package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies provider failures so callers can decide between
// retry, fallback, and surfacing the error
type ErrorKind string

const (
	// ErrKindTransient covers rate limits, timeouts, and transient 5xx.
	// The interview engine converts these into deterministic fallbacks.
	ErrKindTransient ErrorKind = "transient"
	// ErrKindAuth covers bad credentials. Never retried, never substituted
	// with a fallback: degrading silently would hide a configuration problem.
	ErrKindAuth ErrorKind = "auth"
	// ErrKindMalformed covers responses the caller could not parse
	ErrKindMalformed ErrorKind = "malformed"
	// ErrKindValidation covers malformed caller input, rejected before
	// any job is created
	ErrKindValidation ErrorKind = "validation"
)

// ProviderError is the typed error raised for AI provider failures
type ProviderError struct {
	Kind      ErrorKind
	Operation string
	Err       error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("ai %s failed (%s): %v", e.Operation, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError wraps err with a classification
func NewProviderError(kind ErrorKind, operation string, err error) *ProviderError {
	return &ProviderError{Kind: kind, Operation: operation, Err: err}
}

// IsTransient reports whether err is a transient provider failure
func IsTransient(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == ErrKindTransient
}

// IsAuth reports whether err is an authentication failure
func IsAuth(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == ErrKindAuth
}

// classifyProviderError maps a raw provider error to an ErrorKind.
// The SDK wraps HTTP failures, so we inspect the error string the same
// way the retry path does.
func classifyProviderError(err error) ErrorKind {
	if err == nil {
		return ErrKindTransient
	}
	errStr := err.Error()
	if strings.Contains(errStr, "401") || strings.Contains(errStr, "403") ||
		strings.Contains(errStr, "authentication") || strings.Contains(errStr, "invalid x-api-key") {
		return ErrKindAuth
	}
	if isRetriableError(err) {
		return ErrKindTransient
	}
	return ErrKindMalformed
}

// isRetriableError determines if an error is retriable (transient)
func isRetriableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := err.Error()

	// Rate limits (429) are retriable
	if strings.Contains(errStr, "429") || strings.Contains(errStr, "rate limit") {
		return true
	}

	// Server errors (5xx) are retriable
	if strings.Contains(errStr, "500") || strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") || strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "gateway timeout") {
		return true
	}

	// Network/connection errors are retriable
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "temporary failure") ||
		strings.Contains(errStr, "network") {
		return true
	}

	// 4xx client errors (except rate limits) are NOT retriable
	if strings.Contains(errStr, "400") || strings.Contains(errStr, "401") ||
		strings.Contains(errStr, "403") || strings.Contains(errStr, "404") {
		return false
	}

	return false
}
