// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Standard sentinel errors
var (
	// ErrNotConfigured marks a provider that is missing credentials.
	// Clients fail fast with it before any network call is attempted.
	ErrNotConfigured = errors.New("provider not configured")

	// ErrRateLimited marks an HTTP 429 or an exhausted daily request budget.
	ErrRateLimited = errors.New("provider rate limited")

	// ErrUnavailable marks a transport failure, a 5xx, or an undecodable body.
	ErrUnavailable = errors.New("provider unavailable")

	// ErrNoData marks a provider that answered but had nothing usable
	// for the requested symbol.
	ErrNoData = errors.New("no data for symbol")

	// ErrChainUnsupported marks a provider with no options-chain capability.
	ErrChainUnsupported = errors.New("options chain not supported")

	// ErrCacheUnavailable marks a failed cache backing store. It is only
	// ever logged; the cache layer degrades silently and never surfaces it.
	ErrCacheUnavailable = errors.New("cache unavailable")

	ErrConfigInvalid = errors.New("invalid configuration")
	ErrTimeout       = errors.New("operation timed out")
)

// ProviderError wraps a single provider failure with its origin.
type ProviderError struct {
	Provider string
	Status   int // HTTP status when one was received, 0 otherwise
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("provider %s: status %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a new ProviderError.
func NewProviderError(provider string, status int, err error) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Status:   status,
		Err:      err,
	}
}

// Attempt records one failed provider attempt inside a fallback chain.
type Attempt struct {
	Provider string
	Err      error
}

// ExhaustedError reports that every provider in a fallback chain failed.
// Attempts preserves the per-provider failures in the order they were tried.
type ExhaustedError struct {
	Op       string // "quote", "chain", "expirations"
	Symbol   string
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "all providers exhausted for %s %s", e.Op, e.Symbol)
	if len(e.Attempts) == 0 {
		b.WriteString(": no providers configured")
		return b.String()
	}
	b.WriteString(": ")
	for i, a := range e.Attempts {
		if i > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s: %v", a.Provider, a.Err)
	}
	return b.String()
}

// NewExhaustedError creates a new ExhaustedError.
func NewExhaustedError(op, symbol string, attempts []Attempt) *ExhaustedError {
	return &ExhaustedError{
		Op:       op,
		Symbol:   symbol,
		Attempts: attempts,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
