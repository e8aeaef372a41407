package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrDuplicateJob      = errors.New("duplicate job")
)

// ValidationError rejects a request before any job exists.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ConfigurationError reports a credential or setting a stage needs but does not have.
// It is raised before any network call and never retried.
type ConfigurationError struct {
	Stage string
	Key   string
}

func (e *ConfigurationError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("%s is not configured", e.Key)
	}
	return fmt.Sprintf("%s is not configured for stage %s", e.Key, e.Stage)
}

// ProviderError wraps a non-success response or malformed payload from an external provider.
type ProviderError struct {
	Provider string
	Status   int
	Detail   string
	Err      error
}

func (e *ProviderError) Error() string {
	msg := e.Detail
	switch {
	case msg == "" && e.Err != nil:
		msg = e.Err.Error()
	case e.Err != nil:
		msg += ": " + e.Err.Error()
	}
	if e.Status > 0 {
		return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.Status, msg)
	}
	return fmt.Sprintf("%s: %s", e.Provider, msg)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Transient reports whether a retry of the same call could succeed. Transport
// failures count, cancellation and deadline errors do not.
func (e *ProviderError) Transient() bool {
	if e.Status == 0 {
		return e.Err != nil && !errors.Is(e.Err, context.Canceled) && !errors.Is(e.Err, context.DeadlineExceeded)
	}
	return e.Status == 429 || e.Status >= 500
}

// TimeoutError reports a stage call that exceeded its wall-clock ceiling.
type TimeoutError struct {
	Stage string
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("stage %s exceeded its %s limit", e.Stage, e.Limit)
}

// ErrorTitle returns the operator-facing title for a stage failure.
func ErrorTitle(err error) string {
	var (
		cfgErr      *ConfigurationError
		timeoutErr  *TimeoutError
		providerErr *ProviderError
		validErr    *ValidationError
	)
	switch {
	case errors.As(err, &cfgErr):
		return "Configuration error"
	case errors.As(err, &timeoutErr):
		return "Timeout"
	case errors.As(err, &providerErr):
		return "Provider error"
	case errors.As(err, &validErr):
		return "Invalid input"
	default:
		return "Stage failed"
	}
}

// FormatStageError renders the persisted error string.
func FormatStageError(title, detail string) string {
	if detail == "" {
		return title
	}
	return title + ": " + detail
}
