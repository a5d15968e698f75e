package models

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceUnavailable is absorbed by the market cache; it never ends a cycle.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrAdvisoryUnavailable is resolved to SafeDefaultVerdict.
	ErrAdvisoryUnavailable = errors.New("advisory unavailable")
	// ErrInvariantViolation aborts the current cycle only.
	ErrInvariantViolation = errors.New("invariant violation")
	ErrCycleInProgress    = errors.New("evaluation cycle already in progress")
	ErrNoCycleYet         = errors.New("no evaluation cycle has completed")
)

// InvariantViolation wraps ErrInvariantViolation with detail.
func InvariantViolation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvariantViolation, fmt.Sprintf(format, args...))
}

// SourceUnavailable wraps ErrSourceUnavailable with the source name and cause.
func SourceUnavailable(source string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%s: %w", source, ErrSourceUnavailable)
	}
	return fmt.Errorf("%s: %w: %v", source, ErrSourceUnavailable, cause)
}
