package lms

import (
	"errors"
	"fmt"
)

// ErrNotFound covers missing quizzes, attempts, essay submissions and users.
var ErrNotFound = errors.New("not found")

// ValidationError rejects bad input shape or range. Never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation: " + e.Reason }

func invalidf(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// AttemptLimitError carries the usage counters so callers can render
// "no attempts left" without a second round-trip.
type AttemptLimitError struct {
	AttemptsUsed    int
	AttemptsAllowed int
}

func (e *AttemptLimitError) Error() string {
	return fmt.Sprintf("attempt limit exceeded: %d of %d used", e.AttemptsUsed, e.AttemptsAllowed)
}

// RecoverableError marks a best-effort side effect that failed. Callers log
// and continue; the policy is visible at the call site instead of an empty
// catch.
type RecoverableError struct {
	Op  string
	Err error
}

func (e *RecoverableError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *RecoverableError) Unwrap() error { return e.Err }
