// Package derr defines the error envelope used across the daemon's
// pollers and command handlers: every error surfaced to a
// caller classifies as retryable, non-retryable, or requiring user
// action, and carries an optional human-readable recovery suggestion.
package derr

import "fmt"

// ErrorType classifies how a caller should react to an error.
type ErrorType string

const (
	// Retryable indicates a transient failure (network blip, rate limit,
	// lock contention) where the same operation is likely to succeed if
	// attempted again, possibly after a backoff.
	Retryable ErrorType = "retryable"

	// NonRetryable indicates a failure that will not resolve itself;
	// retrying the identical operation wastes a cycle.
	NonRetryable ErrorType = "non_retryable"

	// RequiresUserAction indicates the daemon cannot proceed without a
	// human decision or credential (e.g. an expired OAuth token, an
	// ambiguous entity match past the auto-resolve threshold).
	RequiresUserAction ErrorType = "requires_user_action"
)

// Error wraps an underlying error with a classification and, optionally,
// a short suggestion for how a human or caller could recover.
type Error struct {
	Type       ErrorType
	Suggestion string
	Op         string // the operation that failed, e.g. "calendarintake.poll"
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err.Error())
}

// Unwrap allows errors.As/errors.Is to see through to the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// CanRetry reports whether the error's classification permits a retry.
func (e *Error) CanRetry() bool {
	return e.Type == Retryable
}

// RecoverySuggestion returns the stored suggestion, or a generic one
// derived from the error's type if none was set explicitly.
func (e *Error) RecoverySuggestion() string {
	if e.Suggestion != "" {
		return e.Suggestion
	}
	switch e.Type {
	case Retryable:
		return "the operation failed transiently and will be retried automatically"
	case RequiresUserAction:
		return "this requires a decision or credential from a human operator"
	default:
		return "this failure will not resolve on its own; check logs for the underlying cause"
	}
}

// WrapRetryable wraps err as a Retryable derr.Error for operation op.
func WrapRetryable(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Type: Retryable, Op: op, Err: err}
}

// WrapNonRetryable wraps err as a NonRetryable derr.Error for operation op.
func WrapNonRetryable(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Type: NonRetryable, Op: op, Err: err}
}

// WrapUserAction wraps err as a RequiresUserAction derr.Error, attaching
// a suggestion describing what the user needs to do.
func WrapUserAction(op, suggestion string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Type: RequiresUserAction, Op: op, Suggestion: suggestion, Err: err}
}

// TypeOf returns the ErrorType of err if it is (or wraps) a *Error,
// defaulting to NonRetryable for plain errors so unclassified failures
// don't get silently retried forever.
func TypeOf(err error) ErrorType {
	var de *Error
	if as(err, &de) {
		return de.Type
	}
	return NonRetryable
}

// as walks err's Unwrap chain for a *Error, a local stand-in for
// errors.As used by TypeOf.
func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// CanRetry reports whether err is retryable, defaulting to false for
// plain unclassified errors.
func CanRetry(err error) bool {
	return TypeOf(err) == Retryable
}
