// Package errs defines the error taxonomy shared by the platform
// integration core. Expected failure paths (bad signatures, expired state,
// remote API errors, rate limits) are returned as *Error values so callers
// can branch on the kind without exception-style control flow.
package errs

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error into one of the stable taxonomy buckets.
type Kind string

const (
	// KindConfiguration marks a missing secret or credential. Fatal at
	// startup, never produced per-request.
	KindConfiguration Kind = "configuration"

	// KindValidation marks malformed caller input. Always recoverable and
	// reported with field-level detail when possible.
	KindValidation Kind = "validation"

	// KindAuthentication marks an invalid signature, state, or token.
	// Always surfaced to clients as a generic unauthorized.
	KindAuthentication Kind = "authentication"

	// KindRateLimited marks a local or remote rate limit. Recoverable with
	// a retry hint.
	KindRateLimited Kind = "rate_limited"

	// KindRemoteAPI marks a structured error returned by the platform,
	// mapped to a stable internal code and a user-safe message.
	KindRemoteAPI Kind = "remote_api"

	// KindTransport marks a network-level failure (timeout, DNS, broken
	// connection) as distinct from an application-level API error.
	KindTransport Kind = "transport"
)

// Error is the discriminated failure value used across the core.
type Error struct {
	// Kind is the taxonomy bucket.
	Kind Kind

	// Code is a stable internal code, e.g. "content_too_long" or
	// "missing_permissions". Never echoes raw remote payloads.
	Code string

	// Message is safe to show to callers and end users.
	Message string

	// RetryAfter carries the retry hint for rate-limited errors.
	RetryAfter time.Duration

	// HTTPStatus is the remote HTTP status for remote API errors, zero
	// otherwise.
	HTTPStatus int

	// Err is the wrapped cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s/%s: %s: %v", e.Kind, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s/%s: %s", e.Kind, e.Code, e.Message)
}

// Unwrap exposes the cause for errors.Is/errors.As chains.
func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with the given kind, stable code, and user-safe message.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap builds an Error around a cause.
func Wrap(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// RateLimited builds a rate-limit error carrying a retry hint.
func RateLimited(code, message string, retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimited, Code: code, Message: message, RetryAfter: retryAfter}
}

// KindOf returns the taxonomy kind of err, or the empty Kind when err is not
// an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf returns the stable internal code of err, or "" when err is not an
// *Error.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsKind reports whether err belongs to the given taxonomy kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// RetryAfterOf returns the retry hint of a rate-limited err, or zero.
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}
