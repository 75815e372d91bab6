// Package apperr defines the error taxonomy shared by the gateways, the
// orchestrator and the assistant proxy. Every error carries a kind, a stable
// machine-readable code and an optional cause chain so callers can branch on
// failure class without string matching.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error into one of the failure classes the control plane
// distinguishes. Kinds are coarse; the Code field carries the specific case.
type Kind string

const (
	// KindValidation means caller-supplied input was invalid. Never produced
	// after remote I/O has begun.
	KindValidation Kind = "validation"
	// KindNotFound means a referenced entity is absent.
	KindNotFound Kind = "not_found"
	// KindConflict means a uniqueness violation, e.g. a slug collision.
	KindConflict Kind = "conflict"
	// KindAuth means an upstream rejected our credentials.
	KindAuth Kind = "auth"
	// KindRateLimited means an upstream throttled us. RetryAfter may be set.
	KindRateLimited Kind = "rate_limited"
	// KindUpstream means an upstream 5xx or protocol violation.
	KindUpstream Kind = "upstream"
	// KindTransport means a network, TLS or timeout failure. Retryable.
	KindTransport Kind = "transport"
	// KindConfig means server-side misconfiguration.
	KindConfig Kind = "config"
	// KindUnavailable means the project is not in a state that allows the
	// requested operation.
	KindUnavailable Kind = "unavailable"
	// KindInternal means an unexpected failure that should page an operator.
	KindInternal Kind = "internal"
)

// Upstream system identifiers used in the Upstream field.
const (
	UpstreamForge     = "forge"
	UpstreamPlatform  = "platform"
	UpstreamAssistant = "assistant"
)

// Error is the concrete error type for all taxonomic failures.
type Error struct {
	Kind Kind
	// Code is a stable machine-readable identifier, e.g. "repo_exists".
	Code    string
	Message string
	// Upstream names the remote system for upstream/transport errors:
	// "forge", "platform" or "assistant".
	Upstream string
	// Status is the upstream HTTP status, when one was received.
	Status int
	// RetryAfter is the upstream-suggested backoff for rate limits.
	RetryAfter time.Duration
	// Err is the cause, preserved for operator debugging.
	Err error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a taxonomic error without a cause.
func New(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a taxonomic error with a cause.
func Wrap(err error, kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// Upstreamf creates an upstream error naming the remote system and status.
func Upstreamf(system string, status int, format string, args ...any) *Error {
	return &Error{
		Kind:     KindUpstream,
		Code:     system + "_error",
		Message:  fmt.Sprintf(format, args...),
		Upstream: system,
		Status:   status,
	}
}

// KindOf returns the kind of err, or KindInternal for non-taxonomic errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the machine-readable code of err, or "" for non-taxonomic
// errors.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether err belongs to the transient class the
// orchestrator may retry: transport failures and rate limits.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransport, KindRateLimited:
		return true
	}
	return false
}

// RetryAfterOf returns the upstream-suggested backoff, if any.
func RetryAfterOf(err error) (time.Duration, bool) {
	var e *Error
	if errors.As(err, &e) && e.RetryAfter > 0 {
		return e.RetryAfter, true
	}
	return 0, false
}
