// Package gwerrors defines the gateway's error taxonomy: a small set of
// kinds (not types) that the Coordinator uses to decide whether an attempt
// is retryable, and that the transport layer uses to pick an HTTP status.
//
// Adapters classify errors at the boundary (providers.ClassifyError) into
// one of these kinds; nothing below the Coordinator decides retry policy.
package gwerrors

import (
	"errors"
	"fmt"
	"time"
)

// Kind identifies a class of gateway error. Kinds are not Go types — a
// single *Error value carries its Kind so callers can switch on it or use
// errors.Is against another *Error of the same Kind (see Error.Is).
type Kind string

// Error kind constants.
const (
	KindValidation           Kind = "validation"
	KindNotSupported         Kind = "not_supported"
	KindBudgetExceeded       Kind = "budget_exceeded"
	KindAllProvidersUnhealthy Kind = "all_providers_unhealthy"
	KindModelNotSupported    Kind = "model_not_supported"
	KindBulkheadRejection    Kind = "bulkhead_rejection"
	KindCircuitOpen          Kind = "circuit_open"
	KindRateLimited          Kind = "rate_limited"
	KindProviderTransient    Kind = "provider_transient"
	KindProviderPermanent    Kind = "provider_permanent"
	KindProviderTimeout      Kind = "provider_timeout"
	KindGatewayTimeout       Kind = "gateway_timeout"
	KindCancelled            Kind = "cancelled"
	KindInternal             Kind = "internal"
	KindInvalidResponse      Kind = "invalid_response"
)

// Error is the gateway's unified error value. It always carries a Kind and
// a Retryable flag; Provider and Attempt are best-effort context for logs
// and user-visible messages (which must not leak internal detail beyond
// Kind + Message).
type Error struct {
	Kind       Kind
	Message    string
	Provider   string
	Attempt    int
	RetryAfter time.Duration
	Retryable  bool
	Wrapped    error
}

func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s (provider=%s attempt=%d)", e.Kind, e.Message, e.Provider, e.Attempt)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// Is reports whether target is a *Error with the same Kind, so that
// errors.Is(err, gwerrors.New(KindCircuitOpen, "")) works as a sentinel
// check without comparing messages.
func (e *Error) Is(target error) bool {
	var o *Error
	if errors.As(target, &o) {
		return o.Kind == e.Kind
	}
	return false
}

// New builds an Error of the given kind. Retryability defaults per kind
// (see defaultRetryable) and can be overridden with WithRetryable.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Retryable: defaultRetryable(kind)}
}

// Wrap builds an Error of the given kind around an underlying error.
func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Message: err.Error(), Retryable: defaultRetryable(kind), Wrapped: err}
}

func defaultRetryable(kind Kind) bool {
	switch kind {
	case KindBulkheadRejection, KindCircuitOpen, KindRateLimited, KindProviderTransient, KindProviderTimeout:
		return true
	case KindAllProvidersUnhealthy, KindModelNotSupported:
		// Retryable only in the presence of an explicit fallback chain;
		// the Coordinator decides this case-by-case (see WithRetryable).
		return false
	default:
		return false
	}
}

// WithProvider sets the Provider field and returns e for chaining.
func (e *Error) WithProvider(name string) *Error { e.Provider = name; return e }

// WithAttempt sets the Attempt field and returns e for chaining.
func (e *Error) WithAttempt(n int) *Error { e.Attempt = n; return e }

// WithRetryAfter sets a minimum delay before the next attempt (e.g. from a
// provider's Retry-After header or a circuit breaker's remaining timeout).
func (e *Error) WithRetryAfter(d time.Duration) *Error { e.RetryAfter = d; return e }

// WithRetryable overrides the default retryability for this error instance.
func (e *Error) WithRetryable(r bool) *Error { e.Retryable = r; return e }

// IsRetryable reports whether err (any error, not just *Error) should be
// retried by the Coordinator. Non-gateway errors default to false.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// RetryAfter extracts the minimum retry delay from err, if any.
func RetryAfter(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// KindOf extracts the Kind from err, or "" if err is not a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
