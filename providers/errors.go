package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ferro-labs/ai-gateway/internal/gwerrors"
)

// HTTPError carries the status code and Retry-After from a failed provider
// API call, so ClassifyError can map it onto a gwerrors.Kind without
// parsing the error string. Adapters build one via NewHTTPError instead of
// returning a bare fmt.Errorf for a non-2xx response.
type HTTPError struct {
	Provider   string
	StatusCode int
	RetryAfter time.Duration
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s API error (%d): %s", e.Provider, e.StatusCode, e.Body)
}

// NewHTTPError builds an HTTPError from a non-2xx HTTP response, extracting
// Retry-After (seconds or HTTP-date form) when present.
func NewHTTPError(provider string, resp *http.Response, body string) *HTTPError {
	return &HTTPError{
		Provider:   provider,
		StatusCode: resp.StatusCode,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		Body:       body,
	}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// ClassifyError maps an error returned by a Provider's Complete/
// CompleteStream call onto the gateway's error taxonomy, so the
// Coordinator can decide retryability and extract Retry-After without
// knowing about any specific adapter's error format.
//
// If err already is a *gwerrors.Error, it is returned unchanged. If err
// wraps an *HTTPError (set by adapters via NewHTTPError), the HTTP status
// code determines the Kind: 401/403/404/422 are permanent and never
// retried, 429 is rate-limited and honors Retry-After, 408 and 5xx are
// transient, and any other 4xx is treated as permanent. A
// context.DeadlineExceeded classifies as a provider timeout. Anything else
// (a transport-level error with no structured status) defaults to
// provider_transient, since a connection failure is usually worth one retry.
func ClassifyError(err error) *gwerrors.Error {
	if err == nil {
		return nil
	}

	var ge *gwerrors.Error
	if errors.As(err, &ge) {
		return ge
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return gwerrors.Wrap(gwerrors.KindProviderTimeout, err).WithRetryable(true)
	}

	var he *HTTPError
	if errors.As(err, &he) {
		kind, retryable := classifyStatus(he.StatusCode)
		out := gwerrors.Wrap(kind, err).WithRetryable(retryable).WithProvider(he.Provider)
		if he.RetryAfter > 0 {
			out = out.WithRetryAfter(he.RetryAfter)
		}
		return out
	}

	return gwerrors.Wrap(gwerrors.KindProviderTransient, err).WithRetryable(true)
}

// classifyStatus maps an HTTP status code to a Kind and its default
// retryability. The Coordinator, not this function, is responsible for
// excluding 429 from the breaker's failure accounting.
func classifyStatus(code int) (gwerrors.Kind, bool) {
	switch {
	case code == http.StatusTooManyRequests:
		return gwerrors.KindRateLimited, true
	case code == http.StatusRequestTimeout:
		return gwerrors.KindProviderTimeout, true
	case code >= 500:
		return gwerrors.KindProviderTransient, true
	case code >= 400:
		// 401, 403, 404, 422, and any other 4xx: the request or credentials
		// are wrong and a retry against the same or another provider won't
		// help.
		return gwerrors.KindProviderPermanent, false
	default:
		return gwerrors.KindProviderTransient, true
	}
}

// IsRateLimited reports whether err classifies as a 429 rate-limit error,
// which the Coordinator excludes from circuit-breaker failure accounting.
func IsRateLimited(err error) bool {
	ce := ClassifyError(err)
	return ce != nil && ce.Kind == gwerrors.KindRateLimited
}
