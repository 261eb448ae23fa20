package providers

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/ferro-labs/ai-gateway/internal/gwerrors"
)

func respWithRetryAfter(status int, retryAfter string) *http.Response {
	h := http.Header{}
	if retryAfter != "" {
		h.Set("Retry-After", retryAfter)
	}
	return &http.Response{StatusCode: status, Header: h}
}

func TestClassifyError_HTTPStatusMapping(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantKind      gwerrors.Kind
		wantRetryable bool
	}{
		{"unauthorized", http.StatusUnauthorized, gwerrors.KindProviderPermanent, false},
		{"forbidden", http.StatusForbidden, gwerrors.KindProviderPermanent, false},
		{"unprocessable", http.StatusUnprocessableEntity, gwerrors.KindProviderPermanent, false},
		{"not found", http.StatusNotFound, gwerrors.KindProviderPermanent, false},
		{"too many requests", http.StatusTooManyRequests, gwerrors.KindRateLimited, true},
		{"request timeout", http.StatusRequestTimeout, gwerrors.KindProviderTimeout, true},
		{"internal server error", http.StatusInternalServerError, gwerrors.KindProviderTransient, true},
		{"bad gateway", http.StatusBadGateway, gwerrors.KindProviderTransient, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewHTTPError("acme", respWithRetryAfter(tt.status, ""), "boom")
			ge := ClassifyError(err)
			if ge.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", ge.Kind, tt.wantKind)
			}
			if ge.Retryable != tt.wantRetryable {
				t.Errorf("Retryable = %v, want %v", ge.Retryable, tt.wantRetryable)
			}
		})
	}
}

func TestClassifyError_ExtractsRetryAfterSeconds(t *testing.T) {
	err := NewHTTPError("acme", respWithRetryAfter(http.StatusTooManyRequests, "3"), "rate limited")
	ge := ClassifyError(err)
	if ge.Kind != gwerrors.KindRateLimited {
		t.Fatalf("Kind = %v, want rate_limited", ge.Kind)
	}
	if ge.RetryAfter < 3*time.Second {
		t.Errorf("RetryAfter = %v, want >= 3s", ge.RetryAfter)
	}
}

func TestClassifyError_PreservesExistingGwError(t *testing.T) {
	original := gwerrors.New(gwerrors.KindBudgetExceeded, "no budget left")
	ge := ClassifyError(original)
	if ge != original {
		t.Errorf("expected the same *gwerrors.Error to be returned unchanged")
	}
}

func TestClassifyError_DeadlineExceeded(t *testing.T) {
	ge := ClassifyError(context.DeadlineExceeded)
	if ge.Kind != gwerrors.KindProviderTimeout {
		t.Errorf("Kind = %v, want provider_timeout", ge.Kind)
	}
	if !ge.Retryable {
		t.Error("expected a deadline-exceeded error to be retryable")
	}
}

func TestClassifyError_UnstructuredErrorDefaultsToTransient(t *testing.T) {
	ge := ClassifyError(errors.New("connection reset by peer"))
	if ge.Kind != gwerrors.KindProviderTransient {
		t.Errorf("Kind = %v, want provider_transient", ge.Kind)
	}
	if !ge.Retryable {
		t.Error("expected an unstructured transport error to be retryable")
	}
}

func TestIsRateLimited(t *testing.T) {
	if !IsRateLimited(NewHTTPError("acme", respWithRetryAfter(http.StatusTooManyRequests, ""), "")) {
		t.Error("expected 429 to classify as rate limited")
	}
	if IsRateLimited(NewHTTPError("acme", respWithRetryAfter(http.StatusInternalServerError, ""), "")) {
		t.Error("expected 500 to not classify as rate limited")
	}
}
