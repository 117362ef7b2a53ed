package errs

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestErrorString(t *testing.T) {
	t.Parallel()

	plain := New(KindValidation, "empty_message", "message must not be empty")
	if got := plain.Error(); got != "validation/empty_message: message must not be empty" {
		t.Errorf("Error() = %q", got)
	}

	wrapped := Wrap(KindTransport, "request_failed", "could not reach the platform API", errors.New("dial tcp: timeout"))
	if got := wrapped.Error(); got != "transport/request_failed: could not reach the platform API: dial tcp: timeout" {
		t.Errorf("Error() = %q", got)
	}
}

func TestUnwrapChain(t *testing.T) {
	t.Parallel()

	cause := errors.New("underlying")
	err := fmt.Errorf("outer: %w", Wrap(KindRemoteAPI, "server_error", "platform trouble", cause))

	var e *Error
	if !errors.As(err, &e) {
		t.Fatal("errors.As did not find *Error through the wrap chain")
	}
	if e.Code != "server_error" {
		t.Errorf("Code = %q", e.Code)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is lost the original cause")
	}
}

func TestKindAndCodeHelpers(t *testing.T) {
	t.Parallel()

	err := New(KindAuthentication, "state_mismatch", "state mismatch")
	if KindOf(err) != KindAuthentication {
		t.Errorf("KindOf = %q", KindOf(err))
	}
	if CodeOf(err) != "state_mismatch" {
		t.Errorf("CodeOf = %q", CodeOf(err))
	}
	if !IsKind(err, KindAuthentication) || IsKind(err, KindValidation) {
		t.Error("IsKind misclassified")
	}

	other := errors.New("plain error")
	if KindOf(other) != "" || CodeOf(other) != "" {
		t.Error("helpers invented taxonomy data for a plain error")
	}
}

func TestRateLimitedCarriesHint(t *testing.T) {
	t.Parallel()

	err := RateLimited("rate_limited", "slow down", 42*time.Second)
	if !IsKind(err, KindRateLimited) {
		t.Errorf("kind = %q", KindOf(err))
	}
	if RetryAfterOf(err) != 42*time.Second {
		t.Errorf("RetryAfterOf = %v", RetryAfterOf(err))
	}
	if RetryAfterOf(errors.New("plain")) != 0 {
		t.Error("RetryAfterOf invented a hint")
	}
}
