package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestWrapPreservesCodeAndCause(t *testing.T) {
	cause := stdErrors.New("dial tcp: connection refused")
	err := Wrap(CodeExternalProviderUnavailable, cause, "provision sandbox",
		WithMetadata("step", "provision"),
	)

	if !stdErrors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable through errors.Is")
	}
	if !stdErrors.Is(err, New(CodeExternalProviderUnavailable, "")) {
		t.Fatalf("expected code match via errors.Is")
	}
	if CodeOf(fmt.Errorf("outer: %w", err)) != CodeExternalProviderUnavailable {
		t.Fatalf("code lost through fmt wrapping")
	}
	if got := MetadataOf(err)["step"]; got != "provision" {
		t.Fatalf("unexpected metadata: %q", got)
	}
	if !RetryableError(err) {
		t.Fatalf("provider errors are manually retryable")
	}
}

func TestPublicMessageHidesInternalDetail(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"invariant", New(CodeInvariantViolation, "fee_creator_pct 60 + fee_platform_pct 30 != 100"), "request could not be applied"},
		{"plain", stdErrors.New("sql: connection reset"), "internal error"},
		{"public", New(CodeNothingToClaim, "nothing to claim for 0xabc"), "nothing to claim for 0xabc"},
		{"storage", Wrap(CodeStorageFailure, stdErrors.New("deadlock"), "insert agent"), "storage failure"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := PublicMessage(tc.err); got != tc.want {
				t.Fatalf("PublicMessage() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRegisterOverridesAttributes(t *testing.T) {
	code := Code("TEST_CUSTOM")
	if AttributesOf(code).Message != AttributesOf(CodeUnknown).Message {
		t.Fatalf("unregistered code should fall back to UNKNOWN")
	}
	Register(code, Attributes{Message: "custom", Severity: SeverityInfo, Alert: false})
	err := New(code, "")
	if err.Message() != "custom" {
		t.Fatalf("unexpected message: %s", err.Message())
	}
	if ShouldAlert(err) {
		t.Fatalf("custom code should not alert")
	}
	if !New(code, "", WithAlert(true)).ShouldAlert() {
		t.Fatalf("WithAlert override ignored")
	}
}
