package apperr

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestKindOf(t *testing.T) {
	err := New(KindConflict, "slug_taken", "slug %q already in use", "demo")
	if KindOf(err) != KindConflict {
		t.Errorf("KindOf = %s", KindOf(err))
	}
	if !IsKind(err, KindConflict) || IsKind(err, KindNotFound) {
		t.Error("IsKind mismatch")
	}

	// wrapped through fmt.Errorf the kind survives
	wrapped := fmt.Errorf("creating project: %w", err)
	if !IsKind(wrapped, KindConflict) {
		t.Error("kind lost through wrapping")
	}

	if KindOf(errors.New("plain")) != KindInternal {
		t.Error("plain errors must classify as internal")
	}
}

func TestCodeOf(t *testing.T) {
	err := fmt.Errorf("opening store: %w", New(KindConfig, "db_migration_required", "schema too new"))
	if CodeOf(err) != "db_migration_required" {
		t.Errorf("CodeOf = %q", CodeOf(err))
	}
	if CodeOf(errors.New("plain")) != "" {
		t.Errorf("CodeOf(plain) = %q", CodeOf(errors.New("plain")))
	}
}

func TestUnwrapPreservesCause(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := Wrap(cause, KindTransport, "forge_unreachable", "GET /api/v1/user")
	if !errors.Is(err, cause) {
		t.Error("cause not reachable via errors.Is")
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindTransport, true},
		{KindRateLimited, true},
		{KindUpstream, false},
		{KindValidation, false},
		{KindConflict, false},
	}
	for _, tt := range tests {
		if got := Retryable(New(tt.kind, "c", "m")); got != tt.want {
			t.Errorf("Retryable(%s) = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestRetryAfterOf(t *testing.T) {
	err := &Error{Kind: KindRateLimited, Code: "platform_rate_limited", RetryAfter: 3 * time.Second}
	after, ok := RetryAfterOf(err)
	if !ok || after != 3*time.Second {
		t.Errorf("RetryAfterOf = (%v, %v)", after, ok)
	}
	if _, ok := RetryAfterOf(New(KindRateLimited, "c", "m")); ok {
		t.Error("zero retry-after reported as set")
	}
}

func TestErrorString(t *testing.T) {
	err := Wrap(errors.New("boom"), KindUpstream, "platform_error", "creating app")
	want := "platform_error: creating app: boom"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
