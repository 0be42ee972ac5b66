package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindConfigUnavailable, "config_unavailable"},
		{KindWatchSetupFailed, "watch_setup_failed"},
		{KindClassificationRejected, "classification_rejected"},
		{KindDeliveryFailed, "delivery_failed"},
		{KindCleanupFailed, "cleanup_failed"},
		{Kind(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestError_IsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("startup: %w", New(KindConfigUnavailable, "fetch config", errors.New("connection refused")))

	if !errors.Is(err, ErrConfigUnavailable) {
		t.Error("expected wrapped error to match ErrConfigUnavailable")
	}
	if errors.Is(err, ErrDeliveryFailed) {
		t.Error("config error must not match ErrDeliveryFailed")
	}
}

func TestError_UnwrapReachesCause(t *testing.T) {
	cause := errors.New("permission denied")
	err := New(KindWatchSetupFailed, "watch", cause).WithPath("/data")

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to reach the underlying cause")
	}
	want := "[watch_setup_failed] watch /data: permission denied"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestWrap_NilStaysNil(t *testing.T) {
	if err := Wrap(KindDeliveryFailed, "flush", nil); err != nil {
		t.Errorf("Wrap(nil) = %v, want nil", err)
	}
}

func TestIsFatal(t *testing.T) {
	if !IsFatal(Wrap(KindConfigUnavailable, "startup", errors.New("x"))) {
		t.Error("ConfigUnavailable should be fatal")
	}
	if IsFatal(Wrap(KindWatchSetupFailed, "watch", errors.New("x"))) {
		t.Error("WatchSetupFailed should not be fatal")
	}
	if IsFatal(errors.New("plain")) {
		t.Error("errors outside the taxonomy are not fatal")
	}
}

func TestKindOf(t *testing.T) {
	kind, ok := KindOf(Wrap(KindCleanupFailed, "clean", errors.New("x")))
	if !ok || kind != KindCleanupFailed {
		t.Errorf("KindOf() = %v, %v; want %v, true", kind, ok, KindCleanupFailed)
	}

	if _, ok := KindOf(errors.New("plain")); ok {
		t.Error("KindOf(plain) should report false")
	}
}
