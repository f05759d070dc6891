package agenterr

import (
	"errors"
	"testing"
)

func TestWrap_PreservesKindAndCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(KindHTTPTransient, "syncer.push", cause)

	if !Is(err, KindHTTPTransient) {
		t.Error("expected Is to report KindHTTPTransient")
	}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
}

func TestIs_FalseForPlainError(t *testing.T) {
	if Is(errors.New("plain"), KindFileSys) {
		t.Error("expected Is to return false for a non-agenterr error")
	}
}

func TestNew_FormatsMessage(t *testing.T) {
	err := New(KindDeviceNotActivated, "server.handlers", "device is not activated")
	if err.Error() == "" {
		t.Error("expected non-empty error string")
	}
	if !Is(err, KindDeviceNotActivated) {
		t.Error("expected Is to report KindDeviceNotActivated")
	}
}
