package errorsx

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapAndKind(t *testing.T) {
	err := Wrap(errors.New("boom"), KindDevice)
	if KindOf(err) != KindDevice {
		t.Fatalf("expected kind %s, got %s", KindDevice, KindOf(err))
	}
	if !Is(err, KindDevice) {
		t.Fatal("expected Is to be true")
	}
	if err.Error() != "boom" {
		t.Errorf("expected message 'boom', got %q", err.Error())
	}
}

func TestWrap_PreservesExistingKind(t *testing.T) {
	first := Wrap(errors.New("boom"), KindConnection)
	second := Wrap(fmt.Errorf("outer: %w", first), KindSessionCreation)
	if KindOf(second) != KindConnection {
		t.Errorf("expected kind preserved, got %s", KindOf(second))
	}
}

func TestWrap_Nil(t *testing.T) {
	if Wrap(nil, KindDevice) != nil {
		t.Error("expected nil for nil error")
	}
	if KindOf(nil) != KindUnknown {
		t.Errorf("expected unknown kind for nil, got %s", KindOf(nil))
	}
}

func TestKindOf_ThroughFmtWrap(t *testing.T) {
	base := New(KindDiarizationUnavailable, "no windows")
	err := fmt.Errorf("diarize: %w", base)
	if !Is(err, KindDiarizationUnavailable) {
		t.Errorf("expected kind to survive fmt wrapping, got %s", KindOf(err))
	}
}
