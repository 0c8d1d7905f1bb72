package session

import (
	"errors"
	"testing"
)

func TestLifecycle_InitialState(t *testing.T) {
	lc := NewLifecycle("run-1")

	if lc.State() != StateConnecting {
		t.Errorf("expected StateConnecting, got %v", lc.State())
	}
	if lc.RunId() != "run-1" {
		t.Errorf("expected run-1, got %v", lc.RunId())
	}
	if lc.IsTerminal() {
		t.Error("expected IsTerminal to be false")
	}
}

func TestLifecycle_HappyPath(t *testing.T) {
	lc := NewLifecycle("run-1")

	steps := []State{StateConfiguring, StateStreaming, StateCommitting, StateAwaitingResult, StateDone}
	for _, s := range steps {
		if err := lc.Advance(s); err != nil {
			t.Fatalf("advance to %s: unexpected error: %v", s, err)
		}
		if lc.State() != s {
			t.Fatalf("expected %s, got %s", s, lc.State())
		}
	}
	if !lc.IsTerminal() {
		t.Error("expected DONE to be terminal")
	}
}

func TestLifecycle_RejectsSkippingAndGoingBack(t *testing.T) {
	tests := []struct {
		name string
		from []State
		to   State
	}{
		{"skip configure", nil, StateStreaming},
		{"commit before streaming", []State{StateConfiguring}, StateCommitting},
		{"done before commit", []State{StateConfiguring, StateStreaming}, StateDone},
		{"back to configuring", []State{StateConfiguring, StateStreaming}, StateConfiguring},
		{"repeat streaming", []State{StateConfiguring, StateStreaming}, StateStreaming},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lc := NewLifecycle("run-1")
			for _, s := range tt.from {
				if err := lc.Advance(s); err != nil {
					t.Fatalf("setup advance to %s: %v", s, err)
				}
			}
			before := lc.State()
			if err := lc.Advance(tt.to); !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("expected ErrInvalidTransition, got %v", err)
			}
			if lc.State() != before {
				t.Errorf("state changed on rejected transition: %s -> %s", before, lc.State())
			}
		})
	}
}

func TestLifecycle_CloseFromAnyState(t *testing.T) {
	for _, s := range []State{StateConnecting, StateConfiguring, StateStreaming, StateCommitting, StateAwaitingResult} {
		t.Run(s.String(), func(t *testing.T) {
			lc := &Lifecycle{runId: "run-1", state: s}
			if !lc.Close() {
				t.Error("expected Close to change state")
			}
			if lc.State() != StateClosed {
				t.Errorf("expected StateClosed, got %s", lc.State())
			}
		})
	}
}

func TestLifecycle_TerminalStatesAreFinal(t *testing.T) {
	done := &Lifecycle{state: StateDone}
	if done.Close() {
		t.Error("Close must not change DONE")
	}
	if done.State() != StateDone {
		t.Errorf("expected StateDone, got %s", done.State())
	}

	closed := NewLifecycle("run-1")
	closed.Close()
	if closed.Close() {
		t.Error("second Close should report no change")
	}
	if err := closed.Advance(StateConfiguring); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateConnecting, "CONNECTING"},
		{StateConfiguring, "CONFIGURING"},
		{StateStreaming, "STREAMING"},
		{StateCommitting, "COMMITTING"},
		{StateAwaitingResult, "AWAITING_RESULT"},
		{StateDone, "DONE"},
		{StateClosed, "CLOSED"},
		{State(99), "UNKNOWN(99)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
