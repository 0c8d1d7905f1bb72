package session

import (
	"errors"
	"testing"
	"time"

	"speech-session-service/internal/audio"
)

func TestSession_AppendAndSeal(t *testing.T) {
	s := New("run-1", 16000)

	for i := 0; i < 3; i++ {
		if err := s.Append(audio.Silence(32000)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if s.FrameCount() != 3 {
		t.Errorf("expected 3 frames, got %d", s.FrameCount())
	}
	if s.Duration() != 3*time.Second {
		t.Errorf("expected 3s, got %v", s.Duration())
	}

	s.Seal()
	if err := s.Append(audio.Silence(2)); !errors.Is(err, ErrSealed) {
		t.Errorf("expected ErrSealed, got %v", err)
	}
	if s.Bytes() != 96000 {
		t.Errorf("sealed append must not grow the buffer, got %d bytes", s.Bytes())
	}
}

func TestSession_PCMPreservesOrder(t *testing.T) {
	s := New("run-1", 16000)
	_ = s.Append(audio.FrameFromSamples([]int16{1, 2}))
	_ = s.Append(audio.FrameFromSamples([]int16{3}))

	got := audio.NewFrame(s.PCM()).Samples()
	want := []int16{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}

func TestSession_FramesIsCopy(t *testing.T) {
	s := New("run-1", 0)
	_ = s.Append(audio.Silence(4))

	frames := s.Frames()
	frames[0] = audio.Silence(100)
	if s.Bytes() != 4 || s.Frames()[0].Len() != 4 {
		t.Error("mutating the returned slice must not affect the session")
	}
	if s.SampleRate != audio.SampleRate {
		t.Errorf("expected default sample rate, got %d", s.SampleRate)
	}
}
