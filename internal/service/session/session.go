package session

import (
	"errors"
	"sync"
	"time"

	"speech-session-service/internal/audio"
)

// ErrSealed is returned when appending to a session whose capture has ended.
var ErrSealed = errors.New("session audio is sealed")

// Session is the audio captured for one transcription session. Frames are
// only ever appended; once sealed the buffer is read-only and is handed to
// diarization.
type Session struct {
	RunID      string
	SampleRate int
	StartedAt  time.Time

	mu     sync.RWMutex
	frames []audio.Frame
	bytes  int
	sealed bool
}

// New creates an empty session buffer.
func New(runID string, sampleRate int) *Session {
	if sampleRate <= 0 {
		sampleRate = audio.SampleRate
	}
	return &Session{
		RunID:      runID,
		SampleRate: sampleRate,
		StartedAt:  time.Now(),
	}
}

// Append adds a captured frame.
func (s *Session) Append(f audio.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return ErrSealed
	}
	s.frames = append(s.frames, f)
	s.bytes += f.Len()
	return nil
}

// Seal ends capture. Idempotent.
func (s *Session) Seal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed = true
}

// isSealed reports whether capture has ended.
func (s *Session) isSealed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sealed
}

// Frames returns the captured frames in capture order.
func (s *Session) Frames() []audio.Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audio.Frame(nil), s.frames...)
}

// FrameCount returns the number of captured frames.
func (s *Session) FrameCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.frames)
}

// Bytes returns the captured PCM size.
func (s *Session) Bytes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bytes
}

// Duration returns the captured audio duration.
func (s *Session) Duration() time.Duration {
	return audio.BytesDuration(s.Bytes(), s.SampleRate)
}

// PCM returns the captured audio as one contiguous buffer.
func (s *Session) PCM() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]byte, 0, s.bytes)
	for _, f := range s.frames {
		out = f.AppendTo(out)
	}
	return out
}
