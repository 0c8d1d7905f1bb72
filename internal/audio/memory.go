package audio

import (
	"context"
	"io"
	"sync"
)

// MemorySource replays a fixed list of frames. It records how many streams
// were opened and closed so callers can check the device is released.
type MemorySource struct {
	Frames  []Frame
	OpenErr error
	// ReadErr, if set, is returned once all Frames are consumed instead of io.EOF.
	ReadErr error

	mu     sync.Mutex
	opened int
	closed int
}

// NewMemorySource creates a source over frames.
func NewMemorySource(frames ...Frame) *MemorySource {
	return &MemorySource{Frames: frames}
}

func (m *MemorySource) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	m.opened++
	return &memoryStream{src: m}, nil
}

// Opened returns the number of successful opens.
func (m *MemorySource) Opened() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened
}

// Closed returns the number of streams closed.
func (m *MemorySource) Closed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

type memoryStream struct {
	src    *MemorySource
	pos    int
	closed bool
}

func (s *memoryStream) ReadFrame() (Frame, error) {
	s.src.mu.Lock()
	defer s.src.mu.Unlock()
	if s.pos >= len(s.src.Frames) {
		if s.src.ReadErr != nil {
			return Frame{}, s.src.ReadErr
		}
		return Frame{}, io.EOF
	}
	f := s.src.Frames[s.pos]
	s.pos++
	return f, nil
}

func (s *memoryStream) Close() error {
	s.src.mu.Lock()
	defer s.src.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.src.closed++
	}
	return nil
}
