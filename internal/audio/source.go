package audio

import "context"

// Source opens an exclusive handle on an audio input.
// Every successful Open must be paired with Stream.Close.
type Source interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream produces fixed-size frames from an open audio input.
type Stream interface {
	// ReadFrame blocks until the next frame is available.
	// io.EOF signals the input is exhausted.
	ReadFrame() (Frame, error)

	// Close releases the underlying input. Safe to call more than once.
	Close() error
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (Stream, error)

// Open calls f(ctx).
func (f SourceFunc) Open(ctx context.Context) (Stream, error) {
	return f(ctx)
}
