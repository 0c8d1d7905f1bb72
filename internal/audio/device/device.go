// Package device captures frames from the default input device through
// PortAudio. It needs the native PortAudio library (cgo); nothing else in
// internal/audio does.
package device

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"speech-session-service/internal/audio"
	"speech-session-service/internal/errorsx"
)

// Source captures from the default input device. Each Open acquires the
// device and Close on the returned stream releases it.
type Source struct {
	sampleRate   int
	frameSamples int
}

// NewSource creates a microphone source. Zero values fall back to
// audio.SampleRate and audio.FrameSamples.
func NewSource(sampleRate, frameSamples int) *Source {
	if sampleRate <= 0 {
		sampleRate = audio.SampleRate
	}
	if frameSamples <= 0 {
		frameSamples = audio.FrameSamples
	}
	return &Source{sampleRate: sampleRate, frameSamples: frameSamples}
}

// Open initializes the audio host and starts a mono input stream.
// On any failure everything acquired so far is released.
func (s *Source) Open(ctx context.Context) (audio.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("initialize audio host: %w", err), errorsx.KindDevice)
	}

	buf := make([]int16, s.frameSamples)
	st, err := portaudio.OpenDefaultStream(1, 0, float64(s.sampleRate), len(buf), buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, errorsx.Wrap(fmt.Errorf("open input stream: %w", err), errorsx.KindDevice)
	}
	if err := st.Start(); err != nil {
		_ = st.Close()
		_ = portaudio.Terminate()
		return nil, errorsx.Wrap(fmt.Errorf("start input stream: %w", err), errorsx.KindDevice)
	}

	return &deviceStream{stream: st, buf: buf}, nil
}

type deviceStream struct {
	stream *portaudio.Stream
	buf    []int16
	once   sync.Once
}

// ReadFrame reads one buffer from the device. Input overflows are not
// treated as failures; the frame is returned as captured.
func (d *deviceStream) ReadFrame() (audio.Frame, error) {
	if err := d.stream.Read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
		return audio.Frame{}, errorsx.Wrap(fmt.Errorf("read input stream: %w", err), errorsx.KindDevice)
	}
	return audio.FrameFromSamples(d.buf), nil
}

func (d *deviceStream) Close() error {
	var err error
	d.once.Do(func() {
		if e := d.stream.Stop(); e != nil {
			err = e
		}
		if e := d.stream.Close(); e != nil && err == nil {
			err = e
		}
		if e := portaudio.Terminate(); e != nil && err == nil {
			err = e
		}
	})
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("close input stream: %w", err), errorsx.KindDevice)
	}
	return nil
}

var _ audio.Source = (*Source)(nil)
