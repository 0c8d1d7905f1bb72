// Package audio provides the PCM frame type shared by every audio consumer
// and the sources that produce frames (microphone and WAV file).
//
// All audio is mono, 16-bit signed little-endian PCM at a fixed sample rate.
package audio

import (
	"encoding/binary"
	"math"
	"time"
)

const (
	// SampleRate is the capture sample rate in Hz.
	SampleRate = 16000
	// BytesPerSample is the width of one PCM16 sample.
	BytesPerSample = 2
	// FrameSamples is the nominal number of samples per frame.
	FrameSamples = 1024
)

// Frame is an immutable buffer of PCM16 mono samples.
// The zero value is an empty frame.
type Frame struct {
	data []byte
}

// NewFrame copies pcm into a new frame. An odd trailing byte is dropped.
func NewFrame(pcm []byte) Frame {
	n := len(pcm) - len(pcm)%BytesPerSample
	data := make([]byte, n)
	copy(data, pcm[:n])
	return Frame{data: data}
}

// FrameFromSamples encodes samples as little-endian PCM16.
func FrameFromSamples(samples []int16) Frame {
	data := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*BytesPerSample:], uint16(s))
	}
	return Frame{data: data}
}

// Silence returns a frame of n zero bytes (n is rounded down to whole samples).
func Silence(n int) Frame {
	if n < 0 {
		n = 0
	}
	return Frame{data: make([]byte, n-n%BytesPerSample)}
}

// Len returns the frame size in bytes.
func (f Frame) Len() int { return len(f.data) }

// SampleCount returns the number of samples in the frame.
func (f Frame) SampleCount() int { return len(f.data) / BytesPerSample }

// Bytes returns a copy of the raw PCM bytes.
func (f Frame) Bytes() []byte {
	out := make([]byte, len(f.data))
	copy(out, f.data)
	return out
}

// AppendTo appends the raw PCM bytes to dst.
func (f Frame) AppendTo(dst []byte) []byte {
	return append(dst, f.data...)
}

// Samples decodes the frame into signed 16-bit samples.
func (f Frame) Samples() []int16 {
	out := make([]int16, f.SampleCount())
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(f.data[i*BytesPerSample:]))
	}
	return out
}

// Duration returns the playback length of the frame at sampleRate.
func (f Frame) Duration(sampleRate int) time.Duration {
	return BytesDuration(len(f.data), sampleRate)
}

// BytesDuration converts a PCM16 mono byte count to a duration at sampleRate.
func BytesDuration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := int64(n / BytesPerSample)
	return time.Duration(samples * int64(time.Second) / int64(sampleRate))
}

// RMS returns the root-mean-square amplitude of the frame's samples on the
// raw int16 scale (not normalized). An empty frame has RMS 0.
func RMS(f Frame) float64 {
	n := f.SampleCount()
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(f.data[i*BytesPerSample:])))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}
