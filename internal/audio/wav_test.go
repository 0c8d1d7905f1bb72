package audio

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"speech-session-service/internal/errorsx"
)

func writeTestWAV(t *testing.T, samples int, sampleRate int) string {
	t.Helper()
	pcm := make([]byte, samples*BytesPerSample)
	for i := 0; i < samples; i++ {
		pcm[i*2] = byte(i)
	}
	var buf bytes.Buffer
	if err := WriteWAV(&buf, pcm, sampleRate); err != nil {
		t.Fatalf("WriteWAV: %v", err)
	}
	path := filepath.Join(t.TempDir(), "test.wav")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	return path
}

func TestWAVSource_ReadsFramesUntilEOF(t *testing.T) {
	path := writeTestWAV(t, FrameSamples*2+100, SampleRate)

	st, err := NewWAVSource(path, false).Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	var sizes []int
	for {
		f, err := st.ReadFrame()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		sizes = append(sizes, f.Len())
	}

	want := []int{FrameSamples * 2, FrameSamples * 2, 200}
	if len(sizes) != len(want) {
		t.Fatalf("expected %d frames, got %d (%v)", len(want), len(sizes), sizes)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Errorf("frame %d: expected %d bytes, got %d", i, want[i], sizes[i])
		}
	}
}

func TestWAVSource_RejectsWrongSampleRate(t *testing.T) {
	path := writeTestWAV(t, 100, 8000)

	_, err := NewWAVSource(path, false).Open(context.Background())
	if err == nil {
		t.Fatal("expected error for 8 kHz file")
	}
	if !errorsx.Is(err, errorsx.KindDevice) {
		t.Errorf("expected device error kind, got %s", errorsx.KindOf(err))
	}
}

func TestWAVSource_MissingFile(t *testing.T) {
	_, err := NewWAVSource(filepath.Join(t.TempDir(), "missing.wav"), false).Open(context.Background())
	if !errorsx.Is(err, errorsx.KindDevice) {
		t.Errorf("expected device error kind, got %v", err)
	}
}

func TestWAVSource_RealtimeHonoursCancel(t *testing.T) {
	path := writeTestWAV(t, FrameSamples*4, SampleRate)
	ctx, cancel := context.WithCancel(context.Background())

	st, err := NewWAVSource(path, true).Open(ctx)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	if _, err := st.ReadFrame(); err != nil {
		t.Fatalf("first read: %v", err)
	}
	cancel()
	if _, err := st.ReadFrame(); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestWAVStream_CloseIdempotent(t *testing.T) {
	path := writeTestWAV(t, 10, SampleRate)
	st, err := NewWAVSource(path, false).Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func writePCMWAV(t *testing.T, samples []int16) string {
	t.Helper()
	var buf bytes.Buffer
	if err := WriteWAV(&buf, FrameFromSamples(samples).Bytes(), SampleRate); err != nil {
		t.Fatalf("WriteWAV: %v", err)
	}
	path := filepath.Join(t.TempDir(), "speech.wav")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	return path
}

func TestWAVSource_ReopenContinuesFromCursor(t *testing.T) {
	// One second of silence followed by one second of loud audio.
	samples := make([]int16, 2*SampleRate)
	for i := SampleRate; i < len(samples); i++ {
		if i%2 == 0 {
			samples[i] = 3000
		} else {
			samples[i] = -3000
		}
	}
	src := NewWAVSource(writePCMWAV(t, samples), false)
	ctx := context.Background()

	// Gate: discard quiet frames until one is loud.
	gate, err := src.Open(ctx)
	if err != nil {
		t.Fatalf("gate open: %v", err)
	}
	gateFrames := 0
	for {
		f, err := gate.ReadFrame()
		if err != nil {
			t.Fatalf("gate read: %v", err)
		}
		gateFrames++
		if RMS(f) > 100 {
			break
		}
	}
	gate.Close()

	if gateFrames != 16 {
		t.Fatalf("expected the gate to consume 16 frames, got %d", gateFrames)
	}
	if src.Offset() != int64(gateFrames*FrameSamples*BytesPerSample) {
		t.Errorf("unexpected cursor %d after gate", src.Offset())
	}

	// Capture picks up after the frame that opened the gate.
	capture, err := src.Open(ctx)
	if err != nil {
		t.Fatalf("capture open: %v", err)
	}
	first, err := capture.ReadFrame()
	if err != nil {
		t.Fatalf("capture read: %v", err)
	}
	if RMS(first) <= 100 {
		t.Errorf("capture restarted at file start: first frame RMS=%.1f", RMS(first))
	}
	captured := first.Len()
	for {
		f, err := capture.ReadFrame()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("capture read: %v", err)
		}
		captured += f.Len()
	}
	capture.Close()

	if want := len(samples)*BytesPerSample - gateFrames*FrameSamples*BytesPerSample; captured != want {
		t.Errorf("expected capture to read the remaining %d bytes, got %d", want, captured)
	}

	// An exhausted source stays exhausted.
	again, err := src.Open(ctx)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer again.Close()
	if _, err := again.ReadFrame(); err != io.EOF {
		t.Errorf("expected io.EOF from exhausted source, got %v", err)
	}
}
