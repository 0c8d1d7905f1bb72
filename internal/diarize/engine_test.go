package diarize

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"speech-session-service/internal/audio"
	"speech-session-service/internal/errorsx"
	"speech-session-service/internal/observability/metrics"
)

var testMetrics = metrics.NewMetricsWith(prometheus.NewRegistry())

func sine(freq float64, seconds float64, amp float64) audio.Frame {
	n := int(seconds * audio.SampleRate)
	s := make([]int16, n)
	for i := range s {
		s[i] = int16(amp * math.Sin(2*math.Pi*freq*float64(i)/audio.SampleRate))
	}
	return audio.FrameFromSamples(s)
}

func noise(seed int64, seconds float64) audio.Frame {
	rng := rand.New(rand.NewSource(seed))
	s := make([]int16, int(seconds*audio.SampleRate))
	for i := range s {
		s[i] = int16(rng.Intn(8000) - 4000)
	}
	return audio.FrameFromSamples(s)
}

func newTestEngine(speakers int) *Engine {
	cfg := DefaultConfig()
	cfg.Speakers = speakers
	return NewEngine(cfg, MFCCKMeans{Seed: 0}, testMetrics)
}

func TestWindows_TailRule(t *testing.T) {
	tests := []struct {
		name    string
		samples int
		want    int
		lastLen int
	}{
		{"empty", 0, 0, 0},
		{"under half", 7999, 0, 0},
		{"exactly half", 8000, 1, 8000},
		{"three seconds", 48000, 3, 16000},
		{"short tail dropped", 48000 + 7999, 3, 16000},
		{"half tail kept", 48000 + 8000, 4, 8000},
		{"long tail kept", 48000 + 15000, 4, 15000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			windows, offsets := Windows(make([]float64, tt.samples), 16000)
			if len(windows) != tt.want || len(offsets) != tt.want {
				t.Fatalf("expected %d windows, got %d (offsets %d)", tt.want, len(windows), len(offsets))
			}
			if tt.want > 0 && len(windows[tt.want-1]) != tt.lastLen {
				t.Errorf("expected last window of %d samples, got %d", tt.lastLen, len(windows[tt.want-1]))
			}
			for i, off := range offsets {
				if off != i*16000 {
					t.Errorf("window %d: expected offset %d, got %d", i, i*16000, off)
				}
			}
		})
	}
}

func TestEngine_ThreeSecondsGivesThreeSegments(t *testing.T) {
	frames := []audio.Frame{sine(220, 1, 3000), sine(220, 1, 3000), sine(220, 1, 3000)}

	segs, err := newTestEngine(2).Diarize(frames)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(segs) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(segs))
	}
	for i, s := range segs {
		if s.Start != float64(i) || s.End != float64(i+1) {
			t.Errorf("segment %d: expected [%d, %d), got [%v, %v)", i, i, i+1, s.Start, s.End)
		}
		if s.Speaker < 0 || s.Speaker > 1 {
			t.Errorf("segment %d: label %d out of range", i, s.Speaker)
		}
	}
}

func TestEngine_SegmentsContiguousWithKeptTail(t *testing.T) {
	frames := []audio.Frame{noise(1, 2), noise(2, 0.75)}

	segs, err := newTestEngine(2).Diarize(frames)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(segs) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(segs))
	}
	for i := 1; i < len(segs); i++ {
		if segs[i].Start != segs[i-1].End {
			t.Errorf("segment %d starts at %v, previous ends at %v", i, segs[i].Start, segs[i-1].End)
		}
	}
	if segs[2].End != 2.75 {
		t.Errorf("expected tail to end at 2.75s, got %v", segs[2].End)
	}
}

func TestEngine_SeparatesDistinctSignals(t *testing.T) {
	frames := []audio.Frame{
		sine(200, 1, 6000), sine(200, 1, 6000),
		sine(3000, 1, 6000), sine(3000, 1, 6000),
	}

	segs, err := newTestEngine(2).Diarize(frames)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int{0, 0, 1, 1}
	for i, s := range segs {
		if s.Speaker != want[i] {
			t.Errorf("segment %d: expected speaker %d, got %d", i, want[i], s.Speaker)
		}
	}
}

func TestEngine_Deterministic(t *testing.T) {
	frames := []audio.Frame{noise(7, 1), sine(400, 1, 2000), noise(8, 1), sine(1200, 1, 5000), noise(9, 1)}
	e := newTestEngine(2)

	first, err := e.Diarize(frames)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := e.Diarize(frames)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("segment counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("segment %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestEngine_ClampsSpeakersToWindows(t *testing.T) {
	segs, err := newTestEngine(2).Diarize([]audio.Frame{sine(300, 1, 3000)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(segs) != 1 || segs[0].Speaker != 0 {
		t.Errorf("expected one segment for speaker 0, got %+v", segs)
	}
}

func TestEngine_Unavailable(t *testing.T) {
	tests := []struct {
		name   string
		engine *Engine
		frames []audio.Frame
	}{
		{"no capability", NewEngine(DefaultConfig(), nil, testMetrics), []audio.Frame{sine(300, 1, 3000)}},
		{"no audio", newTestEngine(2), nil},
		{"too short", newTestEngine(2), []audio.Frame{sine(300, 0.3, 3000)}},
		{"bad labels", NewEngine(DefaultConfig(), fixedLabels{5}, testMetrics), []audio.Frame{sine(300, 1, 3000)}},
		{"label count", NewEngine(DefaultConfig(), fixedLabels{0, 0}, testMetrics), []audio.Frame{sine(300, 1, 3000)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			segs, err := tt.engine.Diarize(tt.frames)
			if !errorsx.Is(err, errorsx.KindDiarizationUnavailable) {
				t.Errorf("expected diarization unavailable, got %v", err)
			}
			if segs != nil {
				t.Errorf("expected no segments, got %v", segs)
			}
		})
	}

	_, err := newTestEngine(2).Diarize(nil)
	if !errors.Is(err, ErrNoWindows) {
		t.Errorf("expected ErrNoWindows in chain, got %v", err)
	}
}

func TestSegment_Label(t *testing.T) {
	s := Segment{Start: 1, End: 2, Speaker: 0}
	if s.Label() != "Speaker 1" {
		t.Errorf("expected Speaker 1, got %s", s.Label())
	}
	if s.String() != "1.00s - 2.00s: Speaker 1" {
		t.Errorf("unexpected string %q", s.String())
	}
}

func TestNormalize(t *testing.T) {
	got := Normalize([]audio.Frame{audio.FrameFromSamples([]int16{-32768, 0}), audio.FrameFromSamples([]int16{16384})})
	want := []float64{-1, 0, 0.5}
	if len(got) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

// fixedLabels is a capability returning canned labels.
type fixedLabels []int

func (f fixedLabels) Labels(windows [][]float64, sampleRate, k int) ([]int, error) {
	return f, nil
}
