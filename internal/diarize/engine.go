// Package diarize attributes fixed windows of captured audio to speakers by
// clustering their cepstral features. The result is approximate; it does not
// identify speakers across sessions.
package diarize

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"speech-session-service/internal/audio"
	"speech-session-service/internal/errorsx"
	"speech-session-service/internal/observability/logging"
	"speech-session-service/internal/observability/metrics"
)

// ErrNoWindows is returned when the audio holds no window long enough to label.
var ErrNoWindows = errors.New("no window long enough to diarize")

// Segment is one window attributed to a speaker. Offsets are in seconds from
// the start of the session audio.
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker int     `json:"speaker"`
}

// Label returns the display name of the speaker.
func (s Segment) Label() string {
	return fmt.Sprintf("Speaker %d", s.Speaker+1)
}

func (s Segment) String() string {
	return fmt.Sprintf("%.2fs - %.2fs: %s", s.Start, s.End, s.Label())
}

// Capability labels windows with cluster ids in [0, k).
type Capability interface {
	Labels(windows [][]float64, sampleRate, k int) ([]int, error)
}

// MFCCKMeans is the built-in capability: window-averaged MFCCs clustered
// with seeded k-means.
type MFCCKMeans struct {
	Seed int64
}

// Labels extracts one feature vector per window and clusters them.
func (c MFCCKMeans) Labels(windows [][]float64, sampleRate, k int) ([]int, error) {
	if len(windows) == 0 {
		return nil, ErrNoWindows
	}
	if k < 1 || k > len(windows) {
		return nil, fmt.Errorf("cluster count %d out of range for %d windows", k, len(windows))
	}

	mfcc := NewMFCC(DefaultMFCCConfig(sampleRate))
	features := make([][]float64, len(windows))
	for i, w := range windows {
		features[i] = mfcc.Mean(w)
	}
	return DefaultKMeans(c.Seed).Fit(features, k), nil
}

// Config controls windowing and clustering.
type Config struct {
	SampleRate int
	Window     time.Duration
	Speakers   int
}

// DefaultConfig returns 1 s windows, two speakers.
func DefaultConfig() Config {
	return Config{
		SampleRate: audio.SampleRate,
		Window:     time.Second,
		Speakers:   2,
	}
}

// Engine partitions session audio into windows and labels them.
type Engine struct {
	cfg        Config
	capability Capability
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

// NewEngine creates an engine. A nil capability makes every Diarize call
// report KindDiarizationUnavailable. A nil m uses metrics.DefaultMetrics.
func NewEngine(cfg Config, capability Capability, m *metrics.Metrics) *Engine {
	def := DefaultConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Speakers <= 0 {
		cfg.Speakers = def.Speakers
	}
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Engine{
		cfg:        cfg,
		capability: capability,
		metrics:    m,
		logger:     logging.WithComponent("diarize"),
	}
}

// Diarize labels the concatenated frames. Failures carry
// KindDiarizationUnavailable and mean "no result", never a failed session.
func (e *Engine) Diarize(frames []audio.Frame) ([]Segment, error) {
	start := time.Now()
	segs, err := e.diarize(frames)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		e.metrics.RecordDiarization("unavailable", 0, elapsed)
		return nil, errorsx.Wrap(err, errorsx.KindDiarizationUnavailable)
	}
	e.metrics.RecordDiarization("ok", len(segs), elapsed)
	e.logger.Debug().Int("segments", len(segs)).Float64("seconds", elapsed).Msg("Diarization complete")
	return segs, nil
}

func (e *Engine) diarize(frames []audio.Frame) ([]Segment, error) {
	if e.capability == nil {
		return nil, errors.New("diarization capability not available")
	}

	samples := Normalize(frames)
	windowLen := int(e.cfg.Window.Seconds() * float64(e.cfg.SampleRate))
	windows, offsets := Windows(samples, windowLen)
	if len(windows) == 0 {
		return nil, ErrNoWindows
	}

	k := min(e.cfg.Speakers, len(windows))
	labels, err := e.capability.Labels(windows, e.cfg.SampleRate, k)
	if err != nil {
		return nil, err
	}
	if len(labels) != len(windows) {
		return nil, fmt.Errorf("capability returned %d labels for %d windows", len(labels), len(windows))
	}

	rate := float64(e.cfg.SampleRate)
	segs := make([]Segment, len(windows))
	for i, w := range windows {
		if labels[i] < 0 || labels[i] >= k {
			return nil, fmt.Errorf("label %d out of range [0, %d)", labels[i], k)
		}
		segs[i] = Segment{
			Start:   float64(offsets[i]) / rate,
			End:     float64(offsets[i]+len(w)) / rate,
			Speaker: labels[i],
		}
	}
	return segs, nil
}

// Normalize concatenates frames into samples scaled to [-1, 1).
func Normalize(frames []audio.Frame) []float64 {
	n := 0
	for _, f := range frames {
		n += f.SampleCount()
	}
	out := make([]float64, 0, n)
	for _, f := range frames {
		for _, s := range f.Samples() {
			out = append(out, float64(s)/32768)
		}
	}
	return out
}

// Windows splits samples into consecutive windows of size n. A trailing
// window shorter than n/2 is dropped; a longer one is kept as is. offsets
// holds each window's first sample index.
func Windows(samples []float64, n int) (windows [][]float64, offsets []int) {
	if n <= 0 {
		return nil, nil
	}
	for start := 0; start < len(samples); start += n {
		end := min(start+n, len(samples))
		if 2*(end-start) < n {
			break
		}
		windows = append(windows, samples[start:end])
		offsets = append(offsets, start)
	}
	return windows, offsets
}
