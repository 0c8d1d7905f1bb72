// Package vad decides when ambient input is loud enough to start a session.
//
// The gate only answers "has speech started"; it never trims frames once a
// session is streaming.
package vad

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"speech-session-service/internal/audio"
	"speech-session-service/internal/errorsx"
	"speech-session-service/internal/observability/logging"
	"speech-session-service/internal/observability/metrics"
)

// ErrInputExhausted is returned by Wait when a finite input (a file) ends
// before speech is detected. It wraps io.EOF and is not a device failure.
var ErrInputExhausted = fmt.Errorf("gate input exhausted: %w", io.EOF)

// Config holds gate parameters.
type Config struct {
	// Threshold is the RMS level (raw int16 scale) a frame must exceed.
	Threshold float64
	// PollInterval is the pause after each quiet frame.
	PollInterval time.Duration
}

// DefaultConfig returns the default gate configuration.
func DefaultConfig() Config {
	return Config{
		Threshold:    100,
		PollInterval: 100 * time.Millisecond,
	}
}

// Gate blocks until a frame's energy exceeds the threshold.
type Gate struct {
	source  audio.Source
	cfg     Config
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New creates a gate reading from source. A nil m uses metrics.DefaultMetrics.
func New(source audio.Source, cfg Config, m *metrics.Metrics) *Gate {
	if cfg.Threshold < 0 {
		cfg.Threshold = DefaultConfig().Threshold
	}
	if cfg.PollInterval < 0 {
		cfg.PollInterval = 0
	}
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Gate{
		source:  source,
		cfg:     cfg,
		metrics: m,
		logger:  logging.WithComponent("vad"),
	}
}

// IsSpeech reports whether a frame is loud enough to open the gate.
// An all-zero frame never is.
func (g *Gate) IsSpeech(f audio.Frame) bool {
	return audio.RMS(f) > g.cfg.Threshold
}

// Wait opens the source and polls frames until one is speech. Quiet frames
// are discarded. There is no timeout; cancelling ctx ends the wait. The
// input is released on every return path.
func (g *Gate) Wait(ctx context.Context) error {
	start := time.Now()
	g.logger.Info().Float64("threshold", g.cfg.Threshold).Msg("Waiting for speech")

	stream, err := g.source.Open(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errorsx.Wrap(fmt.Errorf("open gate input: %w", err), errorsx.KindDevice)
	}
	defer func() {
		if err := stream.Close(); err != nil {
			g.logger.Warn().Err(err).Msg("Failed to release gate input")
		}
	}()

	var polled int
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		frame, err := stream.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				g.logger.Info().Int("framesPolled", polled).Msg("Gate input exhausted")
				return ErrInputExhausted
			}
			return errorsx.Wrap(fmt.Errorf("read gate input: %w", err), errorsx.KindDevice)
		}
		polled++

		if rms := audio.RMS(frame); rms > g.cfg.Threshold {
			waited := time.Since(start)
			g.metrics.RecordGateOpened(waited.Seconds())
			g.logger.Info().
				Float64("rms", rms).
				Int("framesPolled", polled).
				Dur("waited", waited).
				Msg("Speech detected")
			return nil
		}

		if g.cfg.PollInterval > 0 {
			t := time.NewTimer(g.cfg.PollInterval)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
	}
}
