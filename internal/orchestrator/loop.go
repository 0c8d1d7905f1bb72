// Package orchestrator runs the top-level session loop: wait for speech, run
// one transcription session, diarize its audio, report, repeat.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"speech-session-service/internal/audio"
	"speech-session-service/internal/diarize"
	"speech-session-service/internal/errorsx"
	"speech-session-service/internal/observability/logging"
	"speech-session-service/internal/observability/metrics"
	"speech-session-service/internal/service/session"
	"speech-session-service/internal/service/stt"
)

// ErrDeviceUnrecoverable ends the loop after repeated device failures.
var ErrDeviceUnrecoverable = errors.New("audio device failed on consecutive attempts")

// Gate blocks until speech is detected.
type Gate interface {
	Wait(ctx context.Context) error
}

// AdapterFactory returns a fresh adapter for each session.
type AdapterFactory func(runID string) stt.Adapter

// Config controls the loop.
type Config struct {
	Session session.Config
	// Pause is slept between sessions.
	Pause time.Duration
	// MaxDeviceFailures consecutive device errors stop the loop.
	MaxDeviceFailures int
}

// DefaultConfig returns the default loop configuration.
func DefaultConfig() Config {
	return Config{
		Session:           session.DefaultConfig(),
		Pause:             500 * time.Millisecond,
		MaxDeviceFailures: 3,
	}
}

// Loop owns the session cycle. The gate and capture share the audio source
// sequentially; they never hold it at the same time.
type Loop struct {
	cfg        Config
	gate       Gate
	source     audio.Source
	newAdapter AdapterFactory
	engine     *diarize.Engine
	reporters  []Reporter
	metrics    *metrics.Metrics
	logger     zerolog.Logger

	running        atomic.Bool
	sessions       atomic.Int64
	deviceFailures int
}

// Option customizes a Loop.
type Option func(*Loop)

// WithDiarizer enables diarization of each session's audio.
func WithDiarizer(e *diarize.Engine) Option {
	return func(l *Loop) { l.engine = e }
}

// WithReporters adds report sinks.
func WithReporters(r ...Reporter) Option {
	return func(l *Loop) { l.reporters = append(l.reporters, r...) }
}

// WithMetrics overrides the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Loop) { l.metrics = m }
}

// New creates a loop.
func New(cfg Config, gate Gate, source audio.Source, newAdapter AdapterFactory, opts ...Option) *Loop {
	if cfg.MaxDeviceFailures <= 0 {
		cfg.MaxDeviceFailures = DefaultConfig().MaxDeviceFailures
	}
	if cfg.Pause < 0 {
		cfg.Pause = 0
	}
	l := &Loop{
		cfg:        cfg,
		gate:       gate,
		source:     source,
		newAdapter: newAdapter,
		metrics:    metrics.DefaultMetrics,
		logger:     logging.WithComponent("orchestrator"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Running reports whether Run is active.
func (l *Loop) Running() bool { return l.running.Load() }

// Sessions returns the number of sessions run so far.
func (l *Loop) Sessions() int64 { return l.sessions.Load() }

// Run repeats the session cycle until ctx is cancelled or a finite input is
// exhausted (both return nil), or until device failures reach
// MaxDeviceFailures with no successful wait in between (returns
// ErrDeviceUnrecoverable). A successful wait resets the count. Every other
// failure is reported and the loop continues.
func (l *Loop) Run(ctx context.Context) error {
	l.running.Store(true)
	defer l.running.Store(false)
	l.logger.Info().Int("maxDeviceFailures", l.cfg.MaxDeviceFailures).Msg("Session loop started")

	for {
		if ctx.Err() != nil {
			l.logger.Info().Int64("sessions", l.Sessions()).Msg("Session loop stopped")
			return nil
		}

		if err := l.gate.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			if errors.Is(err, io.EOF) {
				l.logger.Info().Int64("sessions", l.Sessions()).Msg("Audio input exhausted, session loop stopped")
				return nil
			}
			if err := l.deviceFailed(err); err != nil {
				return err
			}
			l.pause(ctx)
			continue
		}
		// A working wait clears earlier device failures.
		l.deviceFailures = 0

		report, err := l.RunOnce(ctx)
		switch {
		case ctx.Err() != nil:
			continue
		case errorsx.Is(err, errorsx.KindDevice):
			if err := l.deviceFailed(err); err != nil {
				return err
			}
		default:
			l.deviceFailures = 0
		}
		if report != nil && report.Empty() {
			l.logger.Info().Str("runId", report.RunID).Str("endReason", report.EndReason).Msg("Session ended without transcript, continuing")
		}
		l.pause(ctx)
	}
}

func (l *Loop) deviceFailed(err error) error {
	l.deviceFailures++
	l.metrics.RecordFailure(string(errorsx.KindDevice))
	l.logger.Error().
		Err(err).
		Int("consecutive", l.deviceFailures).
		Int("max", l.cfg.MaxDeviceFailures).
		Msg("Audio device failure")
	if l.deviceFailures >= l.cfg.MaxDeviceFailures {
		return fmt.Errorf("%w: %w", ErrDeviceUnrecoverable, err)
	}
	return nil
}

func (l *Loop) pause(ctx context.Context) {
	if l.cfg.Pause <= 0 {
		return
	}
	t := time.NewTimer(l.cfg.Pause)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// RunOnce runs a single session without waiting on the gate, diarizes the
// captured audio and reports the result. The returned error is the
// session's failure, already reported; the Report is always non-nil.
func (l *Loop) RunOnce(ctx context.Context) (*Report, error) {
	runID := uuid.NewString()
	l.sessions.Add(1)

	adapter := l.newAdapter(runID)
	h := session.NewHandler(adapter, l.cfg.Session, session.WithMetrics(l.metrics), session.WithRunID(runID))
	res, err := h.Run(ctx, l.source)

	report := &Report{
		RunID:         res.RunID,
		SessionID:     res.ProviderSessionID,
		Provider:      res.Provider,
		StartedAt:     res.Session.StartedAt,
		Elapsed:       res.Elapsed,
		AudioDuration: res.Session.Duration(),
		Transcripts:   res.Transcripts,
		EndReason:     res.EndReason,
		Session:       res.Session,
	}
	if err != nil && ctx.Err() == nil {
		report.Failure = newFailure(err)
		l.metrics.RecordFailure(report.Failure.Kind)
	}

	l.diarize(report, res.Session)

	// Reports are delivered even while shutting down.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	for _, r := range l.reporters {
		if rerr := r.Report(rctx, report); rerr != nil {
			l.logger.Warn().Err(rerr).Str("runId", runID).Msg("Reporter failed")
		}
	}
	return report, err
}

func (l *Loop) diarize(report *Report, sess *session.Session) {
	if l.engine == nil {
		report.Diarization = &Failure{Kind: string(errorsx.KindDiarizationUnavailable), Cause: "diarization disabled"}
		return
	}
	segs, err := l.engine.Diarize(sess.Frames())
	if err != nil {
		report.Diarization = newFailure(err)
		l.logger.Info().Err(err).Str("runId", report.RunID).Msg("No diarization result")
		return
	}
	report.Segments = segs
}
