package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"speech-session-service/internal/audio"
	"speech-session-service/internal/errorsx"
	"speech-session-service/internal/observability/logging"
	"speech-session-service/internal/observability/metrics"
	"speech-session-service/internal/service/stt"
)

// End reasons recorded on every Result. Only EndCompleted carries a transcript
// for certain; the others may still hold transcripts received before the end.
const (
	EndCompleted        = "completed"
	EndCreationFailed   = "creation_failed"
	EndConnectFailed    = "connect_failed"
	EndDeviceError      = "device_error"
	EndConnectionClosed = "connection_closed"
	EndResultTimeout    = "result_timeout"
	EndCancelled        = "cancelled"
)

// Config controls capture and result waiting.
type Config struct {
	SampleRate int
	// CaptureDuration is measured from the first append, not from connect.
	CaptureDuration time.Duration
	// ResultTimeout bounds the wait for a transcript after commit.
	ResultTimeout time.Duration
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		SampleRate:      audio.SampleRate,
		CaptureDuration: 10 * time.Second,
		ResultTimeout:   10 * time.Second,
	}
}

// Result is the outcome of one session. It is returned even when the session
// failed, so the captured audio can still be diarized and reported.
type Result struct {
	RunID             string
	ProviderSessionID string
	Provider          string
	Session           *Session
	Transcripts       []string
	Partials          int
	ProtocolErrors    []error
	Committed         bool
	EndReason         string
	FinalState        State
	Elapsed           time.Duration
}

// Transcript joins all completed transcripts in arrival order.
func (r *Result) Transcript() string {
	return strings.Join(r.Transcripts, "\n")
}

// Empty reports whether the session produced no transcript text.
func (r *Result) Empty() bool {
	return strings.TrimSpace(r.Transcript()) == ""
}

// Handler runs a single session. It implements stt.Callback to receive
// transcripts from the adapter's receive goroutine.
// Create one Handler per session; adapters are single use.
type Handler struct {
	adapter   stt.Adapter
	cfg       Config
	metrics   *metrics.Metrics
	lifecycle *Lifecycle
	sess      *Session
	logger    zerolog.Logger

	mu          sync.Mutex
	transcripts []string
	partials    int
	protoErrs   []error
	closeErr    error

	awaiting  atomic.Bool
	committed atomic.Bool
	finalCh   chan struct{}
	closedCh  chan struct{}
	closeOnce sync.Once
}

// Option customizes a Handler.
type Option func(*Handler)

// WithMetrics overrides the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithRunID sets the run identifier instead of generating one.
func WithRunID(id string) Option {
	return func(h *Handler) { h.lifecycle = NewLifecycle(id) }
}

// NewHandler creates a handler driving adapter.
func NewHandler(adapter stt.Adapter, cfg Config, opts ...Option) *Handler {
	def := DefaultConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.CaptureDuration <= 0 {
		cfg.CaptureDuration = def.CaptureDuration
	}
	if cfg.ResultTimeout <= 0 {
		cfg.ResultTimeout = def.ResultTimeout
	}

	h := &Handler{
		adapter:   adapter,
		cfg:       cfg,
		metrics:   metrics.DefaultMetrics,
		lifecycle: NewLifecycle(uuid.NewString()),
		finalCh:   make(chan struct{}, 1),
		closedCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.sess = New(h.lifecycle.RunId(), cfg.SampleRate)
	h.logger = logging.WithSession(h.lifecycle.RunId(), "")
	return h
}

// RunID returns the local run identifier.
func (h *Handler) RunID() string { return h.lifecycle.RunId() }

// State returns the current lifecycle state.
func (h *Handler) State() State { return h.lifecycle.State() }

// Session returns the audio buffer owned by this handler.
func (h *Handler) Session() *Session { return h.sess }

// Run drives the session to completion: connect, configure, stream audio
// from source for the capture duration, commit, then wait for the result.
// The adapter is always closed before Run returns.
//
// A non-nil error carries an errorsx kind (device, session creation or
// connection) or is a context error. The Result is always non-nil.
func (h *Handler) Run(ctx context.Context, source audio.Source) (*Result, error) {
	start := time.Now()
	h.metrics.RecordSessionStart()
	h.logger.Info().Str("provider", h.adapter.Name()).Msg("Session starting")

	reason, err := h.run(ctx, source)
	if cerr := h.adapter.Close(); cerr != nil {
		h.logger.Debug().Err(cerr).Msg("Adapter close returned error")
	}
	h.lifecycle.Close()
	h.sess.Seal()

	res := h.result(reason, time.Since(start))
	emptyReason := ""
	if res.Empty() {
		emptyReason = reason
		if emptyReason == EndCompleted {
			emptyReason = "empty_transcript"
		}
	}
	h.metrics.RecordSessionEnd(emptyReason, res.Elapsed.Seconds())

	ev := h.logger.Info()
	if err != nil {
		ev = h.logger.Warn().Err(err).Str("kind", string(errorsx.KindOf(err)))
	}
	ev.Str("endReason", reason).
		Str("finalState", res.FinalState.String()).
		Dur("captured", h.sess.Duration()).
		Int("transcripts", len(res.Transcripts)).
		Dur("elapsed", res.Elapsed.Round(time.Millisecond)).
		Msg("Session ended")

	return res, err
}

func (h *Handler) run(ctx context.Context, source audio.Source) (string, error) {
	if err := h.adapter.Start(ctx, h); err != nil {
		if ctx.Err() != nil {
			return EndCancelled, ctx.Err()
		}
		if errorsx.Is(err, errorsx.KindConnection) {
			return EndConnectFailed, err
		}
		return EndCreationFailed, errorsx.Wrap(err, errorsx.KindSessionCreation)
	}
	h.logger.Info().Str("providerSessionId", h.adapter.SessionID()).Msg("Provider session connected")
	_ = h.lifecycle.Advance(StateConfiguring)

	if err := h.adapter.Configure(ctx); err != nil {
		return EndConnectionClosed, errorsx.Wrap(err, errorsx.KindConnection)
	}
	_ = h.lifecycle.Advance(StateStreaming)

	if err := h.capture(ctx, source); err != nil {
		if ctx.Err() != nil {
			return EndCancelled, ctx.Err()
		}
		return EndDeviceError, err
	}
	h.sess.Seal()

	_ = h.lifecycle.Advance(StateCommitting)
	h.awaiting.Store(true)
	if err := h.adapter.Commit(ctx); err != nil {
		if errors.Is(err, stt.ErrConnectionClosed) {
			h.logger.Warn().Msg("Connection already closed, commit skipped")
			return EndConnectionClosed, nil
		}
		return EndConnectionClosed, errorsx.Wrap(err, errorsx.KindConnection)
	}
	h.committed.Store(true)
	_ = h.lifecycle.Advance(StateAwaitingResult)

	return h.await(ctx)
}

// capture streams frames until the capture duration has elapsed since the
// first append, the source is exhausted, or the connection closes.
func (h *Handler) capture(ctx context.Context, source audio.Source) error {
	stream, err := source.Open(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errorsx.Wrap(fmt.Errorf("open capture input: %w", err), errorsx.KindDevice)
	}
	defer func() {
		if err := stream.Close(); err != nil {
			h.logger.Warn().Err(err).Msg("Failed to release capture input")
		}
	}()

	var first time.Time
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !first.IsZero() && time.Since(first) >= h.cfg.CaptureDuration {
			h.logger.Debug().Msg("Capture duration reached")
			return nil
		}
		select {
		case <-h.closedCh:
			h.logger.Info().Msg("Connection closed during capture, abandoning sends")
			return nil
		default:
		}

		frame, err := stream.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				h.logger.Debug().Msg("Capture input exhausted")
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errorsx.Wrap(fmt.Errorf("read capture input: %w", err), errorsx.KindDevice)
		}
		if frame.Len() == 0 {
			continue
		}

		if err := h.sess.Append(frame); err != nil {
			return err
		}
		if err := h.adapter.SendAudio(ctx, frame.Bytes()); err != nil {
			if errors.Is(err, stt.ErrConnectionClosed) {
				h.logger.Info().Err(err).Msg("Connection closed during capture, abandoning sends")
				return nil
			}
			return errorsx.Wrap(err, errorsx.KindConnection)
		}
		if first.IsZero() {
			first = time.Now()
		}
	}
}

func (h *Handler) await(ctx context.Context) (string, error) {
	t := time.NewTimer(h.cfg.ResultTimeout)
	defer t.Stop()

	select {
	case <-h.finalCh:
		_ = h.lifecycle.Advance(StateDone)
		return EndCompleted, nil
	case <-h.closedCh:
		// A final delivered just before the close still completes the session.
		select {
		case <-h.finalCh:
			_ = h.lifecycle.Advance(StateDone)
			return EndCompleted, nil
		default:
		}
		h.mu.Lock()
		err := h.closeErr
		h.mu.Unlock()
		if err != nil {
			return EndConnectionClosed, errorsx.Wrap(err, errorsx.KindConnection)
		}
		return EndConnectionClosed, nil
	case <-t.C:
		h.logger.Warn().Dur("timeout", h.cfg.ResultTimeout).Msg("No transcript before timeout")
		return EndResultTimeout, nil
	case <-ctx.Done():
		return EndCancelled, ctx.Err()
	}
}

func (h *Handler) result(reason string, elapsed time.Duration) *Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	return &Result{
		RunID:             h.RunID(),
		ProviderSessionID: h.adapter.SessionID(),
		Provider:          h.adapter.Name(),
		Session:           h.sess,
		Transcripts:       append([]string(nil), h.transcripts...),
		Partials:          h.partials,
		ProtocolErrors:    append([]error(nil), h.protoErrs...),
		Committed:         h.committed.Load(),
		EndReason:         reason,
		FinalState:        h.lifecycle.State(),
		Elapsed:           elapsed,
	}
}

// --- stt.Callback implementation ---

// OnPartial is called when an interim transcript is received.
func (h *Handler) OnPartial(text string) {
	h.mu.Lock()
	h.partials++
	h.mu.Unlock()
	h.metrics.RecordPartialTranscript()
	h.logger.Debug().Str("text", text).Msg("Partial transcript")
}

// OnFinal records a completed transcript. Completions that arrive after
// commit end the wait for the result.
func (h *Handler) OnFinal(text string, confidence float64) {
	h.mu.Lock()
	h.transcripts = append(h.transcripts, text)
	h.mu.Unlock()
	h.metrics.RecordFinalTranscript()
	h.logger.Info().Str("text", text).Float64("confidence", confidence).Msg("Transcript completed")

	if h.awaiting.Load() {
		select {
		case h.finalCh <- struct{}{}:
		default:
		}
	}
}

// OnError logs a non-fatal protocol problem. The session continues.
func (h *Handler) OnError(err error) {
	h.mu.Lock()
	h.protoErrs = append(h.protoErrs, err)
	h.mu.Unlock()
	h.logger.Warn().Err(err).Str("kind", string(errorsx.KindOf(err))).Msg("Protocol error ignored")
}

// OnClosed is called when the provider ends the connection.
func (h *Handler) OnClosed(err error) {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closeErr = err
		h.mu.Unlock()
		close(h.closedCh)
	})
}

var _ stt.Callback = (*Handler)(nil)
