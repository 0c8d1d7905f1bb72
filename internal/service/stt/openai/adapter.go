// Package openai implements the realtime transcription protocol: a session
// creation call followed by a websocket carrying configure, append and
// commit messages out and transcript events back.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"speech-session-service/internal/audio"
	"speech-session-service/internal/errorsx"
	"speech-session-service/internal/observability/logging"
	"speech-session-service/internal/observability/metrics"
	"speech-session-service/internal/service/stt"
)

// Config holds realtime client configuration.
type Config struct {
	APIKey            string
	BaseURL           string
	RealtimeURL       string
	Model             string
	Language          string
	TurnDetection     string
	SilenceDurationMs int
	SampleRate        int
	// MinCommitDuration is the least audio the server accepts on commit.
	MinCommitDuration time.Duration
	WriteTimeout      time.Duration
	HandshakeTimeout  time.Duration
}

// DefaultConfig returns the default realtime configuration (API key unset).
func DefaultConfig() Config {
	return Config{
		BaseURL:           "https://api.openai.com",
		RealtimeURL:       "wss://api.openai.com/v1/realtime",
		Model:             "gpt-4o-mini-transcribe",
		Language:          "ja",
		TurnDetection:     "server_vad",
		SilenceDurationMs: 1000,
		SampleRate:        audio.SampleRate,
		MinCommitDuration: 100 * time.Millisecond,
		WriteTimeout:      5 * time.Second,
		HandshakeTimeout:  10 * time.Second,
	}
}

// Adapter implements stt.Adapter over the realtime protocol.
// One Adapter serves exactly one session.
type Adapter struct {
	cfg        Config
	httpClient *http.Client
	dialer     *websocket.Dialer
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	runID      string

	session *TranscriptionSession
	conn    *websocket.Conn
	cb      stt.Callback

	// writeMu serializes writes and guards streamed.
	writeMu  sync.Mutex
	streamed int

	closed      atomic.Bool // connection gone, either side
	localClose  atomic.Bool
	readDone    chan struct{}
	closeOnce   sync.Once
	commitAt    atomic.Int64
	finalLogged atomic.Bool
}

// Option customizes an Adapter.
type Option func(*Adapter)

// WithHTTPClient overrides the client used for the creation call.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) { a.httpClient = c }
}

// WithMetrics overrides the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Adapter) { a.metrics = m }
}

// WithRunID tags log lines with the local run identifier.
func WithRunID(id string) Option {
	return func(a *Adapter) { a.runID = id }
}

// New creates a realtime adapter. Zero config fields take DefaultConfig values.
func New(cfg Config, opts ...Option) *Adapter {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.RealtimeURL == "" {
		cfg.RealtimeURL = def.RealtimeURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.TurnDetection == "" {
		cfg.TurnDetection = def.TurnDetection
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.MinCommitDuration < 0 {
		cfg.MinCommitDuration = 0
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}

	a := &Adapter{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		metrics:    metrics.DefaultMetrics,
		logger:     logging.WithComponent("openai_realtime"),
		readDone:   make(chan struct{}),
	}
	a.dialer = &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Name() string { return "openai" }

// SessionID returns the server-assigned session id once Start has run.
func (a *Adapter) SessionID() string {
	if a.session == nil {
		return ""
	}
	return a.session.ID
}

func (a *Adapter) sessionParams() SessionParams {
	p := SessionParams{
		InputAudioTranscription: TranscriptionParams{
			Model:    a.cfg.Model,
			Language: a.cfg.Language,
		},
	}
	if a.cfg.TurnDetection != "none" {
		p.TurnDetection = &TurnDetection{
			Type:              a.cfg.TurnDetection,
			SilenceDurationMs: a.cfg.SilenceDurationMs,
		}
	}
	return p
}

// Start creates the transcription session, then connects with its
// ephemeral credential and begins receiving events.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	if a.conn != nil {
		return errors.New("adapter already started")
	}
	a.cb = cb

	sess, err := a.CreateSession(ctx)
	if err != nil {
		return err
	}
	a.session = sess
	a.logger = logging.WithProvider(a.runID, sess.ID, a.Name())
	a.logger.Info().
		Time("credentialExpiresAt", sess.Credential.ExpiresAt()).
		Msg("Transcription session created")

	return a.connect(ctx)
}

func (a *Adapter) connect(ctx context.Context) error {
	token, err := a.session.Credential.Claim()
	if err != nil {
		return errorsx.Wrap(err, errorsx.KindSessionCreation)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, resp, err := a.dialer.DialContext(ctx, a.cfg.RealtimeURL, header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("dial realtime (status %s): %w", resp.Status, err)
		} else {
			err = fmt.Errorf("dial realtime: %w", err)
		}
		a.closed.Store(true)
		close(a.readDone)
		return errorsx.Wrap(err, errorsx.KindConnection)
	}
	a.conn = conn

	a.logger.Info().Str("url", a.cfg.RealtimeURL).Msg("Realtime connection open")
	go a.readLoop()
	return nil
}

// Configure sends the session update mirroring the creation parameters.
func (a *Adapter) Configure(ctx context.Context) error {
	return a.send(sessionUpdate{Type: TypeSessionUpdate, Session: a.sessionParams()})
}

// SendAudio appends one chunk of PCM. It never waits for a reply.
func (a *Adapter) SendAudio(ctx context.Context, pcm []byte) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	if err := a.writeLocked(appendMessage{Type: TypeAppend, Audio: base64.StdEncoding.EncodeToString(pcm)}); err != nil {
		return err
	}
	a.streamed += len(pcm)
	a.metrics.RecordAudioStreamed(len(pcm))
	return nil
}

// Commit pads the buffer with silence up to the commit floor when needed and
// sends the commit. If the connection has closed the commit is skipped.
func (a *Adapter) Commit(ctx context.Context) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	if a.closed.Load() {
		a.metrics.RecordCommit(false)
		return stt.ErrConnectionClosed
	}

	streamedDuration := audio.BytesDuration(a.streamed, a.cfg.SampleRate)
	if pad := PaddingBytes(a.streamed, a.cfg.MinCommitDuration, a.cfg.SampleRate); pad > 0 {
		silence := audio.Silence(pad)
		if err := a.writeLocked(appendMessage{Type: TypeAppend, Audio: base64.StdEncoding.EncodeToString(silence.Bytes())}); err != nil {
			a.metrics.RecordCommit(false)
			return err
		}
		a.streamed += pad
		a.metrics.RecordPadding(pad)
		a.logger.Info().
			Dur("streamed", streamedDuration).
			Int("paddingBytes", pad).
			Msg("Padded audio with silence to reach commit floor")
	}

	if err := a.writeLocked(commitMessage{Type: TypeCommit}); err != nil {
		a.metrics.RecordCommit(false)
		return err
	}
	a.commitAt.Store(time.Now().UnixNano())
	a.metrics.RecordCommit(true)
	a.logger.Info().
		Dur("streamed", audio.BytesDuration(a.streamed, a.cfg.SampleRate)).
		Msg("Audio buffer committed")
	return nil
}

// streamedBytes returns the PCM bytes appended so far, padding included.
func (a *Adapter) streamedBytes() int {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return a.streamed
}

func (a *Adapter) send(msg any) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return a.writeLocked(msg)
}

func (a *Adapter) writeLocked(msg any) error {
	if a.conn == nil || a.closed.Load() {
		return stt.ErrConnectionClosed
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_ = a.conn.SetWriteDeadline(time.Now().Add(a.cfg.WriteTimeout))
	if err := a.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		a.closed.Store(true)
		return errorsx.Wrap(fmt.Errorf("write %w: %v", stt.ErrConnectionClosed, err), errorsx.KindConnection)
	}
	return nil
}

// readLoop owns the receive side of the connection until it fails.
func (a *Adapter) readLoop() {
	defer close(a.readDone)

	for {
		_, data, err := a.conn.ReadMessage()
		if err != nil {
			a.closed.Store(true)
			if a.localClose.Load() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				a.logger.Info().Msg("Realtime connection closed by server")
				a.cb.OnClosed(nil)
				return
			}
			a.logger.Warn().Err(err).Msg("Realtime connection lost")
			a.cb.OnClosed(errorsx.Wrap(fmt.Errorf("realtime read: %w", err), errorsx.KindConnection))
			return
		}
		a.handleMessage(data)
	}
}

func (a *Adapter) handleMessage(data []byte) {
	ev, err := decodeEvent(data)
	if err != nil {
		a.metrics.RecordDecodeError()
		a.logger.Warn().Err(err).Int("bytes", len(data)).Msg("Ignoring malformed event")
		a.cb.OnError(errorsx.Wrap(err, errorsx.KindProtocolDecode))
		return
	}
	a.metrics.RecordProtocolEvent(ev.Type)

	switch ev.Type {
	case TypeTranscriptCompleted:
		if at := a.commitAt.Load(); at > 0 && a.finalLogged.CompareAndSwap(false, true) {
			a.metrics.RecordFinalLatency(time.Since(time.Unix(0, at)).Seconds())
		}
		a.cb.OnFinal(ev.Transcript, 0)
	case TypeTranscriptDelta:
		a.cb.OnPartial(ev.Delta)
	case TypeError:
		a.metrics.RecordProtocolError(ev.Error.Code)
		a.cb.OnError(errorsx.Wrap(ev.Error, errorsx.KindServer))
	default:
		a.logger.Debug().Str("type", ev.Type).Msg("Ignoring event")
	}
}

// Close tears the connection down and waits for the receive loop to exit,
// so no callback runs after Close returns.
func (a *Adapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.localClose.Store(true)
		if a.conn == nil {
			return
		}
		a.writeMu.Lock()
		if !a.closed.Load() {
			_ = a.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
		}
		a.closed.Store(true)
		err = a.conn.Close()
		a.writeMu.Unlock()
		<-a.readDone
		a.logger.Info().Msg("Realtime connection torn down")
	})
	return err
}

var _ stt.Adapter = (*Adapter)(nil)
