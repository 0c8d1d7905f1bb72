// Package google provides a Google Cloud Speech-to-Text adapter.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog"

	"speech-session-service/internal/errorsx"
	"speech-session-service/internal/observability/logging"
	"speech-session-service/internal/service/stt"
)

// Config holds Google streaming recognition settings.
type Config struct {
	LanguageCode   string
	SampleRateHz   int
	InterimResults bool
	AudioEncoding  string
}

// DefaultConfig returns the default recognition configuration.
func DefaultConfig() Config {
	return Config{
		LanguageCode:   "ja-JP",
		SampleRateHz:   16000,
		InterimResults: true,
		AudioEncoding:  "LINEAR16",
	}
}

// parseAudioEncoding maps an encoding name to its enum, LINEAR16 when unknown.
func parseAudioEncoding(name string) speechpb.RecognitionConfig_AudioEncoding {
	if v, ok := speechpb.RecognitionConfig_AudioEncoding_value[name]; ok && v != 0 {
		return speechpb.RecognitionConfig_AudioEncoding(v)
	}
	return speechpb.RecognitionConfig_LINEAR16
}

// Adapter implements stt.Adapter using Google Cloud Speech-to-Text.
// Commit half-closes the stream; Google then flushes final results.
type Adapter struct {
	client *speech.Client
	cfg    Config
	logger zerolog.Logger

	cb       stt.Callback
	stream   speechpb.Speech_StreamingRecognizeClient
	cancel   context.CancelFunc
	sendMu   sync.Mutex
	closed   atomic.Bool
	local    atomic.Bool
	done     chan struct{}
	closeOne sync.Once
}

// New creates a new Google STT adapter. The client is created by Start.
// Requires GOOGLE_APPLICATION_CREDENTIALS environment variable to be set.
func New(cfg Config) *Adapter {
	def := DefaultConfig()
	if cfg.LanguageCode == "" {
		cfg.LanguageCode = def.LanguageCode
	}
	if cfg.SampleRateHz <= 0 {
		cfg.SampleRateHz = def.SampleRateHz
	}
	if cfg.AudioEncoding == "" {
		cfg.AudioEncoding = def.AudioEncoding
	}
	return &Adapter{
		cfg:    cfg,
		logger: logging.WithComponent("google_stt"),
		done:   make(chan struct{}),
	}
}

func (a *Adapter) Name() string { return "google" }

// SessionID is empty; streaming recognition has no server session id.
func (a *Adapter) SessionID() string { return "" }

// Start opens the streaming recognition call and starts receiving.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	if a.client != nil {
		return errors.New("adapter already started")
	}
	c, err := speech.NewClient(ctx)
	if err != nil {
		close(a.done)
		return errorsx.Wrap(fmt.Errorf("create speech client: %w", err), errorsx.KindSessionCreation)
	}
	a.client = c

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := c.StreamingRecognize(sctx)
	if err != nil {
		cancel()
		close(a.done)
		return errorsx.Wrap(fmt.Errorf("open streaming recognize: %w", err), errorsx.KindConnection)
	}
	a.stream = stream
	a.cancel = cancel
	a.cb = cb
	go a.listen()
	return nil
}

// Configure sends the streaming config; it must precede any audio.
func (a *Adapter) Configure(ctx context.Context) error {
	return a.send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:        parseAudioEncoding(a.cfg.AudioEncoding),
					SampleRateHertz: int32(a.cfg.SampleRateHz),
					LanguageCode:    a.cfg.LanguageCode,
				},
				InterimResults: a.cfg.InterimResults,
			},
		},
	})
}

// SendAudio sends audio bytes to Google Speech-to-Text.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	return a.send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
}

// Commit half-closes the send side, signalling end of audio.
func (a *Adapter) Commit(ctx context.Context) error {
	a.sendMu.Lock()
	defer a.sendMu.Unlock()
	if a.stream == nil || a.closed.Load() {
		return stt.ErrConnectionClosed
	}
	if err := a.stream.CloseSend(); err != nil {
		return errorsx.Wrap(err, errorsx.KindConnection)
	}
	return nil
}

func (a *Adapter) send(req *speechpb.StreamingRecognizeRequest) error {
	a.sendMu.Lock()
	defer a.sendMu.Unlock()
	if a.stream == nil || a.closed.Load() {
		return stt.ErrConnectionClosed
	}
	if err := a.stream.Send(req); err != nil {
		// The real error surfaces from Recv.
		if errors.Is(err, io.EOF) {
			return stt.ErrConnectionClosed
		}
		return errorsx.Wrap(err, errorsx.KindConnection)
	}
	return nil
}

// Close cancels the stream, waits for the receive loop and closes the client.
func (a *Adapter) Close() error {
	var err error
	a.closeOne.Do(func() {
		a.local.Store(true)
		a.closed.Store(true)
		if a.cancel != nil {
			a.cancel()
			<-a.done
		}
		if a.client != nil {
			err = a.client.Close()
		}
	})
	return err
}

// listen receives transcript responses from Google and invokes callbacks.
func (a *Adapter) listen() {
	defer close(a.done)
	for {
		resp, err := a.stream.Recv()
		if err != nil {
			a.closed.Store(true)
			if a.local.Load() {
				return
			}
			if errors.Is(err, io.EOF) {
				a.cb.OnClosed(nil)
				return
			}
			a.logger.Warn().Err(err).Msg("Streaming recognize ended")
			a.cb.OnClosed(errorsx.Wrap(err, errorsx.KindConnection))
			return
		}

		if st := resp.GetError(); st != nil {
			a.cb.OnError(errorsx.Wrap(fmt.Errorf("google error %d: %s", st.GetCode(), st.GetMessage()), errorsx.KindServer))
			continue
		}
		for _, r := range resp.GetResults() {
			if len(r.GetAlternatives()) == 0 {
				continue
			}
			alt := r.GetAlternatives()[0]
			if r.GetIsFinal() {
				a.cb.OnFinal(alt.GetTranscript(), float64(alt.GetConfidence()))
			} else {
				a.cb.OnPartial(alt.GetTranscript())
			}
		}
	}
}

var _ stt.Adapter = (*Adapter)(nil)
