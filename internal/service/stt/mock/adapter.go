// Package mock provides a credential-free STT adapter for dry runs and tests.
// It follows the same start, configure, append, commit order as the realtime
// client and answers each commit with one completed transcript.
package mock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"speech-session-service/internal/service/stt"
)

// Call names recorded by the adapter, in order.
const (
	CallStart     = "start"
	CallConfigure = "configure"
	CallAppend    = "append"
	CallCommit    = "commit"
	CallClose     = "close"
)

// SimulatedUtterance is a scripted transcript with progressive partials.
type SimulatedUtterance struct {
	Partials   []string
	Final      string
	Confidence float64
}

// DefaultUtterances are cycled through by New for dry runs.
var DefaultUtterances = []SimulatedUtterance{
	{
		Partials:   []string{"こん", "こんにち"},
		Final:      "こんにちは",
		Confidence: 0.94,
	},
	{
		Partials:   []string{"今日は", "今日はいい"},
		Final:      "今日はいい天気ですね",
		Confidence: 0.91,
	},
	{
		Partials:   []string{"よろしく"},
		Final:      "よろしくお願いします",
		Confidence: 0.97,
	},
}

var utteranceCounter atomic.Uint64

// Options scripts failure behaviour.
type Options struct {
	// StartErr is returned from Start.
	StartErr error
	// CloseAfterAppends simulates the server dropping the connection.
	CloseAfterAppends int
	// SilentCommit never answers the commit.
	SilentCommit bool
	// ResultDelay delays the completed transcript after commit.
	ResultDelay time.Duration
}

// Adapter implements stt.Adapter with scripted responses.
type Adapter struct {
	utterance SimulatedUtterance
	opts      Options

	mu       sync.Mutex
	cb       stt.Callback
	calls    []string
	appended int
	closed   bool
	dropped  bool
	wg       sync.WaitGroup
}

// New creates an adapter answering with the next default utterance.
func New() *Adapter {
	n := utteranceCounter.Add(1) - 1
	return NewWithUtterance(DefaultUtterances[n%uint64(len(DefaultUtterances))], Options{})
}

// NewWithUtterance creates an adapter with a fixed script.
func NewWithUtterance(u SimulatedUtterance, opts Options) *Adapter {
	return &Adapter{utterance: u, opts: opts}
}

func (a *Adapter) Name() string { return "mock" }

func (a *Adapter) SessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cb == nil {
		return ""
	}
	return "mock-session"
}

// Start records the callback. It fails with Options.StartErr when set.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, CallStart)
	if a.opts.StartErr != nil {
		return a.opts.StartErr
	}
	if a.cb != nil {
		return errors.New("adapter already started")
	}
	a.cb = cb
	return nil
}

func (a *Adapter) Configure(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.usableLocked(); err != nil {
		return err
	}
	a.calls = append(a.calls, CallConfigure)
	return nil
}

// SendAudio emits one partial per append until the script runs out.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.usableLocked(); err != nil {
		return err
	}
	a.calls = append(a.calls, CallAppend)
	a.appended += len(audio)

	if idx := a.countLocked(CallAppend) - 1; idx < len(a.utterance.Partials) {
		a.deliverLocked(0, func(cb stt.Callback) { cb.OnPartial(a.utterance.Partials[idx]) })
	}

	if n := a.opts.CloseAfterAppends; n > 0 && a.countLocked(CallAppend) >= n {
		a.dropped = true
		a.deliverLocked(0, func(cb stt.Callback) { cb.OnClosed(nil) })
	}
	return nil
}

// Commit answers with the scripted final unless SilentCommit is set.
func (a *Adapter) Commit(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.usableLocked(); err != nil {
		return err
	}
	a.calls = append(a.calls, CallCommit)
	if !a.opts.SilentCommit {
		u := a.utterance
		a.deliverLocked(a.opts.ResultDelay, func(cb stt.Callback) { cb.OnFinal(u.Final, u.Confidence) })
	}
	return nil
}

// Close ends the session and waits for pending callbacks. Idempotent.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.calls = append(a.calls, CallClose)
	a.mu.Unlock()
	a.wg.Wait()
	return nil
}

// Calls returns the recorded call sequence.
func (a *Adapter) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

// AppendedBytes returns the audio bytes received.
func (a *Adapter) AppendedBytes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.appended
}

func (a *Adapter) usableLocked() error {
	if a.cb == nil {
		return fmt.Errorf("mock adapter not started")
	}
	if a.closed || a.dropped {
		return stt.ErrConnectionClosed
	}
	return nil
}

func (a *Adapter) countLocked(call string) int {
	n := 0
	for _, c := range a.calls {
		if c == call {
			n++
		}
	}
	return n
}

// deliverLocked runs fn on a separate goroutine, as a receive loop would.
// Deliveries after Close are dropped.
func (a *Adapter) deliverLocked(delay time.Duration, fn func(stt.Callback)) {
	cb := a.cb
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if delay > 0 {
			time.Sleep(delay)
		}
		a.mu.Lock()
		closed := a.closed
		a.mu.Unlock()
		if !closed {
			fn(cb)
		}
	}()
}

var _ stt.Adapter = (*Adapter)(nil)
