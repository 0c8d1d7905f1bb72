package orchestrator

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"speech-session-service/internal/diarize"
	"speech-session-service/internal/errorsx"
	"speech-session-service/internal/events"
	"speech-session-service/internal/models"
	"speech-session-service/internal/schema"
	"speech-session-service/internal/service/session"
)

// Failure describes why a session produced no transcript.
type Failure struct {
	Kind  string `json:"kind"`
	Cause string `json:"cause"`
}

func newFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	return &Failure{Kind: string(errorsx.KindOf(err)), Cause: err.Error()}
}

// Report is the outcome of one loop iteration.
type Report struct {
	RunID         string            `json:"runId"`
	SessionID     string            `json:"sessionId,omitempty"`
	Provider      string            `json:"provider"`
	StartedAt     time.Time         `json:"startedAt"`
	Elapsed       time.Duration     `json:"elapsed"`
	AudioDuration time.Duration     `json:"audioDuration"`
	Transcripts   []string          `json:"transcripts"`
	EndReason     string            `json:"endReason"`
	Failure       *Failure          `json:"failure,omitempty"`
	Segments      []diarize.Segment `json:"segments"`
	// Diarization is set when no segments could be produced.
	Diarization *Failure `json:"diarization,omitempty"`
	// Session holds the captured audio. It is not serialized.
	Session *session.Session `json:"-"`
}

// Transcript joins all completed transcripts.
func (r *Report) Transcript() string {
	return strings.Join(r.Transcripts, "\n")
}

// Empty reports whether the session produced no transcript text.
func (r *Report) Empty() bool {
	return strings.TrimSpace(r.Transcript()) == ""
}

// Reporter receives every session report.
type Reporter interface {
	Report(ctx context.Context, r *Report) error
}

// ConsoleReporter prints human-readable results.
type ConsoleReporter struct {
	Out io.Writer
	mu  sync.Mutex
}

// NewConsoleReporter writes to out.
func NewConsoleReporter(out io.Writer) *ConsoleReporter {
	return &ConsoleReporter{Out: out}
}

func (c *ConsoleReporter) Report(ctx context.Context, r *Report) error {
	var b strings.Builder
	fmt.Fprintf(&b, "--- session %s (%s) ---\n", r.RunID, r.Provider)
	if r.Empty() {
		fmt.Fprintf(&b, "Transcript: (none, %s)\n", r.EndReason)
	} else {
		fmt.Fprintf(&b, "Transcript: %s\n", r.Transcript())
	}
	if r.Failure != nil {
		fmt.Fprintf(&b, "Failure: %s: %s\n", r.Failure.Kind, r.Failure.Cause)
	}
	switch {
	case r.Diarization != nil:
		fmt.Fprintf(&b, "Diarization: no result (%s)\n", r.Diarization.Cause)
	case len(r.Segments) > 0:
		b.WriteString("Speaker segments:\n")
		for _, s := range r.Segments {
			fmt.Fprintf(&b, "  %s\n", s)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := io.WriteString(c.Out, b.String())
	return err
}

// EventReporter validates and publishes reports as session events.
type EventReporter struct {
	publisher *events.Publisher
	validator *schema.Validator
}

// NewEventReporter publishes through p.
func NewEventReporter(p *events.Publisher) *EventReporter {
	return &EventReporter{publisher: p, validator: schema.New()}
}

func (e *EventReporter) Report(ctx context.Context, r *Report) error {
	transcript, diarization := ToEvents(r, time.Now())

	if err := e.validator.Validate(transcript); err != nil {
		return err
	}
	if err := e.publisher.PublishTranscript(ctx, r.RunID, transcript); err != nil {
		return err
	}
	if err := e.validator.Validate(diarization); err != nil {
		return err
	}
	return e.publisher.PublishDiarization(ctx, r.RunID, diarization)
}

// ToEvents converts a report into its transcript and diarization events.
func ToEvents(r *Report, now time.Time) (models.SessionTranscript, models.SessionDiarization) {
	ts := now.UnixMilli()
	text := r.Transcript()
	if r.Empty() {
		text = ""
	}
	transcript := models.SessionTranscript{
		EventType:       models.EventSessionTranscript,
		RunID:           r.RunID,
		SessionID:       r.SessionID,
		Provider:        r.Provider,
		Timestamp:       ts,
		Text:            text,
		Transcripts:     r.Transcripts,
		Empty:           r.Empty(),
		EndReason:       r.EndReason,
		AudioDurationMs: r.AudioDuration.Milliseconds(),
	}
	if r.Failure != nil {
		transcript.FailureKind = r.Failure.Kind
		transcript.FailureCause = r.Failure.Cause
	}

	diarization := models.SessionDiarization{
		EventType: models.EventSessionDiarization,
		RunID:     r.RunID,
		SessionID: r.SessionID,
		Timestamp: ts,
		Available: r.Diarization == nil,
		Segments:  make([]models.SpeakerSegment, 0, len(r.Segments)),
	}
	if r.Diarization != nil {
		diarization.Reason = r.Diarization.Cause
	}
	for _, s := range r.Segments {
		diarization.Segments = append(diarization.Segments, models.SpeakerSegment{
			StartSec:  s.Start,
			EndSec:    s.End,
			SpeakerID: s.Speaker,
			Speaker:   s.Label(),
		})
	}
	return transcript, diarization
}

// LastReport keeps the most recent report for status endpoints.
type LastReport struct {
	mu     sync.RWMutex
	report *Report
	count  int
}

func (l *LastReport) Report(ctx context.Context, r *Report) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.report = r
	l.count++
	return nil
}

// Get returns the latest report, or nil before the first session ends.
func (l *LastReport) Get() *Report {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.report
}

// Count returns how many sessions have been reported.
func (l *LastReport) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}
