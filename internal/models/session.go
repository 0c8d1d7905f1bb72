// Package models defines the data structures for session result events.
package models

// Event types.
const (
	EventSessionTranscript  = "speech.session.transcript"
	EventSessionDiarization = "speech.session.diarization"
)

// SessionTranscript is published once per session, including empty ones.
type SessionTranscript struct {
	EventType       string   `json:"eventType"`
	RunID           string   `json:"runId"`
	SessionID       string   `json:"sessionId,omitempty"`
	Provider        string   `json:"provider"`
	Timestamp       int64    `json:"timestamp"`
	Text            string   `json:"text"`
	Transcripts     []string `json:"transcripts,omitempty"`
	Empty           bool     `json:"empty"`
	EndReason       string   `json:"endReason"`
	FailureKind     string   `json:"failureKind,omitempty"`
	FailureCause    string   `json:"failureCause,omitempty"`
	AudioDurationMs int64    `json:"audioDurationMs"`
}

// SpeakerSegment is one diarized window.
type SpeakerSegment struct {
	StartSec  float64 `json:"startSec"`
	EndSec    float64 `json:"endSec"`
	SpeakerID int     `json:"speakerId"`
	Speaker   string  `json:"speaker"`
}

// SessionDiarization carries the speaker segments of a session, or the
// reason none could be produced.
type SessionDiarization struct {
	EventType string           `json:"eventType"`
	RunID     string           `json:"runId"`
	SessionID string           `json:"sessionId,omitempty"`
	Timestamp int64            `json:"timestamp"`
	Available bool             `json:"available"`
	Reason    string           `json:"reason,omitempty"`
	Segments  []SpeakerSegment `json:"segments"`
}
