package openai

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Outbound event types.
const (
	TypeSessionUpdate = "transcription_session.update"
	TypeAppend        = "input_audio_buffer.append"
	TypeCommit        = "input_audio_buffer.commit"
)

// Inbound event types the client acts on. Anything else is ignored.
const (
	TypeTranscriptCompleted = "conversation.item.input_audio_transcription.completed"
	TypeTranscriptDelta     = "conversation.item.input_audio_transcription.delta"
	TypeError               = "error"
)

// TranscriptionParams mirrors input_audio_transcription.
type TranscriptionParams struct {
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
}

// TurnDetection configures server-side end-of-turn detection.
type TurnDetection struct {
	Type              string `json:"type"`
	SilenceDurationMs int    `json:"silence_duration_ms,omitempty"`
}

// SessionParams is shared by the creation request and the Configure message.
type SessionParams struct {
	InputAudioTranscription TranscriptionParams `json:"input_audio_transcription"`
	TurnDetection           *TurnDetection      `json:"turn_detection,omitempty"`
}

type sessionUpdate struct {
	Type    string        `json:"type"`
	Session SessionParams `json:"session"`
}

type appendMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type commitMessage struct {
	Type string `json:"type"`
}

// Event is a decoded inbound message. Only the fields relevant to Type are set.
type Event struct {
	Type       string         `json:"type"`
	EventID    string         `json:"event_id,omitempty"`
	ItemID     string         `json:"item_id,omitempty"`
	Transcript string         `json:"transcript,omitempty"`
	Delta      string         `json:"delta,omitempty"`
	Error      *ProtocolError `json:"error,omitempty"`
}

// ProtocolError is the payload of an inbound error event.
type ProtocolError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
}

func (e *ProtocolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server error %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("server error %s: %s", e.Type, e.Message)
}

var errMissingType = errors.New("event has no type")

// decodeEvent parses an inbound text frame.
func decodeEvent(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if ev.Type == "" {
		return nil, errMissingType
	}
	if ev.Type == TypeError && ev.Error == nil {
		ev.Error = &ProtocolError{Type: "unknown"}
	}
	return &ev, nil
}
