package schema

import (
	"errors"
	"testing"

	"speech-session-service/internal/models"
)

func validTranscript() models.SessionTranscript {
	return models.SessionTranscript{
		EventType: models.EventSessionTranscript,
		RunID:     "run-1",
		Timestamp: 1,
		Text:      "こんにちは",
		EndReason: "completed",
	}
}

func validDiarization() models.SessionDiarization {
	return models.SessionDiarization{
		EventType: models.EventSessionDiarization,
		RunID:     "run-1",
		Timestamp: 1,
		Available: true,
		Segments: []models.SpeakerSegment{
			{StartSec: 0, EndSec: 1, Speaker: "Speaker 1"},
			{StartSec: 1, EndSec: 2, SpeakerID: 1, Speaker: "Speaker 2"},
		},
	}
}

func TestValidate(t *testing.T) {
	v := New()

	tests := []struct {
		name    string
		event   any
		wantErr bool
	}{
		{"transcript", validTranscript(), false},
		{"transcript pointer", func() any { ev := validTranscript(); return &ev }(), false},
		{"empty transcript", func() any {
			ev := validTranscript()
			ev.Text, ev.Empty, ev.EndReason = "", true, "creation_failed"
			return ev
		}(), false},
		{"missing run id", func() any { ev := validTranscript(); ev.RunID = ""; return ev }(), true},
		{"wrong event type", func() any { ev := validTranscript(); ev.EventType = "x"; return ev }(), true},
		{"empty flag mismatch", func() any { ev := validTranscript(); ev.Empty = true; return ev }(), true},
		{"diarization", validDiarization(), false},
		{"unavailable with reason", models.SessionDiarization{EventType: models.EventSessionDiarization, RunID: "r", Timestamp: 1, Reason: "too short"}, false},
		{"unavailable without reason", models.SessionDiarization{EventType: models.EventSessionDiarization, RunID: "r", Timestamp: 1}, true},
		{"overlapping segments", func() any {
			ev := validDiarization()
			ev.Segments[1].StartSec = 0.5
			return ev
		}(), true},
		{"zero length segment", func() any {
			ev := validDiarization()
			ev.Segments[0].EndSec = 0
			return ev
		}(), true},
		{"unknown type", struct{}{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.event)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidEvent) {
					t.Errorf("expected ErrInvalidEvent, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
