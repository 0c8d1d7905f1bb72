// Package schema checks outgoing events before they are published.
package schema

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"speech-session-service/internal/models"
)

// ErrInvalidEvent is wrapped by every validation failure.
var ErrInvalidEvent = errors.New("invalid event")

type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Validate checks required fields of known event types. Unknown types are rejected.
func (v *Validator) Validate(event any) error {
	var err error
	switch ev := event.(type) {
	case models.SessionTranscript:
		err = validateTranscript(ev)
	case *models.SessionTranscript:
		err = validateTranscript(*ev)
	case models.SessionDiarization:
		err = validateDiarization(ev)
	case *models.SessionDiarization:
		err = validateDiarization(*ev)
	default:
		err = fmt.Errorf("%w: unsupported type %T", ErrInvalidEvent, event)
	}
	if err != nil {
		log.Debug().Err(err).Msg("Schema validation failed")
	}
	return err
}

func validateTranscript(ev models.SessionTranscript) error {
	switch {
	case ev.EventType != models.EventSessionTranscript:
		return fmt.Errorf("%w: eventType %q", ErrInvalidEvent, ev.EventType)
	case ev.RunID == "":
		return fmt.Errorf("%w: runId is required", ErrInvalidEvent)
	case ev.EndReason == "":
		return fmt.Errorf("%w: endReason is required", ErrInvalidEvent)
	case ev.Timestamp <= 0:
		return fmt.Errorf("%w: timestamp is required", ErrInvalidEvent)
	case ev.Empty != (ev.Text == ""):
		return fmt.Errorf("%w: empty flag disagrees with text", ErrInvalidEvent)
	}
	return nil
}

func validateDiarization(ev models.SessionDiarization) error {
	switch {
	case ev.EventType != models.EventSessionDiarization:
		return fmt.Errorf("%w: eventType %q", ErrInvalidEvent, ev.EventType)
	case ev.RunID == "":
		return fmt.Errorf("%w: runId is required", ErrInvalidEvent)
	case ev.Timestamp <= 0:
		return fmt.Errorf("%w: timestamp is required", ErrInvalidEvent)
	case !ev.Available && ev.Reason == "":
		return fmt.Errorf("%w: reason is required when unavailable", ErrInvalidEvent)
	}
	var prevEnd float64
	for i, s := range ev.Segments {
		if s.EndSec <= s.StartSec {
			return fmt.Errorf("%w: segment %d has non-positive length", ErrInvalidEvent, i)
		}
		if i > 0 && s.StartSec < prevEnd {
			return fmt.Errorf("%w: segment %d overlaps its predecessor", ErrInvalidEvent, i)
		}
		prevEnd = s.EndSec
	}
	return nil
}
