// Package errorsx attaches failure kinds to errors so the session loop can
// report what went wrong without inspecting concrete error types.
package errorsx

import "errors"

// Kind is a short machine-readable failure category.
type Kind string

const (
	KindUnknown Kind = "unknown"

	// KindDevice - the audio device could not be opened or read.
	KindDevice Kind = "device"
	// KindSessionCreation - the transcription session could not be created
	// or returned no usable credential.
	KindSessionCreation Kind = "session_creation"
	// KindConnection - the duplex channel failed to open or closed unexpectedly.
	KindConnection Kind = "connection"
	// KindProtocolDecode - an inbound message could not be decoded.
	KindProtocolDecode Kind = "protocol_decode"
	// KindServer - the transcription server reported an error event.
	KindServer Kind = "server_error"
	// KindDiarizationUnavailable - no diarization result could be produced.
	KindDiarizationUnavailable Kind = "diarization_unavailable"
)

// KindError wraps an error with a failure kind.
type KindError struct {
	Err  error
	Kind Kind
}

func (e KindError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

func (e KindError) Unwrap() error {
	return e.Err
}

// Wrap attaches a kind to an error (no-op if err is nil or already has a kind).
func Wrap(err error, kind Kind) error {
	if err == nil {
		return nil
	}
	var ke KindError
	if errors.As(err, &ke) {
		return err
	}
	return KindError{Err: err, Kind: kind}
}

// New creates an error of the given kind from a message.
func New(kind Kind, msg string) error {
	return KindError{Err: errors.New(msg), Kind: kind}
}

// KindOf extracts the kind from an error, if present.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var ke KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
