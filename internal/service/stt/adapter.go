// Package stt defines the interface for Speech-to-Text adapters.
package stt

import (
	"context"
	"errors"
)

// ErrConnectionClosed is returned by SendAudio and Commit once the
// provider connection has gone away.
var ErrConnectionClosed = errors.New("stt connection closed")

// Callback receives transcript results from the STT provider.
// Methods may be called from the adapter's receive goroutine.
type Callback interface {
	// OnPartial is called when an interim/partial transcript is received.
	OnPartial(text string)

	// OnFinal is called when a final transcript is received.
	OnFinal(text string, confidence float64)

	// OnError is called for non-fatal problems: undecodable messages and
	// server-reported errors. The session continues.
	OnError(err error)

	// OnClosed is called once when the provider ends the connection.
	// It is not called when the adapter is closed locally.
	OnClosed(err error)
}

// Adapter defines the interface for STT providers.
//
// A session drives an adapter strictly in order:
// Start, Configure, SendAudio (any number of times), Commit, Close.
// SendAudio and Commit are never called concurrently with each other.
type Adapter interface {
	// Name returns the provider name for logging/metrics.
	Name() string

	// Start creates the provider session and opens the connection.
	Start(ctx context.Context, cb Callback) error

	// Configure sends the transcription parameters. It may be resent.
	Configure(ctx context.Context) error

	// SendAudio sends audio bytes to the STT provider, preserving order.
	SendAudio(ctx context.Context, audio []byte) error

	// Commit marks the end of the audio. Returns ErrConnectionClosed
	// (without sending) if the connection has already closed.
	Commit(ctx context.Context) error

	// SessionID returns the provider session identifier, if any.
	SessionID() string

	// Close ends the session and releases resources. Idempotent.
	Close() error
}
