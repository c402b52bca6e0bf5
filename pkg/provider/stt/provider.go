// Package stt defines the Provider interface for speech recognition backends.
//
// A provider wraps a recognition engine (e.g., a local whisper.cpp model) and
// hands out sessions. A [Session] turns one finished speech segment into zero
// or more text fragments; callers that only want a single line use the first
// fragment.
//
// Providers must be safe for concurrent use. Sessions are not: each session
// belongs to one goroutine and runs at most one recognition at a time, which
// is what engines holding a single decoder state require.
package stt

import "context"

// SessionConfig describes the audio geometry and recognition hints for a new
// session.
type SessionConfig struct {
	// SampleRate is the rate in Hz of Request.Audio. Most engines require
	// 16000.
	SampleRate int

	// NMels is the mel bin count of Request.Mel.
	NMels int

	// Language is the ISO-639-1 language code for recognition (e.g., "en",
	// "de"). Empty selects the provider default; "auto" asks the engine to
	// detect it, if supported.
	Language string
}

// Session recognizes segments sequentially.
type Session interface {
	// Recognize decodes req and returns the engine's text fragments in order.
	// An empty slice with a nil error means the engine heard nothing it could
	// transcribe.
	Recognize(ctx context.Context, req Request) ([]Transcript, error)

	// Close releases the session. Calling Close more than once is safe.
	Close() error
}

// Provider is the abstraction over any recognition backend.
type Provider interface {
	// StartSession opens a session configured by cfg. The caller owns the
	// returned Session and must call Close when done.
	//
	// Returns an error if the engine cannot serve cfg (e.g., an unsupported
	// sample rate) or ctx is already cancelled.
	StartSession(ctx context.Context, cfg SessionConfig) (Session, error)
}
