// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to verify that the caller opens sessions with the expected
// SessionConfig. Use Session to script recognition results and inspect which
// requests were delivered.
//
// Example:
//
//	sess := &mock.Session{
//	    Results: []mock.Result{{Transcripts: []stt.Transcript{{Text: "hello"}}}},
//	}
//	p := &mock.Provider{Session: sess}
//	s, _ := p.StartSession(ctx, cfg)
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/streamscribe/pkg/provider/stt"
)

// StartSessionCall records a single invocation of Provider.StartSession.
type StartSessionCall struct {
	// Ctx is the context passed to StartSession.
	Ctx context.Context
	// Cfg is the SessionConfig passed to StartSession.
	Cfg stt.SessionConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the Session returned by StartSession. If nil, StartSession
	// returns a new empty Session.
	Session stt.Session

	// StartSessionErr, if non-nil, is returned as the error from StartSession.
	StartSessionErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// StartSessionCalls records every call to StartSession.
	StartSessionCalls []StartSessionCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// StartSession records the call and returns Session, StartSessionErr.
func (p *Provider) StartSession(ctx context.Context, cfg stt.SessionConfig) (stt.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartSessionCalls = append(p.StartSessionCalls, StartSessionCall{Ctx: ctx, Cfg: cfg})
	if p.StartSessionErr != nil {
		return nil, p.StartSessionErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return &Session{}, nil
}

// Close records the call and returns CloseErr.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CloseCallCount++
	return p.CloseErr
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)

// Result is one scripted Recognize outcome.
type Result struct {
	Transcripts []stt.Transcript
	Err         error
}

// Session is a mock implementation of stt.Session.
//
// Recognize consumes Results in order; once they run out it returns no
// transcripts and no error. RecognizeFunc, when set, takes precedence.
type Session struct {
	mu sync.Mutex

	// Results is the scripted sequence of Recognize outcomes.
	Results []Result

	// RecognizeFunc, if set, is called instead of consuming Results.
	RecognizeFunc func(ctx context.Context, req stt.Request) ([]stt.Transcript, error)

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// Requests records every request passed to Recognize in order.
	Requests []stt.Request

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	// MaxInFlight is the highest number of concurrent Recognize calls seen.
	MaxInFlight int

	inFlight int
	next     int
}

// Recognize records the call and returns the next scripted result.
func (s *Session) Recognize(ctx context.Context, req stt.Request) ([]stt.Transcript, error) {
	s.mu.Lock()
	s.Requests = append(s.Requests, req)
	s.inFlight++
	s.MaxInFlight = max(s.MaxInFlight, s.inFlight)
	fn := s.RecognizeFunc
	var res Result
	if fn == nil && s.next < len(s.Results) {
		res = s.Results[s.next]
		s.next++
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	if fn != nil {
		return fn(ctx, req)
	}
	return slices.Clone(res.Transcripts), res.Err
}

// RequestCount returns the number of Recognize calls. Thread-safe.
func (s *Session) RequestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Requests)
}

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// Ensure Session implements stt.Session at compile time.
var _ stt.Session = (*Session)(nil)
