// Package voice wraps speech-recognition sessions and feeds finalized
// transcripts to the companion.
package voice

import (
	"context"
	"errors"
	"sync"

	"github.com/normanking/cortexcompanion/internal/bus"
)

// Recognition errors
var (
	ErrUnavailable = errors.New("speech recognition unavailable")
	ErrNoSession   = errors.New("no recognition session")
)

// DefaultLanguage is the recognition locale
const DefaultLanguage = "en-US"

// Result is one recognition outcome. A session yields at most one result
// and then its channel is closed.
type Result struct {
	Transcript string
	Err        error
}

// Recognizer is a single-shot recognition capability
type Recognizer interface {
	// Available reports whether recognition can start right now
	Available() bool
	// Start begins a session. The returned channel is closed when the
	// session ends for any reason.
	Start(ctx context.Context, language string) (<-chan Result, error)
	// Stop ends the current session, if any
	Stop()
}

// ClientRecognizer delegates recognition to a connected client. Start and
// stop are published on the bus; the transport feeds outcomes back through
// Deliver, Fail and End.
type ClientRecognizer struct {
	bus       *bus.EventBus
	available func() bool

	mu      sync.Mutex
	session chan Result
}

// NewClientRecognizer creates a recognizer. available reports whether a
// capable client is connected; nil means always available.
func NewClientRecognizer(b *bus.EventBus, available func() bool) *ClientRecognizer {
	if available == nil {
		available = func() bool { return true }
	}
	return &ClientRecognizer{bus: b, available: available}
}

// Available reports whether a client can recognize speech
func (r *ClientRecognizer) Available() bool {
	return r.available()
}

// Start asks clients to begin listening
func (r *ClientRecognizer) Start(_ context.Context, language string) (<-chan Result, error) {
	if !r.available() {
		return nil, ErrUnavailable
	}

	r.mu.Lock()
	if r.session != nil {
		close(r.session)
	}
	ch := make(chan Result, 1)
	r.session = ch
	r.mu.Unlock()

	r.bus.Publish(bus.Event{
		Type: bus.EventTypeRecognitionStart,
		Data: map[string]any{
			"language":        language,
			"continuous":      false,
			"interimResults":  false,
			"maxAlternatives": 1,
		},
	})
	return ch, nil
}

// Stop asks clients to stop and ends the session
func (r *ClientRecognizer) Stop() {
	if r.endSession(nil) {
		r.bus.Publish(bus.Event{Type: bus.EventTypeRecognitionStop})
	}
}

// Deliver reports a finalized transcript and ends the session
func (r *ClientRecognizer) Deliver(transcript string) error {
	return r.finish(Result{Transcript: transcript})
}

// Fail reports a recognition error and ends the session
func (r *ClientRecognizer) Fail(err error) error {
	if err == nil {
		err = errors.New("recognition failed")
	}
	return r.finish(Result{Err: err})
}

// End reports that the client stopped without a result
func (r *ClientRecognizer) End() error {
	if !r.endSession(nil) {
		return ErrNoSession
	}
	return nil
}

func (r *ClientRecognizer) finish(res Result) error {
	if !r.endSession(&res) {
		return ErrNoSession
	}
	return nil
}

func (r *ClientRecognizer) endSession(res *Result) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil {
		return false
	}
	if res != nil {
		r.session <- *res
	}
	close(r.session)
	r.session = nil
	return true
}
