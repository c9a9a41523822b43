package voice

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Target is what the bridge drives
type Target interface {
	// SubmitTranscript sends a finalized transcript as user input
	SubmitTranscript(ctx context.Context, text string) error
	// ListeningStarted marks the companion as listening
	ListeningStarted()
	// ListeningEnded clears the listening indicator and returns the
	// companion to Idle if it is still Listening
	ListeningEnded()
}

// Bridge owns at most one recognition session at a time
type Bridge struct {
	recognizer Recognizer
	target     Target
	language   string
	logger     zerolog.Logger

	mu        sync.Mutex
	listening bool
	session   uint64
}

// NewBridge creates a bridge. An empty language uses DefaultLanguage.
func NewBridge(recognizer Recognizer, target Target, language string, logger zerolog.Logger) *Bridge {
	if language == "" {
		language = DefaultLanguage
	}
	return &Bridge{
		recognizer: recognizer,
		target:     target,
		language:   language,
		logger:     logger.With().Str("component", "voice").Logger(),
	}
}

// Listening reports whether a session is active
func (b *Bridge) Listening() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listening
}

// Toggle starts a session, or stops the active one
func (b *Bridge) Toggle(ctx context.Context) error {
	if b.Listening() {
		b.Stop()
		return nil
	}
	return b.Start(ctx)
}

// Start begins listening. It does nothing and returns ErrUnavailable when
// the recognizer cannot run. Calling Start while listening stops instead.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.listening {
		b.mu.Unlock()
		b.Stop()
		return nil
	}
	if b.recognizer == nil || !b.recognizer.Available() {
		b.mu.Unlock()
		b.logger.Debug().Msg("recognition unavailable, ignoring start")
		return ErrUnavailable
	}

	results, err := b.recognizer.Start(ctx, b.language)
	if err != nil {
		b.mu.Unlock()
		b.logger.Warn().Err(err).Msg("recognition failed to start")
		return err
	}
	b.listening = true
	b.session++
	session := b.session
	b.mu.Unlock()

	b.target.ListeningStarted()
	b.logger.Info().Str("language", b.language).Msg("listening")

	go b.await(context.WithoutCancel(ctx), session, results)
	return nil
}

// Stop cancels the active session
func (b *Bridge) Stop() {
	b.mu.Lock()
	if !b.listening {
		b.mu.Unlock()
		return
	}
	b.listening = false
	b.session++
	b.mu.Unlock()

	b.recognizer.Stop()
	b.target.ListeningEnded()
	b.logger.Info().Msg("listening stopped")
}

func (b *Bridge) await(ctx context.Context, session uint64, results <-chan Result) {
	res, ok := <-results

	b.mu.Lock()
	if b.session != session {
		// Stopped or replaced while waiting
		b.mu.Unlock()
		return
	}
	b.listening = false
	b.mu.Unlock()

	// Cleared after the submit so a transcript goes straight to Processing
	defer b.target.ListeningEnded()

	switch {
	case !ok:
		b.logger.Debug().Msg("recognition ended without result")
	case res.Err != nil:
		b.logger.Warn().Err(res.Err).Msg("recognition error")
	default:
		transcript := strings.TrimSpace(res.Transcript)
		if transcript == "" {
			return
		}
		b.logger.Info().Str("transcript", transcript).Msg("transcript received")
		if err := b.target.SubmitTranscript(ctx, transcript); err != nil {
			b.logger.Warn().Err(err).Msg("transcript submit failed")
		}
	}
}
