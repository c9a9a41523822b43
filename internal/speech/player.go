package speech

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/cortexcompanion/internal/bus"
)

// Player plays a clip and returns when playback ends. It must return
// promptly once ctx is cancelled.
type Player interface {
	Play(ctx context.Context, clip Clip) error
}

// NullPlayer finishes immediately without producing sound
type NullPlayer struct{}

// Play returns at once
func (NullPlayer) Play(ctx context.Context, _ Clip) error { return ctx.Err() }

// ClientPlayer streams clips to connected clients over the event bus and
// treats playback as finished when the client acknowledges the clip or its
// duration (plus Slack) has elapsed, whichever comes first.
type ClientPlayer struct {
	bus    *bus.EventBus
	logger zerolog.Logger
	Slack  time.Duration

	after func(time.Duration) <-chan time.Time

	mu      sync.Mutex
	waiting map[uint64]chan struct{}
}

// NewClientPlayer creates a player publishing on b
func NewClientPlayer(b *bus.EventBus, logger zerolog.Logger) *ClientPlayer {
	return &ClientPlayer{
		bus:     b,
		logger:  logger.With().Str("component", "client_player").Logger(),
		Slack:   250 * time.Millisecond,
		after:   time.After,
		waiting: make(map[uint64]chan struct{}),
	}
}

// Play publishes the clip and waits for it to finish
func (p *ClientPlayer) Play(ctx context.Context, clip Clip) error {
	done := make(chan struct{})
	p.mu.Lock()
	p.waiting[clip.Gen] = done
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.waiting, clip.Gen)
		p.mu.Unlock()
	}()

	p.bus.Publish(bus.Event{
		Type: bus.EventTypeSpeechAudio,
		Data: map[string]any{
			"id":         clip.Gen,
			"sampleRate": clip.SampleRate,
			"encoding":   "pcm_s16le",
			"audio":      base64.StdEncoding.EncodeToString(clip.PCM),
			"durationMs": clip.Duration().Milliseconds(),
		},
	})

	select {
	case <-done:
		return nil
	case <-p.after(clip.Duration() + p.Slack):
		return nil
	case <-ctx.Done():
		p.bus.Publish(bus.Event{
			Type: bus.EventTypeSpeechStopped,
			Data: map[string]any{"id": clip.Gen},
		})
		return ctx.Err()
	}
}

// Ended marks a clip as finished by the client. Unknown ids are ignored.
func (p *ClientPlayer) Ended(id uint64) {
	p.mu.Lock()
	done, ok := p.waiting[id]
	if ok {
		delete(p.waiting, id)
	}
	p.mu.Unlock()

	if ok {
		close(done)
		p.logger.Debug().Uint64("id", id).Msg("client finished playback")
	}
}
