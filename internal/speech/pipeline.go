// Package speech turns reply text into audible speech: it sanitizes the
// text, requests synthesis, decodes the PCM payload and plays it.
package speech

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/cortexcompanion/internal/metrics"
	"github.com/normanking/cortexcompanion/internal/tags"
	"github.com/normanking/cortexcompanion/internal/tts"
)

// Sink receives the asynchronous milestones of a run. Calls for a run
// that has since been replaced or stopped are never made after the
// replacement is observed, but a sink should still compare gen against
// Pipeline.Current before acting.
type Sink interface {
	// Playing is called once decoding succeeded and playback begins
	Playing(gen uint64)
	// Finished is called when playback ends naturally (err == nil) or any
	// stage fails
	Finished(gen uint64, err error)
}

// Config configures the pipeline
type Config struct {
	SampleRate int
	Speed      float64
	Timeout    time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		SampleRate: tts.DefaultSampleRate,
		Speed:      1.0,
		Timeout:    30 * time.Second,
	}
}

// Pipeline runs at most one utterance at a time. Starting a new one
// cancels the previous synthesis or playback.
type Pipeline struct {
	provider tts.Provider
	player   Player
	sink     Sink
	config   *Config
	logger   zerolog.Logger

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	active bool
	wg     sync.WaitGroup
}

// NewPipeline creates a pipeline
func NewPipeline(provider tts.Provider, player Player, config *Config, logger zerolog.Logger) *Pipeline {
	if config == nil {
		config = DefaultConfig()
	}
	if provider == nil {
		provider = tts.NopProvider{}
	}
	if player == nil {
		player = NullPlayer{}
	}
	return &Pipeline{
		provider: provider,
		player:   player,
		config:   config,
		logger:   logger.With().Str("component", "speech").Logger(),
	}
}

// SetSink sets the milestone receiver. Must be called before Speak.
func (p *Pipeline) SetSink(s Sink) {
	p.mu.Lock()
	p.sink = s
	p.mu.Unlock()
}

// Current returns the generation of the latest run
func (p *Pipeline) Current() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen
}

// Active reports whether a run is in flight
func (p *Pipeline) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Speak starts speaking text with the given voice. Tags are stripped
// first; if nothing is left it returns ok == false and touches nothing,
// including any utterance already playing. Otherwise the previous run is
// cancelled and the new run's generation is returned. The caller is
// responsible for the Speaking state on ok.
func (p *Pipeline) Speak(ctx context.Context, text, voiceID string) (gen uint64, ok bool) {
	clean := tags.Sanitize(text)
	if clean == "" {
		metrics.SpeechCount.WithLabelValues(metrics.SpeechSkipped).Inc()
		p.logger.Debug().Msg("nothing to speak after sanitizing")
		return 0, false
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.gen++
	gen = p.gen
	p.cancel = cancel
	p.active = true
	sink := p.sink
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()
		p.run(runCtx, gen, clean, voiceID, sink)
	}()

	return gen, true
}

// Stop cancels the in-flight run, if any, and reports whether one was
// running. No milestone is delivered for the cancelled run.
func (p *Pipeline) Stop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel == nil || !p.active {
		return false
	}
	p.cancel()
	p.cancel = nil
	p.active = false
	p.gen++
	return true
}

// Wait blocks until every run goroutine has returned
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) run(ctx context.Context, gen uint64, text, voiceID string, sink Sink) {
	logger := p.logger.With().Uint64("gen", gen).Logger()

	synthCtx := ctx
	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		synthCtx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := p.provider.Synthesize(synthCtx, &tts.SynthesizeRequest{
		Text:    text,
		VoiceID: voiceID,
		Speed:   p.config.Speed,
	})
	if p.superseded(ctx, gen) {
		metrics.SpeechCount.WithLabelValues(metrics.SpeechCancelled).Inc()
		return
	}
	if err != nil {
		p.fail(gen, sink, fmt.Errorf("synthesize: %w", err), logger)
		return
	}
	metrics.SynthesisLatency.Observe(time.Since(start).Seconds())

	samples, err := DecodePCM16(resp.Audio)
	if err != nil {
		p.fail(gen, sink, fmt.Errorf("decode: %w", err), logger)
		return
	}

	rate := resp.SampleRate
	if rate <= 0 {
		rate = p.config.SampleRate
	}
	clip := Clip{Gen: gen, Samples: samples, SampleRate: rate, PCM: resp.Audio}

	if sink != nil {
		sink.Playing(gen)
	}
	logger.Debug().Dur("duration", clip.Duration()).Msg("playback started")

	err = p.player.Play(ctx, clip)
	if p.superseded(ctx, gen) {
		metrics.SpeechCount.WithLabelValues(metrics.SpeechCancelled).Inc()
		return
	}
	if err != nil {
		p.fail(gen, sink, fmt.Errorf("play: %w", err), logger)
		return
	}

	p.finish(gen)
	metrics.SpeechCount.WithLabelValues(metrics.SpeechPlayed).Inc()
	logger.Debug().Msg("playback finished")
	if sink != nil {
		sink.Finished(gen, nil)
	}
}

func (p *Pipeline) superseded(ctx context.Context, gen uint64) bool {
	if errors.Is(ctx.Err(), context.Canceled) {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen != gen
}

func (p *Pipeline) finish(gen uint64) {
	p.mu.Lock()
	if p.gen == gen {
		p.active = false
		p.cancel = nil
	}
	p.mu.Unlock()
}

func (p *Pipeline) fail(gen uint64, sink Sink, err error, logger zerolog.Logger) {
	p.finish(gen)
	metrics.SpeechCount.WithLabelValues(metrics.SpeechFailed).Inc()
	logger.Warn().Err(err).Msg("speech failed")
	if sink != nil {
		sink.Finished(gen, err)
	}
}
