// Package tts provides Text-to-Speech synthesis services for the companion.
package tts

import (
	"context"
	"errors"
	"time"
)

// Common errors
var (
	ErrProviderUnavailable = errors.New("TTS provider unavailable")
	ErrEmptyText           = errors.New("empty text")
	ErrNoAudio             = errors.New("no audio payload")
)

// Audio formats a provider can return
const (
	FormatPCM16 = "pcm16" // signed 16-bit little-endian, mono
	FormatWAV   = "wav"
)

// DefaultSampleRate is the PCM rate the speech pipeline plays at
const DefaultSampleRate = 24000

// Provider is the interface all TTS providers must implement
type Provider interface {
	// Name returns the provider identifier (e.g., "openai", "http")
	Name() string

	// Synthesize converts text to audio
	Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResponse, error)

	// Health checks if the provider is available
	Health(ctx context.Context) error
}

// SynthesizeRequest represents a synthesis request
type SynthesizeRequest struct {
	Text    string  `json:"text"`
	VoiceID string  `json:"voice_id"`
	Speed   float64 `json:"speed,omitempty"` // 0.25 to 4.0
}

// SynthesizeResponse represents a synthesis result
type SynthesizeResponse struct {
	Audio          []byte        `json:"audio"`           // Raw audio data
	Format         string        `json:"format"`          // Audio format
	SampleRate     int           `json:"sample_rate"`     // Sample rate in Hz
	ProcessingTime time.Duration `json:"processing_time"` // How long synthesis took
	VoiceID        string        `json:"voice_id"`        // Voice used
	Provider       string        `json:"provider"`        // Provider name
}

// NopProvider is used when speech output is disabled
type NopProvider struct{}

// Name returns the provider identifier
func (NopProvider) Name() string { return "none" }

// Synthesize always fails with ErrProviderUnavailable
func (NopProvider) Synthesize(context.Context, *SynthesizeRequest) (*SynthesizeResponse, error) {
	return nil, ErrProviderUnavailable
}

// Health always fails with ErrProviderUnavailable
func (NopProvider) Health(context.Context) error { return ErrProviderUnavailable }
