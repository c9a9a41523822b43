package tts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"
)

// OpenAI TTS voices
const (
	VoiceAlloy   = "alloy"   // Neutral, balanced
	VoiceEcho    = "echo"    // Male, warm
	VoiceFable   = "fable"   // British, expressive
	VoiceOnyx    = "onyx"    // Male, deep
	VoiceNova    = "nova"    // Female, warm and natural
	VoiceShimmer = "shimmer" // Female, clear and bright
)

// OpenAIProvider implements TTS using the OpenAI speech endpoint.
// It always requests raw PCM so the pipeline can decode it directly.
type OpenAIProvider struct {
	client openai.Client
	apiKey string
	logger zerolog.Logger
	config *OpenAIConfig
}

// OpenAIConfig holds OpenAI TTS configuration
type OpenAIConfig struct {
	APIKey       string        `json:"api_key"`
	BaseURL      string        `json:"base_url"`
	Model        string        `json:"model"`         // tts-1, tts-1-hd, gpt-4o-mini-tts
	DefaultVoice string        `json:"default_voice"` // alloy, echo, fable, onyx, nova, shimmer
	Speed        float64       `json:"speed"`         // 0.25 to 4.0
	Timeout      time.Duration `json:"timeout"`
}

// DefaultOpenAIConfig returns sensible defaults
func DefaultOpenAIConfig() *OpenAIConfig {
	return &OpenAIConfig{
		Model:        openai.SpeechModelTTS1,
		DefaultVoice: VoiceNova,
		Speed:        1.0,
		Timeout:      30 * time.Second,
	}
}

// NewOpenAIProvider creates a new OpenAI TTS provider
func NewOpenAIProvider(logger zerolog.Logger, config *OpenAIConfig) *OpenAIProvider {
	if config == nil {
		config = DefaultOpenAIConfig()
	}

	// Get API key from config or environment
	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: config.Timeout}),
		option.WithMaxRetries(1),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &OpenAIProvider{
		client: openai.NewClient(opts...),
		apiKey: apiKey,
		logger: logger.With().Str("provider", "openai-tts").Logger(),
		config: config,
	}
}

// Name returns the provider identifier
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Synthesize converts text to 24 kHz PCM audio
func (p *OpenAIProvider) Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResponse, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("%w: OpenAI API key not configured", ErrProviderUnavailable)
	}
	if req.Text == "" {
		return nil, ErrEmptyText
	}

	startTime := time.Now()

	voiceID := req.VoiceID
	if voiceID == "" {
		voiceID = p.config.DefaultVoice
	}
	speed := req.Speed
	if speed == 0 {
		speed = p.config.Speed
	}

	params := openai.AudioSpeechNewParams{
		Input:          req.Text,
		Model:          p.config.Model,
		Voice:          openai.AudioSpeechNewParamsVoice(voiceID),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if speed > 0 {
		params.Speed = openai.Float(speed)
	}

	p.logger.Debug().
		Str("voice", voiceID).
		Int("text_len", len(req.Text)).
		Msg("Requesting speech")

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai speech: %w", err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, ErrNoAudio
	}

	processingTime := time.Since(startTime)
	p.logger.Info().
		Int("audio_bytes", len(audio)).
		Dur("processing_time", processingTime).
		Msg("TTS synthesis complete")

	return &SynthesizeResponse{
		Audio:          audio,
		Format:         FormatPCM16,
		SampleRate:     DefaultSampleRate,
		ProcessingTime: processingTime,
		VoiceID:        voiceID,
		Provider:       p.Name(),
	}, nil
}

// Health reports whether a key is configured. It does not call the API.
func (p *OpenAIProvider) Health(context.Context) error {
	if p.apiKey == "" {
		return ErrProviderUnavailable
	}
	return nil
}
