package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// HTTPProvider calls a speech microservice. The service receives
// {"text","voice","speed"} on POST /tts and answers either with raw PCM
// (any non-JSON content type) or with JSON {"audio": "<base64>",
// "sample_rate": n}.
type HTTPProvider struct {
	config     *HTTPConfig
	httpClient *http.Client
	logger     zerolog.Logger
}

// HTTPConfig holds configuration for the HTTP provider
type HTTPConfig struct {
	ServiceURL   string  `json:"service_url"`   // e.g., "http://localhost:8899"
	Timeout      int     `json:"timeout_sec"`   // HTTP timeout in seconds
	DefaultVoice string  `json:"default_voice"` // Voice used when the request has none
	DefaultSpeed float64 `json:"default_speed"` // Speech speed (0.5-2.0)
}

// DefaultHTTPConfig returns sensible defaults
func DefaultHTTPConfig() *HTTPConfig {
	return &HTTPConfig{
		ServiceURL:   "http://localhost:8899",
		Timeout:      30,
		DefaultVoice: VoiceNova,
		DefaultSpeed: 1.0,
	}
}

// NewHTTPProvider creates a new HTTP TTS provider
func NewHTTPProvider(config *HTTPConfig, logger zerolog.Logger) *HTTPProvider {
	if config == nil {
		config = DefaultHTTPConfig()
	}

	return &HTTPProvider{
		config: config,
		httpClient: &http.Client{
			Timeout: time.Duration(config.Timeout) * time.Second,
		},
		logger: logger.With().Str("provider", "http").Logger(),
	}
}

// Name returns the provider identifier
func (p *HTTPProvider) Name() string {
	return "http"
}

type httpTTSResponse struct {
	Audio      string `json:"audio"`
	SampleRate int    `json:"sample_rate"`
	Error      string `json:"error"`
}

// Synthesize converts text to audio using the speech service
func (p *HTTPProvider) Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResponse, error) {
	if req.Text == "" {
		return nil, ErrEmptyText
	}
	startTime := time.Now()

	voice := req.VoiceID
	if voice == "" {
		voice = p.config.DefaultVoice
	}
	speed := req.Speed
	if speed == 0 {
		speed = p.config.DefaultSpeed
	}

	payloadBytes, err := json.Marshal(map[string]interface{}{
		"text":  req.Text,
		"voice": voice,
		"speed": speed,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/tts", p.config.ServiceURL)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payloadBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	p.logger.Debug().
		Str("url", url).
		Str("voice", voice).
		Float64("speed", speed).
		Msg("Sending TTS request")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("speech service returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	audio := body
	sampleRate := DefaultSampleRate
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var parsed httpTTSResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		if parsed.Error != "" {
			return nil, fmt.Errorf("speech service error: %s", parsed.Error)
		}
		if audio, err = base64.StdEncoding.DecodeString(parsed.Audio); err != nil {
			return nil, fmt.Errorf("failed to decode audio: %w", err)
		}
		if parsed.SampleRate > 0 {
			sampleRate = parsed.SampleRate
		}
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
		SampleRate:     sampleRate,
		ProcessingTime: processingTime,
		VoiceID:        voice,
		Provider:       p.Name(),
	}, nil
}

// Health checks if the speech service is available
func (p *HTTPProvider) Health(ctx context.Context) error {
	url := fmt.Sprintf("%s/health", p.config.ServiceURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("speech service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("speech service unhealthy (status %d)", resp.StatusCode)
	}
	return nil
}
