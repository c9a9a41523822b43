package llm

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"
)

// OpenAIConfig configures the chat-completions generator
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	TopP        float64
	Timeout     time.Duration
}

// DefaultOpenAIConfig returns sensible defaults
func DefaultOpenAIConfig() *OpenAIConfig {
	return &OpenAIConfig{
		Model:       openai.ChatModelGPT4oMini,
		Temperature: 0.85,
		TopP:        0.95,
		Timeout:     30 * time.Second,
	}
}

// OpenAIGenerator generates replies with any OpenAI-compatible
// chat-completions endpoint
type OpenAIGenerator struct {
	client openai.Client
	config *OpenAIConfig
	logger zerolog.Logger
}

// NewOpenAIGenerator creates a generator. The key falls back to
// OPENAI_API_KEY.
func NewOpenAIGenerator(config *OpenAIConfig, logger zerolog.Logger) *OpenAIGenerator {
	if config == nil {
		config = DefaultOpenAIConfig()
	}

	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: config.Timeout}),
		option.WithMaxRetries(0),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &OpenAIGenerator{
		client: openai.NewClient(opts...),
		config: config,
		logger: logger.With().Str("component", "llm").Str("model", config.Model).Logger(),
	}
}

// Generate sends the message with the character prompt and context as the
// system instruction
func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (string, error) {
	start := time.Now()

	params := openai.ChatCompletionNewParams{
		Model: g.config.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(SystemInstruction(req.Context)),
			openai.UserMessage(req.Message),
		},
	}
	if g.config.Temperature > 0 {
		params.Temperature = openai.Float(g.config.Temperature)
	}
	if g.config.TopP > 0 {
		params.TopP = openai.Float(g.config.TopP)
	}

	completion, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", ErrEmptyReply
	}

	reply := strings.TrimSpace(completion.Choices[0].Message.Content)
	if reply == "" {
		return "", ErrEmptyReply
	}

	g.logger.Debug().
		Dur("latency", time.Since(start)).
		Int("reply_len", len(reply)).
		Msg("reply generated")

	return reply, nil
}
