// Package config provides configuration management for the companion
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/normanking/cortexcompanion/internal/action"
	"github.com/normanking/cortexcompanion/internal/companion"
	"github.com/normanking/cortexcompanion/internal/llm"
	"github.com/normanking/cortexcompanion/internal/logging"
	"github.com/normanking/cortexcompanion/internal/speech"
	"github.com/normanking/cortexcompanion/internal/tts"
)

// EnvPrefix prefixes environment overrides, e.g. COMPANION_BACKEND_MODEL
const EnvPrefix = "COMPANION"

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Backend   BackendConfig   `mapstructure:"backend"`
	Speech    SpeechConfig    `mapstructure:"speech"`
	Companion CompanionConfig `mapstructure:"companion"`
	Actions   ActionsConfig   `mapstructure:"actions"`
	Voice     VoiceConfig     `mapstructure:"voice"`
	Log       LogConfig       `mapstructure:"log"`

	v    *viper.Viper
	file string
}

// ServerConfig configures the HTTP and websocket server
type ServerConfig struct {
	Addr        string        `mapstructure:"addr"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

// BackendConfig configures reply generation
type BackendConfig struct {
	Provider      string        `mapstructure:"provider"` // openai, mock
	Model         string        `mapstructure:"model"`
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	Temperature   float64       `mapstructure:"temperature"`
	TopP          float64       `mapstructure:"top_p"`
	Timeout       time.Duration `mapstructure:"timeout"`
	FallbackReply string        `mapstructure:"fallback_reply"`
}

// SpeechConfig configures text-to-speech
type SpeechConfig struct {
	Provider   string        `mapstructure:"provider"` // openai, http, none
	Model      string        `mapstructure:"model"`
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Speed      float64       `mapstructure:"speed"`
	SampleRate int           `mapstructure:"sample_rate"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// CompanionConfig configures the session
type CompanionConfig struct {
	DefaultCharacter string        `mapstructure:"default_character"`
	InitialAffection int           `mapstructure:"initial_affection"`
	ContextWindow    int           `mapstructure:"context_window"`
	ActionClearDelay time.Duration `mapstructure:"action_clear_delay"`
	SwitchPolicy     string        `mapstructure:"switch_policy"` // carry, reset
	PersonaFile      string        `mapstructure:"persona_file"`
}

// ActionsConfig configures action execution
type ActionsConfig struct {
	Navigator    string               `mapstructure:"navigator"` // client, local, none
	Destinations []action.Destination `mapstructure:"destinations"`
}

// VoiceConfig configures speech recognition
type VoiceConfig struct {
	Language string `mapstructure:"language"`
}

// LogConfig configures logging
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Dir        string `mapstructure:"dir"`
	Console    bool   `mapstructure:"console"`
	MaxHistory int    `mapstructure:"max_history"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:        "127.0.0.1:8090",
			ReadTimeout: 15 * time.Second,
		},
		Backend: BackendConfig{
			Provider:      "openai",
			Model:         "gpt-4o-mini",
			Temperature:   0.85,
			TopP:          0.95,
			Timeout:       30 * time.Second,
			FallbackReply: companion.FallbackReply,
		},
		Speech: SpeechConfig{
			Provider:   "openai",
			Model:      "tts-1",
			Speed:      1.0,
			SampleRate: tts.DefaultSampleRate,
			Timeout:    30 * time.Second,
		},
		Companion: CompanionConfig{
			DefaultCharacter: "priya",
			InitialAffection: 50,
			ContextWindow:    5,
			ActionClearDelay: 3 * time.Second,
			SwitchPolicy:     string(companion.SwitchCarry),
		},
		Actions: ActionsConfig{
			Navigator:    "client",
			Destinations: action.DefaultDestinations(),
		},
		Voice: VoiceConfig{
			Language: "en-US",
		},
		Log: LogConfig{
			Level:      "info",
			Console:    true,
			MaxHistory: 1000,
		},
	}
}

// Dir returns the default configuration directory
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cortexcompanion"), nil
}

// Load reads configuration from defaults, an optional YAML file and the
// environment, in that order of precedence. An empty path searches the
// default directory and the working directory; a missing file is not an
// error and nothing is written.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	for key, value := range settings(DefaultConfig()) {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(expandPath(path))
	} else {
		v.SetConfigName("config")
		if dir, err := Dir(); err == nil {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	file := ""
	if err := v.ReadInConfig(); err == nil {
		file = v.ConfigFileUsed()
	} else {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound):
		case path != "" && os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	cfg.v, cfg.file = v, file
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Companion.PersonaFile = expandPath(cfg.Companion.PersonaFile)
	cfg.Log.Dir = expandPath(cfg.Log.Dir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail late
func (c *Config) Validate() error {
	switch c.Backend.Provider {
	case "openai", "mock":
	default:
		return fmt.Errorf("unknown backend provider: %q", c.Backend.Provider)
	}
	switch c.Speech.Provider {
	case "openai", "http", "none":
	default:
		return fmt.Errorf("unknown speech provider: %q", c.Speech.Provider)
	}
	switch companion.SwitchPolicy(c.Companion.SwitchPolicy) {
	case companion.SwitchCarry, companion.SwitchReset:
	default:
		return fmt.Errorf("unknown switch policy: %q", c.Companion.SwitchPolicy)
	}
	if c.Companion.InitialAffection < 0 || c.Companion.InitialAffection > 100 {
		return fmt.Errorf("initial affection %d out of range 0-100", c.Companion.InitialAffection)
	}
	return nil
}

// File returns the config file in use, or "" when running on defaults
func (c *Config) File() string {
	return c.file
}

// Watch calls fn with the re-read configuration whenever the config file
// changes. Invalid edits are reported to onError and otherwise ignored.
// Without a config file Watch does nothing.
func (c *Config) Watch(fn func(*Config), onError func(error)) {
	if c.v == nil || c.file == "" {
		return
	}

	var mu sync.Mutex
	c.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		mu.Lock()
		defer mu.Unlock()

		next, err := decode(c.v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		next.v, next.file = c.v, c.file
		fn(next)
	})
	c.v.WatchConfig()
}

// Save writes cfg as YAML to path, creating the directory
func Save(cfg *Config, path string) error {
	path = expandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	for key, value := range settings(cfg) {
		v.Set(key, value)
	}
	return v.WriteConfigAs(path)
}

// settings flattens cfg into viper keys
func settings(cfg *Config) map[string]any {
	destinations := make([]map[string]any, 0, len(cfg.Actions.Destinations))
	for _, d := range cfg.Actions.Destinations {
		destinations = append(destinations, map[string]any{"keyword": d.Keyword, "url": d.URL})
	}

	return map[string]any{
		"server.addr":         cfg.Server.Addr,
		"server.read_timeout": cfg.Server.ReadTimeout.String(),

		"backend.provider":       cfg.Backend.Provider,
		"backend.model":          cfg.Backend.Model,
		"backend.base_url":       cfg.Backend.BaseURL,
		"backend.api_key":        cfg.Backend.APIKey,
		"backend.temperature":    cfg.Backend.Temperature,
		"backend.top_p":          cfg.Backend.TopP,
		"backend.timeout":        cfg.Backend.Timeout.String(),
		"backend.fallback_reply": cfg.Backend.FallbackReply,

		"speech.provider":    cfg.Speech.Provider,
		"speech.model":       cfg.Speech.Model,
		"speech.base_url":    cfg.Speech.BaseURL,
		"speech.api_key":     cfg.Speech.APIKey,
		"speech.speed":       cfg.Speech.Speed,
		"speech.sample_rate": cfg.Speech.SampleRate,
		"speech.timeout":     cfg.Speech.Timeout.String(),

		"companion.default_character":  cfg.Companion.DefaultCharacter,
		"companion.initial_affection":  cfg.Companion.InitialAffection,
		"companion.context_window":     cfg.Companion.ContextWindow,
		"companion.action_clear_delay": cfg.Companion.ActionClearDelay.String(),
		"companion.switch_policy":      cfg.Companion.SwitchPolicy,
		"companion.persona_file":       cfg.Companion.PersonaFile,

		"actions.navigator":    cfg.Actions.Navigator,
		"actions.destinations": destinations,

		"voice.language": cfg.Voice.Language,

		"log.level":       cfg.Log.Level,
		"log.dir":         cfg.Log.Dir,
		"log.console":     cfg.Log.Console,
		"log.max_history": cfg.Log.MaxHistory,
	}
}

// CompanionConfig converts to the orchestrator's configuration
func (c *Config) CompanionConfig() *companion.Config {
	return &companion.Config{
		DefaultCharacter: c.Companion.DefaultCharacter,
		InitialAffection: c.Companion.InitialAffection,
		ContextWindow:    c.Companion.ContextWindow,
		ActionClearDelay: c.Companion.ActionClearDelay,
		SwitchPolicy:     companion.SwitchPolicy(c.Companion.SwitchPolicy),
		FallbackReply:    c.Backend.FallbackReply,
		BackendTimeout:   c.Backend.Timeout,
	}
}

// GeneratorConfig converts to the OpenAI generator's configuration
func (c *Config) GeneratorConfig() *llm.OpenAIConfig {
	return &llm.OpenAIConfig{
		APIKey:      c.Backend.APIKey,
		BaseURL:     c.Backend.BaseURL,
		Model:       c.Backend.Model,
		Temperature: c.Backend.Temperature,
		TopP:        c.Backend.TopP,
		Timeout:     c.Backend.Timeout,
	}
}

// PipelineConfig converts to the speech pipeline's configuration
func (c *Config) PipelineConfig() *speech.Config {
	return &speech.Config{
		SampleRate: c.Speech.SampleRate,
		Speed:      c.Speech.Speed,
		Timeout:    c.Speech.Timeout,
	}
}

// OpenAISpeechConfig converts to the OpenAI TTS provider's configuration
func (c *Config) OpenAISpeechConfig() *tts.OpenAIConfig {
	return &tts.OpenAIConfig{
		APIKey:       c.Speech.APIKey,
		BaseURL:      c.Speech.BaseURL,
		Model:        c.Speech.Model,
		DefaultVoice: tts.VoiceNova,
		Speed:        c.Speech.Speed,
		Timeout:      c.Speech.Timeout,
	}
}

// HTTPSpeechConfig converts to the HTTP TTS provider's configuration
func (c *Config) HTTPSpeechConfig() *tts.HTTPConfig {
	cfg := tts.DefaultHTTPConfig()
	if c.Speech.BaseURL != "" {
		cfg.ServiceURL = c.Speech.BaseURL
	}
	if c.Speech.Timeout > 0 {
		cfg.Timeout = int(c.Speech.Timeout / time.Second)
	}
	if c.Speech.Speed > 0 {
		cfg.DefaultSpeed = c.Speech.Speed
	}
	return cfg
}

// LoggingConfig converts to the logger's configuration
func (c *Config) LoggingConfig() *logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.Log.Level
	cfg.Dir = c.Log.Dir
	cfg.Console = c.Log.Console
	if c.Log.MaxHistory > 0 {
		cfg.MaxHistory = c.Log.MaxHistory
	}
	return cfg
}

func expandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
