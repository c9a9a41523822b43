package main

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/normanking/cortexcompanion/internal/action"
	"github.com/normanking/cortexcompanion/internal/bus"
	"github.com/normanking/cortexcompanion/internal/companion"
	"github.com/normanking/cortexcompanion/internal/config"
	"github.com/normanking/cortexcompanion/internal/llm"
	"github.com/normanking/cortexcompanion/internal/logging"
	"github.com/normanking/cortexcompanion/internal/persona"
	"github.com/normanking/cortexcompanion/internal/speech"
	"github.com/normanking/cortexcompanion/internal/tts"
)

// app holds the wired components shared by serve and chat
type app struct {
	bus       *bus.EventBus
	catalog   *persona.Catalog
	executor  *action.Executor
	pipeline  *speech.Pipeline
	companion *companion.Orchestrator
}

// newApp wires the companion. newPlayer decides where audio goes.
func newApp(c *config.Config, newPlayer func(*bus.EventBus) speech.Player, speechEnabled bool) (*app, error) {
	eventBus := bus.NewEventBus()

	catalog, err := persona.LoadFromFile(c.Companion.PersonaFile)
	if err != nil {
		return nil, fmt.Errorf("load characters: %w", err)
	}

	generator, err := newGenerator(c)
	if err != nil {
		return nil, err
	}

	navigator, err := action.NewNavigator(c.Actions.Navigator, eventBus)
	if err != nil {
		return nil, err
	}
	executor := action.NewExecutor(c.Actions.Destinations, navigator, syslog.Component("action"))

	var provider tts.Provider = tts.NopProvider{}
	if speechEnabled {
		provider = newSpeechProvider(c)
	}
	pipeline := speech.NewPipeline(provider, newPlayer(eventBus), c.PipelineConfig(), syslog.Component("speech"))

	orch, err := companion.New(c.CompanionConfig(), companion.Deps{
		Generator: generator,
		Catalog:   catalog,
		Executor:  executor,
		Speech:    pipeline,
		Bus:       eventBus,
	}, syslog.Zerolog())
	if err != nil {
		return nil, err
	}

	return &app{
		bus:       eventBus,
		catalog:   catalog,
		executor:  executor,
		pipeline:  pipeline,
		companion: orch,
	}, nil
}

// applyReload pushes the live-reloadable settings into running components
func (a *app) applyReload(next *config.Config, logger zerolog.Logger) {
	if err := logging.SetLevel(next.Log.Level); err != nil {
		logger.Warn().Err(err).Msg("ignoring invalid log level")
	}
	a.executor.SetDestinations(next.Actions.Destinations)
	logger.Info().
		Str("level", next.Log.Level).
		Int("destinations", len(next.Actions.Destinations)).
		Msg("configuration reloaded")
	a.bus.Publish(bus.Event{
		Type: bus.EventTypeConfigReloaded,
		Data: map[string]any{"file": next.File()},
	})
}

func newGenerator(c *config.Config) (llm.Generator, error) {
	switch c.Backend.Provider {
	case "openai":
		return llm.NewOpenAIGenerator(c.GeneratorConfig(), syslog.Component("llm")), nil
	case "mock":
		return mockGenerator(), nil
	}
	return nil, fmt.Errorf("unknown backend provider: %s", c.Backend.Provider)
}

func newSpeechProvider(c *config.Config) tts.Provider {
	switch c.Speech.Provider {
	case "openai":
		return tts.NewOpenAIProvider(syslog.Component("tts"), c.OpenAISpeechConfig())
	case "http":
		return tts.NewHTTPProvider(c.HTTPSpeechConfig(), syslog.Component("tts"))
	}
	return tts.NopProvider{}
}

var mockReplies = []string{
	"Hmm, tell me more. [TEASING]",
	"W-what? You can't just say that! [SHY]",
	"Obviously I was right. [SMUG]",
	"That actually made my day. [HAPPY]",
	"On it, pulling up videos. [SMUG] [ACTION: YOUTUBE_OPEN]",
	"Ugh. Really? [UPSET]",
}

// mockGenerator cycles through canned replies without a backend
func mockGenerator() llm.Generator {
	var n atomic.Uint64
	return llm.GeneratorFunc(func(ctx context.Context, _ llm.Request) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		i := n.Add(1) - 1
		return mockReplies[i%uint64(len(mockReplies))], nil
	})
}
