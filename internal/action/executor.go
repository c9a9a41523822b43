// Package action maps action tokens from model replies to side effects.
package action

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/browser"
	"github.com/rs/zerolog"

	"github.com/normanking/cortexcompanion/internal/bus"
	"github.com/normanking/cortexcompanion/internal/metrics"
)

// StatusPrefix starts every status line an action produces
const StatusPrefix = "SYSTEM OVERRIDE: "

// Destination binds a keyword to the URL opened when a token contains it
type Destination struct {
	Keyword string `mapstructure:"keyword" json:"keyword"`
	URL     string `mapstructure:"url" json:"url"`
}

// DefaultDestinations returns the built-in keyword table
func DefaultDestinations() []Destination {
	return []Destination{
		{Keyword: "YOUTUBE", URL: "https://youtube.com"},
		{Keyword: "SEARCH", URL: "https://google.com"},
	}
}

// Navigator opens a URL somewhere the user can see it
type Navigator interface {
	Navigate(ctx context.Context, url string) error
}

// BrowserNavigator opens URLs with the host's default browser
type BrowserNavigator struct{}

// Navigate opens url locally
func (BrowserNavigator) Navigate(_ context.Context, url string) error {
	return browser.OpenURL(url)
}

// ClientNavigator asks connected clients to open the URL
type ClientNavigator struct {
	Bus *bus.EventBus
}

// Navigate publishes a navigate event
func (n ClientNavigator) Navigate(_ context.Context, url string) error {
	n.Bus.Publish(bus.Event{
		Type: bus.EventTypeActionNavigate,
		Data: map[string]any{"url": url},
	})
	return nil
}

// NopNavigator does nothing
type NopNavigator struct{}

// Navigate is a no-op
func (NopNavigator) Navigate(context.Context, string) error { return nil }

// Outcome is what executing a token produced
type Outcome struct {
	Token  string
	Status string
	Opened []string
}

// Executor runs action tokens
type Executor struct {
	mu           sync.RWMutex
	destinations []Destination
	navigator    Navigator
	logger       zerolog.Logger
}

// NewExecutor creates an executor. A nil navigator disables navigation and
// empty destinations fall back to the defaults.
func NewExecutor(destinations []Destination, navigator Navigator, logger zerolog.Logger) *Executor {
	if navigator == nil {
		navigator = NopNavigator{}
	}
	if len(destinations) == 0 {
		destinations = DefaultDestinations()
	}
	return &Executor{
		destinations: destinations,
		navigator:    navigator,
		logger:       logger.With().Str("component", "action").Logger(),
	}
}

// SetDestinations replaces the keyword table
func (e *Executor) SetDestinations(destinations []Destination) {
	if len(destinations) == 0 {
		destinations = DefaultDestinations()
	}
	e.mu.Lock()
	e.destinations = destinations
	e.mu.Unlock()
}

// Status formats the status line for a token
func Status(token string) string {
	return StatusPrefix + token
}

// Execute opens every destination whose keyword is a substring of token,
// each at most once and in table order. Navigation errors are logged.
func (e *Executor) Execute(ctx context.Context, token string) Outcome {
	e.mu.RLock()
	destinations := e.destinations
	e.mu.RUnlock()

	out := Outcome{Token: token, Status: Status(token)}
	seen := make(map[string]bool, len(destinations))

	for _, d := range destinations {
		if d.Keyword == "" || seen[d.Keyword] || !strings.Contains(token, d.Keyword) {
			continue
		}
		seen[d.Keyword] = true

		if err := e.navigator.Navigate(ctx, d.URL); err != nil {
			e.logger.Warn().Err(err).Str("token", token).Str("url", d.URL).Msg("navigation failed")
			continue
		}
		out.Opened = append(out.Opened, d.URL)
	}

	metrics.ActionCount.WithLabelValues(token).Inc()
	e.logger.Info().
		Str("token", token).
		Strs("opened", out.Opened).
		Msg("action executed")

	return out
}

// NewNavigator picks a navigator by name: "local" opens the host browser,
// "client" forwards to connected clients, "none" disables navigation.
func NewNavigator(name string, b *bus.EventBus) (Navigator, error) {
	switch name {
	case "local", "browser":
		return BrowserNavigator{}, nil
	case "client", "":
		if b == nil {
			return nil, fmt.Errorf("client navigator requires an event bus")
		}
		return ClientNavigator{Bus: b}, nil
	case "none":
		return NopNavigator{}, nil
	}
	return nil, fmt.Errorf("unknown navigator: %s", name)
}
