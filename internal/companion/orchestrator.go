// Package companion coordinates a conversation turn from user input to
// the presented reply: memory, affection, state, actions and speech.
//
// All mutable session state is owned by a single actor goroutine (Run).
// Every operation and every asynchronous completion is funneled through
// its task queue, so mutations are serialized without further locking.
package companion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/cortexcompanion/internal/action"
	"github.com/normanking/cortexcompanion/internal/affection"
	"github.com/normanking/cortexcompanion/internal/avatar"
	"github.com/normanking/cortexcompanion/internal/bus"
	"github.com/normanking/cortexcompanion/internal/conversation"
	"github.com/normanking/cortexcompanion/internal/llm"
	"github.com/normanking/cortexcompanion/internal/metrics"
	"github.com/normanking/cortexcompanion/internal/persona"
	"github.com/normanking/cortexcompanion/internal/speech"
	"github.com/normanking/cortexcompanion/internal/tags"
)

// FallbackReply substitutes for the backend's answer when it fails
const FallbackReply = "System connection unstable... give me a moment. [UPSET]"

var (
	// ErrEmptyInput is returned for input that is blank after trimming
	ErrEmptyInput = errors.New("empty input")
	// ErrStopped is returned once the orchestrator has shut down
	ErrStopped = errors.New("orchestrator stopped")
)

// SwitchPolicy decides what a character switch does to the session
type SwitchPolicy string

const (
	// SwitchCarry keeps history and affection across characters
	SwitchCarry SwitchPolicy = "carry"
	// SwitchReset clears history and restores the initial affection
	SwitchReset SwitchPolicy = "reset"
)

// Config configures the orchestrator
type Config struct {
	DefaultCharacter string
	InitialAffection int
	ContextWindow    int
	ActionClearDelay time.Duration
	SwitchPolicy     SwitchPolicy
	FallbackReply    string
	BackendTimeout   time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		DefaultCharacter: "priya",
		InitialAffection: affection.Initial,
		ContextWindow:    conversation.DefaultWindow,
		ActionClearDelay: 3 * time.Second,
		SwitchPolicy:     SwitchCarry,
		FallbackReply:    FallbackReply,
		BackendTimeout:   30 * time.Second,
	}
}

// Deps are the collaborators the orchestrator drives
type Deps struct {
	Generator llm.Generator
	Catalog   *persona.Catalog
	Executor  *action.Executor
	Speech    *speech.Pipeline
	Bus       *bus.EventBus
}

// Snapshot is the render-facing view of the session
type Snapshot struct {
	State       avatar.CompanionState `json:"state"`
	IsThinking  bool                  `json:"isThinking"`
	IsTalking   bool                  `json:"isTalking"`
	IsListening bool                  `json:"isListening"`
	Affection   int                   `json:"affection"`
	Character   string                `json:"character"`
	Status      string                `json:"status,omitempty"`
}

// PendingAction is the action whose status line is currently shown
type PendingAction struct {
	Label     string    `json:"label"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Ticket tracks one submitted message
type Ticket struct {
	RequestID uint64
	Turn      conversation.Turn
	done      <-chan struct{}
}

// Done is closed once the reply has been applied or discarded
func (t Ticket) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until Done or ctx ends
func (t Ticket) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type timer interface {
	Stop() bool
}

// Orchestrator is the session hub
type Orchestrator struct {
	config    *Config
	generator llm.Generator
	catalog   *persona.Catalog
	executor  *action.Executor
	speech    *speech.Pipeline
	bus       *bus.EventBus
	logger    zerolog.Logger

	store     *conversation.Store
	affection *affection.Tracker
	avatar    *avatar.Controller

	now       func() time.Time
	afterFunc func(time.Duration, func()) timer

	tasks   chan func()
	stopped chan struct{}
	once    sync.Once
	wg      sync.WaitGroup

	// Read by Snapshot from any goroutine, written only on the actor
	mu        sync.RWMutex
	character *persona.CharacterProfile
	pending   *PendingAction

	// Actor-only
	runCtx      context.Context
	requestID   uint64
	actionTimer timer
	actionID    uint64
}

// New creates an orchestrator. Run must be started before use.
func New(config *Config, deps Deps, logger zerolog.Logger) (*Orchestrator, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if deps.Generator == nil {
		return nil, errors.New("generator is required")
	}
	if deps.Catalog == nil {
		deps.Catalog = persona.Builtin()
	}
	if deps.Bus == nil {
		deps.Bus = bus.NewEventBus()
	}
	if deps.Executor == nil {
		deps.Executor = action.NewExecutor(nil, action.ClientNavigator{Bus: deps.Bus}, logger)
	}
	if deps.Speech == nil {
		deps.Speech = speech.NewPipeline(nil, nil, nil, logger)
	}
	if config.FallbackReply == "" {
		config.FallbackReply = FallbackReply
	}
	if config.ContextWindow <= 0 {
		config.ContextWindow = conversation.DefaultWindow
	}

	charID := config.DefaultCharacter
	if charID == "" {
		charID = deps.Catalog.Default
	}
	character, err := deps.Catalog.Get(charID)
	if err != nil {
		return nil, fmt.Errorf("default character: %w", err)
	}

	o := &Orchestrator{
		config:    config,
		generator: deps.Generator,
		catalog:   deps.Catalog,
		executor:  deps.Executor,
		speech:    deps.Speech,
		bus:       deps.Bus,
		logger:    logger.With().Str("component", "companion").Logger(),
		store:     conversation.NewStore(),
		affection: affection.NewTracker(config.InitialAffection),
		avatar:    avatar.NewController(),
		now:       time.Now,
		afterFunc: func(d time.Duration, f func()) timer { return time.AfterFunc(d, f) },
		tasks:     make(chan func(), 256),
		stopped:   make(chan struct{}),
		character: character,
		runCtx:    context.Background(),
	}

	o.avatar.SetStateHandler(func(avatar.State) {
		o.publishSnapshot(bus.EventTypeStateChanged)
	})
	o.speech.SetSink(speechSink{o})
	metrics.Affection.Set(float64(o.affection.Level()))

	return o, nil
}

// Run processes tasks until ctx is cancelled
func (o *Orchestrator) Run(ctx context.Context) error {
	o.runCtx = ctx
	o.logger.Info().Str("character", o.currentCharacter().ID).Msg("companion running")

	defer o.shutdown()
	for {
		select {
		case <-ctx.Done():
			return nil
		case task := <-o.tasks:
			task()
		}
	}
}

func (o *Orchestrator) shutdown() {
	o.once.Do(func() {
		close(o.stopped)
		if o.actionTimer != nil {
			o.actionTimer.Stop()
		}
		o.speech.Stop()
		o.logger.Info().Msg("companion stopped")
	})
}

// Wait blocks until in-flight backend calls and actions have returned
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// post queues fn on the actor. It returns false if the actor has stopped.
func (o *Orchestrator) post(fn func()) bool {
	select {
	case <-o.stopped:
		return false
	default:
	}
	select {
	case o.tasks <- fn:
		return true
	case <-o.stopped:
		return false
	}
}

// call runs fn on the actor and waits for it. ctx bounds only the wait for
// a queue slot: once fn is queued it runs, and call reports its completion.
func (o *Orchestrator) call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	task := func() { defer close(done); fn() }

	select {
	case <-o.stopped:
		return ErrStopped
	default:
	}
	select {
	case o.tasks <- task:
	case <-o.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-o.stopped:
		select {
		case <-done:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Submit sends user text. When it returns without error the user turn is
// recorded, affection updated and the state is Processing; the reply is
// applied later on the actor.
func (o *Orchestrator) Submit(ctx context.Context, text string) (Ticket, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Ticket{}, ErrEmptyInput
	}

	var ticket Ticket
	err := o.call(ctx, func() { ticket = o.beginTurn(text) })
	return ticket, err
}

// SubmitTranscript submits recognized speech
func (o *Orchestrator) SubmitTranscript(ctx context.Context, text string) error {
	_, err := o.Submit(ctx, text)
	return err
}

func (o *Orchestrator) beginTurn(text string) Ticket {
	// Context excludes the turn being sent
	recent := o.store.RecentWindow(o.config.ContextWindow)

	turn := o.store.Append(conversation.RoleUser, text)
	o.publish(bus.EventTypeTurnAppended, map[string]any{"turn": turn})

	old, level := o.affection.Apply(text)
	if old != level {
		metrics.Affection.Set(float64(level))
		o.publish(bus.EventTypeAffectionChanged, map[string]any{"old": old, "new": level})
	}

	o.bargeIn()
	o.setState(avatar.StateProcessing)
	o.avatar.SetThinking(true)

	o.requestID++
	id := o.requestID

	character := o.currentCharacter()
	prompt, err := character.SystemPrompt(level)
	if err != nil {
		o.logger.Error().Err(err).Str("character", character.ID).Msg("failed to build system prompt")
	}

	req := llm.Request{
		Message: text,
		Context: llm.Context{
			Stats:        llm.DefaultStats(level, o.now()),
			RecentTurns:  recent,
			SystemPrompt: prompt,
		},
	}

	o.logger.Info().
		Uint64("request_id", id).
		Int("affection", level).
		Int("context_turns", len(recent)).
		Msg("message submitted")

	done := make(chan struct{})
	o.wg.Add(1)
	go o.generate(o.runCtx, id, req, done)

	return Ticket{RequestID: id, Turn: turn, done: done}
}

func (o *Orchestrator) generate(ctx context.Context, id uint64, req llm.Request, done chan struct{}) {
	defer o.wg.Done()

	if o.config.BackendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.BackendTimeout)
		defer cancel()
	}

	start := time.Now()
	reply, err := o.generator.Generate(ctx, req)
	metrics.BackendLatency.Observe(time.Since(start).Seconds())

	if !o.post(func() { o.applyReply(id, reply, err, done) }) {
		close(done)
	}
}

func (o *Orchestrator) applyReply(id uint64, reply string, err error, done chan struct{}) {
	defer close(done)

	if id != o.requestID {
		metrics.RequestCount.WithLabelValues(metrics.OutcomeStale).Inc()
		o.logger.Debug().Uint64("request_id", id).Uint64("latest", o.requestID).Msg("discarding stale reply")
		return
	}

	outcome := metrics.OutcomeOK
	if err != nil {
		outcome = metrics.OutcomeFallback
		o.logger.Warn().Err(err).Uint64("request_id", id).Msg("backend failed, using fallback reply")
		reply = o.config.FallbackReply
	}
	metrics.RequestCount.WithLabelValues(outcome).Inc()

	o.avatar.SetThinking(false)

	parsed := tags.Parse(reply)
	o.setState(parsed.State())

	// Executing overrides the parsed emotion
	if parsed.HasAction() {
		o.runAction(parsed.Action)
	}

	turn := o.store.Append(conversation.RoleAssistant, parsed.DisplayText)
	o.publish(bus.EventTypeTurnAppended, map[string]any{"turn": turn})

	o.speak(reply)

	o.logger.Info().
		Uint64("request_id", id).
		Str("emotion", string(parsed.Emotion)).
		Str("action", parsed.Action).
		Msg("reply applied")
}

func (o *Orchestrator) runAction(token string) {
	ctx := o.runCtx
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		out := o.executor.Execute(ctx, token)
		o.post(func() { o.actionExecuted(out) })
	}()

	st := o.setState(avatar.StateExecuting)
	status := action.Status(token)

	if o.actionTimer != nil {
		o.actionTimer.Stop()
	}
	o.actionID++
	actionID, seq := o.actionID, st.Seq

	delay := o.config.ActionClearDelay
	o.setPending(&PendingAction{Label: status, ExpiresAt: o.now().Add(delay)})
	o.actionTimer = o.afterFunc(delay, func() {
		o.post(func() { o.expireAction(actionID, seq) })
	})
}

func (o *Orchestrator) actionExecuted(out action.Outcome) {
	opened := out.Opened
	if opened == nil {
		opened = []string{}
	}
	o.logger.Debug().Str("token", out.Token).Strs("opened", opened).Msg("action finished")
	o.publish(bus.EventTypeActionExecuted, map[string]any{
		"token":  out.Token,
		"status": out.Status,
		"opened": opened,
	})
}

// expireAction clears the status line of the current action and returns to
// Idle unless a newer transition already moved the state on.
func (o *Orchestrator) expireAction(actionID, seq uint64) {
	if actionID != o.actionID {
		return
	}
	o.actionTimer = nil
	o.setPending(nil)

	if o.avatar.SetIfSeq(seq, avatar.StateIdle) {
		metrics.StateTransitions.WithLabelValues(string(avatar.StateIdle)).Inc()
	}
}

func (o *Orchestrator) speak(reply string) {
	voice := o.currentCharacter().VoiceID
	if _, ok := o.speech.Speak(o.runCtx, reply, voice); ok {
		o.setState(avatar.StateSpeaking)
	}
}

// bargeIn stops any utterance still playing
func (o *Orchestrator) bargeIn() {
	if o.speech.Stop() {
		o.avatar.SetTalking(false)
	}
}

func (o *Orchestrator) setState(s avatar.CompanionState) avatar.State {
	metrics.StateTransitions.WithLabelValues(string(s)).Inc()
	return o.avatar.Set(s)
}

func (o *Orchestrator) setPending(p *PendingAction) {
	o.mu.Lock()
	o.pending = p
	o.mu.Unlock()
	o.publishSnapshot(bus.EventTypeStatusChanged)
}

func (o *Orchestrator) currentCharacter() *persona.CharacterProfile {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.character
}

// speechSink routes pipeline milestones back onto the actor
type speechSink struct{ o *Orchestrator }

func (s speechSink) Playing(gen uint64) {
	s.o.post(func() {
		if gen != s.o.speech.Current() {
			return
		}
		s.o.avatar.SetTalking(true)
	})
}

func (s speechSink) Finished(gen uint64, err error) {
	s.o.post(func() {
		if gen != s.o.speech.Current() {
			return
		}
		s.o.avatar.SetTalking(false)
		if s.o.avatar.SetIfCurrent(avatar.StateSpeaking, avatar.StateIdle) {
			metrics.StateTransitions.WithLabelValues(string(avatar.StateIdle)).Inc()
		}
		if err != nil {
			s.o.logger.Debug().Err(err).Uint64("gen", gen).Msg("speech ended with error")
		}
	})
}
