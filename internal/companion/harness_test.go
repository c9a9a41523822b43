package companion

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortexcompanion/internal/action"
	"github.com/normanking/cortexcompanion/internal/avatar"
	"github.com/normanking/cortexcompanion/internal/bus"
	"github.com/normanking/cortexcompanion/internal/llm"
	"github.com/normanking/cortexcompanion/internal/speech"
	"github.com/normanking/cortexcompanion/internal/tts"
)

type fakeTimer struct {
	mu      sync.Mutex
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (t *fakeTimer) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) timer(i int) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timers[i]
}

func (c *fakeClock) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// stubTTS returns a short PCM clip or a fixed error
type stubTTS struct {
	mu    sync.Mutex
	err   error
	texts []string
}

func (s *stubTTS) Name() string { return "stub" }

func (s *stubTTS) Synthesize(_ context.Context, req *tts.SynthesizeRequest) (*tts.SynthesizeResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, req.Text)
	if s.err != nil {
		return nil, s.err
	}
	return &tts.SynthesizeResponse{Audio: []byte{0, 0, 0, 0}, SampleRate: tts.DefaultSampleRate}, nil
}

func (s *stubTTS) Health(context.Context) error { return nil }

func (s *stubTTS) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

// gatePlayer blocks playback until release is closed
type gatePlayer struct {
	release chan struct{}
}

func (g *gatePlayer) Play(ctx context.Context, _ speech.Clip) error {
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type recordingNavigator struct {
	mu   sync.Mutex
	urls []string
}

func (n *recordingNavigator) Navigate(_ context.Context, url string) error {
	n.mu.Lock()
	n.urls = append(n.urls, url)
	n.mu.Unlock()
	return nil
}

func (n *recordingNavigator) opened() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.urls...)
}

type harness struct {
	t      *testing.T
	o      *Orchestrator
	bus    *bus.EventBus
	clock  *fakeClock
	tts    *stubTTS
	player *gatePlayer
	nav    *recordingNavigator

	mu     sync.Mutex
	states []avatar.CompanionState
}

func newHarness(t *testing.T, gen llm.Generator, mutate ...func(*Config)) *harness {
	t.Helper()

	cfg := DefaultConfig()
	for _, m := range mutate {
		m(cfg)
	}

	logger := zerolog.Nop()
	b := bus.NewEventBus()
	h := &harness{
		t:      t,
		bus:    b,
		clock:  &fakeClock{},
		tts:    &stubTTS{},
		player: &gatePlayer{release: make(chan struct{})},
		nav:    &recordingNavigator{},
	}

	pipeline := speech.NewPipeline(h.tts, h.player, nil, logger)
	executor := action.NewExecutor(nil, h.nav, logger)

	o, err := New(cfg, Deps{
		Generator: gen,
		Executor:  executor,
		Speech:    pipeline,
		Bus:       b,
	}, logger)
	require.NoError(t, err)
	o.afterFunc = h.clock.AfterFunc
	h.o = o

	b.Subscribe(bus.EventTypeStateChanged, func(e bus.Event) {
		snap := e.Data["snapshot"].(Snapshot)
		h.mu.Lock()
		defer h.mu.Unlock()
		if n := len(h.states); n == 0 || h.states[n-1] != snap.State {
			h.states = append(h.states, snap.State)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		o.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		pipeline.Wait()
	})

	return h
}

// sync waits until every task queued so far has run
func (h *harness) sync() {
	h.t.Helper()
	require.NoError(h.t, h.o.call(context.Background(), func() {}))
}

func (h *harness) submit(text string) Ticket {
	h.t.Helper()
	ticket, err := h.o.Submit(context.Background(), text)
	require.NoError(h.t, err)
	return ticket
}

func (h *harness) submitAndWait(text string) Ticket {
	h.t.Helper()
	ticket := h.submit(text)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(h.t, ticket.Wait(ctx))
	return ticket
}

func (h *harness) stateLog() []avatar.CompanionState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]avatar.CompanionState(nil), h.states...)
}

// blockingGenerator answers per message; messages listed in gates wait for
// their channel to close first.
type blockingGenerator struct {
	mu       sync.Mutex
	replies  map[string]string
	gates    map[string]chan struct{}
	requests []llm.Request
}

func newBlockingGenerator() *blockingGenerator {
	return &blockingGenerator{
		replies: make(map[string]string),
		gates:   make(map[string]chan struct{}),
	}
}

func (g *blockingGenerator) reply(msg, reply string) *blockingGenerator {
	g.replies[msg] = reply
	return g
}

func (g *blockingGenerator) gate(msg string) chan struct{} {
	ch := make(chan struct{})
	g.gates[msg] = ch
	return ch
}

func (g *blockingGenerator) Generate(ctx context.Context, req llm.Request) (string, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	gate := g.gates[req.Message]
	reply := g.replies[req.Message]
	g.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return reply, nil
}

func (g *blockingGenerator) lastRequest() llm.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests[len(g.requests)-1]
}

func zeroLogger() zerolog.Logger {
	return zerolog.Nop()
}
