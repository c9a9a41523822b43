package companion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortexcompanion/internal/avatar"
	"github.com/normanking/cortexcompanion/internal/bus"
	"github.com/normanking/cortexcompanion/internal/conversation"
	"github.com/normanking/cortexcompanion/internal/llm"
	"github.com/normanking/cortexcompanion/internal/persona"
)

const waitFor = 2 * time.Second

func TestNew_RequiresGenerator(t *testing.T) {
	_, err := New(nil, Deps{}, zeroLogger())
	assert.Error(t, err)
}

func TestNew_UnknownDefaultCharacter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultCharacter = "nobody"
	_, err := New(cfg, Deps{Generator: llm.NewScriptedGenerator()}, zeroLogger())
	assert.ErrorIs(t, err, persona.ErrUnknownCharacter)
}

func TestSubmit_BlankInputIsIgnored(t *testing.T) {
	gen := llm.NewScriptedGenerator("hi")
	h := newHarness(t, gen)

	_, err := h.o.Submit(context.Background(), "   \n\t")

	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.Empty(t, h.o.History())
	assert.Equal(t, avatar.StateIdle, h.o.Snapshot().State)
	assert.Empty(t, gen.Requests())
}

func TestSubmit_UserTurnVisibleBeforeReply(t *testing.T) {
	gen := newBlockingGenerator().reply("hello", "Hey you.")
	release := gen.gate("hello")
	h := newHarness(t, gen)

	ticket := h.submit("  hello  ")

	history := h.o.History()
	require.Len(t, history, 1)
	assert.Equal(t, conversation.RoleUser, history[0].Role)
	assert.Equal(t, "hello", history[0].Content)
	assert.Equal(t, ticket.Turn.ID, history[0].ID)

	snap := h.o.Snapshot()
	assert.Equal(t, avatar.StateProcessing, snap.State)
	assert.True(t, snap.IsThinking)

	close(release)
	require.NoError(t, ticket.Wait(waitCtx(t)))

	history = h.o.History()
	require.Len(t, history, 2)
	assert.Equal(t, conversation.RoleAssistant, history[1].Role)
	assert.Equal(t, "Hey you.", history[1].Content)
	assert.False(t, h.o.Snapshot().IsThinking)
}

func TestSubmit_MeanMessageUpsetsCompanion(t *testing.T) {
	gen := llm.NewScriptedGenerator("Whatever. [UPSET]")
	h := newHarness(t, gen)

	var affectionEvents []map[string]any
	h.bus.Subscribe(bus.EventTypeAffectionChanged, func(e bus.Event) {
		affectionEvents = append(affectionEvents, e.Data)
	})

	h.submitAndWait("you are so stupid")
	h.sync()

	assert.Equal(t, 40, h.o.Snapshot().Affection)
	require.Len(t, affectionEvents, 1)
	assert.Equal(t, 50, affectionEvents[0]["old"])
	assert.Equal(t, 40, affectionEvents[0]["new"])

	history := h.o.History()
	require.Len(t, history, 2)
	assert.Equal(t, "Whatever.", history[1].Content)

	assert.Equal(t, []avatar.CompanionState{
		avatar.StateProcessing,
		avatar.StateUpset,
		avatar.StateSpeaking,
	}, h.stateLog())

	// The spoken text has its tags removed
	require.Eventually(t, func() bool { return len(h.tts.calls()) == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, "Whatever.", h.tts.calls()[0])
}

func TestSubmit_BackendFailureUsesFallback(t *testing.T) {
	gen := llm.NewScriptedGenerator()
	gen.Err = errors.New("connection refused")
	h := newHarness(t, gen)

	h.submitAndWait("hello")

	history := h.o.History()
	require.Len(t, history, 2)
	assert.Equal(t, "System connection unstable... give me a moment.", history[1].Content)
	assert.Contains(t, h.stateLog(), avatar.StateUpset)
	assert.False(t, h.o.Snapshot().IsThinking)
}

func TestSubmit_RequestCarriesWindowAndUpdatedStats(t *testing.T) {
	gen := llm.NewScriptedGenerator("ok")
	gen.Loop = true
	h := newHarness(t, gen)
	fixed := time.UnixMilli(1_700_000_000_000)
	h.o.now = func() time.Time { return fixed }

	for _, msg := range []string{"one", "two", "three", "four"} {
		h.submitAndWait(msg)
	}
	h.submitAndWait("you are so stupid")

	requests := gen.Requests()
	require.Len(t, requests, 5)
	first := requests[0]
	assert.Empty(t, first.Context.RecentTurns)

	last := requests[4]
	assert.Equal(t, "you are so stupid", last.Message)
	require.Len(t, last.Context.RecentTurns, conversation.DefaultWindow)
	assert.Equal(t, "three", last.Context.RecentTurns[1].Content)
	assert.Equal(t, conversation.RoleAssistant, last.Context.RecentTurns[4].Role)
	for _, turn := range last.Context.RecentTurns {
		assert.NotEqual(t, "you are so stupid", turn.Content)
	}

	assert.Equal(t, 40, last.Context.Stats.Affection)
	assert.Equal(t, 100, last.Context.Stats.SystemIntegrity)
	assert.Equal(t, fixed.UnixMilli(), last.Context.Stats.LastUpdated)
	assert.Contains(t, last.Context.SystemPrompt, "CURRENT AFFECTION: 40/100")
}

func TestSubmit_StaleReplyIsDiscarded(t *testing.T) {
	gen := newBlockingGenerator().
		reply("first", "Late answer [HAPPY]").
		reply("second", "Fresh answer [SMUG]")
	release := gen.gate("first")
	h := newHarness(t, gen)

	firstTicket := h.submit("first")
	h.submitAndWait("second")

	close(release)
	require.NoError(t, firstTicket.Wait(waitCtx(t)))

	history := h.o.History()
	require.Len(t, history, 3)
	assert.Equal(t, "first", history[0].Content)
	assert.Equal(t, "second", history[1].Content)
	assert.Equal(t, "Fresh answer", history[2].Content)
	assert.NotContains(t, h.stateLog(), avatar.StateHappy)
}

func TestAction_StatusClearsAfterDelay(t *testing.T) {
	gen := llm.NewScriptedGenerator("[ACTION: YOUTUBE_OPEN]")
	h := newHarness(t, gen)

	h.submitAndWait("play something")

	snap := h.o.Snapshot()
	assert.Equal(t, avatar.StateExecuting, snap.State)
	assert.Equal(t, "SYSTEM OVERRIDE: YOUTUBE_OPEN", snap.Status)
	require.NotNil(t, h.o.Pending())

	require.Equal(t, 1, h.clock.count())
	assert.Equal(t, 3*time.Second, h.clock.timer(0).d)

	require.Eventually(t, func() bool {
		return len(h.nav.opened()) == 1
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, []string{"https://youtube.com"}, h.nav.opened())

	// Nothing left to say once the tag is removed
	assert.Empty(t, h.tts.calls())

	h.clock.timer(0).f()
	h.sync()

	snap = h.o.Snapshot()
	assert.Equal(t, avatar.StateIdle, snap.State)
	assert.Empty(t, snap.Status)
	assert.Nil(t, h.o.Pending())
}

func TestAction_PublishesOutcome(t *testing.T) {
	gen := llm.NewScriptedGenerator("Searching videos. [ACTION: YOUTUBE_SEARCH]")
	h := newHarness(t, gen)

	executed := make(chan map[string]any, 1)
	h.bus.Subscribe(bus.EventTypeActionExecuted, func(e bus.Event) { executed <- e.Data })

	h.submitAndWait("find a song")

	var data map[string]any
	select {
	case data = <-executed:
	case <-time.After(waitFor):
		t.Fatal("no action.executed event")
	}
	assert.Equal(t, "YOUTUBE_SEARCH", data["token"])
	assert.Equal(t, "SYSTEM OVERRIDE: YOUTUBE_SEARCH", data["status"])
	assert.Equal(t, []string{"https://youtube.com", "https://google.com"}, data["opened"])
}

func TestAction_OverridesParsedEmotion(t *testing.T) {
	gen := llm.NewScriptedGenerator("On it. [SMUG] [ACTION: SEARCH_WEB]")
	h := newHarness(t, gen)

	h.submitAndWait("look it up")

	assert.Equal(t, []avatar.CompanionState{
		avatar.StateProcessing,
		avatar.StateSmug,
		avatar.StateExecuting,
		avatar.StateSpeaking,
	}, h.stateLog())
	assert.Equal(t, "SYSTEM OVERRIDE: SEARCH_WEB", h.o.Snapshot().Status)
}

func TestAction_ExpiryKeepsNewerState(t *testing.T) {
	gen := newBlockingGenerator().
		reply("open it", "[ACTION: YOUTUBE]").
		reply("next", "sure")
	release := gen.gate("next")
	h := newHarness(t, gen)

	h.submitAndWait("open it")
	next := h.submit("next")
	require.Equal(t, avatar.StateProcessing, h.o.Snapshot().State)

	h.clock.timer(0).f()
	h.sync()

	snap := h.o.Snapshot()
	assert.Equal(t, avatar.StateProcessing, snap.State)
	assert.Empty(t, snap.Status)

	close(release)
	require.NoError(t, next.Wait(waitCtx(t)))
}

func TestAction_NewActionReplacesTimer(t *testing.T) {
	gen := llm.NewScriptedGenerator("[ACTION: YOUTUBE]", "[ACTION: SEARCH]")
	h := newHarness(t, gen)

	h.submitAndWait("first")
	h.submitAndWait("second")

	require.Equal(t, 2, h.clock.count())
	assert.True(t, h.clock.timer(0).isStopped())

	// A timer that fires despite being stopped changes nothing
	h.clock.timer(0).f()
	h.sync()

	snap := h.o.Snapshot()
	assert.Equal(t, avatar.StateExecuting, snap.State)
	assert.Equal(t, "SYSTEM OVERRIDE: SEARCH", snap.Status)

	h.clock.timer(1).f()
	h.sync()
	assert.Empty(t, h.o.Snapshot().Status)
}

func TestSpeech_PlaybackEndReturnsToIdle(t *testing.T) {
	gen := llm.NewScriptedGenerator("Hi there! [HAPPY]")
	h := newHarness(t, gen)

	h.submitAndWait("hello")
	assert.Equal(t, avatar.StateSpeaking, h.o.Snapshot().State)

	require.Eventually(t, func() bool {
		return h.o.Snapshot().IsTalking
	}, waitFor, 5*time.Millisecond)

	close(h.player.release)

	require.Eventually(t, func() bool {
		snap := h.o.Snapshot()
		return snap.State == avatar.StateIdle && !snap.IsTalking
	}, waitFor, 5*time.Millisecond)
}

func TestSpeech_SynthesisFailureReturnsToIdle(t *testing.T) {
	gen := llm.NewScriptedGenerator("Hi there!")
	h := newHarness(t, gen)
	h.tts.err = errors.New("quota exceeded")

	h.submitAndWait("hello")

	require.Eventually(t, func() bool {
		snap := h.o.Snapshot()
		return snap.State == avatar.StateIdle && !snap.IsTalking
	}, waitFor, 5*time.Millisecond)
	assert.Len(t, h.o.History(), 2)
}

func TestSpeech_NewMessageInterruptsPlayback(t *testing.T) {
	gen := newBlockingGenerator().
		reply("hello", "A long story...").
		reply("stop", "Fine.")
	release := gen.gate("stop")
	h := newHarness(t, gen)

	h.submitAndWait("hello")
	require.Eventually(t, func() bool {
		return h.o.Snapshot().IsTalking
	}, waitFor, 5*time.Millisecond)

	ticket := h.submit("stop")

	snap := h.o.Snapshot()
	assert.Equal(t, avatar.StateProcessing, snap.State)
	assert.False(t, snap.IsTalking)

	close(release)
	require.NoError(t, ticket.Wait(waitCtx(t)))
}

func TestListening_StartAndEnd(t *testing.T) {
	h := newHarness(t, llm.NewScriptedGenerator())

	h.o.ListeningStarted()
	h.sync()

	snap := h.o.Snapshot()
	assert.Equal(t, avatar.StateListening, snap.State)
	assert.True(t, snap.IsListening)

	h.o.ListeningEnded()
	h.sync()

	snap = h.o.Snapshot()
	assert.Equal(t, avatar.StateIdle, snap.State)
	assert.False(t, snap.IsListening)
}

func TestListening_EndKeepsLaterState(t *testing.T) {
	gen := newBlockingGenerator().reply("hi", "hey")
	release := gen.gate("hi")
	h := newHarness(t, gen)

	h.o.ListeningStarted()
	ticket := h.submit("hi")
	h.o.ListeningEnded()
	h.sync()

	snap := h.o.Snapshot()
	assert.Equal(t, avatar.StateProcessing, snap.State)
	assert.False(t, snap.IsListening)

	close(release)
	require.NoError(t, ticket.Wait(waitCtx(t)))
}

func TestListening_SilencesSpeech(t *testing.T) {
	h := newHarness(t, llm.NewScriptedGenerator("Let me tell you something."))

	h.submitAndWait("hello")
	require.Eventually(t, func() bool {
		return h.o.Snapshot().IsTalking
	}, waitFor, 5*time.Millisecond)

	h.o.ListeningStarted()
	h.sync()

	snap := h.o.Snapshot()
	assert.Equal(t, avatar.StateListening, snap.State)
	assert.False(t, snap.IsTalking)
}

func TestSelectCharacter_CarryKeepsSession(t *testing.T) {
	h := newHarness(t, llm.NewScriptedGenerator("Aww [SHY]"))

	h.submitAndWait("thanks")
	require.NoError(t, h.o.SelectCharacter(context.Background(), "dhruva"))

	snap := h.o.Snapshot()
	assert.Equal(t, "dhruva", snap.Character)
	assert.Equal(t, 55, snap.Affection)
	assert.Len(t, h.o.History(), 2)
	assert.Equal(t, "onyx", h.o.Character().VoiceID)
}

func TestSelectCharacter_ResetClearsSession(t *testing.T) {
	h := newHarness(t, llm.NewScriptedGenerator("Aww [SHY]"), func(c *Config) {
		c.SwitchPolicy = SwitchReset
	})

	var resets int
	h.bus.Subscribe(bus.EventTypeHistoryReset, func(bus.Event) { resets++ })

	h.submitAndWait("thanks")
	require.NoError(t, h.o.SelectCharacter(context.Background(), "jarvis"))

	snap := h.o.Snapshot()
	assert.Equal(t, "jarvis", snap.Character)
	assert.Equal(t, 50, snap.Affection)
	assert.Equal(t, avatar.StateIdle, snap.State)
	assert.False(t, snap.IsTalking)
	assert.Empty(t, h.o.History())
	assert.Equal(t, 1, resets)
}

func TestSelectCharacter_ResetDropsPendingReply(t *testing.T) {
	gen := newBlockingGenerator().reply("hi", "hello [HAPPY]")
	release := gen.gate("hi")
	h := newHarness(t, gen, func(c *Config) { c.SwitchPolicy = SwitchReset })

	ticket := h.submit("hi")
	require.NoError(t, h.o.SelectCharacter(context.Background(), "aura"))

	close(release)
	require.NoError(t, ticket.Wait(waitCtx(t)))

	assert.Empty(t, h.o.History())
	assert.Equal(t, avatar.StateIdle, h.o.Snapshot().State)
}

func TestSelectCharacter_Unknown(t *testing.T) {
	h := newHarness(t, llm.NewScriptedGenerator())

	err := h.o.SelectCharacter(context.Background(), "nobody")

	assert.ErrorIs(t, err, persona.ErrUnknownCharacter)
	assert.Equal(t, "priya", h.o.Character().ID)
}

func TestSubmit_AfterStopFails(t *testing.T) {
	o, err := New(nil, Deps{Generator: llm.NewScriptedGenerator("hi")}, zeroLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = o.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	_, err = o.Submit(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrStopped)
}

func TestSubmit_QueuedMessageSurvivesCallerCancel(t *testing.T) {
	gen := newBlockingGenerator().reply("hello", "Hi. [HAPPY]")
	h := newHarness(t, gen)

	// Occupy the actor so the submit waits in the queue
	busy, release := make(chan struct{}), make(chan struct{})
	require.True(t, h.o.post(func() {
		close(busy)
		<-release
	}))
	<-busy

	ctx, cancel := context.WithCancel(context.Background())
	type result struct {
		ticket Ticket
		err    error
	}
	results := make(chan result, 1)
	go func() {
		ticket, err := h.o.Submit(ctx, "hello")
		results <- result{ticket, err}
	}()

	require.Eventually(t, func() bool { return len(h.o.tasks) == 1 }, waitFor, time.Millisecond)
	cancel()

	select {
	case r := <-results:
		t.Fatalf("submit returned before the actor ran it: %v", r.err)
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	var r result
	select {
	case r = <-results:
	case <-time.After(waitFor):
		t.Fatal("submit did not return")
	}

	require.NoError(t, r.err)
	assert.Equal(t, "hello", r.ticket.Turn.Content)
	require.NoError(t, r.ticket.Wait(waitCtx(t)))

	history := h.o.History()
	require.Len(t, history, 2)
	assert.Equal(t, "hello", history[0].Content)
	assert.Equal(t, "Hi.", history[1].Content)
}

func TestSubmit_CancelledBeforeQueuedFails(t *testing.T) {
	h := newHarness(t, llm.NewScriptedGenerator("hi"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A full queue leaves only ctx to end the wait
	busy, release := make(chan struct{}), make(chan struct{})
	require.True(t, h.o.post(func() {
		close(busy)
		<-release
	}))
	<-busy
	for len(h.o.tasks) < cap(h.o.tasks) {
		h.o.tasks <- func() {}
	}
	defer close(release)

	_, err := h.o.Submit(ctx, "hello")

	assert.ErrorIs(t, err, context.Canceled)
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	t.Cleanup(cancel)
	return ctx
}
