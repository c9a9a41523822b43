package companion

import (
	"context"

	"github.com/normanking/cortexcompanion/internal/avatar"
	"github.com/normanking/cortexcompanion/internal/bus"
	"github.com/normanking/cortexcompanion/internal/conversation"
	"github.com/normanking/cortexcompanion/internal/metrics"
	"github.com/normanking/cortexcompanion/internal/persona"
)

// Snapshot returns the current render-facing state
func (o *Orchestrator) Snapshot() Snapshot {
	st := o.avatar.GetState()

	o.mu.RLock()
	character := o.character.ID
	status := ""
	if o.pending != nil {
		status = o.pending.Label
	}
	o.mu.RUnlock()

	return Snapshot{
		State:       st.State,
		IsThinking:  st.IsThinking,
		IsTalking:   st.IsTalking,
		IsListening: st.IsListening,
		Affection:   o.affection.Level(),
		Character:   character,
		Status:      status,
	}
}

// Pending returns the action whose status is shown, or nil
func (o *Orchestrator) Pending() *PendingAction {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.pending == nil {
		return nil
	}
	p := *o.pending
	return &p
}

// History returns every turn of the session
func (o *Orchestrator) History() []conversation.Turn {
	return o.store.All()
}

// Characters lists the selectable characters
func (o *Orchestrator) Characters() []persona.CharacterProfile {
	return o.catalog.List()
}

// Character returns the active character
func (o *Orchestrator) Character() persona.CharacterProfile {
	return *o.currentCharacter()
}

// SelectCharacter switches the active character. Under SwitchReset the
// history is cleared, affection restored and any pending reply dropped.
func (o *Orchestrator) SelectCharacter(ctx context.Context, id string) error {
	ch, err := o.catalog.Get(id)
	if err != nil {
		return err
	}

	return o.call(ctx, func() {
		o.mu.Lock()
		previous := o.character.ID
		o.character = ch
		o.mu.Unlock()

		if o.config.SwitchPolicy == SwitchReset {
			o.resetSession()
		}

		o.logger.Info().
			Str("from", previous).
			Str("to", ch.ID).
			Str("policy", string(o.config.SwitchPolicy)).
			Msg("character selected")
		o.publish(bus.EventTypeCharacterChanged, map[string]any{"character": ch.ID})
		o.publishSnapshot(bus.EventTypeStateChanged)
	})
}

func (o *Orchestrator) resetSession() {
	// Replies still in flight belong to the old session
	o.requestID++

	if o.actionTimer != nil {
		o.actionTimer.Stop()
		o.actionTimer = nil
	}
	o.actionID++
	o.speech.Stop()

	o.store.Reset()
	o.affection.Reset(o.config.InitialAffection)
	metrics.Affection.Set(float64(o.affection.Level()))

	o.mu.Lock()
	o.pending = nil
	o.mu.Unlock()

	o.avatar.Reset()
	o.publish(bus.EventTypeHistoryReset, nil)
}

// ListeningStarted marks the companion as listening and silences speech
func (o *Orchestrator) ListeningStarted() {
	o.post(func() {
		o.bargeIn()
		o.setState(avatar.StateListening)
		o.avatar.SetListening(true)
	})
}

// ListeningEnded clears the listening flag and returns to Idle if the
// companion is still Listening
func (o *Orchestrator) ListeningEnded() {
	o.post(func() {
		o.avatar.SetListening(false)
		if o.avatar.SetIfCurrent(avatar.StateListening, avatar.StateIdle) {
			metrics.StateTransitions.WithLabelValues(string(avatar.StateIdle)).Inc()
		}
	})
}

func (o *Orchestrator) publish(t bus.EventType, data map[string]any) {
	o.bus.Publish(bus.Event{Type: t, Data: data})
}

func (o *Orchestrator) publishSnapshot(t bus.EventType) {
	o.publish(t, map[string]any{"snapshot": o.Snapshot()})
}
