// Package avatar manages the companion's render-facing state
package avatar

import (
	"sync"
)

// CompanionState is the discrete state the renderers animate from.
// Exactly one is active at a time.
type CompanionState string

const (
	StateIdle       CompanionState = "IDLE"
	StateListening  CompanionState = "LISTENING"
	StateProcessing CompanionState = "PROCESSING"
	StateSpeaking   CompanionState = "SPEAKING"
	StateExecuting  CompanionState = "EXECUTING"
	StateWarning    CompanionState = "WARNING"
	StateHappy      CompanionState = "HAPPY"
	StateUpset      CompanionState = "UPSET"
	StateShy        CompanionState = "SHY"
	StateSmug       CompanionState = "SMUG"
	StateTeasing    CompanionState = "TEASING"
)

// AllStates lists every CompanionState in declaration order
func AllStates() []CompanionState {
	return []CompanionState{
		StateIdle, StateListening, StateProcessing, StateSpeaking, StateExecuting,
		StateWarning, StateHappy, StateUpset, StateShy, StateSmug, StateTeasing,
	}
}

// Valid reports whether s is a known state
func (s CompanionState) Valid() bool {
	for _, known := range AllStates() {
		if s == known {
			return true
		}
	}
	return false
}

// State is what a renderer needs: the discrete state plus the indicator flags.
type State struct {
	State       CompanionState `json:"state"`
	IsThinking  bool           `json:"isThinking"`
	IsTalking   bool           `json:"isTalking"`
	IsListening bool           `json:"isListening"`
	// Seq increments on every change of State and lets delayed writers
	// detect that a newer transition happened.
	Seq uint64 `json:"seq"`
}

// Controller manages state transitions
type Controller struct {
	state State
	mu    sync.RWMutex

	onStateChange func(State)
}

// NewController creates a new controller in the Idle state
func NewController() *Controller {
	return &Controller{
		state: State{State: StateIdle},
	}
}

// SetStateHandler sets the callback for state changes
func (c *Controller) SetStateHandler(handler func(State)) {
	c.mu.Lock()
	c.onStateChange = handler
	c.mu.Unlock()
}

// GetState returns the current state
func (c *Controller) GetState() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Set transitions to a new companion state. The sequence number advances
// even when the state is unchanged so that re-entering a state still counts
// as a newer transition.
func (c *Controller) Set(s CompanionState) State {
	return c.update(func(st *State) {
		st.State = s
		st.Seq++
	})
}

// SetIfSeq transitions only when no other transition happened since seq.
// It returns false when the write was skipped.
func (c *Controller) SetIfSeq(seq uint64, s CompanionState) bool {
	c.mu.Lock()
	if c.state.Seq != seq {
		c.mu.Unlock()
		return false
	}
	c.state.State = s
	c.state.Seq++
	state := c.state
	handler := c.onStateChange
	c.mu.Unlock()

	if handler != nil {
		handler(state)
	}
	return true
}

// SetIfCurrent transitions only when the current state equals from
func (c *Controller) SetIfCurrent(from, to CompanionState) bool {
	c.mu.Lock()
	if c.state.State != from {
		c.mu.Unlock()
		return false
	}
	c.state.State = to
	c.state.Seq++
	state := c.state
	handler := c.onStateChange
	c.mu.Unlock()

	if handler != nil {
		handler(state)
	}
	return true
}

// SetThinking toggles the thinking indicator
func (c *Controller) SetThinking(on bool) State {
	return c.update(func(st *State) { st.IsThinking = on })
}

// SetTalking toggles the talking indicator
func (c *Controller) SetTalking(on bool) State {
	return c.update(func(st *State) { st.IsTalking = on })
}

// SetListening toggles the listening indicator
func (c *Controller) SetListening(on bool) State {
	return c.update(func(st *State) { st.IsListening = on })
}

// Reset returns to a fresh Idle state with all indicators cleared
func (c *Controller) Reset() State {
	return c.update(func(st *State) {
		st.State = StateIdle
		st.IsThinking = false
		st.IsTalking = false
		st.IsListening = false
		st.Seq++
	})
}

func (c *Controller) update(fn func(*State)) State {
	c.mu.Lock()
	fn(&c.state)
	state := c.state
	handler := c.onStateChange
	c.mu.Unlock()

	c.notifyStateChange(handler, state)
	return state
}

// notifyStateChange sends state update to handler
func (c *Controller) notifyStateChange(handler func(State), state State) {
	if handler != nil {
		handler(state)
	}
}
