// Package affection tracks the companion's bounded sentiment score toward
// the user from keyword heuristics over what the user types.
package affection

import (
	"strings"
	"sync"
)

const (
	Min = 0
	Max = 100

	// Initial is the level a new session starts at
	Initial = 50

	PositiveDelta = 5
	NegativeDelta = 10
)

// Keywords are matched as case-insensitive substrings, so "goodbye"
// counts as "good".
var (
	PositiveKeywords = []string{
		"love", "cute", "thanks", "cool", "good", "handsome",
		"pretty", "beautiful", "smart", "funny", "sweet", "best",
	}
	NegativeKeywords = []string{
		"hate", "ugly", "bad", "stupid", "idiot", "annoying",
		"boring", "slow", "dumb", "weird",
	}
)

// Update returns the level after applying text. The positive adjustment is
// applied before the negative one and the result is clamped.
func Update(level int, text string) int {
	level = Clamp(level)
	lower := strings.ToLower(text)

	if containsAny(lower, PositiveKeywords) {
		level = min(Max, level+PositiveDelta)
	}
	if containsAny(lower, NegativeKeywords) {
		level = max(Min, level-NegativeDelta)
	}
	return level
}

// Clamp bounds level to [Min, Max]
func Clamp(level int) int {
	return max(Min, min(Max, level))
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// Tracker holds the session's level
type Tracker struct {
	mu    sync.RWMutex
	level int
}

// NewTracker creates a tracker starting at initial (clamped)
func NewTracker(initial int) *Tracker {
	return &Tracker{level: Clamp(initial)}
}

// Apply updates the level from user text and returns the old and new level
func (t *Tracker) Apply(text string) (old, updated int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	old = t.level
	t.level = Update(t.level, text)
	return old, t.level
}

// Level returns the current level
func (t *Tracker) Level() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.level
}

// Reset sets the level back to initial (clamped)
func (t *Tracker) Reset(initial int) {
	t.mu.Lock()
	t.level = Clamp(initial)
	t.mu.Unlock()
}
