// Package conversation provides the session's ordered message log.
package conversation

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DefaultWindow is the number of recent turns sent as backend context
const DefaultWindow = 5

// Turn is one message. Turns are never mutated after creation.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Store is an append-only, insertion-ordered log of turns.
// The full log is kept for the life of the process.
type Store struct {
	mu    sync.RWMutex
	turns []Turn
	now   func() time.Time
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		turns: make([]Turn, 0, 32),
		now:   time.Now,
	}
}

// Append records a new turn and returns it
func (s *Store) Append(role Role, content string) Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	turn := Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: s.now(),
	}
	s.turns = append(s.turns, turn)
	return turn
}

// RecentWindow returns the last n turns, oldest first.
// n <= 0 returns nothing.
func (s *Store) RecentWindow(n int) []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || len(s.turns) == 0 {
		return nil
	}
	start := max(0, len(s.turns)-n)

	out := make([]Turn, len(s.turns)-start)
	copy(out, s.turns[start:])
	return out
}

// All returns a copy of the whole log
func (s *Store) All() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Len returns the number of turns
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// Reset drops the whole log. Only used when switching characters under
// the reset policy.
func (s *Store) Reset() {
	s.mu.Lock()
	s.turns = make([]Turn, 0, 32)
	s.mu.Unlock()
}

// Transcript formats turns as "role: content" lines for display
func Transcript(turns []Turn) string {
	var sb strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&sb, "%s: %s\n", t.Role, t.Content)
	}
	return sb.String()
}
