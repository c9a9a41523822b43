// Package llm talks to the text-generation backend that writes the
// companion's replies.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/normanking/cortexcompanion/internal/conversation"
)

// ErrEmptyReply is returned when the backend answers with no text
var ErrEmptyReply = errors.New("backend returned an empty reply")

// Stats is the status block sent with every request
type Stats struct {
	SystemIntegrity int   `json:"systemIntegrity"`
	ProcessingLoad  int   `json:"processingLoad"`
	Affection       int   `json:"affection"`
	LastUpdated     int64 `json:"lastUpdated"`
}

// DefaultStats returns the stats a session starts with
func DefaultStats(affection int, now time.Time) Stats {
	return Stats{
		SystemIntegrity: 100,
		ProcessingLoad:  12,
		Affection:       affection,
		LastUpdated:     now.UnixMilli(),
	}
}

// Context is everything besides the message the backend sees
type Context struct {
	Stats        Stats
	RecentTurns  []conversation.Turn
	SystemPrompt string
}

// Request is one generation request
type Request struct {
	Message string
	Context Context
}

// Generator produces a raw reply that may contain tags
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

type historyEntry struct {
	Role    conversation.Role `json:"role"`
	Content string            `json:"content"`
}

// FormatContext renders the stats and recent turns into the block appended
// to the system prompt.
func FormatContext(c Context) string {
	stats, _ := json.Marshal(c.Stats)

	history := make([]historyEntry, 0, len(c.RecentTurns))
	for _, t := range c.RecentTurns {
		history = append(history, historyEntry{Role: t.Role, Content: t.Content})
	}
	turns, _ := json.Marshal(history)

	return fmt.Sprintf("Current Stats: %s. Previous Conversation: %s", stats, turns)
}

// SystemInstruction is the character prompt followed by the context block
func SystemInstruction(c Context) string {
	var sb strings.Builder
	sb.WriteString(c.SystemPrompt)
	sb.WriteString("\n\nContext:\n")
	sb.WriteString(FormatContext(c))
	return sb.String()
}
