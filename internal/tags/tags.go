// Package tags extracts the bracketed control directives a model embeds in
// its replies and produces the text that is safe to display or speak.
package tags

import (
	"regexp"
	"strings"

	"github.com/normanking/cortexcompanion/internal/avatar"
)

// Emotion is one of the fixed emotion tags
type Emotion string

const (
	EmotionHappy   Emotion = "HAPPY"
	EmotionUpset   Emotion = "UPSET"
	EmotionShy     Emotion = "SHY"
	EmotionSmug    Emotion = "SMUG"
	EmotionTeasing Emotion = "TEASING"
)

// Priority is the order emotions are checked in. The first one present
// wins regardless of where it appears in the text.
var Priority = []Emotion{EmotionHappy, EmotionUpset, EmotionShy, EmotionSmug, EmotionTeasing}

var (
	actionPattern = regexp.MustCompile(`\[ACTION:\s*([A-Z_]+)\]`)
	anyTagPattern = regexp.MustCompile(`\[.*?\]`)
)

// Tag returns the literal bracketed form, e.g. "[HAPPY]"
func (e Emotion) Tag() string {
	return "[" + string(e) + "]"
}

// State maps the emotion to the companion state renderers use
func (e Emotion) State() avatar.CompanionState {
	switch e {
	case EmotionHappy:
		return avatar.StateHappy
	case EmotionUpset:
		return avatar.StateUpset
	case EmotionShy:
		return avatar.StateShy
	case EmotionSmug:
		return avatar.StateSmug
	case EmotionTeasing:
		return avatar.StateTeasing
	}
	return avatar.StateIdle
}

// Result is a parsed reply
type Result struct {
	DisplayText string
	Emotion     Emotion // empty when no emotion tag is present
	Action      string  // empty when no action tag is present
}

// HasEmotion reports whether an emotion tag was found
func (r Result) HasEmotion() bool { return r.Emotion != "" }

// HasAction reports whether an action tag was found
func (r Result) HasAction() bool { return r.Action != "" }

// State is the companion state implied by the emotion, Idle when absent
func (r Result) State() avatar.CompanionState {
	if !r.HasEmotion() {
		return avatar.StateIdle
	}
	return r.Emotion.State()
}

// Parse extracts the emotion and action directives from raw and strips
// every bracketed span from the display text.
func Parse(raw string) Result {
	res := Result{DisplayText: Sanitize(raw)}

	for _, e := range Priority {
		if strings.Contains(raw, e.Tag()) {
			res.Emotion = e
			break
		}
	}

	if m := actionPattern.FindStringSubmatch(raw); m != nil {
		res.Action = m[1]
	}

	return res
}

// Sanitize removes every [...] span and trims surrounding whitespace
func Sanitize(raw string) string {
	return strings.TrimSpace(anyTagPattern.ReplaceAllString(raw, ""))
}
