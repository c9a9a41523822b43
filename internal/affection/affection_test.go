package affection

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUpdate(t *testing.T) {
	tests := []struct {
		name  string
		level int
		text  string
		want  int
	}{
		{"positive", 50, "thanks a lot", 55},
		{"negative", 50, "you are so stupid", 40},
		{"both nets minus five", 50, "I love you but you're weird", 45},
		{"neither", 50, "what's the weather", 50},
		{"case insensitive", 50, "You're the BEST", 55},
		{"substring semantics", 50, "goodbye", 55},
		{"clamped high", 98, "so cute", 100},
		{"clamped low", 5, "ugly", 0},
		{"out of range input clamped first", 150, "hello", 100},
		{"positive at max then negative", 100, "good but slow", 90},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Update(tt.level, tt.text))
		})
	}
}

func TestUpdate_StaysInBounds(t *testing.T) {
	level := 95
	for i := 0; i < 3; i++ {
		level = Update(level, "you're the best")
	}
	assert.Equal(t, 100, level)

	for i := 0; i < 20; i++ {
		level = Update(level, "boring")
		assert.GreaterOrEqual(t, level, Min)
		assert.LessOrEqual(t, level, Max)
	}
	assert.Equal(t, 0, level)
}

func TestTracker(t *testing.T) {
	tr := NewTracker(Initial)
	assert.Equal(t, 50, tr.Level())

	old, updated := tr.Apply("you are so stupid")
	assert.Equal(t, 50, old)
	assert.Equal(t, 40, updated)
	assert.Equal(t, 40, tr.Level())

	tr.Reset(200)
	assert.Equal(t, 100, tr.Level())
}
