package conversation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Append(t *testing.T) {
	s := NewStore()

	u := s.Append(RoleUser, "hello")
	a := s.Append(RoleAssistant, "hi")

	assert.Equal(t, 2, s.Len())
	assert.NotEmpty(t, u.ID)
	assert.NotEqual(t, u.ID, a.ID)
	assert.Equal(t, RoleUser, u.Role)
	assert.Equal(t, "hi", a.Content)
}

func TestStore_RecentWindow(t *testing.T) {
	s := NewStore()
	for _, c := range []string{"1", "2", "3", "4", "5", "6", "7"} {
		s.Append(RoleUser, c)
	}

	tests := []struct {
		name string
		n    int
		want []string
	}{
		{"default window", DefaultWindow, []string{"3", "4", "5", "6", "7"}},
		{"larger than log", 20, []string{"1", "2", "3", "4", "5", "6", "7"}},
		{"one", 1, []string{"7"}},
		{"zero", 0, nil},
		{"negative", -3, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, turn := range s.RecentWindow(tt.n) {
				got = append(got, turn.Content)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStore_FullLogNeverEvicted(t *testing.T) {
	s := NewStore()
	for i := 0; i < 100; i++ {
		s.Append(RoleUser, "x")
	}
	assert.Len(t, s.All(), 100)
}

func TestStore_CopiesAreIndependent(t *testing.T) {
	s := NewStore()
	s.Append(RoleUser, "original")

	all := s.All()
	all[0].Content = "changed"

	assert.Equal(t, "original", s.All()[0].Content)
}

func TestStore_OrderingByInsertion(t *testing.T) {
	s := NewStore()
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	s.Append(RoleUser, "first")
	s.Append(RoleAssistant, "second")

	all := s.All()
	require.Len(t, all, 2)
	assert.Equal(t, "first", all[0].Content)
	assert.Equal(t, "second", all[1].Content)
}

func TestStore_Reset(t *testing.T) {
	s := NewStore()
	s.Append(RoleUser, "hello")
	s.Reset()

	assert.Equal(t, 0, s.Len())
	assert.Nil(t, s.RecentWindow(5))
}

func TestTranscript(t *testing.T) {
	s := NewStore()
	s.Append(RoleUser, "hi")
	s.Append(RoleAssistant, "hey")

	assert.Equal(t, "user: hi\nassistant: hey\n", Transcript(s.All()))
}
