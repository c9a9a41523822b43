package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortexcompanion/internal/conversation"
)

func TestFormatContext(t *testing.T) {
	c := Context{
		Stats: DefaultStats(40, time.UnixMilli(1700000000000)),
		RecentTurns: []conversation.Turn{
			{Role: conversation.RoleUser, Content: "hi"},
			{Role: conversation.RoleAssistant, Content: "hey"},
		},
	}

	got := FormatContext(c)

	assert.Equal(t,
		`Current Stats: {"systemIntegrity":100,"processingLoad":12,"affection":40,"lastUpdated":1700000000000}. `+
			`Previous Conversation: [{"role":"user","content":"hi"},{"role":"assistant","content":"hey"}]`,
		got)
}

func TestFormatContext_NoHistory(t *testing.T) {
	got := FormatContext(Context{Stats: DefaultStats(50, time.UnixMilli(0))})
	assert.Contains(t, got, "Previous Conversation: []")
}

func TestSystemInstruction(t *testing.T) {
	got := SystemInstruction(Context{SystemPrompt: "You are Priya."})
	assert.Contains(t, got, "You are Priya.\n\nContext:\nCurrent Stats: ")
}

func TestScriptedGenerator(t *testing.T) {
	g := NewScriptedGenerator("one", "two")
	ctx := context.Background()

	r, err := g.Generate(ctx, Request{Message: "a"})
	require.NoError(t, err)
	assert.Equal(t, "one", r)

	r, err = g.Generate(ctx, Request{Message: "b"})
	require.NoError(t, err)
	assert.Equal(t, "two", r)

	_, err = g.Generate(ctx, Request{Message: "c"})
	assert.ErrorIs(t, err, ErrScriptExhausted)

	g.Loop = true
	r, err = g.Generate(ctx, Request{Message: "d"})
	require.NoError(t, err)
	assert.Equal(t, "two", r)

	assert.Len(t, g.Requests(), 4)

	g.Err = errors.New("down")
	_, err = g.Generate(ctx, Request{})
	assert.EqualError(t, err, "down")
}

func TestOpenAIGenerator_Generate(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "  Whatever. [UPSET] "}}]
		}`))
	}))
	defer server.Close()

	g := NewOpenAIGenerator(&OpenAIConfig{
		APIKey:      "k",
		BaseURL:     server.URL,
		Model:       "gpt-4o-mini",
		Temperature: 0.85,
		TopP:        0.95,
		Timeout:     5 * time.Second,
	}, zerolog.Nop())

	reply, err := g.Generate(context.Background(), Request{
		Message: "you are so stupid",
		Context: Context{SystemPrompt: "You are Priya.", Stats: DefaultStats(40, time.Now())},
	})
	require.NoError(t, err)
	assert.Equal(t, "Whatever. [UPSET]", reply)

	assert.Equal(t, 0.85, body["temperature"])
	assert.Equal(t, 0.95, body["top_p"])
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Contains(t, msgs[0].(map[string]any)["content"], "You are Priya.")
	assert.Equal(t, "you are so stupid", msgs[1].(map[string]any)["content"])
}

func TestOpenAIGenerator_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"boom"}}`))
	}))
	defer server.Close()

	g := NewOpenAIGenerator(&OpenAIConfig{APIKey: "k", BaseURL: server.URL, Model: "m"}, zerolog.Nop())

	_, err := g.Generate(context.Background(), Request{Message: "hi"})
	assert.Error(t, err)
}

func TestOpenAIGenerator_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[]}`))
	}))
	defer server.Close()

	g := NewOpenAIGenerator(&OpenAIConfig{APIKey: "k", BaseURL: server.URL, Model: "m"}, zerolog.Nop())

	_, err := g.Generate(context.Background(), Request{Message: "hi"})
	assert.ErrorIs(t, err, ErrEmptyReply)
}
