package llm

import (
	"context"
	"errors"
	"sync"
)

// ErrScriptExhausted is returned when a ScriptedGenerator has no replies left
var ErrScriptExhausted = errors.New("scripted generator has no replies left")

// ScriptedGenerator returns canned replies in order and records every
// request. The last reply repeats when Loop is set. It backs the "mock"
// backend and tests.
type ScriptedGenerator struct {
	mu       sync.Mutex
	replies  []string
	next     int
	Loop     bool
	Err      error
	requests []Request
}

// NewScriptedGenerator creates a generator answering with replies
func NewScriptedGenerator(replies ...string) *ScriptedGenerator {
	return &ScriptedGenerator{replies: replies}
}

// Generate returns the next scripted reply
func (s *ScriptedGenerator) Generate(ctx context.Context, req Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.Err != nil {
		return "", s.Err
	}
	if s.next >= len(s.replies) {
		if s.Loop && len(s.replies) > 0 {
			return s.replies[len(s.replies)-1], nil
		}
		return "", ErrScriptExhausted
	}
	reply := s.replies[s.next]
	s.next++
	return reply, nil
}

// Requests returns every request seen so far
func (s *ScriptedGenerator) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// GeneratorFunc adapts a function to Generator
type GeneratorFunc func(ctx context.Context, req Request) (string, error)

// Generate calls f
func (f GeneratorFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
