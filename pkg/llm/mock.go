// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// MockProvider answers every request with Response, Err, or whatever
// ChatFunc returns. The CLI's mock provider is built on it.
type MockProvider struct {
	Response string
	Err      error
	ChatFunc func(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// Chat implements Provider.
func (m *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return Reply(req, m.Response), nil
}

// Reply wraps content in a response whose usage is a rough word count of
// the request and the reply.
func Reply(req ChatRequest, content string) *ChatResponse {
	prompt := 0
	for _, msg := range req.Messages {
		prompt += len(strings.Fields(msg.Content))
	}
	completion := len(strings.Fields(content))
	return &ChatResponse{
		Content: content,
		Usage: Usage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		},
	}
}

// ErrScriptExhausted is returned once a ScriptedMockProvider has no replies
// left.
var ErrScriptExhausted = errors.New("scripted mock: no more responses available")

// ScriptedMockProvider replays replies in order, whoever asks.
type ScriptedMockProvider struct {
	mu       sync.Mutex
	replies  []string
	calls    int
	requests []ChatRequest

	// Err, when set, fails every call.
	Err error
}

// NewScriptedMockProvider queues replies.
func NewScriptedMockProvider(replies ...string) *ScriptedMockProvider {
	return &ScriptedMockProvider{replies: replies}
}

// Chat implements Provider.
func (s *ScriptedMockProvider) Chat(_ context.Context, req ChatRequest) (*ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	s.requests = append(s.requests, req)
	if s.Err != nil {
		return nil, s.Err
	}
	if len(s.replies) == 0 {
		return nil, ErrScriptExhausted
	}
	content := s.replies[0]
	s.replies = s.replies[1:]
	return Reply(req, content), nil
}

// AddResponse queues one more reply.
func (s *ScriptedMockProvider) AddResponse(reply string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, reply)
}

// Calls returns the number of Chat invocations so far.
func (s *ScriptedMockProvider) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Requests returns a copy of every request received.
func (s *ScriptedMockProvider) Requests() []ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ChatRequest(nil), s.requests...)
}
