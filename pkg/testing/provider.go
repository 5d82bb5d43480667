// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package testing provides test doubles and assertion helpers for code that
// drives role agents.
package testing

import (
	"context"
	"fmt"
	"sync"

	"github.com/jllopis/concord/pkg/llm"
)

// ReplyFunc computes a reply for a request. It is used when a reply depends
// on the request, such as the source text of an annotation unit.
type ReplyFunc func(req llm.ChatRequest) (string, error)

// RoleScript is a mock provider that routes each request by the calling
// role and answers from that role's script. It is safe for concurrent use.
type RoleScript struct {
	mu       sync.Mutex
	queues   map[string][]ScriptedResponse
	funcs    map[string]ReplyFunc
	requests []llm.ChatRequest
}

// ScriptedResponse is one queued reply.
type ScriptedResponse struct {
	Content string
	Error   error
	Usage   llm.Usage
}

// NewRoleScript creates an empty script.
func NewRoleScript() *RoleScript {
	return &RoleScript{
		queues: make(map[string][]ScriptedResponse),
		funcs:  make(map[string]ReplyFunc),
	}
}

// On queues replies for role, answered in order.
func (p *RoleScript) On(role string, replies ...string) *RoleScript {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range replies {
		p.queues[role] = append(p.queues[role], ScriptedResponse{Content: r})
	}
	return p
}

// Fail queues an invocation error for role.
func (p *RoleScript) Fail(role string, err error) *RoleScript {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queues[role] = append(p.queues[role], ScriptedResponse{Error: err})
	return p
}

// OnFunc answers every request of role once its queue is empty.
func (p *RoleScript) OnFunc(role string, fn ReplyFunc) *RoleScript {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.funcs[role] = fn
	return p
}

// Chat implements llm.Provider.
func (p *RoleScript) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	role := req.Caller()

	if queue := p.queues[role]; len(queue) > 0 {
		resp := queue[0]
		p.queues[role] = queue[1:]
		p.mu.Unlock()
		if resp.Error != nil {
			return nil, resp.Error
		}
		return &llm.ChatResponse{Content: resp.Content, Usage: resp.Usage}, nil
	}
	fn := p.funcs[role]
	p.mu.Unlock()

	if fn == nil {
		return nil, fmt.Errorf("no scripted response for role %q", role)
	}
	content, err := fn(req)
	if err != nil {
		return nil, err
	}
	return &llm.ChatResponse{Content: content}, nil
}

// Requests returns all captured requests.
func (p *RoleScript) Requests() []llm.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	result := make([]llm.ChatRequest, len(p.requests))
	copy(result, p.requests)
	return result
}

// RequestsFor returns the captured requests issued by role.
func (p *RoleScript) RequestsFor(role string) []llm.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []llm.ChatRequest
	for _, req := range p.requests {
		if req.Caller() == role {
			out = append(out, req)
		}
	}
	return out
}

// CallCount returns the number of requests issued by role.
func (p *RoleScript) CallCount(role string) int {
	return len(p.RequestsFor(role))
}

// Pending returns how many queued replies for role were never consumed.
func (p *RoleScript) Pending(role string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queues[role])
}
