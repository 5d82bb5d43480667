// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"strings"
	"testing"

	"github.com/jllopis/concord/pkg/llm"
)

// RequestAssertions provides assertion helpers for LLM requests.
type RequestAssertions struct {
	t      *testing.T
	req    llm.ChatRequest
	failed bool
}

// AssertRequest creates request assertions for the given request.
func AssertRequest(t *testing.T, req llm.ChatRequest) *RequestAssertions {
	return &RequestAssertions{t: t, req: req}
}

// Failed returns true if any assertion has failed.
func (r *RequestAssertions) Failed() bool {
	return r.failed
}

// HasCaller asserts the request was issued by the given role.
func (r *RequestAssertions) HasCaller(role string) *RequestAssertions {
	r.t.Helper()
	if got := r.req.Caller(); got != role {
		r.t.Errorf("expected caller %q, got %q", role, got)
		r.failed = true
	}
	return r
}

// HasModel asserts the request uses the given model.
func (r *RequestAssertions) HasModel(model string) *RequestAssertions {
	r.t.Helper()
	if r.req.Model != model {
		r.t.Errorf("expected model %q, got %q", model, r.req.Model)
		r.failed = true
	}
	return r
}

// HasMessageCount asserts the number of messages in the request.
func (r *RequestAssertions) HasMessageCount(count int) *RequestAssertions {
	r.t.Helper()
	if len(r.req.Messages) != count {
		r.t.Errorf("expected %d messages, got %d", count, len(r.req.Messages))
		r.failed = true
	}
	return r
}

// HasSystemMessage asserts a system message exists with the given content.
func (r *RequestAssertions) HasSystemMessage(contains string) *RequestAssertions {
	r.t.Helper()
	return r.has(llm.RoleSystem, contains)
}

// HasUserMessage asserts a user message exists with the given content.
func (r *RequestAssertions) HasUserMessage(contains string) *RequestAssertions {
	r.t.Helper()
	return r.has(llm.RoleUser, contains)
}

// LacksUserMessage asserts no user message contains the given content.
func (r *RequestAssertions) LacksUserMessage(contains string) *RequestAssertions {
	r.t.Helper()
	for _, msg := range r.req.Messages {
		if msg.Role == llm.RoleUser && strings.Contains(msg.Content, contains) {
			r.t.Errorf("unexpected user message containing %q", contains)
			r.failed = true
			return r
		}
	}
	return r
}

func (r *RequestAssertions) has(role llm.Role, contains string) *RequestAssertions {
	r.t.Helper()
	for _, msg := range r.req.Messages {
		if msg.Role == role && strings.Contains(msg.Content, contains) {
			return r
		}
	}
	r.t.Errorf("no %s message containing %q found", role, contains)
	r.failed = true
	return r
}

// Quick assertion functions for common patterns

// RequireNoError fails the test immediately if err is not nil.
func RequireNoError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", msg, err)
	}
}

// RequireEqual fails the test immediately if values are not equal.
func RequireEqual(t *testing.T, expected, actual any, msg string) {
	t.Helper()
	if expected != actual {
		t.Fatalf("%s: expected %v, got %v", msg, expected, actual)
	}
}
