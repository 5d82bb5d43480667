// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"fmt"
	"testing"
)

func TestInMemoryConversation_AppendAndGet(t *testing.T) {
	mem := NewInMemoryConversation(ConversationConfig{})

	ctx := context.Background()
	sessionID := "test-session"

	err := mem.AppendMessage(ctx, sessionID, ConversationMessage{
		Role:    "user",
		Content: "Hello",
	})
	if err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	err = mem.AppendMessage(ctx, sessionID, ConversationMessage{
		Role:    "assistant",
		Content: "Hi there!",
	})
	if err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	messages, err := mem.GetMessages(ctx, sessionID)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}

	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].Role != "user" || messages[0].Content != "Hello" {
		t.Errorf("unexpected first message: %+v", messages[0])
	}
	if messages[1].Role != "assistant" || messages[1].Content != "Hi there!" {
		t.Errorf("unexpected second message: %+v", messages[1])
	}
	if messages[0].ID == "" || messages[0].SessionID != sessionID || messages[0].CreatedAt.IsZero() {
		t.Errorf("message not stamped: %+v", messages[0])
	}
}

func TestInMemoryConversation_ReturnsCopy(t *testing.T) {
	mem := NewInMemoryConversation(ConversationConfig{})
	ctx := context.Background()

	_ = mem.AppendMessage(ctx, "s", ConversationMessage{Role: "user", Content: "original"})
	messages, _ := mem.GetMessages(ctx, "s")
	messages[0].Content = "edited"

	again, _ := mem.GetMessages(ctx, "s")
	if again[0].Content != "original" {
		t.Errorf("stored log was modified through a returned slice: %q", again[0].Content)
	}
}

func TestWindowStrategy(t *testing.T) {
	messages := make([]ConversationMessage, 10)
	for i := range messages {
		messages[i] = ConversationMessage{Role: "user", Content: fmt.Sprintf("message %d", i)}
	}

	tests := []struct {
		name  string
		max   int
		want  int
		first string
	}{
		{name: "window", max: 3, want: 3, first: "message 7"},
		{name: "larger than log", max: 20, want: 10, first: "message 0"},
		{name: "disabled", max: 0, want: 10, first: "message 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewWindowStrategy(tt.max).Truncate(context.Background(), messages)
			if err != nil {
				t.Fatalf("Truncate failed: %v", err)
			}
			if len(got) != tt.want {
				t.Fatalf("expected %d messages, got %d", tt.want, len(got))
			}
			if got[0].Content != tt.first {
				t.Errorf("expected first %q, got %q", tt.first, got[0].Content)
			}
		})
	}
}

func TestInMemoryConversation_WithTruncation(t *testing.T) {
	mem := NewInMemoryConversation(ConversationConfig{
		TruncationStrategy: NewWindowStrategy(2),
	})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = mem.AppendMessage(ctx, "s", ConversationMessage{Role: "user", Content: fmt.Sprintf("m%d", i)})
	}

	messages, err := mem.GetMessages(ctx, "s")
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(messages) != 2 || messages[1].Content != "m4" {
		t.Errorf("unexpected truncated log: %+v", messages)
	}
	if mem.MessageCount("s") != 5 {
		t.Errorf("truncation must not drop stored messages, count=%d", mem.MessageCount("s"))
	}
}

func TestInMemoryConversation_MultipleSessions(t *testing.T) {
	mem := NewInMemoryConversation(ConversationConfig{})
	ctx := context.Background()

	_ = mem.AppendMessage(ctx, "b", ConversationMessage{Role: "user", Content: "to b"})
	_ = mem.AppendMessage(ctx, "a", ConversationMessage{Role: "user", Content: "to a"})

	a, _ := mem.GetMessages(ctx, "a")
	if len(a) != 1 || a[0].Content != "to a" {
		t.Errorf("sessions leaked into each other: %+v", a)
	}
	sessions := mem.ListSessions()
	if len(sessions) != 2 || sessions[0] != "a" {
		t.Errorf("unexpected sessions %v", sessions)
	}
}

func TestFileConversation_AppendAndReload(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	mem, err := NewFileConversation(dir, ConversationConfig{})
	if err != nil {
		t.Fatalf("NewFileConversation failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := mem.AppendMessage(ctx, "critic-1", ConversationMessage{Role: "user", Content: fmt.Sprintf("m%d", i)}); err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
	}

	reopened, err := NewFileConversation(dir, ConversationConfig{TruncationStrategy: NewWindowStrategy(2)})
	if err != nil {
		t.Fatalf("NewFileConversation failed: %v", err)
	}
	messages, err := reopened.GetMessages(ctx, "critic-1")
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(messages) != 2 || messages[0].Content != "m1" || messages[1].Content != "m2" {
		t.Errorf("unexpected messages %+v", messages)
	}

	sessions, err := reopened.ListSessions()
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 1 || sessions[0] != "critic-1" {
		t.Errorf("unexpected sessions %v", sessions)
	}
}

func TestFileConversation_MissingSession(t *testing.T) {
	mem, err := NewFileConversation(t.TempDir(), ConversationConfig{})
	if err != nil {
		t.Fatalf("NewFileConversation failed: %v", err)
	}
	messages, err := mem.GetMessages(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("expected no error for a missing session, got %v", err)
	}
	if len(messages) != 0 {
		t.Errorf("expected empty log, got %+v", messages)
	}
}

func TestInMemoryConversation_RejectsForeignMessages(t *testing.T) {
	mem := NewInMemoryConversation(ConversationConfig{})
	ctx := context.Background()

	if err := mem.AppendMessage(ctx, " ", ConversationMessage{Role: "user", Content: "x"}); err == nil {
		t.Errorf("expected error for empty session id")
	}
	if err := mem.AppendMessage(ctx, "a", ConversationMessage{SessionID: "b", Role: "user", Content: "x"}); err == nil {
		t.Errorf("expected error for a message of another session")
	}
	if mem.MessageCount("a") != 0 {
		t.Errorf("rejected messages must not be stored")
	}
	msgs, err := mem.GetMessages(ctx, "unknown")
	if err != nil || len(msgs) != 0 {
		t.Errorf("unknown session: got %v, %v", msgs, err)
	}
}
