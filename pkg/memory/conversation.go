// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package memory provides the private conversation log of a role agent.
// Logs are append-only: a message, once stored, is never edited or removed.
package memory

import (
	"context"
	"time"
)

// ConversationMessage represents a single message in a conversation history.
type ConversationMessage struct {
	ID        string            `json:"id"`
	SessionID string            `json:"session_id"`
	Role      string            `json:"role"` // user, assistant
	Name      string            `json:"name,omitempty"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// ConversationMemory stores ordered, append-only message sequences.
type ConversationMemory interface {
	// AppendMessage adds a message to the end of the session log.
	AppendMessage(ctx context.Context, sessionID string, msg ConversationMessage) error

	// GetMessages retrieves the session log in append order, after the
	// configured truncation strategy has been applied.
	GetMessages(ctx context.Context, sessionID string) ([]ConversationMessage, error)
}

// TruncationStrategy limits how much of a log is replayed to the model.
// It never changes what is stored.
type TruncationStrategy interface {
	Truncate(ctx context.Context, messages []ConversationMessage) ([]ConversationMessage, error)
}

// WindowStrategy keeps only the last N messages.
type WindowStrategy struct {
	MaxMessages int
}

// NewWindowStrategy creates a window-based truncation strategy.
func NewWindowStrategy(maxMessages int) *WindowStrategy {
	return &WindowStrategy{MaxMessages: maxMessages}
}

// Truncate implements TruncationStrategy.
func (w *WindowStrategy) Truncate(_ context.Context, messages []ConversationMessage) ([]ConversationMessage, error) {
	if w.MaxMessages <= 0 || len(messages) <= w.MaxMessages {
		return messages, nil
	}
	return messages[len(messages)-w.MaxMessages:], nil
}

// ConversationConfig configures conversation memory behavior.
type ConversationConfig struct {
	// TruncationStrategy to apply when loading messages. Optional.
	TruncationStrategy TruncationStrategy
}

func applyTruncation(ctx context.Context, cfg ConversationConfig, messages []ConversationMessage) ([]ConversationMessage, error) {
	if cfg.TruncationStrategy == nil || len(messages) == 0 {
		return messages, nil
	}
	return cfg.TruncationStrategy.Truncate(ctx, messages)
}
