// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryConversation keeps every role log in process memory. Logs are
// gone when the run ends.
type InMemoryConversation struct {
	mu       sync.Mutex
	sessions map[string]*sessionLog
	config   ConversationConfig
}

// sessionLog is locked on its own so concurrent annotation units, each
// with its own agents, do not wait on each other.
type sessionLog struct {
	mu       sync.RWMutex
	messages []ConversationMessage
}

func NewInMemoryConversation(config ConversationConfig) *InMemoryConversation {
	return &InMemoryConversation{
		sessions: make(map[string]*sessionLog),
		config:   config,
	}
}

func (m *InMemoryConversation) log(sessionID string, create bool) *sessionLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.sessions[sessionID]
	if !ok && create {
		l = &sessionLog{}
		m.sessions[sessionID] = l
	}
	return l
}

// AppendMessage implements ConversationMemory.
func (m *InMemoryConversation) AppendMessage(_ context.Context, sessionID string, msg ConversationMessage) error {
	if err := stamp(&msg, sessionID); err != nil {
		return err
	}
	l := m.log(sessionID, true)
	l.mu.Lock()
	l.messages = append(l.messages, msg)
	l.mu.Unlock()
	return nil
}

// GetMessages implements ConversationMemory. An unknown session has an
// empty log.
func (m *InMemoryConversation) GetMessages(ctx context.Context, sessionID string) ([]ConversationMessage, error) {
	l := m.log(sessionID, false)
	if l == nil {
		return nil, nil
	}
	l.mu.RLock()
	messages := slices.Clone(l.messages)
	l.mu.RUnlock()
	return applyTruncation(ctx, m.config, messages)
}

// ListSessions returns the session IDs in lexical order.
func (m *InMemoryConversation) ListSessions() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	slices.Sort(ids)
	return ids
}

// MessageCount returns the stored length of a log, before truncation.
func (m *InMemoryConversation) MessageCount(sessionID string) int {
	l := m.log(sessionID, false)
	if l == nil {
		return 0
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

// stamp fills the identity fields of a message about to be logged.
func stamp(msg *ConversationMessage, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("conversation session id is empty")
	}
	if msg.SessionID != "" && msg.SessionID != sessionID {
		return fmt.Errorf("message belongs to session %q, not %q", msg.SessionID, sessionID)
	}
	msg.SessionID = sessionID
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	return nil
}
