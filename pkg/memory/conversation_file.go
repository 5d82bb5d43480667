// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FileConversation implements ConversationMemory with one JSON Lines file
// per session. Messages are only ever appended, which leaves a transcript
// of every role conversation next to the run output.
type FileConversation struct {
	mu      sync.Mutex
	baseDir string
	config  ConversationConfig
}

// NewFileConversation creates a new file-based conversation store.
func NewFileConversation(baseDir string, config ConversationConfig) (*FileConversation, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create conversation directory: %w", err)
	}
	return &FileConversation{
		baseDir: baseDir,
		config:  config,
	}, nil
}

func (f *FileConversation) sessionFile(sessionID string) string {
	// Sanitize sessionID to prevent path traversal
	safe := filepath.Base(sessionID)
	return filepath.Join(f.baseDir, safe+".jsonl")
}

// AppendMessage adds a message to the conversation.
func (f *FileConversation) AppendMessage(_ context.Context, sessionID string, msg ConversationMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := stamp(&msg, sessionID); err != nil {
		return err
	}
	line, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	file, err := os.OpenFile(f.sessionFile(sessionID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open conversation file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// GetMessages retrieves all messages for a session.
func (f *FileConversation) GetMessages(ctx context.Context, sessionID string) ([]ConversationMessage, error) {
	f.mu.Lock()
	messages, err := f.loadMessages(sessionID)
	f.mu.Unlock()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return applyTruncation(ctx, f.config, messages)
}

func (f *FileConversation) loadMessages(sessionID string) ([]ConversationMessage, error) {
	file, err := os.Open(f.sessionFile(sessionID))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var messages []ConversationMessage
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var msg ConversationMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			return nil, fmt.Errorf("failed to parse conversation file: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}

// ListSessions returns all session IDs with stored conversations.
func (f *FileConversation) ListSessions() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.baseDir)
	if err != nil {
		return nil, err
	}

	var sessions []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if filepath.Ext(name) == ".jsonl" {
			sessions = append(sessions, strings.TrimSuffix(name, ".jsonl"))
		}
	}

	sort.Strings(sessions)
	return sessions, nil
}
