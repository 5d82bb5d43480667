// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package role implements role agents: a named identity with fixed system
// instructions, a response schema and a private conversation log, bound to
// a model provider.
package role

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/concord/pkg/errors"
	"github.com/jllopis/concord/pkg/llm"
	"github.com/jllopis/concord/pkg/memory"
	"github.com/jllopis/concord/pkg/parser"
	"github.com/jllopis/concord/pkg/telemetry"
)

// Agent is a model-driven role. Calls on one agent are serialized so its
// conversation log stays in order.
type Agent struct {
	name          string
	system        string
	schema        parser.Schema
	memoryEnabled bool
	model         string
	sessionID     string

	provider llm.Provider
	mem      memory.ConversationMemory
	metrics  *telemetry.ConsensusMetrics
	logger   *slog.Logger
	tracer   trace.Tracer

	mu     sync.Mutex
	closed bool
}

// Option configures an Agent instance.
type Option func(*Agent) error

// New creates a role agent. The name and provider are required.
func New(name string, provider llm.Provider, opts ...Option) (*Agent, error) {
	a := &Agent{
		name:      name,
		provider:  provider,
		sessionID: uuid.New().String(),
		logger:    slog.Default(),
		tracer:    otel.Tracer("concord/role"),
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	if a.name == "" {
		return nil, errors.New(errors.CodeInvalidInput, "role name is required", nil)
	}
	if a.provider == nil {
		return nil, errors.New(errors.CodeInvalidInput, "role provider is required", nil).WithRole(a.name)
	}
	if err := a.schema.Validate(); err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "invalid role schema", err).WithRole(a.name)
	}
	if a.memoryEnabled && a.mem == nil {
		a.mem = memory.NewInMemoryConversation(memory.ConversationConfig{})
	}
	return a, nil
}

// WithSystem sets the fixed system instructions.
func WithSystem(system string) Option {
	return func(a *Agent) error {
		a.system = system
		return nil
	}
}

// WithSchema sets the response schema. The zero schema means plain text.
func WithSchema(s parser.Schema) Option {
	return func(a *Agent) error {
		a.schema = s
		return nil
	}
}

// WithModel sets the model name passed to the provider.
func WithModel(model string) Option {
	return func(a *Agent) error {
		a.model = model
		return nil
	}
}

// WithMemory enables the conversation log, stored in mem. A nil store
// selects a private in-memory log.
func WithMemory(mem memory.ConversationMemory) Option {
	return func(a *Agent) error {
		a.memoryEnabled = true
		a.mem = mem
		return nil
	}
}

// WithMetrics attaches consensus metrics.
func WithMetrics(m *telemetry.ConsensusMetrics) Option {
	return func(a *Agent) error {
		a.metrics = m
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) error {
		if l != nil {
			a.logger = l
		}
		return nil
	}
}

// Name returns the role name.
func (a *Agent) Name() string { return a.name }

// Schema returns the response schema.
func (a *Agent) Schema() parser.Schema { return a.schema }

// SessionID returns the id of the agent's conversation log.
func (a *Agent) SessionID() string { return a.sessionID }

// MemoryEnabled reports whether the agent replays its own history.
func (a *Agent) MemoryEnabled() bool { return a.memoryEnabled }

// Close ends the agent's life. Later calls fail with an invalid input error.
func (a *Agent) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

// Respond sends message to the model and returns the raw reply text.
// Transport failures are returned as collaborator failures and are not
// retried here.
func (a *Agent) Respond(ctx context.Context, message string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.exchange(ctx, []llm.Message{{Role: llm.RoleUser, Content: message}}, 1)
}

// AskStructured sends message and parses the reply against the agent's
// schema. A reply that fails to parse is followed by a regeneration request
// in the same conversation, at most maxRetries times. The returned error is
// a parse failure when every attempt failed.
func (a *Agent) AskStructured(ctx context.Context, message string, maxRetries int) (*parser.Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if maxRetries < 0 {
		maxRetries = 0
	}
	turn := []llm.Message{{Role: llm.RoleUser, Content: message}}
	var last *parser.Failure
	for attempt := 1; attempt <= maxRetries+1; attempt++ {
		raw, err := a.exchange(ctx, turn, attempt)
		if err != nil {
			return nil, err
		}
		rec, fail := parser.Parse(raw, a.schema)
		if fail == nil {
			return rec, nil
		}
		last = fail
		a.logger.WarnContext(ctx, "role response failed to parse",
			slog.String("role", a.name),
			slog.Int("attempt", attempt),
			slog.String("reason", fail.Error()),
		)
		if attempt <= maxRetries {
			a.metrics.RecordParseRetry(ctx, a.name)
		}
		// Without memory the model only sees this turn, so the failed
		// reply is carried along explicitly.
		turn = append(turn,
			llm.Message{Role: llm.RoleAssistant, Content: raw, Name: a.name},
			llm.Message{Role: llm.RoleUser, Content: parser.RegenerationPrompt(fail, a.schema)},
		)
	}
	return nil, errors.New(errors.CodeParseFailure,
		fmt.Sprintf("response did not match the schema after %d attempts", maxRetries+1), last).
		WithRole(a.name).
		WithContext("attempts", maxRetries+1)
}

// exchange sends the pending turn after the system prompt and, for
// memory-enabled agents, the stored history. The last message of turn and
// the reply are appended to the log.
func (a *Agent) exchange(ctx context.Context, turn []llm.Message, attempt int) (string, error) {
	if a.closed {
		return "", errors.New(errors.CodeInvalidInput, "role agent is closed", nil).WithRole(a.name)
	}

	ctx, span := a.tracer.Start(ctx, "Role.Invoke")
	defer span.End()
	span.SetAttributes(telemetry.RoleAttributes(a.name, a.sessionID, a.memoryEnabled, attempt)...)

	messages := []llm.Message{{Role: llm.RoleSystem, Content: a.systemPrompt(), Name: a.name}}
	if a.memoryEnabled {
		history, err := a.mem.GetMessages(ctx, a.sessionID)
		if err != nil {
			return "", errors.New(errors.CodeInternal, "read conversation log", err).WithRole(a.name)
		}
		for _, m := range history {
			messages = append(messages, llm.Message{Role: llm.Role(m.Role), Content: m.Content, Name: m.Name})
		}
		// Earlier messages of this turn are already in the log.
		turn = turn[len(turn)-1:]
	}
	messages = append(messages, turn...)
	span.SetAttributes(telemetry.LLMAttributes(a.model, len(messages))...)

	a.metrics.RecordRoleCall(ctx, a.name)
	resp, err := a.provider.Chat(ctx, llm.ChatRequest{Model: a.model, Messages: messages})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "model invocation failed")
		return "", errors.New(errors.CodeCollaboratorFailure, "model invocation failed", err).
			WithRole(a.name).
			WithRecoverable(false)
	}
	span.SetAttributes(telemetry.LLMUsageAttributes(resp.Usage.PromptTokens, resp.Usage.CompletionTokens, 0)...)

	if a.memoryEnabled {
		last := turn[len(turn)-1]
		if err := a.remember(ctx, last, resp.Content); err != nil {
			return "", err
		}
	}
	return resp.Content, nil
}

func (a *Agent) remember(ctx context.Context, sent llm.Message, reply string) error {
	msgs := []memory.ConversationMessage{
		{Role: string(sent.Role), Content: sent.Content, Name: sent.Name},
		{Role: string(llm.RoleAssistant), Content: reply, Name: a.name},
	}
	for _, m := range msgs {
		if err := a.mem.AppendMessage(ctx, a.sessionID, m); err != nil {
			return errors.New(errors.CodeInternal, "append conversation log", err).WithRole(a.name)
		}
	}
	return nil
}

func (a *Agent) systemPrompt() string {
	instruction := parser.FormatInstruction(a.schema)
	if a.system == "" {
		return instruction
	}
	return a.system + "\n\n" + instruction
}
