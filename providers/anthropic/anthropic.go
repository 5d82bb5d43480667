// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package anthropic provides an Anthropic Claude provider for Concord role
// agents.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/jllopis/concord/pkg/llm"
)

const (
	DefaultModel     = "claude-sonnet-4-20250514"
	DefaultMaxTokens = 4096
)

// Provider implements llm.Provider for the Anthropic Messages API.
type Provider struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	options   []option.RequestOption
}

// Option configures the Provider.
type Option func(*Provider)

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithMaxTokens sets the maximum tokens of a response.
func WithMaxTokens(tokens int64) Option {
	return func(p *Provider) { p.maxTokens = tokens }
}

// WithBaseURL sets a custom base URL.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.options = append(p.options, option.WithBaseURL(url)) }
}

// WithAPIKey sets the API key. ANTHROPIC_API_KEY is used otherwise.
func WithAPIKey(apiKey string) Option {
	return func(p *Provider) { p.options = append(p.options, option.WithAPIKey(apiKey)) }
}

// New creates a provider.
func New(opts ...Option) *Provider {
	p := &Provider{model: DefaultModel, maxTokens: DefaultMaxTokens}
	for _, opt := range opts {
		opt(p)
	}
	p.client = anthropic.NewClient(p.options...)
	return p
}

// NewWithAPIKey creates a provider with an explicit API key.
func NewWithAPIKey(apiKey string, opts ...Option) *Provider {
	return New(append([]Option{WithAPIKey(apiKey)}, opts...)...)
}

// Chat implements llm.Provider.
func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	message, err := p.client.Messages.New(ctx, p.params(req))
	if err != nil {
		return nil, fmt.Errorf("anthropic message: %w", err)
	}
	return convertResponse(message), nil
}

// params moves system messages into the system prompt; the Messages API
// takes only user and assistant turns.
func (p *Provider) params(req llm.ChatRequest) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = p.model
	}
	var system []string
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case llm.RoleSystem:
			system = append(system, msg.Content)
		case llm.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: p.maxTokens,
		Messages:  messages,
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	return params
}

func convertResponse(message *anthropic.Message) *llm.ChatResponse {
	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return &llm.ChatResponse{
		Content: strings.TrimSpace(text.String()),
		Usage: llm.Usage{
			PromptTokens:     int(message.Usage.InputTokens),
			CompletionTokens: int(message.Usage.OutputTokens),
			TotalTokens:      int(message.Usage.InputTokens + message.Usage.OutputTokens),
		},
	}
}

var _ llm.Provider = (*Provider)(nil)
