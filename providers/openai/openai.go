// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package openai provides an OpenAI chat completions provider for Concord
// role agents. Any OpenAI-compatible endpoint (DashScope compatible mode,
// vLLM, LM Studio) works through WithBaseURL.
package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/jllopis/concord/pkg/llm"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultModel is used when neither the request nor an option names one.
const DefaultModel = "gpt-5-mini"

// Provider implements llm.Provider for the OpenAI API.
type Provider struct {
	client  openai.Client
	model   string
	options []option.RequestOption
}

// Option configures the Provider.
type Option func(*Provider)

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL sets a custom base URL for compatible endpoints and proxies.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.options = append(p.options, option.WithBaseURL(url)) }
}

// WithAPIKey sets the API key. OPENAI_API_KEY is used otherwise.
func WithAPIKey(apiKey string) Option {
	return func(p *Provider) { p.options = append(p.options, option.WithAPIKey(apiKey)) }
}

// New creates a provider. Options are applied before the client is built
// so base URL and key combine.
func New(opts ...Option) *Provider {
	p := &Provider{model: DefaultModel}
	for _, opt := range opts {
		opt(p)
	}
	p.client = openai.NewClient(p.options...)
	return p
}

// NewWithAPIKey creates a provider with an explicit API key.
func NewWithAPIKey(apiKey string, opts ...Option) *Provider {
	return New(append([]Option{WithAPIKey(apiKey)}, opts...)...)
}

// Chat implements llm.Provider.
func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	completion, err := p.client.Chat.Completions.New(ctx, p.params(req))
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	return convertResponse(completion), nil
}

func (p *Provider) params(req llm.ChatRequest) openai.ChatCompletionNewParams {
	model := req.Model
	if model == "" {
		model = p.model
	}
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, convertMessage(msg))
	}
	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: messages,
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	return params
}

func convertMessage(msg llm.Message) openai.ChatCompletionMessageParamUnion {
	switch msg.Role {
	case llm.RoleSystem:
		return openai.SystemMessage(msg.Content)
	case llm.RoleAssistant:
		return openai.AssistantMessage(msg.Content)
	default:
		return openai.UserMessage(msg.Content)
	}
}

func convertResponse(completion *openai.ChatCompletion) *llm.ChatResponse {
	resp := &llm.ChatResponse{
		Usage: llm.Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}
	if len(completion.Choices) > 0 {
		resp.Content = strings.TrimSpace(completion.Choices[0].Message.Content)
	}
	return resp
}

var _ llm.Provider = (*Provider)(nil)
