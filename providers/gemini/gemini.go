// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package gemini provides a Google Gemini provider for Concord role agents.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/jllopis/concord/pkg/llm"
	"google.golang.org/genai"
)

// DefaultModel is used when neither the request nor an option names one.
const DefaultModel = "gemini-2.5-flash"

// Provider implements llm.Provider for the Gemini API.
type Provider struct {
	client *genai.Client
	model  string
}

// Option configures the Provider.
type Option func(*Provider)

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// New creates a provider. The API key is read from GOOGLE_API_KEY or
// GEMINI_API_KEY.
func New(ctx context.Context, opts ...Option) (*Provider, error) {
	return newProvider(ctx, nil, opts)
}

// NewWithAPIKey creates a provider with an explicit API key.
func NewWithAPIKey(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	return newProvider(ctx, &genai.ClientConfig{APIKey: apiKey}, opts)
}

func newProvider(ctx context.Context, cfg *genai.ClientConfig, opts []Option) (*Provider, error) {
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	p := &Provider{client: client, model: DefaultModel}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Chat implements llm.Provider.
func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	contents, config := buildRequest(req)
	resp, err := p.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini generate content: %w", err)
	}
	return convertResponse(resp), nil
}

// Close is a no-op; the Gemini client holds no resources.
func (p *Provider) Close() error {
	return nil
}

func buildRequest(req llm.ChatRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	contents, system := convertMessages(req.Messages)
	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if req.Temperature > 0 {
		temp := float32(req.Temperature)
		config.Temperature = &temp
	}
	return contents, config
}

// convertMessages splits system messages off into the system instruction.
// Assistant turns are sent with the "model" role.
func convertMessages(messages []llm.Message) ([]*genai.Content, string) {
	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			system = append(system, msg.Content)
		case llm.RoleAssistant:
			contents = append(contents, &genai.Content{Role: "model", Parts: []*genai.Part{{Text: msg.Content}}})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: msg.Content}}})
		}
	}
	return contents, strings.Join(system, "\n\n")
}

func convertResponse(resp *genai.GenerateContentResponse) *llm.ChatResponse {
	result := &llm.ChatResponse{}
	if resp.UsageMetadata != nil {
		result.Usage = llm.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		var text strings.Builder
		for _, part := range resp.Candidates[0].Content.Parts {
			text.WriteString(part.Text)
		}
		result.Content = strings.TrimSpace(text.String())
	}
	return result
}

var _ llm.Provider = (*Provider)(nil)
