// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"

	"github.com/jllopis/concord/pkg/config"
	"github.com/jllopis/concord/pkg/llm"
	"github.com/jllopis/concord/providers/anthropic"
	"github.com/jllopis/concord/providers/gemini"
	"github.com/jllopis/concord/providers/openai"
)

// newHostedProvider builds one of the SDK-backed providers. The SDKs retry
// transient failures themselves, so llm.max_retries does not wrap them.
// An empty model or base URL keeps the provider default.
func newHostedProvider(ctx context.Context, name string, cfg config.LLMConfig) (llm.Provider, error) {
	switch name {
	case "openai":
		var opts []openai.Option
		if cfg.Model != "" {
			opts = append(opts, openai.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		if cfg.APIKey != "" {
			opts = append(opts, openai.WithAPIKey(cfg.APIKey))
		}
		return openai.New(opts...), nil
	case "anthropic":
		var opts []anthropic.Option
		if cfg.Model != "" {
			opts = append(opts, anthropic.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		if cfg.APIKey != "" {
			opts = append(opts, anthropic.WithAPIKey(cfg.APIKey))
		}
		return anthropic.New(opts...), nil
	}

	var opts []gemini.Option
	if cfg.Model != "" {
		opts = append(opts, gemini.WithModel(cfg.Model))
	}
	if cfg.APIKey != "" {
		return gemini.NewWithAPIKey(ctx, cfg.APIKey, opts...)
	}
	return gemini.New(ctx, opts...)
}
