// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jllopis/concord/pkg/config"
	"github.com/jllopis/concord/pkg/llm"
	"github.com/jllopis/concord/pkg/parser"
)

const sourceBlock = "# Information to be Annotated\n```\n"

// newEchoProvider returns a model stand-in for dry runs. Every role answers
// with the zero value of its schema, so critiques are empty and every
// negotiation accepts its first proposal. Annotators echo the source text
// back without markers.
func newEchoProvider(roles *config.RoleSet) *llm.MockProvider {
	schemas := make(map[string]parser.Schema, len(roles.Roles))
	for _, rc := range roles.Roles {
		schemas[rc.Name] = rc.Schema
	}
	return &llm.MockProvider{
		ChatFunc: func(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
			s := schemas[req.Caller()]
			if s.Plain() {
				return &llm.ChatResponse{Content: echoSource(req.LastUserMessage())}, nil
			}
			return &llm.ChatResponse{Content: zeroRecord(s)}, nil
		},
	}
}

func echoSource(prompt string) string {
	start := strings.Index(prompt, sourceBlock)
	if start < 0 {
		return prompt
	}
	body := prompt[start+len(sourceBlock):]
	if end := strings.Index(body, "\n```"); end >= 0 {
		body = body[:end]
	}
	if body == "(none)" {
		return ""
	}
	return body
}

func zeroRecord(s parser.Schema) string {
	doc := make(map[string]any, len(s.Fields))
	for _, f := range s.Fields {
		switch f.Type {
		case parser.TypeNumber:
			doc[f.Name] = 0
		case parser.TypeBoolean:
			doc[f.Name] = false
		case parser.TypeEnum:
			if len(f.Options) > 0 {
				doc[f.Name] = f.Options[0]
			}
		case parser.TypeDate:
			doc[f.Name] = time.Now().Format(parser.DateLayout)
		case parser.TypeList:
			doc[f.Name] = []string{}
		default:
			doc[f.Name] = ""
		}
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return "```yaml\n{}\n```"
	}
	return "```yaml\n" + string(out) + "```"
}
