// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package consensus implements the two multi-role workflow templates used by
// pipeline stages: a negotiation loop (propose, critique, arbitrate) and a
// review-and-prune pass (independent drafts pruned by one reviewer).
//
// Both templates are generic: stage semantics enter only through the roles
// and through prompt hooks.
package consensus

import (
	"context"
	"strings"

	"github.com/jllopis/concord/pkg/parser"
)

// Role is the part of a role agent the engine drives.
type Role interface {
	Name() string
	AskStructured(ctx context.Context, message string, maxRetries int) (*parser.Record, error)
}

// Template names, used in telemetry.
const (
	TemplateNegotiation = "negotiation"
	TemplateReviewPrune = "review_prune"
)

// blank reports whether a feedback field carries nothing.
func blank(rec *parser.Record, field string) bool {
	switch v := rec.Fields[field].(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []string:
		for _, s := range v {
			if strings.TrimSpace(s) != "" {
				return false
			}
		}
		return true
	}
	return false
}

// section renders a titled block for a prompt.
func section(title, body string) string {
	return "# " + title + "\n```\n" + strings.TrimRight(body, "\n") + "\n```\n"
}
