// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry provides OpenTelemetry integration with rich attributes
// for pipeline observability.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic conventions for concord telemetry.
// These follow OpenTelemetry naming conventions where applicable.
const (
	// Run attributes
	AttrRunID = "concord.run.id"
	AttrStage = "concord.stage"
	AttrUnit  = "concord.unit"

	// Negotiation attributes
	AttrTemplate  = "concord.template"
	AttrRound     = "concord.round"
	AttrMaxRounds = "concord.max_rounds"
	AttrDecision  = "concord.decision"
	AttrForced    = "concord.forced"
	AttrSkipped   = "concord.arbiter_skipped"

	// Role attributes
	AttrRoleName    = "concord.role.name"
	AttrRoleSession = "concord.role.session_id"
	AttrRoleAttempt = "concord.role.attempt"
	AttrRoleMemory  = "concord.role.memory"

	// Validation attributes
	AttrWellFormed  = "concord.tags.well_formed"
	AttrDefectCount = "concord.tags.defects"
	AttrFragments   = "concord.tags.fragments"

	// Schema attributes
	AttrHeaderCount = "concord.schema.headers"
	AttrLabelCount  = "concord.schema.labels"
	AttrPass        = "concord.schema.pass"

	// LLM attributes (extending standard gen_ai conventions)
	AttrLLMModel        = "gen_ai.request.model"
	AttrLLMMessages     = "gen_ai.request.messages"
	AttrLLMTokensInput  = "gen_ai.usage.input_tokens"
	AttrLLMTokensOutput = "gen_ai.usage.output_tokens"
	AttrLLMTokensTotal  = "gen_ai.usage.total_tokens"
	AttrLLMDurationMs   = "gen_ai.duration_ms"
)

// RoundAttributes returns common attributes for negotiation round spans.
func RoundAttributes(stage, template string, round, maxRounds int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrTemplate, template),
		attribute.Int(AttrRound, round),
	}
	if stage != "" {
		attrs = append(attrs, attribute.String(AttrStage, stage))
	}
	if maxRounds > 0 {
		attrs = append(attrs, attribute.Int(AttrMaxRounds, maxRounds))
	}
	return attrs
}

// RoleAttributes returns attributes for a role invocation span.
func RoleAttributes(name, sessionID string, memory bool, attempt int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrRoleName, name),
		attribute.Bool(AttrRoleMemory, memory),
	}
	if sessionID != "" {
		attrs = append(attrs, attribute.String(AttrRoleSession, sessionID))
	}
	if attempt > 0 {
		attrs = append(attrs, attribute.Int(AttrRoleAttempt, attempt))
	}
	return attrs
}

// ValidationAttributes returns attributes describing a tag validation report.
func ValidationAttributes(wellFormed bool, defects, fragments int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(AttrWellFormed, wellFormed),
		attribute.Int(AttrDefectCount, defects),
		attribute.Int(AttrFragments, fragments),
	}
}

// SchemaAttributes returns attributes describing the accumulated schema.
func SchemaAttributes(pass, headers, labels int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int(AttrHeaderCount, headers),
		attribute.Int(AttrLabelCount, labels),
	}
	if pass > 0 {
		attrs = append(attrs, attribute.Int(AttrPass, pass))
	}
	return attrs
}

// LLMAttributes returns attributes for LLM call spans.
func LLMAttributes(model string, msgCount int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int(AttrLLMMessages, msgCount),
	}
	if model != "" {
		attrs = append(attrs, attribute.String(AttrLLMModel, model))
	}
	return attrs
}

// LLMUsageAttributes returns token usage attributes.
func LLMUsageAttributes(inputTokens, outputTokens int, durationMs float64) []attribute.KeyValue {
	attrs := []attribute.KeyValue{}
	if inputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensInput, inputTokens))
	}
	if outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensOutput, outputTokens))
	}
	if inputTokens > 0 || outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensTotal, inputTokens+outputTokens))
	}
	if durationMs > 0 {
		attrs = append(attrs, attribute.Float64(AttrLLMDurationMs, durationMs))
	}
	return attrs
}
