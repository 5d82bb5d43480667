// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestRoundAttributes(t *testing.T) {
	attrs := RoundAttributes("definition", "negotiation", 2, 3)

	expected := map[string]any{
		AttrStage:     "definition",
		AttrTemplate:  "negotiation",
		AttrRound:     2,
		AttrMaxRounds: 3,
	}

	assertAttributes(t, attrs, expected)
}

func TestRoundAttributes_OmitsEmpty(t *testing.T) {
	attrs := RoundAttributes("", "review_prune", 1, 0)
	if len(attrs) != 2 {
		t.Errorf("expected 2 attributes, got %d", len(attrs))
	}
}

func TestRoleAttributes(t *testing.T) {
	attrs := RoleAttributes("critic", "sess-1", true, 2)

	assertAttributes(t, attrs, map[string]any{
		AttrRoleName:    "critic",
		AttrRoleSession: "sess-1",
		AttrRoleMemory:  true,
		AttrRoleAttempt: 2,
	})
}

func TestValidationAttributes(t *testing.T) {
	attrs := ValidationAttributes(false, 3, 4)

	assertAttributes(t, attrs, map[string]any{
		AttrWellFormed:  false,
		AttrDefectCount: 3,
		AttrFragments:   4,
	})
}

func TestSchemaAttributes(t *testing.T) {
	attrs := SchemaAttributes(0, 5, 7)
	if len(attrs) != 2 {
		t.Errorf("expected pass to be omitted, got %v", attrs)
	}
	assertAttributes(t, SchemaAttributes(2, 5, 7), map[string]any{
		AttrPass:        2,
		AttrHeaderCount: 5,
		AttrLabelCount:  7,
	})
}

func TestLLMAttributes(t *testing.T) {
	attrs := LLMAttributes("qwen2.5", 4)

	assertAttributes(t, attrs, map[string]any{
		AttrLLMModel:    "qwen2.5",
		AttrLLMMessages: 4,
	})
}

func TestLLMUsageAttributes(t *testing.T) {
	attrs := LLMUsageAttributes(100, 50, 1234.5)

	assertAttributes(t, attrs, map[string]any{
		AttrLLMTokensInput:  100,
		AttrLLMTokensOutput: 50,
		AttrLLMTokensTotal:  150,
		AttrLLMDurationMs:   1234.5,
	})

	if got := LLMUsageAttributes(0, 0, 0); len(got) != 0 {
		t.Errorf("expected no attributes, got %v", got)
	}
}

// assertAttributes checks that expected key-value pairs exist in attrs
func assertAttributes(t *testing.T, attrs []attribute.KeyValue, expected map[string]any) {
	t.Helper()

	found := make(map[string]attribute.KeyValue)
	for _, attr := range attrs {
		found[string(attr.Key)] = attr
	}

	for key, expectedVal := range expected {
		attr, ok := found[key]
		if !ok {
			t.Errorf("missing attribute %s", key)
			continue
		}

		var actualVal any
		switch attr.Value.Type() {
		case attribute.STRING:
			actualVal = attr.Value.AsString()
		case attribute.INT64:
			actualVal = int(attr.Value.AsInt64())
		case attribute.FLOAT64:
			actualVal = attr.Value.AsFloat64()
		case attribute.BOOL:
			actualVal = attr.Value.AsBool()
		}

		if actualVal != expectedVal {
			t.Errorf("attribute %s: got %v, want %v", key, actualVal, expectedVal)
		}
	}
}
