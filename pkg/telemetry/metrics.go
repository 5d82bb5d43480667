// SPDX-License-Identifier: Apache-2.0
// Package telemetry provides observability for concord pipelines.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/concord/pkg/errors"
)

// ConsensusMetrics counts negotiation activity for production monitoring.
// A nil *ConsensusMetrics is valid and records nothing.
type ConsensusMetrics struct {
	// roundCounter tracks negotiation rounds by stage and template
	roundCounter metric.Int64Counter

	// forcedCounter tracks acceptances forced by an exhausted round budget
	forcedCounter metric.Int64Counter

	// parseRetryCounter tracks regeneration requests after parse failures
	parseRetryCounter metric.Int64Counter

	// defectCounter tracks structural defects by kind
	defectCounter metric.Int64Counter

	// roleCallCounter tracks model invocations per role
	roleCallCounter metric.Int64Counter

	// errorCounter tracks fatal stage errors by code
	errorCounter metric.Int64Counter
}

// NewConsensusMetrics creates the counters on the global meter provider.
func NewConsensusMetrics() (*ConsensusMetrics, error) {
	meter := otel.Meter("concord/consensus")

	roundCounter, err := meter.Int64Counter(
		"concord.rounds.total",
		metric.WithDescription("Negotiation rounds by stage and template"),
	)
	if err != nil {
		return nil, err
	}

	forcedCounter, err := meter.Int64Counter(
		"concord.acceptances.forced",
		metric.WithDescription("Artifacts accepted because the round budget ran out"),
	)
	if err != nil {
		return nil, err
	}

	parseRetryCounter, err := meter.Int64Counter(
		"concord.parse.retries",
		metric.WithDescription("Regeneration requests after a response failed to parse"),
	)
	if err != nil {
		return nil, err
	}

	defectCounter, err := meter.Int64Counter(
		"concord.tags.defects",
		metric.WithDescription("Structural defects found in annotated text by kind"),
	)
	if err != nil {
		return nil, err
	}

	roleCallCounter, err := meter.Int64Counter(
		"concord.role.calls",
		metric.WithDescription("Model invocations by role"),
	)
	if err != nil {
		return nil, err
	}

	errorCounter, err := meter.Int64Counter(
		"concord.errors.total",
		metric.WithDescription("Fatal pipeline errors by code and stage"),
	)
	if err != nil {
		return nil, err
	}

	return &ConsensusMetrics{
		roundCounter:      roundCounter,
		forcedCounter:     forcedCounter,
		parseRetryCounter: parseRetryCounter,
		defectCounter:     defectCounter,
		roleCallCounter:   roleCallCounter,
		errorCounter:      errorCounter,
	}, nil
}

// RecordRound increments the round counter.
func (m *ConsensusMetrics) RecordRound(ctx context.Context, stage, template string) {
	if m == nil {
		return
	}
	m.roundCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrStage, stage),
		attribute.String(AttrTemplate, template),
	))
}

// RecordForcedAcceptance increments the forced-acceptance counter.
func (m *ConsensusMetrics) RecordForcedAcceptance(ctx context.Context, stage string) {
	if m == nil {
		return
	}
	m.forcedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrStage, stage)))
}

// RecordParseRetry increments the parse retry counter for a role.
func (m *ConsensusMetrics) RecordParseRetry(ctx context.Context, role string) {
	if m == nil {
		return
	}
	m.parseRetryCounter.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrRoleName, role)))
}

// RecordDefect increments the defect counter for one defect kind.
func (m *ConsensusMetrics) RecordDefect(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.defectCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("defect.kind", kind)))
}

// RecordRoleCall increments the role call counter.
func (m *ConsensusMetrics) RecordRoleCall(ctx context.Context, role string) {
	if m == nil {
		return
	}
	m.roleCallCounter.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrRoleName, role)))
}

// RecordError increments the error counter for a fatal stage error.
func (m *ConsensusMetrics) RecordError(ctx context.Context, err error) {
	if m == nil || err == nil {
		return
	}
	pe := errors.AsPipelineError(err)
	m.errorCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("error.code", string(pe.Code)),
		attribute.String(AttrStage, pe.Stage()),
		attribute.String("recoverable", pe.RecoverableString()),
	))
}
