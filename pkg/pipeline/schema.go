// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/jllopis/concord/pkg/artifact"
	"github.com/jllopis/concord/pkg/consensus"
	"github.com/jllopis/concord/pkg/parser"
	"github.com/jllopis/concord/pkg/telemetry"
)

// Pruner fields.
const (
	fieldDelHeaders = "del_table_names"
	fieldDelLabels  = "del_label_names"
)

// DesignSchema accumulates headers and labels over up to SchemaPasses
// review-and-prune passes, seeded with the labels of ref. It returns the
// schema and the number of passes run.
func (o *Orchestrator) DesignSchema(ctx context.Context, runID string, def artifact.Definition, requirement string, ref artifact.Reference) (artifact.Schema, int, error) {
	slots := o.stages.Schema
	headerProposer, err := o.agent(StageSchema, slots.HeaderProposer)
	if err != nil {
		return artifact.Schema{}, 0, err
	}
	labelProposer, err := o.agent(StageSchema, slots.LabelProposer)
	if err != nil {
		return artifact.Schema{}, 0, err
	}
	pruner, err := o.agent(StageSchema, slots.Pruner)
	if err != nil {
		return artifact.Schema{}, 0, err
	}

	acc := artifact.NewSchema(ref)
	passes := 0
	for pass := 1; pass <= o.policy.SchemaPasses; pass++ {
		passes = pass
		snapshot := acc.Clone()
		rp := &consensus.ReviewPrune{
			Stage:           StageSchema,
			RunID:           runID,
			Pass:            pass,
			Proposers:       []consensus.Role{headerProposer, labelProposer},
			Pruner:          pruner,
			MaxParseRetries: o.policy.MaxParseRetries,
			Audit:           o.audit,
			Metrics:         o.metrics,
			Logger:          o.logger,
			Hooks: consensus.PruneHooks{
				Draft: func(name string) string {
					if name == headerProposer.Name() {
						return headerDraft(def, requirement, snapshot)
					}
					return labelDraft(def, requirement, snapshot)
				},
				Prune: func(drafts []consensus.Draft) string {
					return pruneRequest(def, requirement, snapshot, drafts)
				},
			},
		}
		out, err := rp.Run(ctx)
		if err != nil {
			return artifact.Schema{}, passes, err
		}

		headers, herrs := artifact.DecodeHeaders(proposed(out.Draft(headerProposer.Name())))
		labels, lerrs := artifact.DecodeLabels(proposed(out.Draft(labelProposer.Name())))
		for _, e := range append(herrs, lerrs...) {
			o.logger.WarnContext(ctx, "dropping invalid schema item",
				slog.String("stage", StageSchema),
				slog.Int("pass", pass),
				slog.String("error", e.Error()),
			)
		}

		merged := Merge(acc, Candidates{Headers: headers, Labels: labels}, Deletions{
			Headers: out.Decision.List(fieldDelHeaders),
			Labels:  out.Decision.List(fieldDelLabels),
		})
		acc = merged.Schema
		o.logger.InfoContext(ctx, "schema pass merged",
			slog.Int("pass", pass),
			slog.Int("added_headers", len(merged.AddedHeaders)),
			slog.Int("added_labels", len(merged.AddedLabels)),
			slog.Int("removed_headers", len(merged.RemovedHeaders)),
			slog.Int("removed_labels", len(merged.RemovedLabels)),
			slog.Int("duplicates", len(merged.Duplicates)),
		)
		if !merged.Changed() {
			break
		}
	}

	_, span := o.tracer.Start(ctx, "Pipeline.SchemaAccepted")
	span.SetAttributes(telemetry.SchemaAttributes(passes, len(acc.Headers), len(acc.Labels))...)
	span.SetAttributes(attribute.String(telemetry.AttrRunID, runID))
	span.End()

	return acc, passes, nil
}

// proposed returns the items of a drafted record: the undeclared keys of an
// open schema.
func proposed(rec *parser.Record) map[string]any {
	if rec == nil {
		return nil
	}
	return rec.Extra
}
