// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/jllopis/concord/pkg/artifact"
	"github.com/jllopis/concord/pkg/audit"
	"github.com/jllopis/concord/pkg/consensus"
	"github.com/jllopis/concord/pkg/errors"
	"github.com/jllopis/concord/pkg/parser"
	"github.com/jllopis/concord/pkg/role"
	"github.com/jllopis/concord/pkg/tags"
	"github.com/jllopis/concord/pkg/telemetry"
)

// Annotate negotiates the annotation of every unit against the labels of
// schema. Units run concurrently up to the policy limit, each with its own
// agents. Results keep the order of units.
func (o *Orchestrator) Annotate(ctx context.Context, runID string, schema artifact.Schema, units []Unit) ([]Annotation, error) {
	if len(units) == 0 {
		return nil, nil
	}
	if len(schema.Labels) == 0 {
		return nil, errors.New(errors.CodeInvalidInput, "no annotation labels to annotate with", nil).
			WithStage(StageAnnotation)
	}
	seen := make(map[string]struct{}, len(units))
	for i, u := range units {
		if u.ID == "" {
			return nil, errors.New(errors.CodeInvalidInput, "annotation unit has no id", nil).
				WithStage(StageAnnotation).
				WithContext("index", i)
		}
		if _, dup := seen[u.ID]; dup {
			return nil, errors.New(errors.CodeInvalidInput, "duplicate annotation unit", nil).
				WithStage(StageAnnotation).
				WithContext("unit", u.ID)
		}
		seen[u.ID] = struct{}{}
	}

	ref := schema.Labels.Clone()
	results := make([]Annotation, len(units))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.policy.Concurrency)
	for i, u := range units {
		g.Go(func() error {
			ann, err := o.annotateUnit(gctx, runID, ref, u)
			if err != nil {
				return err
			}
			results[i] = ann
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (o *Orchestrator) annotateUnit(ctx context.Context, runID string, ref artifact.Reference, u Unit) (Annotation, error) {
	ctx = telemetry.WithUnit(ctx, u.ID)
	slots := o.stages.Annotation
	agents := make([]*role.Agent, 0, 3)
	for _, name := range []string{slots.Proposer, slots.Critic, slots.Arbiter} {
		a, err := o.registry.Spawn(name)
		if err != nil {
			return Annotation{}, errors.AsPipelineError(err).WithStage(StageAnnotation).WithContext("unit", u.ID)
		}
		agents = append(agents, a)
	}
	defer func() {
		for _, a := range agents {
			_ = a.Close()
		}
	}()

	source := strings.TrimSpace(u.Text)
	names := ref.Names()
	n := o.negotiation(StageAnnotation, runID, agents[0], agents[1], agents[2])
	n.Unit = u.ID
	n.Request = annotationRequest(ref, "", source)
	n.Hooks = consensus.Hooks{
		Propose: func(in consensus.ProposeInput) string {
			if in.Prior == nil {
				return n.Request
			}
			return annotationRevision(ref, source, in.Prior.Content, in.Previous)
		},
		Evidence: func(candidate *parser.Record) *consensus.Evidence {
			report := tags.Validate(candidate.Content, source, names)
			return &consensus.Evidence{Text: report.Evidence(), Detail: report}
		},
		Critique: func(in consensus.CritiqueInput) string {
			return annotationReview(ref, source, in)
		},
		Arbitrate: func(in consensus.ArbitrateInput) string {
			return annotationJudgement(ref, source, in.Candidate.Content, in.Critique)
		},
	}

	out, err := n.Run(ctx)
	if err != nil {
		return Annotation{}, err
	}

	report := tags.Validate(out.Artifact.Content, source, names)
	for _, d := range report.Errors {
		o.metrics.RecordDefect(ctx, string(d.Kind))
	}
	if !report.WellFormed {
		o.logger.WarnContext(ctx, "accepted annotation has structural defects",
			slog.String("unit", u.ID),
			slog.Int("defects", len(report.Errors)),
			slog.Bool("forced", out.Forced),
		)
	}
	o.record(ctx, audit.Event{
		RunID:  runID,
		Stage:  StageAnnotation,
		Kind:   audit.KindValidation,
		Unit:   u.ID,
		Round:  len(out.Rounds),
		Detail: report,
	})

	return Annotation{
		Unit:   u.ID,
		Source: source,
		Text:   out.Artifact.Content,
		Report: report,
		Rounds: len(out.Rounds),
		Forced: out.Forced,
	}, nil
}
