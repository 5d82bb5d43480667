// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package consensus

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/jllopis/concord/pkg/audit"
	"github.com/jllopis/concord/pkg/errors"
	"github.com/jllopis/concord/pkg/parser"
	"github.com/jllopis/concord/pkg/telemetry"
)

// Draft is one proposer's independent contribution.
type Draft struct {
	Role   string
	Record *parser.Record
}

// PruneHooks compose the stage-specific messages of a review-and-prune
// pass.
type PruneHooks struct {
	// Draft builds the message for one proposer.
	Draft func(proposer string) string
	// Prune builds the message for the pruner from every draft.
	Prune func(drafts []Draft) string
}

// PruneOutcome holds the drafts and the pruner's decision.
type PruneOutcome struct {
	Drafts   []Draft
	Decision *parser.Record
}

// Draft returns the draft of the named proposer, or nil.
func (o *PruneOutcome) Draft(role string) *parser.Record {
	for _, d := range o.Drafts {
		if d.Role == role {
			return d.Record
		}
	}
	return nil
}

// ReviewPrune runs its proposers concurrently, waits for all of them, then
// asks one pruner which proposed items to drop. There is no loop.
type ReviewPrune struct {
	Stage string
	RunID string
	// Pass numbers repeated invocations within a stage, starting at 1.
	Pass int

	Proposers []Role
	Pruner    Role
	Hooks     PruneHooks

	// MaxParseRetries follows Negotiation.MaxParseRetries.
	MaxParseRetries int

	Audit   audit.Store
	Metrics *telemetry.ConsensusMetrics
	Logger  *slog.Logger
}

// Run executes the drafts and the prune. Any failing draft fails the pass.
func (p *ReviewPrune) Run(ctx context.Context) (*PruneOutcome, error) {
	if len(p.Proposers) == 0 || p.Pruner == nil {
		return nil, errors.New(errors.CodeInvalidInput, "review needs at least one proposer and a pruner", nil).
			WithStage(p.Stage)
	}
	if p.Audit == nil {
		p.Audit = audit.Discard
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	round := p.Pass
	if round <= 0 {
		round = 1
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.New(errors.CodeContextLost, "review cancelled", err).
			WithStage(p.Stage).
			WithRound(round)
	}

	ctx, span := otel.Tracer("concord/consensus").Start(ctx, "ReviewPrune.Run")
	defer span.End()
	span.SetAttributes(telemetry.RoundAttributes(p.Stage, TemplateReviewPrune, round, 0)...)

	// Drafts in flight always complete: neither cancellation of ctx nor a
	// failing sibling cuts a model call.
	callCtx := context.WithoutCancel(ctx)
	drafts := make([]Draft, len(p.Proposers))
	var g errgroup.Group
	for i, proposer := range p.Proposers {
		g.Go(func() error {
			rec, err := proposer.AskStructured(callCtx, p.draftMessage(proposer.Name()), parseRetries(p.MaxParseRetries))
			if err != nil {
				return errors.AsPipelineError(err).
					WithStage(p.Stage).
					WithRole(proposer.Name()).
					WithRound(round)
			}
			drafts[i] = Draft{Role: proposer.Name(), Record: rec}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "draft failed")
		p.Metrics.RecordError(ctx, err)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		pe := errors.New(errors.CodeContextLost, "review cancelled after drafts", err).
			WithStage(p.Stage).
			WithRound(round)
		span.RecordError(pe)
		span.SetStatus(codes.Error, "review cancelled")
		return nil, pe
	}

	decision, err := p.Pruner.AskStructured(callCtx, p.pruneMessage(drafts), parseRetries(p.MaxParseRetries))
	if err != nil {
		pe := errors.AsPipelineError(err).
			WithStage(p.Stage).
			WithRole(p.Pruner.Name()).
			WithRound(round)
		span.RecordError(pe)
		span.SetStatus(codes.Error, "prune failed")
		p.Metrics.RecordError(ctx, pe)
		return nil, pe
	}
	p.Metrics.RecordRound(ctx, p.Stage, TemplateReviewPrune)
	span.SetAttributes(attribute.Int("concord.drafts", len(drafts)))

	detail := map[string]any{"decision": decision.Fields}
	for _, d := range drafts {
		detail[d.Role] = d.Record.Raw
	}
	if err := p.Audit.Record(ctx, audit.Event{
		RunID:   p.RunID,
		Stage:   p.Stage,
		Kind:    audit.KindPrune,
		Role:    p.Pruner.Name(),
		Round:   round,
		Message: decision.Content,
		Detail:  detail,
	}); err != nil {
		p.Logger.WarnContext(ctx, "failed to record audit event",
			slog.String("kind", string(audit.KindPrune)),
			slog.String("error", err.Error()),
		)
	}
	return &PruneOutcome{Drafts: drafts, Decision: decision}, nil
}

func (p *ReviewPrune) draftMessage(proposer string) string {
	if p.Hooks.Draft != nil {
		return p.Hooks.Draft(proposer)
	}
	return "Propose your items."
}

func (p *ReviewPrune) pruneMessage(drafts []Draft) string {
	if p.Hooks.Prune != nil {
		return p.Hooks.Prune(drafts)
	}
	var b strings.Builder
	for _, d := range drafts {
		b.WriteString(section("Proposal from "+d.Role, d.Record.Raw))
	}
	return b.String()
}
