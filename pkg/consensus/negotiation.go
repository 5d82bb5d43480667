// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package consensus

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/concord/pkg/audit"
	"github.com/jllopis/concord/pkg/errors"
	"github.com/jllopis/concord/pkg/parser"
	"github.com/jllopis/concord/pkg/telemetry"
)

// Defaults applied when a Negotiation leaves a policy value unset.
const (
	DefaultMaxRounds       = 3
	DefaultMaxParseRetries = 2
)

// NoParseRetries disables regeneration requests. A zero MaxParseRetries
// means DefaultMaxParseRetries.
const NoParseRetries = -1

// parseRetries resolves a configured regeneration budget.
func parseRetries(n int) int {
	switch {
	case n == 0:
		return DefaultMaxParseRetries
	case n < 0:
		return 0
	}
	return n
}

// Evidence is structured material handed to the critic next to the
// candidate, such as a tag validation report.
type Evidence struct {
	// Text is rendered into the critique prompt.
	Text string
	// Detail is stored with the round in the audit log.
	Detail any
}

// Decision is the arbiter's verdict on a critique.
type Decision struct {
	// Revise asks the proposer for another round with the critique.
	Revise bool   `json:"revise"`
	Reason string `json:"reason"`
}

// Round is one propose, critique, arbitrate cycle.
type Round struct {
	Index    int
	Proposal *parser.Record
	Critique *parser.Record
	Evidence *Evidence
	// Decision is nil when arbitration was skipped for an empty critique.
	Decision *Decision
}

// Outcome is the result of a negotiation. It always carries an artifact.
type Outcome struct {
	Artifact *parser.Record
	Rounds   []Round
	// Forced is set when the round budget ran out while the arbiter still
	// asked for revisions.
	Forced bool
}

// ProposeInput is what the proposer sees in a round.
type ProposeInput struct {
	Round int
	// Prior is the previous candidate, nil in the first round.
	Prior *parser.Record
	// Previous is the round that asked for this revision, nil in the first
	// round.
	Previous *Round
}

// CritiqueInput is what the critic sees in a round.
type CritiqueInput struct {
	Round     int
	Candidate *parser.Record
	// History holds the earlier rounds, oldest first.
	History  []Round
	Evidence *Evidence
}

// ArbitrateInput is what the arbiter sees in a round.
type ArbitrateInput struct {
	Round     int
	Candidate *parser.Record
	Critique  *parser.Record
}

// Hooks compose the stage-specific messages of a negotiation. Any nil hook
// falls back to a generic rendering.
type Hooks struct {
	Propose   func(in ProposeInput) string
	Evidence  func(candidate *parser.Record) *Evidence
	Critique  func(in CritiqueInput) string
	Arbitrate func(in ArbitrateInput) string
}

// Negotiation configures one run of the negotiation loop.
type Negotiation struct {
	Stage string
	RunID string
	// Unit identifies the input unit for stages run once per unit.
	Unit string

	Proposer Role
	Critic   Role
	Arbiter  Role

	// Request is the triggering message of the first round.
	Request string
	Hooks   Hooks

	MaxRounds int
	// MaxParseRetries is the number of regeneration requests after an
	// unparsable reply. Zero means DefaultMaxParseRetries.
	MaxParseRetries int
	// FeedbackFields are the critique fields that must all be blank for the
	// critique to count as empty. Default: errors, suggestions.
	FeedbackFields []string
	// DecisionField is the boolean arbiter field asking for revision.
	// Default: decision.
	DecisionField string

	Audit   audit.Store
	Metrics *telemetry.ConsensusMetrics
	Logger  *slog.Logger
}

func (n *Negotiation) defaults() {
	if n.MaxRounds <= 0 {
		n.MaxRounds = DefaultMaxRounds
	}
	if len(n.FeedbackFields) == 0 {
		n.FeedbackFields = []string{"errors", "suggestions"}
	}
	if n.DecisionField == "" {
		n.DecisionField = "decision"
	}
	if n.Audit == nil {
		n.Audit = audit.Discard
	}
	if n.Logger == nil {
		n.Logger = slog.Default()
	}
}

// Run drives the loop until the arbiter accepts, the critique is empty or
// the round budget is spent. The proposer is invoked at most MaxRounds
// times. Cancellation of ctx is honoured between rounds only; a role call
// in flight always completes.
func (n *Negotiation) Run(ctx context.Context) (*Outcome, error) {
	n.defaults()
	if n.Proposer == nil || n.Critic == nil || n.Arbiter == nil {
		return nil, errors.New(errors.CodeInvalidInput, "negotiation needs a proposer, a critic and an arbiter", nil).
			WithStage(n.Stage)
	}

	tracer := otel.Tracer("concord/consensus")
	ctx, span := tracer.Start(ctx, "Negotiation.Run")
	defer span.End()
	span.SetAttributes(telemetry.RoundAttributes(n.Stage, TemplateNegotiation, 0, n.MaxRounds)...)
	if n.Unit != "" {
		span.SetAttributes(attribute.String(telemetry.AttrUnit, n.Unit))
	}

	callCtx := context.WithoutCancel(ctx)
	out := &Outcome{}
	var prior *parser.Record
	for index := 1; index <= n.MaxRounds; index++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.New(errors.CodeContextLost, "negotiation cancelled", err).
				WithStage(n.Stage).
				WithRound(index)
		}

		round, err := n.round(callCtx, tracer, index, prior, out.Rounds)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "negotiation failed")
			n.Metrics.RecordError(ctx, err)
			return nil, err
		}
		out.Rounds = append(out.Rounds, round)
		out.Artifact = round.Proposal
		prior = round.Proposal
		n.Metrics.RecordRound(ctx, n.Stage, TemplateNegotiation)
		n.record(ctx, round)

		if round.Decision == nil || !round.Decision.Revise {
			span.SetAttributes(attribute.Int(telemetry.AttrRound, index), attribute.Bool(telemetry.AttrForced, false))
			return out, nil
		}
	}

	out.Forced = true
	span.SetAttributes(attribute.Int(telemetry.AttrRound, n.MaxRounds), attribute.Bool(telemetry.AttrForced, true))
	n.Metrics.RecordForcedAcceptance(ctx, n.Stage)
	n.Logger.WarnContext(ctx, "round budget exhausted, accepting latest candidate",
		slog.String("stage", n.Stage),
		slog.String("unit", n.Unit),
		slog.Int("max_rounds", n.MaxRounds),
	)
	last := out.Rounds[len(out.Rounds)-1]
	n.audit(ctx, audit.Event{
		Kind:    audit.KindForcedAcceptance,
		Role:    n.Arbiter.Name(),
		Round:   last.Index,
		Message: errors.New(errors.CodeStageExhaustion, "round budget exhausted", nil).WithStage(n.Stage).WithRound(last.Index).Error(),
		Detail:  map[string]any{"reason": last.Decision.Reason, "max_rounds": n.MaxRounds},
	})
	return out, nil
}

func (n *Negotiation) round(ctx context.Context, tracer trace.Tracer, index int, prior *parser.Record, history []Round) (Round, error) {
	ctx, span := tracer.Start(ctx, "Negotiation.Round")
	defer span.End()
	span.SetAttributes(telemetry.RoundAttributes(n.Stage, TemplateNegotiation, index, n.MaxRounds)...)

	round := Round{Index: index}
	var previous *Round
	if len(history) > 0 {
		previous = &history[len(history)-1]
	}

	proposal, err := n.Proposer.AskStructured(ctx, n.proposeMessage(ProposeInput{Round: index, Prior: prior, Previous: previous}), parseRetries(n.MaxParseRetries))
	if err != nil {
		return round, n.fail(err, n.Proposer, index)
	}
	round.Proposal = proposal

	if n.Hooks.Evidence != nil {
		round.Evidence = n.Hooks.Evidence(proposal)
	}
	critique, err := n.Critic.AskStructured(ctx, n.critiqueMessage(CritiqueInput{
		Round:     index,
		Candidate: proposal,
		History:   history,
		Evidence:  round.Evidence,
	}), parseRetries(n.MaxParseRetries))
	if err != nil {
		return round, n.fail(err, n.Critic, index)
	}
	round.Critique = critique

	if n.emptyCritique(critique) {
		span.SetAttributes(attribute.Bool(telemetry.AttrSkipped, true))
		n.Logger.DebugContext(ctx, "critique is empty, skipping arbitration",
			slog.String("stage", n.Stage),
			slog.Int("round", index),
		)
		return round, nil
	}

	verdict, err := n.Arbiter.AskStructured(ctx, n.arbitrateMessage(ArbitrateInput{
		Round:     index,
		Candidate: proposal,
		Critique:  critique,
	}), parseRetries(n.MaxParseRetries))
	if err != nil {
		return round, n.fail(err, n.Arbiter, index)
	}
	round.Decision = &Decision{Revise: verdict.Bool(n.DecisionField), Reason: verdict.Content}
	span.SetAttributes(attribute.Bool(telemetry.AttrDecision, round.Decision.Revise))
	return round, nil
}

func (n *Negotiation) emptyCritique(critique *parser.Record) bool {
	for _, field := range n.FeedbackFields {
		if !blank(critique, field) {
			return false
		}
	}
	return true
}

func (n *Negotiation) fail(err error, r Role, index int) error {
	pe := errors.AsPipelineError(err)
	pe.WithStage(n.Stage).WithRole(r.Name()).WithRound(index)
	if n.Unit != "" {
		if _, ok := pe.Context["unit"]; !ok {
			pe.WithContext("unit", n.Unit)
		}
	}
	return pe
}

func (n *Negotiation) record(ctx context.Context, round Round) {
	detail := map[string]any{
		"proposal": round.Proposal.Content,
		"critique": round.Critique.Fields,
	}
	if round.Evidence != nil && round.Evidence.Detail != nil {
		detail["evidence"] = round.Evidence.Detail
	}
	if round.Decision != nil {
		detail["decision"] = round.Decision
	} else {
		detail["arbitration_skipped"] = true
	}
	n.audit(ctx, audit.Event{
		Kind:   audit.KindRound,
		Role:   n.Critic.Name(),
		Round:  round.Index,
		Detail: detail,
	})
}

func (n *Negotiation) audit(ctx context.Context, ev audit.Event) {
	ev.RunID = n.RunID
	ev.Stage = n.Stage
	ev.Unit = n.Unit
	if err := n.Audit.Record(ctx, ev); err != nil {
		n.Logger.WarnContext(ctx, "failed to record audit event",
			slog.String("kind", string(ev.Kind)),
			slog.String("error", err.Error()),
		)
	}
}

func (n *Negotiation) proposeMessage(in ProposeInput) string {
	if n.Hooks.Propose != nil {
		return n.Hooks.Propose(in)
	}
	if in.Previous == nil {
		return n.Request
	}
	var b strings.Builder
	b.WriteString(section("Previous Version", in.Prior.Raw))
	b.WriteString(section("Review", renderFields(in.Previous.Critique)))
	if in.Previous.Decision != nil {
		b.WriteString(section("Decision", in.Previous.Decision.Reason))
	}
	b.WriteString(section("Original Request", n.Request))
	return b.String()
}

func (n *Negotiation) critiqueMessage(in CritiqueInput) string {
	if n.Hooks.Critique != nil {
		return n.Hooks.Critique(in)
	}
	var b strings.Builder
	b.WriteString(section("Request", n.Request))
	b.WriteString(section("Candidate", in.Candidate.Raw))
	if len(in.History) > 0 {
		b.WriteString(section("Previous Review", renderFields(in.History[len(in.History)-1].Critique)))
	}
	if in.Evidence != nil {
		b.WriteString(section("Checks", in.Evidence.Text))
	}
	return b.String()
}

func (n *Negotiation) arbitrateMessage(in ArbitrateInput) string {
	if n.Hooks.Arbitrate != nil {
		return n.Hooks.Arbitrate(in)
	}
	return section("Candidate", in.Candidate.Raw) + section("Review", renderFields(in.Critique))
}

func renderFields(rec *parser.Record) string {
	if rec == nil {
		return ""
	}
	keys := make([]string, 0, len(rec.Fields))
	for k := range rec.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, rec.Fields[k])
	}
	return b.String()
}
