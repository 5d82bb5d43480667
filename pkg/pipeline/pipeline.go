// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipeline composes the Definition, Schema-Design and Annotation
// stages into one run, threading each accepted artifact into the next
// stage.
package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/concord/pkg/artifact"
	"github.com/jllopis/concord/pkg/audit"
	"github.com/jllopis/concord/pkg/config"
	"github.com/jllopis/concord/pkg/consensus"
	"github.com/jllopis/concord/pkg/errors"
	"github.com/jllopis/concord/pkg/role"
	"github.com/jllopis/concord/pkg/tags"
	"github.com/jllopis/concord/pkg/telemetry"
)

// Stage names.
const (
	StageDefinition = "definition"
	StageSchema     = "schema"
	StageAnnotation = "annotation"
)

// Policy bounds the work of a run.
type Policy struct {
	MaxRounds int
	// MaxParseRetries is the number of regeneration requests after an
	// unparsable reply. Zero means the default; consensus.NoParseRetries
	// disables them.
	MaxParseRetries int
	// SchemaPasses is the maximum number of schema design passes. A pass
	// that changes nothing ends the stage early.
	SchemaPasses int
	// Concurrency is the number of annotation units processed at once.
	Concurrency int
}

// DefaultPolicy returns the policy defaults.
func DefaultPolicy() Policy {
	return Policy{MaxRounds: 3, MaxParseRetries: 2, SchemaPasses: 3, Concurrency: 4}
}

// PolicyFromConfig reads the policy from configuration. Configuration
// carries its own defaults, so a configured zero retry budget is kept.
func PolicyFromConfig(cfg *config.Config) Policy {
	retries := cfg.Policy.MaxParseRetries
	if retries == 0 {
		retries = consensus.NoParseRetries
	}
	return Policy{
		MaxRounds:       cfg.Policy.MaxRounds,
		MaxParseRetries: retries,
		SchemaPasses:    cfg.Policy.SchemaPasses,
		Concurrency:     cfg.Pipeline.Concurrency,
	}
}

// Unit is one piece of source text to annotate.
type Unit struct {
	ID   string
	Text string
}

// Request is the input of a run.
type Request struct {
	// RunID is generated when empty.
	RunID       string
	Requirement string
	// Reference seeds the label schema.
	Reference artifact.Reference
	Units     []Unit
}

// Annotation is the accepted result for one unit.
type Annotation struct {
	Unit   string      `json:"unit"`
	Source string      `json:"source"`
	Text   string      `json:"text"`
	Report tags.Report `json:"report"`
	Rounds int         `json:"rounds"`
	Forced bool        `json:"forced"`
}

// Result holds every accepted artifact of a run.
type Result struct {
	RunID            string
	Definition       artifact.Definition
	DefinitionRounds int
	DefinitionForced bool
	Schema           artifact.Schema
	SchemaPasses     int
	Annotations      []Annotation
}

// Forced returns the stages, or stage/unit pairs, accepted when the round
// budget ran out.
func (r *Result) Forced() []string {
	var out []string
	if r.DefinitionForced {
		out = append(out, StageDefinition)
	}
	for _, a := range r.Annotations {
		if a.Forced {
			out = append(out, StageAnnotation+"/"+a.Unit)
		}
	}
	return out
}

// Orchestrator runs the stages of the pipeline.
type Orchestrator struct {
	registry *role.Registry
	stages   config.StageRoles
	policy   Policy
	audit    audit.Store
	metrics  *telemetry.ConsensusMetrics
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPolicy sets the run policy. Unset values keep their defaults.
func WithPolicy(p Policy) Option {
	return func(o *Orchestrator) {
		def := DefaultPolicy()
		if p.MaxRounds <= 0 {
			p.MaxRounds = def.MaxRounds
		}
		switch {
		case p.MaxParseRetries == 0:
			p.MaxParseRetries = def.MaxParseRetries
		case p.MaxParseRetries < 0:
			p.MaxParseRetries = consensus.NoParseRetries
		}
		if p.SchemaPasses <= 0 {
			p.SchemaPasses = def.SchemaPasses
		}
		if p.Concurrency <= 0 {
			p.Concurrency = def.Concurrency
		}
		o.policy = p
	}
}

// WithAudit sets the audit store.
func WithAudit(s audit.Store) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.audit = s
		}
	}
}

// WithMetrics sets the consensus metrics.
func WithMetrics(m *telemetry.ConsensusMetrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// New creates an orchestrator resolving stage roles by name from registry.
func New(registry *role.Registry, stages config.StageRoles, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry: registry,
		stages:   stages,
		policy:   DefaultPolicy(),
		audit:    audit.Discard,
		logger:   slog.Default(),
		tracer:   otel.Tracer("concord/pipeline"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Policy returns the effective policy.
func (o *Orchestrator) Policy() Policy { return o.policy }

// Run executes Definition, Schema-Design and Annotation in order. A stage
// either hands its artifact to the next one or halts the run with an error
// naming the stage, role and round.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Requirement) == "" {
		return nil, errors.New(errors.CodeInvalidInput, "requirement is empty", nil)
	}
	res := &Result{RunID: req.RunID}
	if res.RunID == "" {
		res.RunID = uuid.NewString()
	}
	ctx = telemetry.WithRun(ctx, res.RunID)

	ctx, span := o.tracer.Start(ctx, "Pipeline.Run",
		trace.WithAttributes(
			attribute.String(telemetry.AttrRunID, res.RunID),
			attribute.Int("concord.units", len(req.Units)),
		),
	)
	defer span.End()
	o.logger.InfoContext(ctx, "pipeline run started",
		slog.String("run_id", res.RunID),
		slog.Int("units", len(req.Units)),
	)

	err := o.stage(ctx, res.RunID, StageDefinition, func(ctx context.Context) error {
		out, def, err := o.Define(ctx, res.RunID, req.Requirement)
		if err != nil {
			return err
		}
		res.Definition = def
		res.DefinitionRounds = len(out.Rounds)
		res.DefinitionForced = out.Forced
		return nil
	})
	if err == nil {
		err = o.stage(ctx, res.RunID, StageSchema, func(ctx context.Context) error {
			schema, passes, err := o.DesignSchema(ctx, res.RunID, res.Definition, req.Requirement, req.Reference)
			if err != nil {
				return err
			}
			res.Schema = schema
			res.SchemaPasses = passes
			return nil
		})
	}
	if err == nil {
		err = o.stage(ctx, res.RunID, StageAnnotation, func(ctx context.Context) error {
			anns, err := o.Annotate(ctx, res.RunID, res.Schema, req.Units)
			if err != nil {
				return err
			}
			res.Annotations = anns
			return nil
		})
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "pipeline failed")
		return nil, err
	}

	o.logger.InfoContext(ctx, "pipeline run completed",
		slog.String("run_id", res.RunID),
		slog.Int("headers", len(res.Schema.Headers)),
		slog.Int("labels", len(res.Schema.Labels)),
		slog.Int("annotations", len(res.Annotations)),
		slog.Any("forced", res.Forced()),
	)
	return res, nil
}

// stage runs fn as the named stage: it refuses to start a cancelled stage,
// stamps the stage on any error and records the outcome in the audit log.
func (o *Orchestrator) stage(ctx context.Context, runID, name string, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return errors.New(errors.CodeContextLost, "run cancelled before stage", err).WithStage(name)
	}
	ctx = telemetry.WithStage(ctx, name)
	ctx, span := o.tracer.Start(ctx, "Pipeline.Stage",
		trace.WithAttributes(
			attribute.String(telemetry.AttrRunID, runID),
			attribute.String(telemetry.AttrStage, name),
		),
	)
	defer span.End()

	start := time.Now()
	o.logger.InfoContext(ctx, "stage started", slog.String("stage", name))
	if err := fn(ctx); err != nil {
		pe := errors.AsPipelineError(err).WithStage(name)
		span.RecordError(pe)
		span.SetStatus(codes.Error, "stage failed")
		o.metrics.RecordError(ctx, pe)
		o.logger.ErrorContext(ctx, "stage failed",
			slog.String("stage", name),
			slog.String("role", pe.Role()),
			slog.Int("round", pe.Round()),
			slog.String("code", string(pe.Code)),
			slog.String("error", pe.Error()),
		)
		o.record(ctx, audit.Event{
			RunID:   runID,
			Stage:   name,
			Kind:    audit.KindStageFailed,
			Role:    pe.Role(),
			Round:   pe.Round(),
			Message: pe.Error(),
			Detail:  pe,
		})
		return pe
	}
	o.logger.InfoContext(ctx, "stage completed",
		slog.String("stage", name),
		slog.Duration("duration", time.Since(start)),
	)
	o.record(ctx, audit.Event{RunID: runID, Stage: name, Kind: audit.KindStageCompleted})
	return nil
}

func (o *Orchestrator) record(ctx context.Context, ev audit.Event) {
	if err := o.audit.Record(ctx, ev); err != nil {
		o.logger.WarnContext(ctx, "failed to record audit event",
			slog.String("kind", string(ev.Kind)),
			slog.String("error", err.Error()),
		)
	}
}

// agent resolves a run-wide role.
func (o *Orchestrator) agent(stage, name string) (*role.Agent, error) {
	a, err := o.registry.Get(name)
	if err != nil {
		return nil, errors.AsPipelineError(err).WithStage(stage)
	}
	return a, nil
}

func (o *Orchestrator) negotiation(stage, runID string, p, c, a consensus.Role) *consensus.Negotiation {
	return &consensus.Negotiation{
		Stage:           stage,
		RunID:           runID,
		Proposer:        p,
		Critic:          c,
		Arbiter:         a,
		MaxRounds:       o.policy.MaxRounds,
		MaxParseRetries: o.policy.MaxParseRetries,
		Audit:           o.audit,
		Metrics:         o.metrics,
		Logger:          o.logger,
	}
}
