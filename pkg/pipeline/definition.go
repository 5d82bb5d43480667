// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"

	"github.com/jllopis/concord/pkg/artifact"
	"github.com/jllopis/concord/pkg/consensus"
)

// Define negotiates the project definition for a requirement.
func (o *Orchestrator) Define(ctx context.Context, runID, requirement string) (*consensus.Outcome, artifact.Definition, error) {
	slots := o.stages.Definition
	proposer, err := o.agent(StageDefinition, slots.Proposer)
	if err != nil {
		return nil, artifact.Definition{}, err
	}
	critic, err := o.agent(StageDefinition, slots.Critic)
	if err != nil {
		return nil, artifact.Definition{}, err
	}
	arbiter, err := o.agent(StageDefinition, slots.Arbiter)
	if err != nil {
		return nil, artifact.Definition{}, err
	}
	schema := proposer.Schema()

	n := o.negotiation(StageDefinition, runID, proposer, critic, arbiter)
	n.Request = definitionRequest(requirement)
	n.Hooks = consensus.Hooks{
		Propose: func(in consensus.ProposeInput) string {
			if in.Prior == nil {
				return n.Request
			}
			return definitionRevision(requirement, in.Prior, schema, in.Previous)
		},
		Critique: func(in consensus.CritiqueInput) string {
			return definitionReview(requirement, in.Candidate, schema, in.History)
		},
		Arbitrate: func(in consensus.ArbitrateInput) string {
			return definitionJudgement(in.Candidate, schema, in.Critique)
		},
	}

	out, err := n.Run(ctx)
	if err != nil {
		return nil, artifact.Definition{}, err
	}
	fields := out.Artifact.Fields
	if len(out.Artifact.Extra) > 0 {
		fields = make(map[string]any, len(out.Artifact.Fields)+len(out.Artifact.Extra))
		for k, v := range out.Artifact.Extra {
			fields[k] = v
		}
		for k, v := range out.Artifact.Fields {
			fields[k] = v
		}
	}
	if len(fields) == 0 && out.Artifact.Content != "" {
		fields = map[string]any{"definition": out.Artifact.Content}
	}
	return out, artifact.NewDefinition(fields), nil
}
