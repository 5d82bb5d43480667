// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/jllopis/concord/pkg/parser"
)

// RoleConfig declares one role agent.
type RoleConfig struct {
	Name   string        `koanf:"name"`
	System string        `koanf:"system"`
	Memory bool          `koanf:"memory"`
	Model  string        `koanf:"model"`
	Schema parser.Schema `koanf:"schema"`
}

// StageRoles binds the role slots of each stage to role names.
type StageRoles struct {
	Definition NegotiationRoles `koanf:"definition"`
	Schema     ReviewRoles      `koanf:"schema"`
	Annotation NegotiationRoles `koanf:"annotation"`
}

// NegotiationRoles names the three roles of a negotiation loop.
type NegotiationRoles struct {
	Proposer string `koanf:"proposer"`
	Critic   string `koanf:"critic"`
	Arbiter  string `koanf:"arbiter"`
}

// ReviewRoles names the drafters and the pruner of a review-and-prune pass.
type ReviewRoles struct {
	HeaderProposer string `koanf:"header_proposer"`
	LabelProposer  string `koanf:"label_proposer"`
	Pruner         string `koanf:"pruner"`
}

// RoleSet is the content of a roles file.
type RoleSet struct {
	Roles  []RoleConfig `koanf:"roles"`
	Stages StageRoles   `koanf:"stages"`
}

// Lookup returns the role with the given name.
func (s *RoleSet) Lookup(name string) (RoleConfig, bool) {
	for _, r := range s.Roles {
		if r.Name == name {
			return r, true
		}
	}
	return RoleConfig{}, false
}

// LoadRoles reads a roles file. Stage bindings default to the role names
// of the medical annotation pipeline.
func LoadRoles(path string) (*RoleSet, error) {
	rk := koanf.New(".")
	rk.Set("stages.definition.proposer", "project_manager")
	rk.Set("stages.definition.critic", "data_scientist")
	rk.Set("stages.definition.arbiter", "project_master")
	rk.Set("stages.schema.header_proposer", "table_designer")
	rk.Set("stages.schema.label_proposer", "label_designer")
	rk.Set("stages.schema.pruner", "data_architect")
	rk.Set("stages.annotation.proposer", "annotator")
	rk.Set("stages.annotation.critic", "annotation_reviewer")
	rk.Set("stages.annotation.arbiter", "annotation_judge")

	if err := rk.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load roles %s: %w", path, err)
	}

	var set RoleSet
	if err := rk.Unmarshal("", &set); err != nil {
		return nil, fmt.Errorf("decode roles %s: %w", path, err)
	}
	if err := set.Validate(); err != nil {
		return nil, fmt.Errorf("roles %s: %w", path, err)
	}
	return &set, nil
}

// Validate checks role declarations and that every stage slot names a
// declared role.
func (s *RoleSet) Validate() error {
	seen := make(map[string]struct{}, len(s.Roles))
	for _, r := range s.Roles {
		if strings.TrimSpace(r.Name) == "" {
			return fmt.Errorf("role name is required")
		}
		if _, dup := seen[r.Name]; dup {
			return fmt.Errorf("duplicate role %q", r.Name)
		}
		seen[r.Name] = struct{}{}
		if err := r.Schema.Validate(); err != nil {
			return fmt.Errorf("role %q schema: %w", r.Name, err)
		}
	}

	slots := map[string]string{
		"definition.proposer":    s.Stages.Definition.Proposer,
		"definition.critic":      s.Stages.Definition.Critic,
		"definition.arbiter":     s.Stages.Definition.Arbiter,
		"schema.header_proposer": s.Stages.Schema.HeaderProposer,
		"schema.label_proposer":  s.Stages.Schema.LabelProposer,
		"schema.pruner":          s.Stages.Schema.Pruner,
		"annotation.proposer":    s.Stages.Annotation.Proposer,
		"annotation.critic":      s.Stages.Annotation.Critic,
		"annotation.arbiter":     s.Stages.Annotation.Arbiter,
	}
	for slot, name := range slots {
		if _, ok := seen[name]; !ok {
			return fmt.Errorf("stage slot %s names undeclared role %q", slot, name)
		}
	}
	return nil
}
