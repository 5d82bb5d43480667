// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package role

import (
	"log/slog"
	"sync"

	"github.com/jllopis/concord/pkg/config"
	"github.com/jllopis/concord/pkg/errors"
	"github.com/jllopis/concord/pkg/llm"
	"github.com/jllopis/concord/pkg/memory"
	"github.com/jllopis/concord/pkg/telemetry"
)

// Registry builds role agents from their declarations. Agents returned by
// Get are built once per run and shared; Spawn builds a fresh agent with its
// own log, for work that must not share history.
type Registry struct {
	roles    map[string]config.RoleConfig
	provider llm.Provider
	store    memory.ConversationMemory
	model    string
	metrics  *telemetry.ConsensusMetrics
	logger   *slog.Logger

	mu     sync.Mutex
	agents map[string]*Agent
	owned  []*Agent
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithStore sets the conversation store shared by memory-enabled agents.
// Each agent writes to its own session.
func WithStore(store memory.ConversationMemory) RegistryOption {
	return func(r *Registry) { r.store = store }
}

// WithDefaultModel sets the model used by roles that do not name one.
func WithDefaultModel(model string) RegistryOption {
	return func(r *Registry) { r.model = model }
}

// WithRegistryMetrics attaches metrics to every agent.
func WithRegistryMetrics(m *telemetry.ConsensusMetrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// WithRegistryLogger sets the logger handed to every agent.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry indexes the role declarations.
func NewRegistry(roles []config.RoleConfig, provider llm.Provider, opts ...RegistryOption) *Registry {
	r := &Registry{
		roles:    make(map[string]config.RoleConfig, len(roles)),
		provider: provider,
		logger:   slog.Default(),
		agents:   make(map[string]*Agent),
	}
	for _, rc := range roles {
		r.roles[rc.Name] = rc
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the run-wide agent for name, building it on first use.
func (r *Registry) Get(name string) (*Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.agents[name]; ok {
		return a, nil
	}
	a, err := r.build(name)
	if err != nil {
		return nil, err
	}
	r.agents[name] = a
	return a, nil
}

// Spawn builds a new agent for name that shares nothing with other agents.
func (r *Registry) Spawn(name string) (*Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.build(name)
}

// Close closes every agent the registry built.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.owned {
		_ = a.Close()
	}
	r.owned = nil
	r.agents = make(map[string]*Agent)
	return nil
}

func (r *Registry) build(name string) (*Agent, error) {
	rc, ok := r.roles[name]
	if !ok {
		return nil, errors.New(errors.CodeInvalidInput, "role is not declared", nil).WithRole(name)
	}
	model := rc.Model
	if model == "" {
		model = r.model
	}
	opts := []Option{
		WithSystem(rc.System),
		WithSchema(rc.Schema),
		WithModel(model),
		WithMetrics(r.metrics),
		WithLogger(r.logger),
	}
	if rc.Memory {
		opts = append(opts, WithMemory(r.store))
	}
	a, err := New(rc.Name, r.provider, opts...)
	if err != nil {
		return nil, err
	}
	r.owned = append(r.owned, a)
	return a, nil
}
