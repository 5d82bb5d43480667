// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jllopis/concord/pkg/audit"
	"github.com/jllopis/concord/pkg/config"
	"github.com/jllopis/concord/pkg/llm"
	"github.com/jllopis/concord/pkg/memory"
	"github.com/jllopis/concord/pkg/resilience"
	"github.com/jllopis/concord/pkg/role"
	"github.com/jllopis/concord/pkg/telemetry"
)

const serviceName = "concord"

// app holds the collaborators of one CLI invocation.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	roles    *config.RoleSet
	provider llm.Provider
	store    memory.ConversationMemory
	audit    audit.Store
	metrics  *telemetry.ConsensusMetrics
	registry *role.Registry

	closers []func(context.Context) error
}

func newApp(ctx context.Context, cfg *config.Config, rolesPath string) (*app, error) {
	a := &app{cfg: cfg}
	a.logger = telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	shutdown, err := telemetry.InitWithConfig(serviceName, version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	a.closers = append(a.closers, shutdown)

	if a.metrics, err = telemetry.NewConsensusMetrics(); err != nil {
		a.close()
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	if a.roles, err = config.LoadRoles(rolesPath); err != nil {
		a.close()
		return nil, err
	}
	if a.provider, err = newProvider(ctx, cfg, a.roles); err != nil {
		a.close()
		return nil, err
	}
	if c, ok := a.provider.(interface{ Close() error }); ok {
		a.closers = append(a.closers, func(context.Context) error { return c.Close() })
	}
	if a.store, err = newConversationStore(cfg.Memory); err != nil {
		a.close()
		return nil, err
	}
	if a.audit, err = a.openAudit(); err != nil {
		a.close()
		return nil, err
	}

	a.registry = role.NewRegistry(a.roles.Roles, a.provider,
		role.WithStore(a.store),
		role.WithDefaultModel(cfg.LLM.Model),
		role.WithRegistryMetrics(a.metrics),
		role.WithRegistryLogger(a.logger),
	)
	a.closers = append(a.closers, func(context.Context) error { return a.registry.Close() })
	return a, nil
}

func (a *app) openAudit() (audit.Store, error) {
	switch strings.ToLower(a.cfg.Audit.Driver) {
	case "", "memory":
		return audit.NewMemoryStore(), nil
	case "sqlite":
		store, err := audit.OpenSQLite(a.cfg.Audit.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return store.Close() })
		return store, nil
	case "none":
		return audit.Discard, nil
	}
	return nil, fmt.Errorf("unknown audit driver %q", a.cfg.Audit.Driver)
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil && a.logger != nil {
			a.logger.Warn("shutdown", slog.String("error", err.Error()))
		}
	}
	a.closers = nil
}

func newProvider(ctx context.Context, cfg *config.Config, roles *config.RoleSet) (llm.Provider, error) {
	switch name := strings.ToLower(cfg.LLM.Provider); name {
	case "ollama":
		timeout := time.Duration(cfg.LLM.TimeoutSeconds) * time.Second
		retry := resilience.DefaultRetryConfig()
		if cfg.LLM.MaxRetries > 0 {
			retry = retry.WithMaxAttempts(cfg.LLM.MaxRetries)
		}
		return llm.NewRetryingProvider(llm.NewOllama(cfg.LLM.BaseURL, timeout), retry), nil
	case "openai", "anthropic", "gemini":
		return newHostedProvider(ctx, name, cfg.LLM)
	case "mock":
		return newEchoProvider(roles), nil
	}
	return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
}

func newConversationStore(cfg config.MemoryConfig) (memory.ConversationMemory, error) {
	var mc memory.ConversationConfig
	if cfg.Window > 0 {
		mc.TruncationStrategy = memory.NewWindowStrategy(cfg.Window)
	}
	switch strings.ToLower(cfg.Provider) {
	case "", "inmemory":
		return memory.NewInMemoryConversation(mc), nil
	case "file":
		return memory.NewFileConversation(cfg.Dir, mc)
	}
	return nil, fmt.Errorf("unknown memory provider %q", cfg.Provider)
}
