// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jllopis/concord/pkg/audit"
	"github.com/jllopis/concord/pkg/config"
	"github.com/jllopis/concord/pkg/telemetry"
)

type checkReport struct {
	Checks  []checkResult `json:"checks"`
	Overall string        `json:"overall"`
}

type checkResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "ok", "warn", "error", "skip"
	Message string `json:"message,omitempty"`
}

// runCheck verifies that a run could start with the loaded configuration.
func runCheck(ctx context.Context, flags globalFlags, cfg *config.Config, args []string) {
	ensureNoArgs(args)

	report := checkReport{Checks: []checkResult{
		{Name: "config", Status: "ok", Message: fmt.Sprintf("%d round(s), %d schema pass(es), concurrency %d",
			cfg.Policy.MaxRounds, cfg.Policy.SchemaPasses, cfg.Pipeline.Concurrency)},
		checkRoles(cfg),
		checkLLM(ctx, cfg),
		checkMemory(cfg),
		checkAudit(cfg),
		checkTelemetry(cfg),
	}}

	report.Overall = "ok"
	for _, r := range report.Checks {
		if r.Status == "error" {
			report.Overall = "error"
			break
		}
		if r.Status == "warn" {
			report.Overall = "warn"
		}
	}

	if flags.JSON {
		printJSON(report)
	} else {
		printCheckReport(report)
	}
	if report.Overall == "error" {
		os.Exit(1)
	}
}

func checkRoles(cfg *config.Config) checkResult {
	roles, err := config.LoadRoles(cfg.Roles.Path)
	if err != nil {
		return checkResult{Name: "roles", Status: "error", Message: err.Error()}
	}
	return checkResult{Name: "roles", Status: "ok",
		Message: fmt.Sprintf("%d role(s) from %s", len(roles.Roles), cfg.Roles.Path)}
}

func checkLLM(ctx context.Context, cfg *config.Config) checkResult {
	switch strings.ToLower(cfg.LLM.Provider) {
	case "ollama":
		baseURL := cfg.LLM.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/api/tags", nil)
		if err != nil {
			return checkResult{Name: "llm", Status: "error", Message: err.Error()}
		}
		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Do(req)
		if err != nil {
			return checkResult{Name: "llm", Status: "error",
				Message: fmt.Sprintf("ollama not reachable at %s: %v", baseURL, err)}
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return checkResult{Name: "llm", Status: "error",
				Message: fmt.Sprintf("ollama returned status %d", resp.StatusCode)}
		}
		if cfg.LLM.Model == "" {
			return checkResult{Name: "llm", Status: "warn", Message: "ollama reachable but no model configured"}
		}
		return checkResult{Name: "llm", Status: "ok", Message: fmt.Sprintf("ollama (%s)", cfg.LLM.Model)}
	case "openai", "anthropic", "gemini":
		return checkHosted(cfg.LLM)
	case "mock":
		return checkResult{Name: "llm", Status: "warn", Message: "mock provider: roles echo their inputs"}
	}
	return checkResult{Name: "llm", Status: "error", Message: fmt.Sprintf("unknown provider %q", cfg.LLM.Provider)}
}

var hostedKeyEnv = map[string][]string{
	"openai":    {"OPENAI_API_KEY"},
	"anthropic": {"ANTHROPIC_API_KEY"},
	"gemini":    {"GOOGLE_API_KEY", "GEMINI_API_KEY"},
}

// checkHosted only looks for a key; reaching a hosted API costs a request.
func checkHosted(cfg config.LLMConfig) checkResult {
	name := strings.ToLower(cfg.Provider)
	model := cfg.Model
	if model == "" {
		model = "provider default model"
	}
	if cfg.APIKey != "" {
		return checkResult{Name: "llm", Status: "ok", Message: fmt.Sprintf("%s (%s), key from config", name, model)}
	}
	for _, env := range hostedKeyEnv[name] {
		if os.Getenv(env) != "" {
			return checkResult{Name: "llm", Status: "ok", Message: fmt.Sprintf("%s (%s), key from %s", name, model, env)}
		}
	}
	return checkResult{Name: "llm", Status: "error",
		Message: fmt.Sprintf("%s needs llm.api_key or %s", name, strings.Join(hostedKeyEnv[name], "/"))}
}

func checkMemory(cfg *config.Config) checkResult {
	if strings.ToLower(cfg.Memory.Provider) != "file" {
		return checkResult{Name: "memory", Status: "ok", Message: "in memory"}
	}
	if err := os.MkdirAll(cfg.Memory.Dir, 0o755); err != nil {
		return checkResult{Name: "memory", Status: "error", Message: err.Error()}
	}
	return checkResult{Name: "memory", Status: "ok", Message: cfg.Memory.Dir}
}

func checkAudit(cfg *config.Config) checkResult {
	switch strings.ToLower(cfg.Audit.Driver) {
	case "sqlite":
		store, err := audit.OpenSQLite(cfg.Audit.DSN)
		if err != nil {
			return checkResult{Name: "audit", Status: "error", Message: err.Error()}
		}
		_ = store.Close()
		return checkResult{Name: "audit", Status: "ok", Message: "sqlite " + cfg.Audit.DSN}
	case "none":
		return checkResult{Name: "audit", Status: "warn", Message: "audit events are discarded"}
	}
	return checkResult{Name: "audit", Status: "ok", Message: "in memory (lost at exit)"}
}

func checkTelemetry(cfg *config.Config) checkResult {
	switch strings.ToLower(cfg.Telemetry.Exporter) {
	case telemetry.ExporterOTLP:
		if cfg.Telemetry.OTLPEndpoint == "" {
			return checkResult{Name: "telemetry", Status: "error", Message: "otlp exporter without otlp_endpoint"}
		}
		return checkResult{Name: "telemetry", Status: "ok", Message: "otlp " + cfg.Telemetry.OTLPEndpoint}
	case telemetry.ExporterStdout:
		return checkResult{Name: "telemetry", Status: "ok", Message: "stdout"}
	}
	return checkResult{Name: "telemetry", Status: "skip", Message: "disabled"}
}

func printCheckReport(report checkReport) {
	statusIcon := map[string]string{
		"ok":    "✓",
		"warn":  "⚠",
		"error": "✗",
		"skip":  "○",
	}

	fmt.Println("Concord Configuration Check")
	fmt.Println("===========================")
	fmt.Println()
	for _, r := range report.Checks {
		printCheck(statusIcon, r)
	}
	fmt.Println()
	fmt.Printf("Overall: %s\n", report.Overall)
}

func printCheck(icons map[string]string, r checkResult) {
	icon := icons[r.Status]
	if r.Message != "" {
		fmt.Printf("%s %s: %s\n", icon, r.Name, r.Message)
	} else {
		fmt.Printf("%s %s\n", icon, r.Name)
	}
}
