// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads run configuration and role definitions.
//
// Values are layered: built-in defaults, then a YAML file (optionally
// merged with a profile file), then CONCORD_* environment variables, then
// --set overrides from the command line.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "CONCORD_"

type Config struct {
	Log       LogConfig       `koanf:"log"`
	LLM       LLMConfig       `koanf:"llm"`
	Policy    PolicyConfig    `koanf:"policy"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	Memory    MemoryConfig    `koanf:"memory"`
	Audit     AuditConfig     `koanf:"audit"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Roles     RolesConfig     `koanf:"roles"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type LLMConfig struct {
	Provider string `koanf:"provider"` // ollama, openai, anthropic, gemini, mock
	// Model and BaseURL default per provider when unset. The hosted
	// providers fall back to their SDK defaults.
	Model   string `koanf:"model"`
	BaseURL string `koanf:"base_url"`
	// APIKey is used by the hosted providers. When empty each SDK reads its
	// own environment variable (OPENAI_API_KEY, ANTHROPIC_API_KEY,
	// GOOGLE_API_KEY).
	APIKey         string `koanf:"api_key"`
	MaxRetries     int    `koanf:"max_retries"`
	TimeoutSeconds int    `koanf:"timeout_seconds"`
}

// Ollama defaults, applied only when llm.provider is ollama.
const (
	DefaultOllamaModel   = "qwen2.5:7b-instruct"
	DefaultOllamaBaseURL = "http://localhost:11434"
)

func (c *LLMConfig) applyDefaults() {
	if !strings.EqualFold(c.Provider, "ollama") {
		return
	}
	if c.Model == "" {
		c.Model = DefaultOllamaModel
	}
	if c.BaseURL == "" {
		c.BaseURL = DefaultOllamaBaseURL
	}
}

// PolicyConfig bounds every negotiation.
type PolicyConfig struct {
	MaxRounds       int `koanf:"max_rounds"`
	MaxParseRetries int `koanf:"max_parse_retries"`
	SchemaPasses    int `koanf:"schema_passes"`
}

type PipelineConfig struct {
	// Concurrency is the number of source units annotated at once.
	Concurrency int `koanf:"concurrency"`
}

type MemoryConfig struct {
	Provider string `koanf:"provider"` // inmemory, file
	Dir      string `koanf:"dir"`
	// Window limits the replayed history to the last N messages. 0 keeps all.
	Window int `koanf:"window"`
}

type AuditConfig struct {
	Driver string `koanf:"driver"` // memory, sqlite
	DSN    string `koanf:"dsn"`
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // none, stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

type RolesConfig struct {
	Path string `koanf:"path"`
}

// Global k instance
var k = koanf.New(".")

func setDefaults() {
	k.Set("log.level", "info")
	k.Set("log.format", "text")

	k.Set("llm.provider", "ollama")
	k.Set("llm.max_retries", 3)
	k.Set("llm.timeout_seconds", 120)

	k.Set("policy.max_rounds", 3)
	k.Set("policy.max_parse_retries", 2)
	k.Set("policy.schema_passes", 3)

	k.Set("pipeline.concurrency", 4)

	k.Set("memory.provider", "inmemory")
	k.Set("memory.dir", "./.concord/conversations")
	k.Set("memory.window", 0)

	k.Set("audit.driver", "memory")
	k.Set("audit.dsn", "./.concord/audit.db")

	k.Set("telemetry.exporter", "none")
	k.Set("telemetry.otlp_insecure", true)

	k.Set("roles.path", "roles.yaml")
}

// Load reads defaults, the optional YAML file at path and the environment.
func Load(path string) (*Config, error) {
	return LoadWithProfile(path, "")
}

// LoadWithProfile loads path and then merges the sibling profile file
// (config.yaml + "dev" -> config.dev.yaml) when it exists.
func LoadWithProfile(path, profile string) (*Config, error) {
	k = koanf.New(".")
	if err := loadLayers(path, profile); err != nil {
		return nil, err
	}
	return unmarshal()
}

// LoadWithCLI loads configuration driven by command line arguments:
// --config <path>, --profile <name> (alias --env) and repeated
// --set key=value overrides. Unknown arguments are ignored so the same
// argument list can be shared with the subcommand parser.
func LoadWithCLI(args []string) (*Config, error) {
	opts, overrides, err := parseCLIOverrides(args)
	if err != nil {
		return nil, err
	}
	k = koanf.New(".")
	if err := loadLayers(opts.path, opts.profile); err != nil {
		return nil, err
	}
	for key, value := range overrides {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("apply --set %s: %w", key, err)
		}
	}
	return unmarshal()
}

func loadLayers(path, profile string) error {
	setDefaults()

	// 1. Load from file
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return fmt.Errorf("load config %s: %w", path, err)
		}
		if profile != "" {
			profilePath := profileFile(path, profile)
			if _, err := os.Stat(profilePath); err == nil {
				if err := k.Load(file.Provider(profilePath), yaml.Parser()); err != nil {
					return fmt.Errorf("load profile %s: %w", profilePath, err)
				}
			}
		}
	}

	// 2. Load from ENV (CONCORD_LLM_BASE_URL -> llm.base_url)
	return k.Load(env.Provider(EnvPrefix, ".", envKey), nil)
}

// envKey maps CONCORD_SECTION_KEY_NAME to section.key_name. Every key is
// two levels deep, so only the first underscore separates levels.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.Replace(s, "_", ".", 1)
}

func profileFile(path, profile string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + profile + ext
}

func unmarshal() (*Config, error) {
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	cfg.LLM.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no run can work with.
func (c *Config) Validate() error {
	switch {
	case c.Policy.MaxRounds < 1:
		return fmt.Errorf("policy.max_rounds must be at least 1, got %d", c.Policy.MaxRounds)
	case c.Policy.MaxParseRetries < 0:
		return fmt.Errorf("policy.max_parse_retries must not be negative")
	case c.Policy.SchemaPasses < 1:
		return fmt.Errorf("policy.schema_passes must be at least 1, got %d", c.Policy.SchemaPasses)
	case c.Pipeline.Concurrency < 1:
		return fmt.Errorf("pipeline.concurrency must be at least 1, got %d", c.Pipeline.Concurrency)
	}
	return nil
}

type cliOptions struct {
	path    string
	profile string
}

func parseCLIOverrides(args []string) (cliOptions, map[string]any, error) {
	var opts cliOptions
	overrides := map[string]any{}

	value := func(i int, name string) (string, error) {
		if i+1 >= len(args) || strings.HasPrefix(args[i+1], "--") {
			return "", fmt.Errorf("%s requires a value", name)
		}
		return args[i+1], nil
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, inline, hasInline := strings.Cut(arg, "=")
		if !strings.HasPrefix(name, "--") {
			continue
		}
		if !hasInline && (name == "--config" || name == "--profile" || name == "--env" || name == "--set") {
			v, err := value(i, name)
			if err != nil {
				return opts, nil, err
			}
			inline = v
			i++
		}
		switch name {
		case "--config":
			opts.path = inline
		case "--profile", "--env":
			opts.profile = inline
		case "--set":
			key, raw, ok := strings.Cut(inline, "=")
			if !ok || strings.TrimSpace(key) == "" {
				return opts, nil, fmt.Errorf("--set expects key=value, got %q", inline)
			}
			overrides[strings.TrimSpace(key)] = decodeValue(raw)
		}
	}
	return opts, overrides, nil
}

// decodeValue reads a --set value as YAML so numbers, booleans and inline
// maps keep their type. Anything that does not decode stays a string.
func decodeValue(raw string) any {
	var v any
	if err := yamlv3.Unmarshal([]byte(raw), &v); err != nil || v == nil {
		return raw
	}
	return v
}
