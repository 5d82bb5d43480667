package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.LLM.Provider != "ollama" {
		t.Errorf("expected default provider ollama, got %s", cfg.LLM.Provider)
	}
	if cfg.Policy.MaxRounds != 3 || cfg.Policy.MaxParseRetries != 2 || cfg.Policy.SchemaPasses != 3 {
		t.Errorf("unexpected default policy %+v", cfg.Policy)
	}
	if cfg.Telemetry.Exporter != "none" {
		t.Errorf("expected telemetry disabled by default, got %s", cfg.Telemetry.Exporter)
	}
	if cfg.Audit.Driver != "memory" {
		t.Errorf("expected memory audit by default, got %s", cfg.Audit.Driver)
	}
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("CONCORD_LLM_PROVIDER", "mock")
	t.Setenv("CONCORD_LLM_BASE_URL", "http://ollama:11434")
	t.Setenv("CONCORD_POLICY_MAX_ROUNDS", "5")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.LLM.Provider != "mock" {
		t.Errorf("expected provider mock from env, got %s", cfg.LLM.Provider)
	}
	if cfg.LLM.BaseURL != "http://ollama:11434" {
		t.Errorf("expected base url from env, got %s", cfg.LLM.BaseURL)
	}
	if cfg.Policy.MaxRounds != 5 {
		t.Errorf("expected max rounds 5 from env, got %d", cfg.Policy.MaxRounds)
	}
}

func TestLoadRejectsInvalidPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("policy:\n  max_rounds: 0\n"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for max_rounds 0")
	}
}

func TestLoadWithProfile(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
		return path
	}
	base := write("config.yaml", `
llm:
  provider: ollama
  model: qwen2.5:7b-instruct
policy:
  max_rounds: 4
memory:
  provider: file
  dir: ./.concord/memory
`)
	write("config.review.yaml", `
policy:
  max_rounds: 6
  schema_passes: 1
memory:
  provider: inmemory
`)
	write("config.broken.yaml", "pipeline:\n  concurrency: 0\n")

	tests := []struct {
		profile    string
		wantRounds int
		wantPasses int
		wantMemory string
		wantModel  string
		wantErr    bool
	}{
		{profile: "", wantRounds: 4, wantPasses: 3, wantMemory: "file", wantModel: "qwen2.5:7b-instruct"},
		{profile: "review", wantRounds: 6, wantPasses: 1, wantMemory: "inmemory", wantModel: "qwen2.5:7b-instruct"},
		// A missing profile file leaves the base untouched.
		{profile: "staging", wantRounds: 4, wantPasses: 3, wantMemory: "file", wantModel: "qwen2.5:7b-instruct"},
		{profile: "broken", wantErr: true},
	}
	for _, tc := range tests {
		t.Run("profile="+tc.profile, func(t *testing.T) {
			cfg, err := LoadWithProfile(base, tc.profile)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected validation error")
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadWithProfile failed: %v", err)
			}
			if cfg.Policy.MaxRounds != tc.wantRounds || cfg.Policy.SchemaPasses != tc.wantPasses {
				t.Errorf("policy: got %+v", cfg.Policy)
			}
			if cfg.Memory.Provider != tc.wantMemory {
				t.Errorf("memory: got %s, want %s", cfg.Memory.Provider, tc.wantMemory)
			}
			if cfg.LLM.Model != tc.wantModel {
				t.Errorf("model: got %s, want %s", cfg.LLM.Model, tc.wantModel)
			}
		})
	}
}

func TestLLMDefaultsFollowProvider(t *testing.T) {
	tests := []struct {
		provider    string
		wantModel   string
		wantBaseURL string
	}{
		{provider: "ollama", wantModel: DefaultOllamaModel, wantBaseURL: DefaultOllamaBaseURL},
		{provider: "openai"},
		{provider: "anthropic"},
		{provider: "gemini"},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			t.Setenv("CONCORD_LLM_PROVIDER", tt.provider)
			t.Setenv("CONCORD_LLM_API_KEY", "sk-test")
			cfg, err := Load("")
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if cfg.LLM.Model != tt.wantModel || cfg.LLM.BaseURL != tt.wantBaseURL {
				t.Errorf("got model %q base url %q, want %q %q",
					cfg.LLM.Model, cfg.LLM.BaseURL, tt.wantModel, tt.wantBaseURL)
			}
			if cfg.LLM.APIKey != "sk-test" {
				t.Errorf("api key not read from env: %q", cfg.LLM.APIKey)
			}
		})
	}
}
