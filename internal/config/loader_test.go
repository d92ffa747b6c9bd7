package config_test

import (
	"os"
	"strings"
	"testing"

	"github.com/kestrel-ai/bridge/internal/config"
)

const validJSON = `{
  "schemaVersion": 1,
  "server": {"logLevel": "info"},
  "providers": [
    {
      "id": "anthropic",
      "name": "Anthropic",
      "apiKey": "sk-test",
      "models": [
        {"id": "claude-sonnet-4", "name": "Claude Sonnet 4", "contextLength": 200000, "streaming": true, "toolCalls": true}
      ]
    }
  ]
}`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(validJSON))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Providers) != 1 {
		t.Fatalf("expected 1 provider, got %d", len(cfg.Providers))
	}
	if cfg.Providers[0].Models[0].ID != "claude-sonnet-4" {
		t.Errorf("model id: got %q", cfg.Providers[0].Models[0].ID)
	}
}

func TestLoadFromReader_RejectsUnknownFields(t *testing.T) {
	t.Parallel()
	bad := `{"schemaVersion": 1, "providers": [], "bogusField": true}`
	_, err := config.LoadFromReader(strings.NewReader(bad))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoadYAMLFromReader_Valid(t *testing.T) {
	t.Parallel()
	yamlDoc := `
schemaVersion: 1
server:
  logLevel: warn
providers:
  - id: openai
    name: OpenAI
    models:
      - id: gpt-4o
        name: GPT-4o
        contextLength: 128000
        streaming: true
`
	cfg, err := config.LoadYAMLFromReader(strings.NewReader(yamlDoc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.LogLevel != "warn" {
		t.Errorf("logLevel: got %q", cfg.Server.LogLevel)
	}
}

func TestValidate_RejectsWrongSchemaVersion(t *testing.T) {
	t.Parallel()
	doc := `{"schemaVersion": 2, "providers": [{"id": "x", "name": "x", "models": [{"id": "m", "name": "m", "contextLength": 10}]}]}`
	_, err := config.LoadFromReader(strings.NewReader(doc))
	if err == nil || !strings.Contains(err.Error(), "schemaVersion") {
		t.Fatalf("expected schemaVersion error, got: %v", err)
	}
}

func TestValidate_RejectsDuplicateProviderIDs(t *testing.T) {
	t.Parallel()
	doc := `{
  "schemaVersion": 1,
  "providers": [
    {"id": "openai", "name": "A", "models": [{"id": "m1", "name": "m1", "contextLength": 10}]},
    {"id": "openai", "name": "B", "models": [{"id": "m2", "name": "m2", "contextLength": 10}]}
  ]
}`
	_, err := config.LoadFromReader(strings.NewReader(doc))
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate provider error, got: %v", err)
	}
}

func TestValidate_RejectsDuplicateModelIDs(t *testing.T) {
	t.Parallel()
	doc := `{
  "schemaVersion": 1,
  "providers": [
    {"id": "openai", "name": "A", "models": [
      {"id": "gpt-4o", "name": "a", "contextLength": 10},
      {"id": "gpt-4o", "name": "b", "contextLength": 10}
    ]}
  ]
}`
	_, err := config.LoadFromReader(strings.NewReader(doc))
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate model error, got: %v", err)
	}
}

func TestValidate_RejectsZeroContextLength(t *testing.T) {
	t.Parallel()
	doc := `{"schemaVersion": 1, "providers": [{"id": "x", "name": "x", "models": [{"id": "m", "name": "m", "contextLength": 0}]}]}`
	_, err := config.LoadFromReader(strings.NewReader(doc))
	if err == nil || !strings.Contains(err.Error(), "contextLength") {
		t.Fatalf("expected contextLength error, got: %v", err)
	}
}

func TestValidate_RejectsEmptyProviderID(t *testing.T) {
	t.Parallel()
	doc := `{"schemaVersion": 1, "providers": [{"id": "", "name": "x", "models": [{"id": "m", "name": "m", "contextLength": 1}]}]}`
	_, err := config.LoadFromReader(strings.NewReader(doc))
	if err == nil || !strings.Contains(err.Error(), "id is required") {
		t.Fatalf("expected missing id error, got: %v", err)
	}
}

func TestValidate_RejectsProviderWithNoModels(t *testing.T) {
	t.Parallel()
	doc := `{"schemaVersion": 1, "providers": [{"id": "x", "name": "x", "models": []}]}`
	_, err := config.LoadFromReader(strings.NewReader(doc))
	if err == nil || !strings.Contains(err.Error(), "at least one model") {
		t.Fatalf("expected empty-models error, got: %v", err)
	}
}

func TestValidate_JoinsMultipleErrors(t *testing.T) {
	t.Parallel()
	doc := `{"schemaVersion": 9, "providers": [{"id": "", "name": "x", "models": []}]}`
	_, err := config.LoadFromReader(strings.NewReader(doc))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	msg := err.Error()
	if !strings.Contains(msg, "schemaVersion") || !strings.Contains(msg, "id is required") || !strings.Contains(msg, "at least one model") {
		t.Errorf("expected joined errors covering all three failures, got: %v", msg)
	}
}

func TestValidate_DistinctProviderPluginAllowsSameModelID(t *testing.T) {
	t.Parallel()
	doc := `{
  "schemaVersion": 1,
  "providers": [
    {"id": "anyllm-ollama", "name": "local ollama", "models": [{"id": "llama3", "name": "llama3", "contextLength": 8192}]},
    {"id": "anyllm-openrouter", "name": "openrouter", "models": [{"id": "llama3", "name": "llama3", "contextLength": 8192}]}
  ]
}`
	cfg, err := config.LoadFromReader(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Providers) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(cfg.Providers))
	}
}

func TestLoad_DispatchesByExtension(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	yamlDoc := "schemaVersion: 1\nproviders:\n  - id: x\n    name: x\n    models:\n      - id: m\n        name: m\n        contextLength: 10\n"
	path := dir + "/models.yaml"
	if err := os.WriteFile(path, []byte(yamlDoc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Providers[0].ID != "x" {
		t.Errorf("provider id: got %q", cfg.Providers[0].ID)
	}
}
