package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Storage.Engine != "sqlite" {
		t.Errorf("expected sqlite engine, got %s", cfg.Storage.Engine)
	}
	if cfg.Engine.MaxMemories != 1000 {
		t.Errorf("expected max_memories 1000, got %d", cfg.Engine.MaxMemories)
	}
	if cfg.Engine.EvictionMargin != 100 {
		t.Errorf("expected eviction_margin 100, got %d", cfg.Engine.EvictionMargin)
	}
	if cfg.LLM.Timeout != 5*time.Second {
		t.Errorf("expected 5s timeout, got %v", cfg.LLM.Timeout)
	}
	if cfg.RAG.TopK != 5 {
		t.Errorf("expected top_k 5, got %d", cfg.RAG.TopK)
	}
	if cfg.Compression.TargetRatio != 0.4 {
		t.Errorf("expected target_ratio 0.4, got %f", cfg.Compression.TargetRatio)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memoryrag.yaml")
	content := `
storage:
  engine: sqlite
  data_path: /tmp/memoryrag
engine:
  max_memories: 500
rag:
  tech_stack: [python, fastapi]
  project_type: web_api
  user_role: developer
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Storage.DataPath != "/tmp/memoryrag" {
		t.Errorf("expected data_path from file, got %s", cfg.Storage.DataPath)
	}
	if cfg.Engine.MaxMemories != 500 {
		t.Errorf("expected max_memories 500, got %d", cfg.Engine.MaxMemories)
	}
	if len(cfg.RAG.TechStack) != 2 || cfg.RAG.TechStack[0] != "python" {
		t.Errorf("unexpected tech_stack: %v", cfg.RAG.TechStack)
	}
	// Fields the file doesn't set keep their defaults.
	if cfg.Engine.EvictionMargin != 100 {
		t.Errorf("expected default eviction_margin, got %d", cfg.Engine.EvictionMargin)
	}
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memoryrag.yaml")
	if err := os.WriteFile(path, []byte("engine:\n  max_memories: 500\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("MEMORYRAG_MAX_MEMORIES", "250")
	t.Setenv("MEMORYRAG_LLM_PROVIDER", "local")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Engine.MaxMemories != 250 {
		t.Errorf("env should override file: got %d", cfg.Engine.MaxMemories)
	}
	if cfg.LLM.Provider != "local" {
		t.Errorf("expected local provider, got %s", cfg.LLM.Provider)
	}
}

func TestLoadConfigTechStackFromEnv(t *testing.T) {
	t.Setenv("MEMORYRAG_TECH_STACK", "python, fastapi,postgres")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	want := []string{"python", "fastapi", "postgres"}
	if len(cfg.RAG.TechStack) != len(want) {
		t.Fatalf("tech_stack = %v, want %v", cfg.RAG.TechStack, want)
	}
	for i, tech := range want {
		if cfg.RAG.TechStack[i] != tech {
			t.Errorf("tech_stack[%d] = %q, want %q", i, cfg.RAG.TechStack[i], tech)
		}
	}
}

func TestLoadConfigMissingFileIgnored(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/memoryrag.yaml")
	if err != nil {
		t.Fatalf("missing file should not be an error: %v", err)
	}
	if cfg.Storage.Engine != "sqlite" {
		t.Errorf("expected defaults, got engine %s", cfg.Storage.Engine)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	t.Setenv("MEMORYRAG_STORAGE_ENGINE", "mongodb")
	if _, err := LoadConfig(""); err == nil {
		t.Fatal("expected error for unknown storage engine")
	}

	t.Setenv("MEMORYRAG_STORAGE_ENGINE", "postgres")
	if _, err := LoadConfig(""); err == nil {
		t.Fatal("expected error for postgres without DSN")
	}
}
