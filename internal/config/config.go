// Package config provides configuration management for MemoryRAG.
// Settings come from three layers: built-in defaults, an optional YAML file,
// and environment variables with the MEMORYRAG_ prefix. Environment
// variables take precedence over the file, which takes precedence over
// defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the MemoryRAG application.
type Config struct {
	Storage     StorageConfig     `yaml:"storage"`
	Engine      EngineConfig      `yaml:"engine"`
	LLM         LLMConfig         `yaml:"llm"`
	RAG         RAGConfig         `yaml:"rag"`
	Compression CompressionConfig `yaml:"compression"`
}

// StorageConfig contains database and storage configuration.
type StorageConfig struct {
	// Engine selects the backend: sqlite or postgres (default: sqlite).
	Engine string `yaml:"engine"`
	// DataPath is the directory holding the SQLite database (default: ./data).
	DataPath string `yaml:"data_path"`
	// PostgresDSN is the connection string for the postgres engine.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// EngineConfig contains memory engine tuning.
type EngineConfig struct {
	// MaxMemories is the capacity ceiling before eviction (default: 1000).
	MaxMemories int `yaml:"max_memories"`
	// EvictionMargin is how many extra records each eviction sweep removes
	// beyond the excess, so sweeps do not fire on every store (default: 100).
	EvictionMargin int `yaml:"eviction_margin"`
	// WorkingSetSize is the in-process LRU cache capacity (default: 128).
	WorkingSetSize int `yaml:"working_set_size"`
}

// LLMConfig contains embedding backend configuration.
type LLMConfig struct {
	// Provider selects the embedding source: ollama or local (default: ollama).
	Provider string `yaml:"provider"`
	// OllamaURL is the Ollama API base URL (default: http://localhost:11434).
	OllamaURL string `yaml:"ollama_url"`
	// EmbeddingModel is the Ollama embedding model (default: nomic-embed-text).
	EmbeddingModel string `yaml:"embedding_model"`
	// EmbeddingDimension is the vector dimension; the postgres backend needs
	// it at schema time (default: 768, nomic-embed-text's output size).
	EmbeddingDimension int `yaml:"embedding_dimension"`
	// Timeout is the per-request timeout (default: 5s).
	Timeout time.Duration `yaml:"timeout"`
	// RequestsPerSecond limits outbound embed calls (default: 10).
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// RAGConfig contains retrieval context used for query enhancement and
// result re-ranking.
type RAGConfig struct {
	// TechStack lists the project's technologies, e.g. ["python", "fastapi"].
	TechStack []string `yaml:"tech_stack"`
	// ProjectType describes the project, e.g. "web_api".
	ProjectType string `yaml:"project_type"`
	// UserRole describes the user, e.g. "developer".
	UserRole string `yaml:"user_role"`
	// TopK is the default result count for queries (default: 5).
	TopK int `yaml:"top_k"`
}

// CompressionConfig contains compression pipeline tuning.
type CompressionConfig struct {
	// TargetRatio is the compressed/original size the pipeline aims for
	// (default: 0.4).
	TargetRatio float64 `yaml:"target_ratio"`
}

// LoadConfig builds configuration from defaults, the optional YAML file at
// path (skipped when path is empty or the file does not exist), and
// MEMORYRAG_-prefixed environment variables, in increasing precedence.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Engine:   "sqlite",
			DataPath: "./data",
		},
		Engine: EngineConfig{
			MaxMemories:    1000,
			EvictionMargin: 100,
			WorkingSetSize: 128,
		},
		LLM: LLMConfig{
			Provider:           "ollama",
			OllamaURL:          "http://localhost:11434",
			EmbeddingModel:     "nomic-embed-text",
			EmbeddingDimension: 768,
			Timeout:            5 * time.Second,
			RequestsPerSecond:  10,
		},
		RAG: RAGConfig{
			TopK: 5,
		},
		Compression: CompressionConfig{
			TargetRatio: 0.4,
		},
	}
}

func applyEnv(cfg *Config) {
	cfg.Storage.Engine = getEnv("MEMORYRAG_STORAGE_ENGINE", cfg.Storage.Engine)
	cfg.Storage.DataPath = getEnv("MEMORYRAG_DATA_PATH", cfg.Storage.DataPath)
	cfg.Storage.PostgresDSN = getEnv("MEMORYRAG_POSTGRES_DSN", cfg.Storage.PostgresDSN)

	cfg.Engine.MaxMemories = getEnvInt("MEMORYRAG_MAX_MEMORIES", cfg.Engine.MaxMemories)
	cfg.Engine.EvictionMargin = getEnvInt("MEMORYRAG_EVICTION_MARGIN", cfg.Engine.EvictionMargin)
	cfg.Engine.WorkingSetSize = getEnvInt("MEMORYRAG_WORKING_SET_SIZE", cfg.Engine.WorkingSetSize)

	cfg.LLM.Provider = getEnv("MEMORYRAG_LLM_PROVIDER", cfg.LLM.Provider)
	cfg.LLM.OllamaURL = getEnv("MEMORYRAG_OLLAMA_URL", cfg.LLM.OllamaURL)
	cfg.LLM.EmbeddingModel = getEnv("MEMORYRAG_EMBEDDING_MODEL", cfg.LLM.EmbeddingModel)
	cfg.LLM.EmbeddingDimension = getEnvInt("MEMORYRAG_EMBEDDING_DIMENSION", cfg.LLM.EmbeddingDimension)
	cfg.LLM.Timeout = getEnvDuration("MEMORYRAG_LLM_TIMEOUT", cfg.LLM.Timeout)
	cfg.LLM.RequestsPerSecond = getEnvFloat("MEMORYRAG_LLM_RPS", cfg.LLM.RequestsPerSecond)

	cfg.RAG.TechStack = getEnvList("MEMORYRAG_TECH_STACK", cfg.RAG.TechStack)
	cfg.RAG.ProjectType = getEnv("MEMORYRAG_PROJECT_TYPE", cfg.RAG.ProjectType)
	cfg.RAG.UserRole = getEnv("MEMORYRAG_USER_ROLE", cfg.RAG.UserRole)
	cfg.RAG.TopK = getEnvInt("MEMORYRAG_RAG_TOP_K", cfg.RAG.TopK)

	cfg.Compression.TargetRatio = getEnvFloat("MEMORYRAG_COMPRESSION_TARGET_RATIO", cfg.Compression.TargetRatio)
}

func (c *Config) validate() error {
	switch c.Storage.Engine {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown storage engine %q (want sqlite or postgres)", c.Storage.Engine)
	}
	if c.Storage.Engine == "postgres" && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("config: postgres engine requires MEMORYRAG_POSTGRES_DSN")
	}
	switch c.LLM.Provider {
	case "ollama", "local":
	default:
		return fmt.Errorf("config: unknown llm provider %q (want ollama or local)", c.LLM.Provider)
	}
	if c.Engine.MaxMemories < 1 {
		return fmt.Errorf("config: max_memories must be positive, got %d", c.Engine.MaxMemories)
	}
	if c.Compression.TargetRatio <= 0 || c.Compression.TargetRatio > 1 {
		return fmt.Errorf("config: target_ratio must be in (0, 1], got %f", c.Compression.TargetRatio)
	}
	return nil
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvList retrieves a comma-separated list environment variable or
// returns a default value. Blank entries are dropped.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var list []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			list = append(list, trimmed)
		}
	}
	if len(list) == 0 {
		return defaultValue
	}
	return list
}

// getEnvDuration retrieves a duration environment variable (Go syntax, e.g.
// "5s") or returns a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
