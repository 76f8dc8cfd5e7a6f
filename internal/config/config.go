package config

import (
	"os"
	"path/filepath"
	"strconv"
)

type Config struct {
	Agent     AgentConfig
	Server    ServerConfig
	Storage   StorageConfig
	Embedding EmbeddingConfig
	LLM       LLMConfig
	Vector    VectorConfig
}

type AgentConfig struct {
	ID string
}

type ServerConfig struct {
	Port  int
	Token string // optional bearer token for the local API
}

type StorageConfig struct {
	// DataDir is the user-writable base directory. Episodic memory lives
	// under <DataDir>/memory/episodic, vector collections under
	// <DataDir>/memory/chroma, webdrivers under <DataDir>/webdrivers.
	DataDir string
}

// EmbeddingConfig selects the embedding provider. Provider is one of
// "openai", "ollama", "fake".
type EmbeddingConfig struct {
	Provider string
	Model    string
	APIBase  string
	APIKey   string
}

// LLMConfig selects the chat model used for daily reflections. Provider is
// one of "openai", "ollama". An empty APIKey with provider "openai"
// disables reflection synthesis (basic stats only).
type LLMConfig struct {
	Provider string
	Model    string
	APIBase  string
	APIKey   string
}

// VectorConfig selects the vector store backend: "chromem" (embedded,
// default) or "sqlite" (brute-force cosine over a SQLite table).
type VectorConfig struct {
	Backend          string
	CollectionPrefix string
}

func defaults() Config {
	return Config{
		Agent: AgentConfig{ID: "default"},
		Server: ServerConfig{Port: 4300},
		Storage: StorageConfig{DataDir: defaultDataDir()},
		Embedding: EmbeddingConfig{
			Provider: "openai",
			Model:    "text-embedding-3-small",
		},
		LLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
		},
		Vector: VectorConfig{
			Backend:          "chromem",
			CollectionPrefix: "ecan_mem_",
		},
	}
}

// Load builds the configuration from platform defaults and AGENTCORE_*
// environment variables. OPENAI_API_KEY is honored as a fallback for both
// embedding and LLM keys.
func Load() (Config, error) {
	cfg := defaults()
	applyEnvOverrides(&cfg)
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return Config{}, &PathError{Dir: cfg.Storage.DataDir, Err: err}
	}
	return cfg, nil
}

// PathError reports an unusable base directory. Fatal on construction.
type PathError struct {
	Dir string
	Err error
}

func (e *PathError) Error() string {
	return "config: base directory " + e.Dir + " unusable: " + e.Err.Error()
}

func (e *PathError) Unwrap() error { return e.Err }

func applyEnvOverrides(cfg *Config) {
	setStr := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setStr(&cfg.Agent.ID, "AGENTCORE_AGENT_ID")
	setInt(&cfg.Server.Port, "AGENTCORE_PORT")
	setStr(&cfg.Server.Token, "AGENTCORE_TOKEN")
	setStr(&cfg.Storage.DataDir, "AGENTCORE_DATA_DIR")
	setStr(&cfg.Embedding.Provider, "AGENTCORE_EMBEDDING_PROVIDER")
	setStr(&cfg.Embedding.Model, "AGENTCORE_EMBEDDING_MODEL")
	setStr(&cfg.Embedding.APIBase, "AGENTCORE_EMBEDDING_API_BASE")
	setStr(&cfg.Embedding.APIKey, "AGENTCORE_EMBEDDING_API_KEY")
	setStr(&cfg.LLM.Provider, "AGENTCORE_LLM_PROVIDER")
	setStr(&cfg.LLM.Model, "AGENTCORE_LLM_MODEL")
	setStr(&cfg.LLM.APIBase, "AGENTCORE_LLM_API_BASE")
	setStr(&cfg.LLM.APIKey, "AGENTCORE_LLM_API_KEY")
	setStr(&cfg.Vector.Backend, "AGENTCORE_VECTOR_BACKEND")

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if cfg.Embedding.APIKey == "" {
			cfg.Embedding.APIKey = key
		}
		if cfg.LLM.APIKey == "" {
			cfg.LLM.APIKey = key
		}
	}
}

// EpisodicDir returns the base directory for the episodic journal.
func (c Config) EpisodicDir() string {
	return filepath.Join(c.Storage.DataDir, "memory", "episodic")
}

// VectorDir returns the directory holding vector store collections.
func (c Config) VectorDir() string {
	return filepath.Join(c.Storage.DataDir, "memory", "chroma")
}

// WebDriverDir returns the base directory for driver binaries and cache.
func (c Config) WebDriverDir() string {
	return filepath.Join(c.Storage.DataDir, "webdrivers")
}
