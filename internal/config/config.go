// Package config loads Cortex's runtime configuration: defaults, then a TOML
// file, then environment variables, in increasing priority.
package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Backend   BackendConfig   `toml:"backend"`
	Embedding EmbeddingConfig `toml:"embedding"`
	LLM       LLMConfig       `toml:"llm"`
	Envelope  EnvelopeConfig  `toml:"envelope"`
	Retention RetentionConfig `toml:"retention"`
	Recall    RecallConfig    `toml:"recall"`
	Observer  ObserverConfig  `toml:"observer"`
}

// BackendConfig selects and configures the storage backend.
type BackendConfig struct {
	Driver      string `toml:"driver"` // "sqlite" or "postgres"
	SQLitePath  string `toml:"sqlite_path"`
	PostgresDSN string `toml:"postgres_dsn"`
	VectorDim   int    `toml:"vector_dim"`
}

type EmbeddingConfig struct {
	Provider   string `toml:"provider"`
	Model      string `toml:"model"`
	Dimensions int    `toml:"dimensions"`
	APIKey     string `toml:"api_key"`
}

type LLMConfig struct {
	Provider string `toml:"provider"`
	Model    string `toml:"model"`
	APIKey   string `toml:"api_key"`
}

// EnvelopeConfig tunes the resilience wrapper's gates.
type EnvelopeConfig struct {
	SemaphoreCeiling int     `toml:"semaphore_ceiling"`
	TokensPerSecond  float64 `toml:"tokens_per_second"`
	MaxBurst         float64 `toml:"max_burst"`
	FailureThreshold int     `toml:"failure_threshold"`
	SuccessThreshold int     `toml:"success_threshold"`
	HalfOpenMax      int     `toml:"half_open_max"`
	BreakerTimeoutMs int64   `toml:"breaker_timeout_ms"`
}

// RetentionConfig seeds the default governance policy applied when none is
// supplied per-call.
type RetentionConfig struct {
	MaxVersions         int  `toml:"max_versions"`
	MaxAgeDays          int  `toml:"max_age_days"`
	ArchiveBeforeDelete bool `toml:"archive_before_delete"`
}

// RecallConfig holds the default ranking weights and write-path thresholds.
type RecallConfig struct {
	SimilarityThreshold float32 `toml:"similarity_threshold"`
	MaxCASAttempts      int     `toml:"max_cas_attempts"`
	SimilarityWeight    float32 `toml:"similarity_weight"`
	RecencyWeight       float32 `toml:"recency_weight"`
	ImportanceWeight    float32 `toml:"importance_weight"`
	ConfidenceWeight    float32 `toml:"confidence_weight"`
	AccessWeight        float32 `toml:"access_weight"`
}

type ObserverConfig struct {
	Enabled      bool   `toml:"enabled"`
	OTLPEndpoint string `toml:"otlp_endpoint"`
	ServiceName  string `toml:"service_name"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Backend:   BackendConfig{Driver: "sqlite", SQLitePath: "cortex.db"},
		Embedding: EmbeddingConfig{Provider: "gemini", Model: "gemini-embedding-001", Dimensions: 1536},
		LLM:       LLMConfig{Provider: "gemini", Model: "gemini-2.5-flash"},
		Envelope: EnvelopeConfig{
			SemaphoreCeiling: 16,
			TokensPerSecond:  100,
			MaxBurst:         200,
			FailureThreshold: 5,
			SuccessThreshold: 2,
			HalfOpenMax:      3,
			BreakerTimeoutMs: 30_000,
		},
		Retention: RetentionConfig{MaxVersions: 20, MaxAgeDays: 365},
		Recall: RecallConfig{
			SimilarityThreshold: 0.88,
			MaxCASAttempts:      3,
			SimilarityWeight:    0.50,
			RecencyWeight:       0.15,
			ImportanceWeight:    0.20,
			ConfidenceWeight:    0.20,
			AccessWeight:        0,
		},
		Observer: ObserverConfig{ServiceName: "cortex"},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "cortex.toml"
	}
	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	if v := os.Getenv("CORTEX_BACKEND_DRIVER"); v != "" {
		cfg.Backend.Driver = v
	}
	if v := os.Getenv("CORTEX_SQLITE_PATH"); v != "" {
		cfg.Backend.SQLitePath = v
	}
	if v := os.Getenv("CORTEX_POSTGRES_DSN"); v != "" {
		cfg.Backend.PostgresDSN = v
	}
	if v := os.Getenv("CORTEX_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("CORTEX_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if os.Getenv("CORTEX_OBSERVER_ENABLED") == "true" || os.Getenv("CORTEX_OBSERVER_ENABLED") == "1" {
		cfg.Observer.Enabled = true
	}
	if v := os.Getenv("CORTEX_OTLP_ENDPOINT"); v != "" {
		cfg.Observer.OTLPEndpoint = v
	}

	// Embedding key falls back to the LLM key when sharing one provider.
	if cfg.Embedding.APIKey == "" && cfg.Embedding.Provider == cfg.LLM.Provider {
		cfg.Embedding.APIKey = cfg.LLM.APIKey
	}
	if cfg.Backend.VectorDim == 0 {
		cfg.Backend.VectorDim = cfg.Embedding.Dimensions
	}

	return cfg
}
