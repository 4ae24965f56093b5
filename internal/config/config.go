package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalid marks a configuration that must not be used to start the pipeline.
var ErrInvalid = errors.New("invalid config")

// #region types

// Config is the full process configuration.
type Config struct {
	Env       string          `yaml:"env"`
	Database  DatabaseConfig  `yaml:"database"`
	Vault     VaultConfig     `yaml:"vault"`
	LLM       LLMConfig       `yaml:"llm"`
	Search    SearchConfig    `yaml:"search"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Features  FeatureFlags    `yaml:"features"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	LogLevel  string          `yaml:"log_level"`
}

// DatabaseConfig selects the sql driver backing every store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" | "pgx"
	DSN    string `yaml:"dsn"`
}

// VaultConfig holds the 256-bit vault key, either inline (base64) or in a key file.
type VaultConfig struct {
	Key     string `yaml:"key"`
	KeyFile string `yaml:"key_file"`
}

// LLMConfig configures the completion provider.
type LLMConfig struct {
	Provider        string        `yaml:"provider"` // "openai" | "gemini" | "fake"
	BaseURL         string        `yaml:"base_url"`
	APIKey          string        `yaml:"api_key"`
	Model           string        `yaml:"model"`
	PlannerModel    string        `yaml:"planner_model"`
	MaxOutputTokens int           `yaml:"max_output_tokens"`
	Temperature     float32       `yaml:"temperature"`
	Timeout         time.Duration `yaml:"timeout"`
}

// SearchConfig configures the similarity-search collaborator.
type SearchConfig struct {
	Backend    string        `yaml:"backend"` // "local" | "grpc"
	Addr       string        `yaml:"addr"`
	EmbedModel string        `yaml:"embed_model"`
	TopK       int           `yaml:"top_k"`
	CacheSize  int           `yaml:"cache_size"`
	CacheTTL   time.Duration `yaml:"cache_ttl"`
}

// PipelineConfig holds the retrieval and budget tuning knobs.
type PipelineConfig struct {
	TokenBudget         int           `yaml:"token_budget"`
	SemanticThreshold   float64       `yaml:"semantic_threshold"`
	MemoryStrengthFloor float64       `yaml:"memory_strength_floor"`
	ProviderTimeout     time.Duration `yaml:"provider_timeout"`
	SessionStartLimit   int           `yaml:"session_start_limit"`
	HistoryTurns        int           `yaml:"history_turns"`
	ExtractionTimeout   time.Duration `yaml:"extraction_timeout"`
}

// FeatureFlags toggles optional behavior per deployment.
type FeatureFlags struct {
	ToolCalling      bool `yaml:"tool_calling"`
	DurableMemory    bool `yaml:"durable_memory"`
	MemoryExtraction bool `yaml:"memory_extraction"`
	LLMPlanner       bool `yaml:"llm_planner"`
}

// ArtifactsConfig holds trace retention.
type ArtifactsConfig struct {
	DebugTTL      time.Duration `yaml:"debug_ttl"`
	ProdTTL       time.Duration `yaml:"prod_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// #endregion types

// #region defaults

// Default returns a development configuration backed by a local sqlite file.
func Default() Config {
	return Config{
		Env:      "development",
		LogLevel: "info",
		Database: DatabaseConfig{Driver: "sqlite", DSN: "companion.db"},
		Vault:    VaultConfig{KeyFile: ".vault_key"},
		LLM: LLMConfig{
			Provider:        "openai",
			BaseURL:         "https://api.openai.com/v1",
			Model:           "gpt-4o-mini",
			PlannerModel:    "gpt-4o-mini",
			MaxOutputTokens: 800,
			Temperature:     0.7,
			Timeout:         60 * time.Second,
		},
		Search: SearchConfig{
			Backend:    "local",
			Addr:       "localhost:50051",
			EmbedModel: "gemini-embedding-001",
			TopK:       8,
			CacheSize:  512,
			CacheTTL:   10 * time.Minute,
		},
		Pipeline: PipelineConfig{
			TokenBudget:         2000,
			SemanticThreshold:   0.3,
			MemoryStrengthFloor: 0.3,
			ProviderTimeout:     5 * time.Second,
			SessionStartLimit:   5,
			HistoryTurns:        10,
			ExtractionTimeout:   30 * time.Second,
		},
		Features: FeatureFlags{
			ToolCalling:      false,
			DurableMemory:    false,
			MemoryExtraction: true,
			LLMPlanner:       true,
		},
		Artifacts: ArtifactsConfig{
			DebugTTL:      7 * 24 * time.Hour,
			ProdTTL:       30 * 24 * time.Hour,
			SweepInterval: time.Hour,
		},
	}
}

// #endregion defaults

// #region load

// Load reads .env (if present), then the YAML file at path (if non-empty), then
// COMPANION_* environment overrides, and validates the result.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Env, "COMPANION_ENV")
	setString(&cfg.LogLevel, "COMPANION_LOG_LEVEL")
	setString(&cfg.Database.Driver, "COMPANION_DB_DRIVER")
	setString(&cfg.Database.DSN, "COMPANION_DB_DSN")
	setString(&cfg.Vault.Key, "COMPANION_VAULT_KEY")
	setString(&cfg.Vault.KeyFile, "COMPANION_VAULT_KEY_FILE")
	setString(&cfg.LLM.Provider, "COMPANION_LLM_PROVIDER")
	setString(&cfg.LLM.BaseURL, "COMPANION_LLM_BASE_URL")
	setString(&cfg.LLM.APIKey, "COMPANION_LLM_API_KEY")
	setString(&cfg.LLM.Model, "COMPANION_LLM_MODEL")
	setString(&cfg.LLM.PlannerModel, "COMPANION_LLM_PLANNER_MODEL")
	setInt(&cfg.LLM.MaxOutputTokens, "COMPANION_LLM_MAX_OUTPUT_TOKENS")
	setDuration(&cfg.LLM.Timeout, "COMPANION_LLM_TIMEOUT")
	setString(&cfg.Search.Backend, "COMPANION_SEARCH_BACKEND")
	setString(&cfg.Search.Addr, "COMPANION_SEARCH_ADDR")
	setString(&cfg.Search.EmbedModel, "COMPANION_SEARCH_EMBED_MODEL")
	setInt(&cfg.Search.TopK, "COMPANION_SEARCH_TOP_K")
	setInt(&cfg.Pipeline.TokenBudget, "COMPANION_TOKEN_BUDGET")
	setFloat(&cfg.Pipeline.SemanticThreshold, "COMPANION_SEMANTIC_THRESHOLD")
	setDuration(&cfg.Pipeline.ProviderTimeout, "COMPANION_PROVIDER_TIMEOUT")
	setBool(&cfg.Features.ToolCalling, "COMPANION_FEATURE_TOOL_CALLING")
	setBool(&cfg.Features.DurableMemory, "COMPANION_FEATURE_DURABLE_MEMORY")
	setBool(&cfg.Features.MemoryExtraction, "COMPANION_FEATURE_MEMORY_EXTRACTION")
	setBool(&cfg.Features.LLMPlanner, "COMPANION_FEATURE_LLM_PLANNER")
	setDuration(&cfg.Artifacts.SweepInterval, "COMPANION_SWEEP_INTERVAL")

	// Provider-native key names, kept for parity with the SDK defaults.
	if cfg.LLM.APIKey == "" {
		switch cfg.LLM.Provider {
		case "gemini":
			cfg.LLM.APIKey = os.Getenv("GEMINI_API_KEY")
		case "openai":
			cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
}

// #endregion load

// #region validate

// IsDevelopment reports whether relaxed startup rules apply.
func (c Config) IsDevelopment() bool {
	return c.Env == "" || c.Env == "development" || c.Env == "dev"
}

// Validate checks required fields. Outside development a usable vault key is mandatory.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "pgx":
	default:
		return fmt.Errorf("%w: database.driver %q", ErrInvalid, c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("%w: database.dsn is empty", ErrInvalid)
	}
	switch c.LLM.Provider {
	case "openai", "gemini", "fake":
	default:
		return fmt.Errorf("%w: llm.provider %q", ErrInvalid, c.LLM.Provider)
	}
	switch c.Search.Backend {
	case "local", "grpc":
	default:
		return fmt.Errorf("%w: search.backend %q", ErrInvalid, c.Search.Backend)
	}
	if c.Pipeline.TokenBudget <= 0 {
		return fmt.Errorf("%w: pipeline.token_budget must be positive", ErrInvalid)
	}
	if !c.IsDevelopment() {
		if c.Vault.Key == "" {
			return fmt.Errorf("%w: vault.key is required in %s", ErrInvalid, c.Env)
		}
		raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(c.Vault.Key))
		if err != nil || len(raw) != 32 {
			return fmt.Errorf("%w: vault.key must be 32 bytes base64", ErrInvalid)
		}
	}
	return nil
}

// #endregion validate

// #region env-helpers

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true" || v == "1"
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// #endregion env-helpers
