package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 2000, cfg.Pipeline.TokenBudget)
	assert.Equal(t, 0.3, cfg.Pipeline.SemanticThreshold)
	assert.Equal(t, 7*24*time.Hour, cfg.Artifacts.DebugTTL)
	assert.Equal(t, 30*24*time.Hour, cfg.Artifacts.ProdTTL)
}

func TestValidate_ProductionRequiresVaultKey(t *testing.T) {
	cfg := Default()
	cfg.Env = "production"
	require.ErrorIs(t, cfg.Validate(), ErrInvalid)

	cfg.Vault.Key = "not-base64!!"
	require.ErrorIs(t, cfg.Validate(), ErrInvalid)

	cfg.Vault.Key = base64.StdEncoding.EncodeToString(make([]byte, 16))
	require.ErrorIs(t, cfg.Validate(), ErrInvalid)

	cfg.Vault.Key = base64.StdEncoding.EncodeToString(make([]byte, 32))
	require.NoError(t, cfg.Validate())
}

func TestValidate_RejectsUnknownBackends(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"dsn", func(c *Config) { c.Database.DSN = "" }},
		{"llm", func(c *Config) { c.LLM.Provider = "other" }},
		{"search", func(c *Config) { c.Search.Backend = "elastic" }},
		{"budget", func(c *Config) { c.Pipeline.TokenBudget = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "companion.yaml")
	yml := `
env: development
database:
  driver: sqlite
  dsn: from-yaml.db
pipeline:
  token_budget: 1500
features:
  tool_calling: true
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	t.Setenv("COMPANION_DB_DSN", "from-env.db")
	t.Setenv("COMPANION_PROVIDER_TIMEOUT", "2s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env.db", cfg.Database.DSN)
	assert.Equal(t, 1500, cfg.Pipeline.TokenBudget)
	assert.True(t, cfg.Features.ToolCalling)
	assert.Equal(t, 2*time.Second, cfg.Pipeline.ProviderTimeout)
	// Untouched sections keep defaults.
	assert.Equal(t, "local", cfg.Search.Backend)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_Durations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "companion.yaml")
	yml := `
env: development
search:
  cache_ttl: 0s
artifacts:
  debug_ttl: 48h
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Zero(t, cfg.Search.CacheTTL)
	assert.Equal(t, 48*time.Hour, cfg.Artifacts.DebugTTL)

	// Durations need a unit.
	require.NoError(t, os.WriteFile(path, []byte("env: development\nsearch:\n  cache_ttl: 0\n"), 0o644))
	_, err = Load(path)
	require.Error(t, err)
}
