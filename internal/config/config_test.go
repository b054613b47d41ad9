package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "127.0.0.1", cfg.Backend.Host)
	assert.Equal(t, 3306, cfg.Backend.Port)
	assert.Equal(t, "memory_bank", cfg.Backend.Database)
	assert.Equal(t, "main", cfg.Branch.Default)
	assert.Equal(t, []string{"main"}, cfg.Branch.Protected)
	assert.Equal(t, 4, cfg.Pool.PersistentMax)
	assert.Equal(t, 32, cfg.Pool.EphemeralMax)
	assert.Equal(t, "public", cfg.Namespace.Default)
	assert.Equal(t, "openai", cfg.Index.Provider)
	assert.Equal(t, 30*time.Second, cfg.Runtime.DefaultDeadline)
	assert.NoError(t, cfg.Validate())
}

func TestDSN(t *testing.T) {
	b := BackendConfig{
		Host:           "db.example.com",
		Port:           13306,
		User:           "bank",
		Password:       "secret",
		Database:       "memory_bank",
		ConnectTimeout: 2 * time.Second,
	}
	dsn := b.DSN()
	assert.Equal(t, "bank:secret@tcp(db.example.com:13306)/memory_bank?parseTime=true&multiStatements=true&timeout=2s", dsn)
}

func TestIsProtected(t *testing.T) {
	b := BranchConfig{Default: "main", Protected: []string{"main", "release"}}
	assert.True(t, b.IsProtected("main"))
	assert.True(t, b.IsProtected("release"))
	assert.False(t, b.IsProtected("feature/x"))
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty host", func(c *Config) { c.Backend.Host = "" }},
		{"port out of range", func(c *Config) { c.Backend.Port = 70000 }},
		{"empty database", func(c *Config) { c.Backend.Database = "" }},
		{"empty default branch", func(c *Config) { c.Branch.Default = "" }},
		{"zero persistent pool", func(c *Config) { c.Pool.PersistentMax = 0 }},
		{"unknown provider", func(c *Config) { c.Index.Provider = "cohere" }},
		{"empty default namespace", func(c *Config) { c.Namespace.Default = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DOLT_HOST", "10.1.2.3")
	t.Setenv("DOLT_PORT", "13307")
	t.Setenv("MEMBANK_DEFAULT_BRANCH", "develop")
	t.Setenv("MEMBANK_PROTECTED_BRANCHES", "main, release ,")
	t.Setenv("EMBEDDING_PROVIDER", "gemini")
	t.Setenv("MEMBANK_DEFAULT_NAMESPACE", "agents")

	cfg := Default()
	applyEnvOverrides(cfg)

	assert.Equal(t, "10.1.2.3", cfg.Backend.Host)
	assert.Equal(t, 13307, cfg.Backend.Port)
	assert.Equal(t, "develop", cfg.Branch.Default)
	assert.Equal(t, []string{"main", "release"}, cfg.Branch.Protected)
	assert.Equal(t, "gemini", cfg.Index.Provider)
	assert.Equal(t, "agents", cfg.Namespace.Default)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := Default()
	cfg.Backend.Host = "dolt.internal"
	cfg.Branch.Protected = []string{"main", "prod"}
	require.NoError(t, cfg.Save(path))

	_, err := os.Stat(path)
	require.NoError(t, err)

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "dolt.internal", loaded.Backend.Host)
	assert.Contains(t, loaded.Branch.Protected, "prod")
}

func TestMaskAPIKey(t *testing.T) {
	assert.Equal(t, "(not set)", MaskAPIKey(""))
	assert.Equal(t, "***", MaskAPIKey("short"))
	assert.Equal(t, "sk-proj...wxyz", MaskAPIKey("sk-proj-abcdefwxyz"))
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()
	assert.Equal(t, filepath.Join(home, ".membank"), expandPath("~/.membank"))
	assert.Equal(t, "/abs/path", expandPath("/abs/path"))
	assert.Equal(t, "", expandPath(""))
}
