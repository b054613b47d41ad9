package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration settings
type Config struct {
	// Backend is the versioned SQL backend (Dolt, MySQL wire protocol)
	Backend BackendConfig `yaml:"backend" mapstructure:"backend"`

	// Branch configuration
	Branch BranchConfig `yaml:"branch" mapstructure:"branch"`

	// Pool sizing for persistent and ephemeral connections
	Pool PoolConfig `yaml:"pool" mapstructure:"pool"`

	// Semantic index configuration
	Index IndexConfig `yaml:"index" mapstructure:"index"`

	// Namespace defaults
	Namespace NamespaceConfig `yaml:"namespace" mapstructure:"namespace"`

	// Reconciler settings for the index repair loop
	Reconciler ReconcilerConfig `yaml:"reconciler" mapstructure:"reconciler"`

	// Call deadlines and health checking
	Runtime RuntimeConfig `yaml:"runtime" mapstructure:"runtime"`

	// Log configuration
	Log LogConfig `yaml:"log" mapstructure:"log"`
}

type BackendConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	// ConnectTimeout bounds the TCP dial to the backend
	ConnectTimeout time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`
}

type BranchConfig struct {
	// Default is the branch new sessions start on
	Default string `yaml:"default" mapstructure:"default"`
	// Protected branches reject direct writes
	Protected []string `yaml:"protected" mapstructure:"protected"`
}

type PoolConfig struct {
	// PersistentMax caps branch-pinned sessions
	PersistentMax int `yaml:"persistent_max" mapstructure:"persistent_max"`
	// EphemeralMax caps the shared short-lived pool
	EphemeralMax    int           `yaml:"ephemeral_max" mapstructure:"ephemeral_max"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
}

type IndexConfig struct {
	// Path is the local vector store file
	Path string `yaml:"path" mapstructure:"path"`
	// Collection names the bucket holding block vectors
	Collection string `yaml:"collection" mapstructure:"collection"`
	// Provider selects the embedding backend: "openai", "gemini", or "none"
	Provider       string `yaml:"provider" mapstructure:"provider"`
	EmbeddingModel string `yaml:"embedding_model" mapstructure:"embedding_model"`
	OpenAIKey      string `yaml:"openai_key" mapstructure:"openai_key"`
	GeminiKey      string `yaml:"gemini_key" mapstructure:"gemini_key"`
	// RequestsPerMinute throttles embedding calls
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	// UseKeychain prefers OS keychain over config file for API keys
	UseKeychain bool        `yaml:"use_keychain" mapstructure:"use_keychain"`
	Graph       GraphConfig `yaml:"graph" mapstructure:"graph"`
}

type GraphConfig struct {
	// Enabled mirrors the link graph into Neo4j for traversal-aware search
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	URI      string `yaml:"uri" mapstructure:"uri"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
}

type NamespaceConfig struct {
	// Default is assigned when a caller omits the namespace
	Default string `yaml:"default" mapstructure:"default"`
}

type ReconcilerConfig struct {
	Enabled  bool          `yaml:"enabled" mapstructure:"enabled"`
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
	// BatchSize bounds blocks re-scanned per sweep
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size"`
}

type RuntimeConfig struct {
	// DefaultDeadline bounds each tool call when the caller sets none
	DefaultDeadline     time.Duration `yaml:"default_deadline" mapstructure:"default_deadline"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval" mapstructure:"health_check_interval"`
}

type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	File       string `yaml:"file" mapstructure:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
	// Console mirrors logs to stderr in addition to the file
	Console bool `yaml:"console" mapstructure:"console"`
}

// Default returns default configuration
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Backend: BackendConfig{
			Host:           "127.0.0.1",
			Port:           3306,
			User:           "root",
			Database:       "memory_bank",
			ConnectTimeout: 5 * time.Second,
		},
		Branch: BranchConfig{
			Default:   "main",
			Protected: []string{"main"},
		},
		Pool: PoolConfig{
			PersistentMax:   4,
			EphemeralMax:    32,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Index: IndexConfig{
			Path:              filepath.Join(homeDir, ".membank", "index.db"),
			Collection:        "memory_blocks",
			Provider:          "openai",
			EmbeddingModel:    "text-embedding-3-small",
			RequestsPerMinute: 60,
			Graph: GraphConfig{
				URI:      "bolt://localhost:7687",
				User:     "neo4j",
				Database: "neo4j",
			},
		},
		Namespace: NamespaceConfig{
			Default: "public",
		},
		Reconciler: ReconcilerConfig{
			Enabled:   true,
			Interval:  60 * time.Second,
			BatchSize: 200,
		},
		Runtime: RuntimeConfig{
			DefaultDeadline:     30 * time.Second,
			HealthCheckInterval: 30 * time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			File:       filepath.Join(homeDir, ".membank", "membank.log"),
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
	}
}

// Load loads configuration from file
func Load(path string) (*Config, error) {
	// Load .env files first (in order of precedence)
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	// Set defaults
	cfg := Default()
	v.SetDefault("backend", cfg.Backend)
	v.SetDefault("branch", cfg.Branch)
	v.SetDefault("pool", cfg.Pool)
	v.SetDefault("index", cfg.Index)
	v.SetDefault("namespace", cfg.Namespace)
	v.SetDefault("reconciler", cfg.Reconciler)
	v.SetDefault("runtime", cfg.Runtime)
	v.SetDefault("log", cfg.Log)

	// Load from environment variables
	v.SetEnvPrefix("MEMBANK")
	v.AutomaticEnv()

	// Try to find config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Search for config in standard locations
		v.SetConfigName("config")
		v.AddConfigPath(".membank")
		v.AddConfigPath(".")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".membank"))
	}

	// Read config file if it exists
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	// Unmarshal into struct
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadEnvFiles loads .env files in order of precedence
func loadEnvFiles() {
	envFiles := []string{
		".env.local", // Local overrides (highest precedence)
		".env",       // Main environment file
	}

	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			godotenv.Load(file)
		}
	}

	// Also try loading from home directory
	homeDir, _ := os.UserHomeDir()
	homeEnvFile := filepath.Join(homeDir, ".membank", ".env")
	if _, err := os.Stat(homeEnvFile); err == nil {
		godotenv.Load(homeEnvFile)
	}
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(cfg *Config) {
	// Backend configuration
	if host := os.Getenv("DOLT_HOST"); host != "" {
		cfg.Backend.Host = host
	}
	if port := os.Getenv("DOLT_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Backend.Port = p
		}
	}
	if user := os.Getenv("DOLT_USER"); user != "" {
		cfg.Backend.User = user
	}
	if pass := os.Getenv("DOLT_PASSWORD"); pass != "" {
		cfg.Backend.Password = pass
	}
	if db := os.Getenv("DOLT_DATABASE"); db != "" {
		cfg.Backend.Database = db
	}

	// Branch configuration
	if branch := os.Getenv("MEMBANK_DEFAULT_BRANCH"); branch != "" {
		cfg.Branch.Default = branch
	}
	if protected := os.Getenv("MEMBANK_PROTECTED_BRANCHES"); protected != "" {
		parts := strings.Split(protected, ",")
		cfg.Branch.Protected = cfg.Branch.Protected[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cfg.Branch.Protected = append(cfg.Branch.Protected, p)
			}
		}
	}

	// Embedding configuration
	// Precedence: 1. Env var (highest) 2. Keychain 3. Config file (lowest)
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.Index.OpenAIKey = key
	} else if cfg.Index.OpenAIKey == "" {
		km := NewKeyringManager()
		if km.IsAvailable() {
			if k, err := km.GetOpenAIKey(); err == nil && k != "" {
				cfg.Index.OpenAIKey = k
			}
		}
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		cfg.Index.GeminiKey = key
	} else if cfg.Index.GeminiKey == "" {
		km := NewKeyringManager()
		if km.IsAvailable() {
			if k, err := km.GetGeminiKey(); err == nil && k != "" {
				cfg.Index.GeminiKey = k
			}
		}
	}
	if provider := os.Getenv("EMBEDDING_PROVIDER"); provider != "" {
		cfg.Index.Provider = provider
	}
	if model := os.Getenv("EMBEDDING_MODEL"); model != "" {
		cfg.Index.EmbeddingModel = model
	}
	if path := os.Getenv("MEMBANK_INDEX_PATH"); path != "" {
		cfg.Index.Path = expandPath(path)
	}

	// Graph mirror configuration
	if uri := os.Getenv("NEO4J_URI"); uri != "" {
		cfg.Index.Graph.URI = uri
		cfg.Index.Graph.Enabled = true
	}
	if user := os.Getenv("NEO4J_USER"); user != "" {
		cfg.Index.Graph.User = user
	}
	if pass := os.Getenv("NEO4J_PASSWORD"); pass != "" {
		cfg.Index.Graph.Password = pass
	}

	// Namespace configuration
	if ns := os.Getenv("MEMBANK_DEFAULT_NAMESPACE"); ns != "" {
		cfg.Namespace.Default = ns
	}

	// Log configuration
	if level := os.Getenv("MEMBANK_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if file := os.Getenv("MEMBANK_LOG_FILE"); file != "" {
		cfg.Log.File = expandPath(file)
	}
}

// Validate checks the configuration for values that cannot work
func (c *Config) Validate() error {
	if c.Backend.Host == "" {
		return fmt.Errorf("backend.host cannot be empty")
	}
	if c.Backend.Port <= 0 || c.Backend.Port > 65535 {
		return fmt.Errorf("backend.port %d out of range", c.Backend.Port)
	}
	if c.Backend.Database == "" {
		return fmt.Errorf("backend.database cannot be empty")
	}
	if c.Branch.Default == "" {
		return fmt.Errorf("branch.default cannot be empty")
	}
	if c.Pool.PersistentMax < 1 {
		return fmt.Errorf("pool.persistent_max must be at least 1")
	}
	if c.Pool.EphemeralMax < 1 {
		return fmt.Errorf("pool.ephemeral_max must be at least 1")
	}
	switch c.Index.Provider {
	case "openai", "gemini", "none":
	default:
		return fmt.Errorf("index.provider %q not recognized (want openai, gemini, or none)", c.Index.Provider)
	}
	if c.Namespace.Default == "" {
		return fmt.Errorf("namespace.default cannot be empty")
	}
	return nil
}

// DSN builds the MySQL wire-protocol connection string for the backend.
// parseTime is required so DATETIME columns scan into time.Time;
// multiStatements lets bootstrap run the schema script in one call.
func (c *BackendConfig) DSN() string {
	timeout := c.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true&timeout=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, timeout)
}

// IsProtected reports whether branch rejects direct writes.
func (c *BranchConfig) IsProtected(branch string) bool {
	for _, p := range c.Protected {
		if p == branch {
			return true
		}
	}
	return false
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	v.Set("backend", c.Backend)
	v.Set("branch", c.Branch)
	v.Set("pool", c.Pool)
	v.Set("index", c.Index)
	v.Set("namespace", c.Namespace)
	v.Set("reconciler", c.Reconciler)
	v.Set("runtime", c.Runtime)
	v.Set("log", c.Log)

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
