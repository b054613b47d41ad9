package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/zalando/go-keyring"
)

const (
	// KeyringService is the service name in the OS keychain
	KeyringService = "MemoryBank"

	// KeyringOpenAIItem is the key for the OpenAI API key
	KeyringOpenAIItem = "openai-api-key"

	// KeyringGeminiItem is the key for the Gemini API key
	KeyringGeminiItem = "gemini-api-key"

	// KeyringGraphPasswordItem is the key for the Neo4j password
	KeyringGraphPasswordItem = "graph-password"
)

// KeyringManager handles secure credential storage in OS keychain
type KeyringManager struct {
	logger *slog.Logger
}

// NewKeyringManager creates a new keyring manager
func NewKeyringManager() *KeyringManager {
	return &KeyringManager{
		logger: slog.Default().With("component", "keyring"),
	}
}

// SaveOpenAIKey stores the OpenAI API key in the OS keychain
// - macOS: Keychain Access.app → "MemoryBank" → "openai-api-key"
// - Windows: Credential Manager → "MemoryBank"
// - Linux: Secret Service (requires libsecret)
func (km *KeyringManager) SaveOpenAIKey(apiKey string) error {
	if apiKey == "" {
		return fmt.Errorf("api key cannot be empty")
	}

	if err := keyring.Set(KeyringService, KeyringOpenAIItem, apiKey); err != nil {
		km.logger.Error("failed to save API key to keychain", "error", err)
		return fmt.Errorf("failed to save to OS keychain: %w", err)
	}

	km.logger.Info("openai api key saved to keychain", "service", KeyringService)
	return nil
}

// GetOpenAIKey retrieves the OpenAI API key from the OS keychain
func (km *KeyringManager) GetOpenAIKey() (string, error) {
	apiKey, err := keyring.Get(KeyringService, KeyringOpenAIItem)
	if err == keyring.ErrNotFound {
		// Not an error - just not set yet
		return "", nil
	}
	if err != nil {
		km.logger.Error("failed to get API key from keychain", "error", err)
		return "", fmt.Errorf("failed to read from OS keychain: %w", err)
	}

	return apiKey, nil
}

// DeleteOpenAIKey removes the OpenAI API key from the OS keychain
func (km *KeyringManager) DeleteOpenAIKey() error {
	err := keyring.Delete(KeyringService, KeyringOpenAIItem)
	if err == keyring.ErrNotFound {
		// Already deleted, not an error
		return nil
	}
	if err != nil {
		km.logger.Error("failed to delete API key from keychain", "error", err)
		return fmt.Errorf("failed to delete from OS keychain: %w", err)
	}

	km.logger.Info("openai api key deleted from keychain")
	return nil
}

// SaveGeminiKey stores the Gemini API key in the OS keychain
func (km *KeyringManager) SaveGeminiKey(apiKey string) error {
	if apiKey == "" {
		return fmt.Errorf("api key cannot be empty")
	}

	if err := keyring.Set(KeyringService, KeyringGeminiItem, apiKey); err != nil {
		km.logger.Error("failed to save Gemini key to keychain", "error", err)
		return fmt.Errorf("failed to save to OS keychain: %w", err)
	}

	km.logger.Info("gemini api key saved to keychain", "service", KeyringService)
	return nil
}

// GetGeminiKey retrieves the Gemini API key from the OS keychain
func (km *KeyringManager) GetGeminiKey() (string, error) {
	apiKey, err := keyring.Get(KeyringService, KeyringGeminiItem)
	if err == keyring.ErrNotFound {
		return "", nil
	}
	if err != nil {
		km.logger.Error("failed to get Gemini key from keychain", "error", err)
		return "", fmt.Errorf("failed to read from OS keychain: %w", err)
	}

	return apiKey, nil
}

// SaveGraphPassword stores the Neo4j password in the OS keychain
func (km *KeyringManager) SaveGraphPassword(password string) error {
	if password == "" {
		return fmt.Errorf("password cannot be empty")
	}

	if err := keyring.Set(KeyringService, KeyringGraphPasswordItem, password); err != nil {
		km.logger.Error("failed to save graph password to keychain", "error", err)
		return fmt.Errorf("failed to save to OS keychain: %w", err)
	}

	km.logger.Info("graph password saved to keychain", "service", KeyringService)
	return nil
}

// GetGraphPassword retrieves the Neo4j password from the OS keychain
func (km *KeyringManager) GetGraphPassword() (string, error) {
	password, err := keyring.Get(KeyringService, KeyringGraphPasswordItem)
	if err == keyring.ErrNotFound {
		return "", nil
	}
	if err != nil {
		km.logger.Error("failed to get graph password from keychain", "error", err)
		return "", fmt.Errorf("failed to read from OS keychain: %w", err)
	}

	return password, nil
}

// IsAvailable checks if OS keychain is available
// Returns false on headless systems (CI/CD) where keychain isn't available
func (km *KeyringManager) IsAvailable() bool {
	_, err := keyring.Get(KeyringService, "test-availability")

	// "not found" means the keychain answered, so it is available
	if err == keyring.ErrNotFound {
		return true
	}
	if err != nil {
		km.logger.Debug("keychain not available", "error", err)
		return false
	}

	return true
}

// KeySourceInfo describes where the embedding API key comes from
type KeySourceInfo struct {
	Source      string // "keychain", "config", "env", "none"
	Secure      bool
	Recommended string
}

// GetKeySource determines where the embedding API key is coming from
func (km *KeyringManager) GetKeySource(cfg *Config) KeySourceInfo {
	envVar := "OPENAI_API_KEY"
	if cfg.Index.Provider == "gemini" {
		envVar = "GEMINI_API_KEY"
	}
	if os.Getenv(envVar) != "" {
		return KeySourceInfo{
			Source:      "env",
			Secure:      true,
			Recommended: "Using environment variable (good for CI/CD)",
		}
	}

	var keychainKey string
	if cfg.Index.Provider == "gemini" {
		keychainKey, _ = km.GetGeminiKey()
	} else {
		keychainKey, _ = km.GetOpenAIKey()
	}
	if keychainKey != "" {
		return KeySourceInfo{
			Source:      "keychain",
			Secure:      true,
			Recommended: "Stored securely in OS keychain",
		}
	}

	if cfg.Index.OpenAIKey != "" || cfg.Index.GeminiKey != "" {
		return KeySourceInfo{
			Source:      "config",
			Secure:      false,
			Recommended: "Plaintext storage detected. Run: membank configure",
		}
	}

	return KeySourceInfo{
		Source:      "none",
		Secure:      false,
		Recommended: "No API key configured. Run: membank configure",
	}
}

// MaskAPIKey masks an API key for display
// Shows first 7 chars and last 4 chars: "sk-proj...abc123"
func MaskAPIKey(apiKey string) string {
	if apiKey == "" {
		return "(not set)"
	}
	if len(apiKey) < 12 {
		return "***"
	}
	return fmt.Sprintf("%s...%s", apiKey[:7], apiKey[len(apiKey)-4:])
}
