package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/rohankatakam/memorybank/internal/config"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Interactive setup wizard (with OS keychain support)",
	Long: `Walk through MemoryBank configuration step-by-step.

This will configure:
1. Backend connection (host, port, credentials, database)
2. Embedding provider and API key (stored in OS keychain by default)
3. Optional Neo4j graph mirror for traversal-aware search

The result is written to ~/.membank/config.yaml; API keys go to the
OS keychain when one is available.`,
	RunE: runConfigure,
}

func runConfigure(cmd *cobra.Command, args []string) error {
	fmt.Println("🔧 MemoryBank Configuration Wizard")
	fmt.Println(strings.Repeat("━", 40))
	fmt.Println()

	reader := bufio.NewReader(os.Stdin)

	homeDir, _ := os.UserHomeDir()
	configPath := filepath.Join(homeDir, ".membank", "config.yaml")
	loaded, err := config.Load(configPath)
	if err != nil {
		loaded = config.Default()
	}

	km := config.NewKeyringManager()
	keychainAvailable := km.IsAvailable()
	if !keychainAvailable {
		fmt.Println("⚠️  OS keychain not available (headless system or Linux without libsecret)")
		fmt.Println("   API keys will be stored in the config file instead.")
		fmt.Println()
	}

	// Step 1: backend connection
	fmt.Println("Step 1/3: Backend connection")
	fmt.Println()
	loaded.Backend.Host = promptString(reader, "Host", loaded.Backend.Host)
	loaded.Backend.Port = promptInt(reader, "Port", loaded.Backend.Port)
	loaded.Backend.User = promptString(reader, "User", loaded.Backend.User)
	if pw := promptSecret(reader, "Password (blank to keep current)"); pw != "" {
		loaded.Backend.Password = pw
	}
	loaded.Backend.Database = promptString(reader, "Database", loaded.Backend.Database)
	fmt.Println()

	// Step 2: embedding provider
	fmt.Println("Step 2/3: Embedding provider")
	fmt.Println()
	provider := promptString(reader, "Provider (openai/gemini/none)", loaded.Index.Provider)
	if provider != "openai" && provider != "gemini" && provider != "none" {
		fmt.Printf("Unknown provider %q, keeping %q\n", provider, loaded.Index.Provider)
		provider = loaded.Index.Provider
	}
	loaded.Index.Provider = provider

	if provider != "none" {
		source := km.GetKeySource(loaded)
		if source.Source != "none" {
			fmt.Printf("Current key source: %s\n", source.Recommended)
		}
		key := promptSecret(reader, fmt.Sprintf("API key for %s (blank to keep current)", provider))
		if key != "" {
			if err := storeAPIKey(km, loaded, provider, key, keychainAvailable); err != nil {
				return err
			}
			fmt.Printf("Stored: %s\n", config.MaskAPIKey(key))
		}
	}
	fmt.Println()

	// Step 3: graph mirror
	fmt.Println("Step 3/3: Neo4j graph mirror (optional)")
	fmt.Println()
	enable := promptString(reader, "Mirror the link graph into Neo4j? (y/N)", "")
	loaded.Index.Graph.Enabled = strings.EqualFold(enable, "y")
	if loaded.Index.Graph.Enabled {
		loaded.Index.Graph.URI = promptString(reader, "Neo4j URI", loaded.Index.Graph.URI)
		loaded.Index.Graph.User = promptString(reader, "Neo4j user", loaded.Index.Graph.User)
		pw := promptSecret(reader, "Neo4j password (blank to keep current)")
		if pw != "" {
			if keychainAvailable {
				if err := km.SaveGraphPassword(pw); err != nil {
					return fmt.Errorf("failed to store graph password: %w", err)
				}
			} else {
				loaded.Index.Graph.Password = pw
			}
		}
	}

	if err := loaded.Save(configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Println()
	fmt.Printf("✅ Configuration written to %s\n", configPath)
	fmt.Println("\nNext: membank bootstrap")
	return nil
}

func storeAPIKey(km *config.KeyringManager, cfg *config.Config, provider, key string, keychain bool) error {
	if keychain {
		if provider == "gemini" {
			return km.SaveGeminiKey(key)
		}
		return km.SaveOpenAIKey(key)
	}
	if provider == "gemini" {
		cfg.Index.GeminiKey = key
	} else {
		cfg.Index.OpenAIKey = key
	}
	return nil
}

func promptString(reader *bufio.Reader, label, current string) string {
	if current != "" {
		fmt.Printf("%s [%s]: ", label, current)
	} else {
		fmt.Printf("%s: ", label)
	}
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	return line
}

// promptSecret reads without echoing when stdin is a terminal. Piped input
// falls back to a plain line read.
func promptSecret(reader *bufio.Reader, label string) string {
	fmt.Printf("%s: ", label)
	if term.IsTerminal(int(syscall.Stdin)) {
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(raw))
	}
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

func promptInt(reader *bufio.Reader, label string, current int) int {
	fmt.Printf("%s [%d]: ", label, current)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	n, err := strconv.Atoi(line)
	if err != nil {
		fmt.Printf("Not a number, keeping %d\n", current)
		return current
	}
	return n
}
